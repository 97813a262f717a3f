// Package pool holds a peer's local view of which slot is held by whom.
//
// A Replica is only ever mutated in response to reservation and release notices, never from the intent expressed by requests and votes. Replicas of different peers may be stale with respect to each other but converge once every pending notice has been delivered.
package pool

import (
	"errors"
	"fmt"
	"slotarbiter/internal/timestamps"
	"slotarbiter/internal/utils/option"
	"strings"
)

// SlotID identifies one of the interchangeable resources of the pool.
type SlotID uint32

// Rank identifies a peer.
type Rank = timestamps.Rank

// ErrUnknownSlot is returned for slot ids outside of [0, Size()).
var ErrUnknownSlot = errors.New("unknown slot")

// Replica is a peer's belief about the holder of every slot. It is not safe for concurrent use: it is owned by the arbitration loop.
type Replica struct {
	holders []option.Option[Rank]
}

// NewReplica returns a replica of a pool of size slots, all free.
func NewReplica(size int) *Replica {
	holders := make([]option.Option[Rank], size)
	for i := range holders {
		holders[i] = option.None[Rank]()
	}
	return &Replica{holders: holders}
}

// Size returns the number of slots of the pool.
func (r *Replica) Size() int {
	return len(r.holders)
}

// Contains reports whether slot is a valid id for this pool.
func (r *Replica) Contains(slot SlotID) bool {
	return int(slot) < len(r.holders)
}

// Holder returns the peer believed to hold slot, or None when it is free.
func (r *Replica) Holder(slot SlotID) (option.Option[Rank], error) {
	if !r.Contains(slot) {
		return option.None[Rank](), fmt.Errorf("%w: %d", ErrUnknownSlot, slot)
	}
	return r.holders[slot], nil
}

// IsFree reports whether slot is believed free. Unknown slots are never free.
func (r *Replica) IsFree(slot SlotID) bool {
	return r.Contains(slot) && r.holders[slot].IsNone()
}

// MarkHeld records rank as the holder of slot.
func (r *Replica) MarkHeld(slot SlotID, rank Rank) error {
	if !r.Contains(slot) {
		return fmt.Errorf("%w: %d", ErrUnknownSlot, slot)
	}
	r.holders[slot] = option.Some(rank)
	return nil
}

// MarkFree records slot as free.
func (r *Replica) MarkFree(slot SlotID) error {
	if !r.Contains(slot) {
		return fmt.Errorf("%w: %d", ErrUnknownSlot, slot)
	}
	r.holders[slot] = option.None[Rank]()
	return nil
}

// FirstFree returns the lowest free slot, if any.
func (r *Replica) FirstFree() (SlotID, bool) {
	for i := range r.holders {
		if r.IsFree(SlotID(i)) {
			return SlotID(i), true
		}
	}
	return 0, false
}

// HeldBy returns the slots believed held by rank, in increasing order.
func (r *Replica) HeldBy(rank Rank) []SlotID {
	var slots []SlotID
	for i, h := range r.holders {
		if !h.IsNone() && h.Get() == rank {
			slots = append(slots, SlotID(i))
		}
	}
	return slots
}

// Snapshot returns a copy of the holders, indexed by slot id.
func (r *Replica) Snapshot() []option.Option[Rank] {
	snapshot := make([]option.Option[Rank], len(r.holders))
	copy(snapshot, r.holders)
	return snapshot
}

// String renders the replica as "[P0, -, P2]", free slots shown as "-".
func (r *Replica) String() string {
	parts := make([]string, len(r.holders))
	for i, h := range r.holders {
		if h.IsNone() {
			parts[i] = "-"
		} else {
			parts[i] = h.Get().String()
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
