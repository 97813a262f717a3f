// Package arbiter implements the arbitration protocol through which symmetric peers share a pool of exclusive slots.
//
// A peer that wants a slot picks one its replica believes free and asks every other peer for it. Conflicting requests for the same slot are settled by comparing their (Lamport time, rank) stamps: the smaller stamp wins and the other requester gives up. A peer that collected an approval from every other peer announces its reservation and waits for every peer to acknowledge it before using the slot, and announces the release the same way.
package arbiter

import (
	"context"
	"errors"
	"slotarbiter/internal/pool"
	"slotarbiter/internal/timestamps"
	"time"
)

// Rank identifies a peer.
type Rank = timestamps.Rank

// SlotID identifies a slot of the pool.
type SlotID = pool.SlotID

var (
	// ErrAlreadyAcquiring is returned by Acquire when this peer already pursues or holds a slot.
	ErrAlreadyAcquiring = errors.New("arbiter is already acquiring or holding a slot")
	// ErrClosed is returned once the arbiter was closed.
	ErrClosed = errors.New("arbiter closed")
	// ErrNetworkClosed is returned when the network channel feeding the arbiter was closed.
	ErrNetworkClosed = errors.New("network channel closed")
	// ErrNotHeld is returned when releasing a slot this peer does not hold.
	ErrNotHeld = errors.New("slot is not held")
)

// Arbiter acquires and releases slots of the shared pool on behalf of one peer.
type Arbiter interface {
	/*
		Acquire blocks until this peer holds a slot.

		Returns the slot and a function that releases it. The release function blocks until every other peer acknowledged the release; calling it more than once has no further effect.

		If ctx is done before the slot is won, the attempt is abandoned and ctx's error is returned. A slot whose reservation was already under way when ctx got done is released right away.
	*/
	Acquire(ctx context.Context) (slot SlotID, release func() error, err error)
	// Status returns a snapshot of the arbiter's state.
	Status() (Status, error)
	// Close stops the arbitration loop. Pending Acquire calls return ErrClosed.
	Close()
}

// Status is a point-in-time view of an arbiter.
type Status struct {
	State   State
	Clock   uint32
	Replica string
	// Free slots according to the replica.
	Free int
}

// OutgoingMessage is a message together with the peer it is destined to.
type OutgoingMessage struct {
	Destination Rank
	Message     Message
}

// NetWrapper holds the channels linking an arbiter to the network.
type NetWrapper struct {
	// The channel on which the arbiter sends messages to the network. Sends on it must not block for long.
	IntoNet chan<- OutgoingMessage
	// The channel on which the arbiter receives messages from the network, in per-sender order.
	FromNet <-chan Message
}

// Options tune the arbitration loop.
type Options struct {
	// Delay before selecting again when no slot is free or an attempt was lost.
	Backoff time.Duration
	// When positive, votes still missing after this delay count as rejections, and missing acknowledgements are reported.
	// When zero, the arbiter waits for every peer indefinitely.
	ResponseTimeout time.Duration
	// Receives every event of the arbiter. May be nil.
	Observer Observer
}

// DefaultBackoff is the backoff used when Options.Backoff is zero.
const DefaultBackoff = 2 * time.Second
