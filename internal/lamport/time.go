package lamport

import "slotarbiter/internal/timestamps"

// LamportTime is a value of a Lamport clock.
type LamportTime uint32

// LessThan reports whether t happened before other in the partial order of the clock.
func (t LamportTime) LessThan(other LamportTime) bool {
	return t < other
}

// WithRank combines the time with a peer rank into a totally ordered stamp.
func (t LamportTime) WithRank(rank timestamps.Rank) timestamps.Stamp {
	return timestamps.Stamp{Time: uint32(t), Rank: rank}
}
