package timestamps

import "fmt"

// Rank identifies a peer. Ranks are dense: a group of N peers uses ranks 0..N-1.
type Rank uint32

// Stamp is the arbitration tuple of a request: the Lamport time at which it was issued and the rank of the issuer.
type Stamp struct {
	// The Lamport time of the request.
	Time uint32
	// The rank of the requesting peer. Used to break ties in times.
	Rank Rank
}

// LessThan returns true iff the stamp is strictly less than the other stamp.
// A smaller stamp has priority.
func (s Stamp) LessThan(other Stamp) bool {
	return s.Time < other.Time || (s.Time == other.Time && s.Rank < other.Rank)
}

func (s Stamp) String() string {
	return fmt.Sprintf("TS(%d:%v)", s.Rank, s.Time)
}

func (r Rank) String() string {
	return fmt.Sprintf("P%d", uint32(r))
}
