package arbiter

import "slotarbiter/internal/timestamps"

// session is one attempt at winning a slot. A new session is created for every attempt so that votes never leak from one attempt to the next.
type session struct {
	slot  SlotID
	stamp timestamps.Stamp

	approvals int
	rejects   int
	// Peers whose vote for this session was counted.
	responded map[Rank]struct{}
}

func newSession(slot SlotID, stamp timestamps.Stamp) *session {
	return &session{
		slot:      slot,
		stamp:     stamp,
		responded: make(map[Rank]struct{}),
	}
}

// vote records the answer of peer. Returns false if peer already answered.
func (s *session) vote(peer Rank, approved bool) bool {
	if _, ok := s.responded[peer]; ok {
		return false
	}
	s.responded[peer] = struct{}{}
	if approved {
		s.approvals++
	} else {
		s.rejects++
	}
	return true
}

// missing returns the peers among all that have not voted yet.
func (s *session) missing(all []Rank) []Rank {
	var missing []Rank
	for _, p := range all {
		if _, ok := s.responded[p]; !ok {
			missing = append(missing, p)
		}
	}
	return missing
}

// ackWait collects the acknowledgements of a Reserve or Release broadcast.
type ackWait struct {
	expected int
	acked    map[Rank]struct{}
}

func newAckWait(expected int) *ackWait {
	return &ackWait{expected: expected, acked: make(map[Rank]struct{})}
}

// ack records an acknowledgement. Returns false for a duplicate.
func (w *ackWait) ack(peer Rank) bool {
	if _, ok := w.acked[peer]; ok {
		return false
	}
	w.acked[peer] = struct{}{}
	return true
}

func (w *ackWait) complete() bool {
	return len(w.acked) >= w.expected
}

func (w *ackWait) missing(all []Rank) []Rank {
	var missing []Rank
	for _, p := range all {
		if _, ok := w.acked[p]; !ok {
			missing = append(missing, p)
		}
	}
	return missing
}
