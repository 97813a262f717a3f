package arbiter

// State is the phase of the arbitration loop of a peer.
type State uint8

const (
	// Idle: no demand for a slot.
	Idle State = iota
	// Selecting: looking for a free slot in the replica, possibly backing off.
	Selecting
	// Requesting is the instant at which a fresh session broadcasts its request. It is reported but never rested in.
	Requesting
	// Contending: waiting for a vote from every other peer.
	Contending
	// Reserving: won the slot, waiting for every peer to acknowledge the reservation.
	Reserving
	// Holding: the slot is in use.
	Holding
	// Releasing: waiting for every peer to acknowledge the release.
	Releasing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Selecting:
		return "SELECTING"
	case Requesting:
		return "REQUESTING"
	case Contending:
		return "CONTENDING"
	case Reserving:
		return "RESERVING"
	case Holding:
		return "HOLDING"
	case Releasing:
		return "RELEASING"
	default:
		return "UNKNOWN"
	}
}
