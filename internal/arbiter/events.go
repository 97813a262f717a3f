package arbiter

// EventKind tells what an [Event] reports.
type EventKind uint8

const (
	// Transition: the loop entered Event.State.
	Transition EventKind = iota
	// Sent: a message was handed to the network.
	Sent
	// Received: a message was accepted from the network.
	Received
	// Dropped: a received message was ignored.
	Dropped
)

func (k EventKind) String() string {
	switch k {
	case Transition:
		return "transition"
	case Sent:
		return "sent"
	case Received:
		return "received"
	case Dropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Event describes one observable step of a peer: a state transition or a message exchange.
type Event struct {
	Kind EventKind
	// Rank of the peer reporting the event.
	Self Rank
	// State of the peer after the event.
	State State
	Slot  SlotID
	// Local clock after the event.
	Clock uint32
	// Remote peer and message, for message events.
	Remote  Rank
	Message Message
	// Why a transition happened or a message was dropped.
	Reason string
}

// Observer receives the events of an arbiter. Observe is called from the arbitration loop and must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to the [Observer] interface.
type ObserverFunc func(Event)

// Observe calls f(e).
func (f ObserverFunc) Observe(e Event) {
	f(e)
}

type nopObserver struct{}

func (nopObserver) Observe(Event) {}
