package lamport

// Clock is an interface for Lamport logical clocks
type Clock interface {
	// Time is a getter for the current Lamport time value
	Time() LamportTime
	// Increment increments the Lamport time before a send,
	// returning the new value
	Increment() LamportTime
	// Witness is called on every receive to move the local time past
	// a clock value observed from another peer. Returns the new value.
	Witness(time LamportTime) LamportTime
}
