package arbiter

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Kind is the type of an arbitration message.
type Kind uint32

const (
	// Request announces that the sender wants the slot. Answered by Approve or Reject.
	Request Kind = iota
	// Approve grants the sender's request for the slot.
	Approve
	// Reject denies the sender's request for the slot.
	Reject
	// Reserve announces that the sender now holds the slot. Answered by Ack.
	Reserve
	// Release announces that the sender no longer holds the slot. Answered by Ack.
	Release
	// Ack confirms that a Reserve or Release was applied to the replica.
	Ack
)

func (k Kind) String() string {
	switch k {
	case Request:
		return "REQUEST"
	case Approve:
		return "APPROVE"
	case Reject:
		return "REJECT"
	case Reserve:
		return "RESERVE"
	case Release:
		return "RELEASE"
	case Ack:
		return "ACK"
	default:
		return "INVALID"
	}
}

func (k Kind) valid() bool {
	return k <= Ack
}

// MessageSize is the size in bytes of an encoded [Message].
const MessageSize = 16

// ErrMalformedMessage is returned when decoding a payload that is not a valid message.
var ErrMalformedMessage = errors.New("malformed arbitration message")

// Message is the fixed four-field record exchanged between peers.
type Message struct {
	Clock  uint32
	Sender Rank
	Slot   SlotID
	Kind   Kind
}

func (m Message) String() string {
	return fmt.Sprintf("%s{slot %d, from %v @%d}", m.Kind, m.Slot, m.Sender, m.Clock)
}

// Encode returns the big-endian wire representation of the message.
func (m Message) Encode() []byte {
	buf := make([]byte, MessageSize)
	binary.BigEndian.PutUint32(buf[0:4], m.Clock)
	binary.BigEndian.PutUint32(buf[4:8], uint32(m.Sender))
	binary.BigEndian.PutUint32(buf[8:12], uint32(m.Slot))
	binary.BigEndian.PutUint32(buf[12:16], uint32(m.Kind))
	return buf
}

// DecodeMessage parses a payload produced by [Message.Encode].
func DecodeMessage(payload []byte) (Message, error) {
	if len(payload) != MessageSize {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrMalformedMessage, len(payload))
	}
	m := Message{
		Clock:  binary.BigEndian.Uint32(payload[0:4]),
		Sender: Rank(binary.BigEndian.Uint32(payload[4:8])),
		Slot:   SlotID(binary.BigEndian.Uint32(payload[8:12])),
		Kind:   Kind(binary.BigEndian.Uint32(payload[12:16])),
	}
	if !m.Kind.valid() {
		return Message{}, fmt.Errorf("%w: kind %d", ErrMalformedMessage, uint32(m.Kind))
	}
	return m, nil
}
