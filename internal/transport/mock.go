package transport

import (
	"slotarbiter/internal/utils"
	"sync"
)

// MockNetworkInterface is a mock network interface that can simulate sending and receiving messages.
type MockNetworkInterface struct {
	local        Address
	uidGenerator utils.UIDGenerator

	mu       sync.Mutex
	handlers map[HandlerID]MessageHandler

	SentMessages chan *DestinedMessage
}

// NewMockNetworkInterface creates a new [MockNetworkInterface] whose sent messages are stamped with the given local address.
func NewMockNetworkInterface(local Address) *MockNetworkInterface {
	return &MockNetworkInterface{
		local:        local,
		uidGenerator: utils.NewUIDGenerator(),
		handlers:     make(map[HandlerID]MessageHandler),
		SentMessages: make(chan *DestinedMessage, 100),
	}
}

// DestinedMessage is a transport message together with its destination.
type DestinedMessage struct {
	Message
	To Address
}

// Send records the message on [MockNetworkInterface.SentMessages].
func (m *MockNetworkInterface) Send(dest Address, payload []byte) error {
	m.SentMessages <- &DestinedMessage{
		Message: Message{Source: m.local, Payload: payload},
		To:      dest,
	}
	return nil
}

// RegisterHandler registers a handler for incoming messages.
func (m *MockNetworkInterface) RegisterHandler(handler MessageHandler) HandlerID {
	id := HandlerID(<-m.uidGenerator)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[id] = handler
	return id
}

// UnregisterHandler unregisters a handler.
func (m *MockNetworkInterface) UnregisterHandler(id HandlerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, id)
}

// SimulateReception simulates the reception of a message, handing it to the first handler accepting it.
func (m *MockNetworkInterface) SimulateReception(msg *Message) (wasHandled bool) {
	m.mu.Lock()
	handlers := make([]MessageHandler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.Unlock()

	for _, handler := range handlers {
		if handler.HandleNetworkMessage(msg) {
			return true
		}
	}
	return false
}

// InterceptSentMessage intercepts a sent message.
func (m *MockNetworkInterface) InterceptSentMessage() *DestinedMessage {
	return <-m.SentMessages
}

// Close closes the network interface.
func (m *MockNetworkInterface) Close() {
	close(m.SentMessages)
}
