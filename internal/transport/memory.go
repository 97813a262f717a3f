package transport

import (
	"errors"
	"slotarbiter/internal/logging"
	"slotarbiter/internal/utils"
	"sync"
)

// ErrUnknownAddress is returned when sending to an address that no endpoint of the network listens on.
var ErrUnknownAddress = errors.New("no endpoint at address")

// ErrNetworkClosed is returned when sending from an endpoint that was closed.
var ErrNetworkClosed = errors.New("network interface closed")

// MemoryNetwork connects endpoints living in the same process. Every endpoint owns an unbounded FIFO inbox, so messages from a given sender are delivered in the order they were sent.
type MemoryNetwork struct {
	mu        sync.RWMutex
	endpoints map[Address]*memoryEndpoint
}

// NewMemoryNetwork creates an empty in-process network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{endpoints: make(map[Address]*memoryEndpoint)}
}

type memoryEndpoint struct {
	network      *MemoryNetwork
	logger       *logging.Logger
	local        Address
	uidGenerator utils.UIDGenerator

	inbox           *utils.BufferedChan[Message]
	registrations   chan registration
	unregistrations chan HandlerID

	closeOnce sync.Once
	closeChan chan struct{}
}

type registration struct {
	id      HandlerID
	handler MessageHandler
}

// Join attaches a new endpoint listening on addr. It panics if addr is already taken.
func (n *MemoryNetwork) Join(addr Address, log *logging.Logger) NetworkInterface {
	e := &memoryEndpoint{
		network:         n,
		logger:          log,
		local:           addr,
		uidGenerator:    utils.NewUIDGenerator(),
		inbox:           utils.NewBufferedChan[Message](),
		registrations:   make(chan registration),
		unregistrations: make(chan HandlerID),
		closeChan:       make(chan struct{}),
	}

	n.mu.Lock()
	if _, ok := n.endpoints[addr]; ok {
		n.mu.Unlock()
		panic("address already joined: " + addr.String())
	}
	n.endpoints[addr] = e
	n.mu.Unlock()

	go e.handleReceivedMessages()

	return e
}

func (n *MemoryNetwork) deliver(from Address, to Address, payload []byte) error {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if _, ok := n.endpoints[from]; !ok {
		return ErrNetworkClosed
	}
	dest, ok := n.endpoints[to]
	if !ok {
		return ErrUnknownAddress
	}

	// The payload is copied so that sender and receiver never share memory.
	buf := make([]byte, len(payload))
	copy(buf, payload)
	dest.inbox.Inlet() <- Message{Source: from, Payload: buf}
	return nil
}

func (n *MemoryNetwork) leave(e *memoryEndpoint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.endpoints, e.local)
	e.inbox.Close()
}

// Single goroutine owning the registered handlers, mirroring the TCP implementation.
func (e *memoryEndpoint) handleReceivedMessages() {
	handlers := make(map[HandlerID]MessageHandler)

	for {
		select {
		case msg, ok := <-e.inbox.Outlet():
			if !ok {
				return
			}
			wasHandled := false
			for _, h := range handlers {
				if h.HandleNetworkMessage(&msg) {
					wasHandled = true
					break
				}
			}
			if !wasHandled {
				e.logger.Warnf("No handler accepted message from %v", msg.Source)
			}
		case reg := <-e.registrations:
			handlers[reg.id] = reg.handler
		case id := <-e.unregistrations:
			delete(handlers, id)
		case <-e.closeChan:
			return
		}
	}
}

func (e *memoryEndpoint) Send(dest Address, payload []byte) error {
	if dest == e.local {
		panic("Cannot send message to self")
	}
	return e.network.deliver(e.local, dest, payload)
}

func (e *memoryEndpoint) RegisterHandler(handler MessageHandler) HandlerID {
	id := HandlerID(<-e.uidGenerator)
	select {
	case e.registrations <- registration{id: id, handler: handler}:
	case <-e.closeChan:
	}
	return id
}

func (e *memoryEndpoint) UnregisterHandler(id HandlerID) {
	select {
	case e.unregistrations <- id:
	case <-e.closeChan:
	}
}

func (e *memoryEndpoint) Close() {
	e.closeOnce.Do(func() {
		e.logger.Warn("Closing memory endpoint")
		e.network.leave(e)
		close(e.closeChan)
	})
}
