package tcp

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"net"
	"slotarbiter/internal/logging"
	"slotarbiter/internal/transport"
	"slotarbiter/internal/utils"
	"sync"
)

type address = transport.Address
type message = transport.Message
type handlerID = transport.HandlerID
type msgHandler = transport.MessageHandler
type netInterface = transport.NetworkInterface

// ErrClosed is returned by sends issued after or during [TCP.Close].
var ErrClosed = errors.New("tcp transport closed")

// Payload associated to the address to which it is destined.
type sendRequest struct {
	addr    address
	payload []byte
	err     chan<- error
}

// Internal representation of a handler registration.
type registration struct {
	id      handlerID
	handler msgHandler
}

// TCP implements the [netInterface] interface for TCP connections.
//
// Each peer uses one outbound connection per remote for its own sends, and accepts one inbound connection per remote for receptions. Every connection is owned by a single goroutine.
type TCP struct {
	uidGenerator utils.UIDGenerator
	logger       *logging.Logger

	local    address
	listener net.Listener
	policy   utils.RetryPolicy

	ctx    context.Context
	cancel context.CancelFunc

	sendRequests     chan sendRequest
	receivedMessages chan message
	registrations    chan registration
	unregistrations  chan handlerID

	closeOnce sync.Once
	closeChan chan struct{}
}

// NewTCP constructs and returns a new [TCP] instance listening on local.
//   - local: The address of the local node.
//   - logger: The logger to use for logging messages.
func NewTCP(local address, log *logging.Logger) (netInterface, error) {
	return newTCP(local, log, utils.DefaultRetryPolicy)
}

func newTCP(local address, log *logging.Logger, policy utils.RetryPolicy) (*TCP, error) {
	gob.Register(message{})

	listener, err := net.Listen("tcp", local.String())
	if err != nil {
		return nil, fmt.Errorf("listen on %v: %w", local, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	tcp := TCP{
		local:        local,
		logger:       log,
		listener:     listener,
		policy:       policy,
		uidGenerator: utils.NewUIDGenerator(),

		ctx:    ctx,
		cancel: cancel,

		sendRequests:     make(chan sendRequest),
		receivedMessages: make(chan message),

		registrations:   make(chan registration),
		unregistrations: make(chan handlerID),

		closeChan: make(chan struct{}),
	}

	go tcp.handleSendRequests()
	go tcp.handleReceivedMessages()
	go tcp.listenForConns()

	return &tcp, nil
}

// Main goroutine for handling received messages.
//
// Because handlers can register and unregister dynamically during execution, it must be handled by a single goroutine to avoid concurrent access.
func (tcp *TCP) handleReceivedMessages() {
	registeredHandlers := make(map[handlerID]msgHandler)

	for {
		select {
		case msg := <-tcp.receivedMessages:
			tcp.handleReceivedMessage(msg, registeredHandlers)
		case reg := <-tcp.registrations:
			registeredHandlers[reg.id] = reg.handler
		case id := <-tcp.unregistrations:
			delete(registeredHandlers, id)
		case <-tcp.closeChan:
			tcp.logger.Warn("TCP's received-messages handler is closing.")
			return
		}
	}
}

// Dispatches a received message to the registered handlers.
func (tcp *TCP) handleReceivedMessage(msg message, handlers map[handlerID]msgHandler) {
	for _, handler := range handlers {
		if handler.HandleNetworkMessage(&msg) {
			return
		}
	}
	tcp.logger.Warn("No handler accepted message from ", msg.Source)
}

// Main goroutine for sending requests. It owns the remotes and forwards each request to the remote it is destined to.
func (tcp *TCP) handleSendRequests() {
	remotes := make(map[address]*remote)

	for {
		select {
		case req := <-tcp.sendRequests:
			r, ok := remotes[req.addr]
			if !ok {
				r = newRemote(tcp.ctx, tcp.logger, tcp.local, req.addr, tcp.policy)
				remotes[req.addr] = r
			}
			r.sendRequests.Inlet() <- req
		case <-tcp.closeChan:
			tcp.logger.Warn("TCP's send handler is closing.")
			for _, r := range remotes {
				r.Close()
			}
			return
		}
	}
}

// Main goroutine accepting inbound connections.
func (tcp *TCP) listenForConns() {
	tcp.logger.Info("Listening for connections on ", tcp.local)
	for {
		conn, err := tcp.listener.Accept()
		if err != nil {
			select {
			case <-tcp.closeChan:
				tcp.logger.Warn("TCP's listener is closing.")
				return
			default:
				tcp.logger.Error("Error accepting connection in transport: ", err)
				continue
			}
		}
		go tcp.handleInbound(newConnCodec(conn))
	}
}

// Reads every message of an inbound connection, in order, and hands them to the dispatching goroutine.
func (tcp *TCP) handleInbound(codec connCodec) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-tcp.closeChan:
		case <-stop:
		}
		codec.Close()
	}()

	hello, err := codec.Receive()
	if err != nil {
		tcp.logger.Error("Error decoding greeting message in transport: ", err)
		return
	}
	source := hello.Source
	tcp.logger.Info("Greeting received from ", source)

	for {
		msg, err := codec.Receive()
		if err != nil {
			tcp.logger.Warnf("Inbound connection from %v closed: %v", source, err)
			return
		}
		if msg.Source != source {
			tcp.logger.Error("Received message from unexpected source. Got ", msg.Source, ", expected ", source, ".")
			continue
		}

		select {
		case tcp.receivedMessages <- msg:
		case <-tcp.closeChan:
			return
		}
	}
}

// Send a message to the given destination. Blocks until the message was written to the connection.
func (tcp *TCP) Send(dest address, payload []byte) error {
	if dest == tcp.local {
		panic("Cannot send message to self")
	}

	errChan := make(chan error, 1)
	select {
	case tcp.sendRequests <- sendRequest{addr: dest, payload: payload, err: errChan}:
	case <-tcp.closeChan:
		return ErrClosed
	}

	select {
	case err := <-errChan:
		return err
	case <-tcp.closeChan:
		return ErrClosed
	}
}

// RegisterHandler registers a new handler for received messages.
func (tcp *TCP) RegisterHandler(handler msgHandler) handlerID {
	nextUID := handlerID(<-tcp.uidGenerator)
	select {
	case tcp.registrations <- registration{id: nextUID, handler: handler}:
	case <-tcp.closeChan:
	}
	return nextUID
}

// UnregisterHandler unregisters a handler.
func (tcp *TCP) UnregisterHandler(id handlerID) {
	select {
	case tcp.unregistrations <- id:
	case <-tcp.closeChan:
	}
}

// Close the listener and every connection.
func (tcp *TCP) Close() {
	tcp.closeOnce.Do(func() {
		tcp.logger.Warnf("Closing TCP")
		close(tcp.closeChan)
		tcp.cancel()
		tcp.listener.Close()
	})
}
