package peer

import (
	"slotarbiter/internal/arbiter"
	"slotarbiter/internal/logging"
	"slotarbiter/internal/transport"
	"slotarbiter/internal/utils"
)

// arbiterNetworkWrapper links an arbiter to a transport. Received payloads are decoded and queued for the arbiter without ever blocking the transport; outgoing messages are pumped to each peer by its own goroutine, so that a slow peer only delays the messages destined to it.
type arbiterNetworkWrapper struct {
	log     *logging.Logger
	network transport.NetworkInterface
	peers   []transport.Address
	ranks   map[transport.Address]arbiter.Rank

	netToArbiter *utils.BufferedChan[arbiter.Message]
	arbiterToNet *utils.BufferedChan[arbiter.OutgoingMessage]
	handlerID    transport.HandlerID
}

// Constructs a new [arbiterNetworkWrapper] and starts pumping messages. The rank of a peer is the index of its address in peers.
func newArbiterNetworkWrapper(log *logging.Logger, network transport.NetworkInterface, self arbiter.Rank, peers []transport.Address) *arbiterNetworkWrapper {
	w := &arbiterNetworkWrapper{
		log:          log,
		network:      network,
		peers:        peers,
		ranks:        make(map[transport.Address]arbiter.Rank, len(peers)),
		netToArbiter: utils.NewBufferedChan[arbiter.Message](),
		arbiterToNet: utils.NewBufferedChan[arbiter.OutgoingMessage](),
	}
	for i, addr := range peers {
		w.ranks[addr] = arbiter.Rank(i)
	}

	pumps := make(map[arbiter.Rank]chan<- arbiter.Message, len(peers)-1)
	for i, addr := range peers {
		if arbiter.Rank(i) == self {
			continue
		}
		pump := utils.NewBufferedChan[arbiter.Message]()
		pumps[arbiter.Rank(i)] = pump.Inlet()
		go w.pumpTo(addr, pump.Outlet())
	}
	go w.route(pumps)

	w.handlerID = network.RegisterHandler(w)

	return w
}

// netWrapper returns the channels to hand to the arbiter.
func (w *arbiterNetworkWrapper) netWrapper() arbiter.NetWrapper {
	return arbiter.NetWrapper{
		IntoNet: w.arbiterToNet.Inlet(),
		FromNet: w.netToArbiter.Outlet(),
	}
}

// HandleNetworkMessage decodes a payload received from a peer and queues it for the arbiter.
func (w *arbiterNetworkWrapper) HandleNetworkMessage(m *transport.Message) (wasHandled bool) {
	rank, ok := w.ranks[m.Source]
	if !ok {
		w.log.Warnf("Dropping payload from unknown peer %v", m.Source)
		return false
	}

	msg, err := arbiter.DecodeMessage(m.Payload)
	if err != nil {
		w.log.Warnf("Dropping payload from %v: %v", rank, err)
		return true
	}
	if msg.Sender != rank {
		w.log.Warnf("Dropping %v received from %v", msg, rank)
		return true
	}

	w.netToArbiter.Inlet() <- msg
	return true
}

// Dispatches the outgoing messages of the arbiter to the pump of their destination.
func (w *arbiterNetworkWrapper) route(pumps map[arbiter.Rank]chan<- arbiter.Message) {
	defer func() {
		for _, pump := range pumps {
			close(pump)
		}
	}()

	for out := range w.arbiterToNet.Outlet() {
		pump, ok := pumps[out.Destination]
		if !ok {
			w.log.Errorf("No peer with rank %v; dropping %v", out.Destination, out.Message)
			continue
		}
		pump <- out.Message
	}
}

// Sends the messages destined to addr, in order.
func (w *arbiterNetworkWrapper) pumpTo(addr transport.Address, messages <-chan arbiter.Message) {
	for msg := range messages {
		if err := w.network.Send(addr, msg.Encode()); err != nil {
			w.log.Errorf("Failed to send %v to %v: %v", msg, addr, err)
		}
	}
}

// close stops the reception of messages and closes the channel feeding the arbiter. Messages already handed over by the arbiter are still sent.
func (w *arbiterNetworkWrapper) close() {
	w.network.UnregisterHandler(w.handlerID)
	w.netToArbiter.Close()
	w.arbiterToNet.Close()
}
