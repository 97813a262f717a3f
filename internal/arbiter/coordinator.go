package arbiter

import (
	"context"
	"fmt"
	"math/rand"
	"slotarbiter/internal/lamport"
	"slotarbiter/internal/logging"
	"slotarbiter/internal/pool"
	"slotarbiter/internal/utils"
	"slotarbiter/internal/utils/result"
	"sync"
	"time"
)

type acquireRequest struct {
	ctx   context.Context
	reply chan result.ErrorOr[SlotID]
}

type releaseRequest struct {
	slot SlotID
	done chan error
}

// coordinator is the implementation of [Arbiter]. A single goroutine, handleState, owns every field below the channels: the clock, the replica, the current session and the pending waits. It is therefore the only mutator of the arbitration state and needs no lock.
type coordinator struct {
	log      *logging.Logger
	network  NetWrapper
	observer Observer
	opts     Options

	self  Rank
	peers []Rank

	acquireRequests chan acquireRequest
	releaseRequests chan releaseRequest
	statusRequests  chan chan Status
	closeOnce       sync.Once
	closeChan       chan struct{}
	done            chan struct{}

	clock   lamport.Clock
	replica *pool.Replica
	state   State
	session *session
	acks    *ackWait
	// Votes still to come from each peer for sessions that were abandoned.
	owed map[Rank]int

	waiter *acquireRequest
	// The waiter gave up while its reservation was under way.
	cancelled bool
	releaser  chan error

	retryAt <-chan time.Time
	timeout <-chan time.Time
}

/*
NewArbiter constructs and starts the arbiter of one peer.

Parameters:
  - logger: The logger to use for logging messages.
  - network: The channels linking the arbiter to the other peers.
  - self: The rank of this peer, in [0, numPeers).
  - numPeers: The size of the peer group, this peer included.
  - numSlots: The size of the pool.
  - opts: Tuning of the arbitration loop.
*/
func NewArbiter(logger *logging.Logger, network NetWrapper, self Rank, numPeers int, numSlots int, opts Options) Arbiter {
	if int(self) >= numPeers {
		panic(fmt.Sprintf("rank %d out of a group of %d peers", self, numPeers))
	}
	if numSlots <= 0 {
		panic("Cannot arbitrate an empty pool")
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	peers := make([]Rank, 0, numPeers-1)
	for r := 0; r < numPeers; r++ {
		if Rank(r) != self {
			peers = append(peers, Rank(r))
		}
	}

	c := &coordinator{
		log:             logger,
		network:         network,
		observer:        observer,
		opts:            opts,
		self:            self,
		peers:           peers,
		acquireRequests: make(chan acquireRequest),
		releaseRequests: make(chan releaseRequest),
		statusRequests:  make(chan chan Status),
		closeChan:       make(chan struct{}),
		done:            make(chan struct{}),
		clock:           lamport.NewLamportClock(),
		replica:         pool.NewReplica(numSlots),
		state:           Idle,
		owed:            make(map[Rank]int),
	}

	go c.handleState()

	return c
}

func (c *coordinator) Acquire(ctx context.Context) (SlotID, func() error, error) {
	req := acquireRequest{ctx: ctx, reply: make(chan result.ErrorOr[SlotID], 1)}
	select {
	case c.acquireRequests <- req:
	case <-c.done:
		return 0, nil, ErrClosed
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}

	var r result.ErrorOr[SlotID]
	select {
	case r = <-req.reply:
	case <-c.done:
		select {
		case r = <-req.reply:
		default:
			return 0, nil, ErrClosed
		}
	}

	slot, err := r.Unwrap()
	if err != nil {
		return 0, nil, err
	}
	return slot, c.releaseFunc(slot), nil
}

func (c *coordinator) releaseFunc(slot SlotID) func() error {
	var once sync.Once
	var err error
	return func() error {
		once.Do(func() {
			done := make(chan error, 1)
			select {
			case c.releaseRequests <- releaseRequest{slot: slot, done: done}:
			case <-c.done:
				err = ErrClosed
				return
			}
			select {
			case err = <-done:
			case <-c.done:
				select {
				case err = <-done:
				default:
					err = ErrClosed
				}
			}
		})
		return err
	}
}

func (c *coordinator) Status() (Status, error) {
	reply := make(chan Status, 1)
	select {
	case c.statusRequests <- reply:
		return <-reply, nil
	case <-c.done:
		return Status{}, ErrClosed
	}
}

func (c *coordinator) Close() {
	c.closeOnce.Do(func() { close(c.closeChan) })
	<-c.done
}

/*
 * handleState is the main loop of the arbiter. It never blocks on anything but its select, so that requests of other peers are answered in every state, including while this peer waits for its own votes or acknowledgements.
 *
 * The loop reacts to:
 *   - Acquire / release / status calls of the local user;
 *   - the cancellation of the pending Acquire call;
 *   - the backoff timer (select a slot again) and the response timer;
 *   - incoming messages, dispatched by kind.
 */
func (c *coordinator) handleState() {
	defer close(c.done)
	c.log.Infof("Arbiter of %v ready: %d peers, %d slots", c.self, len(c.peers)+1, c.replica.Size())

	for {
		var waiterDone <-chan struct{}
		if c.waiter != nil && !c.cancelled {
			waiterDone = c.waiter.ctx.Done()
		}

		select {
		case req := <-c.acquireRequests:
			c.handleAcquire(req)
		case req := <-c.releaseRequests:
			c.handleReleaseRequest(req)
		case reply := <-c.statusRequests:
			reply <- c.status()
		case <-waiterDone:
			c.handleCancel()
		case <-c.retryAt:
			c.retryAt = nil
			c.selectSlot()
		case <-c.timeout:
			c.timeout = nil
			c.handleTimeout()
		case msg, ok := <-c.network.FromNet:
			if !ok {
				c.log.Error("Network channel closed")
				c.shutdown(ErrNetworkClosed)
				return
			}
			c.handleIncomingMessage(msg)
		case <-c.closeChan:
			c.log.Warn("Arbiter is closing")
			c.shutdown(ErrClosed)
			return
		}
	}
}

func (c *coordinator) shutdown(err error) {
	if c.waiter != nil {
		c.waiter.reply <- result.Error[SlotID](err)
		c.waiter = nil
	}
	if c.releaser != nil {
		c.releaser <- err
		c.releaser = nil
	}
}

func (c *coordinator) status() Status {
	free := 0
	for _, h := range c.replica.Snapshot() {
		if h.IsNone() {
			free++
		}
	}
	return Status{
		State:   c.state,
		Clock:   uint32(c.clock.Time()),
		Replica: c.replica.String(),
		Free:    free,
	}
}

// handleAcquire handles the demand for a slot by the local user.
func (c *coordinator) handleAcquire(req acquireRequest) {
	if c.waiter != nil || (c.state != Idle && c.state != Releasing) {
		req.reply <- result.Error[SlotID](ErrAlreadyAcquiring)
		return
	}
	if err := req.ctx.Err(); err != nil {
		req.reply <- result.Error[SlotID](err)
		return
	}

	c.waiter = &req
	if c.state == Releasing {
		// Selection starts once the release in progress is acknowledged.
		c.log.Info("Demand for a slot while releasing; deferring selection")
		return
	}
	c.transition(Selecting, "demand")
	c.selectSlot()
}

// handleReleaseRequest handles the release of the held slot by the local user.
func (c *coordinator) handleReleaseRequest(req releaseRequest) {
	if c.state != Holding || c.session == nil || c.session.slot != req.slot {
		req.done <- fmt.Errorf("%w: slot %d in state %v", ErrNotHeld, req.slot, c.state)
		return
	}
	c.release(req.done)
}

func (c *coordinator) handleCancel() {
	c.log.Warnf("Acquire cancelled in state %v", c.state)
	switch c.state {
	case Selecting:
		c.retryAt = nil
		c.transition(Idle, "cancelled")
	case Contending:
		c.abandon("cancelled")
		c.retryAt = nil
		c.transition(Idle, "cancelled")
	case Reserving:
		// The reservation is already announced; it is released once acknowledged.
		c.cancelled = true
		return
	}
	c.waiter.reply <- result.Error[SlotID](c.waiter.ctx.Err())
	c.waiter = nil
}

func (c *coordinator) handleTimeout() {
	switch c.state {
	case Contending:
		missing := c.session.missing(c.peers)
		c.log.Warnf("No vote from %v after %v; counting them as rejections", missing, c.opts.ResponseTimeout)
		c.abandon(fmt.Sprintf("no vote from %v", missing))
		c.scheduleRetry()
	case Reserving, Releasing:
		c.log.Warnf("Still waiting for acknowledgements of %v in state %v", c.acks.missing(c.peers), c.state)
		c.armTimeout()
	}
}

// selectSlot looks for a free slot and requests it, or backs off if there is none.
func (c *coordinator) selectSlot() {
	if c.state != Selecting {
		return
	}

	slot, ok := c.replica.FirstFree()
	if !ok {
		c.log.Infof("All slots are taken %v; waiting", c.replica)
		c.scheduleRetry()
		return
	}
	c.request(slot)
}

func (c *coordinator) scheduleRetry() {
	delay := c.opts.Backoff + time.Duration(rand.Int63n(int64(c.opts.Backoff)/2+1))
	c.log.Infof("Selecting again in %v", delay)
	c.retryAt = time.After(delay)
}

func (c *coordinator) armTimeout() {
	if c.opts.ResponseTimeout > 0 {
		c.timeout = time.After(c.opts.ResponseTimeout)
	}
}

// request opens a fresh session for slot and asks every peer for it.
func (c *coordinator) request(slot SlotID) {
	ts := c.clock.Increment()
	c.session = newSession(slot, ts.WithRank(c.self))
	c.transitionOn(Requesting, slot, fmt.Sprintf("requesting with %v", c.session.stamp))
	c.broadcast(Request, slot, ts)
	c.transitionOn(Contending, slot, "request sent")
	c.armTimeout()
	c.checkVotes()
}

// checkVotes ends the contention once every peer has voted.
func (c *coordinator) checkVotes() {
	s := c.session
	if s.approvals+s.rejects < len(c.peers) {
		return
	}
	c.timeout = nil

	if s.rejects > 0 {
		c.abandon(fmt.Sprintf("%d rejection(s)", s.rejects))
		c.scheduleRetry()
		return
	}
	c.reserve()
}

// abandon discards the current session. Votes it still expects are remembered as owed, so that they are not counted for a later session.
func (c *coordinator) abandon(reason string) {
	for _, p := range c.session.missing(c.peers) {
		c.owed[p]++
	}
	slot := c.session.slot
	c.session = nil
	c.timeout = nil
	c.transitionOn(Selecting, slot, "abandoned: "+reason)
}

func (c *coordinator) reserve() {
	slot := c.session.slot
	c.replica.MarkHeld(slot, c.self)
	c.transitionOn(Reserving, slot, "approved by every peer")
	c.broadcast(Reserve, slot, c.clock.Increment())
	c.acks = newAckWait(len(c.peers))
	c.armTimeout()
	c.checkAcks()
}

func (c *coordinator) release(done chan error) {
	slot := c.session.slot
	c.replica.MarkFree(slot)
	c.releaser = done
	c.transitionOn(Releasing, slot, "released by user")
	c.broadcast(Release, slot, c.clock.Increment())
	c.acks = newAckWait(len(c.peers))
	c.armTimeout()
	c.checkAcks()
}

// checkAcks moves on once every peer acknowledged the pending reservation or release.
func (c *coordinator) checkAcks() {
	if !c.acks.complete() {
		return
	}
	c.acks = nil
	c.timeout = nil

	switch c.state {
	case Reserving:
		c.hold()
	case Releasing:
		c.idle()
	}
}

func (c *coordinator) hold() {
	slot := c.session.slot
	c.transitionOn(Holding, slot, "reservation acknowledged")
	c.log.Infof("Holding slot %d; replica %v", slot, c.replica)

	w := c.waiter
	c.waiter = nil
	if c.cancelled {
		c.cancelled = false
		w.reply <- result.Error[SlotID](w.ctx.Err())
		c.release(nil)
		return
	}
	w.reply <- result.Of(slot)
}

func (c *coordinator) idle() {
	slot := c.session.slot
	c.session = nil
	c.transitionOn(Idle, slot, "release acknowledged")

	if c.releaser != nil {
		c.releaser <- nil
		c.releaser = nil
	}
	if c.waiter != nil {
		c.transition(Selecting, "deferred demand")
		c.selectSlot()
	}
}

// handleIncomingMessage validates a message from a peer, witnesses its clock and dispatches it by kind.
func (c *coordinator) handleIncomingMessage(msg Message) {
	if msg.Sender == c.self || int(msg.Sender) > len(c.peers) {
		c.drop(msg, "unknown sender")
		return
	}
	if !c.replica.Contains(msg.Slot) {
		c.drop(msg, "unknown slot")
		return
	}

	c.clock.Witness(lamport.LamportTime(msg.Clock))
	c.log.Infof("Received %v", msg)
	c.emit(Event{Kind: Received, Slot: msg.Slot, Remote: msg.Sender, Message: msg})

	switch msg.Kind {
	case Request:
		c.handleRequest(msg)
	case Approve:
		c.handleVote(msg, true)
	case Reject:
		c.handleVote(msg, false)
	case Reserve:
		c.handleReserveNotice(msg)
	case Release:
		c.handleReleaseNotice(msg)
	case Ack:
		c.handleAck(msg)
	default:
		c.drop(msg, "unknown kind")
	}
}

// handleRequest answers the request of another peer.
func (c *coordinator) handleRequest(msg Message) {
	theirs := lamport.LamportTime(msg.Clock).WithRank(msg.Sender)

	switch {
	case c.state == Contending && c.session.slot == msg.Slot:
		ours := c.session.stamp
		if theirs.LessThan(ours) {
			c.reply(msg.Sender, Approve, msg.Slot)
			c.abandon(fmt.Sprintf("conceded to %v (%v < %v)", msg.Sender, theirs, ours))
			c.scheduleRetry()
		} else {
			c.log.Infof("Keeping priority over %v for slot %d (%v < %v)", msg.Sender, msg.Slot, ours, theirs)
			c.reply(msg.Sender, Reject, msg.Slot)
		}
	case (c.state == Reserving || c.state == Holding) && c.session.slot == msg.Slot:
		c.reply(msg.Sender, Reject, msg.Slot)
	default:
		c.reply(msg.Sender, Approve, msg.Slot)
	}
}

func (c *coordinator) handleVote(msg Message, approved bool) {
	if c.owed[msg.Sender] > 0 {
		c.owed[msg.Sender]--
		c.drop(msg, "vote for an abandoned session")
		return
	}
	if c.state != Contending {
		c.drop(msg, "no session is waiting for votes")
		return
	}
	if msg.Slot != c.session.slot {
		c.drop(msg, "vote for another slot")
		return
	}
	if !c.session.vote(msg.Sender, approved) {
		c.drop(msg, "duplicate vote")
		return
	}
	c.checkVotes()
}

func (c *coordinator) handleReserveNotice(msg Message) {
	if utils.SliceContains(c.replica.HeldBy(c.self), msg.Slot) {
		c.log.Errorf("%v announced slot %d which this peer holds", msg.Sender, msg.Slot)
	}
	c.replica.MarkHeld(msg.Slot, msg.Sender)
	c.reply(msg.Sender, Ack, msg.Slot)

	if c.state == Contending && c.session.slot == msg.Slot {
		c.abandon(fmt.Sprintf("slot %d reserved by %v", msg.Slot, msg.Sender))
		c.selectSlot()
	}
}

func (c *coordinator) handleReleaseNotice(msg Message) {
	holder, _ := c.replica.Holder(msg.Slot)
	if !holder.IsNone() && holder.Get() == msg.Sender {
		c.replica.MarkFree(msg.Slot)
	} else {
		// Another peer's reservation of the slot overtook this release.
		c.log.Warnf("%v released slot %d held by %v; keeping holder", msg.Sender, msg.Slot, holder)
	}
	c.reply(msg.Sender, Ack, msg.Slot)
}

func (c *coordinator) handleAck(msg Message) {
	if c.acks == nil {
		c.drop(msg, "no acknowledgement expected")
		return
	}
	if !c.acks.ack(msg.Sender) {
		c.drop(msg, "duplicate acknowledgement")
		return
	}
	c.checkAcks()
}

// broadcast sends the same stamped message to every other peer.
func (c *coordinator) broadcast(kind Kind, slot SlotID, ts lamport.LamportTime) {
	c.log.Infof("Broadcasting %v for slot %d at %d", kind, slot, ts)
	for _, p := range c.peers {
		c.send(p, Message{Clock: uint32(ts), Sender: c.self, Slot: slot, Kind: kind})
	}
}

func (c *coordinator) reply(to Rank, kind Kind, slot SlotID) {
	ts := c.clock.Increment()
	c.send(to, Message{Clock: uint32(ts), Sender: c.self, Slot: slot, Kind: kind})
}

func (c *coordinator) send(to Rank, msg Message) {
	c.network.IntoNet <- OutgoingMessage{Destination: to, Message: msg}
	c.emit(Event{Kind: Sent, Slot: msg.Slot, Remote: to, Message: msg})
}

func (c *coordinator) drop(msg Message, reason string) {
	c.log.Warnf("Dropping %v: %s", msg, reason)
	c.emit(Event{Kind: Dropped, Slot: msg.Slot, Remote: msg.Sender, Message: msg, Reason: reason})
}

func (c *coordinator) transition(state State, reason string) {
	var slot SlotID
	if c.session != nil {
		slot = c.session.slot
	}
	c.transitionOn(state, slot, reason)
}

func (c *coordinator) transitionOn(state State, slot SlotID, reason string) {
	c.log.Infof("%v -> %v (slot %d, clock %d): %s", c.state, state, slot, c.clock.Time(), reason)
	c.state = state
	c.emit(Event{Kind: Transition, Slot: slot, Reason: reason})
}

func (c *coordinator) emit(e Event) {
	e.Self = c.self
	e.State = c.state
	e.Clock = uint32(c.clock.Time())
	c.observer.Observe(e)
}
