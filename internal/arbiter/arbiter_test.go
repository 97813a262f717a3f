package arbiter

import (
	"context"
	"errors"
	"slotarbiter/internal/logging"
	"strings"
	"testing"
	"time"
)

type mockNetwork struct {
	sentMessages     chan OutgoingMessage
	receivedMessages chan Message
}

func newMockNetwork() *mockNetwork {
	return &mockNetwork{
		sentMessages:     make(chan OutgoingMessage, 100),
		receivedMessages: make(chan Message, 100),
	}
}

func (n *mockNetwork) asNetWrapper() NetWrapper {
	return NetWrapper{
		IntoNet: n.sentMessages,
		FromNet: n.receivedMessages,
	}
}

func (n *mockNetwork) SimulateReception(m Message) {
	n.receivedMessages <- m
}

type eventRecorder chan Event

func (r eventRecorder) Observe(e Event) {
	select {
	case r <- e:
	default:
	}
}

type acquireResult struct {
	slot    SlotID
	release func() error
	err     error
}

func acquireAsync(a Arbiter, ctx context.Context) <-chan acquireResult {
	results := make(chan acquireResult, 1)
	go func() {
		slot, release, err := a.Acquire(ctx)
		results <- acquireResult{slot, release, err}
	}()
	return results
}

func expectResult(t *testing.T, results <-chan acquireResult, timeout time.Duration) acquireResult {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(timeout):
		t.Fatal("Acquire did not return in time")
		return acquireResult{}
	}
}

func expectNoResult(t *testing.T, results <-chan acquireResult, timeout time.Duration) {
	t.Helper()
	select {
	case r := <-results:
		t.Fatal("Acquire returned early:", r.slot, r.err)
	case <-time.After(timeout):
	}
}

// Compares messages, ignoring the clock when the expected one is zero.
func matches(expected, actual OutgoingMessage) bool {
	e, a := expected.Message, actual.Message
	return expected.Destination == actual.Destination &&
		e.Sender == a.Sender && e.Slot == a.Slot && e.Kind == a.Kind &&
		(e.Clock == 0 || e.Clock == a.Clock)
}

/** Waits timeout to receive the expected messages, in arbitrary order */
func expectMessages(t *testing.T, network *mockNetwork, expected []OutgoingMessage, timeout time.Duration) {
	t.Helper()
	to := time.After(timeout)

	received := []OutgoingMessage{}
	for i := 0; i < len(expected); i++ {
		select {
		case actual := <-network.sentMessages:
			received = append(received, actual)
		case <-to:
			t.Fatalf("Did not receive all expected messages. Expected %v, got %v", expected, received)
		}
	}

	for _, e := range expected {
		found := false
		for _, a := range received {
			if matches(e, a) {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("Expected messages %v not all found. Had messages %v", expected, received)
		}
	}
}

func expectNothing(t *testing.T, network *mockNetwork, timeout time.Duration) {
	t.Helper()
	select {
	case msg := <-network.sentMessages:
		t.Fatal("Expected no messages to be sent ; yet received", msg)
	case <-time.After(timeout):
	}
}

func expectEvent(t *testing.T, events eventRecorder, match func(Event) bool, timeout time.Duration) Event {
	t.Helper()
	to := time.After(timeout)
	for {
		select {
		case e := <-events:
			if match(e) {
				return e
			}
		case <-to:
			t.Fatal("Expected event did not happen")
			return Event{}
		}
	}
}

func droppedBecause(reason string) func(Event) bool {
	return func(e Event) bool {
		return e.Kind == Dropped && e.Reason == reason
	}
}

func broadcastOf(self Rank, kind Kind, slot SlotID, peers ...Rank) []OutgoingMessage {
	msgs := make([]OutgoingMessage, len(peers))
	for i, p := range peers {
		msgs[i] = OutgoingMessage{Destination: p, Message: Message{Sender: self, Slot: slot, Kind: kind}}
	}
	return msgs
}

func newTestArbiter(t *testing.T, self Rank, numPeers, numSlots int, opts Options) (*mockNetwork, eventRecorder, Arbiter) {
	network := newMockNetwork()
	events := make(eventRecorder, 1000)
	opts.Observer = events
	if opts.Backoff == 0 {
		opts.Backoff = 100 * time.Millisecond
	}
	a := NewArbiter(logging.NewStdLogger("test"), network.asNetWrapper(), self, numPeers, numSlots, opts)
	t.Cleanup(a.Close)
	return network, events, a
}

// winSlot drives a conflict-free acquisition of slot by self.
func winSlot(t *testing.T, network *mockNetwork, a Arbiter, self Rank, slot SlotID, peers ...Rank) func() error {
	t.Helper()
	results := acquireAsync(a, context.Background())

	expectMessages(t, network, broadcastOf(self, Request, slot, peers...), time.Second)
	for _, p := range peers {
		network.SimulateReception(Message{Sender: p, Slot: slot, Kind: Approve})
	}
	expectMessages(t, network, broadcastOf(self, Reserve, slot, peers...), time.Second)
	for _, p := range peers {
		network.SimulateReception(Message{Sender: p, Slot: slot, Kind: Ack})
	}

	r := expectResult(t, results, time.Second)
	if r.err != nil || r.slot != slot {
		t.Fatalf("Expected slot %d, got %d (%v)", slot, r.slot, r.err)
	}
	return r.release
}

func TestSinglePeer(t *testing.T) {
	network, _, a := newTestArbiter(t, 0, 1, 2, Options{})

	slot, release, err := a.Acquire(context.Background())
	if err != nil {
		t.Fatal("Error acquiring slot:", err)
	}
	if slot != 0 {
		t.Error("Expected slot 0, got", slot)
	}

	status, _ := a.Status()
	if status.State != Holding || status.Replica != "[P0, -]" || status.Free != 1 {
		t.Error("Unexpected status while holding:", status)
	}

	if err := release(); err != nil {
		t.Error("Error releasing slot:", err)
	}
	expectNothing(t, network, 200*time.Millisecond)

	status, _ = a.Status()
	if status.State != Idle || status.Free != 2 {
		t.Error("Unexpected status after release:", status)
	}
}

func TestLoneRequesterNeedsEveryApprovalAndAck(t *testing.T) {
	network, _, a := newTestArbiter(t, 0, 3, 2, Options{})
	results := acquireAsync(a, context.Background())

	expectMessages(t, network, []OutgoingMessage{
		{Destination: 1, Message: Message{Clock: 1, Sender: 0, Slot: 0, Kind: Request}},
		{Destination: 2, Message: Message{Clock: 1, Sender: 0, Slot: 0, Kind: Request}},
	}, time.Second)

	network.SimulateReception(Message{Clock: 2, Sender: 1, Slot: 0, Kind: Approve})
	expectNothing(t, network, 200*time.Millisecond)

	network.SimulateReception(Message{Clock: 2, Sender: 2, Slot: 0, Kind: Approve})
	expectMessages(t, network, []OutgoingMessage{
		{Destination: 1, Message: Message{Clock: 5, Sender: 0, Slot: 0, Kind: Reserve}},
		{Destination: 2, Message: Message{Clock: 5, Sender: 0, Slot: 0, Kind: Reserve}},
	}, time.Second)

	network.SimulateReception(Message{Clock: 6, Sender: 1, Slot: 0, Kind: Ack})
	expectNoResult(t, results, 200*time.Millisecond)

	network.SimulateReception(Message{Clock: 6, Sender: 2, Slot: 0, Kind: Ack})
	r := expectResult(t, results, time.Second)
	if r.err != nil || r.slot != 0 {
		t.Fatal("Expected slot 0, got", r.slot, r.err)
	}

	status, _ := a.Status()
	if status.State != Holding || status.Clock != 8 || status.Replica != "[P0, -]" {
		t.Error("Unexpected status while holding:", status)
	}

	released := make(chan error, 1)
	go func() { released <- r.release() }()

	expectMessages(t, network, []OutgoingMessage{
		{Destination: 1, Message: Message{Clock: 9, Sender: 0, Slot: 0, Kind: Release}},
		{Destination: 2, Message: Message{Clock: 9, Sender: 0, Slot: 0, Kind: Release}},
	}, time.Second)

	network.SimulateReception(Message{Clock: 10, Sender: 1, Slot: 0, Kind: Ack})
	network.SimulateReception(Message{Clock: 10, Sender: 2, Slot: 0, Kind: Ack})

	select {
	case err := <-released:
		if err != nil {
			t.Error("Error releasing slot:", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Release did not return")
	}

	status, _ = a.Status()
	if status.State != Idle || status.Clock != 12 || status.Replica != "[-, -]" {
		t.Error("Unexpected status after release:", status)
	}

	// Release has no further effect
	if err := r.release(); err != nil {
		t.Error("Second release failed:", err)
	}
	expectNothing(t, network, 200*time.Millisecond)
}

// P0 and P1 both request slot 0 at clock 5. P1 sees (5,0) < (5,1), concedes and later picks slot 1.
func TestTieBrokenByRank(t *testing.T) {
	network, events, a := newTestArbiter(t, 1, 3, 2, Options{Backoff: 300 * time.Millisecond})

	// Bring the clock of P1 to 4
	network.SimulateReception(Message{Clock: 3, Sender: 2, Slot: 0, Kind: Approve})
	expectEvent(t, events, droppedBecause("no session is waiting for votes"), time.Second)

	results := acquireAsync(a, context.Background())
	expectMessages(t, network, []OutgoingMessage{
		{Destination: 0, Message: Message{Clock: 5, Sender: 1, Slot: 0, Kind: Request}},
		{Destination: 2, Message: Message{Clock: 5, Sender: 1, Slot: 0, Kind: Request}},
	}, time.Second)

	network.SimulateReception(Message{Clock: 5, Sender: 0, Slot: 0, Kind: Request})
	expectMessages(t, network, []OutgoingMessage{
		{Destination: 0, Message: Message{Clock: 7, Sender: 1, Slot: 0, Kind: Approve}},
	}, time.Second)

	// Votes for the conceded session
	network.SimulateReception(Message{Sender: 0, Slot: 0, Kind: Reject})
	network.SimulateReception(Message{Sender: 2, Slot: 0, Kind: Approve})
	network.SimulateReception(Message{Sender: 0, Slot: 0, Kind: Reserve})
	expectMessages(t, network, []OutgoingMessage{
		{Destination: 0, Message: Message{Sender: 1, Slot: 0, Kind: Ack}},
	}, time.Second)

	// After backing off, only slot 1 is free
	expectMessages(t, network, broadcastOf(1, Request, 1, 0, 2), 2*time.Second)
	network.SimulateReception(Message{Sender: 0, Slot: 1, Kind: Approve})
	network.SimulateReception(Message{Sender: 2, Slot: 1, Kind: Approve})
	expectMessages(t, network, broadcastOf(1, Reserve, 1, 0, 2), time.Second)
	network.SimulateReception(Message{Sender: 0, Slot: 1, Kind: Ack})
	network.SimulateReception(Message{Sender: 2, Slot: 1, Kind: Ack})

	r := expectResult(t, results, time.Second)
	if r.err != nil || r.slot != 1 {
		t.Fatal("Expected slot 1, got", r.slot, r.err)
	}

	status, _ := a.Status()
	if status.Replica != "[P0, P1]" {
		t.Error("Unexpected replica", status.Replica)
	}
}

func TestSmallerStampKeepsPriority(t *testing.T) {
	network, _, a := newTestArbiter(t, 0, 3, 2, Options{})
	results := acquireAsync(a, context.Background())
	expectMessages(t, network, broadcastOf(0, Request, 0, 1, 2), time.Second)

	// (1,1) > (1,0)
	network.SimulateReception(Message{Clock: 1, Sender: 1, Slot: 0, Kind: Request})
	expectMessages(t, network, []OutgoingMessage{
		{Destination: 1, Message: Message{Sender: 0, Slot: 0, Kind: Reject}},
	}, time.Second)

	// Requests for other slots are approved
	network.SimulateReception(Message{Clock: 1, Sender: 2, Slot: 1, Kind: Request})
	expectMessages(t, network, []OutgoingMessage{
		{Destination: 2, Message: Message{Sender: 0, Slot: 1, Kind: Approve}},
	}, time.Second)

	network.SimulateReception(Message{Sender: 1, Slot: 0, Kind: Approve})
	network.SimulateReception(Message{Sender: 2, Slot: 0, Kind: Approve})
	expectMessages(t, network, broadcastOf(0, Reserve, 0, 1, 2), time.Second)
	network.SimulateReception(Message{Sender: 1, Slot: 0, Kind: Ack})
	network.SimulateReception(Message{Sender: 2, Slot: 0, Kind: Ack})

	if r := expectResult(t, results, time.Second); r.err != nil || r.slot != 0 {
		t.Fatal("Expected slot 0, got", r.slot, r.err)
	}
}

func TestHeldSlotRejectsRequests(t *testing.T) {
	network, _, a := newTestArbiter(t, 0, 3, 2, Options{})
	release := winSlot(t, network, a, 0, 0, 1, 2)

	network.SimulateReception(Message{Clock: 3, Sender: 2, Slot: 0, Kind: Request})
	expectMessages(t, network, []OutgoingMessage{
		{Destination: 2, Message: Message{Sender: 0, Slot: 0, Kind: Reject}},
	}, time.Second)

	network.SimulateReception(Message{Clock: 3, Sender: 2, Slot: 1, Kind: Request})
	expectMessages(t, network, []OutgoingMessage{
		{Destination: 2, Message: Message{Sender: 0, Slot: 1, Kind: Approve}},
	}, time.Second)

	released := make(chan error, 1)
	go func() { released <- release() }()
	expectMessages(t, network, broadcastOf(0, Release, 0, 1, 2), time.Second)
	network.SimulateReception(Message{Sender: 1, Slot: 0, Kind: Ack})
	network.SimulateReception(Message{Sender: 2, Slot: 0, Kind: Ack})
	if err := <-released; err != nil {
		t.Error("Error releasing slot:", err)
	}

	// Free again
	network.SimulateReception(Message{Sender: 2, Slot: 0, Kind: Request})
	expectMessages(t, network, []OutgoingMessage{
		{Destination: 2, Message: Message{Sender: 0, Slot: 0, Kind: Approve}},
	}, time.Second)
}

func TestReserveOfContendedSlotRestartsSelection(t *testing.T) {
	network, _, a := newTestArbiter(t, 1, 3, 2, Options{})
	results := acquireAsync(a, context.Background())
	expectMessages(t, network, broadcastOf(1, Request, 0, 0, 2), time.Second)

	network.SimulateReception(Message{Sender: 0, Slot: 0, Kind: Reserve})
	expectMessages(t, network, []OutgoingMessage{
		{Destination: 0, Message: Message{Sender: 1, Slot: 0, Kind: Ack}},
	}, time.Second)
	// Selection restarts without backing off
	expectMessages(t, network, broadcastOf(1, Request, 1, 0, 2), time.Second)

	// Votes for the first session, then for the second one
	network.SimulateReception(Message{Sender: 0, Slot: 0, Kind: Reject})
	network.SimulateReception(Message{Sender: 2, Slot: 0, Kind: Approve})
	network.SimulateReception(Message{Sender: 0, Slot: 1, Kind: Approve})
	network.SimulateReception(Message{Sender: 2, Slot: 1, Kind: Approve})
	expectMessages(t, network, broadcastOf(1, Reserve, 1, 0, 2), time.Second)
	network.SimulateReception(Message{Sender: 0, Slot: 1, Kind: Ack})
	network.SimulateReception(Message{Sender: 2, Slot: 1, Kind: Ack})

	if r := expectResult(t, results, time.Second); r.err != nil || r.slot != 1 {
		t.Fatal("Expected slot 1, got", r.slot, r.err)
	}
}

func TestVotesOfAbandonedSessionAreNotCounted(t *testing.T) {
	network, events, a := newTestArbiter(t, 2, 3, 1, Options{})
	results := acquireAsync(a, context.Background())
	expectMessages(t, network, broadcastOf(2, Request, 0, 0, 1), time.Second)

	// (1,0) < (1,2): concede
	network.SimulateReception(Message{Clock: 1, Sender: 0, Slot: 0, Kind: Request})
	expectMessages(t, network, []OutgoingMessage{
		{Destination: 0, Message: Message{Sender: 2, Slot: 0, Kind: Approve}},
	}, time.Second)

	// Same slot again after backing off
	expectMessages(t, network, broadcastOf(2, Request, 0, 0, 1), 2*time.Second)

	// Late answers to the first request
	network.SimulateReception(Message{Sender: 1, Slot: 0, Kind: Approve})
	network.SimulateReception(Message{Sender: 0, Slot: 0, Kind: Approve})
	expectEvent(t, events, droppedBecause("vote for an abandoned session"), time.Second)
	expectEvent(t, events, droppedBecause("vote for an abandoned session"), time.Second)
	expectNothing(t, network, 200*time.Millisecond)

	network.SimulateReception(Message{Sender: 0, Slot: 0, Kind: Approve})
	network.SimulateReception(Message{Sender: 1, Slot: 0, Kind: Approve})
	expectMessages(t, network, broadcastOf(2, Reserve, 0, 0, 1), time.Second)
	network.SimulateReception(Message{Sender: 0, Slot: 0, Kind: Ack})
	network.SimulateReception(Message{Sender: 1, Slot: 0, Kind: Ack})

	if r := expectResult(t, results, time.Second); r.err != nil || r.slot != 0 {
		t.Fatal("Expected slot 0, got", r.slot, r.err)
	}
}

func TestDuplicatesAreIgnored(t *testing.T) {
	network, events, a := newTestArbiter(t, 0, 3, 1, Options{})
	results := acquireAsync(a, context.Background())
	expectMessages(t, network, broadcastOf(0, Request, 0, 1, 2), time.Second)

	network.SimulateReception(Message{Sender: 1, Slot: 0, Kind: Approve})
	network.SimulateReception(Message{Sender: 1, Slot: 0, Kind: Approve})
	expectEvent(t, events, droppedBecause("duplicate vote"), time.Second)
	expectNothing(t, network, 200*time.Millisecond)

	network.SimulateReception(Message{Sender: 2, Slot: 0, Kind: Approve})
	expectMessages(t, network, broadcastOf(0, Reserve, 0, 1, 2), time.Second)

	network.SimulateReception(Message{Sender: 1, Slot: 0, Kind: Ack})
	network.SimulateReception(Message{Sender: 1, Slot: 0, Kind: Ack})
	expectEvent(t, events, droppedBecause("duplicate acknowledgement"), time.Second)
	expectNoResult(t, results, 200*time.Millisecond)

	network.SimulateReception(Message{Sender: 2, Slot: 0, Kind: Ack})
	if r := expectResult(t, results, time.Second); r.err != nil {
		t.Fatal("Error acquiring slot:", r.err)
	}

	network.SimulateReception(Message{Sender: 2, Slot: 0, Kind: Ack})
	expectEvent(t, events, droppedBecause("no acknowledgement expected"), time.Second)
}

func TestMalformedMessagesAreDropped(t *testing.T) {
	network, events, a := newTestArbiter(t, 0, 3, 2, Options{})

	tests := []struct {
		msg    Message
		reason string
	}{
		{Message{Clock: 10, Sender: 0, Slot: 0, Kind: Request}, "unknown sender"},
		{Message{Clock: 10, Sender: 3, Slot: 0, Kind: Request}, "unknown sender"},
		{Message{Clock: 10, Sender: 1, Slot: 2, Kind: Request}, "unknown slot"},
		{Message{Clock: 10, Sender: 1, Slot: 0, Kind: Kind(9)}, "unknown kind"},
	}

	for _, test := range tests {
		network.SimulateReception(test.msg)
		expectEvent(t, events, droppedBecause(test.reason), time.Second)
	}
	// Only the last one had a valid sender and slot
	status, _ := a.Status()
	if status.Clock != 11 {
		t.Error("Expected clock 11, got", status.Clock)
	}
	expectNothing(t, network, 200*time.Millisecond)
}

func TestReleaseFromAnotherPeerFreesSlot(t *testing.T) {
	network, _, a := newTestArbiter(t, 2, 3, 1, Options{})

	network.SimulateReception(Message{Sender: 0, Slot: 0, Kind: Reserve})
	expectMessages(t, network, []OutgoingMessage{
		{Destination: 0, Message: Message{Sender: 2, Slot: 0, Kind: Ack}},
	}, time.Second)

	results := acquireAsync(a, context.Background())
	// Nothing is free
	expectNothing(t, network, 300*time.Millisecond)

	// A release by a peer that does not hold the slot is acknowledged but ignored
	network.SimulateReception(Message{Sender: 1, Slot: 0, Kind: Release})
	expectMessages(t, network, []OutgoingMessage{
		{Destination: 1, Message: Message{Sender: 2, Slot: 0, Kind: Ack}},
	}, time.Second)
	status, _ := a.Status()
	if status.Replica != "[P0]" || status.State != Selecting {
		t.Error("Unexpected status", status)
	}

	network.SimulateReception(Message{Sender: 0, Slot: 0, Kind: Release})
	expectMessages(t, network, []OutgoingMessage{
		{Destination: 0, Message: Message{Sender: 2, Slot: 0, Kind: Ack}},
	}, time.Second)
	expectMessages(t, network, broadcastOf(2, Request, 0, 0, 1), 2*time.Second)

	network.SimulateReception(Message{Sender: 0, Slot: 0, Kind: Approve})
	network.SimulateReception(Message{Sender: 1, Slot: 0, Kind: Approve})
	expectMessages(t, network, broadcastOf(2, Reserve, 0, 0, 1), time.Second)
	network.SimulateReception(Message{Sender: 0, Slot: 0, Kind: Ack})
	network.SimulateReception(Message{Sender: 1, Slot: 0, Kind: Ack})
	if r := expectResult(t, results, time.Second); r.err != nil || r.slot != 0 {
		t.Fatal("Expected slot 0, got", r.slot, r.err)
	}
}

func TestResponseTimeoutCountsAsRejection(t *testing.T) {
	network, events, a := newTestArbiter(t, 0, 3, 1, Options{ResponseTimeout: 200 * time.Millisecond})
	results := acquireAsync(a, context.Background())
	expectMessages(t, network, broadcastOf(0, Request, 0, 1, 2), time.Second)

	network.SimulateReception(Message{Sender: 1, Slot: 0, Kind: Approve})
	expectEvent(t, events, func(e Event) bool {
		return e.Kind == Transition && e.State == Selecting && strings.Contains(e.Reason, "no vote from [P2]")
	}, time.Second)

	expectMessages(t, network, broadcastOf(0, Request, 0, 1, 2), 2*time.Second)

	// P2 finally answers the first request
	network.SimulateReception(Message{Sender: 2, Slot: 0, Kind: Approve})
	expectEvent(t, events, droppedBecause("vote for an abandoned session"), time.Second)

	network.SimulateReception(Message{Sender: 1, Slot: 0, Kind: Approve})
	network.SimulateReception(Message{Sender: 2, Slot: 0, Kind: Approve})
	expectMessages(t, network, broadcastOf(0, Reserve, 0, 1, 2), time.Second)

	// Acknowledgements are waited for past the timeout
	expectNoResult(t, results, 500*time.Millisecond)
	network.SimulateReception(Message{Sender: 1, Slot: 0, Kind: Ack})
	network.SimulateReception(Message{Sender: 2, Slot: 0, Kind: Ack})
	if r := expectResult(t, results, time.Second); r.err != nil {
		t.Fatal("Error acquiring slot:", r.err)
	}
}

func TestAcquireWhileBusy(t *testing.T) {
	_, _, a := newTestArbiter(t, 0, 1, 1, Options{})

	_, release, err := a.Acquire(context.Background())
	if err != nil {
		t.Fatal("Error acquiring slot:", err)
	}
	if _, _, err := a.Acquire(context.Background()); !errors.Is(err, ErrAlreadyAcquiring) {
		t.Error("Expected ErrAlreadyAcquiring, got", err)
	}
	if err := release(); err != nil {
		t.Error("Error releasing slot:", err)
	}
	if _, _, err := a.Acquire(context.Background()); err != nil {
		t.Error("Error acquiring slot again:", err)
	}
}

func TestCancelWhileContending(t *testing.T) {
	network, _, a := newTestArbiter(t, 0, 2, 1, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	results := acquireAsync(a, ctx)
	expectMessages(t, network, broadcastOf(0, Request, 0, 1), time.Second)

	cancel()
	if r := expectResult(t, results, time.Second); !errors.Is(r.err, context.Canceled) {
		t.Fatal("Expected context.Canceled, got", r.err)
	}

	status, _ := a.Status()
	if status.State != Idle {
		t.Error("Expected IDLE, got", status.State)
	}
}

func TestCancelWhileReservingReleasesSlot(t *testing.T) {
	network, _, a := newTestArbiter(t, 0, 2, 1, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	results := acquireAsync(a, ctx)
	expectMessages(t, network, broadcastOf(0, Request, 0, 1), time.Second)

	network.SimulateReception(Message{Sender: 1, Slot: 0, Kind: Approve})
	expectMessages(t, network, broadcastOf(0, Reserve, 0, 1), time.Second)

	cancel()
	time.Sleep(100 * time.Millisecond)
	network.SimulateReception(Message{Sender: 1, Slot: 0, Kind: Ack})

	if r := expectResult(t, results, time.Second); !errors.Is(r.err, context.Canceled) {
		t.Fatal("Expected context.Canceled, got", r.err)
	}
	expectMessages(t, network, broadcastOf(0, Release, 0, 1), time.Second)
	network.SimulateReception(Message{Sender: 1, Slot: 0, Kind: Ack})

	// A new demand is served once the release is acknowledged
	acquireAsync(a, context.Background())
	expectMessages(t, network, broadcastOf(0, Request, 0, 1), time.Second)
}

func TestCloseFailsPendingAcquire(t *testing.T) {
	network, _, a := newTestArbiter(t, 0, 2, 1, Options{})
	results := acquireAsync(a, context.Background())
	expectMessages(t, network, broadcastOf(0, Request, 0, 1), time.Second)

	a.Close()
	if r := expectResult(t, results, time.Second); !errors.Is(r.err, ErrClosed) {
		t.Fatal("Expected ErrClosed, got", r.err)
	}
	if _, err := a.Status(); !errors.Is(err, ErrClosed) {
		t.Error("Expected ErrClosed from Status, got", err)
	}
	if _, _, err := a.Acquire(context.Background()); !errors.Is(err, ErrClosed) {
		t.Error("Expected ErrClosed from Acquire, got", err)
	}
}

func TestClosedNetworkStopsArbiter(t *testing.T) {
	network, _, a := newTestArbiter(t, 0, 2, 1, Options{})
	results := acquireAsync(a, context.Background())
	expectMessages(t, network, broadcastOf(0, Request, 0, 1), time.Second)

	close(network.receivedMessages)
	if r := expectResult(t, results, time.Second); !errors.Is(r.err, ErrNetworkClosed) {
		t.Fatal("Expected ErrNetworkClosed, got", r.err)
	}
}
