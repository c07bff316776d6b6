package amqp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amqpcore/amqp10/internal/frames"
	"github.com/amqpcore/amqp10/internal/queue"
)

// newTestSession builds a Session with just enough state to exercise its mux
// helpers directly, without a running mux goroutine or a real Conn.
func newTestSession(t *testing.T) *Session {
	t.Helper()

	return &Session{
		conn:      &Conn{tx: make(chan txEnvelope, 10), done: make(chan struct{})},
		channel:   0,
		handleMax: 16,
		links:     make(map[uint32]*link),
		txPending: queue.New[*frames.PerformTransfer](16),
		rx:        make(chan frames.FrameBody, 1),
		tx:        make(chan frames.FrameBody, 1),
		close:     make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func TestSessionAllocateHandleRespectsMax(t *testing.T) {
	s := newTestSession(t)
	s.handleMax = 1

	h0, err := s.allocateHandle(&link{})
	require.NoError(t, err)
	require.EqualValues(t, 0, h0)

	h1, err := s.allocateHandle(&link{})
	require.NoError(t, err)
	require.EqualValues(t, 1, h1)

	_, err = s.allocateHandle(&link{})
	require.Error(t, err)
}

func TestSessionFreeHandleReusesLowest(t *testing.T) {
	s := newTestSession(t)

	l0 := &link{}
	l1 := &link{}
	h0, err := s.allocateHandle(l0)
	require.NoError(t, err)
	_, err = s.allocateHandle(l1)
	require.NoError(t, err)

	s.freeHandle(h0)

	l2 := &link{}
	h2, err := s.allocateHandle(l2)
	require.NoError(t, err)
	require.Equal(t, h0, h2)
}

func TestSessionMuxDrainPendingGatesOnWindow(t *testing.T) {
	s := newTestSession(t)

	tr1 := &frames.PerformTransfer{Handle: 0, DeliveryTag: []byte("a")}
	tr2 := &frames.PerformTransfer{Handle: 0, DeliveryTag: []byte("b")}
	s.txPending.Enqueue(tr1)
	s.txPending.Enqueue(tr2)

	// no remote-incoming-window yet: nothing should go out.
	require.NoError(t, s.muxDrainPending())
	select {
	case <-s.conn.tx:
		t.Fatal("expected no Transfer to be sent while remoteIncomingWindow is zero")
	default:
	}

	s.remoteIncomingWindow = 1
	require.NoError(t, s.muxDrainPending())

	select {
	case env := <-s.conn.tx:
		got, ok := env.fr.(*frames.PerformTransfer)
		require.True(t, ok)
		require.Equal(t, tr1, got)
	default:
		t.Fatal("expected one Transfer to be sent")
	}
	require.EqualValues(t, 0, s.remoteIncomingWindow)

	select {
	case <-s.conn.tx:
		t.Fatal("expected the second Transfer to stay queued")
	default:
	}
}

func TestSessionMuxDrainPendingAssignsDeliveryIDsInWireOrder(t *testing.T) {
	s := newTestSession(t)

	// simulate two Senders sharing this session: interleave their Transfers
	// in admission order and use OnDeliveryID to record, per sender, what id
	// each one is actually stamped with once it reaches the wire.
	var senderA, senderB []uint32
	newTransfer := func(tag string, ids *[]uint32) *frames.PerformTransfer {
		return &frames.PerformTransfer{
			Handle:          0,
			DeliveryTag:     []byte(tag),
			NeedsDeliveryID: true,
			OnDeliveryID:    func(id uint32) { *ids = append(*ids, id) },
		}
	}
	trA0 := newTransfer("a0", &senderA)
	trB0 := newTransfer("b0", &senderB)
	trA1 := newTransfer("a1", &senderA)

	s.txPending.Enqueue(trA0)
	s.txPending.Enqueue(trB0)
	s.txPending.Enqueue(trA1)

	// drain in two steps, as window exhaustion would force in practice.
	s.remoteIncomingWindow = 1
	require.NoError(t, s.muxDrainPending())
	s.remoteIncomingWindow = 2
	require.NoError(t, s.muxDrainPending())

	var wireOrder []uint32
	for i := 0; i < 3; i++ {
		select {
		case env := <-s.conn.tx:
			tr, ok := env.fr.(*frames.PerformTransfer)
			require.True(t, ok)
			require.NotNil(t, tr.DeliveryID)
			wireOrder = append(wireOrder, *tr.DeliveryID)
		default:
			t.Fatal("expected a Transfer on the wire")
		}
	}

	// delivery-ids are strictly increasing in actual wire order, not in
	// per-sender send() order.
	require.Equal(t, []uint32{0, 1, 2}, wireOrder)
	require.Equal(t, []uint32{0, 2}, senderA)
	require.Equal(t, []uint32{1}, senderB)
}

func TestSessionMuxHandleFrameFlowUpdatesRemoteWindow(t *testing.T) {
	s := newTestSession(t)

	err := s.muxHandleFrame(&frames.PerformFlow{IncomingWindow: 7, OutgoingWindow: 9})
	require.NoError(t, err)
	require.EqualValues(t, 7, s.remoteIncomingWindow)
	require.EqualValues(t, 9, s.remoteOutgoingWindow)
}

func TestSessionMuxHandleFrameTransferWindowViolation(t *testing.T) {
	s := newTestSession(t)
	s.incomingWindow = 0

	err := s.muxHandleFrame(&frames.PerformTransfer{Handle: 0})
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
}

func TestSessionMuxHandleFrameTransferReplenishesFlow(t *testing.T) {
	s := newTestSession(t)
	s.incomingWindow = 1 // below defaultWindow/2 once decremented to 0
	l := &link{rx: make(chan frames.FrameBody, 1), detached: make(chan struct{})}
	s.links[0] = l

	err := s.muxHandleFrame(&frames.PerformTransfer{Handle: 0})
	require.NoError(t, err)
	require.EqualValues(t, defaultWindow, s.incomingWindow)

	select {
	case env := <-s.conn.tx:
		flow, ok := env.fr.(*frames.PerformFlow)
		require.True(t, ok)
		require.EqualValues(t, defaultWindow, flow.IncomingWindow)
	default:
		t.Fatal("expected a replenishing Flow to be sent")
	}

	select {
	case <-l.rx:
	default:
		t.Fatal("expected the Transfer to be routed to the link")
	}
}

func TestSessionMuxRouteByHandleUnattached(t *testing.T) {
	s := newTestSession(t)

	err := s.muxRouteByHandle(42, &frames.PerformDetach{Handle: 42})
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
}

func TestSessionMuxBroadcastDispositionReachesAllLinks(t *testing.T) {
	s := newTestSession(t)
	l1 := &link{rx: make(chan frames.FrameBody, 1), detached: make(chan struct{})}
	l2 := &link{rx: make(chan frames.FrameBody, 1), detached: make(chan struct{})}
	s.links[0] = l1
	s.links[1] = l2

	require.NoError(t, s.muxBroadcastDisposition(&frames.PerformDisposition{First: 1}))

	for _, l := range []*link{l1, l2} {
		select {
		case <-l.rx:
		default:
			t.Fatal("expected every link to receive the Disposition")
		}
	}
}

func TestSessionMuxHandleFrameEndWithError(t *testing.T) {
	s := newTestSession(t)

	amqpErr := &Error{Condition: "amqp:internal-error"}
	err := s.muxHandleFrame(&frames.PerformEnd{Error: amqpErr})
	var sessionErr *SessionError
	require.ErrorAs(t, err, &sessionErr)
	require.Equal(t, amqpErr, sessionErr.RemoteError)
}

func TestSessionMuxHandleFrameEndWithoutError(t *testing.T) {
	s := newTestSession(t)

	err := s.muxHandleFrame(&frames.PerformEnd{})
	require.ErrorIs(t, err, ErrSessionClosed)
}

func TestSessionCloseIdempotent(t *testing.T) {
	s := newTestSession(t)
	close(s.done)
	s.err = ErrSessionClosed

	require.NoError(t, s.Close(context.Background()))
}
