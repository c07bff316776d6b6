package amqp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amqpcore/amqp10/internal/buffer"
	"github.com/amqpcore/amqp10/internal/encoding"
	"github.com/amqpcore/amqp10/internal/frames"
)

// newTestReceiver builds a Receiver with its own mux-side state wired up
// against a stub Conn/Session, without a running mux goroutine or Attach
// handshake.
func newTestReceiver(t *testing.T, credit uint32) *Receiver {
	t.Helper()

	sess := &Session{
		conn:           &Conn{tx: make(chan txEnvelope, 10), done: make(chan struct{})},
		incomingWindow: defaultWindow,
		outgoingWindow: defaultWindow,
		tx:             make(chan frames.FrameBody, 10),
		done:           make(chan struct{}),
	}
	r := &Receiver{
		link: link{
			key:      linkKey{name: "test-receiver", role: encoding.RoleReceiver},
			session:  sess,
			rx:       make(chan frames.FrameBody, 1),
			close:    make(chan struct{}),
			detached: make(chan struct{}),
		},
		autoSendFlow:  true,
		creditRequest: make(chan struct{}, 1),
	}
	r.linkCredit = credit
	r.messages = make(chan *Message, credit)
	return r
}

func encodedMessage(t *testing.T, msg *Message) []byte {
	t.Helper()
	buf := &buffer.Buffer{}
	require.NoError(t, msg.Marshal(buf))
	return buf.Detach()
}

func TestReceiverMuxReceiveDeliversMessage(t *testing.T) {
	r := newTestReceiver(t, 1)

	payload := encodedMessage(t, NewMessage([]byte("hello")))
	deliveryID := uint32(7)
	err := r.muxReceive(&frames.PerformTransfer{
		DeliveryTag: []byte("tag1"),
		DeliveryID:  &deliveryID,
		Payload:     payload,
	})
	require.NoError(t, err)
	// autoSendFlow immediately refills credit back to cap(r.messages).
	require.EqualValues(t, 1, r.linkCredit)
	require.EqualValues(t, 1, r.deliveryCount)

	msg := r.Prefetched()
	require.NotNil(t, msg)
	require.Equal(t, []byte("hello"), msg.GetData())
	require.Equal(t, []byte("tag1"), msg.DeliveryTag)
	require.NotNil(t, msg.deliveryID)
	require.EqualValues(t, 7, *msg.deliveryID)
}

func TestReceiverMuxReceiveReassemblesFragments(t *testing.T) {
	r := newTestReceiver(t, 1)

	full := encodedMessage(t, NewMessage([]byte("hello world")))
	mid := len(full) / 2

	require.NoError(t, r.muxReceive(&frames.PerformTransfer{
		DeliveryTag: []byte("frag"),
		Payload:     full[:mid],
		More:        true,
	}))
	// still waiting on the rest: no message delivered yet, credit untouched.
	require.Nil(t, r.Prefetched())
	require.EqualValues(t, 1, r.linkCredit)

	require.NoError(t, r.muxReceive(&frames.PerformTransfer{
		DeliveryTag: []byte("frag"),
		Payload:     full[mid:],
	}))

	msg := r.Prefetched()
	require.NotNil(t, msg)
	require.Equal(t, []byte("hello world"), msg.GetData())
}

func TestReceiverMuxReceiveNoCreditDetaches(t *testing.T) {
	r := newTestReceiver(t, 0)

	err := r.muxReceive(&frames.PerformTransfer{DeliveryTag: []byte("x")})
	var detachErr *DetachError
	require.ErrorAs(t, err, &detachErr)
	require.Equal(t, ErrCondTransferLimitExceeded, detachErr.RemoteError.Condition)
}

func TestReceiverSendFlowLockedRefillsToCapacity(t *testing.T) {
	r := newTestReceiver(t, 3)
	r.linkCredit = 1 // two credits consumed relative to cap(messages)==3

	require.NoError(t, r.sendFlowLocked())
	require.EqualValues(t, 3, r.linkCredit)

	select {
	case fr := <-r.session.tx:
		flow, ok := fr.(*frames.PerformFlow)
		require.True(t, ok)
		require.EqualValues(t, 3, *flow.LinkCredit)
	default:
		t.Fatal("expected a Flow to be sent")
	}
}

func TestReceiverAcceptMessageSettlesWhenUnsettled(t *testing.T) {
	r := newTestReceiver(t, 1)

	id := uint32(3)
	msg := &Message{Data: [][]byte{[]byte("x")}}
	msg.deliveryID = &id

	require.NoError(t, r.AcceptMessage(context.Background(), msg))

	select {
	case fr := <-r.session.tx:
		disp, ok := fr.(*frames.PerformDisposition)
		require.True(t, ok)
		require.Equal(t, uint32(3), disp.First)
		_, ok = disp.State.(*encoding.StateAccepted)
		require.True(t, ok)
	default:
		t.Fatal("expected a Disposition to be sent")
	}
}

func TestReceiverSettleSkipsSenderSettled(t *testing.T) {
	r := newTestReceiver(t, 1)

	msg := &Message{Data: [][]byte{[]byte("x")}} // deliveryID left nil

	require.NoError(t, r.ReleaseMessage(context.Background(), msg))

	select {
	case <-r.session.tx:
		t.Fatal("expected no Disposition for a sender-settled message")
	default:
	}
}

func TestReceiverMuxHandleFrameFlowEndsDrainWithoutManualCreditor(t *testing.T) {
	r := newTestReceiver(t, 1)

	// r.receiver is nil (no ManualCredits): a Drain-flagged Flow is simply
	// routed through without panicking on a nil creditor.
	require.NoError(t, r.muxHandleFrame(&frames.PerformFlow{Drain: true}))
}

func TestReceiverIssueCreditRequiresManualCredits(t *testing.T) {
	r := newTestReceiver(t, 1)

	err := r.IssueCredit(5)
	require.Error(t, err)
}
