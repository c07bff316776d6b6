package amqp

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/amqpcore/amqp10/internal/encoding"
	"github.com/amqpcore/amqp10/internal/frames"
	"github.com/amqpcore/amqp10/internal/mocks"
)

// senderFrameHandler builds the responder a Sender test dials through: proto
// handshake, Open, Begin, and an Attach answering with Role=receiver, plus
// whatever extraFrames (already-encoded) the test appends to the Attach
// reply - e.g. a Flow granting credit right after the link comes up.
func senderFrameHandler(t *testing.T, linkHandle uint32, mode encoding.SenderSettleMode, extraOnAttach []byte, onTransfer func(*frames.PerformTransfer) ([]byte, error)) func(frames.FrameBody) ([]byte, error) {
	t.Helper()
	return func(req frames.FrameBody) ([]byte, error) {
		switch tt := req.(type) {
		case *mocks.AMQPProto:
			return mocks.ProtoHeader(mocks.ProtoAMQP)
		case *frames.PerformOpen:
			return mocks.PerformOpen("container")
		case *frames.PerformBegin:
			return mocks.PerformBegin(0)
		case *frames.PerformAttach:
			attach, err := mocks.SenderAttach(tt.Name, linkHandle, mode)
			if err != nil {
				return nil, err
			}
			return append(attach, extraOnAttach...), nil
		case *frames.PerformTransfer:
			if onTransfer == nil {
				return nil, nil
			}
			return onTransfer(tt)
		case *frames.PerformDetach:
			return mocks.PerformDetach(linkHandle, true, nil)
		case *frames.PerformEnd:
			return mocks.PerformEnd(nil)
		case *frames.PerformClose:
			return mocks.PerformClose(nil)
		default:
			return nil, fmt.Errorf("unhandled frame %T", req)
		}
	}
}

// newTestSenderSession dials and opens a session through a mock connection,
// returning both for the caller to attach a Sender on.
func newTestSenderSession(t *testing.T, responder func(frames.FrameBody) ([]byte, error)) (*Conn, *Session) {
	t.Helper()

	netConn := mocks.NewConnection(responder)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	conn, err := NewConn(ctx, netConn, nil)
	cancel()
	require.NoError(t, err)

	ctx, cancel = context.WithTimeout(context.Background(), time.Second)
	session, err := conn.NewSession(ctx, nil)
	cancel()
	require.NoError(t, err)

	return conn, session
}

func TestSenderInvalidSettlementMode(t *testing.T) {
	_, session := newTestSenderSession(t, senderFrameHandler(t, 0, ModeUnsettled, nil, nil))

	invalid := encoding.SenderSettleMode(3)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	snd, err := session.NewSender(ctx, "target", &SenderOptions{SettlementMode: &invalid})
	cancel()
	require.Error(t, err)
	require.Nil(t, snd)
}

func TestSenderExactlyOnceUnsupported(t *testing.T) {
	_, session := newTestSenderSession(t, senderFrameHandler(t, 0, ModeMixed, nil, nil))

	mixed := ModeMixed
	second := ModeSecond
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	snd, err := session.NewSender(ctx, "target", &SenderOptions{
		SettlementMode:              &mixed,
		RequestedReceiverSettleMode: &second,
	})
	cancel()
	require.Error(t, err)
	require.Nil(t, snd)
}

func TestSenderAttachMethodsAndClose(t *testing.T) {
	conn, session := newTestSenderSession(t, senderFrameHandler(t, 0, ModeUnsettled, nil, nil))

	const (
		linkAddr = "addr1"
		linkName = "test-sender"
	)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	snd, err := session.NewSender(ctx, linkAddr, &SenderOptions{Name: linkName})
	cancel()
	require.NoError(t, err)
	require.NotNil(t, snd)
	require.Equal(t, linkAddr, snd.Address())
	require.Equal(t, linkName, snd.LinkName())

	ctx, cancel = context.WithTimeout(context.Background(), time.Second)
	require.NoError(t, snd.Close(ctx))
	cancel()

	ctx, cancel = context.WithTimeout(context.Background(), time.Second)
	require.NoError(t, conn.Close(ctx))
	cancel()
}

func TestSenderSendSettled(t *testing.T) {
	flow, err := mocks.SenderFlow(0, 0, 10)
	require.NoError(t, err)

	var gotSettled bool
	onTransfer := func(tr *frames.PerformTransfer) ([]byte, error) {
		gotSettled = tr.Settled
		return nil, nil // settled Transfers get no Disposition back
	}

	settled := ModeSettled
	_, session := newTestSenderSession(t, senderFrameHandler(t, 0, ModeUnsettled, flow, onTransfer))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	snd, err := session.NewSender(ctx, "target", &SenderOptions{SettlementMode: &settled})
	cancel()
	require.NoError(t, err)

	ctx, cancel = context.WithTimeout(context.Background(), time.Second)
	require.NoError(t, snd.Send(ctx, NewMessage([]byte("hello"))))
	cancel()
	require.True(t, gotSettled)
}

func TestSenderSendWaitsForCreditThenDisposition(t *testing.T) {
	// no credit granted on Attach: Send must queue in pending-transfers and
	// only go on the wire once the Flow below arrives.
	flow, err := mocks.SenderFlow(0, 0, 1)
	require.NoError(t, err)

	onTransfer := func(tr *frames.PerformTransfer) ([]byte, error) {
		return mocks.PerformDisposition(*tr.DeliveryID, &encoding.StateAccepted{})
	}

	_, session := newTestSenderSession(t, senderFrameHandler(t, 0, ModeUnsettled, flow, onTransfer))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	snd, err := session.NewSender(ctx, "target", nil)
	cancel()
	require.NoError(t, err)

	ctx, cancel = context.WithTimeout(context.Background(), time.Second)
	require.NoError(t, snd.Send(ctx, NewMessage([]byte("hello"))))
	cancel()
}

func TestSenderSendRejectedDetaches(t *testing.T) {
	flow, err := mocks.SenderFlow(0, 0, 1)
	require.NoError(t, err)

	onTransfer := func(tr *frames.PerformTransfer) ([]byte, error) {
		return mocks.PerformDisposition(*tr.DeliveryID, &encoding.StateRejected{
			Error: &encoding.Error{Condition: "amqp:internal-error"},
		})
	}

	_, session := newTestSenderSession(t, senderFrameHandler(t, 0, ModeUnsettled, flow, onTransfer))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	snd, err := session.NewSender(ctx, "target", nil)
	cancel()
	require.NoError(t, err)

	ctx, cancel = context.WithTimeout(context.Background(), time.Second)
	err = snd.Send(ctx, NewMessage([]byte("hello")))
	cancel()
	var detachErr *DetachError
	require.ErrorAs(t, err, &detachErr)
}

func TestSenderSendIgnoresRejectionWhenConfigured(t *testing.T) {
	flow, err := mocks.SenderFlow(0, 0, 1)
	require.NoError(t, err)

	onTransfer := func(tr *frames.PerformTransfer) ([]byte, error) {
		return mocks.PerformDisposition(*tr.DeliveryID, &encoding.StateRejected{
			Error: &encoding.Error{Condition: "amqp:internal-error"},
		})
	}

	_, session := newTestSenderSession(t, senderFrameHandler(t, 0, ModeUnsettled, flow, onTransfer))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	snd, err := session.NewSender(ctx, "target", &SenderOptions{IgnoreDispositionErrors: true})
	cancel()
	require.NoError(t, err)

	ctx, cancel = context.WithTimeout(context.Background(), time.Second)
	err = snd.Send(ctx, NewMessage([]byte("hello")))
	cancel()
	// rejection still arrives but IgnoreDispositionErrors keeps it from detaching the link.
	require.Error(t, err)
	var detachErr *DetachError
	require.False(t, errors.As(err, &detachErr))
}

func TestSenderSendOnClosedLink(t *testing.T) {
	_, session := newTestSenderSession(t, senderFrameHandler(t, 0, ModeUnsettled, nil, nil))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	snd, err := session.NewSender(ctx, "target", nil)
	cancel()
	require.NoError(t, err)

	ctx, cancel = context.WithTimeout(context.Background(), time.Second)
	require.NoError(t, snd.Close(ctx))
	cancel()

	err = snd.Send(context.Background(), NewMessage([]byte("too late")))
	require.ErrorIs(t, err, ErrLinkClosed)
}
