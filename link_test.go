package amqp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amqpcore/amqp10/internal/encoding"
	"github.com/amqpcore/amqp10/internal/frames"
)

// newTestLink builds a link and the minimal Session state attachLink/
// muxDetach/closeLink touch, without going through a real Attach handshake.
func newTestLink(t *testing.T) (*link, *Session) {
	t.Helper()

	sess := &Session{
		links:     make(map[uint32]*link),
		handleMax: 16,
		tx:        make(chan frames.FrameBody, 10),
		done:      make(chan struct{}),
	}
	l := &link{
		key:      linkKey{name: "test-link", role: encoding.RoleSender},
		session:  sess,
		rx:       make(chan frames.FrameBody, 10),
		close:    make(chan struct{}),
		detached: make(chan struct{}),
	}
	handle, err := sess.allocateHandle(l)
	require.NoError(t, err)
	l.handle = handle

	return l, sess
}

func TestSettleModeDefaults(t *testing.T) {
	require.Equal(t, ModeUnsettled, senderSettleModeValue(nil))
	require.Equal(t, ModeFirst, receiverSettleModeValue(nil))

	settled := ModeSettled
	require.Equal(t, ModeSettled, senderSettleModeValue(&settled))

	second := ModeSecond
	require.Equal(t, ModeSecond, receiverSettleModeValue(&second))
}

func TestLinkMuxHandleFrameDetachFromPeer(t *testing.T) {
	l, sess := newTestLink(t)

	err := l.muxHandleFrame(&frames.PerformDetach{Handle: l.handle, Closed: false})
	var detachErr *DetachError
	require.ErrorAs(t, err, &detachErr)

	// a non-closing Detach from the peer is answered in kind.
	select {
	case fr := <-sess.tx:
		reply, ok := fr.(*frames.PerformDetach)
		require.True(t, ok)
		require.True(t, reply.Closed)
		require.Equal(t, l.handle, reply.Handle)
	default:
		t.Fatal("expected a Detach reply queued on the session")
	}
}

func TestLinkMuxHandleFrameDetachWithError(t *testing.T) {
	l, _ := newTestLink(t)

	amqpErr := &Error{Condition: "amqp:internal-error", Description: "boom"}
	err := l.muxHandleFrame(&frames.PerformDetach{Handle: l.handle, Closed: true, Error: amqpErr})
	var detachErr *DetachError
	require.ErrorAs(t, err, &detachErr)
	require.Equal(t, amqpErr, l.detachError)
}

func TestLinkMuxHandleFrameUnexpected(t *testing.T) {
	l, _ := newTestLink(t)

	err := l.muxHandleFrame(&frames.PerformAttach{})
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
}

func TestLinkMuxHandleFrameIgnoresDispositionAndFlow(t *testing.T) {
	l, _ := newTestLink(t)

	require.NoError(t, l.muxHandleFrame(&frames.PerformDisposition{}))
	require.NoError(t, l.muxHandleFrame(&frames.PerformFlow{}))
}

func TestMuxDetachReleasesHandleAndSendsDetach(t *testing.T) {
	l, sess := newTestLink(t)

	l.muxDetach(ErrLinkClosed, nil)

	select {
	case <-l.detached:
	default:
		t.Fatal("expected l.detached to be closed")
	}
	require.Equal(t, ErrLinkClosed, l.err)

	sess.handlesMu.Lock()
	_, stillRegistered := sess.links[l.handle]
	sess.handlesMu.Unlock()
	require.False(t, stillRegistered)

	select {
	case fr := <-sess.tx:
		detach, ok := fr.(*frames.PerformDetach)
		require.True(t, ok)
		require.True(t, detach.Closed)
	default:
		t.Fatal("expected a Detach to be sent since none was received")
	}
}

func TestMuxDetachSkipsReplyWhenDetachWasReceived(t *testing.T) {
	l, sess := newTestLink(t)

	l.muxDetach(ErrLinkClosed, &frames.PerformDetach{Handle: l.handle, Closed: true})

	select {
	case <-sess.tx:
		t.Fatal("no Detach should be sent when one was already received")
	default:
	}
}

func TestCloseLinkIdempotent(t *testing.T) {
	l, _ := newTestLink(t)

	l.err = ErrLinkClosed
	close(l.detached)

	require.NoError(t, l.closeLink(context.Background()))
}

func TestCloseLinkContextDeadline(t *testing.T) {
	l, _ := newTestLink(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.closeLink(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
