package amqp

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/amqpcore/amqp10/internal/frames"
)

// noopConn is a minimal net.Conn stand-in that records every Write, used by
// tests exercising code paths (like demux's direct writeFrame calls) that
// write straight to the wire rather than through c.tx.
type noopConn struct {
	written *[][]byte
}

func newNoopConn() noopConn {
	return noopConn{written: &[][]byte{}}
}

func (c noopConn) Close() error { return nil }
func (c noopConn) Read(b []byte) (int, error) {
	return 0, errors.New("not used")
}
func (c noopConn) Write(b []byte) (int, error) {
	*c.written = append(*c.written, append([]byte(nil), b...))
	return len(b), nil
}
func (noopConn) LocalAddr() net.Addr                { return nil }
func (noopConn) RemoteAddr() net.Addr               { return nil }
func (noopConn) SetDeadline(t time.Time) error      { return nil }
func (noopConn) SetReadDeadline(t time.Time) error  { return nil }
func (noopConn) SetWriteDeadline(t time.Time) error { return nil }

func newTestConn(t *testing.T) *Conn {
	t.Helper()
	return &Conn{
		containerID:       "test-container",
		net:               newNoopConn(),
		sessionsByChannel: make(map[uint16]*Session),
		tx:                make(chan txEnvelope, 10),
		close:             make(chan struct{}),
		done:              make(chan struct{}),
	}
}

func TestConnPeerMaxFrameSizeDefaultsWhenUnset(t *testing.T) {
	c := newTestConn(t)
	require.EqualValues(t, defaultMaxFrameSize, c.peerMaxFrameSize())

	c.peerMaxFrameSize_ = 1024
	require.EqualValues(t, 1024, c.peerMaxFrameSize())
}

func TestConnDemuxUnattachedChannelErrors(t *testing.T) {
	c := newTestConn(t)

	err := c.demux(frames.Frame{Channel: 3, Body: &frames.PerformFlow{}})
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
}

func TestConnDemuxCloseFromPeerGraceful(t *testing.T) {
	c := newTestConn(t)

	err := c.demux(frames.Frame{Channel: 0, Body: &frames.PerformClose{}})
	require.ErrorIs(t, err, ErrConnClosed)

	written := *c.net.(noopConn).written
	require.Len(t, written, 1, "expected an answering Close to be written directly to the wire")
}

func TestConnDemuxCloseFromPeerWithError(t *testing.T) {
	c := newTestConn(t)

	err := c.demux(frames.Frame{Channel: 0, Body: &frames.PerformClose{
		Error: &Error{Condition: "amqp:internal-error"},
	}})
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
}

func TestConnDemuxRoutesToSession(t *testing.T) {
	c := newTestConn(t)
	s := &Session{rx: make(chan frames.FrameBody, 1), done: make(chan struct{})}
	c.sessionsByChannel[5] = s

	require.NoError(t, c.demux(frames.Frame{Channel: 5, Body: &frames.PerformFlow{}}))

	select {
	case <-s.rx:
	default:
		t.Fatal("expected the frame to be routed to the session")
	}
}

func TestConnAcceptSessionSeedsRemoteWindowState(t *testing.T) {
	c := newTestConn(t)
	defer close(c.done) // unwinds the session's mux goroutine acceptSession starts

	remoteChannel := uint16(9)
	begin := &frames.PerformBegin{
		RemoteChannel:  &remoteChannel,
		NextOutgoingID: 42,
		IncomingWindow: 11,
		OutgoingWindow: 13,
		HandleMax:      4,
	}
	require.NoError(t, c.acceptSession(remoteChannel, begin))

	c.channelMu.Lock()
	var s *Session
	for _, sess := range c.sessionsByChannel {
		s = sess
	}
	c.channelMu.Unlock()
	require.NotNil(t, s)

	require.EqualValues(t, 42, s.nextIncomingID)
	require.EqualValues(t, 11, s.remoteIncomingWindow)
	require.EqualValues(t, 13, s.remoteOutgoingWindow)
	require.EqualValues(t, 4, s.handleMax) // clamped to the peer's smaller HandleMax

	select {
	case env := <-c.tx:
		reply, ok := env.fr.(*frames.PerformBegin)
		require.True(t, ok)
		require.Equal(t, remoteChannel, *reply.RemoteChannel)
	default:
		t.Fatal("expected an answering Begin to be queued")
	}
}

func TestConnNegotiateSASLResolvesMechanism(t *testing.T) {
	c := newTestConn(t)
	c.saslType = SASLTypeAnonymous()

	require.NoError(t, c.negotiateSASL(context.Background()))
	require.Equal(t, "ANONYMOUS", c.saslMechanism)
}

func TestConnNegotiateSASLRejected(t *testing.T) {
	c := newTestConn(t)
	boom := errors.New("identity rejected")
	c.saslType = func() (string, func([]byte) ([]byte, error), error) {
		return "PLAIN", func([]byte) ([]byte, error) { return nil, boom }, nil
	}

	err := c.negotiateSASL(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestConnMuxUnwindClosesSessionsAndSetsDefaultError(t *testing.T) {
	c := newTestConn(t)
	s := &Session{done: make(chan struct{})}
	c.sessionsByChannel[1] = s

	c.muxUnwind()

	require.ErrorIs(t, c.err, ErrConnClosed)
	require.ErrorIs(t, s.err, ErrConnClosed)
	select {
	case <-s.done:
	default:
		t.Fatal("expected the session's done channel to be closed")
	}
	select {
	case <-c.done:
	default:
		t.Fatal("expected the connection's done channel to be closed")
	}
}
