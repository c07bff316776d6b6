package amqp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/amqpcore/amqp10/internal/buffer"
	"github.com/amqpcore/amqp10/internal/debug"
	"github.com/amqpcore/amqp10/internal/encoding"
	"github.com/amqpcore/amqp10/internal/frames"
	"github.com/amqpcore/amqp10/internal/shared"
)

// protoHeader is the 8-byte handshake both peers exchange before any
// performative: "AMQP" <protocol-id> <major> <minor> <revision> (§4.1).
var protoHeader = []byte{'A', 'M', 'Q', 'P', 0, 1, 0, 0}

const defaultMaxFrameSize = 65536

// Conn is an AMQP 1.0 connection: it owns the byte stream, performs the
// protocol-header/Open handshake, demultiplexes inbound frames to sessions by
// channel, drains the outbound queue in FIFO order, and polices the idle
// timeout (§3 of the core spec).
type Conn struct {
	net net.Conn

	containerID  string
	hostName     string
	maxFrameSize uint32
	idleTimeout  time.Duration
	properties   map[string]interface{}

	// saslType is the opaque identity seam consulted before the AMQP header
	// exchange; the SASL mechanism's own wire framing is out of scope (§1),
	// so only the resolved mechanism name is recorded, for diagnostics.
	saslType      SASLType
	saslMechanism string

	peerMaxFrameSize_ uint32
	peerIdleTimeout   time.Duration
	PeerContainerID   string
	PeerHostname      string
	PeerProperties    map[string]interface{}

	channelMu         sync.Mutex
	sessionsByChannel map[uint16]*Session
	nextChannel       uint16

	tx chan txEnvelope

	close     chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	err       error
}

type txEnvelope struct {
	channel uint16
	fr      frames.FrameBody
	done    chan struct{}
}

// rxResult is what the reader goroutine hands the mux: either a decoded
// frame or a fatal read error (io errors, malformed frames).
type rxResult struct {
	fr  frames.Frame
	err error
}

// NewConn performs the protocol-header and Open handshake over netConn and,
// on success, starts the connection's reader and mux goroutines.
func NewConn(ctx context.Context, netConn net.Conn, opts *ConnOptions) (*Conn, error) {
	c := &Conn{
		net:               netConn,
		containerID:       shared.RandString(40),
		maxFrameSize:      defaultMaxFrameSize,
		sessionsByChannel: make(map[uint16]*Session),
		tx:                make(chan txEnvelope, 1),
		close:             make(chan struct{}),
		done:              make(chan struct{}),
	}
	if opts != nil {
		if opts.ContainerID != "" {
			c.containerID = opts.ContainerID
		}
		if opts.MaxFrameSize != 0 {
			c.maxFrameSize = opts.MaxFrameSize
		}
		c.hostName = opts.HostName
		c.idleTimeout = opts.IdleTimeout
		c.properties = opts.Properties
		c.saslType = opts.SASLType
	}

	if c.saslType != nil {
		if err := c.negotiateSASL(ctx); err != nil {
			netConn.Close()
			return nil, err
		}
	}

	if err := c.handshake(ctx); err != nil {
		netConn.Close()
		return nil, err
	}

	rx := make(chan rxResult, 1)
	go readFrames(c.net, rx)

	hb := newHeartbeat(c.peerIdleTimeout, c.idleTimeout)
	go c.mux(rx, hb)

	return c, nil
}

// negotiateSASL consults the opaque identity seam before the AMQP header
// exchange. It resolves the mechanism and, if the provider offers one, an
// initial response - but stops short of the SASL mechanism's own wire
// framing (sasl-init/sasl-challenge/sasl-outcome), which is out of scope
// (§1): brokers that require CBS-style bearer auth authenticate over the
// $cbs management link (cbs.go) once the AMQP connection is up, rather than
// through the SASL layer itself.
func (c *Conn) negotiateSASL(ctx context.Context) error {
	mechanism, respond, err := c.saslType()
	if err != nil {
		return fmt.Errorf("amqp: resolving SASL identity: %w", err)
	}
	if _, err := respond(nil); err != nil {
		return fmt.Errorf("amqp: SASL identity %q rejected: %w", mechanism, err)
	}
	c.saslMechanism = mechanism
	debug.Log(ctx, slog.LevelDebug, "SASL identity resolved", "mechanism", mechanism)
	return nil
}

func (c *Conn) handshake(ctx context.Context) error {
	if deadline, ok := ctx.Deadline(); ok {
		c.net.SetDeadline(deadline)
		defer c.net.SetDeadline(time.Time{})
	}

	if _, err := c.net.Write(protoHeader); err != nil {
		return pkgerrors.Wrap(err, "amqp: writing protocol header")
	}

	got := make([]byte, len(protoHeader))
	if _, err := io.ReadFull(c.net, got); err != nil {
		return pkgerrors.Wrap(err, "amqp: reading protocol header")
	}
	if string(got) != string(protoHeader) {
		return &HeaderMismatchError{Expected: protoHeader, Got: got}
	}

	open := &frames.PerformOpen{
		ContainerID:  c.containerID,
		Hostname:     c.hostName,
		MaxFrameSize: c.maxFrameSize,
		Properties:   c.properties,
	}
	if c.idleTimeout != 0 {
		open.IdleTimeout = c.idleTimeout
	}
	if err := c.writeFrame(0, open); err != nil {
		return err
	}

	hdr, body, err := readOneFrame(c.net)
	if err != nil {
		return pkgerrors.Wrap(err, "amqp: reading peer Open")
	}
	peerOpen, ok := body.(*frames.PerformOpen)
	if !ok {
		return &ProtocolError{Message: fmt.Sprintf("expected Open, got %T on channel %d", body, hdr.Channel)}
	}

	c.peerMaxFrameSize_ = peerOpen.MaxFrameSize
	c.peerIdleTimeout = peerOpen.IdleTimeout
	c.PeerContainerID = peerOpen.ContainerID
	c.PeerHostname = peerOpen.Hostname
	c.PeerProperties = peerOpen.Properties
	return nil
}

// peerMaxFrameSize is the largest frame the peer is willing to accept;
// consulted by Sender.send when fragmenting a Transfer.
func (c *Conn) peerMaxFrameSize() uint32 {
	if c.peerMaxFrameSize_ == 0 {
		return defaultMaxFrameSize
	}
	return c.peerMaxFrameSize_
}

// NewSession opens a new Session on the next free channel.
func (c *Conn) NewSession(ctx context.Context, opts *SessionOptions) (*Session, error) {
	c.channelMu.Lock()
	channel := c.nextChannel
	c.nextChannel++
	s := newSession(c, channel, opts)
	c.sessionsByChannel[channel] = s
	c.channelMu.Unlock()

	if err := s.begin(ctx); err != nil {
		c.channelMu.Lock()
		delete(c.sessionsByChannel, channel)
		c.channelMu.Unlock()
		return nil, err
	}
	return s, nil
}

// Close sends a Close performative and waits for the connection's mux to
// unwind. The mux unwinds as soon as that Close has been written; it does
// not wait for the peer's answering Close.
func (c *Conn) Close(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	default:
	}

	c.closeOnce.Do(func() { close(c.close) })

	select {
	case <-c.done:
		if c.err == ErrConnClosed {
			return nil
		}
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// txFrame hands fr to the outbound queue for channel; it returns once the
// mux has taken the frame, or with the connection's error once the mux has
// exited.
func (c *Conn) txFrame(channel uint16, fr frames.FrameBody) error {
	select {
	case c.tx <- txEnvelope{channel: channel, fr: fr, done: nil}:
		return nil
	case <-c.done:
		return c.err
	}
}

// writeFrame marshals and writes fr directly, bypassing the outbound queue:
// used by the handshake before the mux starts, and by the mux goroutine
// itself for the Close frames it sends.
func (c *Conn) writeFrame(channel uint16, fr frames.FrameBody) error {
	buf, err := encodeFrame(channel, fr)
	if err != nil {
		return err
	}
	_, err = c.net.Write(buf)
	return err
}

func encodeFrame(channel uint16, fr frames.FrameBody) ([]byte, error) {
	body := buffer.New(nil)
	if err := encoding.Marshal(body, fr); err != nil {
		return nil, err
	}
	header := frames.Header{
		Size:       uint32(body.Len()) + frames.HeaderSize,
		DataOffset: 2,
		FrameType:  frames.TypeAMQP,
		Channel:    channel,
	}
	out := buffer.New(nil)
	if err := header.Marshal(out); err != nil {
		return nil, err
	}
	out.Write(body.Bytes())
	return out.Bytes(), nil
}

// readOneFrame blocks for exactly one frame: the handshake uses it to read
// the peer's Open, and readFrames calls it in a loop afterwards.
func readOneFrame(r io.Reader) (frames.Header, frames.FrameBody, error) {
	hdrBuf := make([]byte, frames.HeaderSize)
	if _, err := io.ReadFull(r, hdrBuf); err != nil {
		return frames.Header{}, nil, err
	}
	hdr, err := frames.ParseHeader(buffer.New(hdrBuf))
	if err != nil {
		return frames.Header{}, nil, err
	}
	bodyBuf := make([]byte, hdr.Size-frames.HeaderSize)
	if len(bodyBuf) > 0 {
		if _, err := io.ReadFull(r, bodyBuf); err != nil {
			return frames.Header{}, nil, err
		}
	}
	body, err := frames.ParseBody(buffer.New(bodyBuf))
	return hdr, body, err
}

// readFrames is the connection's sole reader: it decodes frames off the wire
// and hands them to mux, one at a time, until the stream errors out.
func readFrames(r io.Reader, out chan<- rxResult) {
	for {
		hdr, body, err := readOneFrame(r)
		if err != nil {
			out <- rxResult{err: pkgerrors.Wrap(err, "amqp: reading frame")}
			return
		}
		out <- rxResult{fr: frames.Frame{Type: hdr.FrameType, Channel: hdr.Channel, Body: body}}
	}
}

// mux is the connection's own goroutine: it owns the outbound queue, the
// idle-timer, and the channel->Session routing table.
func (c *Conn) mux(rx <-chan rxResult, hb *heartbeat) {
	defer hb.stop()
	defer c.muxUnwind()

	for {
		select {
		case res := <-rx:
			if res.err != nil {
				if errors.Is(res.err, io.EOF) {
					c.err = ErrConnDisconnected
				} else {
					c.err = fmt.Errorf("%w: %v", ErrConnDisconnected, res.err)
				}
				return
			}
			hb.received()
			if res.fr.Body == nil {
				// empty frame: a heartbeat, nothing further to do.
				continue
			}
			if err := c.demux(res.fr); err != nil {
				c.err = err
				return
			}

		case env := <-c.tx:
			buf, err := encodeFrame(env.channel, env.fr)
			if err != nil {
				c.err = err
				return
			}
			if _, err := c.net.Write(buf); err != nil {
				c.err = pkgerrors.Wrap(err, "amqp: writing frame")
				return
			}
			hb.sent()
			if env.done != nil {
				close(env.done)
			}

		case <-hb.timer.C:
			switch hb.poll() {
			case heartbeatClose:
				c.err = &TimeoutError{inner: fmt.Errorf("amqp: peer idle timeout exceeded")}
				return
			case heartbeatSend:
				hdr := frames.Header{Size: frames.HeaderSize, DataOffset: 2, FrameType: frames.TypeAMQP}
				buf := buffer.New(nil)
				_ = hdr.Marshal(buf)
				if _, err := c.net.Write(buf.Bytes()); err != nil {
					c.err = pkgerrors.Wrap(err, "amqp: writing heartbeat")
					return
				}
			}

		case <-c.close:
			_ = c.writeFrame(0, &frames.PerformClose{})
			c.err = ErrConnClosed
			return
		}
	}
}

func (c *Conn) demux(fr frames.Frame) error {
	if fr.Type != frames.TypeAMQP {
		return &ProtocolError{Message: fmt.Sprintf("unexpected frame type %d on channel %d", fr.Type, fr.Channel)}
	}
	if body, ok := fr.Body.(*frames.PerformClose); ok && fr.Channel == 0 {
		if body.Error != nil {
			return &ConnectionError{inner: fmt.Errorf("amqp: closed by peer: %+v", body.Error)}
		}
		_ = c.writeFrame(0, &frames.PerformClose{})
		return ErrConnClosed
	}

	c.channelMu.Lock()
	s, ok := c.sessionsByChannel[fr.Channel]
	c.channelMu.Unlock()

	if !ok {
		begin, isBegin := fr.Body.(*frames.PerformBegin)
		if !isBegin {
			return &ProtocolError{Message: fmt.Sprintf("frame on unattached channel %d", fr.Channel)}
		}
		return c.acceptSession(fr.Channel, begin)
	}

	select {
	case s.rx <- fr.Body:
	case <-s.done:
	}
	return nil
}

// acceptSession handles a peer-initiated Begin: the engine answers on a
// fresh local channel of its own and starts that session's mux, rather than
// requiring every session to originate from NewSession.
func (c *Conn) acceptSession(peerChannel uint16, begin *frames.PerformBegin) error {
	c.channelMu.Lock()
	channel := c.nextChannel
	c.nextChannel++
	s := newSession(c, channel, nil)
	c.sessionsByChannel[channel] = s
	c.channelMu.Unlock()

	s.nextOutgoingID = 0
	reply := &frames.PerformBegin{
		RemoteChannel:  &peerChannel,
		NextOutgoingID: s.nextOutgoingID,
		IncomingWindow: s.incomingWindow,
		OutgoingWindow: s.outgoingWindow,
		HandleMax:      s.handleMax,
	}
	if err := c.txFrame(channel, reply); err != nil {
		return err
	}
	if begin.HandleMax < s.handleMax {
		s.handleMax = begin.HandleMax
	}
	s.nextIncomingID = begin.NextOutgoingID
	s.remoteIncomingWindow = begin.IncomingWindow
	s.remoteOutgoingWindow = begin.OutgoingWindow
	go s.mux()
	return nil
}

func (c *Conn) muxUnwind() {
	if c.err == nil {
		c.err = ErrConnClosed
	}
	c.channelMu.Lock()
	sessions := make([]*Session, 0, len(c.sessionsByChannel))
	for _, s := range c.sessionsByChannel {
		sessions = append(sessions, s)
	}
	c.channelMu.Unlock()
	for _, s := range sessions {
		s.err = c.err
		select {
		case <-s.done:
		default:
			close(s.done)
		}
	}
	c.net.Close()
	close(c.done)
}
