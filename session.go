package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/amqpcore/amqp10/internal/debug"
	"github.com/amqpcore/amqp10/internal/frames"
	"github.com/amqpcore/amqp10/internal/queue"
)

const defaultWindow = 5000

// Session is a bidirectional, sequenced channel for links (§4.3). All of a
// session's links share its incoming/outgoing transfer windows and its
// handle space; exactly one mux goroutine owns the session's bookkeeping.
type Session struct {
	conn    *Conn
	channel uint16 // local channel number

	nextOutgoingID uint32
	nextIncomingID uint32

	incomingWindow uint32
	outgoingWindow uint32

	// remoteIncomingWindow/remoteOutgoingWindow are the peer's view of its own
	// windows, learned from Begin and kept current from session-level Flow
	// (§4.3 "Flow"). Transfer egress stalls while remoteIncomingWindow is zero.
	remoteIncomingWindow uint32
	remoteOutgoingWindow uint32

	// txPending holds Transfers a Sender handed off for the wire but which
	// can't go out yet because remote-incoming-window is exhausted (§4.3
	// "Transfer egress", step 1).
	txPending *queue.Queue[*frames.PerformTransfer]

	handleMax uint32
	links     map[uint32]*link
	handlesMu sync.Mutex

	rx         chan frames.FrameBody      // frames destined for this session, fed by conn.mux
	tx         chan frames.FrameBody      // frames this session wants sent, drained by conn.mux
	txTransfer chan *frames.PerformTransfer

	close chan struct{}
	done  chan struct{}
	err   error

	closeOnce sync.Once
}

func newSession(c *Conn, channel uint16, opts *SessionOptions) *Session {
	s := &Session{
		conn:           c,
		channel:        channel,
		incomingWindow: defaultWindow,
		outgoingWindow: defaultWindow,
		handleMax:      4294967295,
		links:          make(map[uint32]*link),
		txPending:      queue.New[*frames.PerformTransfer](16),
		rx:             make(chan frames.FrameBody, 1),
		tx:             make(chan frames.FrameBody, 1),
		txTransfer:     make(chan *frames.PerformTransfer, 1),
		close:          make(chan struct{}),
		done:           make(chan struct{}),
	}
	if opts != nil {
		if opts.IncomingWindow != 0 {
			s.incomingWindow = opts.IncomingWindow
		}
		if opts.OutgoingWindow != 0 {
			s.outgoingWindow = opts.OutgoingWindow
		}
		if opts.MaxLinks != 0 {
			s.handleMax = opts.MaxLinks
		}
	}
	return s
}

// begin sends a Begin and waits for the peer's answering Begin.
func (s *Session) begin(ctx context.Context) error {
	begin := &frames.PerformBegin{
		NextOutgoingID: s.nextOutgoingID,
		IncomingWindow: s.incomingWindow,
		OutgoingWindow: s.outgoingWindow,
		HandleMax:      s.handleMax,
	}
	debug.Log(ctx, slog.LevelDebug, "TX (begin)", "channel", s.channel)
	if err := s.conn.txFrame(s.channel, begin); err != nil {
		return err
	}

	select {
	case fr := <-s.rx:
		resp, ok := fr.(*frames.PerformBegin)
		if !ok {
			return &ProtocolError{Message: fmt.Sprintf("expected Begin response, got %T", fr)}
		}
		if resp.HandleMax < s.handleMax {
			s.handleMax = resp.HandleMax
		}
		s.nextIncomingID = resp.NextOutgoingID
		s.remoteIncomingWindow = resp.IncomingWindow
		s.remoteOutgoingWindow = resp.OutgoingWindow
	case <-ctx.Done():
		return ctx.Err()
	}

	go s.mux()
	return nil
}

// NewSender opens a new Sender link with the given target address.
func (s *Session) NewSender(ctx context.Context, target string, opts *SenderOptions) (*Sender, error) {
	snd, err := newSender(target, s, opts)
	if err != nil {
		return nil, err
	}
	if err := snd.attach(ctx, s); err != nil {
		return nil, err
	}
	return snd, nil
}

// NewReceiver opens a new Receiver link with the given source address.
func (s *Session) NewReceiver(ctx context.Context, source string, opts *ReceiverOptions) (*Receiver, error) {
	rcv, err := newReceiver(source, s, opts)
	if err != nil {
		return nil, err
	}
	if err := rcv.attach(ctx, s); err != nil {
		return nil, err
	}
	return rcv, nil
}

// Close sends an End and waits for the session's mux to unwind.
func (s *Session) Close(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	default:
	}

	s.closeOnce.Do(func() { close(s.close) })

	select {
	case <-s.done:
		if s.err == ErrSessionClosed {
			return nil
		}
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// allocateHandle picks the lowest free link-handle for l and registers it.
func (s *Session) allocateHandle(l *link) (uint32, error) {
	s.handlesMu.Lock()
	defer s.handlesMu.Unlock()

	var h uint32
	for ; h <= s.handleMax; h++ {
		if _, ok := s.links[h]; !ok {
			break
		}
	}
	if h > s.handleMax {
		return 0, fmt.Errorf("amqp: no free link handles (max %d)", s.handleMax)
	}
	s.links[h] = l
	return h, nil
}

func (s *Session) freeHandle(h uint32) {
	s.handlesMu.Lock()
	_, ok := s.links[h]
	delete(s.links, h)
	s.handlesMu.Unlock()
	debug.Assert(context.Background(), ok, "freeHandle on unregistered handle", "handle", h)
}

// txFrame hands fr to the session's mux, which forwards it to the
// connection's mux for writing; done, if non-nil, is closed once the
// session's mux has taken fr, not once it is on the wire.
func (s *Session) txFrame(fr frames.FrameBody, done chan struct{}) error {
	select {
	case s.tx <- fr:
		if done != nil {
			close(done)
		}
		return nil
	case <-s.done:
		return s.err
	}
}

// mux is the session's own goroutine: it demultiplexes frames.FrameBody
// arriving on s.rx to the link whose handle they reference, and forwards
// Transfer frames queued by any attached Sender to conn.mux for writing
// (§5).
func (s *Session) mux() {
	defer s.muxUnwind()

	for {
		if err := s.muxDrainPending(); err != nil {
			s.err = err
			return
		}

		select {
		case fr := <-s.rx:
			if err := s.muxHandleFrame(fr); err != nil {
				s.err = err
				return
			}
		case tr := <-s.txTransfer:
			s.txPending.Enqueue(tr)
		case fr := <-s.tx:
			if err := s.conn.txFrame(s.channel, fr); err != nil {
				s.err = err
				return
			}
		case <-s.close:
			_ = s.conn.txFrame(s.channel, &frames.PerformEnd{})
			s.err = ErrSessionClosed
			return
		case <-s.conn.done:
			s.err = s.conn.err
			return
		}
	}
}

// muxDrainPending emits queued Transfers while remote-incoming-window allows
// (§4.3 "Transfer egress" step 1); a window of zero leaves them queued. Each
// dequeued Transfer's delivery-id (if it needs one) is stamped from
// next-outgoing-id right here, at the point it actually reaches the wire,
// so delivery-id assignment and next-outgoing-id's increment happen
// together and in the same order Transfers are placed on the wire - even
// with several Senders sharing this session's txPending queue.
func (s *Session) muxDrainPending() error {
	for s.remoteIncomingWindow > 0 {
		tr := s.txPending.Dequeue()
		if tr == nil {
			return nil
		}
		if (*tr).NeedsDeliveryID {
			id := s.nextOutgoingID
			(*tr).DeliveryID = &id
			if onID := (*tr).OnDeliveryID; onID != nil {
				onID(id)
			}
		}
		s.remoteIncomingWindow--
		s.nextOutgoingID++
		if err := s.conn.txFrame(s.channel, *tr); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) muxHandleFrame(fr frames.FrameBody) error {
	switch fr := fr.(type) {
	case *frames.PerformAttach:
		return s.muxRouteByHandle(fr.Handle, fr)
	case *frames.PerformFlow:
		// fr's window fields describe the peer's own incoming/outgoing
		// windows, so they become our remote-* view directly, and the peer's
		// next-outgoing-id is our next-incoming-id (§4.3 "Flow").
		s.remoteIncomingWindow = fr.IncomingWindow
		s.remoteOutgoingWindow = fr.OutgoingWindow
		s.nextIncomingID = fr.NextOutgoingID
		if fr.Handle == nil {
			return nil
		}
		return s.muxRouteByHandle(*fr.Handle, fr)
	case *frames.PerformTransfer:
		if s.incomingWindow == 0 {
			return &ProtocolError{Message: "window-violation: incoming-window exceeded"}
		}
		s.incomingWindow--
		s.nextIncomingID++
		if err := s.muxRouteByHandle(fr.Handle, fr); err != nil {
			return err
		}
		if s.incomingWindow < defaultWindow/2 {
			s.incomingWindow = defaultWindow
			flow := &frames.PerformFlow{
				NextIncomingID: &s.nextIncomingID,
				IncomingWindow: s.incomingWindow,
				NextOutgoingID: s.nextOutgoingID,
				OutgoingWindow: s.outgoingWindow,
			}
			return s.conn.txFrame(s.channel, flow)
		}
		return nil
	case *frames.PerformDisposition:
		return s.muxBroadcastDisposition(fr)
	case *frames.PerformDetach:
		return s.muxRouteByHandle(fr.Handle, fr)
	case *frames.PerformEnd:
		if fr.Error != nil {
			return &SessionError{RemoteError: fr.Error}
		}
		return ErrSessionClosed
	default:
		return &ProtocolError{Message: fmt.Sprintf("unexpected frame %T on session", fr)}
	}
}

func (s *Session) muxRouteByHandle(handle uint32, fr frames.FrameBody) error {
	s.handlesMu.Lock()
	l, ok := s.links[handle]
	s.handlesMu.Unlock()
	if !ok {
		return &ProtocolError{Message: fmt.Sprintf("unattached handle %d", handle)}
	}
	select {
	case l.rx <- fr:
	case <-l.detached:
	}
	return nil
}

// muxBroadcastDisposition forwards a Disposition to every link, since the
// first/last delivery-ID range it carries isn't scoped to a single handle on
// the wire; each Sender decides for itself whether a given range includes
// deliveries it's waiting on (§4.6).
func (s *Session) muxBroadcastDisposition(fr *frames.PerformDisposition) error {
	s.handlesMu.Lock()
	targets := make([]*link, 0, len(s.links))
	for _, l := range s.links {
		targets = append(targets, l)
	}
	s.handlesMu.Unlock()

	for _, l := range targets {
		select {
		case l.rx <- fr:
		case <-l.detached:
		}
	}
	return nil
}

func (s *Session) muxUnwind() {
	if s.err == nil {
		s.err = ErrSessionClosed
	}
	s.handlesMu.Lock()
	links := make([]*link, 0, len(s.links))
	for _, l := range s.links {
		links = append(links, l)
	}
	s.handlesMu.Unlock()
	for _, l := range links {
		l.err = s.err
		select {
		case <-l.detached:
		default:
			close(l.detached)
		}
	}
	// Conn.muxUnwind may already have closed s.done on the connection's way
	// down.
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}
