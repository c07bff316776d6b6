package amqp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/amqpcore/amqp10/internal/buffer"
	"github.com/amqpcore/amqp10/internal/debug"
	"github.com/amqpcore/amqp10/internal/encoding"
	"github.com/amqpcore/amqp10/internal/frames"
	"github.com/amqpcore/amqp10/internal/queue"
	"github.com/amqpcore/amqp10/internal/shared"
)

// Sender sends messages on a single AMQP link.
type Sender struct {
	link
	transfers chan frames.PerformTransfer // hands a ready-to-send Transfer from send() to the mux

	// pending holds Transfers the mux accepted but couldn't emit yet because
	// link_credit was exhausted; only the mux goroutine ever touches it (§4.4).
	pending *queue.Queue[frames.PerformTransfer]

	// Indicates whether we should allow detaches on disposition errors or not.
	// Some AMQP servers (like Event Hubs) benefit from keeping the link open on disposition errors
	// (for instance, if you're doing many parallel sends over the same link and you get back a
	// throttling error, which is not fatal)
	detachOnDispositionError bool

	mu              sync.Mutex // protects buf, nextDeliveryTag, and unsettled
	buf             buffer.Buffer
	nextDeliveryTag uint64

	// unsettled correlates a delivery-ID this sender is waiting on with the
	// channel Send is blocked reading from (§4.6).
	unsettled map[uint32]chan encoding.DeliveryState
}

// LinkName is the name of the link used for this Sender.
func (s *Sender) LinkName() string {
	return s.key.name
}

// MaxMessageSize is the maximum size of a single message.
func (s *Sender) MaxMessageSize() uint64 {
	return s.maxMessageSize
}

// Send sends a Message.
//
// Blocks until the message is sent, ctx completes, or an error occurs.
//
// Send is safe for concurrent use. Messages sent while the link has no
// credit wait in the link's pending queue and go out in call order as credit
// arrives, so additional messages can be sent while other goroutines are
// waiting for their confirmation.
func (s *Sender) Send(ctx context.Context, msg *Message) error {
	select {
	case <-s.detached:
		return s.err
	default:
	}
	done, err := s.send(ctx, msg)
	if err != nil {
		return err
	}
	if done == nil {
		// settled send: no disposition is coming back.
		return nil
	}

	select {
	case state := <-done:
		if state, ok := state.(*encoding.StateRejected); ok {
			if s.detachOnRejectDisp() {
				return &DetachError{RemoteError: state.Error}
			}
			return state.Error
		}
		return nil
	case <-s.detached:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// send is separated from Send so that the mutex unlock can be deferred without
// locking the transfer confirmation that happens in Send.
func (s *Sender) send(ctx context.Context, msg *Message) (chan encoding.DeliveryState, error) {
	const maxDeliveryTagLength = 32
	if len(msg.DeliveryTag) > maxDeliveryTagLength {
		return nil, fmt.Errorf("delivery tag is over the allowed %v bytes, len: %v", maxDeliveryTagLength, len(msg.DeliveryTag))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf.Reset()
	if err := msg.Marshal(&s.buf); err != nil {
		return nil, err
	}

	if s.maxMessageSize != 0 && uint64(s.buf.Len()) > s.maxMessageSize {
		return nil, fmt.Errorf("encoded message size exceeds max of %d", s.maxMessageSize)
	}

	const maxTransferFrameHeader = 66 // room for the Transfer performative's fixed fields
	var (
		maxPayloadSize = int64(s.session.conn.peerMaxFrameSize()) - maxTransferFrameHeader
		sndSettleMode  = s.senderSettleMode
		senderSettled  = sndSettleMode != nil && (*sndSettleMode == ModeSettled || (*sndSettleMode == ModeMixed && msg.SendSettled))
	)
	if maxPayloadSize <= 0 {
		maxPayloadSize = 4096
	}

	deliveryTag := msg.DeliveryTag
	if len(deliveryTag) == 0 {
		deliveryTag = make([]byte, 8)
		binary.BigEndian.PutUint64(deliveryTag, s.nextDeliveryTag)
		s.nextDeliveryTag++
	}

	fr := frames.PerformTransfer{
		Handle:          s.handle,
		NeedsDeliveryID: true,
		DeliveryTag:     deliveryTag,
		MessageFormat:   &msg.Format,
		More:            true,
	}

	for fr.More {
		buf, _ := s.buf.Next(maxPayloadSize)
		fr.Payload = append([]byte(nil), buf...)
		fr.More = s.buf.Len() > 0
		if !fr.More {
			fr.Settled = senderSettled
			if !senderSettled {
				done := make(chan encoding.DeliveryState, 1)
				fr.Done = done
				// the session assigns the real delivery-id from
				// next-outgoing-id when it actually dequeues this transfer
				// for the wire (§4.3); register under that value, not one
				// computed eagerly here.
				fr.OnDeliveryID = func(id uint32) {
					s.mu.Lock()
					if s.unsettled == nil {
						s.unsettled = make(map[uint32]chan encoding.DeliveryState)
					}
					s.unsettled[id] = done
					s.mu.Unlock()
				}
			}
		}

		select {
		case s.transfers <- fr:
		case <-s.detached:
			return nil, s.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		fr.NeedsDeliveryID = false
		fr.DeliveryTag = nil
		fr.MessageFormat = nil
	}

	return fr.Done, nil
}

// Address returns the link's target address.
func (s *Sender) Address() string {
	if s.target == nil {
		return ""
	}
	return s.target.Address
}

// Close closes the Sender and its AMQP link.
func (s *Sender) Close(ctx context.Context) error {
	return s.closeLink(ctx)
}

// newSender creates a new sending link, not yet attached to the session.
func newSender(target string, sess *Session, opts *SenderOptions) (*Sender, error) {
	s := &Sender{
		link: link{
			key:      linkKey{shared.RandString(40), encoding.RoleSender},
			session:  sess,
			close:    make(chan struct{}),
			detached: make(chan struct{}),
			target:   &frames.Target{Address: target},
			source:   new(frames.Source),
		},
		detachOnDispositionError: true,
	}

	if opts == nil {
		return s, nil
	}

	for _, v := range opts.Capabilities {
		s.source.Capabilities = append(s.source.Capabilities, encoding.Symbol(v))
	}
	if opts.Durability > DurabilityUnsettledState {
		return nil, fmt.Errorf("invalid Durability %d", opts.Durability)
	}
	s.source.Durable = opts.Durability
	if opts.DynamicAddress {
		s.target.Address = ""
		s.dynamicAddr = opts.DynamicAddress
	}
	if opts.ExpiryPolicy != "" {
		if err := opts.ExpiryPolicy.Validate(); err != nil {
			return nil, err
		}
		s.source.ExpiryPolicy = opts.ExpiryPolicy
	}
	s.source.Timeout = opts.ExpiryTimeout
	s.detachOnDispositionError = !opts.IgnoreDispositionErrors
	if opts.Name != "" {
		s.key.name = opts.Name
	}
	if opts.Properties != nil {
		s.properties = make(map[encoding.Symbol]interface{})
		for k, v := range opts.Properties {
			if k == "" {
				return nil, errors.New("link property key must not be empty")
			}
			s.properties[encoding.Symbol(k)] = v
		}
	}
	if opts.RequestedReceiverSettleMode != nil {
		if rsm := *opts.RequestedReceiverSettleMode; rsm > ModeSecond {
			return nil, fmt.Errorf("invalid RequestedReceiverSettleMode %d", rsm)
		}
		s.receiverSettleMode = opts.RequestedReceiverSettleMode
	}
	if opts.SettlementMode != nil {
		if ssm := *opts.SettlementMode; ssm > ModeMixed {
			return nil, fmt.Errorf("invalid SettlementMode %d", ssm)
		}
		s.senderSettleMode = opts.SettlementMode
	}
	s.source.Address = opts.SourceAddress
	return s, nil
}

func (s *Sender) attach(ctx context.Context, session *Session) error {
	// sending unsettled messages when the receiver is in mode-second is currently
	// broken and causes a hang after sending, so just disallow it for now.
	if senderSettleModeValue(s.senderSettleMode) != ModeSettled && receiverSettleModeValue(s.receiverSettleMode) == ModeSecond {
		return errors.New("sender does not support exactly-once guarantee")
	}

	s.rx = make(chan frames.FrameBody, 1)

	if err := s.attachLink(ctx, session, func(pa *frames.PerformAttach) {
		pa.Role = encoding.RoleSender
		if pa.Target == nil {
			pa.Target = new(frames.Target)
		}
		pa.Target.Dynamic = s.dynamicAddr
	}, func(pa *frames.PerformAttach) {
		if s.target == nil {
			s.target = new(frames.Target)
		}
		if s.dynamicAddr && pa.Target != nil {
			s.target.Address = pa.Target.Address
		}
	}); err != nil {
		return err
	}

	s.transfers = make(chan frames.PerformTransfer)
	s.pending = queue.New[frames.PerformTransfer](16)

	go s.mux()

	return nil
}

// mux owns s.linkCredit/s.deliveryCount/s.pending; send() only ever hands a
// built Transfer to s.transfers and never touches credit itself (§4.4,§5).
func (s *Sender) mux() {
	defer s.muxDetach(nil, nil)
	defer s.muxFailPending()

	for {
		if err := s.muxDrainPending(); err != nil {
			s.err = err
			return
		}

		select {
		case fr := <-s.rx:
			if s.err = s.muxHandleFrame(fr); s.err != nil {
				return
			}

		case tr := <-s.transfers:
			s.pending.Enqueue(tr)

		case <-s.close:
			s.err = ErrLinkClosed
			return
		case <-s.session.done:
			s.err = s.session.err
			return
		}
	}
}

// muxDrainPending emits queued Transfers front-to-back while link_credit
// remains, stopping as soon as either runs out (§4.4 apply_flow).
func (s *Sender) muxDrainPending() error {
	for s.linkCredit > 0 {
		tr := s.pending.Dequeue()
		if tr == nil {
			return nil
		}
		debug.Log(context.Background(), slog.LevelDebug, "TX (sender)", "transfer", tr.String())
		if err := s.muxSendTransfer(*tr); err != nil {
			return err
		}
	}
	return nil
}

// muxSendTransfer hands a single Transfer frame to the session for writing,
// still reacting to inbound frames/close/session-done while it does.
func (s *Sender) muxSendTransfer(tr frames.PerformTransfer) error {
	for {
		select {
		case s.session.txTransfer <- &tr:
			if !tr.More {
				debug.Assert(context.Background(), s.linkCredit > 0, "sender: credit underflow", "link", s.key.name)
				s.deliveryCount++
				s.linkCredit--
			}
			return nil
		case fr := <-s.rx:
			if err := s.muxHandleFrame(fr); err != nil {
				return err
			}
		case <-s.close:
			return ErrLinkClosed
		case <-s.session.done:
			return s.session.err
		}
	}
}

// muxHandleFrame processes fr based on type.
func (s *Sender) muxHandleFrame(fr frames.FrameBody) error {
	switch fr := fr.(type) {
	case *frames.PerformFlow:
		debug.Log(context.Background(), slog.LevelDebug, "RX (sender)", "flow", fr.String())
		if fr.LinkCredit != nil {
			// delta is the peer's view of (delivery_count + link_credit) minus
			// ours; a floor-clamped accumulation rather than the direct
			// assignment a naive reading of the wire fields suggests, so a
			// stale/relayed Flow can never drive credit negative (§4.4).
			remoteView := int64(*fr.LinkCredit)
			if fr.DeliveryCount != nil {
				remoteView += int64(*fr.DeliveryCount)
			}
			ourView := int64(s.deliveryCount) + int64(s.linkCredit)
			newCredit := int64(s.linkCredit) + (remoteView - ourView)
			if newCredit < 0 {
				newCredit = 0
			}
			s.linkCredit = uint32(newCredit)
		}

		if !fr.Echo {
			return nil
		}

		deliveryCount := s.deliveryCount
		linkCredit := s.linkCredit
		resp := &frames.PerformFlow{
			Handle:        &s.handle,
			DeliveryCount: &deliveryCount,
			LinkCredit:    &linkCredit,
		}
		debug.Log(context.Background(), slog.LevelDebug, "TX (sender)", "flow", resp.String())
		_ = s.session.txFrame(resp, nil)
		return nil

	case *frames.PerformDisposition:
		debug.Log(context.Background(), slog.LevelDebug, "RX (sender)", "disposition", fr.String())
		if dr, ok := fr.State.(*encoding.StateRejected); ok && s.detachOnRejectDisp() {
			s.notifyUnsettled(fr)
			return &DetachError{RemoteError: dr.Error}
		}
		s.notifyUnsettled(fr)

		if fr.Settled {
			return nil
		}

		resp := &frames.PerformDisposition{
			Role:    encoding.RoleSender,
			First:   fr.First,
			Last:    fr.Last,
			Settled: true,
		}
		debug.Log(context.Background(), slog.LevelDebug, "TX (sender)", "disposition", resp.String())
		_ = s.session.txFrame(resp, nil)
		return nil

	default:
		return s.link.muxHandleFrame(fr)
	}
}

// notifyUnsettled resolves every delivery in [fr.First, fr.Last] that this
// sender is still waiting on, handing each its final state (§4.6).
func (s *Sender) notifyUnsettled(fr *frames.PerformDisposition) {
	last := fr.First
	if fr.Last != nil {
		last = *fr.Last
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id := fr.First; id <= last; id++ {
		done, ok := s.unsettled[id]
		if !ok {
			continue
		}
		delete(s.unsettled, id)
		if fr.State != nil {
			done <- fr.State
		}
		close(done)
	}
}

// muxFailPending drops every promise still outstanding when the mux exits:
// Transfers queued but never put on the wire, and wire-sent ones still
// awaiting a Disposition. Their Done channels are deliberately left open
// rather than closed with a zero value - Send is also racing s.detached,
// which muxDetach closes right after this runs, and that's what carries the
// real detach/close error back to the caller (§4.4 Detach, §4.6).
func (s *Sender) muxFailPending() {
	for s.pending.Dequeue() != nil {
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.unsettled {
		delete(s.unsettled, id)
	}
}

func (s *Sender) detachOnRejectDisp() bool {
	// only detach on rejection when no RSM was requested or in ModeFirst.
	// if the receiver is in ModeSecond, it will send an explicit rejection disposition
	// that we'll have to ack. so in that case, we don't treat it as a link error.
	return s.detachOnDispositionError && (s.receiverSettleMode == nil || *s.receiverSettleMode == ModeFirst)
}
