package amqp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/amqpcore/amqp10/internal/buffer"
	"github.com/amqpcore/amqp10/internal/debug"
	"github.com/amqpcore/amqp10/internal/encoding"
	"github.com/amqpcore/amqp10/internal/frames"
	"github.com/amqpcore/amqp10/internal/shared"
)

const defaultLinkCredit = 1

// Receiver receives messages on a single AMQP link.
type Receiver struct {
	link

	autoSendFlow bool // issue a Flow refilling credit after every delivered message, unless ManualCredits was set

	// inProgress reassembles a multi-frame Transfer (More == true) until the
	// final fragment arrives.
	inProgress struct {
		tag []byte
		buf buffer.Buffer
	}

	// creditRequest wakes the mux to consult receiver's manualCreditor and
	// send a Flow; IssueCredit/DrainCredit only ever touch the creditor's own
	// mutex and never change r.linkCredit/r.deliveryCount, since those belong
	// to the mux goroutine (manualCreditor.IssueCredit only reads linkCredit
	// for its buffer-limit check).
	creditRequest chan struct{}
}

// newReceiver creates a new receiving link, not yet attached to the session.
func newReceiver(source string, sess *Session, opts *ReceiverOptions) (*Receiver, error) {
	r := &Receiver{
		link: link{
			key:      linkKey{shared.RandString(40), encoding.RoleReceiver},
			session:  sess,
			close:    make(chan struct{}),
			detached: make(chan struct{}),
			source:   &frames.Source{Address: source},
			target:   new(frames.Target),
		},
		autoSendFlow:  true,
		creditRequest: make(chan struct{}, 1),
	}

	credit := uint32(defaultLinkCredit)
	if opts == nil {
		r.messages = make(chan *Message, credit)
		return r, nil
	}

	if opts.Credit != 0 {
		credit = opts.Credit
	}
	r.autoSendFlow = !opts.ManualCredits
	if opts.ManualCredits {
		r.receiver = &manualCreditor{}
	}
	r.messages = make(chan *Message, credit)

	for _, v := range opts.Capabilities {
		r.target.Capabilities = append(r.target.Capabilities, encoding.Symbol(v))
	}
	if opts.Durability > DurabilityUnsettledState {
		return nil, fmt.Errorf("invalid Durability %d", opts.Durability)
	}
	r.target.Durable = opts.Durability
	if opts.DynamicAddress {
		r.source.Address = ""
		r.dynamicAddr = opts.DynamicAddress
	}
	if opts.ExpiryPolicy != "" {
		if err := opts.ExpiryPolicy.Validate(); err != nil {
			return nil, err
		}
		r.source.ExpiryPolicy = opts.ExpiryPolicy
	}
	r.source.Timeout = opts.ExpiryTimeout
	if opts.Name != "" {
		r.key.name = opts.Name
	}
	if opts.Properties != nil {
		r.properties = make(map[encoding.Symbol]interface{})
		for k, v := range opts.Properties {
			if k == "" {
				return nil, fmt.Errorf("link property key must not be empty")
			}
			r.properties[encoding.Symbol(k)] = v
		}
	}
	if opts.RequestedSenderSettleMode != nil {
		if ssm := *opts.RequestedSenderSettleMode; ssm > ModeMixed {
			return nil, fmt.Errorf("invalid RequestedSenderSettleMode %d", ssm)
		}
		r.senderSettleMode = opts.RequestedSenderSettleMode
	}
	if opts.SettlementMode != nil {
		if rsm := *opts.SettlementMode; rsm > ModeSecond {
			return nil, fmt.Errorf("invalid SettlementMode %d", rsm)
		}
		r.receiverSettleMode = opts.SettlementMode
	}
	if len(opts.Filters) > 0 {
		r.source.Filter = make(map[encoding.Symbol]interface{}, len(opts.Filters))
		for k, v := range opts.Filters {
			r.source.Filter[encoding.Symbol(k)] = v
		}
	}
	r.target.Address = opts.TargetAddress
	return r, nil
}

// LinkName is the name of the link used for this Receiver.
func (r *Receiver) LinkName() string {
	return r.key.name
}

func (r *Receiver) attach(ctx context.Context, session *Session) error {
	r.rx = make(chan frames.FrameBody, 1)

	initialCredit := uint32(cap(r.messages))

	if err := r.attachLink(ctx, session, func(pa *frames.PerformAttach) {
		pa.Role = encoding.RoleReceiver
		if pa.Source == nil {
			pa.Source = new(frames.Source)
		}
		pa.Source.Dynamic = r.dynamicAddr
	}, func(pa *frames.PerformAttach) {
		if r.dynamicAddr && pa.Source != nil {
			r.source.Address = pa.Source.Address
		}
	}); err != nil {
		return err
	}

	r.linkCredit = initialCredit

	go r.mux()

	flow := &frames.PerformFlow{
		NextIncomingID: &r.session.nextOutgoingID,
		IncomingWindow: r.session.incomingWindow,
		NextOutgoingID: r.session.nextOutgoingID,
		OutgoingWindow: r.session.outgoingWindow,
		Handle:         &r.handle,
		DeliveryCount:  &r.deliveryCount,
		LinkCredit:     &initialCredit,
	}
	return r.session.txFrame(flow, nil)
}

// Receive blocks until a Message arrives, ctx is done, or the link is closed.
// Messages already buffered when the link detaches are still returned, in
// order, before the link's error.
func (r *Receiver) Receive(ctx context.Context) (*Message, error) {
	select {
	case msg := <-r.messages:
		return msg, nil
	case <-r.detached:
		select {
		case msg := <-r.messages:
			return msg, nil
		default:
		}
		return nil, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Prefetched returns a buffered Message without blocking, or nil if none are
// available yet.
func (r *Receiver) Prefetched() *Message {
	select {
	case msg := <-r.messages:
		return msg
	default:
		return nil
	}
}

// IssueCredit adds credits to be requested in the next flow frame. Only
// allowed on a Receiver opened with ManualCredits.
func (r *Receiver) IssueCredit(credits uint32) error {
	if r.receiver == nil {
		return fmt.Errorf("amqp: IssueCredit requires a Receiver opened with ManualCredits")
	}
	if err := r.receiver.IssueCredit(credits, &r.link); err != nil {
		return err
	}
	r.wakeMux()
	return nil
}

// DrainCredit sends a drain request for all outstanding credit and blocks
// until the peer answers. Only allowed on a Receiver opened with
// ManualCredits.
//
// The drain marker is armed here, before waking the mux, so there's no
// window where the mux could send the drain Flow and see the answering Flow
// back before DrainCredit itself is waiting on it.
func (r *Receiver) DrainCredit(ctx context.Context) error {
	mc := r.receiver
	if mc == nil {
		return fmt.Errorf("amqp: DrainCredit requires a Receiver opened with ManualCredits")
	}

	mc.mu.Lock()
	if mc.drained != nil {
		mc.mu.Unlock()
		return errAlreadyDraining
	}
	mc.drained = make(chan struct{})
	drained := mc.drained
	mc.mu.Unlock()

	r.wakeMux()

	select {
	case <-drained:
		return nil
	case <-r.detached:
		if r.detachError != nil {
			return r.detachError
		}
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// wakeMux nudges the mux to consult the manualCreditor and send a Flow; a
// pending wake already queued is enough, so the send is non-blocking.
func (r *Receiver) wakeMux() {
	select {
	case r.creditRequest <- struct{}{}:
	default:
	}
}

// AcceptMessage settles msg as accepted.
func (r *Receiver) AcceptMessage(ctx context.Context, msg *Message) error {
	return r.settle(ctx, msg, new(encoding.StateAccepted))
}

// RejectMessage settles msg as rejected, optionally carrying err as the
// rejection reason.
func (r *Receiver) RejectMessage(ctx context.Context, msg *Message, rejectErr *Error) error {
	return r.settle(ctx, msg, &encoding.StateRejected{Error: rejectErr})
}

// ReleaseMessage settles msg as released, making it eligible for redelivery.
func (r *Receiver) ReleaseMessage(ctx context.Context, msg *Message) error {
	return r.settle(ctx, msg, new(encoding.StateReleased))
}

// ModifyMessage settles msg as modified.
func (r *Receiver) ModifyMessage(ctx context.Context, msg *Message, deliveryFailed, undeliverableHere bool, annotations map[string]interface{}) error {
	return r.settle(ctx, msg, &encoding.StateModified{
		DeliveryFailed:     deliveryFailed,
		UndeliverableHere:  undeliverableHere,
		MessageAnnotations: annotations,
	})
}

func (r *Receiver) settle(ctx context.Context, msg *Message, state encoding.DeliveryState) error {
	if msg.deliveryID == nil {
		// sender-settled: nothing for us to acknowledge.
		return nil
	}
	disp := &frames.PerformDisposition{
		Role:    encoding.RoleReceiver,
		First:   *msg.deliveryID,
		Settled: true,
		State:   state,
	}
	debug.Log(ctx, slog.LevelDebug, "TX (receiver)", "disposition", disp.String())
	return r.session.txFrame(disp, nil)
}

// Close closes the Receiver and its AMQP link.
func (r *Receiver) Close(ctx context.Context) error {
	return r.closeLink(ctx)
}

func (r *Receiver) mux() {
	defer r.muxDetach(nil, nil)

	for {
		select {
		case fr := <-r.rx:
			if err := r.muxHandleFrame(fr); err != nil {
				r.err = err
				return
			}
		case <-r.creditRequest:
			if err := r.muxConsultCreditor(); err != nil {
				r.err = err
				return
			}
		case <-r.close:
			r.err = ErrLinkClosed
			return
		case <-r.session.done:
			r.err = r.session.err
			return
		}
	}
}

func (r *Receiver) muxHandleFrame(fr frames.FrameBody) error {
	switch fr := fr.(type) {
	case *frames.PerformTransfer:
		return r.muxReceive(fr)
	case *frames.PerformFlow:
		debug.Log(context.Background(), slog.LevelDebug, "RX (receiver)", "flow", fr.String())
		if r.receiver != nil && fr.Drain {
			r.receiver.EndDrain()
		}
		return nil
	default:
		return r.link.muxHandleFrame(fr)
	}
}

func (r *Receiver) muxReceive(tr *frames.PerformTransfer) error {
	if r.linkCredit == 0 {
		return &DetachError{RemoteError: &Error{Condition: ErrCondTransferLimitExceeded}}
	}

	if r.inProgress.tag == nil {
		r.inProgress.tag = append([]byte(nil), tr.DeliveryTag...)
		r.inProgress.buf.Reset()
	}
	r.inProgress.buf.Write(tr.Payload)

	if tr.More {
		return nil
	}

	debug.Assert(context.Background(), r.linkCredit > 0, "receiver: credit underflow", "link", r.key.name)
	r.linkCredit--
	r.deliveryCount++

	msg := new(Message)
	if err := msg.Unmarshal(&r.inProgress.buf); err != nil {
		r.inProgress.tag = nil
		return fmt.Errorf("amqp: decoding message: %w", err)
	}
	msg.DeliveryTag = r.inProgress.tag
	if tr.DeliveryID != nil {
		id := *tr.DeliveryID
		msg.deliveryID = &id
	}
	r.inProgress.tag = nil

	select {
	case r.messages <- msg:
	default:
		// caller isn't keeping up with its own requested credit; drop rather
		// than block the mux and stall every other frame on this link.
		debug.Log(context.Background(), slog.LevelWarn, "receiver: dropping message, buffer full", "link", r.key.name)
	}

	if r.autoSendFlow && r.receiver == nil {
		return r.sendFlowLocked()
	}
	return r.muxConsultCreditor()
}

// muxConsultCreditor drains the manualCreditor's pending credits/drain
// request and sends a Flow if there's anything to say; safe to call only
// from the mux goroutine, since it touches r.linkCredit/r.deliveryCount.
func (r *Receiver) muxConsultCreditor() error {
	if r.receiver == nil {
		return nil
	}
	drain, credits := r.receiver.FlowBits()
	if !drain && credits == 0 {
		return nil
	}
	r.linkCredit += credits
	return r.sendFlowWith(drain, credits)
}

// sendFlowLocked refills credit back up to the channel's capacity after a
// delivery, so a Receiver without ManualCredits never needs Receive to issue
// Flow itself.
func (r *Receiver) sendFlowLocked() error {
	want := uint32(cap(r.messages)) - r.linkCredit
	if want == 0 {
		return nil
	}
	r.linkCredit += want
	return r.sendFlowWith(false, want)
}

// sendFlowWith sends a Flow reflecting the mux's current view of
// linkCredit/deliveryCount; credits has already been folded into r.linkCredit
// by the caller and is only here for the TX log line.
func (r *Receiver) sendFlowWith(drain bool, credits uint32) error {
	linkCredit := r.linkCredit
	deliveryCount := r.deliveryCount
	flow := &frames.PerformFlow{
		NextIncomingID: &r.session.nextOutgoingID,
		IncomingWindow: r.session.incomingWindow,
		NextOutgoingID: r.session.nextOutgoingID,
		OutgoingWindow: r.session.outgoingWindow,
		Handle:         &r.handle,
		DeliveryCount:  &deliveryCount,
		LinkCredit:     &linkCredit,
		Drain:          drain,
	}
	debug.Log(context.Background(), slog.LevelDebug, "TX (receiver)", "flow", flow.String(), "credits", credits)
	return r.session.txFrame(flow, nil)
}
