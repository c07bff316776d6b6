package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/amqpcore/amqp10/internal/debug"
	"github.com/amqpcore/amqp10/internal/encoding"
	"github.com/amqpcore/amqp10/internal/frames"
)

// linkKey uniquely identifies a link within a connection: a link name is
// only required to be unique per role, so a sender and a receiver may share
// a name (§4.4, §4.5).
type linkKey struct {
	name string
	role encoding.Role
}

// link holds the state shared by Sender and Receiver: everything about a
// link that isn't specific to which direction messages flow.
type link struct {
	key     linkKey
	handle  uint32 // our handle, chosen when attaching
	session *Session

	source *frames.Source
	target *frames.Target

	dynamicAddr bool

	properties         map[encoding.Symbol]interface{}
	senderSettleMode   *SenderSettleMode
	receiverSettleMode *ReceiverSettleMode
	maxMessageSize     uint64

	linkCredit    uint32 // wire units of credit the mux believes it holds
	deliveryCount uint32 // RFC-1982 serial number

	rx        chan frames.FrameBody // frames destined for this link, fed by session.mux
	close     chan struct{}        // closed by Close to unwind the link's mux
	closeOnce sync.Once

	detached    chan struct{} // closed once the mux has exited
	err         error         // valid once detached is closed
	detachError *Error        // set from a peer-initiated Detach's error section

	messages chan *Message   // only populated on a Receiver; sized by ReceiverOptions.Credit
	receiver *manualCreditor // only set on Receivers opened with ManualCredits
}

// attachLink sends an Attach, waits for the peer's answering Attach, and
// fills in the handle/source/target/settle-modes the two sides agreed on.
// beforeSend lets the caller (Sender/Receiver) fill in role-specific fields
// just before the frame is marshaled; afterRcv lets it react to what the
// peer actually attached with.
func (l *link) attachLink(ctx context.Context, s *Session, beforeSend, afterRcv func(*frames.PerformAttach)) error {
	l.session = s

	handle, err := s.allocateHandle(l)
	if err != nil {
		return err
	}
	l.handle = handle

	attach := &frames.PerformAttach{
		Name:                 l.key.name,
		Handle:               l.handle,
		Role:                 l.key.role,
		Source:               l.source,
		Target:               l.target,
		SenderSettleMode:     l.senderSettleMode,
		ReceiverSettleMode:   l.receiverSettleMode,
		MaxMessageSize:       l.maxMessageSize,
		InitialDeliveryCount: nil,
		Properties:           map[string]interface{}{},
	}
	for k, v := range l.properties {
		attach.Properties[string(k)] = v
	}
	if beforeSend != nil {
		beforeSend(attach)
	}

	debug.Log(ctx, slog.LevelDebug, "TX (attach)", "attach", attach)
	if err := s.txFrame(attach, nil); err != nil {
		return err
	}

	select {
	case fr := <-l.rx:
		resp, ok := fr.(*frames.PerformAttach)
		if !ok {
			return &ProtocolError{Message: fmt.Sprintf("expected Attach response, got %T", fr)}
		}
		if resp.Source != nil {
			l.source = resp.Source
		}
		if resp.Target != nil {
			l.target = resp.Target
		}
		if resp.SenderSettleMode != nil {
			l.senderSettleMode = resp.SenderSettleMode
		}
		if resp.ReceiverSettleMode != nil {
			l.receiverSettleMode = resp.ReceiverSettleMode
		}
		if resp.MaxMessageSize != 0 && (l.maxMessageSize == 0 || resp.MaxMessageSize < l.maxMessageSize) {
			l.maxMessageSize = resp.MaxMessageSize
		}
		if resp.InitialDeliveryCount != nil {
			l.deliveryCount = *resp.InitialDeliveryCount
		}
		if afterRcv != nil {
			afterRcv(resp)
		}
		return nil
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// muxHandleFrame processes frames common to both Sender and Receiver;
// role-specific frames (Flow semantics differ by direction, Transfer only
// makes sense on a Receiver) are handled by the embedder first and fall
// through to this for Detach.
func (l *link) muxHandleFrame(fr frames.FrameBody) error {
	switch fr := fr.(type) {
	case *frames.PerformDetach:
		debug.Log(context.Background(), slog.LevelDebug, "RX (detach)", "handle", l.handle)
		if fr.Error != nil {
			l.detachError = fr.Error
		}
		if !fr.Closed {
			// peer wants to keep the link but tear down our side; reply in
			// kind and let muxDetach finish the job.
			_ = l.session.txFrame(&frames.PerformDetach{Handle: l.handle, Closed: true}, nil)
		}
		return &DetachError{RemoteError: fr.Error}
	case *frames.PerformDisposition, *frames.PerformFlow:
		// the base link has no opinion on a Disposition/Flow it wasn't
		// attached to react to; the embedder's own muxHandleFrame
		// intercepts the ones it cares about before falling through here.
		return nil
	default:
		return &ProtocolError{Message: fmt.Sprintf("unexpected frame %T on link", fr)}
	}
}

// muxDetach is always run via defer from the embedder's mux: it records the
// mux's exit error/detach reason, best-efforts a Detach frame out if one
// hasn't already gone out, releases the link's handle, and unblocks anyone
// waiting on l.detached.
func (l *link) muxDetach(err error, received *frames.PerformDetach) {
	if err != nil {
		l.err = err
	}
	if received != nil && received.Error != nil {
		l.detachError = received.Error
	}

	if received == nil {
		_ = l.session.txFrame(&frames.PerformDetach{Handle: l.handle, Closed: true}, nil)
	}

	l.session.freeHandle(l.handle)
	close(l.detached)
}

// closeLink sends a closing Detach (if the mux is still running) and waits
// for the mux to unwind.
func (l *link) closeLink(ctx context.Context) error {
	select {
	case <-l.detached:
		return nil
	default:
	}

	l.closeOnce.Do(func() { close(l.close) })

	select {
	case <-l.detached:
		if l.err == ErrLinkClosed {
			return nil
		}
		return l.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func senderSettleModeValue(m *SenderSettleMode) SenderSettleMode {
	if m == nil {
		return ModeUnsettled
	}
	return *m
}

func receiverSettleModeValue(m *ReceiverSettleMode) ReceiverSettleMode {
	if m == nil {
		return ModeFirst
	}
	return *m
}
