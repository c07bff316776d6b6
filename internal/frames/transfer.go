package frames

import (
	"fmt"

	"github.com/amqpcore/amqp10/internal/buffer"
	"github.com/amqpcore/amqp10/internal/encoding"
)

// PerformTransfer carries a message (or a fragment of one) from sender to
// receiver on a link (§4.4, §4.5, §4.6).
type PerformTransfer struct {
	Handle             uint32 // required
	DeliveryID         *uint32
	DeliveryTag        []byte
	MessageFormat      *uint32
	Settled            bool
	More               bool
	ReceiverSettleMode *encoding.ReceiverSettleMode
	State              encoding.DeliveryState
	Resume             bool
	Aborted            bool
	Batchable          bool
	Payload            []byte

	// Done is closed (after being sent the disposition's state, if it carries
	// one) when the disposition for this transfer arrives; it is never put on
	// the wire. The sender's mux uses it
	// to correlate an outgoing unsettled Transfer with its eventual
	// Disposition (§4.6).
	Done chan encoding.DeliveryState

	// NeedsDeliveryID marks the first frame of a (possibly multi-frame)
	// transfer as still awaiting its delivery-id; never put on the wire.
	// The session stamps the real value from next-outgoing-id at the point
	// the transfer is actually dequeued for the wire, not when it's built.
	NeedsDeliveryID bool

	// OnDeliveryID, if set, is invoked with the delivery-id once the session
	// stamps it, so the sender can register its Done channel under the
	// wire-assigned id. Never put on the wire.
	OnDeliveryID func(uint32)
}

func (*PerformTransfer) isFrameBody() {}

func (t *PerformTransfer) String() string {
	return fmt.Sprintf("Transfer{Handle: %d, DeliveryID: %v, Settled: %v, More: %v}",
		t.Handle, t.DeliveryID, t.Settled, t.More)
}

func (t *PerformTransfer) Marshal(wr *buffer.Buffer) error {
	var rsm *uint8
	if t.ReceiverSettleMode != nil {
		v := uint8(*t.ReceiverSettleMode)
		rsm = &v
	}

	err := encoding.MarshalComposite(wr, encoding.TypeCodeTransfer, []encoding.Field{
		{Value: t.Handle, Omit: false},
		{Value: t.DeliveryID, Omit: t.DeliveryID == nil},
		{Value: t.DeliveryTag, Omit: len(t.DeliveryTag) == 0},
		{Value: t.MessageFormat, Omit: t.MessageFormat == nil},
		{Value: t.Settled, Omit: !t.Settled},
		{Value: t.More, Omit: !t.More},
		{Value: rsm, Omit: rsm == nil},
		{Value: t.State, Omit: t.State == nil},
		{Value: t.Resume, Omit: !t.Resume},
		{Value: t.Aborted, Omit: !t.Aborted},
		{Value: t.Batchable, Omit: !t.Batchable},
	})
	if err != nil {
		return err
	}
	_, err = wr.Write(t.Payload)
	return err
}

func (t *PerformTransfer) Unmarshal(rd *buffer.Buffer) error {
	var rsm *uint8
	err := encoding.UnmarshalComposite(rd, encoding.TypeCodeTransfer,
		encoding.UField{Field: &t.Handle, HandleNull: func() error { return fmt.Errorf("Transfer.Handle is required") }},
		encoding.UField{Field: &t.DeliveryID},
		encoding.UField{Field: &t.DeliveryTag},
		encoding.UField{Field: &t.MessageFormat},
		encoding.UField{Field: &t.Settled},
		encoding.UField{Field: &t.More},
		encoding.UField{Field: &rsm},
		encoding.UField{Decode: func(rd *buffer.Buffer) error {
			s, err := encoding.UnmarshalDeliveryState(rd)
			if err != nil {
				return err
			}
			t.State = s
			return nil
		}},
		encoding.UField{Field: &t.Resume},
		encoding.UField{Field: &t.Aborted},
		encoding.UField{Field: &t.Batchable},
	)
	if err != nil {
		return err
	}
	if rsm != nil {
		v := encoding.ReceiverSettleMode(*rsm)
		t.ReceiverSettleMode = &v
	}
	// Whatever bytes remain in rd after the fields is the message payload
	// (one or more bare AMQP sections); the engine treats it opaquely except
	// where message.go parses it.
	if rest, ok := rd.Next(int64(rd.Unread())); ok {
		t.Payload = append([]byte(nil), rest...)
	}
	return nil
}
