package frames

import (
	"fmt"

	"github.com/amqpcore/amqp10/internal/buffer"
	"github.com/amqpcore/amqp10/internal/encoding"
)

// PerformFlow updates the sender's and/or receiver's view of the session and
// link windows (§4.3, §4.5). Handle/DeliveryCount/LinkCredit/Available are
// link-scoped and nil on a session-only flow.
type PerformFlow struct {
	NextIncomingID *uint32
	IncomingWindow uint32 // required
	NextOutgoingID uint32 // required
	OutgoingWindow uint32 // required
	Handle         *uint32
	DeliveryCount  *uint32
	LinkCredit     *uint32
	Available      *uint32
	Drain          bool
	Echo           bool
	Properties     map[string]interface{}
}

func (*PerformFlow) isFrameBody() {}

func (f *PerformFlow) String() string {
	return fmt.Sprintf("Flow{Handle: %v, DeliveryCount: %v, LinkCredit: %v, Drain: %v, Echo: %v}",
		f.Handle, f.DeliveryCount, f.LinkCredit, f.Drain, f.Echo)
}

func (f *PerformFlow) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeFlow, []encoding.Field{
		{Value: f.NextIncomingID, Omit: f.NextIncomingID == nil},
		{Value: f.IncomingWindow, Omit: false},
		{Value: f.NextOutgoingID, Omit: false},
		{Value: f.OutgoingWindow, Omit: false},
		{Value: f.Handle, Omit: f.Handle == nil},
		{Value: f.DeliveryCount, Omit: f.DeliveryCount == nil},
		{Value: f.LinkCredit, Omit: f.LinkCredit == nil},
		{Value: f.Available, Omit: f.Available == nil},
		{Value: f.Drain, Omit: !f.Drain},
		{Value: f.Echo, Omit: !f.Echo},
		{Value: f.Properties, Omit: len(f.Properties) == 0},
	})
}

func (f *PerformFlow) Unmarshal(rd *buffer.Buffer) error {
	return encoding.UnmarshalComposite(rd, encoding.TypeCodeFlow,
		encoding.UField{Field: &f.NextIncomingID},
		encoding.UField{Field: &f.IncomingWindow, HandleNull: func() error { return fmt.Errorf("Flow.IncomingWindow is required") }},
		encoding.UField{Field: &f.NextOutgoingID, HandleNull: func() error { return fmt.Errorf("Flow.NextOutgoingID is required") }},
		encoding.UField{Field: &f.OutgoingWindow, HandleNull: func() error { return fmt.Errorf("Flow.OutgoingWindow is required") }},
		encoding.UField{Field: &f.Handle},
		encoding.UField{Field: &f.DeliveryCount},
		encoding.UField{Field: &f.LinkCredit},
		encoding.UField{Field: &f.Available},
		encoding.UField{Field: &f.Drain},
		encoding.UField{Field: &f.Echo},
		encoding.UField{Field: &f.Properties},
	)
}
