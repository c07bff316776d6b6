package frames

import (
	"fmt"

	"github.com/amqpcore/amqp10/internal/buffer"
	"github.com/amqpcore/amqp10/internal/encoding"
)

// PerformDisposition communicates the sender's or receiver's state for one or
// more (previously sent) deliveries, identified by the inclusive [First, Last]
// delivery-ID range (§4.6).
type PerformDisposition struct {
	Role      encoding.Role // required
	First     uint32        // required
	Last      *uint32
	Settled   bool
	State     encoding.DeliveryState
	Batchable bool
}

func (*PerformDisposition) isFrameBody() {}

func (d *PerformDisposition) String() string {
	return fmt.Sprintf("Disposition{Role: %v, First: %d, Last: %v, Settled: %v, State: %T}",
		d.Role, d.First, d.Last, d.Settled, d.State)
}

func (d *PerformDisposition) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeDisposition, []encoding.Field{
		{Value: d.Role, Omit: false},
		{Value: d.First, Omit: false},
		{Value: d.Last, Omit: d.Last == nil},
		{Value: d.Settled, Omit: !d.Settled},
		{Value: d.State, Omit: d.State == nil},
		{Value: d.Batchable, Omit: !d.Batchable},
	})
}

func (d *PerformDisposition) Unmarshal(rd *buffer.Buffer) error {
	return encoding.UnmarshalComposite(rd, encoding.TypeCodeDisposition,
		encoding.UField{Field: &d.Role},
		encoding.UField{Field: &d.First, HandleNull: func() error { return fmt.Errorf("Disposition.First is required") }},
		encoding.UField{Field: &d.Last},
		encoding.UField{Field: &d.Settled},
		encoding.UField{Decode: func(rd *buffer.Buffer) error {
			s, err := encoding.UnmarshalDeliveryState(rd)
			if err != nil {
				return err
			}
			d.State = s
			return nil
		}},
		encoding.UField{Field: &d.Batchable},
	)
}
