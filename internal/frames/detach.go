package frames

import (
	"fmt"

	"github.com/amqpcore/amqp10/internal/buffer"
	"github.com/amqpcore/amqp10/internal/encoding"
)

// PerformDetach removes a link from its session, optionally for good (§4.4,
// §4.5).
type PerformDetach struct {
	Handle uint32 // required
	Closed bool
	Error  *encoding.Error
}

func (*PerformDetach) isFrameBody() {}

func (d *PerformDetach) String() string {
	return fmt.Sprintf("Detach{Handle: %d, Closed: %v, Error: %v}", d.Handle, d.Closed, d.Error)
}

func (d *PerformDetach) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeDetach, []encoding.Field{
		{Value: d.Handle, Omit: false},
		{Value: d.Closed, Omit: !d.Closed},
		{Value: d.Error, Omit: d.Error == nil},
	})
}

func (d *PerformDetach) Unmarshal(rd *buffer.Buffer) error {
	return encoding.UnmarshalComposite(rd, encoding.TypeCodeDetach,
		encoding.UField{Field: &d.Handle, HandleNull: func() error { return fmt.Errorf("Detach.Handle is required") }},
		encoding.UField{Field: &d.Closed},
		encoding.UField{Field: &d.Error},
	)
}
