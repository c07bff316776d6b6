package frames

import (
	"fmt"

	"github.com/amqpcore/amqp10/internal/buffer"
	"github.com/amqpcore/amqp10/internal/encoding"
)

// PerformClose tears down the connection (§4.2).
type PerformClose struct {
	Error *encoding.Error
}

func (*PerformClose) isFrameBody() {}

func (c *PerformClose) String() string {
	return fmt.Sprintf("Close{Error: %v}", c.Error)
}

func (c *PerformClose) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeClose, []encoding.Field{
		{Value: c.Error, Omit: c.Error == nil},
	})
}

func (c *PerformClose) Unmarshal(rd *buffer.Buffer) error {
	return encoding.UnmarshalComposite(rd, encoding.TypeCodeClose,
		encoding.UField{Field: &c.Error},
	)
}
