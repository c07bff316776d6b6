package frames

import (
	"fmt"

	"github.com/amqpcore/amqp10/internal/buffer"
	"github.com/amqpcore/amqp10/internal/encoding"
)

// PerformEnd closes a session (§4.3).
type PerformEnd struct {
	Error *encoding.Error
}

func (*PerformEnd) isFrameBody() {}

func (e *PerformEnd) String() string {
	return fmt.Sprintf("End{Error: %v}", e.Error)
}

func (e *PerformEnd) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeEnd, []encoding.Field{
		{Value: e.Error, Omit: e.Error == nil},
	})
}

func (e *PerformEnd) Unmarshal(rd *buffer.Buffer) error {
	return encoding.UnmarshalComposite(rd, encoding.TypeCodeEnd,
		encoding.UField{Field: &e.Error},
	)
}
