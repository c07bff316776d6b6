package amqp

import (
	"github.com/amqpcore/amqp10/internal/buffer"
	"github.com/amqpcore/amqp10/internal/encoding"
)

// Message is an AMQP message, as carried inside one or more Transfer frames
// on a link. The engine treats the header/properties/annotations sections as
// pass-through metadata and the body as an opaque payload (§1 Non-goals,
// §4.6): it does not interpret message content.
type Message struct {
	// DeliveryTag uniquely identifies this delivery within the link; if nil,
	// Sender.Send assigns a sequential one.
	DeliveryTag []byte

	// Format is the message-format field carried on the Transfer; 0 selects
	// the standard AMQP message format.
	Format uint32

	// SendSettled requests the message be sent settled when the link's
	// sender-settle-mode is "mixed".
	SendSettled bool

	// ApplicationProperties carries the application-properties section.
	ApplicationProperties map[string]interface{}

	// Data is the raw bytes of an amqp-data body section. Exactly one of
	// Data or Value should be set.
	Data [][]byte

	// Value is the value of an amqp-value body section, when the message
	// carries a single AMQP value instead of opaque binary data.
	Value interface{}

	// deliveryID is the delivery-id the Receiver's mux assigned this message
	// when it arrived; settle() uses it to correlate AcceptMessage/
	// RejectMessage/ReleaseMessage/ModifyMessage with a Disposition. Unset
	// on a message built by NewMessage for sending.
	deliveryID *uint32
}

// NewMessage creates a Message carrying data as a single amqp-data body
// section.
func NewMessage(data []byte) *Message {
	return &Message{Data: [][]byte{data}}
}

// GetData returns the message's first data section, or nil if the message
// carries an amqp-value body instead.
func (m *Message) GetData() []byte {
	if len(m.Data) == 0 {
		return nil
	}
	return m.Data[0]
}

// Marshal writes the message's application-properties and body sections to
// wr; it does not write the Transfer performative or frame header, which is
// the caller's (sender.send's) responsibility.
func (m *Message) Marshal(wr *buffer.Buffer) error {
	if len(m.ApplicationProperties) > 0 {
		encoding.WriteDescriptor(wr, encoding.TypeCodeApplicationProperties)
		if err := encoding.Marshal(wr, m.ApplicationProperties); err != nil {
			return err
		}
	}

	if m.Value != nil {
		encoding.WriteDescriptor(wr, encoding.TypeCodeAmqpValue)
		return encoding.Marshal(wr, m.Value)
	}

	for _, d := range m.Data {
		encoding.WriteDescriptor(wr, encoding.TypeCodeApplicationData)
		if err := encoding.WriteBinary(wr, d); err != nil {
			return err
		}
	}
	return nil
}

// Unmarshal parses the sections carried in a fully-reassembled Transfer
// payload (all Transfer.More fragments concatenated).
func (m *Message) Unmarshal(rd *buffer.Buffer) error {
	for rd.Unread() > 0 {
		peek := rd.Peek(3)
		if len(peek) < 3 || peek[0] != 0x0 {
			return &ProtocolError{Message: "malformed message section descriptor"}
		}
		switch peek[2] {
		case byte(encoding.TypeCodeApplicationProperties):
			rd.Next(3)
			props, err := encoding.ReadStringMap(rd)
			if err != nil {
				return err
			}
			m.ApplicationProperties = props
		case byte(encoding.TypeCodeApplicationData):
			rd.Next(3)
			data, err := encoding.ReadBinary(rd)
			if err != nil {
				return err
			}
			m.Data = append(m.Data, data)
		case byte(encoding.TypeCodeAmqpValue):
			rd.Next(3)
			v, err := encoding.ReadAny(rd)
			if err != nil {
				return err
			}
			m.Value = v
		default:
			// unrecognized/unsupported section (header, delivery-annotations,
			// message-annotations, properties, footer): skip it wholesale,
			// the engine doesn't need to interpret it.
			if err := encoding.SkipAny(rd); err != nil {
				return err
			}
		}
	}
	return nil
}
