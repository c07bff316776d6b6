// Package frames defines the nine core AMQP 1.0 performatives (the bodies
// carried inside frames) plus the frame header itself, and the thin codec
// that turns bytes into one of these structs and back.
//
// Grounded in the teacher's frames.go: one struct per performative, each
// implementing marshal/unmarshal via internal/encoding's composite helpers.
package frames

import (
	"fmt"

	"github.com/amqpcore/amqp10/internal/buffer"
	"github.com/amqpcore/amqp10/internal/encoding"
)

// TypeAMQP and TypeSASL are the frame-type octet values (§2.2 frame layout).
const (
	TypeAMQP uint8 = 0x0
	TypeSASL uint8 = 0x1
)

// HeaderSize is the length in bytes of the frame header shared by every
// frame, AMQP or SASL, heartbeat or not.
const HeaderSize = 8

// Header is the 8-byte frame header: (size, doff, type, channel).
type Header struct {
	Size       uint32
	DataOffset uint8
	FrameType  uint8
	Channel    uint16
}

// Marshal writes the header as given. The caller computes Size from the
// already-marshaled body before calling it (see conn.go's encodeFrame).
func (h Header) Marshal(wr *buffer.Buffer) error {
	wr.WriteUint32(h.Size)
	wr.WriteByte(h.DataOffset)
	wr.WriteByte(h.FrameType)
	wr.WriteUint16(h.Channel)
	return nil
}

// ParseHeader reads a Header from the front of rd.
func ParseHeader(rd *buffer.Buffer) (Header, error) {
	size, err := rd.ReadUint32()
	if err != nil {
		return Header{}, err
	}
	doff, err := rd.ReadByte()
	if err != nil {
		return Header{}, err
	}
	typ, err := rd.ReadByte()
	if err != nil {
		return Header{}, err
	}
	channel, err := rd.ReadUint16()
	if err != nil {
		return Header{}, err
	}
	if size < HeaderSize {
		return Header{}, fmt.Errorf("frames: invalid frame size %d", size)
	}
	return Header{Size: size, DataOffset: doff, FrameType: typ, Channel: channel}, nil
}

// FrameBody is implemented by every performative.
type FrameBody interface {
	isFrameBody()
}

// Frame pairs a decoded performative with the channel it arrived on /
// is destined for; the dispatcher never needs anything more than this to
// route a frame to its session.
type Frame struct {
	Type    uint8
	Channel uint16
	Body    FrameBody
}

// ParseBody decodes the performative that follows a frame header. An empty
// body (len(rd) == 0, i.e. a heartbeat) yields (nil, nil).
func ParseBody(rd *buffer.Buffer) (FrameBody, error) {
	if rd.Unread() == 0 {
		return nil, nil
	}

	peek := rd.Peek(3)
	if len(peek) < 3 || peek[0] != 0x0 {
		return nil, fmt.Errorf("frames: malformed performative descriptor")
	}
	code := peek[2]

	var body FrameBody
	switch code {
	case byte(encoding.TypeCodeOpen):
		body = new(PerformOpen)
	case byte(encoding.TypeCodeBegin):
		body = new(PerformBegin)
	case byte(encoding.TypeCodeAttach):
		body = new(PerformAttach)
	case byte(encoding.TypeCodeFlow):
		body = new(PerformFlow)
	case byte(encoding.TypeCodeTransfer):
		body = new(PerformTransfer)
	case byte(encoding.TypeCodeDisposition):
		body = new(PerformDisposition)
	case byte(encoding.TypeCodeDetach):
		body = new(PerformDetach)
	case byte(encoding.TypeCodeEnd):
		body = new(PerformEnd)
	case byte(encoding.TypeCodeClose):
		body = new(PerformClose)
	default:
		return nil, fmt.Errorf("frames: unknown performative descriptor 0x%x", code)
	}

	if err := encoding.Unmarshal(rd, body); err != nil {
		return nil, err
	}
	return body, nil
}
