package frames

import (
	"fmt"
	"time"

	"github.com/amqpcore/amqp10/internal/buffer"
	"github.com/amqpcore/amqp10/internal/encoding"
)

// PerformOpen is the connection-scoped handshake performative (§4.1).
type PerformOpen struct {
	ContainerID         string // required
	Hostname            string
	MaxFrameSize        uint32 // default 4294967295
	ChannelMax          uint16 // default 65535
	IdleTimeout         time.Duration
	OutgoingLocales     encoding.MultiSymbol
	IncomingLocales     encoding.MultiSymbol
	OfferedCapabilities encoding.MultiSymbol
	DesiredCapabilities encoding.MultiSymbol
	Properties          map[string]interface{}
}

func (*PerformOpen) isFrameBody() {}

func (o *PerformOpen) String() string {
	return fmt.Sprintf("Open{ContainerID: %q, Hostname: %q, MaxFrameSize: %d, ChannelMax: %d, IdleTimeout: %v}",
		o.ContainerID, o.Hostname, o.MaxFrameSize, o.ChannelMax, o.IdleTimeout)
}

func (o *PerformOpen) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeOpen, []encoding.Field{
		{Value: o.ContainerID, Omit: false},
		{Value: o.Hostname, Omit: o.Hostname == ""},
		{Value: o.MaxFrameSize, Omit: o.MaxFrameSize == 4294967295 || o.MaxFrameSize == 0},
		{Value: o.ChannelMax, Omit: o.ChannelMax == 65535 || o.ChannelMax == 0},
		{Value: o.IdleTimeout, Omit: o.IdleTimeout == 0},
		{Value: o.OutgoingLocales, Omit: len(o.OutgoingLocales) == 0},
		{Value: o.IncomingLocales, Omit: len(o.IncomingLocales) == 0},
		{Value: o.OfferedCapabilities, Omit: len(o.OfferedCapabilities) == 0},
		{Value: o.DesiredCapabilities, Omit: len(o.DesiredCapabilities) == 0},
		{Value: o.Properties, Omit: len(o.Properties) == 0},
	})
}

func (o *PerformOpen) Unmarshal(rd *buffer.Buffer) error {
	o.MaxFrameSize = 4294967295
	o.ChannelMax = 65535
	return encoding.UnmarshalComposite(rd, encoding.TypeCodeOpen,
		encoding.UField{Field: &o.ContainerID, HandleNull: func() error { return fmt.Errorf("Open.ContainerID is required") }},
		encoding.UField{Field: &o.Hostname},
		encoding.UField{Field: &o.MaxFrameSize, HandleNull: func() error { o.MaxFrameSize = 4294967295; return nil }},
		encoding.UField{Field: &o.ChannelMax, HandleNull: func() error { o.ChannelMax = 65535; return nil }},
		encoding.UField{Field: &o.IdleTimeout},
		encoding.UField{Field: &o.OutgoingLocales},
		encoding.UField{Field: &o.IncomingLocales},
		encoding.UField{Field: &o.OfferedCapabilities},
		encoding.UField{Field: &o.DesiredCapabilities},
		encoding.UField{Field: &o.Properties},
	)
}

// PerformBegin establishes a session on a channel (§4.2).
type PerformBegin struct {
	RemoteChannel       *uint16
	NextOutgoingID      uint32 // required
	IncomingWindow      uint32 // required
	OutgoingWindow      uint32 // required
	HandleMax           uint32 // default 4294967295
	OfferedCapabilities encoding.MultiSymbol
	DesiredCapabilities encoding.MultiSymbol
	Properties          map[string]interface{}
}

func (*PerformBegin) isFrameBody() {}

func (b *PerformBegin) String() string {
	return fmt.Sprintf("Begin{RemoteChannel: %v, NextOutgoingID: %d, IncomingWindow: %d, OutgoingWindow: %d, HandleMax: %d}",
		b.RemoteChannel, b.NextOutgoingID, b.IncomingWindow, b.OutgoingWindow, b.HandleMax)
}

func (b *PerformBegin) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeBegin, []encoding.Field{
		{Value: b.RemoteChannel, Omit: b.RemoteChannel == nil},
		{Value: b.NextOutgoingID, Omit: false},
		{Value: b.IncomingWindow, Omit: false},
		{Value: b.OutgoingWindow, Omit: false},
		{Value: b.HandleMax, Omit: b.HandleMax == 4294967295 || b.HandleMax == 0},
		{Value: b.OfferedCapabilities, Omit: len(b.OfferedCapabilities) == 0},
		{Value: b.DesiredCapabilities, Omit: len(b.DesiredCapabilities) == 0},
		{Value: b.Properties, Omit: len(b.Properties) == 0},
	})
}

func (b *PerformBegin) Unmarshal(rd *buffer.Buffer) error {
	b.HandleMax = 4294967295
	return encoding.UnmarshalComposite(rd, encoding.TypeCodeBegin,
		encoding.UField{Field: &b.RemoteChannel},
		encoding.UField{Field: &b.NextOutgoingID, HandleNull: func() error { return fmt.Errorf("Begin.NextOutgoingID is required") }},
		encoding.UField{Field: &b.IncomingWindow, HandleNull: func() error { return fmt.Errorf("Begin.IncomingWindow is required") }},
		encoding.UField{Field: &b.OutgoingWindow, HandleNull: func() error { return fmt.Errorf("Begin.OutgoingWindow is required") }},
		encoding.UField{Field: &b.HandleMax, HandleNull: func() error { b.HandleMax = 4294967295; return nil }},
		encoding.UField{Field: &b.OfferedCapabilities},
		encoding.UField{Field: &b.DesiredCapabilities},
		encoding.UField{Field: &b.Properties},
	)
}
