package frames

import (
	"github.com/amqpcore/amqp10/internal/buffer"
	"github.com/amqpcore/amqp10/internal/encoding"
)

// Source describes a link's origin terminus, carried on Attach.
type Source struct {
	Address      string
	Durable      encoding.Durability
	ExpiryPolicy encoding.ExpiryPolicy
	Timeout      uint32
	Dynamic      bool
	DynamicNodeProperties map[string]interface{}
	DistributionMode      encoding.Symbol
	Filter                map[encoding.Symbol]interface{}
	Capabilities          encoding.MultiSymbol
}

func (s *Source) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeSource, []encoding.Field{
		{Value: s.Address, Omit: s.Address == ""},
		{Value: s.Durable, Omit: s.Durable == encoding.DurabilityNone},
		{Value: string(s.ExpiryPolicy), Omit: s.ExpiryPolicy == ""},
		{Value: s.Timeout, Omit: s.Timeout == 0},
		{Value: s.Dynamic, Omit: !s.Dynamic},
		{Value: s.DynamicNodeProperties, Omit: len(s.DynamicNodeProperties) == 0},
		{Value: s.DistributionMode, Omit: s.DistributionMode == ""},
		{Value: s.Filter, Omit: len(s.Filter) == 0},
		{Value: nil, Omit: true}, // default-outcome: not interpreted by the core (§1 Non-goals)
		{Value: nil, Omit: true}, // outcomes
		{Value: s.Capabilities, Omit: len(s.Capabilities) == 0},
	})
}

func (s *Source) Unmarshal(rd *buffer.Buffer) error {
	var expiry string
	var distMode string
	err := encoding.UnmarshalComposite(rd, encoding.TypeCodeSource,
		encoding.UField{Field: &s.Address},
		encoding.UField{Field: &s.Durable},
		encoding.UField{Field: &expiry},
		encoding.UField{Field: &s.Timeout},
		encoding.UField{Field: &s.Dynamic},
		encoding.UField{Field: &s.DynamicNodeProperties},
		encoding.UField{Field: &distMode},
		encoding.UField{Field: &s.Filter},
	)
	s.ExpiryPolicy = encoding.ExpiryPolicy(expiry)
	s.DistributionMode = encoding.Symbol(distMode)
	return err
}

// Target describes a link's destination terminus, carried on Attach.
type Target struct {
	Address               string
	Durable               encoding.Durability
	ExpiryPolicy          encoding.ExpiryPolicy
	Timeout               uint32
	Dynamic               bool
	DynamicNodeProperties map[string]interface{}
	Capabilities          encoding.MultiSymbol
}

func (t *Target) Marshal(wr *buffer.Buffer) error {
	return encoding.MarshalComposite(wr, encoding.TypeCodeTarget, []encoding.Field{
		{Value: t.Address, Omit: t.Address == ""},
		{Value: t.Durable, Omit: t.Durable == encoding.DurabilityNone},
		{Value: string(t.ExpiryPolicy), Omit: t.ExpiryPolicy == ""},
		{Value: t.Timeout, Omit: t.Timeout == 0},
		{Value: t.Dynamic, Omit: !t.Dynamic},
		{Value: t.DynamicNodeProperties, Omit: len(t.DynamicNodeProperties) == 0},
		{Value: t.Capabilities, Omit: len(t.Capabilities) == 0},
	})
}

func (t *Target) Unmarshal(rd *buffer.Buffer) error {
	var expiry string
	err := encoding.UnmarshalComposite(rd, encoding.TypeCodeTarget,
		encoding.UField{Field: &t.Address},
		encoding.UField{Field: &t.Durable},
		encoding.UField{Field: &expiry},
		encoding.UField{Field: &t.Timeout},
		encoding.UField{Field: &t.Dynamic},
		encoding.UField{Field: &t.DynamicNodeProperties},
	)
	t.ExpiryPolicy = encoding.ExpiryPolicy(expiry)
	return err
}
