package frames

import (
	"fmt"

	"github.com/amqpcore/amqp10/internal/buffer"
	"github.com/amqpcore/amqp10/internal/encoding"
)

// PerformAttach establishes (or re-establishes) a link on a session (§4.3).
type PerformAttach struct {
	Name                 string // required
	Handle               uint32 // required
	Role                 encoding.Role
	SenderSettleMode     *encoding.SenderSettleMode
	ReceiverSettleMode   *encoding.ReceiverSettleMode
	Source               *Source
	Target               *Target
	InitialDeliveryCount *uint32 // required for role=sender
	MaxMessageSize       uint64
	Properties           map[string]interface{}
}

func (*PerformAttach) isFrameBody() {}

func (a *PerformAttach) String() string {
	return fmt.Sprintf("Attach{Name: %q, Handle: %d, Role: %v}", a.Name, a.Handle, a.Role)
}

func (a *PerformAttach) Marshal(wr *buffer.Buffer) error {
	var ssm, rsm *uint8
	if a.SenderSettleMode != nil {
		v := uint8(*a.SenderSettleMode)
		ssm = &v
	}
	if a.ReceiverSettleMode != nil {
		v := uint8(*a.ReceiverSettleMode)
		rsm = &v
	}
	return encoding.MarshalComposite(wr, encoding.TypeCodeAttach, []encoding.Field{
		{Value: a.Name, Omit: false},
		{Value: a.Handle, Omit: false},
		{Value: a.Role, Omit: false},
		{Value: ssm, Omit: ssm == nil},
		{Value: rsm, Omit: rsm == nil},
		{Value: a.Source, Omit: a.Source == nil},
		{Value: a.Target, Omit: a.Target == nil},
		{Value: nil, Omit: true}, // unsettled (transactional pass-through only, §1 Non-goals)
		{Value: nil, Omit: true}, // incomplete-unsettled
		{Value: a.InitialDeliveryCount, Omit: a.InitialDeliveryCount == nil},
		{Value: a.MaxMessageSize, Omit: a.MaxMessageSize == 0},
		{Value: nil, Omit: true}, // offered-capabilities
		{Value: nil, Omit: true}, // desired-capabilities
		{Value: a.Properties, Omit: len(a.Properties) == 0},
	})
}

func (a *PerformAttach) Unmarshal(rd *buffer.Buffer) error {
	var ssm, rsm *uint8
	var skip interface{}
	err := encoding.UnmarshalComposite(rd, encoding.TypeCodeAttach,
		encoding.UField{Field: &a.Name, HandleNull: func() error { return fmt.Errorf("Attach.Name is required") }},
		encoding.UField{Field: &a.Handle, HandleNull: func() error { return fmt.Errorf("Attach.Handle is required") }},
		encoding.UField{Field: &a.Role},
		encoding.UField{Field: &ssm},
		encoding.UField{Field: &rsm},
		encoding.UField{Decode: func(rd *buffer.Buffer) error {
			s := &Source{}
			if err := s.Unmarshal(rd); err != nil {
				return err
			}
			a.Source = s
			return nil
		}},
		encoding.UField{Decode: func(rd *buffer.Buffer) error {
			t := &Target{}
			if err := t.Unmarshal(rd); err != nil {
				return err
			}
			a.Target = t
			return nil
		}},
		encoding.UField{Field: &skip}, // unsettled
		encoding.UField{Field: &skip}, // incomplete-unsettled
		encoding.UField{Field: &a.InitialDeliveryCount},
		encoding.UField{Field: &a.MaxMessageSize},
		encoding.UField{Field: &skip}, // offered-capabilities
		encoding.UField{Field: &skip}, // desired-capabilities
		encoding.UField{Field: &a.Properties},
	)
	if err != nil {
		return err
	}
	if ssm != nil {
		v := encoding.SenderSettleMode(*ssm)
		a.SenderSettleMode = &v
	}
	if rsm != nil {
		v := encoding.ReceiverSettleMode(*rsm)
		a.ReceiverSettleMode = &v
	}
	return nil
}
