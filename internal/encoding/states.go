package encoding

import "github.com/amqpcore/amqp10/internal/buffer"

func (s *StateAccepted) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, TypeCodeStateAccepted, nil)
}

func (s *StateAccepted) Unmarshal(rd *buffer.Buffer) error {
	return UnmarshalComposite(rd, TypeCodeStateAccepted)
}

func (s *StateReleased) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, TypeCodeStateReleased, nil)
}

func (s *StateReleased) Unmarshal(rd *buffer.Buffer) error {
	return UnmarshalComposite(rd, TypeCodeStateReleased)
}

func (s *StateRejected) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, TypeCodeStateRejected, []Field{
		{Value: s.Error, Omit: s.Error == nil},
	})
}

func (s *StateRejected) Unmarshal(rd *buffer.Buffer) error {
	return UnmarshalComposite(rd, TypeCodeStateRejected, UField{Field: &s.Error})
}

func (s *StateModified) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, TypeCodeStateModified, []Field{
		{Value: s.DeliveryFailed, Omit: !s.DeliveryFailed},
		{Value: s.UndeliverableHere, Omit: !s.UndeliverableHere},
		{Value: s.MessageAnnotations, Omit: len(s.MessageAnnotations) == 0},
	})
}

func (s *StateModified) Unmarshal(rd *buffer.Buffer) error {
	return UnmarshalComposite(rd, TypeCodeStateModified,
		UField{Field: &s.DeliveryFailed},
		UField{Field: &s.UndeliverableHere},
		UField{Field: &s.MessageAnnotations},
	)
}

func (e *Error) Marshal(wr *buffer.Buffer) error {
	return MarshalComposite(wr, TypeCodeError, []Field{
		{Value: string(e.Condition), Omit: false},
		{Value: e.Description, Omit: e.Description == ""},
		{Value: e.Info, Omit: len(e.Info) == 0},
	})
}

func (e *Error) Unmarshal(rd *buffer.Buffer) error {
	var cond string
	if err := UnmarshalComposite(rd, TypeCodeError,
		UField{Field: &cond},
		UField{Field: &e.Description},
		UField{Field: &e.Info},
	); err != nil {
		return err
	}
	e.Condition = ErrCond(cond)
	return nil
}

// UnmarshalDeliveryState reads whichever concrete DeliveryState descriptor is
// next in rd.
func UnmarshalDeliveryState(rd *buffer.Buffer) (DeliveryState, error) {
	code, err := peekCompositeCode(rd)
	if err != nil {
		return nil, err
	}
	var state DeliveryState
	switch code {
	case TypeCodeStateAccepted:
		state = &StateAccepted{}
	case TypeCodeStateRejected:
		state = &StateRejected{}
	case TypeCodeStateReleased:
		state = &StateReleased{}
	case TypeCodeStateModified:
		state = &StateModified{}
	default:
		return nil, errUnknownDeliveryState(code)
	}
	if err := Unmarshal(rd, state); err != nil {
		return nil, err
	}
	return state, nil
}

// peekCompositeCode looks ahead at a described type's descriptor code
// without consuming it, so the caller can pick the concrete type to decode
// into.
func peekCompositeCode(rd *buffer.Buffer) (amqpType, error) {
	peek := rd.Peek(3)
	if len(peek) < 3 || peek[0] != 0x0 {
		return 0, errMalformedDescriptor
	}
	return amqpType(peek[2]), nil
}
