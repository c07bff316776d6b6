package encoding

import (
	"fmt"

	"github.com/amqpcore/amqp10/internal/buffer"
)

// Role is the sender/receiver role carried on Attach and Disposition.
type Role bool

const (
	RoleSender   Role = false
	RoleReceiver Role = true
)

func (r Role) String() string {
	if r {
		return "receiver"
	}
	return "sender"
}

func (r Role) Marshal(wr *buffer.Buffer) error {
	return Marshal(wr, bool(r))
}

func (r *Role) Unmarshal(rd *buffer.Buffer) error {
	b, err := readBool(rd)
	if err != nil {
		return err
	}
	*r = Role(b)
	return nil
}

// SenderSettleMode is the settlement mode requested/granted for a sender.
type SenderSettleMode uint8

const (
	ModeUnsettled SenderSettleMode = 0
	ModeSettled   SenderSettleMode = 1
	ModeMixed     SenderSettleMode = 2
)

func (m SenderSettleMode) String() string {
	switch m {
	case ModeUnsettled:
		return "unsettled"
	case ModeSettled:
		return "settled"
	case ModeMixed:
		return "mixed"
	default:
		return fmt.Sprintf("SenderSettleMode(%d)", uint8(m))
	}
}

// ReceiverSettleMode is the settlement mode requested/granted for a receiver.
type ReceiverSettleMode uint8

const (
	ModeFirst  ReceiverSettleMode = 0
	ModeSecond ReceiverSettleMode = 1
)

func (m ReceiverSettleMode) String() string {
	switch m {
	case ModeFirst:
		return "first"
	case ModeSecond:
		return "second"
	default:
		return fmt.Sprintf("ReceiverSettleMode(%d)", uint8(m))
	}
}

// Symbol is an AMQP symbol: an ASCII string drawn from a restricted
// constrained symbol space (condition names, capabilities, property keys).
type Symbol string

func (s Symbol) Marshal(wr *buffer.Buffer) error {
	return writeSymbol(wr, s)
}

func (s *Symbol) Unmarshal(rd *buffer.Buffer) error {
	v, err := readSymbol(rd)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// MultiSymbol carries the array-of-symbol fields (offered/desired capabilities,
// locales).
type MultiSymbol []Symbol

// Durability indicates whether a node survives peer/system restarts.
type Durability uint32

const (
	DurabilityNone         Durability = 0
	DurabilityConfiguation Durability = 1
	DurabilityUnsettledState Durability = 2
)

func (d Durability) Marshal(wr *buffer.Buffer) error {
	return Marshal(wr, uint32(d))
}

func (d *Durability) Unmarshal(rd *buffer.Buffer) error {
	n, err := readUint(rd)
	if err != nil {
		return err
	}
	*d = Durability(n)
	return nil
}

// ExpiryPolicy controls when a dynamically-created node is reclaimed.
type ExpiryPolicy Symbol

const (
	ExpiryLinkDetach    ExpiryPolicy = "link-detach"
	ExpirySessionEnd    ExpiryPolicy = "session-end"
	ExpiryConnectionClose ExpiryPolicy = "connection-close"
	ExpiryNever         ExpiryPolicy = "never"
)

func (e ExpiryPolicy) Validate() error {
	switch e {
	case "", ExpiryLinkDetach, ExpirySessionEnd, ExpiryConnectionClose, ExpiryNever:
		return nil
	default:
		return fmt.Errorf("unknown expiry-policy %q", string(e))
	}
}

// ErrCond is an AMQP defined error condition symbol.
type ErrCond string

// Error is the wire representation of the AMQP error type, carried on
// Detach/End/Close when a resource fails with a reason the peer should know.
type Error struct {
	Condition   ErrCond
	Description string
	Info        map[string]interface{}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil *Error>"
	}
	return fmt.Sprintf("%s: %s", e.Condition, e.Description)
}

// DeliveryState is the outcome carried on a Disposition (or, pre-settled, on
// a Transfer itself): Accepted, Rejected, Released, or Modified.
type DeliveryState interface {
	isDeliveryState()
}

type StateAccepted struct{}

func (*StateAccepted) isDeliveryState() {}

type StateRejected struct {
	Error *Error
}

func (*StateRejected) isDeliveryState() {}

type StateReleased struct{}

func (*StateReleased) isDeliveryState() {}

type StateModified struct {
	DeliveryFailed    bool
	UndeliverableHere bool
	MessageAnnotations map[string]interface{}
}

func (*StateModified) isDeliveryState() {}

// StateReceived is only meaningful for transactional/partial delivery and is
// carried through unmodified; the engine does not interpret it (§1 Non-goals).
type StateReceived struct {
	SectionNumber uint32
	SectionOffset uint64
}

func (*StateReceived) isDeliveryState() {}
