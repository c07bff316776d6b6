package amqp

import (
	"time"

	"github.com/amqpcore/amqp10/internal/encoding"
)

// SenderSettleMode and ReceiverSettleMode are aliased from internal/encoding
// so that callers never need to import it directly.
type (
	SenderSettleMode   = encoding.SenderSettleMode
	ReceiverSettleMode = encoding.ReceiverSettleMode
	Durability         = encoding.Durability
	ExpiryPolicy       = encoding.ExpiryPolicy
)

const (
	ModeUnsettled = encoding.ModeUnsettled
	ModeSettled   = encoding.ModeSettled
	ModeMixed     = encoding.ModeMixed
)

const (
	ModeFirst  = encoding.ModeFirst
	ModeSecond = encoding.ModeSecond
)

const (
	DurabilityNone           = encoding.DurabilityNone
	DurabilityConfiguation   = encoding.DurabilityConfiguation
	DurabilityUnsettledState = encoding.DurabilityUnsettledState
)

const (
	ExpiryLinkDetach      = encoding.ExpiryLinkDetach
	ExpirySessionEnd      = encoding.ExpirySessionEnd
	ExpiryConnectionClose = encoding.ExpiryConnectionClose
	ExpiryNever           = encoding.ExpiryNever
)

// ConnOptions holds the options that tune Open's handshake behavior (§4.1,
// §4.2).
type ConnOptions struct {
	// ContainerID identifies this peer to the remote; if empty a random one
	// is generated.
	ContainerID string

	// HostName is the AMQP (not TCP) hostname sent in Open, for virtual
	// hosting / SNI-equivalent routing at the application layer.
	HostName string

	// MaxFrameSize is the largest frame this peer advertises in Open that it
	// will accept; inbound frames are not checked against it, and outbound
	// Transfers are fragmented to the peer's advertised limit instead.
	MaxFrameSize uint32

	// IdleTimeout is the idle-time-out this peer advertises in Open; the
	// connection sends a heartbeat once half of it passes with no outbound
	// frame, and zero disables those heartbeats. Closing on peer silence is
	// governed by the peer's own advertised idle-time-out (§4.2).
	IdleTimeout time.Duration

	// Properties are connection properties advertised in Open.
	Properties map[string]interface{}

	// SASLType selects how the connection authenticates; nil means no SASL
	// layer is negotiated (a bare AMQP connection).
	SASLType SASLType
}

// SessionOptions holds the options that tune Begin (§4.3).
type SessionOptions struct {
	// IncomingWindow is the number of transfer frames this session will
	// accept before the peer must wait on a Flow.
	IncomingWindow uint32

	// OutgoingWindow is the matching outbound value.
	OutgoingWindow uint32

	// MaxLinks caps the handle-max this session will allow.
	MaxLinks uint32
}

// SenderOptions holds the options that tune Sender link Attach (§4.4).
type SenderOptions struct {
	Name                        string
	Durability                  Durability
	DynamicAddress              bool
	ExpiryPolicy                ExpiryPolicy
	ExpiryTimeout               uint32
	IgnoreDispositionErrors     bool
	Capabilities                []string
	Properties                  map[string]interface{}
	RequestedReceiverSettleMode *ReceiverSettleMode
	SettlementMode              *SenderSettleMode
	SourceAddress               string
}

// ReceiverOptions holds the options that tune Receiver link Attach (§4.5).
type ReceiverOptions struct {
	Name                      string
	Credit                    uint32
	ManualCredits             bool
	Durability                Durability
	DynamicAddress            bool
	ExpiryPolicy              ExpiryPolicy
	ExpiryTimeout             uint32
	Capabilities              []string
	Properties                map[string]interface{}
	RequestedSenderSettleMode *SenderSettleMode
	SettlementMode            *ReceiverSettleMode
	TargetAddress             string
	Filters                   map[string]interface{}
}
