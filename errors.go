package amqp

import (
	"errors"
	"fmt"

	"github.com/amqpcore/amqp10/internal/encoding"
)

// ErrCond is an AMQP defined error condition.
// See http://docs.oasis-open.org/amqp/core/v1.0/os/amqp-core-transport-v1.0-os.html#type-amqp-error for info on their meaning.
type ErrCond = encoding.ErrCond

// Error Conditions
const (
	// AMQP Errors
	ErrCondInternalError         ErrCond = "amqp:internal-error"
	ErrCondNotFound              ErrCond = "amqp:not-found"
	ErrCondUnauthorizedAccess    ErrCond = "amqp:unauthorized-access"
	ErrCondDecodeError           ErrCond = "amqp:decode-error"
	ErrCondResourceLimitExceeded ErrCond = "amqp:resource-limit-exceeded"
	ErrCondNotAllowed            ErrCond = "amqp:not-allowed"
	ErrCondInvalidField          ErrCond = "amqp:invalid-field"
	ErrCondNotImplemented        ErrCond = "amqp:not-implemented"
	ErrCondResourceLocked        ErrCond = "amqp:resource-locked"
	ErrCondPreconditionFailed    ErrCond = "amqp:precondition-failed"
	ErrCondResourceDeleted       ErrCond = "amqp:resource-deleted"
	ErrCondIllegalState          ErrCond = "amqp:illegal-state"
	ErrCondFrameSizeTooSmall     ErrCond = "amqp:frame-size-too-small"

	// Connection Errors
	ErrCondConnectionForced   ErrCond = "amqp:connection:forced"
	ErrCondFramingError       ErrCond = "amqp:connection:framing-error"
	ErrCondConnectionRedirect ErrCond = "amqp:connection:redirect"

	// Session Errors
	ErrCondWindowViolation  ErrCond = "amqp:session:window-violation"
	ErrCondErrantLink       ErrCond = "amqp:session:errant-link"
	ErrCondHandleInUse      ErrCond = "amqp:session:handle-in-use"
	ErrCondUnattachedHandle ErrCond = "amqp:session:unattached-handle"

	// Link Errors
	ErrCondDetachForced          ErrCond = "amqp:link:detach-forced"
	ErrCondTransferLimitExceeded ErrCond = "amqp:link:transfer-limit-exceeded"
	ErrCondMessageSizeExceeded   ErrCond = "amqp:link:message-size-exceeded"
	ErrCondLinkRedirect          ErrCond = "amqp:link:redirect"
	ErrCondStolen                ErrCond = "amqp:link:stolen"
)

// Error is the wire-level AMQP error carried on Detach/End/Close.
type Error = encoding.Error

// DetachError is returned by a link (Sender/Receiver) when a Detach frame is
// received.
//
// RemoteError is nil if the link was detached gracefully (no error section).
type DetachError struct {
	RemoteError *Error
}

func (e *DetachError) Error() string {
	return fmt.Sprintf("link detached, reason: %+v", e.RemoteError)
}

// ConnectionError is returned when the peer closes the connection with an
// error; it is propagated to every Session and, through them, to their
// Senders/Receivers. A Close without an error yields ErrConnClosed instead.
type ConnectionError struct {
	inner error
}

func (c *ConnectionError) Error() string {
	if c.inner == nil {
		return "amqp: connection closed"
	}
	return c.inner.Error()
}

func (c *ConnectionError) Unwrap() error {
	return c.inner
}

// SessionError is returned when the peer ends a session with an error; it is
// propagated to every Sender/Receiver attached to that session. An End
// without an error yields ErrSessionClosed instead.
type SessionError struct {
	RemoteError *Error
	inner       error
}

func (s *SessionError) Error() string {
	if s.inner != nil {
		return s.inner.Error()
	}
	return fmt.Sprintf("amqp: session ended, reason: %+v", s.RemoteError)
}

func (s *SessionError) Unwrap() error {
	return s.inner
}

// ProtocolError is returned when a peer sends a frame that violates the
// protocol: out of sequence, references an unknown handle/channel, or
// otherwise can't be acted on. The engine answers a ProtocolError by tearing
// down the resource (link, session or connection) whose mux received the
// frame; it sends the peer no error condition for it.
type ProtocolError struct {
	Message string
}

func (p *ProtocolError) Error() string {
	return "amqp: protocol error: " + p.Message
}

// TimeoutError is the connection's error when its idle-timeout watchdog
// fires because the remote peer stopped sending frames/heartbeats entirely
// (§4.2). Blocking calls (Open, Attach, Send, Receive, ...) abandoned because
// their context was done return ctx.Err() instead.
type TimeoutError struct {
	inner error
}

func (t *TimeoutError) Error() string {
	if t.inner != nil {
		return fmt.Sprintf("amqp: timeout: %v", t.inner)
	}
	return "amqp: timeout"
}

func (t *TimeoutError) Unwrap() error {
	return t.inner
}

// HeaderMismatchError is returned from Open/Dial when the peer's protocol
// header doesn't match what was sent (§4.1 handshake).
type HeaderMismatchError struct {
	Expected []byte
	Got      []byte
}

func (h *HeaderMismatchError) Error() string {
	return fmt.Sprintf("amqp: protocol header mismatch: expected % x, got % x", h.Expected, h.Got)
}

// Errors
var (
	// ErrSessionClosed is propagated to Senders/Receivers when Session.Close
	// is called.
	ErrSessionClosed = errors.New("amqp: session closed")

	// ErrLinkClosed is returned by send and receive operations when
	// Sender.Close() or Receiver.Close() are called.
	ErrLinkClosed = errors.New("amqp: link closed")

	// ErrConnClosed is propagated when Conn.Close is called.
	ErrConnClosed = errors.New("amqp: connection closed")

	// ErrConnDisconnected is propagated to every Session when the underlying
	// net.Conn is lost without a clean Close exchange.
	ErrConnDisconnected = errors.New("amqp: disconnected")
)
