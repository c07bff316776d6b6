package mocks

import (
	"errors"
	"math"
	"net"
	"time"

	"github.com/amqpcore/amqp10/internal/buffer"
	"github.com/amqpcore/amqp10/internal/encoding"
	"github.com/amqpcore/amqp10/internal/frames"
)

// NewConnection creates a new instance of MockConnection.
// Responder is invoked by Write when a frame is received.
// Return a nil slice/nil error to swallow the frame.
// Return a non-nil error to simulate a write error.
func NewConnection(resp func(frames.FrameBody) ([]byte, error)) *MockConnection {
	return &MockConnection{
		resp: resp,
		// during shutdown, the conn's reader goroutine can stop consuming
		// before its mux stops writing, so there is some non-determinism
		// here.  this means that sometimes writes can still happen but there's
		// no reader to consume them.  we used a buffered channel to prevent these
		// writes from blocking shutdown. the size was arbitrarily picked.
		readData:  make(chan []byte, 10),
		readClose: make(chan struct{}),
	}
}

// MockConnection is a mock connection that satisfies the net.Conn interface.
type MockConnection struct {
	resp      func(frames.FrameBody) ([]byte, error)
	readDL    *time.Timer
	readData  chan []byte
	readClose chan struct{}
	closed    bool

	// pending holds bytes already pulled off readData but not yet handed to
	// a caller of Read, the same way a real socket's kernel buffer carries
	// over whatever didn't fit in the last read - a caller asking for the
	// frame header in one Read and the body in the next must still see both.
	pending []byte
}

///////////////////////////////////////////////////////
// following methods are for the net.Conn interface
///////////////////////////////////////////////////////

// NOTE: Read, Write, and Close are all called by separate goroutines!

// Read is invoked by the conn's handshake and its reader goroutine
// (readFrames) to recieve frame data.
// It blocks until Write or Close are called, or the read
// deadline (if one was set) expires which will return an error.
func (m *MockConnection) Read(b []byte) (n int, err error) {
	select {
	case <-m.readClose:
		return 0, errors.New("mock connection was closed")
	default:
		// not closed yet
	}

	if len(m.pending) == 0 {
		var deadline <-chan time.Time
		if m.readDL != nil {
			deadline = m.readDL.C
		}
		select {
		case <-m.readClose:
			return 0, errors.New("mock connection was closed")
		case <-deadline:
			return 0, errors.New("mock connection read deadline exceeded")
		case rd := <-m.readData:
			m.pending = rd
		}
	}

	n = copy(b, m.pending)
	m.pending = m.pending[n:]
	return n, nil
}

// Write is invoked by the conn's handshake and mux when we're being sent frame
// data.  Every call to Write will invoke the responder callback that
// must reply with one of three possibilities.
//  1. an encoded frame and nil error
//  2. a non-nil error to similate a write failure
//  3. a nil slice and nil error indicating the frame should be ignored
func (m *MockConnection) Write(b []byte) (n int, err error) {
	select {
	case <-m.readClose:
		return 0, errors.New("mock connection was closed")
	default:
		// not closed yet
	}

	frame, err := decodeFrame(b)
	if err != nil {
		return 0, err
	}
	resp, err := m.resp(frame)
	if err != nil {
		return 0, err
	}
	if resp != nil {
		m.readData <- resp
	}
	return len(b), nil
}

// Close is called by Conn.muxUnwind when the conn's mux unwinds.
func (m *MockConnection) Close() error {
	if m.closed {
		return errors.New("double close")
	}
	m.closed = true
	close(m.readClose)
	return nil
}

func (m *MockConnection) LocalAddr() net.Addr {
	return &net.IPAddr{
		IP: net.IPv4(127, 0, 0, 2),
	}
}

func (m *MockConnection) RemoteAddr() net.Addr {
	return &net.IPAddr{
		IP: net.IPv4(127, 0, 0, 2),
	}
}

func (m *MockConnection) SetDeadline(t time.Time) error {
	return errors.New("not used")
}

func (m *MockConnection) SetReadDeadline(t time.Time) error {
	// not called by Conn; once set, a Read waiting for data fails at t
	// stop the last timer if available
	if m.readDL != nil && !m.readDL.Stop() {
		<-m.readDL.C
	}
	m.readDL = time.NewTimer(time.Until(t))
	return nil
}

func (m *MockConnection) SetWriteDeadline(t time.Time) error {
	// not called by Conn; write deadlines are ignored
	return nil
}

///////////////////////////////////////////////////////
///////////////////////////////////////////////////////

// ProtoID indicates the type of protocol (the id byte of the protocol header)
type ProtoID uint8

const (
	ProtoAMQP ProtoID = 0x0
	ProtoTLS  ProtoID = 0x2
	ProtoSASL ProtoID = 0x3
)

// ProtoHeader adds the initial handshake frame to the list of responses.
// This frame, and PerformOpen, are needed when calling amqp.NewConn() to create a client.
func ProtoHeader(id ProtoID) ([]byte, error) {
	return []byte{'A', 'M', 'Q', 'P', byte(id), 1, 0, 0}, nil
}

// PerformOpen appends a PerformOpen frame with the specified container ID.
// This frame, and ProtoHeader, are needed when calling amqp.NewConn() to create a client.
func PerformOpen(containerID string) ([]byte, error) {
	return encodeFrame(frameAMQP, &frames.PerformOpen{ContainerID: containerID})
}

// PerformBegin appends a PerformBegin frame with the specified remote channel ID.
// This frame is needed when making a call to Client.NewSession().
func PerformBegin(remoteChannel uint16) ([]byte, error) {
	return encodeFrame(frameAMQP, &frames.PerformBegin{
		RemoteChannel:  &remoteChannel,
		NextOutgoingID: 1,
		IncomingWindow: 5000,
		OutgoingWindow: 1000,
		HandleMax:      math.MaxInt16,
	})
}

// ReceiverAttach appends a PerformAttach frame with the specified values.
// This frame is needed when making a call to Session.NewReceiver().
func ReceiverAttach(linkName string, linkHandle uint32, mode encoding.ReceiverSettleMode) ([]byte, error) {
	return encodeFrame(frameAMQP, &frames.PerformAttach{
		Name:   linkName,
		Handle: linkHandle,
		Role:   encoding.RoleSender,
		Source: &frames.Source{
			Address:      "test",
			Durable:      encoding.DurabilityNone,
			ExpiryPolicy: encoding.ExpirySessionEnd,
		},
		ReceiverSettleMode: &mode,
		MaxMessageSize:     math.MaxUint32,
	})
}

// SenderAttach appends a PerformAttach frame with Role=receiver, answering a
// local Sender's Attach. This frame is needed when making a call to
// Session.NewSender().
func SenderAttach(linkName string, linkHandle uint32, mode encoding.SenderSettleMode) ([]byte, error) {
	deliveryCount := uint32(0)
	return encodeFrame(frameAMQP, &frames.PerformAttach{
		Name:   linkName,
		Handle: linkHandle,
		Role:   encoding.RoleReceiver,
		Target: &frames.Target{
			Address:      "test",
			Durable:      encoding.DurabilityNone,
			ExpiryPolicy: encoding.ExpirySessionEnd,
		},
		SenderSettleMode:     &mode,
		InitialDeliveryCount: &deliveryCount,
		MaxMessageSize:       math.MaxUint32,
	})
}

// PerformEnd appends a PerformEnd frame, optionally carrying an error.
func PerformEnd(amqpErr *encoding.Error) ([]byte, error) {
	return encodeFrame(frameAMQP, &frames.PerformEnd{Error: amqpErr})
}

// PerformDetach appends a PerformDetach frame for the given handle.
func PerformDetach(linkHandle uint32, closed bool, amqpErr *encoding.Error) ([]byte, error) {
	return encodeFrame(frameAMQP, &frames.PerformDetach{Handle: linkHandle, Closed: closed, Error: amqpErr})
}

// PerformClose appends a PerformClose frame, optionally carrying an error.
func PerformClose(amqpErr *encoding.Error) ([]byte, error) {
	return encodeFrame(frameAMQP, &frames.PerformClose{Error: amqpErr})
}

// SenderFlow appends a PerformFlow frame granting linkCredit to the sender
// at linkHandle, optionally alongside deliveryCount (the peer's view of how
// many deliveries it's already counted on this link).
func SenderFlow(linkHandle, deliveryCount, linkCredit uint32) ([]byte, error) {
	return encodeFrame(frameAMQP, &frames.PerformFlow{
		IncomingWindow: 5000,
		NextOutgoingID: 1,
		OutgoingWindow: 1000,
		Handle:         &linkHandle,
		DeliveryCount:  &deliveryCount,
		LinkCredit:     &linkCredit,
	})
}

// PerformTransfer appends a PerformTransfer frame with the specified values.
// The linkHandle MUST match the linkHandle value specified in ReceiverAttach.
func PerformTransfer(linkHandle, deliveryID uint32, payload []byte) ([]byte, error) {
	format := uint32(0)
	payloadBuf := &buffer.Buffer{}
	encoding.WriteDescriptor(payloadBuf, encoding.TypeCodeApplicationData)
	err := encoding.WriteBinary(payloadBuf, payload)
	if err != nil {
		return nil, err
	}
	return encodeFrame(frameAMQP, &frames.PerformTransfer{
		Handle:        linkHandle,
		DeliveryID:    &deliveryID,
		DeliveryTag:   []byte("tag"),
		MessageFormat: &format,
		Payload:       payloadBuf.Detach(),
	})
}

// PerformDisposition appends a PerformDisposition frame with the specified values.
// The deliveryID MUST match the deliveryID value specified in PerformTransfer.
func PerformDisposition(deliveryID uint32, state encoding.DeliveryState) ([]byte, error) {
	return encodeFrame(frameAMQP, &frames.PerformDisposition{
		Role:    encoding.RoleSender,
		First:   deliveryID,
		Settled: true,
		State:   state,
	})
}

// AMQPProto is the frame type passed to the responder for the initial protocal handshake.
type AMQPProto struct {
	frames.FrameBody
}

// KeepAlive is the frame type passed to the responder for keep-alive frames.
type KeepAlive struct {
	frames.FrameBody
}

// frameType indicates the type of frame (the type byte of the frame header)
type frameType uint8

const (
	frameAMQP frameType = 0x0
)

func encodeFrame(t frameType, f frames.FrameBody) ([]byte, error) {
	bodyBuf := buffer.New([]byte{})
	if err := encoding.Marshal(bodyBuf, f); err != nil {
		return nil, err
	}
	// create the frame header, needs size of the body plus itself
	header := frames.Header{
		Size:       uint32(bodyBuf.Len()) + frames.HeaderSize,
		DataOffset: 2,
		FrameType:  uint8(t),
	}
	headerBuf := buffer.New([]byte{})
	if err := header.Marshal(headerBuf); err != nil {
		return nil, err
	}
	// concatenate header + body
	raw := headerBuf.Detach()
	raw = append(raw, bodyBuf.Detach()...)
	return raw, nil
}

func decodeFrame(b []byte) (frames.FrameBody, error) {
	if len(b) > 3 && b[0] == 'A' && b[1] == 'M' && b[2] == 'Q' && b[3] == 'P' {
		return &AMQPProto{}, nil
	}
	buf := buffer.New(b)
	header, err := frames.ParseHeader(buf)
	if err != nil {
		return nil, err
	}
	bodySize := int64(header.Size - frames.HeaderSize)
	if bodySize == 0 {
		// keep alive frame
		return &KeepAlive{}, nil
	}
	// parse the frame
	b, ok := buf.Next(bodySize)
	if !ok {
		return nil, err
	}
	return frames.ParseBody(buffer.New(b))
}
