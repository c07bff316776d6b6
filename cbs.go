package amqp

import (
	"context"
	"fmt"
	"sync/atomic"
)

const (
	cbsAddress           = "$cbs"
	cbsOperationKey      = "operation"
	cbsOperationPutToken = "put-token"
	cbsTokenTypeKey      = "type"
	cbsTokenTypeJWT      = "jwt"
	cbsAudienceKey       = "name"
	cbsStatusCodeKey     = "status-code"
	cbsStatusDescKey     = "status-description"
)

// cbsLink implements the Claims-Based-Security extension: a pair of
// request/response links to the $cbs node that exchange a bearer token
// (minted by a TokenProvider) for temporary authorization to send/receive on
// another node. It is layered entirely on the core Sender/Receiver - CBS
// introduces no new frame types (§4.1 domain stack).
type cbsLink struct {
	session  *Session
	sender   *Sender
	receiver *Receiver
	provider TokenProvider
	nextID   uint64
}

func newCBSLink(ctx context.Context, s *Session, provider TokenProvider) (*cbsLink, error) {
	sender, err := s.NewSender(ctx, cbsAddress, &SenderOptions{Name: "cbs-sender"})
	if err != nil {
		return nil, fmt.Errorf("amqp: opening cbs sender: %w", err)
	}

	receiver, err := s.NewReceiver(ctx, cbsAddress, &ReceiverOptions{Name: "cbs-receiver", Credit: 1})
	if err != nil {
		_ = sender.Close(ctx)
		return nil, fmt.Errorf("amqp: opening cbs receiver: %w", err)
	}

	return &cbsLink{session: s, sender: sender, receiver: receiver, provider: provider}, nil
}

// NegotiateClaim exchanges a fresh token for audience and blocks until the
// $cbs node accepts it (any 2xx status-code, typically 202) or rejects it.
func (c *cbsLink) NegotiateClaim(ctx context.Context, audience string) error {
	token, expiry, err := c.provider.Token(ctx, audience)
	if err != nil {
		return err
	}
	_ = expiry

	msg := &Message{
		ApplicationProperties: map[string]interface{}{
			cbsOperationKey: cbsOperationPutToken,
			cbsTokenTypeKey: cbsTokenTypeJWT,
			cbsAudienceKey:  audience,
		},
		Data: [][]byte{[]byte(token)},
	}
	msg.DeliveryTag = []byte(fmt.Sprintf("cbs-%d", atomic.AddUint64(&c.nextID, 1)))

	if err := c.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("amqp: sending cbs put-token: %w", err)
	}

	resp, err := c.receiver.Receive(ctx)
	if err != nil {
		return fmt.Errorf("amqp: awaiting cbs response: %w", err)
	}
	if err := c.receiver.AcceptMessage(ctx, resp); err != nil {
		return err
	}

	status, _ := resp.ApplicationProperties[cbsStatusCodeKey].(int32)
	if status/100 != 2 {
		desc, _ := resp.ApplicationProperties[cbsStatusDescKey].(string)
		return fmt.Errorf("amqp: cbs put-token rejected: %d %s", status, desc)
	}
	return nil
}

func (c *cbsLink) Close(ctx context.Context) error {
	err1 := c.sender.Close(ctx)
	err2 := c.receiver.Close(ctx)
	if err1 != nil {
		return err1
	}
	return err2
}
