package amqp

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"

	"github.com/amqpcore/amqp10/internal/frames"
	"github.com/amqpcore/amqp10/internal/mocks"
)

// acceptAndHandshake plays the peer side of NewConn's protocol-header/Open
// handshake directly over a real net.Conn, then drains (and discards)
// whatever the client sends afterward until the socket closes.
func acceptAndHandshake(t *testing.T, nc net.Conn) {
	t.Helper()

	got := make([]byte, len(protoHeader))
	if _, err := io.ReadFull(nc, got); err != nil {
		t.Errorf("server: reading protocol header: %v", err)
		return
	}
	if _, err := nc.Write(protoHeader); err != nil {
		t.Errorf("server: writing protocol header: %v", err)
		return
	}

	_, body, err := readOneFrame(nc)
	if err != nil {
		t.Errorf("server: reading Open: %v", err)
		return
	}
	if _, ok := body.(*frames.PerformOpen); !ok {
		t.Errorf("server: expected Open, got %T", body)
		return
	}

	buf, err := encodeFrame(0, &frames.PerformOpen{ContainerID: "server"})
	if err != nil {
		t.Errorf("server: encoding Open: %v", err)
		return
	}
	if _, err := nc.Write(buf); err != nil {
		t.Errorf("server: writing Open: %v", err)
		return
	}

	_, _ = io.Copy(io.Discard, nc)
}

func TestDialAndClose(t *testing.T) {
	defer leaktest.Check(t)()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		defer nc.Close()
		acceptAndHandshake(t, nc)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	client, err := Dial(ctx, "amqp://"+ln.Addr().String(), nil)
	cancel()
	require.NoError(t, err)
	require.NotNil(t, client)
	require.Equal(t, "server", client.PeerContainerID)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), time.Second)
	require.NoError(t, client.Close(closeCtx))
	closeCancel()

	wg.Wait()
	require.NoError(t, ln.Close())
}

func TestDialUnsupportedScheme(t *testing.T) {
	client, err := Dial(context.Background(), "ftp://localhost", nil)
	require.Error(t, err)
	require.Nil(t, client)
}

func TestDialConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	client, err := Dial(ctx, "amqp://"+addr, nil)
	require.Error(t, err)
	require.Nil(t, client)
}

func TestDialDefaultsHostNameFromURL(t *testing.T) {
	defer leaktest.Check(t)()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		nc, err := ln.Accept()
		if err != nil {
			return
		}
		defer nc.Close()

		got := make([]byte, len(protoHeader))
		if _, err := io.ReadFull(nc, got); err != nil {
			t.Errorf("server: reading protocol header: %v", err)
			return
		}
		if _, err := nc.Write(protoHeader); err != nil {
			t.Errorf("server: writing protocol header: %v", err)
			return
		}
		_, body, err := readOneFrame(nc)
		if err != nil {
			t.Errorf("server: reading Open: %v", err)
			return
		}
		open, ok := body.(*frames.PerformOpen)
		if !ok {
			t.Errorf("server: expected Open, got %T", body)
			return
		}
		require.Equal(t, "127.0.0.1", open.Hostname)

		buf, err := encodeFrame(0, &frames.PerformOpen{ContainerID: "server"})
		if err != nil {
			t.Errorf("server: encoding Open: %v", err)
			return
		}
		if _, err := nc.Write(buf); err != nil {
			t.Errorf("server: writing Open: %v", err)
		}
		_, _ = io.Copy(io.Discard, nc)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	client, err := Dial(ctx, "amqp://"+ln.Addr().String(), nil)
	cancel()
	require.NoError(t, err)
	require.NotNil(t, client)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), time.Second)
	require.NoError(t, client.Close(closeCtx))
	closeCancel()

	wg.Wait()
	require.NoError(t, ln.Close())
}

// clientHandshakeResponder answers the mock-connection handshake/Open/Begin
// sequence a Client needs before NewSession/Close can be exercised without a
// real socket.
func clientHandshakeResponder() func(frames.FrameBody) ([]byte, error) {
	return func(req frames.FrameBody) ([]byte, error) {
		switch req.(type) {
		case *mocks.AMQPProto:
			return mocks.ProtoHeader(mocks.ProtoAMQP)
		case *frames.PerformOpen:
			return mocks.PerformOpen("container")
		case *frames.PerformBegin:
			return mocks.PerformBegin(0)
		case *frames.PerformEnd:
			return mocks.PerformEnd(nil)
		case *frames.PerformClose:
			return mocks.PerformClose(nil)
		default:
			return nil, fmt.Errorf("unhandled frame %T", req)
		}
	}
}

func TestClientNewSessionAndClose(t *testing.T) {
	netConn := mocks.NewConnection(clientHandshakeResponder())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	conn, err := NewConn(ctx, netConn, nil)
	cancel()
	require.NoError(t, err)

	client := &Client{Conn: conn}

	ctx, cancel = context.WithTimeout(context.Background(), time.Second)
	session, err := client.NewSession(ctx, nil)
	cancel()
	require.NoError(t, err)
	require.NotNil(t, session)

	ctx, cancel = context.WithTimeout(context.Background(), time.Second)
	require.NoError(t, client.Close(ctx))
	cancel()

	// closing twice is a no-op
	ctx, cancel = context.WithTimeout(context.Background(), time.Second)
	require.NoError(t, client.Close(ctx))
	cancel()
}
