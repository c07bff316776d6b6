package amqp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
)

// Client is a thin convenience wrapper around Conn for the common case of
// dialing a host by URL instead of supplying an already-open net.Conn.
type Client struct {
	*Conn
}

// Dial parses addr (amqp:// or amqps://) dials the host, performs the
// protocol-header/Open handshake through NewConn, and returns the resulting
// Client (§4.1, §6 "open").
//
// opts may be nil. If opts.HostName is empty, the URL's host is sent as the
// AMQP hostname.
func Dial(ctx context.Context, addr string, opts *ConnOptions) (*Client, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("amqp: parsing address %q: %w", addr, err)
	}

	var useTLS bool
	switch u.Scheme {
	case "amqp", "":
		useTLS = false
	case "amqps":
		useTLS = true
	default:
		return nil, fmt.Errorf("amqp: unsupported scheme %q", u.Scheme)
	}

	host := u.Hostname()
	port := u.Port()
	if port == "" {
		if useTLS {
			port = "5671"
		} else {
			port = "5672"
		}
	}
	hostport := net.JoinHostPort(host, port)

	var netConn net.Conn
	if deadline, ok := ctx.Deadline(); ok {
		d := net.Dialer{Deadline: deadline}
		if useTLS {
			netConn, err = tls.DialWithDialer(&d, "tcp", hostport, &tls.Config{ServerName: host})
		} else {
			netConn, err = d.DialContext(ctx, "tcp", hostport)
		}
	} else {
		if useTLS {
			netConn, err = tls.Dial("tcp", hostport, &tls.Config{ServerName: host})
		} else {
			netConn, err = net.Dial("tcp", hostport)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("amqp: dialing %s: %w", hostport, err)
	}

	if opts == nil {
		opts = new(ConnOptions)
	}
	if opts.HostName == "" {
		cp := *opts
		cp.HostName = host
		opts = &cp
	}

	conn, err := NewConn(ctx, netConn, opts)
	if err != nil {
		netConn.Close()
		return nil, err
	}
	return &Client{Conn: conn}, nil
}

// NewSession opens a new Session on the underlying Conn.
func (c *Client) NewSession(ctx context.Context, opts *SessionOptions) (*Session, error) {
	return c.Conn.NewSession(ctx, opts)
}

// Close closes the underlying Conn.
func (c *Client) Close(ctx context.Context) error {
	return c.Conn.Close(ctx)
}
