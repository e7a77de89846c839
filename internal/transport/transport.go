// Package transport opens the byte stream the STOMP session runs over.
// Both WebSocket and raw TCP endpoints are supported.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/omochice/roomchat/internal/transport/tcp"
	"github.com/omochice/roomchat/internal/transport/ws"
)

// ErrUnsupportedScheme is returned for endpoints that are neither ws(s) nor tcp.
var ErrUnsupportedScheme = errors.New("unsupported endpoint scheme")

// Conn abstracts a bidirectional stream for both TCP and WebSocket.
type Conn interface {
	io.ReadWriteCloser

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() net.Addr
}

// Dialer opens a Conn to endpoint.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, endpoint string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, endpoint string) (Conn, error) {
	return f(ctx, endpoint)
}

// NewDialer returns a Dialer that picks the transport from the endpoint
// scheme. timeout bounds the connect and upgrade; zero means no limit
// beyond ctx.
func NewDialer(timeout time.Duration) Dialer {
	return DialerFunc(func(ctx context.Context, endpoint string) (Conn, error) {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
		}

		switch u.Scheme {
		case "ws", "wss":
			return ws.Dial(ctx, endpoint, timeout)
		case "tcp":
			return tcp.Dial(ctx, u.Host, timeout)
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
		}
	})
}
