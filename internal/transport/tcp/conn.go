// Package tcp provides the raw TCP transport for STOMP brokers that accept
// plain socket connections.
package tcp

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Conn wraps net.Conn.
type Conn struct {
	conn net.Conn
}

// NewConn wraps a net.Conn.
func NewConn(conn net.Conn) *Conn {
	return &Conn{conn: conn}
}

// Dial connects to address (host:port).
func Dial(ctx context.Context, address string, timeout time.Duration) (*Conn, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	return NewConn(conn), nil
}

func (c *Conn) Read(buf []byte) (int, error) {
	return c.conn.Read(buf)
}

func (c *Conn) Write(data []byte) (int, error) {
	return c.conn.Write(data)
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
