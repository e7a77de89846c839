package client

import (
	"sync"

	"github.com/omochice/roomchat/internal/transport"
)

// watchedConn records the first read error of the transport. go-stomp only
// reports a dead connection to subscriptions it has already registered, so
// the pump watches the transport too.
type watchedConn struct {
	transport.Conn

	once   sync.Once
	broken chan struct{}
	err    error
}

func watch(c transport.Conn) *watchedConn {
	return &watchedConn{Conn: c, broken: make(chan struct{})}
}

func (c *watchedConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if err != nil {
		c.once.Do(func() {
			c.err = err
			close(c.broken)
		})
	}
	return n, err
}

// Broken is closed after the first read error.
func (c *watchedConn) Broken() <-chan struct{} {
	return c.broken
}

// Err returns the read error once Broken is closed.
func (c *watchedConn) Err() error {
	select {
	case <-c.broken:
		return c.err
	default:
		return nil
	}
}
