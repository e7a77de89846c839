// Package ws provides the WebSocket transport. STOMP frames travel as text
// messages; Conn re-exposes them as a plain byte stream.
package ws

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Subprotocols offered during the upgrade.
var Subprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

// Conn wraps a client-side WebSocket connection using gobwas/ws.
type Conn struct {
	conn net.Conn
	r    io.Reader

	readMu        sync.Mutex
	readBuffer    []byte
	readBufferPos int

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps an upgraded connection. br holds bytes the server sent
// right after the handshake and may be nil.
func NewConn(conn net.Conn, br *bufio.Reader) *Conn {
	c := &Conn{conn: conn, r: conn}
	if br != nil {
		c.r = io.MultiReader(br, conn)
	}
	return c
}

// Dial performs the WebSocket upgrade against endpoint.
func Dial(ctx context.Context, endpoint string, timeout time.Duration) (*Conn, error) {
	d := ws.Dialer{
		Timeout:   timeout,
		Protocols: Subprotocols,
	}
	conn, br, _, err := d.Dial(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}
	return NewConn(conn, br), nil
}

// Read copies the payload of the next data message into buf. A message
// larger than buf is returned over several calls.
func (c *Conn) Read(buf []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if c.readBufferPos < len(c.readBuffer) {
		n := copy(buf, c.readBuffer[c.readBufferPos:])
		c.readBufferPos += n
		if c.readBufferPos >= len(c.readBuffer) {
			c.readBuffer = nil
			c.readBufferPos = 0
		}
		return n, nil
	}

	for {
		data, _, err := wsutil.ReadServerData(c.rw())
		if err != nil {
			return 0, err
		}
		if len(data) == 0 {
			continue
		}

		n := copy(buf, data)
		if n < len(data) {
			c.readBuffer = data
			c.readBufferPos = n
		}
		return n, nil
	}
}

// Write sends data as one text message.
func (c *Conn) Write(data []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := wsutil.WriteClientText(c.conn, data); err != nil {
		return 0, err
	}
	return len(data), nil
}

// Close sends a close frame and closes the socket. It is safe to call more
// than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = wsutil.WriteClientMessage(c.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
		c.writeMu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// rw pairs the buffered reader with a writer that shares the write lock,
// so control frame replies (pong, close) do not interleave with Write.
func (c *Conn) rw() io.ReadWriter {
	return struct {
		io.Reader
		io.Writer
	}{c.r, lockedWriter{c}}
}

type lockedWriter struct{ c *Conn }

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.writeMu.Lock()
	defer w.c.writeMu.Unlock()
	return w.c.conn.Write(p)
}
