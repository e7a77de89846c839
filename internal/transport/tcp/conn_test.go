package tcp_test

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/omochice/roomchat/internal/transport/tcp"
)

func TestConn_RoundTrip(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer listener.Close()

	go func() {
		c, err := listener.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		io.Copy(c, c)
	}()

	conn, err := tcp.Dial(context.Background(), listener.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if conn.RemoteAddr().String() != listener.Addr().String() {
		t.Errorf("RemoteAddr() = %s, want %s", conn.RemoteAddr(), listener.Addr())
	}

	if _, err := conn.Write([]byte("ping")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(conn, buf); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(buf) != "ping" {
		t.Errorf("Read() = %q, want ping", buf)
	}
}

func TestDial_Refused(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	if _, err := tcp.Dial(context.Background(), addr, time.Second); err == nil {
		t.Error("Dial() to a closed port should fail")
	}
}
