package transport

import (
	"fmt"
	"io"
	"net"
	"time"
)

// TCPTransport speaks the ADB wire protocol over a plain TCP socket, the
// way `adb connect host:port` does for a device already listening on
// tcp/5555. There is no background read loop or event dispatcher: the
// wire protocol here is half-duplex with a window of one, so every read
// is driven synchronously by whichever component is currently waiting
// on a reply.
type TCPTransport struct {
	conn net.Conn
}

// DialTCP connects to addr (host:port) and returns a ready Transport.
func DialTCP(addr string, timeout time.Duration) (*TCPTransport, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, classify(err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return &TCPTransport{conn: conn}, nil
}

// NewTCPTransport wraps an already-established connection (used by tests
// to drive both ends of a net.Pipe).
func NewTCPTransport(conn net.Conn) *TCPTransport {
	return &TCPTransport{conn: conn}
}

func (t *TCPTransport) Send(b []byte) error {
	_, err := t.conn.Write(b)
	if err != nil {
		return classify(err)
	}
	return nil
}

func (t *TCPTransport) Recv(n int) ([]byte, error) {
	buf := make([]byte, n)
	_, err := io.ReadFull(t.conn, buf)
	if err != nil {
		return nil, classify(err)
	}
	return buf, nil
}

func (t *TCPTransport) SetDeadline(tm time.Time) error {
	return t.conn.SetDeadline(tm)
}

func (t *TCPTransport) Close() error {
	return t.conn.Close()
}

// RemoteAddr reports the address of the peer, useful for log lines.
func (t *TCPTransport) RemoteAddr() string {
	if t.conn == nil {
		return ""
	}
	return fmt.Sprintf("%s", t.conn.RemoteAddr())
}
