package syncsvc

import (
	"context"
	"encoding/binary"

	"adbhost/stream"
	"adbhost/wire"
)

// maxChunk bounds the content of one DATA frame that Push sends: at most
// wire.MaxData bytes per frame. Pull accepts DATA frames of whatever
// length the device declares.
const maxChunk = wire.MaxData

// syncConn turns a Stream's WRTE-sized chunks into the arbitrary-length
// reads and writes the sync sub-protocol's framing needs, buffering
// whatever doesn't fit the caller's request.
type syncConn struct {
	st   *stream.Stream
	rbuf []byte
}

func (c *syncConn) readN(ctx context.Context, n int) ([]byte, error) {
	for len(c.rbuf) < n {
		chunk, err := c.st.Read(ctx)
		if err != nil {
			return nil, err
		}
		c.rbuf = append(c.rbuf, chunk...)
	}
	out := c.rbuf[:n]
	c.rbuf = c.rbuf[n:]
	return out, nil
}

func (c *syncConn) readID(ctx context.Context) (string, error) {
	b, err := c.readN(ctx, 4)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c *syncConn) readLen(ctx context.Context) (uint32, error) {
	b, err := c.readN(ctx, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (c *syncConn) writeAll(ctx context.Context, b []byte) error {
	for len(b) > 0 {
		n := len(b)
		if n > wire.MaxData {
			n = wire.MaxData
		}
		if err := c.st.Write(ctx, b[:n]); err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func leUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

// sendRequest writes a request frame: 4-byte ASCII id, 4-byte
// little-endian length, then arg itself.
func (c *syncConn) sendRequest(ctx context.Context, id, arg string) error {
	buf := make([]byte, 0, 8+len(arg))
	buf = append(buf, []byte(id)...)
	buf = append(buf, leUint32(uint32(len(arg)))...)
	buf = append(buf, []byte(arg)...)
	return c.writeAll(ctx, buf)
}

// sendChunk writes a length-prefixed frame whose id is a fixed protocol
// tag (DATA) and whose body is raw bytes rather than a string arg.
func (c *syncConn) sendChunk(ctx context.Context, id string, body []byte) error {
	buf := make([]byte, 0, 8+len(body))
	buf = append(buf, []byte(id)...)
	buf = append(buf, leUint32(uint32(len(body)))...)
	buf = append(buf, body...)
	return c.writeAll(ctx, buf)
}

func (c *syncConn) readFailureMessage(ctx context.Context) (string, error) {
	n, err := c.readLen(ctx)
	if err != nil {
		return "", err
	}
	msg, err := c.readN(ctx, int(n))
	if err != nil {
		return "", err
	}
	return string(msg), nil
}
