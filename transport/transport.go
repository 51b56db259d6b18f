// Package transport abstracts the raw byte-buffer send/receive operations
// an ADB connection rides on. USB enumeration and bulk-transfer I/O are
// out of scope for this module (no libusb-style dependency is available
// in this build's third-party stack): USBDeviceOpener is the seam a
// caller plugs a concrete USB backend into. The TCP transport below is
// fully implemented because it needs nothing beyond the standard library,
// and it is what the test suite's mock device rides on.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"adbhost/adberrors"
)

// Transport sends and receives raw byte buffers to one endpoint pair
// (USB bulk in/out, or a TCP socket).
type Transport interface {
	// Send writes the entire buffer, or returns an error classified per
	// the adberrors taxonomy (ErrTimeout, ErrDisconnected, or a wrapped I/O
	// error).
	Send(b []byte) error

	// Recv reads exactly n bytes, or returns an error classified the same way.
	Recv(n int) ([]byte, error)

	// SetDeadline bounds the next Send/Recv pair. A zero Time clears it.
	SetDeadline(t time.Time) error

	// Close releases the underlying endpoint.
	Close() error
}

// classify maps a raw net.Error into the adberrors taxonomy, preserving
// the original error as the wrapped cause. Three buckets: a timeout is
// retryable, disconnection means the peer is gone for good, and
// anything else is a transient I/O error distinct from both.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return fmt.Errorf("%w: %v", adberrors.ErrTimeout, err)
	}
	if isDisconnect(err) {
		return fmt.Errorf("%w: %v", adberrors.ErrDisconnected, err)
	}
	return fmt.Errorf("%w: %v", adberrors.ErrIO, err)
}

// isDisconnect reports whether err means the connection will never
// produce more data, as opposed to a transient I/O failure that a retry
// might recover from.
func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed)
}

// RunWithContext runs op against t, forcing t's deadline to the current
// time if ctx is canceled before op returns, so a blocked Send/Recv
// unblocks immediately instead of waiting out its own timeout. When
// ctx is what ended op, ctx.Err() is returned in place of the resulting
// timeout error.
func RunWithContext(ctx context.Context, t Transport, op func() error) error {
	if ctx == nil || ctx.Done() == nil {
		return op()
	}
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = t.SetDeadline(time.Now())
		case <-stop:
		}
	}()
	err := op()
	close(stop)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
