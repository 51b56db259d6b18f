// Package shell runs remote commands over a "shell:" stream.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"

	"adbhost/adberrors"
	"adbhost/logging"
	"adbhost/stream"
)

// Service issues shell: commands over one Engine.
type Service struct {
	eng *stream.Engine
	log logging.Logger
}

// New returns a Service backed by eng.
func New(eng *stream.Engine, log logging.Logger) *Service {
	if log == nil {
		log = logging.Nop{}
	}
	return &Service{eng: eng, log: log}
}

// Shell runs cmd and returns its combined stdout/stderr once the device
// closes the stream. If echo is set, each chunk is also logged as it
// arrives instead of only at the end. Canceling ctx stops issuing further
// reads, sends CLSE, and drains whatever the device was already sending
// before Shell returns ctx.Err().
func (s *Service) Shell(ctx context.Context, cmd string, echo bool) (string, error) {
	st, err := s.eng.Open(ctx, "shell:"+cmd)
	if err != nil {
		if errors.Is(err, adberrors.ErrStreamRefused) {
			return "", fmt.Errorf("%w: %s", adberrors.ErrShellRefused, cmd)
		}
		return "", err
	}
	defer st.Close()

	var out []byte
	for {
		chunk, err := st.Read(ctx)
		if errors.Is(err, adberrors.ErrStreamClosed) {
			break
		}
		if err != nil {
			return string(out), err
		}
		if echo {
			s.log.Infof("shell: %s", chunk)
		}
		out = append(out, chunk...)
	}
	return string(out), nil
}

// ShellStream runs cmd and exposes its output as an io.Reader, for
// callers that want to consume it incrementally (a long-running logcat,
// say) rather than buffering the whole session. ctx governs every Read
// the returned io.Reader performs for the life of the stream, since
// io.Reader's own Read method has no room for one.
func (s *Service) ShellStream(ctx context.Context, cmd string) (io.Reader, error) {
	st, err := s.eng.Open(ctx, "shell:"+cmd)
	if err != nil {
		if errors.Is(err, adberrors.ErrStreamRefused) {
			return nil, fmt.Errorf("%w: %s", adberrors.ErrShellRefused, cmd)
		}
		return nil, err
	}
	return &shellReader{ctx: ctx, st: st}, nil
}

// shellReader adapts a Stream's chunked Read to io.Reader, buffering
// whatever doesn't fit in the caller's slice.
type shellReader struct {
	ctx context.Context
	st  *stream.Stream
	buf []byte
}

func (r *shellReader) Read(p []byte) (int, error) {
	for len(r.buf) == 0 {
		chunk, err := r.st.Read(r.ctx)
		if errors.Is(err, adberrors.ErrStreamClosed) {
			return 0, io.EOF
		}
		if err != nil {
			return 0, err
		}
		r.buf = chunk
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}
