// Package stream implements the OPEN/OKAY/WRTE/CLSE sub-protocol that
// carries every shell and sync session over an authenticated Transport.
package stream

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"adbhost/adberrors"
	"adbhost/logging"
	"adbhost/transport"
	"adbhost/wire"
)

// closeGraceTimeout bounds how long Close waits for the peer's own CLSE
// before giving up and declaring the stream closed anyway.
const closeGraceTimeout = 500 * time.Millisecond

// State is one of a Stream's four lifecycle states.
type State int

const (
	Opening State = iota
	Open
	Closing
	Closed
)

func (s State) String() string {
	switch s {
	case Opening:
		return "OPENING"
	case Open:
		return "OPEN"
	case Closing:
		return "CLOSING"
	case Closed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Engine opens Streams over one Transport, allocating local ids from a
// counter scoped to the Device that owns it.
type Engine struct {
	t      transport.Transport
	log    logging.Logger
	nextID uint32
}

// NewEngine returns an Engine bound to t.
func NewEngine(t transport.Transport, log logging.Logger) *Engine {
	if log == nil {
		log = logging.Nop{}
	}
	return &Engine{t: t, log: log}
}

// Open sends OPEN(local_id, 0, destination\0) and awaits the device's
// OKAY or CLSE. destination is a service string such as "shell:ls" or
// "sync:"; Open appends its own NUL terminator. If ctx is canceled
// before the device replies, Open aborts the wait and returns ctx.Err().
func (e *Engine) Open(ctx context.Context, destination string) (*Stream, error) {
	id := atomic.AddUint32(&e.nextID, 1)

	var msg wire.Message
	err := transport.RunWithContext(ctx, e.t, func() error {
		if err := wire.WriteMessage(e.t, wire.CmdOPEN, id, 0, wire.NullTerminated(destination)); err != nil {
			return err
		}
		var err error
		msg, err = wire.ReadMessage(e.t)
		return err
	})
	if err != nil {
		return nil, err
	}
	switch msg.Command {
	case wire.CmdOKAY:
		if msg.Arg1 != id {
			return nil, fmt.Errorf("%w: OKAY ack'd local_id %d, want %d", adberrors.ErrProtocol, msg.Arg1, id)
		}
		e.log.Debugf("stream: opened %q as local=%d remote=%d", destination, id, msg.Arg0)
		return &Stream{t: e.t, log: e.log, localID: id, remoteID: msg.Arg0, state: Open}, nil
	case wire.CmdCLSE:
		return nil, adberrors.ErrStreamRefused
	default:
		return nil, fmt.Errorf("%w: unexpected %s in response to OPEN", adberrors.ErrProtocol, msg.Command)
	}
}

// Stream is one logical OPEN/OKAY/WRTE/CLSE session, enforcing the
// protocol's window-of-one flow control: every Write blocks for its OKAY
// before returning, and Read eagerly acknowledges what it receives.
type Stream struct {
	t        transport.Transport
	log      logging.Logger
	localID  uint32
	remoteID uint32
	state    State
}

// State reports the stream's current lifecycle state.
func (s *Stream) State() State { return s.state }

// Write sends one WRTE and blocks until the peer's matching OKAY
// arrives. If ctx is canceled first, no further WRTE is sent and
// ctx.Err() is returned; the caller is responsible for calling Close to
// send CLSE and drain whatever the device was already sending.
func (s *Stream) Write(ctx context.Context, payload []byte) error {
	if s.state != Open {
		return adberrors.ErrStreamClosed
	}
	var msg wire.Message
	err := transport.RunWithContext(ctx, s.t, func() error {
		if err := wire.WriteMessage(s.t, wire.CmdWRTE, s.localID, s.remoteID, payload); err != nil {
			return err
		}
		var err error
		msg, err = wire.ReadMessage(s.t)
		return err
	})
	if err != nil {
		return err
	}
	switch msg.Command {
	case wire.CmdOKAY:
		if msg.Arg0 != s.remoteID || msg.Arg1 != s.localID {
			return fmt.Errorf("%w: OKAY id mismatch after WRTE", adberrors.ErrProtocol)
		}
		return nil
	case wire.CmdCLSE:
		s.state = Closed
		return adberrors.ErrStreamClosed
	default:
		return fmt.Errorf("%w: unexpected %s in response to WRTE", adberrors.ErrProtocol, msg.Command)
	}
}

// Read receives one WRTE payload and immediately acknowledges it with
// OKAY, per the protocol's flow-control contract. If ctx is canceled
// before a WRTE arrives, Read returns ctx.Err() without acknowledging
// anything.
func (s *Stream) Read(ctx context.Context) ([]byte, error) {
	if s.state != Open {
		return nil, adberrors.ErrStreamClosed
	}
	var msg wire.Message
	err := transport.RunWithContext(ctx, s.t, func() error {
		var err error
		msg, err = wire.ReadMessage(s.t)
		return err
	})
	if err != nil {
		return nil, err
	}
	switch msg.Command {
	case wire.CmdWRTE:
		if msg.Arg0 != s.remoteID || msg.Arg1 != s.localID {
			return nil, fmt.Errorf("%w: WRTE id mismatch", adberrors.ErrProtocol)
		}
		if err := wire.WriteMessage(s.t, wire.CmdOKAY, s.localID, s.remoteID, nil); err != nil {
			return nil, err
		}
		return msg.Payload, nil
	case wire.CmdCLSE:
		s.state = Closed
		return nil, adberrors.ErrStreamClosed
	default:
		return nil, fmt.Errorf("%w: unexpected %s while reading stream", adberrors.ErrProtocol, msg.Command)
	}
}

// Close sends CLSE and drains inbound traffic until the peer's own CLSE
// arrives or closeGraceTimeout elapses, leaving the Transport clean for
// the Device's next command.
func (s *Stream) Close() error {
	if s.state == Closed {
		return nil
	}
	s.state = Closing
	if err := wire.WriteMessage(s.t, wire.CmdCLSE, s.localID, s.remoteID, nil); err != nil {
		s.state = Closed
		return err
	}

	deadline := time.Now().Add(closeGraceTimeout)
	for {
		if err := s.t.SetDeadline(deadline); err != nil {
			break
		}
		msg, err := wire.ReadMessage(s.t)
		if err != nil {
			break
		}
		if msg.Command == wire.CmdCLSE {
			break
		}
	}
	_ = s.t.SetDeadline(time.Time{})
	s.state = Closed
	return nil
}
