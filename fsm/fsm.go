// Package fsm drives the ADB connection handshake: NOT_CONNECTED ->
// WAIT_FOR_AUTH -> SEND_PRIVATE_KEY -> SEND_PUBLIC_KEY -> CONNECTED. Per
// the design notes, states are an explicit tagged variant with exhaustive
// handling in the driver loop below, never compared as raw integers at
// call sites.
package fsm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"adbhost/adberrors"
	"adbhost/config"
	"adbhost/keystore"
	"adbhost/logging"
	"adbhost/transport"
	"adbhost/wire"
)

// State is one of the five ConnectionFSM states.
type State int

const (
	NotConnected State = iota
	WaitForAuth
	SendPrivateKey
	SendPublicKey
	Connected
)

func (s State) String() string {
	switch s {
	case NotConnected:
		return "NOT_CONNECTED"
	case WaitForAuth:
		return "WAIT_FOR_AUTH"
	case SendPrivateKey:
		return "SEND_PRIVATE_KEY"
	case SendPublicKey:
		return "SEND_PUBLIC_KEY"
	case Connected:
		return "CONNECTED"
	default:
		return "UNKNOWN"
	}
}

// FSM drives the handshake described above over one Transport, using ks
// to answer the device's AUTH challenges.
type FSM struct {
	t            transport.Transport
	ks           *keystore.KeyStore
	cfg          config.Config
	log          logging.Logger
	state        State
	peerIdentity string
}

// New returns an FSM in NOT_CONNECTED, ready for Connect.
func New(t transport.Transport, ks *keystore.KeyStore, cfg config.Config, log logging.Logger) *FSM {
	if log == nil {
		log = logging.Nop{}
	}
	return &FSM{t: t, ks: ks, cfg: cfg.WithDefaults(), log: log, state: NotConnected}
}

// State reports the current state.
func (f *FSM) State() State { return f.state }

// PeerIdentity returns the banner string the device sent with its CNXN
// reply, once CONNECTED.
func (f *FSM) PeerIdentity() string { return f.peerIdentity }

// Connect drives NOT_CONNECTED through to CONNECTED, or returns the
// classified error for whichever step failed along the way. Canceling
// ctx aborts whichever read or write is currently in flight and resets
// the FSM to NOT_CONNECTED; it does not touch the Transport itself.
func (f *FSM) Connect(ctx context.Context) error {
	if err := f.ks.EnsureLoaded(); err != nil {
		return err
	}

	f.state = NotConnected
	identity := wire.NullTerminated(f.cfg.SystemIdentity)
	if err := f.writeMessage(ctx, wire.CmdCNXN, wire.AVersion, wire.MaxData, identity); err != nil {
		return err
	}
	f.state = WaitForAuth
	f.log.Debugf("fsm: sent CNXN, entering %s", f.state)

	var token []byte
	for {
		if err := ctx.Err(); err != nil {
			f.state = NotConnected
			return err
		}
		switch f.state {
		case WaitForAuth:
			msg, err := f.readWithin(ctx, f.cfg.DefaultTimeout)
			if errors.Is(err, adberrors.ErrTimeout) {
				f.state = NotConnected
				return err
			}
			if err != nil {
				f.state = NotConnected
				return err
			}
			switch msg.Command {
			case wire.CmdAUTH:
				if msg.Arg0 != wire.AuthToken {
					f.state = NotConnected
					return fmt.Errorf("%w: expected AUTH(TOKEN), got AUTH(%d)", adberrors.ErrProtocol, msg.Arg0)
				}
				token = msg.Payload
				f.state = SendPrivateKey
			case wire.CmdCNXN:
				f.peerIdentity = string(msg.Payload)
				f.state = Connected
				return nil
			default:
				f.state = NotConnected
				return fmt.Errorf("%w: unexpected %s in %s", adberrors.ErrProtocol, msg.Command, WaitForAuth)
			}

		case SendPrivateKey:
			sig, err := f.ks.Sign(token)
			if err != nil {
				return fmt.Errorf("fsm: sign token: %w", err)
			}
			if err := f.writeMessage(ctx, wire.CmdAUTH, wire.AuthSignature, 0, sig); err != nil {
				f.state = NotConnected
				return err
			}
			msg, err := f.readWithin(ctx, f.cfg.DefaultTimeout)
			if errors.Is(err, adberrors.ErrTimeout) {
				f.state = NotConnected
				return err
			}
			if err != nil {
				f.state = NotConnected
				return err
			}
			switch msg.Command {
			case wire.CmdCNXN:
				f.peerIdentity = string(msg.Payload)
				f.state = Connected
				return nil
			case wire.CmdAUTH:
				// Device rejected the signature; it issues a fresh
				// challenge and expects the public key next.
				f.state = SendPublicKey
			default:
				f.state = NotConnected
				return fmt.Errorf("%w: unexpected %s in %s", adberrors.ErrProtocol, msg.Command, SendPrivateKey)
			}

		case SendPublicKey:
			pub, err := f.ks.PublicKeyBlob()
			if err != nil {
				return fmt.Errorf("fsm: public key blob: %w", err)
			}
			payload := append(pub, 0)
			if err := f.writeMessage(ctx, wire.CmdAUTH, wire.AuthRSAPublicKey, 0, payload); err != nil {
				f.state = NotConnected
				return err
			}
			msg, err := f.readWithin(ctx, f.cfg.ApprovalTimeout)
			if errors.Is(err, adberrors.ErrTimeout) {
				f.state = NotConnected
				f.log.Infof("fsm: timed out waiting for user to approve this host's key")
				return adberrors.ErrPendingUserApproval
			}
			if err != nil {
				f.state = NotConnected
				return err
			}
			if msg.Command != wire.CmdCNXN {
				f.state = NotConnected
				return fmt.Errorf("%w: unexpected %s in %s", adberrors.ErrProtocol, msg.Command, SendPublicKey)
			}
			f.peerIdentity = string(msg.Payload)
			f.state = Connected
			return nil
		}
	}
}

// Close resets the FSM to NOT_CONNECTED. It does not touch the Transport;
// the owning Device decides whether to close the underlying connection.
func (f *FSM) Close() {
	f.state = NotConnected
}

func (f *FSM) writeMessage(ctx context.Context, cmd wire.Command, arg0, arg1 uint32, payload []byte) error {
	return transport.RunWithContext(ctx, f.t, func() error {
		return wire.WriteMessage(f.t, cmd, arg0, arg1, payload)
	})
}

func (f *FSM) readWithin(ctx context.Context, d time.Duration) (wire.Message, error) {
	if err := f.t.SetDeadline(time.Now().Add(d)); err != nil {
		return wire.Message{}, err
	}
	defer f.t.SetDeadline(time.Time{})
	var msg wire.Message
	err := transport.RunWithContext(ctx, f.t, func() error {
		var err error
		msg, err = wire.ReadMessage(f.t)
		return err
	})
	return msg, err
}
