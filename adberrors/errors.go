// Package adberrors collects the sentinel error values surfaced by every
// layer of the client, so callers can errors.Is/errors.As regardless of
// which package actually raised the failure.
package adberrors

import "errors"

var (
	// ErrNoDevice is returned by discovery when no matching USB device is present.
	ErrNoDevice = errors.New("adb: no device found")

	// ErrTimeout marks a Transport read/write that exceeded its deadline.
	ErrTimeout = errors.New("adb: transport timeout")

	// ErrDisconnected marks a Transport that will never produce more data.
	ErrDisconnected = errors.New("adb: transport disconnected")

	// ErrIO marks a Transport Send/Recv failure that is neither a timeout
	// nor a confirmed disconnect: a transient I/O error a retry might
	// still recover from.
	ErrIO = errors.New("adb: transport i/o error")

	// ErrAuthRefused means the device rejected both the stored signature and
	// the freshly-presented public key.
	ErrAuthRefused = errors.New("adb: authentication refused")

	// ErrPendingUserApproval means the device is waiting for the user to
	// accept the host's public key on-screen; Connect may be retried.
	ErrPendingUserApproval = errors.New("adb: waiting for user to approve this computer's RSA key")

	// ErrProtocol marks any violation of the wire-level invariants (magic,
	// checksum, id echo, unexpected command).
	ErrProtocol = errors.New("adb: protocol violation")

	// ErrStreamRefused means the device answered OPEN with CLSE.
	ErrStreamRefused = errors.New("adb: stream refused by device")

	// ErrStreamClosed is raised by Stream.Read/Write once CLSE has been seen.
	ErrStreamClosed = errors.New("adb: stream closed")

	// ErrShellRefused means a shell: OPEN was refused.
	ErrShellRefused = errors.New("adb: shell command refused")

	// ErrPayloadTooLarge means an encoded payload exceeds MAXDATA.
	ErrPayloadTooLarge = errors.New("adb: payload exceeds MAXDATA")

	// ErrBadMagic means a decoded header failed the magic invariant.
	ErrBadMagic = errors.New("adb: bad header magic")

	// ErrBadChecksum means a decoded payload failed the checksum invariant.
	ErrBadChecksum = errors.New("adb: bad payload checksum")

	// ErrNotConnected means an operation requiring CONNECTED was attempted
	// while the FSM was in another state.
	ErrNotConnected = errors.New("adb: device not connected")

	// ErrBusy means a command was dispatched while another stream was active.
	ErrBusy = errors.New("adb: device busy with another command")
)

// SyncError carries the message a device sent back in a SYNC FAIL frame.
type SyncError struct {
	Op      string
	Path    string
	Message string
}

func (e *SyncError) Error() string {
	if e.Path != "" {
		return "adb: sync " + e.Op + " " + e.Path + ": " + e.Message
	}
	return "adb: sync " + e.Op + ": " + e.Message
}
