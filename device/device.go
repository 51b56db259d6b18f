// Package device ties a Transport, a ConnectionFSM, and the higher-level
// services (shell, sync, package ops) into one handle, enforcing that at
// most one command is in flight and that every stream it opens reaches
// CLOSED before control returns to the caller.
package device

import (
	"context"
	"os"
	"sync"

	"adbhost/adberrors"
	"adbhost/config"
	"adbhost/fsm"
	"adbhost/keystore"
	"adbhost/logging"
	"adbhost/pkgops"
	"adbhost/shell"
	"adbhost/stream"
	"adbhost/syncsvc"
	"adbhost/transport"
)

// Device owns one Transport for the lifetime of a session. Every public
// method takes Device.mu, guarding the one underlying socket against
// concurrent commands.
type Device struct {
	mu  sync.Mutex
	t   transport.Transport
	fsm *fsm.FSM
	cfg config.Config
	log logging.Logger

	eng   *stream.Engine
	shell *shell.Service
	sync  *syncsvc.Service
	pkg   *pkgops.Ops
}

// New returns a Device over t, not yet connected. ks is loaded lazily by
// Connect.
func New(t transport.Transport, ks *keystore.KeyStore, cfg config.Config, log logging.Logger) *Device {
	if log == nil {
		log = logging.Nop{}
	}
	cfg = cfg.WithDefaults()
	return &Device{
		t:   t,
		fsm: fsm.New(t, ks, cfg, log),
		cfg: cfg,
		log: log,
	}
}

// DialTCP dials a TCP-exposed ADB endpoint, loads (or generates) a key
// pair from cfg.KeyDir, and runs the handshake. This is the shape most
// integration tests and the CLI use when no USB backend is wired in.
func DialTCP(ctx context.Context, addr string, cfg config.Config, log logging.Logger) (*Device, error) {
	cfg = cfg.WithDefaults()
	t, err := transport.DialTCP(addr, cfg.DefaultTimeout)
	if err != nil {
		return nil, err
	}
	ks, err := keystore.New(cfg.KeyDir, "")
	if err != nil {
		t.Close()
		return nil, err
	}
	d := New(t, ks, cfg, log)
	if err := d.Connect(ctx); err != nil {
		t.Close()
		return nil, err
	}
	return d, nil
}

// Discover enumerates USB candidates via opener, picks the first match,
// loads the host key pair, and connects.
func Discover(ctx context.Context, opener transport.USBDeviceOpener, cfg config.Config, log logging.Logger) (*Device, error) {
	cfg = cfg.WithDefaults()
	t, _, err := transport.DiscoverUSB(opener)
	if err != nil {
		return nil, err
	}
	ks, err := keystore.New(cfg.KeyDir, "")
	if err != nil {
		t.Close()
		return nil, err
	}
	d := New(t, ks, cfg, log)
	if err := d.Connect(ctx); err != nil {
		t.Close()
		return nil, err
	}
	return d, nil
}

// Connect drives the authentication handshake and, on success, wires up
// the stream-level services. Safe to call again after ErrPendingUserApproval.
// Canceling ctx aborts the handshake and leaves the Device NOT_CONNECTED.
func (d *Device) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.fsm.Connect(ctx); err != nil {
		return err
	}
	d.eng = stream.NewEngine(d.t, d.log)
	d.shell = shell.New(d.eng, d.log)
	d.sync = syncsvc.New(d.eng, d.log)
	d.pkg = pkgops.New(d.eng, d.log)
	return nil
}

// Close resets the connection state and closes the underlying Transport.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fsm.Close()
	return d.t.Close()
}

func (d *Device) requireConnected() error {
	if d.fsm.State() != fsm.Connected {
		return adberrors.ErrNotConnected
	}
	return nil
}

// Shell runs cmd and returns its output once the device closes the
// stream. Canceling ctx sends CLSE for the stream and drains whatever
// the device was already sending; the Device itself remains CONNECTED
// and ready for the next command.
func (d *Device) Shell(ctx context.Context, cmd string, echo bool) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireConnected(); err != nil {
		return "", err
	}
	return d.shell.Shell(ctx, cmd, echo)
}

// List returns the directory entries at path.
func (d *Device) List(ctx context.Context, path string) ([]syncsvc.SyncEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireConnected(); err != nil {
		return nil, err
	}
	return d.sync.List(ctx, path)
}

// Stat retrieves mode/size/mtime for path.
func (d *Device) Stat(ctx context.Context, path string) (*syncsvc.SyncStat, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireConnected(); err != nil {
		return nil, err
	}
	return d.sync.Stat(ctx, path)
}

// Push copies localPath to remotePath with the given mode.
func (d *Device) Push(ctx context.Context, localPath, remotePath string, mode os.FileMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireConnected(); err != nil {
		return err
	}
	return d.sync.Push(ctx, localPath, remotePath, mode)
}

// Pull copies remotePath to localPath.
func (d *Device) Pull(ctx context.Context, remotePath, localPath string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireConnected(); err != nil {
		return err
	}
	return d.sync.Pull(ctx, remotePath, localPath)
}

// Install pushes and installs an APK.
func (d *Device) Install(ctx context.Context, apk string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireConnected(); err != nil {
		return err
	}
	return d.pkg.Install(ctx, apk)
}

// Uninstall removes pkg.
func (d *Device) Uninstall(ctx context.Context, pkg string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireConnected(); err != nil {
		return err
	}
	return d.pkg.Uninstall(ctx, pkg)
}

// Reboot restarts the device into the given mode.
func (d *Device) Reboot(ctx context.Context, mode pkgops.RebootMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.requireConnected(); err != nil {
		return err
	}
	return d.pkg.Reboot(ctx, mode)
}

// State reports the ConnectionFSM's current state.
func (d *Device) State() fsm.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fsm.State()
}

// PeerIdentity returns the device's CNXN banner, once CONNECTED.
func (d *Device) PeerIdentity() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fsm.PeerIdentity()
}
