// Package pkgops composes push+shell sequences for package install,
// uninstall, and device reboot.
package pkgops

import (
	"context"
	"fmt"
	"path"
	"strings"

	"adbhost/logging"
	"adbhost/shell"
	"adbhost/stream"
	"adbhost/syncsvc"
)

// RebootMode selects the target of a Reboot: the device's normal boot,
// or one of the two alternate boot targets.
type RebootMode string

const (
	RebootNormal     RebootMode = ""
	RebootRecovery   RebootMode = "recovery"
	RebootBootloader RebootMode = "bootloader"
)

const remoteStagingDir = "/data/local/tmp"

// Ops composes Install/Uninstall/Reboot from a Shell and SyncService
// sharing one Engine, matching the one-stream-at-a-time invariant each
// of those already enforces individually.
type Ops struct {
	eng   *stream.Engine
	shell *shell.Service
	sync  *syncsvc.Service
	log   logging.Logger
}

// New returns an Ops backed by eng.
func New(eng *stream.Engine, log logging.Logger) *Ops {
	if log == nil {
		log = logging.Nop{}
	}
	return &Ops{
		eng:   eng,
		shell: shell.New(eng, log),
		sync:  syncsvc.New(eng, log),
		log:   log,
	}
}

// Install pushes apk to a staging path on the device and installs it via
// pm install -r, then removes the staged copy.
func (o *Ops) Install(ctx context.Context, apk string) error {
	remote := path.Join(remoteStagingDir, path.Base(apk))
	if err := o.sync.Push(ctx, apk, remote, 0o644); err != nil {
		return fmt.Errorf("pkgops: install %s: %w", apk, err)
	}

	out, err := o.shell.Shell(ctx, fmt.Sprintf("pm install -r %s", shellQuote(remote)), false)
	if _, rmErr := o.shell.Shell(ctx, "rm "+shellQuote(remote), false); rmErr != nil {
		o.log.Warnf("pkgops: failed to remove staged apk %s: %v", remote, rmErr)
	}
	if err != nil {
		return fmt.Errorf("pkgops: install %s: %w", apk, err)
	}
	if !strings.Contains(out, "Success") {
		return fmt.Errorf("pkgops: install %s failed: %s", apk, strings.TrimSpace(out))
	}
	return nil
}

// Uninstall removes pkg from the device via pm uninstall.
func (o *Ops) Uninstall(ctx context.Context, pkg string) error {
	out, err := o.shell.Shell(ctx, "pm uninstall "+pkg, false)
	if err != nil {
		return fmt.Errorf("pkgops: uninstall %s: %w", pkg, err)
	}
	out = strings.TrimSpace(out)
	if out != "Success" && !strings.Contains(out, "Unknown package") {
		return fmt.Errorf("pkgops: uninstall %s failed: %s", pkg, out)
	}
	return nil
}

// Reboot opens "reboot:" (optionally suffixed with a mode) and waits for
// the device to close the stream, which it does immediately before it
// actually restarts.
func (o *Ops) Reboot(ctx context.Context, mode RebootMode) error {
	dest := "reboot:"
	if mode != RebootNormal {
		dest += string(mode)
	}
	st, err := o.eng.Open(ctx, dest)
	if err != nil {
		return fmt.Errorf("pkgops: reboot: %w", err)
	}
	return st.Close()
}

func shellQuote(s string) string {
	if !strings.ContainsAny(s, " ()[]&|;<>$`\"'") {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		if strings.ContainsRune(" ()[]&|;<>$`\"'", r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
