// Command adbhost is a cobra-based front end over the device package,
// wiring one subcommand per operation for interactive and scripted use.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	retry "github.com/avast/retry-go/v5"
	"github.com/spf13/cobra"

	"adbhost/adberrors"
	"adbhost/config"
	"adbhost/device"
	"adbhost/keystore"
	"adbhost/logging"
	"adbhost/pkgops"
)

var (
	flagAddr    string
	flagKeyDir  string
	flagVerbose bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := &cobra.Command{Use: "adbhost"}
	root.PersistentFlags().StringVar(&flagAddr, "addr", "", "host:port of an ADB-over-TCP endpoint")
	root.PersistentFlags().StringVar(&flagKeyDir, "key-dir", "", "directory holding adbkey/adbkey.pub (default $HOME/.android)")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		devicesCmd(),
		shellCmd(),
		pushCmd(),
		pullCmd(),
		lsCmd(),
		statCmd(),
		installCmd(),
		uninstallCmd(),
		rebootCmd(),
		pubkeyConvertCmd(),
		pubkeyFingerprintCmd(),
	)

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newLogger() logging.Logger {
	var l logging.Logger
	var err error
	if flagVerbose {
		l, err = logging.NewDevelopment()
	} else {
		l, err = logging.NewProduction()
	}
	if err != nil {
		return logging.Nop{}
	}
	return l
}

func newConfig() config.Config {
	cfg := config.Default()
	if flagKeyDir != "" {
		cfg.KeyDir = flagKeyDir
	}
	return cfg
}

// connectWithRetry dials addr and runs the handshake, retrying a bounded
// number of times when the device is waiting for the user to approve
// this host's key on-screen. Canceling ctx (Ctrl+C) aborts the in-flight
// attempt and any further retries.
func connectWithRetry(ctx context.Context, addr string, attempts int) (*device.Device, error) {
	log := newLogger()
	cfg := newConfig()

	var d *device.Device
	err := retry.New(
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.Delay(2*time.Second),
		retry.RetryIf(adberrorsIsPendingApproval),
	).Do(
		func() error {
			var err error
			d, err = device.DialTCP(ctx, addr, cfg, log)
			if err == nil {
				return nil
			}
			if adberrorsIsPendingApproval(err) {
				fmt.Fprintln(os.Stderr, "waiting for approval of this computer's RSA key on the device screen...")
			}
			return err
		},
	)
	return d, err
}

func adberrorsIsPendingApproval(err error) bool {
	return errors.Is(err, adberrors.ErrPendingUserApproval)
}

func requireAddr() string {
	if flagAddr == "" {
		fmt.Fprintln(os.Stderr, "adbhost: --addr is required (USB discovery needs an injected USBDeviceOpener)")
		os.Exit(1)
	}
	return flagAddr
}

func devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "Connect to --addr and print the device's identity banner",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			d, err := connectWithRetry(cmd.Context(), requireAddr(), 3)
			if err != nil {
				fatal(err)
			}
			defer d.Close()
			fmt.Printf("%s\t%s\n", flagAddr, d.PeerIdentity())
		},
	}
}

func shellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell <command>",
		Short: "Run a shell command on the device",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			d, err := connectWithRetry(ctx, requireAddr(), 3)
			if err != nil {
				fatal(err)
			}
			defer d.Close()
			out, err := d.Shell(ctx, joinArgs(args), true)
			if err != nil {
				fatal(err)
			}
			fmt.Print(out)
		},
	}
}

func pushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push <local> <remote>",
		Short: "Copy a local file to the device",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			d, err := connectWithRetry(ctx, requireAddr(), 3)
			if err != nil {
				fatal(err)
			}
			defer d.Close()
			if err := d.Push(ctx, args[0], args[1], 0); err != nil {
				fatal(err)
			}
		},
	}
}

func pullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull <remote> <local>",
		Short: "Copy a file from the device",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			d, err := connectWithRetry(ctx, requireAddr(), 3)
			if err != nil {
				fatal(err)
			}
			defer d.Close()
			if err := d.Pull(ctx, args[0], args[1]); err != nil {
				fatal(err)
			}
		},
	}
}

func lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <path>",
		Short: "List a remote directory",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			d, err := connectWithRetry(ctx, requireAddr(), 3)
			if err != nil {
				fatal(err)
			}
			defer d.Close()
			entries, err := d.List(ctx, args[0])
			if err != nil {
				fatal(err)
			}
			for _, e := range entries {
				fmt.Printf("%o\t%d\t%s\n", e.Mode, e.Size, e.Name)
			}
		},
	}
}

func statCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "Stat a remote path",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			d, err := connectWithRetry(ctx, requireAddr(), 3)
			if err != nil {
				fatal(err)
			}
			defer d.Close()
			st, err := d.Stat(ctx, args[0])
			if err != nil {
				fatal(err)
			}
			fmt.Printf("mode=%o size=%d mtime=%d\n", st.Mode, st.Size, st.Mtime)
		},
	}
}

func installCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install <apk>",
		Short: "Push and install an APK",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			d, err := connectWithRetry(ctx, requireAddr(), 3)
			if err != nil {
				fatal(err)
			}
			defer d.Close()
			if err := d.Install(ctx, args[0]); err != nil {
				fatal(err)
			}
		},
	}
}

func uninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall <package>",
		Short: "Uninstall a package",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			d, err := connectWithRetry(ctx, requireAddr(), 3)
			if err != nil {
				fatal(err)
			}
			defer d.Close()
			if err := d.Uninstall(ctx, args[0]); err != nil {
				fatal(err)
			}
		},
	}
}

func rebootCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "reboot",
		Short: "Reboot the device (optionally into recovery or bootloader)",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			d, err := connectWithRetry(ctx, requireAddr(), 3)
			if err != nil {
				fatal(err)
			}
			defer d.Close()
			if err := d.Reboot(ctx, pkgops.RebootMode(mode)); err != nil {
				fatal(err)
			}
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "recovery or bootloader; empty for a normal reboot")
	return cmd
}

func pubkeyConvertCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "pubkey-convert <file>",
		Short: "Parse an adbkey.pub file and print its modulus/exponent",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			data, err := os.ReadFile(args[0])
			if err != nil {
				fatal(err)
			}
			key, err := keystore.ParseADBPublicKey(data)
			if err != nil {
				fatal(err)
			}
			switch format {
			case "modulus":
				fmt.Printf("%x\n", key.Key.N)
			default:
				fmt.Printf("e=%d comment=%q\n", key.Key.E, key.Comment)
			}
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "modulus to print only the hex modulus")
	return cmd
}

func pubkeyFingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pubkey-fingerprint <file>",
		Short: "Print the MD5 fingerprint of an adbkey.pub file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			data, err := os.ReadFile(args[0])
			if err != nil {
				fatal(err)
			}
			key, err := keystore.ParseADBPublicKey(data)
			if err != nil {
				fatal(err)
			}
			fmt.Printf("%s %s\n", key.Fingerprint, key.Comment)
		},
	}
}

func joinArgs(args []string) string {
	out := args[0]
	for _, a := range args[1:] {
		out += " " + a
	}
	return out
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "adbhost:", err)
	os.Exit(1)
}
