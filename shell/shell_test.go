package shell

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"adbhost/adberrors"
	"adbhost/stream"
	"adbhost/transport"
	"adbhost/wire"
)

func mockShellDevice(t *testing.T, dev transport.Transport, chunks []string) {
	go func() {
		msg, err := wire.ReadMessage(dev)
		require.NoError(t, err)
		require.Equal(t, wire.CmdOPEN, msg.Command)
		localID := msg.Arg0
		require.NoError(t, wire.WriteMessage(dev, wire.CmdOKAY, 99, localID, nil))

		for _, c := range chunks {
			require.NoError(t, wire.WriteMessage(dev, wire.CmdWRTE, 99, localID, []byte(c)))
			ack, err := wire.ReadMessage(dev)
			require.NoError(t, err)
			require.Equal(t, wire.CmdOKAY, ack.Command)
		}
		require.NoError(t, wire.WriteMessage(dev, wire.CmdCLSE, 99, localID, nil))
	}()
}

func TestShellAccumulatesUntilClose(t *testing.T) {
	host, dev := transport.Pipe()
	defer host.Close()
	defer dev.Close()

	mockShellDevice(t, dev, []string{"hello", "\n"})

	svc := New(stream.NewEngine(host, nil), nil)
	out, err := svc.Shell(context.Background(), "echo hello", false)
	require.NoError(t, err)
	require.Equal(t, "hello\n", out)
}

func TestShellStreamReadsIncrementally(t *testing.T) {
	host, dev := transport.Pipe()
	defer host.Close()
	defer dev.Close()

	mockShellDevice(t, dev, []string{"one", "two"})

	svc := New(stream.NewEngine(host, nil), nil)
	r, err := svc.ShellStream(context.Background(), "logcat")
	require.NoError(t, err)

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "onetwo", string(data))
}

func TestShellRefused(t *testing.T) {
	host, dev := transport.Pipe()
	defer host.Close()
	defer dev.Close()

	go func() {
		msg, err := wire.ReadMessage(dev)
		require.NoError(t, err)
		require.NoError(t, wire.WriteMessage(dev, wire.CmdCLSE, 0, msg.Arg0, nil))
	}()

	svc := New(stream.NewEngine(host, nil), nil)
	_, err := svc.Shell(context.Background(), "blocked", false)
	require.ErrorIs(t, err, adberrors.ErrShellRefused)
}
