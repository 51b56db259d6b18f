package device

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"adbhost/adberrors"
	"adbhost/config"
	"adbhost/fsm"
	"adbhost/keystore"
	"adbhost/transport"
	"adbhost/wire"
)

func testConfig() config.Config {
	return config.Config{
		DefaultTimeout:  200 * time.Millisecond,
		ApprovalTimeout: 200 * time.Millisecond,
		SystemIdentity:  "host::test",
	}.WithDefaults()
}

func TestConnectThenShellRoundTrip(t *testing.T) {
	host, dev := transport.Pipe()
	defer host.Close()
	defer dev.Close()

	token := make([]byte, wire.AuthTokenLength)
	go func() {
		cnxn, err := wire.ReadMessage(dev)
		require.NoError(t, err)
		require.Equal(t, wire.CmdCNXN, cnxn.Command)
		require.NoError(t, wire.WriteMessage(dev, wire.CmdAUTH, wire.AuthToken, 0, token))

		sig, err := wire.ReadMessage(dev)
		require.NoError(t, err)
		require.Equal(t, wire.CmdAUTH, sig.Command)
		require.NoError(t, wire.WriteMessage(dev, wire.CmdCNXN, wire.AVersion, wire.MaxData, wire.NullTerminated("device::test")))

		open, err := wire.ReadMessage(dev)
		require.NoError(t, err)
		require.Equal(t, wire.CmdOPEN, open.Command)
		localID := open.Arg0
		require.NoError(t, wire.WriteMessage(dev, wire.CmdOKAY, 1, localID, nil))
		require.NoError(t, wire.WriteMessage(dev, wire.CmdWRTE, 1, localID, []byte("hi\n")))
		ack, err := wire.ReadMessage(dev)
		require.NoError(t, err)
		require.Equal(t, wire.CmdOKAY, ack.Command)
		require.NoError(t, wire.WriteMessage(dev, wire.CmdCLSE, 1, localID, nil))
	}()

	ks, err := keystore.New(t.TempDir(), "test@host")
	require.NoError(t, err)

	d := New(host, ks, testConfig(), nil)
	require.NoError(t, d.Connect(context.Background()))

	out, err := d.Shell(context.Background(), "echo hi", false)
	require.NoError(t, err)
	require.Equal(t, "hi\n", out)
}

func TestOperationBeforeConnectIsRejected(t *testing.T) {
	host, dev := transport.Pipe()
	defer host.Close()
	defer dev.Close()

	ks, err := keystore.New(t.TempDir(), "")
	require.NoError(t, err)

	d := New(host, ks, testConfig(), nil)
	_, err = d.Shell(context.Background(), "echo hi", false)
	require.ErrorIs(t, err, adberrors.ErrNotConnected)
}

// corruptedWRTEHeader builds a header-only WRTE frame with a deliberately
// wrong magic, the way a bit-flipped transmission would arrive on the
// wire. It carries no payload: DecodeHeader rejects it before the reader
// would otherwise try to consume a payload the header's own DataLength
// promised, so the frame must be exactly HeaderLength bytes or the
// corresponding Send would block forever waiting for a Recv that never
// comes.
func corruptedWRTEHeader(arg0, arg1 uint32) []byte {
	f := wire.Framer{}
	raw := f.Encode(wire.CmdWRTE, arg0, arg1, nil)
	raw[20] ^= 0xFF
	return raw
}

func TestPullProtocolErrorLeavesDeviceConnected(t *testing.T) {
	host, dev := transport.Pipe()
	defer host.Close()
	defer dev.Close()

	token := make([]byte, wire.AuthTokenLength)
	go func() {
		cnxn, err := wire.ReadMessage(dev)
		require.NoError(t, err)
		require.Equal(t, wire.CmdCNXN, cnxn.Command)
		require.NoError(t, wire.WriteMessage(dev, wire.CmdAUTH, wire.AuthToken, 0, token))

		sig, err := wire.ReadMessage(dev)
		require.NoError(t, err)
		require.Equal(t, wire.CmdAUTH, sig.Command)
		require.NoError(t, wire.WriteMessage(dev, wire.CmdCNXN, wire.AVersion, wire.MaxData, wire.NullTerminated("device::test")))

		// sync: stream for the doomed Pull.
		open, err := wire.ReadMessage(dev)
		require.NoError(t, err)
		require.Equal(t, wire.CmdOPEN, open.Command)
		require.Equal(t, "sync:\x00", string(open.Payload))
		syncLocal := open.Arg0
		require.NoError(t, wire.WriteMessage(dev, wire.CmdOKAY, 20, syncLocal, nil))

		req, err := wire.ReadMessage(dev)
		require.NoError(t, err)
		require.Equal(t, "RECV", string(req.Payload[:4]))
		require.NoError(t, wire.WriteMessage(dev, wire.CmdOKAY, 20, syncLocal, nil))

		// Instead of a well-formed DATA frame, send a WRTE with a corrupted
		// header magic.
		require.NoError(t, dev.Send(corruptedWRTEHeader(20, syncLocal)))

		clse, err := wire.ReadMessage(dev)
		require.NoError(t, err)
		require.Equal(t, wire.CmdCLSE, clse.Command)
		require.NoError(t, wire.WriteMessage(dev, wire.CmdCLSE, 20, syncLocal, nil))

		// shell: stream for the follow-up command, proving the Device
		// survived the protocol error above.
		open, err = wire.ReadMessage(dev)
		require.NoError(t, err)
		require.Equal(t, wire.CmdOPEN, open.Command)
		shellLocal := open.Arg0
		require.NoError(t, wire.WriteMessage(dev, wire.CmdOKAY, 21, shellLocal, nil))
		require.NoError(t, wire.WriteMessage(dev, wire.CmdWRTE, 21, shellLocal, []byte("still here\n")))
		ack, err := wire.ReadMessage(dev)
		require.NoError(t, err)
		require.Equal(t, wire.CmdOKAY, ack.Command)
		require.NoError(t, wire.WriteMessage(dev, wire.CmdCLSE, 21, shellLocal, nil))
	}()

	ks, err := keystore.New(t.TempDir(), "test@host")
	require.NoError(t, err)

	d := New(host, ks, testConfig(), nil)
	require.NoError(t, d.Connect(context.Background()))

	dest := filepath.Join(t.TempDir(), "fb0.raw")
	err = d.Pull(context.Background(), "/sdcard/x", dest)
	require.ErrorIs(t, err, adberrors.ErrProtocol)
	require.Equal(t, fsm.Connected, d.State())

	_, statErr := os.Stat(dest)
	require.True(t, os.IsNotExist(statErr))

	out, err := d.Shell(context.Background(), "echo still here", false)
	require.NoError(t, err)
	require.Equal(t, "still here\n", out)
	require.Equal(t, fsm.Connected, d.State())
}
