package syncsvc

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"adbhost/stream"
	"adbhost/transport"
	"adbhost/wire"
)

func TestListReturnsEntriesInOrder(t *testing.T) {
	host, dev := transport.Pipe()
	defer host.Close()
	defer dev.Close()

	go func() {
		msg, err := wire.ReadMessage(dev)
		require.NoError(t, err)
		require.Equal(t, wire.CmdOPEN, msg.Command)
		localID := msg.Arg0
		require.NoError(t, wire.WriteMessage(dev, wire.CmdOKAY, 5, localID, nil))

		req, err := wire.ReadMessage(dev)
		require.NoError(t, err)
		require.Equal(t, "LIST", string(req.Payload[:4]))
		require.NoError(t, wire.WriteMessage(dev, wire.CmdOKAY, 5, localID, nil))

		dent := func(mode, size, mtime uint32, name string) []byte {
			buf := make([]byte, 0, 16+len(name))
			buf = append(buf, []byte("DENT")...)
			buf = append(buf, leUint32(mode)...)
			buf = append(buf, leUint32(size)...)
			buf = append(buf, leUint32(mtime)...)
			buf = append(buf, leUint32(uint32(len(name)))...)
			buf = append(buf, []byte(name)...)
			return buf
		}
		require.NoError(t, wire.WriteMessage(dev, wire.CmdWRTE, 5, localID, dent(modeIFDIR|0o755, 0, 1000, ".")))
		ack, err := wire.ReadMessage(dev)
		require.NoError(t, err)
		require.Equal(t, wire.CmdOKAY, ack.Command)

		require.NoError(t, wire.WriteMessage(dev, wire.CmdWRTE, 5, localID, dent(modeIFREG|0o644, 42, 2000, "file.txt")))
		ack, err = wire.ReadMessage(dev)
		require.NoError(t, err)
		require.Equal(t, wire.CmdOKAY, ack.Command)

		done := append([]byte("DONE"), make([]byte, 16)...)
		require.NoError(t, wire.WriteMessage(dev, wire.CmdWRTE, 5, localID, done))
		ack, err = wire.ReadMessage(dev)
		require.NoError(t, err)
		require.Equal(t, wire.CmdOKAY, ack.Command)

		clse, err := wire.ReadMessage(dev)
		require.NoError(t, err)
		require.Equal(t, wire.CmdCLSE, clse.Command)
		require.NoError(t, wire.WriteMessage(dev, wire.CmdCLSE, 5, localID, nil))
	}()

	svc := New(stream.NewEngine(host, nil), nil)
	entries, err := svc.List(context.Background(), "/sdcard")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, ".", entries[0].Name)
	require.True(t, entries[0].IsDir())
	require.Equal(t, "file.txt", entries[1].Name)
	require.True(t, entries[1].IsRegular())
	require.Equal(t, uint32(42), entries[1].Size)
}

func TestPullWritesAtomicallyViaPartFile(t *testing.T) {
	host, dev := transport.Pipe()
	defer host.Close()
	defer dev.Close()

	content := []byte("hello from device")
	go func() {
		msg, err := wire.ReadMessage(dev)
		require.NoError(t, err)
		localID := msg.Arg0
		require.NoError(t, wire.WriteMessage(dev, wire.CmdOKAY, 9, localID, nil))

		req, err := wire.ReadMessage(dev)
		require.NoError(t, err)
		require.Equal(t, "RECV", string(req.Payload[:4]))
		require.NoError(t, wire.WriteMessage(dev, wire.CmdOKAY, 9, localID, nil))

		data := append([]byte("DATA"), leUint32(uint32(len(content)))...)
		data = append(data, content...)
		require.NoError(t, wire.WriteMessage(dev, wire.CmdWRTE, 9, localID, data))
		ack, err := wire.ReadMessage(dev)
		require.NoError(t, err)
		require.Equal(t, wire.CmdOKAY, ack.Command)

		done := append([]byte("DONE"), leUint32(1000)...)
		require.NoError(t, wire.WriteMessage(dev, wire.CmdWRTE, 9, localID, done))
		ack, err = wire.ReadMessage(dev)
		require.NoError(t, err)
		require.Equal(t, wire.CmdOKAY, ack.Command)

		clse, err := wire.ReadMessage(dev)
		require.NoError(t, err)
		require.Equal(t, wire.CmdCLSE, clse.Command)
		require.NoError(t, wire.WriteMessage(dev, wire.CmdCLSE, 9, localID, nil))
	}()

	dir := t.TempDir()
	dest := filepath.Join(dir, "pulled.txt")
	svc := New(stream.NewEngine(host, nil), nil)
	require.NoError(t, svc.Pull(context.Background(), "/sdcard/x", dest))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, content, got)

	_, err = os.Stat(dest + ".part")
	require.True(t, os.IsNotExist(err))
}
