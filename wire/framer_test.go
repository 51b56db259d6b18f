package wire

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adbhost/adberrors"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := Framer{}
	payload := []byte("host::\x00")
	enc := f.Encode(CmdCNXN, AVersion, MaxData, payload)
	require.Len(t, enc, HeaderLength+len(payload))

	h, err := f.DecodeHeader(enc[:HeaderLength])
	require.NoError(t, err)
	assert.Equal(t, CmdCNXN, h.Command)
	assert.Equal(t, AVersion, h.Arg0)
	assert.Equal(t, uint32(MaxData), h.Arg1)
	assert.Equal(t, uint32(len(payload)), h.DataLength)
	assert.Equal(t, uint32(CmdCNXN)^0xFFFFFFFF, h.Magic)

	msg, err := f.DecodePayload(h, enc[HeaderLength:])
	require.NoError(t, err)
	assert.Equal(t, payload, msg.Payload)
	assert.Equal(t, CmdCNXN, msg.Command)
}

func TestDecodeHeaderBadMagic(t *testing.T) {
	f := Framer{}
	enc := f.Encode(CmdOKAY, 1, 2, nil)
	enc[20] ^= 0xFF // corrupt magic byte
	_, err := f.DecodeHeader(enc[:HeaderLength])
	require.Error(t, err)
}

func TestDecodePayloadBadChecksum(t *testing.T) {
	f := Framer{}
	payload := []byte("hello")
	enc := f.Encode(CmdWRTE, 1, 2, payload)
	h, err := f.DecodeHeader(enc[:HeaderLength])
	require.NoError(t, err)

	corrupted := append([]byte{}, payload...)
	corrupted[0] ^= 0xFF
	_, err = f.DecodePayload(h, corrupted)
	require.Error(t, err)
}

func TestDecodeHeaderRejectsOversizedPayload(t *testing.T) {
	f := Framer{}
	enc := f.Encode(CmdWRTE, 0, 0, nil)
	binary.LittleEndian.PutUint32(enc[12:16], MaxData+1)
	_, err := f.DecodeHeader(enc[:HeaderLength])
	require.ErrorIs(t, err, adberrors.ErrPayloadTooLarge)
}

func TestChecksumEmptyPayload(t *testing.T) {
	assert.Equal(t, uint32(0), Checksum(nil))
	assert.Equal(t, uint32(0), Checksum([]byte{}))
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "CNXN", CmdCNXN.String())
	assert.Equal(t, "UNKNOWN", Command(0).String())
}
