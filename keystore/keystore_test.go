package keystore

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnsureLoadedGeneratesThenReloads(t *testing.T) {
	dir := t.TempDir()

	ks1, err := New(dir, "test@host")
	require.NoError(t, err)
	require.NoError(t, ks1.EnsureLoaded())

	privBytes, err := os.ReadFile(ks1.privatePath())
	require.NoError(t, err)
	require.NotEmpty(t, privBytes)

	ks2, err := New(dir, "test@host")
	require.NoError(t, err)
	require.NoError(t, ks2.EnsureLoaded())

	reloaded, err := os.ReadFile(ks2.privatePath())
	require.NoError(t, err)
	require.Equal(t, privBytes, reloaded, "second EnsureLoaded must read the existing key, not regenerate it")

	require.Equal(t, ks1.PublicKey().N, ks2.PublicKey().N)
}

func TestSignAndPublicKeyBlobRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ks, err := New(dir, "round@trip")
	require.NoError(t, err)
	require.NoError(t, ks.EnsureLoaded())

	token := make([]byte, 20)
	for i := range token {
		token[i] = byte(i)
	}
	sig, err := ks.Sign(token)
	require.NoError(t, err)
	require.NotEmpty(t, sig)

	blob, err := ks.PublicKeyBlob()
	require.NoError(t, err)

	parsed, err := ParseADBPublicKey(blob)
	require.NoError(t, err)
	require.Equal(t, "round@trip", parsed.Comment)
	require.Equal(t, ks.PublicKey().N, parsed.Key.N)
	require.Equal(t, ks.PublicKey().E, parsed.Key.E)
}

func TestSignRejectsWrongTokenLength(t *testing.T) {
	dir := t.TempDir()
	ks, err := New(dir, "")
	require.NoError(t, err)
	require.NoError(t, ks.EnsureLoaded())

	_, err = ks.Sign([]byte("too short"))
	require.Error(t, err)
}

func TestFilePermissions(t *testing.T) {
	dir := t.TempDir()
	ks, err := New(dir, "")
	require.NoError(t, err)
	require.NoError(t, ks.EnsureLoaded())

	privInfo, err := os.Stat(ks.privatePath())
	require.NoError(t, err)
	require.Equal(t, os.FileMode(privateKeyMode), privInfo.Mode().Perm())

	pubInfo, err := os.Stat(ks.publicPath())
	require.NoError(t, err)
	require.Equal(t, os.FileMode(publicKeyMode), pubInfo.Mode().Perm())
}
