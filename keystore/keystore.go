// Package keystore loads or generates the 2048-bit RSA key pair ADB
// authentication is built on, persists it the way the upstream tool does
// (PEM private key, ADB-format public key, matching file modes), and
// signs the device's challenge token.
package keystore

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"

	retry "github.com/avast/retry-go/v5"
	"golang.org/x/sys/unix"
)

const (
	privateKeyMode = 0o600
	publicKeyMode  = 0o644
	lockFileName   = ".adbkey.lock"
)

// KeyStore owns the on-disk private/public key pair used to authenticate
// with a device.
type KeyStore struct {
	dir     string
	private *rsa.PrivateKey
	comment string
}

// New returns a KeyStore rooted at dir (created if absent). comment is the
// "user@host"-style string appended to the public key blob; pass "" to
// use a generated default.
func New(dir, comment string) (*KeyStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("keystore: create %s: %w", dir, err)
	}
	if comment == "" {
		comment = defaultComment()
	}
	return &KeyStore{dir: dir, comment: comment}, nil
}

func defaultComment() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	user := os.Getenv("USER")
	if user == "" {
		user = "adbhost"
	}
	return user + "@" + host
}

func (k *KeyStore) privatePath() string { return filepath.Join(k.dir, "adbkey") }
func (k *KeyStore) publicPath() string  { return filepath.Join(k.dir, "adbkey.pub") }
func (k *KeyStore) lockPath() string    { return filepath.Join(k.dir, lockFileName) }

// EnsureLoaded loads the private key from disk, generating and persisting
// a fresh one on first use. A file lock on the key directory is held
// across the check-then-generate sequence so two processes racing to
// perform a first run don't clobber each other's key: the
// second process simply loads what the first one just wrote.
func (k *KeyStore) EnsureLoaded() error {
	if k.private != nil {
		return nil
	}

	lock, err := os.OpenFile(k.lockPath(), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("keystore: open lock file: %w", err)
	}
	defer lock.Close()

	err = retry.New(
		retry.Attempts(5),
		retry.Delay(50*time.Millisecond),
	).Do(
		func() error { return unix.Flock(int(lock.Fd()), unix.LOCK_EX) },
	)
	if err != nil {
		return fmt.Errorf("keystore: acquire lock: %w", err)
	}
	defer unix.Flock(int(lock.Fd()), unix.LOCK_UN)

	if loaded, loadErr := k.tryLoad(); loadErr == nil {
		k.private = loaded
		return nil
	}

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("keystore: generate key: %w", err)
	}
	if err := k.persist(priv); err != nil {
		return err
	}
	k.private = priv
	return nil
}

func (k *KeyStore) tryLoad() (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(k.privatePath())
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("keystore: no PEM block in %s", k.privatePath())
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("keystore: parse private key: %w", err)
	}
	return key, nil
}

// persist writes both halves of priv atomically: write to a temp file in
// the same directory, fsync, rename over the final name. The same
// discipline is used for Pull's partial-file handling.
func (k *KeyStore) persist(priv *rsa.PrivateKey) error {
	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})
	if err := atomicWriteFile(k.privatePath(), privPEM, privateKeyMode); err != nil {
		return fmt.Errorf("keystore: write private key: %w", err)
	}

	blob, err := EncodeBlob(&priv.PublicKey, k.comment)
	if err != nil {
		return fmt.Errorf("keystore: encode public key: %w", err)
	}
	if err := atomicWriteFile(k.publicPath(), []byte(blob+"\n"), publicKeyMode); err != nil {
		return fmt.Errorf("keystore: write public key: %w", err)
	}
	return nil
}

func atomicWriteFile(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// Sign signs a device's 20-byte AUTH token with PKCS#1 v1.5 / SHA-1, the
// scheme ADB authentication requires.
func (k *KeyStore) Sign(token []byte) ([]byte, error) {
	if k.private == nil {
		return nil, fmt.Errorf("keystore: key not loaded")
	}
	if len(token) != 20 {
		return nil, fmt.Errorf("keystore: token must be 20 bytes, got %d", len(token))
	}
	return rsa.SignPKCS1v15(rand.Reader, k.private, crypto.SHA1, token)
}

// PublicKeyBlob returns the ADB-format public key line (no trailing NUL);
// callers that need the AUTH(RSAPUBLICKEY, ...) wire payload append one.
func (k *KeyStore) PublicKeyBlob() ([]byte, error) {
	if k.private == nil {
		return nil, fmt.Errorf("keystore: key not loaded")
	}
	blob, err := EncodeBlob(&k.private.PublicKey, k.comment)
	if err != nil {
		return nil, err
	}
	return []byte(blob), nil
}

// PublicKey returns the loaded key's public half.
func (k *KeyStore) PublicKey() *rsa.PublicKey {
	if k.private == nil {
		return nil
	}
	return &k.private.PublicKey
}
