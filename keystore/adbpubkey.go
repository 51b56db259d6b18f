package keystore

import (
	"crypto/md5"
	"crypto/rsa"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// rsaNumWords is the word count of a 2048-bit modulus in the ADB public
// key structure (2048 / 32).
const rsaNumWords = 64

// ParsedADBKey is what ParseADBPublicKey recovers from an ADB-format
// public key string: the key material plus the metadata the upstream
// tooling prints alongside it (fingerprint, comment).
type ParsedADBKey struct {
	Key         *rsa.PublicKey
	Comment     string
	Fingerprint string
}

// encodeADBPublicKey serializes pub into the upstream ADB RSAPublicKey
// binary structure: len(1 word) | n0inv(1 word) | n[len words, LE] |
// RR[len words, LE] | exponent(1 word), all little-endian. This is the
// encode half of parseADBPublicKeyStruct below, worked out as its exact
// inverse.
func encodeADBPublicKey(pub *rsa.PublicKey) ([]byte, error) {
	if pub.E != 65537 {
		return nil, fmt.Errorf("adb pubkey: unsupported exponent %d (only 65537 is supported)", pub.E)
	}
	n := pub.N
	numWords := (n.BitLen() + 31) / 32
	if numWords != rsaNumWords {
		return nil, fmt.Errorf("adb pubkey: unsupported modulus size %d bits (only 2048-bit keys are supported)", n.BitLen())
	}

	r32 := new(big.Int).Lsh(big.NewInt(1), 32)
	nMod32 := new(big.Int).Mod(n, r32)
	inv := new(big.Int).ModInverse(nMod32, r32)
	if inv == nil {
		return nil, fmt.Errorf("adb pubkey: modulus has no inverse mod 2^32")
	}
	n0inv := new(big.Int).Sub(r32, inv)
	n0inv.Mod(n0inv, r32)

	r := new(big.Int).Lsh(big.NewInt(1), uint(numWords*32))
	rr := new(big.Int).Mul(r, r)
	rr.Mod(rr, n)

	buf := make([]byte, 4+4+numWords*4+numWords*4+4)
	off := 0
	binary.LittleEndian.PutUint32(buf[off:], uint32(numWords))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(n0inv.Uint64()))
	off += 4
	writeLEWords(buf[off:off+numWords*4], n, numWords)
	off += numWords * 4
	writeLEWords(buf[off:off+numWords*4], rr, numWords)
	off += numWords * 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(pub.E))

	return buf, nil
}

// writeLEWords writes val into dst as numWords little-endian 32-bit words,
// most significant word last (i.e. the full byte-reversal of val's
// big-endian, zero-padded representation).
func writeLEWords(dst []byte, val *big.Int, numWords int) {
	width := numWords * 4
	be := val.Bytes()
	padded := make([]byte, width)
	copy(padded[width-len(be):], be)
	for i := 0; i < width; i++ {
		dst[i] = padded[width-1-i]
	}
}

// readLEWords is the inverse of writeLEWords: it reads a little-endian
// word block back into a big-endian byte slice suitable for big.Int.SetBytes.
func readLEWords(src []byte) []byte {
	be := make([]byte, len(src))
	for i, b := range src {
		be[len(src)-1-i] = b
	}
	return be
}

// EncodeBlob renders pub as the ADB wire format: base64(structure) + " " +
// comment, byte-compatible with the upstream adb_auth_host.c / ssh-keygen
// -like `adb pubkey` tooling so a device's existing trusted-key allowlist
// keeps recognizing this key.
func EncodeBlob(pub *rsa.PublicKey, comment string) (string, error) {
	raw, err := encodeADBPublicKey(pub)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw) + " " + comment, nil
}

// ParseADBPublicKey parses a public key string in the ADB wire format
// (base64 structure, then a space and a comment, with optional trailing
// NULs) back into an rsa.PublicKey plus its MD5 fingerprint and comment.
func ParseADBPublicKey(data []byte) (*ParsedADBKey, error) {
	data = trimTrailingNUL(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("adb pubkey: empty data")
	}

	b64, comment, _ := splitOnce(string(data), ' ')
	comment = strings.TrimSpace(comment)

	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("adb pubkey: decode base64: %w", err)
	}
	return parseADBPublicKeyStruct(raw, comment)
}

func parseADBPublicKeyStruct(data []byte, comment string) (*ParsedADBKey, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("adb pubkey: truncated header")
	}
	numWords := binary.LittleEndian.Uint32(data[0:4])
	expected := 4 + 4 + int(numWords)*4 + int(numWords)*4 + 4
	if len(data) != expected {
		return nil, fmt.Errorf("adb pubkey: length mismatch, want %d got %d", expected, len(data))
	}

	off := 8 // skip len, n0inv
	nBytes := readLEWords(data[off : off+int(numWords)*4])
	off += int(numWords) * 4
	off += int(numWords) * 4 // skip RR
	exponent := binary.LittleEndian.Uint32(data[off:])
	if exponent != 3 && exponent != 65537 {
		return nil, fmt.Errorf("adb pubkey: unsupported exponent %d", exponent)
	}

	key := &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(exponent),
	}

	sum := md5.Sum(data)
	return &ParsedADBKey{
		Key:         key,
		Comment:     comment,
		Fingerprint: hex.EncodeToString(sum[:]),
	}, nil
}

func trimTrailingNUL(b []byte) []byte {
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return b
}

func splitOnce(s string, sep byte) (before, after string, found bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}
