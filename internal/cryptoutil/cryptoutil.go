// Package cryptoutil implements the crypto primitives described in
// spec §4.A: key generation, padded authenticated encryption of CRDT
// updates, and Ed25519 detached signatures.
package cryptoutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/nacl/secretbox"
)

var log = logrus.WithFields(logrus.Fields{trace.Component: "sidecar:crypto"})

const (
	// KeySize is the width of every symmetric key used in this package.
	KeySize = 32
	// nonceSize is fixed by secretbox (XSalsa20-Poly1305).
	nonceSize = 24
	// blockSize is the padding granularity: every ciphertext's plaintext
	// portion is padded up to the next multiple of blockSize bytes, so
	// messages of very different lengths produce same-length ciphertexts
	// as long as they round up to the same block count.
	blockSize = 4096
	// lengthPrefixSize is the 4-byte big-endian length prefix written
	// before the padded plaintext.
	lengthPrefixSize = 4
)

// GenerateKey returns 32 bytes of cryptographically random key material.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, trace.Wrap(err)
	}
	return key, nil
}

// pad prepends a 4-byte big-endian length prefix to data, then pads the
// result up to the next multiple of blockSize so that ciphertext length
// alone cannot reveal the true length of data.
func pad(data []byte) []byte {
	prefixed := make([]byte, lengthPrefixSize+len(data))
	binary.BigEndian.PutUint32(prefixed, uint32(len(data)))
	copy(prefixed[lengthPrefixSize:], data)

	padded := len(prefixed)
	if rem := padded % blockSize; rem != 0 {
		padded += blockSize - rem
	}
	if padded == 0 {
		padded = blockSize
	}
	out := make([]byte, padded)
	copy(out, prefixed)
	return out
}

// unpad reverses pad, validating the embedded length against the amount
// of data actually present.
func unpad(padded []byte) ([]byte, error) {
	if len(padded) < lengthPrefixSize {
		return nil, trace.BadParameter("padded block too short")
	}
	n := binary.BigEndian.Uint32(padded[:lengthPrefixSize])
	rest := padded[lengthPrefixSize:]
	if uint64(n) > uint64(len(rest)) {
		return nil, trace.BadParameter("length prefix exceeds block size")
	}
	return rest[:n], nil
}

// EncryptUpdate pads data to the next 4096-byte block, prepends a fresh
// random nonce, and seals it with XSalsa20-Poly1305 (secretbox) under key.
// key must be exactly KeySize bytes.
func EncryptUpdate(data, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, trace.BadParameter("key must be %d bytes, got %d", KeySize, len(key))
	}

	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, trace.Wrap(err)
	}
	var secretKey [KeySize]byte
	copy(secretKey[:], key)

	plain := pad(data)
	sealed := secretbox.Seal(nil, plain, &nonce, &secretKey)

	out := make([]byte, 0, nonceSize+len(sealed))
	out = append(out, nonce[:]...)
	out = append(out, sealed...)
	return out, nil
}

// DecryptUpdate extracts the nonce, verifies the MAC, and returns the
// original plaintext. Any integrity or length failure returns a non-nil
// error and nil data — it never panics and never returns partial data.
func DecryptUpdate(blob, key []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, trace.BadParameter("key must be %d bytes, got %d", KeySize, len(key))
	}
	if len(blob) < nonceSize {
		return nil, trace.BadParameter("blob shorter than nonce")
	}

	var nonce [nonceSize]byte
	copy(nonce[:], blob[:nonceSize])
	var secretKey [KeySize]byte
	copy(secretKey[:], key)

	plain, ok := secretbox.Open(nil, blob[nonceSize:], &nonce, &secretKey)
	if !ok {
		return nil, trace.BadParameter("decryption failed: bad key or tampered ciphertext")
	}

	data, err := unpad(plain)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return data, nil
}

// GenerateSigningKey returns a fresh Ed25519 keypair: 32-byte public key,
// 64-byte secret key.
func GenerateSigningKey() (pub ed25519.PublicKey, priv ed25519.PrivateKey, err error) {
	pub, priv, err = ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	return pub, priv, nil
}

// Sign produces a 64-byte Ed25519 detached signature over msg.
func Sign(msg []byte, sk ed25519.PrivateKey) ([]byte, error) {
	if len(sk) != ed25519.PrivateKeySize {
		return nil, trace.BadParameter("secret key must be %d bytes", ed25519.PrivateKeySize)
	}
	return ed25519.Sign(sk, msg), nil
}

// Verify checks a detached Ed25519 signature against msg and pk.
func Verify(msg, sig []byte, pk ed25519.PublicKey) bool {
	if len(pk) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		log.Debug("verify called with malformed key or signature")
		return false
	}
	return ed25519.Verify(pk, msg, sig)
}
