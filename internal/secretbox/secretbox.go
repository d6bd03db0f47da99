// Package secretbox provides authenticated symmetric encryption of small
// blobs (chat tokens, cookie jars, user settings) at rest.
//
// Seal produces a self-contained envelope: a fresh random nonce followed by
// the ciphertext and its Poly1305 authentication tag. Open verifies the tag
// before returning plaintext, failing with AuthFailure on any tampering —
// a flipped bit, a truncated envelope, or a key mismatch are all
// indistinguishable failures by design.
package secretbox

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/fuba/youtube2slackthread/internal/apierr"
)

// KeySize is the required length, in bytes, of the encryption key.
const KeySize = 32

// nonceSize is the length of the random nonce prepended to every envelope.
const nonceSize = 24

// Box seals and opens small blobs with a single 256-bit key loaded once at
// process startup. It is safe for concurrent use.
type Box struct {
	key [KeySize]byte
}

// New creates a Box from a raw 32-byte key. Returns a *apierr.ConfigError if
// key is not exactly KeySize bytes — the caller's COOKIE_ENCRYPTION_KEY
// input must already be decoded to raw bytes (see LoadKeyFromEnv).
func New(key []byte) (*Box, error) {
	if len(key) != KeySize {
		return nil, &apierr.ConfigError{
			Reason: fmt.Sprintf("encryption key must be %d bytes, got %d", KeySize, len(key)),
		}
	}
	b := &Box{}
	copy(b.key[:], key)
	return b, nil
}

// Seal encrypts plaintext and returns an envelope: nonce || ciphertext || tag.
// A fresh random nonce is generated for every call.
func (b *Box) Seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("secretbox: generate nonce: %w", err)
	}
	out := make([]byte, 0, nonceSize+len(plaintext)+secretbox.Overhead)
	out = append(out, nonce[:]...)
	out = secretbox.Seal(out, plaintext, &nonce, &b.key)
	return out, nil
}

// Open verifies and decrypts an envelope produced by Seal. It returns
// *apierr.AuthFailure if the envelope is too short, the key is wrong, or the
// ciphertext has been tampered with.
func (b *Box) Open(envelope []byte) ([]byte, error) {
	if len(envelope) < nonceSize {
		return nil, &apierr.AuthFailure{Reason: "ciphertext envelope too short"}
	}
	var nonce [nonceSize]byte
	copy(nonce[:], envelope[:nonceSize])

	plaintext, ok := secretbox.Open(nil, envelope[nonceSize:], &nonce, &b.key)
	if !ok {
		return nil, &apierr.AuthFailure{Reason: "ciphertext authentication failed"}
	}
	return plaintext, nil
}

// SealString is a convenience wrapper for Seal over string plaintext.
func (b *Box) SealString(plaintext string) ([]byte, error) {
	return b.Seal([]byte(plaintext))
}

// OpenString is a convenience wrapper for Open returning plaintext as a string.
func (b *Box) OpenString(envelope []byte) (string, error) {
	pt, err := b.Open(envelope)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
