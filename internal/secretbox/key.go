package secretbox

import (
	"crypto/sha256"
	"encoding/hex"
	"os"

	"github.com/fuba/youtube2slackthread/internal/apierr"
)

// EnvKeyVar is the environment variable that must carry the encryption key.
// Its absence is a fatal configuration error (spec §4.1).
const EnvKeyVar = "COOKIE_ENCRYPTION_KEY"

// deriveKey accepts either a hex-encoded 32-byte key or an arbitrary
// passphrase, in which case it is folded down to 32 bytes with SHA-256. This
// mirrors the fallback used by other stores in the ecosystem so operators
// can supply a human-chosen passphrase in development without losing the
// fixed-width key AEAD requires.
func deriveKey(raw string) [KeySize]byte {
	if decoded, err := hex.DecodeString(raw); err == nil && len(decoded) == KeySize {
		var key [KeySize]byte
		copy(key[:], decoded)
		return key
	}
	return sha256.Sum256([]byte(raw))
}

// LoadKeyFromEnv reads EnvKeyVar and constructs a Box. It is a fatal
// *apierr.ConfigError if the variable is unset or empty — per spec §4.1 "Key
// is loaded exactly once; its absence is a fatal configuration error."
func LoadKeyFromEnv() (*Box, error) {
	raw := os.Getenv(EnvKeyVar)
	if raw == "" {
		return nil, &apierr.ConfigError{Reason: EnvKeyVar + " is not set"}
	}
	key := deriveKey(raw)
	return New(key[:])
}
