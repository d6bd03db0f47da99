package secretbox

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fuba/youtube2slackthread/internal/apierr"
)

func testBox(t *testing.T) *Box {
	t.Helper()
	key := bytes.Repeat([]byte{0x42}, KeySize)
	b, err := New(key)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestSeal_RoundTrip(t *testing.T) {
	b := testBox(t)
	plaintext := []byte("cookie jar contents")

	ct, err := b.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	pt, err := b.Open(ct)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !bytes.Equal(pt, plaintext) {
		t.Errorf("round trip mismatch: got %q, want %q", pt, plaintext)
	}
}

func TestSeal_FreshNoncePerCall(t *testing.T) {
	b := testBox(t)
	plaintext := []byte("same plaintext twice")

	ct1, err := b.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	ct2, err := b.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if bytes.Equal(ct1, ct2) {
		t.Errorf("two seals of the same plaintext produced identical ciphertext")
	}
}

func TestOpen_TamperDetected(t *testing.T) {
	b := testBox(t)
	ct, err := b.Seal([]byte("tamper me"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	ct[len(ct)-1] ^= 0xFF

	_, err = b.Open(ct)
	var authErr *apierr.AuthFailure
	if !errors.As(err, &authErr) {
		t.Fatalf("Open after tamper: got %v, want *apierr.AuthFailure", err)
	}
}

func TestOpen_TruncatedEnvelope(t *testing.T) {
	b := testBox(t)
	_, err := b.Open([]byte{1, 2, 3})
	var authErr *apierr.AuthFailure
	if !errors.As(err, &authErr) {
		t.Fatalf("Open truncated: got %v, want *apierr.AuthFailure", err)
	}
}

func TestNew_RejectsWrongKeySize(t *testing.T) {
	_, err := New([]byte("too short"))
	var cfgErr *apierr.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("New with bad key: got %v, want *apierr.ConfigError", err)
	}
}

func TestOpen_WrongKeyFails(t *testing.T) {
	b1 := testBox(t)
	b2, err := New(bytes.Repeat([]byte{0x99}, KeySize))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ct, err := b1.Seal([]byte("secret"))
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := b2.Open(ct); err == nil {
		t.Error("Open with wrong key: expected error, got nil")
	}
}
