// Package apierr defines the error taxonomy shared across streamthread's
// components. Component boundaries translate low-level errors (network,
// decryption, process-exit) into one of these types so that callers can
// branch on failure class with errors.As instead of string matching.
package apierr

import "fmt"

// ConfigError reports a missing or invalid startup input (encryption key,
// malformed config file). Fatal at startup.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s", e.Reason)
}

// AuthFailure reports that decryption failed or chat credentials were
// rejected. Non-retryable.
type AuthFailure struct {
	Reason string
}

func (e *AuthFailure) Error() string {
	return fmt.Sprintf("auth failure: %s", e.Reason)
}

// MediaClass classifies why a MediaSource failed to start.
type MediaClass int

const (
	MediaAuth MediaClass = iota
	MediaNotFound
	MediaNetwork
	MediaUnavailable
)

func (c MediaClass) String() string {
	switch c {
	case MediaAuth:
		return "auth"
	case MediaNotFound:
		return "not_found"
	case MediaNetwork:
		return "network"
	case MediaUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// MediaStartFailure reports that MediaSource could not begin producing
// audio. Class indicates the remediation the user should be told about.
type MediaStartFailure struct {
	Class MediaClass
	Cause error
}

func (e *MediaStartFailure) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("media start failure (%s): %v", e.Class, e.Cause)
	}
	return fmt.Sprintf("media start failure (%s)", e.Class)
}

func (e *MediaStartFailure) Unwrap() error { return e.Cause }

// UserMessage returns a short remediation hint suitable for posting into the
// chat thread.
func (e *MediaStartFailure) UserMessage() string {
	switch e.Class {
	case MediaAuth:
		return "❌ Cookie authentication failed — please re-upload cookies.txt and retry."
	case MediaNotFound:
		return "❌ Video not found — check the URL and retry."
	case MediaNetwork:
		return "❌ Network error reaching the source — retry in a moment."
	default:
		return "❌ Source unavailable — retry later."
	}
}

// TranscriptionError reports a per-segment transcription failure. The
// segment is dropped; three consecutive occurrences escalate the owning
// stream to FAILED.
type TranscriptionError struct {
	StreamID string
	Seq      int
	Cause    error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription error: stream=%s seq=%d: %v", e.StreamID, e.Seq, e.Cause)
}

func (e *TranscriptionError) Unwrap() error { return e.Cause }

// PostKind classifies a ChatClient post failure.
type PostKind int

const (
	PostTransient PostKind = iota
	PostRateLimited
	PostPermanent
)

func (k PostKind) String() string {
	switch k {
	case PostTransient:
		return "transient"
	case PostRateLimited:
		return "rate_limited"
	case PostPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// PostFailure reports a ChatClient failure. Transient and rate-limited
// failures are retried by the caller; permanent failures abort the stream.
type PostFailure struct {
	Kind       PostKind
	RetryAfter int64 // milliseconds, set when Kind == PostRateLimited
	Cause      error
}

func (e *PostFailure) Error() string {
	return fmt.Sprintf("post failure (%s): %v", e.Kind, e.Cause)
}

func (e *PostFailure) Unwrap() error { return e.Cause }

// Retryable reports whether the caller should retry this post.
func (e *PostFailure) Retryable() bool {
	return e.Kind == PostTransient || e.Kind == PostRateLimited
}

// CommandError reports a malformed or unauthorized user command. The
// message is safe to show to the user verbatim.
type CommandError struct {
	Message string
}

func (e *CommandError) Error() string {
	return e.Message
}

// IntegrityError reports a violated store invariant, such as a duplicate
// active stream for a user. No stream is created; the message is
// user-visible.
type IntegrityError struct {
	Message string
}

func (e *IntegrityError) Error() string {
	return e.Message
}

// BackpressureFailure reports that a stream's transcription queue could not
// drain fast enough: more than three segments were dropped for this stream
// within a 60-second window after each sat past max_stall_ms waiting for a
// worker slot (spec §5). The stream is escalated straight to FAILED.
type BackpressureFailure struct {
	StreamID string
	Drops    int
}

func (e *BackpressureFailure) Error() string {
	return fmt.Sprintf("backpressure failure: stream=%s drops=%d within 60s", e.StreamID, e.Drops)
}
