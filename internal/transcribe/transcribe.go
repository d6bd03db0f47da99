// Package transcribe defines the Engine interface for speech-to-text
// backends and a bounded-concurrency WorkerPool that fans Segments out to an
// Engine while preserving each stream's per-segment ordering on the way out.
//
// Unlike a real-time streaming STT provider, an Engine here is a batch call:
// VADSegmenter has already cut the audio into bounded segments, so
// transcription is "one segment in, one Transcription out" rather than a
// persistent session accepting a continuous PCM feed.
package transcribe

import (
	"context"

	"github.com/fuba/youtube2slackthread/pkg/types"
)

// Engine transcribes a single VAD segment. Implementations must be safe for
// concurrent use — WorkerPool calls Transcribe from multiple goroutines.
type Engine interface {
	// Transcribe runs speech-to-text over seg.PCM and returns the result.
	// The returned Transcription's StreamID, Seq, StartMs, EndMs, and
	// PrecedingSilenceMs are copied from seg by the caller, not the Engine.
	Transcribe(ctx context.Context, seg types.Segment) (text string, detectedLanguage string, err error)
}
