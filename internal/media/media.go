// Package media defines the Source interface that produces a forward-only
// PCM audio stream for a video URL. The concrete implementation wraps a
// yt-dlp child process piping raw audio to its stdout; the interface exists
// so VADSegmenter and StreamController never depend on the downloader
// directly, and tests can inject a scripted PcmStream.
//
// This package lives under internal/ rather than pkg/ because, unlike the
// teacher's audio.Platform (meant for third-party adapters), streamthread
// has exactly one supported downloader today.
package media

import (
	"context"
	"io"
)

// SampleRate is the fixed PCM sample rate every Source must produce,
// matching VADSegmenter's and the STT engine's expected input.
const SampleRate = 16000

// BytesPerSample is the width of one 16-bit little-endian mono sample.
const BytesPerSample = 2

// PcmStream is a one-shot, forward-only reader of 16-bit little-endian
// mono PCM at SampleRate. Read returns io.EOF when the source naturally
// ends (the video finished). Close is idempotent and must terminate any
// backing child process within a bounded deadline (2s in package ytdlp,
// its closeDeadline); a process that does not exit
// in time is killed.
type PcmStream interface {
	io.Reader

	// Close stops production and releases resources. Safe to call more
	// than once.
	Close() error

	// Title returns stream metadata if the downloader surfaced any before
	// this call; ok is false if no metadata is available yet.
	Title() (title string, ok bool)
}

// Source opens PCM streams for URLs. Implementations must be safe for
// concurrent use: multiple streams across multiple users may call Open
// simultaneously.
type Source interface {
	// Open starts producing audio for url. cookies, if non-empty, is an
	// opaque cookies.txt blob handed to the downloader unparsed. Returns
	// *apierr.MediaStartFailure if the source could not begin producing
	// audio (bad URL, expired cookies, network error, bot challenge).
	Open(ctx context.Context, url string, cookies []byte) (PcmStream, error)
}
