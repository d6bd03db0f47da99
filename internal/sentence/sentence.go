// Package sentence implements SentenceAssembler: it consumes transcribed
// text fragments for a stream, in arrival order, and emits sentence-bounded
// Sentences using punctuation, inter-fragment silence, and length rules
// (spec §4.9).
package sentence

import "github.com/fuba/youtube2slackthread/pkg/types"

// Config tunes one Assembler's boundary rules.
type Config struct {
	// SoftLen is the minimum buffer length (in runes) a soft terminator
	// (",", "、", ";", ":") must accompany to count as a boundary. Default
	// 120.
	SoftLen int

	// HardLen forces a boundary once the buffer exceeds this length (in
	// runes) regardless of punctuation. Default 400.
	HardLen int

	// FlushSilenceMs is the inter-fragment silence threshold, reported by
	// VADSegmenter as Transcription.PrecedingSilenceMs, above which the
	// current buffer is flushed before the new fragment is appended.
	// Default 1500.
	FlushSilenceMs int64
}

func (c Config) withDefaults() Config {
	if c.SoftLen == 0 {
		c.SoftLen = 120
	}
	if c.HardLen == 0 {
		c.HardLen = 400
	}
	if c.FlushSilenceMs == 0 {
		c.FlushSilenceMs = 1500
	}
	return c
}

// Assembler buffers one stream's Transcription fragments and emits Sentences.
// Implementations are not required to be safe for concurrent use; callers
// (StreamController) drive one Assembler per stream from a single goroutine.
type Assembler interface {
	// AddFragment appends tr to the buffer and returns zero or more
	// Sentences that the buffer's content made ready for emission, in
	// order. The buffer may retain a non-terminated remainder between
	// calls.
	AddFragment(tr types.Transcription) []types.Sentence

	// Flush emits the current buffer as a final Sentence regardless of
	// whether it ends on a terminator, and clears the buffer. Returns nil
	// if the buffer is empty. Call this when a stream stops or enters its
	// STOPPING grace period so no trailing fragment is lost.
	Flush() *types.Sentence

	// Reset clears all buffered state and resets the ordinal counter,
	// without changing Config. Used when a stream is retried under a
	// fresh stream_id.
	Reset()
}
