// Package vad defines the Engine interface for voice-activity-detection
// backends and provides a pure-Go energy/zero-crossing-rate engine.
//
// A VAD engine wraps a frame-level speech detector and surfaces it as a
// stateful, per-stream session. Each session maintains its own internal
// state (pre/post-pad counters, the in-progress segment buffer) so that
// multiple concurrent streams are processed independently.
//
// VAD is synchronous by design: ProcessFrame returns immediately with a
// result, making it suitable for a low-latency pipeline stage that gates
// transcription input.
//
// Implementations must be safe for concurrent use across different
// sessions. A single SessionHandle must not be shared across goroutines.
package vad

import "github.com/fuba/youtube2slackthread/pkg/types"

// Config holds the parameters for a VAD session (spec §4.7).
type Config struct {
	// StreamID identifies the owning stream; it is stamped onto every
	// Segment this session emits.
	StreamID string

	// SampleRate is the audio sample rate in Hz. ProcessFrame frames must
	// be sized for this rate; 16000 is the reference rate used throughout
	// streamthread.
	SampleRate int

	// FrameMs is the duration of each audio frame in milliseconds. One of
	// 10, 20, 30. Default: 30.
	FrameMs int

	// Aggressiveness controls how strict silence classification is,
	// 0 (lenient) to 3 (strict). Default: 2.
	Aggressiveness int

	// PrePadFrames is the number of consecutive speech frames required to
	// open a new segment, which is then backdated to the first of them.
	// Silence before the run is not counted. Default: 5.
	PrePadFrames int

	// PostPadFrames is the number of consecutive silent frames required to
	// close an open segment. Default: 10.
	PostPadFrames int

	// MinSegmentMs is the minimum length an emitted segment may have;
	// shorter isolated bursts are dropped. Default: 300.
	MinSegmentMs int64

	// MaxSegmentMs is the length at which an open segment is force-cut.
	// Default: 20000.
	MaxSegmentMs int64
}

// withDefaults fills zero fields with spec defaults. Aggressiveness is
// deliberately excluded: 0 is itself a valid, meaningful level (the most
// lenient), so its zero value can't double as an "unset" sentinel here —
// the config loader applies the documented default of 2 before a Config
// ever reaches an Engine.
func (c Config) withDefaults() Config {
	if c.FrameMs == 0 {
		c.FrameMs = 30
	}
	if c.PrePadFrames == 0 {
		c.PrePadFrames = 5
	}
	if c.PostPadFrames == 0 {
		c.PostPadFrames = 10
	}
	if c.MinSegmentMs == 0 {
		c.MinSegmentMs = 300
	}
	if c.MaxSegmentMs == 0 {
		c.MaxSegmentMs = 20000
	}
	return c
}

// Emission is the result of processing one frame. Segment is non-nil only
// on the frame that closes a speech segment, by post-pad silence or the
// max-length force-cut; its PrecedingSilenceMs field is SentenceAssembler's
// sole authority on inter-fragment gaps (see the Open Question decision on
// VAD/assembler silence ownership in DESIGN.md).
type Emission struct {
	Segment *types.Segment
}

// SessionHandle represents an active VAD session for a single audio stream.
// It is an interface so test code can supply scripted implementations
// without a live engine.
//
// A SessionHandle must not be shared between goroutines.
type SessionHandle interface {
	// ProcessFrame analyses one audio frame and returns the detection
	// result. frame must be raw 16-bit little-endian PCM sized for the
	// session's SampleRate and FrameMs. This method must not block.
	ProcessFrame(frame []byte) (Emission, error)

	// Reset clears all accumulated detection state without closing the
	// session, used when the underlying stream is interrupted and resumed.
	Reset()

	// Close releases resources. Safe to call more than once.
	Close() error
}

// Engine is the factory for VAD sessions.
//
// Implementations must be safe for concurrent use: multiple goroutines may
// call NewSession simultaneously to create independent sessions.
type Engine interface {
	// NewSession creates a new VAD session with the given configuration.
	// The session is immediately ready to accept audio frames.
	NewSession(cfg Config) (SessionHandle, error)
}
