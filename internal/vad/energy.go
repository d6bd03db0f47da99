package vad

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/fuba/youtube2slackthread/pkg/types"
)

// energyThresholds maps Config.Aggressiveness (0–3) to the RMS amplitude a
// frame must exceed to be classified as speech. Higher aggressiveness raises
// the bar, trading speech-start latency for fewer noise false positives.
var energyThresholds = [4]float64{250, 450, 800, 1400}

// zcrNoiseFloor is the zero-crossing rate above which a high-energy frame is
// still treated as silence — broadband noise (fan hum, stream static) tends
// to cross zero far more often per sample than voiced speech.
const zcrNoiseFloor = 0.45

// EnergyEngine is a pure-Go VAD Engine using short-term RMS energy and
// zero-crossing rate, with no external model dependency. It trades accuracy
// against a neural VAD for zero runtime deps and predictable CPU cost —
// acceptable because streamthread's VAD stage only gates what reaches the
// (comparatively expensive) transcription worker pool, it doesn't need to be
// word-boundary accurate.
type EnergyEngine struct{}

// NewSession creates a new energy/ZCR-based VAD session.
func (EnergyEngine) NewSession(cfg Config) (SessionHandle, error) {
	cfg = cfg.withDefaults()
	if cfg.SampleRate <= 0 {
		return nil, errors.New("vad: SampleRate must be positive")
	}
	if cfg.Aggressiveness < 0 || cfg.Aggressiveness > 3 {
		return nil, fmt.Errorf("vad: aggressiveness %d out of range [0,3]", cfg.Aggressiveness)
	}
	return &energySession{cfg: cfg, pendingFrames: make([][]byte, 0, cfg.PrePadFrames)}, nil
}

var _ Engine = EnergyEngine{}

// energySession implements SessionHandle. All state is owned by a single
// goroutine call chain; ProcessFrame/Reset/Close are not safe to call
// concurrently with each other, matching the package-level contract.
type energySession struct {
	mu  sync.Mutex
	cfg Config

	closed bool

	clockMs int64 // total stream-relative time processed so far

	inSegment    bool
	segStartMs   int64
	lastSpeechMs int64 // clockMs as of the last speech frame appended to segBuf
	segBuf       []byte
	speechRun    int
	silenceRun   int

	// segIsContinuation is true when the current segment began as the
	// force-cut remainder of a prior one rather than a fresh pre-pad
	// trigger; MinSegmentMs doesn't apply to it, since it is a fragment
	// of one unbroken speech run, not an isolated burst.
	segIsContinuation bool

	// pendingFrames buffers the PCM of an in-progress speech run that has
	// not yet reached PrePadFrames; flushed into segBuf once a segment
	// officially starts so the onset audio isn't lost.
	pendingFrames [][]byte

	// silenceSinceLastSegment accumulates silence duration since the last
	// segment ended (or since session start), and becomes the next
	// segment's PrecedingSilenceMs.
	silenceSinceLastSegment int64

	seq int
}

func (s *energySession) ProcessFrame(frame []byte) (Emission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Emission{}, errors.New("vad: ProcessFrame called on closed session")
	}

	frameMs := int64(s.cfg.FrameMs)
	speech := classifyFrame(frame, s.cfg.Aggressiveness)

	var emitted *types.Segment

	switch {
	case speech && !s.inSegment:
		s.speechRun++
		s.silenceRun = 0
		s.pendingFrames = append(s.pendingFrames, cloneFrame(frame))
		s.clockMs += frameMs
		if s.speechRun >= s.cfg.PrePadFrames {
			s.startSegment()
			s.lastSpeechMs = s.clockMs
		}

	case speech && s.inSegment:
		s.speechRun++
		s.silenceRun = 0
		s.segBuf = append(s.segBuf, frame...)
		s.clockMs += frameMs
		s.lastSpeechMs = s.clockMs
		if s.clockMs-s.segStartMs >= s.cfg.MaxSegmentMs {
			emitted = s.forceCut()
		}

	case !speech && s.inSegment:
		s.silenceRun++
		s.speechRun = 0
		s.clockMs += frameMs
		if s.silenceRun >= s.cfg.PostPadFrames {
			emitted = s.closeSegment()
		}

	default: // !speech && !inSegment
		s.speechRun = 0
		s.pendingFrames = s.pendingFrames[:0]
		s.clockMs += frameMs
		s.silenceSinceLastSegment += frameMs
	}

	return Emission{Segment: emitted}, nil
}

// startSegment backdates the segment start to the first frame of the
// current speech run and seeds segBuf with the buffered pre-pad audio.
func (s *energySession) startSegment() {
	s.inSegment = true
	s.segIsContinuation = false
	s.segStartMs = s.clockMs - int64(len(s.pendingFrames))*int64(s.cfg.FrameMs)
	s.segBuf = s.segBuf[:0]
	for _, f := range s.pendingFrames {
		s.segBuf = append(s.segBuf, f...)
	}
	s.pendingFrames = s.pendingFrames[:0]
}

// closeSegment ends the in-progress segment at the last confirmed speech
// frame — segBuf never accumulates silence, so no trimming is needed — and
// returns the segment if it meets MinSegmentMs, or nil if it was dropped as
// too short. Either way, session state resets to "not in segment".
func (s *energySession) closeSegment() *types.Segment {
	endMs := s.lastSpeechMs

	seg := &types.Segment{
		StreamID:           s.cfg.StreamID,
		Seq:                s.seq,
		StartMs:            s.segStartMs,
		EndMs:              endMs,
		PCM:                s.segBuf,
		PrecedingSilenceMs: s.silenceSinceLastSegment,
	}

	tooShort := !s.segIsContinuation && endMs-s.segStartMs < s.cfg.MinSegmentMs

	s.inSegment = false
	s.segBuf = nil
	s.silenceRun = 0
	s.speechRun = 0
	s.silenceSinceLastSegment = 0
	s.segIsContinuation = false

	if tooShort {
		return nil
	}
	s.seq++
	return seg
}

// forceCut emits the current segment at exactly MaxSegmentMs and
// immediately opens a continuation segment starting at the same instant, so
// a long continuous speech block is split with no gap between parts.
func (s *energySession) forceCut() *types.Segment {
	seg := &types.Segment{
		StreamID:           s.cfg.StreamID,
		Seq:                s.seq,
		StartMs:            s.segStartMs,
		EndMs:              s.segStartMs + s.cfg.MaxSegmentMs,
		PCM:                s.segBuf,
		ForcedCut:          true,
		PrecedingSilenceMs: s.silenceSinceLastSegment,
	}
	s.seq++
	s.silenceSinceLastSegment = 0

	s.segStartMs = seg.EndMs
	s.segBuf = nil
	s.segIsContinuation = true
	return seg
}

func (s *energySession) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clockMs = 0
	s.inSegment = false
	s.segBuf = nil
	s.speechRun = 0
	s.silenceRun = 0
	s.pendingFrames = s.pendingFrames[:0]
	s.silenceSinceLastSegment = 0
	s.seq = 0
}

func (s *energySession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.segBuf = nil
	s.pendingFrames = nil
	return nil
}

var _ SessionHandle = (*energySession)(nil)

func cloneFrame(frame []byte) []byte {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	return cp
}

// classifyFrame reports whether frame (16-bit little-endian PCM) is speech,
// using RMS energy gated by aggressiveness and a zero-crossing-rate noise
// floor to reject broadband noise.
func classifyFrame(frame []byte, aggressiveness int) bool {
	n := len(frame) / 2
	if n == 0 {
		return false
	}

	var sumSquares float64
	var crossings int
	var prev int16
	for i := 0; i < n; i++ {
		sample := int16(binary.LittleEndian.Uint16(frame[i*2 : i*2+2]))
		sumSquares += float64(sample) * float64(sample)
		if i > 0 && ((sample >= 0) != (prev >= 0)) {
			crossings++
		}
		prev = sample
	}

	rms := math.Sqrt(sumSquares / float64(n))
	zcr := float64(crossings) / float64(n)

	if rms < energyThresholds[aggressiveness] {
		return false
	}
	return zcr < zcrNoiseFloor
}
