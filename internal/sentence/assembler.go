package sentence

import (
	"strings"
	"unicode"

	"github.com/fuba/youtube2slackthread/pkg/types"
)

var strongTerminators = map[rune]bool{
	'.': true, '?': true, '!': true,
	'。': true, '？': true, '！': true,
}

var softTerminators = map[rune]bool{
	',': true, '、': true, ';': true, ':': true,
}

// StreamAssembler is the concrete Assembler for one stream.
type StreamAssembler struct {
	cfg Config

	buf     []rune
	startMs int64
	endMs   int64
	ord     int

	// tailStart is the buffer index where the most recently appended
	// fragment's text begins; prevEndMs is the EndMs of the fragment before it.
	tailStart int
	prevEndMs int64
}

var _ Assembler = (*StreamAssembler)(nil)

// New creates a StreamAssembler. A zero Config gets spec defaults.
func New(cfg Config) *StreamAssembler {
	return &StreamAssembler{cfg: cfg.withDefaults()}
}

// AddFragment implements Assembler.
//
// Fragment text is appended to the buffer verbatim — no space is inserted
// between fragments. This is deliberate: whisper.cpp's own segment text
// already carries whatever leading space belongs to a continuation word, and
// relying on that (rather than always inserting one) is what keeps a
// terminator that lands mid-token — "example." immediately followed by the
// next fragment "com/path" — from ever being followed by real whitespace in
// the buffer. Strong- and soft-terminator boundaries below only fire when
// the terminator is followed by an actual whitespace rune already present in
// the buffer, never on a terminator sitting at the buffer's current tail; a
// terminator at the true end of an utterance is caught by Flush instead.
func (a *StreamAssembler) AddFragment(tr types.Transcription) []types.Sentence {
	var out []types.Sentence

	if len(a.buf) > 0 && a.cfg.FlushSilenceMs > 0 && tr.PrecedingSilenceMs > a.cfg.FlushSilenceMs {
		if s := a.flush(); s != nil {
			out = append(out, *s)
		}
	}

	if len(a.buf) == 0 {
		a.startMs = tr.StartMs
	}
	a.tailStart = len(a.buf)
	a.prevEndMs = a.endMs
	a.buf = append(a.buf, []rune(tr.Text)...)
	a.endMs = tr.EndMs

	for {
		s, ok := a.extractBoundary(tr.StartMs)
		if !ok {
			break
		}
		out = append(out, s)
	}
	return out
}

// Flush implements Assembler.
func (a *StreamAssembler) Flush() *types.Sentence {
	return a.flush()
}

func (a *StreamAssembler) flush() *types.Sentence {
	text := strings.TrimSpace(string(a.buf))
	if text == "" {
		a.buf = a.buf[:0]
		return nil
	}
	s := types.Sentence{
		Ord:     a.ord,
		Text:    text,
		StartMs: a.startMs,
		EndMs:   a.endMs,
	}
	a.ord++
	a.buf = a.buf[:0]
	return &s
}

// Reset implements Assembler.
func (a *StreamAssembler) Reset() {
	a.buf = nil
	a.startMs = 0
	a.endMs = 0
	a.ord = 0
}

// extractBoundary looks for the highest-priority boundary rule that fires in
// the current buffer and, if one does, cuts the buffer there and returns the
// resulting Sentence. fragmentStartMs is the StartMs of the fragment most
// recently appended, used to attribute any leftover remainder that survives
// the cut (see cutAt).
func (a *StreamAssembler) extractBoundary(fragmentStartMs int64) (types.Sentence, bool) {
	if idx, ok := a.findStrongBoundary(); ok {
		return a.cutAt(idx+1, fragmentStartMs), true
	}
	if len(a.buf) > a.cfg.SoftLen {
		if idx, ok := a.findSoftBoundary(); ok {
			return a.cutAt(idx+1, fragmentStartMs), true
		}
	}
	if len(a.buf) > a.cfg.HardLen {
		cut := a.cfg.HardLen
		if sp := a.lastWhitespaceBefore(cut); sp > 0 {
			cut = sp
		}
		return a.cutAt(cut, fragmentStartMs), true
	}
	return types.Sentence{}, false
}

// findStrongBoundary returns the index of the first strong terminator that
// is followed, within the buffer, by a whitespace rune.
func (a *StreamAssembler) findStrongBoundary() (int, bool) {
	for i := 0; i < len(a.buf)-1; i++ {
		if strongTerminators[a.buf[i]] && unicode.IsSpace(a.buf[i+1]) {
			return i, true
		}
	}
	return 0, false
}

// findSoftBoundary returns the index of the first soft terminator in the
// buffer. Unlike strong terminators, the rule doesn't require a following
// whitespace — soft terminators like "," routinely sit right against the
// next word.
func (a *StreamAssembler) findSoftBoundary() (int, bool) {
	for i, r := range a.buf {
		if softTerminators[r] {
			return i, true
		}
	}
	return 0, false
}

// lastWhitespaceBefore returns the index of the last whitespace rune at or
// before limit, so a hard-length cut lands on a word boundary when one is
// available nearby, rather than splitting a word in half.
func (a *StreamAssembler) lastWhitespaceBefore(limit int) int {
	if limit > len(a.buf) {
		limit = len(a.buf)
	}
	for i := limit; i > 0; i-- {
		if unicode.IsSpace(a.buf[i-1]) {
			return i
		}
	}
	return 0
}

// cutAt splits the buffer at end (exclusive), emitting buf[:end] as a
// Sentence and retaining buf[end:], with its leading whitespace trimmed, as
// the new buffer.
//
// StartMs for the emitted sentence is whatever the buffer's start was before
// this cut. If a remainder survives the cut, it is, by construction, text
// from the fragment just appended (any older leftover was necessarily
// consumed by this or an earlier cut in the same AddFragment call), so the
// remainder's StartMs is reattributed to fragmentStartMs ready for the next
// sentence built from it.
//
// EndMs is the end of the latest fragment the emitted text reaches into: the
// previous fragment's EndMs when the cut lies wholly before the text of the
// fragment just appended, otherwise that fragment's EndMs.
func (a *StreamAssembler) cutAt(end int, fragmentStartMs int64) types.Sentence {
	text := strings.TrimSpace(string(a.buf[:end]))
	endMs := a.endMs
	if end <= a.tailStart {
		endMs = a.prevEndMs
	}
	s := types.Sentence{
		Ord:     a.ord,
		Text:    text,
		StartMs: a.startMs,
		EndMs:   endMs,
	}
	a.ord++

	remainder := a.buf[end:]
	trimmed := 0
	for trimmed < len(remainder) && unicode.IsSpace(remainder[trimmed]) {
		trimmed++
	}
	a.buf = append([]rune{}, remainder[trimmed:]...)
	a.tailStart -= end + trimmed
	if a.tailStart < 0 {
		a.tailStart = 0
	}
	a.startMs = fragmentStartMs
	return s
}
