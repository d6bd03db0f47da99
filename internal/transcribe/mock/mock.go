// Package mock provides a test double for transcribe.Engine.
package mock

import (
	"context"
	"strconv"
	"sync"

	"github.com/fuba/youtube2slackthread/internal/transcribe"
	"github.com/fuba/youtube2slackthread/pkg/types"
)

// TranscribeCall records a single invocation of Engine.Transcribe.
type TranscribeCall struct {
	Seg types.Segment
}

// Engine is a mock implementation of transcribe.Engine.
type Engine struct {
	mu sync.Mutex

	// Text and Language are returned by every Transcribe call that doesn't
	// match a TextByStreamSeq entry.
	Text     string
	Language string

	// TextByStreamSeq overrides Text for a given (StreamID, Seq) pair, keyed
	// by "streamID/seq", for tests that need per-segment control.
	TextByStreamSeq map[string]string

	// TranscribeErr, if non-nil, is returned by every Transcribe call.
	TranscribeErr error

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns the configured text/language/error.
func (e *Engine) Transcribe(_ context.Context, seg types.Segment) (string, string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.TranscribeCalls = append(e.TranscribeCalls, TranscribeCall{Seg: seg})
	if e.TranscribeErr != nil {
		return "", "", e.TranscribeErr
	}
	if e.TextByStreamSeq != nil {
		if text, ok := e.TextByStreamSeq[key(seg.StreamID, seg.Seq)]; ok {
			return text, e.Language, nil
		}
	}
	return e.Text, e.Language, nil
}

// ResetCalls clears all recorded calls. Thread-safe.
func (e *Engine) ResetCalls() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.TranscribeCalls = nil
}

func key(streamID string, seq int) string {
	return streamID + "/" + strconv.Itoa(seq)
}

// Ensure Engine implements transcribe.Engine at compile time.
var _ transcribe.Engine = (*Engine)(nil)
