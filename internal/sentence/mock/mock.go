// Package mock provides a hand-written, call-recording mock of
// sentence.Assembler for use in StreamController tests.
package mock

import (
	"sync"

	"github.com/fuba/youtube2slackthread/internal/sentence"
	"github.com/fuba/youtube2slackthread/pkg/types"
)

// Assembler records every call it receives and returns canned results.
type Assembler struct {
	mu sync.Mutex

	// AddFragmentResult is returned by every AddFragment call.
	AddFragmentResult []types.Sentence

	// FlushResult is returned by every Flush call.
	FlushResult *types.Sentence

	AddFragmentCalls []types.Transcription
	FlushCallCount   int
	ResetCallCount   int
}

var _ sentence.Assembler = (*Assembler)(nil)

func (a *Assembler) AddFragment(tr types.Transcription) []types.Sentence {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.AddFragmentCalls = append(a.AddFragmentCalls, tr)
	return a.AddFragmentResult
}

func (a *Assembler) Flush() *types.Sentence {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.FlushCallCount++
	return a.FlushResult
}

func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ResetCallCount++
}

// ResetCalls clears all recorded calls without touching the canned results.
func (a *Assembler) ResetCalls() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.AddFragmentCalls = nil
	a.FlushCallCount = 0
	a.ResetCallCount = 0
}
