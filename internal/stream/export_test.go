package stream

import (
	"github.com/fuba/youtube2slackthread/internal/chat"
	"github.com/fuba/youtube2slackthread/internal/sentence"
	"github.com/fuba/youtube2slackthread/pkg/types"
)

// The helpers in this file exist only to let the external stream_test
// package drive Stream/Controller internals directly, without going through
// Registry.Start's full pipeline, for tests that only care about one
// Controller method in isolation.

func NewStreamForTest(id string, req Request) *Stream {
	return newStream(id, req)
}

func (s *Stream) SetThreadForTest(ref chat.ThreadRef) {
	s.setThread(ref)
}

func (s *Stream) SetStateForTest(st types.StreamState) {
	s.transition(st, nil)
}

func SetAssemblerForTest(c *Controller, a sentence.Assembler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.assembler = a
}
