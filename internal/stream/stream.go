// Package stream implements StreamController and StreamRegistry (spec
// §4.10–§4.12): the per-stream lifecycle state machine that wires
// MediaSource → VADSegmenter → TranscriptionWorkerPool → SentenceAssembler →
// ChatClient, and the registry that enforces at most one active stream per
// (team, user) and owns the linger-then-remove cleanup of terminal streams.
package stream

import (
	"sync"
	"time"

	"github.com/fuba/youtube2slackthread/internal/chat"
	"github.com/fuba/youtube2slackthread/pkg/types"
)

// Request describes what StreamRegistry.Start needs to mint a new stream.
type Request struct {
	TeamID    string
	ChannelID string
	UserID    string
	URL       string
	Language  string // optional BCP-47 hint
}

// Stream is the registry's view of one stream: its identity, request
// parameters (retained so Retry can mint a fresh attempt without asking the
// user to repeat themselves), and current lifecycle state. Stream itself
// holds no pipeline machinery — that lives in the owning StreamController.
type Stream struct {
	mu sync.Mutex

	id  string
	req Request

	state     types.StreamState
	thread    chat.ThreadRef
	lastErr   error
	startedAt time.Time
	// terminalAt is set when the stream enters STOPPED/FAILED, used by the
	// registry's linger sweep.
	terminalAt time.Time
}

func newStream(id string, req Request) *Stream {
	return &Stream{
		id:        id,
		req:       req,
		state:     types.StreamPending,
		startedAt: time.Now(),
	}
}

// ID returns the stream's identifier.
func (s *Stream) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Request returns the parameters the stream was started (or last retried)
// with.
func (s *Stream) Request() Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.req
}

// State returns the current lifecycle state.
func (s *Stream) State() types.StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the most recently recorded error, if any.
func (s *Stream) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Thread returns the chat thread this stream's transcript is posted into.
func (s *Stream) Thread() chat.ThreadRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thread
}

func (s *Stream) setThread(ref chat.ThreadRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.thread = ref
}

// transition moves the stream to state, recording err (which may be nil)
// and, for terminal states, the time of the transition so the registry's
// linger sweep can find it later.
func (s *Stream) transition(state types.StreamState, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.lastErr = err
	if state.Terminal() {
		s.terminalAt = time.Now()
	}
}

func (s *Stream) terminalSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Terminal() {
		return time.Time{}, false
	}
	return s.terminalAt, true
}

// Status summarises a Stream for CommandRouter's "status" reply.
type Status struct {
	StreamID string
	State    types.StreamState
	URL      string
	LastErr  error
}

// Status returns a point-in-time snapshot suitable for display.
func (s *Stream) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{StreamID: s.id, State: s.state, URL: s.req.URL, LastErr: s.lastErr}
}
