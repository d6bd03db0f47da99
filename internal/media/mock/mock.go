// Package mock provides test doubles for the media package interfaces.
package mock

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/fuba/youtube2slackthread/internal/media"
)

// OpenCall records a single invocation of Source.Open.
type OpenCall struct {
	URL     string
	Cookies []byte
}

// Source is a mock implementation of media.Source.
type Source struct {
	mu sync.Mutex

	// Stream is returned by every Open call. If nil, Open returns a new
	// PcmStream wrapping PCM.
	Stream media.PcmStream
	// PCM is the payload for the default Stream when Stream is nil.
	PCM []byte
	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	OpenCalls []OpenCall
}

func (s *Source) Open(_ context.Context, url string, cookies []byte) (media.PcmStream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCalls = append(s.OpenCalls, OpenCall{URL: url, Cookies: cookies})
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	if s.Stream != nil {
		return s.Stream, nil
	}
	return &PcmStream{Reader: bytes.NewReader(s.PCM)}, nil
}

// ResetCalls clears all recorded call history. Thread-safe.
func (s *Source) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCalls = nil
}

// Ensure Source implements media.Source at compile time.
var _ media.Source = (*Source)(nil)

// PcmStream is a mock implementation of media.PcmStream backed by an
// in-memory reader.
type PcmStream struct {
	mu sync.Mutex

	Reader      io.Reader
	TitleText   string
	TitleOK     bool
	CloseErr    error
	CloseCalled bool
}

func (p *PcmStream) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Reader.Read(b)
}

func (p *PcmStream) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCalled = true
	return p.CloseErr
}

func (p *PcmStream) Title() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.TitleText, p.TitleOK
}

// Ensure PcmStream implements media.PcmStream at compile time.
var _ media.PcmStream = (*PcmStream)(nil)
