package media

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fuba/youtube2slackthread/internal/media"
	"github.com/fuba/youtube2slackthread/internal/media/mock"
	"github.com/fuba/youtube2slackthread/internal/resilience"
)

// flakySource fails the first N calls to Open, then succeeds.
type flakySource struct {
	failuresLeft int64
}

func (f *flakySource) Open(_ context.Context, _ string, _ []byte) (media.PcmStream, error) {
	if atomic.AddInt64(&f.failuresLeft, -1) >= 0 {
		return nil, errors.New("network blip")
	}
	return &mock.PcmStream{Reader: bytes.NewReader(nil)}, nil
}

func TestReopenWindow_ExceedsThresholdWithinWindow(t *testing.T) {
	w := NewReopenWindow(3, time.Minute)
	base := time.Unix(1700000000, 0)

	if w.Record(base) {
		t.Fatal("1st attempt should not exceed threshold")
	}
	if w.Record(base.Add(10 * time.Second)) {
		t.Fatal("2nd attempt should not exceed threshold")
	}
	if w.Record(base.Add(20 * time.Second)) {
		t.Fatal("3rd attempt should not exceed threshold")
	}
	if !w.Record(base.Add(30 * time.Second)) {
		t.Fatal("4th attempt within the window should exceed threshold")
	}
}

func TestReopenWindow_OldAttemptsExpire(t *testing.T) {
	w := NewReopenWindow(3, time.Minute)
	base := time.Unix(1700000000, 0)

	w.Record(base)
	w.Record(base.Add(5 * time.Second))
	w.Record(base.Add(10 * time.Second))

	if w.Record(base.Add(2 * time.Minute)) {
		t.Fatal("attempts outside the window should not count toward the threshold")
	}
}

func TestReopen_RetriesUntilSuccess(t *testing.T) {
	src := &flakySource{failuresLeft: 2}

	stream, err := Reopen(context.Background(), src, "https://example.com/live", nil, resilience.RetryConfig{
		MinInterval: time.Millisecond,
		MaxInterval: 5 * time.Millisecond,
		MaxRetries:  10,
	})
	if err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	if stream == nil {
		t.Fatal("expected non-nil stream")
	}
}
