package transcribe_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fuba/youtube2slackthread/internal/apierr"
	"github.com/fuba/youtube2slackthread/internal/transcribe"
	"github.com/fuba/youtube2slackthread/internal/transcribe/mock"
	"github.com/fuba/youtube2slackthread/pkg/types"
)

// orderTrackingEngine delays Transcribe for earlier-submitted segments
// longer than later ones, so a naive pipeline would deliver results out of
// order without the pool's sequencer.
type orderTrackingEngine struct {
	delays map[int]time.Duration
}

func (e *orderTrackingEngine) Transcribe(ctx context.Context, seg types.Segment) (string, string, error) {
	if d, ok := e.delays[seg.Seq]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return "", "", ctx.Err()
		}
	}
	return "text", "en", nil
}

func TestWorkerPool_PreservesPerStreamOrder(t *testing.T) {
	eng := &orderTrackingEngine{delays: map[int]time.Duration{
		0: 30 * time.Millisecond,
		1: 10 * time.Millisecond,
		2: 0,
	}}

	var mu sync.Mutex
	var gotSeqs []int
	done := make(chan struct{})

	pool := transcribe.NewWorkerPool(eng, transcribe.Config{
		MaxConcurrency: 4,
		QueueDepth:     8,
		OnResult: func(tr types.Transcription) {
			mu.Lock()
			gotSeqs = append(gotSeqs, tr.Seq)
			if len(gotSeqs) == 3 {
				close(done)
			}
			mu.Unlock()
		},
	})

	ctx := context.Background()
	for seq := 0; seq < 3; seq++ {
		if err := pool.Submit(ctx, types.Segment{StreamID: "s1", Seq: seq}); err != nil {
			t.Fatalf("Submit(%d): %v", seq, err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for all results")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []int{0, 1, 2}
	if len(gotSeqs) != len(want) {
		t.Fatalf("got %v, want %v", gotSeqs, want)
	}
	for i, s := range want {
		if gotSeqs[i] != s {
			t.Fatalf("gotSeqs = %v, want %v", gotSeqs, want)
		}
	}
}

func TestWorkerPool_FailedSegmentDoesNotStallLaterOnes(t *testing.T) {
	eng := &mock.Engine{TranscribeErr: errSegment}

	var mu sync.Mutex
	var errSeqs []int
	errDone := make(chan struct{})

	pool := transcribe.NewWorkerPool(eng, transcribe.Config{
		MaxConcurrency: 2,
		QueueDepth:     8,
		OnError: func(streamID string, seq int, err error) {
			mu.Lock()
			errSeqs = append(errSeqs, seq)
			if len(errSeqs) == 2 {
				close(errDone)
			}
			mu.Unlock()
		},
	})

	ctx := context.Background()
	if err := pool.Submit(ctx, types.Segment{StreamID: "s1", Seq: 0}); err != nil {
		t.Fatalf("Submit(0): %v", err)
	}
	if err := pool.Submit(ctx, types.Segment{StreamID: "s1", Seq: 1}); err != nil {
		t.Fatalf("Submit(1): %v", err)
	}

	select {
	case <-errDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error callbacks")
	}
}

func TestWorkerPool_ConcurrencyIsBounded(t *testing.T) {
	var active, maxActive int32
	var mu sync.Mutex
	eng := &blockingEngine{
		onStart: func() {
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
		},
		onEnd: func() {
			mu.Lock()
			active--
			mu.Unlock()
		},
		hold: 50 * time.Millisecond,
	}

	pool := transcribe.NewWorkerPool(eng, transcribe.Config{
		MaxConcurrency: 2,
		QueueDepth:     8,
		OnResult:       func(types.Transcription) {},
	})
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		if err := pool.Submit(ctx, types.Segment{StreamID: "s1", Seq: i}); err != nil {
			t.Fatalf("Submit(%d): %v", i, err)
		}
	}
	pool.Wait()

	mu.Lock()
	defer mu.Unlock()
	if maxActive > 2 {
		t.Fatalf("max concurrent Transcribe calls = %d, want <= 2", maxActive)
	}
}

func TestWorkerPool_PerStreamQueueDepthBlocksSubmit(t *testing.T) {
	release := make(chan struct{})
	eng := &gatedEngine{release: release}

	pool := transcribe.NewWorkerPool(eng, transcribe.Config{
		MaxConcurrency: 10,
		QueueDepth:     2,
		OnResult:       func(types.Transcription) {},
	})
	ctx := context.Background()

	// Fill the stream's queue depth (2): both submissions return immediately
	// since the stream is under its queue cap, and with W=10 both jobs start
	// at once, then block on release until we let them through.
	for i := 0; i < 2; i++ {
		if err := pool.Submit(ctx, types.Segment{StreamID: "s1", Seq: i}); err != nil {
			t.Fatalf("Submit(%d): %v", i, err)
		}
	}

	submitted := make(chan struct{})
	go func() {
		pool.Submit(ctx, types.Segment{StreamID: "s1", Seq: 2})
		close(submitted)
	}()

	select {
	case <-submitted:
		t.Fatal("3rd Submit for a stream at its queue cap should have blocked")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)

	select {
	case <-submitted:
	case <-time.After(2 * time.Second):
		t.Fatal("3rd Submit never unblocked after releasing queued jobs")
	}
}

func TestWorkerPool_CircuitOpensAfterConsecutiveFailures(t *testing.T) {
	eng := &mock.Engine{TranscribeErr: errSegment}

	var mu sync.Mutex
	var errSeqs []int
	done := make(chan struct{})

	pool := transcribe.NewWorkerPool(eng, transcribe.Config{
		MaxConcurrency: 1,
		QueueDepth:     16,
		OnError: func(streamID string, seq int, err error) {
			mu.Lock()
			errSeqs = append(errSeqs, seq)
			if len(errSeqs) == 6 {
				close(done)
			}
			mu.Unlock()
		},
	})

	ctx := context.Background()
	for seq := 0; seq < 6; seq++ {
		if err := pool.Submit(ctx, types.Segment{StreamID: "s1", Seq: seq}); err != nil {
			t.Fatalf("Submit(%d): %v", seq, err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error callbacks")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(errSeqs) != 6 {
		t.Fatalf("got %d error callbacks, want 6", len(errSeqs))
	}
}

// TestWorkerPool_BackpressureDropEscalatesAfterFourDrops holds the sole
// worker slot busy forever so every later segment for the stream sits
// waiting for it; once more than three have been shed within the drop
// window, OnBackpressureFail must fire (spec §5).
func TestWorkerPool_BackpressureDropEscalatesAfterFourDrops(t *testing.T) {
	release := make(chan struct{}) // never closed: the first job never finishes
	eng := &gatedEngine{release: release}

	var mu sync.Mutex
	var errCount, failDrops int
	var failOnce sync.Once
	failed := make(chan struct{})

	pool := transcribe.NewWorkerPool(eng, transcribe.Config{
		MaxConcurrency: 1,
		QueueDepth:     2,
		MaxStall:       5 * time.Millisecond,
		OnError: func(streamID string, seq int, err error) {
			mu.Lock()
			errCount++
			mu.Unlock()
		},
		OnBackpressureFail: func(streamID string, err error) {
			var bf *apierr.BackpressureFailure
			if errors.As(err, &bf) {
				mu.Lock()
				failDrops = bf.Drops
				mu.Unlock()
			}
			failOnce.Do(func() { close(failed) })
		},
	})

	ctx := context.Background()
	for seq := 0; seq < 7; seq++ {
		if err := pool.Submit(ctx, types.Segment{StreamID: "s1", Seq: seq}); err != nil {
			t.Fatalf("Submit(%d): %v", seq, err)
		}
	}

	select {
	case <-failed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for backpressure escalation")
	}

	mu.Lock()
	defer mu.Unlock()
	if failDrops <= 3 {
		t.Fatalf("OnBackpressureFail fired with Drops = %d, want > 3", failDrops)
	}
	if errCount == 0 {
		t.Fatal("expected at least one OnError callback for a dropped segment")
	}
}

type gatedEngine struct {
	release chan struct{}
}

func (e *gatedEngine) Transcribe(ctx context.Context, seg types.Segment) (string, string, error) {
	select {
	case <-e.release:
	case <-ctx.Done():
		return "", "", ctx.Err()
	}
	return "text", "en", nil
}

type blockingEngine struct {
	onStart, onEnd func()
	hold           time.Duration
}

func (e *blockingEngine) Transcribe(ctx context.Context, seg types.Segment) (string, string, error) {
	e.onStart()
	defer e.onEnd()
	select {
	case <-time.After(e.hold):
	case <-ctx.Done():
	}
	return "text", "en", nil
}

var errSegment = &segmentErr{}

type segmentErr struct{}

func (*segmentErr) Error() string { return "transcription backend unavailable" }
