package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/fuba/youtube2slackthread/internal/apierr"
	"github.com/fuba/youtube2slackthread/internal/resilience"
	"github.com/fuba/youtube2slackthread/pkg/types"
)

// maxDropsPerWindow is the number of backpressure drops within dropWindow
// that escalate a stream straight to FAILED (spec §5).
const maxDropsPerWindow = 3

// dropWindow is the sliding window drop counts are evaluated over.
const dropWindow = 60 * time.Second

// Config configures a WorkerPool.
type Config struct {
	// MaxConcurrency bounds concurrent in-flight Transcribe calls across all
	// streams (W). Default 4.
	MaxConcurrency int64

	// QueueDepth bounds how many of a single stream's segments may be
	// outstanding (submitted but not yet delivered) at once (Q). Default 8.
	QueueDepth int64

	// MaxStall is how long Submit waits for a stream's queue to free a slot
	// before dropping that stream's oldest segment still waiting for a
	// global worker slot (spec §5's max_stall_ms). Default 3s.
	MaxStall time.Duration

	// OnResult is called, in order, once per stream's Transcriptions as they
	// become deliverable.
	OnResult func(types.Transcription)
	// OnError is called for a segment that failed transcription or was
	// dropped under backpressure; the stream's sequence still advances past
	// it.
	OnError func(streamID string, seq int, err error)
	// OnBackpressureFail is called once a stream has had more than three
	// segments dropped within 60 seconds; the caller should escalate the
	// stream straight to FAILED.
	OnBackpressureFail func(streamID string, err error)

	Log *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 4
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 8
	}
	if c.MaxStall <= 0 {
		c.MaxStall = 3 * time.Second
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	return c
}

// WorkerPool fans Segments from any number of streams out to an Engine with
// a global concurrency cap, while guaranteeing that Transcriptions for a
// single stream are delivered to OnResult in non-decreasing Seq order even
// though the underlying Transcribe calls complete out of order (spec §4.8:
// transcription concurrency is global, but per-stream output order must be
// preserved for SentenceAssembler).
type WorkerPool struct {
	engine   Engine
	sem      *semaphore.Weighted // global execution concurrency, W
	queueCap int64               // per-stream pending-job cap, Q
	maxStall time.Duration
	log      *slog.Logger

	// breaker trips once the single shared STT engine starts failing
	// consecutively across every stream — one bad model load or a wedged
	// whisper.cpp process shouldn't burn through every stream's queued
	// segments one at a time before anyone notices.
	breaker *resilience.CircuitBreaker

	onResult           func(types.Transcription)
	onError            func(streamID string, seq int, err error)
	onBackpressureFail func(streamID string, err error)

	mu         sync.Mutex
	sequencers map[string]*sequencer
	wg         sync.WaitGroup
}

// NewWorkerPool creates a pool that runs at most cfg.MaxConcurrency
// Transcribe calls at once across all streams, and sheds segments from a
// stream whose queue has been full for longer than cfg.MaxStall rather than
// blocking Submit's caller indefinitely (the caller is VADSegmenter, so an
// unbounded block would propagate all the way up into MediaSource and stall
// every other stream sharing the process — spec §5).
func NewWorkerPool(engine Engine, cfg Config) *WorkerPool {
	cfg = cfg.withDefaults()
	return &WorkerPool{
		engine:   engine,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrency),
		queueCap: cfg.QueueDepth,
		maxStall: cfg.MaxStall,
		log:      cfg.Log.With("component", "transcribe.pool"),
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:        "transcribe-engine",
			MaxFailures: 5,
		}),
		onResult:           cfg.OnResult,
		onError:            cfg.OnError,
		onBackpressureFail: cfg.OnBackpressureFail,
		sequencers:         make(map[string]*sequencer),
	}
}

// Submit accepts seg for transcription. It waits for seg's stream to have
// fewer than Q jobs outstanding, shedding the stream's own oldest
// not-yet-running segment if none frees up within MaxStall (spec §5), then
// returns; waiting for a global execution slot (W), the actual Transcribe
// call and result delivery all happen on a background goroutine owned by
// the pool. Submit returning nil does not mean transcription succeeded —
// errors surface via OnError.
func (p *WorkerPool) Submit(ctx context.Context, seg types.Segment) error {
	seq := p.sequencerFor(seg.StreamID)
	if err := p.acquireQueueSlot(ctx, seq, seg.StreamID); err != nil {
		return err
	}

	jobCtx, cancel := context.WithCancel(ctx)
	seq.markWaiting(seg.Seq, cancel)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer seq.queueSem.Release(1)

		err := p.sem.Acquire(jobCtx, 1)
		seq.clearWaiting(seg.Seq)
		if err != nil {
			cancel()
			if ctx.Err() == nil {
				// jobCtx was cancelled by dropOldestWaiting, not by the
				// caller; the drop already recorded this outcome.
				return
			}
			seq.complete(seg.Seq, nil, func(s int) {
				if p.onError != nil {
					p.onError(seg.StreamID, s, fmt.Errorf("transcribe: acquire worker slot: %w", err))
				}
			})
			return
		}
		defer p.sem.Release(1)
		defer cancel()
		p.run(jobCtx, seg, seq)
	}()
	return nil
}

// acquireQueueSlot waits for seq.queueSem to free a slot. If MaxStall
// elapses first, it drops the stream's oldest segment still waiting for a
// global worker slot (never one already inside Engine.Transcribe — that call
// ignores context cancellation, and cancelling it here would double-release
// the global semaphore once it eventually returns) to free the slot, then
// keeps waiting on the same Acquire call.
func (p *WorkerPool) acquireQueueSlot(ctx context.Context, seq *sequencer, streamID string) error {
	acquired := make(chan error, 1)
	go func() { acquired <- seq.queueSem.Acquire(ctx, 1) }()

	for {
		timer := time.NewTimer(p.maxStall)
		select {
		case err := <-acquired:
			timer.Stop()
			if err != nil {
				return fmt.Errorf("transcribe: stream %s queue full: %w", streamID, err)
			}
			return nil
		case <-timer.C:
			if droppedSeq, ok := seq.dropOldestWaiting(); ok {
				p.recordDrop(streamID, droppedSeq, seq)
			}
		}
	}
}

// recordDrop accounts for droppedSeq having been shed under backpressure:
// it advances the sequencer past it (so later segments aren't stuck waiting
// at the cursor), reports it through OnError, and escalates via
// OnBackpressureFail once this stream has exceeded three drops in the last
// 60 seconds.
func (p *WorkerPool) recordDrop(streamID string, droppedSeq int, seq *sequencer) {
	p.log.Warn("dropping segment under backpressure", "stream_id", streamID, "seq", droppedSeq)

	seq.complete(droppedSeq, nil, func(s int) {
		if p.onError != nil {
			p.onError(streamID, s, fmt.Errorf("transcribe: stream %s: segment %d dropped under backpressure", streamID, s))
		}
	})

	drops := seq.recordDropTime(time.Now())
	if drops > maxDropsPerWindow && p.onBackpressureFail != nil {
		p.onBackpressureFail(streamID, &apierr.BackpressureFailure{StreamID: streamID, Drops: drops})
	}
}

func (p *WorkerPool) run(ctx context.Context, seg types.Segment, seq *sequencer) {
	var text, lang string
	err := p.breaker.Execute(func() error {
		var execErr error
		text, lang, execErr = p.engine.Transcribe(ctx, seg)
		return execErr
	})

	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			p.log.Warn("transcription engine circuit open, dropping segment", "stream_id", seg.StreamID, "seq", seg.Seq)
		}
		p.log.Warn("segment transcription failed", "stream_id", seg.StreamID, "seq", seg.Seq, "error", err)
		seq.complete(seg.Seq, nil, func(s int) {
			if p.onError != nil {
				p.onError(seg.StreamID, s, err)
			}
		})
		return
	}

	tr := types.Transcription{
		StreamID:           seg.StreamID,
		Seq:                seg.Seq,
		Text:               text,
		DetectedLanguage:   lang,
		StartMs:            seg.StartMs,
		EndMs:              seg.EndMs,
		PrecedingSilenceMs: seg.PrecedingSilenceMs,
	}
	seq.complete(seg.Seq, &tr, nil)
}

func (p *WorkerPool) sequencerFor(streamID string) *sequencer {
	p.mu.Lock()
	defer p.mu.Unlock()
	seq, ok := p.sequencers[streamID]
	if !ok {
		seq = &sequencer{
			pending:  make(map[int]*types.Transcription),
			onResult: p.onResult,
			queueSem: semaphore.NewWeighted(p.queueCap),
		}
		p.sequencers[streamID] = seq
	}
	return seq
}

// Forget releases the sequencer state for streamID. Call this once a stream
// is fully stopped and no further segments will be submitted for it, or the
// map in sequencerFor leaks for the life of the process.
func (p *WorkerPool) Forget(streamID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sequencers, streamID)
}

// Wait blocks until all submitted segments have finished processing.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// waitingJob is a segment that has claimed a queue slot but is still
// waiting for a global worker slot — i.e. not yet inside Engine.Transcribe,
// and therefore safe to cancel.
type waitingJob struct {
	seq    int
	cancel context.CancelFunc
}

// sequencer reorders a single stream's out-of-order Transcribe completions
// back into non-decreasing Seq order before forwarding them, and tracks the
// bookkeeping backpressure shedding needs: which of this stream's segments
// are still waiting for a worker slot, and how many were recently dropped.
type sequencer struct {
	mu       sync.Mutex
	next     int
	pending  map[int]*types.Transcription
	failed   map[int]func(int)
	onResult func(types.Transcription)

	// queueSem caps how many of this stream's segments may be outstanding
	// (submitted but not yet delivered) at once.
	queueSem *semaphore.Weighted

	waitingMu sync.Mutex
	waiting   []waitingJob

	dropMu    sync.Mutex
	dropTimes []time.Time
}

func (s *sequencer) markWaiting(seq int, cancel context.CancelFunc) {
	s.waitingMu.Lock()
	defer s.waitingMu.Unlock()
	s.waiting = append(s.waiting, waitingJob{seq: seq, cancel: cancel})
}

func (s *sequencer) clearWaiting(seq int) {
	s.waitingMu.Lock()
	defer s.waitingMu.Unlock()
	for i, w := range s.waiting {
		if w.seq == seq {
			s.waiting = append(s.waiting[:i], s.waiting[i+1:]...)
			return
		}
	}
}

// dropOldestWaiting cancels the oldest segment still waiting for a global
// worker slot, which releases its queue slot once its goroutine observes the
// cancellation. Returns false if nothing is droppable — every segment
// currently occupying a queue slot for this stream is already transcribing.
func (s *sequencer) dropOldestWaiting() (int, bool) {
	s.waitingMu.Lock()
	defer s.waitingMu.Unlock()
	if len(s.waiting) == 0 {
		return 0, false
	}
	oldest := s.waiting[0]
	s.waiting = s.waiting[1:]
	oldest.cancel()
	return oldest.seq, true
}

// recordDropTime appends t to the drop history, discards entries older than
// dropWindow, and returns the number remaining (the current window's count).
func (s *sequencer) recordDropTime(t time.Time) int {
	s.dropMu.Lock()
	defer s.dropMu.Unlock()
	s.dropTimes = append(s.dropTimes, t)
	cutoff := t.Add(-dropWindow)
	live := s.dropTimes[:0]
	for _, dt := range s.dropTimes {
		if dt.After(cutoff) {
			live = append(live, dt)
		}
	}
	s.dropTimes = live
	return len(s.dropTimes)
}

// complete registers the outcome for seq (a Transcription on success, or a
// nil result plus a deferred error-reporting closure on failure) and flushes
// every contiguous completed seq starting at the sequencer's cursor.
func (s *sequencer) complete(seq int, tr *types.Transcription, onErr func(int)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tr != nil {
		s.pending[seq] = tr
	} else if onErr != nil {
		if s.failed == nil {
			s.failed = make(map[int]func(int))
		}
		s.failed[seq] = onErr
	}

	for {
		if next, ok := s.pending[s.next]; ok {
			delete(s.pending, s.next)
			if s.onResult != nil {
				s.onResult(*next)
			}
			s.next++
			continue
		}
		if errFn, ok := s.failed[s.next]; ok {
			delete(s.failed, s.next)
			errFn(s.next)
			s.next++
			continue
		}
		break
	}
}
