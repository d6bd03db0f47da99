package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/fuba/youtube2slackthread/internal/apierr"
	"github.com/fuba/youtube2slackthread/internal/chat"
	"github.com/fuba/youtube2slackthread/internal/media"
	"github.com/fuba/youtube2slackthread/internal/resilience"
	"github.com/fuba/youtube2slackthread/internal/sentence"
	"github.com/fuba/youtube2slackthread/internal/transcribe"
	"github.com/fuba/youtube2slackthread/internal/vad"
	"github.com/fuba/youtube2slackthread/pkg/types"
)

// maxConsecutiveTranscriptionFailures is the spec §4.10 escalation
// threshold: this many back-to-back segment failures for one stream
// escalates it straight to FAILED.
const maxConsecutiveTranscriptionFailures = 3

// Dependencies are the shared, long-lived collaborators a Controller needs.
// Transcribe is a single pool shared across every stream in the process
// (spec §4.8: concurrency is global); everything else is either stateless
// or already scoped to the stream's own goroutine.
type Dependencies struct {
	Media      media.Source
	VAD        vad.Engine
	Transcribe *transcribe.WorkerPool
	Chat       chat.Client

	// Cookies is the requesting user's cookies.txt payload, resolved by the
	// registry from the user-secret store before the Controller is built.
	Cookies []byte

	NewAssembler func() sentence.Assembler
	VADConfig    vad.Config

	// GracePeriod bounds how long STOPPING waits for in-flight
	// transcriptions to drain before abandoning them. Default 10s.
	GracePeriod time.Duration

	// PostRetry tunes ChatClient retry-on-transient-failure. Default: 250ms
	// base, 8s cap, MaxRetries 5; jitter is resilience.Retry's fixed 0.2
	// factor, not full jitter.
	PostRetry resilience.RetryConfig

	Log *slog.Logger
}

func (d Dependencies) withDefaults() Dependencies {
	if d.GracePeriod <= 0 {
		d.GracePeriod = 10 * time.Second
	}
	if d.PostRetry.MinInterval <= 0 {
		d.PostRetry.MinInterval = 250 * time.Millisecond
	}
	if d.PostRetry.MaxInterval <= 0 {
		d.PostRetry.MaxInterval = 8 * time.Second
	}
	if d.PostRetry.MaxRetries <= 0 {
		d.PostRetry.MaxRetries = 5
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return d
}

// Controller drives one Stream's pipeline from PENDING through to a
// terminal state. One Controller exists per Stream; StreamRegistry creates
// a fresh Controller (and Stream, with a new stream_id) on every Retry.
type Controller struct {
	stream *Stream
	deps   Dependencies

	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	assembler   sentence.Assembler
	mediaStream media.PcmStream
	reopen      *media.ReopenWindow
	consecFails int
	stopping    bool
}

// New creates a Controller for s. Call Start to begin the pipeline.
func New(s *Stream, deps Dependencies) *Controller {
	return &Controller{
		stream: s,
		deps:   deps.withDefaults(),
		done:   make(chan struct{}),
	}
}

// Stream returns the Controller's Stream.
func (c *Controller) Stream() *Stream { return c.stream }

// Start posts the header message and, if successful, begins the pipeline on
// a background goroutine. It returns once the header is posted (or fails to
// post); it does not wait for the stream to finish.
func (c *Controller) Start(ctx context.Context) error {
	req := c.stream.Request()

	ref, err := c.deps.Chat.StartThread(ctx, req.ChannelID, headerText(c.stream.id, types.StreamPending, req.URL))
	if err != nil {
		c.stream.transition(types.StreamFailed, fmt.Errorf("stream: post header: %w", err))
		close(c.done)
		return err
	}
	c.stream.setThread(ref)

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.assembler = c.deps.NewAssembler()
	c.reopen = media.NewReopenWindow(0, 0)

	go c.run(runCtx)
	return nil
}

// Stop requests a graceful stop: no further segments are submitted, the
// STOPPING grace period is honored for in-flight transcriptions, and any
// buffered sentence is flushed before the stream transitions to STOPPED.
// Stop blocks until the pipeline goroutine has exited or ctx is cancelled.
func (c *Controller) Stop(ctx context.Context) {
	c.mu.Lock()
	c.stopping = true
	c.mu.Unlock()

	c.stream.transition(types.StreamStopping, nil)
	if c.cancel != nil {
		c.cancel()
	}

	select {
	case <-c.done:
	case <-ctx.Done():
	}
}

// Done returns a channel closed once the pipeline goroutine exits.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)
	defer c.deps.Transcribe.Forget(c.stream.id)

	req := c.stream.Request()

	stream, err := c.deps.Media.Open(ctx, req.URL, c.deps.Cookies)
	if err != nil {
		c.fail(ctx, fmt.Errorf("stream: open media source: %w", err))
		return
	}
	c.mu.Lock()
	c.mediaStream = stream
	c.mu.Unlock()
	defer stream.Close()

	c.stream.transition(types.StreamRunning, nil)
	c.postNoticeBestEffort(ctx, "streaming started")
	c.editHeaderBestEffort(ctx, types.StreamRunning)

	session, err := c.deps.VAD.NewSession(c.vadConfig())
	if err != nil {
		c.fail(ctx, fmt.Errorf("stream: start vad session: %w", err))
		return
	}
	defer session.Close()

	frameBytes := frameByteSize(c.deps.VADConfig)
	buf := make([]byte, frameBytes)

	for {
		if ctx.Err() != nil {
			break
		}

		n, readErr := readFrame(stream, buf)
		if n > 0 {
			c.processFrame(ctx, session, buf[:n])
		}
		if readErr == nil {
			continue
		}
		if errors.Is(readErr, io.EOF) {
			c.stream.transition(types.StreamStopped, nil)
			break
		}

		// Unexpected mid-stream read failure: attempt a reconnect within
		// the reopen window before giving up.
		if c.reopen.Record(time.Now()) {
			c.fail(ctx, fmt.Errorf("stream: media source restarted too many times: %w", readErr))
			break
		}
		c.deps.Log.Warn("stream: media read failed, reopening", "stream_id", c.stream.id, "error", readErr)
		newStream, reopenErr := media.Reopen(ctx, c.deps.Media, req.URL, c.deps.Cookies, c.deps.PostRetry)
		if reopenErr != nil {
			c.fail(ctx, fmt.Errorf("stream: reopen media source: %w", reopenErr))
			break
		}
		stream.Close()
		stream = newStream
		c.mu.Lock()
		c.mediaStream = stream
		c.mu.Unlock()
	}

	c.drain(ctx)

	if c.stream.State() == types.StreamStopping {
		c.stream.transition(types.StreamStopped, nil)
	}
	c.editHeaderBestEffort(context.Background(), c.stream.State())
}

func (c *Controller) processFrame(ctx context.Context, session vad.SessionHandle, frame []byte) {
	c.mu.Lock()
	stopping := c.stopping
	c.mu.Unlock()
	if stopping {
		return
	}

	emission, err := session.ProcessFrame(frame)
	if err != nil {
		c.deps.Log.Warn("stream: vad frame error", "stream_id", c.stream.id, "error", err)
		return
	}
	if emission.Segment == nil {
		return
	}
	if err := c.deps.Transcribe.Submit(ctx, *emission.Segment); err != nil {
		c.deps.Log.Warn("stream: submit segment failed", "stream_id", c.stream.id, "seq", emission.Segment.Seq, "error", err)
	}
}

// drain waits up to GracePeriod for in-flight transcriptions to complete and
// flushes any buffered sentence, posting it if non-empty.
func (c *Controller) drain(ctx context.Context) {
	waitCtx, cancel := context.WithTimeout(context.Background(), c.deps.GracePeriod)
	defer cancel()
	done := make(chan struct{})
	go func() {
		c.deps.Transcribe.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-waitCtx.Done():
		c.deps.Log.Warn("stream: grace period elapsed, abandoning in-flight transcriptions", "stream_id", c.stream.id)
	}

	c.mu.Lock()
	assembler := c.assembler
	c.mu.Unlock()
	if assembler == nil {
		return
	}
	if s := assembler.Flush(); s != nil {
		c.postSentence(ctx, *s)
	}
}

// HandleTranscription implements the TranscriptionWorkerPool onResult
// callback for this stream: it feeds the result into the assembler and
// posts any sentences that become ready.
func (c *Controller) HandleTranscription(tr types.Transcription) {
	c.mu.Lock()
	c.consecFails = 0
	assembler := c.assembler
	c.mu.Unlock()
	if assembler == nil {
		return
	}
	for _, s := range assembler.AddFragment(tr) {
		c.postSentence(context.Background(), s)
	}
}

// HandleTranscriptionError implements the TranscriptionWorkerPool onError
// callback. Three consecutive failures escalate the stream to FAILED.
func (c *Controller) HandleTranscriptionError(seq int, err error) {
	c.mu.Lock()
	c.consecFails++
	fails := c.consecFails
	c.mu.Unlock()

	tErr := &apierr.TranscriptionError{StreamID: c.stream.id, Seq: seq, Cause: err}
	c.deps.Log.Warn("stream: segment transcription failed", "stream_id", c.stream.id, "seq", seq, "error", tErr, "consecutive", fails)

	if fails >= maxConsecutiveTranscriptionFailures {
		c.fail(context.Background(), fmt.Errorf("stream: %d consecutive transcription failures: %w", fails, tErr))
		if c.cancel != nil {
			c.cancel()
		}
	}
}

func (c *Controller) postSentence(ctx context.Context, s types.Sentence) {
	ref := c.stream.Thread()
	err := resilience.Retry(ctx, c.deps.PostRetry, func() error {
		return c.deps.Chat.PostSentence(ctx, ref, s.Text)
	})
	if err != nil {
		c.deps.Log.Warn("stream: post sentence failed", "stream_id", c.stream.id, "ord", s.Ord, "error", err)
	}
}

func (c *Controller) postNoticeBestEffort(ctx context.Context, text string) {
	ref := c.stream.Thread()
	if err := c.deps.Chat.PostNotice(ctx, ref, text); err != nil {
		c.deps.Log.Warn("stream: post notice failed", "stream_id", c.stream.id, "error", err)
	}
}

// editHeaderBestEffort mirrors state onto the stream's own header message in
// place (spec §4.10: the header is edited, never reposted). ref.ThreadTS is
// already the header message's own timestamp — StartThread returns the
// header post's own ts as the ThreadRef every later call threads under — so
// no separate header-message-ID field is needed on Stream.
func (c *Controller) editHeaderBestEffort(ctx context.Context, state types.StreamState) {
	ref := c.stream.Thread()
	req := c.stream.Request()
	if err := c.deps.Chat.Edit(ctx, ref, headerText(c.stream.id, state, req.URL)); err != nil {
		c.deps.Log.Warn("stream: header update failed", "stream_id", c.stream.id, "state", state, "error", err)
	}
}

// EditHeader replaces this stream's header message with an arbitrary
// message, bypassing the state-derived headerText format. Used by Retry to
// leave a "retried → new thread" marker on the old stream's header.
func (c *Controller) EditHeader(ctx context.Context, text string) error {
	return c.deps.Chat.Edit(ctx, c.stream.Thread(), text)
}

// FailNow escalates the stream straight to FAILED from outside the pipeline
// goroutine (e.g. TranscriptionWorkerPool's backpressure escalation, spec
// §5's ">3 drops within 60s"). Safe to call concurrently with the running
// pipeline; it cancels the run context the same way a consecutive-failure
// escalation does.
func (c *Controller) FailNow(err error) {
	c.fail(context.Background(), err)
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Controller) fail(ctx context.Context, err error) {
	var mediaErr *apierr.MediaStartFailure
	msg := err.Error()
	if errors.As(err, &mediaErr) {
		msg = mediaErr.UserMessage()
	}
	c.stream.transition(types.StreamFailed, err)
	c.postNoticeBestEffort(ctx, "❌ "+msg)
	c.deps.Log.Error("stream: failed", "stream_id", c.stream.id, "error", err)
}

func (c *Controller) vadConfig() vad.Config {
	cfg := c.deps.VADConfig
	cfg.StreamID = c.stream.id
	return cfg
}

func frameByteSize(cfg vad.Config) int {
	frameMs := cfg.FrameMs
	if frameMs <= 0 {
		frameMs = 30
	}
	samples := media.SampleRate * frameMs / 1000
	return samples * media.BytesPerSample
}

// readFrame fills buf from r, treating a short final read (io.ErrUnexpectedEOF)
// as a valid partial last frame followed by io.EOF, so no audio is dropped
// at natural end-of-stream.
func readFrame(r io.Reader, buf []byte) (int, error) {
	n, err := io.ReadFull(r, buf)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return n, io.EOF
	}
	return n, err
}

func headerText(streamID string, state types.StreamState, url string) string {
	return fmt.Sprintf("🎙️ *%s* — %s (`%s`)", url, state, streamID)
}
