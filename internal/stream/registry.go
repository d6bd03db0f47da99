package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fuba/youtube2slackthread/internal/apierr"
	"github.com/fuba/youtube2slackthread/internal/chat"
	"github.com/fuba/youtube2slackthread/internal/media"
	"github.com/fuba/youtube2slackthread/internal/observe"
	"github.com/fuba/youtube2slackthread/internal/resilience"
	"github.com/fuba/youtube2slackthread/internal/sentence"
	"github.com/fuba/youtube2slackthread/internal/transcribe"
	"github.com/fuba/youtube2slackthread/internal/vad"
	"github.com/fuba/youtube2slackthread/pkg/types"
)

// ChatClientResolver returns the ChatClient a stream in teamID should post
// through, e.g. WorkspaceRegistry.Get.
type ChatClientResolver func(teamID string) (chat.Client, error)

// CookiesResolver returns the raw cookies.txt payload for (teamID, userID),
// e.g. the user-secret store's GetUserCookies.
type CookiesResolver func(teamID, userID string) ([]byte, error)

// RegistryConfig configures StreamRegistry's shared collaborators. These are
// shared across every stream the registry manages — there is exactly one
// TranscriptionWorkerPool per process (spec §4.8).
type RegistryConfig struct {
	Media media.Source
	VAD   vad.Engine

	ResolveChat    ChatClientResolver
	ResolveCookies CookiesResolver

	VADConfig         vad.Config
	SentenceConfig    sentence.Config
	TranscribeWorkers int64
	TranscribeQueue   int64
	// TranscribeMaxStall is how long a stream's transcription queue may stay
	// full before the oldest queued segment is dropped (spec §5).
	TranscribeMaxStall time.Duration

	GracePeriod time.Duration
	PostRetry   resilience.RetryConfig

	// Linger is how long a terminal stream stays visible to Status/Retry
	// after reaching STOPPED/FAILED before the registry drops it. Default
	// 60s (spec §4.10).
	Linger time.Duration

	// Metrics records backpressure drops and escalations. Optional; nil
	// disables these metrics without affecting behavior.
	Metrics *observe.Metrics

	Log *slog.Logger
}

func (c RegistryConfig) withDefaults() RegistryConfig {
	if c.Linger <= 0 {
		c.Linger = 60 * time.Second
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	return c
}

// Registry enforces at most one active stream per (team_id, user_id),
// creates Controllers on demand, and sweeps terminal streams after their
// linger window expires.
type Registry struct {
	cfg  RegistryConfig
	pool *transcribe.WorkerPool
	log  *slog.Logger

	mu         sync.Mutex
	byUser     map[string]*Controller // key: teamID + "/" + userID
	byStreamID map[string]*Controller
	byThread   map[string]*Controller // key: teamID + "/" + threadTS
}

// NewRegistry builds a Registry and the single shared TranscriptionWorkerPool
// backing every stream it manages.
func NewRegistry(engine transcribe.Engine, cfg RegistryConfig) *Registry {
	cfg = cfg.withDefaults()
	r := &Registry{
		cfg:        cfg,
		log:        cfg.Log.With("component", "stream.registry"),
		byUser:     make(map[string]*Controller),
		byStreamID: make(map[string]*Controller),
		byThread:   make(map[string]*Controller),
	}
	r.pool = transcribe.NewWorkerPool(engine, transcribe.Config{
		MaxConcurrency:     cfg.TranscribeWorkers,
		QueueDepth:         cfg.TranscribeQueue,
		MaxStall:           cfg.TranscribeMaxStall,
		OnResult:           r.dispatchResult,
		OnError:            r.dispatchError,
		OnBackpressureFail: r.dispatchBackpressureFail,
		Log:                cfg.Log,
	})
	return r
}

func userKey(teamID, userID string) string { return teamID + "/" + userID }

func threadKey(teamID, threadTS string) string { return teamID + "/" + threadTS }

// Start mints a new stream for req, rejecting the request if req's
// (team_id, user_id) already has an active (non-terminal) stream.
func (r *Registry) Start(ctx context.Context, req Request) (*Stream, error) {
	r.mu.Lock()
	key := userKey(req.TeamID, req.UserID)
	if existing, ok := r.byUser[key]; ok {
		if !existing.Stream().State().Terminal() {
			r.mu.Unlock()
			return nil, &apierr.IntegrityError{Message: fmt.Sprintf("a stream is already running for this user (id=%s)", existing.Stream().ID())}
		}
		r.removeLocked(key, existing.Stream().ID(), threadKey(req.TeamID, existing.Stream().Thread().ThreadTS))
	}

	streamID := uuid.NewString()
	controller, err := r.buildController(streamID, req)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}

	r.byUser[key] = controller
	r.byStreamID[streamID] = controller
	r.mu.Unlock()

	if err := controller.Start(ctx); err != nil {
		return controller.Stream(), err
	}

	r.mu.Lock()
	r.byThread[threadKey(req.TeamID, controller.Stream().Thread().ThreadTS)] = controller
	r.mu.Unlock()

	return controller.Stream(), nil
}

// Stop requests a graceful stop of the active stream for (teamID, userID).
func (r *Registry) Stop(ctx context.Context, teamID, userID string) error {
	c, err := r.activeController(teamID, userID)
	if err != nil {
		return err
	}
	c.Stop(ctx)
	return nil
}

// Retry mints a fresh stream (a new stream_id) reusing the request
// parameters of the most recent stream for (teamID, userID). The prior
// stream must be in a terminal state. Before it is discarded, its own header
// message is edited in place with a marker pointing at the new stream_id
// (spec §4.10/§9), so a reader scrolling back to the old thread can follow
// the retry instead of finding a thread that simply went silent.
func (r *Registry) Retry(ctx context.Context, teamID, userID string) (*Stream, error) {
	key := userKey(teamID, userID)

	r.mu.Lock()
	existing, ok := r.byUser[key]
	if !ok {
		r.mu.Unlock()
		return nil, &apierr.IntegrityError{Message: "no stream to retry for this user"}
	}
	if !existing.Stream().State().Terminal() {
		r.mu.Unlock()
		return nil, &apierr.IntegrityError{Message: fmt.Sprintf("stream is still %s — stop it before retrying", existing.Stream().State())}
	}
	req := existing.Stream().Request()
	r.mu.Unlock()

	// Start handles removing the old (team,user) entry itself once it sees
	// the terminal existing controller at the same key.
	newStream, err := r.Start(ctx, req)
	if err != nil {
		return nil, err
	}

	if editErr := existing.EditHeader(ctx, fmt.Sprintf("🔁 retried → new thread (stream `%s`)", newStream.ID())); editErr != nil {
		r.log.Warn("stream: retry header marker failed", "old_stream_id", existing.Stream().ID(), "new_stream_id", newStream.ID(), "error", editErr)
	}

	return newStream, nil
}

// Status returns a snapshot of the stream for (teamID, userID), active or
// lingering terminal.
func (r *Registry) Status(teamID, userID string) (Status, error) {
	r.mu.Lock()
	c, ok := r.byUser[userKey(teamID, userID)]
	r.mu.Unlock()
	if !ok {
		return Status{}, &apierr.IntegrityError{Message: "no stream found for this user"}
	}
	return c.Stream().Status(), nil
}

func (r *Registry) activeController(teamID, userID string) (*Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byUser[userKey(teamID, userID)]
	if !ok || c.Stream().State().Terminal() {
		return nil, &apierr.IntegrityError{Message: "no active stream for this user"}
	}
	return c, nil
}

func (r *Registry) buildController(streamID string, req Request) (*Controller, error) {
	chatClient, err := r.cfg.ResolveChat(req.TeamID)
	if err != nil {
		return nil, fmt.Errorf("stream: resolve chat client for team %s: %w", req.TeamID, err)
	}

	var cookies []byte
	if r.cfg.ResolveCookies != nil {
		cookies, err = r.cfg.ResolveCookies(req.TeamID, req.UserID)
		if err != nil {
			r.log.Warn("stream: cookies unavailable, proceeding without them", "team_id", req.TeamID, "user_id", req.UserID, "error", err)
			cookies = nil
		}
	}

	vadCfg := r.cfg.VADConfig
	vadCfg.StreamID = streamID

	sentenceCfg := r.cfg.SentenceConfig
	s := newStream(streamID, req)
	return New(s, Dependencies{
		Media:        r.cfg.Media,
		VAD:          r.cfg.VAD,
		Transcribe:   r.pool,
		Chat:         chatClient,
		Cookies:      cookies,
		NewAssembler: func() sentence.Assembler { return sentence.New(sentenceCfg) },
		VADConfig:    vadCfg,
		GracePeriod:  r.cfg.GracePeriod,
		PostRetry:    r.cfg.PostRetry,
		Log:          r.cfg.Log,
	}), nil
}

// removeLocked removes key/streamID/threadKey's entries. Callers must hold
// r.mu. threadKey may be absent from byThread (e.g. Start never got as far
// as posting a header); deleting a missing key is a no-op.
func (r *Registry) removeLocked(key, streamID, threadKey string) {
	delete(r.byUser, key)
	delete(r.byStreamID, streamID)
	delete(r.byThread, threadKey)
}

// dispatchResult and dispatchError are the TranscriptionWorkerPool callbacks
// shared by every stream: the pool only knows a stream_id, so these look up
// the owning Controller and forward the result or error to it.
func (r *Registry) dispatchResult(tr types.Transcription) {
	r.mu.Lock()
	c, ok := r.byStreamID[tr.StreamID]
	r.mu.Unlock()
	if !ok {
		r.log.Warn("stream: transcription for unknown stream, dropping", "stream_id", tr.StreamID, "seq", tr.Seq)
		return
	}
	c.HandleTranscription(tr)
}

func (r *Registry) dispatchError(streamID string, seq int, err error) {
	r.mu.Lock()
	c, ok := r.byStreamID[streamID]
	r.mu.Unlock()
	if !ok {
		r.log.Warn("stream: transcription error for unknown stream, dropping", "stream_id", streamID, "seq", seq, "error", err)
		return
	}
	c.HandleTranscriptionError(seq, err)
}

// dispatchBackpressureFail is the TranscriptionWorkerPool callback invoked
// once a stream has exceeded the backpressure drop threshold (spec §5); it
// escalates that stream straight to FAILED.
func (r *Registry) dispatchBackpressureFail(streamID string, err error) {
	r.mu.Lock()
	c, ok := r.byStreamID[streamID]
	r.mu.Unlock()
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.RecordBackpressureDrop(context.Background(), streamID)
	}
	if !ok {
		r.log.Warn("stream: backpressure failure for unknown stream, dropping", "stream_id", streamID, "error", err)
		return
	}
	r.log.Warn("stream: escalating to FAILED under backpressure", "stream_id", streamID, "error", err)
	c.FailNow(err)
}

// controllerForThread returns the Controller anchored on (teamID, threadTS),
// used to route an inbound thread message (spec §4.12) back to its owning
// stream without the caller needing to know the (team, user) key.
func (r *Registry) controllerForThread(teamID, threadTS string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byThread[threadKey(teamID, threadTS)]
	return c, ok
}

// StopByThread requests a graceful stop of the stream anchored on
// (teamID, threadTS), e.g. a "stop" reply posted directly into the thread
// rather than issued as a slash command.
func (r *Registry) StopByThread(ctx context.Context, teamID, threadTS string) error {
	c, ok := r.controllerForThread(teamID, threadTS)
	if !ok {
		return &apierr.IntegrityError{Message: "no stream found for this thread"}
	}
	c.Stop(ctx)
	return nil
}

// RetryByThread retries the stream anchored on (teamID, threadTS).
func (r *Registry) RetryByThread(ctx context.Context, teamID, threadTS string) (*Stream, error) {
	c, ok := r.controllerForThread(teamID, threadTS)
	if !ok {
		return nil, &apierr.IntegrityError{Message: "no stream found for this thread"}
	}
	req := c.Stream().Request()
	return r.Retry(ctx, req.TeamID, req.UserID)
}

// RunSweeper removes lingering terminal streams from the registry once
// their linger window has elapsed. Blocks until ctx is cancelled.
func (r *Registry) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

// ActiveCount returns the number of streams currently in a non-terminal
// state (PENDING/RUNNING/STOPPING). Safe to call from the health endpoint
// and metrics gauge on any goroutine.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.byUser {
		if !c.Stream().State().Terminal() {
			n++
		}
	}
	return n
}

func (r *Registry) sweep() {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, c := range r.byUser {
		since, terminal := c.Stream().terminalSince()
		if !terminal || now.Sub(since) < r.cfg.Linger {
			continue
		}
		r.removeLocked(key, c.Stream().ID(), threadKey(c.Stream().Thread().TeamID, c.Stream().Thread().ThreadTS))
	}
}
