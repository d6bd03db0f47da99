// Package app wires all streamthread subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the main processing loop (the health/metrics
// HTTP server and the stream registry's linger sweep), and Shutdown tears
// everything down in order.
//
// For testing, inject test doubles via functional options (WithMediaSource,
// WithVADEngine, WithTranscribeEngine, WithStore). When an option is not
// provided, New creates the real implementation from cfg/secrets.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/robfig/cron/v3"

	"github.com/fuba/youtube2slackthread/internal/chat"
	"github.com/fuba/youtube2slackthread/internal/command"
	"github.com/fuba/youtube2slackthread/internal/config"
	"github.com/fuba/youtube2slackthread/internal/health"
	"github.com/fuba/youtube2slackthread/internal/media"
	"github.com/fuba/youtube2slackthread/internal/media/ytdlp"
	"github.com/fuba/youtube2slackthread/internal/observe"
	"github.com/fuba/youtube2slackthread/internal/registry"
	"github.com/fuba/youtube2slackthread/internal/resilience"
	"github.com/fuba/youtube2slackthread/internal/secretbox"
	"github.com/fuba/youtube2slackthread/internal/store"
	"github.com/fuba/youtube2slackthread/internal/stream"
	"github.com/fuba/youtube2slackthread/internal/transcribe"
	"github.com/fuba/youtube2slackthread/internal/transcribe/whispercpp"
	"github.com/fuba/youtube2slackthread/internal/vad"
)

// Secrets holds the credentials and paths streamthread reads directly from
// the environment (never from the YAML config — spec §6). Populated by
// cmd/streamthread's main.
type Secrets struct {
	CookieKey *secretbox.Box

	DBPath string

	// SlackBotToken/SigningSecret/AppToken seed the single-workspace
	// env fallback inside internal/registry when no workspace has been
	// registered in the store yet.
	SlackBotToken      string
	SlackSigningSecret string
	SlackAppToken      string
}

// App owns all subsystem lifetimes and orchestrates the transcription
// pipeline end to end.
type App struct {
	cfg     *config.Config
	secrets Secrets

	db         *store.DB
	workspaces *registry.Registry
	streams    *stream.Registry
	commands   *command.Router
	metrics    *observe.Metrics
	httpServer *http.Server
	reload     *cron.Cron

	media      media.Source
	vadEngine  vad.Engine
	transcribe transcribe.Engine

	log *slog.Logger

	// closers are called in reverse order during Shutdown.
	closers []func(context.Context) error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithMediaSource injects a media.Source instead of creating a ytdlp.Source.
func WithMediaSource(m media.Source) Option {
	return func(a *App) { a.media = m }
}

// WithVADEngine injects a vad.Engine instead of creating vad.EnergyEngine.
func WithVADEngine(v vad.Engine) Option {
	return func(a *App) { a.vadEngine = v }
}

// WithTranscribeEngine injects a transcribe.Engine instead of creating a
// whispercpp.Engine from cfg.Whisper.
func WithTranscribeEngine(e transcribe.Engine) Option {
	return func(a *App) { a.transcribe = e }
}

// WithStore injects an already-open *store.DB instead of opening one at
// secrets.DBPath.
func WithStore(db *store.DB) Option {
	return func(a *App) { a.db = db }
}

// New wires every subsystem together: the durable store, the transcription
// engine, the stream registry, the workspace registry, the command router,
// and the health/metrics HTTP server. Initialisation is synchronous; Run
// starts the background loops.
func New(ctx context.Context, cfg *config.Config, secrets Secrets, opts ...Option) (*App, error) {
	a := &App{
		cfg:     cfg,
		secrets: secrets,
		log:     slog.Default().With("component", "app"),
	}
	for _, o := range opts {
		o(a)
	}

	if err := a.initStore(); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}
	if err := a.initPipelineDeps(); err != nil {
		return nil, fmt.Errorf("app: init pipeline dependencies: %w", err)
	}

	a.metrics = observe.DefaultMetrics()

	a.streams = stream.NewRegistry(a.transcribe, stream.RegistryConfig{
		Media:              a.media,
		VAD:                a.vadEngine,
		ResolveChat:        a.resolveChat,
		ResolveCookies:     a.resolveCookies,
		VADConfig:          cfg.VAD.ToVADConfig(),
		SentenceConfig:     cfg.VAD.ToSentenceConfig(),
		TranscribeWorkers:  cfg.Transcribe.Workers,
		TranscribeQueue:    cfg.Transcribe.QueueDepth,
		TranscribeMaxStall: cfg.Transcribe.MaxStall(),
		GracePeriod:        cfg.GracePeriod(),
		PostRetry:          resilience.RetryConfig{},
		Linger:             cfg.Linger(),
		Metrics:            a.metrics,
		Log:                a.log,
	})

	a.commands = command.New(a.streams, a.db, a.log)

	a.workspaces = registry.New(a.db, registry.EnvFallback{
		BotToken:      secrets.SlackBotToken,
		SigningSecret: secrets.SlackSigningSecret,
		AppToken:      secrets.SlackAppToken,
	}, a.commands.Register, a.log)

	if err := a.workspaces.Load(ctx); err != nil {
		return nil, fmt.Errorf("app: load workspaces: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error {
		a.workspaces.Shutdown()
		return nil
	})

	a.initReload()
	a.initHTTPServer()

	return a, nil
}

// initReload schedules a periodic full reload of the workspace registry
// from the store, catching workspace rows an operator inserted or edited
// directly rather than through a Refresh call (spec's admin-mutation path
// is out of scope, see SPEC_FULL.md §1 Non-goals — this is the only way
// such a change becomes visible without a process restart).
func (a *App) initReload() {
	a.reload = cron.New()
	a.reload.AddFunc("*/5 * * * *", func() {
		if err := a.workspaces.Load(context.Background()); err != nil {
			a.log.Warn("periodic workspace reload failed", "error", err)
		}
	})
	a.reload.Start()
	a.closers = append(a.closers, func(context.Context) error {
		<-a.reload.Stop().Done()
		return nil
	})
}

func (a *App) initStore() error {
	if a.db != nil {
		return nil // injected
	}
	db, err := store.Open(a.secrets.DBPath, a.secrets.CookieKey, a.log)
	if err != nil {
		return err
	}
	a.db = db
	a.closers = append(a.closers, func(context.Context) error { return db.Close() })
	return nil
}

func (a *App) initPipelineDeps() error {
	if a.media == nil {
		a.media = ytdlp.New(a.log)
	}
	if a.vadEngine == nil {
		a.vadEngine = vad.EnergyEngine{}
	}
	if a.transcribe == nil {
		eng, err := whispercpp.New(a.cfg.Whisper.ModelPath, a.cfg.Whisper.DefaultLanguage, a.log)
		if err != nil {
			return err
		}
		a.transcribe = eng
		a.closers = append(a.closers, func(context.Context) error { return eng.Close() })
	}
	return nil
}

func (a *App) initHTTPServer() {
	checkers := []health.Checker{
		{Name: "database", Check: func(ctx context.Context) error { return a.db.Ping(ctx) }},
	}
	h := health.New(a.streams.ActiveCount, checkers...)

	r := chi.NewRouter()
	h.Register(r)

	a.httpServer = &http.Server{
		Addr:    a.cfg.Server.ListenAddr,
		Handler: observe.Middleware(a.metrics)(r),
	}
}

// resolveChat satisfies stream.ChatClientResolver.
func (a *App) resolveChat(teamID string) (chat.Client, error) {
	return a.workspaces.Get(teamID)
}

// resolveCookies satisfies stream.CookiesResolver.
func (a *App) resolveCookies(teamID, userID string) ([]byte, error) {
	c, err := a.db.GetUserCookies(teamID, userID)
	if err != nil {
		return nil, err
	}
	return []byte(c.Raw), nil
}

// Streams returns the stream registry, for wiring into a chat command
// router outside of the workspace registry's own socket-mode dispatch
// (e.g. an HTTP-based slash-command endpoint).
func (a *App) Streams() *stream.Registry { return a.streams }

// Run starts the background loops — the linger sweep and the health/metrics
// HTTP server — and blocks until ctx is cancelled or the HTTP server fails.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go a.streams.RunSweeper(ctx)

	go func() {
		if a.httpServer.Addr == "" {
			a.log.Info("health server disabled: empty listen_addr")
			return
		}
		a.log.Info("health server listening", "addr", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("app: health server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown tears down all subsystems in reverse-init order, respecting
// ctx's deadline.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			a.log.Warn("health server shutdown error", "error", err)
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](ctx); err != nil {
				a.log.Warn("closer error", "index", i, "error", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// InitTelemetry sets up the global OTel providers, reporting serviceVersion
// under the service name "streamthread". Call before
// New so DefaultMetrics() picks up the real exporter instead of the no-op
// default provider.
func InitTelemetry(ctx context.Context, serviceVersion string) (shutdown func(context.Context) error, err error) {
	return observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "streamthread",
		ServiceVersion: serviceVersion,
	})
}
