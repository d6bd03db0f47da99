// Package registry implements WorkspaceRegistry: the runtime cache mapping
// team_id to a live ChatClient, rebuilt from the workspace store on boot and
// on admin mutations. It also owns the one persistent socket-mode connection
// per workspace that declares an app token, multiplexing every workspace's
// inbound commands through a single chat.CommandRouter-shaped façade.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fuba/youtube2slackthread/internal/apierr"
	"github.com/fuba/youtube2slackthread/internal/chat"
	"github.com/fuba/youtube2slackthread/internal/chat/slackchat"
	"github.com/fuba/youtube2slackthread/internal/store"
)

// DefaultTeamID is the sentinel key a single-workspace deployment's rows are
// filed under, matching UserCookies/UserSettings's documented default.
const DefaultTeamID = "_default_"

// EnvFallback holds the single-workspace credentials sourced from
// SLACK_BOT_TOKEN / SLACK_SIGNING_SECRET / SLACK_APP_TOKEN, used only when
// the workspace store has no registered workspaces at all.
type EnvFallback struct {
	BotToken      string
	SigningSecret string
	AppToken      string
}

func (e EnvFallback) configured() bool { return e.BotToken != "" }

// entry bundles the live ChatClient and (if the workspace has an app token)
// the socket-mode CommandRouter driving it.
type entry struct {
	client chat.Client
	router chat.CommandRouter
	cancel context.CancelFunc
}

// Registry is WorkspaceRegistry: a team_id → ChatClient cache, backed by
// store.DB and falling back to a single env-configured workspace when the
// store holds no rows.
type Registry struct {
	db       *store.DB
	env      EnvFallback
	onCmd    func(chat.CommandRouter)
	log      *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry
}

// New builds a Registry over db. onCommand is invoked once per workspace's
// CommandRouter as it's created (boot or admin mutation) so the caller (the
// command package's Router) can register its handlers against it before Run
// is called.
func New(db *store.DB, env EnvFallback, onCommand func(chat.CommandRouter), log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		db:      db,
		env:     env,
		onCmd:   onCommand,
		log:     log.With("component", "registry"),
		entries: make(map[string]*entry),
	}
}

// Load rebuilds the registry from every active workspace in the store. If
// none are registered, it falls back to the single env-configured workspace
// under DefaultTeamID, matching spec's single-workspace mode. Called at boot
// and again by internal/app's periodic reload: every entry that existed
// before the call has its socket-mode router cancelled once the new entries
// are installed, and an entry whose workspace was not re-added is removed.
func (r *Registry) Load(ctx context.Context) error {
	workspaces, err := r.db.ListActiveWorkspaces()
	if err != nil {
		return fmt.Errorf("registry: list active workspaces: %w", err)
	}

	r.mu.RLock()
	old := make(map[string]*entry, len(r.entries))
	for teamID, e := range r.entries {
		old[teamID] = e
	}
	r.mu.RUnlock()
	defer func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for teamID, e := range old {
			if e.cancel != nil {
				e.cancel()
			}
			if r.entries[teamID] == e {
				delete(r.entries, teamID)
			}
		}
	}()

	if len(workspaces) == 0 {
		if !r.env.configured() {
			return fmt.Errorf("registry: no workspaces registered and no SLACK_BOT_TOKEN fallback configured")
		}
		return r.add(ctx, store.Workspace{
			TeamID:        DefaultTeamID,
			TeamName:      DefaultTeamID,
			BotToken:      r.env.BotToken,
			SigningSecret: r.env.SigningSecret,
			AppToken:      r.env.AppToken,
			Active:        true,
		})
	}

	for _, w := range workspaces {
		if err := r.add(ctx, w); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the ChatClient for teamID. Returns *apierr.IntegrityError if
// the workspace isn't registered or has been deactivated since.
func (r *Registry) Get(teamID string) (chat.Client, error) {
	r.mu.RLock()
	e, ok := r.entries[teamID]
	r.mu.RUnlock()
	if !ok {
		return nil, &apierr.IntegrityError{Message: fmt.Sprintf("workspace %s is not registered", teamID)}
	}
	return e.client, nil
}

// Refresh re-reads teamID from the store and rebuilds its entry, replacing
// (and tearing down) any prior ChatClient/CommandRouter for it. Called after
// an admin add/update/activate/deactivate mutation.
func (r *Registry) Refresh(ctx context.Context, teamID string) error {
	r.mu.Lock()
	if old, ok := r.entries[teamID]; ok {
		if old.cancel != nil {
			old.cancel()
		}
		delete(r.entries, teamID)
	}
	r.mu.Unlock()

	w, err := r.db.GetWorkspace(teamID)
	if err != nil {
		return fmt.Errorf("registry: refresh %s: %w", teamID, err)
	}
	if !w.Active {
		r.log.Info("registry: workspace deactivated, entry removed", "team_id", teamID)
		return nil
	}

	return r.add(ctx, w)
}

// add builds a ChatClient (and, if w has an app token, a socket-mode
// CommandRouter) for w and installs it under w.TeamID, replacing nothing —
// callers that need to tear down a prior entry first do so before calling
// add (see Refresh).
func (r *Registry) add(ctx context.Context, w store.Workspace) error {
	client := slackchat.New(w.TeamID, w.BotToken, r.log)

	e := &entry{client: client}
	if w.AppToken != "" {
		router := slackchat.NewRouter(w.BotToken, w.AppToken, r.log)
		if r.onCmd != nil {
			r.onCmd(router)
		}
		runCtx, cancel := context.WithCancel(ctx)
		e.router = router
		e.cancel = cancel
		go func() {
			if err := router.Run(runCtx); err != nil && runCtx.Err() == nil {
				r.log.Error("registry: socket-mode router exited", "team_id", w.TeamID, "error", err)
			}
		}()
	}

	r.mu.Lock()
	r.entries[w.TeamID] = e
	r.mu.Unlock()
	return nil
}

// Shutdown cancels every workspace's socket-mode connection and closes its
// ChatClient.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for teamID, e := range r.entries {
		if e.cancel != nil {
			e.cancel()
		}
		if err := e.client.Close(); err != nil {
			r.log.Warn("registry: error closing chat client", "team_id", teamID, "error", err)
		}
	}
	r.entries = make(map[string]*entry)
}
