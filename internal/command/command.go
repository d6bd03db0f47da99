// Package command implements CommandRouter's business logic (spec
// §4.11–§4.12): translating an inbound "/transcribe <verb> [args]" command
// into StreamRegistry operations. The transport-level dispatch (which
// platform, which event types) lives in internal/chat; this package only
// ever sees the platform-agnostic chat.Command.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fuba/youtube2slackthread/internal/apierr"
	"github.com/fuba/youtube2slackthread/internal/chat"
	"github.com/fuba/youtube2slackthread/internal/stream"
)

// stopSynonyms and retrySynonyms let users address the bot in the phrasing
// that feels natural to them; all verbs are matched case-insensitively
// after trimming.
var stopSynonyms = map[string]bool{
	"stop": true, "halt": true, "停止": true, "ストップ": true,
}

var retrySynonyms = map[string]bool{
	"retry": true, "restart": true, "再開": true, "リトライ": true,
}

// CookieStore persists a user's uploaded cookies.txt payload, e.g.
// *store.DB.PutUserCookies.
type CookieStore interface {
	PutUserCookies(teamID, userID, raw string) error
}

// Router binds chat.CommandRouter's "transcribe" command, and its inbound
// thread messages, to a stream.Registry.
type Router struct {
	registry *stream.Registry
	cookies  CookieStore
	log      *slog.Logger
}

// New creates a Router over registry. cookies may be nil, in which case
// cookie uploads posted into a thread are rejected with a CommandError.
func New(registry *stream.Registry, cookies CookieStore, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{registry: registry, cookies: cookies, log: log.With("component", "command.router")}
}

// Register wires this Router's handlers into chatRouter: the "transcribe"
// slash command, and inbound thread messages (cookie uploads and stop/retry
// synonyms posted directly into a stream's thread — spec §4.12).
func (r *Router) Register(chatRouter chat.CommandRouter) {
	chatRouter.RegisterCommand("transcribe", r.handle)
	chatRouter.RegisterThreadMessageHandler(r.handleThreadMessage)
}

func (r *Router) handle(ctx context.Context, cmd chat.Command) (string, error) {
	if len(cmd.Args) == 0 {
		return "", &apierr.CommandError{Message: "usage: /transcribe <start <url>|stop|retry|status>"}
	}

	verb := strings.ToLower(strings.TrimSpace(cmd.Args[0]))
	switch {
	case verb == "start":
		return r.handleStart(ctx, cmd)
	case stopSynonyms[verb]:
		return r.handleStop(ctx, cmd)
	case retrySynonyms[verb]:
		return r.handleRetry(ctx, cmd)
	case verb == "status":
		return r.handleStatus(cmd)
	default:
		return "", &apierr.CommandError{Message: fmt.Sprintf("unknown command %q — try start, stop, retry, or status", cmd.Args[0])}
	}
}

func (r *Router) handleStart(ctx context.Context, cmd chat.Command) (string, error) {
	if len(cmd.Args) < 2 {
		return "", &apierr.CommandError{Message: "usage: /transcribe start <url>"}
	}
	url := strings.Join(cmd.Args[1:], " ")

	s, err := r.registry.Start(ctx, stream.Request{
		TeamID:    cmd.TeamID,
		ChannelID: cmd.ChannelID,
		UserID:    cmd.UserID,
		URL:       url,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("▶️ starting transcription (stream id `%s`)", s.ID()), nil
}

func (r *Router) handleStop(ctx context.Context, cmd chat.Command) (string, error) {
	if err := r.registry.Stop(ctx, cmd.TeamID, cmd.UserID); err != nil {
		return "", err
	}
	return "⏹️ stopping transcription", nil
}

func (r *Router) handleRetry(ctx context.Context, cmd chat.Command) (string, error) {
	s, err := r.registry.Retry(ctx, cmd.TeamID, cmd.UserID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("🔁 retrying (new stream id `%s`)", s.ID()), nil
}

func (r *Router) handleStatus(cmd chat.Command) (string, error) {
	st, err := r.registry.Status(cmd.TeamID, cmd.UserID)
	if err != nil {
		return "", err
	}
	if st.LastErr != nil {
		return fmt.Sprintf("ℹ️ stream `%s` — %s (%s): %v", st.StreamID, st.State, st.URL, st.LastErr), nil
	}
	return fmt.Sprintf("ℹ️ stream `%s` — %s (%s)", st.StreamID, st.State, st.URL), nil
}

// handleThreadMessage answers a plain reply posted into a stream's own
// thread rather than issued as a slash command: a cookies.txt attachment is
// stored for the uploader, and stop/retry synonyms are honored the same way
// the "/transcribe stop|retry" command is (spec §4.12). Any other reply is
// ordinary transcript discussion and is passed through silently.
func (r *Router) handleThreadMessage(ctx context.Context, msg chat.ThreadMessage) (string, error) {
	if msg.CookiesFile != nil {
		return r.handleCookiesUpload(msg)
	}

	verb := strings.ToLower(strings.TrimSpace(msg.Text))
	switch {
	case stopSynonyms[verb]:
		if err := r.registry.StopByThread(ctx, msg.TeamID, msg.ThreadTS); err != nil {
			return "", err
		}
		return "⏹️ stopping transcription", nil
	case retrySynonyms[verb]:
		s, err := r.registry.RetryByThread(ctx, msg.TeamID, msg.ThreadTS)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("🔁 retrying (new stream id `%s`)", s.ID()), nil
	default:
		return "", nil
	}
}

func (r *Router) handleCookiesUpload(msg chat.ThreadMessage) (string, error) {
	if r.cookies == nil {
		return "", &apierr.CommandError{Message: "cookie storage is not configured"}
	}
	if err := r.cookies.PutUserCookies(msg.TeamID, msg.UserID, string(msg.CookiesFile)); err != nil {
		return "", fmt.Errorf("command: store cookies for %s/%s: %w", msg.TeamID, msg.UserID, err)
	}
	return "🍪 cookies saved — they'll be used for your next /transcribe start", nil
}
