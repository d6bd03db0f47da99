package slackchat

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/fuba/youtube2slackthread/internal/chat"
)

// Router dispatches Slack slash commands and Events API thread messages
// delivered over a socket-mode connection to registered handlers, the same
// "name → handler map behind a mutex" shape the teacher's Discord
// CommandRouter uses, adapted from application-command interactions to
// Slack's slash-command and message events.
type Router struct {
	mu            sync.RWMutex
	handlers      map[string]chat.CommandHandlerFunc
	threadHandler chat.ThreadMessageHandlerFunc

	client *socketmode.Client
	log    *slog.Logger

	// botUserID is learned via auth.test at Run startup, so
	// handleMessageEvent can recognize and ignore the bot's own posts.
	botUserID string
}

// NewRouter builds a Router bound to one workspace's bot and app tokens.
func NewRouter(botToken, appToken string, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	api := slack.New(botToken, slack.OptionAppLevelToken(appToken))
	client := socketmode.New(api)
	return &Router{
		handlers: make(map[string]chat.CommandHandlerFunc),
		client:   client,
		log:      log.With("component", "slackchat.router"),
	}
}

// RegisterCommand registers handler for slash command name (without the
// leading slash, e.g. "transcribe").
func (r *Router) RegisterCommand(name string, handler chat.CommandHandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[strings.TrimPrefix(name, "/")] = handler
}

// RegisterThreadMessageHandler registers handler for inbound thread
// messages and DMs (spec §4.12): cookie uploads and stop/retry synonyms
// posted directly into a thread rather than issued as a slash command.
func (r *Router) RegisterThreadMessageHandler(handler chat.ThreadMessageHandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threadHandler = handler
}

// Run connects the socket-mode client and dispatches incoming events until
// ctx is cancelled.
func (r *Router) Run(ctx context.Context) error {
	if resp, err := r.client.Client.AuthTest(); err != nil {
		r.log.Warn("slackchat: auth.test failed, cannot filter the bot's own messages", "error", err)
	} else {
		r.botUserID = resp.UserID
	}

	go r.dispatchLoop(ctx)
	if err := r.client.RunContext(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("slackchat: socketmode run: %w", err)
	}
	return ctx.Err()
}

func (r *Router) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-r.client.Events:
			if !ok {
				return
			}
			r.handleEvent(ctx, evt)
		}
	}
}

func (r *Router) handleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slack.SlashCommand)
		if !ok {
			r.log.Warn("slackchat: unexpected slash command payload type")
			return
		}
		r.client.Ack(*evt.Request)
		r.handleSlashCommand(ctx, cmd)

	case socketmode.EventTypeEventsAPI:
		apiEvt, ok := evt.Data.(slackevents.EventsAPIEvent)
		if ok {
			r.client.Ack(*evt.Request)
			r.handleEventsAPI(ctx, apiEvt)
		}

	case socketmode.EventTypeConnecting, socketmode.EventTypeConnected:
		r.log.Debug("slackchat: socketmode status", "type", evt.Type)

	default:
	}
}

func (r *Router) handleSlashCommand(ctx context.Context, cmd slack.SlashCommand) {
	name := strings.TrimPrefix(cmd.Command, "/")

	r.mu.RLock()
	handler, ok := r.handlers[name]
	r.mu.RUnlock()

	if !ok {
		r.log.Warn("slackchat: unknown slash command", "command", cmd.Command)
		return
	}

	reply, err := handler(ctx, chat.Command{
		TeamID:    cmd.TeamID,
		ChannelID: cmd.ChannelID,
		UserID:    cmd.UserID,
		Name:      name,
		Args:      strings.Fields(cmd.Text),
	})
	if err != nil {
		reply = fmt.Sprintf("❌ %v", err)
	}
	if reply == "" {
		return
	}
	if _, _, postErr := r.client.Client.PostMessage(cmd.ChannelID,
		slack.MsgOptionText(reply, false),
		slack.MsgOptionResponseURL(cmd.ResponseURL, slack.ResponseTypeEphemeral),
	); postErr != nil {
		r.log.Warn("slackchat: failed to reply to slash command", "err", postErr)
	}
}

// handleEventsAPI dispatches one Events API callback to the registered
// thread-message handler. Only message events carry a cookies.txt upload or
// a stop/retry reply, so every other callback subtype is ignored.
func (r *Router) handleEventsAPI(ctx context.Context, apiEvt slackevents.EventsAPIEvent) {
	if apiEvt.Type != slackevents.CallbackEvent {
		return
	}
	msgEvt, ok := apiEvt.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	r.handleMessageEvent(ctx, apiEvt.TeamID, msgEvt)
}

func (r *Router) handleMessageEvent(ctx context.Context, teamID string, evt *slackevents.MessageEvent) {
	if evt.User == "" || evt.User == r.botUserID || evt.SubType == "bot_message" {
		return
	}

	r.mu.RLock()
	handler := r.threadHandler
	r.mu.RUnlock()
	if handler == nil {
		return
	}

	threadTS := evt.ThreadTimeStamp
	if threadTS == "" {
		threadTS = evt.TimeStamp
	}
	msg := chat.ThreadMessage{
		TeamID:    teamID,
		ChannelID: evt.Channel,
		ThreadTS:  threadTS,
		UserID:    evt.User,
		Text:      evt.Text,
	}

	for _, f := range evt.Files {
		if !looksLikeCookiesFile(f.Name) {
			continue
		}
		var buf bytes.Buffer
		if err := r.client.Client.GetFile(f.URLPrivateDownload, &buf); err != nil {
			r.log.Warn("slackchat: download cookies attachment failed", "error", err)
			continue
		}
		msg.CookiesFile = buf.Bytes()
		break
	}

	reply, err := handler(ctx, msg)
	if err != nil {
		reply = fmt.Sprintf("❌ %v", err)
	}
	if reply == "" {
		return
	}
	if _, _, postErr := r.client.Client.PostMessage(msg.ChannelID,
		slack.MsgOptionText(reply, false),
		slack.MsgOptionTS(threadTS),
	); postErr != nil {
		r.log.Warn("slackchat: failed to reply in thread", "err", postErr)
	}
}

// looksLikeCookiesFile reports whether an uploaded file's name looks like a
// cookies.txt jar (spec §6 inbound cookie upload).
func looksLikeCookiesFile(name string) bool {
	name = strings.ToLower(name)
	return strings.Contains(name, "cookie") && strings.HasSuffix(name, ".txt")
}

// Ensure Router implements chat.CommandRouter at compile time.
var _ chat.CommandRouter = (*Router)(nil)
