// Package slackchat implements internal/chat.Client and chat.CommandRouter
// against a real Slack workspace using slack-go/slack and its socketmode
// subpackage. Each Client owns one slack.Client bound to one workspace's bot
// token; the registry that owns workspaces keeps one Client per team_id.
package slackchat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"

	"github.com/fuba/youtube2slackthread/internal/apierr"
	"github.com/fuba/youtube2slackthread/internal/chat"
)

// Client posts transcript content into Slack threads for one workspace.
type Client struct {
	teamID string
	api    *slack.Client
	log    *slog.Logger
}

// New builds a Client bound to one workspace's bot token.
func New(teamID, botToken string, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		teamID: teamID,
		api:    slack.New(botToken),
		log:    log.With("component", "slackchat", "team_id", teamID),
	}
}

// StartThread posts headerText as a new top-level message and returns a
// ThreadRef anchored on it.
func (c *Client) StartThread(_ context.Context, channelID, headerText string) (chat.ThreadRef, error) {
	_, ts, err := c.api.PostMessage(channelID, slack.MsgOptionText(headerText, false))
	if err != nil {
		return chat.ThreadRef{}, classifyPostErr(err)
	}
	return chat.ThreadRef{TeamID: c.teamID, ChannelID: channelID, ThreadTS: ts}, nil
}

// PostSentence appends text as a threaded reply under ref.
func (c *Client) PostSentence(_ context.Context, ref chat.ThreadRef, text string) error {
	_, _, err := c.api.PostMessage(ref.ChannelID,
		slack.MsgOptionText(text, false),
		slack.MsgOptionTS(ref.ThreadTS),
	)
	if err != nil {
		return classifyPostErr(err)
	}
	return nil
}

// PostNotice posts text as a threaded reply, prefixed to stand out from
// transcript sentences in the rendered thread.
func (c *Client) PostNotice(ctx context.Context, ref chat.ThreadRef, text string) error {
	return c.PostSentence(ctx, ref, ":information_source: "+text)
}

// Edit replaces ref's own message content in place. For a thread's header,
// ref.ThreadTS is the header message's own timestamp (StartThread returns the
// header post's own ts as ThreadRef.ThreadTS), so this edits the header
// itself rather than posting a new reply.
func (c *Client) Edit(_ context.Context, ref chat.ThreadRef, text string) error {
	_, _, _, err := c.api.UpdateMessage(ref.ChannelID, ref.ThreadTS, slack.MsgOptionText(text, false))
	if err != nil {
		return classifyPostErr(err)
	}
	return nil
}

// ResolveChannel resolves name (with or without a leading "#") to a channel
// ID, paginating through the workspace's conversation list.
func (c *Client) ResolveChannel(_ context.Context, name string) (string, error) {
	target := strings.TrimPrefix(name, "#")
	params := &slack.GetConversationsParameters{
		Types: []string{"public_channel", "private_channel"},
		Limit: 200,
	}
	for {
		channels, cursor, err := c.api.GetConversations(params)
		if err != nil {
			return "", classifyPostErr(err)
		}
		for _, ch := range channels {
			if ch.Name == target {
				return ch.ID, nil
			}
		}
		if cursor == "" {
			return "", &apierr.CommandError{Message: fmt.Sprintf("no channel named %q found", name)}
		}
		params.Cursor = cursor
	}
}

// Whoami identifies the bot and its workspace via Slack's auth.test.
func (c *Client) Whoami(_ context.Context) (teamID, botUserID string, err error) {
	resp, err := c.api.AuthTest()
	if err != nil {
		return "", "", classifyPostErr(err)
	}
	return resp.TeamID, resp.UserID, nil
}

// Close is a no-op: slack.Client holds no long-lived connection for plain
// REST calls. CommandRouter's socketmode connection is closed separately.
func (c *Client) Close() error { return nil }

// permanentSlackErrors are the Slack API error codes that mean retrying
// will never succeed: the channel, thread, or permission is simply wrong.
var permanentSlackErrors = []string{
	"channel_not_found", "not_in_channel", "is_archived",
	"thread_not_found", "restricted_action", "not_authed", "invalid_auth",
}

// classifyPostErr maps a slack-go error into apierr.PostFailure so callers
// can branch on retryability without reaching back into slack-go's own
// error types.
func classifyPostErr(err error) error {
	var rlErr *slack.RateLimitedError
	if errors.As(err, &rlErr) {
		return &apierr.PostFailure{
			Kind:       apierr.PostRateLimited,
			RetryAfter: rlErr.RetryAfter.Milliseconds(),
			Cause:      err,
		}
	}
	msg := err.Error()
	for _, code := range permanentSlackErrors {
		if strings.Contains(msg, code) {
			return &apierr.PostFailure{Kind: apierr.PostPermanent, Cause: err}
		}
	}
	return &apierr.PostFailure{Kind: apierr.PostTransient, Cause: fmt.Errorf("slackchat: post message: %w", err)}
}

// Ensure Client implements chat.Client at compile time.
var _ chat.Client = (*Client)(nil)
