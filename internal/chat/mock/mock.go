// Package mock provides test doubles for the chat package interfaces.
package mock

import (
	"context"
	"sync"

	"github.com/fuba/youtube2slackthread/internal/chat"
)

// StartThreadCall records a single invocation of Client.StartThread.
type StartThreadCall struct {
	ChannelID  string
	HeaderText string
}

// PostCall records a single invocation of PostSentence, PostNotice, or Edit.
type PostCall struct {
	Ref  chat.ThreadRef
	Text string
}

// Client is a mock implementation of chat.Client.
type Client struct {
	mu sync.Mutex

	// ThreadRef is returned by every StartThread call. If zero, a ref
	// derived from the call count is synthesized.
	ThreadRef chat.ThreadRef

	// StartThreadErr, if non-nil, is returned by StartThread.
	StartThreadErr error
	// PostSentenceErr, if non-nil, is returned by every PostSentence call.
	PostSentenceErr error
	// PostNoticeErr, if non-nil, is returned by every PostNotice call.
	PostNoticeErr error
	// EditErr, if non-nil, is returned by every Edit call.
	EditErr error
	// ResolveChannelErr, if non-nil, is returned by ResolveChannel.
	ResolveChannelErr error
	// ResolveChannelResult is returned by ResolveChannel on success.
	ResolveChannelResult string
	// WhoamiErr, if non-nil, is returned by Whoami.
	WhoamiErr error
	// WhoamiTeamID/WhoamiBotUserID are returned by Whoami on success.
	WhoamiTeamID    string
	WhoamiBotUserID string
	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	StartThreadCalls     []StartThreadCall
	PostSentenceCalls    []PostCall
	PostNoticeCalls       []PostCall
	EditCalls             []PostCall
	ResolveChannelCalls   []string
	WhoamiCallCount       int
	CloseCallCount        int
}

// StartThread records the call and returns ThreadRef, StartThreadErr.
func (c *Client) StartThread(_ context.Context, channelID, headerText string) (chat.ThreadRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StartThreadCalls = append(c.StartThreadCalls, StartThreadCall{ChannelID: channelID, HeaderText: headerText})
	if c.StartThreadErr != nil {
		return chat.ThreadRef{}, c.StartThreadErr
	}
	if c.ThreadRef != (chat.ThreadRef{}) {
		return c.ThreadRef, nil
	}
	return chat.ThreadRef{TeamID: "T_MOCK", ChannelID: channelID, ThreadTS: "1.000000"}, nil
}

// PostSentence records the call and returns PostSentenceErr.
func (c *Client) PostSentence(_ context.Context, ref chat.ThreadRef, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PostSentenceCalls = append(c.PostSentenceCalls, PostCall{Ref: ref, Text: text})
	return c.PostSentenceErr
}

// PostNotice records the call and returns PostNoticeErr.
func (c *Client) PostNotice(_ context.Context, ref chat.ThreadRef, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PostNoticeCalls = append(c.PostNoticeCalls, PostCall{Ref: ref, Text: text})
	return c.PostNoticeErr
}

// Edit records the call and returns EditErr.
func (c *Client) Edit(_ context.Context, ref chat.ThreadRef, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.EditCalls = append(c.EditCalls, PostCall{Ref: ref, Text: text})
	return c.EditErr
}

// ResolveChannel records the call and returns ResolveChannelResult, ResolveChannelErr.
func (c *Client) ResolveChannel(_ context.Context, name string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ResolveChannelCalls = append(c.ResolveChannelCalls, name)
	if c.ResolveChannelErr != nil {
		return "", c.ResolveChannelErr
	}
	return c.ResolveChannelResult, nil
}

// Whoami records the call and returns WhoamiTeamID, WhoamiBotUserID, WhoamiErr.
func (c *Client) Whoami(_ context.Context) (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.WhoamiCallCount++
	if c.WhoamiErr != nil {
		return "", "", c.WhoamiErr
	}
	return c.WhoamiTeamID, c.WhoamiBotUserID, nil
}

// Close records the call and returns CloseErr.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CloseCallCount++
	return c.CloseErr
}

// ResetCalls clears all recorded call history. Thread-safe.
func (c *Client) ResetCalls() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.StartThreadCalls = nil
	c.PostSentenceCalls = nil
	c.PostNoticeCalls = nil
	c.EditCalls = nil
	c.ResolveChannelCalls = nil
	c.WhoamiCallCount = 0
	c.CloseCallCount = 0
}

// Ensure Client implements chat.Client at compile time.
var _ chat.Client = (*Client)(nil)

// RegisterCommandCall records a single invocation of CommandRouter.RegisterCommand.
type RegisterCommandCall struct {
	Name    string
	Handler chat.CommandHandlerFunc
}

// CommandRouter is a mock implementation of chat.CommandRouter.
type CommandRouter struct {
	mu sync.Mutex

	RunErr error

	RegisterCommandCalls             []RegisterCommandCall
	ThreadMessageHandler              chat.ThreadMessageHandlerFunc
	RegisterThreadMessageHandlerCount int
	RunCallCount                      int
}

func (r *CommandRouter) RegisterCommand(name string, handler chat.CommandHandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.RegisterCommandCalls = append(r.RegisterCommandCalls, RegisterCommandCall{Name: name, Handler: handler})
}

// RegisterThreadMessageHandler records handler so tests can invoke it
// directly to simulate an inbound thread message.
func (r *CommandRouter) RegisterThreadMessageHandler(handler chat.ThreadMessageHandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ThreadMessageHandler = handler
	r.RegisterThreadMessageHandlerCount++
}

func (r *CommandRouter) Run(ctx context.Context) error {
	r.mu.Lock()
	r.RunCallCount++
	err := r.RunErr
	r.mu.Unlock()
	if err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

// Ensure CommandRouter implements chat.CommandRouter at compile time.
var _ chat.CommandRouter = (*CommandRouter)(nil)
