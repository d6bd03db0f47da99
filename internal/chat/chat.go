// Package chat defines the ChatClient contract streamthread uses to post
// transcribed sentences into a chat workspace. Implementations own their own
// connection lifecycle and credential handling; the pipeline only ever sees
// this interface, so the concrete platform (slackchat) is swappable and
// fully mockable in tests.
package chat

import "context"

// ThreadRef identifies one thread inside one channel of one workspace. A
// stream posts its entire transcript into a single ThreadRef for its
// lifetime.
type ThreadRef struct {
	TeamID    string
	ChannelID string
	ThreadTS  string
}

// Client posts messages into chat threads and creates new threads to anchor
// a stream's transcript. Implementations must be safe for concurrent use:
// multiple streams in the same workspace may post through the same Client
// simultaneously.
type Client interface {
	// StartThread posts the header message that anchors a new stream's
	// transcript and returns the ThreadRef future PostSentence/PostNotice
	// calls must target.
	StartThread(ctx context.Context, channelID, headerText string) (ThreadRef, error)

	// PostSentence appends one transcribed sentence to an existing thread.
	// Callers are responsible for ordering calls per thread; Client does not
	// reorder or batch them.
	PostSentence(ctx context.Context, ref ThreadRef, text string) error

	// PostNotice posts a control-plane message (start/stop/error/retry
	// marker) into the thread, visually distinct from transcript sentences.
	PostNotice(ctx context.Context, ref ThreadRef, text string) error

	// Edit replaces the content of an already-posted message in place (spec
	// §4.4/§4.10). Callers pass the same ThreadRef the message was
	// originally posted with — for a thread's header, ref.ThreadTS IS that
	// message's own timestamp, since StartThread returns the header's own
	// post as the thread's ref.
	Edit(ctx context.Context, ref ThreadRef, text string) error

	// ResolveChannel resolves a human channel name (with or without a
	// leading "#") to the platform's channel ID.
	ResolveChannel(ctx context.Context, name string) (string, error)

	// Whoami returns the workspace's team ID and this bot's own user ID, so
	// callers can recognize and ignore the bot's own messages when dispatching
	// inbound thread events (spec §4.12).
	Whoami(ctx context.Context) (teamID, botUserID string, err error)

	// Close releases the underlying connection.
	Close() error
}

// CommandHandlerFunc handles a single slash-command invocation.
type CommandHandlerFunc func(ctx context.Context, cmd Command) (reply string, err error)

// Command is a platform-agnostic view of an incoming slash command.
type Command struct {
	TeamID    string
	ChannelID string
	UserID    string
	Name      string
	Args      []string
}

// ThreadMessageHandlerFunc handles a single inbound thread message — a
// plain reply inside a stream's own thread (a stop/retry synonym, or a
// cookies.txt upload) rather than a slash command.
type ThreadMessageHandlerFunc func(ctx context.Context, msg ThreadMessage) (reply string, err error)

// ThreadMessage is a platform-agnostic view of an inbound message posted
// into one of the threads streamthread owns.
type ThreadMessage struct {
	TeamID    string
	ChannelID string
	ThreadTS  string
	UserID    string
	Text      string

	// CookiesFile holds the raw bytes of an uploaded cookies.txt attachment,
	// non-nil only when the message carried one (spec §6 inbound DM cookie
	// upload).
	CookiesFile []byte
}

// CommandRouter dispatches incoming slash commands and thread messages to
// registered handlers. Implementations deliver both from whatever transport
// the platform uses (Slack's Events API, a socket-mode connection, etc).
type CommandRouter interface {
	// RegisterCommand registers the handler invoked for commands named
	// name (e.g. "transcribe", "stop").
	RegisterCommand(name string, handler CommandHandlerFunc)

	// RegisterThreadMessageHandler registers the handler invoked for every
	// inbound message posted into a thread the bot itself started (or a DM,
	// for cookie uploads). The bot's own messages are never delivered here.
	RegisterThreadMessageHandler(handler ThreadMessageHandlerFunc)

	// Run starts accepting commands and blocks until ctx is cancelled.
	Run(ctx context.Context) error
}
