// Package transport defines the chat-platform capability consumed by the
// bot runtime. The runtime never talks to Telegram directly; it sends
// through a Client and receives updates through listeners registered with
// On. The default implementation lives in transport/telegram.
package transport

import (
	"context"

	"github.com/mymmrac/telego"
)

// Event tags the transport events a handler can attach to.
type Event string

const (
	EventMessage       Event = "message"
	EventEditedMessage Event = "edited_message"
	EventCallbackQuery Event = "callback_query"
)

// Listener receives one update for the event it was registered on.
type Listener func(ctx context.Context, update telego.Update)

// SendOptions carries the per-message send modifiers the page layer can set.
type SendOptions struct {
	ParseMode             string
	ReplyMarkup           telego.ReplyMarkup
	DisableWebPagePreview bool
}

// Clone returns a shallow copy so callers can overlay a keyboard without
// mutating page-owned options.
func (o *SendOptions) Clone() *SendOptions {
	if o == nil {
		return &SendOptions{}
	}
	c := *o
	return &c
}

// Client is the transport capability: send a message, attach listeners, and
// run/stop the long-polling loop. Implementations must be safe for
// concurrent SendMessage calls.
type Client interface {
	SendMessage(ctx context.Context, chatID string, text string, opts *SendOptions) error
	On(event Event, fn Listener)
	StartPolling(ctx context.Context) error
	StopPolling(ctx context.Context) error
}

// Factory builds a Client for a bot token. The registry injects it so tests
// and embedders can substitute the transport.
type Factory func(token string) (Client, error)
