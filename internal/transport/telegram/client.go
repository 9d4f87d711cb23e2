// Package telegram implements the transport capability over the Telegram
// Bot API using long polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/flowgram/internal/transport"
)

// maxMessageRunes is the Telegram sendMessage text limit.
const maxMessageRunes = 4096

// stopPollTimeout bounds how long Stop waits for the polling goroutine.
// Telegram holds a getUpdates lock per token; a replacement client cannot
// poll until the old goroutine exits.
const stopPollTimeout = 10 * time.Second

// Client connects to Telegram via the Bot API using long polling and
// dispatches updates to listeners registered per event.
type Client struct {
	bot *telego.Bot

	mu        sync.RWMutex
	listeners map[transport.Event][]transport.Listener

	limiters *chatLimiters

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New creates a Telegram transport client for token. Polling does not start
// until StartPolling.
func New(token string) (*Client, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Client{
		bot:       bot,
		listeners: make(map[transport.Event][]transport.Listener),
		limiters:  newChatLimiters(),
	}, nil
}

// Factory adapts New to the transport.Factory signature.
func Factory(token string) (transport.Client, error) {
	return New(token)
}

// On registers a listener for an event. Listeners registered after
// StartPolling receive subsequent updates.
func (c *Client) On(event transport.Event, fn transport.Listener) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners[event] = append(c.listeners[event], fn)
}

// StartPolling begins long polling for updates and dispatches them to the
// registered listeners. Non-blocking after setup.
func (c *Client) StartPolling(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout: 30,
		AllowedUpdates: []string{
			"message",
			"edited_message",
			"callback_query",
		},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	slog.Info("telegram bot connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram updates channel closed")
					return
				}
				c.dispatch(pollCtx, update)
			}
		}
	}()

	return nil
}

func (c *Client) dispatch(ctx context.Context, update telego.Update) {
	event, ok := classify(update)
	if !ok {
		slog.Debug("telegram update skipped", "update_id", update.UpdateID)
		return
	}
	if update.Message != nil {
		slog.Debug("telegram message received",
			"chat_id", update.Message.Chat.ID,
			"text_preview", runewidth.Truncate(update.Message.Text, 60, "..."),
		)
	}

	c.mu.RLock()
	fns := make([]transport.Listener, len(c.listeners[event]))
	copy(fns, c.listeners[event])
	c.mu.RUnlock()

	for _, fn := range fns {
		fn(ctx, update)
	}
}

func classify(update telego.Update) (transport.Event, bool) {
	switch {
	case update.Message != nil:
		return transport.EventMessage, true
	case update.EditedMessage != nil:
		return transport.EventEditedMessage, true
	case update.CallbackQuery != nil:
		return transport.EventCallbackQuery, true
	}
	return "", false
}

// SendMessage delivers text to a chat, splitting messages that exceed the
// Telegram limit. Send options apply to the final part only; intermediate
// parts are plain text so a keyboard is attached exactly once.
func (c *Client) SendMessage(ctx context.Context, chatID string, text string, opts *transport.SendOptions) error {
	id, err := ParseChatID(chatID)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", chatID, err)
	}

	parts := SplitMessage(text, maxMessageRunes)
	for i, part := range parts {
		if err := c.limiters.wait(ctx, chatID); err != nil {
			return err
		}
		msg := tu.Message(tu.ID(id), part)
		if i == len(parts)-1 && opts != nil {
			if opts.ParseMode != "" {
				msg.ParseMode = opts.ParseMode
			}
			msg.ReplyMarkup = opts.ReplyMarkup
			if opts.DisableWebPagePreview {
				msg.LinkPreviewOptions = &telego.LinkPreviewOptions{IsDisabled: true}
			}
		}
		if _, err := c.bot.SendMessage(ctx, msg); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

// StopPolling cancels the long-polling context and waits for the polling
// goroutine to exit so the token's getUpdates lock is released.
func (c *Client) StopPolling(_ context.Context) error {
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(stopPollTimeout):
			slog.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	return nil
}

// ParseChatID converts a string chat id to the numeric id Telegram expects.
func ParseChatID(chatID string) (int64, error) {
	var id int64
	if _, err := fmt.Sscanf(chatID, "%d", &id); err != nil {
		return 0, err
	}
	return id, nil
}

// SplitMessage splits text into chunks of at most limit runes, preferring
// newline boundaries so paragraphs stay intact.
func SplitMessage(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var parts []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
