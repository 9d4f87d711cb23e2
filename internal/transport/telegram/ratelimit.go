package telegram

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// maxTrackedChats caps the number of per-chat limiters so a flood of chat
// ids cannot exhaust memory.
const maxTrackedChats = 4096

// perChatRate is the Telegram guideline of roughly one message per second
// per chat; short bursts are tolerated.
const perChatBurst = 3

// chatLimiters keeps a bounded map of per-chat send limiters.
// Safe for concurrent use.
type chatLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newChatLimiters() *chatLimiters {
	return &chatLimiters{limiters: make(map[string]*rate.Limiter)}
}

func (c *chatLimiters) get(chatID string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	if l, ok := c.limiters[chatID]; ok {
		return l
	}
	if len(c.limiters) >= maxTrackedChats {
		for k := range c.limiters {
			delete(c.limiters, k)
			break
		}
	}
	l := rate.NewLimiter(rate.Limit(1), perChatBurst)
	c.limiters[chatID] = l
	return l
}

// wait blocks until the chat is allowed another send or ctx is done.
func (c *chatLimiters) wait(ctx context.Context, chatID string) error {
	return c.get(chatID).Wait(ctx)
}
