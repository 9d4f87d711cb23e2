package runtime

import "sync"

// chatLocks serializes work per chat id. Entries are refcounted and evicted
// when the last holder releases, so idle chats cost nothing.
type chatLocks struct {
	mu    sync.Mutex
	chats map[string]*chatLock
}

type chatLock struct {
	mu   sync.Mutex
	refs int
}

func newChatLocks() *chatLocks {
	return &chatLocks{chats: make(map[string]*chatLock)}
}

// acquire blocks until the chat's lock is held and returns the release
// function.
func (l *chatLocks) acquire(chatID string) func() {
	l.mu.Lock()
	entry, ok := l.chats[chatID]
	if !ok {
		entry = &chatLock{}
		l.chats[chatID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.chats, chatID)
		}
		l.mu.Unlock()
	}
}
