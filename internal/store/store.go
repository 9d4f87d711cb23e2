// Package store persists users, step states, and form entries through a
// pluggable Database capability, and exposes the Gateway the runtime drives.
package store

import (
	"context"
	"time"

	"github.com/nextlevelbuilder/flowgram/internal/jsonval"
)

// User mirrors the persisted user record. TelegramID is unique.
type User struct {
	ID           string
	TelegramID   int64
	ChatID       string
	Username     string
	FirstName    string
	LastName     string
	LanguageCode string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// StepState is the per-user, per-slug dialog position: current page,
// accepted answers keyed by page id, and the append-only history.
// (UserID, Slug) is unique. CurrentPage "" means no active page.
type StepState struct {
	ID          string
	UserID      string
	ChatID      string
	Slug        string
	CurrentPage string
	Answers     map[string]any
	History     []jsonval.HistoryEntry
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FormEntry mirrors the most recent submission for (StepStateID, PageID).
// UserID is a denormalized copy of the step state's owner for operator
// queries.
type FormEntry struct {
	ID          string
	UserID      string
	StepStateID string
	Slug        string
	PageID      string
	Payload     any
	CreatedAt   time.Time
}

// UserUpsert carries the latest profile fields for an upsert by TelegramID.
type UserUpsert struct {
	TelegramID   int64
	ChatID       string
	Username     string
	FirstName    string
	LastName     string
	LanguageCode string
}

// StepStatePatch is a minimal-diff update. Nil fields are left untouched;
// a pointer to the empty string clears CurrentPage.
type StepStatePatch struct {
	ChatID      *string
	CurrentPage *string
	Answers     map[string]any
	History     []jsonval.HistoryEntry
}

// IsEmpty reports whether the patch would change nothing.
func (p StepStatePatch) IsEmpty() bool {
	return p.ChatID == nil && p.CurrentPage == nil && p.Answers == nil && p.History == nil
}

// Database is the capability the gateway consumes. FindStepState returns
// (nil, nil) when no record exists. The handle is borrowed; the gateway
// never closes it.
type Database interface {
	UpsertUser(ctx context.Context, u UserUpsert) (*User, error)
	FindStepState(ctx context.Context, userID, slug string) (*StepState, error)
	CreateStepState(ctx context.Context, s *StepState) (*StepState, error)
	UpdateStepState(ctx context.Context, id string, patch StepStatePatch) (*StepState, error)
	UpsertFormEntry(ctx context.Context, e FormEntry) (*FormEntry, error)
}

// Ensured bundles the fresh records EnsureState resolved for a chat.
type Ensured struct {
	User      *User
	StepState *StepState
}

// StrPtr is a convenience for building patches.
func StrPtr(s string) *string { return &s }
