// Package session holds per-chat conversation state behind a write-through
// cache over a pluggable storage backend.
package session

import (
	"context"

	"github.com/mymmrac/telego"
)

// State is the in-memory conversation state for one chat. PageID is the
// current page ("" = no active page); Data holds per-page answers plus any
// session slots set by page side effects. Data is never nil.
type State struct {
	PageID string         `json:"pageId,omitempty"`
	Data   map[string]any `json:"data"`
	User   *telego.User   `json:"user,omitempty"`
}

// NewState returns an empty state with an initialized Data map.
func NewState() *State {
	return &State{Data: map[string]any{}}
}

// Storage is the backing-store capability. Get returns the raw stored value
// (legacy shapes are normalized by the Manager); a nil value with a nil
// error means no entry.
type Storage interface {
	Get(ctx context.Context, chatID string) (any, error)
	Set(ctx context.Context, chatID string, state *State) error
}

// DeletableStorage is implemented by backends that support eviction.
type DeletableStorage interface {
	Storage
	Delete(ctx context.Context, chatID string) error
}

// Normalize lifts a raw stored value into a well-formed State:
//
//   - nil yields a fresh empty state
//   - a *State gets its Data map initialized if nullish
//   - an object with a non-array "data" member is treated as already
//     normalized
//   - any other object is a legacy bare data map and is wrapped as
//     {pageId: unset, data: legacy}
//   - arrays and scalars are rejected and replaced with a fresh state
func Normalize(raw any) *State {
	switch t := raw.(type) {
	case nil:
		return NewState()
	case *State:
		if t == nil {
			return NewState()
		}
		if t.Data == nil {
			t.Data = map[string]any{}
		}
		return t
	case State:
		s := t
		if s.Data == nil {
			s.Data = map[string]any{}
		}
		return &s
	case map[string]any:
		if data, ok := t["data"]; ok {
			if _, isArr := data.([]any); !isArr {
				return normalizeObject(t, data)
			}
			// "data" holding an array is malformed; treat the whole
			// object as a legacy map.
		}
		return &State{Data: t}
	}
	return NewState()
}

func normalizeObject(obj map[string]any, data any) *State {
	s := NewState()
	if pageID, ok := obj["pageId"].(string); ok {
		s.PageID = pageID
	}
	if m, ok := data.(map[string]any); ok && m != nil {
		s.Data = m
	}
	return s
}
