package jsonval

import (
	"fmt"
	"time"
)

// HistoryEntry is one accepted submission in a step state's history.
// History is append-only; timestamps are RFC 3339 UTC and non-decreasing
// within a step state.
type HistoryEntry struct {
	PageID    string `json:"pageId"`
	Value     any    `json:"value"`
	Timestamp string `json:"timestamp"`
}

// NewHistoryEntry builds an entry for a freshly accepted value. The value is
// canonicalized; the timestamp is taken now.
func NewHistoryEntry(pageID string, value any) HistoryEntry {
	return HistoryEntry{
		PageID:    pageID,
		Value:     Serialize(value),
		Timestamp: Timestamp(time.Now()),
	}
}

// Timestamp formats t as the canonical RFC 3339 UTC string used in history.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// NormalizeHistory lifts a raw persisted history value into a well-formed
// entry list. Non-arrays collapse to an empty history; entries that are not
// objects are dropped; pageId is coerced to string; a missing timestamp
// defaults to now.
func NormalizeHistory(raw any) []HistoryEntry {
	items, ok := raw.([]any)
	if !ok {
		if typed, isTyped := raw.([]HistoryEntry); isTyped {
			out := make([]HistoryEntry, len(typed))
			copy(out, typed)
			return out
		}
		return []HistoryEntry{}
	}

	out := make([]HistoryEntry, 0, len(items))
	for _, item := range items {
		obj, isObj := item.(map[string]any)
		if !isObj {
			continue
		}
		entry := HistoryEntry{
			PageID: coerceString(obj["pageId"]),
			Value:  Serialize(obj["value"]),
		}
		if ts, isStr := obj["timestamp"].(string); isStr && ts != "" {
			entry.Timestamp = ts
		} else {
			entry.Timestamp = Timestamp(time.Now())
		}
		out = append(out, entry)
	}
	return out
}

func coerceString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		// JSON numbers decode as float64; keep integral ids undecorated.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
