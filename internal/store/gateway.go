package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/flowgram/internal/jsonval"
	"github.com/nextlevelbuilder/flowgram/internal/session"
)

// ErrNoTelegramUser is returned by EnsureState when neither the message nor
// the session identifies a sender.
var ErrNoTelegramUser = errors.New("no telegram user on message or session")

// Gateway is the persistence surface the runtime drives once per message.
// The no-op implementation is used when no database handle is configured.
type Gateway interface {
	// EnsureState upserts the user, resolves or creates the step state for
	// (user, slug), and applies a minimal diff (chat id, current page) to an
	// existing record. currentPageID "" leaves the persisted position alone
	// on existing records.
	EnsureState(ctx context.Context, chatID string, sess *session.State, msg *telego.Message, currentPageID string) (*Ensured, error)

	// PersistStepProgress records an accepted value for a page: answers are
	// extended, one history entry is appended, and the form entry mirror is
	// upserted. Passes through when st is nil.
	PersistStepProgress(ctx context.Context, st *StepState, pageID string, value any) (*StepState, error)

	// SyncSessionState mirrors derived session slots into answers; a no-op
	// when the serialized data already deep-equals the stored answers.
	SyncSessionState(ctx context.Context, st *StepState, data map[string]any) (*StepState, error)

	// UpdateCurrentPage moves the persisted position; "" clears it. A no-op
	// when the position is unchanged.
	UpdateCurrentPage(ctx context.Context, st *StepState, pageID string) (*StepState, error)
}

// DBGateway implements Gateway over a Database capability for one bot slug.
type DBGateway struct {
	db   Database
	slug string
}

// NewGateway builds a gateway for slug over db.
func NewGateway(db Database, slug string) *DBGateway {
	return &DBGateway{db: db, slug: slug}
}

func (g *DBGateway) EnsureState(ctx context.Context, chatID string, sess *session.State, msg *telego.Message, currentPageID string) (*Ensured, error) {
	from := senderOf(sess, msg)
	if from == nil {
		return nil, ErrNoTelegramUser
	}

	user, err := g.db.UpsertUser(ctx, UserUpsert{
		TelegramID:   from.ID,
		ChatID:       chatID,
		Username:     from.Username,
		FirstName:    from.FirstName,
		LastName:     from.LastName,
		LanguageCode: from.LanguageCode,
	})
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}

	st, err := g.db.FindStepState(ctx, user.ID, g.slug)
	if err != nil {
		return nil, fmt.Errorf("find step state: %w", err)
	}

	if st == nil {
		current := currentPageID
		if current == "" && sess != nil {
			current = sess.PageID
		}
		var data map[string]any
		if sess != nil {
			data = sess.Data
		}
		st, err = g.db.CreateStepState(ctx, &StepState{
			UserID:      user.ID,
			ChatID:      chatID,
			Slug:        g.slug,
			CurrentPage: current,
			Answers:     jsonval.SerializeMap(data),
			History:     []jsonval.HistoryEntry{},
		})
		if err != nil {
			return nil, fmt.Errorf("create step state: %w", err)
		}
		return &Ensured{User: user, StepState: st}, nil
	}

	var patch StepStatePatch
	if st.ChatID != chatID {
		patch.ChatID = StrPtr(chatID)
	}
	if currentPageID != "" && st.CurrentPage != currentPageID {
		patch.CurrentPage = StrPtr(currentPageID)
	}
	if !patch.IsEmpty() {
		st, err = g.db.UpdateStepState(ctx, st.ID, patch)
		if err != nil {
			return nil, fmt.Errorf("update step state: %w", err)
		}
	}
	return &Ensured{User: user, StepState: st}, nil
}

func (g *DBGateway) PersistStepProgress(ctx context.Context, st *StepState, pageID string, value any) (*StepState, error) {
	if st == nil {
		return nil, nil
	}

	serialized := jsonval.Serialize(value)

	answers := make(map[string]any, len(st.Answers)+1)
	for k, v := range st.Answers {
		answers[k] = v
	}
	answers[pageID] = serialized

	history := make([]jsonval.HistoryEntry, len(st.History), len(st.History)+1)
	copy(history, st.History)
	history = append(history, jsonval.NewHistoryEntry(pageID, value))

	updated, err := g.db.UpdateStepState(ctx, st.ID, StepStatePatch{
		Answers: answers,
		History: history,
	})
	if err != nil {
		return nil, fmt.Errorf("persist step progress: %w", err)
	}

	if _, err := g.db.UpsertFormEntry(ctx, FormEntry{
		UserID:      st.UserID,
		StepStateID: st.ID,
		Slug:        st.Slug,
		PageID:      pageID,
		Payload:     serialized,
	}); err != nil {
		return nil, fmt.Errorf("upsert form entry: %w", err)
	}

	return updated, nil
}

func (g *DBGateway) SyncSessionState(ctx context.Context, st *StepState, data map[string]any) (*StepState, error) {
	if st == nil {
		return nil, nil
	}

	serialized := jsonval.SerializeMap(data)
	if jsonval.DeepEqual(serialized, st.Answers) {
		return st, nil
	}

	updated, err := g.db.UpdateStepState(ctx, st.ID, StepStatePatch{Answers: serialized})
	if err != nil {
		return nil, fmt.Errorf("sync session state: %w", err)
	}
	return updated, nil
}

func (g *DBGateway) UpdateCurrentPage(ctx context.Context, st *StepState, pageID string) (*StepState, error) {
	if st == nil {
		return nil, nil
	}
	if st.CurrentPage == pageID {
		return st, nil
	}

	updated, err := g.db.UpdateStepState(ctx, st.ID, StepStatePatch{CurrentPage: StrPtr(pageID)})
	if err != nil {
		return nil, fmt.Errorf("update current page: %w", err)
	}
	return updated, nil
}

func senderOf(sess *session.State, msg *telego.Message) *telego.User {
	if msg != nil && msg.From != nil {
		return msg.From
	}
	if sess != nil {
		return sess.User
	}
	return nil
}

// NoopGateway satisfies Gateway without a database: ensure yields empty
// state and the mutators pass their inputs through.
type NoopGateway struct{}

func NewNoop() NoopGateway { return NoopGateway{} }

func (NoopGateway) EnsureState(context.Context, string, *session.State, *telego.Message, string) (*Ensured, error) {
	return &Ensured{}, nil
}

func (NoopGateway) PersistStepProgress(_ context.Context, st *StepState, _ string, _ any) (*StepState, error) {
	return st, nil
}

func (NoopGateway) SyncSessionState(_ context.Context, st *StepState, _ map[string]any) (*StepState, error) {
	return st, nil
}

func (NoopGateway) UpdateCurrentPage(_ context.Context, st *StepState, _ string) (*StepState, error) {
	return st, nil
}
