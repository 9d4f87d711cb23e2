package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/flowgram/internal/jsonval"
	"github.com/nextlevelbuilder/flowgram/internal/store"
)

// Database implements store.Database over *sql.DB. The handle is borrowed;
// Close is the owner's job.
type Database struct {
	db *sql.DB
}

func NewDatabase(db *sql.DB) *Database {
	return &Database{db: db}
}

const userColumns = `id, telegram_id, chat_id, username, first_name, last_name, language_code, created_at, updated_at`

func (d *Database) UpsertUser(ctx context.Context, u store.UserUpsert) (*store.User, error) {
	row := d.db.QueryRowContext(ctx, `
		INSERT INTO users (id, telegram_id, chat_id, username, first_name, last_name, language_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (telegram_id) DO UPDATE SET
			chat_id = EXCLUDED.chat_id,
			username = EXCLUDED.username,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			language_code = EXCLUDED.language_code,
			updated_at = now()
		RETURNING `+userColumns,
		uuid.Must(uuid.NewV7()), u.TelegramID,
		nullable(u.ChatID), nullable(u.Username), nullable(u.FirstName),
		nullable(u.LastName), nullable(u.LanguageCode),
	)
	return scanUser(row)
}

const stepColumns = `id, user_id, chat_id, slug, current_page, answers, history, created_at, updated_at`

func (d *Database) FindStepState(ctx context.Context, userID, slug string) (*store.StepState, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+stepColumns+` FROM step_states WHERE user_id = $1 AND slug = $2`,
		userID, slug,
	)
	st, err := scanStepState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return st, err
}

func (d *Database) CreateStepState(ctx context.Context, s *store.StepState) (*store.StepState, error) {
	answers, err := json.Marshal(jsonval.SerializeMap(s.Answers))
	if err != nil {
		return nil, fmt.Errorf("encode answers: %w", err)
	}
	history, err := json.Marshal(s.History)
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}

	row := d.db.QueryRowContext(ctx, `
		INSERT INTO step_states (id, user_id, chat_id, slug, current_page, answers, history)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+stepColumns,
		uuid.Must(uuid.NewV7()), s.UserID, s.ChatID, s.Slug,
		nullable(s.CurrentPage), answers, history,
	)
	return scanStepState(row)
}

func (d *Database) UpdateStepState(ctx context.Context, id string, patch store.StepStatePatch) (*store.StepState, error) {
	sets := []string{"updated_at = now()"}
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if patch.ChatID != nil {
		sets = append(sets, "chat_id = "+arg(*patch.ChatID))
	}
	if patch.CurrentPage != nil {
		sets = append(sets, "current_page = "+arg(nullable(*patch.CurrentPage)))
	}
	if patch.Answers != nil {
		data, err := json.Marshal(jsonval.SerializeMap(patch.Answers))
		if err != nil {
			return nil, fmt.Errorf("encode answers: %w", err)
		}
		sets = append(sets, "answers = "+arg(data))
	}
	if patch.History != nil {
		data, err := json.Marshal(patch.History)
		if err != nil {
			return nil, fmt.Errorf("encode history: %w", err)
		}
		sets = append(sets, "history = "+arg(data))
	}

	row := d.db.QueryRowContext(ctx,
		`UPDATE step_states SET `+strings.Join(sets, ", ")+
			` WHERE id = `+arg(id)+` RETURNING `+stepColumns,
		args...,
	)
	return scanStepState(row)
}

func (d *Database) UpsertFormEntry(ctx context.Context, e store.FormEntry) (*store.FormEntry, error) {
	payload, err := json.Marshal(jsonval.Serialize(e.Payload))
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	row := d.db.QueryRowContext(ctx, `
		INSERT INTO form_entries (id, user_id, step_state_id, slug, page_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (step_state_id, page_id) DO UPDATE SET
			payload = EXCLUDED.payload,
			user_id = EXCLUDED.user_id,
			slug = EXCLUDED.slug
		RETURNING id, user_id, step_state_id, slug, page_id, payload, created_at`,
		uuid.Must(uuid.NewV7()), e.UserID, e.StepStateID, e.Slug, e.PageID, payload,
	)

	var out store.FormEntry
	var rawPayload []byte
	if err := row.Scan(&out.ID, &out.UserID, &out.StepStateID, &out.Slug, &out.PageID, &rawPayload, &out.CreatedAt); err != nil {
		return nil, fmt.Errorf("upsert form entry: %w", err)
	}
	if len(rawPayload) > 0 {
		if err := json.Unmarshal(rawPayload, &out.Payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}
	return &out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*store.User, error) {
	var u store.User
	var chatID, username, firstName, lastName, languageCode sql.NullString
	err := row.Scan(&u.ID, &u.TelegramID, &chatID, &username, &firstName,
		&lastName, &languageCode, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.ChatID = chatID.String
	u.Username = username.String
	u.FirstName = firstName.String
	u.LastName = lastName.String
	u.LanguageCode = languageCode.String
	return &u, nil
}

func scanStepState(row rowScanner) (*store.StepState, error) {
	var st store.StepState
	var currentPage sql.NullString
	var answers, history []byte
	var createdAt, updatedAt time.Time

	err := row.Scan(&st.ID, &st.UserID, &st.ChatID, &st.Slug, &currentPage,
		&answers, &history, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	st.CurrentPage = currentPage.String
	st.CreatedAt = createdAt
	st.UpdatedAt = updatedAt

	st.Answers = map[string]any{}
	if len(answers) > 0 {
		var tree any
		if err := json.Unmarshal(answers, &tree); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
		if m, ok := tree.(map[string]any); ok {
			st.Answers = m
		}
	}

	var rawHistory any
	if len(history) > 0 {
		if err := json.Unmarshal(history, &rawHistory); err != nil {
			return nil, fmt.Errorf("decode history: %w", err)
		}
	}
	st.History = jsonval.NormalizeHistory(rawHistory)

	return &st, nil
}

// nullable maps "" to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
