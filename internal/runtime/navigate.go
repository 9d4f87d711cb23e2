package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/flowgram/internal/flow"
	"github.com/nextlevelbuilder/flowgram/internal/store"
)

// GoToPage moves a chat to pageID programmatically and renders it. The
// persisted position follows the session; a guard redirect is committed as
// the final position.
func (r *Runtime) GoToPage(ctx context.Context, chatID, pageID string, opts *flow.NavigateOptions) error {
	target, ok := r.nav.Page(pageID)
	if !ok {
		return fmt.Errorf("bot %s: page %q not registered", r.id, pageID)
	}

	release := r.locks.acquire(chatID)
	defer release()

	sess, err := r.sessions.Get(ctx, chatID)
	if err != nil {
		return err
	}
	if sess.Data == nil {
		sess.Data = map[string]any{}
	}
	if opts != nil {
		if opts.User != nil {
			sess.User = opts.User
		}
		if opts.ResetState {
			sess.Data = map[string]any{}
		}
		for k, v := range opts.State {
			sess.Data[k] = v
		}
	}

	var msg *telego.Message
	var metadata map[string]any
	if opts != nil {
		msg = opts.Message
		metadata = opts.Metadata
	}

	// A chat with no known sender cannot be persisted; navigation still
	// works against the session alone.
	ensured, err := r.gateway.EnsureState(ctx, chatID, sess, msg, pageID)
	if err != nil {
		if !errors.Is(err, store.ErrNoTelegramUser) {
			return err
		}
		slog.Debug("navigation without persisted user", "bot_id", r.id, "chat_id", chatID)
		ensured = &store.Ensured{}
	}

	sess.PageID = target.ID
	if err := r.sessions.Save(ctx, chatID, sess); err != nil {
		return err
	}
	st, err := r.gateway.UpdateCurrentPage(ctx, ensured.StepState, target.ID)
	if err != nil {
		return err
	}
	ensured.StepState = st

	fctx := r.messageContext(ctx, chatID, msg, sess, ensured)
	fctx.Metadata = metadata

	rendered, err := r.nav.RenderPage(fctx, target)
	if err != nil {
		return err
	}
	return r.commitPosition(ctx, chatID, sess, ensured, rendered)
}

// GoToInitialPage moves a chat back to the flow's entry page.
func (r *Runtime) GoToInitialPage(ctx context.Context, chatID string, opts *flow.NavigateOptions) error {
	initial, ok := r.nav.InitialPage()
	if !ok {
		return fmt.Errorf("bot %s: no initial page", r.id)
	}
	return r.GoToPage(ctx, chatID, initial.ID, opts)
}
