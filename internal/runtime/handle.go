package runtime

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/mymmrac/telego"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/flowgram/internal/flow"
	"github.com/nextlevelbuilder/flowgram/internal/session"
	"github.com/nextlevelbuilder/flowgram/internal/store"
)

// HandleMessage runs the per-chat state machine for one inbound message.
// Work is serialized per chat id; failures are logged and dropped so the
// user can simply message again.
func (r *Runtime) HandleMessage(ctx context.Context, msg *telego.Message) {
	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	release := r.locks.acquire(chatID)
	defer release()

	ctx, span := r.tracer.Start(ctx, "runtime.handle_message")
	defer span.End()
	span.SetAttributes(
		attribute.String("bot.id", r.id),
		attribute.String("chat.id", chatID),
	)

	if err := r.step(ctx, chatID, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error(r.messages.MessageHandlingError,
			"bot_id", r.id, "chat_id", chatID, "error", err)
	}
}

func (r *Runtime) step(ctx context.Context, chatID string, msg *telego.Message) error {
	// 1. Load the session and remember the sender.
	sess, err := r.sessions.Get(ctx, chatID)
	if err != nil {
		return err
	}
	if msg.From != nil {
		sess.User = msg.From
	}
	if sess.Data == nil {
		sess.Data = map[string]any{}
	}

	// 2. Ensure the persisted user and step state exist.
	ensured, err := r.gateway.EnsureState(ctx, chatID, sess, msg, sess.PageID)
	if err != nil {
		return err
	}

	// 3. Hydrate the session from the persisted step state. Persisted
	// answers only fill keys absent from memory; fresh in-memory values win.
	if st := ensured.StepState; st != nil {
		changed := false
		if st.CurrentPage != sess.PageID {
			sess.PageID = st.CurrentPage
			changed = true
		}
		for k, v := range st.Answers {
			if _, ok := sess.Data[k]; !ok {
				sess.Data[k] = v
				changed = true
			}
		}
		if changed {
			if err := r.sessions.Save(ctx, chatID, sess); err != nil {
				return err
			}
		}
	}

	trace.SpanFromContext(ctx).SetAttributes(attribute.String("page.id", sess.PageID))

	fctx := r.messageContext(ctx, chatID, msg, sess, ensured)

	// 4. No current page: this chat starts the flow at the initial page.
	if sess.PageID == "" {
		return r.enterInitialPage(ctx, fctx, chatID, sess, ensured)
	}

	// 5. Resolve the current page; a stale id restarts the flow.
	current, ok := r.nav.Page(sess.PageID)
	if !ok {
		slog.Warn(r.messages.PageNotFound,
			"bot_id", r.id, "chat_id", chatID, "page_id", sess.PageID)
		sess.PageID = ""
		if err := r.sessions.Save(ctx, chatID, sess); err != nil {
			return err
		}
		_, err := r.gateway.UpdateCurrentPage(ctx, ensured.StepState, "")
		return err
	}

	// 6. Extract and validate the answer.
	value := r.nav.ExtractMessageValue(msg)
	vr := r.nav.ValidatePageValue(fctx, current, value)

	// 7. Rejected input: explain and re-prompt without advancing.
	if !vr.Valid {
		text := vr.ErrorMessage
		if text == "" {
			text = r.messages.ValidationFailed
		}
		if err := r.client.SendMessage(ctx, chatID, text, nil); err != nil {
			return err
		}
		target := current
		if vr.RedirectTo != "" && vr.RedirectTo != current.ID {
			if p, ok := r.nav.Page(vr.RedirectTo); ok {
				target = p
			}
		}
		replay := r.messageContext(ctx, chatID, nil, sess, ensured)
		rendered, err := r.nav.RenderPage(replay, target)
		if err != nil {
			return err
		}
		return r.commitPosition(ctx, chatID, sess, ensured, rendered)
	}

	// 8. Accept the value: session first, then the persisted step record.
	accepted := value
	if vr.HasSaveValue {
		accepted = vr.SaveValue
	}
	sess.Data[current.ID] = accepted
	if err := r.sessions.Save(ctx, chatID, sess); err != nil {
		return err
	}
	st, err := r.gateway.PersistStepProgress(ctx, ensured.StepState, current.ID, accepted)
	if err != nil {
		return err
	}
	ensured.StepState = st

	// 9. Page side effect.
	if current.OnValid != nil {
		if err := current.OnValid(fctx); err != nil {
			return err
		}
	}

	// 10. Mirror derived session slots into the persisted answers.
	st, err = r.gateway.SyncSessionState(ctx, ensured.StepState, sess.Data)
	if err != nil {
		return err
	}
	ensured.StepState = st

	// 11. Resolve the next page; none means the flow is complete.
	nextID := r.nav.ResolveNextPageID(fctx, current)
	if nextID == "" {
		return r.clearPosition(ctx, chatID, sess, ensured)
	}

	// 12. Advance and render.
	next, ok := r.nav.Page(nextID)
	if !ok {
		slog.Warn(r.messages.NextPageNotFound,
			"bot_id", r.id, "chat_id", chatID, "page_id", nextID)
		return r.clearPosition(ctx, chatID, sess, ensured)
	}
	sess.PageID = next.ID
	if err := r.sessions.Save(ctx, chatID, sess); err != nil {
		return err
	}
	st, err = r.gateway.UpdateCurrentPage(ctx, ensured.StepState, next.ID)
	if err != nil {
		return err
	}
	ensured.StepState = st

	rendered, err := r.nav.RenderPage(fctx, next)
	if err != nil {
		return err
	}
	return r.commitPosition(ctx, chatID, sess, ensured, rendered)
}

// enterInitialPage starts the flow for a chat with no current page.
func (r *Runtime) enterInitialPage(ctx context.Context, fctx *flow.Context, chatID string, sess *session.State, ensured *store.Ensured) error {
	initial, ok := r.nav.InitialPage()
	if !ok {
		slog.Warn(r.messages.NoInitialPage, "bot_id", r.id, "chat_id", chatID)
		return nil
	}

	sess.PageID = initial.ID
	if err := r.sessions.Save(ctx, chatID, sess); err != nil {
		return err
	}
	st, err := r.gateway.UpdateCurrentPage(ctx, ensured.StepState, initial.ID)
	if err != nil {
		return err
	}
	ensured.StepState = st

	rendered, err := r.nav.RenderPage(fctx, initial)
	if err != nil {
		return err
	}
	return r.commitPosition(ctx, chatID, sess, ensured, rendered)
}

// commitPosition persists a render outcome when it landed somewhere other
// than the session's current page (a guard redirect).
func (r *Runtime) commitPosition(ctx context.Context, chatID string, sess *session.State, ensured *store.Ensured, rendered string) error {
	if rendered == "" || rendered == sess.PageID {
		return nil
	}
	sess.PageID = rendered
	if err := r.sessions.Save(ctx, chatID, sess); err != nil {
		return err
	}
	st, err := r.gateway.UpdateCurrentPage(ctx, ensured.StepState, rendered)
	if err != nil {
		return err
	}
	ensured.StepState = st
	return nil
}

// clearPosition ends the flow: the session forgets its page and the
// persisted position is cleared.
func (r *Runtime) clearPosition(ctx context.Context, chatID string, sess *session.State, ensured *store.Ensured) error {
	sess.PageID = ""
	if err := r.sessions.Save(ctx, chatID, sess); err != nil {
		return err
	}
	st, err := r.gateway.UpdateCurrentPage(ctx, ensured.StepState, "")
	if err != nil {
		return err
	}
	ensured.StepState = st
	return nil
}

// messageContext builds the flow context handed to validators, side
// effects, and guards for one message.
func (r *Runtime) messageContext(ctx context.Context, chatID string, msg *telego.Message, sess *session.State, ensured *store.Ensured) *flow.Context {
	return &flow.Context{
		Context:  ctx,
		Bot:      r,
		ChatID:   chatID,
		Message:  msg,
		Session:  sess,
		User:     sess.User,
		DB:       ensured,
		Services: r.services,
	}
}
