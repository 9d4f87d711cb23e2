// Package runtime composes the session manager, persistence gateway, page
// navigator, and middleware pipeline into one bot: a transport client plus
// the per-chat state machine that drives page transitions.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/mymmrac/telego"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/flowgram/internal/flow"
	"github.com/nextlevelbuilder/flowgram/internal/glossary"
	"github.com/nextlevelbuilder/flowgram/internal/middleware"
	"github.com/nextlevelbuilder/flowgram/internal/page"
	"github.com/nextlevelbuilder/flowgram/internal/session"
	"github.com/nextlevelbuilder/flowgram/internal/store"
	"github.com/nextlevelbuilder/flowgram/internal/transport"
)

// Deps are the process-level capabilities a runtime is built against. The
// registry fills them; tests substitute fakes.
type Deps struct {
	// Transport builds the chat client for a bot token.
	Transport transport.Factory
	// Database is the fallback store when bot options carry none.
	Database store.Database
}

// Runtime is one registered bot: its transport client and everything the
// state machine needs per message.
type Runtime struct {
	id       string
	slug     string
	messages glossary.Messages

	client   transport.Client
	sessions *session.Manager
	gateway  store.Gateway
	nav      *page.Navigator
	services map[string]any
	locks    *chatLocks
	tracer   trace.Tracer
}

// New constructs a runtime from normalized options, installs its listeners,
// and starts polling. The caller owns shutdown via StopPolling.
func New(ctx context.Context, opts flow.BotOptions, deps Deps) (*Runtime, error) {
	if deps.Transport == nil {
		return nil, fmt.Errorf("bot %s: no transport factory", opts.ID)
	}
	client, err := deps.Transport(opts.Token)
	if err != nil {
		return nil, fmt.Errorf("bot %s: build transport: %w", opts.ID, err)
	}

	messages := glossary.Merge(glossary.Default(), opts.Messages)

	db := opts.Database
	if db == nil {
		db = deps.Database
	}
	var gw store.Gateway
	if db != nil {
		gw = store.NewGateway(db, opts.Slug)
	} else {
		gw = store.NewNoop()
	}

	r := &Runtime{
		id:       opts.ID,
		slug:     opts.Slug,
		messages: messages,
		client:   client,
		sessions: session.NewManager(opts.SessionStorage),
		gateway:  gw,
		services: opts.Services,
		locks:    newChatLocks(),
		tracer:   otel.Tracer("flowgram/runtime"),
	}

	r.nav = page.New(opts.ID, client, messages)
	r.nav.RegisterPageMiddlewares(opts.PageMiddlewares)
	r.nav.RegisterKeyboards(opts.Keyboards)
	r.nav.RegisterPages(opts.Pages)
	r.nav.SetInitialPageID(opts.InitialPageID)

	client.On(transport.EventMessage, func(ctx context.Context, update telego.Update) {
		if update.Message == nil {
			return
		}
		r.HandleMessage(ctx, update.Message)
	})
	r.installHandlers(opts)

	if err := client.StartPolling(ctx); err != nil {
		return nil, fmt.Errorf("bot %s: start polling: %w", opts.ID, err)
	}
	slog.Info(messages.RuntimeInitialized, "bot_id", opts.ID, "slug", opts.Slug, "pages", len(opts.Pages))
	return r, nil
}

// installHandlers attaches each configured handler, wrapped in the merged
// bot-level and handler-level middleware chain.
func (r *Runtime) installHandlers(opts flow.BotOptions) {
	for _, h := range opts.Handlers {
		if h.Event == "" {
			slog.Warn(r.messages.InvalidHandler, "bot_id", r.id)
			continue
		}
		if h.Listener == nil {
			slog.Warn(r.messages.HandlerMissingListener, "bot_id", r.id, "event", string(h.Event))
			continue
		}
		pipeline := middleware.Pipeline{
			Handler:     h,
			Middlewares: middleware.Merge(opts.Middlewares, h.Middlewares),
			ContextFactory: func(update telego.Update) *flow.Context {
				return r.eventContext(update)
			},
			OnError: func(fctx *flow.Context, err error) {
				slog.Error(r.messages.MiddlewareError,
					"bot_id", r.id, "chat_id", fctx.ChatID, "error", err)
			},
		}
		r.client.On(h.Event, pipeline.Build())
	}
}

// eventContext builds a context for a custom handler event. Session state is
// loaded best-effort; handlers for updates without a chat get a bare context.
func (r *Runtime) eventContext(update telego.Update) *flow.Context {
	ctx := context.Background()
	msg := update.Message
	if msg == nil {
		msg = update.EditedMessage
	}

	fctx := &flow.Context{
		Context:  ctx,
		Bot:      r,
		Message:  msg,
		Services: r.services,
	}
	if msg != nil {
		fctx.ChatID = strconv.FormatInt(msg.Chat.ID, 10)
		if sess, err := r.sessions.Get(ctx, fctx.ChatID); err == nil {
			fctx.Session = sess
			fctx.User = sess.User
		}
	}
	if update.CallbackQuery != nil {
		fctx.User = &update.CallbackQuery.From
	} else if msg != nil && msg.From != nil {
		fctx.User = msg.From
	}
	return fctx
}

// ID implements flow.Sender.
func (r *Runtime) ID() string { return r.id }

// SendMessage implements flow.Sender; all sends go through the transport
// client so rate limiting applies uniformly.
func (r *Runtime) SendMessage(ctx context.Context, chatID, text string, opts *transport.SendOptions) error {
	return r.client.SendMessage(ctx, chatID, text, opts)
}

// Navigator exposes the page registry for diagnostics and tests.
func (r *Runtime) Navigator() *page.Navigator { return r.nav }

// Sessions exposes the session manager for diagnostics and tests.
func (r *Runtime) Sessions() *session.Manager { return r.sessions }

// StopPolling stops the transport loop. Used by the registry on removal and
// shutdown.
func (r *Runtime) StopPolling(ctx context.Context) error {
	return r.client.StopPolling(ctx)
}
