// Package registry multiplexes bot runtimes in one process, keyed by bot id
// and token. Registration replaces same-id bots and evicts token conflicts;
// shutdown stops every runtime's polling loop.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/flowgram/internal/flow"
	"github.com/nextlevelbuilder/flowgram/internal/runtime"
)

// Registry owns the id→runtime, token→id, and id→options maps. The three
// maps are always updated together under one mutex.
type Registry struct {
	deps runtime.Deps

	mu       sync.Mutex
	runtimes map[string]*runtime.Runtime
	tokens   map[string]string
	options  map[string]flow.BotOptions
}

// New creates a registry whose runtimes are built against deps.
func New(deps runtime.Deps) *Registry {
	return &Registry{
		deps:     deps,
		runtimes: make(map[string]*runtime.Runtime),
		tokens:   make(map[string]string),
		options:  make(map[string]flow.BotOptions),
	}
}

// RegisterBot normalizes opts and registers the bot, replacing any existing
// bot with the same id and evicting any other bot holding the same token.
func (r *Registry) RegisterBot(ctx context.Context, opts flow.BotOptions) error {
	normalized, err := NormalizeBotOptions(opts, -1)
	if err != nil {
		return err
	}
	return r.registerNormalized(ctx, normalized)
}

// RegisterBots registers a batch; the index feeds the id fallback for
// entries with no other identity. The first failure stops the batch.
func (r *Registry) RegisterBots(ctx context.Context, list []flow.BotOptions) error {
	for i, opts := range list {
		normalized, err := NormalizeBotOptions(opts, i)
		if err != nil {
			return err
		}
		if err := r.registerNormalized(ctx, normalized); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) registerNormalized(ctx context.Context, opts flow.BotOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.runtimes[opts.ID]; exists {
		slog.Warn("replacing registered bot", "bot_id", opts.ID)
		r.removeLocked(ctx, opts.ID)
	}
	if otherID, claimed := r.tokens[opts.Token]; claimed && otherID != opts.ID {
		slog.Warn("token already claimed, evicting previous bot",
			"bot_id", opts.ID, "previous_bot_id", otherID)
		r.removeLocked(ctx, otherID)
	}

	rt, err := runtime.New(ctx, opts, r.deps)
	if err != nil {
		return fmt.Errorf("register bot %s: %w", opts.ID, err)
	}

	r.runtimes[opts.ID] = rt
	r.tokens[opts.Token] = opts.ID
	r.options[opts.ID] = opts
	return nil
}

// removeLocked stops and forgets a bot. Callers hold r.mu. Stop failures
// are logged; the entries are cleared regardless.
func (r *Registry) removeLocked(ctx context.Context, id string) {
	rt, ok := r.runtimes[id]
	if !ok {
		return
	}
	if err := rt.StopPolling(ctx); err != nil {
		slog.Warn("stop polling failed", "bot_id", id, "error", err)
	}
	delete(r.runtimes, id)
	opts := r.options[id]
	delete(r.options, id)
	if r.tokens[opts.Token] == id {
		delete(r.tokens, opts.Token)
	}
}

// RemoveBot stops a bot's polling and drops it from the registry.
func (r *Registry) RemoveBot(ctx context.Context, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(ctx, id)
}

// GetBotRuntime returns the live runtime for id.
func (r *Registry) GetBotRuntime(id string) (*runtime.Runtime, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.runtimes[id]
	return rt, ok
}

// GetBotInstance is an alias of GetBotRuntime kept for embedders that think
// in terms of bot instances.
func (r *Registry) GetBotInstance(id string) (*runtime.Runtime, bool) {
	return r.GetBotRuntime(id)
}

// GetBotOptions returns a defensive copy of the registered options for id.
func (r *Registry) GetBotOptions(id string) (flow.BotOptions, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	opts, ok := r.options[id]
	if !ok {
		return flow.BotOptions{}, false
	}
	return copyBotOptions(opts), true
}

// ListRegisteredBots returns defensive copies of every registered bot's
// options, ordered by id.
func (r *Registry) ListRegisteredBots() []flow.BotOptions {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]flow.BotOptions, 0, len(r.options))
	for _, opts := range r.options {
		out = append(out, copyBotOptions(opts))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GetRegisteredBotIds returns the registered ids, sorted.
func (r *Registry) GetRegisteredBotIds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.runtimes))
	for id := range r.runtimes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// GoToPage navigates a chat of the given bot to a page.
func (r *Registry) GoToPage(ctx context.Context, botID, chatID, pageID string, opts *flow.NavigateOptions) error {
	rt, ok := r.GetBotRuntime(botID)
	if !ok {
		return fmt.Errorf("bot %s not registered", botID)
	}
	return rt.GoToPage(ctx, chatID, pageID, opts)
}

// GoToInitialPage navigates a chat of the given bot back to its entry page.
func (r *Registry) GoToInitialPage(ctx context.Context, botID, chatID string, opts *flow.NavigateOptions) error {
	rt, ok := r.GetBotRuntime(botID)
	if !ok {
		return fmt.Errorf("bot %s not registered", botID)
	}
	return rt.GoToInitialPage(ctx, chatID, opts)
}

// Shutdown stops every registered bot concurrently and clears the maps.
// The first stop error is returned after all bots have been attempted.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	runtimes := make(map[string]*runtime.Runtime, len(r.runtimes))
	for id, rt := range r.runtimes {
		runtimes[id] = rt
	}
	r.runtimes = make(map[string]*runtime.Runtime)
	r.tokens = make(map[string]string)
	r.options = make(map[string]flow.BotOptions)
	r.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for id, rt := range runtimes {
		g.Go(func() error {
			if err := rt.StopPolling(ctx); err != nil {
				return fmt.Errorf("stop bot %s: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// NormalizeBotOptions copies opts with fresh collection instances, defaults
// the slug, and resolves the bot id from id, slug, token, then the batch
// index.
func NormalizeBotOptions(opts flow.BotOptions, index int) (flow.BotOptions, error) {
	out := copyBotOptions(opts)

	// The id falls back to the slug the caller actually wrote, not the
	// defaulted one, so two slugless bots never collide on "default".
	givenSlug := strings.TrimSpace(opts.Slug)
	if givenSlug == "" {
		out.Slug = "default"
	}
	switch {
	case strings.TrimSpace(out.ID) != "":
	case givenSlug != "":
		out.ID = givenSlug
	case strings.TrimSpace(out.Token) != "":
		out.ID = out.Token
	case index >= 0:
		out.ID = fmt.Sprintf("bot-%d", index)
	default:
		return flow.BotOptions{}, fmt.Errorf("bot options carry no id, slug, or token")
	}
	return out, nil
}

// copyBotOptions clones opts with fresh instances for every nested
// sequence and map so caller mutations never leak into the registry.
func copyBotOptions(opts flow.BotOptions) flow.BotOptions {
	out := opts
	out.Pages = append([]flow.Page(nil), opts.Pages...)
	out.Handlers = append([]flow.Handler(nil), opts.Handlers...)
	out.Middlewares = append([]flow.Middleware(nil), opts.Middlewares...)
	out.Keyboards = append([]flow.Keyboard(nil), opts.Keyboards...)
	out.PageMiddlewares = append([]flow.PageMiddleware(nil), opts.PageMiddlewares...)
	if opts.Services != nil {
		out.Services = make(map[string]any, len(opts.Services))
		for k, v := range opts.Services {
			out.Services[k] = v
		}
	}
	for i := range out.Pages {
		out.Pages[i].Middlewares = append([]flow.PageMiddlewareRef(nil), opts.Pages[i].Middlewares...)
	}
	for i := range out.Handlers {
		out.Handlers[i].Middlewares = append([]flow.Middleware(nil), opts.Handlers[i].Middlewares...)
	}
	return out
}
