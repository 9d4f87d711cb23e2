// Package middleware orders and composes handler middlewares into a single
// transport listener. Guards that run per page live in internal/page; this
// package covers the cross-cutting interceptors around event handlers.
package middleware

import (
	"context"
	"fmt"
	"sort"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/flowgram/internal/flow"
	"github.com/nextlevelbuilder/flowgram/internal/transport"
)

// Sort orders middlewares by descending priority, stable for equal
// priorities, and returns a new slice.
func Sort(list []flow.Middleware) []flow.Middleware {
	out := make([]flow.Middleware, len(list))
	copy(out, list)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

// Merge combines bot-level and handler-level middlewares into one ordered
// chain. Both inputs are sorted independently; on equal priority the
// bot-level entry runs first.
func Merge(global, local []flow.Middleware) []flow.Middleware {
	g := Sort(global)
	l := Sort(local)

	out := make([]flow.Middleware, 0, len(g)+len(l))
	for len(g) > 0 && len(l) > 0 {
		if l[0].Priority > g[0].Priority {
			out = append(out, l[0])
			l = l[1:]
		} else {
			out = append(out, g[0])
			g = g[1:]
		}
	}
	out = append(out, g...)
	out = append(out, l...)
	return out
}

// Pipeline describes one handler wrapped in its middleware chain.
type Pipeline struct {
	Handler flow.Handler
	// Middlewares is the merged, ordered chain for this handler.
	Middlewares []flow.Middleware
	// ContextFactory builds the flow context for one update.
	ContextFactory func(update telego.Update) *flow.Context
	// OnError receives middleware or listener failures; the listener itself
	// never sees them.
	OnError func(ctx *flow.Context, err error)
}

// Build compiles the pipeline into a transport listener. Each middleware
// receives an idempotent next: the first call advances the chain, repeat
// calls return the remembered result without re-running anything.
func (p Pipeline) Build() transport.Listener {
	chain := p.Middlewares
	return func(parent context.Context, update telego.Update) {
		fctx := p.ContextFactory(update)
		if fctx == nil {
			return
		}
		if fctx.Context == nil {
			fctx.Context = parent
		}

		err := p.run(fctx, chain, update)
		if err != nil && p.OnError != nil {
			p.OnError(fctx, err)
		}
	}
}

// run executes chain[0] with a next that advances to the rest, bottoming
// out at the handler's listener.
func (p Pipeline) run(fctx *flow.Context, chain []flow.Middleware, update telego.Update) error {
	if len(chain) == 0 {
		if p.Handler.Listener == nil {
			return nil
		}
		p.Handler.Listener(fctx, update)
		return nil
	}

	mw := chain[0]
	var (
		called bool
		result error
	)
	next := func() error {
		if called {
			return result
		}
		called = true
		result = p.run(fctx, chain[1:], update)
		return result
	}
	if err := mw.Fn(fctx, next); err != nil {
		return fmt.Errorf("middleware %q: %w", mw.Name, err)
	}
	return result
}
