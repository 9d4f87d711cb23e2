package page

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/flowgram/internal/flow"
)

// maxRedirectDepth bounds guard redirect chains so a cycle between pages
// cannot recurse forever.
const maxRedirectDepth = 8

// RenderPage evaluates the page's guard chain and, when allowed, sends the
// page content with its resolved keyboard. It returns the id of the page
// actually rendered so callers can persist the final position: the page
// itself on success or rejection, or the guard's redirect target.
func (n *Navigator) RenderPage(ctx *flow.Context, p *flow.Page) (string, error) {
	return n.renderPage(ctx, p, 0)
}

func (n *Navigator) renderPage(ctx *flow.Context, p *flow.Page, depth int) (string, error) {
	res := n.runGuards(ctx, p)
	if !res.Allow {
		if res.RedirectTo != "" && res.RedirectTo != p.ID && depth < maxRedirectDepth {
			if target, ok := n.Page(res.RedirectTo); ok {
				return n.renderPage(ctx, target, depth+1)
			}
			slog.Warn(n.messages.PageNotFound,
				"bot_id", n.botID, "page_id", res.RedirectTo, "reason", "guard redirect target")
		}
		if res.RedirectTo == p.ID {
			slog.Warn(n.messages.MiddlewareError,
				"bot_id", n.botID, "page_id", p.ID, "reason", "guard redirected to itself")
		}
		if depth >= maxRedirectDepth {
			slog.Warn(n.messages.MiddlewareError,
				"bot_id", n.botID, "page_id", p.ID, "redirect_to", res.RedirectTo, "reason", "redirect depth exceeded")
		}
		return p.ID, n.sendRejection(ctx, res)
	}

	content, err := n.resolveContent(ctx, p)
	if err != nil {
		return "", fmt.Errorf("resolve content for page %q: %w", p.ID, err)
	}

	opts := content.Options.Clone()
	// Explicit reply markup on the content wins over registered keyboards.
	if opts.ReplyMarkup == nil {
		if markup := n.resolveKeyboard(ctx, p.ID); markup != nil {
			opts.ReplyMarkup = markup
		}
	}

	if err := n.client.SendMessage(ctx, ctx.ChatID, content.Text, opts); err != nil {
		return "", fmt.Errorf("send page %q: %w", p.ID, err)
	}
	return p.ID, nil
}

// runGuards evaluates the page's guard chain in priority order. The first
// non-allow result wins. A guard error is normalized into a denial carrying
// the error text.
func (n *Navigator) runGuards(ctx *flow.Context, p *flow.Page) flow.MiddlewareResult {
	n.mu.Lock()
	guards := n.sorted[p.ID]
	n.mu.Unlock()

	for _, g := range guards {
		res, err := g.Handler(ctx, p)
		if err != nil {
			slog.Warn(n.messages.MiddlewareError,
				"bot_id", n.botID, "page_id", p.ID, "middleware", g.Name, "error", err)
			return flow.Deny(err.Error())
		}
		if !res.Allow {
			res.Message = strings.TrimSpace(res.Message)
			res.RedirectTo = strings.TrimSpace(res.RedirectTo)
			return res
		}
	}
	return flow.Allow()
}

// sendRejection tells the user why the page did not render. A guard
// message takes precedence over the generic rejection text.
func (n *Navigator) sendRejection(ctx *flow.Context, res flow.MiddlewareResult) error {
	text := res.Message
	if text == "" {
		text = n.messages.PageRejected
	}
	if text == "" {
		return nil
	}
	return n.client.SendMessage(ctx, ctx.ChatID, text, nil)
}

// resolveContent picks the page's content: the factory when present, else
// the static content.
func (n *Navigator) resolveContent(ctx *flow.Context, p *flow.Page) (flow.Content, error) {
	if p.ContentFunc != nil {
		return p.ContentFunc(ctx)
	}
	if p.Content != nil {
		return *p.Content, nil
	}
	return flow.Content{}, fmt.Errorf("page %q has no content", p.ID)
}

// resolveKeyboard picks reply markup for a page: the page-scoped keyboard
// first, then the first persistent keyboard yielding non-nil markup.
func (n *Navigator) resolveKeyboard(ctx *flow.Context, pageID string) telego.ReplyMarkup {
	n.mu.Lock()
	keyboards := make([]flow.Keyboard, len(n.keyboards))
	copy(keyboards, n.keyboards)
	n.mu.Unlock()

	for _, kb := range keyboards {
		if kb.Persistent || kb.ID != pageID || kb.Resolver == nil {
			continue
		}
		if markup := kb.Resolver(ctx); markup != nil {
			return markup
		}
	}
	for _, kb := range keyboards {
		if !kb.Persistent || kb.Resolver == nil {
			continue
		}
		if markup := kb.Resolver(ctx); markup != nil {
			return markup
		}
	}
	return nil
}
