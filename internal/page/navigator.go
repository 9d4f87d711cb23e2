// Package page owns the page registry and drives validation, guard
// evaluation, keyboard resolution, and rendering for one bot.
package page

import (
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/flowgram/internal/flow"
	"github.com/nextlevelbuilder/flowgram/internal/glossary"
	"github.com/nextlevelbuilder/flowgram/internal/transport"
)

// Navigator holds the page graph, keyboards, and guard registry for one
// bot. All maps are guarded together by one mutex; registration and
// lookups may race with message handling.
type Navigator struct {
	botID    string
	client   transport.Client
	messages glossary.Messages

	mu            sync.Mutex
	pages         map[string]*flow.Page
	order         []string
	sorted        map[string][]*flow.PageMiddleware
	named         map[string]*flow.PageMiddleware
	keyboards     []flow.Keyboard
	initialPageID string
}

// New creates a navigator for botID sending through client.
func New(botID string, client transport.Client, messages glossary.Messages) *Navigator {
	return &Navigator{
		botID:    botID,
		client:   client,
		messages: messages,
		pages:    make(map[string]*flow.Page),
		sorted:   make(map[string][]*flow.PageMiddleware),
		named:    make(map[string]*flow.PageMiddleware),
	}
}

// RegisterPageMiddlewares registers named guards for pages to reference.
// Unnamed entries are ignored here; they only make sense inline.
func (n *Navigator) RegisterPageMiddlewares(list []flow.PageMiddleware) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := range list {
		mw := list[i]
		if mw.Name == "" {
			continue
		}
		n.named[mw.Name] = &mw
	}
	// Named guards may be registered after pages referencing them.
	for id := range n.pages {
		n.sorted[id] = n.sortGuards(n.pages[id])
	}
}

// RegisterKeyboards replaces keyboards with the same id and appends new
// ones, keeping declaration order for the persistent fallback scan.
func (n *Navigator) RegisterKeyboards(list []flow.Keyboard) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, kb := range list {
		replaced := false
		for i := range n.keyboards {
			if n.keyboards[i].ID == kb.ID && n.keyboards[i].Persistent == kb.Persistent {
				n.keyboards[i] = kb
				replaced = true
				break
			}
		}
		if !replaced {
			n.keyboards = append(n.keyboards, kb)
		}
	}
}

// RegisterPages upserts pages by id. Pages without an id are warned and
// skipped. The first registered page becomes the initial page unless an
// explicit initial id is set.
func (n *Navigator) RegisterPages(list []flow.Page) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := range list {
		p := list[i]
		if strings.TrimSpace(p.ID) == "" {
			slog.Warn(n.messages.PageNotFound, "bot_id", n.botID, "reason", "empty page id")
			continue
		}
		if _, exists := n.pages[p.ID]; !exists {
			n.order = append(n.order, p.ID)
		}
		n.pages[p.ID] = &p
		n.sorted[p.ID] = n.sortGuards(&p)
	}
}

// SetInitialPageID records the explicit initial page. A dangling id is
// warned, not fatal; resolution falls back to the first registered page.
func (n *Navigator) SetInitialPageID(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.initialPageID = id
	if id != "" {
		if _, ok := n.pages[id]; !ok {
			slog.Warn(n.messages.NoInitialPage, "bot_id", n.botID, "initial_page_id", id, "reason", "dangling")
		}
	}
}

// sortGuards resolves a page's guard references and orders them by
// descending priority, stable for ties. Callers hold n.mu.
func (n *Navigator) sortGuards(p *flow.Page) []*flow.PageMiddleware {
	var guards []*flow.PageMiddleware
	for _, ref := range p.Middlewares {
		switch {
		case ref.Inline != nil:
			guards = append(guards, ref.Inline)
		case ref.Name != "":
			if mw, ok := n.named[ref.Name]; ok {
				guards = append(guards, mw)
			} else {
				slog.Warn(n.messages.MiddlewareError,
					"bot_id", n.botID, "page_id", p.ID, "middleware", ref.Name, "reason", "unknown name")
			}
		}
	}
	sort.SliceStable(guards, func(i, j int) bool {
		return guards[i].Priority > guards[j].Priority
	})
	return guards
}

// Page looks up a page by id.
func (n *Navigator) Page(id string) (*flow.Page, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.pages[id]
	return p, ok
}

// InitialPage resolves the initial page: the explicit id when registered,
// else the first registered page, else nothing.
func (n *Navigator) InitialPage() (*flow.Page, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.initialPageID != "" {
		if p, ok := n.pages[n.initialPageID]; ok {
			return p, true
		}
	}
	if len(n.order) > 0 {
		return n.pages[n.order[0]], true
	}
	return nil, false
}

// PageIDs returns the registration order. Used by tests and diagnostics.
func (n *Navigator) PageIDs() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.order))
	copy(out, n.order)
	return out
}

// ExtractMessageValue pulls the answer payload out of an inbound message:
// text, caption, contact, location, photo, document, in that order; the
// whole message is the fallback so handlers can still inspect it.
func (n *Navigator) ExtractMessageValue(msg *telego.Message) any {
	switch {
	case msg == nil:
		return nil
	case msg.Text != "":
		return msg.Text
	case msg.Caption != "":
		return msg.Caption
	case msg.Contact != nil:
		return msg.Contact
	case msg.Location != nil:
		return msg.Location
	case len(msg.Photo) > 0:
		return msg.Photo
	case msg.Document != nil:
		return msg.Document
	}
	return msg
}

// ValidatePageValue runs the page's declarative schema, then its custom
// validator. A validator error is normalized into a failed result carrying
// the error text.
func (n *Navigator) ValidatePageValue(ctx *flow.Context, p *flow.Page, value any) flow.ValidationResult {
	if p.Schema != nil {
		if msgs := p.Schema.Validate(value); len(msgs) > 0 {
			return flow.Invalid(strings.Join(msgs, "\n"))
		}
	}
	if p.Validate != nil {
		vr, err := p.Validate(ctx, value)
		if err != nil {
			msg := err.Error()
			if msg == "" {
				msg = n.messages.ValidationFailed
			}
			return flow.Invalid(msg)
		}
		vr.ErrorMessage = strings.TrimSpace(vr.ErrorMessage)
		vr.RedirectTo = strings.TrimSpace(vr.RedirectTo)
		return vr
	}
	return flow.Valid()
}

// ResolveNextPageID resolves where to go after p: the page's resolver when
// it yields a non-empty id, else the page registered immediately after p.
// Returns "" when the flow ends.
func (n *Navigator) ResolveNextPageID(ctx *flow.Context, p *flow.Page) string {
	if p.Next != nil {
		next, err := p.Next(ctx)
		if err != nil {
			slog.Warn(n.messages.NextPageNotFound,
				"bot_id", n.botID, "page_id", p.ID, "error", err)
		} else if next = strings.TrimSpace(next); next != "" {
			return next
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	for i, id := range n.order {
		if id == p.ID && i+1 < len(n.order) {
			return n.order[i+1]
		}
	}
	return ""
}
