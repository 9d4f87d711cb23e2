// Package flow defines the domain types shared by the navigator, the
// middleware pipeline, the runtime, and the registry: pages, keyboards,
// guards, handler middlewares, bot options, and the per-event Context.
package flow

import (
	"context"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/flowgram/internal/glossary"
	"github.com/nextlevelbuilder/flowgram/internal/session"
	"github.com/nextlevelbuilder/flowgram/internal/store"
	"github.com/nextlevelbuilder/flowgram/internal/transport"
)

// Content is what a page sends when rendered.
type Content struct {
	Text    string
	Options *transport.SendOptions
}

// ContentFunc resolves page content lazily against the current context.
type ContentFunc func(ctx *Context) (Content, error)

// NextFunc resolves the id of the page to advance to after a valid
// submission. An empty result falls back to registration order.
type NextFunc func(ctx *Context) (string, error)

// ValidateFunc is a page's custom validator. Returning an error is
// equivalent to a failed validation carrying the error text.
type ValidateFunc func(ctx *Context, value any) (ValidationResult, error)

// ValidationResult is the normalized outcome of schema or custom
// validation.
type ValidationResult struct {
	Valid        bool
	ErrorMessage string
	RedirectTo   string
	SaveValue    any
	HasSaveValue bool
}

// Valid is the shorthand result for an accepted value.
func Valid() ValidationResult { return ValidationResult{Valid: true} }

// Invalid is the shorthand result for a rejected value.
func Invalid(message string) ValidationResult {
	return ValidationResult{Valid: false, ErrorMessage: message}
}

// Page is one dialog step: what to show, how to validate the reply, what to
// run on success, and where to go next.
type Page struct {
	ID          string
	Content     *Content
	ContentFunc ContentFunc
	Schema      Schema
	Validate    ValidateFunc
	OnValid     func(ctx *Context) error
	Next        NextFunc
	// Middlewares are evaluated before rendering; entries reference a
	// registered guard by name or carry one inline.
	Middlewares []PageMiddlewareRef
}

// Keyboard produces reply markup for pages. A keyboard whose ID matches a
// page id is page-scoped; persistent keyboards apply to any page whose
// scoped keyboard yields nothing.
type Keyboard struct {
	ID         string
	Resolver   func(ctx *Context) telego.ReplyMarkup
	Persistent bool
}

// MiddlewareResult is the normalized outcome of a page guard.
type MiddlewareResult struct {
	Allow      bool
	Message    string
	RedirectTo string
}

// Allow is the shorthand guard result that lets rendering proceed.
func Allow() MiddlewareResult { return MiddlewareResult{Allow: true} }

// Deny rejects rendering with an optional user-facing message.
func Deny(message string) MiddlewareResult {
	return MiddlewareResult{Allow: false, Message: message}
}

// Redirect rejects rendering and points at another page.
func Redirect(pageID string) MiddlewareResult {
	return MiddlewareResult{Allow: false, RedirectTo: pageID}
}

// PageMiddleware is a guard consulted before a page renders. Higher
// priority runs earlier; equal priorities keep declaration order.
type PageMiddleware struct {
	Name     string
	Priority int
	Handler  func(ctx *Context, page *Page) (MiddlewareResult, error)
}

// PageMiddlewareRef names a registered guard or embeds one inline.
type PageMiddlewareRef struct {
	Name   string
	Inline *PageMiddleware
}

// ByName references a registered page middleware.
func ByName(name string) PageMiddlewareRef { return PageMiddlewareRef{Name: name} }

// Inline embeds a guard directly on a page.
func Inline(mw PageMiddleware) PageMiddlewareRef { return PageMiddlewareRef{Inline: &mw} }

// MiddlewareFunc wraps a handler invocation. Calling next continues the
// chain; not calling it stops the event. next is idempotent.
type MiddlewareFunc func(ctx *Context, next func() error) error

// Middleware is one cross-cutting interceptor around handler invocations.
type Middleware struct {
	Name     string
	Priority int
	Fn       MiddlewareFunc
}

// Handler attaches a listener to a transport event, optionally wrapped in
// handler-specific middlewares.
type Handler struct {
	Event       transport.Event
	Listener    transport.Listener
	Middlewares []Middleware
}

// Sender is the slice of the bot runtime exposed to pages and middlewares.
type Sender interface {
	ID() string
	SendMessage(ctx context.Context, chatID string, text string, opts *transport.SendOptions) error
}

// Context is the aggregate passed to page behaviors, guards, and handler
// middlewares for one event.
type Context struct {
	context.Context

	Bot      Sender
	ChatID   string
	Message  *telego.Message
	Metadata map[string]any
	Session  *session.State
	User     *telego.User
	DB       *store.Ensured
	Services map[string]any
}

// Service returns a named capability injected through bot options.
func (c *Context) Service(name string) any {
	if c.Services == nil {
		return nil
	}
	return c.Services[name]
}

// NavigateOptions tune programmatic navigation (GoToPage).
type NavigateOptions struct {
	// ResetState discards the session data before navigating.
	ResetState bool
	// State is merged into the session data after any reset.
	State map[string]any
	// Message is attached to the navigation context as a synthetic inbound
	// message.
	Message *telego.Message
	// Metadata is attached to the navigation context.
	Metadata map[string]any
	// User overrides the session user.
	User *telego.User
}

// BotOptions declares one bot: identity, page graph, guards, handlers, and
// the capabilities it consumes.
type BotOptions struct {
	ID            string
	Token         string
	Slug          string
	InitialPageID string

	Pages           []Page
	Handlers        []Handler
	Middlewares     []Middleware
	Keyboards       []Keyboard
	PageMiddlewares []PageMiddleware

	Services       map[string]any
	SessionStorage session.Storage
	Database       store.Database
	Messages       *glossary.Messages
}
