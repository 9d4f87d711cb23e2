package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nextlevelbuilder/flowgram/internal/flow"
	"github.com/nextlevelbuilder/flowgram/internal/runtime"
	"github.com/nextlevelbuilder/flowgram/internal/transport"
)

type stubClient struct {
	mu      sync.Mutex
	token   string
	stopped bool
	stopErr error
}

func (c *stubClient) SendMessage(context.Context, string, string, *transport.SendOptions) error {
	return nil
}
func (c *stubClient) On(transport.Event, transport.Listener) {}
func (c *stubClient) StartPolling(context.Context) error     { return nil }
func (c *stubClient) StopPolling(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	return c.stopErr
}

func (c *stubClient) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

type stubTransport struct {
	mu      sync.Mutex
	clients []*stubClient
	stopErr error
}

func (t *stubTransport) factory(token string) (transport.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := &stubClient{token: token, stopErr: t.stopErr}
	t.clients = append(t.clients, c)
	return c, nil
}

func newTestRegistry() (*Registry, *stubTransport) {
	tr := &stubTransport{}
	return New(runtime.Deps{Transport: tr.factory}), tr
}

func TestNormalizeBotOptions(t *testing.T) {
	tests := []struct {
		name     string
		opts     flow.BotOptions
		index    int
		wantID   string
		wantSlug string
		wantErr  bool
	}{
		{"explicit id", flow.BotOptions{ID: "survey", Token: "t1"}, -1, "survey", "default", false},
		{"slug fallback", flow.BotOptions{Slug: "intake", Token: "t1"}, -1, "intake", "intake", false},
		{"token fallback", flow.BotOptions{Token: "t1"}, -1, "t1", "default", false},
		{"index fallback", flow.BotOptions{}, 3, "bot-3", "default", false},
		{"nothing to resolve", flow.BotOptions{}, -1, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeBotOptions(tt.opts, tt.index)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got.ID != tt.wantID || got.Slug != tt.wantSlug {
				t.Fatalf("id=%q slug=%q, want id=%q slug=%q", got.ID, got.Slug, tt.wantID, tt.wantSlug)
			}
		})
	}
}

func TestNormalizeBotOptionsCopiesCollections(t *testing.T) {
	pages := []flow.Page{{ID: "p"}}
	services := map[string]any{"mailer": 1}
	got, err := NormalizeBotOptions(flow.BotOptions{ID: "b", Pages: pages, Services: services}, -1)
	if err != nil {
		t.Fatal(err)
	}
	pages[0].ID = "mutated"
	services["mailer"] = 2
	if got.Pages[0].ID != "p" || got.Services["mailer"] != 1 {
		t.Fatalf("normalized options share caller collections: %+v", got)
	}
}

func TestRegisterAndLookup(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()

	err := reg.RegisterBots(ctx, []flow.BotOptions{
		{ID: "beta", Token: "t2", Pages: []flow.Page{{ID: "p", Content: &flow.Content{Text: "x"}}}},
		{ID: "alpha", Token: "t1"},
	})
	if err != nil {
		t.Fatal(err)
	}

	ids := reg.GetRegisteredBotIds()
	if len(ids) != 2 || ids[0] != "alpha" || ids[1] != "beta" {
		t.Fatalf("ids = %v", ids)
	}

	if _, ok := reg.GetBotRuntime("beta"); !ok {
		t.Fatal("beta runtime missing")
	}
	if _, ok := reg.GetBotInstance("gone"); ok {
		t.Fatal("unexpected runtime for unknown id")
	}

	list := reg.ListRegisteredBots()
	if len(list) != 2 || list[0].ID != "alpha" || list[1].ID != "beta" {
		t.Fatalf("list = %v", list)
	}
}

func TestGetBotOptionsReturnsCopy(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()

	opts := flow.BotOptions{ID: "b", Token: "t", Pages: []flow.Page{{ID: "p"}}}
	if err := reg.RegisterBot(ctx, opts); err != nil {
		t.Fatal(err)
	}

	got, ok := reg.GetBotOptions("b")
	if !ok {
		t.Fatal("options missing")
	}
	got.Pages[0].ID = "mutated"

	again, _ := reg.GetBotOptions("b")
	if again.Pages[0].ID != "p" {
		t.Fatal("caller mutation leaked into the registry")
	}
}

func TestRegisterSameIDReplaces(t *testing.T) {
	reg, tr := newTestRegistry()
	ctx := context.Background()

	if err := reg.RegisterBot(ctx, flow.BotOptions{ID: "b", Token: "t1"}); err != nil {
		t.Fatal(err)
	}
	if err := reg.RegisterBot(ctx, flow.BotOptions{ID: "b", Token: "t2"}); err != nil {
		t.Fatal(err)
	}

	if len(tr.clients) != 2 {
		t.Fatalf("clients = %d, want 2", len(tr.clients))
	}
	if !tr.clients[0].isStopped() {
		t.Fatal("replaced bot kept polling")
	}
	if tr.clients[1].isStopped() {
		t.Fatal("replacement bot is not polling")
	}
	if ids := reg.GetRegisteredBotIds(); len(ids) != 1 {
		t.Fatalf("ids = %v", ids)
	}
}

func TestTokenConflictEvictsPreviousBot(t *testing.T) {
	reg, tr := newTestRegistry()
	ctx := context.Background()

	if err := reg.RegisterBot(ctx, flow.BotOptions{ID: "old", Token: "shared"}); err != nil {
		t.Fatal(err)
	}
	if err := reg.RegisterBot(ctx, flow.BotOptions{ID: "new", Token: "shared"}); err != nil {
		t.Fatal(err)
	}

	if !tr.clients[0].isStopped() {
		t.Fatal("evicted bot kept polling")
	}
	ids := reg.GetRegisteredBotIds()
	if len(ids) != 1 || ids[0] != "new" {
		t.Fatalf("ids = %v", ids)
	}
	if _, ok := reg.GetBotOptions("old"); ok {
		t.Fatal("evicted bot options remain")
	}
}

func TestRemoveBotStopErrorStillClears(t *testing.T) {
	tr := &stubTransport{stopErr: errors.New("stop failed")}
	reg := New(runtime.Deps{Transport: tr.factory})
	ctx := context.Background()

	if err := reg.RegisterBot(ctx, flow.BotOptions{ID: "b", Token: "t"}); err != nil {
		t.Fatal(err)
	}
	reg.RemoveBot(ctx, "b")

	if ids := reg.GetRegisteredBotIds(); len(ids) != 0 {
		t.Fatalf("ids = %v, want none", ids)
	}
	// The token is free again.
	if err := reg.RegisterBot(ctx, flow.BotOptions{ID: "c", Token: "t"}); err != nil {
		t.Fatal(err)
	}
}

func TestShutdownStopsAllBots(t *testing.T) {
	reg, tr := newTestRegistry()
	ctx := context.Background()

	err := reg.RegisterBots(ctx, []flow.BotOptions{
		{ID: "a", Token: "t1"},
		{ID: "b", Token: "t2"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := reg.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	for _, c := range tr.clients {
		if !c.isStopped() {
			t.Fatalf("client for token %s still polling", c.token)
		}
	}
	if ids := reg.GetRegisteredBotIds(); len(ids) != 0 {
		t.Fatalf("ids = %v, want none", ids)
	}
}

func TestNavigationDelegation(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()

	opts := flow.BotOptions{
		ID:    "b",
		Token: "t",
		Pages: []flow.Page{{ID: "start", Content: &flow.Content{Text: "hello"}}},
	}
	if err := reg.RegisterBot(ctx, opts); err != nil {
		t.Fatal(err)
	}

	if err := reg.GoToPage(ctx, "b", "100", "start", nil); err != nil {
		t.Fatal(err)
	}
	if err := reg.GoToInitialPage(ctx, "b", "100", nil); err != nil {
		t.Fatal(err)
	}
	if err := reg.GoToPage(ctx, "missing", "100", "start", nil); err == nil {
		t.Fatal("expected error for unknown bot")
	}
}
