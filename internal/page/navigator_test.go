package page

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/flowgram/internal/flow"
	"github.com/nextlevelbuilder/flowgram/internal/glossary"
	"github.com/nextlevelbuilder/flowgram/internal/transport"
)

type sentMessage struct {
	ChatID string
	Text   string
	Opts   *transport.SendOptions
}

type fakeClient struct {
	sent    []sentMessage
	sendErr error
}

func (c *fakeClient) SendMessage(_ context.Context, chatID, text string, opts *transport.SendOptions) error {
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, sentMessage{ChatID: chatID, Text: text, Opts: opts})
	return nil
}

func (c *fakeClient) On(transport.Event, transport.Listener) {}
func (c *fakeClient) StartPolling(context.Context) error     { return nil }
func (c *fakeClient) StopPolling(context.Context) error      { return nil }

func newTestNavigator() (*Navigator, *fakeClient) {
	client := &fakeClient{}
	return New("test-bot", client, glossary.Default()), client
}

func testCtx() *flow.Context {
	return &flow.Context{Context: context.Background(), ChatID: "100"}
}

func staticPage(id, text string) flow.Page {
	return flow.Page{ID: id, Content: &flow.Content{Text: text}}
}

func TestRegisterPagesUpsertAndOrder(t *testing.T) {
	nav, _ := newTestNavigator()
	nav.RegisterPages([]flow.Page{
		staticPage("name", "Your name?"),
		staticPage("email", "Your email?"),
		{ID: "   "},
	})
	nav.RegisterPages([]flow.Page{staticPage("name", "Full name, please?")})

	got := nav.PageIDs()
	want := []string{"name", "email"}
	if len(got) != len(want) {
		t.Fatalf("page ids = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("page ids = %v, want %v", got, want)
		}
	}

	p, ok := nav.Page("name")
	if !ok || p.Content.Text != "Full name, please?" {
		t.Fatalf("upsert did not replace page content: %+v", p)
	}
}

func TestInitialPageResolution(t *testing.T) {
	nav, _ := newTestNavigator()
	if _, ok := nav.InitialPage(); ok {
		t.Fatal("expected no initial page on empty navigator")
	}

	nav.RegisterPages([]flow.Page{staticPage("first", "a"), staticPage("second", "b")})
	p, ok := nav.InitialPage()
	if !ok || p.ID != "first" {
		t.Fatalf("initial page = %v, want first", p)
	}

	nav.SetInitialPageID("second")
	p, _ = nav.InitialPage()
	if p.ID != "second" {
		t.Fatalf("initial page = %s, want second", p.ID)
	}

	nav.SetInitialPageID("missing")
	p, ok = nav.InitialPage()
	if !ok || p.ID != "first" {
		t.Fatalf("dangling initial id should fall back to first, got %v", p)
	}
}

func TestExtractMessageValue(t *testing.T) {
	nav, _ := newTestNavigator()
	contact := &telego.Contact{PhoneNumber: "+15550101"}
	location := &telego.Location{Latitude: 1, Longitude: 2}
	document := &telego.Document{FileID: "doc"}
	photo := []telego.PhotoSize{{FileID: "p1"}}

	tests := []struct {
		name string
		msg  *telego.Message
		want any
	}{
		{"nil message", nil, nil},
		{"text wins", &telego.Message{Text: "hi", Caption: "cap"}, "hi"},
		{"caption", &telego.Message{Caption: "cap"}, "cap"},
		{"contact", &telego.Message{Contact: contact}, contact},
		{"location", &telego.Message{Location: location}, location},
		{"document", &telego.Message{Document: document}, document},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nav.ExtractMessageValue(tt.msg); got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}

	t.Run("photo", func(t *testing.T) {
		got, ok := nav.ExtractMessageValue(&telego.Message{Photo: photo}).([]telego.PhotoSize)
		if !ok || len(got) != 1 || got[0].FileID != "p1" {
			t.Fatalf("photo extraction = %v", got)
		}
	})

	t.Run("fallback to whole message", func(t *testing.T) {
		msg := &telego.Message{MessageID: 7}
		if got := nav.ExtractMessageValue(msg); got != msg {
			t.Fatalf("got %v, want the message itself", got)
		}
	})
}

func TestValidatePageValue(t *testing.T) {
	nav, _ := newTestNavigator()
	ctx := testCtx()

	t.Run("no validators passes", func(t *testing.T) {
		p := staticPage("p", "x")
		if vr := nav.ValidatePageValue(ctx, &p, "anything"); !vr.Valid {
			t.Fatalf("expected valid, got %+v", vr)
		}
	})

	t.Run("schema failure", func(t *testing.T) {
		p := flow.Page{ID: "p", Schema: flow.NonEmpty()}
		vr := nav.ValidatePageValue(ctx, &p, "   ")
		if vr.Valid || vr.ErrorMessage == "" {
			t.Fatalf("expected schema failure, got %+v", vr)
		}
	})

	t.Run("schema runs before custom validator", func(t *testing.T) {
		called := false
		p := flow.Page{
			ID:     "p",
			Schema: flow.MinLen(5),
			Validate: func(*flow.Context, any) (flow.ValidationResult, error) {
				called = true
				return flow.Valid(), nil
			},
		}
		vr := nav.ValidatePageValue(ctx, &p, "hi")
		if vr.Valid || called {
			t.Fatalf("custom validator ran despite schema failure: %+v", vr)
		}
	})

	t.Run("validator error becomes failure", func(t *testing.T) {
		p := flow.Page{
			ID: "p",
			Validate: func(*flow.Context, any) (flow.ValidationResult, error) {
				return flow.ValidationResult{}, errors.New("boom")
			},
		}
		vr := nav.ValidatePageValue(ctx, &p, "x")
		if vr.Valid || vr.ErrorMessage != "boom" {
			t.Fatalf("got %+v", vr)
		}
	})

	t.Run("validator transform", func(t *testing.T) {
		p := flow.Page{
			ID: "p",
			Validate: func(_ *flow.Context, value any) (flow.ValidationResult, error) {
				return flow.ValidationResult{
					Valid:        true,
					SaveValue:    strings.ToUpper(value.(string)),
					HasSaveValue: true,
				}, nil
			},
		}
		vr := nav.ValidatePageValue(ctx, &p, "ok")
		if !vr.Valid || !vr.HasSaveValue || vr.SaveValue != "OK" {
			t.Fatalf("got %+v", vr)
		}
	})
}

func TestResolveNextPageID(t *testing.T) {
	nav, _ := newTestNavigator()
	nav.RegisterPages([]flow.Page{
		staticPage("one", "1"),
		staticPage("two", "2"),
		staticPage("three", "3"),
	})
	ctx := testCtx()

	t.Run("registration order fallback", func(t *testing.T) {
		p, _ := nav.Page("one")
		if got := nav.ResolveNextPageID(ctx, p); got != "two" {
			t.Fatalf("next = %q, want two", got)
		}
	})

	t.Run("last page ends the flow", func(t *testing.T) {
		p, _ := nav.Page("three")
		if got := nav.ResolveNextPageID(ctx, p); got != "" {
			t.Fatalf("next = %q, want empty", got)
		}
	})

	t.Run("resolver wins", func(t *testing.T) {
		p := flow.Page{
			ID:   "one",
			Next: func(*flow.Context) (string, error) { return "three", nil },
		}
		if got := nav.ResolveNextPageID(ctx, &p); got != "three" {
			t.Fatalf("next = %q, want three", got)
		}
	})

	t.Run("resolver error falls back to order", func(t *testing.T) {
		p := flow.Page{
			ID:   "one",
			Next: func(*flow.Context) (string, error) { return "", errors.New("nope") },
		}
		if got := nav.ResolveNextPageID(ctx, &p); got != "two" {
			t.Fatalf("next = %q, want two", got)
		}
	})

	t.Run("empty resolver result falls back", func(t *testing.T) {
		p := flow.Page{
			ID:   "two",
			Next: func(*flow.Context) (string, error) { return "  ", nil },
		}
		if got := nav.ResolveNextPageID(ctx, &p); got != "three" {
			t.Fatalf("next = %q, want three", got)
		}
	})
}
