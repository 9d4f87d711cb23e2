package telegram

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestParseChatID(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"12345", 12345, false},
		{"-100987654321", -100987654321, false},
		{"abc", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseChatID(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSplitMessage_Short(t *testing.T) {
	parts := SplitMessage("hello", 10)
	if len(parts) != 1 || parts[0] != "hello" {
		t.Fatalf("got %#v", parts)
	}
}

func TestSplitMessage_PrefersNewlines(t *testing.T) {
	text := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	parts := SplitMessage(text, 10)
	if len(parts) != 2 {
		t.Fatalf("got %d parts: %#v", len(parts), parts)
	}
	if !strings.HasSuffix(parts[0], "\n") {
		t.Errorf("first part should break at the newline, got %q", parts[0])
	}
	if parts[0]+parts[1] != text {
		t.Error("split lost content")
	}
}

func TestSplitMessage_RespectsLimit(t *testing.T) {
	text := strings.Repeat("日本語テキスト", 1000)
	parts := SplitMessage(text, maxMessageRunes)
	var rejoined strings.Builder
	for _, p := range parts {
		if n := utf8.RuneCountInString(p); n > maxMessageRunes {
			t.Fatalf("part has %d runes, limit %d", n, maxMessageRunes)
		}
		rejoined.WriteString(p)
	}
	if rejoined.String() != text {
		t.Fatal("split lost content")
	}
}
