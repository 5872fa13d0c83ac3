package llm

import (
	"context"
	"testing"

	"github.com/m4xw311/puck/session"
)

func TestMockReplaysScript(t *testing.T) {
	m := NewMock("📬 one", "✅")
	ctx := context.Background()
	msgs := []session.Message{{Role: "user", Content: "hi"}}

	for _, want := range []string{"📬 one", "✅", "🏁"} {
		got, err := m.Query(ctx, msgs, 100)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
	if n := len(m.Calls()); n != 3 {
		t.Errorf("expected 3 calls, got %d", n)
	}
	if m.Calls()[0].MaxTokens != 100 {
		t.Errorf("expected max tokens to be recorded")
	}
}

func TestSplitSystem(t *testing.T) {
	system, rest := splitSystem([]session.Message{
		{Role: "system", Content: "prompt"},
		{Role: "user", Content: "req"},
		{Role: "system", Content: "fix it"},
	})
	if system != "prompt" {
		t.Errorf("got system %q", system)
	}
	if len(rest) != 2 || rest[1].Role != "user" || rest[1].Content != "fix it" {
		t.Errorf("later system messages should become user turns, got %+v", rest)
	}
}

func TestNewUnknownProvider(t *testing.T) {
	if _, err := New(context.Background(), "nope", "x"); err == nil {
		t.Error("expected an error for an unknown provider")
	}
	c, err := New(context.Background(), "mock", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := c.(*Mock); !ok {
		t.Errorf("expected *Mock, got %T", c)
	}
}

func TestWordCounter(t *testing.T) {
	if got := (WordCounter{}).Count("  three  little\nwords "); got != 3 {
		t.Errorf("got %d, want 3", got)
	}
	c, err := NewTokenCounter("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := c.(WordCounter); !ok {
		t.Errorf("expected WordCounter, got %T", c)
	}
	if _, err := NewTokenCounter("bytes"); err == nil {
		t.Error("expected error for unknown counter")
	}
}
