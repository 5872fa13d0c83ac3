package terminal

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/m4xw311/puck/agent"
	"github.com/m4xw311/puck/config"
	"github.com/m4xw311/puck/llm"
)

func newTestAgent(t *testing.T, responses ...string) *agent.Agent {
	t.Helper()
	a, err := agent.New(config.Default(), llm.NewMock(responses...), agent.WithWorkDir(t.TempDir()))
	if err != nil {
		t.Fatalf("Failed to create agent: %v", err)
	}
	return a
}

func TestTerminalNew(t *testing.T) {
	testAgent := newTestAgent(t)
	term := New(testAgent)
	if term == nil {
		t.Fatal("Expected terminal instance, got nil")
	}
	if term.agent != testAgent {
		t.Fatal("Terminal agent doesn't match the provided agent")
	}
}

func TestTerminalProcessTurn(t *testing.T) {
	var out bytes.Buffer
	term := NewWithIO(newTestAgent(t, "📢 on it\n💻 echo hi"), strings.NewReader(""), &out)
	term.Verbose = true

	if err := term.processTurn(context.Background(), "say hi"); err != nil {
		t.Fatalf("processTurn failed: %v", err)
	}
	for _, want := range []string{
		"Puck: 📢 on it\n",
		"Puck: 💻 echo hi\n",
		"hi\n",
		"Puck: tasks_complete after 1 iterations\n",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestTerminalInvalidOutputWarning(t *testing.T) {
	var out bytes.Buffer
	term := NewWithIO(newTestAgent(t, "chatty answer", "🏁"), strings.NewReader(""), &out)

	if err := term.processTurn(context.Background(), "req"); err != nil {
		t.Fatalf("processTurn failed: %v", err)
	}
	if !strings.Contains(out.String(), "Warning: response did not follow the command format (attempt 1)") {
		t.Errorf("expected a format warning, got:\n%s", out.String())
	}
}

func TestTerminalRun(t *testing.T) {
	var out bytes.Buffer
	in := strings.NewReader("\nfirst request\n/quit\nnever sent\n")
	term := NewWithIO(newTestAgent(t), in, &out)

	if err := term.Run(context.Background(), "initial test prompt"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	// The mock reports completion for every request: the initial prompt and
	// the first line, but nothing after /quit.
	if got := strings.Count(out.String(), "Puck: 🏁"); got != 2 {
		t.Errorf("expected 2 completed runs, got %d:\n%s", got, out.String())
	}
}

func TestTerminalRunEOF(t *testing.T) {
	var out bytes.Buffer
	term := NewWithIO(newTestAgent(t), strings.NewReader(""), &out)
	if err := term.Run(context.Background(), ""); err != nil {
		t.Errorf("Run failed without initial prompt: %v", err)
	}
}
