package terminal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/m4xw311/puck/agent"
	"github.com/m4xw311/puck/engine"
	"github.com/m4xw311/puck/protocol"
	"github.com/m4xw311/puck/session"
)

// Terminal handles the terminal/CLI interaction mode for the agent
type Terminal struct {
	agent *agent.Agent
	in    io.Reader
	out   io.Writer

	// Verbose also prints command output fed back to the model.
	Verbose bool
}

// New creates a new Terminal reading from stdin and writing to stdout
func New(a *agent.Agent) *Terminal {
	return NewWithIO(a, os.Stdin, os.Stdout)
}

// NewWithIO creates a Terminal on the given streams
func NewWithIO(a *agent.Agent, in io.Reader, out io.Writer) *Terminal {
	return &Terminal{agent: a, in: in, out: out}
}

// Run starts the interactive terminal session
func (t *Terminal) Run(ctx context.Context, initialPrompt string) error {
	// If there's an initial prompt from the command line, use it first
	if initialPrompt != "" {
		if err := t.processTurn(ctx, initialPrompt); err != nil {
			return err
		}
	}

	scanner := bufio.NewScanner(t.in)
	for {
		fmt.Fprint(t.out, "You: ")
		if !scanner.Scan() {
			// EOF or read error ends the session
			fmt.Fprintln(t.out)
			break
		}

		userInput := strings.TrimSpace(scanner.Text())
		if userInput == "" {
			continue
		}

		// Exit commands
		if userInput == "/quit" || userInput == "/exit" {
			break
		}

		if err := t.processTurn(ctx, userInput); err != nil {
			fmt.Fprintf(t.out, "Error: %v\n", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return scanner.Err()
}

// processTurn runs one request and prints what the agent does
func (t *Terminal) processTurn(ctx context.Context, userInput string) error {
	res, err := t.agent.Run(ctx, userInput, t.callbacks())
	if res != nil {
		fmt.Fprintf(t.out, "Puck: %s after %d iterations", res.StopReason, res.Iterations)
		if res.Faults > 0 {
			fmt.Fprintf(t.out, " (%d failed commands)", res.Faults)
		}
		fmt.Fprintln(t.out)
	}
	return err
}

func (t *Terminal) callbacks() engine.Callbacks {
	return engine.Callbacks{
		OnRecord: func(_ string, rec protocol.Record) {
			if rec.IsTitle() {
				return
			}
			head := rec.Delimiter
			if h := rec.Head(); h != "" {
				head += " " + h
			}
			fmt.Fprintf(t.out, "Puck: %s\n", head)
		},
		OnMessage: func(_ string, msg session.Message) {
			if t.Verbose && msg.Role == session.RoleUser {
				fmt.Fprintln(t.out, strings.TrimRight(msg.Content, "\n"))
			}
		},
		OnInvalidOutput: func(_ string, attempt int, _ string) {
			fmt.Fprintf(t.out, "Warning: response did not follow the command format (attempt %d)\n", attempt)
		},
	}
}
