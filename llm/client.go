package llm

import (
	"context"
	"sync"

	"github.com/m4xw311/puck/errors"
	"github.com/m4xw311/puck/session"
)

// Client is the interface for interacting with a Large Language Model.
// maxTokens bounds the size of the response.
type Client interface {
	Query(ctx context.Context, messages []session.Message, maxTokens int) (string, error)
}

// New initializes the client for provider. An empty provider or "mock"
// yields a Mock that always reports completion.
func New(ctx context.Context, provider, model string) (Client, error) {
	switch provider {
	case "gemini":
		return NewGeminiLLMClient(ctx, model)
	case "openai":
		return NewOpenAILLMClient(ctx, model)
	case "bedrock":
		return NewBedrockLLMClient(ctx, model)
	case "anthropic":
		return NewAnthropicLLMClient(ctx, model)
	case "", "mock":
		return &Mock{}, nil
	default:
		return nil, errors.New("unknown llm provider %q", provider)
	}
}

// Query is one recorded Mock call.
type Query struct {
	Messages  []session.Message
	MaxTokens int
}

// Mock replays scripted responses in order. Once the script runs out it
// answers with Fallback, or "🏁" when Fallback is empty.
type Mock struct {
	Responses []string
	Fallback  string

	mu    sync.Mutex
	calls []Query
}

// NewMock creates a Mock with the given script.
func NewMock(responses ...string) *Mock {
	return &Mock{Responses: responses}
}

func (m *Mock) Query(ctx context.Context, messages []session.Message, maxTokens int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Query{
		Messages:  append([]session.Message(nil), messages...),
		MaxTokens: maxTokens,
	})
	if n := len(m.calls); n <= len(m.Responses) {
		return m.Responses[n-1], nil
	}
	if m.Fallback != "" {
		return m.Fallback, nil
	}
	return "🏁", nil
}

// Calls returns every query received so far.
func (m *Mock) Calls() []Query {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Query(nil), m.calls...)
}

// splitSystem separates the leading system prompt from the conversation.
// Providers that take a single system instruction get later system messages
// (corrective notices) as user turns.
func splitSystem(messages []session.Message) (string, []session.Message) {
	var system string
	rest := make([]session.Message, 0, len(messages))
	for i, msg := range messages {
		if msg.Role == session.RoleSystem {
			if i == 0 {
				system = msg.Content
				continue
			}
			msg.Role = session.RoleUser
		}
		rest = append(rest, msg)
	}
	return system, rest
}
