package engine

import (
	"strings"

	"github.com/m4xw311/puck/errors"
)

// Limits shape every model call.
type Limits struct {
	// ContextTokens is the hard ceiling for buffer plus response.
	ContextTokens int
	// MaxResponseTokens caps a single response.
	MaxResponseTokens int
	// MinResponseTokens is the smallest budget worth asking for.
	MinResponseTokens int
	// MaxRetries is how many consecutive malformed responses end the run.
	MaxRetries int
}

// DefaultLimits returns the stock limits.
func DefaultLimits() Limits {
	return Limits{
		ContextTokens:     8192,
		MaxResponseTokens: 2048,
		MinResponseTokens: 10,
		MaxRetries:        3,
	}
}

// ResponseBudget is what is left of the context after bufferTokens, capped
// at MaxResponseTokens. A budget under MinResponseTokens fails with
// ErrBudgetExhausted.
func ResponseBudget(l Limits, bufferTokens int) (int, error) {
	budget := l.ContextTokens - bufferTokens
	if budget > l.MaxResponseTokens {
		budget = l.MaxResponseTokens
	}
	if budget < l.MinResponseTokens {
		return budget, errors.Wrapf(errors.ErrBudgetExhausted,
			"input buffer holds %d of %d tokens, %d left for the response", bufferTokens, l.ContextTokens, budget)
	}
	return budget, nil
}

// TokenCounter estimates the token cost of text.
type TokenCounter interface {
	Count(text string) int
}

// TokenCounterFunc adapts a function to TokenCounter.
type TokenCounterFunc func(text string) int

// Count calls f.
func (f TokenCounterFunc) Count(text string) int { return f(text) }

// WordCount is the default estimate: whitespace-separated words. It
// under-counts BPE tokens, so ContextTokens should leave headroom.
func WordCount(text string) int { return len(strings.Fields(text)) }
