package llm

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/m4xw311/puck/errors"
)

// TokenCounter estimates the token cost of a string.
type TokenCounter interface {
	Count(text string) int
}

// WordCounter counts whitespace-separated words. It under-counts BPE tokens.
type WordCounter struct{}

func (WordCounter) Count(text string) int { return len(strings.Fields(text)) }

// TiktokenCounter counts BPE tokens with a tiktoken encoding.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads encoding, e.g. "cl100k_base". Loading may fetch
// the BPE ranks over the network the first time.
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, errors.Wrapf(err, "load tiktoken encoding %s", encoding)
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (t *TiktokenCounter) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// NewTokenCounter returns the counter named by kind: "words" (the default)
// or "tiktoken".
func NewTokenCounter(kind string) (TokenCounter, error) {
	switch kind {
	case "", "words":
		return WordCounter{}, nil
	case "tiktoken":
		return NewTiktokenCounter("cl100k_base")
	default:
		return nil, errors.New("unknown token counter %q", kind)
	}
}
