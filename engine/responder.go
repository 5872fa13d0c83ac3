package engine

import (
	"context"

	"github.com/m4xw311/puck/errors"
	"github.com/m4xw311/puck/protocol"
)

// Scope names a dispatch phase.
type Scope string

const (
	// ScopeInit runs once per batch, after classification, with the whole batch.
	ScopeInit Scope = "init"
	// ScopeLoop runs once per record whose delimiter matches the responder's.
	ScopeLoop Scope = "loop"
	// ScopePost runs once per batch after every record was handled.
	ScopePost Scope = "post"
)

// Call is what a responder's Process receives.
type Call struct {
	Scope Scope
	// Record is the record being handled, after the responder's Filter.
	// Zero outside ScopeLoop.
	Record protocol.Record
	// Batch is every record parsed from the current response.
	Batch []protocol.Record
}

// ProcessFunc handles one call. A returned error is logged and counted; it
// never aborts the batch.
type ProcessFunc func(ctx context.Context, rc *RunContext, call Call) error

// Responder is a registered command handler.
type Responder struct {
	Name string
	// Delimiter is the glyph token the responder answers to. Responders
	// without one only take part in init and post.
	Delimiter string
	Scopes    []Scope
	// Exclude keeps the responder registered but out of the grammar and
	// out of dispatch.
	Exclude bool
	// Filter transforms payload lines before Process sees them.
	Filter  func(lines []string) []string
	Process ProcessFunc
}

// In reports whether r runs in scope s.
func (r Responder) In(s Scope) bool {
	for _, sc := range r.Scopes {
		if sc == s {
			return true
		}
	}
	return false
}

func (r Responder) validate() error {
	if r.Name == "" {
		return errors.New("responder has no name")
	}
	if r.Process == nil {
		return errors.New("responder %s has no process func", r.Name)
	}
	if r.Delimiter != "" {
		if err := protocol.ValidateDelimiter(r.Delimiter); err != nil {
			return errors.Wrapf(err, "responder %s", r.Name)
		}
	}
	if r.In(ScopeLoop) && r.Delimiter == "" {
		return errors.New("loop responder %s has no delimiter", r.Name)
	}
	return nil
}

// Typed builds a loop responder that decodes every matching record into a
// payload of type T before handing it to handle.
func Typed[T any](name, delimiter string, decode func(protocol.Record) (T, error), handle func(ctx context.Context, rc *RunContext, payload T) error) Responder {
	return Responder{
		Name:      name,
		Delimiter: delimiter,
		Scopes:    []Scope{ScopeLoop},
		Process: func(ctx context.Context, rc *RunContext, call Call) error {
			payload, err := decode(call.Record)
			if err != nil {
				return errors.Wrapf(err, "decode %s payload", name)
			}
			return handle(ctx, rc, payload)
		},
	}
}
