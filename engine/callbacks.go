package engine

import (
	"time"

	"github.com/m4xw311/puck/protocol"
	"github.com/m4xw311/puck/session"
)

// Callbacks lets front-ends, metrics and transcript recording follow a run.
// Every field is optional. Callbacks run on the run's goroutine and must not
// block for long.
type Callbacks struct {
	OnRunStart func(runID, request string)
	// OnMessage fires for every message entering the input buffer,
	// including the user request itself.
	OnMessage func(runID string, msg session.Message)
	// OnModelCall fires after each model query with the prompt estimate
	// and the budget that was granted.
	OnModelCall func(runID string, promptTokens, budget int, elapsed time.Duration, err error)
	// OnInvalidOutput fires for each response that failed to parse.
	OnInvalidOutput func(runID string, attempt int, response string)
	// OnRecord fires before a record's loop responders run.
	OnRecord func(runID string, rec protocol.Record)
	// OnResponder fires after each responder invocation. err is non-nil on
	// faults and recovered panics.
	OnResponder func(runID, responder string, scope Scope, elapsed time.Duration, err error)
	OnRunStop   func(runID string, reason StopReason, err error)
}

// ChainCallbacks fans every event out to each of cbs, in order.
func ChainCallbacks(cbs ...Callbacks) Callbacks {
	return Callbacks{
		OnRunStart: func(runID, request string) {
			for _, c := range cbs {
				if c.OnRunStart != nil {
					c.OnRunStart(runID, request)
				}
			}
		},
		OnMessage: func(runID string, msg session.Message) {
			for _, c := range cbs {
				if c.OnMessage != nil {
					c.OnMessage(runID, msg)
				}
			}
		},
		OnModelCall: func(runID string, promptTokens, budget int, elapsed time.Duration, err error) {
			for _, c := range cbs {
				if c.OnModelCall != nil {
					c.OnModelCall(runID, promptTokens, budget, elapsed, err)
				}
			}
		},
		OnInvalidOutput: func(runID string, attempt int, response string) {
			for _, c := range cbs {
				if c.OnInvalidOutput != nil {
					c.OnInvalidOutput(runID, attempt, response)
				}
			}
		},
		OnRecord: func(runID string, rec protocol.Record) {
			for _, c := range cbs {
				if c.OnRecord != nil {
					c.OnRecord(runID, rec)
				}
			}
		},
		OnResponder: func(runID, responder string, scope Scope, elapsed time.Duration, err error) {
			for _, c := range cbs {
				if c.OnResponder != nil {
					c.OnResponder(runID, responder, scope, elapsed, err)
				}
			}
		},
		OnRunStop: func(runID string, reason StopReason, err error) {
			for _, c := range cbs {
				if c.OnRunStop != nil {
					c.OnRunStop(runID, reason, err)
				}
			}
		},
	}
}

func (c Callbacks) runStart(runID, request string) {
	if c.OnRunStart != nil {
		c.OnRunStart(runID, request)
	}
}

func (c Callbacks) message(runID string, msg session.Message) {
	if c.OnMessage != nil {
		c.OnMessage(runID, msg)
	}
}

func (c Callbacks) modelCall(runID string, promptTokens, budget int, elapsed time.Duration, err error) {
	if c.OnModelCall != nil {
		c.OnModelCall(runID, promptTokens, budget, elapsed, err)
	}
}

func (c Callbacks) invalidOutput(runID string, attempt int, response string) {
	if c.OnInvalidOutput != nil {
		c.OnInvalidOutput(runID, attempt, response)
	}
}

func (c Callbacks) record(runID string, rec protocol.Record) {
	if c.OnRecord != nil {
		c.OnRecord(runID, rec)
	}
}

func (c Callbacks) responder(runID, name string, scope Scope, elapsed time.Duration, err error) {
	if c.OnResponder != nil {
		c.OnResponder(runID, name, scope, elapsed, err)
	}
}

func (c Callbacks) runStop(runID string, reason StopReason, err error) {
	if c.OnRunStop != nil {
		c.OnRunStop(runID, reason, err)
	}
}
