package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/m4xw311/puck/engine"
	"github.com/m4xw311/puck/protocol"
	"github.com/m4xw311/puck/session"
)

func (a *Agent) setObserver(cb engine.Callbacks) {
	a.obsMu.Lock()
	a.observer = cb
	a.obsMu.Unlock()
}

func (a *Agent) current() engine.Callbacks {
	a.obsMu.Lock()
	defer a.obsMu.Unlock()
	return a.observer
}

// relay forwards engine events to the observer of the run in progress.
func (a *Agent) relay() engine.Callbacks {
	return engine.Callbacks{
		OnRunStart: func(runID, request string) {
			if f := a.current().OnRunStart; f != nil {
				f(runID, request)
			}
		},
		OnMessage: func(runID string, msg session.Message) {
			if f := a.current().OnMessage; f != nil {
				f(runID, msg)
			}
		},
		OnModelCall: func(runID string, promptTokens, budget int, elapsed time.Duration, err error) {
			if f := a.current().OnModelCall; f != nil {
				f(runID, promptTokens, budget, elapsed, err)
			}
		},
		OnInvalidOutput: func(runID string, attempt int, response string) {
			if f := a.current().OnInvalidOutput; f != nil {
				f(runID, attempt, response)
			}
		},
		OnRecord: func(runID string, rec protocol.Record) {
			if f := a.current().OnRecord; f != nil {
				f(runID, rec)
			}
		},
		OnResponder: func(runID, responder string, scope engine.Scope, elapsed time.Duration, err error) {
			if f := a.current().OnResponder; f != nil {
				f(runID, responder, scope, elapsed, err)
			}
		},
		OnRunStop: func(runID string, reason engine.StopReason, err error) {
			if f := a.current().OnRunStop; f != nil {
				f(runID, reason, err)
			}
		},
	}
}

// recorder keeps a transcript of every run and saves it when the run stops.
type recorder struct {
	store  session.Store
	logger *slog.Logger

	mu   sync.Mutex
	runs map[string]*session.Transcript
}

func newRecorder(store session.Store, logger *slog.Logger) *recorder {
	return &recorder{store: store, logger: logger, runs: make(map[string]*session.Transcript)}
}

func (r *recorder) callbacks() engine.Callbacks {
	return engine.Callbacks{
		OnRunStart: func(runID, request string) {
			r.mu.Lock()
			r.runs[runID] = session.New(runID, request)
			r.mu.Unlock()
		},
		OnMessage: func(runID string, msg session.Message) {
			if t := r.get(runID); t != nil {
				t.AddMessage(msg)
			}
		},
		OnRunStop: func(runID string, reason engine.StopReason, err error) {
			r.mu.Lock()
			t := r.runs[runID]
			delete(r.runs, runID)
			r.mu.Unlock()
			if t == nil {
				return
			}
			t.Finish(string(reason), err)
			if saveErr := r.store.Save(context.Background(), t); saveErr != nil {
				r.logger.Warn("failed to save transcript", "run", runID, "error", saveErr)
			}
		},
	}
}

func (r *recorder) get(runID string) *session.Transcript {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[runID]
}
