package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/m4xw311/puck/protocol"
)

// dispatcher runs the three phases over a parsed batch. It only holds wired
// responders, in registration order.
type dispatcher struct {
	responders []Responder
	logger     *slog.Logger
	callbacks  Callbacks
}

func (d *dispatcher) dispatch(ctx context.Context, rc *RunContext, batch []protocol.Record) {
	rc.batch = batch
	rc.run.store.classify(batch)

	for _, resp := range d.responders {
		if resp.In(ScopeInit) {
			d.invoke(ctx, rc, resp, Call{Scope: ScopeInit, Batch: batch})
		}
	}

	for _, rec := range batch {
		rc.run.store.assign(rec)
		d.callbacks.record(rc.run.id, rec)
		for _, resp := range d.responders {
			if !resp.In(ScopeLoop) || resp.Delimiter != rec.Delimiter {
				continue
			}
			call := Call{Scope: ScopeLoop, Record: rec, Batch: batch}
			if resp.Filter != nil {
				call.Record = protocol.Record{
					Delimiter: rec.Delimiter,
					Lines:     resp.Filter(append([]string(nil), rec.Lines...)),
				}
			}
			d.invoke(ctx, rc, resp, call)
		}
	}

	for _, resp := range d.responders {
		if resp.In(ScopePost) {
			d.invoke(ctx, rc, resp, Call{Scope: ScopePost, Batch: batch})
		}
	}
}

// invoke runs one responder, turning errors and panics into counted faults.
func (d *dispatcher) invoke(ctx context.Context, rc *RunContext, resp Responder, call Call) {
	start := time.Now()
	var err error
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("responder %s panicked: %v", resp.Name, p)
		}
		if err != nil {
			rc.run.mu.Lock()
			rc.run.faults++
			rc.run.mu.Unlock()
			d.logger.Error("responder failed",
				"run", rc.run.id,
				"responder", resp.Name,
				"scope", call.Scope,
				"delimiter", call.Record.Delimiter,
				"error", err)
		}
		d.callbacks.responder(rc.run.id, resp.Name, call.Scope, time.Since(start), err)
	}()
	err = resp.Process(ctx, rc, call)
}
