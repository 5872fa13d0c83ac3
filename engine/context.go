package engine

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/m4xw311/puck/protocol"
	"github.com/m4xw311/puck/session"
)

// StopReason says why a run ended.
type StopReason string

const (
	// StopTasksComplete: the post phase found no open tasks.
	StopTasksComplete StopReason = "tasks_complete"
	// StopFinished: a responder reported that all work is done.
	StopFinished StopReason = "finished"
	// StopRefused: a responder rejected the input.
	StopRefused StopReason = "refused"
	// StopInterrupted: Interrupt was called.
	StopInterrupted StopReason = "interrupted"
	// StopEmptyBuffer: an iteration began with nothing to send.
	StopEmptyBuffer StopReason = "empty_buffer"
	// StopFailed: a fatal error ended the run.
	StopFailed StopReason = "failed"
	// StopCanceled: the caller's context was done.
	StopCanceled StopReason = "canceled"
)

// run is the state of one HandleUserRequest call. The store is only touched
// from the run's goroutine; the buffer and the control fields may also be
// reached from the host through the Engine, so they sit behind mu.
type run struct {
	id      string
	request string
	store   *Store

	mu         sync.Mutex
	buffer     []session.Message
	workDir    string
	running    bool
	stopReq    StopReason
	reason     StopReason
	err        error
	iterations int
	faults     int
}

func (r *run) isRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// requestStop records the first stop request; later ones are ignored.
func (r *run) requestStop(reason StopReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopReq == "" {
		r.stopReq = reason
	}
}

func (r *run) stopRequested() (StopReason, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopReq, r.stopReq != ""
}

// RunContext is what responders see of the active run. Responders can read
// and mutate state, talk to the input buffer and ask for a stop; they cannot
// touch the loop's own control fields.
type RunContext struct {
	run    *run
	engine *Engine
	batch  []protocol.Record
}

// RunID identifies the run.
func (rc *RunContext) RunID() string { return rc.run.id }

// Request is the user request that started the run.
func (rc *RunContext) Request() string { return rc.run.request }

// Store exposes the run's variables and arrays.
func (rc *RunContext) Store() *Store { return rc.run.store }

// Variable looks up a variable by name.
func (rc *RunContext) Variable(name string) *Variable { return rc.run.store.Variable(name) }

// Array looks up an array by name.
func (rc *RunContext) Array(name string) *Array { return rc.run.store.Array(name) }

// Tasks is the run's task queue.
func (rc *RunContext) Tasks() TaskQueue { return rc.run.store.Tasks() }

// Batch is the records parsed from the response being dispatched.
func (rc *RunContext) Batch() []protocol.Record { return rc.batch }

// Responders lists every registered responder, excluded ones included.
func (rc *RunContext) Responders() []Responder {
	return rc.engine.Responders()
}

// Logger returns the engine's logger tagged with the run ID.
func (rc *RunContext) Logger() *slog.Logger {
	return rc.engine.logger.With("run", rc.run.id)
}

// AddMessage appends a message to the input buffer.
func (rc *RunContext) AddMessage(role, content string) {
	rc.addMessage(session.Message{Role: role, Content: content})
}

func (rc *RunContext) addMessage(msg session.Message) {
	rc.run.mu.Lock()
	rc.run.buffer = append(rc.run.buffer, msg)
	rc.run.mu.Unlock()
	rc.engine.callbacks.message(rc.run.id, msg)
}

// InputBuffer returns a snapshot of the input buffer.
func (rc *RunContext) InputBuffer() []session.Message {
	rc.run.mu.Lock()
	defer rc.run.mu.Unlock()
	return append([]session.Message(nil), rc.run.buffer...)
}

// ClearInputBuffer empties the input buffer.
func (rc *RunContext) ClearInputBuffer() {
	rc.run.mu.Lock()
	defer rc.run.mu.Unlock()
	rc.run.buffer = nil
}

// WorkDir is the run's working directory.
func (rc *RunContext) WorkDir() string {
	rc.run.mu.Lock()
	defer rc.run.mu.Unlock()
	return rc.run.workDir
}

// SetWorkDir changes the working directory for every later path-relative
// operation in this run. Relative dirs resolve against the current one.
func (rc *RunContext) SetWorkDir(dir string) {
	dir = rc.Resolve(dir)
	rc.run.mu.Lock()
	defer rc.run.mu.Unlock()
	rc.run.workDir = dir
}

// Resolve makes path absolute against the working directory.
func (rc *RunContext) Resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(rc.WorkDir(), path)
}

// RecordCommand appends entry to the command history.
func (rc *RunContext) RecordCommand(entry string) {
	if h := rc.run.store.Array(ArrayCommandHistory); h != nil {
		h.Append(protocol.Record{Lines: []string{entry}})
	}
}

// History lists the command history.
func (rc *RunContext) History() []string {
	return texts(rc.run.store.Array(ArrayCommandHistory))
}

// RequestStop ends the run once the current batch has been dispatched.
// The first request wins.
func (rc *RunContext) RequestStop(reason StopReason) { rc.run.requestStop(reason) }
