package engine

import "github.com/m4xw311/puck/protocol"

// Array names used by the task queue and the command history.
const (
	ArrayOpenTasks      = "openTasks"
	ArrayClosedTasks    = "closedTasks"
	ArrayCurrentTasks   = "currentTasks"
	ArrayCommandHistory = "commandHistory"
)

// TaskArrays declares the task queue and command history. Records led by
// openDelimiter are queued as open tasks; the other arrays are maintained by
// responders.
func TaskArrays(openDelimiter string) []ArrayDef {
	return []ArrayDef{
		{Name: ArrayOpenTasks, Delimiter: openDelimiter, Lifetime: LifetimeExecution},
		{Name: ArrayClosedTasks, Lifetime: LifetimeExecution},
		{Name: ArrayCurrentTasks, Lifetime: LifetimeExecution},
		{Name: ArrayCommandHistory, Lifetime: LifetimeExecution},
	}
}

// TaskQueue is a view over the task arrays of a Store. A task lives in
// exactly one of open and closed; current mirrors the front of open.
type TaskQueue struct {
	open, closed, current *Array
}

// Tasks returns the task queue view. Missing arrays make the matching
// operations no-ops.
func (s *Store) Tasks() TaskQueue {
	return TaskQueue{
		open:    s.Array(ArrayOpenTasks),
		closed:  s.Array(ArrayClosedTasks),
		current: s.Array(ArrayCurrentTasks),
	}
}

// Open lists open task descriptions, oldest first.
func (q TaskQueue) Open() []string { return texts(q.open) }

// Closed lists completed task descriptions in completion order.
func (q TaskQueue) Closed() []string { return texts(q.closed) }

// Current lists the working set: empty, or the front open task.
func (q TaskQueue) Current() []string { return texts(q.current) }

// Sync re-derives current from open.
func (q TaskQueue) Sync() {
	if q.current == nil {
		return
	}
	q.current.Reset()
	if q.open == nil {
		return
	}
	if front, ok := q.open.Front(); ok {
		q.current.Append(front)
	}
}

// Complete moves the front open task to closed and re-derives current.
// It reports false when nothing was open.
func (q TaskQueue) Complete() (protocol.Record, bool) {
	if q.open == nil {
		return protocol.Record{}, false
	}
	done, ok := q.open.PopFront()
	if !ok {
		return protocol.Record{}, false
	}
	if q.closed != nil {
		q.closed.Append(done)
	}
	q.Sync()
	return done, true
}

func texts(a *Array) []string {
	if a == nil {
		return nil
	}
	return a.Texts()
}
