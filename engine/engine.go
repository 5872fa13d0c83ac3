package engine

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/m4xw311/puck/errors"
	"github.com/m4xw311/puck/logging"
	"github.com/m4xw311/puck/protocol"
	"github.com/m4xw311/puck/session"
)

// InvalidOutputMessage is the corrective system message appended after a
// response that does not match the grammar.
const InvalidOutputMessage = "INVALID OUTPUT FORMAT. Please review the instructions and try again."

// Model sends an ordered message list and returns the response text.
// maxTokens bounds the response size.
type Model interface {
	Query(ctx context.Context, messages []session.Message, maxTokens int) (string, error)
}

// Engine drives runs: it calls the model, parses responses and dispatches
// records to responders until something stops the run.
type Engine struct {
	model     Model
	counter   TokenCounter
	prompt    string
	limits    Limits
	workDir   string
	logger    *slog.Logger
	callbacks Callbacks
	onStart   func(rc *RunContext)

	regMu      sync.Mutex
	responders []Responder
	variables  []VariableDef
	arrays     []ArrayDef
	grammar    *protocol.Grammar
	dispatcher *dispatcher

	mu      sync.Mutex
	current *run
	pending []session.Message
}

// Option configures an Engine.
type Option func(*Engine)

// WithSystemPrompt sets the system message sent ahead of the buffer.
func WithSystemPrompt(prompt string) Option {
	return func(e *Engine) { e.prompt = prompt }
}

// WithTokenCounter replaces the word-count estimate.
func WithTokenCounter(c TokenCounter) Option {
	return func(e *Engine) { e.counter = c }
}

// WithLimits sets the token and retry limits.
func WithLimits(l Limits) Option {
	return func(e *Engine) { e.limits = l }
}

// WithWorkDir sets the directory every run starts in. Defaults to the
// process working directory.
func WithWorkDir(dir string) Option {
	return func(e *Engine) { e.workDir = dir }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithCallbacks subscribes to run events.
func WithCallbacks(cbs ...Callbacks) Option {
	return func(e *Engine) { e.callbacks = ChainCallbacks(cbs...) }
}

// WithVariables declares variables.
func WithVariables(defs ...VariableDef) Option {
	return func(e *Engine) { e.variables = append(e.variables, defs...) }
}

// WithArrays declares named arrays.
func WithArrays(defs ...ArrayDef) Option {
	return func(e *Engine) { e.arrays = append(e.arrays, defs...) }
}

// WithRunSetup runs fn on every fresh run, after the request entered the
// buffer and before the first model call.
func WithRunSetup(fn func(rc *RunContext)) Option {
	return func(e *Engine) { e.onStart = fn }
}

// New creates an engine around model. A nil model is accepted here and
// reported as a missing precondition when a run starts.
func New(model Model, opts ...Option) *Engine {
	e := &Engine{
		model:   model,
		counter: TokenCounterFunc(WordCount),
		limits:  DefaultLimits(),
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.limits.MaxRetries < 1 {
		e.limits.MaxRetries = 1
	}
	return e
}

// AddResponder registers r. Registration closes once the grammar has been
// built; later calls fail with ErrRegistryFrozen.
func (e *Engine) AddResponder(r Responder) error {
	e.regMu.Lock()
	defer e.regMu.Unlock()
	if e.grammar != nil {
		return errors.Wrapf(errors.ErrRegistryFrozen, "cannot add responder %s", r.Name)
	}
	if err := r.validate(); err != nil {
		return err
	}
	for _, existing := range e.responders {
		if existing.Name == r.Name {
			return errors.New("responder %s registered twice", r.Name)
		}
	}
	e.responders = append(e.responders, r)
	return nil
}

// Responders lists every registered responder in registration order.
func (e *Engine) Responders() []Responder {
	e.regMu.Lock()
	defer e.regMu.Unlock()
	return append([]Responder(nil), e.responders...)
}

// Grammar builds the grammar from the wired responders on first use and
// freezes the registry.
func (e *Engine) Grammar() (*protocol.Grammar, error) {
	e.regMu.Lock()
	defer e.regMu.Unlock()
	if e.grammar != nil {
		return e.grammar, nil
	}
	var wired []Responder
	var delimiters []string
	for _, r := range e.responders {
		if r.Exclude {
			continue
		}
		wired = append(wired, r)
		if r.Delimiter != "" {
			delimiters = append(delimiters, r.Delimiter)
		}
	}
	g, err := protocol.Build(delimiters)
	if err != nil {
		return nil, errors.Wrapf(err, "build command grammar")
	}
	e.grammar = g
	e.dispatcher = &dispatcher{responders: wired, logger: e.logger, callbacks: e.callbacks}
	e.logger.Debug("grammar built", "delimiters", g.Delimiters(), "responders", len(wired))
	return g, nil
}

// AddMessageToInputBuffer appends msg to the active run's buffer. With no
// active run the message waits and opens the next run's buffer, ahead of
// the request.
func (e *Engine) AddMessageToInputBuffer(msg session.Message) {
	e.mu.Lock()
	r := e.current
	if r == nil || !r.isRunning() {
		e.pending = append(e.pending, msg)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	e.contextFor(r).addMessage(msg)
}

// Interrupt stops the active run before its next iteration. An in-flight
// model call is not aborted.
func (e *Engine) Interrupt() {
	if r := e.activeRun(); r != nil {
		r.requestStop(StopInterrupted)
	}
}

// Running reports whether a run is active.
func (e *Engine) Running() bool { return e.activeRun() != nil }

// HandleUserRequest starts a fresh run for request and iterates until it
// stops. Fatal errors come back wrapped; the Result is returned either way.
func (e *Engine) HandleUserRequest(ctx context.Context, request string) (*Result, error) {
	if err := e.Start(request); err != nil {
		return nil, err
	}
	return e.Continue(ctx)
}

// Start prepares a fresh run without calling the model. All run state from
// a previous request is discarded.
func (e *Engine) Start(request string) error {
	if e.model == nil {
		return errors.Wrapf(errors.ErrMissingPrecondition, "no model client configured")
	}
	dir, err := resolveWorkDir(e.workDir)
	if err != nil {
		return err
	}
	if _, err := e.Grammar(); err != nil {
		return err
	}

	r := &run{
		id:      uuid.NewString(),
		request: request,
		store:   newStore(e.variables, e.arrays),
		workDir: dir,
		running: true,
	}

	e.mu.Lock()
	if e.current != nil && e.current.isRunning() {
		id := e.current.id
		e.mu.Unlock()
		return errors.New("run %s is still active", id)
	}
	pending := e.pending
	e.pending = nil
	e.current = r
	e.mu.Unlock()

	e.logger.Info("run started", "run", r.id, "workdir", dir)
	e.callbacks.runStart(r.id, request)
	rc := e.contextFor(r)
	for _, msg := range pending {
		rc.addMessage(msg)
	}
	rc.AddMessage(session.RoleUser, request)
	if e.onStart != nil {
		e.onStart(rc)
	}
	return nil
}

// Continue iterates the active run until it stops. Once the run has
// stopped it is a no-op returning the last result.
func (e *Engine) Continue(ctx context.Context) (*Result, error) {
	for {
		more, err := e.Step(ctx)
		if err != nil || !more {
			return e.Result(), err
		}
	}
}

// Step performs one iteration: query, parse with bounded retries, dispatch.
// It reports whether the run is still active afterwards.
func (e *Engine) Step(ctx context.Context) (bool, error) {
	r := e.activeRun()
	if r == nil {
		return false, nil
	}
	if reason, ok := r.stopRequested(); ok {
		e.finish(r, reason, nil)
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		err = errors.Wrapf(err, "run %s canceled", r.id)
		e.finish(r, StopCanceled, err)
		return false, err
	}

	rc := e.contextFor(r)
	if len(rc.InputBuffer()) == 0 {
		e.logger.Info("input buffer empty", "run", r.id)
		e.finish(r, StopEmptyBuffer, nil)
		return false, nil
	}

	records, err := e.query(ctx, rc)
	if err != nil {
		e.finish(r, StopFailed, err)
		return false, err
	}

	r.mu.Lock()
	r.iterations++
	r.mu.Unlock()
	e.dispatcher.dispatch(ctx, rc, records)

	if reason, ok := r.stopRequested(); ok {
		e.finish(r, reason, nil)
		return false, nil
	}
	return true, nil
}

// query calls the model until a response parses. Each failure but the last
// appends a corrective message; MaxRetries consecutive failures are fatal.
func (e *Engine) query(ctx context.Context, rc *RunContext) ([]protocol.Record, error) {
	for attempt := 1; ; attempt++ {
		buffer := rc.InputBuffer()
		tokens := e.counter.Count(joinContents(buffer))
		budget, err := ResponseBudget(e.limits, tokens)
		if err != nil {
			return nil, err
		}

		messages := make([]session.Message, 0, len(buffer)+1)
		if e.prompt != "" {
			messages = append(messages, session.Message{Role: session.RoleSystem, Content: e.prompt})
		}
		messages = append(messages, buffer...)

		start := time.Now()
		text, err := e.model.Query(ctx, messages, budget)
		e.callbacks.modelCall(rc.run.id, tokens, budget, time.Since(start), err)
		if err != nil {
			return nil, errors.Wrapf(err, "model query failed")
		}

		records, err := e.grammar.Parse(text)
		if err == nil {
			return records, nil
		}
		e.callbacks.invalidOutput(rc.run.id, attempt, text)
		e.logger.Warn("invalid output format", "run", rc.run.id, "attempt", attempt, "response", clip(text, 200))
		if attempt >= e.limits.MaxRetries {
			return nil, errors.Wrapf(errors.ErrProtocolViolation,
				"%d consecutive responses did not match the command grammar", attempt)
		}
		rc.AddMessage(session.RoleSystem, InvalidOutputMessage)
	}
}

func (e *Engine) finish(r *run, reason StopReason, err error) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.reason = reason
	r.err = err
	iterations := r.iterations
	r.mu.Unlock()

	if err != nil {
		e.logger.Error("run failed", "run", r.id, "reason", reason, "iterations", iterations, "error", err)
	} else {
		e.logger.Info("run stopped", "run", r.id, "reason", reason, "iterations", iterations)
	}
	e.callbacks.runStop(r.id, reason, err)
}

func (e *Engine) activeRun() *run {
	e.mu.Lock()
	r := e.current
	e.mu.Unlock()
	if r == nil || !r.isRunning() {
		return nil
	}
	return r
}

func (e *Engine) contextFor(r *run) *RunContext {
	return &RunContext{run: r, engine: e}
}

// Result summarizes a run.
type Result struct {
	RunID          string     `json:"run_id"`
	Request        string     `json:"request"`
	Iterations     int        `json:"iterations"`
	Faults         int        `json:"faults"`
	StopReason     StopReason `json:"stop_reason,omitempty"`
	WorkDir        string     `json:"work_dir"`
	OpenTasks      []string   `json:"open_tasks"`
	CurrentTasks   []string   `json:"current_tasks"`
	ClosedTasks    []string   `json:"closed_tasks"`
	CommandHistory []string   `json:"command_history"`
}

// Result describes the latest run, or nil if none was started.
func (e *Engine) Result() *Result {
	e.mu.Lock()
	r := e.current
	e.mu.Unlock()
	if r == nil {
		return nil
	}
	tasks := r.store.Tasks()
	r.mu.Lock()
	defer r.mu.Unlock()
	return &Result{
		RunID:          r.id,
		Request:        r.request,
		Iterations:     r.iterations,
		Faults:         r.faults,
		StopReason:     r.reason,
		WorkDir:        r.workDir,
		OpenTasks:      tasks.Open(),
		CurrentTasks:   tasks.Current(),
		ClosedTasks:    tasks.Closed(),
		CommandHistory: texts(r.store.Array(ArrayCommandHistory)),
	}
}

func resolveWorkDir(dir string) (string, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", errors.Wrapf(errors.ErrMissingPrecondition, "no working directory: %v", err)
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", errors.Wrapf(errors.ErrMissingPrecondition, "resolve working directory %s: %v", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return "", errors.Wrapf(errors.ErrMissingPrecondition, "working directory %s is not a directory", abs)
	}
	return abs, nil
}

func joinContents(msgs []session.Message) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = m.Content
	}
	return strings.Join(parts, " ")
}

// clip shortens s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
