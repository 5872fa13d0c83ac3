package agent

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/m4xw311/puck/config"
	"github.com/m4xw311/puck/engine"
	"github.com/m4xw311/puck/errors"
	"github.com/m4xw311/puck/llm"
	"github.com/m4xw311/puck/logging"
	"github.com/m4xw311/puck/session"
	"github.com/m4xw311/puck/tools"
	"github.com/m4xw311/puck/tools/mcp"
)

// Opener shows path to the user, e.g. in an editor. It backs 🆚.
type Opener func(ctx context.Context, path string) error

// Agent is the coding agent: an engine wired with the glyph command set,
// a policy-checked workspace and an optional transcript store.
type Agent struct {
	Config *config.Config

	engine    *engine.Engine
	workspace *tools.Workspace
	shell     *tools.Shell
	mcp       *mcp.Pool
	opener    Opener
	logger    *slog.Logger

	runMu    sync.Mutex
	obsMu    sync.Mutex
	observer engine.Callbacks
}

type options struct {
	workDir   string
	logger    *slog.Logger
	store     session.Store
	pool      *mcp.Pool
	opener    Opener
	counter   engine.TokenCounter
	callbacks []engine.Callbacks
}

// Option configures New.
type Option func(*options)

// WithWorkDir sets the project root. Defaults to the process working
// directory.
func WithWorkDir(dir string) Option { return func(o *options) { o.workDir = dir } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(o *options) { o.logger = l } }

// WithTranscriptStore records every run and saves it to store when the
// run stops.
func WithTranscriptStore(store session.Store) Option { return func(o *options) { o.store = store } }

// WithMCP wires the 🔌 command to the servers in pool.
func WithMCP(pool *mcp.Pool) Option { return func(o *options) { o.pool = pool } }

// WithOpener sets the 🆚 hook.
func WithOpener(fn Opener) Option { return func(o *options) { o.opener = fn } }

// WithTokenCounter replaces the word-count estimate.
func WithTokenCounter(c llm.TokenCounter) Option {
	return func(o *options) { o.counter = c }
}

// WithCallbacks subscribes to the events of every run, e.g. for metrics.
func WithCallbacks(cbs ...engine.Callbacks) Option {
	return func(o *options) { o.callbacks = append(o.callbacks, cbs...) }
}

// New builds an agent around client.
func New(cfg *config.Config, client llm.Client, opts ...Option) (*Agent, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	o := options{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	root := o.workDir
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, errors.Wrapf(errors.ErrMissingPrecondition, "no working directory: %v", err)
		}
		root = wd
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrMissingPrecondition, "resolve working directory %s: %v", root, err)
	}

	a := &Agent{
		Config:    cfg,
		workspace: tools.NewWorkspace(root, cfg.FilesystemAccess),
		shell:     &tools.Shell{Timeout: cfg.ShellTimeout},
		mcp:       o.pool,
		opener:    o.opener,
		logger:    o.logger,
	}

	var model engine.Model
	if client != nil {
		model = client
	}
	engineOpts := []engine.Option{
		engine.WithSystemPrompt(SystemPrompt(a.toolDescriptions())),
		engine.WithLimits(engine.Limits{
			ContextTokens:     cfg.MaxContextTokens,
			MaxResponseTokens: cfg.MaxResponseTokens,
			MinResponseTokens: cfg.MinResponseTokens,
			MaxRetries:        cfg.MaxRetries,
		}),
		engine.WithWorkDir(root),
		engine.WithLogger(o.logger),
		engine.WithVariables(iterationVariables()...),
		engine.WithArrays(engine.TaskArrays(GlyphOpenTask)...),
		engine.WithRunSetup(func(rc *engine.RunContext) {
			rc.Store().SetVariable(GlyphAnnounce, rc.Request())
		}),
	}
	if o.counter != nil {
		engineOpts = append(engineOpts, engine.WithTokenCounter(o.counter))
	}

	cbs := append([]engine.Callbacks{}, o.callbacks...)
	if o.store != nil {
		cbs = append(cbs, newRecorder(o.store, o.logger).callbacks())
	}
	cbs = append(cbs, a.relay())
	engineOpts = append(engineOpts, engine.WithCallbacks(cbs...))

	a.engine = engine.New(model, engineOpts...)
	for _, r := range a.responders() {
		if err := a.engine.AddResponder(r); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Run handles one user request to completion. observer receives the run's
// events in addition to the callbacks given to New.
func (a *Agent) Run(ctx context.Context, request string, observer engine.Callbacks) (*engine.Result, error) {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	a.setObserver(observer)
	defer a.setObserver(engine.Callbacks{})

	res, err := a.engine.HandleUserRequest(ctx, request)
	if err != nil {
		return res, errors.Wrapf(err, "request failed")
	}
	return res, nil
}

// Interrupt stops the active run before its next model call.
func (a *Agent) Interrupt() { a.engine.Interrupt() }

// AddMessage queues a message for the active run, or for the next one.
func (a *Agent) AddMessage(role, content string) {
	a.engine.AddMessageToInputBuffer(session.Message{Role: role, Content: content})
}

// Engine exposes the underlying engine.
func (a *Agent) Engine() *engine.Engine { return a.engine }

// Workspace is the policy-checked project root.
func (a *Agent) Workspace() *tools.Workspace { return a.workspace }

func (a *Agent) toolDescriptions() string {
	if a.mcp == nil || a.mcp.Empty() {
		return ""
	}
	return a.mcp.Describe()
}

func iterationVariables() []engine.VariableDef {
	defs := make([]engine.VariableDef, len(iterationGlyphs))
	for i, g := range iterationGlyphs {
		defs[i] = engine.VariableDef{Name: g, Lifetime: engine.LifetimeIteration}
	}
	return defs
}
