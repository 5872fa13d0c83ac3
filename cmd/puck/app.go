package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/m4xw311/puck/agent"
	"github.com/m4xw311/puck/config"
	"github.com/m4xw311/puck/errors"
	"github.com/m4xw311/puck/llm"
	"github.com/m4xw311/puck/logging"
	"github.com/m4xw311/puck/metrics"
	"github.com/m4xw311/puck/session"
	"github.com/m4xw311/puck/tools/mcp"
)

// app holds everything a subcommand needs to build agents.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	client  llm.Client
	counter llm.TokenCounter
	store   session.Store
	pool    *mcp.Pool
	metrics *metrics.Collector
	workDir string

	closers []io.Closer
}

// setup loads configuration and wires logging, the model client, the
// transcript store, MCP servers and the metrics endpoint.
func setup(ctx context.Context, flags *globalFlags, stderr io.Writer) (*app, error) {
	var (
		cfg *config.Config
		err error
	)
	if flags.configPath != "" {
		cfg, err = config.LoadFrom(flags.configPath)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return nil, errors.Wrapf(err, "error loading configuration")
	}

	a := &app{cfg: cfg}
	level := cfg.LogLevel
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	logOpts := logging.Options{Level: logging.ParseLevel(level), Writer: stderr}
	if flags.trace != "" {
		f, err := logging.OpenTrace(flags.trace)
		if err != nil {
			return nil, errors.Wrapf(err, "could not open trace file")
		}
		a.closers = append(a.closers, f)
		logOpts.Trace = f
	}
	a.logger = logging.New(logOpts)

	a.workDir = flags.workDir
	if a.workDir == "" {
		if a.workDir, err = os.Getwd(); err != nil {
			return nil, errors.Wrapf(err, "could not get working directory")
		}
	}
	if a.workDir, err = filepath.Abs(a.workDir); err != nil {
		return nil, errors.Wrapf(err, "invalid project directory")
	}

	if a.client, err = llm.New(ctx, cfg.LLMClient, cfg.Model); err != nil {
		a.close()
		return nil, errors.Wrapf(err, "error initializing %s client", cfg.LLMClient)
	}

	if a.counter, err = llm.NewTokenCounter(cfg.TokenCounter); err != nil {
		a.logger.Warn("falling back to word counting", "token_counter", cfg.TokenCounter, "error", err)
		a.counter = llm.WordCounter{}
	}

	if a.store, err = a.openStore(); err != nil {
		a.close()
		return nil, err
	}

	a.pool = mcp.Start(ctx, cfg.MCPServers, a.logger)

	if cfg.MetricsAddr != "" {
		a.metrics = metrics.New()
		go func() {
			if err := a.metrics.Serve(ctx, cfg.MetricsAddr, a.logger); err != nil {
				a.logger.Error("metrics server failed", "error", err)
			}
		}()
	}
	return a, nil
}

func (a *app) openStore() (session.Store, error) {
	t := a.cfg.Transcript
	switch t.Store {
	case "", "none":
		return nil, nil
	case "redis":
		var opts []session.RedisOption
		if t.TTL > 0 {
			opts = append(opts, session.WithTTL(t.TTL))
		}
		store := session.NewRedisStore(t.RedisAddr, t.RedisPassword, t.RedisDB, opts...)
		a.closers = append(a.closers, store)
		return store, nil
	default:
		dir := t.Dir
		if dir == "" {
			dir = session.DefaultDir()
		}
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(a.workDir, dir)
		}
		store, err := session.NewFileStore(dir)
		if err != nil {
			return nil, errors.Wrapf(err, "could not open transcript directory")
		}
		return store, nil
	}
}

// newAgent builds an agent rooted at dir, or at the project directory
// when dir is empty.
func (a *app) newAgent(dir string, opts ...agent.Option) (*agent.Agent, error) {
	if dir == "" {
		dir = a.workDir
	}
	opts = append([]agent.Option{
		agent.WithWorkDir(dir),
		agent.WithLogger(a.logger),
		agent.WithTokenCounter(a.counter),
		agent.WithMCP(a.pool),
	}, opts...)
	if a.metrics != nil {
		opts = append(opts, agent.WithCallbacks(a.metrics.Callbacks()))
	}
	return agent.New(a.cfg, a.client, opts...)
}

func (a *app) close() {
	if a.pool != nil {
		a.pool.Close()
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil && a.logger != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}
