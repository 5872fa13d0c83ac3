package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m4xw311/puck/llm"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, "llm: mock\ntranscript:\n  store: file\n")

	out, _, err := execute(t, "", "run", "-c", cfg, "-C", dir, "say", "hello")
	require.NoError(t, err)
	assert.Contains(t, out, "Puck is ready. Type your request.")
	assert.Contains(t, out, "Puck: 🏁")
	assert.Contains(t, out, "Puck: finished after 1 iterations")

	saved, err := filepath.Glob(filepath.Join(dir, ".puck", "sessions", "*.json"))
	require.NoError(t, err)
	assert.Len(t, saved, 1)
}

func TestRunCommandWithoutTranscripts(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, "transcript:\n  store: none\n")

	_, _, err := execute(t, "first\n/exit\n", "run", "-c", cfg, "-C", dir)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, ".puck"))
	assert.True(t, os.IsNotExist(err))
}

func TestACPCommand(t *testing.T) {
	cfg := writeConfig(t, "transcript:\n  store: none\n")
	in := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":1}}` + "\n"

	out, _, err := execute(t, in, "acp", "-c", cfg, "-C", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, `"protocolVersion":1`)
	assert.Contains(t, out, `"loadSession":false`)
	assert.Equal(t, 1, strings.Count(out, "\n"), "stdout must carry only JSON-RPC")
}

func TestInvalidConfig(t *testing.T) {
	cfg := writeConfig(t, "transcript:\n  store: s3\n")
	_, _, err := execute(t, "", "run", "-c", cfg, "-C", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transcript store")
}

func TestUnknownProvider(t *testing.T) {
	cfg := writeConfig(t, "llm: parrot\n")
	_, _, err := execute(t, "", "run", "-c", cfg, "-C", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown llm provider")
}

func TestSetupFallsBackToWordCounting(t *testing.T) {
	var logs bytes.Buffer
	cfg := writeConfig(t, "token_counter: abacus\ntranscript:\n  store: none\n")

	a, err := setup(context.Background(), &globalFlags{configPath: cfg, workDir: t.TempDir()}, &logs)
	require.NoError(t, err)
	defer a.close()

	assert.Equal(t, llm.WordCounter{}, a.counter)
	assert.Contains(t, logs.String(), "falling back to word counting")
	assert.Nil(t, a.store)
	assert.Nil(t, a.metrics)
}

func TestSetupTraceFile(t *testing.T) {
	dir := t.TempDir()
	trace := filepath.Join(dir, "puck.trace")
	cfg := writeConfig(t, "transcript:\n  store: none\n")

	a, err := setup(context.Background(), &globalFlags{configPath: cfg, workDir: dir, trace: trace, logLevel: "error"}, &bytes.Buffer{})
	require.NoError(t, err)
	a.logger.Debug("traced only")
	a.close()

	data, err := os.ReadFile(trace)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"traced only"`)
}
