package tools

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/m4xw311/puck/errors"
)

// ShellResult is the outcome of one shell command.
type ShellResult struct {
	Output   string
	ExitCode int
}

// Shell runs commands with bash -c.
type Shell struct {
	// Timeout bounds every command. Zero means no limit beyond the
	// caller's context.
	Timeout time.Duration
}

// Run executes command in dir and returns its combined output. A non-zero
// exit is reported through ShellResult.ExitCode, not as an error; errors
// mean the command could not run or timed out.
func (s *Shell) Run(ctx context.Context, dir, command string) (ShellResult, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	res := ShellResult{Output: string(output)}
	if ctx.Err() != nil {
		return res, errors.Wrapf(ctx.Err(), "command did not finish")
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, errors.Wrapf(err, "command execution failed")
	}
	return res, nil
}

// ChangeDir reports the directory a command moves to when its first
// segment (before "&&" or ";") is a cd. Relative targets resolve against
// cwd; a bare cd or "~" goes home.
func ChangeDir(command, cwd string) (string, bool) {
	first := command
	if i := strings.IndexAny(first, ";&|"); i >= 0 {
		first = first[:i]
	}
	fields := strings.Fields(first)
	if len(fields) == 0 || fields[0] != "cd" {
		return "", false
	}
	if len(fields) > 2 {
		return "", false
	}

	target := "~"
	if len(fields) == 2 {
		target = strings.Trim(fields[1], `"'`)
	}
	switch {
	case target == "~" || strings.HasPrefix(target, "~/"):
		home, err := os.UserHomeDir()
		if err != nil {
			return "", false
		}
		target = filepath.Join(home, strings.TrimPrefix(target, "~"))
	case target == "-":
		return "", false
	case !filepath.IsAbs(target):
		target = filepath.Join(cwd, target)
	}
	return filepath.Clean(target), true
}
