package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m4xw311/puck/config"
)

func newWorkspace(t *testing.T) *Workspace {
	t.Helper()
	return NewWorkspace(t.TempDir(), config.FilesystemAccess{
		Hidden:   []string{".puck", ".puck/**", "**/*.pem"},
		ReadOnly: []string{"go.sum", "vendor/**"},
	})
}

func TestWorkspacePolicy(t *testing.T) {
	w := newWorkspace(t)
	tests := []struct {
		path      string
		readable  bool
		writeable bool
	}{
		{"main.go", true, true},
		{".puck/config.yaml", false, false},
		{"certs/server.pem", false, false},
		{"go.sum", true, false},
		{"vendor/a/b.go", true, false},
		{filepath.Join(w.Root, "go.sum"), true, false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.readable, w.CheckRead(tt.path) == nil)
			assert.Equal(t, tt.writeable, w.CheckWrite(tt.path) == nil)
		})
	}
}

func TestWriteAndReadLines(t *testing.T) {
	w := newWorkspace(t)
	path := filepath.Join(w.Root, "pkg", "notes.txt")
	require.NoError(t, w.WriteFile(path, "one\ntwo\nthree\nfour\n"))

	whole, err := w.ReadLines(path, 0, 0)
	require.NoError(t, err)
	assert.False(t, whole.Partial)
	assert.Equal(t, "one\ntwo\nthree\nfour\n", whole.Text)
	assert.Equal(t, 4, whole.Total)

	window, err := w.ReadLines(path, 2, 2)
	require.NoError(t, err)
	assert.True(t, window.Partial)
	assert.Equal(t, "two\nthree", window.Text)
	assert.Equal(t, 2, window.From)
	assert.Equal(t, 3, window.To)

	tail, err := w.ReadLines(path, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, "three\nfour", tail.Text)

	past, err := w.ReadLines(path, 9, 2)
	require.NoError(t, err)
	assert.Empty(t, past.Text)

	_, err = w.ReadLines(filepath.Join(w.Root, "missing.txt"), 0, 0)
	assert.ErrorIs(t, err, os.ErrNotExist)

	assert.Error(t, w.WriteFile(filepath.Join(w.Root, "go.sum"), "x"))
}

func TestShellRun(t *testing.T) {
	dir := t.TempDir()
	sh := &Shell{Timeout: 10 * time.Second}
	ctx := context.Background()

	res, err := sh.Run(ctx, dir, "pwd && echo oops 1>&2")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Output, filepath.Base(dir))
	assert.Contains(t, res.Output, "oops")

	res, err = sh.Run(ctx, dir, "echo failing; exit 3")
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "failing\n", res.Output)
}

func TestShellTimeout(t *testing.T) {
	sh := &Shell{Timeout: 50 * time.Millisecond}
	_, err := sh.Run(context.Background(), t.TempDir(), "sleep 5")
	assert.Error(t, err)
}

func TestChangeDir(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	tests := []struct {
		command string
		want    string
		ok      bool
	}{
		{"cd src", "/work/src", true},
		{"cd src && go test ./...", "/work/src", true},
		{"cd ..; ls", "/", true},
		{"cd /tmp", "/tmp", true},
		{`cd "docs"`, "/work/docs", true},
		{"cd", home, true},
		{"ls -la", "", false},
		{"cd -", "", false},
		{"echo cd src", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			got, ok := ChangeDir(tt.command, "/work")
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyPatch(t *testing.T) {
	original := "package main\n\nfunc main() {\n\tprintln(\"hi\")\n}\n"
	tests := []struct {
		name  string
		patch string
		want  string
	}{
		{
			name: "with file headers",
			patch: strings.Join([]string{
				"--- a/main.go",
				"+++ b/main.go",
				"@@ -3,3 +3,3 @@",
				" func main() {",
				"-\tprintln(\"hi\")",
				"+\tprintln(\"hello\")",
				" }",
			}, "\n"),
			want: "package main\n\nfunc main() {\n\tprintln(\"hello\")\n}\n",
		},
		{
			name: "bare hunk with wrong line numbers",
			patch: strings.Join([]string{
				"@@ -10,2 +10,3 @@",
				" func main() {",
				"+\tdefer println(\"bye\")",
				" \tprintln(\"hi\")",
			}, "\n"),
			want: "package main\n\nfunc main() {\n\tdefer println(\"bye\")\n\tprintln(\"hi\")\n}\n",
		},
		{
			name: "blank context line",
			patch: strings.Join([]string{
				"@@ -1,3 +1,4 @@",
				" package main",
				"",
				"+import \"os\"",
				" func main() {",
			}, "\n"),
			want: "package main\n\nimport \"os\"\nfunc main() {\n\tprintln(\"hi\")\n}\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ApplyPatch(original, tt.patch)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyPatchCreatesContent(t *testing.T) {
	got, err := ApplyPatch("", "@@ -0,0 +1,2 @@\n+one\n+two\n")
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", got)
}

func TestApplyPatchRejectsMismatch(t *testing.T) {
	_, err := ApplyPatch("a\nb\n", "@@ -1,2 +1,2 @@\n x\n-y\n+z\n")
	assert.Error(t, err)

	_, err = ApplyPatch("a\n", "no hunks here")
	assert.Error(t, err)
}
