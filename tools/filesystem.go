package tools

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/m4xw311/puck/errors"
)

// FileSlice is a window of a file's lines.
type FileSlice struct {
	Text string
	// From and To are the 1-based, inclusive bounds of the window.
	From, To int
	// Total is the file's line count.
	Total int
	// Partial is set when a window was requested.
	Partial bool
}

// ReadLines reads path and returns count lines from the 1-based line start.
// start <= 0 reads the whole file; count <= 0 reads to the end.
func (w *Workspace) ReadLines(path string, start, count int) (FileSlice, error) {
	if err := w.CheckRead(path); err != nil {
		return FileSlice{}, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return FileSlice{}, errors.Wrapf(err, "failed to read file '%s'", path)
	}

	lines := strings.Split(strings.TrimSuffix(string(content), "\n"), "\n")
	if len(content) == 0 {
		lines = nil
	}
	total := len(lines)
	if start <= 0 && count <= 0 {
		return FileSlice{Text: string(content), From: 1, To: total, Total: total}, nil
	}

	from := start
	if from < 1 {
		from = 1
	}
	to := total
	if count > 0 && from+count-1 < total {
		to = from + count - 1
	}
	if from > total {
		return FileSlice{From: from, To: from - 1, Total: total, Partial: true}, nil
	}
	return FileSlice{
		Text:    strings.Join(lines[from-1:to], "\n"),
		From:    from,
		To:      to,
		Total:   total,
		Partial: true,
	}, nil
}

// ReadFile returns the whole file. A missing file is reported with
// os.ErrNotExist in the chain.
func (w *Workspace) ReadFile(path string) (string, error) {
	if err := w.CheckRead(path); err != nil {
		return "", err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read file '%s'", path)
	}
	return string(content), nil
}

// WriteFile creates or replaces path, creating parent directories.
func (w *Workspace) WriteFile(path, content string) error {
	if err := w.CheckWrite(path); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrapf(err, "failed to create directory for '%s'", path)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return errors.Wrapf(err, "failed to write to file '%s'", path)
	}
	return nil
}
