// Package tools holds the side-effecting operations behind the command
// glyphs: policy-checked file access, shell execution and diff application.
package tools

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/m4xw311/puck/config"
	"github.com/m4xw311/puck/errors"
)

// Workspace resolves paths against a project root and enforces the
// filesystem access policy. Policy globs are matched against the path
// relative to the root, or against the absolute path for files outside it.
type Workspace struct {
	Root   string
	Access config.FilesystemAccess
}

// NewWorkspace creates a workspace rooted at root.
func NewWorkspace(root string, access config.FilesystemAccess) *Workspace {
	return &Workspace{Root: filepath.Clean(root), Access: access}
}

// CheckRead fails for hidden paths.
func (w *Workspace) CheckRead(path string) error {
	rel := w.policyPath(path)
	hidden, err := isPathRestricted(rel, w.Access.Hidden)
	if err != nil {
		return err
	}
	if hidden {
		return errors.New("access denied: path '%s' is hidden", rel)
	}
	return nil
}

// CheckWrite fails for hidden and read-only paths.
func (w *Workspace) CheckWrite(path string) error {
	if err := w.CheckRead(path); err != nil {
		return err
	}
	rel := w.policyPath(path)
	readOnly, err := isPathRestricted(rel, w.Access.ReadOnly)
	if err != nil {
		return err
	}
	if readOnly {
		return errors.New("access denied: path '%s' is read-only", rel)
	}
	return nil
}

func (w *Workspace) policyPath(path string) string {
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(w.Root, abs)
	}
	rel, err := filepath.Rel(w.Root, abs)
	if err != nil {
		return filepath.ToSlash(abs)
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return filepath.ToSlash(abs)
	}
	return rel
}

// isPathRestricted checks if a path matches any of the glob patterns.
func isPathRestricted(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.Match(pattern, path)
		if err != nil {
			return false, fmt.Errorf("invalid glob pattern '%s': %w", pattern, err)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}
