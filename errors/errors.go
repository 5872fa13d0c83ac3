package errors

import (
	stderrors "errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// Sentinel conditions surfaced by the engine. Wrap them with Wrapf to keep
// the call site while still matching with Is.
var (
	// ErrProtocolViolation means the model kept producing output that does
	// not match the command grammar past the retry bound.
	ErrProtocolViolation = stderrors.New("protocol violation")
	// ErrBudgetExhausted means the input buffer left no room for a response.
	ErrBudgetExhausted = stderrors.New("response budget exhausted")
	// ErrMissingPrecondition means a run could not start at all.
	ErrMissingPrecondition = stderrors.New("missing precondition")
	// ErrRegistryFrozen is returned when a responder is added after the
	// grammar was built.
	ErrRegistryFrozen = stderrors.New("responder registry is frozen")
	// ErrInvalidDelimiter covers empty, oversized, duplicate and
	// prefix-overlapping delimiters.
	ErrInvalidDelimiter = stderrors.New("invalid delimiter")
	// ErrTranscriptNotFound is returned when a stored transcript is missing.
	ErrTranscriptNotFound = stderrors.New("transcript not found")
)

// New creates a new error with file and line number information.
func New(format string, a ...interface{}) error {
	return fmt.Errorf("[%s] %s", caller(), fmt.Sprintf(format, a...))
}

// Wrapf adds context (including file and line number) to an existing error.
// If the provided error is nil, Wrapf returns nil.
func Wrapf(err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("[%s] %s: %w", caller(), fmt.Sprintf(format, a...), err)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool { return stderrors.As(err, target) }

// Join wraps the given errors, discarding nils.
func Join(errs ...error) error { return stderrors.Join(errs...) }

func caller() string {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return "???:0"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}
