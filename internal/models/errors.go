package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures reported to CLI users and daemon clients.
type ErrorKind string

const (
	KindConfig          ErrorKind = "config"
	KindEmptySelection  ErrorKind = "empty_selection"
	KindTransfer        ErrorKind = "transfer"
	KindNotFound        ErrorKind = "not_found"
	KindRetentionSafety ErrorKind = "retention_safety"
	KindAlreadyRunning  ErrorKind = "already_running"
)

// Error is a classified failure.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Msg == "" && t.Err == nil
}

// Sentinels for errors.Is.
var (
	ErrConfig          = &Error{Kind: KindConfig}
	ErrEmptySelection  = &Error{Kind: KindEmptySelection}
	ErrTransfer        = &Error{Kind: KindTransfer}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrRetentionSafety = &Error{Kind: KindRetentionSafety}
	ErrAlreadyRunning  = &Error{Kind: KindAlreadyRunning}
)

// ConfigError reports malformed policy or rule input.
func ConfigError(format string, args ...any) error {
	return &Error{Kind: KindConfig, Msg: fmt.Sprintf(format, args...)}
}

// EmptySelectionError reports that the include rules resolved to nothing.
func EmptySelectionError() error {
	return &Error{Kind: KindEmptySelection, Msg: "selection is empty, nothing to back up"}
}

// TransferError wraps a failure of the transfer process or target.
func TransferError(msg string, err error) error {
	return &Error{Kind: KindTransfer, Msg: msg, Err: err}
}

// NotFoundError reports an unknown generation or task.
func NotFoundError(what, name string) error {
	if name == "" {
		return &Error{Kind: KindNotFound, Msg: fmt.Sprintf("no %s found", what)}
	}
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf("%s %q does not exist", what, name)}
}

// RetentionSafetyError reports a refused removal of the newest complete generation.
func RetentionSafetyError(name string) error {
	return &Error{Kind: KindRetentionSafety, Msg: fmt.Sprintf("refusing to remove %q, it is the newest complete generation", name)}
}

// InProgressError reports a refused removal of a generation whose transfer has not finished.
func InProgressError(name string) error {
	return &Error{Kind: KindRetentionSafety, Msg: fmt.Sprintf("refusing to remove %q, its backup is still in progress", name)}
}

// AlreadyRunningError reports a cancel request for a running task.
func AlreadyRunningError(id string) error {
	return &Error{Kind: KindAlreadyRunning, Msg: fmt.Sprintf("task %s is already running", id)}
}

// BackupInProgressError reports a backup refused because another one has not finished.
func BackupInProgressError(name string) error {
	return &Error{Kind: KindAlreadyRunning, Msg: fmt.Sprintf("generation %s is still in progress, mark it failed if its backup died", name)}
}

// KindOf returns the classification of err, or "" if it is unclassified.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
