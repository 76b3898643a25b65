package session

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoActiveSession is returned when a command names no session and no
// active session exists to fall back to.
var ErrNoActiveSession = errors.New("session: no active session")

// UnsupportedLanguageError reports a language with no registered
// adapter.
type UnsupportedLanguageError struct {
	Language string
}

func (e *UnsupportedLanguageError) Error() string {
	return fmt.Sprintf("session: no debug adapter registered for language %q", e.Language)
}

// AdapterUnavailableError reports an adapter that is registered but not
// installed on this machine. InstallHint is surfaced verbatim to the
// user.
type AdapterUnavailableError struct {
	Language    string
	Reason      string
	InstallHint string
}

func (e *AdapterUnavailableError) Error() string {
	msg := fmt.Sprintf("session: debug adapter for %q is not available", e.Language)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.InstallHint != "" {
		msg += " (" + e.InstallHint + ")"
	}
	return msg
}

// RequestNotSupportedError reports an operation the adapter's config
// does not define, such as attach for a launch-only adapter.
type RequestNotSupportedError struct {
	Language  string
	Operation string
}

func (e *RequestNotSupportedError) Error() string {
	return fmt.Sprintf("session: adapter for %q does not support %s", e.Language, e.Operation)
}

// InitializeTimeoutError reports an adapter that never emitted the
// initialized event during session bring-up. Fatal to the session.
type InitializeTimeoutError struct {
	Timeout time.Duration
}

func (e *InitializeTimeoutError) Error() string {
	return fmt.Sprintf("session: adapter did not emit initialized within %s", e.Timeout)
}
