package dap

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrClientClosed is returned for requests on a client that has been
	// torn down, and rejects pending requests during explicit teardown.
	ErrClientClosed = errors.New("dap: client closed")

	// ErrAdapterExited rejects pending requests when the adapter process
	// dies underneath the client.
	ErrAdapterExited = errors.New("dap: adapter process exited")
)

// RequestTimeoutError reports a request whose response did not arrive
// within its timeout. A late response is discarded, never delivered.
type RequestTimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *RequestTimeoutError) Error() string {
	return fmt.Sprintf("dap: request %q timed out after %s", e.Command, e.Timeout)
}

// RequestFailedError reports a response with success=false.
type RequestFailedError struct {
	Command string
	Message string
}

func (e *RequestFailedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("dap: %s failed: %s", e.Command, e.Message)
	}
	return fmt.Sprintf("dap: %s failed", e.Command)
}

// UnsafeArgumentError reports an argument rejected by spawn validation
// before any process was created.
type UnsafeArgumentError struct {
	Argument string
}

func (e *UnsafeArgumentError) Error() string {
	return fmt.Sprintf("dap: argument contains shell metacharacters: %q", e.Argument)
}

// DisallowedCommandError reports a spawn command that failed allow-list
// revalidation.
type DisallowedCommandError struct {
	Command string
}

func (e *DisallowedCommandError) Error() string {
	return fmt.Sprintf("dap: command %q is not an allowed debug adapter", e.Command)
}
