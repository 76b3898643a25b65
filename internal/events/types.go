// Package events provides event types and subject helpers for the debugd event system.
package events

// Event types for debug sessions
const (
	SessionStarted = "debug.session.started"
	SessionStopped = "debug.session.stopped"
	SessionPaused  = "debug.session.paused"
	SessionResumed = "debug.session.resumed"
	SessionOutput  = "debug.session.output"
	SessionExited  = "debug.session.exited"
)

// StoppedPayload is the event payload published when a session pauses on a
// stopped event from the adapter (breakpoint, step, exception, pause).
type StoppedPayload struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
	ThreadID  int    `json:"thread_id"`
	Text      string `json:"text,omitempty"`
}

// GetSessionID returns the session id for hub routing.
func (p StoppedPayload) GetSessionID() string { return p.SessionID }

// ContinuedPayload is published when a paused session resumes execution.
type ContinuedPayload struct {
	SessionID string `json:"session_id"`
	ThreadID  int    `json:"thread_id"`
}

// GetSessionID returns the session id for hub routing.
func (p ContinuedPayload) GetSessionID() string { return p.SessionID }

// OutputPayload carries program or adapter output verbatim.
type OutputPayload struct {
	SessionID string `json:"session_id"`
	Category  string `json:"category,omitempty"`
	Output    string `json:"output"`
}

// GetSessionID returns the session id for hub routing.
func (p OutputPayload) GetSessionID() string { return p.SessionID }

// SessionEndedPayload is published exactly once when a session is torn down,
// whether by explicit stop, adapter termination, or process exit.
type SessionEndedPayload struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}

// GetSessionID returns the session id for hub routing.
func (p SessionEndedPayload) GetSessionID() string { return p.SessionID }

// ExitedPayload carries the debuggee's exit code.
type ExitedPayload struct {
	SessionID string `json:"session_id"`
	ExitCode  int    `json:"exit_code"`
}

// GetSessionID returns the session id for hub routing.
func (p ExitedPayload) GetSessionID() string { return p.SessionID }
