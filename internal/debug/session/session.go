// Package session orchestrates concurrent debug sessions: bring-up of
// adapter processes, session-scoped commands, and republishing of
// protocol events onto the event bus.
package session

import (
	"time"

	"github.com/kandev/debugd/internal/debug/adapters"
)

// SessionState tracks a session at the manager level.
type SessionState string

const (
	SessionStarting SessionState = "starting"
	SessionRunning  SessionState = "running"
	SessionPaused   SessionState = "paused"
	SessionStopped  SessionState = "stopped"
)

// SessionInfo is the manager's view of one active debugging session.
// It is owned exclusively by the Manager and mutated only in response
// to client events and commands.
type SessionInfo struct {
	ID        string                `json:"id"`
	Language  string                `json:"language"`
	State     SessionState          `json:"state"`
	Program   string                `json:"program"`
	ThreadID  int                   `json:"thread_id"`
	StartedAt time.Time             `json:"started_at"`
	Launch    adapters.LaunchParams `json:"launch"`
}
