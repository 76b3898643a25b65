package events

import "fmt"

// Subject naming for the event bus. Session-scoped subjects embed the session
// id so NATS-style wildcards can subscribe per session or across all sessions.

// BuildSessionStoppedSubject returns the subject for pause notifications.
func BuildSessionStoppedSubject(sessionID string) string {
	return fmt.Sprintf("debug.session.%s.stopped", sessionID)
}

// BuildSessionContinuedSubject returns the subject for resume notifications.
func BuildSessionContinuedSubject(sessionID string) string {
	return fmt.Sprintf("debug.session.%s.continued", sessionID)
}

// BuildSessionOutputSubject returns the subject for program output.
func BuildSessionOutputSubject(sessionID string) string {
	return fmt.Sprintf("debug.session.%s.output", sessionID)
}

// BuildSessionEndedSubject returns the subject for session teardown.
func BuildSessionEndedSubject(sessionID string) string {
	return fmt.Sprintf("debug.session.%s.ended", sessionID)
}

// BuildSessionExitedSubject returns the subject for debuggee exit codes.
func BuildSessionExitedSubject(sessionID string) string {
	return fmt.Sprintf("debug.session.%s.exited", sessionID)
}

// BuildSessionWildcardSubject matches every session-scoped debug subject.
func BuildSessionWildcardSubject() string {
	return "debug.session.>"
}

// BuildSessionStoppedWildcardSubject matches pause notifications across
// all sessions.
func BuildSessionStoppedWildcardSubject() string {
	return "debug.session.*.stopped"
}

// BuildSessionContinuedWildcardSubject matches resume notifications
// across all sessions.
func BuildSessionContinuedWildcardSubject() string {
	return "debug.session.*.continued"
}

// BuildSessionOutputWildcardSubject matches program output across all
// sessions.
func BuildSessionOutputWildcardSubject() string {
	return "debug.session.*.output"
}

// BuildSessionEndedWildcardSubject matches teardown notifications
// across all sessions.
func BuildSessionEndedWildcardSubject() string {
	return "debug.session.*.ended"
}

// BuildSessionExitedWildcardSubject matches debuggee exit notifications
// across all sessions.
func BuildSessionExitedWildcardSubject() string {
	return "debug.session.*.exited"
}
