package websocket

// Action constants for WebSocket messages
const (
	// Health
	ActionHealthCheck = "health.check"

	// Debug session commands (client -> server)
	ActionDebugStart          = "debug.start"
	ActionDebugStop           = "debug.stop"
	ActionDebugStopAll        = "debug.stopAll"
	ActionDebugContinue       = "debug.continue"
	ActionDebugStepOver       = "debug.stepOver"
	ActionDebugStepInto       = "debug.stepInto"
	ActionDebugStepOut        = "debug.stepOut"
	ActionDebugPause          = "debug.pause"
	ActionDebugSetBreakpoints = "debug.breakpoints.set"
	ActionDebugStackTrace     = "debug.stackTrace"
	ActionDebugVariables      = "debug.variables"
	ActionDebugEvaluate       = "debug.evaluate"
	ActionDebugSessionGet     = "debug.session.get"
	ActionDebugSessionList    = "debug.session.list"

	// Adapter catalogue commands
	ActionDebugAdapterList   = "debug.adapter.list"
	ActionDebugAdapterDetect = "debug.adapter.detect"

	// Subscription actions
	ActionDebugSubscribe   = "debug.subscribe"
	ActionDebugUnsubscribe = "debug.unsubscribe"

	// Notification actions (server -> client)
	ActionDebugStopped        = "debug.stopped"
	ActionDebugContinued      = "debug.continued"
	ActionDebugOutput         = "debug.output"
	ActionDebugSessionStopped = "debug.session.stopped"
	ActionDebugExited         = "debug.exited"
)

// Error codes for WebSocket error responses
const (
	ErrorCodeBadRequest         = "BAD_REQUEST"
	ErrorCodeNotFound           = "NOT_FOUND"
	ErrorCodeInternalError      = "INTERNAL_ERROR"
	ErrorCodeValidation         = "VALIDATION_ERROR"
	ErrorCodeUnknownAction      = "UNKNOWN_ACTION"
	ErrorCodeUnsupported        = "UNSUPPORTED_LANGUAGE"
	ErrorCodeAdapterUnavailable = "ADAPTER_UNAVAILABLE"
	ErrorCodeNoActiveSession    = "NO_ACTIVE_SESSION"
	ErrorCodeSessionFailed      = "SESSION_FAILED"
)
