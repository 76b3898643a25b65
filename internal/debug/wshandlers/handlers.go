// Package wshandlers provides WebSocket message handlers for the debug
// session API.
package wshandlers

import (
	"errors"

	"go.uber.org/zap"

	"github.com/kandev/debugd/internal/common/logger"
	"github.com/kandev/debugd/internal/debug/adapters"
	"github.com/kandev/debugd/internal/debug/session"
	ws "github.com/kandev/debugd/pkg/websocket"
)

// Handlers contains WebSocket handlers for the debug API
type Handlers struct {
	manager  *session.Manager
	registry *adapters.Registry
	logger   *logger.Logger
}

// NewHandlers creates a new WebSocket handlers instance
func NewHandlers(manager *session.Manager, registry *adapters.Registry, log *logger.Logger) *Handlers {
	return &Handlers{
		manager:  manager,
		registry: registry,
		logger:   log.WithFields(zap.String("component", "debug-ws-handlers")),
	}
}

// RegisterHandlers registers all debug handlers with the dispatcher
func (h *Handlers) RegisterHandlers(d *ws.Dispatcher) {
	// Session lifecycle
	d.RegisterFunc(ws.ActionDebugStart, h.Start)
	d.RegisterFunc(ws.ActionDebugStop, h.Stop)
	d.RegisterFunc(ws.ActionDebugStopAll, h.StopAll)
	d.RegisterFunc(ws.ActionDebugSessionGet, h.GetSession)
	d.RegisterFunc(ws.ActionDebugSessionList, h.ListSessions)

	// Execution control
	d.RegisterFunc(ws.ActionDebugContinue, h.Continue)
	d.RegisterFunc(ws.ActionDebugStepOver, h.StepOver)
	d.RegisterFunc(ws.ActionDebugStepInto, h.StepInto)
	d.RegisterFunc(ws.ActionDebugStepOut, h.StepOut)
	d.RegisterFunc(ws.ActionDebugPause, h.Pause)

	// Inspection
	d.RegisterFunc(ws.ActionDebugSetBreakpoints, h.SetBreakpoints)
	d.RegisterFunc(ws.ActionDebugStackTrace, h.StackTrace)
	d.RegisterFunc(ws.ActionDebugVariables, h.Variables)
	d.RegisterFunc(ws.ActionDebugEvaluate, h.Evaluate)

	// Adapter catalogue
	d.RegisterFunc(ws.ActionDebugAdapterList, h.ListAdapters)
	d.RegisterFunc(ws.ActionDebugAdapterDetect, h.DetectAdapter)
}

// errorResponse translates manager errors into the uniform error
// envelope instead of leaking raw protocol failures to the UI.
func (h *Handlers) errorResponse(msg *ws.Message, err error) (*ws.Message, error) {
	var unsupported *session.UnsupportedLanguageError
	if errors.As(err, &unsupported) {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeUnsupported, err.Error(), nil)
	}

	var unavailable *session.AdapterUnavailableError
	if errors.As(err, &unavailable) {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeAdapterUnavailable, err.Error(), map[string]any{
			"install_hint": unavailable.InstallHint,
		})
	}

	if errors.Is(err, session.ErrNoActiveSession) {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeNoActiveSession, "No active debug session", nil)
	}

	h.logger.Error("debug command failed", zap.String("action", msg.Action), zap.Error(err))
	return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeSessionFailed, err.Error(), nil)
}
