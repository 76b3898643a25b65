package wshandlers

import (
	"context"

	"github.com/kandev/debugd/internal/debug/adapters"
	"github.com/kandev/debugd/internal/debug/dap"
	"github.com/kandev/debugd/internal/debug/session"
	ws "github.com/kandev/debugd/pkg/websocket"
)

// StartRequest is the payload for debug.start
type StartRequest struct {
	Language    string            `json:"language"`
	Program     string            `json:"program"`
	Args        []string          `json:"args,omitempty"`
	Cwd         string            `json:"cwd,omitempty"`
	StopOnEntry bool              `json:"stop_on_entry,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Attach      bool              `json:"attach,omitempty"`
	Port        int               `json:"port,omitempty"`
	Host        string            `json:"host,omitempty"`
}

// StartResponse is the response for debug.start
type StartResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
}

// SessionRequest targets a session; an empty id resolves to the active
// session.
type SessionRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

// CommandResponse is the uniform result for session-scoped commands
type CommandResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id,omitempty"`
}

// Start handles debug.start
func (h *Handlers) Start(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req StartRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}

	if req.Language == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "language is required", nil)
	}
	if req.Program == "" && !req.Attach {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "program is required", nil)
	}

	sessionID, err := h.manager.Start(ctx, session.StartRequest{
		Language: req.Language,
		Attach:   req.Attach,
		Params: adapters.LaunchParams{
			Program:     req.Program,
			Args:        req.Args,
			Cwd:         req.Cwd,
			StopOnEntry: req.StopOnEntry,
			Env:         req.Env,
			Port:        req.Port,
			Host:        req.Host,
		},
	})
	if err != nil {
		return h.errorResponse(msg, err)
	}

	return ws.NewResponse(msg.ID, msg.Action, StartResponse{Success: true, SessionID: sessionID})
}

// Stop handles debug.stop
func (h *Handlers) Stop(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req SessionRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}

	if err := h.manager.Stop(ctx, req.SessionID); err != nil {
		return h.errorResponse(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, CommandResponse{Success: true, SessionID: req.SessionID})
}

// StopAll handles debug.stopAll
func (h *Handlers) StopAll(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	h.manager.StopAll(ctx)
	return ws.NewResponse(msg.ID, msg.Action, CommandResponse{Success: true})
}

// Continue handles debug.continue
func (h *Handlers) Continue(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	return h.sessionCommand(ctx, msg, h.manager.Continue)
}

// StepOver handles debug.stepOver
func (h *Handlers) StepOver(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	return h.sessionCommand(ctx, msg, h.manager.StepOver)
}

// StepInto handles debug.stepInto
func (h *Handlers) StepInto(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	return h.sessionCommand(ctx, msg, h.manager.StepInto)
}

// StepOut handles debug.stepOut
func (h *Handlers) StepOut(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	return h.sessionCommand(ctx, msg, h.manager.StepOut)
}

// Pause handles debug.pause
func (h *Handlers) Pause(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	return h.sessionCommand(ctx, msg, h.manager.Pause)
}

// sessionCommand is the shared shape of the execution-control handlers.
func (h *Handlers) sessionCommand(ctx context.Context, msg *ws.Message, command func(context.Context, string) error) (*ws.Message, error) {
	var req SessionRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}

	if err := command(ctx, req.SessionID); err != nil {
		return h.errorResponse(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, CommandResponse{Success: true, SessionID: req.SessionID})
}

// SetBreakpointsRequest is the payload for debug.breakpoints.set
type SetBreakpointsRequest struct {
	SessionID   string           `json:"session_id,omitempty"`
	SourcePath  string           `json:"source_path"`
	Breakpoints []BreakpointSpec `json:"breakpoints"`
}

// BreakpointSpec is one requested breakpoint
type BreakpointSpec struct {
	Line      int    `json:"line"`
	Condition string `json:"condition,omitempty"`
}

// SetBreakpointsResponse is the response for debug.breakpoints.set
type SetBreakpointsResponse struct {
	Success     bool             `json:"success"`
	Breakpoints []dap.Breakpoint `json:"breakpoints"`
}

// SetBreakpoints handles debug.breakpoints.set
func (h *Handlers) SetBreakpoints(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req SetBreakpointsRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}

	if req.SourcePath == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "source_path is required", nil)
	}

	specs := make([]dap.SourceBreakpoint, len(req.Breakpoints))
	for i, bp := range req.Breakpoints {
		specs[i] = dap.SourceBreakpoint{Line: bp.Line, Condition: bp.Condition}
	}

	verified, err := h.manager.SetBreakpoints(ctx, req.SessionID, req.SourcePath, specs)
	if err != nil {
		return h.errorResponse(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, SetBreakpointsResponse{Success: true, Breakpoints: verified})
}

// StackTraceResponse is the response for debug.stackTrace
type StackTraceResponse struct {
	Frames []dap.StackFrame `json:"frames"`
}

// StackTrace handles debug.stackTrace
func (h *Handlers) StackTrace(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req SessionRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}

	frames, err := h.manager.StackTrace(ctx, req.SessionID)
	if err != nil {
		return h.errorResponse(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, StackTraceResponse{Frames: frames})
}

// VariablesRequest is the payload for debug.variables. FrameID is a
// pointer so that frame id zero stays distinguishable from an omitted
// frame, which asks for the top frame of the current thread.
type VariablesRequest struct {
	SessionID string `json:"session_id,omitempty"`
	FrameID   *int   `json:"frame_id,omitempty"`
}

// VariablesResponse is the response for debug.variables
type VariablesResponse struct {
	Variables []dap.Variable `json:"variables"`
}

// Variables handles debug.variables
func (h *Handlers) Variables(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req VariablesRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}

	variables, err := h.manager.Variables(ctx, req.SessionID, req.FrameID)
	if err != nil {
		return h.errorResponse(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, VariablesResponse{Variables: variables})
}

// EvaluateRequest is the payload for debug.evaluate
type EvaluateRequest struct {
	SessionID  string `json:"session_id,omitempty"`
	Expression string `json:"expression"`
	FrameID    int    `json:"frame_id,omitempty"`
}

// EvaluateResponse is the response for debug.evaluate
type EvaluateResponse struct {
	Value              string `json:"value"`
	Type               string `json:"type,omitempty"`
	VariablesReference int    `json:"variables_reference,omitempty"`
}

// Evaluate handles debug.evaluate
func (h *Handlers) Evaluate(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req EvaluateRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}

	if req.Expression == "" {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeValidation, "expression is required", nil)
	}

	result, err := h.manager.Evaluate(ctx, req.SessionID, req.Expression, req.FrameID)
	if err != nil {
		return h.errorResponse(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, EvaluateResponse{
		Value:              result.Result,
		Type:               result.Type,
		VariablesReference: result.VariablesReference,
	})
}

// SessionInfoResponse is the response for debug.session.get
type SessionInfoResponse struct {
	Session session.SessionInfo `json:"session"`
}

// GetSession handles debug.session.get
func (h *Handlers) GetSession(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	var req SessionRequest
	if err := msg.ParsePayload(&req); err != nil {
		return ws.NewError(msg.ID, msg.Action, ws.ErrorCodeBadRequest, "Invalid payload: "+err.Error(), nil)
	}

	info, err := h.manager.GetSession(req.SessionID)
	if err != nil {
		return h.errorResponse(msg, err)
	}
	return ws.NewResponse(msg.ID, msg.Action, SessionInfoResponse{Session: info})
}

// ListSessionsResponse is the response for debug.session.list
type ListSessionsResponse struct {
	Sessions []session.SessionInfo `json:"sessions"`
	Total    int                   `json:"total"`
}

// ListSessions handles debug.session.list
func (h *Handlers) ListSessions(ctx context.Context, msg *ws.Message) (*ws.Message, error) {
	sessions := h.manager.ListSessions()
	return ws.NewResponse(msg.ID, msg.Action, ListSessionsResponse{
		Sessions: sessions,
		Total:    len(sessions),
	})
}
