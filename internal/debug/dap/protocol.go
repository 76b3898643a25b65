// Package dap implements a Debug Adapter Protocol client over a child
// process's standard streams: message framing, request/response correlation,
// event dispatch, and the session state machine.
package dap

import "encoding/json"

// MessageType discriminates the protocol message union.
type MessageType string

const (
	TypeRequest  MessageType = "request"
	TypeResponse MessageType = "response"
	TypeEvent    MessageType = "event"
)

// ProtocolMessage is the base for all protocol messages.
type ProtocolMessage struct {
	Seq  int         `json:"seq"`
	Type MessageType `json:"type"`
}

// Request represents an outbound command.
type Request struct {
	ProtocolMessage
	Command   string          `json:"command"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Response correlates back to a request via RequestSeq.
type Response struct {
	ProtocolMessage
	RequestSeq int             `json:"request_seq"`
	Success    bool            `json:"success"`
	Command    string          `json:"command"`
	Message    string          `json:"message,omitempty"`
	Body       json.RawMessage `json:"body,omitempty"`
}

// Event is an unsolicited notification from the adapter.
type Event struct {
	ProtocolMessage
	Event string          `json:"event"`
	Body  json.RawMessage `json:"body,omitempty"`
}

// Well-known event names. Events with other names are still dispatched
// verbatim under their own name.
const (
	EventInitialized = "initialized"
	EventStopped     = "stopped"
	EventContinued   = "continued"
	EventTerminated  = "terminated"
	EventExited      = "exited"
	EventThread      = "thread"
	EventOutput      = "output"
	EventBreakpoint  = "breakpoint"
)

// Capabilities describes what features the debug adapter supports.
type Capabilities struct {
	SupportsConfigurationDoneRequest  bool `json:"supportsConfigurationDoneRequest,omitempty"`
	SupportsFunctionBreakpoints       bool `json:"supportsFunctionBreakpoints,omitempty"`
	SupportsConditionalBreakpoints    bool `json:"supportsConditionalBreakpoints,omitempty"`
	SupportsHitConditionalBreakpoints bool `json:"supportsHitConditionalBreakpoints,omitempty"`
	SupportsEvaluateForHovers         bool `json:"supportsEvaluateForHovers,omitempty"`
	SupportsSetVariable               bool `json:"supportsSetVariable,omitempty"`
	SupportsRestartRequest            bool `json:"supportsRestartRequest,omitempty"`
	SupportsExceptionInfoRequest      bool `json:"supportsExceptionInfoRequest,omitempty"`
	SupportTerminateDebuggee          bool `json:"supportTerminateDebuggee,omitempty"`
	SupportsDelayedStackTraceLoading  bool `json:"supportsDelayedStackTraceLoading,omitempty"`
	SupportsLogPoints                 bool `json:"supportsLogPoints,omitempty"`
	SupportsTerminateRequest          bool `json:"supportsTerminateRequest,omitempty"`
	SupportsClipboardContext          bool `json:"supportsClipboardContext,omitempty"`
}

// InitializeArguments are the arguments for the initialize request.
type InitializeArguments struct {
	ClientID                 string `json:"clientID,omitempty"`
	ClientName               string `json:"clientName,omitempty"`
	AdapterID                string `json:"adapterID"`
	Locale                   string `json:"locale,omitempty"`
	LinesStartAt1            bool   `json:"linesStartAt1"`
	ColumnsStartAt1          bool   `json:"columnsStartAt1"`
	PathFormat               string `json:"pathFormat,omitempty"`
	SupportsVariableType     bool   `json:"supportsVariableType,omitempty"`
	SupportsVariablePaging   bool   `json:"supportsVariablePaging,omitempty"`
	SupportsMemoryReferences bool   `json:"supportsMemoryReferences,omitempty"`
}

// Source represents a source file.
type Source struct {
	Name            string `json:"name,omitempty"`
	Path            string `json:"path,omitempty"`
	SourceReference int    `json:"sourceReference,omitempty"`
}

// SourceBreakpoint is a requested breakpoint location.
type SourceBreakpoint struct {
	Line         int    `json:"line"`
	Column       int    `json:"column,omitempty"`
	Condition    string `json:"condition,omitempty"`
	HitCondition string `json:"hitCondition,omitempty"`
	LogMessage   string `json:"logMessage,omitempty"`
}

// Breakpoint is a breakpoint as verified by the adapter.
type Breakpoint struct {
	ID       int     `json:"id,omitempty"`
	Verified bool    `json:"verified"`
	Message  string  `json:"message,omitempty"`
	Source   *Source `json:"source,omitempty"`
	Line     int     `json:"line,omitempty"`
	Column   int     `json:"column,omitempty"`
}

// SetBreakpointsArguments are the arguments for setBreakpoints.
type SetBreakpointsArguments struct {
	Source      Source             `json:"source"`
	Breakpoints []SourceBreakpoint `json:"breakpoints,omitempty"`
}

// SetBreakpointsResponseBody is the response body for setBreakpoints.
type SetBreakpointsResponseBody struct {
	Breakpoints []Breakpoint `json:"breakpoints"`
}

// ContinueArguments are the arguments for continue.
type ContinueArguments struct {
	ThreadID int `json:"threadId"`
}

// ContinueResponseBody is the response body for continue.
type ContinueResponseBody struct {
	AllThreadsContinued bool `json:"allThreadsContinued,omitempty"`
}

// NextArguments are the arguments for next (step over).
type NextArguments struct {
	ThreadID int `json:"threadId"`
}

// StepInArguments are the arguments for stepIn.
type StepInArguments struct {
	ThreadID int `json:"threadId"`
}

// StepOutArguments are the arguments for stepOut.
type StepOutArguments struct {
	ThreadID int `json:"threadId"`
}

// PauseArguments are the arguments for pause.
type PauseArguments struct {
	ThreadID int `json:"threadId"`
}

// Thread represents a thread in the debuggee.
type Thread struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// ThreadsResponseBody is the response body for threads.
type ThreadsResponseBody struct {
	Threads []Thread `json:"threads"`
}

// StackTraceArguments are the arguments for stackTrace.
type StackTraceArguments struct {
	ThreadID   int `json:"threadId"`
	StartFrame int `json:"startFrame,omitempty"`
	Levels     int `json:"levels,omitempty"`
}

// StackFrame represents one level of a thread's call stack.
type StackFrame struct {
	ID     int     `json:"id"`
	Name   string  `json:"name"`
	Source *Source `json:"source,omitempty"`
	Line   int     `json:"line"`
	Column int     `json:"column"`
}

// StackTraceResponseBody is the response body for stackTrace.
type StackTraceResponseBody struct {
	StackFrames []StackFrame `json:"stackFrames"`
	TotalFrames int          `json:"totalFrames,omitempty"`
}

// ScopesArguments are the arguments for scopes.
type ScopesArguments struct {
	FrameID int `json:"frameId"`
}

// Scope is a named grouping of variables visible at a stack frame.
type Scope struct {
	Name               string `json:"name"`
	PresentationHint   string `json:"presentationHint,omitempty"`
	VariablesReference int    `json:"variablesReference"`
	Expensive          bool   `json:"expensive"`
}

// ScopesResponseBody is the response body for scopes.
type ScopesResponseBody struct {
	Scopes []Scope `json:"scopes"`
}

// VariablesArguments are the arguments for variables.
type VariablesArguments struct {
	VariablesReference int `json:"variablesReference"`
	Start              int `json:"start,omitempty"`
	Count              int `json:"count,omitempty"`
}

// Variable represents a variable or field.
type Variable struct {
	Name               string `json:"name"`
	Value              string `json:"value"`
	Type               string `json:"type,omitempty"`
	EvaluateName       string `json:"evaluateName,omitempty"`
	VariablesReference int    `json:"variablesReference"`
}

// VariablesResponseBody is the response body for variables.
type VariablesResponseBody struct {
	Variables []Variable `json:"variables"`
}

// EvaluateArguments are the arguments for evaluate.
type EvaluateArguments struct {
	Expression string `json:"expression"`
	FrameID    int    `json:"frameId,omitempty"`
	Context    string `json:"context,omitempty"`
}

// EvaluateResponseBody is the response body for evaluate.
type EvaluateResponseBody struct {
	Result             string `json:"result"`
	Type               string `json:"type,omitempty"`
	VariablesReference int    `json:"variablesReference"`
}

// DisconnectArguments are the arguments for disconnect.
type DisconnectArguments struct {
	Restart           bool `json:"restart,omitempty"`
	TerminateDebuggee bool `json:"terminateDebuggee,omitempty"`
}

// StoppedEventBody is the body of the stopped event.
type StoppedEventBody struct {
	Reason            string `json:"reason"`
	Description       string `json:"description,omitempty"`
	ThreadID          int    `json:"threadId,omitempty"`
	Text              string `json:"text,omitempty"`
	AllThreadsStopped bool   `json:"allThreadsStopped,omitempty"`
	HitBreakpointIDs  []int  `json:"hitBreakpointIds,omitempty"`
}

// ContinuedEventBody is the body of the continued event.
type ContinuedEventBody struct {
	ThreadID            int  `json:"threadId"`
	AllThreadsContinued bool `json:"allThreadsContinued,omitempty"`
}

// ExitedEventBody is the body of the exited event.
type ExitedEventBody struct {
	ExitCode int `json:"exitCode"`
}

// TerminatedEventBody is the body of the terminated event.
type TerminatedEventBody struct {
	Restart any `json:"restart,omitempty"`
}

// ThreadEventBody is the body of the thread event.
type ThreadEventBody struct {
	Reason   string `json:"reason"`
	ThreadID int    `json:"threadId"`
}

// OutputEventBody is the body of the output event.
type OutputEventBody struct {
	Category string `json:"category,omitempty"`
	Output   string `json:"output"`
}

// BreakpointEventBody is the body of the breakpoint event.
type BreakpointEventBody struct {
	Reason     string     `json:"reason"`
	Breakpoint Breakpoint `json:"breakpoint"`
}
