package dap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kandev/debugd/internal/common/logger"
)

// State tracks the client lifecycle. Stopped and Error are terminal: a
// new client must be created for a new session.
type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateRunning      State = "running"
	StatePaused       State = "paused"
	StateStopped      State = "stopped"
	StateError        State = "error"
)

// DefaultRequestTimeout bounds each request independently from send time.
const DefaultRequestTimeout = 30 * time.Second

// EventListener receives a protocol event body. Listeners are invoked
// synchronously in registration order, on the receive goroutine.
type EventListener func(body json.RawMessage)

// ClientOptions configure a Client.
type ClientOptions struct {
	// RequestTimeout applies per request; zero means DefaultRequestTimeout.
	RequestTimeout time.Duration
	Logger         *logger.Logger
}

// Client speaks the Debug Adapter Protocol over one adapter process's
// stdio. Requests may be pipelined; responses are correlated by
// request_seq, never by send order.
type Client struct {
	enc  *Encoder
	dec  *Decoder
	proc *Process
	log  *logger.Logger

	// Stream ends are closed on teardown when they support it, so the
	// receive goroutine cannot block forever on a dead transport.
	reader io.Reader
	writer io.Writer

	requestTimeout time.Duration

	mu      sync.Mutex
	seq     int
	pending map[int]*pendingRequest
	closed  bool
	tearErr error

	stateMu sync.RWMutex
	state   State

	listenerMu sync.RWMutex
	listeners  map[string]map[int]EventListener
	listenerID int

	done      chan struct{}
	closeOnce sync.Once
}

type pendingRequest struct {
	command string
	done    chan struct{}
	once    sync.Once
	timer   *time.Timer
	resp    *Response
	err     error
}

func (p *pendingRequest) resolve(resp *Response, err error) {
	p.once.Do(func() {
		p.resp = resp
		p.err = err
		if p.timer != nil {
			p.timer.Stop()
		}
		close(p.done)
	})
}

// NewClient creates a client over an already-connected message stream.
// Used directly in tests; production clients are built by SpawnClient.
func NewClient(r io.Reader, w io.Writer, opts ClientOptions) *Client {
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	c := &Client{
		enc:            NewEncoder(w),
		dec:            NewDecoder(r),
		reader:         r,
		writer:         w,
		log:            log,
		requestTimeout: timeout,
		pending:        make(map[int]*pendingRequest),
		state:          StateIdle,
		listeners:      make(map[string]map[int]EventListener),
		done:           make(chan struct{}),
	}
	go c.receiveLoop()
	return c
}

// SpawnClient starts the adapter process described by spawnOpts and
// attaches a client to its stdio. The stderr stream is drained and
// logged so the child never blocks on a full pipe.
func SpawnClient(spawnOpts SpawnOptions, opts ClientOptions) (*Client, error) {
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}

	proc, err := Spawn(spawnOpts, log)
	if err != nil {
		return nil, err
	}

	c := NewClient(proc.Stdout(), proc.Stdin(), opts)
	c.proc = proc

	go c.drainStderr(proc.Stderr())
	go c.watchExit()
	return c, nil
}

func (c *Client) drainStderr(r io.Reader) {
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			c.log.Debug("Adapter stderr", zap.ByteString("output", buf[:n]))
		}
		if err != nil {
			return
		}
	}
}

// watchExit cascades an adapter process death into client teardown.
func (c *Client) watchExit() {
	select {
	case <-c.proc.Exited():
		c.teardown(ErrAdapterExited, StateStopped)
	case <-c.done:
	}
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.state == StateStopped || c.state == StateError {
		return
	}
	c.state = s
}

// Subscribe registers a listener for the named protocol event and
// returns its removal function. Removal does not affect a dispatch
// already in flight.
func (c *Client) Subscribe(event string, listener EventListener) func() {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()

	c.listenerID++
	id := c.listenerID
	if c.listeners[event] == nil {
		c.listeners[event] = make(map[int]EventListener)
	}
	c.listeners[event][id] = listener

	return func() {
		c.listenerMu.Lock()
		defer c.listenerMu.Unlock()
		delete(c.listeners[event], id)
	}
}

// receiveLoop reads framed messages until the stream fails or the
// client is closed.
func (c *Client) receiveLoop() {
	for {
		body, err := c.dec.Decode()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.teardown(ErrAdapterExited, StateStopped)
			}
			return
		}

		select {
		case <-c.done:
			return
		default:
		}

		msg, err := DecodeMessage(body)
		if err != nil {
			// One bad message does not desynchronize the stream.
			c.log.Warn("Dropping malformed protocol message", zap.Error(err))
			continue
		}

		switch m := msg.(type) {
		case *Response:
			c.handleResponse(m)
		case *Event:
			c.handleEvent(m)
		case *Request:
			// Reverse requests (e.g. runInTerminal) are not supported.
			c.log.Debug("Ignoring reverse request", zap.String("command", m.Command))
		}
	}
}

func (c *Client) handleResponse(resp *Response) {
	c.mu.Lock()
	req, ok := c.pending[resp.RequestSeq]
	if ok {
		delete(c.pending, resp.RequestSeq)
	}
	c.mu.Unlock()

	if !ok {
		// Late response after timeout or teardown.
		c.log.Debug("Discarding response with no pending request",
			zap.Int("request_seq", resp.RequestSeq),
			zap.String("command", resp.Command))
		return
	}
	req.resolve(resp, nil)
}

func (c *Client) handleEvent(evt *Event) {
	switch evt.Event {
	case EventStopped:
		c.setState(StatePaused)
	case EventContinued:
		c.setState(StateRunning)
	case EventTerminated, EventExited:
		c.setState(StateStopped)
	}

	c.listenerMu.RLock()
	entries := c.listeners[evt.Event]
	ids := make([]int, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	ordered := make([]EventListener, 0, len(ids))
	for _, id := range ids {
		ordered = append(ordered, entries[id])
	}
	c.listenerMu.RUnlock()

	for _, listener := range ordered {
		listener(evt.Body)
	}
}

// SendRequest sends a command and waits for its correlated response or
// the per-request timeout. On success=false responses it returns a
// RequestFailedError carrying the adapter's message.
func (c *Client) SendRequest(ctx context.Context, command string, args any) (json.RawMessage, error) {
	var argsJSON json.RawMessage
	if args != nil {
		var err error
		argsJSON, err = json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("marshal %s arguments: %w", command, err)
		}
	}

	pending := &pendingRequest{
		command: command,
		done:    make(chan struct{}),
	}

	timeout := c.requestTimeout

	c.mu.Lock()
	if c.closed {
		err := c.tearErr
		c.mu.Unlock()
		if err == nil {
			err = ErrClientClosed
		}
		return nil, err
	}
	c.seq++
	seq := c.seq
	// The timer is armed before the entry becomes visible in the pending
	// map: every resolver (timeout callback, response handler, teardown)
	// reaches the request through c.mu, so the timer write is ordered
	// ahead of any read.
	pending.timer = time.AfterFunc(timeout, func() {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
		pending.resolve(nil, &RequestTimeoutError{Command: command, Timeout: timeout})
	})
	c.pending[seq] = pending
	c.mu.Unlock()

	req := Request{
		ProtocolMessage: ProtocolMessage{Seq: seq, Type: TypeRequest},
		Command:         command,
		Arguments:       argsJSON,
	}

	if err := c.enc.Encode(&req); err != nil {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
		pending.resolve(nil, nil)
		return nil, fmt.Errorf("send %s request: %w", command, err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
		pending.resolve(nil, ctx.Err())
		return nil, ctx.Err()
	case <-pending.done:
	}

	if pending.err != nil {
		return nil, pending.err
	}
	resp := pending.resp
	if !resp.Success {
		return nil, &RequestFailedError{Command: command, Message: resp.Message}
	}
	if resp.Body == nil {
		return json.RawMessage("{}"), nil
	}
	return resp.Body, nil
}

// teardown rejects every pending request, kills the process if still
// alive, and moves to a terminal state. Idempotent.
func (c *Client) teardown(reason error, terminal State) {
	var toReject map[int]*pendingRequest

	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.tearErr = reason
		toReject = c.pending
		c.pending = make(map[int]*pendingRequest)
		c.mu.Unlock()

		close(c.done)

		c.stateMu.Lock()
		if c.state != StateError {
			c.state = terminal
		}
		c.stateMu.Unlock()

		if c.proc != nil {
			c.proc.Kill()
		}
		if closer, ok := c.reader.(io.Closer); ok {
			_ = closer.Close()
		}
		if closer, ok := c.writer.(io.Closer); ok {
			_ = closer.Close()
		}
	})

	for _, req := range toReject {
		req.resolve(nil, reason)
	}
}

// Close tears the client down, rejecting all pending requests with
// ErrClientClosed.
func (c *Client) Close() {
	c.teardown(ErrClientClosed, StateStopped)
}

// Done is closed once the client has been torn down.
func (c *Client) Done() <-chan struct{} { return c.done }

// High-level operations. Each wraps SendRequest with typed arguments
// and response bodies plus the local state transition.

// Initialize performs the protocol handshake and returns the adapter's
// capabilities.
func (c *Client) Initialize(ctx context.Context, adapterID string) (*Capabilities, error) {
	c.setState(StateInitializing)

	body, err := c.SendRequest(ctx, "initialize", InitializeArguments{
		ClientID:               "debugd",
		ClientName:             "debugd",
		AdapterID:              adapterID,
		Locale:                 "en-US",
		LinesStartAt1:          true,
		ColumnsStartAt1:        true,
		PathFormat:             "path",
		SupportsVariableType:   true,
		SupportsVariablePaging: true,
	})
	if err != nil {
		return nil, err
	}

	var caps Capabilities
	if err := json.Unmarshal(body, &caps); err != nil {
		return nil, fmt.Errorf("unmarshal capabilities: %w", err)
	}
	return &caps, nil
}

// Launch starts the debuggee with adapter-specific arguments.
func (c *Client) Launch(ctx context.Context, args map[string]any) error {
	if _, err := c.SendRequest(ctx, "launch", args); err != nil {
		return err
	}
	c.setState(StateRunning)
	return nil
}

// Attach attaches to an already-running debuggee.
func (c *Client) Attach(ctx context.Context, args map[string]any) error {
	if _, err := c.SendRequest(ctx, "attach", args); err != nil {
		return err
	}
	c.setState(StateRunning)
	return nil
}

// ConfigurationDone signals that breakpoint configuration is complete.
func (c *Client) ConfigurationDone(ctx context.Context) error {
	_, err := c.SendRequest(ctx, "configurationDone", nil)
	return err
}

// SetBreakpoints replaces the breakpoints for one source file and
// returns them as verified by the adapter.
func (c *Client) SetBreakpoints(ctx context.Context, source Source, breakpoints []SourceBreakpoint) ([]Breakpoint, error) {
	body, err := c.SendRequest(ctx, "setBreakpoints", SetBreakpointsArguments{
		Source:      source,
		Breakpoints: breakpoints,
	})
	if err != nil {
		return nil, err
	}

	var resp SetBreakpointsResponseBody
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal breakpoints: %w", err)
	}
	return resp.Breakpoints, nil
}

// Continue resumes execution of the given thread.
func (c *Client) Continue(ctx context.Context, threadID int) error {
	if _, err := c.SendRequest(ctx, "continue", ContinueArguments{ThreadID: threadID}); err != nil {
		return err
	}
	c.setState(StateRunning)
	return nil
}

// Next steps over the current line.
func (c *Client) Next(ctx context.Context, threadID int) error {
	_, err := c.SendRequest(ctx, "next", NextArguments{ThreadID: threadID})
	return err
}

// StepIn steps into the current call.
func (c *Client) StepIn(ctx context.Context, threadID int) error {
	_, err := c.SendRequest(ctx, "stepIn", StepInArguments{ThreadID: threadID})
	return err
}

// StepOut steps out of the current frame.
func (c *Client) StepOut(ctx context.Context, threadID int) error {
	_, err := c.SendRequest(ctx, "stepOut", StepOutArguments{ThreadID: threadID})
	return err
}

// Pause requests suspension of the given thread.
func (c *Client) Pause(ctx context.Context, threadID int) error {
	_, err := c.SendRequest(ctx, "pause", PauseArguments{ThreadID: threadID})
	return err
}

// Threads lists the debuggee's threads.
func (c *Client) Threads(ctx context.Context) ([]Thread, error) {
	body, err := c.SendRequest(ctx, "threads", nil)
	if err != nil {
		return nil, err
	}

	var resp ThreadsResponseBody
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal threads: %w", err)
	}
	return resp.Threads, nil
}

// StackTrace returns a slice of the thread's call stack.
func (c *Client) StackTrace(ctx context.Context, threadID, startFrame, levels int) ([]StackFrame, error) {
	body, err := c.SendRequest(ctx, "stackTrace", StackTraceArguments{
		ThreadID:   threadID,
		StartFrame: startFrame,
		Levels:     levels,
	})
	if err != nil {
		return nil, err
	}

	var resp StackTraceResponseBody
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal stack trace: %w", err)
	}
	return resp.StackFrames, nil
}

// Scopes returns the variable scopes visible at a stack frame.
func (c *Client) Scopes(ctx context.Context, frameID int) ([]Scope, error) {
	body, err := c.SendRequest(ctx, "scopes", ScopesArguments{FrameID: frameID})
	if err != nil {
		return nil, err
	}

	var resp ScopesResponseBody
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal scopes: %w", err)
	}
	return resp.Scopes, nil
}

// Variables resolves a variables reference.
func (c *Client) Variables(ctx context.Context, reference, start, count int) ([]Variable, error) {
	body, err := c.SendRequest(ctx, "variables", VariablesArguments{
		VariablesReference: reference,
		Start:              start,
		Count:              count,
	})
	if err != nil {
		return nil, err
	}

	var resp VariablesResponseBody
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal variables: %w", err)
	}
	return resp.Variables, nil
}

// Evaluate evaluates an expression, optionally in a frame context.
func (c *Client) Evaluate(ctx context.Context, expression string, frameID int, evalContext string) (*EvaluateResponseBody, error) {
	body, err := c.SendRequest(ctx, "evaluate", EvaluateArguments{
		Expression: expression,
		FrameID:    frameID,
		Context:    evalContext,
	})
	if err != nil {
		return nil, err
	}

	var resp EvaluateResponseBody
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal evaluate result: %w", err)
	}
	return &resp, nil
}

// Disconnect asks the adapter to end the session, ignoring protocol
// failures, then tears the client down unconditionally.
func (c *Client) Disconnect(ctx context.Context, terminateDebuggee bool) {
	_, err := c.SendRequest(ctx, "disconnect", DisconnectArguments{
		TerminateDebuggee: terminateDebuggee,
	})
	if err != nil {
		c.log.Debug("Disconnect request failed", zap.Error(err))
	}
	c.Close()
}
