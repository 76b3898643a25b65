package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/debugd/internal/common/logger"
	"github.com/kandev/debugd/internal/debug/adapters"
	"github.com/kandev/debugd/internal/debug/dap"
	"github.com/kandev/debugd/internal/events"
	"github.com/kandev/debugd/internal/events/bus"
)

// fakeClient is an in-process stand-in for a spawned adapter.
type fakeClient struct {
	mu        sync.Mutex
	listeners map[string][]dap.EventListener
	calls     []string
	done      chan struct{}
	closeOnce sync.Once

	suppressInitialized bool
	launchErr           error

	frames    []dap.StackFrame
	scopes    []dap.Scope
	variables map[int][]dap.Variable
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		listeners: make(map[string][]dap.EventListener),
		done:      make(chan struct{}),
		variables: make(map[int][]dap.Variable),
	}
}

func (f *fakeClient) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeClient) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeClient) emit(event string, body any) {
	data, _ := json.Marshal(body)
	f.mu.Lock()
	listeners := append([]dap.EventListener(nil), f.listeners[event]...)
	f.mu.Unlock()
	for _, l := range listeners {
		l(data)
	}
}

func (f *fakeClient) Initialize(ctx context.Context, adapterID string) (*dap.Capabilities, error) {
	f.record("initialize")
	if !f.suppressInitialized {
		f.emit(dap.EventInitialized, nil)
	}
	return &dap.Capabilities{SupportsConfigurationDoneRequest: true}, nil
}

func (f *fakeClient) Launch(ctx context.Context, args map[string]any) error {
	f.record("launch")
	return f.launchErr
}

func (f *fakeClient) Attach(ctx context.Context, args map[string]any) error {
	f.record("attach")
	return nil
}

func (f *fakeClient) ConfigurationDone(ctx context.Context) error {
	f.record("configurationDone")
	return nil
}

func (f *fakeClient) SetBreakpoints(ctx context.Context, source dap.Source, breakpoints []dap.SourceBreakpoint) ([]dap.Breakpoint, error) {
	f.record("setBreakpoints")
	verified := make([]dap.Breakpoint, len(breakpoints))
	for i, bp := range breakpoints {
		verified[i] = dap.Breakpoint{ID: i + 1, Verified: true, Line: bp.Line}
	}
	return verified, nil
}

func (f *fakeClient) Continue(ctx context.Context, threadID int) error {
	f.record("continue")
	return nil
}

func (f *fakeClient) Next(ctx context.Context, threadID int) error {
	f.record("next")
	return nil
}

func (f *fakeClient) StepIn(ctx context.Context, threadID int) error {
	f.record("stepIn")
	return nil
}

func (f *fakeClient) StepOut(ctx context.Context, threadID int) error {
	f.record("stepOut")
	return nil
}

func (f *fakeClient) Pause(ctx context.Context, threadID int) error {
	f.record("pause")
	return nil
}

func (f *fakeClient) Threads(ctx context.Context) ([]dap.Thread, error) {
	return []dap.Thread{{ID: 1, Name: "main"}}, nil
}

func (f *fakeClient) StackTrace(ctx context.Context, threadID, startFrame, levels int) ([]dap.StackFrame, error) {
	f.record("stackTrace")
	return f.frames, nil
}

func (f *fakeClient) Scopes(ctx context.Context, frameID int) ([]dap.Scope, error) {
	f.record("scopes")
	return f.scopes, nil
}

func (f *fakeClient) Variables(ctx context.Context, reference, start, count int) ([]dap.Variable, error) {
	f.record("variables")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.variables[reference], nil
}

func (f *fakeClient) Evaluate(ctx context.Context, expression string, frameID int, evalContext string) (*dap.EvaluateResponseBody, error) {
	f.record("evaluate")
	return &dap.EvaluateResponseBody{Result: "42", Type: "int"}, nil
}

func (f *fakeClient) Disconnect(ctx context.Context, terminateDebuggee bool) {
	f.record("disconnect")
	f.Close()
}

func (f *fakeClient) Subscribe(event string, listener dap.EventListener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners[event] = append(f.listeners[event], listener)
	return func() {}
}

func (f *fakeClient) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

func (f *fakeClient) Done() <-chan struct{} { return f.done }

// eventCollector records bus events delivered for any session subject.
type eventCollector struct {
	mu     sync.Mutex
	events []*bus.Event
}

func (c *eventCollector) handle(ctx context.Context, event *bus.Event) error {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
	return nil
}

func (c *eventCollector) ofType(eventType string) []*bus.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var result []*bus.Event
	for _, e := range c.events {
		if e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}

type testEnv struct {
	manager   *Manager
	fake      *fakeClient
	collector *eventCollector
	bus       bus.EventBus
}

func newTestEnv(t *testing.T, opts ...ManagerOption) *testEnv {
	t.Helper()

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)

	registry := adapters.NewRegistry(log, adapters.WithProbeRunner(
		func(ctx context.Context, command string, args []string) error {
			if command == "python3" {
				return errors.New("exit status 1")
			}
			return nil
		}))

	memBus := bus.NewMemoryEventBus(log)
	t.Cleanup(memBus.Close)

	collector := &eventCollector{}
	_, err = memBus.Subscribe(events.BuildSessionWildcardSubject(), collector.handle)
	require.NoError(t, err)

	fake := newFakeClient()
	factory := func(cfg *adapters.AdapterConfig, params adapters.LaunchParams) (ProtocolClient, error) {
		return fake, nil
	}

	opts = append([]ManagerOption{WithClientFactory(factory)}, opts...)
	manager := NewManager(registry, memBus, log, opts...)

	return &testEnv{manager: manager, fake: fake, collector: collector, bus: memBus}
}

func TestManager_StartEndToEnd(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.manager.Start(context.Background(), StartRequest{
		Language: "node",
		Params:   adapters.LaunchParams{Program: "app.js"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// Bring-up sequence runs in protocol order.
	assert.Equal(t, []string{"initialize", "launch", "configurationDone"}, env.fake.callList())

	info, err := env.manager.GetSession(id)
	require.NoError(t, err)
	assert.Equal(t, SessionRunning, info.State)
	assert.Equal(t, "node", info.Language)

	// A breakpoint hit pauses the session and reaches the UI sink
	// exactly once, before any further command is processed.
	env.fake.emit(dap.EventStopped, dap.StoppedEventBody{Reason: "breakpoint", ThreadID: 1})

	info, err = env.manager.GetSession(id)
	require.NoError(t, err)
	assert.Equal(t, SessionPaused, info.State)
	assert.Equal(t, 1, info.ThreadID)

	stopped := env.collector.ofType(events.SessionPaused)
	require.Len(t, stopped, 1)
	payload, ok := stopped[0].Data.(events.StoppedPayload)
	require.True(t, ok)
	assert.Equal(t, id, payload.SessionID)
	assert.Equal(t, "breakpoint", payload.Reason)
	assert.Equal(t, 1, payload.ThreadID)
}

func TestManager_StartUnsupportedLanguage(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.manager.Start(context.Background(), StartRequest{Language: "cobol"})
	var unsupported *UnsupportedLanguageError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "cobol", unsupported.Language)
}

func TestManager_StartAdapterUnavailable(t *testing.T) {
	env := newTestEnv(t)

	// The probe runner in newTestEnv fails for python3.
	_, err := env.manager.Start(context.Background(), StartRequest{Language: "python"})
	var unavailable *AdapterUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "pip install debugpy", unavailable.InstallHint)
	assert.Empty(t, env.manager.ListSessions())
}

func TestManager_InitializeTimeoutLeavesNoSession(t *testing.T) {
	env := newTestEnv(t, WithInitializeTimeout(50*time.Millisecond))
	env.fake.suppressInitialized = true

	_, err := env.manager.Start(context.Background(), StartRequest{
		Language: "node",
		Params:   adapters.LaunchParams{Program: "app.js"},
	})
	var timeout *InitializeTimeoutError
	require.ErrorAs(t, err, &timeout)

	// The partially-built client was destroyed, nothing registered.
	assert.Empty(t, env.manager.ListSessions())
	select {
	case <-env.fake.done:
	default:
		t.Fatal("client should be closed after failed bring-up")
	}
}

func TestManager_LaunchFailureLeavesNoSession(t *testing.T) {
	env := newTestEnv(t)
	env.fake.launchErr = errors.New("program not found")

	_, err := env.manager.Start(context.Background(), StartRequest{
		Language: "node",
		Params:   adapters.LaunchParams{Program: "missing.js"},
	})
	require.Error(t, err)
	assert.Empty(t, env.manager.ListSessions())
}

func TestManager_StopIdempotent(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.manager.Start(context.Background(), StartRequest{
		Language: "node",
		Params:   adapters.LaunchParams{Program: "app.js"},
	})
	require.NoError(t, err)

	require.NoError(t, env.manager.Stop(context.Background(), id))
	require.NoError(t, env.manager.Stop(context.Background(), id))

	assert.Empty(t, env.manager.ListSessions())
	ended := env.collector.ofType(events.SessionStopped)
	assert.Len(t, ended, 1, "exactly one ended notification")
}

func TestManager_StopAllOnZeroSessionsIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	env.manager.StopAll(context.Background())
	assert.Empty(t, env.collector.ofType(events.SessionStopped))
}

func TestManager_AdapterExitStopsSessionOnce(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.manager.Start(context.Background(), StartRequest{
		Language: "node",
		Params:   adapters.LaunchParams{Program: "app.js"},
	})
	require.NoError(t, err)

	// The adapter process dies out from under the session.
	env.fake.Close()

	require.Eventually(t, func() bool {
		return len(env.manager.ListSessions()) == 0
	}, time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(env.collector.ofType(events.SessionStopped)) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestManager_TerminatedEventStopsSession(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.manager.Start(context.Background(), StartRequest{
		Language: "node",
		Params:   adapters.LaunchParams{Program: "app.js"},
	})
	require.NoError(t, err)

	env.fake.emit(dap.EventTerminated, nil)

	require.Eventually(t, func() bool {
		return len(env.manager.ListSessions()) == 0 &&
			len(env.collector.ofType(events.SessionStopped)) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestManager_CommandsResolveActiveSession(t *testing.T) {
	env := newTestEnv(t)

	// No session yet: commands fail with a uniform error.
	err := env.manager.Continue(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoActiveSession)

	id, err := env.manager.Start(context.Background(), StartRequest{
		Language: "node",
		Params:   adapters.LaunchParams{Program: "app.js"},
	})
	require.NoError(t, err)

	// Empty id falls back to the active session.
	require.NoError(t, env.manager.StepOver(context.Background(), ""))
	require.NoError(t, env.manager.Pause(context.Background(), id))

	bps, err := env.manager.SetBreakpoints(context.Background(), "", "main.js", []dap.SourceBreakpoint{{Line: 10}})
	require.NoError(t, err)
	require.Len(t, bps, 1)
	assert.True(t, bps[0].Verified)

	require.NoError(t, env.manager.Stop(context.Background(), ""))
	err = env.manager.StepInto(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestManager_VariablesFlattensScopes(t *testing.T) {
	env := newTestEnv(t)
	env.fake.frames = []dap.StackFrame{{ID: 100, Name: "main"}}
	env.fake.scopes = []dap.Scope{
		{Name: "Locals", VariablesReference: 10},
		{Name: "Globals", VariablesReference: 20, Expensive: true},
		{Name: "Arguments", VariablesReference: 30},
	}
	env.fake.variables[10] = []dap.Variable{{Name: "x", Value: "1"}, {Name: "y", Value: "2"}}
	env.fake.variables[20] = []dap.Variable{{Name: "huge", Value: "..."}}
	env.fake.variables[30] = []dap.Variable{{Name: "argv", Value: "[]"}}

	id, err := env.manager.Start(context.Background(), StartRequest{
		Language: "node",
		Params:   adapters.LaunchParams{Program: "app.js"},
	})
	require.NoError(t, err)

	// No frame id: the manager performs the frame-scope-variable
	// fan-out itself, skipping expensive scopes.
	vars, err := env.manager.Variables(context.Background(), id, nil)
	require.NoError(t, err)
	require.Len(t, vars, 3)

	names := make(map[string]bool, len(vars))
	for _, v := range vars {
		names[v.Name] = true
	}
	assert.True(t, names["x"] && names["y"] && names["argv"])
	assert.False(t, names["huge"], "expensive scopes must be skipped")
}

func TestManager_VariablesAddressesFrameZero(t *testing.T) {
	env := newTestEnv(t)
	env.fake.frames = []dap.StackFrame{{ID: 7, Name: "main"}}
	env.fake.scopes = []dap.Scope{{Name: "Locals", VariablesReference: 10}}
	env.fake.variables[10] = []dap.Variable{{Name: "x", Value: "1"}}

	id, err := env.manager.Start(context.Background(), StartRequest{
		Language: "node",
		Params:   adapters.LaunchParams{Program: "app.js"},
	})
	require.NoError(t, err)

	// Adapters may assign frame id zero. An explicit zero is passed
	// through to Scopes as-is, without the first-frame lookup.
	frameZero := 0
	vars, err := env.manager.Variables(context.Background(), id, &frameZero)
	require.NoError(t, err)
	require.Len(t, vars, 1)
	assert.Equal(t, "x", vars[0].Name)
	assert.NotContains(t, env.fake.callList(), "stackTrace")
}

func TestManager_ContinueUpdatesState(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.manager.Start(context.Background(), StartRequest{
		Language: "node",
		Params:   adapters.LaunchParams{Program: "app.js"},
	})
	require.NoError(t, err)

	env.fake.emit(dap.EventStopped, dap.StoppedEventBody{Reason: "step", ThreadID: 2})
	info, err := env.manager.GetSession(id)
	require.NoError(t, err)
	assert.Equal(t, SessionPaused, info.State)
	assert.Equal(t, 2, info.ThreadID)

	require.NoError(t, env.manager.Continue(context.Background(), id))
	info, err = env.manager.GetSession(id)
	require.NoError(t, err)
	assert.Equal(t, SessionRunning, info.State)
}

func TestManager_EvaluateAndOutputForwarding(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.manager.Start(context.Background(), StartRequest{
		Language: "node",
		Params:   adapters.LaunchParams{Program: "app.js"},
	})
	require.NoError(t, err)

	result, err := env.manager.Evaluate(context.Background(), id, "x+1", 0)
	require.NoError(t, err)
	assert.Equal(t, "42", result.Result)

	env.fake.emit(dap.EventOutput, dap.OutputEventBody{Category: "stdout", Output: "hello\n"})
	outputs := env.collector.ofType(events.SessionOutput)
	require.Len(t, outputs, 1)
	payload, ok := outputs[0].Data.(events.OutputPayload)
	require.True(t, ok)
	assert.Equal(t, "hello\n", payload.Output)
	assert.Equal(t, "stdout", payload.Category)
}
