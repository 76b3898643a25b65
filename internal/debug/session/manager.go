package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kandev/debugd/internal/common/logger"
	"github.com/kandev/debugd/internal/debug/adapters"
	"github.com/kandev/debugd/internal/debug/dap"
	"github.com/kandev/debugd/internal/events"
	"github.com/kandev/debugd/internal/events/bus"
)

// DefaultInitializeTimeout bounds the wait for the adapter's
// initialized event during bring-up.
const DefaultInitializeTimeout = 15 * time.Second

// defaultThreadID is used before the first stopped event reports a
// thread.
const defaultThreadID = 1

// ProtocolClient is the slice of the protocol client the manager
// depends on. Satisfied by *dap.Client; replaced by a fake in tests.
type ProtocolClient interface {
	Initialize(ctx context.Context, adapterID string) (*dap.Capabilities, error)
	Launch(ctx context.Context, args map[string]any) error
	Attach(ctx context.Context, args map[string]any) error
	ConfigurationDone(ctx context.Context) error
	SetBreakpoints(ctx context.Context, source dap.Source, breakpoints []dap.SourceBreakpoint) ([]dap.Breakpoint, error)
	Continue(ctx context.Context, threadID int) error
	Next(ctx context.Context, threadID int) error
	StepIn(ctx context.Context, threadID int) error
	StepOut(ctx context.Context, threadID int) error
	Pause(ctx context.Context, threadID int) error
	Threads(ctx context.Context) ([]dap.Thread, error)
	StackTrace(ctx context.Context, threadID, startFrame, levels int) ([]dap.StackFrame, error)
	Scopes(ctx context.Context, frameID int) ([]dap.Scope, error)
	Variables(ctx context.Context, reference, start, count int) ([]dap.Variable, error)
	Evaluate(ctx context.Context, expression string, frameID int, evalContext string) (*dap.EvaluateResponseBody, error)
	Disconnect(ctx context.Context, terminateDebuggee bool)
	Subscribe(event string, listener dap.EventListener) func()
	Close()
	Done() <-chan struct{}
}

// ClientFactory builds a protocol client for an adapter config.
// Injectable so tests can run sessions against a fake adapter.
type ClientFactory func(cfg *adapters.AdapterConfig, params adapters.LaunchParams) (ProtocolClient, error)

// session pairs a protocol client with its manager-side bookkeeping.
type session struct {
	info     SessionInfo
	client   ProtocolClient
	stopOnce sync.Once
}

// Manager owns the set of active sessions and presents a
// session-id-addressed command surface, hiding protocol client
// details. Sessions run fully independently: each has its own adapter
// process and request pipeline.
type Manager struct {
	registry *adapters.Registry
	bus      bus.EventBus
	log      *logger.Logger

	requestTimeout    time.Duration
	initializeTimeout time.Duration
	clientFactory     ClientFactory

	mu       sync.Mutex
	sessions map[string]*session
	activeID string
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithClientFactory replaces adapter process spawning, for tests.
func WithClientFactory(factory ClientFactory) ManagerOption {
	return func(m *Manager) { m.clientFactory = factory }
}

// WithRequestTimeout sets the per-request timeout passed to clients.
func WithRequestTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) { m.requestTimeout = timeout }
}

// WithInitializeTimeout sets the bring-up initialized-event timeout.
func WithInitializeTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) { m.initializeTimeout = timeout }
}

// NewManager creates a session manager.
func NewManager(registry *adapters.Registry, eventBus bus.EventBus, log *logger.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		registry:          registry,
		bus:               eventBus,
		log:               log.WithFields(zap.String("component", "session-manager")),
		requestTimeout:    dap.DefaultRequestTimeout,
		initializeTimeout: DefaultInitializeTimeout,
		sessions:          make(map[string]*session),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.clientFactory == nil {
		m.clientFactory = m.spawnClient
	}
	return m
}

// spawnClient is the production client factory: it starts the adapter
// process with the filtered environment and the allow-list revalidated
// at spawn time.
func (m *Manager) spawnClient(cfg *adapters.AdapterConfig, params adapters.LaunchParams) (ProtocolClient, error) {
	return dap.SpawnClient(dap.SpawnOptions{
		Command:   cfg.Command,
		Args:      cfg.Args,
		Dir:       params.Cwd,
		Env:       params.Env,
		Validator: adapters.ValidateCommand,
	}, dap.ClientOptions{
		RequestTimeout: m.requestTimeout,
		Logger:         m.log,
	})
}

// StartRequest describes a session to bring up.
type StartRequest struct {
	Language string
	Params   adapters.LaunchParams
	// Attach attaches to a running debuggee instead of launching one.
	Attach bool
}

// Start brings up a new session: resolve and detect the adapter, spawn
// it, run the initialize/launch/configurationDone sequence, and
// register the session. On any bring-up failure the partially-built
// client is destroyed and nothing is registered.
func (m *Manager) Start(ctx context.Context, req StartRequest) (string, error) {
	cfg, ok := m.registry.Get(req.Language)
	if !ok {
		return "", &UnsupportedLanguageError{Language: req.Language}
	}

	if result := m.registry.Detect(ctx, req.Language); !result.Available {
		return "", &AdapterUnavailableError{
			Language:    req.Language,
			Reason:      result.Error,
			InstallHint: result.InstallHint,
		}
	}

	sessionID := uuid.New().String()
	log := m.log.WithSessionID(sessionID).WithLanguage(req.Language)
	log.Info("Starting debug session", zap.String("program", req.Params.Program))

	client, err := m.clientFactory(cfg, req.Params)
	if err != nil {
		log.Error("Failed to spawn adapter", zap.Error(err))
		return "", err
	}

	sess := &session{
		info: SessionInfo{
			ID:        sessionID,
			Language:  req.Language,
			State:     SessionStarting,
			Program:   req.Params.Program,
			ThreadID:  defaultThreadID,
			StartedAt: time.Now().UTC(),
			Launch:    req.Params,
		},
		client: client,
	}

	// Wire events before the first request so nothing emitted during
	// bring-up is lost. Buffered: initialized may arrive before the
	// initialize response.
	initialized := make(chan struct{}, 1)
	unsubInit := client.Subscribe(dap.EventInitialized, func(json.RawMessage) {
		select {
		case initialized <- struct{}{}:
		default:
		}
	})
	m.forwardEvents(sess)

	if err := m.bringUp(ctx, sess, cfg, req, initialized); err != nil {
		unsubInit()
		client.Close()
		log.Error("Session bring-up failed", zap.Error(err))
		return "", err
	}
	unsubInit()

	m.mu.Lock()
	sess.info.State = SessionRunning
	m.sessions[sessionID] = sess
	m.activeID = sessionID
	m.mu.Unlock()

	// An adapter process death takes the session down with it.
	go func() {
		<-client.Done()
		m.stopSession(sessionID, "adapter exited")
	}()

	log.Info("Debug session started")
	return sessionID, nil
}

// bringUp runs the protocol handshake sequence against a fresh client.
func (m *Manager) bringUp(ctx context.Context, sess *session, cfg *adapters.AdapterConfig, req StartRequest, initialized <-chan struct{}) error {
	if _, err := sess.client.Initialize(ctx, req.Language); err != nil {
		return err
	}

	select {
	case <-initialized:
	case <-time.After(m.initializeTimeout):
		return &InitializeTimeoutError{Timeout: m.initializeTimeout}
	case <-sess.client.Done():
		return dap.ErrAdapterExited
	case <-ctx.Done():
		return ctx.Err()
	}

	if req.Attach {
		if cfg.AttachArgs == nil {
			return &RequestNotSupportedError{Language: req.Language, Operation: "attach"}
		}
		if err := sess.client.Attach(ctx, cfg.AttachArgs(req.Params)); err != nil {
			return err
		}
	} else {
		if err := sess.client.Launch(ctx, cfg.LaunchArgs(req.Params)); err != nil {
			return err
		}
	}

	return sess.client.ConfigurationDone(ctx)
}

// forwardEvents republishes protocol events as session-scoped bus
// events and keeps SessionInfo in step with the adapter.
func (m *Manager) forwardEvents(sess *session) {
	id := sess.info.ID

	sess.client.Subscribe(dap.EventStopped, func(body json.RawMessage) {
		var evt dap.StoppedEventBody
		if err := json.Unmarshal(body, &evt); err != nil {
			m.log.WithSessionID(id).Warn("Malformed stopped event", zap.Error(err))
			return
		}

		m.mu.Lock()
		if evt.ThreadID != 0 {
			sess.info.ThreadID = evt.ThreadID
		}
		sess.info.State = SessionPaused
		m.mu.Unlock()

		m.publish(events.BuildSessionStoppedSubject(id), events.SessionPaused, events.StoppedPayload{
			SessionID: id,
			Reason:    evt.Reason,
			ThreadID:  evt.ThreadID,
			Text:      evt.Text,
		})
	})

	sess.client.Subscribe(dap.EventContinued, func(body json.RawMessage) {
		var evt dap.ContinuedEventBody
		_ = json.Unmarshal(body, &evt)

		m.mu.Lock()
		sess.info.State = SessionRunning
		m.mu.Unlock()

		m.publish(events.BuildSessionContinuedSubject(id), events.SessionResumed, events.ContinuedPayload{
			SessionID: id,
			ThreadID:  evt.ThreadID,
		})
	})

	sess.client.Subscribe(dap.EventOutput, func(body json.RawMessage) {
		var evt dap.OutputEventBody
		if err := json.Unmarshal(body, &evt); err != nil {
			return
		}
		m.publish(events.BuildSessionOutputSubject(id), events.SessionOutput, events.OutputPayload{
			SessionID: id,
			Category:  evt.Category,
			Output:    evt.Output,
		})
	})

	sess.client.Subscribe(dap.EventExited, func(body json.RawMessage) {
		var evt dap.ExitedEventBody
		_ = json.Unmarshal(body, &evt)
		m.publish(events.BuildSessionExitedSubject(id), events.SessionExited, events.ExitedPayload{
			SessionID: id,
			ExitCode:  evt.ExitCode,
		})
		go m.stopSession(id, "exited")
	})

	sess.client.Subscribe(dap.EventTerminated, func(body json.RawMessage) {
		go m.stopSession(id, "terminated")
	})
}

func (m *Manager) publish(subject, eventType string, payload any) {
	event := bus.NewEvent(eventType, "session-manager", payload)
	if err := m.bus.Publish(context.Background(), subject, event); err != nil {
		m.log.Warn("Failed to publish session event",
			zap.String("subject", subject),
			zap.Error(err))
	}
}

// resolve returns the session for an explicit id, or the active session
// when id is empty.
func (m *Manager) resolve(sessionID string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := sessionID
	if id == "" {
		id = m.activeID
	}
	if id == "" {
		return nil, ErrNoActiveSession
	}
	sess, ok := m.sessions[id]
	if !ok {
		return nil, ErrNoActiveSession
	}
	return sess, nil
}

// Stop tears down a session. Stopping an already-stopped or unknown
// session is a no-op, so event-triggered and explicit stops can race
// safely.
func (m *Manager) Stop(ctx context.Context, sessionID string) error {
	sess, err := m.resolve(sessionID)
	if err != nil {
		if sessionID != "" {
			// Already stopped (or never existed): idempotent no-op.
			return nil
		}
		return err
	}
	m.stopSession(sess.info.ID, "stopped")
	return nil
}

// stopSession performs the one-time teardown for a session id:
// best-effort protocol disconnect, unconditional client close,
// deregistration, and exactly one ended notification.
func (m *Manager) stopSession(sessionID, reason string) {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
		if m.activeID == sessionID {
			m.activeID = ""
		}
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	sess.stopOnce.Do(func() {
		log := m.log.WithSessionID(sessionID)
		log.Info("Stopping debug session", zap.String("reason", reason))

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// Disconnect failures are swallowed: the process is killed as a
		// backstop either way.
		sess.client.Disconnect(ctx, true)

		m.mu.Lock()
		sess.info.State = SessionStopped
		m.mu.Unlock()

		m.publish(events.BuildSessionEndedSubject(sessionID), events.SessionStopped, events.SessionEndedPayload{
			SessionID: sessionID,
			Reason:    reason,
		})
	})
}

// StopAll stops every active session, tolerating individual failures.
// Deterministic even when adapters hang: disconnects are bounded and
// processes are force-killed.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	if len(ids) == 0 {
		return
	}

	g, _ := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			m.stopSession(id, "stopped")
			return nil
		})
	}
	_ = g.Wait()
}

// Continue resumes the session's current thread.
func (m *Manager) Continue(ctx context.Context, sessionID string) error {
	sess, err := m.resolve(sessionID)
	if err != nil {
		return err
	}
	if err := sess.client.Continue(ctx, m.threadID(sess)); err != nil {
		return err
	}
	m.mu.Lock()
	sess.info.State = SessionRunning
	m.mu.Unlock()
	return nil
}

// StepOver steps over the current line.
func (m *Manager) StepOver(ctx context.Context, sessionID string) error {
	sess, err := m.resolve(sessionID)
	if err != nil {
		return err
	}
	return sess.client.Next(ctx, m.threadID(sess))
}

// StepInto steps into the current call.
func (m *Manager) StepInto(ctx context.Context, sessionID string) error {
	sess, err := m.resolve(sessionID)
	if err != nil {
		return err
	}
	return sess.client.StepIn(ctx, m.threadID(sess))
}

// StepOut steps out of the current frame.
func (m *Manager) StepOut(ctx context.Context, sessionID string) error {
	sess, err := m.resolve(sessionID)
	if err != nil {
		return err
	}
	return sess.client.StepOut(ctx, m.threadID(sess))
}

// Pause suspends the session's current thread.
func (m *Manager) Pause(ctx context.Context, sessionID string) error {
	sess, err := m.resolve(sessionID)
	if err != nil {
		return err
	}
	return sess.client.Pause(ctx, m.threadID(sess))
}

// SetBreakpoints replaces the breakpoints for one source file and
// returns them as verified by the adapter.
func (m *Manager) SetBreakpoints(ctx context.Context, sessionID, sourcePath string, breakpoints []dap.SourceBreakpoint) ([]dap.Breakpoint, error) {
	sess, err := m.resolve(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.client.SetBreakpoints(ctx, dap.Source{Path: sourcePath}, breakpoints)
}

// StackTrace returns the call stack of the session's current thread.
func (m *Manager) StackTrace(ctx context.Context, sessionID string) ([]dap.StackFrame, error) {
	sess, err := m.resolve(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.client.StackTrace(ctx, m.threadID(sess), 0, 0)
}

// Variables resolves variables for a frame. With a nil frameID it
// fetches the first frame of the current thread and flattens every
// non-expensive scope's variables into one list, sparing the UI
// boundary the frame-scope-variable fan-out. A pointer keeps frame id
// zero addressable, since adapters may hand it out.
func (m *Manager) Variables(ctx context.Context, sessionID string, frameID *int) ([]dap.Variable, error) {
	sess, err := m.resolve(sessionID)
	if err != nil {
		return nil, err
	}

	var frame int
	if frameID == nil {
		frames, err := sess.client.StackTrace(ctx, m.threadID(sess), 0, 1)
		if err != nil {
			return nil, err
		}
		if len(frames) == 0 {
			return nil, nil
		}
		frame = frames[0].ID
	} else {
		frame = *frameID
	}

	scopes, err := sess.client.Scopes(ctx, frame)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	results := make([][]dap.Variable, len(scopes))
	for i, scope := range scopes {
		if scope.Expensive {
			continue
		}
		i, scope := i, scope
		g.Go(func() error {
			vars, err := sess.client.Variables(gctx, scope.VariablesReference, 0, 0)
			if err != nil {
				return err
			}
			results[i] = vars
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var flattened []dap.Variable
	for _, vars := range results {
		flattened = append(flattened, vars...)
	}
	return flattened, nil
}

// Evaluate evaluates an expression in the session, optionally in a
// frame context.
func (m *Manager) Evaluate(ctx context.Context, sessionID, expression string, frameID int) (*dap.EvaluateResponseBody, error) {
	sess, err := m.resolve(sessionID)
	if err != nil {
		return nil, err
	}
	return sess.client.Evaluate(ctx, expression, frameID, "repl")
}

// GetSession returns a snapshot of one session's info.
func (m *Manager) GetSession(sessionID string) (SessionInfo, error) {
	sess, err := m.resolve(sessionID)
	if err != nil {
		return SessionInfo{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return sess.info, nil
}

// ListSessions returns a snapshot of every active session.
func (m *Manager) ListSessions() []SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]SessionInfo, 0, len(m.sessions))
	for _, sess := range m.sessions {
		result = append(result, sess.info)
	}
	return result
}

func (m *Manager) threadID(sess *session) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sess.info.ThreadID
}
