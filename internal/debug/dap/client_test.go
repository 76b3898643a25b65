package dap

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/debugd/internal/common/logger"
)

// fakeAdapter drives the adapter side of an in-memory protocol stream.
type fakeAdapter struct {
	t   *testing.T
	enc *Encoder
	dec *Decoder
	out *io.PipeWriter
}

func newTestClient(t *testing.T, timeout time.Duration) (*Client, *fakeAdapter) {
	t.Helper()

	log, err := logger.NewLogger(logger.LoggingConfig{Level: "debug", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)

	adapterOut, clientWrites := io.Pipe() // client stdin side
	clientReads, adapterIn := io.Pipe()   // client stdout side

	client := NewClient(clientReads, clientWrites, ClientOptions{
		RequestTimeout: timeout,
		Logger:         log,
	})
	t.Cleanup(client.Close)

	return client, &fakeAdapter{
		t:   t,
		enc: NewEncoder(adapterIn),
		dec: NewDecoder(adapterOut),
		out: adapterIn,
	}
}

func (a *fakeAdapter) nextRequest() *Request {
	a.t.Helper()
	body, err := a.dec.Decode()
	require.NoError(a.t, err)
	msg, err := DecodeMessage(body)
	require.NoError(a.t, err)
	req, ok := msg.(*Request)
	require.True(a.t, ok, "expected request, got %T", msg)
	return req
}

func (a *fakeAdapter) respond(req *Request, success bool, message string, body any) {
	a.t.Helper()
	var bodyJSON json.RawMessage
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(a.t, err)
		bodyJSON = data
	}
	err := a.enc.Encode(&Response{
		ProtocolMessage: ProtocolMessage{Seq: req.Seq + 1000, Type: TypeResponse},
		RequestSeq:      req.Seq,
		Success:         success,
		Command:         req.Command,
		Message:         message,
		Body:            bodyJSON,
	})
	require.NoError(a.t, err)
}

func (a *fakeAdapter) emit(event string, body any) {
	a.t.Helper()
	var bodyJSON json.RawMessage
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(a.t, err)
		bodyJSON = data
	}
	err := a.enc.Encode(&Event{
		ProtocolMessage: ProtocolMessage{Seq: 9999, Type: TypeEvent},
		Event:           event,
		Body:            bodyJSON,
	})
	require.NoError(a.t, err)
}

func TestClient_CorrelationUnderReordering(t *testing.T) {
	client, adapter := newTestClient(t, 5*time.Second)

	commands := []string{"first", "second", "third"}
	results := make([]json.RawMessage, len(commands))
	var wg sync.WaitGroup

	for i, cmd := range commands {
		wg.Add(1)
		go func(i int, cmd string) {
			defer wg.Done()
			body, err := client.SendRequest(context.Background(), cmd, nil)
			require.NoError(t, err)
			results[i] = body
		}(i, cmd)
	}

	reqs := make([]*Request, len(commands))
	bySeq := make(map[int]*Request)
	for i := range commands {
		req := adapter.nextRequest()
		reqs[i] = req
		bySeq[req.Seq] = req
	}

	// Respond out of order: 2, 3, 1 by seq.
	for _, seq := range []int{2, 3, 1} {
		req := bySeq[seq]
		require.NotNil(t, req)
		adapter.respond(req, true, "", map[string]string{"command": req.Command})
	}
	wg.Wait()

	// Each caller must receive the response for its own command.
	for i, cmd := range commands {
		var body map[string]string
		require.NoError(t, json.Unmarshal(results[i], &body))
		assert.Equal(t, cmd, body["command"])
	}
}

func TestClient_RequestTimeoutIsolation(t *testing.T) {
	client, adapter := newTestClient(t, 100*time.Millisecond)

	start := time.Now()
	req1Done := make(chan *Request, 1)
	go func() {
		req1Done <- adapter.nextRequest()
	}()

	_, err := client.SendRequest(context.Background(), "slow", nil)
	var timeoutErr *RequestTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "slow", timeoutErr.Command)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	// A late response for the timed-out request is a no-op, and the
	// client keeps serving fresh requests.
	req1 := <-req1Done
	adapter.respond(req1, true, "", nil)

	fresh := make(chan error, 1)
	go func() {
		_, err := client.SendRequest(context.Background(), "fresh", nil)
		fresh <- err
	}()
	req2 := adapter.nextRequest()
	adapter.respond(req2, true, "", nil)
	require.NoError(t, <-fresh)
}

func TestClient_ConcurrentTimeoutsAndClose(t *testing.T) {
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console", OutputPath: "stdout"})
	require.NoError(t, err)

	// Hammer the request path: very short timeouts racing Close, so the
	// timeout callback, teardown, and senders all resolve the same
	// pending entries concurrently.
	for i := 0; i < 50; i++ {
		adapterOut, clientWrites := io.Pipe()
		clientReads, adapterIn := io.Pipe()
		go func() {
			_, _ = io.Copy(io.Discard, adapterOut) // adapter never answers
		}()

		client := NewClient(clientReads, clientWrites, ClientOptions{
			RequestTimeout: time.Millisecond,
			Logger:         log,
		})

		var wg sync.WaitGroup
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := client.SendRequest(context.Background(), "threads", nil)
				assert.Error(t, err)
			}()
		}
		client.Close()
		wg.Wait()
		_ = adapterIn.Close()
	}
}

func TestClient_FailedResponse(t *testing.T) {
	client, adapter := newTestClient(t, time.Second)

	errCh := make(chan error, 1)
	go func() {
		_, err := client.SendRequest(context.Background(), "launch", nil)
		errCh <- err
	}()

	req := adapter.nextRequest()
	adapter.respond(req, false, "program not found", nil)

	err := <-errCh
	var failed *RequestFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "launch", failed.Command)
	assert.Contains(t, err.Error(), "program not found")
}

func TestClient_StreamFailureRejectsAllPending(t *testing.T) {
	client, adapter := newTestClient(t, 10*time.Second)

	const pending = 3
	errCh := make(chan error, pending)
	for i := 0; i < pending; i++ {
		go func() {
			_, err := client.SendRequest(context.Background(), "hang", nil)
			errCh <- err
		}()
	}
	for i := 0; i < pending; i++ {
		adapter.nextRequest()
	}

	// The adapter dying closes its output stream.
	require.NoError(t, adapter.out.Close())

	for i := 0; i < pending; i++ {
		assert.ErrorIs(t, <-errCh, ErrAdapterExited)
	}

	assert.Eventually(t, func() bool {
		return client.State() == StateStopped
	}, time.Second, 10*time.Millisecond)

	// New submissions after teardown are rejected, not accepted.
	_, err := client.SendRequest(context.Background(), "late", nil)
	assert.ErrorIs(t, err, ErrAdapterExited)
}

func TestClient_EventDispatchOrderAndUnsubscribe(t *testing.T) {
	client, adapter := newTestClient(t, time.Second)

	var mu sync.Mutex
	var order []string
	delivered := make(chan struct{}, 10)

	unsubA := client.Subscribe(EventStopped, func(body json.RawMessage) {
		mu.Lock()
		order = append(order, "a")
		mu.Unlock()
		delivered <- struct{}{}
	})
	client.Subscribe(EventStopped, func(body json.RawMessage) {
		mu.Lock()
		order = append(order, "b")
		mu.Unlock()
		delivered <- struct{}{}
	})

	adapter.emit(EventStopped, StoppedEventBody{Reason: "breakpoint", ThreadID: 1})
	<-delivered
	<-delivered

	mu.Lock()
	assert.Equal(t, []string{"a", "b"}, order)
	mu.Unlock()
	assert.Equal(t, StatePaused, client.State())

	unsubA()
	adapter.emit(EventStopped, StoppedEventBody{Reason: "step", ThreadID: 1})
	<-delivered

	mu.Lock()
	assert.Equal(t, []string{"a", "b", "b"}, order)
	mu.Unlock()
}

func TestClient_UnknownEventDeliveredVerbatim(t *testing.T) {
	client, adapter := newTestClient(t, time.Second)

	got := make(chan json.RawMessage, 1)
	client.Subscribe("customTelemetry", func(body json.RawMessage) {
		got <- body
	})

	adapter.emit("customTelemetry", map[string]int{"x": 42})

	select {
	case body := <-got:
		assert.JSONEq(t, `{"x":42}`, string(body))
	case <-time.After(time.Second):
		t.Fatal("custom event was not delivered")
	}
}

func TestClient_StateTransitions(t *testing.T) {
	client, adapter := newTestClient(t, time.Second)
	assert.Equal(t, StateIdle, client.State())

	go func() {
		req := adapter.nextRequest()
		adapter.respond(req, true, "", Capabilities{SupportsConfigurationDoneRequest: true})
	}()
	caps, err := client.Initialize(context.Background(), "node")
	require.NoError(t, err)
	assert.True(t, caps.SupportsConfigurationDoneRequest)

	go func() {
		req := adapter.nextRequest()
		adapter.respond(req, true, "", nil)
	}()
	require.NoError(t, client.Launch(context.Background(), map[string]any{"program": "app.js"}))
	assert.Equal(t, StateRunning, client.State())

	client.Close()
	assert.Equal(t, StateStopped, client.State())

	_, err = client.SendRequest(context.Background(), "threads", nil)
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	client, _ := newTestClient(t, time.Second)
	client.Close()
	client.Close()
	assert.Equal(t, StateStopped, client.State())

	select {
	case <-client.Done():
	default:
		t.Fatal("Done channel should be closed after Close")
	}
}

func TestClient_ContextCancellation(t *testing.T) {
	client, adapter := newTestClient(t, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := client.SendRequest(ctx, "hang", nil)
		errCh <- err
	}()
	adapter.nextRequest()
	cancel()

	assert.True(t, errors.Is(<-errCh, context.Canceled))
}
