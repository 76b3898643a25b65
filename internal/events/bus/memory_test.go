package bus

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/kandev/debugd/internal/common/logger"
)

func newTestLogger(t *testing.T) *logger.Logger {
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "debug",
		Format:     "console",
		OutputPath: "stdout",
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return log
}

func TestNewMemoryEventBus(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)

	if bus == nil {
		t.Fatal("Expected non-nil bus")
	}
	if !bus.IsConnected() {
		t.Error("Expected bus to be connected")
	}
}

func TestMemoryEventBus_PublishSubscribe(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)
	defer bus.Close()

	ctx := context.Background()
	var received *Event

	sub, err := bus.Subscribe("debug.session.abc.stopped", func(ctx context.Context, event *Event) error {
		received = event
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	event := NewEvent("debug.session.paused", "session-manager", map[string]any{"session_id": "abc"})
	if err := bus.Publish(ctx, "debug.session.abc.stopped", event); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	// Delivery is synchronous for the in-memory bus.
	if received == nil {
		t.Fatal("Expected event to be delivered")
	}
	if received.ID != event.ID {
		t.Errorf("Expected event ID %s, got %s", event.ID, received.ID)
	}
}

func TestMemoryEventBus_WildcardMatching(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)
	defer bus.Close()

	ctx := context.Background()
	var count int32

	sub, err := bus.Subscribe("debug.session.>", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	subjects := []string{
		"debug.session.s1.stopped",
		"debug.session.s1.output",
		"debug.session.s2.ended",
	}
	for _, subject := range subjects {
		if err := bus.Publish(ctx, subject, NewEvent("t", "test", nil)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	if err := bus.Publish(ctx, "other.subject", NewEvent("t", "test", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if got := atomic.LoadInt32(&count); got != 3 {
		t.Errorf("Expected 3 deliveries, got %d", got)
	}
}

func TestMemoryEventBus_CategoryWildcard(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)
	defer bus.Close()

	ctx := context.Background()
	var count int32

	sub, err := bus.Subscribe("debug.session.*.stopped", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	for _, subject := range []string{
		"debug.session.s1.stopped",
		"debug.session.s2.stopped",
		"debug.session.s1.output",
		"debug.session.s1.extra.stopped",
	} {
		if err := bus.Publish(ctx, subject, NewEvent("t", "test", nil)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	// * spans exactly one token: only the two session-scoped stopped
	// subjects match.
	if got := atomic.LoadInt32(&count); got != 2 {
		t.Errorf("Expected 2 deliveries, got %d", got)
	}
}

func TestMemoryEventBus_OrderedDelivery(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)
	defer bus.Close()

	ctx := context.Background()
	var order []string

	sub, err := bus.Subscribe("debug.session.s1.*", func(ctx context.Context, event *Event) error {
		order = append(order, event.Type)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	for _, typ := range []string{"a", "b", "c"} {
		if err := bus.Publish(ctx, "debug.session.s1.stopped", NewEvent(typ, "test", nil)); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Errorf("Expected ordered delivery a,b,c, got %v", order)
	}
}

func TestMemoryEventBus_Unsubscribe(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)
	defer bus.Close()

	ctx := context.Background()
	var count int32

	sub, err := bus.Subscribe("debug.session.s1.stopped", func(ctx context.Context, event *Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if !sub.IsValid() {
		t.Error("Expected subscription to be valid")
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe failed: %v", err)
	}
	if sub.IsValid() {
		t.Error("Expected subscription to be invalid after unsubscribe")
	}

	if err := bus.Publish(ctx, "debug.session.s1.stopped", NewEvent("t", "test", nil)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if got := atomic.LoadInt32(&count); got != 0 {
		t.Errorf("Expected no deliveries after unsubscribe, got %d", got)
	}
}

func TestMemoryEventBus_Close(t *testing.T) {
	log := newTestLogger(t)
	bus := NewMemoryEventBus(log)

	bus.Close()

	if bus.IsConnected() {
		t.Error("Expected bus to be disconnected after close")
	}
	if err := bus.Publish(context.Background(), "x", NewEvent("t", "test", nil)); err == nil {
		t.Error("Expected publish on closed bus to fail")
	}
	if _, err := bus.Subscribe("x", func(ctx context.Context, event *Event) error { return nil }); err == nil {
		t.Error("Expected subscribe on closed bus to fail")
	}
}
