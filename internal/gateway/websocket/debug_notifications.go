package websocket

import (
	"context"

	"go.uber.org/zap"

	"github.com/kandev/debugd/internal/common/logger"
	"github.com/kandev/debugd/internal/events"
	"github.com/kandev/debugd/internal/events/bus"
	ws "github.com/kandev/debugd/pkg/websocket"
)

// DebugStreamBroadcaster bridges session events from the event bus to
// WebSocket clients subscribed to the owning session.
type DebugStreamBroadcaster struct {
	hub           *Hub
	subscriptions []bus.Subscription
	logger        *logger.Logger
}

// RegisterDebugStreamNotifications subscribes the broadcaster to every
// session-scoped event category and runs it until ctx is cancelled.
func RegisterDebugStreamNotifications(ctx context.Context, eventBus bus.EventBus, hub *Hub, log *logger.Logger) *DebugStreamBroadcaster {
	b := &DebugStreamBroadcaster{
		hub:    hub,
		logger: log.WithFields(zap.String("component", "ws-debug-stream-broadcaster")),
	}
	if eventBus == nil {
		return b
	}

	b.subscribe(eventBus, events.BuildSessionStoppedWildcardSubject(), ws.ActionDebugStopped)
	b.subscribe(eventBus, events.BuildSessionContinuedWildcardSubject(), ws.ActionDebugContinued)
	b.subscribe(eventBus, events.BuildSessionOutputWildcardSubject(), ws.ActionDebugOutput)
	b.subscribe(eventBus, events.BuildSessionEndedWildcardSubject(), ws.ActionDebugSessionStopped)
	b.subscribe(eventBus, events.BuildSessionExitedWildcardSubject(), ws.ActionDebugExited)

	go func() {
		<-ctx.Done()
		b.Close()
	}()

	return b
}

// Close drops every bus subscription.
func (b *DebugStreamBroadcaster) Close() {
	for _, sub := range b.subscriptions {
		if sub != nil && sub.IsValid() {
			_ = sub.Unsubscribe()
		}
	}
	b.subscriptions = nil
}

func (b *DebugStreamBroadcaster) subscribe(eventBus bus.EventBus, subject, action string) {
	sub, err := eventBus.Subscribe(subject, func(ctx context.Context, event *bus.Event) error {
		sessionID := extractSessionID(event.Data)
		if sessionID == "" {
			return nil
		}
		msg, err := ws.NewNotification(action, event.Data)
		if err != nil {
			b.logger.Error("failed to build websocket notification", zap.String("action", action), zap.Error(err))
			return nil
		}
		b.hub.BroadcastToSession(sessionID, msg)
		return nil
	})
	if err != nil {
		b.logger.Error("failed to subscribe to events", zap.String("subject", subject), zap.Error(err))
		return
	}
	b.subscriptions = append(b.subscriptions, sub)
}

func extractSessionID(data any) string {
	if data == nil {
		return ""
	}
	if typed, ok := data.(interface{ GetSessionID() string }); ok {
		return typed.GetSessionID()
	}
	if m, ok := data.(map[string]any); ok {
		if sessionID, ok := m["session_id"].(string); ok {
			return sessionID
		}
	}
	return ""
}
