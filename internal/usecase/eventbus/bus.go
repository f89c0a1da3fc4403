package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"inkdesk/internal/domain"
)

type subscription struct {
	id      uint64
	handler domain.EventHandler
}

// Bus is an in-process, goroutine-safe event bus. It carries every
// engine-to-UI notification: file writes, canvas mutations, overlay
// state, memory updates, and the blocking ask-user / open-tab
// request-reply exchanges.
type Bus struct {
	mu      sync.RWMutex
	typed   map[domain.EventType][]subscription
	allSubs []subscription
	nextID  atomic.Uint64
	logger  *slog.Logger
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// New creates an event bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		typed:  make(map[domain.EventType][]subscription),
		logger: logger,
	}
}

// Publish fans out an event to matching typed subscribers and all-event
// subscribers. Each handler is invoked in its own goroutine. Panicking
// handlers are recovered.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	typed := make([]subscription, len(b.typed[event.Type]))
	copy(typed, b.typed[event.Type])
	allSubs := make([]subscription, len(b.allSubs))
	copy(allSubs, b.allSubs)
	b.mu.RUnlock()

	for _, sub := range typed {
		b.dispatch(ctx, event, sub)
	}
	for _, sub := range allSubs {
		b.dispatch(ctx, event, sub)
	}
}

func (b *Bus) dispatch(ctx context.Context, event domain.Event, sub subscription) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error("event handler panicked",
					"event", string(event.Type),
					"panic", r,
				)
			}
		}()
		sub.handler(ctx, event)
	}()
}

// Subscribe registers a handler for a specific event type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	id := b.nextID.Add(1)
	sub := subscription{id: id, handler: handler}

	b.mu.Lock()
	b.typed[eventType] = append(b.typed[eventType], sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.typed[eventType]
		for i, s := range subs {
			if s.id == id {
				b.typed[eventType] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// SubscribeAll registers a handler that receives every event.
// Returns an unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	id := b.nextID.Add(1)
	sub := subscription{id: id, handler: handler}

	b.mu.Lock()
	b.allSubs = append(b.allSubs, sub)
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.allSubs {
			if s.id == id {
				b.allSubs = append(b.allSubs[:i], b.allSubs[i+1:]...)
				return
			}
		}
	}
}

// Close prevents new publishes and waits for all in-flight handlers to finish.
// Close is idempotent and safe to call multiple times.
func (b *Bus) Close() {
	if b.closed.Swap(true) {
		return
	}
	b.wg.Wait()
}

// replyEnvelope is the payload of a reply event in a Request exchange.
type replyEnvelope struct {
	RequestID string          `json:"request_id"`
	Body      json.RawMessage `json:"body,omitempty"`
}

// Request publishes a request event and blocks until a matching reply
// event (same request ID) arrives, the timeout elapses, or the context
// is cancelled. Both directions carry the replyEnvelope shape, so the
// replying side reads the request ID off the request payload and echoes
// it back. It backs the engine's two blocking exchanges: asking the
// user a question and asking the UI to open a canvas tab.
func Request(ctx context.Context, bus domain.EventBus, requestID string,
	reqType, replyType domain.EventType, payload any, timeout time.Duration,
) (json.RawMessage, error) {
	replyCh := make(chan json.RawMessage, 1)
	unsubscribe := bus.Subscribe(replyType, func(_ context.Context, ev domain.Event) {
		var env replyEnvelope
		if err := json.Unmarshal(ev.Payload, &env); err != nil {
			return
		}
		if env.RequestID != requestID {
			return
		}
		select {
		case replyCh <- env.Body:
		default:
		}
	})
	defer unsubscribe()

	rawBody, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.WrapOp("eventbus.Request", err)
	}
	raw, err := json.Marshal(replyEnvelope{RequestID: requestID, Body: rawBody})
	if err != nil {
		return nil, domain.WrapOp("eventbus.Request", err)
	}
	bus.Publish(ctx, domain.Event{
		Type:      reqType,
		Timestamp: time.Now(),
		AgentID:   domain.AgentIDFromContext(ctx),
		Payload:   raw,
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case body := <-replyCh:
		return body, nil
	case <-timer.C:
		return nil, domain.NewDomainError("eventbus.Request", domain.ErrTimeout,
			string(reqType))
	case <-ctx.Done():
		return nil, domain.WrapOp("eventbus.Request", ctx.Err())
	}
}

// Reply publishes a reply event carrying the request ID and body.
// Intended for UI-side subscribers completing a Request exchange.
func Reply(ctx context.Context, bus domain.EventBus, replyType domain.EventType, requestID string, body any) error {
	rawBody, err := json.Marshal(body)
	if err != nil {
		return domain.WrapOp("eventbus.Reply", err)
	}
	raw, err := json.Marshal(replyEnvelope{RequestID: requestID, Body: rawBody})
	if err != nil {
		return domain.WrapOp("eventbus.Reply", err)
	}
	bus.Publish(ctx, domain.Event{
		Type:      replyType,
		Timestamp: time.Now(),
		Payload:   raw,
	})
	return nil
}
