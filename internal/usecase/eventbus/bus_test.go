package eventbus

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkdesk/internal/domain"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	b := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(b.Close)
	return b
}

func publish(b *Bus, eventType domain.EventType, payload string) {
	b.Publish(context.Background(), domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   json.RawMessage(payload),
	})
}

func TestTypedSubscriberReceivesOnlyItsType(t *testing.T) {
	b := newTestBus(t)

	var mu sync.Mutex
	var got []domain.EventType
	done := make(chan struct{}, 4)

	b.Subscribe(domain.EventFileWritten, func(_ context.Context, ev domain.Event) {
		mu.Lock()
		got = append(got, ev.Type)
		mu.Unlock()
		done <- struct{}{}
	})

	publish(b, domain.EventFileWritten, `{}`)
	publish(b, domain.EventCanvasModified, `{}`)
	publish(b, domain.EventFileWritten, `{}`)

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []domain.EventType{domain.EventFileWritten, domain.EventFileWritten}, got)
}

func TestSubscribeAllSeesEverything(t *testing.T) {
	b := newTestBus(t)

	done := make(chan domain.EventType, 8)
	b.SubscribeAll(func(_ context.Context, ev domain.Event) {
		done <- ev.Type
	})

	publish(b, domain.EventFileWritten, `{}`)
	publish(b, domain.EventCanvasModified, `{}`)

	seen := map[domain.EventType]bool{}
	for i := 0; i < 2; i++ {
		select {
		case et := <-done:
			seen[et] = true
		case <-time.After(time.Second):
			t.Fatal("timed out")
		}
	}
	assert.True(t, seen[domain.EventFileWritten])
	assert.True(t, seen[domain.EventCanvasModified])
}

func TestPanickingHandlerDoesNotKillBus(t *testing.T) {
	b := newTestBus(t)

	b.Subscribe(domain.EventFileWritten, func(context.Context, domain.Event) {
		panic("boom")
	})
	ok := make(chan struct{}, 1)
	b.Subscribe(domain.EventFileWritten, func(context.Context, domain.Event) {
		ok <- struct{}{}
	})

	publish(b, domain.EventFileWritten, `{}`)

	select {
	case <-ok:
	case <-time.After(time.Second):
		t.Fatal("healthy subscriber never ran")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := newTestBus(t)

	got := make(chan struct{}, 4)
	unsub := b.Subscribe(domain.EventFileWritten, func(context.Context, domain.Event) {
		got <- struct{}{}
	})

	publish(b, domain.EventFileWritten, `{}`)
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("first event not delivered")
	}

	unsub()
	publish(b, domain.EventFileWritten, `{}`)
	select {
	case <-got:
		t.Fatal("event delivered after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRequestReplyRoundTrip(t *testing.T) {
	b := newTestBus(t)

	// Simulated UI: answer every ask-user request by echoing its ID.
	b.Subscribe(domain.EventAskUserRequest, func(ctx context.Context, ev domain.Event) {
		var env replyEnvelope
		require.NoError(t, json.Unmarshal(ev.Payload, &env))
		err := Reply(ctx, b, domain.EventAskUserReply, env.RequestID,
			map[string]string{"answer": "blue"})
		require.NoError(t, err)
	})

	body, err := Request(context.Background(), b, "req-1",
		domain.EventAskUserRequest, domain.EventAskUserReply,
		map[string]string{"question": "favorite color?"}, time.Second)
	require.NoError(t, err)

	var reply struct {
		Answer string `json:"answer"`
	}
	require.NoError(t, json.Unmarshal(body, &reply))
	assert.Equal(t, "blue", reply.Answer)
}

func TestRequestTimesOutWithoutReply(t *testing.T) {
	b := newTestBus(t)

	_, err := Request(context.Background(), b, "req-1",
		domain.EventAskUserRequest, domain.EventAskUserReply,
		map[string]string{"question": "anyone there?"}, 30*time.Millisecond)
	require.ErrorIs(t, err, domain.ErrTimeout)
}

func TestRequestIgnoresMismatchedReplies(t *testing.T) {
	b := newTestBus(t)

	b.Subscribe(domain.EventAskUserRequest, func(ctx context.Context, ev domain.Event) {
		_ = Reply(ctx, b, domain.EventAskUserReply, "some-other-request", "nope")
	})

	_, err := Request(context.Background(), b, "req-1",
		domain.EventAskUserRequest, domain.EventAskUserReply,
		"hello", 30*time.Millisecond)
	require.ErrorIs(t, err, domain.ErrTimeout)
}

func TestCloseStopsPublishing(t *testing.T) {
	b := New(slog.New(slog.NewTextHandler(io.Discard, nil)))

	got := make(chan struct{}, 1)
	b.Subscribe(domain.EventFileWritten, func(context.Context, domain.Event) {
		got <- struct{}{}
	})

	b.Close()
	b.Close() // idempotent

	publish(b, domain.EventFileWritten, `{}`)
	select {
	case <-got:
		t.Fatal("publish after close was delivered")
	case <-time.After(50 * time.Millisecond):
	}
}
