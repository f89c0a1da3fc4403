package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	// File lifecycle events. The UI subscribes to these to refresh the
	// open editor and to re-render lock badges in the file tree.
	EventFileWritten  EventType = "file.written"
	EventFileRecorded EventType = "file.recorded" // full content snapshot after a write
	EventFileRenamed  EventType = "file.renamed"
	EventFileDeleted  EventType = "file.deleted"

	// Canvas events.
	EventCanvasModified  EventType = "canvas.modified"
	EventCanvasOpenTab   EventType = "canvas.open_tab"   // request: UI must open/switch to a document
	EventCanvasTabOpened EventType = "canvas.tab_opened" // reply: carries the tab request ID
	EventCanvasOverlay   EventType = "canvas.overlay"    // payload: {active: bool}

	// Memory, config and interaction events.
	EventMemoryWritten         EventType = "memory.written"
	EventExportConfigChanged   EventType = "export.config.changed"
	EventWorkspaceConfigPatch  EventType = "workspace.config.patch"
	EventAskUserRequest        EventType = "ask_user.request"
	EventAskUserReply          EventType = "ask_user.reply"
	EventTaskQueued            EventType = "task.queued"
	EventPublishStatusChanged  EventType = "publish.status_changed"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	AgentID   string          `json:"agent_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
// It is the engine's only channel to the surrounding UI: the engine
// emits notifications on it and never calls UI code directly.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
