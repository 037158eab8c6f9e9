package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart  EventType = "start"
	EventStop   EventType = "stop"
	EventBackup EventType = "backup"
)

// Event represents a world lifecycle event to be exported to external systems.
type Event struct {
	Type        EventType `json:"type"`
	World       string    `json:"world"`
	PID         int       `json:"pid,omitempty"`
	Port        int       `json:"port,omitempty"`
	ArchivePath string    `json:"archive_path,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
