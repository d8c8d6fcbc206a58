package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventLaunch    EventType = "launch"
	EventTerminate EventType = "terminate"
)

// Event records one launch or terminate attempt.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Name       string    `json:"name"`
	PID        int       `json:"pid"`
	Error      string    `json:"error,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Send(context.Context, Event) error { return nil }
func (Nop) Close() error                      { return nil }

// NewEvent builds an event stamped with the current time.
func NewEvent(t EventType, name string, pid int, err error) Event {
	e := Event{Type: t, OccurredAt: time.Now().UTC(), Name: name, PID: pid}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}
