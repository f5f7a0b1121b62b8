package history

import (
	"context"
	"errors"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart   EventType = "start"
	EventStop    EventType = "stop"
	EventCrash   EventType = "crash"
	EventRestart EventType = "restart"
)

// Event represents a service lifecycle transition exported to external
// analytics systems.
type Event struct {
	Type         EventType `json:"type"`
	OccurredAt   time.Time `json:"occurred_at"`
	ServiceID    string    `json:"service_id"`
	ServiceName  string    `json:"service_name"`
	Status       string    `json:"status"`
	PID          int       `json:"pid"`
	RestartCount int       `json:"restart_count"`
	Detail       string    `json:"detail,omitempty"`
}

// Sink is a destination for history events. Implementations must be safe for
// concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Fanout delivers each event to every sink and returns the joined errors.
type Fanout []Sink

func (f Fanout) Send(ctx context.Context, e Event) error {
	var errs []error
	for _, s := range f {
		if err := s.Send(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
