// Package history exports orchestration events (deletions, scheme resets,
// status transitions, run starts and stops) to an external store for audit
// and statistics. Sends are best-effort: a sink failure never fails the
// operation that emitted the event.
package history

import (
	"context"
	"log/slog"
	"time"
)

// EventType defines the kind of orchestration event.
type EventType string

const (
	EventDelete     EventType = "delete"
	EventReset      EventType = "reset"
	EventTransition EventType = "transition"
	EventRunStart   EventType = "run_start"
	EventRunStop    EventType = "run_stop"
)

// Event is one exported record. Subject names the affected process or job
// type; Detail carries free-form context such as "Running->Failed".
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Project    string    `json:"project"`
	Subject    string    `json:"subject"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for events. Implementations must be safe for
// concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// Emit sends e to sink when one is configured, logging rather than
// propagating failures.
func Emit(ctx context.Context, sink Sink, e Event) {
	if sink == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if err := sink.Send(ctx, e); err != nil {
		slog.Warn("history sink send failed", "type", string(e.Type), "subject", e.Subject, "error", err)
	}
}
