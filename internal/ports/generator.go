package ports

import (
	"context"

	"github.com/ghalamif/AegisAgent/internal/domain"
)

// EventGenerator produces events on demand. Implementations live outside the
// pipeline (process, connection, firewall collectors and the like).
type EventGenerator interface {
	Name() string
	Priority() domain.Priority
	GetEvents(ctx context.Context) ([]*domain.Event, error)
}

// EventSink accepts events for admission into the pipeline.
type EventSink interface {
	Enqueue(e *domain.Event)
}
