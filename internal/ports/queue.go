package ports

import "github.com/ghalamif/AegisAgent/internal/domain"

// ClassLimits bounds one priority class. Zero means unbounded in that dimension.
type ClassLimits struct {
	MaxEvents int
	MaxBytes  int64
}

// EventQueue is the priority-classified admission buffer.
type EventQueue interface {
	// Enqueue returns false when the event was dropped.
	Enqueue(e *domain.Event) bool
	// DrainUpTo removes events in priority order while their summed estimated
	// size stays within budget.
	DrainUpTo(budget int) []*domain.Event
	Resize(limits map[domain.Priority]ClassLimits)
	Len(p domain.Priority) int
}

// AdmissionRecorder counts admission outcomes per priority class.
type AdmissionRecorder interface {
	RecordEnqueued(p domain.Priority)
	RecordDropped(p domain.Priority)
}
