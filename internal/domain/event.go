package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrUnencodable marks an event whose wire form cannot be serialized.
var ErrUnencodable = errors.New("event cannot be encoded")

// EventType classifies what an event describes.
type EventType int

const (
	EventTypeSecurity EventType = iota
	EventTypeOperational
	EventTypeDiagnostic
)

func (t EventType) String() string {
	switch t {
	case EventTypeSecurity:
		return "Security"
	case EventTypeOperational:
		return "Operational"
	case EventTypeDiagnostic:
		return "Diagnostic"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Category tells how an event was produced.
type Category int

const (
	CategoryTriggered Category = iota
	CategoryPeriodic
	CategoryAggregated
)

func (c Category) String() string {
	switch c {
	case CategoryTriggered:
		return "Triggered"
	case CategoryPeriodic:
		return "Periodic"
	case CategoryAggregated:
		return "Aggregated"
	default:
		return fmt.Sprintf("Category(%d)", int(c))
	}
}

// Priority is the admission tier of an event. It is a local routing attribute
// and never leaves the device.
type Priority int

const (
	PriorityOff Priority = iota
	PriorityLow
	PriorityHigh
	PriorityOperational
)

func (p Priority) String() string {
	switch p {
	case PriorityOff:
		return "Off"
	case PriorityLow:
		return "Low"
	case PriorityHigh:
		return "High"
	case PriorityOperational:
		return "Operational"
	default:
		return fmt.Sprintf("Priority(%d)", int(p))
	}
}

// ParsePriority accepts the names produced by Priority.String, case-insensitively.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off":
		return PriorityOff, nil
	case "low":
		return PriorityLow, nil
	case "high":
		return PriorityHigh, nil
	case "operational":
		return PriorityOperational, nil
	default:
		return PriorityOff, fmt.Errorf("unknown priority %q", s)
	}
}

// Event is the unit that flows through the agent pipeline. Everything except
// Priority is fixed at construction; Priority may be reassigned until the event
// is admitted into a queue.
type Event struct {
	ID                   string
	Name                 string
	Type                 EventType
	Category             Category
	Priority             Priority
	PayloadSchemaVersion string
	Timestamp            time.Time
	Payloads             []Payload

	sizeOnce sync.Once
	size     int
	sizeErr  error
}

// NewEvent stamps a fresh id and the current time.
func NewEvent(name string, typ EventType, cat Category, prio Priority, schemaVersion string, payloads ...Payload) *Event {
	return NewEventAt(time.Now(), name, typ, cat, prio, schemaVersion, payloads...)
}

// NewEventAt is NewEvent with an explicit generation time.
func NewEventAt(ts time.Time, name string, typ EventType, cat Category, prio Priority, schemaVersion string, payloads ...Payload) *Event {
	return &Event{
		ID:                   uuid.NewString(),
		Name:                 name,
		Type:                 typ,
		Category:             cat,
		Priority:             prio,
		PayloadSchemaVersion: schemaVersion,
		Timestamp:            ts,
		Payloads:             payloads,
	}
}

// IsEmpty reports whether the event carries no payload records.
func (e *Event) IsEmpty() bool { return len(e.Payloads) == 0 }

// EstimatedSize is the serialized JSON length of the wire form, computed once.
// It is 0 for an event that cannot be serialized; see Measure.
func (e *Event) EstimatedSize() int {
	n, _ := e.Measure()
	return n
}

// Measure returns the serialized JSON length of the wire form, or an error
// wrapping ErrUnencodable when the event cannot be serialized at all, for
// example a payload carrying NaN.
func (e *Event) Measure() (int, error) {
	e.sizeOnce.Do(func() {
		b, err := json.Marshal(e.Wire())
		if err != nil {
			e.sizeErr = fmt.Errorf("%w: %s: %v", ErrUnencodable, e.Name, err)
			return
		}
		e.size = len(b)
	})
	return e.size, e.sizeErr
}

// WireEvent is the serialized shape of an Event. Priority is deliberately absent.
type WireEvent struct {
	Name                 string    `json:"Name" msgpack:"Name"`
	EventType            string    `json:"EventType" msgpack:"EventType"`
	IsEmpty              bool      `json:"IsEmpty" msgpack:"IsEmpty"`
	PayloadSchemaVersion string    `json:"PayloadSchemaVersion" msgpack:"PayloadSchemaVersion"`
	ID                   string    `json:"Id" msgpack:"Id"`
	Category             string    `json:"Category" msgpack:"Category"`
	TimestampLocal       time.Time `json:"TimestampLocal" msgpack:"TimestampLocal"`
	TimestampUTC         time.Time `json:"TimestampUTC" msgpack:"TimestampUTC"`
	Payload              []Payload `json:"Payload" msgpack:"Payload"`
}

// Wire converts the event into its serialized shape.
func (e *Event) Wire() WireEvent {
	payloads := e.Payloads
	if payloads == nil {
		payloads = []Payload{}
	}
	return WireEvent{
		Name:                 e.Name,
		EventType:            e.Type.String(),
		IsEmpty:              e.IsEmpty(),
		PayloadSchemaVersion: e.PayloadSchemaVersion,
		ID:                   e.ID,
		Category:             e.Category.String(),
		TimestampLocal:       e.Timestamp.Local(),
		TimestampUTC:         e.Timestamp.UTC(),
		Payload:              payloads,
	}
}
