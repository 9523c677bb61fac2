package aegisagent

import (
	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/ports"
)

// Event is the unit that flows through the pipeline.
type Event = domain.Event

// Payload is a typed record carried by an Event.
type Payload = domain.Payload

type (
	Priority  = domain.Priority
	EventType = domain.EventType
	Category  = domain.Category

	ProcessCreate           = domain.ProcessCreate
	ConnectionCreate        = domain.ConnectionCreate
	ConfigurationError      = domain.ConfigurationError
	DroppedEventsStatistics = domain.DroppedEventsStatistics
	MessageStatistics       = domain.MessageStatistics
	DeviceSignal            = domain.DeviceSignal
)

const (
	EventTypeSecurity    = domain.EventTypeSecurity
	EventTypeOperational = domain.EventTypeOperational
	EventTypeDiagnostic  = domain.EventTypeDiagnostic

	CategoryTriggered  = domain.CategoryTriggered
	CategoryPeriodic   = domain.CategoryPeriodic
	CategoryAggregated = domain.CategoryAggregated

	PriorityOff         = domain.PriorityOff
	PriorityLow         = domain.PriorityLow
	PriorityHigh        = domain.PriorityHigh
	PriorityOperational = domain.PriorityOperational
)

// Well-known event names.
const (
	EventProcessCreate      = domain.EventProcessCreate
	EventConnectionCreate   = domain.EventConnectionCreate
	EventConfigurationError = domain.EventConfigurationError
	EventDeviceSignal       = domain.EventDeviceSignal
)

// EventGenerator produces events whenever the producer scheduler polls it.
type EventGenerator = ports.EventGenerator

// Transport is the raw link to the hub.
type Transport = ports.Transport

// TwinClient carries the remote configuration document.
type TwinClient = ports.TwinClient

type (
	Credentials         = ports.Credentials
	CredentialsProvider = ports.CredentialsProvider
	StatusChange        = ports.StatusChange
	DisconnectReason    = ports.DisconnectReason
)

// Observability emits logs and metrics about the pipeline.
type Observability = ports.Observability

// Field is a structured log/metric field used by Observability implementations.
type Field = ports.Field

// NewEvent stamps a fresh id and the current time.
func NewEvent(name string, typ EventType, cat Category, prio Priority, schemaVersion string, payloads ...Payload) *Event {
	return domain.NewEvent(name, typ, cat, prio, schemaVersion, payloads...)
}
