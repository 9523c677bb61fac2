package aegisagent

import (
	base "github.com/ghalamif/AegisAgent/pkg/aegisagent"
)

// Re-exported errors for convenience.
var (
	ErrAlreadyStarted         = base.ErrAlreadyStarted
	ErrInitialConfigTimeout   = base.ErrInitialConfigTimeout
	ErrInvalidBaseline        = base.ErrInvalidBaseline
	ErrChannelTransportClosed = base.ErrChannelTransportClosed
	ErrPublisherFull          = base.ErrPublisherFull
	ErrPublisherClosed        = base.ErrPublisherClosed
)

// Type aliases so consumers can import github.com/ghalamif/AegisAgent directly.
type (
	Agent                   = base.Agent
	Option                  = base.Option
	Status                  = base.Status
	Config                  = base.Config
	Policy                  = base.Policy
	AgentConfig             = base.AgentConfig
	RemoteConfig            = base.RemoteConfig
	HubConfig               = base.HubConfig
	TwinConfig              = base.TwinConfig
	MetricsConfig           = base.MetricsConfig
	LogConfig               = base.LogConfig
	CredentialsConfig       = base.CredentialsConfig
	NATSConfig              = base.NATSConfig
	RedisConfig             = base.RedisConfig
	TimescaleConfig         = base.TimescaleConfig
	OPCUAConfig             = base.OPCUAConfig
	OPCUANodeConfig         = base.OPCUANodeConfig
	BackoffSchedule         = base.BackoffSchedule
	BackoffStage            = base.BackoffStage
	Event                   = base.Event
	Payload                 = base.Payload
	Priority                = base.Priority
	EventType               = base.EventType
	Category                = base.Category
	ProcessCreate           = base.ProcessCreate
	ConnectionCreate        = base.ConnectionCreate
	ConfigurationError      = base.ConfigurationError
	DroppedEventsStatistics = base.DroppedEventsStatistics
	MessageStatistics       = base.MessageStatistics
	DeviceSignal            = base.DeviceSignal
	EventGenerator          = base.EventGenerator
	Transport               = base.Transport
	TwinClient              = base.TwinClient
	Credentials             = base.Credentials
	CredentialsProvider     = base.CredentialsProvider
	StatusChange            = base.StatusChange
	Observability           = base.Observability
	Field                   = base.Field
	Delivery                = base.Delivery
	DeliveryHandler         = base.DeliveryHandler
	Publisher               = base.Publisher
	MemoryTwin              = base.MemoryTwin
)

const (
	EventTypeSecurity    = base.EventTypeSecurity
	EventTypeOperational = base.EventTypeOperational
	EventTypeDiagnostic  = base.EventTypeDiagnostic

	CategoryTriggered  = base.CategoryTriggered
	CategoryPeriodic   = base.CategoryPeriodic
	CategoryAggregated = base.CategoryAggregated

	PriorityOff         = base.PriorityOff
	PriorityLow         = base.PriorityLow
	PriorityHigh        = base.PriorityHigh
	PriorityOperational = base.PriorityOperational

	EventProcessCreate      = base.EventProcessCreate
	EventConnectionCreate   = base.EventConnectionCreate
	EventConfigurationError = base.EventConfigurationError
	EventDeviceSignal       = base.EventDeviceSignal
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func ParseConfig(raw []byte) (*Config, error) {
	return base.ParseConfig(raw)
}

func DefaultBackoff() BackoffSchedule {
	return base.DefaultBackoff()
}

// Agent construction and options.
func New(cfg *Config, opts ...Option) (*Agent, error) {
	return base.New(cfg, opts...)
}

func Conf(path string, opts ...Option) (*Agent, error) {
	return base.Conf(path, opts...)
}

func WithTransport(t Transport) Option {
	return base.WithTransport(t)
}

func WithTwin(t TwinClient) Option {
	return base.WithTwin(t)
}

func WithCredentials(p CredentialsProvider) Option {
	return base.WithCredentials(p)
}

func WithObservability(obs Observability) Option {
	return base.WithObservability(obs)
}

func WithGenerators(gens ...EventGenerator) Option {
	return base.WithGenerators(gens...)
}

func WithAggregatedEvents(names ...string) Option {
	return base.WithAggregatedEvents(names...)
}

func NewEvent(name string, typ EventType, cat Category, prio Priority, schemaVersion string, payloads ...Payload) *Event {
	return base.NewEvent(name, typ, cat, prio, schemaVersion, payloads...)
}

// In-process transports.
func NewCallbackTransport(name string, fn DeliveryHandler) Transport {
	return base.NewCallbackTransport(name, fn)
}

func NewChannelTransport(name string, buffer int) (Transport, <-chan Delivery, func()) {
	return base.NewChannelTransport(name, buffer)
}

// Event sources and twins driven by the embedding program.
func NewPublisher(name string, capacity int) *Publisher {
	return base.NewPublisher(name, capacity)
}

func NewMemoryTwin(desired []byte) *MemoryTwin {
	return base.NewMemoryTwin(desired)
}
