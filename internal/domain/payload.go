package domain

// Payload is a typed record carried by an Event. Implementations are plain
// structs serialized by field; Annotate must not modify the receiver.
type Payload interface {
	Annotate(details map[string]string) Payload
}

// Aggregatable payloads can be folded into aggregation buckets.
type Aggregatable interface {
	Payload
	// AggregationKey returns a comparable value built only from the fields that
	// make two occurrences the same thing.
	AggregationKey() any
	// Normalize returns a copy with the fields excluded from the key cleared.
	Normalize() Payload
}

// Well-known event names.
const (
	EventProcessCreate           = "ProcessCreate"
	EventConnectionCreate        = "ConnectionCreate"
	EventConfigurationError      = "ConfigurationError"
	EventDroppedEventsStatistics = "DroppedEventsStatistics"
	EventMessageStatistics       = "MessageStatistics"
	EventDeviceSignal            = "DeviceSignal"
)

func mergeDetails(base, extra map[string]string) map[string]string {
	if len(base) == 0 && len(extra) == 0 {
		return nil
	}
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// ProcessCreate describes a process start.
type ProcessCreate struct {
	Executable      string            `json:"Executable"`
	CommandLine     string            `json:"CommandLine"`
	UserID          string            `json:"UserId"`
	UserName        string            `json:"UserName"`
	ProcessID       uint32            `json:"ProcessId"`
	ParentProcessID uint32            `json:"ParentProcessId"`
	ExtraDetails    map[string]string `json:"ExtraDetails,omitempty"`
}

type processCreateKey struct {
	Executable  string
	CommandLine string
	UserID      string
	UserName    string
}

func (p ProcessCreate) Annotate(details map[string]string) Payload {
	p.ExtraDetails = mergeDetails(p.ExtraDetails, details)
	return p
}

func (p ProcessCreate) AggregationKey() any {
	return processCreateKey{
		Executable:  p.Executable,
		CommandLine: p.CommandLine,
		UserID:      p.UserID,
		UserName:    p.UserName,
	}
}

func (p ProcessCreate) Normalize() Payload {
	p.ProcessID = 0
	p.ParentProcessID = 0
	p.ExtraDetails = mergeDetails(p.ExtraDetails, nil)
	return p
}

// Direction of a network connection relative to the device.
type Direction string

const (
	DirectionInbound  Direction = "In"
	DirectionOutbound Direction = "Out"
)

// ConnectionCreate describes a newly observed network connection.
type ConnectionCreate struct {
	Executable    string            `json:"Executable"`
	CommandLine   string            `json:"CommandLine"`
	UserID        string            `json:"UserId"`
	ProcessID     uint32            `json:"ProcessId"`
	Protocol      string            `json:"Protocol"`
	Direction     Direction         `json:"Direction"`
	LocalAddress  string            `json:"LocalAddress"`
	LocalPort     uint16            `json:"LocalPort"`
	RemoteAddress string            `json:"RemoteAddress"`
	RemotePort    uint16            `json:"RemotePort"`
	ExtraDetails  map[string]string `json:"ExtraDetails,omitempty"`
}

// connectionCreateKey keeps only the service-side port: the local one for
// inbound connections, the remote one for outbound.
type connectionCreateKey struct {
	Executable    string
	CommandLine   string
	UserID        string
	Protocol      string
	Direction     Direction
	LocalAddress  string
	RemoteAddress string
	Port          uint16
}

func (c ConnectionCreate) Annotate(details map[string]string) Payload {
	c.ExtraDetails = mergeDetails(c.ExtraDetails, details)
	return c
}

func (c ConnectionCreate) servicePort() uint16 {
	if c.Direction == DirectionInbound {
		return c.LocalPort
	}
	return c.RemotePort
}

func (c ConnectionCreate) AggregationKey() any {
	return connectionCreateKey{
		Executable:    c.Executable,
		CommandLine:   c.CommandLine,
		UserID:        c.UserID,
		Protocol:      c.Protocol,
		Direction:     c.Direction,
		LocalAddress:  c.LocalAddress,
		RemoteAddress: c.RemoteAddress,
		Port:          c.servicePort(),
	}
}

func (c ConnectionCreate) Normalize() Payload {
	c.ProcessID = 0
	if c.Direction == DirectionInbound {
		c.RemotePort = 0
	} else {
		c.LocalPort = 0
	}
	c.ExtraDetails = mergeDetails(c.ExtraDetails, nil)
	return c
}

// Configuration error kinds.
const (
	ConfigErrorTypeMismatch = "TypeMismatch"
	ConfigErrorNotOptional  = "NotOptional"
	ConfigErrorOutOfRange   = "OutOfRange"
)

// ConfigurationError reports one remote configuration property that failed
// validation.
type ConfigurationError struct {
	ConfigurationName string            `json:"ConfigurationName"`
	ErrorType         string            `json:"ErrorType"`
	UsedConfiguration string            `json:"UsedConfiguration"`
	Message           string            `json:"Message"`
	ExtraDetails      map[string]string `json:"ExtraDetails,omitempty"`
}

func (c ConfigurationError) Annotate(details map[string]string) Payload {
	c.ExtraDetails = mergeDetails(c.ExtraDetails, details)
	return c
}

// DroppedEventsStatistics is one priority class's admission outcome over a
// snapshot interval.
type DroppedEventsStatistics struct {
	Queue           string            `json:"Queue"`
	CollectedEvents int64             `json:"CollectedEvents"`
	DroppedEvents   int64             `json:"DroppedEvents"`
	ExtraDetails    map[string]string `json:"ExtraDetails,omitempty"`
}

func (d DroppedEventsStatistics) Annotate(details map[string]string) Payload {
	d.ExtraDetails = mergeDetails(d.ExtraDetails, details)
	return d
}

// MessageStatistics summarizes delivery outcomes over a snapshot interval.
type MessageStatistics struct {
	MessagesSent   int64             `json:"MessagesSent"`
	MessagesFailed int64             `json:"MessagesFailed"`
	SmallMessages  int64             `json:"SmallMessages"`
	ExtraDetails   map[string]string `json:"ExtraDetails,omitempty"`
}

func (m MessageStatistics) Annotate(details map[string]string) Payload {
	m.ExtraDetails = mergeDetails(m.ExtraDetails, details)
	return m
}

// DeviceSignal is a sampled value read from an industrial data source.
type DeviceSignal struct {
	SourceNodeID string             `json:"SourceNodeId"`
	SignalID     string             `json:"SignalId"`
	Seq          uint64             `json:"Seq"`
	Values       map[string]float64 `json:"Values"`
	ExtraDetails map[string]string  `json:"ExtraDetails,omitempty"`
}

func (d DeviceSignal) Annotate(details map[string]string) Payload {
	d.ExtraDetails = mergeDetails(d.ExtraDetails, details)
	return d
}

var (
	_ Aggregatable = ProcessCreate{}
	_ Aggregatable = ConnectionCreate{}
	_ Payload      = ConfigurationError{}
	_ Payload      = DroppedEventsStatistics{}
	_ Payload      = MessageStatistics{}
	_ Payload      = DeviceSignal{}
)
