// Package remoteconfig holds the remotely pushed agent configuration: its
// typed form, the parser for the desired-properties document, the atomically
// swapped store and the sync loop against the twin.
package remoteconfig

import (
	"strings"
	"time"

	"github.com/ghalamif/AegisAgent/internal/domain"
)

// DefaultSection is the well-known key the agent's settings live under.
const DefaultSection = "aegisAgentConfiguration"

// Field names inside the section.
const (
	FieldMaxLocalCacheSize      = "maxLocalCacheSizeInBytes"
	FieldMaxMessageSize         = "maxMessageSizeInBytes"
	FieldHighPriorityPercentage = "highPriorityQueueSizePercentage"
	FieldMessageFrequency       = "messageFrequency"
	FieldSnapshotFrequency      = "snapshotFrequency"
	FieldSendTimeout            = "sendTimeout"

	PrefixEventPriority       = "eventPriority"
	PrefixAggregationEnabled  = "aggregationEnabled"
	PrefixAggregationInterval = "aggregationInterval"
)

const (
	defaultHighPriorityShare    = 50
	defaultMessageFrequency     = time.Minute
	defaultSnapshotFrequency    = time.Hour
	defaultSendTimeout          = 30 * time.Second
	defaultAggregationInterval  = time.Hour
	defaultAggregationEnabled   = true
	defaultUnknownEventPriority = domain.PriorityLow
)

// defaultPriorities apply to event names the document does not mention.
var defaultPriorities = map[string]domain.Priority{
	domain.EventProcessCreate:    domain.PriorityHigh,
	domain.EventConnectionCreate: domain.PriorityHigh,
	domain.EventDeviceSignal:     domain.PriorityLow,
}

// operationalEvents always travel in the Operational class.
var operationalEvents = map[string]struct{}{
	domain.EventConfigurationError:      {},
	domain.EventDroppedEventsStatistics: {},
	domain.EventMessageStatistics:       {},
}

// AggregationSetting is the per-event-name aggregation switch.
type AggregationSetting struct {
	Enabled  bool
	Interval time.Duration
}

// Config is one fully validated configuration snapshot. It is never mutated
// after it has been stored.
type Config struct {
	MaxLocalCacheSizeInBytes        int64
	MaxMessageSizeInBytes           int
	HighPriorityQueueSizePercentage int
	MessageFrequency                time.Duration
	SnapshotFrequency               time.Duration
	SendTimeout                     time.Duration

	EventPriorities map[string]domain.Priority
	Aggregation     map[string]AggregationSetting
}

func newConfig() *Config {
	return &Config{
		HighPriorityQueueSizePercentage: defaultHighPriorityShare,
		MessageFrequency:                defaultMessageFrequency,
		SnapshotFrequency:               defaultSnapshotFrequency,
		SendTimeout:                     defaultSendTimeout,
		EventPriorities:                 make(map[string]domain.Priority),
		Aggregation:                     make(map[string]AggregationSetting),
	}
}

// Priority returns the admission class for an event name.
func (c *Config) Priority(name string) domain.Priority {
	if _, ok := operationalEvents[name]; ok {
		return domain.PriorityOperational
	}
	if c != nil {
		if p, ok := c.EventPriorities[name]; ok {
			return p
		}
	}
	if p, ok := defaultPriorities[name]; ok {
		return p
	}
	return defaultUnknownEventPriority
}

func (c *Config) aggregation(name string) AggregationSetting {
	if c != nil {
		if s, ok := c.Aggregation[name]; ok {
			return s
		}
	}
	return AggregationSetting{Enabled: defaultAggregationEnabled, Interval: defaultAggregationInterval}
}

func (c *Config) AggregationEnabled(name string) bool { return c.aggregation(name).Enabled }

func (c *Config) AggregationInterval(name string) time.Duration { return c.aggregation(name).Interval }

// Effective renders the configuration as a desired-properties style section,
// each field wrapped as {"value": ...}.
func (c *Config) Effective() map[string]any {
	out := map[string]any{
		FieldMaxLocalCacheSize:      c.MaxLocalCacheSizeInBytes,
		FieldMaxMessageSize:         c.MaxMessageSizeInBytes,
		FieldHighPriorityPercentage: c.HighPriorityQueueSizePercentage,
		FieldMessageFrequency:       FormatISODuration(c.MessageFrequency),
		FieldSnapshotFrequency:      FormatISODuration(c.SnapshotFrequency),
		FieldSendTimeout:            FormatISODuration(c.SendTimeout),
	}
	for name, p := range c.EventPriorities {
		out[PrefixEventPriority+name] = p.String()
	}
	for name, s := range c.Aggregation {
		out[PrefixAggregationEnabled+name] = s.Enabled
		out[PrefixAggregationInterval+name] = FormatISODuration(s.Interval)
	}
	for k, v := range out {
		out[k] = map[string]any{"value": v}
	}
	return out
}

// effectiveValue returns the in-effect value of a field path such as
// "aegisAgentConfiguration.sendTimeout", or "" if unknown.
func (c *Config) effectiveValue(path string) string {
	if c == nil {
		return ""
	}
	field := path
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		field = path[i+1:]
	}
	switch {
	case strings.HasPrefix(field, PrefixEventPriority):
		return c.Priority(strings.TrimPrefix(field, PrefixEventPriority)).String()
	case strings.HasPrefix(field, PrefixAggregationEnabled):
		if c.AggregationEnabled(strings.TrimPrefix(field, PrefixAggregationEnabled)) {
			return "true"
		}
		return "false"
	case strings.HasPrefix(field, PrefixAggregationInterval):
		return FormatISODuration(c.AggregationInterval(strings.TrimPrefix(field, PrefixAggregationInterval)))
	}
	v, ok := c.Effective()[field].(map[string]any)
	if !ok {
		return ""
	}
	return formatScalar(v["value"])
}
