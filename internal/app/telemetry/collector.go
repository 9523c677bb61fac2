package telemetry

import (
	"sync/atomic"

	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/ports"
)

// Kind enumerates the counters the agent keeps about itself.
type Kind int

const (
	DroppedLow Kind = iota
	DroppedHigh
	DroppedOperational
	EnqueuedLow
	EnqueuedHigh
	EnqueuedOperational
	SendSuccess
	SendFailure
	SmallMessages

	numKinds
)

var kindNames = [numKinds]string{
	DroppedLow:          "dropped_low",
	DroppedHigh:         "dropped_high",
	DroppedOperational:  "dropped_operational",
	EnqueuedLow:         "enqueued_low",
	EnqueuedHigh:        "enqueued_high",
	EnqueuedOperational: "enqueued_operational",
	SendSuccess:         "send_success",
	SendFailure:         "send_failure",
	SmallMessages:       "small_messages",
}

func (k Kind) String() string {
	if k < 0 || k >= numKinds {
		return "unknown"
	}
	return kindNames[k]
}

// DroppedFor maps a priority class to its drop counter.
func DroppedFor(p domain.Priority) (Kind, bool) {
	switch p {
	case domain.PriorityLow:
		return DroppedLow, true
	case domain.PriorityHigh:
		return DroppedHigh, true
	case domain.PriorityOperational:
		return DroppedOperational, true
	}
	return 0, false
}

// EnqueuedFor maps a priority class to its enqueue counter.
func EnqueuedFor(p domain.Priority) (Kind, bool) {
	switch p {
	case domain.PriorityLow:
		return EnqueuedLow, true
	case domain.PriorityHigh:
		return EnqueuedHigh, true
	case domain.PriorityOperational:
		return EnqueuedOperational, true
	}
	return 0, false
}

// Counter is a monotonic counter that is exchanged to zero when read.
type Counter struct {
	v atomic.Int64
}

func (c *Counter) Add(n int64) {
	if n <= 0 {
		return
	}
	c.v.Add(n)
}

func (c *Counter) Inc() { c.v.Add(1) }

// Load reads without resetting.
func (c *Counter) Load() int64 { return c.v.Load() }

// GetAndReset returns everything accumulated since the previous reset. Any
// increment racing with it lands either in this result or in the next one.
func (c *Counter) GetAndReset() int64 { return c.v.Swap(0) }

// Collector owns one Counter per Kind. Increments are mirrored to the metrics
// backend, which keeps the monotonic totals.
type Collector struct {
	counters [numKinds]Counter
	obs      ports.Observability
}

func NewCollector(obs ports.Observability) *Collector {
	return &Collector{obs: obs}
}

func (c *Collector) Inc(k Kind) { c.Add(k, 1) }

func (c *Collector) Add(k Kind, n int64) {
	if k < 0 || k >= numKinds || n <= 0 {
		return
	}
	c.counters[k].Add(n)
	if c.obs != nil {
		c.obs.IncCounter("aegis_agent_counter_total", float64(n), ports.Field{Key: "kind", Value: k.String()})
	}
}

// Peek reads a counter without resetting it.
func (c *Collector) Peek(k Kind) int64 {
	if k < 0 || k >= numKinds {
		return 0
	}
	return c.counters[k].Load()
}

// PeekAll reads every counter without resetting, keyed by counter name.
func (c *Collector) PeekAll() map[string]int64 {
	out := make(map[string]int64, numKinds)
	for k := Kind(0); k < numKinds; k++ {
		out[k.String()] = c.counters[k].Load()
	}
	return out
}

// Snapshot get-and-resets every counter.
func (c *Collector) Snapshot() map[Kind]int64 {
	out := make(map[Kind]int64, numKinds)
	for k := Kind(0); k < numKinds; k++ {
		out[k] = c.counters[k].GetAndReset()
	}
	return out
}

func (c *Collector) RecordEnqueued(p domain.Priority) {
	if k, ok := EnqueuedFor(p); ok {
		c.Inc(k)
	}
}

func (c *Collector) RecordDropped(p domain.Priority) {
	if k, ok := DroppedFor(p); ok {
		c.Inc(k)
	}
}

var _ ports.AdmissionRecorder = (*Collector)(nil)
