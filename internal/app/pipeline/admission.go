package pipeline

import (
	"context"
	"fmt"

	"github.com/ghalamif/AegisAgent/internal/app/scheduler"
	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/ports"
)

// PrioritySource resolves the live admission class of an event name.
type PrioritySource interface {
	Priority(name string) domain.Priority
}

// Aggregator absorbs events into aggregation windows.
type Aggregator interface {
	Offer(e *domain.Event) bool
	FlushDue() []*domain.Event
}

// Admission is the entry point for every produced event: it discards Off
// events, lets the aggregator absorb what it wants and queues the rest.
type Admission struct {
	queue ports.EventQueue
	agg   Aggregator
	prios PrioritySource
	obs   ports.Observability
}

func NewAdmission(q ports.EventQueue, agg Aggregator, prios PrioritySource, obs ports.Observability) *Admission {
	return &Admission{queue: q, agg: agg, prios: prios, obs: obs}
}

// Enqueue admits one event. Priority must already be assigned.
func (a *Admission) Enqueue(e *domain.Event) {
	if e == nil {
		return
	}
	if e.Priority == domain.PriorityOff {
		a.obs.IncCounter("aegis_events_discarded_total", 1, ports.Field{Key: "event", Value: e.Name})
		return
	}
	if a.agg != nil && a.agg.Offer(e) {
		return
	}
	a.push(e)
}

func (a *Admission) push(e *domain.Event) {
	if a.queue.Enqueue(e) {
		return
	}
	if _, err := e.Measure(); err != nil {
		a.obs.LogError("event_unencodable", err, ports.Field{Key: "event", Value: e.Name})
	}
}

// requeue puts flushed aggregated events back under their live priority
// without offering them to the aggregator again.
func (a *Admission) requeue(events []*domain.Event) {
	for _, e := range events {
		e.Priority = a.prios.Priority(e.Name)
		if e.Priority == domain.PriorityOff {
			a.obs.IncCounter("aegis_events_discarded_total", 1, ports.Field{Key: "event", Value: e.Name})
			continue
		}
		a.push(e)
	}
}

// FlushAggregation emits due aggregation windows into the queues.
func (a *Admission) FlushAggregation() {
	if a.agg == nil {
		return
	}
	a.requeue(a.agg.FlushDue())
}

// GeneratorTask polls one generator and admits what it returns. The live
// priority for each event name overrides whatever the generator set. A
// generator reporting Off is not polled at all.
func GeneratorTask(gen ports.EventGenerator, adm *Admission) scheduler.Task {
	return scheduler.TaskFunc("generator:"+gen.Name(), func(ctx context.Context) error {
		if gen.Priority() == domain.PriorityOff {
			return nil
		}
		events, err := gen.GetEvents(ctx)
		for _, e := range events {
			if e == nil {
				continue
			}
			e.Priority = adm.prios.Priority(e.Name)
			adm.Enqueue(e)
		}
		if err != nil {
			return fmt.Errorf("generator %s: %w", gen.Name(), err)
		}
		return nil
	})
}

// AggregationFlushTask checks the aggregation windows on every run.
func AggregationFlushTask(adm *Admission) scheduler.Task {
	return scheduler.TaskFunc("aggregation-flush", func(context.Context) error {
		adm.FlushAggregation()
		return nil
	})
}
