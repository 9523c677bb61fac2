// Package aggregation folds repeated occurrences of the same event into one
// summarized event per tumbling window.
package aggregation

import (
	"strconv"
	"sync"
	"time"

	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/ports"
)

// Annotation keys added to flushed payloads.
const (
	DetailStartTimeLocal = "StartTimeLocal"
	DetailStartTimeUTC   = "StartTimeUtc"
	DetailEndTimeLocal   = "EndTimeLocal"
	DetailEndTimeUTC     = "EndTimeUtc"
	DetailHitCount       = "HitCount"
)

// Settings exposes the live, remotely configurable aggregation switches.
type Settings interface {
	AggregationEnabled(name string) bool
	AggregationInterval(name string) time.Duration
}

type bucket struct {
	representative domain.Payload
	hits           int
	proto          *domain.Event
}

type window struct {
	start   time.Time
	buckets map[any]*bucket
	order   []any
}

func (w *window) reset() {
	w.start = time.Time{}
	w.buckets = make(map[any]*bucket)
	w.order = w.order[:0]
}

// Engine holds one window per aggregatable event name.
type Engine struct {
	settings Settings
	obs      ports.Observability
	now      func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

// Option customizes an Engine.
type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine enables aggregation for the given event names. Events with other
// names are never absorbed.
func NewEngine(settings Settings, obs ports.Observability, names []string, opts ...Option) *Engine {
	e := &Engine{
		settings: settings,
		obs:      obs,
		now:      time.Now,
		windows:  make(map[string]*window, len(names)),
	}
	for _, n := range names {
		w := &window{}
		w.reset()
		e.windows[n] = w
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Offer absorbs e into its window and reports true, or reports false when the
// caller must forward e unchanged.
func (e *Engine) Offer(ev *domain.Event) bool {
	if ev == nil || ev.Category == domain.CategoryAggregated || ev.IsEmpty() {
		return false
	}
	if !e.settings.AggregationEnabled(ev.Name) {
		return false
	}

	items := make([]domain.Aggregatable, 0, len(ev.Payloads))
	for _, p := range ev.Payloads {
		a, ok := p.(domain.Aggregatable)
		if !ok {
			return false
		}
		items = append(items, a)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	w, ok := e.windows[ev.Name]
	if !ok {
		return false
	}
	if w.start.IsZero() {
		w.start = e.now()
	}
	for _, a := range items {
		key := a.AggregationKey()
		if b, found := w.buckets[key]; found {
			b.hits++
			continue
		}
		w.buckets[key] = &bucket{representative: a.Normalize(), hits: 1, proto: ev}
		w.order = append(w.order, key)
	}
	return true
}

// FlushDue emits the buckets of every window whose interval has elapsed, and
// of every window whose aggregation was switched off while it was open.
func (e *Engine) FlushDue() []*domain.Event {
	return e.flush(false)
}

// FlushAll emits every open bucket regardless of window age.
func (e *Engine) FlushAll() []*domain.Event {
	return e.flush(true)
}

func (e *Engine) flush(all bool) []*domain.Event {
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	var out []*domain.Event
	for name, w := range e.windows {
		if len(w.order) == 0 {
			continue
		}
		due := all || !e.settings.AggregationEnabled(name)
		if !due {
			interval := e.settings.AggregationInterval(name)
			due = now.Sub(w.start) >= interval
		}
		if !due {
			continue
		}
		emitted := w.emit(name, now)
		out = append(out, emitted...)
		if e.obs != nil {
			e.obs.IncCounter("aegis_aggregated_events_total", float64(len(emitted)), ports.Field{Key: "event", Value: name})
		}
		w.reset()
	}
	return out
}

func (w *window) emit(name string, end time.Time) []*domain.Event {
	out := make([]*domain.Event, 0, len(w.order))
	for _, key := range w.order {
		b := w.buckets[key]
		payload := b.representative.Annotate(map[string]string{
			DetailStartTimeLocal: w.start.Local().Format(time.RFC3339Nano),
			DetailStartTimeUTC:   w.start.UTC().Format(time.RFC3339Nano),
			DetailEndTimeLocal:   end.Local().Format(time.RFC3339Nano),
			DetailEndTimeUTC:     end.UTC().Format(time.RFC3339Nano),
			DetailHitCount:       strconv.Itoa(b.hits),
		})
		out = append(out, domain.NewEventAt(end, name, b.proto.Type, domain.CategoryAggregated,
			b.proto.Priority, b.proto.PayloadSchemaVersion, payload))
	}
	return out
}

// Pending is the number of open buckets across all windows.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, w := range e.windows {
		n += len(w.order)
	}
	return n
}
