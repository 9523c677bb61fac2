package queue

import (
	"sync"

	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/ports"
)

// drainOrder is the strict class order used on every drain.
var drainOrder = [...]domain.Priority{
	domain.PriorityOperational,
	domain.PriorityHigh,
	domain.PriorityLow,
}

// classQueue is a bounded FIFO for one priority class.
type classQueue struct {
	data   []*domain.Event
	bytes  int64
	limits ports.ClassLimits
}

func (c *classQueue) full(next *domain.Event) bool {
	if c.limits.MaxEvents > 0 && len(c.data) >= c.limits.MaxEvents {
		return true
	}
	if c.limits.MaxBytes > 0 && c.bytes+int64(next.EstimatedSize()) > c.limits.MaxBytes {
		return true
	}
	return false
}

func (c *classQueue) push(e *domain.Event) {
	c.data = append(c.data, e)
	c.bytes += int64(e.EstimatedSize())
}

func (c *classQueue) popN(n int) []*domain.Event {
	out := make([]*domain.Event, n)
	copy(out, c.data[:n])
	for i := 0; i < n; i++ {
		c.bytes -= int64(out[i].EstimatedSize())
		c.data[i] = nil
	}
	c.data = append(c.data[:0], c.data[n:]...)
	return out
}

// PriorityQueue buffers events in one bounded FIFO per priority class. A full
// class rejects the arriving event; buffered events are never evicted, so FIFO
// order inside a class is preserved.
type PriorityQueue struct {
	mu       sync.Mutex
	classes  map[domain.Priority]*classQueue
	recorder ports.AdmissionRecorder
}

func NewPriorityQueue(limits map[domain.Priority]ports.ClassLimits, rec ports.AdmissionRecorder) *PriorityQueue {
	q := &PriorityQueue{
		classes:  make(map[domain.Priority]*classQueue, len(drainOrder)),
		recorder: rec,
	}
	for _, p := range drainOrder {
		q.classes[p] = &classQueue{limits: limits[p]}
	}
	return q
}

func (q *PriorityQueue) Enqueue(e *domain.Event) bool {
	if e == nil || e.Priority == domain.PriorityOff {
		return false
	}

	// An event that cannot be serialized would fail the whole envelope it
	// ships in, so it is dropped at admission.
	_, err := e.Measure()

	q.mu.Lock()
	c, ok := q.classes[e.Priority]
	if !ok {
		q.mu.Unlock()
		return false
	}
	accepted := err == nil && !c.full(e)
	if accepted {
		c.push(e)
	}
	q.mu.Unlock()

	if q.recorder != nil {
		if accepted {
			q.recorder.RecordEnqueued(e.Priority)
		} else {
			q.recorder.RecordDropped(e.Priority)
		}
	}
	return accepted
}

// DrainUpTo pulls Operational, then High, then Low, stopping at the first event
// that no longer fits the remaining budget. An event larger than the whole
// budget can never be sent and is discarded as a drop.
func (q *PriorityQueue) DrainUpTo(budget int) []*domain.Event {
	var (
		out       []*domain.Event
		used      int
		discarded []domain.Priority
	)

	q.mu.Lock()
drain:
	for _, p := range drainOrder {
		c := q.classes[p]
		take := 0
		for take < len(c.data) {
			size := c.data[take].EstimatedSize()
			if budget > 0 && size > budget {
				out = append(out, c.popN(take)...)
				c.popN(1)
				discarded = append(discarded, p)
				take = 0
				continue
			}
			if budget > 0 && used+size > budget {
				out = append(out, c.popN(take)...)
				break drain
			}
			used += size
			take++
		}
		out = append(out, c.popN(take)...)
	}
	q.mu.Unlock()

	if q.recorder != nil {
		for _, p := range discarded {
			q.recorder.RecordDropped(p)
		}
	}
	return out
}

// Resize applies new limits. Events already buffered above a reduced limit stay
// queued, so occupancy is bounded by the new limit from the next admission
// onward: the class rejects arrivals until it drains below the limit.
func (q *PriorityQueue) Resize(limits map[domain.Priority]ports.ClassLimits) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for p, l := range limits {
		if c, ok := q.classes[p]; ok {
			c.limits = l
		}
	}
}

func (q *PriorityQueue) Len(p domain.Priority) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if c, ok := q.classes[p]; ok {
		return len(c.data)
	}
	return 0
}

// Bytes returns the estimated bytes buffered for one class.
func (q *PriorityQueue) Bytes(p domain.Priority) int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if c, ok := q.classes[p]; ok {
		return c.bytes
	}
	return 0
}

// SplitLimits derives per-class limits from totals and the high-priority share
// in percent. Operational limits are passed through unchanged.
func SplitLimits(totalEvents int, totalBytes int64, highPercent int, operational ports.ClassLimits) map[domain.Priority]ports.ClassLimits {
	if highPercent < 0 {
		highPercent = 0
	}
	if highPercent > 100 {
		highPercent = 100
	}
	highEvents := totalEvents * highPercent / 100
	highBytes := totalBytes * int64(highPercent) / 100
	return map[domain.Priority]ports.ClassLimits{
		domain.PriorityHigh:        {MaxEvents: nonZero(highEvents, totalEvents), MaxBytes: nonZero64(highBytes, totalBytes)},
		domain.PriorityLow:         {MaxEvents: nonZero(totalEvents-highEvents, totalEvents), MaxBytes: nonZero64(totalBytes-highBytes, totalBytes)},
		domain.PriorityOperational: operational,
	}
}

// nonZero keeps a share of a bounded total from collapsing to 0, which would
// read as unbounded.
func nonZero(share, total int) int {
	if total > 0 && share <= 0 {
		return 1
	}
	return share
}

func nonZero64(share, total int64) int64 {
	if total > 0 && share <= 0 {
		return 1
	}
	return share
}

var _ ports.EventQueue = (*PriorityQueue)(nil)
