package aegisagent

import (
	"context"
	"errors"
	"sync"

	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/ports"
)

// ErrPublisherFull indicates the publisher buffer rejected the event.
var ErrPublisherFull = errors.New("aegisagent: publisher buffer full")

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("aegisagent: publisher closed")

// Publisher is an EventGenerator fed by the embedding program. Events pushed
// with Publish are handed to the pipeline on the next producer poll, where
// they get their live priority and pass through admission like any other.
type Publisher struct {
	name     string
	priority domain.Priority
	capacity int

	mu      sync.Mutex
	pending []*domain.Event
	closed  bool
}

// NewPublisher returns a publisher holding at most capacity events between
// polls; capacity <= 0 means unbounded.
func NewPublisher(name string, capacity int) *Publisher {
	if name == "" {
		name = "publisher"
	}
	return &Publisher{name: name, priority: domain.PriorityLow, capacity: capacity}
}

// Publish buffers ev. It never blocks.
func (p *Publisher) Publish(ev *Event) error {
	if ev == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPublisherClosed
	}
	if p.capacity > 0 && len(p.pending) >= p.capacity {
		return ErrPublisherFull
	}
	p.pending = append(p.pending, ev)
	return nil
}

// Pause stops the scheduler from polling the publisher; buffered events stay.
func (p *Publisher) Pause() { p.setPriority(domain.PriorityOff) }

// Resume undoes Pause.
func (p *Publisher) Resume() { p.setPriority(domain.PriorityLow) }

func (p *Publisher) setPriority(prio domain.Priority) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.priority = prio
}

// Close rejects further Publish calls. Events already buffered are still
// handed over.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *Publisher) Name() string { return p.name }

func (p *Publisher) Priority() domain.Priority {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.priority
}

func (p *Publisher) GetEvents(context.Context) ([]*domain.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.pending
	p.pending = nil
	return out, nil
}

var _ ports.EventGenerator = (*Publisher)(nil)
