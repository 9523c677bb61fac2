package remoteconfig

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ghalamif/AegisAgent/internal/domain"
)

// Store holds the active configuration. Readers never lock; a new snapshot
// replaces the old one as a whole.
type Store struct {
	cur atomic.Pointer[Config]

	mu   sync.Mutex
	subs []func(old, cur *Config)
}

func NewStore(initial *Config) *Store {
	s := &Store{}
	if initial != nil {
		s.cur.Store(initial)
	}
	return s
}

// Load returns the active snapshot, or nil before the first Swap.
func (s *Store) Load() *Config { return s.cur.Load() }

// Swap activates c and notifies subscribers in registration order.
func (s *Store) Swap(c *Config) *Config {
	old := s.cur.Swap(c)

	s.mu.Lock()
	subs := make([]func(old, cur *Config), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(old, c)
	}
	return old
}

// Subscribe registers fn for every later Swap.
func (s *Store) Subscribe(fn func(old, cur *Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Priority, AggregationEnabled and AggregationInterval read through to the
// active snapshot so the store can be handed to components as a live view.

func (s *Store) Priority(name string) domain.Priority { return s.Load().Priority(name) }

func (s *Store) AggregationEnabled(name string) bool { return s.Load().AggregationEnabled(name) }

func (s *Store) AggregationInterval(name string) time.Duration {
	return s.Load().AggregationInterval(name)
}

func (s *Store) MessageFrequency() time.Duration {
	if c := s.Load(); c != nil {
		return c.MessageFrequency
	}
	return defaultMessageFrequency
}

func (s *Store) SnapshotFrequency() time.Duration {
	if c := s.Load(); c != nil {
		return c.SnapshotFrequency
	}
	return defaultSnapshotFrequency
}

func (s *Store) SendTimeout() time.Duration {
	if c := s.Load(); c != nil {
		return c.SendTimeout
	}
	return defaultSendTimeout
}

func (s *Store) MaxMessageSize() int {
	if c := s.Load(); c != nil {
		return c.MaxMessageSizeInBytes
	}
	return 0
}
