package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ghalamif/AegisAgent/internal/ports"
)

// ErrAlreadyStarted is returned by a second Start call.
var ErrAlreadyStarted = errors.New("scheduler: already started")

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithFatalHandler is called when the loop itself panics outside any task.
func WithFatalHandler(fn func(error)) Option {
	return func(s *Scheduler) {
		s.onFatal = fn
	}
}

// Scheduler is a cooperative polling executor. Every tick it runs the tasks
// that are due, one after another, then sleeps until the next tick or until
// its context is cancelled.
type Scheduler struct {
	name    string
	tick    time.Duration
	obs     ports.Observability
	now     func() time.Time
	onFatal func(error)

	mu      sync.Mutex
	tasks   []*TaskState
	started bool
	done    chan struct{}
}

func New(name string, tick time.Duration, obs ports.Observability, opts ...Option) *Scheduler {
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	s := &Scheduler{
		name: name,
		tick: tick,
		obs:  obs,
		now:  time.Now,
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// AddTask registers a task. Registration after Start is tolerated; the task is
// picked up on the next tick.
func (s *Scheduler) AddTask(task Task, interval time.Duration, start time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, NewTaskState(task, interval, start))
}

// Start runs the tick loop until ctx is cancelled. With runOnCaller it blocks
// the calling goroutine; otherwise the loop runs on its own goroutine and Start
// returns immediately.
func (s *Scheduler) Start(ctx context.Context, runOnCaller bool) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	if runOnCaller {
		s.loop(ctx)
		return nil
	}
	go s.loop(ctx)
	return nil
}

// Done is closed once the loop has exited.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

// Wait blocks until the loop exits. It returns at once if Start was never
// called.
func (s *Scheduler) Wait() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.done
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("scheduler %s: panic: %v", s.name, r)
			s.obs.LogCritical("scheduler_loop_panic", err, ports.Field{Key: "scheduler", Value: s.name})
			if s.onFatal != nil {
				s.onFatal(err)
			}
		}
	}()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		s.runDue(ctx)
		timer.Reset(s.tick)
	}
}

// runDue executes every task due at the current time. It is one tick of the
// loop; TaskState is owned by the loop goroutine and is not locked.
func (s *Scheduler) runDue(ctx context.Context) {
	s.mu.Lock()
	tasks := make([]*TaskState, len(s.tasks))
	copy(tasks, s.tasks)
	s.mu.Unlock()

	for _, st := range tasks {
		if ctx.Err() != nil {
			return
		}
		now := s.now()
		if !st.ShouldExecute(now) {
			continue
		}
		st.MarkExecuted(now)

		start := time.Now()
		if err := s.runSafely(ctx, st.task); err != nil {
			s.obs.LogError("task_failed", err,
				ports.Field{Key: "scheduler", Value: s.name},
				ports.Field{Key: "task", Value: st.task.Name()})
			s.obs.IncCounter("aegis_task_failures_total", 1, ports.Field{Key: "task", Value: st.task.Name()})
			continue
		}
		s.obs.ObserveLatency("aegis_task_duration_seconds", time.Since(start).Seconds())
	}
}

func (s *Scheduler) runSafely(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", t.Name(), r)
		}
	}()
	return t.Execute(ctx)
}
