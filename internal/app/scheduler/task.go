package scheduler

import (
	"context"
	"sync"
	"time"
)

// Task is a unit of periodic work. Tasks sharing a Scheduler run sequentially,
// so Execute must not block indefinitely.
type Task interface {
	Name() string
	Execute(ctx context.Context) error
}

type funcTask struct {
	name string
	fn   func(ctx context.Context) error
}

// TaskFunc adapts a function into a Task.
func TaskFunc(name string, fn func(ctx context.Context) error) Task {
	return &funcTask{name: name, fn: fn}
}

func (t *funcTask) Name() string                      { return t.name }
func (t *funcTask) Execute(ctx context.Context) error { return t.fn(ctx) }

// TaskState tracks when a registered task is next due.
type TaskState struct {
	task     Task
	interval time.Duration
	start    time.Time
	nextDue  time.Time
}

func NewTaskState(task Task, interval time.Duration, start time.Time) *TaskState {
	return &TaskState{
		task:     task,
		interval: interval,
		start:    start,
		nextDue:  start.Add(interval),
	}
}

// ShouldExecute reports whether the task is due at now.
func (s *TaskState) ShouldExecute(now time.Time) bool {
	return now.After(s.start) && now.After(s.nextDue)
}

// MarkExecuted schedules the next run one interval after now. It is called
// before the task runs so a failing task waits a full interval like any other.
func (s *TaskState) MarkExecuted(now time.Time) {
	s.nextDue = now.Add(s.interval)
}

func (s *TaskState) NextDue() time.Time { return s.nextDue }

func (s *TaskState) Task() Task { return s.task }

// Every gates a task behind an interval that is re-read on each check, for
// intervals that change while the agent runs. Register the result with a short
// fixed interval.
func Every(interval func() time.Duration, task Task) Task {
	return &liveIntervalTask{interval: interval, task: task, now: time.Now}
}

type liveIntervalTask struct {
	mu       sync.Mutex
	interval func() time.Duration
	task     Task
	now      func() time.Time
	last     time.Time
}

func (t *liveIntervalTask) Name() string { return t.task.Name() }

func (t *liveIntervalTask) Execute(ctx context.Context) error {
	now := t.now()
	t.mu.Lock()
	if t.last.IsZero() {
		t.last = now
	}
	if now.Sub(t.last) < t.interval() {
		t.mu.Unlock()
		return nil
	}
	t.last = now
	t.mu.Unlock()
	return t.task.Execute(ctx)
}
