package delivery

import (
	"context"
	"fmt"
	"time"
)

// Stage is a run of reconnection attempts sharing one spacing.
type Stage struct {
	Attempts int           `yaml:"attempts"`
	Interval time.Duration `yaml:"interval"`
}

// BackoffSchedule escalates through Stages and then waits Max between every
// further attempt, forever.
type BackoffSchedule struct {
	Stages []Stage       `yaml:"stages"`
	Max    time.Duration `yaml:"max"`
}

// DefaultBackoff is three attempts a second apart, three ten seconds apart,
// then one a minute.
func DefaultBackoff() BackoffSchedule {
	return BackoffSchedule{
		Stages: []Stage{
			{Attempts: 3, Interval: time.Second},
			{Attempts: 3, Interval: 10 * time.Second},
		},
		Max: time.Minute,
	}
}

// Delay is the wait after the given number of consecutive failures (from 1).
func (b BackoffSchedule) Delay(failures int) time.Duration {
	if failures < 1 {
		return 0
	}
	n := failures
	for _, s := range b.Stages {
		if n <= s.Attempts {
			return s.Interval
		}
		n -= s.Attempts
	}
	return b.Max
}

func (b BackoffSchedule) Validate() error {
	for i, s := range b.Stages {
		if s.Attempts <= 0 || s.Interval <= 0 {
			return fmt.Errorf("backoff stage %d: attempts and interval must be positive", i)
		}
	}
	if b.Max <= 0 {
		return fmt.Errorf("backoff max interval must be positive")
	}
	return nil
}

// WaitFunc sleeps for d or until ctx is done.
type WaitFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
