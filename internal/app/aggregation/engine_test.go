package aggregation

import (
	"sync"
	"testing"
	"time"

	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/testutil"
)

type stubSettings struct {
	mu       sync.Mutex
	disabled map[string]bool
	interval time.Duration
}

func (s *stubSettings) AggregationEnabled(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.disabled[name]
}

func (s *stubSettings) AggregationInterval(string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

func (s *stubSettings) disable(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disabled == nil {
		s.disabled = map[string]bool{}
	}
	s.disabled[name] = true
}

type manualClock struct{ t time.Time }

func (c *manualClock) Now() time.Time { return c.t }

func newEngine(t *testing.T, settings *stubSettings) (*Engine, *manualClock) {
	t.Helper()
	clk := &manualClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	eng := NewEngine(settings, testutil.NewObs(),
		[]string{domain.EventProcessCreate, domain.EventConnectionCreate}, WithClock(clk.Now))
	return eng, clk
}

func processEvent(exe string, pid uint32) *domain.Event {
	return domain.NewEvent(domain.EventProcessCreate, domain.EventTypeSecurity, domain.CategoryTriggered,
		domain.PriorityHigh, "1.0", domain.ProcessCreate{Executable: exe, CommandLine: exe + " -x", ProcessID: pid})
}

func connectionEvent(pid uint32) *domain.Event {
	return domain.NewEvent(domain.EventConnectionCreate, domain.EventTypeSecurity, domain.CategoryTriggered,
		domain.PriorityLow, "1.0", domain.ConnectionCreate{
			Executable:    "nginx",
			Protocol:      "tcp",
			Direction:     domain.DirectionInbound,
			LocalAddress:  "10.0.0.2",
			LocalPort:     443,
			RemoteAddress: "10.0.0.9",
			RemotePort:    51000,
			ProcessID:     pid,
		})
}

func TestEqualKeysProduceOneAggregatedEvent(t *testing.T) {
	eng, clk := newEngine(t, &stubSettings{interval: time.Minute})

	if !eng.Offer(processEvent("/usr/bin/ls", 10)) || !eng.Offer(processEvent("/usr/bin/ls", 11)) {
		t.Fatalf("expected both events to be absorbed")
	}

	clk.t = clk.t.Add(time.Minute)
	out := eng.FlushDue()
	if len(out) != 1 {
		t.Fatalf("expected 1 aggregated event, got %d", len(out))
	}
	ev := out[0]
	if ev.Category != domain.CategoryAggregated {
		t.Fatalf("expected aggregated category, got %s", ev.Category)
	}
	p := ev.Payloads[0].(domain.ProcessCreate)
	if p.ExtraDetails[DetailHitCount] != "2" {
		t.Fatalf("expected hit count 2, got %q", p.ExtraDetails[DetailHitCount])
	}
	if p.ProcessID != 0 {
		t.Fatalf("expected process id cleared, got %d", p.ProcessID)
	}
	for _, k := range []string{DetailStartTimeLocal, DetailStartTimeUTC, DetailEndTimeLocal, DetailEndTimeUTC} {
		if p.ExtraDetails[k] == "" {
			t.Fatalf("missing window annotation %s", k)
		}
	}
}

func TestDifferentKeysProduceIndependentBuckets(t *testing.T) {
	eng, clk := newEngine(t, &stubSettings{interval: time.Minute})

	eng.Offer(processEvent("/usr/bin/ls", 1))
	eng.Offer(processEvent("/usr/bin/cat", 2))
	eng.Offer(processEvent("/usr/bin/ls", 3))

	clk.t = clk.t.Add(2 * time.Minute)
	out := eng.FlushDue()
	if len(out) != 2 {
		t.Fatalf("expected 2 aggregated events, got %d", len(out))
	}
	hits := map[string]string{}
	for _, ev := range out {
		p := ev.Payloads[0].(domain.ProcessCreate)
		hits[p.Executable] = p.ExtraDetails[DetailHitCount]
	}
	if hits["/usr/bin/ls"] != "2" || hits["/usr/bin/cat"] != "1" {
		t.Fatalf("unexpected hit counts: %v", hits)
	}
}

func TestConnectionsDifferingOnlyByProcessID(t *testing.T) {
	eng, clk := newEngine(t, &stubSettings{interval: time.Minute})

	for pid := uint32(100); pid < 103; pid++ {
		eng.Offer(connectionEvent(pid))
	}

	clk.t = clk.t.Add(time.Minute)
	out := eng.FlushDue()
	if len(out) != 1 {
		t.Fatalf("expected exactly one aggregated event, got %d", len(out))
	}
	c := out[0].Payloads[0].(domain.ConnectionCreate)
	if c.ExtraDetails[DetailHitCount] != "3" {
		t.Fatalf("expected hit count 3, got %q", c.ExtraDetails[DetailHitCount])
	}
	if c.ProcessID != 0 || c.RemotePort != 0 || c.LocalPort != 443 {
		t.Fatalf("unexpected normalized payload: %+v", c)
	}
}

func TestWindowNotDueKeepsBuckets(t *testing.T) {
	eng, clk := newEngine(t, &stubSettings{interval: time.Hour})

	eng.Offer(processEvent("/bin/true", 1))
	clk.t = clk.t.Add(30 * time.Minute)
	if out := eng.FlushDue(); len(out) != 0 {
		t.Fatalf("expected nothing before the window closes, got %d", len(out))
	}
	if eng.Pending() != 1 {
		t.Fatalf("expected bucket to stay open")
	}

	clk.t = clk.t.Add(30 * time.Minute)
	if out := eng.FlushDue(); len(out) != 1 {
		t.Fatalf("expected flush at window end, got %d", len(out))
	}
	if out := eng.FlushDue(); len(out) != 0 {
		t.Fatalf("a window with no occurrences must emit nothing")
	}
}

func TestDisabledTypeIsForwarded(t *testing.T) {
	settings := &stubSettings{interval: time.Minute}
	eng, _ := newEngine(t, settings)

	eng.Offer(processEvent("/bin/a", 1))
	settings.disable(domain.EventProcessCreate)

	if eng.Offer(processEvent("/bin/a", 2)) {
		t.Fatalf("expected disabled type to be forwarded")
	}
	out := eng.FlushDue()
	if len(out) != 1 {
		t.Fatalf("expected open bucket flushed after disable, got %d", len(out))
	}
	if got := out[0].Payloads[0].(domain.ProcessCreate).ExtraDetails[DetailHitCount]; got != "1" {
		t.Fatalf("expected hit count 1, got %s", got)
	}
}

func TestUnregisteredAndAggregatedEventsAreForwarded(t *testing.T) {
	eng, _ := newEngine(t, &stubSettings{interval: time.Minute})

	other := domain.NewEvent(domain.EventConfigurationError, domain.EventTypeOperational, domain.CategoryTriggered,
		domain.PriorityOperational, "1.0", domain.ConfigurationError{ConfigurationName: "x"})
	if eng.Offer(other) {
		t.Fatalf("unregistered event absorbed")
	}

	agg := processEvent("/bin/a", 1)
	agg.Category = domain.CategoryAggregated
	if eng.Offer(agg) {
		t.Fatalf("already aggregated event absorbed")
	}
}

func TestFlushAllIgnoresWindowAge(t *testing.T) {
	eng, _ := newEngine(t, &stubSettings{interval: time.Hour})
	eng.Offer(processEvent("/bin/a", 1))
	eng.Offer(connectionEvent(1))

	if out := eng.FlushAll(); len(out) != 2 {
		t.Fatalf("expected 2 events, got %d", len(out))
	}
	if eng.Pending() != 0 {
		t.Fatalf("expected no open buckets")
	}
}
