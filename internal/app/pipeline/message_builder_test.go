package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/ghalamif/AegisAgent/internal/app/telemetry"
	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/testutil"
)

type mockSender struct {
	err   error
	size  int
	msgs  []*domain.Message
	corrs []string
}

func (m *mockSender) Send(ctx context.Context, msg *domain.Message, _ map[string]string) (int, error) {
	m.msgs = append(m.msgs, msg)
	id, _ := domain.CorrelationID(ctx)
	m.corrs = append(m.corrs, id)
	return m.size, m.err
}

type mockSettings struct{ max int }

func (m mockSettings) MaxMessageSize() int        { return m.max }
func (m mockSettings) SendTimeout() time.Duration { return time.Second }

func TestMessageBuilderSendsInPriorityOrder(t *testing.T) {
	stats := telemetry.NewCollector(nil)
	q := newQueue(stats)
	for _, p := range []domain.Priority{domain.PriorityLow, domain.PriorityHigh, domain.PriorityOperational} {
		ev := named(p.String())
		ev.Priority = p
		q.Enqueue(ev)
	}

	sender := &mockSender{size: 100}
	mb := NewMessageBuilder(q, sender, mockSettings{max: 256 * 1024}, stats, testutil.NewObs(), "agent", "1.0.0", 1024)
	if err := mb.Execute(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if len(sender.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(sender.msgs))
	}
	got := sender.msgs[0].Events
	if len(got) != 3 || got[0].Name != "Operational" || got[1].Name != "High" || got[2].Name != "Low" {
		t.Fatalf("unexpected drain order")
	}
	if sender.corrs[0] == "" || sender.corrs[0] != sender.msgs[0].CorrelationID {
		t.Fatalf("correlation id not carried through the context")
	}
	if stats.Peek(telemetry.SendSuccess) != 1 || stats.Peek(telemetry.SmallMessages) != 1 {
		t.Fatalf("expected success and small-message counters")
	}
}

func TestMessageBuilderDropsBatchOnFailure(t *testing.T) {
	stats := telemetry.NewCollector(nil)
	q := newQueue(stats)
	q.Enqueue(named("A"))
	q.Enqueue(named("B"))

	sender := &mockSender{err: errors.New("offline")}
	mb := NewMessageBuilder(q, sender, mockSettings{max: 256 * 1024}, stats, testutil.NewObs(), "agent", "1.0.0", 0)
	if err := mb.Execute(context.Background()); err == nil {
		t.Fatalf("expected send error")
	}
	if q.Len(domain.PriorityLow) != 0 {
		t.Fatalf("failed batch must not be requeued")
	}
	if stats.Peek(telemetry.SendFailure) != 1 || stats.Peek(telemetry.SendSuccess) != 0 {
		t.Fatalf("expected one failure")
	}
}

func TestMessageBuilderRespectsBudget(t *testing.T) {
	stats := telemetry.NewCollector(nil)
	q := newQueue(stats)
	first := named("A")
	q.Enqueue(first)
	q.Enqueue(named("B"))

	sender := &mockSender{size: 10}
	mb := NewMessageBuilder(q, sender, mockSettings{}, stats, testutil.NewObs(), "agent", "1.0.0", 0)
	limit := mb.overhead + first.EstimatedSize() + first.EstimatedSize()/2
	mb.settings = mockSettings{max: limit + limit/99}

	if err := mb.Execute(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(sender.msgs[0].Events) != 1 || q.Len(domain.PriorityLow) != 1 {
		t.Fatalf("expected one event sent and one left queued")
	}
}

func TestMessageBuilderSkipsEmptyQueue(t *testing.T) {
	sender := &mockSender{}
	mb := NewMessageBuilder(newQueue(telemetry.NewCollector(nil)), sender, mockSettings{max: 1024},
		telemetry.NewCollector(nil), testutil.NewObs(), "agent", "1.0.0", 0)
	if err := mb.Execute(context.Background()); err != nil || len(sender.msgs) != 0 {
		t.Fatalf("nothing should be sent for an empty queue")
	}
}

// encodingSender serializes each message like the JSON codec does.
type encodingSender struct {
	bodies [][]byte
}

func (s *encodingSender) Send(_ context.Context, msg *domain.Message, _ map[string]string) (int, error) {
	b, err := json.Marshal(msg.Wire())
	if err != nil {
		return 0, err
	}
	s.bodies = append(s.bodies, b)
	return len(b), nil
}

func TestUnencodableEventDoesNotSinkTheBatch(t *testing.T) {
	stats := telemetry.NewCollector(nil)
	q := newQueue(stats)
	obs := testutil.NewObs()
	adm := NewAdmission(q, nil, mockPriorities{}, obs)

	security := named("ProcessCreate")
	security.Priority = domain.PriorityHigh
	adm.Enqueue(security)

	signal := domain.NewEvent(domain.EventDeviceSignal, domain.EventTypeOperational, domain.CategoryTriggered,
		domain.PriorityLow, "1.0", domain.DeviceSignal{SignalID: "temp", Values: map[string]float64{"value": math.NaN()}})
	adm.Enqueue(signal)

	if stats.Peek(telemetry.DroppedLow) != 1 || obs.ErrorCount() != 1 {
		t.Fatalf("expected the NaN event to be a logged drop")
	}

	sender := &encodingSender{}
	mb := NewMessageBuilder(q, sender, mockSettings{max: 256 * 1024}, stats, obs, "agent", "1.0.0", 0)
	if err := mb.Execute(context.Background()); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(sender.bodies) != 1 || !strings.Contains(string(sender.bodies[0]), `"Name":"ProcessCreate"`) {
		t.Fatalf("expected the security event to be delivered")
	}
	if stats.Peek(telemetry.SendSuccess) != 1 || stats.Peek(telemetry.SendFailure) != 0 {
		t.Fatalf("expected one successful send")
	}
}
