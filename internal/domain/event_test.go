package domain

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func TestWireEventOmitsPriority(t *testing.T) {
	ev := NewEventAt(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), EventProcessCreate,
		EventTypeSecurity, CategoryTriggered, PriorityHigh, "1.0",
		ProcessCreate{Executable: "/bin/sh", ProcessID: 7})

	b, err := json.Marshal(ev.Wire())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out := string(b)
	if strings.Contains(out, "Priority\"") || strings.Contains(out, "High") {
		t.Fatalf("priority leaked onto the wire: %s", out)
	}
	for _, field := range []string{`"Name"`, `"EventType":"Security"`, `"IsEmpty":false`, `"Id"`, `"Category":"Triggered"`, `"TimestampLocal"`, `"TimestampUTC"`, `"Payload"`} {
		if !strings.Contains(out, field) {
			t.Fatalf("expected %s in %s", field, out)
		}
	}
	if ev.EstimatedSize() != len(b) {
		t.Fatalf("estimated size %d, serialized %d", ev.EstimatedSize(), len(b))
	}
}

func TestMeasureReportsUnencodableEvent(t *testing.T) {
	ev := NewEvent(EventDeviceSignal, EventTypeOperational, CategoryTriggered, PriorityLow, "1.0",
		DeviceSignal{SignalID: "temp", Values: map[string]float64{"value": math.Inf(1)}})
	n, err := ev.Measure()
	if !errors.Is(err, ErrUnencodable) {
		t.Fatalf("expected ErrUnencodable, got %v", err)
	}
	if n != 0 || ev.EstimatedSize() != 0 {
		t.Fatalf("expected no size for an unencodable event, got %d", n)
	}

	ok := NewEvent(EventDeviceSignal, EventTypeOperational, CategoryTriggered, PriorityLow, "1.0",
		DeviceSignal{SignalID: "temp", Values: map[string]float64{"value": 21.5}})
	if n, err := ok.Measure(); err != nil || n == 0 {
		t.Fatalf("unexpected measure %d %v", n, err)
	}
}

func TestEmptyEventSerializesEmptyPayload(t *testing.T) {
	ev := NewEvent("Heartbeat", EventTypeOperational, CategoryPeriodic, PriorityOperational, "1.0")
	if !ev.IsEmpty() {
		t.Fatalf("expected empty event")
	}
	b, _ := json.Marshal(ev.Wire())
	if !strings.Contains(string(b), `"Payload":[]`) {
		t.Fatalf("expected empty payload array, got %s", b)
	}
}

func TestConnectionCreateKeyIgnoresVolatileSide(t *testing.T) {
	in1 := ConnectionCreate{Executable: "sshd", Protocol: "tcp", Direction: DirectionInbound, LocalPort: 22, RemotePort: 50001, ProcessID: 1}
	in2 := ConnectionCreate{Executable: "sshd", Protocol: "tcp", Direction: DirectionInbound, LocalPort: 22, RemotePort: 50999, ProcessID: 2}
	if in1.AggregationKey() != in2.AggregationKey() {
		t.Fatalf("inbound connections differing in remote port should share a key")
	}

	out1 := ConnectionCreate{Executable: "curl", Protocol: "tcp", Direction: DirectionOutbound, LocalPort: 40000, RemotePort: 443}
	out2 := ConnectionCreate{Executable: "curl", Protocol: "tcp", Direction: DirectionOutbound, LocalPort: 40001, RemotePort: 443}
	if out1.AggregationKey() != out2.AggregationKey() {
		t.Fatalf("outbound connections differing in local port should share a key")
	}

	norm := in1.Normalize().(ConnectionCreate)
	if norm.RemotePort != 0 || norm.ProcessID != 0 || norm.LocalPort != 22 {
		t.Fatalf("unexpected normalized inbound payload: %+v", norm)
	}
}

func TestAnnotateDoesNotMutateReceiver(t *testing.T) {
	orig := ProcessCreate{Executable: "a", ExtraDetails: map[string]string{"k": "v"}}
	annotated := orig.Annotate(map[string]string{"HitCount": "3"}).(ProcessCreate)
	if _, ok := orig.ExtraDetails["HitCount"]; ok {
		t.Fatalf("receiver details were modified")
	}
	if annotated.ExtraDetails["HitCount"] != "3" || annotated.ExtraDetails["k"] != "v" {
		t.Fatalf("unexpected annotated details: %v", annotated.ExtraDetails)
	}
}

func TestNewMessageUsesContextCorrelationID(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "corr-1")
	ev := NewEvent(EventProcessCreate, EventTypeSecurity, CategoryTriggered, PriorityLow, "1.0", ProcessCreate{})
	msg := NewMessage(ctx, "agent", "1.2.3", []*Event{ev})
	if msg.CorrelationID != "corr-1" {
		t.Fatalf("expected correlation id from context, got %q", msg.CorrelationID)
	}
	if msg.EstimatedSize != ev.EstimatedSize() {
		t.Fatalf("expected envelope size %d, got %d", ev.EstimatedSize(), msg.EstimatedSize)
	}
	if w := msg.Wire(); w.MessageSchemaVersion != MessageSchemaVersion || len(w.Events) != 1 {
		t.Fatalf("unexpected wire message: %+v", w)
	}

	other := NewMessage(context.Background(), "agent", "1.2.3", nil)
	if other.CorrelationID == "" {
		t.Fatalf("expected a generated correlation id")
	}
}

func TestParsePriority(t *testing.T) {
	for _, p := range []Priority{PriorityOff, PriorityLow, PriorityHigh, PriorityOperational} {
		got, err := ParsePriority(strings.ToUpper(p.String()))
		if err != nil || got != p {
			t.Fatalf("round trip %s: got %s err %v", p, got, err)
		}
	}
	if _, err := ParsePriority("urgent"); err == nil {
		t.Fatalf("expected error for unknown priority")
	}
}
