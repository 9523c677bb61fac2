package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ghalamif/AegisAgent/internal/app/delivery"
	"github.com/ghalamif/AegisAgent/internal/app/remoteconfig"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	data := `
agent:
  id: device-17
policy:
  max_queue_len: 1000
opcua:
  endpoint: opc.tcp://localhost:4840
  nodes:
    - node_id: "ns=2;s=Demo.Dynamic.Scalar.Double"
hub:
  nats:
    url: nats://127.0.0.1:4222
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Policy.MaxQueueLen != 1000 {
		t.Fatalf("expected MaxQueueLen 1000, got %d", cfg.Policy.MaxQueueLen)
	}
	if cfg.Policy.SchedulerTick != 100*time.Millisecond {
		t.Fatalf("expected SchedulerTick default 100ms, got %s", cfg.Policy.SchedulerTick)
	}
	if cfg.Policy.OperationalQueueLen != 1000 {
		t.Fatalf("expected OperationalQueueLen default 1000, got %d", cfg.Policy.OperationalQueueLen)
	}
	if cfg.Metrics.Addr != ":9100" {
		t.Fatalf("expected default metrics addr :9100, got %s", cfg.Metrics.Addr)
	}
	if cfg.Remote.Section != remoteconfig.DefaultSection {
		t.Fatalf("expected default section, got %s", cfg.Remote.Section)
	}
	if cfg.Hub.Kind != KindNATS || cfg.Twin.Kind != KindNATS {
		t.Fatalf("expected nats hub and twin, got %s/%s", cfg.Hub.Kind, cfg.Twin.Kind)
	}
	if cfg.Hub.Backoff.Delay(4) != delivery.DefaultBackoff().Delay(4) {
		t.Fatalf("expected default backoff schedule, got %+v", cfg.Hub.Backoff)
	}
	if cfg.OPCUA.Nodes[0].SignalID != "ns=2;s=Demo.Dynamic.Scalar.Double" {
		t.Fatalf("expected signal ID fallback to node ID, got %s", cfg.OPCUA.Nodes[0].SignalID)
	}
}

func TestParseCustomBackoffAndTimescaleHub(t *testing.T) {
	cfg, err := Parse([]byte(`
agent:
  id: device-1
  version: 2.1.0
hub:
  kind: timescale
  codec: msgpack
  timescale:
    conn_string: "postgres://localhost/agent?sslmode=disable"
  backoff:
    stages:
      - attempts: 2
        interval: 500ms
    max: 30s
twin:
  kind: redis
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := cfg.Hub.Backoff.Delay(3); got != 30*time.Second {
		t.Fatalf("expected 30s after the stages, got %s", got)
	}
	if got := cfg.Hub.Backoff.Delay(2); got != 500*time.Millisecond {
		t.Fatalf("expected 500ms inside the first stage, got %s", got)
	}
	if cfg.Twin.Kind != KindRedis {
		t.Fatalf("expected redis twin, got %s", cfg.Twin.Kind)
	}
}

func TestTimescaleHubDefaultsTwinToNATS(t *testing.T) {
	cfg, err := Parse([]byte(`
agent:
  id: device-1
hub:
  kind: timescale
  timescale:
    conn_string: "postgres://localhost/agent"
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Twin.Kind != KindNATS {
		t.Fatalf("expected nats twin for a timescale hub, got %s", cfg.Twin.Kind)
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	_, err := Parse([]byte(`
agent:
  id: device-1
hub:
  kind: carrier-pigeon
  codec: xml
  backoff:
    max: -1s
twin:
  kind: timescale
`))
	if err == nil {
		t.Fatalf("expected validation errors")
	}
	for _, want := range []string{"hub.kind", "hub.codec", "hub.backoff", "twin.kind"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}

func TestOPCUAIsOptional(t *testing.T) {
	cfg, err := Parse([]byte("agent:\n  id: device-1\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.OPCUA.Enabled() {
		t.Fatalf("expected opcua to be disabled without an endpoint")
	}

	if _, err := Parse([]byte("agent:\n  id: d\nopcua:\n  endpoint: opc.tcp://x\n")); err == nil {
		t.Fatalf("expected an opcua endpoint without nodes to be rejected")
	}
}
