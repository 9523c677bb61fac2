package remoteconfig

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/testutil"
)

const validDoc = `{
  "aegisAgentConfiguration": {
    "maxLocalCacheSizeInBytes": {"value": 2560000, "metadata": {"version": 3}},
    "maxMessageSizeInBytes": {"value": 204800},
    "highPriorityQueueSizePercentage": {"value": 20},
    "messageFrequency": {"value": "PT7M"},
    "snapshotFrequency": "PT2H",
    "eventPriorityProcessCreate": {"value": "Low"},
    "eventPriorityConnectionCreate": {"value": "Off"},
    "aggregationEnabledProcessCreate": {"value": false},
    "aggregationIntervalConnectionCreate": {"value": "PT10M"}
  }
}`

func TestParseValidDocument(t *testing.T) {
	res := Parse([]byte(validDoc), "")
	if !res.OK() {
		t.Fatalf("unexpected errors: %v", res.Errors.Err())
	}
	c := res.Config
	if c.MaxLocalCacheSizeInBytes != 2560000 || c.MaxMessageSizeInBytes != 204800 {
		t.Fatalf("unexpected sizes: %+v", c)
	}
	if c.HighPriorityQueueSizePercentage != 20 {
		t.Fatalf("expected 20%%, got %d", c.HighPriorityQueueSizePercentage)
	}
	if c.MessageFrequency != 7*time.Minute || c.SnapshotFrequency != 2*time.Hour {
		t.Fatalf("unexpected frequencies: %s %s", c.MessageFrequency, c.SnapshotFrequency)
	}
	if c.SendTimeout != defaultSendTimeout {
		t.Fatalf("expected default send timeout, got %s", c.SendTimeout)
	}
	if c.Priority(domain.EventProcessCreate) != domain.PriorityLow || c.Priority(domain.EventConnectionCreate) != domain.PriorityOff {
		t.Fatalf("unexpected priorities: %v", c.EventPriorities)
	}
	if c.Priority(domain.EventConfigurationError) != domain.PriorityOperational {
		t.Fatalf("operational events must stay operational")
	}
	if c.AggregationEnabled(domain.EventProcessCreate) {
		t.Fatalf("expected process aggregation disabled")
	}
	if !c.AggregationEnabled(domain.EventConnectionCreate) || c.AggregationInterval(domain.EventConnectionCreate) != 10*time.Minute {
		t.Fatalf("unexpected connection aggregation: %+v", c.Aggregation[domain.EventConnectionCreate])
	}
	if c.AggregationInterval("Unknown") != defaultAggregationInterval {
		t.Fatalf("expected default interval for unconfigured name")
	}
}

func TestParseMissingRequiredFieldReportsOnePath(t *testing.T) {
	doc := `{"aegisAgentConfiguration": {"maxLocalCacheSizeInBytes": {"value": 1000}}}`
	res := Parse([]byte(doc), DefaultSection)
	if res.OK() {
		t.Fatalf("expected failure")
	}
	if len(res.Errors) != 1 {
		t.Fatalf("expected exactly one error, got %v", res.Errors.Paths())
	}
	if res.Errors[0].Path != "aegisAgentConfiguration.maxMessageSizeInBytes" || res.Errors[0].Kind != domain.ConfigErrorNotOptional {
		t.Fatalf("unexpected error: %+v", res.Errors[0])
	}
}

func TestParseCollectsAllFailures(t *testing.T) {
	doc := `{"aegisAgentConfiguration": {
		"maxLocalCacheSizeInBytes": "big",
		"maxMessageSizeInBytes": 10,
		"highPriorityQueueSizePercentage": 150,
		"sendTimeout": "soon",
		"eventPriorityProcessCreate": "Urgent",
		"aggregationEnabledConnectionCreate": "yes"
	}}`
	res := Parse([]byte(doc), DefaultSection)
	want := map[string]string{
		"aegisAgentConfiguration.maxLocalCacheSizeInBytes":           domain.ConfigErrorTypeMismatch,
		"aegisAgentConfiguration.highPriorityQueueSizePercentage":    domain.ConfigErrorOutOfRange,
		"aegisAgentConfiguration.sendTimeout":                        domain.ConfigErrorTypeMismatch,
		"aegisAgentConfiguration.eventPriorityProcessCreate":         domain.ConfigErrorTypeMismatch,
		"aegisAgentConfiguration.aggregationEnabledConnectionCreate": domain.ConfigErrorTypeMismatch,
	}
	if len(res.Errors) != len(want) {
		t.Fatalf("expected %d errors, got %v", len(want), res.Errors.Paths())
	}
	for _, fe := range res.Errors {
		if want[fe.Path] != fe.Kind {
			t.Fatalf("unexpected error %+v", fe)
		}
	}
	if res.Config != nil {
		t.Fatalf("a partially valid document must not produce a config")
	}
}

func TestParseMissingSection(t *testing.T) {
	res := Parse([]byte(`{"other": {}}`), DefaultSection)
	if len(res.Errors) != 1 || res.Errors[0].Path != DefaultSection {
		t.Fatalf("expected section error, got %v", res.Errors.Paths())
	}
	if res := Parse([]byte(`not json`), DefaultSection); res.OK() {
		t.Fatalf("expected invalid JSON to fail")
	}
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"PT30S":     30 * time.Second,
		"PT1H":      time.Hour,
		"PT1M30.5S": 90*time.Second + 500*time.Millisecond,
		"P1DT2H":    26 * time.Hour,
		"P1W":       7 * 24 * time.Hour,
		"pt5m":      5 * time.Minute,
		"90s":       90 * time.Second,
		"1h15m":     75 * time.Minute,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		if err != nil || got != want {
			t.Fatalf("%s: got %s err %v, want %s", in, got, err, want)
		}
	}
	for _, bad := range []string{"", "P", "PT", "P1Y", "PTXS", "fast"} {
		if _, err := ParseDuration(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
	if got := FormatISODuration(90*time.Minute + 5*time.Second); got != "PT1H30M5S" {
		t.Fatalf("unexpected format %s", got)
	}
}

type fakeTwin struct {
	mu       sync.Mutex
	desired  []byte
	delay    time.Duration
	err      error
	reported [][]byte
	onPush   func([]byte)
}

func (f *fakeTwin) Desired(ctx context.Context) ([]byte, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.desired, f.err
}

func (f *fakeTwin) SubscribeDesired(fn func([]byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onPush = fn
	return nil
}

func (f *fakeTwin) Report(_ context.Context, doc []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reported = append(f.reported, doc)
	return nil
}

func (f *fakeTwin) push(raw []byte) {
	f.mu.Lock()
	fn := f.onPush
	f.mu.Unlock()
	fn(raw)
}

func (f *fakeTwin) lastReport() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reported) == 0 {
		return nil
	}
	return f.reported[len(f.reported)-1]
}

type captureSink struct {
	mu     sync.Mutex
	events []*domain.Event
}

func (c *captureSink) Enqueue(e *domain.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func TestFetchInitialTimeoutIsFatal(t *testing.T) {
	twin := &fakeTwin{desired: []byte(validDoc), delay: time.Second}
	s := NewSync(twin, NewStore(nil), "", testutil.NewObs())

	_, err := s.FetchInitial(context.Background(), 10*time.Millisecond)
	if !errors.Is(err, ErrInitialConfigTimeout) {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestFetchInitialInvalidBaseline(t *testing.T) {
	twin := &fakeTwin{desired: []byte(`{"aegisAgentConfiguration": {}}`)}
	store := NewStore(nil)
	s := NewSync(twin, store, "", testutil.NewObs())

	if _, err := s.FetchInitial(context.Background(), time.Second); !errors.Is(err, ErrInvalidBaseline) {
		t.Fatalf("expected invalid baseline, got %v", err)
	}
	if store.Load() != nil {
		t.Fatalf("invalid baseline must not be stored")
	}
}

func TestPushKeepsPreviousConfigOnError(t *testing.T) {
	twin := &fakeTwin{desired: []byte(validDoc)}
	store := NewStore(nil)
	sink := &captureSink{}
	s := NewSync(twin, store, "", testutil.NewObs())
	s.AttachSink(sink)

	initial, err := s.FetchInitial(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("fetch initial: %v", err)
	}
	s.Wait()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	var swaps int
	store.Subscribe(func(_, _ *Config) { swaps++ })

	twin.push([]byte(`{"aegisAgentConfiguration": {"maxLocalCacheSizeInBytes": 5, "eventPriorityProcessCreate": "High"}}`))
	if store.Load() != initial {
		t.Fatalf("previous configuration must remain active")
	}
	if store.Priority(domain.EventProcessCreate) != domain.PriorityLow {
		t.Fatalf("rejected document changed priorities")
	}
	if swaps != 0 {
		t.Fatalf("subscribers notified for a rejected document")
	}
	if len(sink.events) != 1 || sink.events[0].Name != domain.EventConfigurationError {
		t.Fatalf("expected one ConfigurationError event, got %d", len(sink.events))
	}
	ce := sink.events[0].Payloads[0].(domain.ConfigurationError)
	if ce.ConfigurationName != "aegisAgentConfiguration.maxMessageSizeInBytes" || ce.UsedConfiguration != "204800" {
		t.Fatalf("unexpected configuration error: %+v", ce)
	}
	if sink.events[0].Priority != domain.PriorityOperational {
		t.Fatalf("configuration errors travel as operational events")
	}

	twin.push([]byte(`{"aegisAgentConfiguration": {"maxLocalCacheSizeInBytes": 5, "maxMessageSizeInBytes": 6, "sendTimeout": "PT5S"}}`))
	if store.Load().MaxMessageSizeInBytes != 6 || swaps != 1 {
		t.Fatalf("valid document was not applied")
	}

	s.Wait()
	rep := twin.lastReport()
	if got := gjson.GetBytes(rep, "aegisAgentConfiguration.sendTimeout.value").String(); got != "PT5S" {
		t.Fatalf("unexpected reported send timeout %q in %s", got, rep)
	}
	if got := gjson.GetBytes(rep, "aegisAgentConfiguration.maxMessageSizeInBytes.value").Int(); got != 6 {
		t.Fatalf("unexpected reported size %d", got)
	}
}
