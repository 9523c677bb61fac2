package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ghalamif/AegisAgent/internal/ports"
)

type labelledCounter struct {
	vec    *prometheus.CounterVec
	labels []string
}

type labelledGauge struct {
	vec    *prometheus.GaugeVec
	labels []string
}

// PromObs implements ports.Observability with zap for logs and Prometheus for
// metrics. Unknown metric names are ignored; fields that do not match a
// metric's labels are dropped.
type PromObs struct {
	log      *zap.Logger
	counters map[string]labelledCounter
	gauges   map[string]labelledGauge
	histos   map[string]prometheus.Observer
}

func NewPromObs(logger *zap.Logger, reg prometheus.Registerer) *PromObs {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	p := &PromObs{
		log:      logger,
		counters: make(map[string]labelledCounter),
		gauges:   make(map[string]labelledGauge),
		histos:   make(map[string]prometheus.Observer),
	}

	p.counter(reg, "aegis_agent_counter_total", "Agent self-telemetry counters, by kind.", "kind")
	p.counter(reg, "aegis_task_failures_total", "Scheduled tasks that returned an error or panicked.", "task")
	p.counter(reg, "aegis_events_discarded_total", "Events discarded because their priority is Off.", "event")
	p.counter(reg, "aegis_aggregated_events_total", "Aggregated events emitted by window flushes.", "event")
	p.counter(reg, "aegis_config_errors_total", "Remote configuration properties rejected by validation.")
	p.counter(reg, "aegis_reconnect_attempts_total", "Hub reconnection attempts.")
	p.counter(reg, "aegis_events_sent_total", "Events delivered to the hub.")
	p.counter(reg, "aegis_events_lost_total", "Events dropped with a batch that failed to send.")
	p.counter(reg, "aegis_device_signals_dropped_total", "Device samples dropped because the generator buffer was full or the value was not finite.", "source")

	p.gauge(reg, "aegis_queue_length", "Events buffered per priority class.", "priority")
	p.gauge(reg, "aegis_queue_bytes", "Estimated bytes buffered per priority class.", "priority")
	p.gauge(reg, "aegis_delivery_connected", "1 while the hub connection is up.", "transport")
	p.gauge(reg, "aegis_aggregation_open_buckets", "Open aggregation buckets across all windows.")

	taskLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "aegis_task_duration_seconds",
		Help:    "Duration of successful scheduled task runs.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
	sendLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "aegis_send_latency_seconds",
		Help:    "Latency of successful message sends.",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})
	reg.MustRegister(taskLatency, sendLatency)
	p.histos["aegis_task_duration_seconds"] = taskLatency
	p.histos["aegis_send_latency_seconds"] = sendLatency

	return p
}

func (p *PromObs) counter(reg prometheus.Registerer, name, help string, labels ...string) {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
	reg.MustRegister(vec)
	p.counters[name] = labelledCounter{vec: vec, labels: labels}
}

func (p *PromObs) gauge(reg prometheus.Registerer, name, help string, labels ...string) {
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, labels)
	reg.MustRegister(vec)
	p.gauges[name] = labelledGauge{vec: vec, labels: labels}
}

func labelValues(names []string, fields []ports.Field) []string {
	out := make([]string, len(names))
	for i, n := range names {
		for _, f := range fields {
			if f.Key == n {
				out[i] = fmt.Sprint(f.Value)
				break
			}
		}
	}
	return out
}

func zapFields(fields []ports.Field) []zapcore.Field {
	out := make([]zapcore.Field, 0, len(fields))
	for _, f := range fields {
		out = append(out, zap.Any(f.Key, f.Value))
	}
	return out
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.log.Info(msg, zapFields(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(zapFields(fields), zap.Error(err))...)
}

// LogCritical logs at error level with critical=true; zap's higher levels
// would exit or panic.
func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.log.Error(msg, append(zapFields(fields), zap.Error(err), zap.Bool("critical", true))...)
}

func (p *PromObs) IncCounter(name string, v float64, fields ...ports.Field) {
	if c, ok := p.counters[name]; ok {
		c.vec.WithLabelValues(labelValues(c.labels, fields)...).Add(v)
	}
}

func (p *PromObs) ObserveLatency(name string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name string, v float64, fields ...ports.Field) {
	if g, ok := p.gauges[name]; ok {
		g.vec.WithLabelValues(labelValues(g.labels, fields)...).Set(v)
	}
}

// Sync flushes buffered log entries.
func (p *PromObs) Sync() error { return p.log.Sync() }

var _ ports.Observability = (*PromObs)(nil)
