package aegisagent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ghalamif/AegisAgent/internal/adapters/codec"
	"github.com/ghalamif/AegisAgent/internal/adapters/credentials"
	"github.com/ghalamif/AegisAgent/internal/adapters/nats"
	"github.com/ghalamif/AegisAgent/internal/adapters/observability"
	"github.com/ghalamif/AegisAgent/internal/adapters/opcua"
	"github.com/ghalamif/AegisAgent/internal/adapters/queue"
	"github.com/ghalamif/AegisAgent/internal/adapters/redis"
	"github.com/ghalamif/AegisAgent/internal/adapters/timescale"
	"github.com/ghalamif/AegisAgent/internal/app/aggregation"
	"github.com/ghalamif/AegisAgent/internal/app/config"
	"github.com/ghalamif/AegisAgent/internal/app/delivery"
	"github.com/ghalamif/AegisAgent/internal/app/pipeline"
	"github.com/ghalamif/AegisAgent/internal/app/remoteconfig"
	"github.com/ghalamif/AegisAgent/internal/app/scheduler"
	"github.com/ghalamif/AegisAgent/internal/app/telemetry"
	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/ports"
)

// ErrAlreadyStarted is returned by a second Start call.
var ErrAlreadyStarted = errors.New("aegisagent: already started")

// Errors returned by Start when the baseline configuration cannot be loaded.
var (
	ErrInitialConfigTimeout = remoteconfig.ErrInitialConfigTimeout
	ErrInvalidBaseline      = remoteconfig.ErrInvalidBaseline
)

// Option customizes the dependencies used by Agent.
type Option func(*overrides)

type overrides struct {
	transport  ports.Transport
	twin       ports.TwinClient
	creds      ports.CredentialsProvider
	obs        ports.Observability
	registry   *prometheus.Registry
	generators []ports.EventGenerator
	aggregated []string
}

// WithTransport replaces the hub transport selected by hub.kind.
func WithTransport(t Transport) Option {
	return func(o *overrides) {
		o.transport = t
	}
}

// WithTwin replaces the twin client selected by twin.kind.
func WithTwin(t TwinClient) Option {
	return func(o *overrides) {
		o.twin = t
	}
}

// WithCredentials replaces the configured credentials provider.
func WithCredentials(p CredentialsProvider) Option {
	return func(o *overrides) {
		o.creds = p
	}
}

// WithObservability plugs in a custom logging/metrics backend.
func WithObservability(obs Observability) Option {
	return func(o *overrides) {
		o.obs = obs
	}
}

// WithRegistry makes the default observability backend register its metrics
// on reg, which the metrics endpoint then serves.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *overrides) {
		o.registry = reg
	}
}

// WithGenerators adds event generators polled by the producer scheduler.
func WithGenerators(gens ...EventGenerator) Option {
	return func(o *overrides) {
		o.generators = append(o.generators, gens...)
	}
}

// WithAggregatedEvents sets the event names the aggregation engine handles.
// ProcessCreate and ConnectionCreate are used when not set.
func WithAggregatedEvents(names ...string) Option {
	return func(o *overrides) {
		o.aggregated = append(o.aggregated, names...)
	}
}

// Agent wires generators, admission, aggregation, batching and delivery to
// the remote configuration and exposes lifecycle hooks for embedding the
// agent inside any Go service.
type Agent struct {
	cfg        *Config
	obs        ports.Observability
	registry   *prometheus.Registry
	transport  ports.Transport
	twin       ports.TwinClient
	twinCloser io.Closer
	creds      ports.CredentialsProvider
	codec      ports.Codec
	generators []ports.EventGenerator
	signals    *opcua.Generator
	aggregated []string

	store     *remoteconfig.Store
	sync      *remoteconfig.Sync
	stats     *telemetry.Collector
	queue     *queue.PriorityQueue
	engine    *aggregation.Engine
	admission *pipeline.Admission
	client    *delivery.Client
	producer  *scheduler.Scheduler
	consumer  *scheduler.Scheduler

	metricsSrv  *http.Server
	metricsAddr string
	gaugeStopCh chan struct{}

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc

	fatalCh     chan struct{}
	fatalOnce   sync.Once
	fatalErr    error
	disposeOnce sync.Once
	disposeErr  error
}

// New bootstraps the default adapters for cfg: the hub transport and twin
// named in the configuration, Prometheus/zap observability and the OPC UA
// signal generator when an endpoint is configured. Options override any of
// them. Nothing connects until Start.
func New(cfg *Config, opts ...Option) (*Agent, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var o overrides
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	reg := o.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	obs := o.obs
	if obs == nil {
		logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Development)
		if err != nil {
			return nil, err
		}
		obs = observability.NewPromObs(logger, reg)
	}

	enc, err := codec.New(cfg.Hub.Codec)
	if err != nil {
		return nil, err
	}

	tr := o.transport
	if tr == nil {
		tr, err = newTransport(cfg.Hub)
		if err != nil {
			return nil, err
		}
	}

	creds := o.creds
	if creds == nil {
		creds = credentials.New(cfg.Credentials)
	}

	gens := append([]ports.EventGenerator(nil), o.generators...)
	var signals *opcua.Generator
	if cfg.OPCUA.Enabled() {
		signals, err = opcua.NewGenerator(cfg.OPCUA, obs)
		if err != nil {
			return nil, fmt.Errorf("opcua: %w", err)
		}
		gens = append(gens, signals)
	}

	aggregated := o.aggregated
	if len(aggregated) == 0 {
		aggregated = []string{domain.EventProcessCreate, domain.EventConnectionCreate}
	}

	return &Agent{
		cfg:        cfg,
		obs:        obs,
		registry:   reg,
		transport:  tr,
		twin:       o.twin,
		creds:      creds,
		codec:      enc,
		generators: gens,
		signals:    signals,
		aggregated: aggregated,
		store:      remoteconfig.NewStore(nil),
		stats:      telemetry.NewCollector(obs),
		fatalCh:    make(chan struct{}),
	}, nil
}

// Conf loads YAML from disk and builds an Agent from it.
func Conf(path string, opts ...Option) (*Agent, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return New(cfg, opts...)
}

func newTransport(hub config.HubConfig) (ports.Transport, error) {
	switch hub.Kind {
	case config.KindNATS:
		return nats.NewTransport(hub.NATS), nil
	case config.KindRedis:
		return redis.NewTransport(hub.Redis), nil
	case config.KindTimescale:
		return timescale.NewTransport(hub.Timescale, nil), nil
	default:
		return nil, fmt.Errorf("unknown hub kind %q", hub.Kind)
	}
}

type twinConn interface {
	ports.TwinClient
	io.Closer
}

func (a *Agent) dialTwin(ctx context.Context) (twinConn, error) {
	creds, err := a.creds.Credentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("twin credentials: %w", err)
	}
	switch a.cfg.Twin.Kind {
	case config.KindNATS:
		return nats.DialTwin(a.cfg.Hub.NATS, creds)
	case config.KindRedis:
		return redis.NewTwin(a.cfg.Hub.Redis, creds)
	default:
		return nil, fmt.Errorf("unknown twin kind %q", a.cfg.Twin.Kind)
	}
}

// Start fetches the baseline remote configuration, then starts delivery and
// both schedulers. It returns once everything is running; a baseline that
// does not arrive in time or does not validate is returned as an error and
// nothing is left running.
func (a *Agent) Start(ctx context.Context) error {
	if a == nil {
		return fmt.Errorf("agent is nil")
	}
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return ErrAlreadyStarted
	}
	a.started = true
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.mu.Unlock()

	if a.twin == nil {
		twin, err := a.dialTwin(runCtx)
		if err != nil {
			cancel()
			return err
		}
		a.twin = twin
		a.twinCloser = twin
	}

	a.sync = remoteconfig.NewSync(a.twin, a.store, a.cfg.Remote.Section, a.obs)
	initial, err := a.sync.FetchInitial(runCtx, a.cfg.Remote.InitialTimeout)
	if err != nil {
		a.obs.LogCritical("initial_configuration_failed", err)
		cancel()
		return errors.Join(err, a.closeTwin())
	}

	a.queue = queue.NewPriorityQueue(a.queueLimits(initial), a.stats)
	a.store.Subscribe(func(_, cur *remoteconfig.Config) {
		a.queue.Resize(a.queueLimits(cur))
	})
	a.engine = aggregation.NewEngine(a.store, a.obs, a.aggregated)
	a.admission = pipeline.NewAdmission(a.queue, a.engine, a.store, a.obs)
	a.sync.AttachSink(a.admission)
	if err := a.sync.Start(runCtx); err != nil {
		cancel()
		return errors.Join(err, a.closeTwin())
	}

	a.client = delivery.NewClient(a.transport, a.creds, a.codec, a.obs, delivery.WithBackoff(a.cfg.Hub.Backoff))
	a.client.Start(runCtx)

	if err := a.startMetrics(); err != nil {
		cancel()
		return errors.Join(err, a.client.Close(), a.closeTwin())
	}
	a.gaugeStopCh = make(chan struct{})
	go a.recordGauges(a.gaugeStopCh, time.Second)

	if a.signals != nil {
		if err := a.signals.Start(runCtx); err != nil {
			a.obs.LogError("opcua_start_failed", err, ports.Field{Key: "endpoint", Value: a.cfg.OPCUA.Endpoint})
		}
	}

	a.buildSchedulers()
	if err := a.producer.Start(runCtx, false); err != nil {
		return err
	}
	if err := a.consumer.Start(runCtx, false); err != nil {
		return err
	}

	a.obs.LogInfo("agent_started",
		ports.Field{Key: "agent_id", Value: a.cfg.Agent.ID},
		ports.Field{Key: "transport", Value: a.transport.Name()},
		ports.Field{Key: "generators", Value: len(a.generators)})
	return nil
}

// buildSchedulers registers the producer tasks (generators, aggregation
// flush, statistics) and the consumer task (message builder).
func (a *Agent) buildSchedulers() {
	pol := a.cfg.Policy
	now := time.Now()

	a.producer = scheduler.New("producer", pol.SchedulerTick, a.obs, scheduler.WithFatalHandler(a.onFatal))
	for _, g := range a.generators {
		a.producer.AddTask(pipeline.GeneratorTask(g, a.admission), pol.GeneratorInterval, now)
	}
	a.producer.AddTask(pipeline.AggregationFlushTask(a.admission), pol.AggregationCheck, now)
	statistics := pipeline.GeneratorTask(telemetry.NewStatisticsGenerator(a.stats), a.admission)
	a.producer.AddTask(scheduler.Every(a.store.SnapshotFrequency, statistics), pol.SchedulerTick, now)

	builder := pipeline.NewMessageBuilder(a.queue, a.client, a.store, a.stats, a.obs,
		a.cfg.Agent.ID, a.cfg.Agent.Version, pol.SmallMessageBytes)
	a.consumer = scheduler.New("consumer", pol.SchedulerTick, a.obs, scheduler.WithFatalHandler(a.onFatal))
	a.consumer.AddTask(scheduler.Every(a.store.MessageFrequency, builder), pol.SchedulerTick, now)
}

func (a *Agent) queueLimits(rc *remoteconfig.Config) map[domain.Priority]ports.ClassLimits {
	operational := ports.ClassLimits{
		MaxEvents: a.cfg.Policy.OperationalQueueLen,
		MaxBytes:  a.cfg.Policy.OperationalQueueBytes,
	}
	return queue.SplitLimits(a.cfg.Policy.MaxQueueLen, rc.MaxLocalCacheSizeInBytes,
		rc.HighPriorityQueueSizePercentage, operational)
}

// onFatal runs on a scheduler goroutine whose loop panicked. Dispose waits
// for that goroutine, so it runs separately.
func (a *Agent) onFatal(err error) {
	a.fatalOnce.Do(func() {
		a.fatalErr = err
		close(a.fatalCh)
		go func() { _ = a.Dispose() }()
	})
}

// Run starts the agent and blocks until ctx is cancelled or the agent fails
// fatally, then disposes it.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		_ = a.Dispose()
		return err
	}
	select {
	case <-ctx.Done():
	case <-a.fatalCh:
	}
	err := a.Dispose()
	if a.fatalErr != nil {
		return errors.Join(a.fatalErr, err)
	}
	return err
}

// Dispose stops the schedulers and releases every connection. It is safe to
// call more than once and after a failed Start; later calls return the result
// of the first.
func (a *Agent) Dispose() error {
	a.disposeOnce.Do(func() {
		a.mu.Lock()
		cancel := a.cancel
		a.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		if a.producer != nil {
			a.producer.Wait()
		}
		if a.consumer != nil {
			a.consumer.Wait()
		}
		if a.gaugeStopCh != nil {
			close(a.gaugeStopCh)
		}
		if a.engine != nil {
			if open := a.engine.Pending(); open > 0 {
				a.obs.LogInfo("aggregation_buckets_discarded", ports.Field{Key: "buckets", Value: open})
			}
		}

		var errs []error
		if a.signals != nil {
			errs = append(errs, a.signals.Stop())
		}
		if a.client != nil {
			errs = append(errs, a.client.Close())
		}
		if a.sync != nil {
			a.sync.Wait()
		}
		errs = append(errs, a.closeTwin())

		if a.metricsSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := a.metricsSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs = append(errs, err)
			}
			cancel()
		}

		a.disposeErr = errors.Join(errs...)
		a.obs.LogInfo("agent_disposed")
		if s, ok := a.obs.(interface{ Sync() error }); ok {
			_ = s.Sync()
		}
	})
	return a.disposeErr
}

func (a *Agent) closeTwin() error {
	if a.twinCloser == nil {
		return nil
	}
	err := a.twinCloser.Close()
	a.twinCloser = nil
	return err
}

func (a *Agent) startMetrics() error {
	if a.cfg.Metrics.Addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", a.cfg.Metrics.Addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	a.metricsAddr = ln.Addr().String()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if a.client != nil && a.client.State() != delivery.StateConnected {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(a.client.State().String()))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	a.metricsSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := a.metricsSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.obs.LogError("metrics_server_exited", err)
		}
	}()
	return nil
}

// MetricsAddr is the address the metrics server listens on, empty when it is
// disabled or not yet started.
func (a *Agent) MetricsAddr() string { return a.metricsAddr }

var gaugeClasses = []domain.Priority{domain.PriorityOperational, domain.PriorityHigh, domain.PriorityLow}

func (a *Agent) recordGauges(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, p := range gaugeClasses {
				label := ports.Field{Key: "priority", Value: p.String()}
				a.obs.SetGauge("aegis_queue_length", float64(a.queue.Len(p)), label)
				a.obs.SetGauge("aegis_queue_bytes", float64(a.queue.Bytes(p)), label)
			}
			a.obs.SetGauge("aegis_aggregation_open_buckets", float64(a.engine.Pending()))
		}
	}
}

// Status is a point-in-time view of the running agent.
type Status struct {
	Delivery    string
	Queued      map[string]int
	OpenBuckets int
	Counters    map[string]int64
}

// Status reads the queues and counters without resetting anything.
func (a *Agent) Status() Status {
	st := Status{
		Delivery: delivery.StateDisconnected.String(),
		Queued:   make(map[string]int, len(gaugeClasses)),
		Counters: a.stats.PeekAll(),
	}
	if a.client != nil {
		st.Delivery = a.client.State().String()
	}
	if a.queue != nil {
		for _, p := range gaugeClasses {
			st.Queued[p.String()] = a.queue.Len(p)
		}
	}
	if a.engine != nil {
		st.OpenBuckets = a.engine.Pending()
	}
	return st
}
