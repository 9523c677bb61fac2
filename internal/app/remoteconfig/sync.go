package remoteconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/ports"
)

var (
	ErrInitialConfigTimeout = errors.New("remoteconfig: initial configuration not received in time")
	ErrInvalidBaseline      = errors.New("remoteconfig: initial configuration is invalid")
)

// ConfigurationErrorSchemaVersion is the payload schema of ConfigurationError events.
const ConfigurationErrorSchemaVersion = "1.0"

// Sync keeps the Store in step with the remote twin.
type Sync struct {
	twin    ports.TwinClient
	store   *Store
	section string
	obs     ports.Observability

	mu   sync.Mutex
	sink ports.EventSink
	ctx  context.Context

	wg sync.WaitGroup
}

func NewSync(twin ports.TwinClient, store *Store, section string, obs ports.Observability) *Sync {
	if section == "" {
		section = DefaultSection
	}
	return &Sync{twin: twin, store: store, section: section, obs: obs, ctx: context.Background()}
}

// AttachSink sets where ConfigurationError events go. Until a sink is
// attached they are only logged.
func (s *Sync) AttachSink(sink ports.EventSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// FetchInitial blocks until the baseline configuration arrives, for at most
// timeout. Both a timeout and an invalid baseline are fatal to the caller.
func (s *Sync) FetchInitial(ctx context.Context, timeout time.Duration) (*Config, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		raw []byte
		err error
	}
	ch := make(chan reply, 1)
	go func() {
		raw, err := s.twin.Desired(ctx)
		ch <- reply{raw, err}
	}()

	var raw []byte
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w after %s", ErrInitialConfigTimeout, timeout)
	case r := <-ch:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w after %s", ErrInitialConfigTimeout, timeout)
			}
			return nil, fmt.Errorf("fetch desired configuration: %w", r.err)
		}
		raw = r.raw
	}

	res := Parse(raw, s.section)
	if !res.OK() {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBaseline, res.Errors.Err())
	}
	s.store.Swap(res.Config)
	s.obs.LogInfo("remote_config_loaded", ports.Field{Key: "section", Value: s.section})
	s.reportAsync(res.Config)
	return res.Config, nil
}

// Start subscribes to pushed updates. ctx bounds the asynchronous reports.
func (s *Sync) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	if err := s.twin.SubscribeDesired(func(raw []byte) { s.OnPush(raw) }); err != nil {
		return fmt.Errorf("subscribe desired configuration: %w", err)
	}
	return nil
}

// OnPush parses a pushed document. A fully valid document replaces the
// active configuration and reports true; otherwise a ConfigurationError event
// lists every failing path and the active configuration stays in place.
func (s *Sync) OnPush(raw []byte) bool {
	res := Parse(raw, s.section)
	if !res.OK() {
		s.obs.LogError("remote_config_rejected", res.Errors.Err(),
			ports.Field{Key: "paths", Value: res.Errors.Paths()})
		s.obs.IncCounter("aegis_config_errors_total", float64(len(res.Errors)))
		s.reportErrors(res.Errors)
		return false
	}
	s.store.Swap(res.Config)
	s.obs.LogInfo("remote_config_applied", ports.Field{Key: "section", Value: s.section})
	s.reportAsync(res.Config)
	return true
}

func (s *Sync) reportErrors(errs FieldErrors) {
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	if sink == nil {
		return
	}

	cur := s.store.Load()
	payloads := make([]domain.Payload, 0, len(errs))
	for _, fe := range errs {
		payloads = append(payloads, domain.ConfigurationError{
			ConfigurationName: fe.Path,
			ErrorType:         fe.Kind,
			UsedConfiguration: cur.effectiveValue(fe.Path),
			Message:           fe.Message,
		})
	}
	sink.Enqueue(domain.NewEvent(domain.EventConfigurationError, domain.EventTypeOperational,
		domain.CategoryTriggered, domain.PriorityOperational, ConfigurationErrorSchemaVersion, payloads...))
}

func (s *Sync) reportAsync(cfg *Config) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		rctx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		defer cancel()
		if err := s.ReportEffective(rctx, cfg); err != nil {
			s.obs.LogError("remote_config_report_failed", err)
		}
	}()
}

// ReportEffective writes cfg back to the twin under the section name.
func (s *Sync) ReportEffective(ctx context.Context, cfg *Config) error {
	doc, err := json.Marshal(map[string]any{s.section: cfg.Effective()})
	if err != nil {
		return fmt.Errorf("encode effective configuration: %w", err)
	}
	if err := s.twin.Report(ctx, doc); err != nil {
		return fmt.Errorf("report effective configuration: %w", err)
	}
	return nil
}

// Wait blocks until in-flight reports have finished.
func (s *Sync) Wait() { s.wg.Wait() }
