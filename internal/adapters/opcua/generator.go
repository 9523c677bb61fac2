package opcua

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/ports"
)

// SignalSchemaVersion is the payload schema of DeviceSignal events.
const SignalSchemaVersion = "1.0"

// Config captures the runtime details required to open an OPC UA session.
type Config struct {
	Endpoint         string        `yaml:"endpoint"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	SecurityMode     string        `yaml:"security_mode"`
	SecurityPolicy   string        `yaml:"security_policy"`
	ApplicationName  string        `yaml:"application_name"`
	PublishInterval  time.Duration `yaml:"publish_interval"`
	SamplingInterval time.Duration `yaml:"sampling_interval"`
	BufferSize       int           `yaml:"buffer_size"`
	Nodes            []NodeConfig  `yaml:"nodes"`
}

// NodeConfig defines a monitored node.
type NodeConfig struct {
	NodeID   string `yaml:"node_id"`
	SignalID string `yaml:"signal_id"`
	ValueKey string `yaml:"value_key"`
}

// Enabled reports whether an endpoint is configured at all.
func (c *Config) Enabled() bool { return c.Endpoint != "" }

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "AegisAgent"
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = time.Second
	}
	if c.SamplingInterval < 0 {
		c.SamplingInterval = 0
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 1024
	}
	for i := range c.Nodes {
		if c.Nodes[i].SignalID == "" {
			c.Nodes[i].SignalID = c.Nodes[i].NodeID
		}
		if c.Nodes[i].ValueKey == "" {
			c.Nodes[i].ValueKey = "value"
		}
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if len(c.Nodes) == 0 {
		return errors.New("at least one node must be configured")
	}
	for _, n := range c.Nodes {
		if _, err := ua.ParseNodeID(n.NodeID); err != nil {
			return fmt.Errorf("node %q: %w", n.NodeID, err)
		}
	}
	return nil
}

// Generator subscribes to OPC UA data changes and buffers them as
// DeviceSignal events until the scheduler polls GetEvents. When the buffer is
// full new samples are dropped.
type Generator struct {
	cfg Config
	obs ports.Observability
	now func() time.Time

	mu      sync.Mutex
	client  *opcua.Client
	sub     *opcua.Subscription
	cancel  context.CancelFunc
	handles map[uint32]NodeConfig
	seq     map[string]uint64
	pending []*domain.Event
	started bool

	wg sync.WaitGroup
}

func NewGenerator(cfg Config, obs ports.Observability) (*Generator, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	handles := make(map[uint32]NodeConfig, len(cfg.Nodes))
	for i, n := range cfg.Nodes {
		handles[uint32(i+1)] = n
	}
	return &Generator{
		cfg:     cfg,
		obs:     obs,
		now:     time.Now,
		handles: handles,
		seq:     make(map[string]uint64),
	}, nil
}

func (g *Generator) Name() string { return "opcua" }

// Priority is the generator's default class; the live per-event priority
// comes from the remote configuration.
func (g *Generator) Priority() domain.Priority { return domain.PriorityLow }

// GetEvents hands over everything buffered since the previous call.
func (g *Generator) GetEvents(context.Context) ([]*domain.Event, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := g.pending
	g.pending = nil
	return out, nil
}

// Start opens the session and monitors every configured node.
func (g *Generator) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return errors.New("opcua generator already started")
	}
	g.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	client, err := opcua.NewClient(g.cfg.Endpoint, g.clientOptions()...)
	if err != nil {
		cancel()
		return fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(runCtx); err != nil {
		cancel()
		return fmt.Errorf("opcua connect: %w", err)
	}

	notifyCh := make(chan *opcua.PublishNotificationData, len(g.cfg.Nodes)*4)
	sub, err := client.Subscribe(runCtx, &opcua.SubscriptionParameters{
		Interval: g.cfg.PublishInterval,
	}, notifyCh)
	if err != nil {
		cancel()
		_ = client.Close(ctx)
		return fmt.Errorf("opcua subscribe: %w", err)
	}

	for handle, node := range g.handles {
		nodeID, _ := ua.ParseNodeID(node.NodeID)
		req := opcua.NewMonitoredItemCreateRequestWithDefaults(nodeID, ua.AttributeIDValue, handle)
		if g.cfg.SamplingInterval > 0 {
			req.RequestedParameters.SamplingInterval = float64(g.cfg.SamplingInterval / time.Millisecond)
		}
		res, err := sub.Monitor(runCtx, ua.TimestampsToReturnBoth, req)
		if err == nil && len(res.Results) == 0 {
			err = errors.New("empty result")
		}
		if err == nil && res.Results[0].StatusCode != ua.StatusOK {
			err = res.Results[0].StatusCode
		}
		if err != nil {
			cancel()
			_ = sub.Cancel(ctx)
			_ = client.Close(ctx)
			return fmt.Errorf("monitor node %q: %w", node.NodeID, err)
		}
	}

	g.mu.Lock()
	g.client = client
	g.sub = sub
	g.cancel = cancel
	g.started = true
	g.mu.Unlock()

	g.wg.Add(1)
	go g.consume(runCtx, notifyCh)
	return nil
}

// Stop cancels the subscription and closes the session.
func (g *Generator) Stop() error {
	g.mu.Lock()
	if !g.started {
		g.mu.Unlock()
		return nil
	}
	cancel, sub, client := g.cancel, g.sub, g.client
	g.started = false
	g.cancel, g.sub, g.client = nil, nil, nil
	g.mu.Unlock()

	cancel()

	ctx, ctxCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ctxCancel()

	var err error
	if e := sub.Cancel(ctx); e != nil && !errors.Is(e, context.Canceled) {
		err = errors.Join(err, e)
	}
	if e := client.Close(ctx); e != nil && !errors.Is(e, context.Canceled) {
		err = errors.Join(err, e)
	}
	g.wg.Wait()
	return err
}

func (g *Generator) consume(ctx context.Context, ch <-chan *opcua.PublishNotificationData) {
	defer g.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case notif := <-ch:
			if notif == nil {
				continue
			}
			if notif.Error != nil {
				g.obs.LogError("opcua notification", notif.Error, ports.Field{Key: "endpoint", Value: g.cfg.Endpoint})
				continue
			}
			if data, ok := notif.Value.(*ua.DataChangeNotification); ok {
				g.handleDataChange(data)
			}
		}
	}
}

func (g *Generator) handleDataChange(data *ua.DataChangeNotification) {
	for _, item := range data.MonitoredItems {
		if item == nil || item.Value == nil {
			continue
		}
		node, ok := g.handles[item.ClientHandle]
		if !ok {
			continue
		}
		fv, ok := variantToFloat(item.Value.Value)
		if !ok {
			g.obs.LogInfo("opcua: unsupported value type",
				ports.Field{Key: "node", Value: node.NodeID},
				ports.Field{Key: "type", Value: fmt.Sprintf("%T", item.Value.Value)})
			continue
		}
		if math.IsNaN(fv) || math.IsInf(fv, 0) {
			g.obs.IncCounter("aegis_device_signals_dropped_total", 1, ports.Field{Key: "source", Value: g.Name()})
			g.obs.LogInfo("opcua: non-finite value dropped",
				ports.Field{Key: "node", Value: node.NodeID},
				ports.Field{Key: "value", Value: fv})
			continue
		}

		ts := item.Value.SourceTimestamp
		if ts.IsZero() {
			ts = item.Value.ServerTimestamp
		}
		if ts.IsZero() {
			ts = g.now()
		}
		g.push(ts, node, fv)
	}
}

func (g *Generator) push(ts time.Time, node NodeConfig, v float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.pending) >= g.cfg.BufferSize {
		g.obs.IncCounter("aegis_device_signals_dropped_total", 1, ports.Field{Key: "source", Value: g.Name()})
		return
	}
	g.seq[node.SignalID]++
	g.pending = append(g.pending, domain.NewEventAt(ts, domain.EventDeviceSignal,
		domain.EventTypeOperational, domain.CategoryTriggered, g.Priority(), SignalSchemaVersion,
		domain.DeviceSignal{
			SourceNodeID: node.NodeID,
			SignalID:     node.SignalID,
			Seq:          g.seq[node.SignalID],
			Values:       map[string]float64{node.ValueKey: v},
		}))
}

func (g *Generator) clientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(g.cfg.SecurityMode)),
		opcua.SecurityPolicy(g.cfg.SecurityPolicy),
		opcua.ApplicationName(g.cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}
	if g.cfg.Username != "" {
		return append(opts, opcua.AuthUsername(g.cfg.Username, g.cfg.Password))
	}
	return append(opts, opcua.AuthAnonymous())
}

func variantToFloat(v *ua.Variant) (float64, bool) {
	if v == nil {
		return 0, false
	}
	switch val := v.Value().(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int8:
		return float64(val), true
	case uint8:
		return float64(val), true
	case int16:
		return float64(val), true
	case uint16:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

var _ ports.EventGenerator = (*Generator)(nil)
