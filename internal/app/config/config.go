package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ghalamif/AegisAgent/internal/adapters/codec"
	"github.com/ghalamif/AegisAgent/internal/adapters/credentials"
	"github.com/ghalamif/AegisAgent/internal/adapters/nats"
	"github.com/ghalamif/AegisAgent/internal/adapters/opcua"
	"github.com/ghalamif/AegisAgent/internal/adapters/redis"
	"github.com/ghalamif/AegisAgent/internal/adapters/timescale"
	"github.com/ghalamif/AegisAgent/internal/app/delivery"
	"github.com/ghalamif/AegisAgent/internal/app/remoteconfig"
	"github.com/ghalamif/AegisAgent/internal/ports"
)

// Hub and twin backends.
const (
	KindNATS      = "nats"
	KindRedis     = "redis"
	KindTimescale = "timescale"
)

// Config is the local agent configuration. Everything that may change while
// the agent runs lives in the remote configuration document instead.
type Config struct {
	Agent       AgentConfig        `yaml:"agent"`
	Policy      ports.Policy       `yaml:"policy"`
	Remote      RemoteConfig       `yaml:"remote"`
	Hub         HubConfig          `yaml:"hub"`
	Twin        TwinConfig         `yaml:"twin"`
	Credentials credentials.Config `yaml:"credentials"`
	OPCUA       opcua.Config       `yaml:"opcua"`
	Metrics     MetricsConfig      `yaml:"metrics"`
	Log         LogConfig          `yaml:"log"`
}

type AgentConfig struct {
	ID      string `yaml:"id"`
	Version string `yaml:"version"`
}

type RemoteConfig struct {
	Section        string        `yaml:"section"`
	InitialTimeout time.Duration `yaml:"initial_timeout"`
}

type HubConfig struct {
	Kind      string                   `yaml:"kind"`
	Codec     string                   `yaml:"codec"`
	Backoff   delivery.BackoffSchedule `yaml:"backoff"`
	NATS      nats.Config              `yaml:"nats"`
	Redis     redis.Config             `yaml:"redis"`
	Timescale timescale.Config         `yaml:"timescale"`
}

// TwinConfig selects where the remote configuration document comes from. The
// connection settings are shared with the hub section of the same kind.
type TwinConfig struct {
	Kind string `yaml:"kind"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse decodes a YAML document, fills defaults and validates the result.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Agent.Version == "" {
		c.Agent.Version = "0.0.0"
	}
	if c.Agent.ID == "" {
		if host, err := os.Hostname(); err == nil {
			c.Agent.ID = host
		}
	}
	if c.Policy.MaxQueueLen == 0 {
		c.Policy.MaxQueueLen = 10_000
	}
	if c.Policy.OperationalQueueLen == 0 {
		c.Policy.OperationalQueueLen = 1_000
	}
	if c.Policy.OperationalQueueBytes == 0 {
		c.Policy.OperationalQueueBytes = 4 << 20
	}
	if c.Policy.SmallMessageBytes == 0 {
		c.Policy.SmallMessageBytes = 4 << 10
	}
	if c.Policy.SchedulerTick == 0 {
		c.Policy.SchedulerTick = 100 * time.Millisecond
	}
	if c.Policy.AggregationCheck == 0 {
		c.Policy.AggregationCheck = time.Second
	}
	if c.Policy.GeneratorInterval == 0 {
		c.Policy.GeneratorInterval = time.Second
	}
	if c.Remote.Section == "" {
		c.Remote.Section = remoteconfig.DefaultSection
	}
	if c.Remote.InitialTimeout == 0 {
		c.Remote.InitialTimeout = 30 * time.Second
	}
	if c.Hub.Kind == "" {
		c.Hub.Kind = KindNATS
	}
	if c.Hub.Codec == "" {
		c.Hub.Codec = "json"
	}
	if len(c.Hub.Backoff.Stages) == 0 && c.Hub.Backoff.Max == 0 {
		c.Hub.Backoff = delivery.DefaultBackoff()
	}
	if c.Twin.Kind == "" {
		c.Twin.Kind = c.Hub.Kind
		if c.Twin.Kind == KindTimescale {
			c.Twin.Kind = KindNATS
		}
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	if c.OPCUA.Enabled() {
		c.OPCUA.ApplyDefaults()
	}
}

func (c *Config) validate() error {
	var errs []error
	if c.Agent.ID == "" {
		errs = append(errs, errors.New("agent.id is required"))
	}
	if c.Policy.MaxQueueLen < 0 || c.Policy.OperationalQueueLen < 0 || c.Policy.OperationalQueueBytes < 0 {
		errs = append(errs, errors.New("policy limits must not be negative"))
	}
	if c.Remote.InitialTimeout < 0 {
		errs = append(errs, errors.New("remote.initial_timeout must be positive"))
	}
	switch c.Hub.Kind {
	case KindNATS, KindRedis:
	case KindTimescale:
		if c.Hub.Timescale.ConnString == "" {
			errs = append(errs, errors.New("hub.timescale.conn_string is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("hub.kind %q is not one of nats, redis, timescale", c.Hub.Kind))
	}
	switch c.Twin.Kind {
	case KindNATS, KindRedis:
	default:
		errs = append(errs, fmt.Errorf("twin.kind %q is not one of nats, redis", c.Twin.Kind))
	}
	if _, err := codec.New(c.Hub.Codec); err != nil {
		errs = append(errs, fmt.Errorf("hub.codec: %w", err))
	}
	if err := c.Hub.Backoff.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("hub.backoff: %w", err))
	}
	if c.Metrics.Addr == "" {
		errs = append(errs, errors.New("metrics.addr is required"))
	}
	if c.OPCUA.Enabled() {
		if err := c.OPCUA.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("opcua config: %w", err))
		}
	}
	return errors.Join(errs...)
}
