package aegisagent

import (
	"github.com/ghalamif/AegisAgent/internal/adapters/credentials"
	"github.com/ghalamif/AegisAgent/internal/adapters/nats"
	"github.com/ghalamif/AegisAgent/internal/adapters/opcua"
	"github.com/ghalamif/AegisAgent/internal/adapters/redis"
	"github.com/ghalamif/AegisAgent/internal/adapters/timescale"
	"github.com/ghalamif/AegisAgent/internal/app/config"
	"github.com/ghalamif/AegisAgent/internal/app/delivery"
	"github.com/ghalamif/AegisAgent/internal/ports"
)

// Config re-exports the root configuration struct so embedding programs can
// construct or modify it programmatically.
type Config = config.Config

type (
	// Policy holds the local queue limits and scheduler cadence.
	Policy = ports.Policy
	// AgentConfig identifies the device in every envelope.
	AgentConfig = config.AgentConfig
	// RemoteConfig names the twin section and the initial fetch timeout.
	RemoteConfig = config.RemoteConfig
	// HubConfig selects the transport, codec and reconnection schedule.
	HubConfig  = config.HubConfig
	TwinConfig = config.TwinConfig
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
	LogConfig     = config.LogConfig
	// CredentialsConfig points at static or file-backed hub credentials.
	CredentialsConfig = credentials.Config
	NATSConfig        = nats.Config
	RedisConfig       = redis.Config
	TimescaleConfig   = timescale.Config
	// OPCUAConfig holds connection and node details of the device signal source.
	OPCUAConfig     = opcua.Config
	OPCUANodeConfig = opcua.NodeConfig
	BackoffSchedule = delivery.BackoffSchedule
	BackoffStage    = delivery.Stage
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// ParseConfig reads a YAML document already in memory.
func ParseConfig(raw []byte) (*Config, error) {
	return config.Parse(raw)
}

// DefaultBackoff is the reconnection schedule used when none is configured.
func DefaultBackoff() BackoffSchedule { return delivery.DefaultBackoff() }
