package ports

import "time"

// Policy holds the local, non-remote limits of the pipeline.
type Policy struct {
	// MaxQueueLen is the total number of buffered High+Low events, split by the
	// remote high-priority percentage.
	MaxQueueLen int `yaml:"max_queue_len"`

	// Operational events get their own class so the agent's health telemetry
	// never starves behind security events.
	OperationalQueueLen   int   `yaml:"operational_queue_len"`
	OperationalQueueBytes int64 `yaml:"operational_queue_bytes"`

	// SmallMessageBytes is the body size under which a sent message is counted
	// as small.
	SmallMessageBytes int `yaml:"small_message_bytes"`

	SchedulerTick     time.Duration `yaml:"scheduler_tick"`
	AggregationCheck  time.Duration `yaml:"aggregation_check"`
	GeneratorInterval time.Duration `yaml:"generator_interval"`
}
