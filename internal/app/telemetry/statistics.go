package telemetry

import (
	"context"
	"time"

	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/ports"
)

const statisticsSchemaVersion = "1.0"

// StatisticsGenerator turns counter snapshots into operational events so the
// hub sees how much the agent dropped and delivered since the last snapshot.
type StatisticsGenerator struct {
	collector *Collector
	now       func() time.Time
}

func NewStatisticsGenerator(c *Collector) *StatisticsGenerator {
	return &StatisticsGenerator{collector: c, now: time.Now}
}

func (g *StatisticsGenerator) Name() string { return "statistics" }

func (g *StatisticsGenerator) Priority() domain.Priority { return domain.PriorityOperational }

func (g *StatisticsGenerator) GetEvents(ctx context.Context) ([]*domain.Event, error) {
	snap := g.collector.Snapshot()
	ts := g.now()

	dropped := domain.NewEventAt(ts, domain.EventDroppedEventsStatistics,
		domain.EventTypeOperational, domain.CategoryPeriodic, domain.PriorityOperational,
		statisticsSchemaVersion,
		domain.DroppedEventsStatistics{
			Queue:           domain.PriorityHigh.String(),
			CollectedEvents: snap[EnqueuedHigh],
			DroppedEvents:   snap[DroppedHigh],
		},
		domain.DroppedEventsStatistics{
			Queue:           domain.PriorityLow.String(),
			CollectedEvents: snap[EnqueuedLow],
			DroppedEvents:   snap[DroppedLow],
		},
		domain.DroppedEventsStatistics{
			Queue:           domain.PriorityOperational.String(),
			CollectedEvents: snap[EnqueuedOperational],
			DroppedEvents:   snap[DroppedOperational],
		},
	)

	messages := domain.NewEventAt(ts, domain.EventMessageStatistics,
		domain.EventTypeOperational, domain.CategoryPeriodic, domain.PriorityOperational,
		statisticsSchemaVersion,
		domain.MessageStatistics{
			MessagesSent:   snap[SendSuccess],
			MessagesFailed: snap[SendFailure],
			SmallMessages:  snap[SmallMessages],
		},
	)

	return []*domain.Event{dropped, messages}, nil
}

var _ ports.EventGenerator = (*StatisticsGenerator)(nil)
