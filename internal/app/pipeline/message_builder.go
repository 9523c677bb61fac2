package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ghalamif/AegisAgent/internal/app/telemetry"
	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/ports"
)

// Sender delivers one envelope and returns the encoded size.
type Sender interface {
	Send(ctx context.Context, msg *domain.Message, props map[string]string) (int, error)
}

// BuilderSettings are read on every run so remote changes apply to the next
// batch.
type BuilderSettings interface {
	MaxMessageSize() int
	SendTimeout() time.Duration
}

// MessageBuilder drains the queues into one envelope per run and sends it. A
// batch that fails to send is dropped, never requeued.
type MessageBuilder struct {
	queue     ports.EventQueue
	sender    Sender
	settings  BuilderSettings
	stats     *telemetry.Collector
	obs       ports.Observability
	agentID   string
	version   string
	smallSize int
	overhead  int
}

func NewMessageBuilder(q ports.EventQueue, sender Sender, settings BuilderSettings, stats *telemetry.Collector,
	obs ports.Observability, agentID, version string, smallSize int) *MessageBuilder {
	return &MessageBuilder{
		queue:     q,
		sender:    sender,
		settings:  settings,
		stats:     stats,
		obs:       obs,
		agentID:   agentID,
		version:   version,
		smallSize: smallSize,
		overhead:  envelopeOverhead(agentID, version),
	}
}

// envelopeOverhead is the encoded size of an envelope with no events.
func envelopeOverhead(agentID, version string) int {
	empty := domain.NewMessage(domain.WithCorrelationID(context.Background(), uuid.Nil.String()), agentID, version, nil)
	b, err := json.Marshal(empty.Wire())
	if err != nil {
		return 0
	}
	return len(b)
}

// Budget is the byte budget for the events of one envelope. A hundredth of
// the message limit is held back for the separators between events.
func (b *MessageBuilder) Budget() int {
	limit := b.settings.MaxMessageSize()
	budget := limit - b.overhead - limit/100
	if budget < 1 {
		budget = 1
	}
	return budget
}

func (b *MessageBuilder) Name() string { return "message-builder" }

func (b *MessageBuilder) Execute(ctx context.Context) error {
	events := b.queue.DrainUpTo(b.Budget())
	if len(events) == 0 {
		return nil
	}

	ctx = domain.WithCorrelationID(ctx, uuid.NewString())
	msg := domain.NewMessage(ctx, b.agentID, b.version, events)

	sendCtx, cancel := context.WithTimeout(ctx, b.settings.SendTimeout())
	defer cancel()

	n, err := b.sender.Send(sendCtx, msg, nil)
	if err != nil {
		b.stats.Inc(telemetry.SendFailure)
		b.obs.IncCounter("aegis_events_lost_total", float64(len(events)))
		return fmt.Errorf("send batch %s (%d events): %w", msg.CorrelationID, len(events), err)
	}

	b.stats.Inc(telemetry.SendSuccess)
	if n < b.smallSize {
		b.stats.Inc(telemetry.SmallMessages)
	}
	b.obs.IncCounter("aegis_events_sent_total", float64(len(events)))
	return nil
}
