package nats

import (
	"context"
	"fmt"
	"sync"

	natsgo "github.com/nats-io/nats.go"

	"github.com/ghalamif/AegisAgent/internal/ports"
)

// Twin exchanges the configuration document over request/reply and
// publish/subscribe subjects under the configured prefix.
type Twin struct {
	cfg Config
	nc  *natsgo.Conn

	mu   sync.Mutex
	subs []*natsgo.Subscription
}

// DialTwin opens the twin's own connection, separate from the envelope
// transport so configuration keeps flowing while delivery reconnects.
func DialTwin(cfg Config, creds ports.Credentials) (*Twin, error) {
	cfg.applyDefaults()
	nc, err := natsgo.Connect(cfg.URL, cfg.options(creds)...)
	if err != nil {
		return nil, fmt.Errorf("nats twin connect: %w", err)
	}
	return &Twin{cfg: cfg, nc: nc}, nil
}

func (t *Twin) Desired(ctx context.Context) ([]byte, error) {
	msg, err := t.nc.RequestWithContext(ctx, t.cfg.twinGetSubject(), nil)
	if err != nil {
		return nil, fmt.Errorf("nats twin request: %w", err)
	}
	return msg.Data, nil
}

func (t *Twin) SubscribeDesired(fn func(raw []byte)) error {
	sub, err := t.nc.Subscribe(t.cfg.desiredSubject(), func(m *natsgo.Msg) {
		fn(m.Data)
	})
	if err != nil {
		return fmt.Errorf("nats twin subscribe: %w", err)
	}
	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.mu.Unlock()
	return nil
}

func (t *Twin) Report(ctx context.Context, doc []byte) error {
	if err := t.nc.Publish(t.cfg.reportedSubject(), doc); err != nil {
		return fmt.Errorf("nats twin report: %w", err)
	}
	return flush(ctx, t.nc)
}

func (t *Twin) Close() error {
	t.mu.Lock()
	subs := t.subs
	t.subs = nil
	t.mu.Unlock()
	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	t.nc.Close()
	return nil
}

var _ ports.TwinClient = (*Twin)(nil)
