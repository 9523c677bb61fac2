// Package nats carries envelopes and the configuration twin over NATS.
package nats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/ghalamif/AegisAgent/internal/ports"
)

// Config configures the NATS connection.
type Config struct {
	URL            string        `yaml:"url"`
	SubjectPrefix  string        `yaml:"subject_prefix"`
	Name           string        `yaml:"name"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait"`
	MaxReconnects  int           `yaml:"max_reconnects"`
}

func (c *Config) applyDefaults() {
	if c.URL == "" {
		c.URL = natsgo.DefaultURL
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "aegis"
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 2 * time.Second
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 10
	}
}

func (c Config) eventsSubject() string   { return c.SubjectPrefix + ".events" }
func (c Config) twinGetSubject() string  { return c.SubjectPrefix + ".twin.get" }
func (c Config) desiredSubject() string  { return c.SubjectPrefix + ".twin.desired" }
func (c Config) reportedSubject() string { return c.SubjectPrefix + ".twin.reported" }

func (c Config) options(creds ports.Credentials) []natsgo.Option {
	opts := []natsgo.Option{
		natsgo.Timeout(c.ConnectTimeout),
		natsgo.ReconnectWait(c.ReconnectWait),
		natsgo.MaxReconnects(c.MaxReconnects),
	}
	if c.Name != "" {
		opts = append(opts, natsgo.Name(c.Name))
	}
	if creds.Username != "" {
		opts = append(opts, natsgo.UserInfo(creds.Username, creds.Password))
	}
	if creds.Token != "" {
		opts = append(opts, natsgo.Token(creds.Token))
	}
	return opts
}

// Transport publishes encoded envelopes to <prefix>.events with the message
// properties as headers.
type Transport struct {
	cfg Config

	mu      sync.Mutex
	nc      *natsgo.Conn
	closing bool
}

func NewTransport(cfg Config) *Transport {
	cfg.applyDefaults()
	return &Transport{cfg: cfg}
}

func (t *Transport) Name() string { return "nats" }

// Connect replaces any previous connection. The client library reconnects on
// its own; onStatus hears about a drop, a recovery, credential problems and
// the library giving up.
func (t *Transport) Connect(ctx context.Context, creds ports.Credentials, onStatus func(ports.StatusChange)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.mu.Lock()
	old := t.nc
	t.nc = nil
	t.closing = false
	t.mu.Unlock()
	if old != nil {
		old.Close()
	}

	opts := append(t.cfg.options(creds),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			onStatus(ports.StatusChange{Reason: ports.ReasonUnknown, Err: err})
		}),
		natsgo.ReconnectHandler(func(_ *natsgo.Conn) {
			onStatus(ports.StatusChange{Connected: true})
		}),
		natsgo.ErrorHandler(func(_ *natsgo.Conn, _ *natsgo.Subscription, err error) {
			switch {
			case errors.Is(err, natsgo.ErrAuthExpired):
				onStatus(ports.StatusChange{Reason: ports.ReasonExpiredCredentials, Err: err})
			case errors.Is(err, natsgo.ErrAuthorization):
				onStatus(ports.StatusChange{Reason: ports.ReasonBadCredentials, Err: err})
			}
		}),
		natsgo.ClosedHandler(func(nc *natsgo.Conn) {
			t.mu.Lock()
			ours := t.nc == nc && !t.closing
			t.mu.Unlock()
			if ours {
				onStatus(ports.StatusChange{Reason: ports.ReasonRetryExpired, Err: nc.LastError()})
			}
		}),
	)

	nc, err := natsgo.Connect(t.cfg.URL, opts...)
	if err != nil {
		if errors.Is(err, natsgo.ErrAuthorization) {
			return fmt.Errorf("nats connect: bad credentials: %w", err)
		}
		return fmt.Errorf("nats connect: %w", err)
	}

	t.mu.Lock()
	t.nc = nc
	t.mu.Unlock()
	return nil
}

func (t *Transport) conn() (*natsgo.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.nc == nil || !t.nc.IsConnected() {
		return nil, natsgo.ErrConnectionClosed
	}
	return t.nc, nil
}

func (t *Transport) Send(ctx context.Context, body []byte, props map[string]string) error {
	nc, err := t.conn()
	if err != nil {
		return err
	}
	msg := natsgo.NewMsg(t.cfg.eventsSubject())
	msg.Data = body
	for k, v := range props {
		msg.Header.Set(k, v)
	}
	if err := nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return flush(ctx, nc)
}

func flush(ctx context.Context, nc *natsgo.Conn) error {
	if _, ok := ctx.Deadline(); ok {
		return nc.FlushWithContext(ctx)
	}
	return nc.Flush()
}

func (t *Transport) Close() error {
	t.mu.Lock()
	nc := t.nc
	t.closing = true
	t.nc = nil
	t.mu.Unlock()
	if nc != nil {
		return nc.Drain()
	}
	return nil
}

var _ ports.Transport = (*Transport)(nil)
