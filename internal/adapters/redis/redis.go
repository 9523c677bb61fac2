// Package redis delivers envelopes onto a Redis list and keeps the
// configuration twin in Redis keys and a pub/sub channel.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ghalamif/AegisAgent/internal/ports"
)

type Config struct {
	URL            string `yaml:"url"`
	Queue          string `yaml:"queue"`
	DesiredKey     string `yaml:"desired_key"`
	DesiredChannel string `yaml:"desired_channel"`
	ReportedKey    string `yaml:"reported_key"`
}

func (c *Config) applyDefaults() {
	if c.URL == "" {
		c.URL = "redis://127.0.0.1:6379/0"
	}
	if c.Queue == "" {
		c.Queue = "aegis:events"
	}
	if c.DesiredKey == "" {
		c.DesiredKey = "aegis:twin:desired"
	}
	if c.DesiredChannel == "" {
		c.DesiredChannel = "aegis:twin:desired"
	}
	if c.ReportedKey == "" {
		c.ReportedKey = "aegis:twin:reported"
	}
}

func (c Config) clientOptions(creds ports.Credentials) (*redis.Options, error) {
	opt, err := redis.ParseURL(c.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if creds.Username != "" {
		opt.Username = creds.Username
	}
	if creds.Password != "" {
		opt.Password = creds.Password
	} else if creds.Token != "" {
		opt.Password = creds.Token
	}
	return opt, nil
}

// Record is one list entry: the encoded envelope and its properties.
type Record struct {
	Properties map[string]string `msgpack:"properties"`
	Body       []byte            `msgpack:"body"`
}

var errNotConnected = errors.New("redis: not connected")

// Transport RPUSHes msgpack-encoded Records onto the queue list.
type Transport struct {
	cfg Config

	mu  sync.Mutex
	rdb *redis.Client
}

func NewTransport(cfg Config) *Transport {
	cfg.applyDefaults()
	return &Transport{cfg: cfg}
}

func (t *Transport) Name() string { return "redis" }

// Connect opens a client and pings it. Redis has no push notification for a
// lost link; failures surface through Send.
func (t *Transport) Connect(ctx context.Context, creds ports.Credentials, _ func(ports.StatusChange)) error {
	opt, err := t.cfg.clientOptions(creds)
	if err != nil {
		return err
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("redis ping: %w", err)
	}

	t.mu.Lock()
	old := t.rdb
	t.rdb = rdb
	t.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (t *Transport) Send(ctx context.Context, body []byte, props map[string]string) error {
	t.mu.Lock()
	rdb := t.rdb
	t.mu.Unlock()
	if rdb == nil {
		return errNotConnected
	}
	b, err := msgpack.Marshal(&Record{Properties: props, Body: body})
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := rdb.RPush(ctx, t.cfg.Queue, b).Err(); err != nil {
		return fmt.Errorf("redis rpush: %w", err)
	}
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	rdb := t.rdb
	t.rdb = nil
	t.mu.Unlock()
	if rdb != nil {
		return rdb.Close()
	}
	return nil
}

// Twin reads the desired document from a key, hears updates on a channel and
// writes the reported document to another key.
type Twin struct {
	cfg Config
	rdb *redis.Client

	mu     sync.Mutex
	pubsub []*redis.PubSub
	wg     sync.WaitGroup
}

func NewTwin(cfg Config, creds ports.Credentials) (*Twin, error) {
	cfg.applyDefaults()
	opt, err := cfg.clientOptions(creds)
	if err != nil {
		return nil, err
	}
	return &Twin{cfg: cfg, rdb: redis.NewClient(opt)}, nil
}

func (t *Twin) Desired(ctx context.Context) ([]byte, error) {
	b, err := t.rdb.Get(ctx, t.cfg.DesiredKey).Bytes()
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", t.cfg.DesiredKey, err)
	}
	return b, nil
}

// SubscribeDesired returns once the subscription is confirmed by the server.
func (t *Twin) SubscribeDesired(fn func(raw []byte)) error {
	ctx := context.Background()
	ps := t.rdb.Subscribe(ctx, t.cfg.DesiredChannel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("redis subscribe %s: %w", t.cfg.DesiredChannel, err)
	}

	t.mu.Lock()
	t.pubsub = append(t.pubsub, ps)
	t.mu.Unlock()

	ch := ps.Channel()
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for msg := range ch {
			fn([]byte(msg.Payload))
		}
	}()
	return nil
}

func (t *Twin) Report(ctx context.Context, doc []byte) error {
	if err := t.rdb.Set(ctx, t.cfg.ReportedKey, doc, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", t.cfg.ReportedKey, err)
	}
	return nil
}

func (t *Twin) Close() error {
	t.mu.Lock()
	subs := t.pubsub
	t.pubsub = nil
	t.mu.Unlock()

	var errs []error
	for _, ps := range subs {
		errs = append(errs, ps.Close())
	}
	t.wg.Wait()
	errs = append(errs, t.rdb.Close())
	return errors.Join(errs...)
}

var (
	_ ports.Transport  = (*Transport)(nil)
	_ ports.TwinClient = (*Twin)(nil)
)
