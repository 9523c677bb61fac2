// Package timescale stores delivered envelopes in a TimescaleDB hypertable.
package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/ghalamif/AegisAgent/internal/ports"
)

type Config struct {
	ConnString string `yaml:"conn_string"`
	Table      string `yaml:"table"`
}

// Opener opens a database handle; tests swap it for sqlmock.
type Opener func(dsn string) (*sql.DB, error)

func openPostgres(dsn string) (*sql.DB, error) { return sql.Open("postgres", dsn) }

// Transport inserts one row per envelope. The correlation id is the primary
// key, so a repeated insert of the same batch is a no-op.
type Transport struct {
	cfg  Config
	open Opener
	now  func() time.Time

	mu sync.Mutex
	db *sql.DB
}

func NewTransport(cfg Config, open Opener) *Transport {
	if cfg.Table == "" {
		cfg.Table = "agent_messages"
	}
	if open == nil {
		open = openPostgres
	}
	return &Transport{cfg: cfg, open: open, now: time.Now}
}

func (t *Transport) Name() string { return "timescaledb" }

// dsn injects credentials into a URL-style connection string.
func (t *Transport) dsn(creds ports.Credentials) string {
	if creds.Username == "" {
		return t.cfg.ConnString
	}
	u, err := url.Parse(t.cfg.ConnString)
	if err != nil || u.Scheme == "" {
		return t.cfg.ConnString
	}
	pass := creds.Password
	if pass == "" {
		pass = creds.Token
	}
	u.User = url.UserPassword(creds.Username, pass)
	return u.String()
}

func (t *Transport) Connect(ctx context.Context, creds ports.Credentials, _ func(ports.StatusChange)) error {
	db, err := t.open(t.dsn(creds))
	if err != nil {
		return fmt.Errorf("open timescale: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping timescale: %w", err)
	}

	t.mu.Lock()
	old := t.db
	t.db = db
	t.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (t *Transport) Send(ctx context.Context, body []byte, props map[string]string) error {
	t.mu.Lock()
	db := t.db
	t.mu.Unlock()
	if db == nil {
		return errors.New("timescale: not connected")
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(t.cfg.Table)
	b.WriteString(" (correlation_id, received_at, content_type, schema_version, body) VALUES ($1,$2,$3,$4,$5)")
	b.WriteString(" ON CONFLICT (correlation_id) DO NOTHING")

	_, err := db.ExecContext(ctx, b.String(),
		props["correlation-id"],
		t.now().UTC(),
		props["content-type"],
		props["message-schema-version"],
		body,
	)
	if err != nil {
		return fmt.Errorf("insert envelope: %w", err)
	}
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	db := t.db
	t.db = nil
	t.mu.Unlock()
	if db != nil {
		return db.Close()
	}
	return nil
}

var _ ports.Transport = (*Transport)(nil)
