// Package delivery ships encoded message envelopes over a ports.Transport and
// reconnects with a staged backoff when the link drops.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/ports"
)

var (
	ErrNotConnected = errors.New("delivery: not connected")
	ErrClosed       = errors.New("delivery: client closed")
)

// Message property keys set on every send.
const (
	PropContentType          = "content-type"
	PropCorrelationID        = "correlation-id"
	PropMessageSchemaVersion = "message-schema-version"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Recoverable reports whether a disconnect reason starts the reconnection loop.
func Recoverable(r ports.DisconnectReason) bool {
	switch r {
	case ports.ReasonExpiredCredentials, ports.ReasonBadCredentials,
		ports.ReasonCommunicationError, ports.ReasonRetryExpired:
		return true
	}
	return false
}

type Option func(*Client)

func WithBackoff(b BackoffSchedule) Option {
	return func(c *Client) { c.backoff = b }
}

// WithWaitFunc replaces the sleep between reconnection attempts.
func WithWaitFunc(fn WaitFunc) Option {
	return func(c *Client) {
		if fn != nil {
			c.wait = fn
		}
	}
}

// Client owns the hub connection.
type Client struct {
	transport ports.Transport
	creds     ports.CredentialsProvider
	codec     ports.Codec
	obs       ports.Observability
	backoff   BackoffSchedule
	wait      WaitFunc

	state atomic.Int32

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	recovering bool
	halted     bool
	closed     bool
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

func NewClient(tr ports.Transport, creds ports.CredentialsProvider, codec ports.Codec, obs ports.Observability, opts ...Option) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		transport: tr,
		creds:     creds,
		codec:     codec,
		obs:       obs,
		backoff:   DefaultBackoff(),
		wait:      sleepCtx,
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) State() State { return State(c.state.Load()) }

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
	v := 0.0
	if s == StateConnected {
		v = 1
	}
	c.obs.SetGauge("aegis_delivery_connected", v, ports.Field{Key: "transport", Value: c.transport.Name()})
}

// Start binds the client to ctx and makes the first connection attempt. A
// failed first attempt is not returned; it hands over to the recovery loop.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.cancel()
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	if err := c.Connect(ctx); err != nil {
		c.obs.LogError("delivery_connect_failed", err, ports.Field{Key: "transport", Value: c.transport.Name()})
		c.startRecovery(ports.ReasonCommunicationError)
	}
}

// Connect makes one connection attempt with freshly read credentials.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(StateConnecting)
	creds, err := c.creds.Credentials(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("read credentials: %w", err)
	}
	if err := c.transport.Connect(ctx, creds, c.onStatus); err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("connect %s: %w", c.transport.Name(), err)
	}
	c.mu.Lock()
	c.halted = false
	c.mu.Unlock()
	c.setState(StateConnected)
	return nil
}

// Send encodes msg and hands it to the transport. It returns the encoded body
// size. A transport failure marks the link as lost; the batch itself is never
// retried.
func (c *Client) Send(ctx context.Context, msg *domain.Message, props map[string]string) (int, error) {
	if c.isClosed() {
		return 0, ErrClosed
	}
	switch c.State() {
	case StateConnected:
	case StateDisconnected:
		// Starts recovery if nothing is running and the last drop was recoverable.
		c.startRecovery(ports.ReasonCommunicationError)
		return 0, ErrNotConnected
	default:
		return 0, ErrNotConnected
	}
	body, err := c.codec.Encode(msg)
	if err != nil {
		return 0, fmt.Errorf("encode message: %w", err)
	}

	all := make(map[string]string, len(props)+3)
	for k, v := range props {
		all[k] = v
	}
	all[PropContentType] = c.codec.ContentType()
	all[PropCorrelationID] = msg.CorrelationID
	all[PropMessageSchemaVersion] = domain.MessageSchemaVersion

	start := time.Now()
	if err := c.transport.Send(ctx, body, all); err != nil {
		c.handleDisconnect(ports.ReasonCommunicationError, err)
		return len(body), fmt.Errorf("send via %s: %w", c.transport.Name(), err)
	}
	c.obs.ObserveLatency("aegis_send_latency_seconds", time.Since(start).Seconds())
	return len(body), nil
}

func (c *Client) onStatus(sc ports.StatusChange) {
	if sc.Connected {
		c.setState(StateConnected)
		return
	}
	c.handleDisconnect(sc.Reason, sc.Err)
}

func (c *Client) handleDisconnect(reason ports.DisconnectReason, err error) {
	if c.isClosed() {
		return
	}
	c.setState(StateDisconnected)
	if err == nil {
		err = errors.New(reason.String())
	}
	c.obs.LogError("delivery_disconnected", err, ports.Field{Key: "reason", Value: reason.String()})
	c.mu.Lock()
	c.halted = !Recoverable(reason)
	c.mu.Unlock()
	if !Recoverable(reason) {
		return
	}
	c.startRecovery(reason)
}

func (c *Client) startRecovery(reason ports.DisconnectReason) {
	c.mu.Lock()
	if c.closed || c.recovering || c.halted {
		c.mu.Unlock()
		return
	}
	c.recovering = true
	ctx := c.ctx
	c.wg.Add(1)
	c.mu.Unlock()

	c.obs.LogInfo("delivery_recovery_started", ports.Field{Key: "reason", Value: reason.String()})
	go c.recoverLoop(ctx)
}

// recoverLoop reconnects until it succeeds or ctx ends. A drop reported while
// the loop still owns recovery is picked up here, not by the status callback.
func (c *Client) recoverLoop(ctx context.Context) {
	defer c.wg.Done()

	for failures := 0; ; {
		if ctx.Err() != nil {
			c.endRecovery()
			return
		}
		c.obs.IncCounter("aegis_reconnect_attempts_total", 1)
		err := c.Connect(ctx)
		if err == nil {
			c.obs.LogInfo("delivery_reconnected", ports.Field{Key: "attempts", Value: failures + 1})
			c.mu.Lock()
			if c.State() == StateDisconnected && !c.halted && !c.closed {
				c.mu.Unlock()
				failures = 0
				continue
			}
			c.recovering = false
			c.mu.Unlock()
			return
		}
		failures++
		d := c.backoff.Delay(failures)
		c.obs.LogError("delivery_reconnect_failed", err,
			ports.Field{Key: "attempt", Value: failures},
			ports.Field{Key: "retry_in", Value: d.String()})
		if err := c.wait(ctx, d); err != nil {
			c.endRecovery()
			return
		}
	}
}

func (c *Client) endRecovery() {
	c.mu.Lock()
	c.recovering = false
	c.mu.Unlock()
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close stops any recovery in progress and releases the transport. It is safe
// to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.cancel()
		c.mu.Unlock()

		c.wg.Wait()
		err = c.transport.Close()
		c.state.Store(int32(StateDisconnected))
	})
	return err
}
