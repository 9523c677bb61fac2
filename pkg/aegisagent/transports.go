package aegisagent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ghalamif/AegisAgent/internal/ports"
)

// ErrChannelTransportClosed is returned when a channel transport is written to
// after being closed.
var ErrChannelTransportClosed = errors.New("aegisagent: channel transport closed")

// Delivery is one encoded envelope handed to an in-process transport.
type Delivery struct {
	Body       []byte
	Properties map[string]string
}

// DeliveryHandler receives every envelope sent through a callback transport.
type DeliveryHandler func(ctx context.Context, d Delivery) error

// NewCallbackTransport adapts a function into a Transport so embedding
// programs can receive envelopes without defining structs.
func NewCallbackTransport(name string, fn DeliveryHandler) Transport {
	if name == "" {
		name = "callback"
	}
	return &callbackTransport{name: name, fn: fn}
}

// NewChannelTransport exposes envelopes via a channel; it returns the
// transport, the read-only channel, and a close function the caller should
// invoke during shutdown.
func NewChannelTransport(name string, buffer int) (Transport, <-chan Delivery, func()) {
	if name == "" {
		name = "channel"
	}
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Delivery, buffer)
	t := &channelTransport{
		name:   name,
		ch:     ch,
		closed: make(chan struct{}),
	}
	return t, ch, func() { t.close() }
}

type callbackTransport struct {
	name string
	fn   DeliveryHandler
}

func (t *callbackTransport) Connect(context.Context, ports.Credentials, func(ports.StatusChange)) error {
	if t.fn == nil {
		return fmt.Errorf("callback transport %q: nil handler", t.name)
	}
	return nil
}

func (t *callbackTransport) Send(ctx context.Context, body []byte, props map[string]string) error {
	return t.fn(ctx, Delivery{Body: body, Properties: props})
}

func (t *callbackTransport) Close() error { return nil }

func (t *callbackTransport) Name() string { return t.name }

type channelTransport struct {
	name   string
	ch     chan Delivery
	closed chan struct{}
	once   sync.Once

	// sending is held by Send while it may write to ch, so close can wait
	// for in-flight sends before closing ch.
	sending sync.RWMutex
}

func (t *channelTransport) Connect(context.Context, ports.Credentials, func(ports.StatusChange)) error {
	select {
	case <-t.closed:
		return ErrChannelTransportClosed
	default:
		return nil
	}
}

// Send blocks until the reader takes the envelope, the transport is closed or
// ctx expires.
func (t *channelTransport) Send(ctx context.Context, body []byte, props map[string]string) error {
	t.sending.RLock()
	defer t.sending.RUnlock()

	select {
	case <-t.closed:
		return ErrChannelTransportClosed
	default:
	}

	select {
	case <-t.closed:
		return ErrChannelTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	case t.ch <- Delivery{Body: body, Properties: props}:
		return nil
	}
}

// Close leaves the channel open; the owner closes it with the function
// returned by NewChannelTransport.
func (t *channelTransport) Close() error { return nil }

func (t *channelTransport) Name() string { return t.name }

func (t *channelTransport) close() {
	t.once.Do(func() {
		close(t.closed)
		t.sending.Lock()
		close(t.ch)
		t.sending.Unlock()
	})
}
