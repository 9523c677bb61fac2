package aegisagent

import (
	"context"
	"sync"

	"github.com/ghalamif/AegisAgent/internal/ports"
)

// MemoryTwin is an in-process TwinClient. It serves a desired document set by
// the embedding program and records what the agent reports back.
type MemoryTwin struct {
	mu       sync.Mutex
	desired  []byte
	reported []byte
	subs     []func(raw []byte)
}

func NewMemoryTwin(desired []byte) *MemoryTwin {
	return &MemoryTwin{desired: desired}
}

// Desired blocks until a document has been set or ctx is done.
func (t *MemoryTwin) Desired(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	doc := t.desired
	t.mu.Unlock()
	if doc != nil {
		return doc, nil
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (t *MemoryTwin) SubscribeDesired(fn func(raw []byte)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs = append(t.subs, fn)
	return nil
}

func (t *MemoryTwin) Report(_ context.Context, doc []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reported = append([]byte(nil), doc...)
	return nil
}

// Push replaces the desired document and notifies subscribers synchronously.
func (t *MemoryTwin) Push(raw []byte) {
	t.mu.Lock()
	t.desired = raw
	subs := make([]func([]byte), len(t.subs))
	copy(subs, t.subs)
	t.mu.Unlock()

	for _, fn := range subs {
		fn(raw)
	}
}

// Reported returns the last reported document.
func (t *MemoryTwin) Reported() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reported
}

var _ ports.TwinClient = (*MemoryTwin)(nil)
