package domain

import (
	"context"

	"github.com/google/uuid"
)

// MessageSchemaVersion is the envelope schema the agent emits.
const MessageSchemaVersion = "1.0"

// Message is one batch handed to the delivery client. It is built fresh for
// every send attempt.
type Message struct {
	AgentID       string
	AgentVersion  string
	CorrelationID string
	Events        []*Event
	EstimatedSize int
}

// WireMessage is the serialized envelope shape.
type WireMessage struct {
	AgentID              string      `json:"AgentId" msgpack:"AgentId"`
	AgentVersion         string      `json:"AgentVersion" msgpack:"AgentVersion"`
	MessageSchemaVersion string      `json:"MessageSchemaVersion" msgpack:"MessageSchemaVersion"`
	Events               []WireEvent `json:"Events" msgpack:"Events"`
}

// NewMessage assembles an envelope; the correlation id is taken from ctx when
// present and generated otherwise.
func NewMessage(ctx context.Context, agentID, agentVersion string, events []*Event) *Message {
	id, ok := CorrelationID(ctx)
	if !ok {
		id = uuid.NewString()
	}
	size := 0
	for _, e := range events {
		size += e.EstimatedSize()
	}
	return &Message{
		AgentID:       agentID,
		AgentVersion:  agentVersion,
		CorrelationID: id,
		Events:        events,
		EstimatedSize: size,
	}
}

// Wire converts the message into its serialized shape.
func (m *Message) Wire() WireMessage {
	events := make([]WireEvent, len(m.Events))
	for i, e := range m.Events {
		events[i] = e.Wire()
	}
	return WireMessage{
		AgentID:              m.AgentID,
		AgentVersion:         m.AgentVersion,
		MessageSchemaVersion: MessageSchemaVersion,
		Events:               events,
	}
}

type correlationKey struct{}

// WithCorrelationID returns a context carrying the batch correlation id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID extracts the id set by WithCorrelationID.
func CorrelationID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(correlationKey{}).(string)
	return id, ok && id != ""
}
