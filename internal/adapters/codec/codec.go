// Package codec serializes message envelopes for the transports.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/ports"
)

const (
	ContentTypeJSON    = "application/json"
	ContentTypeMsgpack = "application/msgpack"
)

type JSON struct{}

func (JSON) Encode(m *domain.Message) ([]byte, error) {
	return json.Marshal(m.Wire())
}

func (JSON) ContentType() string { return ContentTypeJSON }

// Msgpack encodes with the same field names as JSON; payload structs only
// carry json tags.
type Msgpack struct{}

func (Msgpack) Encode(m *domain.Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(m.Wire()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Msgpack) ContentType() string { return ContentTypeMsgpack }

// New returns the codec registered under name ("json" or "msgpack").
func New(name string) (ports.Codec, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return JSON{}, nil
	case "msgpack":
		return Msgpack{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}
