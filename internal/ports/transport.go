package ports

import (
	"context"

	"github.com/ghalamif/AegisAgent/internal/domain"
)

// DisconnectReason explains a connection status change.
type DisconnectReason int

const (
	ReasonUnknown DisconnectReason = iota
	ReasonClientClosed
	ReasonExpiredCredentials
	ReasonBadCredentials
	ReasonCommunicationError
	ReasonRetryExpired
	ReasonDeviceDisabled
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonClientClosed:
		return "client_closed"
	case ReasonExpiredCredentials:
		return "expired_credentials"
	case ReasonBadCredentials:
		return "bad_credentials"
	case ReasonCommunicationError:
		return "communication_error"
	case ReasonRetryExpired:
		return "retry_expired"
	case ReasonDeviceDisabled:
		return "device_disabled"
	default:
		return "unknown"
	}
}

// StatusChange is delivered by a Transport when its connection drops.
type StatusChange struct {
	Connected bool
	Reason    DisconnectReason
	Err       error
}

// Credentials authenticate the agent against the hub.
type Credentials struct {
	Username string
	Password string
	Token    string
}

// CredentialsProvider is consulted before every connection attempt so rotated
// or re-provisioned credentials are picked up.
type CredentialsProvider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// Transport is the raw link to the remote hub.
type Transport interface {
	Connect(ctx context.Context, creds Credentials, onStatus func(StatusChange)) error
	Send(ctx context.Context, body []byte, props map[string]string) error
	Close() error
	Name() string
}

// TwinClient carries the remote configuration document in both directions.
type TwinClient interface {
	Desired(ctx context.Context) ([]byte, error)
	SubscribeDesired(fn func(raw []byte)) error
	Report(ctx context.Context, doc []byte) error
}

// Codec serializes message envelopes.
type Codec interface {
	Encode(m *domain.Message) ([]byte, error)
	ContentType() string
}
