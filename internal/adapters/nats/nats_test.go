package nats

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	natsgo "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghalamif/AegisAgent/internal/ports"
)

func startTestNATSServer(t *testing.T) (*server.Server, string) {
	t.Helper()
	ns, err := server.NewServer(&server.Options{Port: -1})
	require.NoError(t, err)

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server failed to start")
	}
	t.Cleanup(ns.Shutdown)
	return ns, ns.ClientURL()
}

func TestTransportPublishesWithHeaders(t *testing.T) {
	_, url := startTestNATSServer(t)

	nc, err := natsgo.Connect(url)
	require.NoError(t, err)
	defer nc.Close()
	sub, err := nc.SubscribeSync("test.events")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	tr := NewTransport(Config{URL: url, SubjectPrefix: "test"})
	require.NoError(t, tr.Connect(context.Background(), ports.Credentials{}, func(ports.StatusChange) {}))
	defer tr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, tr.Send(ctx, []byte(`{"AgentId":"a"}`), map[string]string{"content-type": "application/json"}))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"AgentId":"a"}`, string(msg.Data))
	assert.Equal(t, "application/json", msg.Header.Get("content-type"))
}

func TestTransportSendWithoutConnection(t *testing.T) {
	tr := NewTransport(Config{URL: "nats://127.0.0.1:1"})
	err := tr.Send(context.Background(), []byte("x"), nil)
	assert.ErrorIs(t, err, natsgo.ErrConnectionClosed)
}

func TestTransportConnectFailure(t *testing.T) {
	tr := NewTransport(Config{URL: "nats://127.0.0.1:1", ConnectTimeout: 100 * time.Millisecond})
	err := tr.Connect(context.Background(), ports.Credentials{}, func(ports.StatusChange) {})
	assert.Error(t, err)
}

func TestTwinRoundTrip(t *testing.T) {
	_, url := startTestNATSServer(t)

	hub, err := natsgo.Connect(url)
	require.NoError(t, err)
	defer hub.Close()

	desired := []byte(`{"aegisAgentConfiguration":{"maxMessageSizeInBytes":{"value":1}}}`)
	_, err = hub.Subscribe("test.twin.get", func(m *natsgo.Msg) { _ = m.Respond(desired) })
	require.NoError(t, err)
	reported, err := hub.SubscribeSync("test.twin.reported")
	require.NoError(t, err)
	require.NoError(t, hub.Flush())

	twin, err := DialTwin(Config{URL: url, SubjectPrefix: "test"}, ports.Credentials{})
	require.NoError(t, err)
	defer twin.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := twin.Desired(ctx)
	require.NoError(t, err)
	assert.Equal(t, desired, got)

	pushed := make(chan []byte, 1)
	require.NoError(t, twin.SubscribeDesired(func(raw []byte) { pushed <- raw }))
	require.NoError(t, twin.nc.Flush())
	require.NoError(t, hub.Publish("test.twin.desired", []byte(`{"update":1}`)))

	select {
	case raw := <-pushed:
		assert.JSONEq(t, `{"update":1}`, string(raw))
	case <-time.After(2 * time.Second):
		t.Fatal("pushed document not delivered")
	}

	require.NoError(t, twin.Report(ctx, []byte(`{"reported":true}`)))
	msg, err := reported.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"reported":true}`, string(msg.Data))
}
