package nats

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	natsgo "github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yairfalse/statekeeper/pkg/config"
	"github.com/yairfalse/statekeeper/pkg/domain"
)

// Test helpers
func startTestNATSServer(t *testing.T) (*server.Server, string) {
	opts := &server.Options{
		Port:      -1, // Random port
		JetStream: true,
		StoreDir:  t.TempDir(),
	}

	ns, err := server.NewServer(opts)
	require.NoError(t, err)

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server failed to start")
	}

	return ns, ns.ClientURL()
}

func testQueueConfig(url string) *config.NATSConfig {
	unique := time.Now().UnixNano()
	return &config.NATSConfig{
		URL:               url,
		Name:              "statekeeper-test",
		MaxReconnects:     2,
		ReconnectWait:     100 * time.Millisecond,
		ConnectionTimeout: 5 * time.Second,

		StreamName: fmt.Sprintf("TEST_CHECK_EVENTS_%d", unique),
		Subject:    fmt.Sprintf("test.checks.events.%d", unique),
		MaxAge:     time.Hour,
		MaxBytes:   64 * 1024 * 1024,
		Replicas:   1,

		ConsumerName: fmt.Sprintf("test-reconciler-%d", unique),
		AckWait:      30 * time.Second,
		MaxDeliver:   3,
	}
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	client, err := NewClient(zaptest.NewLogger(t), testQueueConfig(url))
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestNewClientValidation(t *testing.T) {
	logger := zaptest.NewLogger(t)

	_, err := NewClient(nil, testQueueConfig("nats://localhost:4222"))
	assert.Error(t, err)

	_, err = NewClient(logger, nil)
	assert.Error(t, err)

	bad := testQueueConfig("nats://localhost:4222")
	bad.StreamName = ""
	_, err = NewClient(logger, bad)
	assert.Error(t, err)
}

func TestPushPopRoundTrip(t *testing.T) {
	ns, url := startTestNATSServer(t)
	defer ns.Shutdown()

	client := newTestClient(t, url)
	ctx := context.Background()

	pushed := domain.Event{
		Client: "web-01",
		Check:  "disk",
		Status: domain.StatusCritical,
		Issued: 1700000000,
		Output: "92% used",
	}
	require.NoError(t, client.Push(ctx, pushed))

	event, ok, err := client.Pop(ctx, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, pushed, event)
}

func TestPopRemovesEvent(t *testing.T) {
	ns, url := startTestNATSServer(t)
	defer ns.Shutdown()

	client := newTestClient(t, url)
	ctx := context.Background()

	require.NoError(t, client.Push(ctx, domain.Event{
		Client: "web-01", Check: "disk", Status: domain.StatusWarning, Issued: 1000,
	}))

	_, ok, err := client.Pop(ctx, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	// The event is gone; the second pop expires empty.
	_, ok, err = client.Pop(ctx, 200*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPopTimeoutIsNotAnError(t *testing.T) {
	ns, url := startTestNATSServer(t)
	defer ns.Shutdown()

	client := newTestClient(t, url)

	start := time.Now()
	event, ok, err := client.Pop(context.Background(), 200*time.Millisecond)

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, event)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestPopPreservesFIFOOrder(t *testing.T) {
	ns, url := startTestNATSServer(t)
	defer ns.Shutdown()

	client := newTestClient(t, url)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		require.NoError(t, client.Push(ctx, domain.Event{
			Client: "web-01", Check: "disk", Status: domain.StatusWarning, Issued: i * 1000,
		}))
	}

	for i := int64(1); i <= 3; i++ {
		event, ok, err := client.Pop(ctx, 5*time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, i*1000, event.Issued, "requeue at the tail preserves FIFO")
	}
}

func TestPopSkipsMalformedPayloads(t *testing.T) {
	ns, url := startTestNATSServer(t)
	defer ns.Shutdown()

	client := newTestClient(t, url)
	ctx := context.Background()

	// Raw publishes bypass the client so we can inject garbage ahead of a
	// valid event.
	nc, err := natsgo.Connect(url)
	require.NoError(t, err)
	defer nc.Close()
	js, err := nc.JetStream()
	require.NoError(t, err)

	_, err = js.Publish(client.config.Subject, []byte("not json"))
	require.NoError(t, err)
	_, err = js.Publish(client.config.Subject, []byte(`{"client":"","check":"disk","status":1,"issued":1000}`))
	require.NoError(t, err)

	require.NoError(t, client.Push(ctx, domain.Event{
		Client: "web-01", Check: "disk", Status: domain.StatusWarning, Issued: 2000,
	}))

	event, ok, err := client.Pop(ctx, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "web-01", event.Client, "malformed payloads are skipped, not returned")

	metrics := client.GetMetrics()
	assert.Equal(t, int64(2), metrics.Malformed)
	assert.Equal(t, int64(1), metrics.Popped)
}

func TestGetMetrics(t *testing.T) {
	ns, url := startTestNATSServer(t)
	defer ns.Shutdown()

	client := newTestClient(t, url)
	ctx := context.Background()

	require.NoError(t, client.Push(ctx, domain.Event{
		Client: "web-01", Check: "disk", Status: domain.StatusWarning, Issued: 1000,
	}))
	_, _, err := client.Pop(ctx, 5*time.Second)
	require.NoError(t, err)

	metrics := client.GetMetrics()
	assert.Equal(t, int64(1), metrics.Pushed)
	assert.Equal(t, int64(1), metrics.Popped)
	assert.True(t, metrics.Connected)
}
