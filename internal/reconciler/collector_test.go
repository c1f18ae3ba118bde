package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yairfalse/statekeeper/pkg/domain"
)

func TestCollectStopsAtMaxCount(t *testing.T) {
	queue := &fakeQueue{events: []domain.Event{
		makeEvent("web-01", "disk", domain.StatusWarning, 1000),
		makeEvent("web-02", "disk", domain.StatusWarning, 2000),
		makeEvent("web-03", "disk", domain.StatusWarning, 3000),
	}}
	collector := NewCollector(queue, zaptest.NewLogger(t))

	batch, err := collector.Collect(context.Background(), 2, time.Second)

	require.NoError(t, err)
	assert.Len(t, batch, 2, "collection stops at max count even with more events queued")
	assert.Len(t, queue.events, 1)
}

func TestCollectStopsAtDeadline(t *testing.T) {
	queue := &fakeQueue{events: []domain.Event{
		makeEvent("web-01", "disk", domain.StatusWarning, 1000),
	}}
	collector := NewCollector(queue, zaptest.NewLogger(t))

	start := time.Now()
	batch, err := collector.Collect(context.Background(), 100, 50*time.Millisecond)

	require.NoError(t, err)
	assert.Len(t, batch, 1, "partial batch at deadline is valid")
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestCollectEmptyAtDeadline(t *testing.T) {
	queue := &fakeQueue{}
	collector := NewCollector(queue, zaptest.NewLogger(t))

	batch, err := collector.Collect(context.Background(), 10, 20*time.Millisecond)

	require.NoError(t, err)
	assert.Empty(t, batch, "an empty batch is not an error")
}

func TestCollectReturnsPartialBatchOnError(t *testing.T) {
	// The fake drains its queued events first, then fails: the first pop
	// succeeds and the second hits the injected failure.
	queue := &fakeQueue{
		events: []domain.Event{makeEvent("web-01", "disk", domain.StatusWarning, 1000)},
		popErr: errors.New("connection reset"),
	}
	collector := NewCollector(queue, zaptest.NewLogger(t))

	batch, err := collector.Collect(context.Background(), 10, time.Second)

	require.Error(t, err)
	assert.Len(t, batch, 1, "already-popped events must be surfaced alongside the error")
}

func TestCollectHonorsContextCancellation(t *testing.T) {
	queue := &fakeQueue{}
	collector := NewCollector(queue, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	batch, err := collector.Collect(ctx, 10, 5*time.Second)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, batch)
	assert.Less(t, time.Since(start), time.Second)
}
