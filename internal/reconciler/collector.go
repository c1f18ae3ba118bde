package reconciler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/yairfalse/statekeeper/pkg/domain"
)

// Collector drains the queue into a bounded batch. It is the system's sole
// backpressure mechanism: downstream sees at most one store round-trip per
// maxWait or per maxCount events, whichever fills first.
type Collector struct {
	queue  Queue
	logger *zap.Logger
}

// NewCollector creates a batch collector over the given queue
func NewCollector(queue Queue, logger *zap.Logger) *Collector {
	return &Collector{
		queue:  queue,
		logger: logger,
	}
}

// Collect pops events until maxCount are gathered or maxWait has elapsed
// since the call began. An empty batch at expiry is valid, not an error.
//
// A non-nil error reports why collection stopped early; the partial batch
// is still returned and MUST be processed or requeued by the caller, since
// its events are already popped from the queue.
func (c *Collector) Collect(ctx context.Context, maxCount int, maxWait time.Duration) (domain.Batch, error) {
	deadline := time.Now().Add(maxWait)
	batch := make(domain.Batch, 0, maxCount)

	for len(batch) < maxCount {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}

		event, ok, err := c.queue.Pop(ctx, remaining)
		if err != nil {
			return batch, err
		}
		if !ok {
			// Wait expired inside Pop; the deadline check above ends the
			// loop on the next pass.
			continue
		}

		batch = append(batch, event)
	}

	c.logger.Debug("Collected batch",
		zap.Int("events", len(batch)),
		zap.Int("max_count", maxCount),
		zap.Duration("max_wait", maxWait))

	return batch, nil
}
