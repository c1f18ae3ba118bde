package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/yairfalse/statekeeper/pkg/config"
	"github.com/yairfalse/statekeeper/pkg/domain"
)

// Client is the event-queue client backed by a NATS JetStream work-queue
// stream. Pop takes ownership of an event (fetch + explicit ack); Push
// re-enqueues at the tail. An event popped from the queue is never nacked:
// requeueing after a failed cycle is an explicit Push so the pipeline, not
// the broker, decides what is retried.
type Client struct {
	logger *zap.Logger
	config *config.NATSConfig

	nc  *nats.Conn
	js  nats.JetStreamContext
	sub *nats.Subscription

	// Metrics
	mu        sync.RWMutex
	popped    int64
	pushed    int64
	malformed int64

	// Resource cleanup tracking
	resourcesMu sync.Mutex
	resources   []func() error
}

// Metrics is a snapshot of queue client counters
type Metrics struct {
	Popped    int64
	Pushed    int64
	Malformed int64
	Connected bool
}

// NewClient connects to NATS, ensures the events stream and pull consumer
// exist, and returns a ready client
func NewClient(logger *zap.Logger, cfg *config.NATSConfig) (*Client, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	c := &Client{
		logger:    logger,
		config:    cfg,
		resources: make([]func() error, 0),
	}

	if err := c.connect(); err != nil {
		return nil, err
	}

	if err := c.setupJetStream(); err != nil {
		c.cleanupResources()
		return nil, err
	}

	return c, nil
}

// connect establishes the NATS connection
func (c *Client) connect() error {
	opts := []nats.Option{
		nats.Name(c.config.Name),
		nats.Timeout(c.config.ConnectionTimeout),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(c.config.MaxReconnects),
		nats.ReconnectWait(c.config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			c.logger.Error("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			c.logger.Error("NATS error", zap.Error(err))
		}),
	}

	nc, err := nats.Connect(c.config.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	c.nc = nc

	c.addResource(func() error {
		if c.nc != nil && !c.nc.IsClosed() {
			c.nc.Close()
		}
		return nil
	})

	return nil
}

// setupJetStream creates or updates the stream and pull consumer, then binds
// the subscription Pop fetches from
func (c *Client) setupJetStream() error {
	js, err := c.nc.JetStream()
	if err != nil {
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}
	c.js = js

	if err := c.createOrUpdateStream(); err != nil {
		return err
	}
	if err := c.createOrUpdateConsumer(); err != nil {
		return err
	}

	sub, err := c.js.PullSubscribe(
		c.config.Subject,
		c.config.ConsumerName,
		nats.BindStream(c.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	c.sub = sub

	c.addResource(func() error {
		if c.sub != nil && c.sub.IsValid() {
			return c.sub.Unsubscribe()
		}
		return nil
	})

	return nil
}

// createOrUpdateStream ensures the events stream exists
func (c *Client) createOrUpdateStream() error {
	streamConfig := &nats.StreamConfig{
		Name:      c.config.StreamName,
		Subjects:  []string{c.config.Subject},
		Storage:   nats.FileStorage,
		Retention: nats.WorkQueuePolicy,
		MaxAge:    c.config.MaxAge,
		MaxBytes:  c.config.MaxBytes,
		Replicas:  c.config.Replicas,
	}

	stream, err := c.js.StreamInfo(c.config.StreamName)
	if err == nats.ErrStreamNotFound {
		if _, err := c.js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		c.logger.Info("Created JetStream stream", zap.String("name", c.config.StreamName))
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	streamConfig.Subjects = stream.Config.Subjects // Preserve existing subjects
	if _, err := c.js.UpdateStream(streamConfig); err != nil {
		return fmt.Errorf("failed to update stream: %w", err)
	}
	return nil
}

// createOrUpdateConsumer ensures the durable pull consumer exists
func (c *Client) createOrUpdateConsumer() error {
	consumerConfig := &nats.ConsumerConfig{
		Durable:       c.config.ConsumerName,
		DeliverPolicy: nats.DeliverAllPolicy,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       c.config.AckWait,
		MaxDeliver:    c.config.MaxDeliver,
		FilterSubject: c.config.Subject,
		ReplayPolicy:  nats.ReplayInstantPolicy,
	}

	_, err := c.js.ConsumerInfo(c.config.StreamName, c.config.ConsumerName)
	if err == nats.ErrConsumerNotFound {
		if _, err := c.js.AddConsumer(c.config.StreamName, consumerConfig); err != nil {
			return fmt.Errorf("failed to create consumer: %w", err)
		}
		c.logger.Info("Created JetStream consumer", zap.String("name", c.config.ConsumerName))
	} else if err != nil {
		return fmt.Errorf("failed to get consumer info: %w", err)
	}

	return nil
}

// Pop blocks for up to wait and returns the next event from the queue.
// The second return is false when the wait expired with no event, which is
// normal operation, not an error. The returned event is acked and owned by
// the caller; losing it without a Push loses it for good.
//
// Malformed payloads cannot be reconciled or requeued meaningfully; they are
// acked, counted, and logged at error level, then Pop moves on to the next
// message within the same wait budget.
func (c *Client) Pop(ctx context.Context, wait time.Duration) (domain.Event, bool, error) {
	deadline := time.Now().Add(wait)

	for {
		if err := ctx.Err(); err != nil {
			return domain.Event{}, false, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return domain.Event{}, false, nil
		}

		msgs, err := c.sub.Fetch(1, nats.MaxWait(remaining))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				return domain.Event{}, false, nil
			}
			if errors.Is(err, context.Canceled) {
				return domain.Event{}, false, ctx.Err()
			}
			return domain.Event{}, false, fmt.Errorf("failed to fetch event: %w", err)
		}
		if len(msgs) == 0 {
			return domain.Event{}, false, nil
		}

		msg := msgs[0]

		var event domain.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			c.logger.Error("Dropping malformed event payload",
				zap.Error(err),
				zap.String("subject", msg.Subject),
				zap.Int("bytes", len(msg.Data)))
			c.countMalformed()
			c.ack(msg)
			continue
		}
		if err := event.Validate(); err != nil {
			c.logger.Error("Dropping invalid event",
				zap.Error(err),
				zap.String("subject", msg.Subject))
			c.countMalformed()
			c.ack(msg)
			continue
		}

		c.ack(msg)
		c.mu.Lock()
		c.popped++
		c.mu.Unlock()

		return event, true, nil
	}
}

// Push enqueues an event at the tail of the queue. Used both by producers
// and by the pipeline to requeue surplus or failed events.
func (c *Client) Push(ctx context.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event %s: %w", event.Key(), err)
	}

	if _, err := c.js.Publish(c.config.Subject, data, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.Key(), err)
	}

	c.mu.Lock()
	c.pushed++
	c.mu.Unlock()

	return nil
}

// ack acknowledges a message so the work queue releases it
func (c *Client) ack(msg *nats.Msg) {
	if err := msg.Ack(); err != nil {
		c.logger.Error("Failed to acknowledge message", zap.Error(err))
	}
}

func (c *Client) countMalformed() {
	c.mu.Lock()
	c.malformed++
	c.mu.Unlock()
}

// GetMetrics returns current queue client counters
func (c *Client) GetMetrics() Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Metrics{
		Popped:    c.popped,
		Pushed:    c.pushed,
		Malformed: c.malformed,
		Connected: c.nc != nil && c.nc.IsConnected(),
	}
}

// Close releases the subscription and connection
func (c *Client) Close() error {
	c.logger.Info("Closing NATS queue client")
	c.cleanupResources()
	return nil
}

// addResource adds a cleanup function to the resource list
func (c *Client) addResource(cleanup func() error) {
	c.resourcesMu.Lock()
	defer c.resourcesMu.Unlock()
	c.resources = append(c.resources, cleanup)
}

// cleanupResources calls all registered cleanup functions in reverse order
func (c *Client) cleanupResources() {
	c.resourcesMu.Lock()
	defer c.resourcesMu.Unlock()

	for i := len(c.resources) - 1; i >= 0; i-- {
		if err := c.resources[i](); err != nil {
			c.logger.Error("Failed to cleanup resource",
				zap.Int("resource_index", i), zap.Error(err))
		}
	}
	c.resources = nil
}
