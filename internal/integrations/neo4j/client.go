package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Client wraps the Neo4j driver for the current-state and history stores
type Client struct {
	driver neo4j.DriverWithContext
	config Config
	logger *zap.Logger

	// OTEL instrumentation
	tracer              trace.Tracer
	transactionsTotal   metric.Int64Counter
	transactionDuration metric.Float64Histogram
	errorsTotal         metric.Int64Counter
}

// NewClient creates a new store client and verifies connectivity
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	auth := neo4j.BasicAuth(cfg.Username, cfg.Password, "")

	driverConfig := func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = cfg.MaxConnections
		c.ConnectionAcquisitionTimeout = cfg.ConnectionTimeout
		c.MaxTransactionRetryTime = cfg.MaxTransactionRetryTime
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth, driverConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Neo4j driver: %w", err)
	}

	client := &Client{
		driver: driver,
		config: cfg,
		logger: logger,
	}
	client.initOTEL()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectionTimeout)
	defer cancel()

	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(context.Background())
		return nil, fmt.Errorf("failed to verify Neo4j connectivity: %w", err)
	}

	logger.Info("Store client created",
		zap.String("uri", cfg.URI),
		zap.String("database", cfg.Database))

	return client, nil
}

// initOTEL initializes OpenTelemetry instrumentation
func (c *Client) initOTEL() {
	c.tracer = otel.Tracer("statekeeper.store")
	meter := otel.Meter("statekeeper.store")

	var err error

	c.transactionsTotal, err = meter.Int64Counter(
		"statestore_transactions_total",
		metric.WithDescription("Total store transactions executed"),
	)
	if err != nil {
		c.logger.Warn("Failed to create transactions counter", zap.Error(err))
	}

	c.transactionDuration, err = meter.Float64Histogram(
		"statestore_transaction_duration_ms",
		metric.WithDescription("Store transaction duration in milliseconds"),
	)
	if err != nil {
		c.logger.Warn("Failed to create transaction duration histogram", zap.Error(err))
	}

	c.errorsTotal, err = meter.Int64Counter(
		"statestore_errors_total",
		metric.WithDescription("Total store errors"),
	)
	if err != nil {
		c.logger.Warn("Failed to create errors counter", zap.Error(err))
	}
}

// executeWrite runs work in a managed write transaction
func (c *Client) executeWrite(ctx context.Context, name string, work func(tx neo4j.ManagedTransaction) error) error {
	ctx, span := c.tracer.Start(ctx, name)
	defer span.End()

	start := time.Now()
	defer func() {
		if c.transactionDuration != nil {
			c.transactionDuration.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(
				attribute.String("transaction_type", "write"),
			))
		}
	}()

	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.config.Database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		return nil, work(tx)
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if c.errorsTotal != nil {
			c.errorsTotal.Add(ctx, 1, metric.WithAttributes(
				attribute.String("transaction_type", "write"),
			))
		}
		return err
	}

	if c.transactionsTotal != nil {
		c.transactionsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("transaction_type", "write"),
		))
	}
	span.SetStatus(codes.Ok, "Write transaction completed")
	return nil
}

// executeRead runs work in a managed read transaction
func (c *Client) executeRead(ctx context.Context, name string, work func(tx neo4j.ManagedTransaction) error) error {
	ctx, span := c.tracer.Start(ctx, name)
	defer span.End()

	start := time.Now()
	defer func() {
		if c.transactionDuration != nil {
			c.transactionDuration.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(
				attribute.String("transaction_type", "read"),
			))
		}
	}()

	session := c.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: c.config.Database,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (interface{}, error) {
		return nil, work(tx)
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if c.errorsTotal != nil {
			c.errorsTotal.Add(ctx, 1, metric.WithAttributes(
				attribute.String("transaction_type", "read"),
			))
		}
		return err
	}

	if c.transactionsTotal != nil {
		c.transactionsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("transaction_type", "read"),
		))
	}
	span.SetStatus(codes.Ok, "Read transaction completed")
	return nil
}

// VerifyConnectivity checks if the connection to Neo4j is working
func (c *Client) VerifyConnectivity(ctx context.Context) error {
	if err := c.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("store connectivity check failed: %w", err)
	}
	return nil
}

// Close closes the Neo4j driver
func (c *Client) Close(ctx context.Context) error {
	if err := c.driver.Close(ctx); err != nil {
		return fmt.Errorf("failed to close Neo4j driver: %w", err)
	}
	c.logger.Info("Store client closed")
	return nil
}
