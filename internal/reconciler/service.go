package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/yairfalse/statekeeper/pkg/config"
	"github.com/yairfalse/statekeeper/pkg/domain"
)

// Service runs the reconciliation loop: collect, dedupe, fetch prior state,
// reconcile, upload, handle failures, requeue what did not persist. One
// sequential cycle at a time, no internal parallelism; the revision tokens
// on the current-state store carry all the concurrency safety this design
// needs.
type Service struct {
	logger *zap.Logger
	config config.PipelineConfig

	queue Queue
	store StateStore

	collector *Collector
	uploader  *Uploader
	failures  *FailureHandler

	// OTEL instrumentation
	tracer          trace.Tracer
	eventsCollected metric.Int64Counter
	eventsPersisted metric.Int64Counter
	eventsRequeued  metric.Int64Counter
	eventsLost      metric.Int64Counter
	cyclesTotal     metric.Int64Counter
	cycleDuration   metric.Float64Histogram

	// Metrics and health
	metrics      atomic.Pointer[ServiceMetrics]
	lastActivity atomic.Pointer[time.Time]
	isShutdown   atomic.Bool
}

// ServiceMetrics is a snapshot of pipeline counters
type ServiceMetrics struct {
	CyclesTotal      int64         `json:"cycles_total"`
	EventsCollected  int64         `json:"events_collected"`
	EventsPersisted  int64         `json:"events_persisted"`
	EventsSurplus    int64         `json:"events_surplus"`
	EventsRequeued   int64         `json:"events_requeued"`
	EventsLost       int64         `json:"events_lost"`
	LastCycleTime    time.Time     `json:"last_cycle_time"`
	LastCycleLatency time.Duration `json:"last_cycle_latency"`
	HealthStatus     string        `json:"health_status"`
}

// HealthStatus is the service health snapshot served by the API
type HealthStatus struct {
	Status    string         `json:"status"`
	LastCheck time.Time      `json:"last_check"`
	Metrics   ServiceMetrics `json:"metrics"`
}

// NewService wires the pipeline components over the given queue and store
func NewService(logger *zap.Logger, cfg config.PipelineConfig, queue Queue, store StateStore) (*Service, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.MaxBatchCount <= 0 {
		return nil, fmt.Errorf("invalid configuration: max batch count must be positive")
	}
	if cfg.MaxWaitTime <= 0 {
		return nil, fmt.Errorf("invalid configuration: max wait time must be positive")
	}
	if cfg.ProcessTimeout <= 0 {
		return nil, fmt.Errorf("invalid configuration: process timeout must be positive")
	}

	s := &Service{
		logger:    logger,
		config:    cfg,
		queue:     queue,
		store:     store,
		collector: NewCollector(queue, logger),
		uploader:  NewUploader(store, logger),
		failures:  NewFailureHandler(queue, logger),
	}

	s.initOTEL()
	s.initMetrics()

	return s, nil
}

// initOTEL initializes OpenTelemetry instrumentation
func (s *Service) initOTEL() {
	s.tracer = otel.Tracer("statekeeper.reconciler")
	meter := otel.Meter("statekeeper.reconciler")

	var err error

	s.eventsCollected, err = meter.Int64Counter(
		"reconciler_events_collected_total",
		metric.WithDescription("Total events collected from the queue"),
	)
	if err != nil {
		s.logger.Warn("Failed to create events collected counter", zap.Error(err))
	}

	s.eventsPersisted, err = meter.Int64Counter(
		"reconciler_events_persisted_total",
		metric.WithDescription("Total events successfully persisted"),
	)
	if err != nil {
		s.logger.Warn("Failed to create events persisted counter", zap.Error(err))
	}

	s.eventsRequeued, err = meter.Int64Counter(
		"reconciler_events_requeued_total",
		metric.WithDescription("Total events returned to the queue"),
	)
	if err != nil {
		s.logger.Warn("Failed to create events requeued counter", zap.Error(err))
	}

	s.eventsLost, err = meter.Int64Counter(
		"reconciler_events_lost_total",
		metric.WithDescription("Total events permanently lost to requeue failures"),
	)
	if err != nil {
		s.logger.Warn("Failed to create events lost counter", zap.Error(err))
	}

	s.cyclesTotal, err = meter.Int64Counter(
		"reconciler_cycles_total",
		metric.WithDescription("Total reconciliation cycles completed"),
	)
	if err != nil {
		s.logger.Warn("Failed to create cycles counter", zap.Error(err))
	}

	s.cycleDuration, err = meter.Float64Histogram(
		"reconciler_cycle_duration_ms",
		metric.WithDescription("Reconciliation cycle duration in milliseconds"),
	)
	if err != nil {
		s.logger.Warn("Failed to create cycle duration histogram", zap.Error(err))
	}
}

// initMetrics initializes the metrics snapshot
func (s *Service) initMetrics() {
	now := time.Now()
	s.metrics.Store(&ServiceMetrics{HealthStatus: "initializing"})
	s.lastActivity.Store(&now)
}

// Run executes reconciliation cycles until the context is cancelled. The
// in-flight batch is always finished first: abrupt termination mid-cycle
// only risks re-delivery, never corruption, but a clean stop avoids even
// that.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("Starting reconciliation loop",
		zap.Int("max_batch_count", s.config.MaxBatchCount),
		zap.Duration("max_wait_time", s.config.MaxWaitTime))

	s.updateMetrics(func(m *ServiceMetrics) {
		m.HealthStatus = "running"
	})

	for {
		select {
		case <-ctx.Done():
			s.isShutdown.Store(true)
			s.updateMetrics(func(m *ServiceMetrics) {
				m.HealthStatus = "stopped"
			})
			s.logger.Info("Reconciliation loop stopped")
			return nil
		default:
		}

		s.runCycle(ctx)
	}
}

// runCycle executes one full reconciliation cycle
func (s *Service) runCycle(ctx context.Context) {
	cycleCtx, span := s.tracer.Start(ctx, "reconciler.cycle")
	defer span.End()

	start := time.Now()

	batch, err := s.collector.Collect(cycleCtx, s.config.MaxBatchCount, s.config.MaxWaitTime)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("Batch collection interrupted",
			zap.Error(err),
			zap.Int("collected", len(batch)))
	}
	if len(batch) == 0 {
		return
	}

	if s.eventsCollected != nil {
		s.eventsCollected.Add(cycleCtx, int64(len(batch)))
	}
	span.SetAttributes(attribute.Int("batch.size", len(batch)))

	// The persist phase runs under its own timeout, detached from the loop
	// context: events in the batch are already popped, so a shutdown signal
	// must not abandon them halfway.
	persistCtx, cancel := context.WithTimeout(context.Background(), s.config.ProcessTimeout)
	defer cancel()

	persisted, surplus, requeued, lost := s.processBatch(persistCtx, batch)

	latency := time.Since(start)
	if s.cyclesTotal != nil {
		s.cyclesTotal.Add(cycleCtx, 1)
	}
	if s.cycleDuration != nil {
		s.cycleDuration.Record(cycleCtx, float64(latency.Milliseconds()))
	}
	if s.eventsPersisted != nil {
		s.eventsPersisted.Add(cycleCtx, int64(persisted))
	}
	if s.eventsRequeued != nil {
		s.eventsRequeued.Add(cycleCtx, int64(requeued))
	}
	if s.eventsLost != nil {
		s.eventsLost.Add(cycleCtx, int64(lost))
	}

	s.updateMetrics(func(m *ServiceMetrics) {
		m.CyclesTotal++
		m.EventsCollected += int64(len(batch))
		m.EventsPersisted += int64(persisted)
		m.EventsSurplus += int64(surplus)
		m.EventsRequeued += int64(requeued)
		m.EventsLost += int64(lost)
		m.LastCycleTime = time.Now()
		m.LastCycleLatency = latency
	})

	s.logger.Debug("Cycle completed",
		zap.Int("collected", len(batch)),
		zap.Int("persisted", persisted),
		zap.Int("surplus", surplus),
		zap.Int("requeued", requeued),
		zap.Duration("latency", latency))
}

// processBatch reconciles and persists one collected batch, requeueing
// whatever fails. Returns event counts for metrics.
func (s *Service) processBatch(ctx context.Context, batch domain.Batch) (persisted, surplus, requeued, lost int) {
	deduped, surplusEvents := Dedupe(batch)
	surplus = len(surplusEvents)
	if surplus > 0 {
		r, l := s.failures.Requeue(ctx, surplusEvents)
		requeued += r
		lost += l
	}

	prior, err := s.store.FetchPrior(ctx, deduped.Keys())
	if err != nil {
		s.logger.Error("Failed to fetch prior state, requeueing batch",
			zap.Error(err),
			zap.Int("events", len(deduped)))
		r, l := s.failures.Requeue(ctx, deduped)
		return 0, surplus, requeued + r, lost + l
	}

	ops, appends := Reconcile(deduped, prior)
	if len(ops) == 0 && len(appends) == 0 {
		// Every event reconciled to a no-op; the batch is persisted by
		// definition.
		return len(deduped), surplus, requeued, lost
	}

	currentResults, historyResults, err := s.uploader.Upload(ctx, ops, appends)
	if err != nil {
		// Transport failure: nothing can be assumed persisted. Requeueing
		// the entire batch is safe because reconciliation is idempotent.
		s.logger.Error("Bulk upload failed, requeueing batch",
			zap.Error(err),
			zap.Int("events", len(deduped)))
		r, l := s.failures.Requeue(ctx, deduped)
		return 0, surplus, requeued + r, lost + l
	}

	s.failures.ReportFailures(ops, currentResults, appends, historyResults)

	failed := FailedEvents(deduped, ops, currentResults)
	if len(failed) > 0 {
		r, l := s.failures.Requeue(ctx, failed)
		requeued += r
		lost += l
	}

	return len(deduped) - len(failed), surplus, requeued, lost
}

// updateMetrics safely updates the metrics snapshot
func (s *Service) updateMetrics(updateFunc func(*ServiceMetrics)) {
	current := s.metrics.Load()
	if current == nil {
		current = &ServiceMetrics{}
	}

	updated := *current
	updateFunc(&updated)
	s.metrics.Store(&updated)

	now := time.Now()
	s.lastActivity.Store(&now)
}

// GetMetrics returns the current pipeline counters
func (s *Service) GetMetrics() ServiceMetrics {
	metrics := s.metrics.Load()
	if metrics == nil {
		return ServiceMetrics{HealthStatus: "unknown"}
	}
	return *metrics
}

// Health returns the service health snapshot
func (s *Service) Health() HealthStatus {
	metrics := s.GetMetrics()

	status := metrics.HealthStatus
	if status == "running" && metrics.EventsLost > 0 {
		status = "degraded"
	}

	return HealthStatus{
		Status:    status,
		LastCheck: time.Now(),
		Metrics:   metrics,
	}
}
