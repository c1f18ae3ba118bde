package reconciler

import (
	"context"

	"go.uber.org/zap"

	"github.com/yairfalse/statekeeper/pkg/domain"
)

// FailureHandler inspects bulk outcomes and puts what failed to persist back
// on the queue. Every event either persists, requeues, or is reported as
// permanently lost; nothing is dropped silently.
type FailureHandler struct {
	queue  Queue
	logger *zap.Logger
}

// NewFailureHandler creates a failure handler over the given queue
func NewFailureHandler(queue Queue, logger *zap.Logger) *FailureHandler {
	return &FailureHandler{
		queue:  queue,
		logger: logger,
	}
}

// FailedEvents locates the originating event, by key, for every failed
// current-store result. Results are parallel to ops; ops carry the key they
// were computed from. Pure function.
func FailedEvents(batch domain.Batch, ops []domain.StateOp, results []domain.OpResult) []domain.Event {
	if len(results) == 0 {
		return nil
	}

	byKey := make(map[domain.Key]domain.Event, len(batch))
	for _, event := range batch {
		byKey[event.Key()] = event
	}

	var failed []domain.Event
	for i, result := range results {
		if i >= len(ops) || !result.Failed() {
			continue
		}
		if event, ok := byKey[ops[i].Key]; ok {
			failed = append(failed, event)
		}
	}
	return failed
}

// Requeue pushes events back onto the queue and returns how many made it.
// A failed push is the one unrecoverable data-loss path: the event can
// neither be persisted nor returned, so it is surfaced loudly and not
// retried further to avoid an infinite failure loop.
func (h *FailureHandler) Requeue(ctx context.Context, events []domain.Event) (requeued, lost int) {
	for _, event := range events {
		if err := h.queue.Push(ctx, event); err != nil {
			h.logger.Error("EVENT PERMANENTLY LOST: requeue failed",
				zap.String("key", event.Key().String()),
				zap.String("status", event.Status.String()),
				zap.Int64("issued", event.Issued),
				zap.Error(err))
			lost++
			continue
		}
		requeued++
	}

	if requeued > 0 {
		h.logger.Info("Requeued events", zap.Int("count", requeued))
	}
	return requeued, lost
}

// ReportFailures logs each per-document failure from the two bulk results.
// Current-store failures drive requeueing (via FailedEvents); history
// failures are reported only, since requeue decisions key off the
// current-store outcome and history appends are retried naturally when the
// event comes around again.
func (h *FailureHandler) ReportFailures(ops []domain.StateOp, currentResults []domain.OpResult, appends []domain.HistoryRecord, historyResults []domain.OpResult) {
	for i, result := range currentResults {
		if i >= len(ops) || !result.Failed() {
			continue
		}
		h.logger.Warn("Current-state op failed",
			zap.String("op", ops[i].Kind.String()),
			zap.String("key", ops[i].Key.String()),
			zap.Error(result.Err))
	}

	for i, result := range historyResults {
		if i >= len(appends) || !result.Failed() {
			continue
		}
		h.logger.Warn("History append failed",
			zap.String("key", appends[i].Event.Key().String()),
			zap.Int64("issued", appends[i].Event.Issued),
			zap.Error(result.Err))
	}
}
