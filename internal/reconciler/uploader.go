package reconciler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/yairfalse/statekeeper/pkg/domain"
)

// Uploader executes the two bulk writes of a cycle: one upsert/delete pass
// against the current-state store and one append pass against the history
// store.
type Uploader struct {
	store  StateStore
	logger *zap.Logger
}

// NewUploader creates an uploader over the given store
func NewUploader(store StateStore, logger *zap.Logger) *Uploader {
	return &Uploader{
		store:  store,
		logger: logger,
	}
}

// Upload issues exactly two bulk requests and returns the per-document
// outcomes of each, order-preserving with the submitted ops and records.
// A non-nil error means a transport-level failure: nothing can be assumed
// persisted and the whole batch should be requeued, which is safe because
// reconciliation is idempotent.
func (u *Uploader) Upload(ctx context.Context, ops []domain.StateOp, appends []domain.HistoryRecord) ([]domain.OpResult, []domain.OpResult, error) {
	var currentResults, historyResults []domain.OpResult

	if len(ops) > 0 {
		results, err := u.store.BulkApply(ctx, ops)
		if err != nil {
			return nil, nil, fmt.Errorf("current-state bulk apply: %w", err)
		}
		currentResults = results
	}

	if len(appends) > 0 {
		results, err := u.store.BulkAppend(ctx, appends)
		if err != nil {
			return nil, nil, fmt.Errorf("history bulk append: %w", err)
		}
		historyResults = results
	}

	u.logger.Debug("Uploaded batch",
		zap.Int("current_ops", len(ops)),
		zap.Int("history_appends", len(appends)))

	return currentResults, historyResults, nil
}
