package reconciler

import (
	"context"
	"time"

	"github.com/yairfalse/statekeeper/pkg/domain"
)

// Queue is the event queue at its interface boundary. Pop blocks for up to
// wait and hands over ownership of the returned event; Push re-enqueues.
// Both at-least-once delivery and the no-data-loss rule hang on the caller
// pairing every Pop with either a successful persist or a Push.
type Queue interface {
	Pop(ctx context.Context, wait time.Duration) (domain.Event, bool, error)
	Push(ctx context.Context, event domain.Event) error
}

// StateStore is the document-store pair at its interface boundary: one
// batched prior-state lookup and two bulk writes per cycle. Bulk calls
// return an error only for transport-level failures; per-document rejections
// travel inside the order-preserving results.
type StateStore interface {
	FetchPrior(ctx context.Context, keys []domain.Key) (map[domain.Key]domain.CurrentStateRecord, error)
	BulkApply(ctx context.Context, ops []domain.StateOp) ([]domain.OpResult, error)
	BulkAppend(ctx context.Context, records []domain.HistoryRecord) ([]domain.OpResult, error)
}
