package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/yairfalse/statekeeper/pkg/domain"
)

// fakeQueue is an in-memory Queue. Pop blocks for the full wait when the
// queue is empty, matching the blocking-fetch behavior of the real client.
type fakeQueue struct {
	mu      sync.Mutex
	events  []domain.Event
	pushed  []domain.Event
	popErr  error
	pushErr error
}

func (q *fakeQueue) Pop(ctx context.Context, wait time.Duration) (domain.Event, bool, error) {
	q.mu.Lock()
	if len(q.events) > 0 {
		event := q.events[0]
		q.events = q.events[1:]
		q.mu.Unlock()
		return event, true, nil
	}
	if q.popErr != nil {
		err := q.popErr
		q.mu.Unlock()
		return domain.Event{}, false, err
	}
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		return domain.Event{}, false, ctx.Err()
	case <-time.After(wait):
		return domain.Event{}, false, nil
	}
}

func (q *fakeQueue) Push(ctx context.Context, event domain.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pushErr != nil {
		return q.pushErr
	}
	q.pushed = append(q.pushed, event)
	return nil
}

func (q *fakeQueue) pushedEvents() []domain.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.Event, len(q.pushed))
	copy(out, q.pushed)
	return out
}

// fakeStore is an in-memory StateStore with injectable failures.
type fakeStore struct {
	mu       sync.Mutex
	prior    map[domain.Key]domain.CurrentStateRecord
	fetchErr error
	applyErr error
	// docErrs fails individual ops by index in BulkApply results.
	docErrs map[int]error

	appliedOps []domain.StateOp
	appended   []domain.HistoryRecord
}

func (s *fakeStore) FetchPrior(ctx context.Context, keys []domain.Key) (map[domain.Key]domain.CurrentStateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	out := make(map[domain.Key]domain.CurrentStateRecord)
	for _, k := range keys {
		if rec, ok := s.prior[k]; ok {
			out[k] = rec
		}
	}
	return out, nil
}

func (s *fakeStore) BulkApply(ctx context.Context, ops []domain.StateOp) ([]domain.OpResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applyErr != nil {
		return nil, s.applyErr
	}
	s.appliedOps = append(s.appliedOps, ops...)
	results := make([]domain.OpResult, len(ops))
	for i := range ops {
		if err, ok := s.docErrs[i]; ok {
			results[i] = domain.OpResult{Err: err}
			continue
		}
		results[i] = domain.OpResult{Revision: "rev-new"}
	}
	return results, nil
}

func (s *fakeStore) BulkAppend(ctx context.Context, records []domain.HistoryRecord) ([]domain.OpResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appended = append(s.appended, records...)
	return make([]domain.OpResult, len(records)), nil
}
