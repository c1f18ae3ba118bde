package reconciler

import (
	"sort"

	"github.com/yairfalse/statekeeper/pkg/domain"
)

// Dedupe orders a batch ascending by issued timestamp and collapses repeated
// keys to their most recent occurrence. The superseded events come back as
// surplus so the caller can requeue them: a slow producer may validly submit
// the same key several times within one batch, and the older records may
// still matter for a future cycle's ordering. Surplus events are never
// reconciled in the current cycle.
func Dedupe(batch domain.Batch) (domain.Batch, []domain.Event) {
	if len(batch) <= 1 {
		return batch, nil
	}

	sorted := make(domain.Batch, len(batch))
	copy(sorted, batch)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Issued < sorted[j].Issued
	})

	index := make(map[domain.Key]int, len(sorted))
	deduped := make(domain.Batch, 0, len(sorted))
	var surplus []domain.Event

	for _, event := range sorted {
		k := event.Key()
		if at, seen := index[k]; seen {
			// Later occurrence wins; the earlier one becomes surplus.
			surplus = append(surplus, deduped[at])
			deduped[at] = event
			continue
		}
		index[k] = len(deduped)
		deduped = append(deduped, event)
	}

	return deduped, surplus
}
