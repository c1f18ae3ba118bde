package reconciler

import (
	"github.com/yairfalse/statekeeper/pkg/domain"
)

// Reconcile is the core decision engine: given a deduplicated batch and the
// prior state fetched for its keys, it computes the current-store mutations
// and history-store appends. Pure function, no I/O.
//
// Per event, with prior = last known state for its key:
//
//  1. A resolution is always appended to history, whatever its ordering;
//     it deletes the current record only when a prior exists and the event
//     is not out of order.
//  2. Without a prior record a non-resolved event is a first occurrence:
//     it opens a current record with state_change = issued.
//  3. With a prior record, an out-of-order event is superseded and produces
//     nothing (it was decided, not lost, so it is not requeued either). A
//     status transition updates the record and is logged to history; an
//     output-only change updates the record silently; anything else is a
//     no-op.
//
// An event is out of order when prior.Issued >= event.Issued. An alert
// arriving after its own resolution has no prior record to compare against
// (the resolution deleted it) and is deliberately treated as a first
// occurrence; changing that would change externally observed semantics.
func Reconcile(batch domain.Batch, prior map[domain.Key]domain.CurrentStateRecord) ([]domain.StateOp, []domain.HistoryRecord) {
	var ops []domain.StateOp
	var history []domain.HistoryRecord

	for _, event := range batch {
		key := event.Key()
		priorRec, hasPrior := prior[key]
		outOfOrder := hasPrior && priorRec.Event.Issued >= event.Issued

		switch {
		case event.Status == domain.StatusResolved:
			history = append(history, domain.HistoryRecord{Event: event})
			if hasPrior && !outOfOrder {
				ops = append(ops, domain.StateOp{
					Kind:     domain.OpDelete,
					Key:      key,
					Revision: priorRec.Revision,
					Event:    event,
				})
			}

		case !hasPrior:
			event.StateChange = event.Issued
			ops = append(ops, domain.StateOp{
				Kind:  domain.OpInsert,
				Key:   key,
				Event: event,
			})
			history = append(history, domain.HistoryRecord{Event: event})

		default:
			if outOfOrder {
				continue
			}

			stateChanged := priorRec.Event.Status != event.Status
			if stateChanged {
				event.StateChange = event.Issued
			} else {
				event.StateChange = priorRec.Event.StateChange
			}

			switch {
			case stateChanged:
				ops = append(ops, domain.StateOp{
					Kind:     domain.OpUpdate,
					Key:      key,
					Revision: priorRec.Revision,
					Event:    event,
				})
				history = append(history, domain.HistoryRecord{Event: event})

			case priorRec.Event.Output != event.Output:
				// Output-only changes are not historically significant.
				ops = append(ops, domain.StateOp{
					Kind:     domain.OpUpdate,
					Key:      key,
					Revision: priorRec.Revision,
					Event:    event,
				})
			}
		}
	}

	return ops, history
}
