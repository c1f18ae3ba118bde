package reconciler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/statekeeper/pkg/domain"
)

func makeEvent(client, check string, status domain.Status, issued int64) domain.Event {
	return domain.Event{
		Client: client,
		Check:  check,
		Status: status,
		Issued: issued,
	}
}

func priorFor(event domain.Event, revision string) map[domain.Key]domain.CurrentStateRecord {
	return map[domain.Key]domain.CurrentStateRecord{
		event.Key(): {Event: event, Revision: revision},
	}
}

func TestReconcileFirstOccurrence(t *testing.T) {
	event := makeEvent("web-01", "disk", domain.StatusWarning, 1000)

	ops, history := Reconcile(domain.Batch{event}, nil)

	require.Len(t, ops, 1)
	assert.Equal(t, domain.OpInsert, ops[0].Kind)
	assert.Equal(t, event.Key(), ops[0].Key)
	assert.Empty(t, ops[0].Revision)
	assert.Equal(t, int64(1000), ops[0].Event.StateChange, "first occurrence opens a new state interval")

	require.Len(t, history, 1)
	assert.Equal(t, int64(1000), history[0].Event.StateChange)
}

func TestReconcileStatusTransition(t *testing.T) {
	prior := makeEvent("web-01", "disk", domain.StatusWarning, 1000)
	prior.StateChange = 1000
	event := makeEvent("web-01", "disk", domain.StatusCritical, 2000)

	ops, history := Reconcile(domain.Batch{event}, priorFor(prior, "rev-1"))

	require.Len(t, ops, 1)
	assert.Equal(t, domain.OpUpdate, ops[0].Kind)
	assert.Equal(t, "rev-1", ops[0].Revision)
	assert.Equal(t, int64(2000), ops[0].Event.StateChange, "transition resets the state interval")

	require.Len(t, history, 1)
	assert.Equal(t, domain.StatusCritical, history[0].Event.Status)
}

func TestReconcileOutputOnlyChange(t *testing.T) {
	prior := makeEvent("web-01", "disk", domain.StatusWarning, 1000)
	prior.StateChange = 800
	prior.Output = "85% used"
	event := makeEvent("web-01", "disk", domain.StatusWarning, 2000)
	event.Output = "87% used"

	ops, history := Reconcile(domain.Batch{event}, priorFor(prior, "rev-1"))

	require.Len(t, ops, 1)
	assert.Equal(t, domain.OpUpdate, ops[0].Kind)
	assert.Equal(t, int64(800), ops[0].Event.StateChange, "state interval is preserved when only the output changes")
	assert.Empty(t, history, "output-only changes are not logged to history")
}

func TestReconcileNoChange(t *testing.T) {
	prior := makeEvent("web-01", "disk", domain.StatusWarning, 1000)
	prior.StateChange = 800
	prior.Output = "85% used"
	event := makeEvent("web-01", "disk", domain.StatusWarning, 2000)
	event.Output = "85% used"

	ops, history := Reconcile(domain.Batch{event}, priorFor(prior, "rev-1"))

	assert.Empty(t, ops)
	assert.Empty(t, history)
}

func TestReconcileOutOfOrderSuperseded(t *testing.T) {
	prior := makeEvent("web-01", "disk", domain.StatusCritical, 2000)
	stale := makeEvent("web-01", "disk", domain.StatusWarning, 1500)

	ops, history := Reconcile(domain.Batch{stale}, priorFor(prior, "rev-1"))

	assert.Empty(t, ops, "a superseded event must not regress current state")
	assert.Empty(t, history)
}

func TestReconcileEqualIssuedIsOutOfOrder(t *testing.T) {
	prior := makeEvent("web-01", "disk", domain.StatusWarning, 2000)
	dup := makeEvent("web-01", "disk", domain.StatusCritical, 2000)

	ops, history := Reconcile(domain.Batch{dup}, priorFor(prior, "rev-1"))

	assert.Empty(t, ops)
	assert.Empty(t, history)
}

func TestReconcileResolution(t *testing.T) {
	prior := makeEvent("web-01", "disk", domain.StatusCritical, 1000)
	resolved := makeEvent("web-01", "disk", domain.StatusResolved, 2000)

	ops, history := Reconcile(domain.Batch{resolved}, priorFor(prior, "rev-1"))

	require.Len(t, ops, 1)
	assert.Equal(t, domain.OpDelete, ops[0].Kind)
	assert.Equal(t, "rev-1", ops[0].Revision)

	require.Len(t, history, 1)
	assert.Equal(t, domain.StatusResolved, history[0].Event.Status)
}

func TestReconcileResolutionWithoutPrior(t *testing.T) {
	resolved := makeEvent("web-01", "disk", domain.StatusResolved, 2000)

	ops, history := Reconcile(domain.Batch{resolved}, nil)

	assert.Empty(t, ops, "nothing to delete without a prior record")
	require.Len(t, history, 1, "resolutions are always logged")
}

func TestReconcileStaleResolutionLogsButKeepsState(t *testing.T) {
	prior := makeEvent("web-01", "disk", domain.StatusCritical, 3000)
	stale := makeEvent("web-01", "disk", domain.StatusResolved, 2000)

	ops, history := Reconcile(domain.Batch{stale}, priorFor(prior, "rev-1"))

	assert.Empty(t, ops, "a stale resolution must not delete newer state")
	require.Len(t, history, 1, "even a stale resolution is logged")
}

func TestReconcileAlertAfterOwnResolution(t *testing.T) {
	// The resolution already deleted the current record, so a late alert
	// has nothing to compare against and reopens as a first occurrence.
	late := makeEvent("web-01", "disk", domain.StatusWarning, 1500)

	ops, history := Reconcile(domain.Batch{late}, nil)

	require.Len(t, ops, 1)
	assert.Equal(t, domain.OpInsert, ops[0].Kind)
	assert.Equal(t, int64(1500), ops[0].Event.StateChange)
	require.Len(t, history, 1)
}

func TestReconcileMixedBatch(t *testing.T) {
	priorDisk := makeEvent("web-01", "disk", domain.StatusWarning, 1000)
	priorLoad := makeEvent("web-02", "load", domain.StatusCritical, 1100)
	prior := map[domain.Key]domain.CurrentStateRecord{
		priorDisk.Key(): {Event: priorDisk, Revision: "rev-disk"},
		priorLoad.Key(): {Event: priorLoad, Revision: "rev-load"},
	}

	batch := domain.Batch{
		makeEvent("web-01", "disk", domain.StatusCritical, 2000),  // transition
		makeEvent("web-02", "load", domain.StatusResolved, 2100),  // resolution
		makeEvent("web-03", "memory", domain.StatusWarning, 2200), // first occurrence
		makeEvent("web-02", "cpu", domain.StatusWarning, 500),     // first occurrence, old but unseen
	}

	ops, history := Reconcile(batch, prior)

	require.Len(t, ops, 4)
	assert.Equal(t, domain.OpUpdate, ops[0].Kind)
	assert.Equal(t, domain.OpDelete, ops[1].Kind)
	assert.Equal(t, domain.OpInsert, ops[2].Kind)
	assert.Equal(t, domain.OpInsert, ops[3].Kind)
	assert.Len(t, history, 4)
}

func TestReconcileIsPure(t *testing.T) {
	prior := makeEvent("web-01", "disk", domain.StatusWarning, 1000)
	priorMap := priorFor(prior, "rev-1")
	batch := domain.Batch{makeEvent("web-01", "disk", domain.StatusCritical, 2000)}

	ops1, hist1 := Reconcile(batch, priorMap)
	ops2, hist2 := Reconcile(batch, priorMap)

	assert.Equal(t, ops1, ops2)
	assert.Equal(t, hist1, hist2)
	assert.Zero(t, batch[0].StateChange, "input batch must not be mutated")
}
