package domain

import (
	"fmt"
)

// Status is the ordinal severity of a check event. Resolved is the zero
// value so a missing status on the wire reads as a resolution.
type Status int

const (
	StatusResolved Status = iota
	StatusWarning
	StatusCritical
	StatusUnknown
)

// String returns a human-readable status name
func (s Status) String() string {
	switch s {
	case StatusResolved:
		return "resolved"
	case StatusWarning:
		return "warning"
	case StatusCritical:
		return "critical"
	case StatusUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Valid reports whether the status is one of the defined ordinals
func (s Status) Valid() bool {
	return s >= StatusResolved && s <= StatusUnknown
}

// Key identifies a monitored entity: one check on one client.
// It is the uniqueness scope for current state and for within-batch
// deduplication.
type Key struct {
	Client string `json:"client"`
	Check  string `json:"check"`
}

// String returns the canonical client/check form used in logs and subjects
func (k Key) String() string {
	return k.Client + "/" + k.Check
}

// Event is a single check result popped from the queue. All fields are
// immutable once read except StateChange, which the reconciler computes.
type Event struct {
	Client string `json:"client"`
	Check  string `json:"check"`
	Status Status `json:"status"`
	Issued int64  `json:"issued"`
	Output string `json:"output,omitempty"`

	// StateChange is the timestamp of the last status transition for this
	// key. Producers leave it zero; the reconciler fills it in.
	StateChange int64 `json:"state_change,omitempty"`
}

// Key returns the entity key of the event
func (e Event) Key() Key {
	return Key{Client: e.Client, Check: e.Check}
}

// Validate checks the event can be reconciled at all
func (e Event) Validate() error {
	if e.Client == "" {
		return fmt.Errorf("event missing client name")
	}
	if e.Check == "" {
		return fmt.Errorf("event missing check name")
	}
	if e.Issued <= 0 {
		return fmt.Errorf("event %s has no issued timestamp", e.Key())
	}
	if !e.Status.Valid() {
		return fmt.Errorf("event %s has invalid status %d", e.Key(), int(e.Status))
	}
	return nil
}

// Batch is the ordered set of events collected in one cycle. Batches never
// persist across cycles; everything not persisted goes back to the queue.
type Batch []Event

// Keys returns the distinct entity keys in the batch, in batch order
func (b Batch) Keys() []Key {
	seen := make(map[Key]struct{}, len(b))
	keys := make([]Key, 0, len(b))
	for _, e := range b {
		k := e.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}
