package domain

// CurrentStateRecord is the latest reconciled event for a key plus the
// opaque revision token the store assigned when it was written. At most one
// live record exists per key; a resolution tombstones it.
type CurrentStateRecord struct {
	Event    Event  `json:"event"`
	Revision string `json:"revision"`
}

// HistoryRecord wraps an event for the append-only history store. History
// records are never updated or deleted.
type HistoryRecord struct {
	ID    string `json:"id,omitempty"`
	Event Event  `json:"event"`
}

// OpKind enumerates current-state store mutations
type OpKind int

const (
	OpInsert OpKind = iota + 1
	OpUpdate
	OpDelete
)

// String returns the mutation verb
func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// StateOp is one mutation against the current-state store. Revision is
// required for updates and deletes and carries the prior record's token so a
// concurrent writer fails the op instead of being silently overwritten.
// Event is the originating event, kept so a failed op can be requeued.
type StateOp struct {
	Kind     OpKind `json:"kind"`
	Key      Key    `json:"key"`
	Revision string `json:"revision,omitempty"`
	Event    Event  `json:"event"`
}

// OpResult is the per-document outcome of one element of a bulk request.
// Results are parallel to and order-preserving with the submitted ops.
type OpResult struct {
	// Revision is the token assigned by the store on success. Empty for
	// deletes and for failed ops.
	Revision string

	// Err is the per-document failure, nil on success. A transport-level
	// failure is reported on the bulk call itself, never here.
	Err error
}

// Failed reports whether this document failed to persist
func (r OpResult) Failed() bool {
	return r.Err != nil
}
