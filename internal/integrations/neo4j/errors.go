package neo4j

import (
	"errors"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Per-document failures returned inside bulk results. A bulk call only
// returns an error itself when the store is unreachable; these sentinels
// classify the individual documents that were rejected.
var (
	// ErrRevisionConflict means the revision token submitted with an update
	// or delete no longer matches the stored record. Another writer got
	// there first; the op failed instead of silently overwriting.
	ErrRevisionConflict = errors.New("revision conflict")

	// ErrNotFound means the record addressed by an update or delete does
	// not exist anymore.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateKey means an insert hit the uniqueness constraint on
	// (client, check): a live record already exists for the key.
	ErrDuplicateKey = errors.New("duplicate key")
)

// isDocumentError reports whether a driver error affects only the submitted
// document rather than the transport. Client-classified Neo4j errors
// (constraint violations, bad parameters) fail one op; everything else is a
// connectivity or server problem that invalidates the whole bulk call.
func isDocumentError(err error) bool {
	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) {
		return neoErr.Classification() == "ClientError"
	}
	return false
}
