package neo4j

import (
	"errors"
	"fmt"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
)

func TestIsDocumentError(t *testing.T) {
	constraintErr := &neo4j.Neo4jError{
		Code: "Neo.ClientError.Schema.ConstraintValidationFailed",
		Msg:  "already exists",
	}
	assert.True(t, isDocumentError(constraintErr))
	assert.True(t, isDocumentError(fmt.Errorf("insert: %w", constraintErr)),
		"classification survives wrapping")

	transientErr := &neo4j.Neo4jError{
		Code: "Neo.TransientError.Transaction.DeadlockDetected",
		Msg:  "deadlock",
	}
	assert.False(t, isDocumentError(transientErr))

	assert.False(t, isDocumentError(errors.New("connection refused")))
	assert.False(t, isDocumentError(nil))
}
