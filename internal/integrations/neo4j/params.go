package neo4j

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// QueryParams provides a type-safe way to build Neo4j query parameters.
// This encapsulates the map[string]interface{} requirement of the Neo4j
// driver while keeping the rest of the codebase strictly typed.
type QueryParams struct {
	params map[string]any // Internal use only - never exposed
}

// NewQueryParams creates a new type-safe parameter builder
func NewQueryParams() *QueryParams {
	return &QueryParams{
		params: make(map[string]any),
	}
}

// SetString adds a string parameter
func (q *QueryParams) SetString(key, value string) *QueryParams {
	q.params[key] = value
	return q
}

// SetInt adds an integer parameter
func (q *QueryParams) SetInt(key string, value int) *QueryParams {
	q.params[key] = value
	return q
}

// SetInt64 adds an int64 parameter
func (q *QueryParams) SetInt64(key string, value int64) *QueryParams {
	q.params[key] = value
	return q
}

// SetRaw adds a raw value for edge cases (use sparingly)
func (q *QueryParams) SetRaw(key string, value any) *QueryParams {
	q.params[key] = value
	return q
}

// build returns the internal map for use with the Neo4j driver
func (q *QueryParams) build() map[string]any {
	if q.params == nil {
		return nil
	}
	return q.params
}

// runWithParams executes a query with type-safe parameters on a managed
// transaction
func runWithParams(ctx context.Context, tx neo4j.ManagedTransaction, query string, params *QueryParams) (neo4j.ResultWithContext, error) {
	var p map[string]any
	if params != nil {
		p = params.build()
	}
	return tx.Run(ctx, query, p)
}
