package neo4j

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"
	"go.uber.org/zap"

	"github.com/yairfalse/statekeeper/pkg/domain"
)

// The current-state store holds one :CurrentState node per (client, check)
// with a store-assigned revision token; the history store is an append-only
// log of :HistoryEvent nodes. Each element of a bulk request runs in its own
// managed transaction so one rejected document never poisons its neighbors
// and per-document outcomes stay order-preserving.

// EnsureSchema creates constraints and indexes. Safe to run repeatedly.
func (c *Client) EnsureSchema(ctx context.Context) error {
	statements := []string{
		"CREATE CONSTRAINT current_state_key IF NOT EXISTS FOR (s:CurrentState) REQUIRE (s.client, s.check) IS UNIQUE",
		"CREATE INDEX history_key IF NOT EXISTS FOR (h:HistoryEvent) ON (h.client, h.check)",
		"CREATE INDEX history_issued IF NOT EXISTS FOR (h:HistoryEvent) ON (h.issued)",
	}

	for _, stmt := range statements {
		err := c.executeWrite(ctx, "store.ensure_schema", func(tx neo4j.ManagedTransaction) error {
			_, err := tx.Run(ctx, stmt, nil)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}

	c.logger.Info("Store schema ensured", zap.Int("statements", len(statements)))
	return nil
}

// FetchPrior returns the last known state for each key that has one. Keys
// without a live record are simply absent from the result. One batched
// lookup per reconciliation cycle.
func (c *Client) FetchPrior(ctx context.Context, keys []domain.Key) (map[domain.Key]domain.CurrentStateRecord, error) {
	prior := make(map[domain.Key]domain.CurrentStateRecord, len(keys))
	if len(keys) == 0 {
		return prior, nil
	}

	keyMaps := make([]any, 0, len(keys))
	for _, k := range keys {
		keyMaps = append(keyMaps, map[string]any{"client": k.Client, "check": k.Check})
	}

	query := `
		UNWIND $keys AS key
		MATCH (s:CurrentState {client: key.client, check: key.check})
		RETURN s.client AS client, s.check AS check, s.status AS status,
		       s.issued AS issued, s.output AS output,
		       s.state_change AS state_change, s.revision AS revision
	`

	err := c.executeRead(ctx, "store.fetch_prior", func(tx neo4j.ManagedTransaction) error {
		result, err := runWithParams(ctx, tx, query, NewQueryParams().SetRaw("keys", keyMaps))
		if err != nil {
			return err
		}
		for result.Next(ctx) {
			rec, err := stateFromRecord(result.Record())
			if err != nil {
				return err
			}
			prior[rec.Event.Key()] = rec
		}
		return result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch prior state: %w", err)
	}

	return prior, nil
}

// BulkApply executes the current-state mutations and returns one result per
// op, order-preserving. A returned error means the store itself failed and
// nothing can be said about individual documents; per-document rejections
// (revision conflicts, duplicate inserts) come back inside the results.
func (c *Client) BulkApply(ctx context.Context, ops []domain.StateOp) ([]domain.OpResult, error) {
	results := make([]domain.OpResult, len(ops))

	for i, op := range ops {
		revision, err := c.applyOp(ctx, op)
		if err != nil {
			if !isPerDocument(err) {
				return nil, fmt.Errorf("bulk apply failed at op %d (%s %s): %w", i, op.Kind, op.Key, err)
			}
			results[i] = domain.OpResult{Err: err}
			continue
		}
		results[i] = domain.OpResult{Revision: revision}
	}

	return results, nil
}

// BulkAppend writes history records and returns one result per record. The
// history store is a pure log; records are never updated or deleted.
func (c *Client) BulkAppend(ctx context.Context, records []domain.HistoryRecord) ([]domain.OpResult, error) {
	results := make([]domain.OpResult, len(records))

	query := `
		CREATE (h:HistoryEvent {
			id: $id, client: $client, check: $check, status: $status,
			issued: $issued, output: $output, state_change: $state_change
		})
		RETURN h.id AS id
	`

	for i, record := range records {
		id := record.ID
		if id == "" {
			id = uuid.NewString()
		}
		e := record.Event

		params := NewQueryParams().
			SetString("id", id).
			SetString("client", e.Client).
			SetString("check", e.Check).
			SetInt("status", int(e.Status)).
			SetInt64("issued", e.Issued).
			SetString("output", e.Output).
			SetInt64("state_change", e.StateChange)

		err := c.executeWrite(ctx, "store.append_history", func(tx neo4j.ManagedTransaction) error {
			result, err := runWithParams(ctx, tx, query, params)
			if err != nil {
				return err
			}
			_, err = result.Single(ctx)
			return err
		})
		if err != nil {
			if !isPerDocument(err) {
				return nil, fmt.Errorf("bulk append failed at record %d (%s): %w", i, e.Key(), err)
			}
			results[i] = domain.OpResult{Err: err}
			continue
		}
		results[i] = domain.OpResult{Revision: id}
	}

	return results, nil
}

// ListCurrent returns up to limit live current-state records, ordered by
// key. Serves the read-only presentation surface.
func (c *Client) ListCurrent(ctx context.Context, limit int) ([]domain.CurrentStateRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		MATCH (s:CurrentState)
		RETURN s.client AS client, s.check AS check, s.status AS status,
		       s.issued AS issued, s.output AS output,
		       s.state_change AS state_change, s.revision AS revision
		ORDER BY s.client, s.check
		LIMIT $limit
	`

	var records []domain.CurrentStateRecord
	err := c.executeRead(ctx, "store.list_current", func(tx neo4j.ManagedTransaction) error {
		result, err := runWithParams(ctx, tx, query, NewQueryParams().SetInt("limit", limit))
		if err != nil {
			return err
		}
		for result.Next(ctx) {
			rec, err := stateFromRecord(result.Record())
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return result.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list current state: %w", err)
	}

	return records, nil
}

// applyOp executes one current-state mutation in its own transaction and
// returns the newly assigned revision token (empty for deletes)
func (c *Client) applyOp(ctx context.Context, op domain.StateOp) (string, error) {
	switch op.Kind {
	case domain.OpInsert:
		return c.insertState(ctx, op)
	case domain.OpUpdate:
		return c.updateState(ctx, op)
	case domain.OpDelete:
		return "", c.deleteState(ctx, op)
	default:
		return "", fmt.Errorf("unknown op kind %d for %s", int(op.Kind), op.Key)
	}
}

func (c *Client) insertState(ctx context.Context, op domain.StateOp) (string, error) {
	revision := uuid.NewString()
	e := op.Event

	query := `
		CREATE (s:CurrentState {
			client: $client, check: $check, status: $status,
			issued: $issued, output: $output, state_change: $state_change,
			revision: $revision
		})
		RETURN s.revision AS revision
	`

	params := NewQueryParams().
		SetString("client", e.Client).
		SetString("check", e.Check).
		SetInt("status", int(e.Status)).
		SetInt64("issued", e.Issued).
		SetString("output", e.Output).
		SetInt64("state_change", e.StateChange).
		SetString("revision", revision)

	err := c.executeWrite(ctx, "store.insert_state", func(tx neo4j.ManagedTransaction) error {
		result, err := runWithParams(ctx, tx, query, params)
		if err != nil {
			return err
		}
		_, err = result.Single(ctx)
		return err
	})
	if err != nil {
		if isDocumentError(err) {
			// The uniqueness constraint on (client, check) is the only
			// client-classified failure a CREATE can hit here.
			return "", fmt.Errorf("%s: %w", op.Key, ErrDuplicateKey)
		}
		return "", err
	}

	return revision, nil
}

func (c *Client) updateState(ctx context.Context, op domain.StateOp) (string, error) {
	revision := uuid.NewString()
	e := op.Event

	update := `
		MATCH (s:CurrentState {client: $client, check: $check})
		WHERE s.revision = $prev_revision
		SET s.status = $status, s.issued = $issued, s.output = $output,
		    s.state_change = $state_change, s.revision = $revision
		RETURN s.revision AS revision
	`

	params := NewQueryParams().
		SetString("client", e.Client).
		SetString("check", e.Check).
		SetString("prev_revision", op.Revision).
		SetInt("status", int(e.Status)).
		SetInt64("issued", e.Issued).
		SetString("output", e.Output).
		SetInt64("state_change", e.StateChange).
		SetString("revision", revision)

	err := c.executeWrite(ctx, "store.update_state", func(tx neo4j.ManagedTransaction) error {
		result, err := runWithParams(ctx, tx, update, params)
		if err != nil {
			return err
		}
		if !result.Next(ctx) {
			if err := result.Err(); err != nil {
				return err
			}
			return c.classifyMiss(ctx, tx, op)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return revision, nil
}

func (c *Client) deleteState(ctx context.Context, op domain.StateOp) error {
	query := `
		MATCH (s:CurrentState {client: $client, check: $check})
		WHERE s.revision = $prev_revision
		WITH s, s.revision AS revision
		DELETE s
		RETURN revision
	`

	params := NewQueryParams().
		SetString("client", op.Key.Client).
		SetString("check", op.Key.Check).
		SetString("prev_revision", op.Revision)

	return c.executeWrite(ctx, "store.delete_state", func(tx neo4j.ManagedTransaction) error {
		result, err := runWithParams(ctx, tx, query, params)
		if err != nil {
			return err
		}
		if !result.Next(ctx) {
			if err := result.Err(); err != nil {
				return err
			}
			return c.classifyMiss(ctx, tx, op)
		}
		return nil
	})
}

// classifyMiss runs after a revision-guarded MATCH returned no rows and
// decides, inside the same transaction, whether the record is gone or held
// under a different revision
func (c *Client) classifyMiss(ctx context.Context, tx neo4j.ManagedTransaction, op domain.StateOp) error {
	lookup := `
		MATCH (s:CurrentState {client: $client, check: $check})
		RETURN s.revision AS revision
	`
	params := NewQueryParams().
		SetString("client", op.Key.Client).
		SetString("check", op.Key.Check)

	result, err := runWithParams(ctx, tx, lookup, params)
	if err != nil {
		return err
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			return err
		}
		return fmt.Errorf("%s: %w", op.Key, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op.Key, ErrRevisionConflict)
}

// isPerDocument reports whether an op failure is scoped to one document
func isPerDocument(err error) bool {
	return errors.Is(err, ErrRevisionConflict) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrDuplicateKey) ||
		isDocumentError(err)
}

// stateFromRecord maps a query record onto a CurrentStateRecord
func stateFromRecord(record *db.Record) (domain.CurrentStateRecord, error) {
	var rec domain.CurrentStateRecord

	client, ok := stringValue(record, "client")
	if !ok {
		return rec, fmt.Errorf("state record missing client")
	}
	check, ok := stringValue(record, "check")
	if !ok {
		return rec, fmt.Errorf("state record missing check")
	}
	status, ok := intValue(record, "status")
	if !ok {
		return rec, fmt.Errorf("state record %s/%s missing status", client, check)
	}
	issued, ok := intValue(record, "issued")
	if !ok {
		return rec, fmt.Errorf("state record %s/%s missing issued", client, check)
	}
	revision, ok := stringValue(record, "revision")
	if !ok {
		return rec, fmt.Errorf("state record %s/%s missing revision", client, check)
	}
	output, _ := stringValue(record, "output")
	stateChange, _ := intValue(record, "state_change")

	rec.Event = domain.Event{
		Client:      client,
		Check:       check,
		Status:      domain.Status(status),
		Issued:      issued,
		Output:      output,
		StateChange: stateChange,
	}
	rec.Revision = revision
	return rec, nil
}

func stringValue(record *db.Record, key string) (string, bool) {
	raw, ok := record.Get(key)
	if !ok || raw == nil {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok
}

func intValue(record *db.Record, key string) (int64, bool) {
	raw, ok := record.Get(key)
	if !ok || raw == nil {
		return 0, false
	}
	n, ok := raw.(int64)
	return n, ok
}
