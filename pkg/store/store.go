// Package store defines the persistence port for the signing core.
//
// Every entity is persisted as an opaque JSON document inside a Record
// envelope carrying a version counter. Writes are conditional on the
// version (optimistic concurrency): a Put with a stale expected version
// fails with ErrConflict and the caller retries from a fresh read. Two
// implementations are provided: an in-memory store for tests and
// embedding, and a SQLite store for durable single-node deployments.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Collection names used by the core. A store implementation must accept
// arbitrary collection names; these constants keep call sites consistent.
const (
	ColDocuments         = "documents"
	ColDefinitions       = "workflow_definitions"
	ColInstances         = "workflow_instances"
	ColParticipants      = "participants"
	ColStages            = "stages"
	ColSignatures        = "signatures"
	ColTimestamps        = "timestamps"
	ColComposites        = "composites"
	ColValidationReports = "validation_reports"
	ColPolicies          = "policies"
	ColRelationships     = "relationships"
	ColDecisionCache     = "decision_cache"
	ColAuditPrefix       = "audit_" // one stream per document or decision log
)

// Record is the persistence envelope for one entity.
type Record struct {
	ID        string    `json:"id"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	Data      []byte    `json:"data"`
}

// Write is one element of a batch.
type Write struct {
	ID              string
	Data            []byte
	ExpectedVersion int64 // 0 means create
}

// Port is the persistence interface consumed by the core.
//
// Put with ExpectedVersion 0 creates the record and fails with
// ErrConflict if it already exists. Put with a non-zero version replaces
// the record iff the stored version matches, returning the new version.
// List applies the filter in unspecified order; a nil filter matches
// everything. Batch applies all writes to one collection atomically.
type Port interface {
	Get(ctx context.Context, collection, id string) (*Record, error)
	Put(ctx context.Context, collection, id string, data []byte, expectedVersion int64) (int64, error)
	List(ctx context.Context, collection string, filter func(*Record) bool, limit int) ([]*Record, error)
	Batch(ctx context.Context, collection string, writes []Write) error
}

// GetJSON reads a record and unmarshals its payload into v.
// Returns the record version for a subsequent conditional Put.
func GetJSON(ctx context.Context, p Port, collection, id string, v any) (int64, error) {
	rec, err := p.Get(ctx, collection, id)
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(rec.Data, v); err != nil {
		return 0, fmt.Errorf("failed to decode %s/%s: %w", collection, id, err)
	}
	return rec.Version, nil
}

// PutJSON marshals v and writes it conditionally.
func PutJSON(ctx context.Context, p Port, collection, id string, v any, expectedVersion int64) (int64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("failed to encode %s/%s: %w", collection, id, err)
	}
	return p.Put(ctx, collection, id, data, expectedVersion)
}
