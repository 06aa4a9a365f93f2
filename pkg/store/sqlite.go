package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite is a durable Port implementation for single-node deployments.
// All records live in one table keyed by (collection, id); the version
// check rides on the UPDATE's WHERE clause, so CAS semantics hold without
// explicit locking.
type SQLite struct {
	db *sql.DB
}

var _ Port = (*SQLite)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
	collection  TEXT NOT NULL,
	id          TEXT NOT NULL,
	version     INTEGER NOT NULL,
	updated_at  TEXT NOT NULL,
	data        BLOB NOT NULL,
	PRIMARY KEY (collection, id)
);
`

// OpenSQLite opens (and migrates) a SQLite-backed store at path.
// Use ":memory:" for an ephemeral database.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate sqlite store: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error { return s.db.Close() }

// Get returns one record.
func (s *SQLite) Get(ctx context.Context, collection, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT version, updated_at, data FROM records WHERE collection = ? AND id = ?`,
		collection, id)

	var rec Record
	var updatedAt string
	rec.ID = id
	if err := row.Scan(&rec.Version, &updatedAt, &rec.Data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &StoreError{Op: "get", Collection: collection, ID: id, Err: ErrNotFound}
		}
		return nil, &StoreError{Op: "get", Collection: collection, ID: id, Err: wrapUnavailable(err)}
	}
	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		rec.UpdatedAt = t
	}
	return &rec, nil
}

// Put performs a conditional write inside a transaction.
func (s *SQLite) Put(ctx context.Context, collection, id string, data []byte, expectedVersion int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &StoreError{Op: "put", Collection: collection, ID: id, Err: wrapUnavailable(err)}
	}
	defer tx.Rollback()

	newVersion, err := putTx(ctx, tx, collection, id, data, expectedVersion)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, &StoreError{Op: "put", Collection: collection, ID: id, Err: wrapUnavailable(err)}
	}
	return newVersion, nil
}

func putTx(ctx context.Context, tx *sql.Tx, collection, id string, data []byte, expectedVersion int64) (int64, error) {
	var currentVersion int64
	err := tx.QueryRowContext(ctx,
		`SELECT version FROM records WHERE collection = ? AND id = ?`,
		collection, id).Scan(&currentVersion)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		currentVersion = 0
	case err != nil:
		return 0, &StoreError{Op: "put", Collection: collection, ID: id, Err: wrapUnavailable(err)}
	}

	if currentVersion != expectedVersion {
		return 0, &StoreError{Op: "put", Collection: collection, ID: id, Err: &ConflictError{
			Collection:     collection,
			ID:             id,
			Expected:       expectedVersion,
			CurrentVersion: currentVersion,
		}}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	newVersion := currentVersion + 1
	if currentVersion == 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO records (collection, id, version, updated_at, data) VALUES (?, ?, ?, ?, ?)`,
			collection, id, newVersion, now, data)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE records SET version = ?, updated_at = ?, data = ? WHERE collection = ? AND id = ? AND version = ?`,
			newVersion, now, data, collection, id, currentVersion)
	}
	if err != nil {
		return 0, &StoreError{Op: "put", Collection: collection, ID: id, Err: wrapUnavailable(err)}
	}
	return newVersion, nil
}

// List returns matching records.
func (s *SQLite) List(ctx context.Context, collection string, filter func(*Record) bool, limit int) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, version, updated_at, data FROM records WHERE collection = ? ORDER BY id`,
		collection)
	if err != nil {
		return nil, &StoreError{Op: "list", Collection: collection, Err: wrapUnavailable(err)}
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var rec Record
		var updatedAt string
		if err := rows.Scan(&rec.ID, &rec.Version, &updatedAt, &rec.Data); err != nil {
			return nil, &StoreError{Op: "list", Collection: collection, Err: wrapUnavailable(err)}
		}
		if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
			rec.UpdatedAt = t
		}
		if filter != nil && !filter(&rec) {
			continue
		}
		out = append(out, &rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "list", Collection: collection, Err: wrapUnavailable(err)}
	}
	return out, nil
}

// Batch applies all writes in one transaction.
func (s *SQLite) Batch(ctx context.Context, collection string, writes []Write) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StoreError{Op: "batch", Collection: collection, Err: wrapUnavailable(err)}
	}
	defer tx.Rollback()

	for _, w := range writes {
		if _, err := putTx(ctx, tx, collection, w.ID, w.Data, w.ExpectedVersion); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return &StoreError{Op: "batch", Collection: collection, Err: wrapUnavailable(err)}
	}
	return nil
}

// wrapUnavailable folds driver-level failures into the retryable class.
func wrapUnavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
