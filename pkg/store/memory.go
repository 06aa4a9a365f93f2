package store

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Port implementation. It is the reference
// implementation for the conditional-update contract and the backend the
// test harness uses.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]*Record
	now         func() time.Time

	// failNext, when non-nil, is returned once from the next operation.
	// Tests use it to exercise the unavailable/backoff path.
	failNext error
}

var _ Port = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]map[string]*Record),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// FailNext makes the next operation fail with err. Test hook.
func (m *Memory) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

func (m *Memory) takeFailure() error {
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return err
	}
	return nil
}

// Get returns a copy of the record.
func (m *Memory) Get(ctx context.Context, collection, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, &StoreError{Op: "get", Collection: collection, ID: id, Err: err}
	}
	col, ok := m.collections[collection]
	if !ok {
		return nil, &StoreError{Op: "get", Collection: collection, ID: id, Err: ErrNotFound}
	}
	rec, ok := col[id]
	if !ok {
		return nil, &StoreError{Op: "get", Collection: collection, ID: id, Err: ErrNotFound}
	}
	return copyRecord(rec), nil
}

// Put performs a conditional write.
func (m *Memory) Put(ctx context.Context, collection, id string, data []byte, expectedVersion int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return 0, &StoreError{Op: "put", Collection: collection, ID: id, Err: err}
	}
	return m.putLocked(collection, id, data, expectedVersion)
}

func (m *Memory) putLocked(collection, id string, data []byte, expectedVersion int64) (int64, error) {
	col, ok := m.collections[collection]
	if !ok {
		col = make(map[string]*Record)
		m.collections[collection] = col
	}
	current, exists := col[id]
	var currentVersion int64
	if exists {
		currentVersion = current.Version
	}
	if currentVersion != expectedVersion {
		return 0, &StoreError{Op: "put", Collection: collection, ID: id, Err: &ConflictError{
			Collection:     collection,
			ID:             id,
			Expected:       expectedVersion,
			CurrentVersion: currentVersion,
		}}
	}
	next := currentVersion + 1
	col[id] = &Record{
		ID:        id,
		Version:   next,
		UpdatedAt: m.now(),
		Data:      append([]byte(nil), data...),
	}
	return next, nil
}

// List returns copies of matching records.
func (m *Memory) List(ctx context.Context, collection string, filter func(*Record) bool, limit int) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return nil, &StoreError{Op: "list", Collection: collection, Err: err}
	}
	var out []*Record
	for _, rec := range m.collections[collection] {
		if filter != nil && !filter(rec) {
			continue
		}
		out = append(out, copyRecord(rec))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Batch applies all writes atomically: if any conditional check fails,
// no write is applied.
func (m *Memory) Batch(ctx context.Context, collection string, writes []Write) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure(); err != nil {
		return &StoreError{Op: "batch", Collection: collection, Err: err}
	}

	// Validate all version preconditions before mutating anything.
	col := m.collections[collection]
	for _, w := range writes {
		var currentVersion int64
		if col != nil {
			if rec, ok := col[w.ID]; ok {
				currentVersion = rec.Version
			}
		}
		if currentVersion != w.ExpectedVersion {
			return &StoreError{Op: "batch", Collection: collection, ID: w.ID, Err: &ConflictError{
				Collection:     collection,
				ID:             w.ID,
				Expected:       w.ExpectedVersion,
				CurrentVersion: currentVersion,
			}}
		}
	}
	for _, w := range writes {
		if _, err := m.putLocked(collection, w.ID, w.Data, w.ExpectedVersion); err != nil {
			return err
		}
	}
	return nil
}

func copyRecord(r *Record) *Record {
	return &Record{
		ID:        r.ID,
		Version:   r.Version,
		UpdatedAt: r.UpdatedAt,
		Data:      append([]byte(nil), r.Data...),
	}
}
