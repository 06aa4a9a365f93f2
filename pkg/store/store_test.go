package store

import (
	"context"
	"errors"
	"testing"
)

func TestU_Memory_PutCreateAndUpdate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	v, err := m.Put(ctx, ColDocuments, "doc-1", []byte(`{"a":1}`), 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if v != 1 {
		t.Errorf("expected version 1, got %d", v)
	}

	v, err = m.Put(ctx, ColDocuments, "doc-1", []byte(`{"a":2}`), 1)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if v != 2 {
		t.Errorf("expected version 2, got %d", v)
	}

	rec, err := m.Get(ctx, ColDocuments, "doc-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(rec.Data) != `{"a":2}` {
		t.Errorf("unexpected data %s", rec.Data)
	}
}

func TestU_Memory_PutConflict(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.Put(ctx, ColDocuments, "doc-1", []byte(`{}`), 0); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err := m.Put(ctx, ColDocuments, "doc-1", []byte(`{}`), 0)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict on duplicate create, got %v", err)
	}

	_, err = m.Put(ctx, ColDocuments, "doc-1", []byte(`{}`), 7)
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.CurrentVersion != 1 {
		t.Errorf("expected current version 1, got %d", conflict.CurrentVersion)
	}
}

func TestU_Memory_GetNotFound(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Get(ctx, ColDocuments, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestU_Memory_BatchAllOrNothing(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.Put(ctx, ColParticipants, "p1", []byte(`{}`), 0); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err := m.Batch(ctx, ColParticipants, []Write{
		{ID: "p2", Data: []byte(`{}`), ExpectedVersion: 0},
		{ID: "p1", Data: []byte(`{}`), ExpectedVersion: 99}, // stale
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	// The first write must not have been applied.
	if _, err := m.Get(ctx, ColParticipants, "p2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("batch should be all-or-nothing; p2 exists: %v", err)
	}
}

func TestU_WithRetry_RecoversFromUnavailable(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.FailNext(ErrUnavailable)
	err := WithRetry(ctx, func() error {
		_, err := m.Put(ctx, ColDocuments, "doc-1", []byte(`{}`), 0)
		return err
	})
	if err != nil {
		t.Fatalf("retry should recover: %v", err)
	}
}

func TestU_Retrying_PortRecoversFromUnavailable(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	p := NewRetrying(m)

	m.FailNext(ErrUnavailable)
	if _, err := p.Put(ctx, ColDocuments, "doc-1", []byte(`{}`), 0); err != nil {
		t.Fatalf("decorated put should recover: %v", err)
	}

	m.FailNext(ErrUnavailable)
	rec, err := p.Get(ctx, ColDocuments, "doc-1")
	if err != nil {
		t.Fatalf("decorated get should recover: %v", err)
	}
	if rec.Version != 1 {
		t.Errorf("expected version 1, got %d", rec.Version)
	}

	// Conflicts surface immediately through the decorator.
	if _, err := p.Put(ctx, ColDocuments, "doc-1", []byte(`{}`), 9); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestU_WithRetry_ConflictNotRetried(t *testing.T) {
	ctx := context.Background()
	calls := 0
	err := WithRetry(ctx, func() error {
		calls++
		return &ConflictError{Collection: ColDocuments, ID: "x", Expected: 1, CurrentVersion: 2}
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if calls != 1 {
		t.Errorf("conflicts must not be retried blindly, got %d calls", calls)
	}
}

func TestF_SQLite_ConditionalUpdateContract(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()

	v, err := s.Put(ctx, ColDocuments, "doc-1", []byte(`{"status":"draft"}`), 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if v != 1 {
		t.Errorf("expected version 1, got %d", v)
	}

	if _, err := s.Put(ctx, ColDocuments, "doc-1", []byte(`{}`), 5); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	if _, err := s.Get(ctx, ColDocuments, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	err = s.Batch(ctx, ColDocuments, []Write{
		{ID: "doc-2", Data: []byte(`{}`), ExpectedVersion: 0},
		{ID: "doc-1", Data: []byte(`{"status":"out"}`), ExpectedVersion: 1},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}

	recs, err := s.List(ctx, ColDocuments, nil, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 {
		t.Errorf("expected 2 records, got %d", len(recs))
	}
}
