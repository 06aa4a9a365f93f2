package audit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/signetlabs/signet/pkg/store"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestJournal() *Journal {
	return NewJournal(store.NewMemory())
}

func TestU_Entry_ComputeHash_Deterministic(t *testing.T) {
	e := &Entry{
		Seq:      0,
		PrevHash: GenesisHash,
		Time:     testTime.Format(time.RFC3339Nano),
		Actor:    "system",
		Kind:     KindCreated,
		Payload:  json.RawMessage(`{"b":2,"a":1}`),
	}
	h1, err := e.ComputeHash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	// Same payload with different key order must hash identically.
	e.Payload = json.RawMessage(`{"a":1,"b":2}`)
	h2, err := e.ComputeHash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if h1 != h2 {
		t.Error("canonical payload hashing must ignore key order")
	}
}

func TestU_Journal_AppendChains(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal()

	e1, err := j.Record(ctx, "doc-1", testTime, "alice", KindCreated, map[string]string{"doc": "doc-1"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	e2, err := j.Record(ctx, "doc-1", testTime.Add(time.Minute), "alice", KindStarted, nil)
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if e1.Seq != 0 || e2.Seq != 1 {
		t.Errorf("expected seq 0,1 got %d,%d", e1.Seq, e2.Seq)
	}
	if e1.PrevHash != GenesisHash {
		t.Errorf("first entry must chain to genesis, got %s", e1.PrevHash)
	}
	if e2.PrevHash != e1.Hash {
		t.Error("second entry must chain to first entry hash")
	}
}

func TestU_Journal_StreamsAreIndependent(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal()

	if _, err := j.Record(ctx, "doc-1", testTime, "a", KindCreated, nil); err != nil {
		t.Fatalf("append: %v", err)
	}
	e, err := j.Record(ctx, "doc-2", testTime, "a", KindCreated, nil)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if e.Seq != 0 {
		t.Errorf("streams must number independently, got seq %d", e.Seq)
	}
}

func TestU_VerifyStream_Intact(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal()

	for i, kind := range []Kind{KindCreated, KindInvited, KindSigned, KindCompleted} {
		if _, err := j.Record(ctx, "doc-1", testTime.Add(time.Duration(i)*time.Minute), "alice", kind, nil); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	res, err := j.VerifyStream(ctx, "doc-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Corrupt {
		t.Fatalf("intact stream reported corrupt: %s", res.Reason)
	}
	if res.Valid != 4 {
		t.Errorf("expected 4 valid entries, got %d", res.Valid)
	}
}

func TestU_VerifyStream_TamperDetectedFromEntryN(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	j := NewJournal(mem)

	for i := 0; i < 5; i++ {
		payload := map[string]int{"n": i}
		if _, err := j.Record(ctx, "doc-1", testTime.Add(time.Duration(i)*time.Second), "alice", KindViewed, payload); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	// Flip a byte in entry 2's stored payload.
	col := store.ColAuditPrefix + "doc-1"
	rec, err := mem.Get(ctx, col, entryID(2))
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	var e Entry
	if err := json.Unmarshal(rec.Data, &e); err != nil {
		t.Fatalf("decode: %v", err)
	}
	e.Payload = json.RawMessage(`{"n":99}`)
	tampered, _ := json.Marshal(&e)
	if _, err := mem.Put(ctx, col, entryID(2), tampered, rec.Version); err != nil {
		t.Fatalf("tamper write: %v", err)
	}

	res, err := j.VerifyStream(ctx, "doc-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Corrupt {
		t.Fatal("tampered stream must report corrupt")
	}
	if res.FirstBadSeq != 2 {
		t.Errorf("corruption must be reported at seq 2, got %d", res.FirstBadSeq)
	}
	if res.Valid != 2 {
		t.Errorf("entries before the tamper stay valid, got %d", res.Valid)
	}
}

func TestU_Journal_ConcurrentAppendSerializes(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal()

	done := make(chan error, 10)
	for i := 0; i < 10; i++ {
		go func(i int) {
			_, err := j.Record(ctx, "doc-1", testTime, "writer", KindViewed, map[string]int{"i": i})
			done <- err
		}(i)
	}
	for i := 0; i < 10; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent append: %v", err)
		}
	}

	entries, err := j.Entries(ctx, "doc-1")
	if err != nil {
		t.Fatalf("entries: %v", err)
	}
	if len(entries) != 10 {
		t.Fatalf("expected 10 entries, got %d", len(entries))
	}
	if res := VerifyEntries(entries); res.Corrupt {
		t.Errorf("chain corrupt after concurrent appends: %s", res.Reason)
	}
}
