package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/signetlabs/signet/pkg/store"
)

// head tracks the tail of one stream. Appends CAS on its version, which
// serializes writers per stream without a global lock.
type head struct {
	LastSeq  int64  `json:"last_seq"`
	LastHash string `json:"last_hash"`
}

const headID = "head"

// entryID formats the record id for a sequence number so lexicographic
// order equals sequence order.
func entryID(seq int64) string { return fmt.Sprintf("e%012d", seq) }

// Journal appends hash-chained entries to named streams backed by the
// persistence port.
type Journal struct {
	store store.Port
}

// NewJournal creates a journal over the given store.
func NewJournal(p store.Port) *Journal {
	return &Journal{store: p}
}

// streamCollection maps a stream name to its collection.
func streamCollection(stream string) string { return store.ColAuditPrefix + stream }

// Append validates, chains, and persists the entry, returning it with
// Seq, PrevHash, and Hash set. Concurrent appenders to the same stream
// race on the head version; the loser retries against the new tail.
func (j *Journal) Append(ctx context.Context, stream string, e *Entry) (*Entry, error) {
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("invalid audit entry: %w", err)
	}
	col := streamCollection(stream)

	// Contention is per-stream and appends are cheap, so the retry bound
	// only guards against livelock.
	for attempt := 0; attempt < 32; attempt++ {
		h := head{LastSeq: -1, LastHash: GenesisHash}
		headVersion, err := store.GetJSON(ctx, j.store, col, headID, &h)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}

		e.Seq = h.LastSeq + 1
		e.PrevHash = h.LastHash
		hash, err := e.ComputeHash()
		if err != nil {
			return nil, err
		}
		e.Hash = hash

		entryData, err := json.Marshal(e)
		if err != nil {
			return nil, fmt.Errorf("failed to encode audit entry: %w", err)
		}
		headData, err := json.Marshal(head{LastSeq: e.Seq, LastHash: e.Hash})
		if err != nil {
			return nil, fmt.Errorf("failed to encode stream head: %w", err)
		}

		err = j.store.Batch(ctx, col, []store.Write{
			{ID: entryID(e.Seq), Data: entryData, ExpectedVersion: 0},
			{ID: headID, Data: headData, ExpectedVersion: headVersion},
		})
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, err
		}
		// Lost the tail race; reload and retry.
	}
	return nil, fmt.Errorf("audit append lost head race on stream %s: %w", stream, store.ErrConflict)
}

// Record is the convenience form: build an entry and append it.
// If recording fails the caller's operation must fail too.
func (j *Journal) Record(ctx context.Context, stream string, now time.Time, actor string, kind Kind, payload any) (*Entry, error) {
	e, err := NewEntry(now, actor, kind, payload)
	if err != nil {
		return nil, err
	}
	appended, err := j.Append(ctx, stream, e)
	if err != nil {
		return nil, fmt.Errorf("audit log failed: %w", err)
	}
	return appended, nil
}

// Entries returns the stream's entries in sequence order.
func (j *Journal) Entries(ctx context.Context, stream string) ([]*Entry, error) {
	col := streamCollection(stream)
	recs, err := j.store.List(ctx, col, func(r *store.Record) bool { return r.ID != headID }, 0)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	entries := make([]*Entry, 0, len(recs))
	for _, rec := range recs {
		var e Entry
		if err := json.Unmarshal(rec.Data, &e); err != nil {
			return nil, fmt.Errorf("corrupt audit record %s: %w", rec.ID, err)
		}
		entries = append(entries, &e)
	}
	sortEntries(entries)
	return entries, nil
}

func sortEntries(entries []*Entry) {
	for i := 1; i < len(entries); i++ {
		for k := i; k > 0 && entries[k].Seq < entries[k-1].Seq; k-- {
			entries[k], entries[k-1] = entries[k-1], entries[k]
		}
	}
}
