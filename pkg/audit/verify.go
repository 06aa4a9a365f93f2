package audit

import (
	"context"
	"fmt"
)

// VerifyResult reports the outcome of a chain verification pass.
type VerifyResult struct {
	// Valid is the number of consecutive valid entries from seq 0.
	Valid int
	// Corrupt is true if the chain breaks before the last entry.
	Corrupt bool
	// FirstBadSeq is the sequence number where the chain breaks, -1 if intact.
	FirstBadSeq int64
	// Reason describes the first failure.
	Reason string
}

// VerifyStream recomputes the hash chain of one stream from seq 0
// upward. Any mismatch marks the stream corrupted from that entry on.
func (j *Journal) VerifyStream(ctx context.Context, stream string) (*VerifyResult, error) {
	entries, err := j.Entries(ctx, stream)
	if err != nil {
		return nil, err
	}
	return VerifyEntries(entries), nil
}

// VerifyEntries checks an already-loaded chain.
func VerifyEntries(entries []*Entry) *VerifyResult {
	res := &VerifyResult{FirstBadSeq: -1}
	expectedPrev := GenesisHash
	var expectedSeq int64

	for _, e := range entries {
		if e.Seq != expectedSeq {
			return fail(res, e.Seq, fmt.Sprintf("sequence gap: expected %d, got %d", expectedSeq, e.Seq))
		}
		if e.PrevHash != expectedPrev {
			return fail(res, e.Seq, fmt.Sprintf("chain broken: expected prev=%s, got prev=%s", expectedPrev, e.PrevHash))
		}
		computed, err := e.ComputeHash()
		if err != nil {
			return fail(res, e.Seq, fmt.Sprintf("unhashable entry: %v", err))
		}
		if computed != e.Hash {
			return fail(res, e.Seq, fmt.Sprintf("hash mismatch: expected=%s, stored=%s", computed, e.Hash))
		}
		res.Valid++
		expectedPrev = e.Hash
		expectedSeq++
	}
	return res
}

func fail(res *VerifyResult, seq int64, reason string) *VerifyResult {
	res.Corrupt = true
	res.FirstBadSeq = seq
	res.Reason = reason
	return res
}
