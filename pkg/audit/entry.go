// Package audit provides the append-only, hash-chained event journal.
//
// There is one stream per document and one per policy-decision log. Each
// entry links to its predecessor by hash, so any tampering with a stored
// entry breaks the chain from that point on. Verification recomputes the
// chain from sequence 0.
//
// Key principles, carried over from PKI audit practice:
//   - Audit failure = operation failure
//   - Never log secrets
//   - All timestamps in UTC
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Kind categorizes an audit event.
type Kind string

const (
	// Document / workflow lifecycle
	KindCreated      Kind = "CREATED"
	KindStarted      Kind = "STARTED"
	KindInvited      Kind = "INVITED"
	KindViewed       Kind = "VIEWED"
	KindSigned       Kind = "SIGNED"
	KindDeclined     Kind = "DECLINED"
	KindDelegated    Kind = "DELEGATED"
	KindExpired      Kind = "EXPIRED"
	KindStageReady   Kind = "STAGE_READY"
	KindStageDone    Kind = "STAGE_DONE"
	KindStageFailed  Kind = "STAGE_FAILED"
	KindStageSkipped Kind = "STAGE_SKIPPED"
	KindCompleted    Kind = "COMPLETED"
	KindVoided       Kind = "VOIDED"

	// Reminder machinery
	KindReminderSent Kind = "REMINDER_SENT"
	KindEscalated    Kind = "ESCALATED"

	// Timestamping
	KindTimestamped       Kind = "TIMESTAMPED"
	KindTimestampDeferred Kind = "TIMESTAMP_DEFERRED"
	KindCompositeCreated  Kind = "COMPOSITE_CREATED"
	KindRevalidated       Kind = "REVALIDATED"

	// Authorization
	KindDecision Kind = "DECISION"
)

const (
	// GenesisHash is the prev_hash of the first entry in a stream.
	GenesisHash = "sha256:genesis"

	// HashPrefix is prepended to all hash values.
	HashPrefix = "sha256:"
)

// Entry is a single journal entry. Hash covers every other field, chained
// through PrevHash.
type Entry struct {
	Seq      int64           `json:"seq"`
	PrevHash string          `json:"prev_hash"`
	Time     string          `json:"time"` // RFC3339 UTC
	Actor    string          `json:"actor"`
	Kind     Kind            `json:"kind"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Hash     string          `json:"hash"`
}

// Validate checks required fields.
func (e *Entry) Validate() error {
	if e.Time == "" {
		return fmt.Errorf("time is required")
	}
	if e.Actor == "" {
		return fmt.Errorf("actor is required")
	}
	if e.Kind == "" {
		return fmt.Errorf("kind is required")
	}
	return nil
}

// ComputeHash derives the entry hash:
// SHA-256(prev_hash || seq || time || actor || kind || canonical(payload)).
func (e *Entry) ComputeHash() (string, error) {
	canonical, err := CanonicalPayload(e.Payload)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(e.PrevHash))
	h.Write([]byte(strconv.FormatInt(e.Seq, 10)))
	h.Write([]byte(e.Time))
	h.Write([]byte(e.Actor))
	h.Write([]byte(e.Kind))
	h.Write(canonical)
	return HashPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

// CanonicalPayload re-encodes arbitrary JSON deterministically (object
// keys sorted), so the entry hash does not depend on the producer's field
// ordering.
func CanonicalPayload(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("invalid payload JSON: %w", err)
	}
	// encoding/json sorts map keys on marshal.
	return json.Marshal(v)
}

// NewEntry builds an unhashed entry; the journal assigns Seq, PrevHash,
// and Hash on append.
func NewEntry(now time.Time, actor string, kind Kind, payload any) (*Entry, error) {
	e := &Entry{
		Time:  now.UTC().Format(time.RFC3339Nano),
		Actor: actor,
		Kind:  kind,
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload: %w", err)
		}
		e.Payload = data
	}
	return e, nil
}
