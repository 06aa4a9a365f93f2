package dto

import (
	"github.com/signetlabs/signet/pkg/audit"
	"github.com/signetlabs/signet/pkg/composite"
)

// CompositeResponse wraps a stored composite.
type CompositeResponse struct {
	Composite *composite.Composite `json:"composite"`
}

// CompositeVerifyRequest verifies a stored composite, optionally
// against freshly supplied document content.
type CompositeVerifyRequest struct {
	// Content is the document content to re-hash; when absent the
	// recorded content hash is trusted as-is.
	Content *BinaryData `json:"content,omitempty"`
}

// CompositeVerifyResponse reports the verification outcome.
type CompositeVerifyResponse struct {
	CompositeID string   `json:"composite_id"`
	Valid       bool     `json:"valid"`
	Reasons     []string `json:"reasons,omitempty"`
	TSATime     string   `json:"tsa_time,omitempty"` // RFC3339
	Provider    string   `json:"provider,omitempty"`
	Qualified   bool     `json:"qualified,omitempty"`
}

// CompositeExportResponse carries the COSE_Sign1 evidence envelope.
type CompositeExportResponse struct {
	CompositeID string      `json:"composite_id"`
	Envelope    *BinaryData `json:"envelope"`
	ContentType string      `json:"content_type"`
}

// RevalidateResponse reports a long-term validation sweep.
type RevalidateResponse struct {
	Checked int `json:"checked"`
}

// BackfillResponse reports deferred signatures sealed after a TSA
// outage.
type BackfillResponse struct {
	Sealed int `json:"sealed"`
}

// AuditVerifyResponse reports hash-chain verification of one stream.
type AuditVerifyResponse struct {
	Stream      string `json:"stream"`
	Valid       int    `json:"valid"`
	Corrupt     bool   `json:"corrupt"`
	FirstBadSeq int64  `json:"first_bad_seq,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// AuditEntriesResponse lists one stream's entries in sequence order.
type AuditEntriesResponse struct {
	Stream  string         `json:"stream"`
	Entries []*audit.Entry `json:"entries"`
}
