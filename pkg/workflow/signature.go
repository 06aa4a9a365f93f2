package workflow

import (
	"context"
	"time"
)

// SignatureStatus tracks whether the timestamp pipeline has sealed the
// signature into a composite.
type SignatureStatus string

const (
	// SigSealed means a composite with a granted TSA token exists.
	SigSealed SignatureStatus = "sealed"

	// SigAwaitingTimestamp means every TSA provider was unavailable at
	// sign time; a background pass retries until sealed.
	SigAwaitingTimestamp SignatureStatus = "awaiting_timestamp"
)

// MFAEvidence records how the signer passed multi-factor verification.
type MFAEvidence struct {
	Method     string    `json:"method"` // "otp", "webauthn", "sms"
	VerifiedAt time.Time `json:"verified_at"`
	Reference  string    `json:"reference,omitempty"`
}

// SignatureEvent is the persisted record of one signing act.
type SignatureEvent struct {
	ID            string          `json:"id"`
	InstanceID    string          `json:"instance_id"`
	StageID       string          `json:"stage_id"`
	TaskID        string          `json:"task_id"`
	DocumentID    string          `json:"document_id"`
	ParticipantID string          `json:"participant_id"`
	Email         string          `json:"email"`
	SignTime      time.Time       `json:"sign_time"`
	ContentHash   string          `json:"content_hash"` // document hash at sign time
	Signature     []byte          `json:"signature"`
	SignerCert    []byte          `json:"signer_cert"` // DER
	CertLevel     CertLevel       `json:"cert_level,omitempty"`
	MFA           *MFAEvidence    `json:"mfa,omitempty"`
	Status        SignatureStatus `json:"status"`
	CompositeID   string          `json:"composite_id,omitempty"`
	Provider      string          `json:"provider,omitempty"` // TSA that granted the token
}

// SealOutcome reports what the timestamp pipeline did with a signature.
type SealOutcome struct {
	CompositeID string
	Provider    string

	// Deferred means no provider granted a token; the signature is
	// retained as awaiting_timestamp and backfilled later.
	Deferred bool
}

// Sealer is the timestamp-and-composite port. The workflow engine calls
// it once per signature; implementations own provider failover and
// temporal checks.
type Sealer interface {
	Seal(ctx context.Context, sig *SignatureEvent) (*SealOutcome, error)
}
