// Package composite builds and verifies timestamped-signature
// artifacts: the bundle of signature bytes, signer certificate, RFC
// 3161 token, and authority certificate that proves a signature existed
// at a point in time. A composite verifies offline given trust anchors,
// and a long-term validation job tracks certificate status and
// re-timestamps aging artifacts.
package composite

import (
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/signetlabs/signet/pkg/cryptoutil"
)

const (
	// maxTimestampSkew bounds how far the authority's time may trail the
	// recorded signing time.
	maxTimestampSkew = 5 * time.Minute

	// reTimestampAfter is the token age past which an artifact must be
	// wrapped in a fresh token.
	reTimestampAfter = 5 * 365 * 24 * time.Hour

	// defaultValidationInterval spaces long-term validation passes for
	// one composite.
	defaultValidationInterval = 30 * 24 * time.Hour
)

// Sentinel errors for composite operations.
var (
	// ErrHashMismatch indicates recomputed content did not match the
	// recorded hash; the document or artifact was tampered with.
	ErrHashMismatch = errors.New("content hash mismatch")

	// ErrTemporalInconsistency indicates the token time falls outside
	// the window anchored at the signing time.
	ErrTemporalInconsistency = errors.New("timestamp outside allowed window")

	// ErrCertValidity indicates the signing time falls outside the
	// signer certificate's validity window.
	ErrCertValidity = errors.New("signing time outside certificate validity")

	// ErrInvalidArtifact indicates a serialized composite could not be
	// decoded or misses required fields.
	ErrInvalidArtifact = errors.New("invalid composite artifact")
)

// CompositeError carries operation context. It supports errors.Is/As.
type CompositeError struct {
	Op          string // "seal", "verify", "validate", "retimestamp"
	CompositeID string
	Err         error
}

func (e *CompositeError) Error() string {
	if e.CompositeID != "" {
		return fmt.Sprintf("composite %s [%s]: %v", e.Op, e.CompositeID, e.Err)
	}
	return fmt.Sprintf("composite %s: %v", e.Op, e.Err)
}

func (e *CompositeError) Unwrap() error { return e.Err }

// Renewal is one re-timestamping of an aging composite: a fresh token
// whose imprint covers the previous token's bytes.
type Renewal struct {
	Token    []byte    `json:"token" cbor:"token"`
	Provider string    `json:"provider" cbor:"provider"`
	TSATime  time.Time `json:"tsa_time" cbor:"tsa_time"`
}

// Composite is the verifiable bundle produced for one signature.
type Composite struct {
	ID          string `json:"id" cbor:"id"`
	SignatureID string `json:"signature_id" cbor:"signature_id"`
	InstanceID  string `json:"instance_id,omitempty" cbor:"instance_id,omitempty"`
	DocumentID  string `json:"document_id,omitempty" cbor:"document_id,omitempty"`

	// ContentHash is the document hash the signature covers, in
	// "sha256:<hex>" form.
	ContentHash string `json:"content_hash" cbor:"content_hash"`

	// Signature is S, the signer's signature bytes. SignatureHash is
	// H_s = SHA-256(S), the message imprint the token covers.
	Signature     []byte `json:"signature" cbor:"signature"`
	SignatureHash []byte `json:"signature_hash" cbor:"signature_hash"`

	HashAlgorithm cryptoutil.HashAlgorithm `json:"hash_algorithm" cbor:"hash_algorithm"`

	// SignerCert and AuthorityCert are DER. AuthorityCert is the TSA
	// signing certificate extracted from the token.
	SignerCert    []byte `json:"signer_cert,omitempty" cbor:"signer_cert,omitempty"`
	AuthorityCert []byte `json:"authority_cert" cbor:"authority_cert"`

	// Token is the full RFC 3161 token DER.
	Token       []byte `json:"token" cbor:"token"`
	TokenSerial string `json:"token_serial" cbor:"token_serial"`

	Provider  string `json:"provider" cbor:"provider"`
	Qualified bool   `json:"qualified" cbor:"qualified"`

	SignTime  time.Time `json:"sign_time" cbor:"sign_time"`
	TSATime   time.Time `json:"tsa_time" cbor:"tsa_time"`
	CreatedAt time.Time `json:"created_at" cbor:"created_at"`

	NextValidationDue time.Time `json:"next_validation_due" cbor:"next_validation_due"`
	ReTimestampNeeded bool      `json:"re_timestamp_needed" cbor:"re_timestamp_needed"`

	Renewals []Renewal `json:"renewals,omitempty" cbor:"renewals,omitempty"`
}

// CurrentToken returns the outermost token: the latest renewal, or the
// original when the composite was never re-timestamped.
func (c *Composite) CurrentToken() []byte {
	if n := len(c.Renewals); n > 0 {
		return c.Renewals[n-1].Token
	}
	return c.Token
}

// SignerCertificate parses the embedded signer certificate, if any.
func (c *Composite) SignerCertificate() (*x509.Certificate, error) {
	if len(c.SignerCert) == 0 {
		return nil, nil
	}
	return x509.ParseCertificate(c.SignerCert)
}

// TimestampRecord is the persisted record of one granted token.
type TimestampRecord struct {
	ID          string    `json:"id"`
	CompositeID string    `json:"composite_id"`
	Provider    string    `json:"provider"`
	Serial      string    `json:"serial"`
	GenTime     time.Time `json:"gen_time"`
	Token       []byte    `json:"token"`
	CreatedAt   time.Time `json:"created_at"`
}

// ValidationReport is the outcome of one long-term validation pass.
type ValidationReport struct {
	ID          string `json:"id"`
	CompositeID string `json:"composite_id"`

	CheckedAt time.Time `json:"checked_at"`

	SignerStatus    string `json:"signer_status"`    // good, revoked, unknown
	SignerSource    string `json:"signer_source"`    // ocsp, crl
	AuthorityStatus string `json:"authority_status"` // good, revoked, unknown

	ReTimestampNeeded bool      `json:"re_timestamp_needed"`
	NextValidationDue time.Time `json:"next_validation_due"`

	Notes []string `json:"notes,omitempty"`
}

// ContentHashOf computes the canonical "sha256:<hex>" hash of document
// content.
func ContentHashOf(content []byte) string {
	return "sha256:" + hex.EncodeToString(cryptoutil.SHA256(content))
}

// checkTemporal enforces signTime <= tsaTime <= signTime + skew. Token
// times carry whole-second resolution, so the lower bound tolerates the
// truncated fraction.
func checkTemporal(signTime, tsaTime time.Time) error {
	lower := signTime.Truncate(time.Second)
	if tsaTime.Before(lower) {
		return fmt.Errorf("%w: authority time %s precedes signing time %s",
			ErrTemporalInconsistency, tsaTime.Format(time.RFC3339), signTime.Format(time.RFC3339))
	}
	if tsaTime.After(signTime.Add(maxTimestampSkew)) {
		return fmt.Errorf("%w: authority time %s trails signing time %s by more than %s",
			ErrTemporalInconsistency, tsaTime.Format(time.RFC3339), signTime.Format(time.RFC3339), maxTimestampSkew)
	}
	return nil
}
