package composite

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/signetlabs/signet/pkg/audit"
	"github.com/signetlabs/signet/pkg/clock"
	"github.com/signetlabs/signet/pkg/cryptoutil"
	"github.com/signetlabs/signet/pkg/revocation"
	"github.com/signetlabs/signet/pkg/store"
	"github.com/signetlabs/signet/pkg/tsa"
	"github.com/signetlabs/signet/pkg/workflow"
)

const nonceBytes = 16

// Service produces and maintains composites. It implements
// workflow.Sealer so the engine can seal signatures inline.
type Service struct {
	store store.Port
	tsa   tsa.Client
	clock clock.Clock

	journal *audit.Journal
	checker *revocation.Checker

	// qualified maps provider name to the qualified flag, taken from
	// the configured provider chain.
	qualified map[string]bool

	// signerIssuer and authorityIssuer anchor revocation checks during
	// long-term validation. When nil the corresponding status is
	// reported unknown.
	signerIssuer    *x509.Certificate
	authorityIssuer *x509.Certificate

	validationInterval time.Duration
	logf               func(format string, args ...any)
}

var _ workflow.Sealer = (*Service)(nil)

// Option configures a Service.
type Option func(*Service)

// WithJournal wires the audit journal for backfill passes.
func WithJournal(j *audit.Journal) Option {
	return func(s *Service) { s.journal = j }
}

// WithRevocationChecker wires certificate status checks into long-term
// validation.
func WithRevocationChecker(c *revocation.Checker) Option {
	return func(s *Service) { s.checker = c }
}

// WithIssuers sets the issuer certificates used for revocation checks
// of the signer and authority certificates.
func WithIssuers(signer, authority *x509.Certificate) Option {
	return func(s *Service) {
		s.signerIssuer = signer
		s.authorityIssuer = authority
	}
}

// WithValidationInterval overrides the spacing of validation passes.
func WithValidationInterval(d time.Duration) Option {
	return func(s *Service) { s.validationInterval = d }
}

// WithLogf overrides the non-fatal failure logger.
func WithLogf(logf func(format string, args ...any)) Option {
	return func(s *Service) { s.logf = logf }
}

// NewService builds the composite service over a persistence port, a
// timestamp client, and the provider chain the client was built from.
func NewService(p store.Port, client tsa.Client, clk clock.Clock, providers []tsa.Provider, opts ...Option) *Service {
	s := &Service{
		store:              p,
		tsa:                client,
		clock:              clk,
		qualified:          make(map[string]bool, len(providers)),
		validationInterval: defaultValidationInterval,
		logf:               log.Printf,
	}
	for _, p := range providers {
		s.qualified[p.Name] = p.Qualified
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Seal obtains a timestamp token for the signature, runs the temporal
// checks, and persists the token and composite. An error means no
// composite exists; the caller decides whether to defer.
func (s *Service) Seal(ctx context.Context, sig *workflow.SignatureEvent) (*workflow.SealOutcome, error) {
	if len(sig.Signature) == 0 {
		return nil, &CompositeError{Op: "seal", Err: fmt.Errorf("signature bytes are required")}
	}
	if sig.ContentHash == "" {
		return nil, &CompositeError{Op: "seal", Err: fmt.Errorf("content hash is required")}
	}

	hs := cryptoutil.SHA256(sig.Signature)
	nonce, err := newNonce()
	if err != nil {
		return nil, &CompositeError{Op: "seal", Err: err}
	}

	token, err := s.tsa.Timestamp(ctx, crypto.SHA256, hs, nonce)
	if err != nil {
		return nil, &CompositeError{Op: "seal", Err: err}
	}
	if sig.CertLevel == workflow.CertQualified && !s.qualified[token.Provider] {
		// The engine defers on this error, so the signature is retried
		// once a qualified provider grants a token.
		return nil, &CompositeError{Op: "seal",
			Err: fmt.Errorf("qualified signature needs a qualified timestamp authority, got %s", token.Provider)}
	}
	tsaTime := token.GenTime()

	if err := checkTemporal(sig.SignTime, tsaTime); err != nil {
		return nil, &CompositeError{Op: "seal", Err: err}
	}
	if len(sig.SignerCert) > 0 {
		cert, err := x509.ParseCertificate(sig.SignerCert)
		if err != nil {
			return nil, &CompositeError{Op: "seal", Err: fmt.Errorf("signer certificate: %w", err)}
		}
		if !cryptoutil.WithinValidity(cert, sig.SignTime) {
			return nil, &CompositeError{Op: "seal", Err: ErrCertValidity}
		}
	}

	now := s.clock.Now()
	comp := &Composite{
		ID:                clock.NewID("comp"),
		SignatureID:       sig.ID,
		InstanceID:        sig.InstanceID,
		DocumentID:        sig.DocumentID,
		ContentHash:       sig.ContentHash,
		Signature:         append([]byte(nil), sig.Signature...),
		SignatureHash:     hs,
		HashAlgorithm:     cryptoutil.HashSHA256,
		SignerCert:        sig.SignerCert,
		Token:             token.Raw,
		TokenSerial:       serialString(token),
		Provider:          token.Provider,
		Qualified:         s.qualified[token.Provider],
		SignTime:          sig.SignTime,
		TSATime:           tsaTime,
		CreatedAt:         now,
		NextValidationDue: now.Add(s.validationInterval),
	}
	if authority := token.AuthorityCert(); authority != nil {
		comp.AuthorityCert = authority.Raw
	}

	tsRec := &TimestampRecord{
		ID:          clock.NewID("ts"),
		CompositeID: comp.ID,
		Provider:    token.Provider,
		Serial:      comp.TokenSerial,
		GenTime:     tsaTime,
		Token:       token.Raw,
		CreatedAt:   now,
	}
	if _, err := store.PutJSON(ctx, s.store, store.ColTimestamps, tsRec.ID, tsRec, 0); err != nil {
		return nil, &CompositeError{Op: "seal", Err: err}
	}
	if _, err := store.PutJSON(ctx, s.store, store.ColComposites, comp.ID, comp, 0); err != nil {
		return nil, &CompositeError{Op: "seal", CompositeID: comp.ID, Err: err}
	}

	return &workflow.SealOutcome{CompositeID: comp.ID, Provider: token.Provider}, nil
}

// Get loads one composite.
func (s *Service) Get(ctx context.Context, id string) (*Composite, error) {
	var comp Composite
	if _, err := store.GetJSON(ctx, s.store, store.ColComposites, id, &comp); err != nil {
		return nil, &CompositeError{Op: "get", CompositeID: id, Err: err}
	}
	return &comp, nil
}

// Backfill seals every signature still awaiting its timestamp. Failures
// are logged and skipped; the pass reports how many signatures it
// sealed.
func (s *Service) Backfill(ctx context.Context) (int, error) {
	records, err := s.store.List(ctx, store.ColSignatures, func(rec *store.Record) bool {
		var probe struct {
			Status workflow.SignatureStatus `json:"status"`
		}
		if err := json.Unmarshal(rec.Data, &probe); err != nil {
			return false
		}
		return probe.Status == workflow.SigAwaitingTimestamp
	}, 0)
	if err != nil {
		return 0, &CompositeError{Op: "backfill", Err: err}
	}

	sealed := 0
	for _, rec := range records {
		var sig workflow.SignatureEvent
		if err := json.Unmarshal(rec.Data, &sig); err != nil {
			s.logf("composite: backfill: bad signature record %s: %v", rec.ID, err)
			continue
		}
		outcome, err := s.Seal(ctx, &sig)
		if err != nil {
			s.logf("composite: backfill: signature %s still unsealed: %v", sig.ID, err)
			continue
		}

		sig.Status = workflow.SigSealed
		sig.CompositeID = outcome.CompositeID
		sig.Provider = outcome.Provider
		if _, err := store.PutJSON(ctx, s.store, store.ColSignatures, sig.ID, &sig, rec.Version); err != nil {
			s.logf("composite: backfill: failed to update signature %s: %v", sig.ID, err)
			continue
		}

		if s.journal != nil && sig.DocumentID != "" {
			_, err := s.journal.Record(ctx, sig.DocumentID, s.clock.Now(), "system", audit.KindCompositeCreated, map[string]any{
				"signature_id": sig.ID,
				"composite_id": outcome.CompositeID,
				"provider":     outcome.Provider,
				"backfill":     true,
			})
			if err != nil {
				s.logf("composite: backfill: audit append failed for %s: %v", sig.ID, err)
			}
		}
		sealed++
	}
	return sealed, nil
}

func newNonce() (*big.Int, error) {
	b, err := clock.NewNonce(nonceBytes)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}

func serialString(token *tsa.Token) string {
	if sn := token.SerialNumber(); sn != nil {
		return sn.String()
	}
	return ""
}
