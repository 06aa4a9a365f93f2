package service

import (
	"context"
	"crypto"
	"crypto/x509"
	"time"

	"github.com/signetlabs/signet/internal/api/dto"
	"github.com/signetlabs/signet/pkg/composite"
)

// CompositeService exposes composite retrieval, verification and
// long-term maintenance.
type CompositeService struct {
	svc            *composite.Service
	authorityRoots *x509.CertPool
	signerRoots    *x509.CertPool
	now            func() time.Time

	// evidenceSigner, when set, signs exported COSE envelopes.
	evidenceSigner crypto.Signer
	evidenceCert   *x509.Certificate
}

// NewCompositeService creates a new CompositeService.
func NewCompositeService(svc *composite.Service, authorityRoots, signerRoots *x509.CertPool, now func() time.Time) *CompositeService {
	if now == nil {
		now = time.Now
	}
	return &CompositeService{
		svc:            svc,
		authorityRoots: authorityRoots,
		signerRoots:    signerRoots,
		now:            now,
	}
}

// WithEvidenceSigner configures COSE export signing.
func (s *CompositeService) WithEvidenceSigner(signer crypto.Signer, cert *x509.Certificate) *CompositeService {
	s.evidenceSigner = signer
	s.evidenceCert = cert
	return s
}

// Get returns one stored composite.
func (s *CompositeService) Get(ctx context.Context, id string) (*dto.CompositeResponse, error) {
	comp, err := s.svc.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &dto.CompositeResponse{Composite: comp}, nil
}

// Verify checks a stored composite, re-hashing supplied content when
// present.
func (s *CompositeService) Verify(ctx context.Context, id string, req *dto.CompositeVerifyRequest) (*dto.CompositeVerifyResponse, error) {
	comp, err := s.svc.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	opts := composite.VerifyOptions{
		AuthorityRoots: s.authorityRoots,
		SignerRoots:    s.signerRoots,
		At:             s.now(),
	}
	if req != nil && req.Content != nil {
		content, err := req.Content.Decode()
		if err != nil {
			return nil, err
		}
		opts.DocumentContent = content
	}

	report := composite.Verify(comp, opts)
	resp := &dto.CompositeVerifyResponse{
		CompositeID: report.CompositeID,
		Valid:       report.Valid,
		Reasons:     report.Reasons,
		Provider:    report.Provider,
		Qualified:   report.Qualified,
	}
	if !report.TSATime.IsZero() {
		resp.TSATime = report.TSATime.UTC().Format(time.RFC3339)
	}
	return resp, nil
}

// Export returns the composite as a portable evidence artifact: a
// COSE_Sign1 envelope when an evidence signer is configured, otherwise
// the bare canonical CBOR artifact.
func (s *CompositeService) Export(ctx context.Context, id string) (*dto.CompositeExportResponse, error) {
	comp, err := s.svc.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.evidenceSigner != nil {
		envelope, err := composite.ExportCOSE(comp, s.evidenceSigner, s.evidenceCert)
		if err != nil {
			return nil, err
		}
		return &dto.CompositeExportResponse{
			CompositeID: comp.ID,
			Envelope:    dto.NewBinaryData(envelope),
			ContentType: "application/cose",
		}, nil
	}

	raw, err := composite.EncodeArtifact(comp)
	if err != nil {
		return nil, err
	}
	return &dto.CompositeExportResponse{
		CompositeID: comp.ID,
		Envelope:    dto.NewBinaryData(raw),
		ContentType: "application/signet-composite+cbor",
	}, nil
}

// Revalidate runs one long-term validation sweep over due composites.
func (s *CompositeService) Revalidate(ctx context.Context) (*dto.RevalidateResponse, error) {
	checked, err := s.svc.RunValidation(ctx, s.now())
	if err != nil {
		return nil, err
	}
	return &dto.RevalidateResponse{Checked: checked}, nil
}

// ReTimestamp wraps a composite's current token in a fresh one.
func (s *CompositeService) ReTimestamp(ctx context.Context, id string) (*dto.CompositeResponse, error) {
	comp, err := s.svc.ReTimestamp(ctx, id)
	if err != nil {
		return nil, err
	}
	return &dto.CompositeResponse{Composite: comp}, nil
}

// Backfill seals signatures deferred during a TSA outage.
func (s *CompositeService) Backfill(ctx context.Context) (*dto.BackfillResponse, error) {
	sealed, err := s.svc.Backfill(ctx)
	if err != nil {
		return nil, err
	}
	return &dto.BackfillResponse{Sealed: sealed}, nil
}
