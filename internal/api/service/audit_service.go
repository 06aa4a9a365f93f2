package service

import (
	"context"

	"github.com/signetlabs/signet/internal/api/dto"
	"github.com/signetlabs/signet/pkg/audit"
)

// AuditService exposes audit stream reads and chain verification.
type AuditService struct {
	journal *audit.Journal
}

// NewAuditService creates a new AuditService.
func NewAuditService(journal *audit.Journal) *AuditService {
	return &AuditService{journal: journal}
}

// Entries returns one stream in sequence order.
func (s *AuditService) Entries(ctx context.Context, stream string) (*dto.AuditEntriesResponse, error) {
	entries, err := s.journal.Entries(ctx, stream)
	if err != nil {
		return nil, err
	}
	return &dto.AuditEntriesResponse{Stream: stream, Entries: entries}, nil
}

// Verify walks one stream's hash chain from seq 0.
func (s *AuditService) Verify(ctx context.Context, stream string) (*dto.AuditVerifyResponse, error) {
	result, err := s.journal.VerifyStream(ctx, stream)
	if err != nil {
		return nil, err
	}
	return &dto.AuditVerifyResponse{
		Stream:      stream,
		Valid:       result.Valid,
		Corrupt:     result.Corrupt,
		FirstBadSeq: result.FirstBadSeq,
		Reason:      result.Reason,
	}, nil
}
