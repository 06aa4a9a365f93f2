package service

import (
	"context"
	"fmt"

	"github.com/signetlabs/signet/internal/api/dto"
	"github.com/signetlabs/signet/pkg/fga"
)

// FGAService exposes authorization evaluation and policy management.
type FGAService struct {
	evaluator *fga.Evaluator
}

// NewFGAService creates a new FGAService.
func NewFGAService(evaluator *fga.Evaluator) *FGAService {
	return &FGAService{evaluator: evaluator}
}

// Authorize evaluates one access request.
func (s *FGAService) Authorize(ctx context.Context, requestID string, req *dto.AuthorizeRequest) (*dto.AuthorizeResponse, error) {
	if req.Subject == "" || req.Action == "" || req.Resource == "" {
		return nil, fmt.Errorf("%w: subject, action and resource are required", fga.ErrMalformedPolicy)
	}
	result, err := s.evaluator.Evaluate(ctx, &fga.Request{
		Subject:      req.Subject,
		Action:       req.Action,
		Resource:     req.Resource,
		ResourceType: req.ResourceType,
		EnvAttrs:     req.EnvAttrs,
		RequestID:    requestID,
	})
	if err != nil {
		return nil, err
	}
	return &dto.AuthorizeResponse{
		Decision:        string(result.Decision),
		Reason:          result.Reason,
		AppliedPolicies: result.AppliedPolicies,
		EvaluationMS:    result.EvaluationMS,
		Obligations:     result.Obligations,
		Advice:          result.Advice,
		Cached:          result.Cached,
	}, nil
}

// PutPolicy creates or replaces a policy.
func (s *FGAService) PutPolicy(ctx context.Context, req *dto.PolicyPutRequest) (*dto.PolicyPutResponse, error) {
	if req.Policy == nil {
		return nil, fmt.Errorf("%w: policy is required", fga.ErrMalformedPolicy)
	}
	version, err := s.evaluator.Policies().Save(ctx, req.Policy, req.Version)
	if err != nil {
		return nil, err
	}
	return &dto.PolicyPutResponse{ID: req.Policy.ID, Version: version}, nil
}

// GetPolicy returns one stored policy.
func (s *FGAService) GetPolicy(ctx context.Context, id string) (*dto.PolicyResponse, error) {
	p, version, err := s.evaluator.Policies().Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &dto.PolicyResponse{Policy: p, Version: version}, nil
}

// ListPolicies returns every decodable policy, reporting skipped ids.
func (s *FGAService) ListPolicies(ctx context.Context) (*dto.PolicyListResponse, error) {
	resp := &dto.PolicyListResponse{}
	policies, err := s.evaluator.Policies().List(ctx, func(id string, err error) {
		resp.Skipped = append(resp.Skipped, id)
	})
	if err != nil {
		return nil, err
	}
	resp.Policies = policies
	return resp, nil
}

// DisablePolicy marks a policy disabled without deleting it.
func (s *FGAService) DisablePolicy(ctx context.Context, id string) error {
	return s.evaluator.Policies().Disable(ctx, id)
}
