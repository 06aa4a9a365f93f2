// Package service provides business logic for the REST API.
package service

import (
	"context"
	"fmt"

	"github.com/signetlabs/signet/internal/api/dto"
	"github.com/signetlabs/signet/pkg/workflow"
)

// WorkflowService exposes workflow commands to the REST API.
type WorkflowService struct {
	engine *workflow.Engine
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(engine *workflow.Engine) *WorkflowService {
	return &WorkflowService{engine: engine}
}

// CreateDocument registers a document for signature.
func (s *WorkflowService) CreateDocument(ctx context.Context, actor string, req *dto.DocumentCreateRequest) (*dto.DocumentResponse, error) {
	if req.ContentHash == "" {
		return nil, fmt.Errorf("%w: content_hash is required", workflow.ErrValidation)
	}
	doc, err := s.engine.CreateDocument(ctx, actor, req.Title, req.ContentHash)
	if err != nil {
		return nil, err
	}
	return &dto.DocumentResponse{Document: doc}, nil
}

// GetDocument returns one document.
func (s *WorkflowService) GetDocument(ctx context.Context, id string) (*dto.DocumentResponse, error) {
	doc, err := s.engine.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	return &dto.DocumentResponse{Document: doc}, nil
}

// CreateDefinition validates and stores a workflow definition.
func (s *WorkflowService) CreateDefinition(ctx context.Context, actor string, req *dto.DefinitionCreateRequest) (*dto.DefinitionCreateResponse, error) {
	if req.Definition == nil {
		return nil, fmt.Errorf("%w: definition is required", workflow.ErrValidation)
	}
	id, err := s.engine.CreateDefinition(ctx, actor, req.Definition)
	if err != nil {
		return nil, err
	}
	return &dto.DefinitionCreateResponse{ID: id}, nil
}

// GetDefinition returns one definition.
func (s *WorkflowService) GetDefinition(ctx context.Context, id string) (*dto.DefinitionResponse, error) {
	def, err := s.engine.GetDefinition(ctx, id)
	if err != nil {
		return nil, err
	}
	return &dto.DefinitionResponse{Definition: def}, nil
}

// ValidateDefinition runs structural validation without storing.
func (s *WorkflowService) ValidateDefinition(def *workflow.Definition) *dto.ValidateResponse {
	issues := workflow.Validate(def)
	resp := &dto.ValidateResponse{Valid: len(issues) == 0}
	for _, issue := range issues {
		resp.Issues = append(resp.Issues, issue.Error())
	}
	return resp
}

// CreateInstance launches a workflow instance.
func (s *WorkflowService) CreateInstance(ctx context.Context, actor string, req *dto.InstanceCreateRequest) (*dto.InstanceResponse, error) {
	in, err := s.engine.CreateInstance(ctx, actor, req.DefinitionID, req.DocumentID, req.CommandID)
	if err != nil {
		return nil, err
	}
	return &dto.InstanceResponse{Instance: in}, nil
}

// GetInstance returns the instance joined with its definition and
// document.
func (s *WorkflowService) GetInstance(ctx context.Context, id string) (*dto.InstanceViewResponse, error) {
	view, err := s.engine.QueryInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	return &dto.InstanceViewResponse{
		Instance:   view.Instance,
		Definition: view.Definition,
		Document:   view.Document,
	}, nil
}

// Start activates a Ready stage.
func (s *WorkflowService) Start(ctx context.Context, actor, instanceID string, req *dto.StartRequest) (*dto.InstanceResponse, error) {
	in, err := s.engine.Start(ctx, actor, instanceID, req.StageID, req.CommandID)
	if err != nil {
		return nil, err
	}
	return &dto.InstanceResponse{Instance: in}, nil
}

// View marks a task as viewed.
func (s *WorkflowService) View(ctx context.Context, actor, instanceID string, req *dto.ViewRequest) (*dto.InstanceResponse, error) {
	in, err := s.engine.View(ctx, actor, instanceID, req.TaskID, req.CommandID)
	if err != nil {
		return nil, err
	}
	return &dto.InstanceResponse{Instance: in}, nil
}

// Sign records a signature on a task.
func (s *WorkflowService) Sign(ctx context.Context, actor, instanceID string, req *dto.SignRequest) (*dto.InstanceResponse, error) {
	if req.Signature == nil {
		return nil, fmt.Errorf("%w: signature is required", workflow.ErrValidation)
	}
	sig, err := req.Signature.Decode()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", workflow.ErrValidation, err)
	}
	var cert []byte
	if req.SignerCert != nil {
		cert, err = req.SignerCert.Decode()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", workflow.ErrValidation, err)
		}
	}
	in, err := s.engine.Sign(ctx, actor, &workflow.SignRequest{
		InstanceID:  instanceID,
		TaskID:      req.TaskID,
		CommandID:   req.CommandID,
		ContentHash: req.ContentHash,
		Signature:   sig,
		SignerCert:  cert,
		MFA:         req.MFA,
	})
	if err != nil {
		return nil, err
	}
	return &dto.InstanceResponse{Instance: in}, nil
}

// Decline refuses a task.
func (s *WorkflowService) Decline(ctx context.Context, actor, instanceID string, req *dto.DeclineRequest) (*dto.InstanceResponse, error) {
	in, err := s.engine.Decline(ctx, actor, instanceID, req.TaskID, req.Reason, req.CommandID)
	if err != nil {
		return nil, err
	}
	return &dto.InstanceResponse{Instance: in}, nil
}

// Delegate reassigns a task to another signer.
func (s *WorkflowService) Delegate(ctx context.Context, actor, instanceID string, req *dto.DelegateRequest) (*dto.InstanceResponse, error) {
	in, err := s.engine.Delegate(ctx, actor, instanceID, req.TaskID, req.NewSigner, req.CommandID)
	if err != nil {
		return nil, err
	}
	return &dto.InstanceResponse{Instance: in}, nil
}

// Void cancels a running instance.
func (s *WorkflowService) Void(ctx context.Context, actor, instanceID string, req *dto.VoidRequest) (*dto.InstanceResponse, error) {
	in, err := s.engine.Void(ctx, actor, instanceID, req.Reason, req.CommandID)
	if err != nil {
		return nil, err
	}
	return &dto.InstanceResponse{Instance: in}, nil
}
