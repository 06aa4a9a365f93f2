package dto

import (
	"github.com/signetlabs/signet/pkg/workflow"
)

// DocumentCreateRequest registers a document for signature.
type DocumentCreateRequest struct {
	// Title is a display name for the document.
	Title string `json:"title"`

	// ContentHash is "sha256:<hex>" over the document content.
	ContentHash string `json:"content_hash"`
}

// DocumentResponse wraps a document record.
type DocumentResponse struct {
	Document *workflow.Document `json:"document"`
}

// DefinitionCreateRequest registers a workflow definition. The
// definition is validated before it is stored.
type DefinitionCreateRequest struct {
	Definition *workflow.Definition `json:"definition"`
}

// DefinitionCreateResponse returns the assigned definition id.
type DefinitionCreateResponse struct {
	ID string `json:"id"`
}

// DefinitionResponse wraps a stored definition.
type DefinitionResponse struct {
	Definition *workflow.Definition `json:"definition"`
}

// ValidateResponse reports definition validation issues.
type ValidateResponse struct {
	// Valid is true when the definition passed every structural check.
	Valid bool `json:"valid"`

	// Issues lists one message per violation, empty when valid.
	Issues []string `json:"issues,omitempty"`
}

// InstanceCreateRequest launches a workflow instance for a document.
type InstanceCreateRequest struct {
	DefinitionID string `json:"definition_id"`
	DocumentID   string `json:"document_id"`

	// CommandID makes the launch idempotent when set.
	CommandID string `json:"command_id,omitempty"`
}

// InstanceResponse wraps an instance after a command applied.
type InstanceResponse struct {
	Instance *workflow.Instance `json:"instance"`
}

// InstanceViewResponse is the read-model join of an instance with its
// definition and document.
type InstanceViewResponse struct {
	Instance   *workflow.Instance   `json:"instance"`
	Definition *workflow.Definition `json:"definition"`
	Document   *workflow.Document   `json:"document"`
}

// StartRequest activates a Ready stage.
type StartRequest struct {
	StageID   string `json:"stage_id"`
	CommandID string `json:"command_id,omitempty"`
}

// ViewRequest marks a task as viewed by its participant.
type ViewRequest struct {
	TaskID    string `json:"task_id"`
	CommandID string `json:"command_id,omitempty"`
}

// SignRequest records one signing act on a task.
type SignRequest struct {
	TaskID string `json:"task_id"`

	// ContentHash is the document hash recomputed by the signing client.
	ContentHash string `json:"content_hash"`

	// Signature holds the raw signature bytes.
	Signature *BinaryData `json:"signature"`

	// SignerCert is the signer's certificate, DER encoded.
	SignerCert *BinaryData `json:"signer_cert,omitempty"`

	MFA       *workflow.MFAEvidence `json:"mfa,omitempty"`
	CommandID string                `json:"command_id,omitempty"`
}

// DeclineRequest refuses a task with a reason.
type DeclineRequest struct {
	TaskID    string `json:"task_id"`
	Reason    string `json:"reason"`
	CommandID string `json:"command_id,omitempty"`
}

// DelegateRequest reassigns a task to another signer.
type DelegateRequest struct {
	TaskID    string               `json:"task_id"`
	NewSigner workflow.Participant `json:"new_signer"`
	CommandID string               `json:"command_id,omitempty"`
}

// VoidRequest cancels a running instance.
type VoidRequest struct {
	Reason    string `json:"reason"`
	CommandID string `json:"command_id,omitempty"`
}
