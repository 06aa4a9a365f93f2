package workflow

import (
	"errors"
	"fmt"
)

// Sentinel errors for workflow validation and command execution.
var (
	// ErrValidation indicates a malformed definition or command input.
	ErrValidation = errors.New("validation error")

	// ErrInvalidTransition indicates a command arrived in a state that
	// does not admit it.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrDelegationNotAllowed indicates delegation on a stage that
	// forbids it.
	ErrDelegationNotAllowed = errors.New("delegation not allowed")

	// ErrDefinitionFrozen indicates a mutation attempt on a definition
	// that already has instances.
	ErrDefinitionFrozen = errors.New("definition is immutable after first instance")

	// ErrUnauthorized indicates the authorization gate denied the
	// command (Deny or Indeterminate, closed world).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConflict indicates the command lost the version race three
	// times in a row; the caller should reload and resubmit.
	ErrConflict = errors.New("conflict")

	// ErrIntegrity indicates a content hash mismatch: the bytes being
	// signed are not the bytes that went out for signature.
	ErrIntegrity = errors.New("integrity error")
)

// WorkflowError wraps a command failure with its operation and subject.
type WorkflowError struct {
	Op         string
	InstanceID string
	TaskID     string
	Err        error
}

func (e *WorkflowError) Error() string {
	switch {
	case e.TaskID != "":
		return fmt.Sprintf("workflow %s: instance %s task %s: %v", e.Op, e.InstanceID, e.TaskID, e.Err)
	case e.InstanceID != "":
		return fmt.Sprintf("workflow %s: instance %s: %v", e.Op, e.InstanceID, e.Err)
	default:
		return fmt.Sprintf("workflow %s: %v", e.Op, e.Err)
	}
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// ValidationIssues aggregates every problem found in one definition so
// the caller can fix them in one pass.
type ValidationIssues []error

func (v ValidationIssues) Error() string {
	if len(v) == 0 {
		return "no validation issues"
	}
	msg := v[0].Error()
	if len(v) > 1 {
		msg = fmt.Sprintf("%s (and %d more)", msg, len(v)-1)
	}
	return msg
}

func (v ValidationIssues) Unwrap() error {
	return ErrValidation
}
