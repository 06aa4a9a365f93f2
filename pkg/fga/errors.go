package fga

import (
	"errors"
	"fmt"
)

// Sentinel errors for authorization evaluation.
var (
	// ErrUnknownOperator indicates a condition uses an operator the
	// evaluator does not implement.
	ErrUnknownOperator = errors.New("unknown condition operator")

	// ErrMalformedCondition indicates a condition tree that cannot be
	// evaluated (bad value shape, invalid regex, empty group).
	ErrMalformedCondition = errors.New("malformed condition")

	// ErrMalformedPolicy indicates a policy that fails schema validation.
	ErrMalformedPolicy = errors.New("malformed policy")

	// ErrPolicyNotFound indicates the requested policy does not exist.
	ErrPolicyNotFound = errors.New("policy not found")
)

// FGAError wraps an evaluation error with its operation and, when
// relevant, the offending policy.
type FGAError struct {
	Op       string
	PolicyID string
	Err      error
}

func (e *FGAError) Error() string {
	if e.PolicyID != "" {
		return fmt.Sprintf("fga %s: policy %s: %v", e.Op, e.PolicyID, e.Err)
	}
	return fmt.Sprintf("fga %s: %v", e.Op, e.Err)
}

func (e *FGAError) Unwrap() error {
	return e.Err
}
