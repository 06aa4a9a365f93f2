package dto

import (
	"github.com/signetlabs/signet/pkg/fga"
)

// AuthorizeRequest asks whether a subject may perform an action on a
// resource.
type AuthorizeRequest struct {
	Subject      string `json:"subject"`
	Action       string `json:"action"`
	Resource     string `json:"resource"`
	ResourceType string `json:"resource_type,omitempty"`

	// EnvAttrs carries request-scoped environment attributes such as
	// "ip" or "channel".
	EnvAttrs map[string]any `json:"env_attrs,omitempty"`
}

// AuthorizeResponse returns the evaluator's decision.
type AuthorizeResponse struct {
	Decision        string   `json:"decision"` // "Allow", "Deny", "Indeterminate"
	Reason          string   `json:"reason,omitempty"`
	AppliedPolicies []string `json:"applied_policies,omitempty"`
	EvaluationMS    int64    `json:"evaluation_ms"`
	Obligations     []string `json:"obligations,omitempty"`
	Advice          []string `json:"advice,omitempty"`
	Cached          bool     `json:"cached,omitempty"`
}

// PolicyPutRequest creates or replaces a policy.
type PolicyPutRequest struct {
	Policy *fga.Policy `json:"policy"`

	// Version is the expected stored version; 0 creates.
	Version int64 `json:"version"`
}

// PolicyPutResponse returns the new stored version.
type PolicyPutResponse struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`
}

// PolicyResponse wraps one stored policy.
type PolicyResponse struct {
	Policy  *fga.Policy `json:"policy"`
	Version int64       `json:"version"`
}

// PolicyListResponse lists stored policies. Records that failed to
// decode are reported by id in Skipped.
type PolicyListResponse struct {
	Policies []*fga.Policy `json:"policies"`
	Skipped  []string      `json:"skipped,omitempty"`
}
