// Package identity defines the identity-provider port consumed by the
// authorization evaluator. The host wires it to its directory (AD, SSO
// claims, HR systems); the core only reads attributes.
package identity

import (
	"context"
	"fmt"
	"sync"
)

// Attributes describes one subject as seen by the directory.
type Attributes struct {
	Roles      []string          `json:"roles"`
	Department string            `json:"department,omitempty"`
	Clearance  string            `json:"clearance,omitempty"`
	MFALevel   string            `json:"mfa_level,omitempty"` // "none", "otp", "webauthn"
	Extra      map[string]string `json:"extra,omitempty"`
}

// Provider resolves subject attributes.
type Provider interface {
	SubjectAttributes(ctx context.Context, subjectID string) (*Attributes, error)
}

// Static is an in-memory Provider for tests and single-tenant setups.
type Static struct {
	mu       sync.RWMutex
	subjects map[string]*Attributes
}

var _ Provider = (*Static)(nil)

// NewStatic creates an empty static provider.
func NewStatic() *Static {
	return &Static{subjects: make(map[string]*Attributes)}
}

// Set registers or replaces a subject.
func (s *Static) Set(subjectID string, attrs *Attributes) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subjects[subjectID] = attrs
}

// SubjectAttributes returns the subject's attributes, or an empty set if
// the subject is unknown (unknown subjects simply match no role).
func (s *Static) SubjectAttributes(_ context.Context, subjectID string) (*Attributes, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if attrs, ok := s.subjects[subjectID]; ok {
		return attrs, nil
	}
	return &Attributes{}, nil
}

// FlatMap renders the attributes as the flat key space the condition
// evaluator consumes (user.department, user.mfa_level, user.extra keys).
func (a *Attributes) FlatMap() map[string]string {
	out := make(map[string]string, len(a.Extra)+3)
	if a.Department != "" {
		out["department"] = a.Department
	}
	if a.Clearance != "" {
		out["clearance"] = a.Clearance
	}
	if a.MFALevel != "" {
		out["mfa_level"] = a.MFALevel
	}
	for k, v := range a.Extra {
		out[k] = v
	}
	return out
}

// HasRole reports whether the subject carries the role.
func (a *Attributes) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// String implements fmt.Stringer without leaking extra attributes.
func (a *Attributes) String() string {
	return fmt.Sprintf("roles=%v department=%s", a.Roles, a.Department)
}
