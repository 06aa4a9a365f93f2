package fga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/signetlabs/signet/pkg/store"
)

// Kind discriminates which policy components apply.
type Kind string

const (
	KindRBAC   Kind = "RBAC"
	KindReBAC  Kind = "ReBAC"
	KindABAC   Kind = "ABAC"
	KindHybrid Kind = "Hybrid"
)

// Effect is the outcome a matching policy applies.
type Effect string

const (
	EffectAllow Effect = "Allow"
	EffectDeny  Effect = "Deny"
)

// Policy is one authorization rule. The kind determines which of the
// component fields must be populated; Validate enforces the schema.
type Policy struct {
	ID            string             `json:"id" yaml:"id"`
	Name          string             `json:"name,omitempty" yaml:"name,omitempty"`
	Kind          Kind               `json:"kind" yaml:"kind"`
	Effect        Effect             `json:"effect" yaml:"effect"`
	Actions       []string           `json:"actions,omitempty" yaml:"actions,omitempty"`
	Permissions   []string           `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	Roles         []string           `json:"roles,omitempty" yaml:"roles,omitempty"`
	Relationships []RequiredRelation `json:"relationships,omitempty" yaml:"relationships,omitempty"`
	Condition     *Condition         `json:"condition,omitempty" yaml:"condition,omitempty"`
	Priority      int                `json:"priority" yaml:"priority"` // lower = higher precedence
	Enabled       bool               `json:"enabled" yaml:"enabled"`
	Version       int64              `json:"version" yaml:"version"`
	Obligations   []string           `json:"obligations,omitempty" yaml:"obligations,omitempty"`
	Advice        []string           `json:"advice,omitempty" yaml:"advice,omitempty"`
}

// Matches reports whether the policy's action or permission set covers
// the requested action. "*" matches anything.
func (p *Policy) Matches(action string) bool {
	for _, a := range p.Actions {
		if a == action || a == "*" {
			return true
		}
	}
	for _, perm := range p.Permissions {
		if perm == action || perm == "*" {
			return true
		}
	}
	return false
}

// Validate checks the tagged schema: each kind requires its components.
func (p *Policy) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: missing id", ErrMalformedPolicy)
	}
	if p.Effect != EffectAllow && p.Effect != EffectDeny {
		return fmt.Errorf("%w: %s: effect %q", ErrMalformedPolicy, p.ID, p.Effect)
	}
	if len(p.Actions) == 0 && len(p.Permissions) == 0 {
		return fmt.Errorf("%w: %s: no actions or permissions", ErrMalformedPolicy, p.ID)
	}
	switch p.Kind {
	case KindRBAC:
		if len(p.Roles) == 0 {
			return fmt.Errorf("%w: %s: RBAC policy without roles", ErrMalformedPolicy, p.ID)
		}
	case KindReBAC:
		if len(p.Relationships) == 0 {
			return fmt.Errorf("%w: %s: ReBAC policy without relationships", ErrMalformedPolicy, p.ID)
		}
	case KindABAC:
		if p.Condition == nil {
			return fmt.Errorf("%w: %s: ABAC policy without a condition", ErrMalformedPolicy, p.ID)
		}
	case KindHybrid:
		if len(p.Roles) == 0 && len(p.Relationships) == 0 && p.Condition == nil {
			return fmt.Errorf("%w: %s: hybrid policy with no components", ErrMalformedPolicy, p.ID)
		}
	default:
		return fmt.Errorf("%w: %s: kind %q", ErrMalformedPolicy, p.ID, p.Kind)
	}
	if p.Condition != nil {
		if err := p.Condition.Validate(); err != nil {
			return fmt.Errorf("%s: %w", p.ID, err)
		}
	}
	return nil
}

// revisionID is the marker record whose store version is the policy-set
// revision. Every policy write bumps it, invalidating cached decisions.
const revisionID = "_revision"

// Policies persists the policy set over the store port.
type Policies struct {
	Port store.Port
}

// Save validates and writes a policy, then bumps the set revision.
// expectedVersion 0 creates; otherwise it must match the stored record.
func (s *Policies) Save(ctx context.Context, p *Policy, expectedVersion int64) (int64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	version, err := store.PutJSON(ctx, s.Port, store.ColPolicies, p.ID, p, expectedVersion)
	if err != nil {
		return 0, err
	}
	p.Version = version
	if err := s.bumpRevision(ctx); err != nil {
		return 0, err
	}
	return version, nil
}

// Get loads one policy with its record version.
func (s *Policies) Get(ctx context.Context, id string) (*Policy, int64, error) {
	var p Policy
	version, err := store.GetJSON(ctx, s.Port, store.ColPolicies, id, &p)
	if errors.Is(err, store.ErrNotFound) {
		return nil, 0, fmt.Errorf("%w: %s", ErrPolicyNotFound, id)
	}
	if err != nil {
		return nil, 0, err
	}
	return &p, version, nil
}

// List returns every stored policy, skipping records that fail to
// decode. onSkip, when non-nil, is told about each skipped record.
func (s *Policies) List(ctx context.Context, onSkip func(id string, err error)) ([]*Policy, error) {
	records, err := s.Port.List(ctx, store.ColPolicies, func(r *store.Record) bool {
		return r.ID != revisionID
	}, 0)
	if err != nil {
		return nil, err
	}
	policies := make([]*Policy, 0, len(records))
	for _, rec := range records {
		var p Policy
		if err := decodePolicy(rec, &p); err != nil {
			if onSkip != nil {
				onSkip(rec.ID, err)
			}
			continue
		}
		policies = append(policies, &p)
	}
	return policies, nil
}

// Disable flips the enabled flag off, keeping the policy for audit.
func (s *Policies) Disable(ctx context.Context, id string) error {
	p, version, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	p.Enabled = false
	_, err = s.Save(ctx, p, version)
	return err
}

// Revision returns the current policy-set revision. A set that has
// never been written has revision 0.
func (s *Policies) Revision(ctx context.Context) (int64, error) {
	rec, err := s.Port.Get(ctx, store.ColPolicies, revisionID)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return rec.Version, nil
}

func (s *Policies) bumpRevision(ctx context.Context) error {
	for attempt := 0; attempt < 8; attempt++ {
		rec, err := s.Port.Get(ctx, store.ColPolicies, revisionID)
		expected := int64(0)
		if err == nil {
			expected = rec.Version
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		payload := []byte(fmt.Sprintf(`{"bumped_at":%q}`, time.Now().UTC().Format(time.RFC3339Nano)))
		if _, err := s.Port.Put(ctx, store.ColPolicies, revisionID, payload, expected); err == nil {
			return nil
		} else if !errors.Is(err, store.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("revision bump: too many concurrent policy writes")
}

func decodePolicy(rec *store.Record, p *Policy) error {
	if err := json.Unmarshal(rec.Data, p); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedPolicy, rec.ID, err)
	}
	return p.Validate()
}
