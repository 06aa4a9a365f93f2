package fga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/signetlabs/signet/pkg/store"
)

// Relationship is one subject-relation-object edge. Relation names are
// namespaced by object type, e.g. "document:owner" or "org:admin".
type Relationship struct {
	Subject    string         `json:"subject" yaml:"subject"`
	Relation   string         `json:"relation" yaml:"relation"`
	Object     string         `json:"object" yaml:"object"`
	ObjectType string         `json:"object_type" yaml:"object_type"`
	ExpiresAt  *time.Time     `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// Expired reports whether the edge has lapsed at the given instant.
func (r *Relationship) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// ID is the store identifier for this edge.
func (r *Relationship) ID() string {
	return relationshipID(r.Subject, r.Relation, r.Object)
}

func relationshipID(subject, relation, object string) string {
	return fmt.Sprintf("%s|%s|%s", subject, relation, object)
}

// RequiredRelation names a relation a ReBAC policy demands between the
// subject and the resource being acted on.
type RequiredRelation struct {
	Relation   string `json:"relation" yaml:"relation"`
	ObjectType string `json:"object_type,omitempty" yaml:"object_type,omitempty"`
}

// InheritanceRule derives a relation on a child object from a relation
// held on its parent: holding ViaRelation on the object named by the
// resource attribute ParentAttribute implies Relation on the resource.
type InheritanceRule struct {
	Relation        string `json:"relation" yaml:"relation"`
	ViaRelation     string `json:"via_relation" yaml:"via_relation"`
	ParentAttribute string `json:"parent_attribute" yaml:"parent_attribute"`
}

// RelationshipChecker answers existence queries for edges.
type RelationshipChecker interface {
	// Has reports whether a non-expired (subject, relation, object)
	// edge exists at the given instant.
	Has(ctx context.Context, subject, relation, object string, now time.Time) (bool, error)
}

// Relationships persists edges over the store port.
type Relationships struct {
	Port store.Port
}

// Save writes an edge (idempotent upsert).
func (s *Relationships) Save(ctx context.Context, r *Relationship) error {
	if r.Subject == "" || r.Relation == "" || r.Object == "" {
		return fmt.Errorf("relationship requires subject, relation and object")
	}
	id := r.ID()
	expected := int64(0)
	if rec, err := s.Port.Get(ctx, store.ColRelationships, id); err == nil {
		expected = rec.Version
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	_, err := store.PutJSON(ctx, s.Port, store.ColRelationships, id, r, expected)
	return err
}

// Has implements RelationshipChecker.
func (s *Relationships) Has(ctx context.Context, subject, relation, object string, now time.Time) (bool, error) {
	var r Relationship
	_, err := store.GetJSON(ctx, s.Port, store.ColRelationships, relationshipID(subject, relation, object), &r)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !r.Expired(now), nil
}

// ForSubject lists every live edge held by a subject.
func (s *Relationships) ForSubject(ctx context.Context, subject string, now time.Time) ([]*Relationship, error) {
	records, err := s.Port.List(ctx, store.ColRelationships, nil, 0)
	if err != nil {
		return nil, err
	}
	var out []*Relationship
	for _, rec := range records {
		var r Relationship
		if err := json.Unmarshal(rec.Data, &r); err != nil {
			continue
		}
		if r.Subject == subject && !r.Expired(now) {
			out = append(out, &r)
		}
	}
	return out, nil
}
