// Package fga implements the hybrid authorization evaluator: role
// membership (RBAC), subject-relation-object edges (ReBAC) and
// attribute conditions (ABAC) combined under prioritized allow/deny
// policies, fronted by a short-lived decision cache.
package fga

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	"github.com/signetlabs/signet/pkg/audit"
	"github.com/signetlabs/signet/pkg/identity"
	"github.com/signetlabs/signet/pkg/store"
)

// Decision is the outcome of an evaluation.
type Decision string

const (
	Allow Decision = "Allow"
	Deny  Decision = "Deny"

	// Indeterminate means the evaluator could not reach the policy
	// store. Authorization gates treat it as Deny; callers may retry.
	Indeterminate Decision = "Indeterminate"
)

// DecisionStream is the audit stream decisions are recorded on.
const DecisionStream = "decisions"

// timeAttributes are attribute names whose value changes with the
// clock. Decisions that consulted one are never cached.
var timeAttributes = map[string]bool{
	"env.time_of_day":  true,
	"env.current_time": true,
	"env.hour":         true,
	"env.now":          true,
}

// Request is one authorization question.
type Request struct {
	Subject       string         `json:"subject"`
	Action        string         `json:"action"`
	Resource      string         `json:"resource"`
	ResourceType  string         `json:"resource_type"`
	UserAttrs     map[string]any `json:"user_attrs,omitempty"`
	ResourceAttrs map[string]any `json:"resource_attrs,omitempty"`
	EnvAttrs      map[string]any `json:"env_attrs,omitempty"`
	RequestID     string         `json:"request_id,omitempty"`
	Now           time.Time      `json:"now,omitempty"`
}

// Result is the evaluator's answer.
type Result struct {
	Decision        Decision `json:"decision"`
	Reason          string   `json:"reason"`
	AppliedPolicies []string `json:"applied_policies"`
	EvaluationMS    int64    `json:"evaluation_ms"`
	Obligations     []string `json:"obligations,omitempty"`
	Advice          []string `json:"advice,omitempty"`
	Cached          bool     `json:"cached,omitempty"`
}

// Allowed reports whether the decision grants the action. Indeterminate
// is closed-world: not allowed.
func (r *Result) Allowed() bool {
	return r.Decision == Allow
}

// Evaluator answers authorization requests against the stored policy
// and relationship sets.
type Evaluator struct {
	policies      *Policies
	relationships RelationshipChecker
	identity      identity.Provider
	journal       *audit.Journal
	inheritance   []InheritanceRule
	cache         *decisionCache
	logf          func(format string, args ...any)
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithInheritance installs relation inheritance rules.
func WithInheritance(rules []InheritanceRule) Option {
	return func(e *Evaluator) { e.inheritance = rules }
}

// WithCache overrides the default cache geometry.
func WithCache(capacity int, ttl time.Duration) Option {
	return func(e *Evaluator) { e.cache = newDecisionCache(capacity, ttl) }
}

// WithLogf overrides the skip/warning logger.
func WithLogf(logf func(format string, args ...any)) Option {
	return func(e *Evaluator) { e.logf = logf }
}

// NewEvaluator wires the evaluator over the store port. journal may be
// nil to disable decision auditing.
func NewEvaluator(port store.Port, idp identity.Provider, journal *audit.Journal, opts ...Option) *Evaluator {
	e := &Evaluator{
		policies:      &Policies{Port: port},
		relationships: &Relationships{Port: port},
		identity:      idp,
		journal:       journal,
		cache:         newDecisionCache(defaultCacheSize, defaultCacheTTL),
		logf:          log.Printf,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policies exposes the policy set for management operations.
func (e *Evaluator) Policies() *Policies { return e.policies }

// Evaluate answers one request. Store unavailability yields an
// Indeterminate result, not an error; other failures are errors.
func (e *Evaluator) Evaluate(ctx context.Context, req *Request) (*Result, error) {
	started := time.Now()
	now := req.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	revision, err := e.policies.Revision(ctx)
	if err != nil {
		return e.finish(ctx, req, now, started, e.indeterminate(err))
	}

	key := cacheKey(req)
	if cached, ok := e.cache.get(key, revision, now); ok {
		cached.Cached = true
		cached.EvaluationMS = time.Since(started).Milliseconds()
		return &cached, nil
	}

	policies, err := e.policies.List(ctx, func(id string, perr error) {
		e.logf("fga: skipping policy %s: %v", id, perr)
	})
	if err != nil {
		return e.finish(ctx, req, now, started, e.indeterminate(err))
	}

	result, cacheable, err := e.combine(ctx, req, policies, now)
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			return e.finish(ctx, req, now, started, e.indeterminate(err))
		}
		return nil, err
	}

	if cacheable {
		e.cache.put(key, *result, revision, now)
	}
	return e.finish(ctx, req, now, started, result)
}

func (e *Evaluator) indeterminate(err error) *Result {
	return &Result{
		Decision: Indeterminate,
		Reason:   "policy store unavailable: " + err.Error(),
	}
}

// combine applies the ordering and combining rules: priority ascending,
// ties by id, deny overrides allow within a tier, first tier with an
// applicable policy wins. Returns whether the result may be cached.
func (e *Evaluator) combine(ctx context.Context, req *Request, policies []*Policy, now time.Time) (*Result, bool, error) {
	matching := make([]*Policy, 0, len(policies))
	for _, p := range policies {
		if p.Enabled && p.Matches(req.Action) {
			matching = append(matching, p)
		}
	}
	sort.Slice(matching, func(i, j int) bool {
		if matching[i].Priority != matching[j].Priority {
			return matching[i].Priority < matching[j].Priority
		}
		return matching[i].ID < matching[j].ID
	})

	attrs := e.mergedAttributes(ctx, req)
	cacheable := true

	for i := 0; i < len(matching); {
		tier := matching[i].Priority
		var allowed *Policy
		for ; i < len(matching) && matching[i].Priority == tier; i++ {
			p := matching[i]
			applies, err := e.policyApplies(ctx, req, p, attrs, now)
			if err != nil {
				if errors.Is(err, store.ErrUnavailable) {
					return nil, false, err
				}
				// Malformed policy or condition: log, skip, continue.
				e.logf("fga: skipping policy %s: %v", p.ID, err)
				continue
			}
			if !applies {
				continue
			}
			if usesTimeAttributes(p) {
				cacheable = false
			}
			if p.Effect == EffectDeny {
				return &Result{
					Decision:        Deny,
					Reason:          denyReason(p),
					AppliedPolicies: []string{p.ID},
					Obligations:     p.Obligations,
					Advice:          p.Advice,
				}, cacheable, nil
			}
			if allowed == nil {
				allowed = p
			}
		}
		if allowed != nil {
			return &Result{
				Decision:        Allow,
				Reason:          "allowed by policy " + allowed.ID,
				AppliedPolicies: []string{allowed.ID},
				Obligations:     allowed.Obligations,
				Advice:          allowed.Advice,
			}, cacheable, nil
		}
	}

	return &Result{
		Decision:        Deny,
		Reason:          "no applicable policy",
		AppliedPolicies: []string{},
	}, cacheable, nil
}

func denyReason(p *Policy) string {
	if p.Name != "" {
		return "denied by policy " + p.ID + " (" + p.Name + ")"
	}
	return "denied by policy " + p.ID
}

// policyApplies evaluates every component the policy's kind demands.
func (e *Evaluator) policyApplies(ctx context.Context, req *Request, p *Policy, attrs map[string]any, now time.Time) (bool, error) {
	if err := p.Validate(); err != nil {
		return false, err
	}

	if len(p.Roles) > 0 {
		ok, err := e.subjectHasRole(ctx, req, p.Roles)
		if err != nil || !ok {
			return false, err
		}
	}

	for _, required := range p.Relationships {
		if required.ObjectType != "" && required.ObjectType != req.ResourceType {
			return false, nil
		}
		ok, err := e.hasRelation(ctx, req, required.Relation, now)
		if err != nil || !ok {
			return false, err
		}
	}

	if p.Condition != nil {
		ok, err := p.Condition.Evaluate(attrs)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (e *Evaluator) subjectHasRole(ctx context.Context, req *Request, roles []string) (bool, error) {
	subjectRoles := attrRoles(req.UserAttrs)
	if e.identity != nil {
		attrs, err := e.identity.SubjectAttributes(ctx, req.Subject)
		if err != nil {
			return false, err
		}
		subjectRoles = append(subjectRoles, attrs.Roles...)
	}
	for _, want := range roles {
		for _, have := range subjectRoles {
			if want == have {
				return true, nil
			}
		}
	}
	return false, nil
}

// hasRelation checks the direct edge, then one level of inheritance
// through the resource's parent object.
func (e *Evaluator) hasRelation(ctx context.Context, req *Request, relation string, now time.Time) (bool, error) {
	ok, err := e.relationships.Has(ctx, req.Subject, relation, req.Resource, now)
	if err != nil || ok {
		return ok, err
	}
	for _, rule := range e.inheritance {
		if rule.Relation != relation {
			continue
		}
		parent, _ := req.ResourceAttrs[rule.ParentAttribute].(string)
		if parent == "" {
			continue
		}
		ok, err := e.relationships.Has(ctx, req.Subject, rule.ViaRelation, parent, now)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// mergedAttributes builds the flat attribute space the condition tree
// evaluates against: user.*, resource.* and env.* prefixes, with the
// identity provider's view folded under user.*.
func (e *Evaluator) mergedAttributes(ctx context.Context, req *Request) map[string]any {
	out := make(map[string]any, len(req.UserAttrs)+len(req.ResourceAttrs)+len(req.EnvAttrs)+4)
	if e.identity != nil {
		if attrs, err := e.identity.SubjectAttributes(ctx, req.Subject); err == nil {
			for k, v := range attrs.FlatMap() {
				out["user."+k] = v
			}
			roles := make([]any, len(attrs.Roles))
			for i, r := range attrs.Roles {
				roles[i] = r
			}
			out["user.roles"] = roles
		}
	}
	for k, v := range req.UserAttrs {
		out["user."+k] = v
	}
	for k, v := range req.ResourceAttrs {
		out["resource."+k] = v
	}
	for k, v := range req.EnvAttrs {
		out["env."+k] = v
	}
	return out
}

func attrRoles(userAttrs map[string]any) []string {
	raw, ok := userAttrs["roles"]
	if !ok {
		return nil
	}
	items, ok := asSlice(raw)
	if !ok {
		return nil
	}
	var roles []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			roles = append(roles, s)
		}
	}
	return roles
}

func usesTimeAttributes(p *Policy) bool {
	if p.Condition == nil {
		return false
	}
	for _, attr := range p.Condition.Attributes() {
		if timeAttributes[attr] {
			return true
		}
	}
	return false
}

// finish stamps timing and writes the decision audit entry. Audit
// failure fails the evaluation: an unrecorded decision must not gate
// anything.
func (e *Evaluator) finish(ctx context.Context, req *Request, now time.Time, started time.Time, result *Result) (*Result, error) {
	result.EvaluationMS = time.Since(started).Milliseconds()
	if e.journal != nil {
		payload := struct {
			Request *Request `json:"request"`
			Result  *Result  `json:"result"`
		}{Request: req, Result: result}
		if _, err := e.journal.Record(ctx, DecisionStream, now, req.Subject, audit.KindDecision, payload); err != nil {
			return nil, &FGAError{Op: "audit", Err: err}
		}
	}
	return result, nil
}
