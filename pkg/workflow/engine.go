// Package workflow implements the signing workflow core: definition
// validation, the instance/stage/task state machines, and the command
// handlers that drive them. All mutations go through optimistic
// concurrency on the instance record; commands are idempotent via a
// caller-supplied command id.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/signetlabs/signet/pkg/audit"
	"github.com/signetlabs/signet/pkg/clock"
	"github.com/signetlabs/signet/pkg/fga"
	"github.com/signetlabs/signet/pkg/notify"
	"github.com/signetlabs/signet/pkg/store"
)

// maxCommandRetries bounds reload-and-retry on version conflicts before
// the conflict surfaces to the caller.
const maxCommandRetries = 3

// Authorizer gates commands. fga.Evaluator satisfies it.
type Authorizer interface {
	Evaluate(ctx context.Context, req *fga.Request) (*fga.Result, error)
}

// Engine executes workflow commands against the persistence port.
type Engine struct {
	store      store.Port
	notifier   notify.Notifier
	clock      clock.Clock
	journal    *audit.Journal
	sealer     Sealer
	authorizer Authorizer
	logf       func(format string, args ...any)
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSealer installs the timestamp-and-composite pipeline.
func WithSealer(s Sealer) EngineOption {
	return func(e *Engine) { e.sealer = s }
}

// WithAuthorizer installs the authorization gate.
func WithAuthorizer(a Authorizer) EngineOption {
	return func(e *Engine) { e.authorizer = a }
}

// WithLogf overrides the non-fatal failure logger.
func WithLogf(logf func(format string, args ...any)) EngineOption {
	return func(e *Engine) { e.logf = logf }
}

// NewEngine wires the engine over its ports.
func NewEngine(port store.Port, notifier notify.Notifier, clk clock.Clock, journal *audit.Journal, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    port,
		notifier: notifier,
		clock:    clk,
		journal:  journal,
		logf:     log.Printf,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// authorize applies the closed-world gate: Deny and Indeterminate both
// refuse the command.
func (e *Engine) authorize(ctx context.Context, subject, action, resource, resourceType string) error {
	if e.authorizer == nil {
		return nil
	}
	result, err := e.authorizer.Evaluate(ctx, &fga.Request{
		Subject:      subject,
		Action:       action,
		Resource:     resource,
		ResourceType: resourceType,
		Now:          e.clock.Now(),
	})
	if err != nil {
		return err
	}
	if !result.Allowed() {
		return fmt.Errorf("%w: %s on %s: %s", ErrUnauthorized, action, resource, result.Reason)
	}
	return nil
}

// CreateDefinition validates and persists a workflow definition.
func (e *Engine) CreateDefinition(ctx context.Context, actor string, def *Definition) (string, error) {
	if issues := Validate(def); issues != nil {
		return "", issues
	}
	if def.ID == "" {
		def.ID = clock.NewID("def")
	}
	def.CreatedAt = e.clock.Now()
	def.CreatedBy = actor
	if _, err := store.PutJSON(ctx, e.store, store.ColDefinitions, def.ID, def, 0); err != nil {
		return "", &WorkflowError{Op: "create_definition", Err: err}
	}
	return def.ID, nil
}

// GetDefinition loads a definition.
func (e *Engine) GetDefinition(ctx context.Context, id string) (*Definition, error) {
	var def Definition
	if _, err := store.GetJSON(ctx, e.store, store.ColDefinitions, id, &def); err != nil {
		return nil, &WorkflowError{Op: "get_definition", Err: err}
	}
	return &def, nil
}

// CreateDocument persists a new Draft document with its content hash.
func (e *Engine) CreateDocument(ctx context.Context, actor, title, contentHash string) (*Document, error) {
	now := e.clock.Now()
	doc := &Document{
		ID:          clock.NewID("doc"),
		Title:       title,
		Status:      DocDraft,
		ContentHash: contentHash,
		CreatedBy:   actor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if _, err := store.PutJSON(ctx, e.store, store.ColDocuments, doc.ID, doc, 0); err != nil {
		return nil, &WorkflowError{Op: "create_document", Err: err}
	}
	return doc, nil
}

// GetDocument loads a document.
func (e *Engine) GetDocument(ctx context.Context, id string) (*Document, error) {
	var doc Document
	if _, err := store.GetJSON(ctx, e.store, store.ColDocuments, id, &doc); err != nil {
		return nil, &WorkflowError{Op: "get_document", Err: err}
	}
	return &doc, nil
}

// CreateInstance attaches a validated definition to a Draft document:
// the document goes Out, its content hash freezes, auto-start stages
// become Ready, and the definition becomes immutable.
func (e *Engine) CreateInstance(ctx context.Context, actor, definitionID, documentID, commandID string) (*Instance, error) {
	if err := e.authorize(ctx, actor, "WORKFLOW_CREATE", documentID, "document"); err != nil {
		return nil, err
	}

	def, err := e.GetDefinition(ctx, definitionID)
	if err != nil {
		return nil, err
	}

	var retryErr error
	for attempt := 0; attempt < maxCommandRetries; attempt++ {
		var doc Document
		docVersion, err := store.GetJSON(ctx, e.store, store.ColDocuments, documentID, &doc)
		if err != nil {
			return nil, &WorkflowError{Op: "create_instance", Err: err}
		}
		if doc.InstanceID != "" && commandID != "" {
			// Idempotent replay: the document already carries the
			// instance this command created.
			if existing, err := e.GetInstance(ctx, doc.InstanceID); err == nil {
				if _, applied := existing.Commands[commandID]; applied {
					return existing, nil
				}
			}
		}
		if doc.Status != DocDraft {
			return nil, &WorkflowError{Op: "create_instance",
				Err: fmt.Errorf("%w: document %s is %s, want Draft", ErrInvalidTransition, doc.ID, doc.Status)}
		}

		now := e.clock.Now()
		in := e.buildInstance(def, &doc, now)
		if commandID != "" {
			in.Commands[commandID] = &CommandRecord{
				CommandID: commandID, Kind: "create_instance", AppliedAt: now, Outcome: "created",
			}
		}

		if err := doc.Transition(DocOut, now); err != nil {
			return nil, &WorkflowError{Op: "create_instance", Err: err}
		}
		doc.InstanceID = in.ID

		// The document CAS settles ownership first; writing the
		// instance earlier would orphan one record per retry.
		if _, err := store.PutJSON(ctx, e.store, store.ColDocuments, doc.ID, &doc, docVersion); err != nil {
			if errors.Is(err, store.ErrConflict) {
				retryErr = err
				continue
			}
			return nil, &WorkflowError{Op: "create_instance", Err: err}
		}
		if _, err := store.PutJSON(ctx, e.store, store.ColInstances, in.ID, in, 0); err != nil {
			return nil, &WorkflowError{Op: "create_instance", Err: err}
		}

		e.freezeDefinition(ctx, def)
		if err := e.audit(ctx, &doc, now, actor, audit.KindCreated, map[string]any{
			"instance_id":   in.ID,
			"definition_id": def.ID,
			"content_hash":  doc.ContentHash,
		}); err != nil {
			return nil, err
		}
		return in, nil
	}
	return nil, &WorkflowError{Op: "create_instance", InstanceID: documentID,
		Err: fmt.Errorf("%w: %v", ErrConflict, retryErr)}
}

// buildInstance materializes the runtime state from the definition.
func (e *Engine) buildInstance(def *Definition, doc *Document, now time.Time) *Instance {
	stages := def.EffectiveStages()
	in := &Instance{
		ID:           clock.NewID("inst"),
		DefinitionID: def.ID,
		DocumentID:   doc.ID,
		Status:       InstanceRunning,
		CreatedAt:    now,
		Commands:     make(map[string]*CommandRecord),
	}
	for i := range stages {
		sd := &stages[i]
		stage := &Stage{StageID: sd.ID, Status: StageBlocked}
		for _, pid := range sd.ParticipantIDs {
			p := def.Participant(pid)
			kind := sd.TaskKind
			if kind == "" {
				kind = p.TaskKind
			}
			if kind == "" {
				kind = TaskSign
			}
			stage.Tasks = append(stage.Tasks, &Task{
				ID:            clock.NewID("task"),
				ParticipantID: p.ID,
				Email:         p.Email,
				Name:          p.Name,
				Kind:          kind,
				Status:        TaskPending,
			})
		}
		in.Stages = append(in.Stages, stage)
	}
	// Stages with no dependencies are Ready immediately; auto-start
	// activation of downstream stages happens as dependencies finish.
	for i := range stages {
		if len(stages[i].DependsOn) == 0 {
			in.Stages[i].Status = StageReady
		}
	}
	return in
}

// freezeDefinition marks the definition immutable. Best effort: a lost
// race means another instance froze it first.
func (e *Engine) freezeDefinition(ctx context.Context, def *Definition) {
	if def.Frozen {
		return
	}
	var current Definition
	version, err := store.GetJSON(ctx, e.store, store.ColDefinitions, def.ID, &current)
	if err != nil || current.Frozen {
		return
	}
	current.Frozen = true
	if _, err := store.PutJSON(ctx, e.store, store.ColDefinitions, def.ID, &current, version); err != nil {
		e.logf("workflow: freeze definition %s: %v", def.ID, err)
	}
	def.Frozen = true
}

// GetInstance loads an instance.
func (e *Engine) GetInstance(ctx context.Context, id string) (*Instance, error) {
	var in Instance
	if _, err := store.GetJSON(ctx, e.store, store.ColInstances, id, &in); err != nil {
		return nil, &WorkflowError{Op: "get_instance", Err: err}
	}
	return &in, nil
}

// InstanceView is the query projection: instance plus its document.
type InstanceView struct {
	Instance   *Instance   `json:"instance"`
	Definition *Definition `json:"definition"`
	Document   *Document   `json:"document"`
}

// QueryInstance returns the instance joined with its definition and
// document.
func (e *Engine) QueryInstance(ctx context.Context, id string) (*InstanceView, error) {
	in, err := e.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	def, err := e.GetDefinition(ctx, in.DefinitionID)
	if err != nil {
		return nil, err
	}
	doc, err := e.GetDocument(ctx, in.DocumentID)
	if err != nil {
		return nil, err
	}
	return &InstanceView{Instance: in, Definition: def, Document: doc}, nil
}

// audit appends to the document's stream. Audit failure fails the
// command.
func (e *Engine) audit(ctx context.Context, doc *Document, now time.Time, actor string, kind audit.Kind, payload map[string]any) error {
	if e.journal == nil {
		return nil
	}
	if _, err := e.journal.Record(ctx, doc.ID, now, actor, kind, payload); err != nil {
		return &WorkflowError{Op: "audit", Err: err}
	}
	return nil
}

// send delivers a notification. Failures are logged, never fatal.
func (e *Engine) send(ctx context.Context, n *notify.Notification) {
	if e.notifier == nil {
		return
	}
	outcome, err := e.notifier.Notify(ctx, n)
	if err != nil || outcome == notify.OutcomeFailed {
		e.logf("workflow: notify %s %s: outcome=%s err=%v", n.Kind, n.Recipient, outcome, err)
	}
}

// mutateInstance is the shared command loop: load, replay check, apply,
// CAS save, emit. apply returns the audit entries and notifications to
// emit after a successful save; returning an error aborts the command.
func (e *Engine) mutateInstance(ctx context.Context, op, instanceID, commandID, outcome string,
	apply func(in *Instance, doc *Document, now time.Time) (*effects, error)) (*Instance, error) {

	var retryErr error
	for attempt := 0; attempt < maxCommandRetries; attempt++ {
		var in Instance
		inVersion, err := store.GetJSON(ctx, e.store, store.ColInstances, instanceID, &in)
		if err != nil {
			return nil, &WorkflowError{Op: op, InstanceID: instanceID, Err: err}
		}
		if commandID != "" {
			if _, applied := in.Commands[commandID]; applied {
				return &in, nil
			}
		}

		var doc Document
		docVersion, err := store.GetJSON(ctx, e.store, store.ColDocuments, in.DocumentID, &doc)
		if err != nil {
			return nil, &WorkflowError{Op: op, InstanceID: instanceID, Err: err}
		}
		docBefore := doc.Status

		now := e.clock.Now()
		fx, err := apply(&in, &doc, now)
		if err != nil {
			return nil, err
		}

		if commandID != "" {
			if in.Commands == nil {
				in.Commands = make(map[string]*CommandRecord)
			}
			in.Commands[commandID] = &CommandRecord{
				CommandID: commandID, Kind: op, AppliedAt: now, Outcome: outcome,
			}
		}

		if _, err := store.PutJSON(ctx, e.store, store.ColInstances, in.ID, &in, inVersion); err != nil {
			if errors.Is(err, store.ErrConflict) {
				retryErr = err
				continue
			}
			return nil, &WorkflowError{Op: op, InstanceID: instanceID, Err: err}
		}
		if doc.Status != docBefore {
			if _, err := store.PutJSON(ctx, e.store, store.ColDocuments, doc.ID, &doc, docVersion); err != nil {
				return nil, &WorkflowError{Op: op, InstanceID: instanceID, Err: err}
			}
		}

		if fx != nil {
			for _, entry := range fx.auditEntries {
				if err := e.audit(ctx, &doc, now, entry.actor, entry.kind, entry.payload); err != nil {
					return nil, err
				}
			}
			for _, n := range fx.notifications {
				e.send(ctx, n)
			}
		}
		return &in, nil
	}
	return nil, &WorkflowError{Op: op, InstanceID: instanceID,
		Err: fmt.Errorf("%w: %v", ErrConflict, retryErr)}
}

// effects collects the observable side effects of one command, emitted
// only after the state change has committed.
type effects struct {
	auditEntries  []auditEffect
	notifications []*notify.Notification
}

type auditEffect struct {
	actor   string
	kind    audit.Kind
	payload map[string]any
}

func (fx *effects) record(actor string, kind audit.Kind, payload map[string]any) {
	fx.auditEntries = append(fx.auditEntries, auditEffect{actor: actor, kind: kind, payload: payload})
}

func (fx *effects) notify(n *notify.Notification) {
	fx.notifications = append(fx.notifications, n)
}
