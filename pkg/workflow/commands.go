package workflow

import (
	"context"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/signetlabs/signet/pkg/audit"
	"github.com/signetlabs/signet/pkg/clock"
	"github.com/signetlabs/signet/pkg/cryptoutil"
	"github.com/signetlabs/signet/pkg/notify"
	"github.com/signetlabs/signet/pkg/store"
)

// Start activates a Ready stage: participants are invited and the
// stage deadline starts running. If the stage's start condition
// evaluates false, the stage is skipped instead.
func (e *Engine) Start(ctx context.Context, actor, instanceID, stageID, commandID string) (*Instance, error) {
	if err := e.authorize(ctx, actor, "WORKFLOW_START", instanceID, "workflow_instance"); err != nil {
		return nil, err
	}
	def, err := e.definitionFor(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	return e.mutateInstance(ctx, "start", instanceID, commandID, "started",
		func(in *Instance, doc *Document, now time.Time) (*effects, error) {
			stage := in.Stage(stageID)
			if stage == nil {
				return nil, &WorkflowError{Op: "start", InstanceID: instanceID,
					Err: fmt.Errorf("%w: stage %s", store.ErrNotFound, stageID)}
			}
			if stage.Status != StageReady {
				return nil, &WorkflowError{Op: "start", InstanceID: instanceID,
					Err: fmt.Errorf("%w: stage %s is %s, want Ready", ErrInvalidTransition, stageID, stage.Status)}
			}
			fx := &effects{}
			e.activateStage(def, in, stage, now, actor, fx)
			e.advance(def, in, doc, now, actor, fx)
			return fx, nil
		})
}

// View records that the participant opened the document.
func (e *Engine) View(ctx context.Context, actor, instanceID, taskID, commandID string) (*Instance, error) {
	if err := e.authorize(ctx, actor, "DOCUMENT_VIEW", instanceID, "workflow_instance"); err != nil {
		return nil, err
	}
	return e.mutateInstance(ctx, "view", instanceID, commandID, "viewed",
		func(in *Instance, doc *Document, now time.Time) (*effects, error) {
			_, task, err := e.actionableTask(in, taskID, "view")
			if err != nil {
				return nil, err
			}
			if task.Status != TaskInvited && task.Status != TaskViewed {
				return nil, &WorkflowError{Op: "view", InstanceID: in.ID, TaskID: taskID,
					Err: fmt.Errorf("%w: task is %s", ErrInvalidTransition, task.Status)}
			}
			if task.Status == TaskViewed {
				return &effects{}, nil // second view is a no-op
			}
			task.Status = TaskViewed
			task.ViewedAt = &now

			fx := &effects{}
			fx.record(actor, audit.KindViewed, map[string]any{"task_id": taskID, "email": task.Email})
			return fx, nil
		})
}

// SignRequest carries one signing act.
type SignRequest struct {
	InstanceID  string
	TaskID      string
	CommandID   string
	ContentHash string // document hash computed at sign time
	Signature   []byte
	SignerCert  []byte // DER
	MFA         *MFAEvidence
}

// Sign records a signature on a task, produces the timestamped
// composite, and advances the stage when every required task is done.
func (e *Engine) Sign(ctx context.Context, actor string, req *SignRequest) (*Instance, error) {
	if err := e.authorize(ctx, actor, "DOCUMENT_SIGN", req.InstanceID, "workflow_instance"); err != nil {
		return nil, err
	}
	def, err := e.definitionFor(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}

	// Replay check before sealing, so a re-sent command does not reach
	// the TSA twice.
	pre, err := e.GetInstance(ctx, req.InstanceID)
	if err != nil {
		return nil, err
	}
	if req.CommandID != "" {
		if _, applied := pre.Commands[req.CommandID]; applied {
			return pre, nil
		}
	}

	stage, task := pre.FindTask(req.TaskID)
	if task == nil {
		return nil, &WorkflowError{Op: "sign", InstanceID: req.InstanceID, TaskID: req.TaskID,
			Err: fmt.Errorf("%w: task", store.ErrNotFound)}
	}
	if !task.Status.actionable() {
		return nil, &WorkflowError{Op: "sign", InstanceID: req.InstanceID, TaskID: req.TaskID,
			Err: fmt.Errorf("%w: task is %s", ErrInvalidTransition, task.Status)}
	}

	doc, err := e.GetDocument(ctx, pre.DocumentID)
	if err != nil {
		return nil, err
	}
	if req.ContentHash != doc.ContentHash {
		return nil, &WorkflowError{Op: "sign", InstanceID: req.InstanceID, TaskID: req.TaskID,
			Err: fmt.Errorf("%w: content hash %s does not match document hash %s",
				ErrIntegrity, req.ContentHash, doc.ContentHash)}
	}

	participant := def.Participant(task.ParticipantID)
	stageDef := findStageDef(def, stage.StageID)
	if needsMFA(participant, stageDef) && req.MFA == nil {
		return nil, &WorkflowError{Op: "sign", InstanceID: req.InstanceID, TaskID: req.TaskID,
			Err: fmt.Errorf("%w: multi-factor evidence required", ErrValidation)}
	}
	if err := e.checkSignature(req, participant); err != nil {
		return nil, &WorkflowError{Op: "sign", InstanceID: req.InstanceID, TaskID: req.TaskID, Err: err}
	}

	now := e.clock.Now()
	sig := &SignatureEvent{
		ID:            clock.NewID("sig"),
		InstanceID:    req.InstanceID,
		StageID:       stage.StageID,
		TaskID:        req.TaskID,
		DocumentID:    doc.ID,
		ParticipantID: task.ParticipantID,
		Email:         task.Email,
		SignTime:      now,
		ContentHash:   req.ContentHash,
		Signature:     req.Signature,
		SignerCert:    req.SignerCert,
		MFA:           req.MFA,
		Status:        SigAwaitingTimestamp,
	}
	if participant != nil {
		sig.CertLevel = participant.CertLevel
	}

	outcome := e.seal(ctx, sig)

	if _, err := store.PutJSON(ctx, e.store, store.ColSignatures, sig.ID, sig, 0); err != nil {
		return nil, &WorkflowError{Op: "sign", InstanceID: req.InstanceID, Err: err}
	}

	return e.mutateInstance(ctx, "sign", req.InstanceID, req.CommandID, "signed",
		func(in *Instance, doc *Document, now time.Time) (*effects, error) {
			st, t := in.FindTask(req.TaskID)
			if t == nil || !t.Status.actionable() {
				return nil, &WorkflowError{Op: "sign", InstanceID: in.ID, TaskID: req.TaskID,
					Err: fmt.Errorf("%w: task no longer actionable", ErrInvalidTransition)}
			}
			t.Status = TaskSigned
			t.CompletedAt = &now
			t.SignatureID = sig.ID

			fx := &effects{}
			fx.record(actor, audit.KindSigned, map[string]any{
				"task_id": t.ID, "email": t.Email, "signature_id": sig.ID,
			})
			if outcome.Deferred {
				fx.record(actor, audit.KindTimestampDeferred, map[string]any{
					"signature_id": sig.ID,
				})
			} else {
				fx.record(actor, audit.KindCompositeCreated, map[string]any{
					"signature_id": sig.ID, "composite_id": outcome.CompositeID, "provider": outcome.Provider,
				})
			}

			if st.requiredDone() {
				e.completeStage(def, in, doc, st, now, actor, fx)
			}
			return fx, nil
		})
}

// checkSignature verifies the signature bytes against the signer
// certificate and enforces the participant's certificate level. The
// signed message is the canonical content-hash string.
func (e *Engine) checkSignature(req *SignRequest, participant *Participant) error {
	if len(req.Signature) == 0 {
		return fmt.Errorf("%w: signature bytes are required", ErrValidation)
	}

	var alg cryptoutil.AlgorithmID
	if len(req.SignerCert) > 0 {
		cert, err := x509.ParseCertificate(req.SignerCert)
		if err != nil {
			return fmt.Errorf("%w: signer certificate: %v", ErrValidation, err)
		}
		alg, err = cryptoutil.AlgorithmOf(cert.PublicKey)
		if err != nil {
			return fmt.Errorf("%w: signer key: %v", ErrValidation, err)
		}
		if err := cryptoutil.VerifySignature(cert.PublicKey, alg, []byte(req.ContentHash), req.Signature); err != nil {
			return fmt.Errorf("%w: signature does not verify against the signer certificate", ErrIntegrity)
		}
	}

	if participant != nil && participant.CertLevel == CertQualified {
		if len(req.SignerCert) == 0 {
			return fmt.Errorf("%w: Qualified level requires a signer certificate", ErrValidation)
		}
		if !cryptoutil.QuantumSafe(alg) {
			return fmt.Errorf("%w: Qualified level requires ML-DSA-65 or ECDSA P-384, got %s", ErrValidation, alg)
		}
	}
	return nil
}

// seal runs the timestamp pipeline. Unavailability defers the
// composite; the signature is retained for backfill.
func (e *Engine) seal(ctx context.Context, sig *SignatureEvent) *SealOutcome {
	if e.sealer == nil {
		return &SealOutcome{Deferred: true}
	}
	outcome, err := e.sealer.Seal(ctx, sig)
	if err != nil {
		e.logf("workflow: seal signature %s deferred: %v", sig.ID, err)
		return &SealOutcome{Deferred: true}
	}
	if !outcome.Deferred {
		sig.Status = SigSealed
		sig.CompositeID = outcome.CompositeID
		sig.Provider = outcome.Provider
	}
	return outcome
}

// Decline refuses a task. Declining any required task fails the stage
// and the whole instance; remaining open tasks are cancelled.
func (e *Engine) Decline(ctx context.Context, actor, instanceID, taskID, reason, commandID string) (*Instance, error) {
	if err := e.authorize(ctx, actor, "DOCUMENT_DECLINE", instanceID, "workflow_instance"); err != nil {
		return nil, err
	}
	return e.mutateInstance(ctx, "decline", instanceID, commandID, "declined",
		func(in *Instance, doc *Document, now time.Time) (*effects, error) {
			stage, task, err := e.actionableTask(in, taskID, "decline")
			if err != nil {
				return nil, err
			}
			task.Status = TaskDeclined
			task.CompletedAt = &now
			task.DeclineReason = reason

			fx := &effects{}
			fx.record(actor, audit.KindDeclined, map[string]any{
				"task_id": taskID, "email": task.Email, "reason": reason,
			})

			stage.Status = StageFailed
			fx.record(actor, audit.KindStageFailed, map[string]any{
				"stage_id": stage.StageID, "cause": "declined",
			})
			e.terminate(in, doc, now, InstanceDeclined, DocDeclined, actor, fx, notify.KindDecline)
			return fx, nil
		})
}

// Delegate hands a task to a new signer. The replacement task inherits
// the original deadline; it does not restart.
func (e *Engine) Delegate(ctx context.Context, actor, instanceID, taskID string, newSigner Participant, commandID string) (*Instance, error) {
	if err := e.authorize(ctx, actor, "DOCUMENT_DELEGATE", instanceID, "workflow_instance"); err != nil {
		return nil, err
	}
	def, err := e.definitionFor(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if err := validateEmail(newSigner.Email); err != nil {
		return nil, &WorkflowError{Op: "delegate", InstanceID: instanceID,
			Err: fmt.Errorf("%w: %v", ErrValidation, err)}
	}

	return e.mutateInstance(ctx, "delegate", instanceID, commandID, "delegated",
		func(in *Instance, doc *Document, now time.Time) (*effects, error) {
			stage, task, err := e.actionableTask(in, taskID, "delegate")
			if err != nil {
				return nil, err
			}
			stageDef := findStageDef(def, stage.StageID)
			if stageDef == nil || !stageDef.AllowDelegation {
				return nil, &WorkflowError{Op: "delegate", InstanceID: in.ID, TaskID: taskID,
					Err: ErrDelegationNotAllowed}
			}

			task.Status = TaskDelegated
			task.CompletedAt = &now

			replacement := &Task{
				ID:            clock.NewID("task"),
				ParticipantID: newSigner.ID,
				Email:         newSigner.Email,
				Name:          newSigner.Name,
				Kind:          task.Kind,
				Status:        TaskInvited,
				InvitedAt:     &now,
				DelegatedFrom: task.ID,
			}
			if replacement.ParticipantID == "" {
				replacement.ParticipantID = clock.NewID("part")
			}
			stage.Tasks = append(stage.Tasks, replacement)

			fx := &effects{}
			fx.record(actor, audit.KindDelegated, map[string]any{
				"task_id": taskID, "from": task.Email, "to": replacement.Email,
				"new_task_id": replacement.ID,
			})
			fx.notify(&notify.Notification{
				Recipient:  replacement.Email,
				Kind:       notify.KindInvitation,
				InstanceID: in.ID,
				StageID:    stage.StageID,
				TaskID:     replacement.ID,
			})
			return fx, nil
		})
}

// Void abandons a running instance. The document is voided and every
// pending participant is told.
func (e *Engine) Void(ctx context.Context, actor, instanceID, reason, commandID string) (*Instance, error) {
	if err := e.authorize(ctx, actor, "DOCUMENT_VOID", instanceID, "workflow_instance"); err != nil {
		return nil, err
	}
	return e.mutateInstance(ctx, "void", instanceID, commandID, "voided",
		func(in *Instance, doc *Document, now time.Time) (*effects, error) {
			if in.Status.Terminal() {
				return nil, &WorkflowError{Op: "void", InstanceID: in.ID,
					Err: fmt.Errorf("%w: instance is %s", ErrInvalidTransition, in.Status)}
			}
			fx := &effects{}
			fx.record(actor, audit.KindVoided, map[string]any{"reason": reason})
			e.terminate(in, doc, now, InstanceVoided, DocVoided, actor, fx, notify.KindVoid)
			return fx, nil
		})
}

// actionableTask locates a task that can still act, in a stage that is
// Active.
func (e *Engine) actionableTask(in *Instance, taskID, op string) (*Stage, *Task, error) {
	stage, task := in.FindTask(taskID)
	if task == nil {
		return nil, nil, &WorkflowError{Op: op, InstanceID: in.ID, TaskID: taskID,
			Err: fmt.Errorf("%w: task", store.ErrNotFound)}
	}
	if stage.Status != StageActive {
		return nil, nil, &WorkflowError{Op: op, InstanceID: in.ID, TaskID: taskID,
			Err: fmt.Errorf("%w: stage %s is %s", ErrInvalidTransition, stage.StageID, stage.Status)}
	}
	if !task.Status.actionable() {
		return nil, nil, &WorkflowError{Op: op, InstanceID: in.ID, TaskID: taskID,
			Err: fmt.Errorf("%w: task is %s", ErrInvalidTransition, task.Status)}
	}
	return stage, task, nil
}

// activateStage moves a Ready stage to Active (or Skipped when its
// start condition fails), invites its tasks, and arms the deadline.
func (e *Engine) activateStage(def *Definition, in *Instance, stage *Stage, now time.Time, actor string, fx *effects) {
	sd := findStageDef(def, stage.StageID)
	if sd != nil && !sd.StartCondition.Holds(in.Attributes) {
		stage.Status = StageSkipped
		fx.record(actor, audit.KindStageSkipped, map[string]any{"stage_id": stage.StageID})
		return
	}

	stage.Status = StageActive
	stage.ActivatedAt = &now
	deadline := now.Add(time.Duration(def.deadlineDays(sd)) * 24 * time.Hour)
	stage.Deadline = &deadline

	fx.record(actor, audit.KindStarted, map[string]any{
		"stage_id": stage.StageID, "deadline": deadline.UTC().Format(time.RFC3339),
	})
	for _, t := range stage.Tasks {
		if t.Status != TaskPending {
			continue
		}
		t.Status = TaskInvited
		t.InvitedAt = &now
		fx.record(actor, audit.KindInvited, map[string]any{"task_id": t.ID, "email": t.Email})
		fx.notify(&notify.Notification{
			Recipient:  t.Email,
			Kind:       notify.KindInvitation,
			InstanceID: in.ID,
			StageID:    stage.StageID,
			TaskID:     t.ID,
		})
	}
}

// completeStage marks a stage Done and cascades: dependents unlock, and
// a fully finished graph completes the instance.
func (e *Engine) completeStage(def *Definition, in *Instance, doc *Document, stage *Stage, now time.Time, actor string, fx *effects) {
	stage.Status = StageDone
	fx.record(actor, audit.KindStageDone, map[string]any{"stage_id": stage.StageID})
	e.advance(def, in, doc, now, actor, fx)
}

// advance unlocks stages whose dependencies are satisfied and
// auto-activates them, then checks for instance completion. Skipped
// stages satisfy their dependents.
func (e *Engine) advance(def *Definition, in *Instance, doc *Document, now time.Time, actor string, fx *effects) {
	stages := def.EffectiveStages()
	for changed := true; changed; {
		changed = false
		for i := range stages {
			sd := &stages[i]
			st := in.Stage(sd.ID)
			if st == nil || st.Status != StageBlocked {
				continue
			}
			if !depsSatisfied(in, sd.DependsOn) {
				continue
			}
			st.Status = StageReady
			fx.record(actor, audit.KindStageReady, map[string]any{"stage_id": sd.ID})
			// Stages unlocked by their dependencies activate without an
			// explicit start command.
			e.activateStage(def, in, st, now, actor, fx)
			changed = true
		}
	}

	allDone := true
	for _, st := range in.Stages {
		if st.Status != StageDone && st.Status != StageSkipped {
			allDone = false
			break
		}
	}
	if allDone && !in.Status.Terminal() {
		in.Status = InstanceCompleted
		in.CompletedAt = &now
		if err := doc.Transition(DocCompleted, now); err == nil {
			fx.record(actor, audit.KindCompleted, map[string]any{"instance_id": in.ID})
		}
		for _, st := range in.Stages {
			for _, t := range st.Tasks {
				fx.notify(&notify.Notification{
					Recipient:  t.Email,
					Kind:       notify.KindCompletion,
					InstanceID: in.ID,
					StageID:    st.StageID,
					TaskID:     t.ID,
				})
			}
		}
	}
}

// terminate ends the instance: open tasks are cancelled and every
// affected participant is notified.
func (e *Engine) terminate(in *Instance, doc *Document, now time.Time, status InstanceStatus, docStatus DocumentStatus, actor string, fx *effects, kind notify.Kind) {
	in.Status = status
	in.CompletedAt = &now
	for _, st := range in.Stages {
		for _, t := range st.Tasks {
			if !t.Status.Terminal() {
				t.Status = TaskCancelled
				t.CompletedAt = &now
				fx.notify(&notify.Notification{
					Recipient:  t.Email,
					Kind:       kind,
					InstanceID: in.ID,
					StageID:    st.StageID,
					TaskID:     t.ID,
				})
			}
		}
		switch st.Status {
		case StageBlocked, StageReady, StageActive:
			st.Status = StageSkipped
		}
	}
	if err := doc.Transition(docStatus, now); err != nil {
		e.logf("workflow: document %s: %v", doc.ID, err)
	}
}

func depsSatisfied(in *Instance, deps []string) bool {
	for _, dep := range deps {
		st := in.Stage(dep)
		if st == nil {
			return false
		}
		if st.Status != StageDone && st.Status != StageSkipped {
			return false
		}
	}
	return true
}

func findStageDef(def *Definition, stageID string) *StageDef {
	stages := def.EffectiveStages()
	for i := range stages {
		if stages[i].ID == stageID {
			return &stages[i]
		}
	}
	return nil
}

func needsMFA(p *Participant, sd *StageDef) bool {
	return (p != nil && p.RequireMFA) || (sd != nil && sd.RequireMFA)
}

// definitionFor loads the definition backing an instance.
func (e *Engine) definitionFor(ctx context.Context, instanceID string) (*Definition, error) {
	in, err := e.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return e.GetDefinition(ctx, in.DefinitionID)
}
