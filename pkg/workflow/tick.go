package workflow

import (
	"context"
	"encoding/json"
	"time"

	"github.com/signetlabs/signet/pkg/audit"
	"github.com/signetlabs/signet/pkg/notify"
	"github.com/signetlabs/signet/pkg/store"
)

// TimeTick re-evaluates deadlines, reminders, and escalations for one
// instance at the given instant. Ticks are idempotent: re-delivery of
// the same instant issues only actions not yet recorded in the state.
func (e *Engine) TimeTick(ctx context.Context, instanceID string, now time.Time) (*Instance, error) {
	def, err := e.definitionFor(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return e.mutateInstance(ctx, "time_tick", instanceID, "", "ticked",
		func(in *Instance, doc *Document, _ time.Time) (*effects, error) {
			if in.Status.Terminal() {
				return &effects{}, nil
			}
			fx := &effects{}
			e.tickStages(def, in, doc, now, fx)
			return fx, nil
		})
}

// TickAll applies TimeTick to every running instance. Returns the
// number of instances that changed state.
func (e *Engine) TickAll(ctx context.Context, now time.Time) (int, error) {
	records, err := e.store.List(ctx, store.ColInstances, func(r *store.Record) bool {
		var probe struct {
			Status InstanceStatus `json:"status"`
		}
		if err := json.Unmarshal(r.Data, &probe); err != nil {
			return false
		}
		return !probe.Status.Terminal()
	}, 0)
	if err != nil {
		return 0, &WorkflowError{Op: "tick_all", Err: err}
	}
	ticked := 0
	for _, rec := range records {
		if _, err := e.TimeTick(ctx, rec.ID, now); err != nil {
			e.logf("workflow: tick instance %s: %v", rec.ID, err)
			continue
		}
		ticked++
	}
	return ticked, nil
}

func (e *Engine) tickStages(def *Definition, in *Instance, doc *Document, now time.Time, fx *effects) {
	for _, stage := range in.Stages {
		if stage.Status != StageActive || stage.Deadline == nil {
			continue
		}
		if now.After(*stage.Deadline) {
			e.expireStage(def, in, doc, stage, now, fx)
			continue
		}
		e.remind(def, in, stage, now, fx)
	}
}

// expireStage times out actionable tasks past the deadline. A pending
// delegation (a delegated-from task whose replacement is still open)
// holds expiry for the replacement only; original actionable tasks
// expire. A required expiry fails the stage and the instance.
func (e *Engine) expireStage(def *Definition, in *Instance, doc *Document, stage *Stage, now time.Time, fx *effects) {
	expired := false
	for _, t := range stage.Tasks {
		if !t.Status.actionable() {
			continue
		}
		if t.DelegatedFrom != "" {
			// Delegation pending: the replacement stays open past the
			// deadline and is chased through escalation instead.
			continue
		}
		t.Status = TaskExpired
		t.CompletedAt = &now
		expired = true
		fx.record("system", audit.KindExpired, map[string]any{
			"task_id": t.ID, "email": t.Email, "deadline": stage.Deadline.UTC().Format(time.RFC3339),
		})
	}
	if !expired {
		e.escalate(def, in, stage, now, fx)
		return
	}

	stage.Status = StageFailed
	fx.record("system", audit.KindStageFailed, map[string]any{
		"stage_id": stage.StageID, "cause": "expired",
	})
	e.terminate(in, doc, now, InstanceExpired, DocExpired, "system", fx, notify.KindVoid)
}

// remind sends cadence reminders: the first at reminder_interval after
// the invitation, then at the same interval, tracked per task so ticks
// are idempotent.
func (e *Engine) remind(def *Definition, in *Instance, stage *Stage, now time.Time, fx *effects) {
	interval := def.reminderInterval()
	for _, t := range stage.Tasks {
		if !t.Status.actionable() || t.InvitedAt == nil {
			continue
		}
		due := t.ReminderCycle + 1
		nextAt := t.InvitedAt.Add(time.Duration(due) * interval)
		if now.Before(nextAt) {
			continue
		}
		t.ReminderCycle = due
		fx.record("system", audit.KindReminderSent, map[string]any{
			"task_id": t.ID, "email": t.Email, "cycle": due,
		})
		fx.notify(&notify.Notification{
			Recipient:  t.Email,
			Kind:       notify.KindReminder,
			InstanceID: in.ID,
			StageID:    stage.StageID,
			TaskID:     t.ID,
			CycleNo:    due,
		})
	}
}

// escalate fires once per task when the escalation delay past the
// deadline has elapsed and the task is somehow still open (for example
// a replacement task created by a late delegation).
func (e *Engine) escalate(def *Definition, in *Instance, stage *Stage, now time.Time, fx *effects) {
	cutoff := stage.Deadline.Add(def.escalationDelay())
	if now.Before(cutoff) {
		return
	}
	for _, t := range stage.Tasks {
		if t.Status.Terminal() || t.Escalated {
			continue
		}
		t.Escalated = true
		fx.record("system", audit.KindEscalated, map[string]any{
			"task_id": t.ID, "email": t.Email,
		})
		fx.notify(&notify.Notification{
			Recipient:  t.Email,
			Kind:       notify.KindEscalation,
			InstanceID: in.ID,
			StageID:    stage.StageID,
			TaskID:     t.ID,
		})
	}
}
