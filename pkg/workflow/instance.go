package workflow

import (
	"time"
)

// InstanceStatus is the overall state of a running workflow.
type InstanceStatus string

const (
	InstanceRunning   InstanceStatus = "Running"
	InstanceCompleted InstanceStatus = "Completed"
	InstanceDeclined  InstanceStatus = "Declined"
	InstanceVoided    InstanceStatus = "Voided"
	InstanceExpired   InstanceStatus = "Expired"
)

// Terminal reports whether no further commands may mutate the instance.
func (s InstanceStatus) Terminal() bool {
	switch s {
	case InstanceCompleted, InstanceDeclined, InstanceVoided, InstanceExpired:
		return true
	}
	return false
}

// StageStatus is one stage's state.
type StageStatus string

const (
	StageBlocked StageStatus = "Blocked"
	StageReady   StageStatus = "Ready"
	StageActive  StageStatus = "Active"
	StageDone    StageStatus = "Done"
	StageFailed  StageStatus = "Failed"
	StageSkipped StageStatus = "Skipped"
)

// TaskStatus is one participant task's state.
type TaskStatus string

const (
	TaskPending   TaskStatus = "Pending"
	TaskInvited   TaskStatus = "Invited"
	TaskViewed    TaskStatus = "Viewed"
	TaskSigned    TaskStatus = "Signed"
	TaskDeclined  TaskStatus = "Declined"
	TaskDelegated TaskStatus = "Delegated"
	TaskExpired   TaskStatus = "Expired"
	TaskCancelled TaskStatus = "Cancelled"
)

// Terminal reports whether the task can take no further action.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskSigned, TaskDeclined, TaskDelegated, TaskExpired, TaskCancelled:
		return true
	}
	return false
}

// actionable reports whether the task is waiting on its participant.
func (s TaskStatus) actionable() bool {
	return s == TaskInvited || s == TaskViewed
}

// Task is one participant's live assignment within a stage.
type Task struct {
	ID            string     `json:"id"`
	ParticipantID string     `json:"participant_id"`
	Email         string     `json:"email"`
	Name          string     `json:"name,omitempty"`
	Kind          TaskKind   `json:"kind"`
	Status        TaskStatus `json:"status"`
	InvitedAt     *time.Time `json:"invited_at,omitempty"`
	ViewedAt      *time.Time `json:"viewed_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	DeclineReason string     `json:"decline_reason,omitempty"`

	// DelegatedFrom is the task id this one was spawned from.
	DelegatedFrom string `json:"delegated_from,omitempty"`

	// SignatureID references the persisted signature event once signed.
	SignatureID string `json:"signature_id,omitempty"`

	// ReminderCycle counts reminders already sent for this task.
	ReminderCycle int  `json:"reminder_cycle,omitempty"`
	Escalated     bool `json:"escalated,omitempty"`
}

// Stage is the live state of one stage of an instance.
type Stage struct {
	StageID     string      `json:"stage_id"`
	Status      StageStatus `json:"status"`
	ActivatedAt *time.Time  `json:"activated_at,omitempty"`
	Deadline    *time.Time  `json:"deadline,omitempty"`
	Tasks       []*Task     `json:"tasks"`
}

// Task returns the task with the given id, or nil.
func (s *Stage) Task(id string) *Task {
	for _, t := range s.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// requiredDone reports whether every required task has reached a
// successful terminal state. Delegated tasks count through their
// replacements, which live in the same stage.
func (s *Stage) requiredDone() bool {
	for _, t := range s.Tasks {
		switch t.Status {
		case TaskSigned, TaskDelegated, TaskCancelled:
			// Signed is done; Delegated is carried by the spawned task;
			// Cancelled tasks are no longer required.
		default:
			return false
		}
	}
	return true
}

// CommandRecord is the memoized outcome of an applied command, keyed by
// the caller-supplied command id for idempotent replay.
type CommandRecord struct {
	CommandID string    `json:"command_id"`
	Kind      string    `json:"kind"`
	AppliedAt time.Time `json:"applied_at"`
	Outcome   string    `json:"outcome"`
}

// Instance is a running workflow bound to one document.
type Instance struct {
	ID           string            `json:"id"`
	DefinitionID string            `json:"definition_id"`
	DocumentID   string            `json:"document_id"`
	Status       InstanceStatus    `json:"status"`
	Stages       []*Stage          `json:"stages"`
	Attributes   map[string]string `json:"attributes,omitempty"` // consumed by start conditions
	CreatedAt    time.Time         `json:"created_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`

	// Commands memoizes applied command ids for idempotent replay.
	Commands map[string]*CommandRecord `json:"commands,omitempty"`
}

// Stage returns the stage state with the given id, or nil.
func (in *Instance) Stage(id string) *Stage {
	for _, s := range in.Stages {
		if s.StageID == id {
			return s
		}
	}
	return nil
}

// FindTask locates a task anywhere in the instance.
func (in *Instance) FindTask(taskID string) (*Stage, *Task) {
	for _, s := range in.Stages {
		if t := s.Task(taskID); t != nil {
			return s, t
		}
	}
	return nil, nil
}

// openTasks returns every task still waiting on a participant.
func (in *Instance) openTasks() []*Task {
	var out []*Task
	for _, s := range in.Stages {
		for _, t := range s.Tasks {
			if !t.Status.Terminal() {
				out = append(out, t)
			}
		}
	}
	return out
}
