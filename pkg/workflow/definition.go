package workflow

import (
	"fmt"
	"sort"
	"time"
)

// DefinitionType selects how stages are derived from participants.
type DefinitionType string

const (
	// Sequential produces one stage per participant, chained in order
	// index order.
	Sequential DefinitionType = "Sequential"

	// Parallel produces a single stage holding every participant.
	Parallel DefinitionType = "Parallel"

	// Custom uses the explicitly declared stage graph.
	Custom DefinitionType = "Custom"
)

// TaskKind is the action a participant performs.
type TaskKind string

const (
	TaskSign    TaskKind = "Sign"
	TaskApprove TaskKind = "Approve"
	TaskReview  TaskKind = "Review"
	TaskWitness TaskKind = "Witness"
)

// CertLevel is the certificate assurance level a participant must sign
// with.
type CertLevel string

const (
	CertBasic     CertLevel = "Basic"
	CertAdvanced  CertLevel = "Advanced"
	CertQualified CertLevel = "Qualified"
)

// Participant is one signer, approver, reviewer or witness.
type Participant struct {
	ID         string    `json:"id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	Role       string    `json:"role,omitempty"`
	TaskKind   TaskKind  `json:"task_kind"`
	CertLevel  CertLevel `json:"cert_level,omitempty"`
	RequireMFA bool      `json:"require_mfa,omitempty"`
	OrderIndex int       `json:"order_index"`
}

// StageDef is one node of the workflow graph.
type StageDef struct {
	ID             string   `json:"id"`
	Name           string   `json:"name,omitempty"`
	ParticipantIDs []string `json:"participant_ids"`
	TaskKind       TaskKind `json:"task_kind,omitempty"`
	DependsOn      []string `json:"depends_on,omitempty"`

	// StartCondition, when non-nil, is evaluated at activation; a false
	// result skips the stage.
	StartCondition *StartCondition `json:"start_condition,omitempty"`

	DeadlineDays     int  `json:"deadline_days,omitempty"` // 0 = settings default
	RequireMFA       bool `json:"require_mfa,omitempty"`
	RequireTimestamp bool `json:"require_timestamp,omitempty"`
	AllowDelegation  bool `json:"allow_delegation,omitempty"`
	AutoStart        bool `json:"auto_start,omitempty"`
}

// StartCondition gates stage activation on an instance attribute.
type StartCondition struct {
	Attribute string `json:"attribute"`
	Equals    string `json:"equals"`
}

// Holds reports whether the condition holds for the given attributes.
func (c *StartCondition) Holds(attrs map[string]string) bool {
	if c == nil {
		return true
	}
	return attrs[c.Attribute] == c.Equals
}

// Settings are the definition-wide knobs.
type Settings struct {
	DeadlineDays    int  `json:"deadline_days,omitempty"`
	ReminderHours   int  `json:"reminder_hours,omitempty"`
	EscalationHours int  `json:"escalation_hours,omitempty"`
	AllowDelegation bool `json:"allow_delegation,omitempty"`
	AllowParallel   bool `json:"allow_parallel,omitempty"`
}

// Defaults applied when a setting is unset.
const (
	DefaultDeadlineDays    = 7
	DefaultReminderHours   = 24
	DefaultEscalationHours = 24
)

// Definition is a workflow template. It is immutable once the first
// instance has been created; revisions are new definitions.
type Definition struct {
	ID           string         `json:"id"`
	Name         string         `json:"name,omitempty"`
	Type         DefinitionType `json:"type"`
	Participants []Participant  `json:"participants"`
	Stages       []StageDef     `json:"stages,omitempty"` // explicit for Custom only
	Settings     Settings       `json:"settings"`
	CreatedAt    time.Time      `json:"created_at"`
	CreatedBy    string         `json:"created_by,omitempty"`
	Frozen       bool           `json:"frozen,omitempty"` // set on first instance
}

// EffectiveStages returns the stage graph: the declared stages for
// Custom definitions, or stages derived from the participant list for
// Sequential and Parallel ones.
func (d *Definition) EffectiveStages() []StageDef {
	switch d.Type {
	case Custom:
		return d.Stages
	case Parallel:
		ids := make([]string, len(d.Participants))
		for i, p := range d.Participants {
			ids[i] = p.ID
		}
		return []StageDef{{
			ID:              "stage_1",
			Name:            "All participants",
			ParticipantIDs:  ids,
			AllowDelegation: d.Settings.AllowDelegation,
			AutoStart:       true,
		}}
	default: // Sequential
		ordered := make([]Participant, len(d.Participants))
		copy(ordered, d.Participants)
		sortParticipants(ordered)
		stages := make([]StageDef, len(ordered))
		for i, p := range ordered {
			stage := StageDef{
				ID:              fmt.Sprintf("stage_%d", i+1),
				Name:            p.Name,
				ParticipantIDs:  []string{p.ID},
				AllowDelegation: d.Settings.AllowDelegation,
			}
			if i == 0 {
				stage.AutoStart = true
			} else {
				stage.DependsOn = []string{fmt.Sprintf("stage_%d", i)}
			}
			stages[i] = stage
		}
		return stages
	}
}

// Participant returns the participant with the given id, or nil.
func (d *Definition) Participant(id string) *Participant {
	for i := range d.Participants {
		if d.Participants[i].ID == id {
			return &d.Participants[i]
		}
	}
	return nil
}

func (d *Definition) deadlineDays(stage *StageDef) int {
	if stage.DeadlineDays > 0 {
		return stage.DeadlineDays
	}
	if d.Settings.DeadlineDays > 0 {
		return d.Settings.DeadlineDays
	}
	return DefaultDeadlineDays
}

func (d *Definition) reminderInterval() time.Duration {
	h := d.Settings.ReminderHours
	if h <= 0 {
		h = DefaultReminderHours
	}
	return time.Duration(h) * time.Hour
}

func (d *Definition) escalationDelay() time.Duration {
	h := d.Settings.EscalationHours
	if h <= 0 {
		h = DefaultEscalationHours
	}
	return time.Duration(h) * time.Hour
}

func sortParticipants(ps []Participant) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].OrderIndex != ps[j].OrderIndex {
			return ps[i].OrderIndex < ps[j].OrderIndex
		}
		return ps[i].ID < ps[j].ID
	})
}
