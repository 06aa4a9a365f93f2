// Package notify defines the notifier port. The core decides WHAT to
// tell a participant; the host layer behind the port decides the channel
// and the rendering. Delivery is at-least-once: every notification
// carries an idempotency key so the host can dedupe redeliveries.
package notify

import (
	"context"
	"fmt"
	"sync"
)

// Kind categorizes a notification.
type Kind string

const (
	KindInvitation Kind = "INVITATION"
	KindReminder   Kind = "REMINDER"
	KindEscalation Kind = "ESCALATION"
	KindCompletion Kind = "COMPLETION"
	KindDecline    Kind = "DECLINE"
	KindVoid       Kind = "VOID"
)

// Outcome is the host's delivery verdict.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeDeferred Outcome = "deferred"
	OutcomeFailed   Outcome = "failed"
)

// Notification is one message to one recipient.
type Notification struct {
	Recipient  string            `json:"recipient"` // participant e-mail
	Kind       Kind              `json:"kind"`
	InstanceID string            `json:"instance_id"`
	StageID    string            `json:"stage_id,omitempty"`
	TaskID     string            `json:"task_id,omitempty"`
	CycleNo    int               `json:"cycle_no"` // reminder cycle, 0 for one-shot kinds
	Context    map[string]string `json:"context,omitempty"`
}

// Key returns the idempotency key for deduplication on redelivery.
func (n *Notification) Key() string {
	return fmt.Sprintf("%s|%s|%s|%s|%d", n.InstanceID, n.StageID, n.TaskID, n.Kind, n.CycleNo)
}

// Notifier is the delivery port. Failures are non-fatal to workflow
// commands; the reminder scheduler retries deferred deliveries on the
// next tick.
type Notifier interface {
	Notify(ctx context.Context, n *Notification) (Outcome, error)
}

// Nop discards all notifications.
type Nop struct{}

var _ Notifier = (*Nop)(nil)

func (Nop) Notify(context.Context, *Notification) (Outcome, error) { return OutcomeAccepted, nil }

// Memory records notifications for tests and deduplicates by key.
type Memory struct {
	mu   sync.Mutex
	seen map[string]bool
	sent []*Notification

	// NextOutcome, when set, is returned for the next delivery.
	NextOutcome Outcome
	NextErr     error
}

var _ Notifier = (*Memory)(nil)

// NewMemory creates an empty recording notifier.
func NewMemory() *Memory {
	return &Memory{seen: make(map[string]bool)}
}

// Notify records the notification unless its key was already delivered.
func (m *Memory) Notify(ctx context.Context, n *Notification) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return OutcomeFailed, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.NextErr != nil {
		err := m.NextErr
		m.NextErr = nil
		return OutcomeFailed, err
	}
	if m.NextOutcome != "" {
		out := m.NextOutcome
		m.NextOutcome = ""
		return out, nil
	}
	if m.seen[n.Key()] {
		return OutcomeAccepted, nil
	}
	m.seen[n.Key()] = true
	copied := *n
	m.sent = append(m.sent, &copied)
	return OutcomeAccepted, nil
}

// Sent returns the deduplicated deliveries in order.
func (m *Memory) Sent() []*Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Notification(nil), m.sent...)
}

// SentOfKind returns deliveries of one kind.
func (m *Memory) SentOfKind(kind Kind) []*Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Notification
	for _, n := range m.sent {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}
