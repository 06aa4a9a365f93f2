package workflow

import (
	"fmt"
	"time"
)

// DocumentStatus is the document lifecycle state.
type DocumentStatus string

const (
	DocDraft     DocumentStatus = "Draft"
	DocOut       DocumentStatus = "Out" // out for signature
	DocCompleted DocumentStatus = "Completed"
	DocVoided    DocumentStatus = "Voided"
	DocDeclined  DocumentStatus = "Declined"
	DocExpired   DocumentStatus = "Expired"
)

// Document is the signable artifact. ContentHash freezes on the first
// transition out of Draft and never changes afterwards.
type Document struct {
	ID          string         `json:"id"`
	Title       string         `json:"title,omitempty"`
	Status      DocumentStatus `json:"status"`
	ContentHash string         `json:"content_hash"` // "sha256:<hex>"
	InstanceID  string         `json:"instance_id,omitempty"`
	CreatedBy   string         `json:"created_by,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// docTransitions enumerates the legal status moves. Draft may be
// voided; Out reaches exactly one terminal state.
var docTransitions = map[DocumentStatus][]DocumentStatus{
	DocDraft: {DocOut, DocVoided},
	DocOut:   {DocCompleted, DocDeclined, DocExpired, DocVoided},
}

// Transition moves the document to next, enforcing monotonic status.
func (d *Document) Transition(next DocumentStatus, now time.Time) error {
	for _, allowed := range docTransitions[d.Status] {
		if allowed == next {
			d.Status = next
			d.UpdatedAt = now
			return nil
		}
	}
	return fmt.Errorf("%w: document %s cannot move %s -> %s",
		ErrInvalidTransition, d.ID, d.Status, next)
}
