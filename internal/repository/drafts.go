package repository

import (
	"context"
	"time"

	"wastedraft/internal/record"
)

// DraftRecord is a waste record row: owner, review status and the form.
type DraftRecord struct {
	ID      string        `json:"id"`
	OwnerID string        `json:"owner_id"`
	Status  record.Status `json:"status"`
	record.Form
	RejectionReason *string    `json:"rejection_reason,omitempty"`
	ReviewedBy      *string    `json:"reviewed_by,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	SubmittedAt     *time.Time `json:"submitted_at,omitempty"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
}

// ListDraftsParams filters and pages draft listings.
type ListDraftsParams struct {
	OwnerID  string
	Statuses []record.Status
	Limit    int
	Offset   int
}

// TransitionFields are written together with a status change.
type TransitionFields struct {
	At              time.Time
	ReviewedBy      string
	RejectionReason string
}

// DraftRepository persists drafts.
type DraftRepository interface {
	Create(ctx context.Context, rec *DraftRecord) (*DraftRecord, error)
	GetByID(ctx context.Context, id string) (*DraftRecord, error)
	List(ctx context.Context, params ListDraftsParams) ([]DraftRecord, error)
	// Update writes the named form fields of form while the draft is in one
	// of the allowed statuses.
	Update(ctx context.Context, id string, form record.Form, fields []string, allowed []record.Status) (*DraftRecord, error)
	// Transition moves the draft to status to if it is currently in one of
	// from. ErrConflict is returned otherwise.
	Transition(ctx context.Context, id string, from []record.Status, to record.Status, extra TransitionFields) (*DraftRecord, error)
}
