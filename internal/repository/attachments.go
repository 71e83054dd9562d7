package repository

import (
	"context"
	"time"
)

// AttachmentStatus tracks the blob behind an attachment row.
type AttachmentStatus string

const (
	AttachmentStatusPending AttachmentStatus = "pending"
	AttachmentStatusStored  AttachmentStatus = "stored"
	AttachmentStatusFailed  AttachmentStatus = "failed"
	AttachmentStatusDeleted AttachmentStatus = "deleted"
)

// AttachmentRecord is one file attached to a draft under a category.
type AttachmentRecord struct {
	ID           string           `json:"id"`
	DraftID      string           `json:"draft_id"`
	Category     string           `json:"category"`
	Position     int              `json:"position"`
	OriginalName string           `json:"original_name"`
	MimeType     string           `json:"mime_type"`
	SizeBytes    int64            `json:"size_bytes"`
	StoragePath  string           `json:"-"`
	Checksum     *string          `json:"checksum,omitempty"`
	Status       AttachmentStatus `json:"status"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// ContentFields describe a new blob written in place of an old one.
type ContentFields struct {
	OriginalName string
	MimeType     string
	SizeBytes    int64
	StoragePath  string
	Checksum     *string
}

// AttachmentRepository persists attachment metadata. Deleted rows are kept
// but never listed or counted.
type AttachmentRepository interface {
	Create(ctx context.Context, rec *AttachmentRecord) (*AttachmentRecord, error)
	GetByID(ctx context.Context, id string) (*AttachmentRecord, error)
	// ListByDraft returns active attachments ordered by category and
	// position. An empty category lists every category.
	ListByDraft(ctx context.Context, draftID, category string) ([]AttachmentRecord, error)
	CountActive(ctx context.Context, draftID, category string) (int, error)
	NextPosition(ctx context.Context, draftID, category string) (int, error)
	ReplaceContent(ctx context.Context, id string, content ContentFields) (*AttachmentRecord, error)
	UpdateStatus(ctx context.Context, id string, status AttachmentStatus) error
	// Reorder assigns positions 1..n following ids in a single transaction.
	Reorder(ctx context.Context, draftID, category string, ids []string) error
}
