package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"wastedraft/internal/repository"
)

// NewAttachmentRepository returns the Postgres implementation backed by db.
func NewAttachmentRepository(db *sql.DB) *AttachmentRepository {
	return &AttachmentRepository{db: db}
}

// AttachmentRepository implements repository.AttachmentRepository.
type AttachmentRepository struct {
	db *sql.DB
}

var attachmentSelectColumns = []string{
	"id",
	"draft_id",
	"category",
	"position",
	"original_name",
	"mime_type",
	"size_bytes",
	"storage_path",
	"checksum",
	"status",
	"created_at",
	"updated_at",
}

var attachmentInsertColumns = []string{
	"id",
	"draft_id",
	"category",
	"position",
	"original_name",
	"mime_type",
	"size_bytes",
	"storage_path",
	"checksum",
	"status",
}

// Create inserts the attachment row.
func (r *AttachmentRepository) Create(ctx context.Context, rec *repository.AttachmentRecord) (*repository.AttachmentRecord, error) {
	if rec == nil {
		return nil, fmt.Errorf("attachment record is nil")
	}

	query := fmt.Sprintf(`INSERT INTO attachments (%s)
	VALUES (%s)
	RETURNING %s`,
		strings.Join(attachmentInsertColumns, ","),
		strings.Join(placeholders(1, len(attachmentInsertColumns)), ","),
		strings.Join(attachmentSelectColumns, ","),
	)

	var checksum sql.NullString
	if rec.Checksum != nil {
		checksum = sql.NullString{String: *rec.Checksum, Valid: true}
	}

	row := r.db.QueryRowContext(
		ctx,
		query,
		rec.ID,
		rec.DraftID,
		rec.Category,
		rec.Position,
		rec.OriginalName,
		rec.MimeType,
		rec.SizeBytes,
		rec.StoragePath,
		checksum,
		rec.Status,
	)
	return scanAttachmentRecord(row)
}

// GetByID returns the attachment, including soft-deleted rows.
func (r *AttachmentRepository) GetByID(ctx context.Context, id string) (*repository.AttachmentRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM attachments WHERE id = $1`, strings.Join(attachmentSelectColumns, ","))
	rec, err := scanAttachmentRecord(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// ListByDraft returns stored attachments of the draft.
func (r *AttachmentRepository) ListByDraft(ctx context.Context, draftID, category string) ([]repository.AttachmentRecord, error) {
	args := []any{draftID, repository.AttachmentStatusStored}
	where := "draft_id = $1 AND status = $2"
	if category != "" {
		args = append(args, category)
		where += " AND category = $3"
	}

	query := fmt.Sprintf(`SELECT %s FROM attachments WHERE %s ORDER BY category, position, created_at`,
		strings.Join(attachmentSelectColumns, ","), where)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []repository.AttachmentRecord
	for rows.Next() {
		rec, err := scanAttachmentRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CountActive counts pending and stored attachments of one category.
func (r *AttachmentRepository) CountActive(ctx context.Context, draftID, category string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM attachments WHERE draft_id = $1 AND category = $2 AND status IN ($3, $4)`,
		draftID, category, repository.AttachmentStatusPending, repository.AttachmentStatusStored,
	).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// NextPosition returns one past the highest position in use.
func (r *AttachmentRepository) NextPosition(ctx context.Context, draftID, category string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(position), 0) + 1 FROM attachments WHERE draft_id = $1 AND category = $2 AND status IN ($3, $4)`,
		draftID, category, repository.AttachmentStatusPending, repository.AttachmentStatusStored,
	).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// ReplaceContent points an existing row at a new blob. Id, category and
// position are left alone.
func (r *AttachmentRepository) ReplaceContent(ctx context.Context, id string, content repository.ContentFields) (*repository.AttachmentRecord, error) {
	var checksum sql.NullString
	if content.Checksum != nil {
		checksum = sql.NullString{String: *content.Checksum, Valid: true}
	}

	query := fmt.Sprintf(`UPDATE attachments
	SET original_name = $1, mime_type = $2, size_bytes = $3, storage_path = $4, checksum = $5, status = $6, updated_at = $7
	WHERE id = $8 AND status <> $9
	RETURNING %s`, strings.Join(attachmentSelectColumns, ","))

	rec, err := scanAttachmentRecord(r.db.QueryRowContext(ctx, query,
		content.OriginalName,
		content.MimeType,
		content.SizeBytes,
		content.StoragePath,
		checksum,
		repository.AttachmentStatusStored,
		time.Now().UTC(),
		id,
		repository.AttachmentStatusDeleted,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// UpdateStatus sets the attachment status.
func (r *AttachmentRepository) UpdateStatus(ctx context.Context, id string, status repository.AttachmentStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE attachments SET status = $1, updated_at = $2 WHERE id = $3`, status, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Reorder renumbers the given attachments 1..n. Any id that is not a stored
// attachment of the draft and category rolls the whole change back.
func (r *AttachmentRepository) Reorder(ctx context.Context, draftID, category string, ids []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reorder tx: %w", err)
	}

	now := time.Now().UTC()
	for i, id := range ids {
		res, err := tx.ExecContext(ctx,
			`UPDATE attachments SET position = $1, updated_at = $2 WHERE id = $3 AND draft_id = $4 AND category = $5 AND status = $6`,
			i+1, now, id, draftID, category, repository.AttachmentStatusStored,
		)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("reorder attachment %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			tx.Rollback()
			return err
		}
		if n == 0 {
			tx.Rollback()
			return fmt.Errorf("reorder attachment %s: %w", id, repository.ErrNotFound)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reorder: %w", err)
	}
	return nil
}

func scanAttachmentRecord(rs rowScanner) (*repository.AttachmentRecord, error) {
	var (
		rec      repository.AttachmentRecord
		checksum sql.NullString
	)

	if err := rs.Scan(
		&rec.ID,
		&rec.DraftID,
		&rec.Category,
		&rec.Position,
		&rec.OriginalName,
		&rec.MimeType,
		&rec.SizeBytes,
		&rec.StoragePath,
		&checksum,
		&rec.Status,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}

	rec.Checksum = stringPtr(checksum)
	return &rec, nil
}
