package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"wastedraft/internal/record"
	"wastedraft/internal/repository"
)

// NewDraftRepository returns the Postgres implementation backed by db.
func NewDraftRepository(db *sql.DB) *DraftRepository {
	return &DraftRepository{db: db}
}

// DraftRepository implements repository.DraftRepository.
type DraftRepository struct {
	db *sql.DB
}

var formColumns, _ = record.Columns(record.Form{})

var draftSelectColumns = concat(
	[]string{"id", "owner_id", "status"},
	formColumns,
	[]string{"rejection_reason", "reviewed_by", "created_at", "updated_at", "submitted_at", "reviewed_at"},
)

var draftInsertColumns = concat([]string{"id", "owner_id", "status"}, formColumns)

// Create inserts the draft and returns it with database-generated fields.
func (r *DraftRepository) Create(ctx context.Context, rec *repository.DraftRecord) (*repository.DraftRecord, error) {
	if rec == nil {
		return nil, fmt.Errorf("draft record is nil")
	}

	_, formValues := record.Columns(rec.Form)
	args := append([]any{rec.ID, rec.OwnerID, rec.Status}, formValues...)

	query := fmt.Sprintf(`INSERT INTO drafts (%s)
	VALUES (%s)
	RETURNING %s`,
		strings.Join(draftInsertColumns, ","),
		strings.Join(placeholders(1, len(draftInsertColumns)), ","),
		strings.Join(draftSelectColumns, ","),
	)

	return scanDraftRecord(r.db.QueryRowContext(ctx, query, args...))
}

// GetByID looks a draft up by primary key.
func (r *DraftRepository) GetByID(ctx context.Context, id string) (*repository.DraftRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM drafts WHERE id = $1`, strings.Join(draftSelectColumns, ","))
	rec, err := scanDraftRecord(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// List filters by owner and status, newest first.
func (r *DraftRepository) List(ctx context.Context, params repository.ListDraftsParams) ([]repository.DraftRecord, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 50
	}

	var (
		args       []any
		conditions []string
	)
	if params.OwnerID != "" {
		args = append(args, params.OwnerID)
		conditions = append(conditions, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if len(params.Statuses) > 0 {
		in, inArgs := statusIn(len(args)+1, params.Statuses)
		args = append(args, inArgs...)
		conditions = append(conditions, "status IN ("+in+")")
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	args = append(args, limit)
	tail := fmt.Sprintf("ORDER BY updated_at DESC LIMIT $%d", len(args))
	if params.Offset > 0 {
		args = append(args, params.Offset)
		tail += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	query := fmt.Sprintf(`SELECT %s FROM drafts %s %s`, strings.Join(draftSelectColumns, ","), whereClause, tail)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []repository.DraftRecord
	for rows.Next() {
		rec, err := scanDraftRecord(rows)
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

// Update writes the columns behind fields while the draft status is one of
// allowed.
func (r *DraftRepository) Update(ctx context.Context, id string, form record.Form, fields []string, allowed []record.Status) (*repository.DraftRecord, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}

	cols, vals := record.Columns(form, fields...)
	sets := make([]string, 0, len(cols)+1)
	args := make([]any, 0, len(cols)+2+len(allowed))
	for i, col := range cols {
		args = append(args, vals[i])
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	args = append(args, time.Now().UTC())
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))

	return r.conditionalUpdate(ctx, id, sets, args, allowed)
}

// Transition changes the status and stamps the submission or review fields.
func (r *DraftRepository) Transition(ctx context.Context, id string, from []record.Status, to record.Status, extra repository.TransitionFields) (*repository.DraftRecord, error) {
	at := extra.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	args := []any{to, at}
	sets := []string{"status = $1", "updated_at = $2"}
	switch to {
	case record.StatusPending:
		sets = append(sets, "submitted_at = $2", "rejection_reason = NULL", "reviewed_by = NULL", "reviewed_at = NULL")
	case record.StatusApproved, record.StatusRejected:
		args = append(args, nullString(extra.ReviewedBy))
		sets = append(sets, fmt.Sprintf("reviewed_by = $%d", len(args)), "reviewed_at = $2")
		args = append(args, nullString(extra.RejectionReason))
		sets = append(sets, fmt.Sprintf("rejection_reason = $%d", len(args)))
	}

	return r.conditionalUpdate(ctx, id, sets, args, from)
}

func (r *DraftRepository) conditionalUpdate(ctx context.Context, id string, sets []string, args []any, allowed []record.Status) (*repository.DraftRecord, error) {
	args = append(args, id)
	where := fmt.Sprintf("id = $%d", len(args))
	if len(allowed) > 0 {
		in, inArgs := statusIn(len(args)+1, allowed)
		args = append(args, inArgs...)
		where += " AND status IN (" + in + ")"
	}

	query := fmt.Sprintf(`UPDATE drafts SET %s WHERE %s RETURNING %s`,
		strings.Join(sets, ", "), where, strings.Join(draftSelectColumns, ","))

	rec, err := scanDraftRecord(r.db.QueryRowContext(ctx, query, args...))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	// no row matched: either the draft is gone or its status did not allow the write
	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, repository.ErrConflict
}

func scanDraftRecord(rs rowScanner) (*repository.DraftRecord, error) {
	var (
		rec                         repository.DraftRecord
		wasteOwner, contract, src   sql.NullString
		collectionDate, storageDate sql.NullTime
		collected, recycled         sql.NullFloat64
		locationID, locationLabel   sql.NullString
		plate, address              sql.NullString
		ward, district, province    sql.NullString
		lat, lng                    sql.NullFloat64
		reason, reviewer            sql.NullString
		submittedAt, reviewedAt     sql.NullTime
	)

	if err := rs.Scan(
		&rec.ID,
		&rec.OwnerID,
		&rec.Status,
		&wasteOwner,
		&contract,
		&src,
		&collectionDate,
		&storageDate,
		&collected,
		&recycled,
		&locationID,
		&locationLabel,
		&plate,
		&address,
		&ward,
		&district,
		&province,
		&lat,
		&lng,
		&reason,
		&reviewer,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&submittedAt,
		&reviewedAt,
	); err != nil {
		return nil, err
	}

	rec.WasteOwnerID = wasteOwner.String
	rec.ContractType = contract.String
	rec.WasteSource = src.String
	rec.CollectionDate = formatDate(collectionDate)
	rec.StorageDate = formatDate(storageDate)
	rec.CollectedVolumeKg = floatPtr(collected)
	rec.RecycledVolumeKg = floatPtr(recycled)
	if locationID.Valid && locationID.String != "" {
		rec.StorageLocation = &record.Location{PlaceID: locationID.String, Label: locationLabel.String}
	}
	rec.VehiclePlate = plate.String
	rec.AddressLine = address.String
	rec.Ward = ward.String
	rec.District = district.String
	rec.Province = province.String
	rec.Latitude = floatPtr(lat)
	rec.Longitude = floatPtr(lng)
	rec.RejectionReason = stringPtr(reason)
	rec.ReviewedBy = stringPtr(reviewer)
	rec.SubmittedAt = timePtr(submittedAt)
	rec.ReviewedAt = timePtr(reviewedAt)

	return &rec, nil
}
