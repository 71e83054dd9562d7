package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"wastedraft/internal/record"
	"wastedraft/internal/repository"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

var testTime = time.Date(2024, 5, 2, 8, 30, 0, 0, time.UTC)

func draftRow(id string, status record.Status, plate string) []driver.Value {
	collection := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	return []driver.Value{
		id, "owner-1", string(status),
		"wo-1", nil, "household",
		collection, nil,
		120.5, nil,
		"wh-1", "Warehouse 1",
		nullable(plate), nil, nil, nil, nil,
		10.77, nil,
		nil, nil,
		testTime, testTime, nil, nil,
	}
}

func nullable(s string) driver.Value {
	if s == "" {
		return nil
	}
	return s
}

func TestDraftSelectColumnsMatchScan(t *testing.T) {
	if got := len(draftSelectColumns); got != len(draftRow("x", record.StatusDraft, "")) {
		t.Fatalf("select has %d columns, scan row has %d", got, len(draftRow("x", record.StatusDraft, "")))
	}
}

func TestDraftRepository_GetByID(t *testing.T) {
	db, mock := newMock(t)
	repo := NewDraftRepository(db)

	mock.ExpectQuery(`SELECT .* FROM drafts WHERE id = \$1`).
		WithArgs("d-1").
		WillReturnRows(sqlmock.NewRows(draftSelectColumns).AddRow(draftRow("d-1", record.StatusDraft, "51C-123.45")...))

	rec, err := repo.GetByID(context.Background(), "d-1")
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if rec.Status != record.StatusDraft || rec.VehiclePlate != "51C-123.45" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.CollectionDate != "2024-05-01" || rec.StorageDate != "" {
		t.Fatalf("unexpected dates %q %q", rec.CollectionDate, rec.StorageDate)
	}
	if rec.CollectedVolumeKg == nil || *rec.CollectedVolumeKg != 120.5 || rec.RecycledVolumeKg != nil {
		t.Fatalf("unexpected volumes %v %v", rec.CollectedVolumeKg, rec.RecycledVolumeKg)
	}
	if rec.StorageLocation == nil || rec.StorageLocation.PlaceID != "wh-1" || rec.StorageLocation.Label != "Warehouse 1" {
		t.Fatalf("unexpected location %+v", rec.StorageLocation)
	}
	if rec.SubmittedAt != nil || rec.RejectionReason != nil {
		t.Fatalf("expected review fields unset")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDraftRepository_GetByID_NotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewDraftRepository(db)

	mock.ExpectQuery(`SELECT .* FROM drafts WHERE id = \$1`).WithArgs("missing").WillReturnError(sql.ErrNoRows)

	if _, err := repo.GetByID(context.Background(), "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDraftRepository_Create(t *testing.T) {
	db, mock := newMock(t)
	repo := NewDraftRepository(db)

	vol := 120.5
	rec := &repository.DraftRecord{
		ID:      "d-1",
		OwnerID: "owner-1",
		Status:  record.StatusDraft,
		Form:    record.Form{WasteOwnerID: "wo-1", CollectedVolumeKg: &vol},
	}

	mock.ExpectQuery(`INSERT INTO drafts \(id,owner_id,status,waste_owner_id,.*\)\s+VALUES \(\$1,.*\$19\)\s+RETURNING`).
		WillReturnRows(sqlmock.NewRows(draftSelectColumns).AddRow(draftRow("d-1", record.StatusDraft, "")...))

	got, err := repo.Create(context.Background(), rec)
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if got.ID != "d-1" || !got.CreatedAt.Equal(testTime) {
		t.Fatalf("unexpected record %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDraftRepository_List(t *testing.T) {
	db, mock := newMock(t)
	repo := NewDraftRepository(db)

	mock.ExpectQuery(`SELECT .* FROM drafts WHERE owner_id = \$1 AND status IN \(\$2,\$3\) ORDER BY updated_at DESC LIMIT \$4 OFFSET \$5`).
		WithArgs("owner-1", "draft", "rejected", 10, 20).
		WillReturnRows(sqlmock.NewRows(draftSelectColumns).
			AddRow(draftRow("d-1", record.StatusDraft, "")...).
			AddRow(draftRow("d-2", record.StatusRejected, "")...))

	list, err := repo.List(context.Background(), repository.ListDraftsParams{
		OwnerID:  "owner-1",
		Statuses: []record.Status{record.StatusDraft, record.StatusRejected},
		Limit:    10,
		Offset:   20,
	})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(list) != 2 || list[1].Status != record.StatusRejected {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestDraftRepository_Update(t *testing.T) {
	db, mock := newMock(t)
	repo := NewDraftRepository(db)

	form := record.Form{VehiclePlate: "51C-999.99"}
	mock.ExpectQuery(`UPDATE drafts SET storage_location_id = \$1, storage_location_label = \$2, vehicle_plate = \$3, updated_at = \$4 WHERE id = \$5 AND status IN \(\$6,\$7\) RETURNING`).
		WithArgs(nil, nil, "51C-999.99", sqlmock.AnyArg(), "d-1", "draft", "rejected").
		WillReturnRows(sqlmock.NewRows(draftSelectColumns).AddRow(draftRow("d-1", record.StatusDraft, "51C-999.99")...))

	rec, err := repo.Update(context.Background(), "d-1", form,
		[]string{record.FieldVehiclePlate, record.FieldStorageLocation},
		[]record.Status{record.StatusDraft, record.StatusRejected})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if rec.VehiclePlate != "51C-999.99" {
		t.Fatalf("unexpected plate %q", rec.VehiclePlate)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDraftRepository_TransitionConflict(t *testing.T) {
	db, mock := newMock(t)
	repo := NewDraftRepository(db)

	mock.ExpectQuery(`UPDATE drafts SET status = \$1, updated_at = \$2, submitted_at = \$2, rejection_reason = NULL, reviewed_by = NULL, reviewed_at = NULL WHERE id = \$3 AND status IN \(\$4,\$5\)`).
		WithArgs("pending", sqlmock.AnyArg(), "d-1", "draft", "rejected").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT .* FROM drafts WHERE id = \$1`).
		WithArgs("d-1").
		WillReturnRows(sqlmock.NewRows(draftSelectColumns).AddRow(draftRow("d-1", record.StatusApproved, "")...))

	_, err := repo.Transition(context.Background(), "d-1", record.Sources(record.StatusPending), record.StatusPending, repository.TransitionFields{})
	if !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDraftRepository_TransitionMissing(t *testing.T) {
	db, mock := newMock(t)
	repo := NewDraftRepository(db)

	mock.ExpectQuery(`UPDATE drafts SET`).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT .* FROM drafts WHERE id = \$1`).WillReturnError(sql.ErrNoRows)

	_, err := repo.Transition(context.Background(), "gone", []record.Status{record.StatusPending}, record.StatusApproved, repository.TransitionFields{ReviewedBy: "rev"})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDraftRepository_TransitionReject(t *testing.T) {
	db, mock := newMock(t)
	repo := NewDraftRepository(db)

	row := draftRow("d-1", record.StatusRejected, "")
	row[19] = "blurry slip"
	row[20] = "rev-1"
	mock.ExpectQuery(`UPDATE drafts SET status = \$1, updated_at = \$2, reviewed_by = \$3, reviewed_at = \$2, rejection_reason = \$4 WHERE id = \$5 AND status IN \(\$6\)`).
		WithArgs("rejected", testTime, "rev-1", "blurry slip", "d-1", "pending").
		WillReturnRows(sqlmock.NewRows(draftSelectColumns).AddRow(row...))

	rec, err := repo.Transition(context.Background(), "d-1", []record.Status{record.StatusPending}, record.StatusRejected,
		repository.TransitionFields{At: testTime, ReviewedBy: "rev-1", RejectionReason: "blurry slip"})
	if err != nil {
		t.Fatalf("Transition returned error: %v", err)
	}
	if rec.RejectionReason == nil || *rec.RejectionReason != "blurry slip" {
		t.Fatalf("unexpected reason %v", rec.RejectionReason)
	}
	if rec.ReviewedBy == nil || *rec.ReviewedBy != "rev-1" {
		t.Fatalf("unexpected reviewer %v", rec.ReviewedBy)
	}
}
