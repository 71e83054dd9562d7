package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"

	"wastedraft/internal/record"
	"wastedraft/internal/repository"
)

type attachmentFixture struct {
	drafts *memDrafts
	atts   *memAttachments
	store  *memStore
	svc    *AttachmentService
	draft  string
}

func newAttachmentFixture(t *testing.T, status record.Status, maxPerCategory int) *attachmentFixture {
	t.Helper()
	f := &attachmentFixture{drafts: newMemDrafts(), atts: newMemAttachments(), store: newMemStore()}
	f.svc = NewAttachmentService(f.drafts, f.atts, f.store, AttachmentOptions{
		MaxPerCategory: maxPerCategory,
		MaxSizeBytes:   1 << 10,
		PublicBaseURL:  "http://api.local",
	})
	f.draft = seedDraft(f.drafts, status, record.Form{})
	return f
}

func upload(name, body string) UploadInput {
	return UploadInput{OriginalName: name, MimeType: "image/jpeg", SizeBytes: int64(len(body)), Reader: strings.NewReader(body)}
}

func TestAttachmentService_UploadFiles(t *testing.T) {
	f := newAttachmentFixture(t, record.StatusDraft, 5)
	ctx := context.Background()

	views, err := f.svc.UploadFiles(ctx, owner, f.draft, "weighing", []UploadInput{upload("a.jpg", "aaa"), upload("b.jpg", "bbbb")})
	if err != nil {
		t.Fatalf("UploadFiles returned error: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 views, got %d", len(views))
	}
	if views[0].Position != 1 || views[1].Position != 2 {
		t.Fatalf("unexpected positions %d %d", views[0].Position, views[1].Position)
	}
	if views[0].Status != repository.AttachmentStatusStored || views[0].Checksum == nil {
		t.Fatalf("expected stored with checksum, got %+v", views[0].AttachmentRecord)
	}
	if views[1].PreviewURL != "http://api.local/attachments/"+views[1].ID+"/content" {
		t.Fatalf("unexpected preview url %q", views[1].PreviewURL)
	}
	if got := string(f.store.blobs[views[1].StoragePath]); got != "bbbb" {
		t.Fatalf("unexpected blob %q", got)
	}

	more, err := f.svc.UploadFiles(ctx, owner, f.draft, "weighing", []UploadInput{upload("c.jpg", "c")})
	if err != nil {
		t.Fatalf("second UploadFiles returned error: %v", err)
	}
	if more[0].Position != 3 {
		t.Fatalf("expected position 3, got %d", more[0].Position)
	}
}

func TestAttachmentService_UploadFilesEnforcesCapacity(t *testing.T) {
	f := newAttachmentFixture(t, record.StatusDraft, 2)
	ctx := context.Background()

	if _, err := f.svc.UploadFiles(ctx, owner, f.draft, "vehicle", []UploadInput{upload("a.jpg", "a")}); err != nil {
		t.Fatalf("UploadFiles returned error: %v", err)
	}
	_, err := f.svc.UploadFiles(ctx, owner, f.draft, "vehicle", []UploadInput{upload("b.jpg", "b"), upload("c.jpg", "c")})
	if !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	if _, err := f.svc.UploadFiles(ctx, owner, f.draft, "weighing", []UploadInput{upload("b.jpg", "b"), upload("c.jpg", "c")}); err != nil {
		t.Fatalf("capacity is per category: %v", err)
	}
}

func TestAttachmentService_UploadFilesIsAllOrNothing(t *testing.T) {
	f := newAttachmentFixture(t, record.StatusDraft, 5)
	f.store.failOn = 2

	_, err := f.svc.UploadFiles(context.Background(), owner, f.draft, "weighing", []UploadInput{upload("a.jpg", "a"), upload("b.jpg", "b")})
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(f.store.blobs) != 0 {
		t.Fatalf("expected written blobs to be rolled back, got %d", len(f.store.blobs))
	}
	list, _ := f.atts.ListByDraft(context.Background(), f.draft, "")
	if len(list) != 0 {
		t.Fatalf("expected no stored attachments, got %d", len(list))
	}
	statuses := map[repository.AttachmentStatus]int{}
	for _, rec := range f.atts.rows {
		statuses[rec.Status]++
	}
	if statuses[repository.AttachmentStatusDeleted] != 1 || statuses[repository.AttachmentStatusFailed] != 1 {
		t.Fatalf("unexpected statuses %v", statuses)
	}
}

func TestAttachmentService_UploadFilesValidation(t *testing.T) {
	f := newAttachmentFixture(t, record.StatusDraft, 5)
	ctx := context.Background()

	cases := map[string][]UploadInput{
		"empty batch": nil,
		"empty file":  {upload("a.jpg", "")},
		"too large":   {upload("a.jpg", strings.Repeat("x", 2<<10))},
		"no mime":     {{OriginalName: "a", SizeBytes: 1, Reader: strings.NewReader("a")}},
	}
	for name, inputs := range cases {
		if _, err := f.svc.UploadFiles(ctx, owner, f.draft, "weighing", inputs); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected ErrValidation, got %v", name, err)
		}
	}
	if _, err := f.svc.UploadFiles(ctx, owner, f.draft, " ", []UploadInput{upload("a.jpg", "a")}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation without category, got %v", err)
	}
}

func TestAttachmentService_UploadRequiresEditableOwnedDraft(t *testing.T) {
	f := newAttachmentFixture(t, record.StatusPending, 5)
	ctx := context.Background()

	if _, err := f.svc.UploadFiles(ctx, owner, f.draft, "weighing", []UploadInput{upload("a.jpg", "a")}); !errors.Is(err, ErrNotEditable) {
		t.Fatalf("expected ErrNotEditable, got %v", err)
	}
	if _, err := f.svc.UploadFiles(ctx, stranger, f.draft, "weighing", []UploadInput{upload("a.jpg", "a")}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAttachmentService_ReplaceFileKeepsSlot(t *testing.T) {
	f := newAttachmentFixture(t, record.StatusDraft, 5)
	ctx := context.Background()

	views, err := f.svc.UploadFiles(ctx, owner, f.draft, "weighing", []UploadInput{upload("a.jpg", "a"), upload("b.jpg", "b")})
	if err != nil {
		t.Fatalf("UploadFiles returned error: %v", err)
	}
	old := views[1]

	replaced, err := f.svc.ReplaceFile(ctx, owner, f.draft, old.ID, upload("b2.jpg", "b2"))
	if err != nil {
		t.Fatalf("ReplaceFile returned error: %v", err)
	}
	if replaced.ID != old.ID || replaced.Category != "weighing" || replaced.Position != 2 {
		t.Fatalf("slot not kept: %+v", replaced.AttachmentRecord)
	}
	if replaced.OriginalName != "b2.jpg" || replaced.StoragePath == old.StoragePath {
		t.Fatalf("content not replaced: %+v", replaced.AttachmentRecord)
	}
	if _, ok := f.store.blobs[old.StoragePath]; ok {
		t.Fatalf("expected old blob removed")
	}
	if string(f.store.blobs[replaced.StoragePath]) != "b2" {
		t.Fatalf("expected new blob written")
	}

	if _, err := f.svc.ReplaceFile(ctx, owner, f.draft, uuid.NewString(), upload("x.jpg", "x")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown file, got %v", err)
	}
}

func TestAttachmentService_DeleteFile(t *testing.T) {
	f := newAttachmentFixture(t, record.StatusDraft, 5)
	ctx := context.Background()

	views, err := f.svc.UploadFiles(ctx, owner, f.draft, "weighing", []UploadInput{upload("a.jpg", "a")})
	if err != nil {
		t.Fatalf("UploadFiles returned error: %v", err)
	}
	id := views[0].ID

	if err := f.svc.DeleteFile(ctx, stranger, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for stranger, got %v", err)
	}
	if err := f.svc.DeleteFile(ctx, owner, id); err != nil {
		t.Fatalf("DeleteFile returned error: %v", err)
	}
	if f.atts.rows[id].Status != repository.AttachmentStatusDeleted {
		t.Fatalf("expected soft delete")
	}
	if len(f.store.blobs) != 0 {
		t.Fatalf("expected blob removed")
	}
	if err := f.svc.DeleteFile(ctx, owner, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	n, _ := f.atts.CountActive(ctx, f.draft, "weighing")
	if n != 0 {
		t.Fatalf("deleted files must not count against capacity, got %d", n)
	}
}

func TestAttachmentService_ReorderFiles(t *testing.T) {
	f := newAttachmentFixture(t, record.StatusDraft, 5)
	ctx := context.Background()

	views, err := f.svc.UploadFiles(ctx, owner, f.draft, "weighing", []UploadInput{upload("a.jpg", "a"), upload("b.jpg", "b"), upload("c.jpg", "c")})
	if err != nil {
		t.Fatalf("UploadFiles returned error: %v", err)
	}
	a, b, c := views[0].ID, views[1].ID, views[2].ID

	if err := f.svc.ReorderFiles(ctx, owner, f.draft, "weighing", []string{c, a}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for partial order, got %v", err)
	}
	if err := f.svc.ReorderFiles(ctx, owner, f.draft, "weighing", []string{c, a, a}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for duplicate ids, got %v", err)
	}
	if err := f.svc.ReorderFiles(ctx, owner, f.draft, "weighing", []string{c, a, b}); err != nil {
		t.Fatalf("ReorderFiles returned error: %v", err)
	}

	list, _ := f.atts.ListByDraft(ctx, f.draft, "weighing")
	if list[0].ID != c || list[1].ID != a || list[2].ID != b {
		t.Fatalf("unexpected order %s %s %s", list[0].ID, list[1].ID, list[2].ID)
	}
}

func TestAttachmentService_OpenContent(t *testing.T) {
	f := newAttachmentFixture(t, record.StatusDraft, 5)
	ctx := context.Background()

	views, err := f.svc.UploadFiles(ctx, owner, f.draft, "weighing", []UploadInput{upload("a.jpg", "payload")})
	if err != nil {
		t.Fatalf("UploadFiles returned error: %v", err)
	}

	rc, rec, err := f.svc.OpenContent(ctx, reviewer, views[0].ID)
	if err != nil {
		t.Fatalf("OpenContent returned error: %v", err)
	}
	body, _ := io.ReadAll(rc)
	rc.Close()
	if !bytes.Equal(body, []byte("payload")) || rec.MimeType != "image/jpeg" {
		t.Fatalf("unexpected content %q (%s)", body, rec.MimeType)
	}

	if _, _, err := f.svc.OpenContent(ctx, stranger, views[0].ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for stranger, got %v", err)
	}
}

func TestAttachmentService_PresignedPreview(t *testing.T) {
	drafts, atts := newMemDrafts(), newMemAttachments()
	svc := NewAttachmentService(drafts, atts, presigningStore{newMemStore()}, AttachmentOptions{PublicBaseURL: "http://api.local"})
	draft := seedDraft(drafts, record.StatusDraft, record.Form{})

	views, err := svc.UploadFiles(context.Background(), owner, draft, "weighing", []UploadInput{upload("a.jpg", "a")})
	if err != nil {
		t.Fatalf("UploadFiles returned error: %v", err)
	}
	want := "https://blobs.example.com/" + views[0].StoragePath + "?ttl=900"
	if views[0].PreviewURL != want {
		t.Fatalf("expected %s, got %s", want, views[0].PreviewURL)
	}
}
