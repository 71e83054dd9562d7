package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wastedraft/internal/repository"
	"wastedraft/internal/storage"
)

// AttachmentView is a stored attachment with a URL the client can preview.
type AttachmentView struct {
	repository.AttachmentRecord
	PreviewURL string `json:"preview_url,omitempty"`
}

// UploadInput is one incoming file.
type UploadInput struct {
	OriginalName string
	MimeType     string
	SizeBytes    int64
	Reader       io.Reader
}

// AttachmentOptions tunes limits and preview links.
type AttachmentOptions struct {
	MaxPerCategory int
	MaxSizeBytes   int64
	PublicBaseURL  string
	PresignTTL     time.Duration
	Logger         *zap.Logger
}

// AttachmentService stores files attached to drafts. Blobs live in storage,
// metadata in the repository.
type AttachmentService struct {
	drafts repository.DraftRepository
	repo   repository.AttachmentRepository
	store  storage.Storage
	opts   AttachmentOptions
	log    *zap.Logger
}

func NewAttachmentService(drafts repository.DraftRepository, repo repository.AttachmentRepository, store storage.Storage, opts AttachmentOptions) *AttachmentService {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 15 * time.Minute
	}
	return &AttachmentService{drafts: drafts, repo: repo, store: store, opts: opts, log: log}
}

// List returns the stored attachments of a draft with preview URLs.
func (s *AttachmentService) List(ctx context.Context, draftID string) ([]AttachmentView, error) {
	recs, err := s.repo.ListByDraft(ctx, draftID, "")
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	out := make([]AttachmentView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, s.view(ctx, rec))
	}
	return out, nil
}

// UploadFiles stores a batch of new files under category. The batch is
// all or nothing: on any failure the files already written are removed.
func (s *AttachmentService) UploadFiles(ctx context.Context, actor Actor, draftID, category string, inputs []UploadInput) ([]AttachmentView, error) {
	if s == nil || s.repo == nil || s.store == nil {
		return nil, errors.New("attachment service not initialized")
	}
	category = strings.TrimSpace(category)
	if category == "" {
		return nil, fmt.Errorf("%w: category is required", ErrValidation)
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: no files", ErrValidation)
	}
	for _, in := range inputs {
		if err := s.validateInput(in); err != nil {
			return nil, err
		}
	}
	if _, err := s.editableDraft(ctx, actor, draftID); err != nil {
		return nil, err
	}

	if s.opts.MaxPerCategory > 0 {
		count, err := s.repo.CountActive(ctx, draftID, category)
		if err != nil {
			return nil, fmt.Errorf("count attachments: %w", err)
		}
		if count+len(inputs) > s.opts.MaxPerCategory {
			return nil, fmt.Errorf("%w: %s holds %d of %d", ErrCapacityExceeded, category, count, s.opts.MaxPerCategory)
		}
	}

	position, err := s.repo.NextPosition(ctx, draftID, category)
	if err != nil {
		return nil, fmt.Errorf("next position: %w", err)
	}

	stored := make([]repository.AttachmentRecord, 0, len(inputs))
	for i, in := range inputs {
		rec, err := s.storeOne(ctx, draftID, category, position+i, in)
		observeAttachment("upload", err)
		if err != nil {
			s.rollback(ctx, stored)
			return nil, err
		}
		stored = append(stored, *rec)
	}

	out := make([]AttachmentView, 0, len(stored))
	for _, rec := range stored {
		out = append(out, s.view(ctx, rec))
	}
	s.log.Info("attachments uploaded", zap.String("draft_id", draftID), zap.String("category", category), zap.Int("count", len(out)))
	return out, nil
}

// ReplaceFile swaps the content of an attachment. The id, category and
// position stay; the previous blob is removed once the new one is in place.
func (s *AttachmentService) ReplaceFile(ctx context.Context, actor Actor, draftID, fileID string, in UploadInput) (*AttachmentView, error) {
	if err := s.validateInput(in); err != nil {
		return nil, err
	}
	if _, err := s.editableDraft(ctx, actor, draftID); err != nil {
		return nil, err
	}
	current, err := s.activeAttachment(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if current.DraftID != draftID {
		return nil, fmt.Errorf("%w: attachment %s", ErrNotFound, fileID)
	}

	key := blobKey(draftID, fileID+"-"+uuid.NewString()[:8])
	checksum, err := s.write(ctx, key, in)
	if err != nil {
		observeAttachment("replace", err)
		return nil, err
	}

	updated, err := s.repo.ReplaceContent(ctx, fileID, repository.ContentFields{
		OriginalName: in.OriginalName,
		MimeType:     in.MimeType,
		SizeBytes:    in.SizeBytes,
		StoragePath:  key,
		Checksum:     &checksum,
	})
	observeAttachment("replace", err)
	if err != nil {
		s.removeBlob(ctx, key)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: attachment %s", ErrNotFound, fileID)
		}
		return nil, fmt.Errorf("replace attachment: %w", err)
	}

	s.removeBlob(ctx, current.StoragePath)
	view := s.view(ctx, *updated)
	return &view, nil
}

// DeleteFile soft-deletes the attachment and removes its blob.
func (s *AttachmentService) DeleteFile(ctx context.Context, actor Actor, fileID string) error {
	current, err := s.activeAttachment(ctx, fileID)
	if err != nil {
		return err
	}
	if _, err := s.editableDraft(ctx, actor, current.DraftID); err != nil {
		return err
	}

	err = s.repo.UpdateStatus(ctx, fileID, repository.AttachmentStatusDeleted)
	observeAttachment("delete", err)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: attachment %s", ErrNotFound, fileID)
		}
		return fmt.Errorf("delete attachment: %w", err)
	}
	s.removeBlob(ctx, current.StoragePath)
	s.log.Info("attachment deleted", zap.String("draft_id", current.DraftID), zap.String("file_id", fileID))
	return nil
}

// ReorderFiles sets positions 1..n in the order of ids, which must name
// every stored attachment of the category exactly once.
func (s *AttachmentService) ReorderFiles(ctx context.Context, actor Actor, draftID, category string, ids []string) error {
	if _, err := s.editableDraft(ctx, actor, draftID); err != nil {
		return err
	}
	existing, err := s.repo.ListByDraft(ctx, draftID, category)
	if err != nil {
		return fmt.Errorf("list attachments: %w", err)
	}
	if len(existing) != len(ids) {
		return fmt.Errorf("%w: expected %d ids, got %d", ErrValidation, len(existing), len(ids))
	}
	known := make(map[string]bool, len(existing))
	for _, rec := range existing {
		known[rec.ID] = false
	}
	for _, id := range ids {
		seen, ok := known[id]
		if !ok || seen {
			return fmt.Errorf("%w: unexpected or duplicate id %q", ErrValidation, id)
		}
		known[id] = true
	}

	err = s.repo.Reorder(ctx, draftID, category, ids)
	observeAttachment("reorder", err)
	if err != nil {
		return fmt.Errorf("reorder attachments: %w", err)
	}
	return nil
}

// OpenContent streams the attachment body. Reviewers may read any draft's
// files.
func (s *AttachmentService) OpenContent(ctx context.Context, actor Actor, fileID string) (io.ReadCloser, *repository.AttachmentRecord, error) {
	rec, err := s.activeAttachment(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}
	if !actor.Reviewer {
		if _, err := s.ownedDraft(ctx, actor, rec.DraftID); err != nil {
			return nil, nil, err
		}
	}

	rc, err := s.store.Read(ctx, rec.StoragePath)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: content of %s", ErrNotFound, fileID)
		}
		return nil, nil, fmt.Errorf("read attachment: %w", err)
	}
	return rc, rec, nil
}

func (s *AttachmentService) storeOne(ctx context.Context, draftID, category string, position int, in UploadInput) (*repository.AttachmentRecord, error) {
	id := uuid.NewString()
	key := blobKey(draftID, id)

	rec, err := s.repo.Create(ctx, &repository.AttachmentRecord{
		ID:           id,
		DraftID:      draftID,
		Category:     category,
		Position:     position,
		OriginalName: in.OriginalName,
		MimeType:     in.MimeType,
		SizeBytes:    in.SizeBytes,
		StoragePath:  key,
		Status:       repository.AttachmentStatusPending,
	})
	if err != nil {
		return nil, fmt.Errorf("create attachment: %w", err)
	}

	checksum, err := s.write(ctx, key, in)
	if err != nil {
		if uerr := s.repo.UpdateStatus(ctx, id, repository.AttachmentStatusFailed); uerr != nil {
			s.log.Warn("mark attachment failed", zap.String("file_id", id), zap.Error(uerr))
		}
		return nil, err
	}

	stored, err := s.repo.ReplaceContent(ctx, id, repository.ContentFields{
		OriginalName: rec.OriginalName,
		MimeType:     rec.MimeType,
		SizeBytes:    rec.SizeBytes,
		StoragePath:  key,
		Checksum:     &checksum,
	})
	if err != nil {
		s.removeBlob(ctx, key)
		return nil, fmt.Errorf("finalize attachment: %w", err)
	}
	return stored, nil
}

func (s *AttachmentService) write(ctx context.Context, key string, in UploadInput) (string, error) {
	hash := sha256.New()
	counter := &countingReader{r: io.TeeReader(in.Reader, hash)}
	if _, err := s.store.Write(ctx, key, counter, in.MimeType); err != nil {
		return "", fmt.Errorf("write storage: %w", err)
	}
	attachmentBytes.Add(float64(counter.n))
	return hex.EncodeToString(hash.Sum(nil)), nil
}

func (s *AttachmentService) rollback(ctx context.Context, stored []repository.AttachmentRecord) {
	for _, rec := range stored {
		if err := s.repo.UpdateStatus(ctx, rec.ID, repository.AttachmentStatusDeleted); err != nil {
			s.log.Warn("rollback attachment", zap.String("file_id", rec.ID), zap.Error(err))
		}
		s.removeBlob(ctx, rec.StoragePath)
	}
}

func (s *AttachmentService) removeBlob(ctx context.Context, key string) {
	if err := s.store.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.log.Warn("remove blob", zap.String("key", key), zap.Error(err))
	}
}

func (s *AttachmentService) validateInput(in UploadInput) error {
	switch {
	case strings.TrimSpace(in.OriginalName) == "":
		return fmt.Errorf("%w: file name is required", ErrValidation)
	case strings.TrimSpace(in.MimeType) == "":
		return fmt.Errorf("%w: %s: mime type is required", ErrValidation, in.OriginalName)
	case in.SizeBytes <= 0:
		return fmt.Errorf("%w: %s: file is empty", ErrValidation, in.OriginalName)
	case s.opts.MaxSizeBytes > 0 && in.SizeBytes > s.opts.MaxSizeBytes:
		return fmt.Errorf("%w: %s: exceeds %d bytes", ErrValidation, in.OriginalName, s.opts.MaxSizeBytes)
	case in.Reader == nil:
		return fmt.Errorf("%w: %s: no content", ErrValidation, in.OriginalName)
	default:
		return nil
	}
}

func (s *AttachmentService) activeAttachment(ctx context.Context, fileID string) (*repository.AttachmentRecord, error) {
	if _, err := uuid.Parse(fileID); err != nil {
		return nil, fmt.Errorf("%w: attachment %s", ErrNotFound, fileID)
	}
	rec, err := s.repo.GetByID(ctx, fileID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: attachment %s", ErrNotFound, fileID)
		}
		return nil, err
	}
	if rec.Status != repository.AttachmentStatusStored {
		return nil, fmt.Errorf("%w: attachment %s", ErrNotFound, fileID)
	}
	return rec, nil
}

func (s *AttachmentService) ownedDraft(ctx context.Context, actor Actor, draftID string) (*repository.DraftRecord, error) {
	if _, err := uuid.Parse(draftID); err != nil {
		return nil, fmt.Errorf("%w: draft %s", ErrNotFound, draftID)
	}
	rec, err := s.drafts.GetByID(ctx, draftID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: draft %s", ErrNotFound, draftID)
		}
		return nil, err
	}
	if rec.OwnerID != actor.ID {
		return nil, fmt.Errorf("%w: draft %s", ErrNotFound, draftID)
	}
	return rec, nil
}

func (s *AttachmentService) editableDraft(ctx context.Context, actor Actor, draftID string) (*repository.DraftRecord, error) {
	rec, err := s.ownedDraft(ctx, actor, draftID)
	if err != nil {
		return nil, err
	}
	if !rec.Status.Editable() {
		return nil, fmt.Errorf("%w: status is %s", ErrNotEditable, rec.Status)
	}
	return rec, nil
}

// view attaches a preview URL: presigned when the store supports it, the
// API content route otherwise.
func (s *AttachmentService) view(ctx context.Context, rec repository.AttachmentRecord) AttachmentView {
	v := AttachmentView{AttachmentRecord: rec}
	if p, ok := s.store.(storage.Presigner); ok {
		u, err := p.PresignGet(ctx, rec.StoragePath, s.opts.PresignTTL)
		if err == nil {
			v.PreviewURL = u
			return v
		}
		s.log.Warn("presign preview", zap.String("file_id", rec.ID), zap.Error(err))
	}
	if s.opts.PublicBaseURL != "" {
		if u, err := url.JoinPath(s.opts.PublicBaseURL, "attachments", rec.ID, "content"); err == nil {
			v.PreviewURL = u
		}
	}
	return v
}

func blobKey(draftID, name string) string {
	return "drafts/" + draftID + "/" + name
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
