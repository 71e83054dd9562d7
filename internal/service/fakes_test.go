package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"wastedraft/internal/record"
	"wastedraft/internal/repository"
	"wastedraft/internal/storage"
)

type memDrafts struct {
	mu   sync.Mutex
	rows map[string]repository.DraftRecord

	updateFields []string
	transitions  int
}

func newMemDrafts() *memDrafts {
	return &memDrafts{rows: map[string]repository.DraftRecord{}}
}

func (m *memDrafts) put(rec repository.DraftRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[rec.ID] = rec
}

func (m *memDrafts) Create(_ context.Context, rec *repository.DraftRecord) (*repository.DraftRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	cp.CreatedAt = time.Now().UTC()
	cp.UpdatedAt = cp.CreatedAt
	m.rows[cp.ID] = cp
	return &cp, nil
}

func (m *memDrafts) GetByID(_ context.Context, id string) (*repository.DraftRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &rec, nil
}

func (m *memDrafts) List(_ context.Context, params repository.ListDraftsParams) ([]repository.DraftRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.DraftRecord
	for _, rec := range m.rows {
		if params.OwnerID != "" && rec.OwnerID != params.OwnerID {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memDrafts) Update(_ context.Context, id string, form record.Form, fields []string, allowed []record.Status) (*repository.DraftRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !statusIn(rec.Status, allowed) {
		return nil, repository.ErrConflict
	}
	m.updateFields = fields
	rec.Form = form
	m.rows[id] = rec
	return &rec, nil
}

func (m *memDrafts) Transition(_ context.Context, id string, from []record.Status, to record.Status, extra repository.TransitionFields) (*repository.DraftRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !statusIn(rec.Status, from) {
		return nil, repository.ErrConflict
	}
	m.transitions++
	rec.Status = to
	at := extra.At
	switch to {
	case record.StatusPending:
		rec.SubmittedAt = &at
		rec.RejectionReason = nil
	default:
		rec.ReviewedAt = &at
		reviewer := extra.ReviewedBy
		rec.ReviewedBy = &reviewer
		if extra.RejectionReason != "" {
			reason := extra.RejectionReason
			rec.RejectionReason = &reason
		}
	}
	m.rows[id] = rec
	return &rec, nil
}

func statusIn(s record.Status, set []record.Status) bool {
	for _, x := range set {
		if x == s {
			return true
		}
	}
	return false
}

type memAttachments struct {
	mu        sync.Mutex
	rows      map[string]repository.AttachmentRecord
	createErr error
}

func newMemAttachments() *memAttachments {
	return &memAttachments{rows: map[string]repository.AttachmentRecord{}}
}

func (m *memAttachments) Create(_ context.Context, rec *repository.AttachmentRecord) (*repository.AttachmentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	cp := *rec
	m.rows[cp.ID] = cp
	return &cp, nil
}

func (m *memAttachments) GetByID(_ context.Context, id string) (*repository.AttachmentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &rec, nil
}

func (m *memAttachments) ListByDraft(_ context.Context, draftID, category string) ([]repository.AttachmentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.AttachmentRecord
	for _, rec := range m.rows {
		if rec.DraftID != draftID || rec.Status != repository.AttachmentStatusStored {
			continue
		}
		if category != "" && rec.Category != category {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Position < out[j].Position
	})
	return out, nil
}

func (m *memAttachments) active(draftID, category string) []repository.AttachmentRecord {
	var out []repository.AttachmentRecord
	for _, rec := range m.rows {
		if rec.DraftID == draftID && rec.Category == category &&
			(rec.Status == repository.AttachmentStatusPending || rec.Status == repository.AttachmentStatusStored) {
			out = append(out, rec)
		}
	}
	return out
}

func (m *memAttachments) CountActive(_ context.Context, draftID, category string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active(draftID, category)), nil
}

func (m *memAttachments) NextPosition(_ context.Context, draftID, category string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	for _, rec := range m.active(draftID, category) {
		if rec.Position > max {
			max = rec.Position
		}
	}
	return max + 1, nil
}

func (m *memAttachments) ReplaceContent(_ context.Context, id string, c repository.ContentFields) (*repository.AttachmentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	if !ok || rec.Status == repository.AttachmentStatusDeleted {
		return nil, repository.ErrNotFound
	}
	rec.OriginalName = c.OriginalName
	rec.MimeType = c.MimeType
	rec.SizeBytes = c.SizeBytes
	rec.StoragePath = c.StoragePath
	rec.Checksum = c.Checksum
	rec.Status = repository.AttachmentStatusStored
	m.rows[id] = rec
	return &rec, nil
}

func (m *memAttachments) UpdateStatus(_ context.Context, id string, status repository.AttachmentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[id]
	if !ok {
		return repository.ErrNotFound
	}
	rec.Status = status
	m.rows[id] = rec
	return nil
}

func (m *memAttachments) Reorder(_ context.Context, draftID, category string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range ids {
		rec, ok := m.rows[id]
		if !ok || rec.DraftID != draftID || rec.Category != category {
			return repository.ErrNotFound
		}
		rec.Position = i + 1
		m.rows[id] = rec
	}
	return nil
}

type memStore struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	failOn  int
	writes  int
	deletes []string
}

func newMemStore() *memStore {
	return &memStore{blobs: map[string][]byte{}}
}

func (s *memStore) Write(_ context.Context, key string, r io.Reader, _ string) (storage.Location, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return storage.Location{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	if s.failOn > 0 && s.writes == s.failOn {
		return storage.Location{}, errors.New("disk full")
	}
	s.blobs[key] = body
	return storage.Location{Path: key}, nil
}

func (s *memStore) Read(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body, ok := s.blobs[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(body)), nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, key)
	if _, ok := s.blobs[key]; !ok {
		return storage.ErrNotFound
	}
	delete(s.blobs, key)
	return nil
}

type presigningStore struct {
	*memStore
}

func (p presigningStore) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://blobs.example.com/%s?ttl=%d", key, int(ttl.Seconds())), nil
}
