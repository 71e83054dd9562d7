package staging

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrFileNotFound = errors.New("staging: file not found")
	// ErrFileBusy is returned while an upload or delete for the file is in flight.
	ErrFileBusy     = errors.New("staging: file operation in progress")
	ErrInvalidIndex = errors.New("staging: index out of range")
	ErrNoDeleter    = errors.New("staging: no remote deleter configured")
)

// Deleter removes an uploaded attachment from the server.
type Deleter interface {
	DeleteFile(ctx context.Context, fileID string) error
}

// Config describes one attachment group. Capacity <= 0 means unlimited;
// a capacity of 1 models a single-slot photo.
type Config struct {
	Category   string
	Capacity   int
	Validators []Validator
}

type Option func(*Manager)

func WithDeleter(d Deleter) Option {
	return func(m *Manager) { m.deleter = d }
}

func WithPreviews(p Previews) Option {
	return func(m *Manager) { m.previews = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// AddResult reports what AddFiles did with each input file.
type AddResult struct {
	Added    []string
	Dropped  int
	Rejected []Rejection
}

// Manager owns the ManagedFile collection of one attachment group. It is
// safe for concurrent use; remote calls run outside the lock and the
// uploading/deleting statuses keep operations on one file exclusive.
type Manager struct {
	cfg      Config
	deleter  Deleter
	previews Previews
	log      *zap.Logger

	mu           sync.Mutex
	files        []ManagedFile
	dirty        bool
	orderChanged bool
	orphans      []string
}

func NewManager(cfg Config, opts ...Option) *Manager {
	m := &Manager{cfg: cfg, log: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	if m.previews == nil {
		m.previews = NewMemoryPreviews()
	}
	m.log = m.log.With(zap.String("category", cfg.Category))
	return m
}

func (m *Manager) Category() string { return m.cfg.Category }
func (m *Manager) Capacity() int    { return m.cfg.Capacity }

// AddFiles stages new files. The capacity check runs first and truncates the
// input; validation then runs on what is left. Accepted files are staged even
// when an error is returned: a *CapacityError, a *ValidationError, or both
// joined.
func (m *Manager) AddFiles(files []LocalFile) (AddResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result AddResult
	accepted := files
	if m.cfg.Capacity > 0 {
		remaining := m.cfg.Capacity - len(m.files)
		if remaining < 0 {
			remaining = 0
		}
		if len(files) > remaining {
			accepted = files[:remaining]
			result.Dropped = len(files) - remaining
		}
	}

	for _, f := range accepted {
		if reason := m.validate(f); reason != "" {
			result.Rejected = append(result.Rejected, Rejection{Name: f.Name, Reason: reason})
			continue
		}
		local := f
		mf := ManagedFile{
			ID:          "tmp-" + uuid.NewString(),
			Local:       &local,
			Status:      StatusPending,
			Position:    len(m.files) + 1,
			Preview:     m.previews.Create(f),
			ownsPreview: true,
		}
		m.files = append(m.files, mf)
		result.Added = append(result.Added, mf.ID)
	}
	if len(result.Added) > 0 {
		m.dirty = true
	}

	var errs []error
	if result.Dropped > 0 {
		errs = append(errs, &CapacityError{Capacity: m.cfg.Capacity, Dropped: result.Dropped})
		m.log.Warn("attachment limit reached", zap.Int("capacity", m.cfg.Capacity), zap.Int("dropped", result.Dropped))
	}
	if len(result.Rejected) > 0 {
		errs = append(errs, &ValidationError{Rejected: result.Rejected})
	}
	return result, errors.Join(errs...)
}

// RemoveFile drops a file. Pending and failed files go immediately without
// any remote call. Uploaded files are deleted remotely first; if that fails
// the file is back to uploaded and the error is returned.
func (m *Manager) RemoveFile(ctx context.Context, id string) error {
	m.mu.Lock()
	idx := m.indexLocked(id)
	if idx < 0 {
		m.mu.Unlock()
		return ErrFileNotFound
	}
	cur := m.files[idx]

	switch cur.Status {
	case StatusPending, StatusError:
		if cur.IsReplacement && cur.ReplacesID != "" {
			// the superseded remote file still exists; delete it on the next save
			m.orphans = append(m.orphans, cur.ReplacesID)
		}
		m.removeLocked(idx)
		m.dirty = true
		m.mu.Unlock()
		return nil
	case StatusUploaded:
	default:
		m.mu.Unlock()
		return ErrFileBusy
	}

	if m.deleter == nil {
		m.mu.Unlock()
		return ErrNoDeleter
	}
	next, err := transition(cur, event{kind: evStartDelete})
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.files[idx] = next
	remoteID := cur.Remote.ID
	m.mu.Unlock()

	delErr := m.deleter.DeleteFile(ctx, remoteID)

	m.mu.Lock()
	defer m.mu.Unlock()
	idx = m.indexLocked(id)
	if idx < 0 {
		return ErrFileNotFound
	}
	if delErr != nil {
		reverted, err := transition(m.files[idx], event{kind: evDeleteFailed, err: delErr})
		if err != nil {
			return err
		}
		m.files[idx] = reverted
		m.log.Warn("remote delete failed", zap.String("file_id", remoteID), zap.Error(delErr))
		return &FileError{FileID: remoteID, Name: cur.Name(), Op: "delete", Err: delErr}
	}
	m.removeLocked(idx)
	m.dirty = true
	return nil
}

// ReplaceFile stages newFile in place of the file with the given id. The
// superseded remote file is not touched here; the orchestrator resolves the
// replacement with a dedicated replace call so slot metadata is kept.
func (m *Manager) ReplaceFile(id string, newFile LocalFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexLocked(id)
	if idx < 0 {
		return ErrFileNotFound
	}
	cur := m.files[idx]
	if cur.Status == StatusUploading || cur.Status == StatusDeleting {
		return ErrFileBusy
	}
	if reason := m.validate(newFile); reason != "" {
		return &ValidationError{Rejected: []Rejection{{Name: newFile.Name, Reason: reason}}}
	}

	preview := m.previews.Create(newFile)
	next, err := transition(cur, event{kind: evReplace, local: &newFile, preview: preview})
	if err != nil {
		m.previews.Release(preview)
		return err
	}
	if cur.ownsPreview {
		m.previews.Release(cur.Preview)
	}
	m.files[idx] = next
	m.dirty = true
	return nil
}

// ReorderFiles moves the entry at index from to index to and renumbers
// positions from 1.
func (m *Manager) ReorderFiles(from, to int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if from < 0 || from >= len(m.files) || to < 0 || to >= len(m.files) {
		return ErrInvalidIndex
	}
	if from == to {
		return nil
	}
	moved := m.files[from]
	rest := append(m.files[:from:from], m.files[from+1:]...)
	reordered := make([]ManagedFile, 0, len(m.files))
	reordered = append(reordered, rest[:to]...)
	reordered = append(reordered, moved)
	reordered = append(reordered, rest[to:]...)
	m.files = reordered
	m.renumberLocked()
	m.dirty = true
	m.orderChanged = true
	return nil
}

// LoadExistingFiles replaces the collection with the given server files,
// all uploaded, ordered by their position.
func (m *Manager) LoadExistingFiles(remote []RemoteFile) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.releaseAllLocked()
	sorted := append([]RemoteFile(nil), remote...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })

	m.files = make([]ManagedFile, 0, len(sorted))
	for _, rf := range sorted {
		rf := rf
		m.files = append(m.files, ManagedFile{
			ID:      rf.ID,
			Remote:  &rf,
			Status:  StatusUploaded,
			Preview: rf.PreviewURL,
		})
	}
	m.renumberLocked()
	m.dirty = false
	m.orderChanged = false
	m.orphans = nil
}

// Clear empties the collection and releases every local preview handle.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseAllLocked()
	m.files = nil
	m.dirty = false
	m.orderChanged = false
	m.orphans = nil
}

// MarkSaved clears the unsaved-changes flag after a successful round-trip.
func (m *Manager) MarkSaved() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirty = false
	m.orderChanged = false
}

func (m *Manager) HasUnsavedChanges() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dirty
}

// OrderChanged reports whether entries were reordered since the last save.
func (m *Manager) OrderChanged() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orderChanged
}

// Files returns a copy of the collection in position order.
func (m *Manager) Files() []ManagedFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ManagedFile, len(m.files))
	for i, f := range m.files {
		out[i] = f.clone()
	}
	return out
}

// Len returns the number of staged entries.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}

// UploadedIDs returns the remote ids of uploaded files in position order.
func (m *Manager) UploadedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, f := range m.files {
		if f.Status == StatusUploaded && f.Remote != nil {
			ids = append(ids, f.Remote.ID)
		}
	}
	return ids
}

// NewFiles returns pending files that add a new slot.
func (m *Manager) NewFiles() []ManagedFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ManagedFile
	for _, f := range m.files {
		if f.Status == StatusPending && !f.IsReplacement {
			out = append(out, f.clone())
		}
	}
	return out
}

// Replacements returns pending files that supersede an uploaded file.
func (m *Manager) Replacements() []Replacement {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Replacement
	for _, f := range m.files {
		if f.Status == StatusPending && f.IsReplacement {
			out = append(out, Replacement{File: f.clone(), ReplacesID: f.ReplacesID})
		}
	}
	return out
}

// PendingDeletes returns remote ids whose replacement was removed before it
// was uploaded. The old remote file has to be deleted on the next save.
func (m *Manager) PendingDeletes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.orphans...)
}

// ResolveDelete forgets a pending delete once the server confirmed it.
func (m *Manager) ResolveDelete(remoteID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, id := range m.orphans {
		if id == remoteID {
			m.orphans = append(m.orphans[:i], m.orphans[i+1:]...)
			return
		}
	}
}

// RequeueFailed moves every errored file back to pending and returns how
// many were moved.
func (m *Manager) RequeueFailed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for i, f := range m.files {
		if f.Status != StatusError {
			continue
		}
		next, err := transition(f, event{kind: evRequeue})
		if err != nil {
			continue
		}
		m.files[i] = next
		n++
	}
	return n
}

// BeginUpload marks a pending file as uploading.
func (m *Manager) BeginUpload(id string) error {
	return m.apply(id, event{kind: evStartUpload})
}

// CompleteUpload records the server descriptor for an uploading file. The
// file takes the server id and its local preview handle is released.
func (m *Manager) CompleteUpload(id string, remote RemoteFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexLocked(id)
	if idx < 0 {
		return ErrFileNotFound
	}
	cur := m.files[idx]
	next, err := transition(cur, event{kind: evUploadSucceeded, remote: &remote})
	if err != nil {
		return err
	}
	if cur.ownsPreview {
		m.previews.Release(cur.Preview)
	}
	m.files[idx] = next
	m.log.Debug("attachment uploaded", zap.String("local_id", id), zap.String("file_id", remote.ID))
	return nil
}

// FailUpload marks an uploading file as failed; it stays removable and is
// retried after RequeueFailed.
func (m *Manager) FailUpload(id string, cause error) error {
	m.log.Warn("attachment upload failed", zap.String("local_id", id), zap.Error(cause))
	return m.apply(id, event{kind: evUploadFailed, err: cause})
}

func (m *Manager) apply(id string, ev event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.indexLocked(id)
	if idx < 0 {
		return ErrFileNotFound
	}
	next, err := transition(m.files[idx], ev)
	if err != nil {
		return err
	}
	m.files[idx] = next
	return nil
}

func (m *Manager) validate(f LocalFile) string {
	for _, v := range m.cfg.Validators {
		if err := v(f); err != nil {
			return err.Error()
		}
	}
	return ""
}

func (m *Manager) indexLocked(id string) int {
	for i, f := range m.files {
		if f.ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) removeLocked(idx int) {
	if f := m.files[idx]; f.ownsPreview {
		m.previews.Release(f.Preview)
	}
	m.files = append(m.files[:idx], m.files[idx+1:]...)
	m.renumberLocked()
}

func (m *Manager) releaseAllLocked() {
	for i, f := range m.files {
		if f.ownsPreview {
			m.previews.Release(f.Preview)
			m.files[i].ownsPreview = false
		}
	}
}

func (m *Manager) renumberLocked() {
	for i := range m.files {
		m.files[i].Position = i + 1
	}
}
