package orchestrator

import (
	"sync"

	"wastedraft/internal/record"
	"wastedraft/internal/staging"
)

// Mode tells whether a session started from a blank form or a loaded draft.
type Mode string

const (
	ModeCreate Mode = "create"
	ModeEdit   Mode = "edit"
)

// State is the step a session's save or submit chain is in.
type State string

const (
	StateIdle                   State = "idle"
	StatePersistingMetadata     State = "persisting_metadata"
	StateReconcilingAttachments State = "reconciling_attachments"
	StateTransitioningStatus    State = "transitioning_status"
	StateDone                   State = "done"
	StateFailed                 State = "failed"
)

// LoadedDraft is an existing draft as fetched for editing.
type LoadedDraft struct {
	ID          string
	Form        record.Form
	Attachments []staging.RemoteFile
}

// Session holds everything one editing session owns: the draft id once
// known, the snapshot taken at load, the attachment groups, the file ids
// present at load and the files uploaded since. It is created when the form
// opens and closed when it goes away.
type Session struct {
	mu       sync.Mutex
	mode     Mode
	draftID  string
	snapshot *record.Form
	groups   []*staging.Manager
	state    State
	busy     bool

	originalFileIDs map[string]struct{}
	uploaded        map[string]string
}

// NewCreateSession starts a session for a record that does not exist yet.
func NewCreateSession(groups ...*staging.Manager) *Session {
	return &Session{
		mode:            ModeCreate,
		groups:          groups,
		state:           StateIdle,
		originalFileIDs: map[string]struct{}{},
		uploaded:        map[string]string{},
	}
}

// NewEditSession starts a session on a loaded draft. Existing attachments
// are loaded into the group with the matching category; attachments of
// categories without a group stay server-side untouched.
func NewEditSession(draft LoadedDraft, groups ...*staging.Manager) *Session {
	snap := cloneForm(draft.Form)
	s := &Session{
		mode:            ModeEdit,
		draftID:         draft.ID,
		snapshot:        &snap,
		groups:          groups,
		state:           StateIdle,
		originalFileIDs: make(map[string]struct{}, len(draft.Attachments)),
		uploaded:        map[string]string{},
	}

	byCategory := make(map[string][]staging.RemoteFile)
	for _, att := range draft.Attachments {
		s.originalFileIDs[att.ID] = struct{}{}
		byCategory[att.Category] = append(byCategory[att.Category], att)
	}
	for _, g := range groups {
		g.LoadExistingFiles(byCategory[g.Category()])
	}
	return s
}

func (s *Session) Mode() Mode { return s.mode }

func (s *Session) DraftID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draftID
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns a copy of the form as loaded; ok is false in create mode.
func (s *Session) Snapshot() (record.Form, bool) {
	if s.snapshot == nil {
		return record.Form{}, false
	}
	return cloneForm(*s.snapshot), true
}

// Group returns the attachment group for category, or nil.
func (s *Session) Group(category string) *staging.Manager {
	for _, g := range s.groups {
		if g.Category() == category {
			return g
		}
	}
	return nil
}

func (s *Session) Groups() []*staging.Manager {
	return append([]*staging.Manager(nil), s.groups...)
}

// HasUnsavedChanges reports whether the form differs from the snapshot or
// any attachment group has unsaved changes. In create mode any non-blank
// field counts.
func (s *Session) HasUnsavedChanges(form record.Form) bool {
	for _, g := range s.groups {
		if g.HasUnsavedChanges() {
			return true
		}
	}
	if s.snapshot == nil {
		return !record.Diff(record.Form{}, form).IsEmpty()
	}
	return !record.Diff(*s.snapshot, form).IsEmpty()
}

// WasLoaded reports whether fileID was attached when the session started.
func (s *Session) WasLoaded(fileID string) bool {
	_, ok := s.originalFileIDs[fileID]
	return ok
}

// Owns reports whether the remote file fileID was loaded with the draft or
// uploaded by this session. Only such files may be deleted or replaced.
func (s *Session) Owns(fileID string) bool {
	if s.WasLoaded(fileID) {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, remoteID := range s.uploaded {
		if remoteID == fileID {
			return true
		}
	}
	return false
}

// UploadedInSession maps local staging ids to the server ids they received.
func (s *Session) UploadedInSession() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.uploaded))
	for k, v := range s.uploaded {
		out[k] = v
	}
	return out
}

// Close releases every attachment group. In-flight remote calls are not
// aborted; their results are simply dropped with the session.
func (s *Session) Close() {
	for _, g := range s.groups {
		g.Clear()
	}
}

func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ErrSessionBusy
	}
	s.busy = true
	s.state = StateIdle
	return nil
}

func (s *Session) end() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) setDraftID(id string) {
	s.mu.Lock()
	s.draftID = id
	s.mu.Unlock()
}

func (s *Session) recordUpload(localID, remoteID string) {
	s.mu.Lock()
	s.uploaded[localID] = remoteID
	s.mu.Unlock()
}

func (s *Session) markSaved() {
	for _, g := range s.groups {
		g.MarkSaved()
	}
}

func (s *Session) hasFileWork() bool {
	for _, g := range s.groups {
		if len(g.NewFiles()) > 0 || len(g.Replacements()) > 0 || len(g.PendingDeletes()) > 0 || g.OrderChanged() {
			return true
		}
		for _, f := range g.Files() {
			if f.Status == staging.StatusError {
				return true
			}
		}
	}
	return false
}

func cloneForm(f record.Form) record.Form {
	out := f
	if f.CollectedVolumeKg != nil {
		v := *f.CollectedVolumeKg
		out.CollectedVolumeKg = &v
	}
	if f.RecycledVolumeKg != nil {
		v := *f.RecycledVolumeKg
		out.RecycledVolumeKg = &v
	}
	if f.Latitude != nil {
		v := *f.Latitude
		out.Latitude = &v
	}
	if f.Longitude != nil {
		v := *f.Longitude
		out.Longitude = &v
	}
	if f.StorageLocation != nil {
		loc := *f.StorageLocation
		out.StorageLocation = &loc
	}
	return out
}
