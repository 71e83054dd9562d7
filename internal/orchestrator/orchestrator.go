// Package orchestrator sequences saving and submitting a waste record:
// metadata first, attachments second, the status transition last. Each step
// only runs once the previous one succeeded, and every step is safe to
// repeat after a partial failure.
package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"wastedraft/internal/record"
	"wastedraft/internal/snapshot"
	"wastedraft/internal/staging"
)

// Adapter is the remote side of a record and its attachments.
type Adapter interface {
	CreateDraft(ctx context.Context, payload snapshot.Patch) (string, error)
	UpdateDraft(ctx context.Context, draftID string, payload snapshot.Patch) error
	SubmitDraft(ctx context.Context, draftID string) error
	UploadNewFiles(ctx context.Context, draftID, category string, files []staging.LocalFile) ([]staging.RemoteFile, error)
	ReplaceFile(ctx context.Context, draftID, fileID string, file staging.LocalFile) (staging.RemoteFile, error)
	ReorderAttachments(ctx context.Context, draftID, category string, fileIDs []string) error
	DeleteFile(ctx context.Context, fileID string) error
}

// Navigator is told when a chain finished and the form can be left.
type Navigator interface {
	NavigateAway(draftID string)
}

// Outcome describes how a save or submit ended.
type Outcome string

const (
	OutcomeSaved               Outcome = "saved"
	OutcomeNothingToUpdate     Outcome = "nothing_to_update"
	OutcomeSavedWithFileErrors Outcome = "saved_with_file_errors"
	OutcomeSubmitted           Outcome = "submitted"
)

type Result struct {
	DraftID      string
	Outcome      Outcome
	Message      string
	FileFailures []FileFailure
}

type Option func(*Orchestrator)

func WithNavigator(n Navigator) Option {
	return func(o *Orchestrator) { o.nav = n }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

type Orchestrator struct {
	adapter Adapter
	nav     Navigator
	log     *zap.Logger
}

func New(adapter Adapter, opts ...Option) *Orchestrator {
	o := &Orchestrator{adapter: adapter, log: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SaveDraft persists the form and reconciles attachments without changing
// the record status. A failed attachment does not fail the save: the result
// carries the failures and the files stay staged for the next attempt.
func (o *Orchestrator) SaveDraft(ctx context.Context, s *Session, form record.Form) (Result, error) {
	if err := s.begin(); err != nil {
		return Result{DraftID: s.DraftID()}, &Error{Kind: KindBusy, Message: "A save is already in progress.", DraftID: s.DraftID(), Err: err}
	}
	defer s.end()

	log := o.log.With(zap.String("mode", string(s.Mode())))
	pendingFileWork := s.hasFileWork()

	s.setState(StatePersistingMetadata)
	changed, err := o.persistMetadata(ctx, s, form, false)
	if err != nil {
		s.setState(StateFailed)
		log.Warn("draft save failed", zap.Error(err))
		return Result{DraftID: s.DraftID()}, err
	}

	s.setState(StateReconcilingAttachments)
	failures := o.reconcile(ctx, s)
	res := Result{DraftID: s.DraftID(), FileFailures: failures}

	if len(failures) > 0 {
		s.setState(StateIdle)
		res.Outcome = OutcomeSavedWithFileErrors
		res.Message = fmt.Sprintf("Draft saved, but %d attachment operation(s) failed: %s", len(failures), describeFailures(failures))
		log.Warn("draft saved with attachment failures", zap.String("draft_id", res.DraftID), zap.Int("failures", len(failures)))
		return res, nil
	}

	s.markSaved()
	if !changed && !pendingFileWork {
		s.setState(StateIdle)
		res.Outcome = OutcomeNothingToUpdate
		res.Message = "Nothing to update."
		return res, nil
	}

	s.setState(StateDone)
	res.Outcome = OutcomeSaved
	res.Message = "Draft saved."
	log.Info("draft saved", zap.String("draft_id", res.DraftID))
	o.navigate(res.DraftID)
	return res, nil
}

// SubmitRecord saves like SaveDraft, always sending metadata, and then
// moves the record to pending review. A vehicle plate is required before
// anything is sent. The draft id is kept on every failure after creation so
// a retry updates instead of creating a second record.
func (o *Orchestrator) SubmitRecord(ctx context.Context, s *Session, form record.Form) (Result, error) {
	if !form.HasVehiclePlate() {
		return Result{DraftID: s.DraftID()}, &Error{
			Kind:    KindPrecondition,
			Message: "A vehicle plate is required before submitting.",
			DraftID: s.DraftID(),
			Err:     ErrMissingVehiclePlate,
		}
	}
	if err := s.begin(); err != nil {
		return Result{DraftID: s.DraftID()}, &Error{Kind: KindBusy, Message: "A save is already in progress.", DraftID: s.DraftID(), Err: err}
	}
	defer s.end()

	log := o.log.With(zap.String("mode", string(s.Mode())))

	s.setState(StatePersistingMetadata)
	if _, err := o.persistMetadata(ctx, s, form, true); err != nil {
		s.setState(StateFailed)
		log.Warn("submit failed while saving metadata", zap.Error(err))
		return Result{DraftID: s.DraftID()}, err
	}

	s.setState(StateReconcilingAttachments)
	failures := o.reconcile(ctx, s)
	draftID := s.DraftID()
	if len(failures) > 0 {
		s.setState(StateFailed)
		log.Warn("submit stopped by attachment failures", zap.String("draft_id", draftID), zap.Int("failures", len(failures)))
		return Result{DraftID: draftID, Outcome: OutcomeSavedWithFileErrors, FileFailures: failures}, &Error{
			Kind:     KindAttachments,
			Message:  fmt.Sprintf("Draft saved but not submitted, %d attachment operation(s) failed: %s", len(failures), describeFailures(failures)),
			DraftID:  draftID,
			Failures: failures,
		}
	}
	s.markSaved()

	s.setState(StateTransitioningStatus)
	if err := o.adapter.SubmitDraft(ctx, draftID); err != nil {
		s.setState(StateFailed)
		log.Warn("submit transition failed", zap.String("draft_id", draftID), zap.Error(err))
		return Result{DraftID: draftID}, &Error{
			Kind:    KindTransition,
			Message: fmt.Sprintf("Draft saved but not submitted: %v", err),
			DraftID: draftID,
			Err:     err,
		}
	}

	s.setState(StateDone)
	log.Info("record submitted", zap.String("draft_id", draftID))
	o.navigate(draftID)
	return Result{DraftID: draftID, Outcome: OutcomeSubmitted, Message: "Record submitted for review."}, nil
}

// persistMetadata creates the draft when it has no id yet and otherwise
// updates it. In edit mode only the diff against the snapshot is sent; an
// empty diff skips the call unless force is set, in which case the full
// payload goes out.
func (o *Orchestrator) persistMetadata(ctx context.Context, s *Session, form record.Form, force bool) (bool, error) {
	draftID := s.DraftID()
	if draftID == "" {
		id, err := o.adapter.CreateDraft(ctx, record.FullPayload(form))
		if err == nil && id == "" {
			err = ErrNoDraftID
		}
		if err != nil {
			return false, &Error{Kind: KindMetadata, Message: fmt.Sprintf("Could not create the draft: %v", err), Err: err}
		}
		s.setDraftID(id)
		o.log.Info("draft created", zap.String("draft_id", id))
		return true, nil
	}

	payload := record.FullPayload(form)
	if snap, ok := s.Snapshot(); ok && s.Mode() == ModeEdit {
		patch := record.Diff(snap, form)
		switch {
		case !patch.IsEmpty():
			payload = patch
		case !force:
			return false, nil
		}
	}
	if err := o.adapter.UpdateDraft(ctx, draftID, payload); err != nil {
		return false, &Error{Kind: KindMetadata, Message: fmt.Sprintf("Could not save the draft: %v", err), DraftID: draftID, Err: err}
	}
	return true, nil
}

// reconcile pushes every staged change of every group. Failures are
// collected, never returned early, so one bad file does not block the rest.
func (o *Orchestrator) reconcile(ctx context.Context, s *Session) []FileFailure {
	draftID := s.DraftID()
	var failures []FileFailure
	for _, g := range s.Groups() {
		failures = append(failures, o.reconcileGroup(ctx, s, draftID, g)...)
	}
	return failures
}

func (o *Orchestrator) reconcileGroup(ctx context.Context, s *Session, draftID string, g *staging.Manager) []FileFailure {
	category := g.Category()
	var failures []FileFailure
	fail := func(f staging.ManagedFile, op string, err error) {
		failures = append(failures, FileFailure{Category: category, FileID: f.ID, Name: f.Name(), Op: op, Err: err})
	}

	g.RequeueFailed()

	for _, remoteID := range g.PendingDeletes() {
		if !s.Owns(remoteID) {
			failures = append(failures, FileFailure{Category: category, FileID: remoteID, Op: "delete", Err: ErrUnknownFile})
			g.ResolveDelete(remoteID)
			continue
		}
		if err := o.adapter.DeleteFile(ctx, remoteID); err != nil {
			failures = append(failures, FileFailure{Category: category, FileID: remoteID, Op: "delete", Err: err})
			continue
		}
		g.ResolveDelete(remoteID)
	}

	if fresh := g.NewFiles(); len(fresh) > 0 {
		batch := make([]staging.ManagedFile, 0, len(fresh))
		locals := make([]staging.LocalFile, 0, len(fresh))
		for _, f := range fresh {
			if err := g.BeginUpload(f.ID); err != nil {
				continue
			}
			batch = append(batch, f)
			locals = append(locals, *f.Local)
		}

		remotes, err := o.adapter.UploadNewFiles(ctx, draftID, category, locals)
		for i, f := range batch {
			switch {
			case err != nil:
				_ = g.FailUpload(f.ID, err)
				fail(f, "upload", err)
			case i >= len(remotes):
				missing := fmt.Errorf("server acknowledged %d of %d files", len(remotes), len(batch))
				_ = g.FailUpload(f.ID, missing)
				fail(f, "upload", missing)
			default:
				if cerr := g.CompleteUpload(f.ID, remotes[i]); cerr != nil {
					fail(f, "upload", cerr)
					continue
				}
				s.recordUpload(f.ID, remotes[i].ID)
			}
		}
	}

	for _, rep := range g.Replacements() {
		f := rep.File
		if err := g.BeginUpload(f.ID); err != nil {
			continue
		}
		if !s.Owns(rep.ReplacesID) {
			_ = g.FailUpload(f.ID, ErrUnknownFile)
			fail(f, "replace", ErrUnknownFile)
			continue
		}
		remote, err := o.adapter.ReplaceFile(ctx, draftID, rep.ReplacesID, *f.Local)
		if err != nil {
			_ = g.FailUpload(f.ID, err)
			fail(f, "replace", err)
			continue
		}
		if cerr := g.CompleteUpload(f.ID, remote); cerr != nil {
			fail(f, "replace", cerr)
			continue
		}
		s.recordUpload(f.ID, remote.ID)
	}

	if len(failures) == 0 && g.OrderChanged() {
		if err := o.adapter.ReorderAttachments(ctx, draftID, category, g.UploadedIDs()); err != nil {
			failures = append(failures, FileFailure{Category: category, Op: "reorder", Err: err})
		}
	}
	return failures
}

func (o *Orchestrator) navigate(draftID string) {
	if o.nav != nil {
		o.nav.NavigateAway(draftID)
	}
}
