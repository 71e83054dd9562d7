package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wastedraft/internal/record"
	"wastedraft/internal/repository"
	"wastedraft/internal/snapshot"
)

var editableStatuses = []record.Status{record.StatusDraft, record.StatusRejected}

// DraftView is a draft together with its stored attachments.
type DraftView struct {
	repository.DraftRecord
	Attachments []AttachmentView `json:"attachments"`
}

// DraftService owns the record lifecycle on the server.
type DraftService struct {
	repo        repository.DraftRepository
	attachments *AttachmentService
	log         *zap.Logger
	now         func() time.Time
}

func NewDraftService(repo repository.DraftRepository, attachments *AttachmentService, logger *zap.Logger) *DraftService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DraftService{repo: repo, attachments: attachments, log: logger, now: func() time.Time { return time.Now().UTC() }}
}

// CreateDraft stores a new draft owned by the actor. The patch may be
// empty; every field it names is validated.
func (s *DraftService) CreateDraft(ctx context.Context, actor Actor, patch snapshot.Patch) (*repository.DraftRecord, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("draft service not initialized")
	}
	if actor.ID == "" {
		return nil, ErrForbidden
	}

	var form record.Form
	if _, err := record.ApplyPatch(&form, patch); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	rec, err := s.repo.Create(ctx, &repository.DraftRecord{
		ID:      uuid.NewString(),
		OwnerID: actor.ID,
		Status:  record.StatusDraft,
		Form:    form,
	})
	if err != nil {
		return nil, fmt.Errorf("create draft: %w", err)
	}
	s.log.Info("draft created", zap.String("draft_id", rec.ID), zap.String("owner_id", actor.ID))
	return rec, nil
}

// GetDraft returns the draft with its attachments.
func (s *DraftService) GetDraft(ctx context.Context, actor Actor, id string) (*DraftView, error) {
	rec, err := s.load(ctx, actor, id, true)
	if err != nil {
		return nil, err
	}

	view := &DraftView{DraftRecord: *rec, Attachments: []AttachmentView{}}
	if s.attachments != nil {
		atts, err := s.attachments.List(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		view.Attachments = atts
	}
	return view, nil
}

// ListDrafts lists the actor's drafts; reviewers see every owner.
func (s *DraftService) ListDrafts(ctx context.Context, actor Actor, params repository.ListDraftsParams) ([]repository.DraftRecord, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("draft service not initialized")
	}
	if !actor.Reviewer {
		params.OwnerID = actor.ID
	}
	for _, st := range params.Statuses {
		if !st.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, st)
		}
	}
	return s.repo.List(ctx, params)
}

// UpdateDraft applies a partial patch. Fields absent from the patch keep
// their value; fields present as null are cleared.
func (s *DraftService) UpdateDraft(ctx context.Context, actor Actor, id string, patch snapshot.Patch) (*repository.DraftRecord, error) {
	if patch.IsEmpty() {
		return nil, fmt.Errorf("%w: nothing to update", ErrValidation)
	}

	rec, err := s.load(ctx, actor, id, false)
	if err != nil {
		return nil, err
	}
	if !rec.Status.Editable() {
		return nil, fmt.Errorf("%w: status is %s", ErrNotEditable, rec.Status)
	}

	form := rec.Form
	touched, err := record.ApplyPatch(&form, patch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	updated, err := s.repo.Update(ctx, id, form, touched, editableStatuses)
	if err != nil {
		return nil, s.translate(err, ErrNotEditable)
	}
	s.log.Debug("draft updated", zap.String("draft_id", id), zap.Strings("fields", touched))
	return updated, nil
}

// SubmitDraft moves a draft or rejected record to pending. Submitting a
// record that is already pending returns it unchanged.
func (s *DraftService) SubmitDraft(ctx context.Context, actor Actor, id string) (*repository.DraftRecord, error) {
	rec, err := s.load(ctx, actor, id, false)
	if err != nil {
		return nil, err
	}
	if rec.Status == record.StatusPending {
		return rec, nil
	}
	if !rec.Status.CanTransition(record.StatusPending) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, record.StatusPending)
	}
	if !rec.HasVehiclePlate() {
		return nil, fmt.Errorf("%w: vehicle plate is required", ErrValidation)
	}

	updated, err := s.repo.Transition(ctx, id, record.Sources(record.StatusPending), record.StatusPending, repository.TransitionFields{At: s.now()})
	if errors.Is(err, repository.ErrConflict) {
		// a concurrent submit may have won the race
		if cur, getErr := s.repo.GetByID(ctx, id); getErr == nil && cur.Status == record.StatusPending {
			return cur, nil
		}
	}
	if err != nil {
		return nil, s.translate(err, ErrInvalidTransition)
	}

	statusTransitions.WithLabelValues(string(record.StatusPending)).Inc()
	s.log.Info("draft submitted", zap.String("draft_id", id))
	return updated, nil
}

// ApproveRecord accepts a pending record.
func (s *DraftService) ApproveRecord(ctx context.Context, actor Actor, id string) (*repository.DraftRecord, error) {
	return s.review(ctx, actor, id, record.StatusApproved, "")
}

// RejectRecord sends a pending record back to its owner with a reason.
func (s *DraftService) RejectRecord(ctx context.Context, actor Actor, id, reason string) (*repository.DraftRecord, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", ErrValidation)
	}
	return s.review(ctx, actor, id, record.StatusRejected, reason)
}

func (s *DraftService) review(ctx context.Context, actor Actor, id string, to record.Status, reason string) (*repository.DraftRecord, error) {
	if !actor.Reviewer {
		return nil, ErrForbidden
	}
	if s == nil || s.repo == nil {
		return nil, errors.New("draft service not initialized")
	}

	updated, err := s.repo.Transition(ctx, id, record.Sources(to), to, repository.TransitionFields{
		At:              s.now(),
		ReviewedBy:      actor.ID,
		RejectionReason: reason,
	})
	if err != nil {
		return nil, s.translate(err, ErrInvalidTransition)
	}

	statusTransitions.WithLabelValues(string(to)).Inc()
	s.log.Info("record reviewed", zap.String("draft_id", id), zap.String("status", string(to)), zap.String("reviewer", actor.ID))
	return updated, nil
}

// load fetches the draft and checks the actor may see it. Reviewers may
// read any draft but only owners may change one.
func (s *DraftService) load(ctx context.Context, actor Actor, id string, readOnly bool) (*repository.DraftRecord, error) {
	if s == nil || s.repo == nil {
		return nil, errors.New("draft service not initialized")
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: draft %s", ErrNotFound, id)
	}

	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, s.translate(err, nil)
	}
	if rec.OwnerID != actor.ID && !(readOnly && actor.Reviewer) {
		return nil, fmt.Errorf("%w: draft %s", ErrNotFound, id)
	}
	return rec, nil
}

func (s *DraftService) translate(err, conflict error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case conflict != nil && errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %v", conflict, err)
	default:
		return err
	}
}
