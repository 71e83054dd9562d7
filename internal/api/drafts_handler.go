package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"wastedraft/internal/middleware"
	"wastedraft/internal/record"
	"wastedraft/internal/repository"
	"wastedraft/internal/service"
	"wastedraft/internal/snapshot"
)

// DraftService is the record lifecycle used by DraftHandler.
type DraftService interface {
	CreateDraft(ctx context.Context, actor service.Actor, patch snapshot.Patch) (*repository.DraftRecord, error)
	GetDraft(ctx context.Context, actor service.Actor, id string) (*service.DraftView, error)
	ListDrafts(ctx context.Context, actor service.Actor, params repository.ListDraftsParams) ([]repository.DraftRecord, error)
	UpdateDraft(ctx context.Context, actor service.Actor, id string, patch snapshot.Patch) (*repository.DraftRecord, error)
	SubmitDraft(ctx context.Context, actor service.Actor, id string) (*repository.DraftRecord, error)
	ApproveRecord(ctx context.Context, actor service.Actor, id string) (*repository.DraftRecord, error)
	RejectRecord(ctx context.Context, actor service.Actor, id, reason string) (*repository.DraftRecord, error)
}

// DraftHandler serves the /drafts endpoints.
type DraftHandler struct {
	service DraftService
	log     *zap.Logger
}

func NewDraftHandler(s DraftService, logger *zap.Logger) *DraftHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DraftHandler{service: s, log: logger}
}

func (h *DraftHandler) RegisterRoutes(r chi.Router) {
	r.Get("/drafts", h.ListDrafts)
	r.Post("/drafts", h.CreateDraft)
	r.Get("/drafts/{id}", h.GetDraft)
	r.Patch("/drafts/{id}", h.UpdateDraft)
	r.Post("/drafts/{id}/submit", h.SubmitDraft)
	r.With(middleware.RequireReviewer).Post("/drafts/{id}/approve", h.ApproveRecord)
	r.With(middleware.RequireReviewer).Post("/drafts/{id}/reject", h.RejectRecord)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// CreateDraft accepts a JSON object of form fields, possibly empty.
func (h *DraftHandler) CreateDraft(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	patch := snapshot.Patch{}
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &patch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
	}

	rec, err := h.service.CreateDraft(r.Context(), actor, patch)
	if err != nil {
		writeServiceError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Data: rec})
}

// ListDrafts supports ?status=a&status=b or ?statuses=a,b plus limit/offset.
func (h *DraftHandler) ListDrafts(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	params := repository.ListDraftsParams{}
	var err error
	if params.Limit, err = queryInt(r, "limit"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if params.Offset, err = queryInt(r, "offset"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	statuses := r.URL.Query()["status"]
	if len(statuses) == 0 {
		if combined := r.URL.Query().Get("statuses"); combined != "" {
			statuses = strings.Split(combined, ",")
		}
	}
	for _, raw := range statuses {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			params.Statuses = append(params.Statuses, record.Status(trimmed))
		}
	}

	drafts, err := h.service.ListDrafts(r.Context(), actor, params)
	if err != nil {
		writeServiceError(w, h.log, r, err)
		return
	}
	if drafts == nil {
		drafts = []repository.DraftRecord{}
	}
	writeJSON(w, http.StatusOK, envelope{Data: drafts})
}

func (h *DraftHandler) GetDraft(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	view, err := h.service.GetDraft(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: view})
}

// UpdateDraft applies a partial patch: absent keys are kept, null clears.
func (h *DraftHandler) UpdateDraft(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	var patch snapshot.Patch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	rec, err := h.service.UpdateDraft(r.Context(), actor, chi.URLParam(r, "id"), patch)
	if err != nil {
		writeServiceError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: rec})
}

func (h *DraftHandler) SubmitDraft(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, actor service.Actor, id string) (*repository.DraftRecord, error) {
		return h.service.SubmitDraft(ctx, actor, id)
	})
}

func (h *DraftHandler) ApproveRecord(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, actor service.Actor, id string) (*repository.DraftRecord, error) {
		return h.service.ApproveRecord(ctx, actor, id)
	})
}

func (h *DraftHandler) RejectRecord(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	h.transition(w, r, func(ctx context.Context, actor service.Actor, id string) (*repository.DraftRecord, error) {
		return h.service.RejectRecord(ctx, actor, id, req.Reason)
	})
}

func (h *DraftHandler) transition(w http.ResponseWriter, r *http.Request, fn func(context.Context, service.Actor, string) (*repository.DraftRecord, error)) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	rec, err := fn(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: rec})
}
