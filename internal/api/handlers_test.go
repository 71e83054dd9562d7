package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"wastedraft/internal/config"
	wdmiddleware "wastedraft/internal/middleware"
	"wastedraft/internal/record"
	"wastedraft/internal/repository"
	"wastedraft/internal/service"
	"wastedraft/internal/snapshot"
)

type stubDrafts struct {
	lastActor  service.Actor
	lastPatch  snapshot.Patch
	lastParams repository.ListDraftsParams
	lastReason string
	err        error
}

func (s *stubDrafts) draft(id string, status record.Status) *repository.DraftRecord {
	return &repository.DraftRecord{ID: id, OwnerID: s.lastActor.ID, Status: status}
}

func (s *stubDrafts) CreateDraft(_ context.Context, actor service.Actor, patch snapshot.Patch) (*repository.DraftRecord, error) {
	s.lastActor, s.lastPatch = actor, patch
	if s.err != nil {
		return nil, s.err
	}
	return s.draft("d-1", record.StatusDraft), nil
}

func (s *stubDrafts) GetDraft(_ context.Context, actor service.Actor, id string) (*service.DraftView, error) {
	s.lastActor = actor
	if s.err != nil {
		return nil, s.err
	}
	return &service.DraftView{DraftRecord: *s.draft(id, record.StatusDraft), Attachments: []service.AttachmentView{}}, nil
}

func (s *stubDrafts) ListDrafts(_ context.Context, actor service.Actor, params repository.ListDraftsParams) ([]repository.DraftRecord, error) {
	s.lastActor, s.lastParams = actor, params
	return nil, s.err
}

func (s *stubDrafts) UpdateDraft(_ context.Context, actor service.Actor, id string, patch snapshot.Patch) (*repository.DraftRecord, error) {
	s.lastActor, s.lastPatch = actor, patch
	if s.err != nil {
		return nil, s.err
	}
	return s.draft(id, record.StatusDraft), nil
}

func (s *stubDrafts) SubmitDraft(_ context.Context, actor service.Actor, id string) (*repository.DraftRecord, error) {
	s.lastActor = actor
	if s.err != nil {
		return nil, s.err
	}
	return s.draft(id, record.StatusPending), nil
}

func (s *stubDrafts) ApproveRecord(_ context.Context, actor service.Actor, id string) (*repository.DraftRecord, error) {
	s.lastActor = actor
	return s.draft(id, record.StatusApproved), s.err
}

func (s *stubDrafts) RejectRecord(_ context.Context, actor service.Actor, id, reason string) (*repository.DraftRecord, error) {
	s.lastActor, s.lastReason = actor, reason
	return s.draft(id, record.StatusRejected), s.err
}

type stubAttachments struct {
	uploaded  []service.UploadInput
	bodies    []string
	category  string
	reordered []string
	deleted   string
	err       error
}

func (s *stubAttachments) UploadFiles(_ context.Context, _ service.Actor, draftID, category string, inputs []service.UploadInput) ([]service.AttachmentView, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.category = category
	out := make([]service.AttachmentView, 0, len(inputs))
	for i, in := range inputs {
		body, _ := io.ReadAll(in.Reader)
		s.uploaded = append(s.uploaded, in)
		s.bodies = append(s.bodies, string(body))
		out = append(out, service.AttachmentView{AttachmentRecord: repository.AttachmentRecord{
			ID: fmt.Sprintf("f-%d", i+1), DraftID: draftID, Category: category, Position: i + 1,
			OriginalName: in.OriginalName, MimeType: in.MimeType, SizeBytes: in.SizeBytes,
		}})
	}
	return out, nil
}

func (s *stubAttachments) ReplaceFile(_ context.Context, _ service.Actor, draftID, fileID string, in service.UploadInput) (*service.AttachmentView, error) {
	if s.err != nil {
		return nil, s.err
	}
	body, _ := io.ReadAll(in.Reader)
	s.bodies = append(s.bodies, string(body))
	return &service.AttachmentView{AttachmentRecord: repository.AttachmentRecord{ID: fileID, DraftID: draftID, OriginalName: in.OriginalName}}, nil
}

func (s *stubAttachments) DeleteFile(_ context.Context, _ service.Actor, fileID string) error {
	s.deleted = fileID
	return s.err
}

func (s *stubAttachments) ReorderFiles(_ context.Context, _ service.Actor, _, category string, ids []string) error {
	s.category, s.reordered = category, ids
	return s.err
}

func (s *stubAttachments) OpenContent(_ context.Context, _ service.Actor, fileID string) (io.ReadCloser, *repository.AttachmentRecord, error) {
	if s.err != nil {
		return nil, nil, s.err
	}
	return io.NopCloser(strings.NewReader("jpeg-bytes")), &repository.AttachmentRecord{ID: fileID, OriginalName: "slip.jpg", MimeType: "image/jpeg", SizeBytes: 10}, nil
}

func newTestRouter(drafts *stubDrafts, atts *stubAttachments) http.Handler {
	cfg := &config.Config{RateLimitWindow: time.Minute}
	return NewRouter(cfg,
		wdmiddleware.APIKeyAuth([]string{"owner-key"}, []string{"review-key"}),
		nil,
		NewDraftHandler(drafts, nil),
		NewAttachmentHandler(atts, 1024, 5, nil),
	)
}

func doRequest(h http.Handler, method, path, key string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if key != "" {
		req.Header.Set("Authorization", "ApiKey "+key)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func TestRouter_HealthzIsPublic(t *testing.T) {
	rec := doRequest(newTestRouter(&stubDrafts{}, &stubAttachments{}), http.MethodGet, "/healthz", "", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRouter_HealthzReportsDatabaseDown(t *testing.T) {
	cfg := &config.Config{RateLimitWindow: time.Minute}
	down := func(context.Context) error { return errors.New("connection refused") }
	h := NewRouter(cfg, wdmiddleware.NoAuth(""), down, nil, nil)

	rec := doRequest(h, http.MethodGet, "/healthz", "", nil, "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestRouter_RequiresAuth(t *testing.T) {
	rec := doRequest(newTestRouter(&stubDrafts{}, &stubAttachments{}), http.MethodGet, "/drafts", "", nil, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestDraftHandler_CreateDraft(t *testing.T) {
	drafts := &stubDrafts{}
	h := newTestRouter(drafts, &stubAttachments{})

	rec := doRequest(h, http.MethodPost, "/drafts", "owner-key",
		strings.NewReader(`{"vehicle_plate":"51C-123.45","collected_volume_kg":12.5,"storage_location":null}`), "application/json")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if drafts.lastActor.ID != "owner-key" || drafts.lastActor.Reviewer {
		t.Fatalf("unexpected actor %+v", drafts.lastActor)
	}
	if drafts.lastPatch[record.FieldVehiclePlate] != "51C-123.45" {
		t.Fatalf("unexpected patch %v", drafts.lastPatch)
	}
	if _, ok := drafts.lastPatch[record.FieldCollectedVolume].(json.Number); !ok {
		t.Fatalf("expected numbers decoded as json.Number, got %T", drafts.lastPatch[record.FieldCollectedVolume])
	}
	if !drafts.lastPatch.Cleared(record.FieldStorageLocation) {
		t.Fatalf("expected explicit null to be kept")
	}

	var got repository.DraftRecord
	decodeEnvelope(t, rec, &got)
	if got.ID != "d-1" || got.Status != record.StatusDraft {
		t.Fatalf("unexpected body %+v", got)
	}
}

func TestDraftHandler_CreateDraftEmptyBody(t *testing.T) {
	drafts := &stubDrafts{}
	rec := doRequest(newTestRouter(drafts, &stubAttachments{}), http.MethodPost, "/drafts", "owner-key", nil, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if !drafts.lastPatch.IsEmpty() {
		t.Fatalf("expected empty patch, got %v", drafts.lastPatch)
	}
}

func TestDraftHandler_ErrorMapping(t *testing.T) {
	cases := map[error]int{
		service.ErrValidation:        http.StatusBadRequest,
		service.ErrNotFound:          http.StatusNotFound,
		service.ErrForbidden:         http.StatusForbidden,
		service.ErrNotEditable:       http.StatusConflict,
		service.ErrInvalidTransition: http.StatusConflict,
		service.ErrCapacityExceeded:  http.StatusConflict,
		io.ErrUnexpectedEOF:          http.StatusInternalServerError,
	}
	for cause, want := range cases {
		drafts := &stubDrafts{err: fmt.Errorf("wrapped: %w", cause)}
		rec := doRequest(newTestRouter(drafts, &stubAttachments{}), http.MethodPatch, "/drafts/d-1", "owner-key",
			strings.NewReader(`{"ward":"Ward 2"}`), "application/json")
		if rec.Code != want {
			t.Fatalf("%v: expected %d, got %d", cause, want, rec.Code)
		}
		var body errorEnvelope
		_ = json.Unmarshal(rec.Body.Bytes(), &body)
		if body.Error == "" {
			t.Fatalf("%v: expected error message", cause)
		}
		if want == http.StatusInternalServerError && body.Error != "internal error" {
			t.Fatalf("internal errors must not leak, got %q", body.Error)
		}
	}
}

func TestDraftHandler_UpdateRejectsBadJSON(t *testing.T) {
	rec := doRequest(newTestRouter(&stubDrafts{}, &stubAttachments{}), http.MethodPatch, "/drafts/d-1", "owner-key",
		strings.NewReader(`{"ward":`), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDraftHandler_ListDrafts(t *testing.T) {
	drafts := &stubDrafts{}
	h := newTestRouter(drafts, &stubAttachments{})

	rec := doRequest(h, http.MethodGet, "/drafts?status=draft&status=rejected&limit=5&offset=10", "owner-key", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	p := drafts.lastParams
	if len(p.Statuses) != 2 || p.Statuses[1] != record.StatusRejected || p.Limit != 5 || p.Offset != 10 {
		t.Fatalf("unexpected params %+v", p)
	}
	if strings.TrimSpace(rec.Body.String()) != `{"data":[]}` {
		t.Fatalf("expected empty list, got %s", rec.Body.String())
	}

	if rec := doRequest(h, http.MethodGet, "/drafts?limit=-1", "owner-key", nil, ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative limit, got %d", rec.Code)
	}
}

func TestDraftHandler_ReviewRoutes(t *testing.T) {
	drafts := &stubDrafts{}
	h := newTestRouter(drafts, &stubAttachments{})

	if rec := doRequest(h, http.MethodPost, "/drafts/d-1/approve", "owner-key", nil, ""); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for owner key, got %d", rec.Code)
	}

	rec := doRequest(h, http.MethodPost, "/drafts/d-1/approve", "review-key", nil, "")
	if rec.Code != http.StatusOK || !drafts.lastActor.Reviewer {
		t.Fatalf("expected 200 as reviewer, got %d", rec.Code)
	}

	rec = doRequest(h, http.MethodPost, "/drafts/d-1/reject", "review-key", strings.NewReader(`{"reason":"blurry slip"}`), "application/json")
	if rec.Code != http.StatusOK || drafts.lastReason != "blurry slip" {
		t.Fatalf("unexpected reject result %d %q", rec.Code, drafts.lastReason)
	}

	rec = doRequest(h, http.MethodPost, "/drafts/d-1/submit", "owner-key", nil, "")
	var got repository.DraftRecord
	decodeEnvelope(t, rec, &got)
	if got.Status != record.StatusPending {
		t.Fatalf("expected pending, got %s", got.Status)
	}
}

type part struct {
	field, name, mime, body string
}

func multipartBody(t *testing.T, fields map[string]string, parts ...part) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	for _, p := range parts {
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, p.field, p.name))
		if p.mime != "" {
			hdr.Set("Content-Type", p.mime)
		}
		fw, err := w.CreatePart(hdr)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		_, _ = fw.Write([]byte(p.body))
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, w.FormDataContentType()
}

func TestAttachmentHandler_UploadFiles(t *testing.T) {
	atts := &stubAttachments{}
	h := newTestRouter(&stubDrafts{}, atts)

	body, ct := multipartBody(t, map[string]string{"category": "weighing"},
		part{"files", "slip.jpg", "image/jpeg", "one"},
		part{"files", "note.txt", "", "plain text here"},
	)
	rec := doRequest(h, http.MethodPost, "/drafts/d-1/attachments", "owner-key", body, ct)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if atts.category != "weighing" || len(atts.uploaded) != 2 {
		t.Fatalf("unexpected upload %q %d", atts.category, len(atts.uploaded))
	}
	if atts.uploaded[0].MimeType != "image/jpeg" || atts.uploaded[0].SizeBytes != 3 || atts.bodies[0] != "one" {
		t.Fatalf("unexpected first input %+v", atts.uploaded[0])
	}
	if !strings.HasPrefix(atts.uploaded[1].MimeType, "text/plain") {
		t.Fatalf("expected sniffed text/plain, got %q", atts.uploaded[1].MimeType)
	}

	var views []service.AttachmentView
	decodeEnvelope(t, rec, &views)
	if len(views) != 2 || views[1].Position != 2 {
		t.Fatalf("unexpected views %+v", views)
	}
}

func TestAttachmentHandler_UploadFilesLimits(t *testing.T) {
	h := newTestRouter(&stubDrafts{}, &stubAttachments{})

	body, ct := multipartBody(t, map[string]string{"category": "weighing"})
	if rec := doRequest(h, http.MethodPost, "/drafts/d-1/attachments", "owner-key", body, ct); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without files, got %d", rec.Code)
	}

	body, ct = multipartBody(t, map[string]string{"category": "weighing"}, part{"files", "big.jpg", "image/jpeg", strings.Repeat("x", 2048)})
	if rec := doRequest(h, http.MethodPost, "/drafts/d-1/attachments", "owner-key", body, ct); rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}

	h = newTestRouter(&stubDrafts{}, &stubAttachments{err: service.ErrCapacityExceeded})
	body, ct = multipartBody(t, map[string]string{"category": "weighing"}, part{"files", "a.jpg", "image/jpeg", "a"})
	if rec := doRequest(h, http.MethodPost, "/drafts/d-1/attachments", "owner-key", body, ct); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestAttachmentHandler_ReplaceReorderDelete(t *testing.T) {
	atts := &stubAttachments{}
	h := newTestRouter(&stubDrafts{}, atts)

	body, ct := multipartBody(t, nil, part{"file", "new.jpg", "image/jpeg", "fresh"})
	rec := doRequest(h, http.MethodPut, "/drafts/d-1/attachments/f-9", "owner-key", body, ct)
	if rec.Code != http.StatusOK || atts.bodies[0] != "fresh" {
		t.Fatalf("unexpected replace result %d %v", rec.Code, atts.bodies)
	}

	rec = doRequest(h, http.MethodPut, "/drafts/d-1/attachments/order", "owner-key",
		strings.NewReader(`{"category":"vehicle","ids":["f-2","f-1"]}`), "application/json")
	if rec.Code != http.StatusOK || atts.category != "vehicle" || len(atts.reordered) != 2 || atts.reordered[0] != "f-2" {
		t.Fatalf("unexpected reorder result %d %v", rec.Code, atts.reordered)
	}

	rec = doRequest(h, http.MethodDelete, "/attachments/f-1", "owner-key", nil, "")
	if rec.Code != http.StatusOK || atts.deleted != "f-1" {
		t.Fatalf("unexpected delete result %d %q", rec.Code, atts.deleted)
	}
}

func TestAttachmentHandler_GetContent(t *testing.T) {
	rec := doRequest(newTestRouter(&stubDrafts{}, &stubAttachments{}), http.MethodGet, "/attachments/f-1/content", "review-key", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "image/jpeg" || rec.Body.String() != "jpeg-bytes" {
		t.Fatalf("unexpected content %q %q", rec.Header().Get("Content-Type"), rec.Body.String())
	}

	rec = doRequest(newTestRouter(&stubDrafts{}, &stubAttachments{err: service.ErrNotFound}), http.MethodGet, "/attachments/f-1/content", "owner-key", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
