package api

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"wastedraft/internal/repository"
	"wastedraft/internal/service"
)

// AttachmentService stores the files of a draft.
type AttachmentService interface {
	UploadFiles(ctx context.Context, actor service.Actor, draftID, category string, inputs []service.UploadInput) ([]service.AttachmentView, error)
	ReplaceFile(ctx context.Context, actor service.Actor, draftID, fileID string, in service.UploadInput) (*service.AttachmentView, error)
	DeleteFile(ctx context.Context, actor service.Actor, fileID string) error
	ReorderFiles(ctx context.Context, actor service.Actor, draftID, category string, ids []string) error
	OpenContent(ctx context.Context, actor service.Actor, fileID string) (io.ReadCloser, *repository.AttachmentRecord, error)
}

// AttachmentHandler serves attachment uploads, replacement, ordering and
// content.
type AttachmentHandler struct {
	service        AttachmentService
	maxUploadBytes int64
	maxFiles       int
	log            *zap.Logger
}

const multipartMemoryBudget int64 = 16 * 1024 * 1024

func NewAttachmentHandler(s AttachmentService, maxUploadBytes int64, maxFiles int, logger *zap.Logger) *AttachmentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = 20 << 20
	}
	if maxFiles <= 0 {
		maxFiles = 10
	}
	return &AttachmentHandler{service: s, maxUploadBytes: maxUploadBytes, maxFiles: maxFiles, log: logger}
}

func (h *AttachmentHandler) RegisterRoutes(r chi.Router) {
	r.Post("/drafts/{id}/attachments", h.UploadFiles)
	r.Put("/drafts/{id}/attachments/order", h.ReorderFiles)
	r.Put("/drafts/{id}/attachments/{fileId}", h.ReplaceFile)
	r.Delete("/attachments/{fileId}", h.DeleteFile)
	r.Get("/attachments/{fileId}/content", h.GetContent)
}

type reorderRequest struct {
	Category string   `json:"category"`
	IDs      []string `json:"ids"`
}

// UploadFiles accepts multipart/form-data with a category field and one or
// more files fields.
func (h *AttachmentHandler) UploadFiles(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if !h.parseMultipart(w, r, h.maxUploadBytes*int64(h.maxFiles)) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "files field is required")
		return
	}

	inputs := make([]service.UploadInput, 0, len(headers))
	for _, header := range headers {
		in, closeFn, status, err := h.openPart(header)
		if err != nil {
			writeError(w, status, err.Error())
			return
		}
		defer closeFn()
		inputs = append(inputs, in)
	}

	views, err := h.service.UploadFiles(r.Context(), actor, chi.URLParam(r, "id"), r.FormValue("category"), inputs)
	if err != nil {
		writeServiceError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Data: views})
}

// ReplaceFile swaps the content of one attachment, multipart field "file".
func (h *AttachmentHandler) ReplaceFile(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	if !h.parseMultipart(w, r, h.maxUploadBytes) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["file"]
	if len(headers) != 1 {
		writeError(w, http.StatusBadRequest, "exactly one file field is required")
		return
	}
	in, closeFn, status, err := h.openPart(headers[0])
	if err != nil {
		writeError(w, status, err.Error())
		return
	}
	defer closeFn()

	view, err := h.service.ReplaceFile(r.Context(), actor, chi.URLParam(r, "id"), chi.URLParam(r, "fileId"), in)
	if err != nil {
		writeServiceError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: view})
}

// ReorderFiles takes {"category": "...", "ids": [...]} in display order.
func (h *AttachmentHandler) ReorderFiles(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req reorderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Category) == "" {
		writeError(w, http.StatusBadRequest, "category is required")
		return
	}

	draftID := chi.URLParam(r, "id")
	if err := h.service.ReorderFiles(r.Context(), actor, draftID, req.Category, req.IDs); err != nil {
		writeServiceError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: map[string]any{"draft_id": draftID, "category": req.Category, "ids": req.IDs}})
}

func (h *AttachmentHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "fileId")
	if err := h.service.DeleteFile(r.Context(), actor, id); err != nil {
		writeServiceError(w, h.log, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: map[string]any{"id": id, "deleted": true}})
}

// GetContent streams the stored file for preview.
func (h *AttachmentHandler) GetContent(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	content, file, err := h.service.OpenContent(r.Context(), actor, chi.URLParam(r, "fileId"))
	if err != nil {
		writeServiceError(w, h.log, r, err)
		return
	}
	defer content.Close()

	w.Header().Set("Content-Type", file.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", file.OriginalName))
	w.Header().Set("Content-Length", strconv.FormatInt(file.SizeBytes, 10))
	if file.Checksum != nil {
		w.Header().Set("ETag", strconv.Quote(*file.Checksum))
	}

	if _, err := io.Copy(w, content); err != nil {
		// client went away; headers are already sent
		h.log.Debug("stream attachment", zap.String("file_id", file.ID), zap.Error(err))
	}
}

func (h *AttachmentHandler) parseMultipart(w http.ResponseWriter, r *http.Request, limit int64) bool {
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "request body is empty")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartMemoryBudget)
	if err := r.ParseMultipartForm(multipartMemoryBudget); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err))
		return false
	}
	return true
}

// openPart opens one uploaded part. On error it returns the status to answer
// with.
func (h *AttachmentHandler) openPart(header *multipart.FileHeader) (service.UploadInput, func(), int, error) {
	file, err := header.Open()
	if err != nil {
		return service.UploadInput{}, nil, http.StatusBadRequest, fmt.Errorf("open %s: %w", header.Filename, err)
	}

	sizeBytes, err := determineFileSize(file, header)
	if err != nil {
		file.Close()
		return service.UploadInput{}, nil, http.StatusBadRequest, err
	}
	if sizeBytes <= 0 {
		file.Close()
		return service.UploadInput{}, nil, http.StatusBadRequest, fmt.Errorf("%s: file must not be empty", header.Filename)
	}
	if sizeBytes > h.maxUploadBytes {
		file.Close()
		return service.UploadInput{}, nil, http.StatusRequestEntityTooLarge, fmt.Errorf("%s: file exceeds size limit (%d bytes)", header.Filename, h.maxUploadBytes)
	}

	mimeType, err := resolveMimeType(header, file)
	if err != nil {
		file.Close()
		return service.UploadInput{}, nil, http.StatusBadRequest, err
	}

	in := service.UploadInput{
		OriginalName: header.Filename,
		MimeType:     mimeType,
		SizeBytes:    sizeBytes,
		Reader:       file,
	}
	return in, func() { _ = file.Close() }, 0, nil
}

func determineFileSize(file multipart.File, header *multipart.FileHeader) (int64, error) {
	if header != nil && header.Size > 0 {
		return header.Size, nil
	}

	size, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("measure file: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewind file: %w", err)
	}
	return size, nil
}

// resolveMimeType prefers the part header and falls back to sniffing the
// first 512 bytes.
func resolveMimeType(header *multipart.FileHeader, file multipart.File) (string, error) {
	if header != nil {
		if value := header.Header.Get("Content-Type"); value != "" && value != "application/octet-stream" {
			return value, nil
		}
	}

	buf := make([]byte, 512)
	n, err := file.Read(buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", fmt.Errorf("detect mime: %w", err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind file: %w", err)
	}
	if n == 0 {
		return "application/octet-stream", nil
	}
	return http.DetectContentType(buf[:n]), nil
}
