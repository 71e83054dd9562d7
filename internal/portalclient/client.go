// Package portalclient talks to the draft persistence API over HTTP. A
// Client serves as the orchestrator's adapter, as the staging managers'
// remote deleter and as the reviewer backend.
package portalclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"wastedraft/internal/orchestrator"
	"wastedraft/internal/record"
	"wastedraft/internal/snapshot"
	"wastedraft/internal/staging"
)

var (
	_ orchestrator.Adapter  = (*Client)(nil)
	_ orchestrator.Reviewer = (*Client)(nil)
	_ staging.Deleter       = (*Client)(nil)
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("portal api: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// Draft is the server's view of a record.
type Draft struct {
	ID      string        `json:"id"`
	OwnerID string        `json:"owner_id"`
	Status  record.Status `json:"status"`
	record.Form
	RejectionReason *string              `json:"rejection_reason,omitempty"`
	ReviewedBy      *string              `json:"reviewed_by,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
	SubmittedAt     *time.Time           `json:"submitted_at,omitempty"`
	ReviewedAt      *time.Time           `json:"reviewed_at,omitempty"`
	Attachments     []staging.RemoteFile `json:"attachments,omitempty"`
}

// Loaded converts d into what an edit session starts from.
func (d *Draft) Loaded() orchestrator.LoadedDraft {
	return orchestrator.LoadedDraft{ID: d.ID, Form: d.Form, Attachments: d.Attachments}
}

type Option func(*Client)

// WithHTTPClient replaces the default client (30s timeout).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithAPIKey authenticates with `Authorization: ApiKey <key>`.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		if key = strings.TrimSpace(key); key != "" {
			c.authorization = "ApiKey " + key
		}
	}
}

// WithBearerToken authenticates with a JWT.
func WithBearerToken(token string) Option {
	return func(c *Client) {
		if token = strings.TrimSpace(token); token != "" {
			c.authorization = "Bearer " + token
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

type Client struct {
	base          *url.URL
	http          *http.Client
	authorization string
	log           *zap.Logger
}

// New builds a client for the API at baseURL. A missing scheme means http.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("portal api: base URL is required")
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("portal api: parse base URL: %w", err)
	}
	base.Path = strings.TrimRight(base.Path, "/")
	base.RawQuery = ""
	base.Fragment = ""

	c := &Client{base: base, http: &http.Client{Timeout: 30 * time.Second}, log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// CreateDraft creates a draft from payload and returns its id.
func (c *Client) CreateDraft(ctx context.Context, payload snapshot.Patch) (string, error) {
	var d Draft
	if err := c.doJSON(ctx, http.MethodPost, "/drafts", nil, payload, &d); err != nil {
		return "", err
	}
	if d.ID == "" {
		return "", errors.New("portal api: create draft returned no id")
	}
	return d.ID, nil
}

func (c *Client) UpdateDraft(ctx context.Context, draftID string, payload snapshot.Patch) error {
	return c.doJSON(ctx, http.MethodPatch, "/drafts/"+url.PathEscape(draftID), nil, payload, nil)
}

func (c *Client) SubmitDraft(ctx context.Context, draftID string) error {
	return c.doJSON(ctx, http.MethodPost, "/drafts/"+url.PathEscape(draftID)+"/submit", nil, nil, nil)
}

func (c *Client) ApproveRecord(ctx context.Context, draftID string) error {
	return c.doJSON(ctx, http.MethodPost, "/drafts/"+url.PathEscape(draftID)+"/approve", nil, nil, nil)
}

func (c *Client) RejectRecord(ctx context.Context, draftID, reason string) error {
	body := map[string]string{"reason": reason}
	return c.doJSON(ctx, http.MethodPost, "/drafts/"+url.PathEscape(draftID)+"/reject", nil, body, nil)
}

// GetDraft fetches a record with its stored attachments.
func (c *Client) GetDraft(ctx context.Context, draftID string) (*Draft, error) {
	var d Draft
	if err := c.doJSON(ctx, http.MethodGet, "/drafts/"+url.PathEscape(draftID), nil, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDrafts lists visible drafts, optionally filtered by status.
func (c *Client) ListDrafts(ctx context.Context, limit int, statuses ...record.Status) ([]Draft, error) {
	q := url.Values{}
	for _, st := range statuses {
		q.Add("status", string(st))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []Draft
	if err := c.doJSON(ctx, http.MethodGet, "/drafts", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UploadNewFiles sends files in one multipart request. The server stores
// all of them or none.
func (c *Client) UploadNewFiles(ctx context.Context, draftID, category string, files []staging.LocalFile) ([]staging.RemoteFile, error) {
	if len(files) == 0 {
		return nil, nil
	}
	body, contentType, err := multipartBody(map[string]string{"category": category}, "files", files)
	if err != nil {
		return nil, err
	}

	var out []staging.RemoteFile
	path := "/drafts/" + url.PathEscape(draftID) + "/attachments"
	if err := c.do(ctx, http.MethodPost, path, nil, body, contentType, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReplaceFile swaps the content of fileID, keeping its slot.
func (c *Client) ReplaceFile(ctx context.Context, draftID, fileID string, file staging.LocalFile) (staging.RemoteFile, error) {
	body, contentType, err := multipartBody(nil, "file", []staging.LocalFile{file})
	if err != nil {
		return staging.RemoteFile{}, err
	}

	var out staging.RemoteFile
	path := "/drafts/" + url.PathEscape(draftID) + "/attachments/" + url.PathEscape(fileID)
	if err := c.do(ctx, http.MethodPut, path, nil, body, contentType, &out); err != nil {
		return staging.RemoteFile{}, err
	}
	return out, nil
}

func (c *Client) ReorderAttachments(ctx context.Context, draftID, category string, fileIDs []string) error {
	body := map[string]any{"category": category, "ids": fileIDs}
	return c.doJSON(ctx, http.MethodPut, "/drafts/"+url.PathEscape(draftID)+"/attachments/order", nil, body, nil)
}

func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/attachments/"+url.PathEscape(fileID), nil, nil, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("portal api: encode request: %w", err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, query, body, contentType, out)
}

// do sends one request and decodes the {"data": ...} envelope into out.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, out any) error {
	endpoint := c.base.String() + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.authorization != "" {
		req.Header.Set("Authorization", c.authorization)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("portal api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.log.Debug("portal request", zap.String("method", method), zap.String("path", path),
		zap.Int("status", resp.StatusCode), zap.Duration("took", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("portal api: decode response: %w", err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("portal api: decode data: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var env struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &env) == nil && env.Error != "" {
		msg = env.Error
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}

func multipartBody(fields map[string]string, fileField string, files []staging.LocalFile) (io.Reader, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("portal api: write field %s: %w", k, err)
		}
	}
	for _, f := range files {
		hdr := textproto.MIMEHeader{}
		hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fileField, f.Name))
		mimeType := f.MimeType
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		hdr.Set("Content-Type", mimeType)
		part, err := w.CreatePart(hdr)
		if err != nil {
			return nil, "", fmt.Errorf("portal api: create part %s: %w", f.Name, err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", fmt.Errorf("portal api: write part %s: %w", f.Name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("portal api: close multipart: %w", err)
	}
	return buf, w.FormDataContentType(), nil
}
