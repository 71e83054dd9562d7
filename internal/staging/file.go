// Package staging keeps the client-side collection of attachments for one
// attachment group while a draft is being edited. Files are added, replaced,
// removed and reordered locally; uploads are deferred until the owning draft
// exists and are driven by the orchestrator through BeginUpload,
// CompleteUpload and FailUpload.
package staging

import "fmt"

// Status is the lifecycle state of a ManagedFile.
type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusUploaded  Status = "uploaded"
	StatusError     Status = "error"
	StatusDeleting  Status = "deleting"
)

// LocalFile is a payload that has not been persisted yet.
type LocalFile struct {
	Name     string
	MimeType string
	Data     []byte
}

// Size returns the payload length in bytes.
func (f LocalFile) Size() int64 {
	return int64(len(f.Data))
}

// RemoteFile describes an attachment the server already holds.
type RemoteFile struct {
	ID         string `json:"id"`
	Name       string `json:"original_name"`
	MimeType   string `json:"mime_type"`
	SizeBytes  int64  `json:"size_bytes"`
	Category   string `json:"category"`
	Position   int    `json:"position"`
	PreviewURL string `json:"preview_url,omitempty"`
}

// ManagedFile is the staging record for one attachment slot. Local is set
// while the payload is not confirmed persisted; Remote once it is.
type ManagedFile struct {
	ID            string
	Local         *LocalFile
	Remote        *RemoteFile
	Status        Status
	IsReplacement bool
	ReplacesID    string
	Position      int
	Preview       string
	LastError     string

	// ownsPreview is set when Preview is a local handle that must be released.
	ownsPreview bool
}

// Name returns the best available display name.
func (f ManagedFile) Name() string {
	switch {
	case f.Local != nil && f.Local.Name != "":
		return f.Local.Name
	case f.Remote != nil && f.Remote.Name != "":
		return f.Remote.Name
	default:
		return f.ID
	}
}

func (f ManagedFile) clone() ManagedFile {
	out := f
	if f.Local != nil {
		local := *f.Local
		out.Local = &local
	}
	if f.Remote != nil {
		remote := *f.Remote
		out.Remote = &remote
	}
	return out
}

// Replacement pairs a staged file with the remote attachment it supersedes.
type Replacement struct {
	File       ManagedFile
	ReplacesID string
}

// FileError reports a failed operation on one file.
type FileError struct {
	FileID string
	Name   string
	Op     string
	Err    error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Name, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}
