package staging

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when an event does not apply to the
// file's current status.
var ErrInvalidTransition = errors.New("staging: invalid status transition")

type eventKind int

const (
	evStartUpload eventKind = iota
	evUploadSucceeded
	evUploadFailed
	evRequeue
	evStartDelete
	evDeleteFailed
	evReplace
)

func (k eventKind) String() string {
	switch k {
	case evStartUpload:
		return "start-upload"
	case evUploadSucceeded:
		return "upload-succeeded"
	case evUploadFailed:
		return "upload-failed"
	case evRequeue:
		return "requeue"
	case evStartDelete:
		return "start-delete"
	case evDeleteFailed:
		return "delete-failed"
	case evReplace:
		return "replace"
	default:
		return "unknown"
	}
}

type event struct {
	kind    eventKind
	remote  *RemoteFile
	local   *LocalFile
	preview string
	err     error
}

// transition is the only place a ManagedFile changes status. Preview handle
// bookkeeping stays with the caller; transition only records ownership.
func transition(f ManagedFile, ev event) (ManagedFile, error) {
	invalid := func() (ManagedFile, error) {
		return f, fmt.Errorf("%w: %s while %s", ErrInvalidTransition, ev.kind, f.Status)
	}

	switch ev.kind {
	case evStartUpload:
		if f.Status != StatusPending || f.Local == nil {
			return invalid()
		}
		f.Status = StatusUploading
		f.LastError = ""

	case evUploadSucceeded:
		if f.Status != StatusUploading || ev.remote == nil {
			return invalid()
		}
		remote := *ev.remote
		f.ID = remote.ID
		f.Remote = &remote
		f.Local = nil
		f.IsReplacement = false
		f.ReplacesID = ""
		f.Preview = remote.PreviewURL
		f.ownsPreview = false
		f.Status = StatusUploaded
		f.LastError = ""

	case evUploadFailed:
		if f.Status != StatusUploading {
			return invalid()
		}
		f.Status = StatusError
		f.LastError = errorText(ev.err)

	case evRequeue:
		if f.Status != StatusError {
			return invalid()
		}
		f.Status = StatusPending
		f.LastError = ""

	case evStartDelete:
		if f.Status != StatusUploaded || f.Remote == nil {
			return invalid()
		}
		f.Status = StatusDeleting
		f.LastError = ""

	case evDeleteFailed:
		if f.Status != StatusDeleting {
			return invalid()
		}
		f.Status = StatusUploaded
		f.LastError = errorText(ev.err)

	case evReplace:
		switch f.Status {
		case StatusPending, StatusError, StatusUploaded:
		default:
			return invalid()
		}
		if ev.local == nil {
			return invalid()
		}
		if f.Remote != nil {
			f.IsReplacement = true
			f.ReplacesID = f.Remote.ID
			f.Remote = nil
		}
		local := *ev.local
		f.Local = &local
		f.Preview = ev.preview
		f.ownsPreview = true
		f.Status = StatusPending
		f.LastError = ""

	default:
		return invalid()
	}
	return f, nil
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
