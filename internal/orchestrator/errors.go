package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingVehiclePlate = errors.New("orchestrator: vehicle plate is required")
	ErrMissingReason       = errors.New("orchestrator: rejection reason is required")
	ErrSessionBusy         = errors.New("orchestrator: another save is in progress")
	ErrNoDraftID           = errors.New("orchestrator: server returned no draft id")
	// ErrUnknownFile is reported for a delete or replace of a remote file the
	// session neither loaded nor uploaded.
	ErrUnknownFile = errors.New("orchestrator: attachment does not belong to this session")
)

// ErrorKind classifies a failed save or submit.
type ErrorKind string

const (
	KindPrecondition ErrorKind = "precondition"
	KindMetadata     ErrorKind = "metadata"
	KindAttachments  ErrorKind = "attachments"
	KindTransition   ErrorKind = "transition"
	KindBusy         ErrorKind = "busy"
)

// Error is returned by SaveDraft, SubmitRecord and the review helpers.
// Message is meant to be shown to the user as is.
type Error struct {
	Kind     ErrorKind
	Message  string
	DraftID  string
	Failures []FileFailure
	Err      error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var oe *Error
	return errors.As(err, &oe) && oe.Kind == kind
}

// FileFailure identifies one attachment operation that did not succeed.
type FileFailure struct {
	Category string
	FileID   string
	Name     string
	Op       string
	Err      error
}

func (f FileFailure) String() string {
	name := f.Name
	if name == "" {
		name = f.FileID
	}
	if name == "" {
		return fmt.Sprintf("%s (%s): %v", f.Category, f.Op, f.Err)
	}
	return fmt.Sprintf("%s (%s): %v", name, f.Op, f.Err)
}

func describeFailures(failures []FileFailure) string {
	parts := make([]string, 0, len(failures))
	for _, f := range failures {
		parts = append(parts, f.String())
	}
	return strings.Join(parts, "; ")
}
