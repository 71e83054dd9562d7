package staging

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCapacityExceeded is matched by *CapacityError.
	ErrCapacityExceeded = errors.New("staging: attachment limit reached")
	// ErrInvalidFile is matched by *ValidationError.
	ErrInvalidFile = errors.New("staging: invalid file")
)

// CapacityError reports files dropped because the group was full.
type CapacityError struct {
	Capacity int
	Dropped  int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("at most %d attachments allowed, %d file(s) not added", e.Capacity, e.Dropped)
}

func (e *CapacityError) Is(target error) bool {
	return target == ErrCapacityExceeded
}

// Rejection names a file refused by validation.
type Rejection struct {
	Name   string
	Reason string
}

// ValidationError lists files refused by validation.
type ValidationError struct {
	Rejected []Rejection
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Rejected))
	for _, r := range e.Rejected {
		parts = append(parts, fmt.Sprintf("%q: %s", r.Name, r.Reason))
	}
	return "files not added: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidFile
}

// Validator checks one file before it is staged.
type Validator func(LocalFile) error

// MaxSize refuses empty files and files larger than limit bytes.
func MaxSize(limit int64) Validator {
	return func(f LocalFile) error {
		switch {
		case f.Size() == 0:
			return errors.New("file is empty")
		case limit > 0 && f.Size() > limit:
			return fmt.Errorf("file exceeds %d bytes", limit)
		default:
			return nil
		}
	}
}

// AllowTypes refuses files whose MIME type is not listed. A trailing
// wildcard such as "image/*" matches the whole family.
func AllowTypes(types ...string) Validator {
	return func(f LocalFile) error {
		mt := strings.ToLower(strings.TrimSpace(f.MimeType))
		for _, t := range types {
			t = strings.ToLower(strings.TrimSpace(t))
			if t == mt {
				return nil
			}
			if prefix, ok := strings.CutSuffix(t, "*"); ok && strings.HasPrefix(mt, prefix) {
				return nil
			}
		}
		return fmt.Errorf("type %q is not allowed", f.MimeType)
	}
}
