package orchestrator

import (
	"context"
	"fmt"
	"strings"
)

// Reviewer moves a pending record to its final state.
type Reviewer interface {
	ApproveRecord(ctx context.Context, draftID string) error
	RejectRecord(ctx context.Context, draftID, reason string) error
}

// Approve accepts a pending record.
func Approve(ctx context.Context, r Reviewer, draftID string) error {
	if err := r.ApproveRecord(ctx, draftID); err != nil {
		return &Error{Kind: KindTransition, Message: fmt.Sprintf("Could not approve the record: %v", err), DraftID: draftID, Err: err}
	}
	return nil
}

// Reject returns a pending record to its author. A reason is required.
func Reject(ctx context.Context, r Reviewer, draftID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return &Error{Kind: KindPrecondition, Message: "A rejection reason is required.", DraftID: draftID, Err: ErrMissingReason}
	}
	if err := r.RejectRecord(ctx, draftID, reason); err != nil {
		return &Error{Kind: KindTransition, Message: fmt.Sprintf("Could not reject the record: %v", err), DraftID: draftID, Err: err}
	}
	return nil
}
