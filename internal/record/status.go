package record

// Status is the review lifecycle of a record.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

var transitions = map[Status][]Status{
	StatusDraft:    {StatusPending},
	StatusRejected: {StatusPending},
	StatusPending:  {StatusApproved, StatusRejected},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Editable reports whether the owner may still change fields and files.
// Rejected records go back to their owner for correction.
func (s Status) Editable() bool {
	return s == StatusDraft || s == StatusRejected
}

// CanTransition reports whether to is reachable from s in one step.
func (s Status) CanTransition(to Status) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Sources returns the statuses from which to can be reached.
func Sources(to Status) []Status {
	var out []Status
	for _, from := range []Status{StatusDraft, StatusPending, StatusApproved, StatusRejected} {
		if from.CanTransition(to) {
			out = append(out, from)
		}
	}
	return out
}
