// Package snapshot builds update payloads for draft records. A payload is
// either full (every tracked field) or partial: only the fields whose
// normalized value differs from the snapshot taken when the draft was loaded.
package snapshot

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the canonical representation of date-like fields.
const DateLayout = "2006-01-02"

// Kind selects the normalization applied to a field before comparison.
type Kind int

const (
	Text Kind = iota
	Number
	Date
	Reference
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case Number:
		return "number"
	case Date:
		return "date"
	case Reference:
		return "reference"
	default:
		return "unknown"
	}
}

// Rule describes one tracked field of T.
type Rule[T any] struct {
	Field string
	Kind  Kind
	Value func(T) any
}

// Referencer is implemented by linked values that are compared by their
// external identifier rather than by their display text.
type Referencer interface {
	ReferenceID() string
}

// Patch is an update payload keyed by wire field name. A nil value is an
// explicit request to clear the field.
type Patch map[string]any

// IsEmpty reports whether the patch carries no fields at all.
func (p Patch) IsEmpty() bool {
	return len(p) == 0
}

// Cleared reports whether field is present and explicitly cleared.
func (p Patch) Cleared(field string) bool {
	v, ok := p[field]
	return ok && v == nil
}

// Fields returns the field names in the patch, sorted.
func (p Patch) Fields() []string {
	out := make([]string, 0, len(p))
	for k := range p {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Diff returns the fields of current whose normalized value differs from
// original. Fields that had a value and are now blank appear with nil.
func Diff[T any](original, current T, rules []Rule[T]) Patch {
	patch := Patch{}
	for _, rule := range rules {
		before, hadBefore := Key(rule.Kind, rule.Value(original))
		raw := rule.Value(current)
		after, hasAfter := Key(rule.Kind, raw)

		if hadBefore == hasAfter && before == after {
			continue
		}
		if !hasAfter {
			patch[rule.Field] = nil
			continue
		}
		patch[rule.Field] = payloadValue(rule.Kind, raw, after)
	}
	return patch
}

// Full returns every tracked field of current, blank fields as nil.
func Full[T any](current T, rules []Rule[T]) Patch {
	patch := make(Patch, len(rules))
	for _, rule := range rules {
		raw := rule.Value(current)
		key, ok := Key(rule.Kind, raw)
		if !ok {
			patch[rule.Field] = nil
			continue
		}
		patch[rule.Field] = payloadValue(rule.Kind, raw, key)
	}
	return patch
}

// Equal reports whether a and b normalize to the same comparison key.
func Equal(kind Kind, a, b any) bool {
	ka, okA := Key(kind, a)
	kb, okB := Key(kind, b)
	return okA == okB && ka == kb
}

// Key returns the comparison key for v. The boolean is false when v holds
// no value: nil, a nil pointer, a blank string or a zero time all map there.
func Key(kind Kind, v any) (string, bool) {
	switch kind {
	case Number:
		return numberKey(v)
	case Date:
		return dateKey(v)
	case Reference:
		return referenceKey(v)
	default:
		return textKey(v)
	}
}

func payloadValue(kind Kind, raw any, key string) any {
	switch kind {
	case Number:
		if f, err := strconv.ParseFloat(key, 64); err == nil {
			return f
		}
		return key
	case Reference:
		if _, ok := raw.(Referencer); ok {
			return raw
		}
		return key
	default:
		return key
	}
}

func textKey(v any) (string, bool) {
	var s string
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		s = t
	case *string:
		if t == nil {
			return "", false
		}
		s = *t
	case []byte:
		s = string(t)
	case json.RawMessage:
		if string(t) == "null" {
			return "", false
		}
		s = string(t)
	default:
		if n, ok := numberKey(v); ok {
			return n, true
		}
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

func numberKey(v any) (string, bool) {
	var f float64
	switch t := v.(type) {
	case nil:
		return "", false
	case float64:
		f = t
	case *float64:
		if t == nil {
			return "", false
		}
		f = *t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case *int:
		if t == nil {
			return "", false
		}
		f = float64(*t)
	case int64:
		f = float64(t)
	case json.Number:
		return numberKey(string(t))
	case string, *string:
		s, ok := textKey(t)
		if !ok {
			return "", false
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return s, true
		}
		f = parsed
	default:
		return "", false
	}
	return strconv.FormatFloat(f, 'f', -1, 64), true
}

var dateLayouts = []string{DateLayout, time.RFC3339, time.RFC3339Nano, "2006-01-02 15:04:05", "02/01/2006"}

func dateKey(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case time.Time:
		if t.IsZero() {
			return "", false
		}
		return t.Format(DateLayout), true
	case *time.Time:
		if t == nil || t.IsZero() {
			return "", false
		}
		return t.Format(DateLayout), true
	}

	s, ok := textKey(v)
	if !ok {
		return "", false
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.Format(DateLayout), true
		}
	}
	return s, true
}

func referenceKey(v any) (string, bool) {
	if r, ok := v.(Referencer); ok {
		id := strings.TrimSpace(r.ReferenceID())
		return id, id != ""
	}
	return textKey(v)
}
