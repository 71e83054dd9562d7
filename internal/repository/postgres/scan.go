package postgres

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"wastedraft/internal/record"
	"wastedraft/internal/snapshot"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func placeholders(start, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("$%d", start+i)
	}
	return out
}

func statusIn(start int, statuses []record.Status) (string, []any) {
	ph := placeholders(start, len(statuses))
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = s
	}
	return strings.Join(ph, ","), args
}

func concat(parts ...[]string) []string {
	var out []string
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func formatDate(nt sql.NullTime) string {
	if !nt.Valid {
		return ""
	}
	return nt.Time.Format(snapshot.DateLayout)
}
