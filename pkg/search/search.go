// Package search narrows entity lists to what the operator asked to see.
// Every function is pure: it never mutates its input and keeps the input's
// order.
package search

import (
	"strings"

	"forgedash/pkg/protocol"
)

// Query is a free-text substring plus optional exact-match filters. Empty
// fields, and the filter value "all", match everything.
type Query struct {
	Text     string
	Status   string
	Kind     string
	Priority string
}

// Parse splits a search-box string into filters and text. Words of the form
// s:STATUS, k:KIND and p:PRIORITY become filters; the rest, joined by single
// spaces, is the substring.
func Parse(raw string) Query {
	var q Query
	var words []string
	for _, part := range strings.Fields(raw) {
		switch {
		case strings.HasPrefix(part, "s:"):
			q.Status = strings.TrimPrefix(part, "s:")
		case strings.HasPrefix(part, "k:"):
			q.Kind = strings.TrimPrefix(part, "k:")
		case strings.HasPrefix(part, "p:"):
			q.Priority = strings.TrimPrefix(part, "p:")
		default:
			words = append(words, part)
		}
	}
	q.Text = strings.Join(words, " ")
	return q
}

// String renders q back into search-box syntax.
func (q Query) String() string {
	var parts []string
	if q.Status != "" {
		parts = append(parts, "s:"+q.Status)
	}
	if q.Kind != "" {
		parts = append(parts, "k:"+q.Kind)
	}
	if q.Priority != "" {
		parts = append(parts, "p:"+q.Priority)
	}
	if q.Text != "" {
		parts = append(parts, q.Text)
	}
	return strings.Join(parts, " ")
}

// Empty reports whether q matches everything.
func (q Query) Empty() bool {
	return q.Text == "" && unset(q.Status) && unset(q.Kind) && unset(q.Priority)
}

// Jobs returns the jobs whose ID, kind, error or assignee name contains the
// text, and whose status, kind and priority pass the filters. The status
// filter accepts "running" for processing.
func Jobs(jobs []protocol.Job, q Query) []protocol.Job {
	status := normalizeJobStatus(q.Status)
	return filter(jobs, func(j protocol.Job) bool {
		if !unset(status) && !strings.EqualFold(string(j.Status), status) {
			return false
		}
		if !unset(q.Kind) && !strings.EqualFold(j.Kind, q.Kind) {
			return false
		}
		if !unset(q.Priority) && !strings.EqualFold(string(j.Priority), q.Priority) {
			return false
		}
		var assignee string
		if j.Assignee != nil {
			assignee = j.Assignee.WorkerName
		}
		return containsAny(q.Text, j.ID, j.Kind, j.Error, assignee)
	})
}

// DLQ returns the dead-letter entries whose ID, kind or error contains the
// text. Only the kind filter applies.
func DLQ(entries []protocol.DLQEntry, q Query) []protocol.DLQEntry {
	return filter(entries, func(e protocol.DLQEntry) bool {
		if !unset(q.Kind) && !strings.EqualFold(e.Kind, q.Kind) {
			return false
		}
		return containsAny(q.Text, e.ID, e.Kind, e.Error)
	})
}

// Workers returns the workers whose ID, name or role contains the text and
// whose status passes the filter.
func Workers(workers []protocol.Worker, q Query) []protocol.Worker {
	return filter(workers, func(w protocol.Worker) bool {
		if !unset(q.Status) && !strings.EqualFold(string(w.Status), q.Status) {
			return false
		}
		return containsAny(q.Text, w.ID, w.Name, w.Role)
	})
}

// Workflows returns the workflows whose ID or name contains the text and
// whose status passes the filter.
func Workflows(workflows []protocol.Workflow, q Query) []protocol.Workflow {
	return filter(workflows, func(w protocol.Workflow) bool {
		if !unset(q.Status) && !strings.EqualFold(string(w.Status), q.Status) {
			return false
		}
		return containsAny(q.Text, w.ID, w.Name)
	})
}

func filter[T any](items []T, keep func(T) bool) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if keep(it) {
			out = append(out, it)
		}
	}
	return out
}

// containsAny reports whether any field contains text, ignoring case. An
// empty text matches.
func containsAny(text string, fields ...string) bool {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return true
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), text) {
			return true
		}
	}
	return false
}

func unset(filter string) bool {
	return filter == "" || strings.EqualFold(filter, "all")
}

func normalizeJobStatus(s string) string {
	if unset(s) {
		return s
	}
	if st, err := protocol.ParseJobStatus(s); err == nil {
		return string(st)
	}
	return s
}
