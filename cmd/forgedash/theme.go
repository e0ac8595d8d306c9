package main

import (
	"strings"

	"forgedash/pkg/protocol"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines the visual styling for the dashboard.
type Theme struct {
	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Success   lipgloss.Color
	Warning   lipgloss.Color
	Error     lipgloss.Color
	Muted     lipgloss.Color
}

// DefaultTheme returns the default theme.
func DefaultTheme() Theme {
	return Theme{
		Primary:   lipgloss.Color("12"),  // Blue
		Secondary: lipgloss.Color("14"),  // Cyan
		Success:   lipgloss.Color("10"),  // Green
		Warning:   lipgloss.Color("11"),  // Yellow
		Error:     lipgloss.Color("9"),   // Red
		Muted:     lipgloss.Color("240"), // Gray
	}
}

// JobStatusColor picks the badge color for a job status.
func (t Theme) JobStatusColor(s protocol.JobStatus) lipgloss.Color {
	switch s {
	case protocol.JobCompleted:
		return t.Success
	case protocol.JobProcessing:
		return t.Primary
	case protocol.JobFailed:
		return t.Error
	case protocol.JobRetrying:
		return t.Warning
	}
	return t.Muted
}

// WorkerStatusColor picks the badge color for a worker status.
func (t Theme) WorkerStatusColor(s protocol.WorkerStatus) lipgloss.Color {
	switch s {
	case protocol.WorkerOnline:
		return t.Success
	case protocol.WorkerBusy:
		return t.Warning
	}
	return t.Muted
}

// WorkflowStatusColor picks the badge color for a workflow status.
func (t Theme) WorkflowStatusColor(s protocol.WorkflowStatus) lipgloss.Color {
	switch s {
	case protocol.WorkflowCompleted:
		return t.Success
	case protocol.WorkflowRunning:
		return t.Primary
	case protocol.WorkflowFailed:
		return t.Error
	}
	return t.Warning
}

// PriorityColor picks the color for a job priority.
func (t Theme) PriorityColor(p protocol.Priority) lipgloss.Color {
	switch p {
	case protocol.PriorityCritical:
		return t.Error
	case protocol.PriorityHigh:
		return t.Warning
	case protocol.PriorityLow:
		return t.Muted
	}
	return t.Secondary
}

// progressBar renders pct (0-100) as a bar of the given width.
func progressBar(pct, width int) string {
	pct = min(max(pct, 0), 100)
	filled := pct * width / 100
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
