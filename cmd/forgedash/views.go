package main

import (
	"fmt"
	"strings"
	"time"

	"forgedash/pkg/protocol"

	"github.com/charmbracelet/lipgloss"
)

// View implements tea.Model.
func (m Model) View() string {
	theme := DefaultTheme()
	var body string
	switch m.activeView {
	case JobsView:
		body = m.renderJobs(theme)
	case WorkersView:
		body = m.renderWorkers(theme)
	case WorkflowsView:
		body = m.renderWorkflows(theme)
	case DLQView:
		body = m.renderDLQ(theme)
	default:
		body = m.renderOverview(theme)
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderTabs(theme),
		body,
		m.renderFooter(theme),
	)
}

func (m Model) renderTabs(theme Theme) string {
	active := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ffffff")).Background(theme.Primary).Padding(0, 1)
	inactive := lipgloss.NewStyle().Foreground(theme.Muted).Padding(0, 1)

	parts := []string{lipgloss.NewStyle().Bold(true).Foreground(theme.Secondary).Render("forgedash")}
	for v := ViewType(0); v < viewCount; v++ {
		label := fmt.Sprintf("%d %s", v+1, viewNames[v])
		if v == m.activeView {
			parts = append(parts, active.Render(label))
		} else {
			parts = append(parts, inactive.Render(label))
		}
	}
	line := strings.Join(parts, " ")
	if !m.query.Empty() {
		line += lipgloss.NewStyle().Foreground(theme.Warning).Render("  filter: " + m.query.String())
	}
	return line + "\n"
}

// --- overview ---

func (m Model) renderOverview(theme Theme) string {
	s := m.summary
	cards := lipgloss.JoinHorizontal(lipgloss.Top,
		statCard(theme, "Total Jobs", fmt.Sprintf("%d", s.TotalJobs), theme.Primary),
		statCard(theme, "Processing", fmt.Sprintf("%d", s.Jobs[protocol.JobProcessing]), theme.Primary),
		statCard(theme, "Completed", fmt.Sprintf("%d", s.Jobs[protocol.JobCompleted]), theme.Success),
		statCard(theme, "Failed", fmt.Sprintf("%d", s.Jobs[protocol.JobFailed]), theme.Error),
		statCard(theme, "DLQ", fmt.Sprintf("%d", s.DLQDepth), theme.Warning),
		statCard(theme, "Success", fmt.Sprintf("%.1f%%", s.SuccessRate), theme.Success),
	)
	workers := fmt.Sprintf("Workers: %d total  %s  %s  %s  | assigned jobs: %d",
		s.TotalWorkers,
		lipgloss.NewStyle().Foreground(theme.Success).Render(fmt.Sprintf("%d online", s.Workers[protocol.WorkerOnline])),
		lipgloss.NewStyle().Foreground(theme.Warning).Render(fmt.Sprintf("%d busy", s.Workers[protocol.WorkerBusy])),
		lipgloss.NewStyle().Foreground(theme.Muted).Render(fmt.Sprintf("%d offline", s.Workers[protocol.WorkerOffline])),
		s.AssignedJobs,
	)
	queue := fmt.Sprintf("Queue: %d queued  %d retrying  | by priority: critical %d  high %d  medium %d  low %d",
		s.Jobs[protocol.JobQueued], s.Jobs[protocol.JobRetrying],
		s.JobsByPriority[protocol.PriorityCritical], s.JobsByPriority[protocol.PriorityHigh],
		s.JobsByPriority[protocol.PriorityMedium], s.JobsByPriority[protocol.PriorityLow],
	)

	var sb strings.Builder
	sb.WriteString(sectionTitle(theme, "Workflow Progress"))
	if len(s.Workflows) == 0 {
		sb.WriteString(lipgloss.NewStyle().Foreground(theme.Muted).Render("No workflows"))
		sb.WriteString("\n")
	}
	for _, wf := range s.Workflows {
		fmt.Fprintf(&sb, "%-28s %s %3d%%  %s\n",
			truncate(wf.Name, 28), progressBar(wf.Progress, 20), wf.Progress,
			lipgloss.NewStyle().Foreground(theme.WorkflowStatusColor(wf.Status)).Render(string(wf.Status)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, cards, "", workers, queue, "", sb.String(), m.renderThroughput(theme))
}

// throughputRows is how many recent hours the overview lists.
const throughputRows = 6

func (m Model) renderThroughput(theme Theme) string {
	var sb strings.Builder
	sb.WriteString(sectionTitle(theme, "Throughput (per hour, UTC)"))
	buckets := m.summary.Throughput
	if len(buckets) == 0 {
		sb.WriteString(lipgloss.NewStyle().Foreground(theme.Muted).Render("No activity yet"))
		return sb.String()
	}
	if len(buckets) > throughputRows {
		buckets = buckets[len(buckets)-throughputRows:]
	}
	for _, b := range buckets {
		fmt.Fprintf(&sb, "%s  %s  %s  %s\n",
			b.Hour.Format("15:04"),
			lipgloss.NewStyle().Foreground(theme.Secondary).Render(fmt.Sprintf("%3d queued", b.Queued)),
			lipgloss.NewStyle().Foreground(theme.Success).Render(fmt.Sprintf("%3d completed", b.Completed)),
			lipgloss.NewStyle().Foreground(theme.Error).Render(fmt.Sprintf("%3d failed", b.Failed)),
		)
	}
	return sb.String()
}

func statCard(theme Theme, label, value string, color lipgloss.Color) string {
	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(theme.Muted).
		Padding(0, 1).
		Width(14)
	return style.Render(
		lipgloss.NewStyle().Foreground(theme.Muted).Render(label) + "\n" +
			lipgloss.NewStyle().Bold(true).Foreground(color).Render(value),
	)
}

func sectionTitle(theme Theme, title string) string {
	return lipgloss.NewStyle().Bold(true).Foreground(theme.Primary).Render(title) + "\n"
}

// --- tables ---

type column struct {
	title string
	width int
}

func renderHeader(theme Theme, cols []column) string {
	style := lipgloss.NewStyle().Bold(true).Foreground(theme.Primary)
	parts := make([]string, len(cols))
	total := 0
	for i, c := range cols {
		parts[i] = style.Render(fmt.Sprintf("%-*s", c.width, c.title))
		total += c.width + 1
	}
	return "  " + strings.Join(parts, " ") + "\n" + strings.Repeat("─", total+1) + "\n"
}

// renderRow pads each cell before styling so ANSI codes do not skew widths.
func renderRow(selected bool, cols []column, cells []string, colors []lipgloss.Color) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		text := fmt.Sprintf("%-*s", c.width, truncate(cells[i], c.width))
		if i < len(colors) && colors[i] != "" {
			text = lipgloss.NewStyle().Foreground(colors[i]).Render(text)
		}
		parts[i] = text
	}
	line := strings.Join(parts, " ")
	if selected {
		return lipgloss.NewStyle().Bold(true).Render("▸ "+line) + "\n"
	}
	return "  " + line + "\n"
}

func emptyState(theme Theme, what string) string {
	return lipgloss.NewStyle().Foreground(theme.Muted).Padding(1, 2).Render(what)
}

var jobColumns = []column{ //nolint:gochecknoglobals // read-only table
	{"ID", 16}, {"Kind", 16}, {"Status", 10}, {"Priority", 8},
	{"Assignee", 16}, {"Time", 10}, {"Error", 28},
}

func (m Model) renderJobs(theme Theme) string {
	jobs := m.visibleJobs()
	if len(jobs) == 0 {
		return emptyState(theme, "No jobs match. Press n to create one.")
	}
	var sb strings.Builder
	sb.WriteString(renderHeader(theme, jobColumns))
	for i, j := range jobs {
		assignee := "—"
		if j.Assignee != nil {
			assignee = j.Assignee.WorkerName
			if assignee == "" {
				assignee = j.Assignee.WorkerID
			}
		}
		cells := []string{j.ID, j.Kind, string(j.Status), string(j.Priority), assignee, m.jobTime(j), j.Error}
		colors := []lipgloss.Color{"", "", theme.JobStatusColor(j.Status), theme.PriorityColor(j.Priority), "", theme.Muted, theme.Error}
		sb.WriteString(renderRow(i == m.cursor[JobsView], jobColumns, cells, colors))
	}
	return sb.String()
}

// jobTime shows the duration of finished jobs and the age of the rest.
func (m Model) jobTime(j protocol.Job) string {
	if j.Duration != nil {
		return formatDuration(*j.Duration)
	}
	if j.CreatedAt.IsZero() {
		return ""
	}
	return ago(m.nowFunc(), j.CreatedAt)
}

var workerColumns = []column{ //nolint:gochecknoglobals // read-only table
	{"ID", 12}, {"Name", 18}, {"Role", 16}, {"Status", 8},
	{"Jobs", 5}, {"Done", 5}, {"Failed", 6}, {"Avg", 8}, {"Success", 8},
}

func (m Model) renderWorkers(theme Theme) string {
	workers := m.visibleWorkers()
	if len(workers) == 0 {
		return emptyState(theme, "No workers. Configure a roster file or database.")
	}
	var sb strings.Builder
	sb.WriteString(renderHeader(theme, workerColumns))
	for i, w := range workers {
		cells := []string{
			w.ID, w.DisplayName(), w.Role, string(w.Status),
			fmt.Sprintf("%d", w.AssignedJobs), fmt.Sprintf("%d", w.CompletedToday), fmt.Sprintf("%d", w.FailedToday),
			formatDuration(w.AvgCompletion), fmt.Sprintf("%.1f%%", w.SuccessRate),
		}
		colors := []lipgloss.Color{"", "", theme.Muted, theme.WorkerStatusColor(w.Status)}
		sb.WriteString(renderRow(i == m.cursor[WorkersView], workerColumns, cells, colors))
	}
	return sb.String()
}

var workflowColumns = []column{ //nolint:gochecknoglobals // read-only table
	{"ID", 16}, {"Name", 24}, {"Status", 10}, {"Progress", 27}, {"Nodes", 7}, {"Created", 8},
}

func (m Model) renderWorkflows(theme Theme) string {
	workflows := m.visibleWorkflows()
	if len(workflows) == 0 {
		return emptyState(theme, "No workflows. Press w to submit a DAG file.")
	}
	var sb strings.Builder
	sb.WriteString(renderHeader(theme, workflowColumns))
	for i, wf := range workflows {
		created := ""
		if !wf.CreatedAt.IsZero() {
			created = ago(m.nowFunc(), wf.CreatedAt)
		}
		cells := []string{
			wf.ID, wf.Name, string(wf.Status),
			fmt.Sprintf("%s %3d%%", progressBar(wf.Progress, 20), wf.Progress),
			fmt.Sprintf("%d/%d", wf.NodesCompleted, wf.NodesTotal), created,
		}
		colors := []lipgloss.Color{"", "", theme.WorkflowStatusColor(wf.Status), theme.Secondary, "", theme.Muted}
		sb.WriteString(renderRow(i == m.cursor[WorkflowsView], workflowColumns, cells, colors))
	}
	return sb.String()
}

var dlqColumns = []column{ //nolint:gochecknoglobals // read-only table
	{"ID", 16}, {"Kind", 16}, {"Error", 36}, {"Retries", 7}, {"Failed", 8},
}

func (m Model) renderDLQ(theme Theme) string {
	entries := m.visibleDLQ()
	if len(entries) == 0 {
		return emptyState(theme, "Dead letter queue is empty.")
	}
	var sb strings.Builder
	sb.WriteString(renderHeader(theme, dlqColumns))
	for i, e := range entries {
		failed := ""
		if !e.FailedAt.IsZero() {
			failed = ago(m.nowFunc(), e.FailedAt)
		}
		cells := []string{e.ID, e.Kind, e.Error, fmt.Sprintf("%d", e.Retries), failed}
		colors := []lipgloss.Color{"", "", theme.Error, "", theme.Muted}
		sb.WriteString(renderRow(i == m.cursor[DLQView], dlqColumns, cells, colors))
	}
	return sb.String()
}

// --- footer ---

func (m Model) renderFooter(theme Theme) string {
	muted := lipgloss.NewStyle().Foreground(theme.Muted)

	var line string
	switch m.mode {
	case modeSearch, modeNewJob, modeSubmitDAG:
		line = m.input.View()
	case modeAssign:
		line = m.renderAssignPrompt(theme)
	default:
		switch {
		case m.status == "":
		case m.statusErr:
			line = lipgloss.NewStyle().Foreground(theme.Error).Render(m.status)
		default:
			line = lipgloss.NewStyle().Foreground(theme.Success).Render(m.status)
		}
	}
	return "\n" + line + "\n" + muted.Render(m.helpLine())
}

func (m Model) renderAssignPrompt(theme Theme) string {
	job, _ := m.selectedJob()
	parts := []string{"assign " + job.ID + " to:"}
	for i, w := range m.eligibleWorkers() {
		if i == 9 {
			break
		}
		label := fmt.Sprintf("%d %s", i+1, w.DisplayName())
		parts = append(parts, lipgloss.NewStyle().Foreground(theme.WorkerStatusColor(w.Status)).Render(label))
	}
	return strings.Join(parts, "  ") + lipgloss.NewStyle().Foreground(theme.Muted).Render("  (esc cancels)")
}

func (m Model) helpLine() string {
	switch m.mode {
	case modeSearch:
		return "enter keep filter • esc clear"
	case modeNewJob, modeSubmitDAG:
		return "enter submit • esc cancel"
	case modeAssign:
		return "1-9 pick worker • any other key cancels"
	}
	common := "1-5 views • / search • j/k move • n new job • w submit dag • q quit"
	switch m.activeView {
	case JobsView:
		return "a assign • s start • c complete • x fail • r retry • d delete • " + common
	case DLQView:
		return "r retry • d purge • R retry all • P purge all • " + common
	}
	return common
}

// --- formatting ---

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "—"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}

// ago renders the time since t at the precision a dashboard needs.
func ago(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < 0:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(d.Hours()/24))
}
