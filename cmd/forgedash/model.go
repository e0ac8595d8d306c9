package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"forgedash/pkg/dag"
	"forgedash/pkg/dispatcher"
	"forgedash/pkg/protocol"
	"forgedash/pkg/search"
	"forgedash/pkg/stats"
	"forgedash/pkg/store"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// ViewType represents the dashboard views, bound to keys 1-5.
type ViewType int

const (
	// OverviewView shows stat cards and workflow progress.
	OverviewView ViewType = iota
	// JobsView lists jobs.
	JobsView
	// WorkersView lists workers with their counters.
	WorkersView
	// WorkflowsView lists workflow runs.
	WorkflowsView
	// DLQView lists the dead letter queue.
	DLQView

	viewCount
)

var viewNames = [viewCount]string{"Overview", "Jobs", "Workers", "Workflows", "DLQ"} //nolint:gochecknoglobals // read-only table

type inputMode int

const (
	modeNormal inputMode = iota
	modeSearch
	modeNewJob
	modeAssign
	modeSubmitDAG
)

// storeMsg carries a store commit into the program.
type storeMsg store.Event

// resultMsg reports the outcome of an operator intent.
type resultMsg struct {
	intent string
	detail string
	err    error
}

// clockMsg refreshes relative times.
type clockMsg time.Time

// Model is the Bubble Tea model for the dashboard.
type Model struct {
	disp    *dispatcher.Dispatcher
	events  <-chan store.Event
	refresh time.Duration
	nowFunc func() time.Time

	snap    store.Snapshot
	summary stats.Summary

	activeView ViewType
	mode       inputMode
	cursor     [viewCount]int

	query search.Query
	input textinput.Model

	status    string
	statusErr bool

	width  int
	height int
}

// newModel creates a Model showing the overview. events delivers store
// commits; it may be nil in tests.
func newModel(d *dispatcher.Dispatcher, events <-chan store.Event, refresh time.Duration) Model {
	ti := textinput.New()
	ti.CharLimit = 256
	m := Model{
		disp:    d,
		events:  events,
		refresh: refresh,
		nowFunc: time.Now,
		input:   ti,
	}
	return m.withSnapshot(d.Store().Snapshot())
}

// subscribe forwards store commits to a channel without ever blocking the
// committing goroutine: when the program lags, only the newest event is
// kept.
func subscribe(s *store.Store) (<-chan store.Event, func()) {
	ch := make(chan store.Event, 1)
	cancel := s.Subscribe(func(ev store.Event) {
		for {
			select {
			case ch <- ev:
				return
			default:
			}
			select {
			case <-ch:
			default:
			}
		}
	})
	return ch, cancel
}

func waitForEvent(ch <-chan store.Event) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return storeMsg(ev)
	}
}

func clockCmd(d time.Duration) tea.Cmd {
	if d <= 0 {
		return nil
	}
	return tea.Tick(d, func(t time.Time) tea.Msg { return clockMsg(t) })
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.events), clockCmd(m.refresh))
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case storeMsg:
		m = m.withSnapshot(msg.Snapshot)
		return m, waitForEvent(m.events)

	case resultMsg:
		m = m.withResult(msg)

	case clockMsg:
		return m, clockCmd(m.refresh)
	}
	return m, nil
}

func (m Model) withSnapshot(snap store.Snapshot) Model {
	m.snap = snap
	m.summary = stats.Compute(snap)
	return m.clampCursors()
}

func (m Model) withResult(r resultMsg) Model {
	if r.err != nil {
		m.status = fmt.Sprintf("%s: %v", r.intent, r.err)
		m.statusErr = true
		return m
	}
	m.status = r.detail
	m.statusErr = false
	return m
}

func (m Model) clampCursors() Model {
	for v := ViewType(0); v < viewCount; v++ {
		n := m.rowCount(v)
		if m.cursor[v] >= n {
			m.cursor[v] = max(n-1, 0)
		}
	}
	return m
}

// --- rows ---

func (m Model) visibleJobs() []protocol.Job {
	return search.Jobs(m.snap.Jobs, m.query)
}

func (m Model) visibleWorkers() []protocol.Worker {
	return search.Workers(m.snap.Workers, m.query)
}

func (m Model) visibleWorkflows() []protocol.Workflow {
	return search.Workflows(m.snap.Workflows, m.query)
}

func (m Model) visibleDLQ() []protocol.DLQEntry {
	return search.DLQ(m.snap.DLQ, m.query)
}

func (m Model) rowCount(v ViewType) int {
	switch v {
	case JobsView:
		return len(m.visibleJobs())
	case WorkersView:
		return len(m.visibleWorkers())
	case WorkflowsView:
		return len(m.visibleWorkflows())
	case DLQView:
		return len(m.visibleDLQ())
	}
	return 0
}

func (m Model) selectedJob() (protocol.Job, bool) {
	jobs := m.visibleJobs()
	i := m.cursor[JobsView]
	if i < 0 || i >= len(jobs) {
		return protocol.Job{}, false
	}
	return jobs[i], true
}

func (m Model) selectedDLQ() (protocol.DLQEntry, bool) {
	entries := m.visibleDLQ()
	i := m.cursor[DLQView]
	if i < 0 || i >= len(entries) {
		return protocol.DLQEntry{}, false
	}
	return entries[i], true
}

// eligibleWorkers lists the workers an assignment may target, in roster
// order. The nth entry is picked with digit n in assign mode.
func (m Model) eligibleWorkers() []protocol.Worker {
	var out []protocol.Worker
	for _, w := range m.snap.Workers {
		if w.Available() {
			out = append(out, w)
		}
	}
	return out
}

// --- keys ---

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		return m, tea.Quit
	}

	switch m.mode {
	case modeSearch:
		return m.handleSearchKeys(msg)
	case modeNewJob, modeSubmitDAG:
		return m.handleFormKeys(msg)
	case modeAssign:
		return m.handleAssignKeys(key)
	}
	return m.handleNormalKeys(key)
}

func (m Model) handleNormalKeys(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "q":
		return m, tea.Quit
	case "1", "2", "3", "4", "5":
		m.activeView = ViewType(key[0] - '1')
	case "tab":
		m.activeView = (m.activeView + 1) % viewCount
	case "shift+tab":
		m.activeView = (m.activeView + viewCount - 1) % viewCount
	case "j", "down":
		if m.cursor[m.activeView] < m.rowCount(m.activeView)-1 {
			m.cursor[m.activeView]++
		}
	case "k", "up":
		if m.cursor[m.activeView] > 0 {
			m.cursor[m.activeView]--
		}
	case "/":
		return m.openInput(modeSearch, "/ ", "text s:status k:kind p:priority", m.query.String())
	case "esc":
		m.query = search.Query{}
		m = m.clampCursors()
	case "n":
		m.activeView = JobsView
		return m.openInput(modeNewJob, "new job> ", "kind [p:priority] [description]", "")
	case "w":
		m.activeView = WorkflowsView
		return m.openInput(modeSubmitDAG, "dag file> ", "path/to/workflow.yaml", "")
	case "a":
		return m.startAssign()
	case "s", "c", "x", "r", "d":
		return m, m.selectionIntent(key)
	case "R":
		return m, m.intentCmd(dispatcher.IntentRetryAll, func() (string, error) {
			jobs, err := m.disp.RetryAll()
			return fmt.Sprintf("requeued %d dead-lettered jobs", len(jobs)), err
		})
	case "P":
		return m, m.intentCmd(dispatcher.IntentPurgeAll, func() (string, error) {
			n, err := m.disp.PurgeAll()
			return fmt.Sprintf("purged %d dead-letter entries", n), err
		})
	}
	return m, nil
}

// selectionIntent maps a key to an intent on the selected row.
func (m Model) selectionIntent(key string) tea.Cmd {
	if m.activeView == DLQView {
		entry, ok := m.selectedDLQ()
		if !ok {
			return nil
		}
		switch key {
		case "r":
			return m.jobIntent(dispatcher.IntentRetry, entry.ID, m.disp.Retry, "requeued")
		case "d":
			return m.intentCmd(dispatcher.IntentPurge, func() (string, error) {
				return "purged " + entry.ID, m.disp.Purge(entry.ID)
			})
		}
		return nil
	}

	if m.activeView != JobsView {
		return nil
	}
	job, ok := m.selectedJob()
	if !ok {
		return nil
	}
	switch key {
	case "s":
		return m.jobIntent(dispatcher.IntentStart, job.ID, m.disp.Start, "started")
	case "c":
		return m.jobIntent(dispatcher.IntentComplete, job.ID, m.disp.Complete, "completed")
	case "x":
		return m.jobIntent(dispatcher.IntentFail, job.ID, func(id string) (protocol.Job, error) {
			return m.disp.Fail(id, "")
		}, "failed")
	case "r":
		return m.jobIntent(dispatcher.IntentRetry, job.ID, m.disp.Retry, "requeued")
	case "d":
		return m.intentCmd(dispatcher.IntentDelete, func() (string, error) {
			return "deleted " + job.ID, m.disp.Delete(job.ID)
		})
	}
	return nil
}

func (m Model) jobIntent(intent, id string, fn func(string) (protocol.Job, error), verb string) tea.Cmd {
	return m.intentCmd(intent, func() (string, error) {
		job, err := fn(id)
		return fmt.Sprintf("%s %s", verb, job.ID), err
	})
}

func (m Model) intentCmd(intent string, fn func() (string, error)) tea.Cmd {
	return func() tea.Msg {
		detail, err := fn()
		return resultMsg{intent: intent, detail: detail, err: err}
	}
}

func (m Model) startAssign() (tea.Model, tea.Cmd) {
	if m.activeView != JobsView {
		return m, nil
	}
	if _, ok := m.selectedJob(); !ok {
		return m, nil
	}
	if len(m.eligibleWorkers()) == 0 {
		m.status, m.statusErr = "assign: no worker is available", true
		return m, nil
	}
	m.mode = modeAssign
	return m, nil
}

func (m Model) handleAssignKeys(key string) (tea.Model, tea.Cmd) {
	m.mode = modeNormal
	if len(key) != 1 || key[0] < '1' || key[0] > '9' {
		return m, nil
	}
	workers := m.eligibleWorkers()
	n := int(key[0] - '1')
	job, ok := m.selectedJob()
	if !ok || n >= len(workers) {
		return m, nil
	}
	worker := workers[n]
	return m, m.intentCmd(dispatcher.IntentAssign, func() (string, error) {
		_, err := m.disp.Assign(job.ID, worker.ID)
		return fmt.Sprintf("assigned %s to %s", job.ID, worker.DisplayName()), err
	})
}

func (m Model) openInput(mode inputMode, prompt, placeholder, value string) (tea.Model, tea.Cmd) {
	m.mode = mode
	m.input.Prompt = prompt
	m.input.Placeholder = placeholder
	m.input.SetValue(value)
	m.input.CursorEnd()
	return m, m.input.Focus()
}

func (m Model) closeInput() Model {
	m.mode = modeNormal
	m.input.Blur()
	m.input.SetValue("")
	return m
}

// handleSearchKeys filters live as the query is typed. Enter keeps the
// query, esc drops it.
func (m Model) handleSearchKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		return m.closeInput(), nil
	case "esc":
		m.query = search.Query{}
		return m.closeInput().clampCursors(), nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	m.query = search.Parse(m.input.Value())
	return m.clampCursors(), cmd
}

func (m Model) handleFormKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		return m.closeInput(), nil
	case "enter":
		value := strings.TrimSpace(m.input.Value())
		mode := m.mode
		m = m.closeInput()
		if value == "" {
			return m, nil
		}
		if mode == modeNewJob {
			req := parseJobForm(value)
			return m, m.intentCmd(dispatcher.IntentCreateJob, func() (string, error) {
				job, err := m.disp.CreateJob(req)
				return "created " + job.ID, err
			})
		}
		return m, m.submitDAGCmd(value)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submitDAGCmd loads and submits a definition. The pending workflow shows
// up through the store right away; the command resolves once the backend
// has answered.
func (m Model) submitDAGCmd(path string) tea.Cmd {
	return m.intentCmd(dispatcher.IntentCreateWorkflow, func() (string, error) {
		def, err := dag.Load(path)
		if err != nil {
			return "", err
		}
		id, sub, err := m.disp.CreateWorkflow(context.Background(), def)
		if err != nil {
			return "", err
		}
		final, err := sub.Wait(context.Background())
		if err != nil {
			return "", fmt.Errorf("workflow %s: %w", id, err)
		}
		return "workflow " + final + " accepted", nil
	})
}

// parseJobForm reads "kind [p:priority] [description...]".
func parseJobForm(s string) dispatcher.JobRequest {
	var req dispatcher.JobRequest
	var desc []string
	for _, word := range strings.Fields(s) {
		switch {
		case strings.HasPrefix(word, "p:"):
			req.Priority = strings.TrimPrefix(word, "p:")
		case req.Kind == "":
			req.Kind = word
		default:
			desc = append(desc, word)
		}
	}
	req.Description = strings.Join(desc, " ")
	return req
}
