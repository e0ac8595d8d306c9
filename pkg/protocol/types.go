// Package protocol defines the entities shared by the forgedash store,
// dispatcher, statistics, search, and presentation packages, together with
// the error taxonomy every intent reports through.
package protocol

import (
	"fmt"
	"strings"
	"time"
)

// Kind names an entity collection in the store.
type Kind string

// Entity kinds.
const (
	KindJob      Kind = "job"
	KindWorker   Kind = "worker"
	KindWorkflow Kind = "workflow"
	KindDLQ      Kind = "dlq"
)

// Entity is anything the store can hold.
type Entity interface {
	EntityID() string
	EntityKind() Kind
}

// --- Jobs ---

// JobStatus is the lifecycle state of a job.
type JobStatus string

// Job status constants.
const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobRetrying   JobStatus = "retrying"
)

// ParseJobStatus accepts the canonical names plus "running", which the
// backend and older clients use for processing.
func ParseJobStatus(s string) (JobStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "queued":
		return JobQueued, nil
	case "processing", "running":
		return JobProcessing, nil
	case "completed":
		return JobCompleted, nil
	case "failed":
		return JobFailed, nil
	case "retrying":
		return JobRetrying, nil
	}
	return "", fmt.Errorf("%w: unknown job status %q", ErrInvalidInput, s)
}

// UnmarshalText lets JSON, YAML and TOML decoders accept status aliases.
func (s *JobStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseJobStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Terminal reports whether no further processing happens without a retry.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Priority orders jobs for the operator; the backend owns actual scheduling.
type Priority string

// Priority constants.
const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Priorities lists every priority from most to least urgent.
var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow} //nolint:gochecknoglobals // read-only table

// ParsePriority parses a priority name. An empty string yields medium, the
// default the job creation form starts with.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	case "medium":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	}
	return "", fmt.Errorf("%w: unknown priority %q", ErrInvalidInput, s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(text []byte) error {
	parsed, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Assignee is a weak back-reference from a job to the worker handling it.
type Assignee struct {
	WorkerID   string `json:"worker_id" yaml:"worker_id" toml:"worker_id"`
	WorkerName string `json:"worker_name" yaml:"worker_name" toml:"worker_name"`
}

// Job is a single unit of work tracked by the dashboard.
type Job struct {
	ID          string         `json:"id" yaml:"id" toml:"id"`
	Kind        string         `json:"kind" yaml:"kind" toml:"kind"`
	Status      JobStatus      `json:"status" yaml:"status" toml:"status"`
	Priority    Priority       `json:"priority" yaml:"priority" toml:"priority"`
	CreatedAt   time.Time      `json:"created_at" yaml:"created_at" toml:"created_at"`
	StartedAt   time.Time      `json:"started_at,omitzero" yaml:"started_at,omitempty" toml:"started_at,omitempty"`
	FinishedAt  time.Time      `json:"finished_at,omitzero" yaml:"finished_at,omitempty" toml:"finished_at,omitempty"`
	Duration    *time.Duration `json:"duration,omitempty" yaml:"duration,omitempty" toml:"duration,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`
	Assignee    *Assignee      `json:"assignee,omitempty" yaml:"assignee,omitempty" toml:"assignee,omitempty"`
	Error       string         `json:"error,omitempty" yaml:"error,omitempty" toml:"error,omitempty"`
	Payload     map[string]any `json:"payload,omitempty" yaml:"payload,omitempty" toml:"payload,omitempty"`
}

// EntityID implements Entity.
func (j Job) EntityID() string { return j.ID }

// EntityKind implements Entity.
func (j Job) EntityKind() Kind { return KindJob }

// AssignedTo reports whether the job references workerID.
func (j Job) AssignedTo(workerID string) bool {
	return j.Assignee != nil && j.Assignee.WorkerID == workerID
}

// Active reports whether the job counts against its assignee's load.
func (j Job) Active() bool {
	return j.Assignee != nil && !j.Status.Terminal()
}

// Clone returns a copy that shares no pointers with j.
func (j Job) Clone() Job {
	out := j
	if j.Duration != nil {
		d := *j.Duration
		out.Duration = &d
	}
	if j.Assignee != nil {
		a := *j.Assignee
		out.Assignee = &a
	}
	out.Payload = clonePayload(j.Payload)
	return out
}

// Normalize enforces the job invariants on any upsert. A completed job always
// carries a duration: when the backend reports completion without one, it is
// derived from the start time, or zero when that is unknown. A processing job
// without an assignee is demoted to queued.
func (j Job) Normalize(now time.Time) Job {
	if j.Status == JobProcessing && j.Assignee == nil {
		j.Status = JobQueued
		j.StartedAt = time.Time{}
	}
	if j.Status == JobCompleted && j.Duration == nil {
		var d time.Duration
		if !j.StartedAt.IsZero() && now.After(j.StartedAt) {
			d = now.Sub(j.StartedAt)
		}
		j.Duration = &d
	}
	return j
}

// --- Workers ---

// WorkerStatus is the availability of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerOnline  WorkerStatus = "online"
	WorkerBusy    WorkerStatus = "busy"
	WorkerOffline WorkerStatus = "offline"
)

// ParseWorkerStatus parses a worker status name.
func ParseWorkerStatus(s string) (WorkerStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "online", "":
		return WorkerOnline, nil
	case "busy":
		return WorkerBusy, nil
	case "offline":
		return WorkerOffline, nil
	}
	return "", fmt.Errorf("%w: unknown worker status %q", ErrInvalidInput, s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *WorkerStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseWorkerStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Worker is an operator or process that jobs can be assigned to. Workers are
// provisioned externally; the dashboard only maintains their counters.
type Worker struct {
	ID             string        `json:"id" yaml:"id" toml:"id"`
	Name           string        `json:"name" yaml:"name" toml:"name"`
	Role           string        `json:"role,omitempty" yaml:"role,omitempty" toml:"role,omitempty"`
	Status         WorkerStatus  `json:"status" yaml:"status" toml:"status"`
	AssignedJobs   int           `json:"assigned_jobs" yaml:"assigned_jobs,omitempty" toml:"assigned_jobs,omitempty"`
	CompletedToday int           `json:"completed_today" yaml:"completed_today,omitempty" toml:"completed_today,omitempty"`
	FailedToday    int           `json:"failed_today" yaml:"failed_today,omitempty" toml:"failed_today,omitempty"`
	AvgCompletion  time.Duration `json:"avg_completion" yaml:"avg_completion,omitempty" toml:"avg_completion,omitempty"`
	SuccessRate    float64       `json:"success_rate" yaml:"success_rate,omitempty" toml:"success_rate,omitempty"`
}

// EntityID implements Entity.
func (w Worker) EntityID() string { return w.ID }

// EntityKind implements Entity.
func (w Worker) EntityKind() Kind { return KindWorker }

// Available reports whether jobs may be assigned to the worker.
func (w Worker) Available() bool {
	return w.Status != WorkerOffline
}

// DisplayName falls back to the ID for workers without a name.
func (w Worker) DisplayName() string {
	if w.Name != "" {
		return w.Name
	}
	return w.ID
}

// RecordCompletion folds one finished job into the rolling counters.
func (w *Worker) RecordCompletion(d time.Duration) {
	total := time.Duration(w.CompletedToday) * w.AvgCompletion
	w.CompletedToday++
	w.AvgCompletion = (total + d) / time.Duration(w.CompletedToday)
	w.refreshSuccessRate()
}

// RecordFailure counts one failed job against the worker.
func (w *Worker) RecordFailure() {
	w.FailedToday++
	w.refreshSuccessRate()
}

func (w *Worker) refreshSuccessRate() {
	terminal := w.CompletedToday + w.FailedToday
	if terminal == 0 {
		w.SuccessRate = 100
		return
	}
	w.SuccessRate = 100 * float64(w.CompletedToday) / float64(terminal)
}

// --- Workflows ---

// WorkflowStatus is the summary state of a DAG workflow.
type WorkflowStatus string

// Workflow status constants.
const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
)

// ParseWorkflowStatus parses a workflow status name.
func ParseWorkflowStatus(s string) (WorkflowStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pending", "":
		return WorkflowPending, nil
	case "running":
		return WorkflowRunning, nil
	case "completed":
		return WorkflowCompleted, nil
	case "failed":
		return WorkflowFailed, nil
	}
	return "", fmt.Errorf("%w: unknown workflow status %q", ErrInvalidInput, s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *WorkflowStatus) UnmarshalText(text []byte) error {
	parsed, err := ParseWorkflowStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Workflow is the dashboard's summary of a DAG run owned by the backend.
// Per-node state is not tracked, only aggregate counts.
type Workflow struct {
	ID             string         `json:"id" yaml:"id" toml:"id"`
	Name           string         `json:"name" yaml:"name" toml:"name"`
	Status         WorkflowStatus `json:"status" yaml:"status" toml:"status"`
	Progress       int            `json:"progress" yaml:"progress" toml:"progress"`
	NodesTotal     int            `json:"nodes_total" yaml:"nodes_total" toml:"nodes_total"`
	NodesCompleted int            `json:"nodes_completed" yaml:"nodes_completed" toml:"nodes_completed"`
	CreatedAt      time.Time      `json:"created_at" yaml:"created_at" toml:"created_at"`
}

// EntityID implements Entity.
func (w Workflow) EntityID() string { return w.ID }

// EntityKind implements Entity.
func (w Workflow) EntityKind() Kind { return KindWorkflow }

// Normalize enforces progress == floor(100*completed/total) and keeps the
// completed state and a full node count together: a workflow whose nodes
// have all completed is completed, and a completed workflow has all its
// nodes completed.
func (w Workflow) Normalize() Workflow {
	if w.NodesCompleted < 0 {
		w.NodesCompleted = 0
	}
	if w.NodesTotal < 0 {
		w.NodesTotal = 0
	}
	if w.NodesTotal > 0 {
		if w.NodesCompleted > w.NodesTotal || w.Status == WorkflowCompleted {
			w.NodesCompleted = w.NodesTotal
		}
		w.Progress = 100 * w.NodesCompleted / w.NodesTotal
		if w.NodesCompleted == w.NodesTotal {
			w.Status = WorkflowCompleted
		}
		return w
	}
	w.Progress = min(max(w.Progress, 0), 100)
	if w.Status == WorkflowCompleted {
		w.Progress = 100
	}
	return w
}

// --- Dead letter queue ---

// DLQEntry is a job that exhausted its retry budget on the backend.
type DLQEntry struct {
	ID       string         `json:"id" yaml:"id" toml:"id"`
	Kind     string         `json:"kind" yaml:"kind" toml:"kind"`
	Error    string         `json:"error" yaml:"error" toml:"error"`
	FailedAt time.Time      `json:"failed_at" yaml:"failed_at" toml:"failed_at"`
	Retries  int            `json:"retries" yaml:"retries" toml:"retries"`
	Payload  map[string]any `json:"payload,omitempty" yaml:"payload,omitempty" toml:"payload,omitempty"`
}

// EntityID implements Entity.
func (e DLQEntry) EntityID() string { return e.ID }

// EntityKind implements Entity.
func (e DLQEntry) EntityKind() Kind { return KindDLQ }

// Clone returns a copy whose payload map is not shared with e.
func (e DLQEntry) Clone() DLQEntry {
	e.Payload = clonePayload(e.Payload)
	return e
}

// clonePayload copies the top level of an opaque payload document. Nested
// values are never mutated by the dashboard, so sharing them is safe.
func clonePayload(p map[string]any) map[string]any {
	if p == nil {
		return nil
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
