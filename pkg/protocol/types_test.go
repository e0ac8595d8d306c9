package protocol_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"forgedash/pkg/protocol"
)

func TestParseJobStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    protocol.JobStatus
		wantErr bool
	}{
		{"queued", protocol.JobQueued, false},
		{"processing", protocol.JobProcessing, false},
		{"running", protocol.JobProcessing, false},
		{"RUNNING", protocol.JobProcessing, false},
		{" completed ", protocol.JobCompleted, false},
		{"failed", protocol.JobFailed, false},
		{"retrying", protocol.JobRetrying, false},
		{"dead", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := protocol.ParseJobStatus(tt.in)
			if tt.wantErr {
				if !errors.Is(err, protocol.ErrInvalidInput) {
					t.Fatalf("ParseJobStatus(%q) error = %v, want ErrInvalidInput", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseJobStatus(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseJobStatus(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestJobJSONAcceptsRunningAlias(t *testing.T) {
	var j protocol.Job
	data := `{"id":"job_99822","kind":"email.send_batch","status":"running","priority":"high","assignee":{"worker_id":"worker-1","worker_name":"Alice Martin"}}`
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if j.Status != protocol.JobProcessing {
		t.Errorf("status = %q, want processing", j.Status)
	}
	if !j.Active() {
		t.Error("processing job with assignee should be active")
	}
	if !j.AssignedTo("worker-1") {
		t.Error("job should be assigned to worker-1")
	}
}

func TestParsePriority_DefaultsToMedium(t *testing.T) {
	p, err := protocol.ParsePriority("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != protocol.PriorityMedium {
		t.Errorf("ParsePriority(\"\") = %q, want medium", p)
	}
	if _, err := protocol.ParsePriority("urgent"); !errors.Is(err, protocol.ErrInvalidInput) {
		t.Errorf("ParsePriority(\"urgent\") error = %v, want ErrInvalidInput", err)
	}
}

func TestJobNormalize_CompletedAlwaysHasDuration(t *testing.T) {
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

	t.Run("derives duration from start time", func(t *testing.T) {
		j := protocol.Job{Status: protocol.JobCompleted, StartedAt: now.Add(-90 * time.Second)}.Normalize(now)
		if j.Duration == nil || *j.Duration != 90*time.Second {
			t.Fatalf("duration = %v, want 90s", j.Duration)
		}
	})

	t.Run("zero duration without start time", func(t *testing.T) {
		j := protocol.Job{Status: protocol.JobCompleted}.Normalize(now)
		if j.Duration == nil || *j.Duration != 0 {
			t.Fatalf("duration = %v, want 0", j.Duration)
		}
	})

	t.Run("keeps existing duration", func(t *testing.T) {
		d := 3 * time.Second
		j := protocol.Job{Status: protocol.JobCompleted, Duration: &d}.Normalize(now)
		if *j.Duration != 3*time.Second {
			t.Fatalf("duration = %v, want 3s", *j.Duration)
		}
	})

	t.Run("processing without assignee is demoted to queued", func(t *testing.T) {
		j := protocol.Job{Status: protocol.JobProcessing, StartedAt: now.Add(-time.Minute)}.Normalize(now)
		if j.Status != protocol.JobQueued || !j.StartedAt.IsZero() {
			t.Fatalf("got status %q started %v, want queued and no start time", j.Status, j.StartedAt)
		}
	})

	t.Run("processing with assignee is kept", func(t *testing.T) {
		j := protocol.Job{Status: protocol.JobProcessing, Assignee: &protocol.Assignee{WorkerID: "worker-1"}}.Normalize(now)
		if j.Status != protocol.JobProcessing {
			t.Fatalf("status = %q, want processing", j.Status)
		}
	})

	t.Run("leaves other statuses alone", func(t *testing.T) {
		j := protocol.Job{Status: protocol.JobQueued}.Normalize(now)
		if j.Duration != nil {
			t.Fatalf("queued job got duration %v", *j.Duration)
		}
	})
}

func TestJobClone_DoesNotShare(t *testing.T) {
	d := time.Second
	orig := protocol.Job{
		ID:       "job_1",
		Duration: &d,
		Assignee: &protocol.Assignee{WorkerID: "worker-1", WorkerName: "Alice Martin"},
		Payload:  map[string]any{"amount": 1500},
	}
	c := orig.Clone()
	*c.Duration = time.Hour
	c.Assignee.WorkerName = "changed"
	c.Payload["amount"] = 1

	if *orig.Duration != time.Second {
		t.Error("clone shares duration pointer")
	}
	if orig.Assignee.WorkerName != "Alice Martin" {
		t.Error("clone shares assignee pointer")
	}
	if orig.Payload["amount"] != 1500 {
		t.Error("clone shares payload map")
	}
}

func TestWorkflowNormalize(t *testing.T) {
	tests := []struct {
		name         string
		in           protocol.Workflow
		wantProgress int
		wantStatus   protocol.WorkflowStatus
	}{
		{
			name:         "all nodes completed forces completed",
			in:           protocol.Workflow{Status: protocol.WorkflowRunning, NodesTotal: 8, NodesCompleted: 8},
			wantProgress: 100,
			wantStatus:   protocol.WorkflowCompleted,
		},
		{
			name:         "progress is floored",
			in:           protocol.Workflow{Status: protocol.WorkflowRunning, NodesTotal: 12, NodesCompleted: 5, Progress: 45},
			wantProgress: 41,
			wantStatus:   protocol.WorkflowRunning,
		},
		{
			name:         "completed count clamped to total",
			in:           protocol.Workflow{Status: protocol.WorkflowRunning, NodesTotal: 3, NodesCompleted: 7},
			wantProgress: 100,
			wantStatus:   protocol.WorkflowCompleted,
		},
		{
			name:         "completed status fills the node count",
			in:           protocol.Workflow{Status: protocol.WorkflowCompleted, NodesTotal: 8, NodesCompleted: 3, Progress: 37},
			wantProgress: 100,
			wantStatus:   protocol.WorkflowCompleted,
		},
		{
			name:         "failed keeps status with partial progress",
			in:           protocol.Workflow{Status: protocol.WorkflowFailed, NodesTotal: 5, NodesCompleted: 4},
			wantProgress: 80,
			wantStatus:   protocol.WorkflowFailed,
		},
		{
			name:         "unknown node count keeps reported progress",
			in:           protocol.Workflow{Status: protocol.WorkflowRunning, Progress: 30},
			wantProgress: 30,
			wantStatus:   protocol.WorkflowRunning,
		},
		{
			name:         "pending with no nodes",
			in:           protocol.Workflow{Status: protocol.WorkflowPending},
			wantProgress: 0,
			wantStatus:   protocol.WorkflowPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Normalize()
			if got.Progress != tt.wantProgress {
				t.Errorf("Progress = %d, want %d", got.Progress, tt.wantProgress)
			}
			if got.Status != tt.wantStatus {
				t.Errorf("Status = %q, want %q", got.Status, tt.wantStatus)
			}
			if got.NodesTotal > 0 && got.Status == protocol.WorkflowCompleted && got.NodesCompleted != got.NodesTotal {
				t.Errorf("completed with %d/%d nodes", got.NodesCompleted, got.NodesTotal)
			}
		})
	}
}

func TestWorkerCounters(t *testing.T) {
	w := protocol.Worker{ID: "worker-1", Status: protocol.WorkerOnline}

	w.RecordCompletion(2 * time.Second)
	w.RecordCompletion(4 * time.Second)
	if w.CompletedToday != 2 {
		t.Errorf("CompletedToday = %d, want 2", w.CompletedToday)
	}
	if w.AvgCompletion != 3*time.Second {
		t.Errorf("AvgCompletion = %v, want 3s", w.AvgCompletion)
	}
	if w.SuccessRate != 100 {
		t.Errorf("SuccessRate = %v, want 100", w.SuccessRate)
	}

	w.RecordFailure()
	w.RecordFailure()
	if w.SuccessRate != 50 {
		t.Errorf("SuccessRate = %v, want 50", w.SuccessRate)
	}
}
