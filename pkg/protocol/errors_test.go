package protocol_test

import (
	"errors"
	"fmt"
	"testing"

	"forgedash/pkg/protocol"
)

func TestTypedErrors_MatchTheirClass(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		class error
	}{
		{"not found", &protocol.NotFoundError{Kind: protocol.KindJob, ID: "job_1"}, protocol.ErrNotFound},
		{"transition", &protocol.TransitionError{JobID: "job_1", Intent: "complete", From: protocol.JobQueued}, protocol.ErrInvalidTransition},
		{"worker unavailable", &protocol.WorkerUnavailableError{WorkerID: "worker-3", JobID: "job_1", Status: protocol.WorkerOffline}, protocol.ErrWorkerUnavailable},
		{"dag", &protocol.DagError{StepID: "a", Reason: "cycle"}, protocol.ErrInvalidDag},
		{"backend", &protocol.BackendError{Op: "submit", Err: errors.New("connection refused")}, protocol.ErrBackendUnavailable},
	}

	classes := []error{
		protocol.ErrInvalidInput,
		protocol.ErrNotFound,
		protocol.ErrInvalidTransition,
		protocol.ErrWorkerUnavailable,
		protocol.ErrInvalidDag,
		protocol.ErrBackendUnavailable,
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("intent: %w", tt.err)
			for _, class := range classes {
				got := errors.Is(wrapped, class)
				want := class == tt.class
				if got != want {
					t.Errorf("errors.Is(%v, %v) = %v, want %v", wrapped, class, got, want)
				}
			}
		})
	}
}

func TestTransitionError_ErrorsAs(t *testing.T) {
	err := fmt.Errorf("dispatch: %w", &protocol.TransitionError{
		JobID:  "job_42",
		Intent: "start",
		From:   protocol.JobQueued,
		Reason: "no assignee",
	})

	var target *protocol.TransitionError
	if !errors.As(err, &target) {
		t.Fatal("errors.As failed to extract TransitionError")
	}
	if target.JobID != "job_42" {
		t.Errorf("expected JobID 'job_42', got %q", target.JobID)
	}
	if target.From != protocol.JobQueued {
		t.Errorf("expected From queued, got %q", target.From)
	}
	want := "cannot start job job_42 in status queued: no assignee"
	if target.Error() != want {
		t.Errorf("Error() = %q, want %q", target.Error(), want)
	}
}

func TestBackendError_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := &protocol.BackendError{Op: "submit workflow", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("BackendError should unwrap to its cause")
	}
	if got := err.Error(); got != "backend submit workflow: dial tcp: connection refused" {
		t.Errorf("Error() = %q", got)
	}

	withStatus := &protocol.BackendError{Op: "submit workflow", StatusCode: 503, Err: errors.New("unavailable")}
	if got := withStatus.Error(); got != "backend submit workflow: status 503: unavailable" {
		t.Errorf("Error() = %q", got)
	}
}
