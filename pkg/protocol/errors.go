package protocol

import (
	"errors"
	"fmt"
)

// Error classes. Every failed intent matches exactly one of these through
// errors.Is; the typed errors below carry the details.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrWorkerUnavailable  = errors.New("worker unavailable")
	ErrInvalidDag         = errors.New("invalid dag")
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// NotFoundError reports a reference to an entity ID the store does not hold.
type NotFoundError struct {
	Kind Kind
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// TransitionError reports an intent whose lifecycle precondition does not
// hold for the job's current status.
type TransitionError struct {
	JobID  string
	Intent string
	From   JobStatus
	Reason string // optional; e.g. "no assignee"
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("cannot %s job %s in status %s", e.Intent, e.JobID, e.From)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Is matches ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// WorkerUnavailableError reports an assignment to a worker that cannot take jobs.
type WorkerUnavailableError struct {
	WorkerID string
	JobID    string
	Status   WorkerStatus
}

func (e *WorkerUnavailableError) Error() string {
	return fmt.Sprintf("worker %s is %s and cannot take job %s", e.WorkerID, e.Status, e.JobID)
}

// Is matches ErrWorkerUnavailable.
func (e *WorkerUnavailableError) Is(target error) bool { return target == ErrWorkerUnavailable }

// DagError reports a structurally invalid workflow definition, or a
// definition the backend rejected.
type DagError struct {
	StepID string // empty when the problem is not tied to one step
	Reason string
}

func (e *DagError) Error() string {
	if e.StepID != "" {
		return fmt.Sprintf("invalid dag: step %s: %s", e.StepID, e.Reason)
	}
	return "invalid dag: " + e.Reason
}

// Is matches ErrInvalidDag.
func (e *DagError) Is(target error) bool { return target == ErrInvalidDag }

// BackendError reports a failed or timed-out call to the external backend.
type BackendError struct {
	Op         string
	StatusCode int // zero for transport failures
	Err        error
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("backend %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("backend %s: %v", e.Op, e.Err)
}

// Is matches ErrBackendUnavailable.
func (e *BackendError) Is(target error) bool { return target == ErrBackendUnavailable }

// Unwrap returns the underlying transport or decode error.
func (e *BackendError) Unwrap() error { return e.Err }
