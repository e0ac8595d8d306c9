package dispatcher

import (
	"fmt"
	"strings"
	"time"

	"forgedash/pkg/protocol"
	"forgedash/pkg/store"
)

// JobRequest carries the fields an operator fills in to create a job.
type JobRequest struct {
	Kind        string         `json:"kind"`
	Priority    string         `json:"priority,omitempty"`
	Description string         `json:"description,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// CreateJob adds a queued, unassigned job. Kind is required; an empty
// priority means medium.
func (d *Dispatcher) CreateJob(req JobRequest) (protocol.Job, error) {
	job, err := d.createJob(req)
	d.report(IntentCreateJob, job.ID, err)
	return job, err
}

func (d *Dispatcher) createJob(req JobRequest) (protocol.Job, error) {
	kind := strings.TrimSpace(req.Kind)
	if kind == "" {
		return protocol.Job{}, fmt.Errorf("%w: job kind is required", protocol.ErrInvalidInput)
	}
	prio, err := protocol.ParsePriority(req.Priority)
	if err != nil {
		return protocol.Job{}, err
	}
	job := protocol.Job{
		ID:          protocol.JobIDPrefix + d.newID(),
		Kind:        kind,
		Status:      protocol.JobQueued,
		Priority:    prio,
		CreatedAt:   d.nowFunc(),
		Description: strings.TrimSpace(req.Description),
		Payload:     req.Payload,
	}
	if err := d.store.Upsert(job); err != nil {
		return protocol.Job{}, err
	}
	return job.Clone(), nil
}

// Assign hands a queued or failed job to an available worker and moves it
// to processing. A failed job leaving the dead letter queue this way takes
// its DLQ entry with it.
func (d *Dispatcher) Assign(jobID, workerID string) (protocol.Job, error) {
	var out protocol.Job
	err := d.withJob(jobID, func(tx *store.Tx, job protocol.Job) error {
		if job.Status != protocol.JobQueued && job.Status != protocol.JobFailed {
			return &protocol.TransitionError{JobID: jobID, Intent: IntentAssign, From: job.Status}
		}
		w, ok := tx.Worker(workerID)
		if !ok {
			return &protocol.NotFoundError{Kind: protocol.KindWorker, ID: workerID}
		}
		if !w.Available() {
			return &protocol.WorkerUnavailableError{WorkerID: workerID, JobID: jobID, Status: w.Status}
		}
		if _, ok := tx.DLQEntry(jobID); ok {
			if err := tx.Remove(protocol.KindDLQ, jobID); err != nil {
				return err
			}
		}
		job.Assignee = &protocol.Assignee{WorkerID: w.ID, WorkerName: w.DisplayName()}
		job.Status = protocol.JobProcessing
		job.StartedAt = d.nowFunc()
		job.FinishedAt = time.Time{}
		job.Duration = nil
		job.Error = ""
		out = job
		return tx.Upsert(job)
	})
	d.report(IntentAssign, jobID, err)
	return out, err
}

// Start moves a queued job that already has an assignee to processing.
func (d *Dispatcher) Start(jobID string) (protocol.Job, error) {
	var out protocol.Job
	err := d.withJob(jobID, func(tx *store.Tx, job protocol.Job) error {
		if job.Status != protocol.JobQueued {
			return &protocol.TransitionError{JobID: jobID, Intent: IntentStart, From: job.Status}
		}
		if job.Assignee == nil {
			return &protocol.TransitionError{JobID: jobID, Intent: IntentStart, From: job.Status, Reason: "no assignee"}
		}
		job.Status = protocol.JobProcessing
		job.StartedAt = d.nowFunc()
		out = job
		return tx.Upsert(job)
	})
	d.report(IntentStart, jobID, err)
	return out, err
}

// Complete finishes a processing job, records its duration and credits the
// assignee.
func (d *Dispatcher) Complete(jobID string) (protocol.Job, error) {
	var out protocol.Job
	err := d.withJob(jobID, func(tx *store.Tx, job protocol.Job) error {
		if job.Status != protocol.JobProcessing {
			return &protocol.TransitionError{JobID: jobID, Intent: IntentComplete, From: job.Status}
		}
		now := d.nowFunc()
		var took time.Duration
		if !job.StartedAt.IsZero() && now.After(job.StartedAt) {
			took = now.Sub(job.StartedAt)
		}
		job.Status = protocol.JobCompleted
		job.FinishedAt = now
		job.Duration = &took
		if err := d.creditWorker(tx, job, func(w *protocol.Worker) { w.RecordCompletion(took) }); err != nil {
			return err
		}
		out = job
		return tx.Upsert(job)
	})
	d.report(IntentComplete, jobID, err)
	return out, err
}

// Fail marks a processing job failed with reason and counts the failure
// against the assignee. The assignee reference is kept for display until
// the job is retried.
func (d *Dispatcher) Fail(jobID, reason string) (protocol.Job, error) {
	var out protocol.Job
	err := d.withJob(jobID, func(tx *store.Tx, job protocol.Job) error {
		if job.Status != protocol.JobProcessing {
			return &protocol.TransitionError{JobID: jobID, Intent: IntentFail, From: job.Status}
		}
		reason = strings.TrimSpace(reason)
		if reason == "" {
			reason = "failed by operator"
		}
		job.Status = protocol.JobFailed
		job.FinishedAt = d.nowFunc()
		job.Error = reason
		if err := d.creditWorker(tx, job, (*protocol.Worker).RecordFailure); err != nil {
			return err
		}
		out = job
		return tx.Upsert(job)
	})
	d.report(IntentFail, jobID, err)
	return out, err
}

// Delete removes a queued or failed job, together with its DLQ entry if it
// has one.
func (d *Dispatcher) Delete(jobID string) error {
	err := d.withJob(jobID, func(tx *store.Tx, job protocol.Job) error {
		if job.Status != protocol.JobQueued && job.Status != protocol.JobFailed {
			return &protocol.TransitionError{JobID: jobID, Intent: IntentDelete, From: job.Status}
		}
		if _, ok := tx.DLQEntry(jobID); ok {
			if err := tx.Remove(protocol.KindDLQ, jobID); err != nil {
				return err
			}
		}
		return tx.Remove(protocol.KindJob, jobID)
	})
	d.report(IntentDelete, jobID, err)
	return err
}

// withJob runs fn in a store transaction under the job's lock, with the job
// as currently committed. A missing job is a *protocol.NotFoundError.
func (d *Dispatcher) withJob(jobID string, fn func(tx *store.Tx, job protocol.Job) error) error {
	if strings.TrimSpace(jobID) == "" {
		return fmt.Errorf("%w: job id is required", protocol.ErrInvalidInput)
	}
	unlock := d.lockJob(jobID)
	defer unlock()

	return d.store.Apply(func(tx *store.Tx) error {
		job, ok := tx.Job(jobID)
		if !ok {
			return &protocol.NotFoundError{Kind: protocol.KindJob, ID: jobID}
		}
		return fn(tx, job)
	})
}

// creditWorker applies update to the job's assignee, if it is still on the
// roster.
func (d *Dispatcher) creditWorker(tx *store.Tx, job protocol.Job, update func(*protocol.Worker)) error {
	if job.Assignee == nil {
		return nil
	}
	w, ok := tx.Worker(job.Assignee.WorkerID)
	if !ok {
		return nil
	}
	update(&w)
	return tx.Upsert(w)
}
