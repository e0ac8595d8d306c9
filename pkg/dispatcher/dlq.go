package dispatcher

import (
	"fmt"
	"strings"
	"time"

	"forgedash/pkg/protocol"
	"forgedash/pkg/store"
)

// Retry sends a failed job back to the queue: status queued, assignee and
// error cleared, DLQ entry removed. The job may be known only through its
// DLQ entry, in which case it is recreated from the entry's kind and
// payload.
func (d *Dispatcher) Retry(jobID string) (protocol.Job, error) {
	var out protocol.Job
	err := d.withID(jobID, func(tx *store.Tx) error {
		job, err := d.retryLocked(tx, jobID)
		out = job
		return err
	})
	d.report(IntentRetry, jobID, err)
	return out, err
}

// RetryAll retries every DLQ entry in one transaction and returns the
// requeued jobs in queue order. Entries whose job has meanwhile left the
// failed state are skipped and stay in the queue.
func (d *Dispatcher) RetryAll() ([]protocol.Job, error) {
	var out []protocol.Job
	err := d.store.Apply(func(tx *store.Tx) error {
		out = nil
		for _, e := range tx.DLQ() {
			job, err := d.retryLocked(tx, e.ID)
			if err != nil {
				d.logger.WithField("id", e.ID).WithError(err).Warn("retry all: entry skipped")
				continue
			}
			out = append(out, job)
		}
		return nil
	})
	d.report(IntentRetryAll, "", err)
	return out, err
}

func (d *Dispatcher) retryLocked(tx *store.Tx, jobID string) (protocol.Job, error) {
	entry, inDLQ := tx.DLQEntry(jobID)
	job, known := tx.Job(jobID)

	switch {
	case known:
		if job.Status != protocol.JobFailed {
			return protocol.Job{}, &protocol.TransitionError{JobID: jobID, Intent: IntentRetry, From: job.Status}
		}
	case inDLQ:
		job = protocol.Job{
			ID:        jobID,
			Kind:      entry.Kind,
			Priority:  protocol.PriorityMedium,
			CreatedAt: d.nowFunc(),
			Payload:   entry.Payload,
		}
	default:
		return protocol.Job{}, &protocol.NotFoundError{Kind: protocol.KindJob, ID: jobID}
	}

	if inDLQ {
		if err := tx.Remove(protocol.KindDLQ, jobID); err != nil {
			return protocol.Job{}, err
		}
	}
	job.Status = protocol.JobQueued
	job.Assignee = nil
	job.Error = ""
	job.Duration = nil
	job.StartedAt = time.Time{}
	job.FinishedAt = time.Time{}
	if err := tx.Upsert(job); err != nil {
		return protocol.Job{}, err
	}
	return job, nil
}

// Purge permanently discards a DLQ entry and the failed job it stands for.
// Purging an absent entry is a *protocol.NotFoundError, so a second purge of
// the same ID changes nothing.
func (d *Dispatcher) Purge(id string) error {
	err := d.withID(id, func(tx *store.Tx) error {
		if _, ok := tx.DLQEntry(id); !ok {
			return &protocol.NotFoundError{Kind: protocol.KindDLQ, ID: id}
		}
		return purgeLocked(tx, id)
	})
	d.report(IntentPurge, id, err)
	return err
}

// PurgeAll discards every DLQ entry and returns how many were removed. An
// empty queue is not an error.
func (d *Dispatcher) PurgeAll() (int, error) {
	n := 0
	err := d.store.Apply(func(tx *store.Tx) error {
		n = 0
		for _, e := range tx.DLQ() {
			if err := purgeLocked(tx, e.ID); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	d.report(IntentPurgeAll, "", err)
	return n, err
}

func purgeLocked(tx *store.Tx, id string) error {
	if err := tx.Remove(protocol.KindDLQ, id); err != nil {
		return err
	}
	if job, ok := tx.Job(id); ok && job.Status == protocol.JobFailed {
		return tx.Remove(protocol.KindJob, id)
	}
	return nil
}

// withID is withJob for intents whose target may exist only in the DLQ.
func (d *Dispatcher) withID(id string, fn func(tx *store.Tx) error) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: job id is required", protocol.ErrInvalidInput)
	}
	unlock := d.lockJob(id)
	defer unlock()
	return d.store.Apply(fn)
}
