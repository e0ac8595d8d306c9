package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"forgedash/pkg/dag"
	"forgedash/pkg/protocol"
	"forgedash/pkg/store"
)

// Submission is the pending outcome of a workflow submission.
type Submission struct {
	done chan struct{}
	id   string
	err  error
}

// Done is closed once the backend has answered or the call failed.
func (s *Submission) Done() <-chan struct{} { return s.done }

// Wait blocks until the submission resolves or ctx ends. It returns the
// workflow ID the store holds afterwards, which is the backend's ID when it
// assigned a different one. Giving up on ctx does not abort the call.
func (s *Submission) Wait(ctx context.Context) (string, error) {
	select {
	case <-s.done:
		return s.id, s.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// CreateWorkflow validates def, records a pending workflow right away and
// submits def to the backend in the background. It returns the local
// placeholder ID and a Submission that resolves with the final ID.
//
// Structural problems are reported synchronously as *protocol.DagError and
// leave the store untouched. If the backend rejects or cannot take the
// definition, the placeholder is withdrawn and the Submission carries the
// error. When the backend answers with a different ID, the placeholder is
// re-keyed; if the backend's notification for that ID arrived first, the
// notification wins and the placeholder is simply dropped.
func (d *Dispatcher) CreateWorkflow(ctx context.Context, def protocol.DAGDefinition) (string, *Submission, error) {
	id, err := d.createWorkflow(def)
	if err != nil {
		d.report(IntentCreateWorkflow, id, err)
		return "", nil, err
	}

	sub := &Submission{done: make(chan struct{}), id: id}
	d.inflight.Add(1)
	// Submissions outlive the caller's context: they run to completion or
	// timeout, never cancellation.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.SubmitTimeout)
	go func() {
		defer d.inflight.Done()
		defer cancel()
		defer close(sub.done)

		resp, err := d.submitter.Submit(callCtx, def)
		if err != nil {
			sub.err = classifySubmitError(err)
			d.withdraw(id)
		} else {
			sub.id = d.rekey(id, resp.WorkflowID)
		}
		d.report(IntentCreateWorkflow, sub.id, sub.err)
	}()
	return id, sub, nil
}

func (d *Dispatcher) createWorkflow(def protocol.DAGDefinition) (string, error) {
	if _, err := dag.Validate(def); err != nil {
		return def.WorkflowID, err
	}
	if d.submitter == nil {
		return def.WorkflowID, &protocol.BackendError{Op: "submit workflow", Err: errors.New("no backend configured")}
	}

	id := def.WorkflowID
	if id == "" {
		id = protocol.WorkflowIDPrefix + d.newID()
	}
	name := def.Name
	if name == "" {
		name = id
	}
	err := d.store.Apply(func(tx *store.Tx) error {
		if _, exists := tx.Workflow(id); exists {
			return &protocol.DagError{Reason: fmt.Sprintf("workflow %s already exists", id)}
		}
		return tx.Upsert(protocol.Workflow{
			ID:         id,
			Name:       name,
			Status:     protocol.WorkflowPending,
			NodesTotal: len(def.Steps),
			CreatedAt:  d.nowFunc(),
		})
	})
	return id, err
}

// withdraw removes a placeholder whose submission failed, unless the
// backend has already reported progress on it.
func (d *Dispatcher) withdraw(id string) {
	err := d.store.Apply(func(tx *store.Tx) error {
		wf, ok := tx.Workflow(id)
		if !ok || wf.Status != protocol.WorkflowPending {
			return nil
		}
		return tx.Remove(protocol.KindWorkflow, id)
	})
	if err != nil {
		d.logger.WithField("workflow", id).WithError(err).Warn("withdraw placeholder")
	}
}

// rekey moves the placeholder to the backend's ID and returns the ID the
// store now holds.
func (d *Dispatcher) rekey(localID, serverID string) string {
	if serverID == "" || serverID == localID {
		return localID
	}
	err := d.store.Apply(func(tx *store.Tx) error {
		wf, ok := tx.Workflow(localID)
		if !ok {
			return nil
		}
		if err := tx.Remove(protocol.KindWorkflow, localID); err != nil {
			return err
		}
		if _, exists := tx.Workflow(serverID); exists {
			return nil
		}
		wf.ID = serverID
		return tx.Upsert(wf)
	})
	if err != nil {
		d.logger.WithField("workflow", localID).WithError(err).Warn("rekey placeholder")
		return localID
	}
	return serverID
}

// classifySubmitError keeps the InvalidDag/BackendUnavailable distinction a
// Submitter already made and treats anything else as the backend being
// unavailable.
func classifySubmitError(err error) error {
	if errors.Is(err, protocol.ErrInvalidDag) || errors.Is(err, protocol.ErrBackendUnavailable) {
		return err
	}
	return &protocol.BackendError{Op: "submit workflow", Err: err}
}
