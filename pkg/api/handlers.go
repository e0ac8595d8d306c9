package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"forgedash/pkg/dag"
	"forgedash/pkg/dispatcher"
	"forgedash/pkg/protocol"
	"forgedash/pkg/search"

	"github.com/gorilla/mux"
)

const maxBody = 1 << 20

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "seq": s.d.Store().Seq()})
}

func (s *Server) getStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Summary())
}

// queryFrom reads q (which may carry s:/k:/p: prefixes) and the explicit
// status, kind and priority parameters, the latter taking precedence.
func queryFrom(r *http.Request) search.Query {
	v := r.URL.Query()
	q := search.Parse(v.Get("q"))
	if st := v.Get("status"); st != "" {
		q.Status = st
	}
	if k := v.Get("kind"); k != "" {
		q.Kind = k
	}
	if p := v.Get("priority"); p != "" {
		q.Priority = p
	}
	return q
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, search.Jobs(s.d.Store().Jobs(), queryFrom(r)))
}

func (s *Server) listWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, search.Workers(s.d.Store().Workers(), queryFrom(r)))
}

func (s *Server) listWorkflows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, search.Workflows(s.d.Store().Workflows(), queryFrom(r)))
}

func (s *Server) listDLQ(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, search.DLQ(s.d.Store().DLQ(), queryFrom(r)))
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, ok := s.d.Store().Job(id)
	if !ok {
		s.writeError(w, r, &protocol.NotFoundError{Kind: protocol.KindJob, ID: id})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var req dispatcher.JobRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	job, err := s.d.CreateJob(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.d.Delete(mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) assign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WorkerID string `json:"worker_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	job, err := s.d.Assign(mux.Vars(r)["id"], body.WorkerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// transition adapts a single-argument job intent.
func (s *Server) transition(intent func(id string) (protocol.Job, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := intent(mux.Vars(r)["id"])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decodeBody(r, &body); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, r, err)
		return
	}
	job, err := s.d.Fail(mux.Vars(r)["id"], body.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) retryAll(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.d.RetryAll()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) purge(w http.ResponseWriter, r *http.Request) {
	if err := s.d.Purge(mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) purgeAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.d.PurgeAll()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"purged": n})
}

type workflowCreated struct {
	WorkflowID string                  `json:"workflow_id"`
	Status     protocol.WorkflowStatus `json:"status"`
}

// createWorkflow accepts a JSON or YAML definition. With wait=1 the
// response is delayed until the backend has answered; otherwise it returns
// 202 with the placeholder ID.
func (s *Server) createWorkflow(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: read body: %v", protocol.ErrInvalidInput, err))
		return
	}
	def, err := dag.Decode(data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, sub, err := s.d.CreateWorkflow(r.Context(), def)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); !wait {
		writeJSON(w, http.StatusAccepted, workflowCreated{WorkflowID: id, Status: protocol.WorkflowPending})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.WaitTimeout)
	defer cancel()
	finalID, err := sub.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			writeJSON(w, http.StatusAccepted, workflowCreated{WorkflowID: id, Status: protocol.WorkflowPending})
			return
		}
		s.writeError(w, r, err)
		return
	}
	status := protocol.WorkflowPending
	if wf, ok := s.d.Store().Workflow(finalID); ok {
		status = wf.Status
	}
	writeJSON(w, http.StatusCreated, workflowCreated{WorkflowID: finalID, Status: status})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty request body: %w", protocol.ErrInvalidInput, err)
		}
		return fmt.Errorf("%w: request body: %v", protocol.ErrInvalidInput, err)
	}
	return nil
}
