package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"forgedash/pkg/dispatcher"
	"forgedash/pkg/protocol"
	"forgedash/pkg/stats"
	"forgedash/pkg/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBackend struct {
	resp protocol.SubmitResponse
	err  error
}

func (b stubBackend) Submit(context.Context, protocol.DAGDefinition) (protocol.SubmitResponse, error) {
	return b.resp, b.err
}

type env struct {
	srv   *httptest.Server
	store *store.Store
}

func newEnv(t *testing.T, backend dispatcher.Submitter) *env {
	t.Helper()
	s := store.New()
	for _, w := range []protocol.Worker{
		{ID: "worker-1", Name: "Alice Martin", Status: protocol.WorkerOnline, SuccessRate: 100},
		{ID: "worker-3", Name: "Claire Dubois", Status: protocol.WorkerOffline, SuccessRate: 100},
	} {
		require.NoError(t, s.Upsert(w))
	}
	require.NoError(t, s.Upsert(protocol.DLQEntry{ID: "job_dead_001", Kind: "email.send", Error: "SMTPError: Connection refused", Retries: 5}))
	require.NoError(t, s.Upsert(protocol.DLQEntry{ID: "job_dead_002", Kind: "image.resize", Error: "timeout", Retries: 5}))

	engine := stats.NewEngine(s)
	collector := stats.NewCollector(engine)
	reg := prometheus.NewRegistry()
	reg.MustRegister(collector)

	d := dispatcher.New(dispatcher.Config{OnIntent: collector.ObserveIntent}, s, backend)
	server, err := NewServer(Config{Registry: reg}, d, engine)
	require.NoError(t, err)

	srv := httptest.NewServer(server)
	t.Cleanup(func() {
		srv.Close()
		d.Wait()
		engine.Close()
	})
	return &env{srv: srv, store: s}
}

// do sends a request and decodes a JSON response into out when non-nil.
func (e *env) do(t *testing.T, method, path, body string, out any) int {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	e := newEnv(t, nil)
	var body map[string]any
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/health", "", &body))
	assert.Equal(t, "ok", body["status"])
}

func TestJobLifecycle(t *testing.T) {
	e := newEnv(t, nil)

	var job protocol.Job
	code := e.do(t, http.MethodPost, "/api/v1/jobs", `{"kind":"email.send","priority":"high"}`, &job)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, protocol.JobQueued, job.Status)
	assert.Equal(t, protocol.PriorityHigh, job.Priority)
	path := "/api/v1/jobs/" + job.ID

	var errBody errorBody
	code = e.do(t, http.MethodPost, path+"/assign", `{"worker_id":"worker-3"}`, &errBody)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "worker_unavailable", errBody.Class)

	code = e.do(t, http.MethodPost, path+"/assign", `{"worker_id":"worker-1"}`, &job)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, protocol.JobProcessing, job.Status)
	require.NotNil(t, job.Assignee)
	assert.Equal(t, "Alice Martin", job.Assignee.WorkerName)

	code = e.do(t, http.MethodPost, path+"/start", "", &errBody)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "invalid_transition", errBody.Class)

	code = e.do(t, http.MethodPost, path+"/fail", "", &job)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, protocol.JobFailed, job.Status)
	assert.Equal(t, "failed by operator", job.Error)

	code = e.do(t, http.MethodPost, path+"/retry", "", &job)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, protocol.JobQueued, job.Status)

	assert.Equal(t, http.StatusNoContent, e.do(t, http.MethodDelete, path, "", nil))
	code = e.do(t, http.MethodGet, path, "", &errBody)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not_found", errBody.Class)
}

func TestCreateJob_BadInput(t *testing.T) {
	e := newEnv(t, nil)
	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"not json", "kind=x"},
		{"unknown field", `{"kind":"a","colour":"red"}`},
		{"missing kind", `{"priority":"low"}`},
		{"bad priority", `{"kind":"a","priority":"urgent"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var errBody errorBody
			assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/api/v1/jobs", tt.body, &errBody))
			assert.Equal(t, "invalid_input", errBody.Class)
		})
	}
	assert.Equal(t, 0, e.store.Len(protocol.KindJob))
}

func TestListJobs_Filters(t *testing.T) {
	e := newEnv(t, nil)
	for _, body := range []string{
		`{"kind":"email.send","priority":"high"}`,
		`{"kind":"image.resize"}`,
		`{"kind":"email.digest","priority":"low"}`,
	} {
		require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/api/v1/jobs", body, nil))
	}

	tests := []struct {
		query string
		want  int
	}{
		{"", 3},
		{"?q=email", 2},
		{"?q=email+p:low", 1},
		{"?priority=high", 1},
		{"?status=queued&kind=image.resize", 1},
		{"?status=failed", 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			var jobs []protocol.Job
			require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/v1/jobs"+tt.query, "", &jobs))
			assert.Len(t, jobs, tt.want)
		})
	}

	var workers []protocol.Worker
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/v1/workers?status=offline", "", &workers))
	require.Len(t, workers, 1)
	assert.Equal(t, "worker-3", workers[0].ID)
}

func TestDLQ(t *testing.T) {
	e := newEnv(t, nil)

	var entries []protocol.DLQEntry
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/v1/dlq?q=smtp", "", &entries))
	require.Len(t, entries, 1)

	var job protocol.Job
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/v1/dlq/job_dead_001/retry", "", &job))
	assert.Equal(t, protocol.JobQueued, job.Status)
	assert.Equal(t, "email.send", job.Kind)

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodDelete, "/api/v1/dlq/job_dead_001", "", nil))

	var purged map[string]int
	require.Equal(t, http.StatusOK, e.do(t, http.MethodDelete, "/api/v1/dlq", "", &purged))
	assert.Equal(t, 1, purged["purged"])

	var retried []protocol.Job
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, "/api/v1/dlq/retry", "", &retried))
	assert.Empty(t, retried)
}

func TestCreateWorkflow(t *testing.T) {
	def := `{"name":"Payment","steps":[
		{"id":"validate_payment","kind":"payment.validate"},
		{"id":"charge_card","kind":"payment.charge","depends_on":["validate_payment"]}]}`

	t.Run("accepted", func(t *testing.T) {
		e := newEnv(t, stubBackend{resp: protocol.SubmitResponse{WorkflowID: "wf_8923473"}})
		var out workflowCreated
		require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/api/v1/workflows?wait=1", def, &out))
		assert.Equal(t, "wf_8923473", out.WorkflowID)

		wf, ok := e.store.Workflow("wf_8923473")
		require.True(t, ok)
		assert.Equal(t, 2, wf.NodesTotal)
		assert.Equal(t, "Payment", wf.Name)
	})

	t.Run("no wait", func(t *testing.T) {
		e := newEnv(t, stubBackend{resp: protocol.SubmitResponse{WorkflowID: "wf_1"}})
		var out workflowCreated
		require.Equal(t, http.StatusAccepted, e.do(t, http.MethodPost, "/api/v1/workflows", def, &out))
		assert.Equal(t, protocol.WorkflowPending, out.Status)
		assert.NotEmpty(t, out.WorkflowID)
	})

	t.Run("yaml cycle", func(t *testing.T) {
		e := newEnv(t, stubBackend{})
		body := "steps:\n  - {id: a, kind: x, depends_on: [b]}\n  - {id: b, kind: x, depends_on: [a]}\n"
		var errBody errorBody
		assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodPost, "/api/v1/workflows", body, &errBody))
		assert.Equal(t, "invalid_dag", errBody.Class)
		assert.Equal(t, 0, e.store.Len(protocol.KindWorkflow))
	})

	t.Run("backend down", func(t *testing.T) {
		e := newEnv(t, stubBackend{err: &protocol.BackendError{Op: "submit workflow", StatusCode: 503, Err: io.ErrUnexpectedEOF}})
		var errBody errorBody
		assert.Equal(t, http.StatusBadGateway, e.do(t, http.MethodPost, "/api/v1/workflows?wait=true", def, &errBody))
		assert.Equal(t, "backend_unavailable", errBody.Class)
		assert.Equal(t, 0, e.store.Len(protocol.KindWorkflow))
	})
}

func TestStatsAndMetrics(t *testing.T) {
	e := newEnv(t, nil)
	require.Equal(t, http.StatusCreated, e.do(t, http.MethodPost, "/api/v1/jobs", `{"kind":"email.send"}`, nil))

	var sum stats.Summary
	require.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/v1/stats", "", &sum))
	assert.Equal(t, 1, sum.TotalJobs)
	assert.Equal(t, 1, sum.Jobs[protocol.JobQueued])
	assert.Equal(t, 2, sum.DLQDepth)
	assert.Equal(t, 2, sum.TotalWorkers)

	resp, err := e.srv.Client().Get(e.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(raw)

	assert.Contains(t, text, `forgedash_jobs{status="queued"} 1`)
	assert.Contains(t, text, `forgedash_dlq_depth 2`)
	assert.Contains(t, text, `forgedash_intents_total{intent="create_job",outcome="ok"} 1`)
	assert.Contains(t, text, `http_requests_total{code="201",handler="create_job",method="post"} 1`)
}

func TestUnknownRoutes(t *testing.T) {
	e := newEnv(t, nil)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/v1/nope", "", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, e.do(t, http.MethodPut, "/api/v1/jobs", "", nil))
}
