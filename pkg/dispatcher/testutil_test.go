package dispatcher //nolint:testpackage // internal white-box tests need access to unexported fields

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"forgedash/pkg/protocol"
	"forgedash/pkg/store"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeSubmitter answers submissions from a canned function. block, when
// non-nil, holds every call until it is closed.
type fakeSubmitter struct {
	mu     sync.Mutex
	calls  []protocol.DAGDefinition
	block  chan struct{}
	respFn func(protocol.DAGDefinition) (protocol.SubmitResponse, error)
}

func (f *fakeSubmitter) Submit(ctx context.Context, def protocol.DAGDefinition) (protocol.SubmitResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, def)
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return protocol.SubmitResponse{}, ctx.Err()
		}
	}
	if f.respFn == nil {
		return protocol.SubmitResponse{WorkflowID: def.WorkflowID}, nil
	}
	return f.respFn(def)
}

func (f *fakeSubmitter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type intentRecord struct {
	intent string
	err    error
}

type testEnv struct {
	d       *Dispatcher
	s       *store.Store
	clock   *fakeClock
	sub     *fakeSubmitter
	mu      sync.Mutex
	intents []intentRecord
}

func (e *testEnv) Intents() []intentRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]intentRecord(nil), e.intents...)
}

// roster mirrors the operator roster the dashboard ships with.
var roster = []protocol.Worker{ //nolint:gochecknoglobals // test fixture
	{ID: "worker-1", Name: "Alice Martin", Role: "Senior Operator", Status: protocol.WorkerOnline},
	{ID: "worker-2", Name: "Bob Johnson", Role: "Operator", Status: protocol.WorkerOnline},
	{ID: "worker-3", Name: "Claire Dubois", Role: "Technician", Status: protocol.WorkerOffline},
	{ID: "worker-4", Name: "David Chen", Role: "Operator", Status: protocol.WorkerBusy},
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		s:     store.New(),
		clock: &fakeClock{now: time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)},
		sub:   &fakeSubmitter{},
	}
	env.d = New(Config{
		SubmitTimeout: time.Second,
		OnIntent: func(intent string, err error) {
			env.mu.Lock()
			env.intents = append(env.intents, intentRecord{intent, err})
			env.mu.Unlock()
		},
	}, env.s, env.sub)
	env.d.nowFunc = env.clock.Now

	n := 0
	env.d.newID = func() string {
		n++
		return "test" + strconv.Itoa(n)
	}

	for _, w := range roster {
		if err := env.s.Upsert(w); err != nil {
			t.Fatalf("seed worker %s: %v", w.ID, err)
		}
	}
	t.Cleanup(env.d.Wait)
	return env
}

// seedJob stores j directly, bypassing the dispatcher, the way a backend
// notification would.
func (e *testEnv) seedJob(t *testing.T, j protocol.Job) {
	t.Helper()
	if j.Priority == "" {
		j.Priority = protocol.PriorityMedium
	}
	if err := e.s.Upsert(j); err != nil {
		t.Fatalf("seed job %s: %v", j.ID, err)
	}
}

func (e *testEnv) job(t *testing.T, id string) protocol.Job {
	t.Helper()
	j, ok := e.s.Job(id)
	if !ok {
		t.Fatalf("job %s missing from store", id)
	}
	return j
}

func (e *testEnv) worker(t *testing.T, id string) protocol.Worker {
	t.Helper()
	w, ok := e.s.Worker(id)
	if !ok {
		t.Fatalf("worker %s missing from store", id)
	}
	return w
}

// assertInvariants checks the properties that must hold after every intent.
func assertInvariants(t *testing.T, s *store.Store) {
	t.Helper()
	snap := s.Snapshot()
	active := make(map[string]int)
	for _, j := range snap.Jobs {
		if j.Status == protocol.JobCompleted && j.Duration == nil {
			t.Errorf("completed job %s has no duration", j.ID)
		}
		if j.Status == protocol.JobProcessing && j.Assignee == nil {
			t.Errorf("processing job %s has no assignee", j.ID)
		}
		if j.Assignee != nil && !j.Status.Terminal() {
			active[j.Assignee.WorkerID]++
		}
	}
	for _, w := range snap.Workers {
		if w.AssignedJobs != active[w.ID] {
			t.Errorf("worker %s AssignedJobs = %d, want %d", w.ID, w.AssignedJobs, active[w.ID])
		}
	}
}

func requireErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("error = %v, want %v", err, target)
	}
}
