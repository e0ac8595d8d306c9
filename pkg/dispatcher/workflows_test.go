package dispatcher //nolint:testpackage // internal white-box tests need access to unexported fields

import (
	"context"
	"errors"
	"testing"
	"time"

	"forgedash/pkg/protocol"
	"forgedash/pkg/store"
)

func paymentDAG() protocol.DAGDefinition {
	return protocol.DAGDefinition{
		WorkflowID: "payment_process_001",
		Name:       "Payment Processing",
		Steps: []protocol.Step{
			{ID: "validate_payment", Kind: "payment.validate"},
			{ID: "charge_card", Kind: "payment.charge", DependsOn: []string{"validate_payment"}},
			{ID: "send_email", Kind: "email.send", DependsOn: []string{"charge_card"}},
		},
	}
}

func waitSubmission(t *testing.T, sub *Submission) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	id, err := sub.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("submission did not resolve")
	}
	return id, err
}

func TestCreateWorkflow_PendingThenConfirmed(t *testing.T) {
	env := newTestEnv(t)
	env.sub.block = make(chan struct{})

	id, sub, err := env.d.CreateWorkflow(context.Background(), paymentDAG())
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	if id != "payment_process_001" {
		t.Errorf("id = %q", id)
	}

	// The placeholder is visible before the backend answers.
	wf, ok := env.s.Workflow(id)
	if !ok || wf.Status != protocol.WorkflowPending || wf.NodesTotal != 3 || wf.Name != "Payment Processing" {
		t.Fatalf("placeholder = %+v, %v", wf, ok)
	}
	select {
	case <-sub.Done():
		t.Fatal("submission resolved before the backend answered")
	default:
	}

	close(env.sub.block)
	got, err := waitSubmission(t, sub)
	if err != nil || got != id {
		t.Fatalf("Wait = %q, %v", got, err)
	}
	if env.s.Len(protocol.KindWorkflow) != 1 {
		t.Errorf("workflows = %d, want 1", env.s.Len(protocol.KindWorkflow))
	}
}

func TestCreateWorkflow_RekeysToServerID(t *testing.T) {
	env := newTestEnv(t)
	env.sub.respFn = func(protocol.DAGDefinition) (protocol.SubmitResponse, error) {
		return protocol.SubmitResponse{WorkflowID: "wf_8923473"}, nil
	}
	def := paymentDAG()
	def.WorkflowID = ""

	id, sub, err := env.d.CreateWorkflow(context.Background(), def)
	if err != nil {
		t.Fatal(err)
	}
	if id != "wf_test1" {
		t.Errorf("placeholder id = %q, want wf_test1", id)
	}

	final, err := waitSubmission(t, sub)
	if err != nil || final != "wf_8923473" {
		t.Fatalf("Wait = %q, %v", final, err)
	}
	wfs := env.s.Workflows()
	if len(wfs) != 1 || wfs[0].ID != "wf_8923473" || wfs[0].Name != "Payment Processing" {
		t.Errorf("workflows = %+v", wfs)
	}
}

func TestCreateWorkflow_NotificationBeforeConfirmation(t *testing.T) {
	env := newTestEnv(t)
	env.sub.block = make(chan struct{})
	env.sub.respFn = func(protocol.DAGDefinition) (protocol.SubmitResponse, error) {
		return protocol.SubmitResponse{WorkflowID: "wf_server"}, nil
	}
	def := paymentDAG()
	def.WorkflowID = ""

	_, sub, err := env.d.CreateWorkflow(context.Background(), def)
	if err != nil {
		t.Fatal(err)
	}
	// The feed reports the workflow under the server's ID before the HTTP
	// response lands.
	_ = env.s.Upsert(protocol.Workflow{ID: "wf_server", Name: "Payment Processing", Status: protocol.WorkflowRunning, NodesTotal: 3, NodesCompleted: 1})
	close(env.sub.block)

	if _, err := waitSubmission(t, sub); err != nil {
		t.Fatal(err)
	}
	wfs := env.s.Workflows()
	if len(wfs) != 1 {
		t.Fatalf("workflows = %+v, want exactly one", wfs)
	}
	if wfs[0].Status != protocol.WorkflowRunning || wfs[0].Progress != 33 {
		t.Errorf("notification was overwritten: %+v", wfs[0])
	}
}

func TestCreateWorkflow_InvalidDagLeavesStoreUnchanged(t *testing.T) {
	env := newTestEnv(t)
	def := paymentDAG()
	def.Steps[0].DependsOn = []string{"send_email"}
	seq := env.s.Seq()

	_, sub, err := env.d.CreateWorkflow(context.Background(), def)
	requireErrorIs(t, err, protocol.ErrInvalidDag)
	if sub != nil {
		t.Error("got a submission for an invalid dag")
	}
	if env.s.Seq() != seq || env.sub.Calls() != 0 {
		t.Error("invalid dag reached the store or the backend")
	}
}

func TestCreateWorkflow_BackendFailures(t *testing.T) {
	tests := []struct {
		name    string
		respErr error
		want    error
	}{
		{"transport failure", errors.New("connection refused"), protocol.ErrBackendUnavailable},
		{"backend rejects dag", &protocol.DagError{Reason: "unknown job kind"}, protocol.ErrInvalidDag},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.sub.respFn = func(protocol.DAGDefinition) (protocol.SubmitResponse, error) {
				return protocol.SubmitResponse{}, tt.respErr
			}

			id, sub, err := env.d.CreateWorkflow(context.Background(), paymentDAG())
			if err != nil {
				t.Fatalf("CreateWorkflow: %v", err)
			}
			_, err = waitSubmission(t, sub)
			requireErrorIs(t, err, tt.want)
			if _, ok := env.s.Workflow(id); ok {
				t.Error("placeholder not withdrawn after failure")
			}
		})
	}
}

func TestCreateWorkflow_NoBackend(t *testing.T) {
	d := New(Config{}, store.New(), nil)
	_, _, err := d.CreateWorkflow(context.Background(), paymentDAG())
	requireErrorIs(t, err, protocol.ErrBackendUnavailable)
	if d.Store().Len(protocol.KindWorkflow) != 0 {
		t.Error("placeholder created without a backend")
	}
}

func TestCreateWorkflow_DuplicateID(t *testing.T) {
	env := newTestEnv(t)
	_ = env.s.Upsert(protocol.Workflow{ID: "payment_process_001", Status: protocol.WorkflowRunning})

	_, _, err := env.d.CreateWorkflow(context.Background(), paymentDAG())
	requireErrorIs(t, err, protocol.ErrInvalidDag)
}

func TestCreateWorkflow_CallerCancelDoesNotAbort(t *testing.T) {
	env := newTestEnv(t)
	env.sub.block = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())

	_, sub, err := env.d.CreateWorkflow(ctx, paymentDAG())
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	// Let the submitter observe the cancelled parent if it were propagated.
	time.Sleep(20 * time.Millisecond)
	close(env.sub.block)

	if _, err := waitSubmission(t, sub); err != nil {
		t.Errorf("submission failed after caller cancel: %v", err)
	}
}

func TestWorkflowProgress_AllNodesCompleted(t *testing.T) {
	env := newTestEnv(t)
	_ = env.s.Upsert(protocol.Workflow{ID: "wf_8923473", Name: "User Onboarding Flow", Status: protocol.WorkflowRunning, NodesTotal: 8, NodesCompleted: 8, Progress: 75})

	wf, _ := env.s.Workflow("wf_8923473")
	if wf.Progress != 100 || wf.Status != protocol.WorkflowCompleted {
		t.Errorf("workflow = %+v, want 100%% completed", wf)
	}
}
