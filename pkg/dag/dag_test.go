package dag_test

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"forgedash/pkg/dag"
	"forgedash/pkg/protocol"
)

func step(id, kind string, deps ...string) protocol.Step {
	return protocol.Step{ID: id, Kind: kind, DependsOn: deps}
}

func TestValidate_OrdersDependenciesFirst(t *testing.T) {
	def := protocol.DAGDefinition{
		WorkflowID: "payment_process_001",
		Steps: []protocol.Step{
			step("send_email", "email.send", "charge_card"),
			step("validate_payment", "payment.validate"),
			step("charge_card", "payment.charge", "validate_payment"),
			step("audit", "audit.write", "validate_payment"),
		},
	}

	order, err := dag.Validate(def)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	want := []string{"validate_payment", "charge_card", "audit", "send_email"}
	if !slices.Equal(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name       string
		steps      []protocol.Step
		wantStep   string
		wantReason string
	}{
		{
			name:       "no steps",
			wantReason: "no steps",
		},
		{
			name:       "missing id",
			steps:      []protocol.Step{step("", "email.send")},
			wantReason: "no id",
		},
		{
			name:       "missing kind",
			steps:      []protocol.Step{step("a", "")},
			wantStep:   "a",
			wantReason: "missing kind",
		},
		{
			name:       "duplicate id",
			steps:      []protocol.Step{step("a", "x"), step("a", "y")},
			wantStep:   "a",
			wantReason: "duplicate",
		},
		{
			name:       "unknown dependency",
			steps:      []protocol.Step{step("a", "x", "ghost")},
			wantStep:   "a",
			wantReason: `"ghost" not defined`,
		},
		{
			name:       "self dependency",
			steps:      []protocol.Step{step("a", "x", "a")},
			wantStep:   "a",
			wantReason: "itself",
		},
		{
			name: "cycle",
			steps: []protocol.Step{
				step("root", "x"),
				step("a", "x", "root", "c"),
				step("b", "x", "a"),
				step("c", "x", "b"),
			},
			wantStep:   "a",
			wantReason: "cycle detected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := dag.Validate(protocol.DAGDefinition{Steps: tt.steps})
			if !errors.Is(err, protocol.ErrInvalidDag) {
				t.Fatalf("error = %v, want ErrInvalidDag", err)
			}
			var de *protocol.DagError
			if !errors.As(err, &de) {
				t.Fatalf("error %T is not *DagError", err)
			}
			if de.StepID != tt.wantStep {
				t.Errorf("StepID = %q, want %q", de.StepID, tt.wantStep)
			}
			if !strings.Contains(de.Reason, tt.wantReason) {
				t.Errorf("Reason = %q, want it to contain %q", de.Reason, tt.wantReason)
			}
		})
	}
}

func TestValidate_DuplicateDependencyCountedOnce(t *testing.T) {
	def := protocol.DAGDefinition{Steps: []protocol.Step{
		step("a", "x"),
		step("b", "x", "a", "a"),
	}}
	order, err := dag.Validate(def)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !slices.Equal(order, []string{"a", "b"}) {
		t.Errorf("order = %v", order)
	}
}

func TestDecode(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		def, err := dag.Decode([]byte(`{"workflow_id":"wf_1","steps":[{"id":"a","kind":"x","depends_on":[]}]}`))
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if def.WorkflowID != "wf_1" || len(def.Steps) != 1 {
			t.Errorf("def = %+v", def)
		}
	})

	t.Run("yaml", func(t *testing.T) {
		src := "name: nightly\nsteps:\n  - id: extract\n    kind: etl.extract\n  - id: load\n    kind: etl.load\n    depends_on: [extract]\n"
		def, err := dag.Decode([]byte(src))
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if def.Name != "nightly" || len(def.Steps) != 2 || def.Steps[1].DependsOn[0] != "extract" {
			t.Errorf("def = %+v", def)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := dag.Decode([]byte(`{"steps": [`))
		if !errors.Is(err, protocol.ErrInvalidDag) {
			t.Errorf("error = %v, want ErrInvalidDag", err)
		}
	})

	t.Run("empty", func(t *testing.T) {
		_, err := dag.Decode([]byte("  \n"))
		if !errors.Is(err, protocol.ErrInvalidDag) {
			t.Errorf("error = %v, want ErrInvalidDag", err)
		}
	})
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flow.json")
	if err := os.WriteFile(path, []byte(`{"steps":[{"id":"a","kind":"x"}]}`), 0o600); err != nil {
		t.Fatal(err)
	}
	def, err := dag.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, err := dag.Validate(def); err != nil {
		t.Errorf("Validate: %v", err)
	}

	if _, err := dag.Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Load of missing file should fail")
	}
}
