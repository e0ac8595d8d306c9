package protocol

// Step is one node of a workflow DAG.
type Step struct {
	ID        string   `json:"id" yaml:"id"`
	Kind      string   `json:"kind" yaml:"kind"`
	DependsOn []string `json:"depends_on" yaml:"depends_on"`
}

// DAGDefinition is the document submitted to the backend to create a
// workflow. WorkflowID is optional; the backend may assign one.
type DAGDefinition struct {
	WorkflowID string `json:"workflow_id,omitempty" yaml:"workflow_id,omitempty"`
	Name       string `json:"name,omitempty" yaml:"name,omitempty"`
	Steps      []Step `json:"steps" yaml:"steps"`
}

// SubmitResponse is the backend's answer to a successful submission.
type SubmitResponse struct {
	WorkflowID string `json:"workflow_id"`
}
