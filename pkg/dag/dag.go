// Package dag validates workflow definitions before they are submitted to
// the backend: every step has an ID and a kind, IDs are unique, every
// dependency names a step of the same workflow, and the graph is acyclic.
package dag

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"forgedash/pkg/protocol"

	"gopkg.in/yaml.v3"
)

// Validate checks def and returns its step IDs in a topological order
// (dependencies first). Among steps that become ready at the same time the
// definition order is kept, so the result is deterministic.
//
// Every failure is a *protocol.DagError.
func Validate(def protocol.DAGDefinition) ([]string, error) {
	if len(def.Steps) == 0 {
		return nil, &protocol.DagError{Reason: "workflow has no steps"}
	}

	index := make(map[string]int, len(def.Steps))
	for i, st := range def.Steps {
		id := strings.TrimSpace(st.ID)
		if id == "" {
			return nil, &protocol.DagError{Reason: fmt.Sprintf("step %d has no id", i)}
		}
		if strings.TrimSpace(st.Kind) == "" {
			return nil, &protocol.DagError{StepID: id, Reason: "missing kind"}
		}
		if _, dup := index[id]; dup {
			return nil, &protocol.DagError{StepID: id, Reason: "duplicate step id"}
		}
		index[id] = i
	}

	// dependents[d] lists the steps waiting on d; inDegree counts unmet deps.
	dependents := make([][]int, len(def.Steps))
	inDegree := make([]int, len(def.Steps))
	for i, st := range def.Steps {
		id := strings.TrimSpace(st.ID)
		seen := make(map[string]bool, len(st.DependsOn))
		for _, dep := range st.DependsOn {
			dep = strings.TrimSpace(dep)
			if dep == id {
				return nil, &protocol.DagError{StepID: id, Reason: "depends on itself"}
			}
			j, ok := index[dep]
			if !ok {
				return nil, &protocol.DagError{StepID: id, Reason: fmt.Sprintf("dependency %q not defined", dep)}
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			dependents[j] = append(dependents[j], i)
			inDegree[i]++
		}
	}

	// Kahn's algorithm. ready is kept sorted by definition index.
	var ready []int
	for i := range def.Steps {
		if inDegree[i] == 0 {
			ready = append(ready, i)
		}
	}
	order := make([]string, 0, len(def.Steps))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, def.Steps[n].ID)
		for _, m := range dependents[n] {
			inDegree[m]--
			if inDegree[m] == 0 {
				ready = insertSorted(ready, m)
			}
		}
	}

	if len(order) != len(def.Steps) {
		for i, st := range def.Steps {
			if inDegree[i] > 0 {
				return nil, &protocol.DagError{StepID: st.ID, Reason: "cycle detected"}
			}
		}
	}
	return order, nil
}

func insertSorted(s []int, v int) []int {
	i := len(s)
	for i > 0 && s[i-1] > v {
		i--
	}
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

// Decode parses a definition from JSON or YAML. The format is picked from
// the first non-space byte.
func Decode(data []byte) (protocol.DAGDefinition, error) {
	var def protocol.DAGDefinition
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return def, &protocol.DagError{Reason: "empty definition"}
	}
	var err error
	if trimmed[0] == '{' {
		err = json.Unmarshal(trimmed, &def)
	} else {
		err = yaml.Unmarshal(trimmed, &def)
	}
	if err != nil {
		return def, &protocol.DagError{Reason: "malformed definition: " + err.Error()}
	}
	return def, nil
}

// Load reads and decodes a definition file.
func Load(path string) (protocol.DAGDefinition, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return protocol.DAGDefinition{}, fmt.Errorf("read dag %s: %w", path, err)
	}
	return Decode(data)
}
