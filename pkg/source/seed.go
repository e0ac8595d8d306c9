package source

import (
	"fmt"

	"forgedash/pkg/protocol"
	"forgedash/pkg/store"
)

// Seed is an initial state for the store, used when the dashboard runs
// without a backend feed or should start pre-populated.
type Seed struct {
	Workers   []protocol.Worker   `json:"workers" yaml:"workers" toml:"workers"`
	Jobs      []protocol.Job      `json:"jobs" yaml:"jobs" toml:"jobs"`
	Workflows []protocol.Workflow `json:"workflows" yaml:"workflows" toml:"workflows"`
	DLQ       []protocol.DLQEntry `json:"dlq" yaml:"dlq" toml:"dlq"`
}

// LoadSeed reads a seed file (.yaml, .yml, .toml or .json).
func LoadSeed(path string) (Seed, error) {
	var seed Seed
	if err := decodeFile(path, &seed); err != nil {
		return Seed{}, err
	}
	if err := validateRoster(seed.Workers); err != nil {
		return Seed{}, fmt.Errorf("seed %s: %w", path, err)
	}
	return seed, nil
}

// Apply loads the seed into s as one transaction. Seeded workers go through
// the same merge as a roster sync. Entries without an ID reject the whole
// seed.
func (sd Seed) Apply(s *store.Store) error {
	if err := SyncRoster(s, sd.Workers); err != nil {
		return err
	}
	return s.Apply(func(tx *store.Tx) error {
		for _, j := range sd.Jobs {
			if j.Priority == "" {
				j.Priority = protocol.PriorityMedium
			}
			if j.Status == "" {
				j.Status = protocol.JobQueued
			}
			if err := tx.Upsert(j); err != nil {
				return err
			}
		}
		for _, wf := range sd.Workflows {
			if err := tx.Upsert(wf); err != nil {
				return err
			}
		}
		for _, e := range sd.DLQ {
			if err := tx.Upsert(e); err != nil {
				return err
			}
		}
		return nil
	})
}
