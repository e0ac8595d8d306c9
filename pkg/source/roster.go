// Package source loads the data forgedash starts from and keeps it fresh:
// the worker roster (a YAML, TOML or JSON file, or a SQLite table), an
// optional seed of jobs, workflows and dead-letter entries, and a file
// watcher that reports when either changes on disk.
package source

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"forgedash/pkg/protocol"
	"forgedash/pkg/store"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// rosterDoc is the on-disk roster layout:
//
//	workers:
//	  - id: worker-1
//	    name: Alice Martin
//	    role: Senior Operator
//	    status: online
type rosterDoc struct {
	Workers []protocol.Worker `json:"workers" yaml:"workers" toml:"workers"`
}

// LoadRoster reads a roster file. The format follows the extension: .yaml
// or .yml, .toml, or .json.
func LoadRoster(path string) ([]protocol.Worker, error) {
	var doc rosterDoc
	if err := decodeFile(path, &doc); err != nil {
		return nil, err
	}
	if err := validateRoster(doc.Workers); err != nil {
		return nil, fmt.Errorf("roster %s: %w", path, err)
	}
	return doc.Workers, nil
}

func validateRoster(workers []protocol.Worker) error {
	seen := make(map[string]bool, len(workers))
	for i, w := range workers {
		if strings.TrimSpace(w.ID) == "" {
			return fmt.Errorf("%w: worker %d has no id", protocol.ErrInvalidInput, i)
		}
		if seen[w.ID] {
			return fmt.Errorf("%w: duplicate worker %s", protocol.ErrInvalidInput, w.ID)
		}
		seen[w.ID] = true
	}
	return nil
}

// decodeFile unmarshals path into v using the decoder for its extension.
func decodeFile(path string, v any) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, v)
	case ".toml":
		err = toml.Unmarshal(data, v)
	case ".json":
		err = json.Unmarshal(data, v)
	default:
		return fmt.Errorf("%w: unsupported file type %q for %s", protocol.ErrInvalidInput, ext, path)
	}
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// SyncRoster upserts workers into s in one transaction. Roster entries
// describe identity and availability; the counters the dashboard maintains
// (completions, failures, averages) survive a reload. Workers missing from
// the roster are left in place: the roster is a feed, not a replacement.
func SyncRoster(s *store.Store, workers []protocol.Worker) error {
	return s.Apply(func(tx *store.Tx) error {
		for _, w := range workers {
			if prev, ok := tx.Worker(w.ID); ok {
				w.CompletedToday = prev.CompletedToday
				w.FailedToday = prev.FailedToday
				w.AvgCompletion = prev.AvgCompletion
				w.SuccessRate = prev.SuccessRate
			} else if w.CompletedToday+w.FailedToday == 0 && w.SuccessRate == 0 {
				w.SuccessRate = 100
			}
			if w.Status == "" {
				w.Status = protocol.WorkerOnline
			}
			if err := tx.Upsert(w); err != nil {
				return err
			}
		}
		return nil
	})
}
