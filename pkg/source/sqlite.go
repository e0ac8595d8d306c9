package source

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"forgedash/pkg/protocol"

	_ "modernc.org/sqlite"
)

// LoadRosterDB reads the workers table of the SQLite database at dbPath.
// The database must already exist; forgedash never creates or writes it.
//
// Error cases:
//   - dbPath missing or not a SQLite database → error
//   - no workers table → error
//   - a row with an unknown status → error wrapping protocol.ErrInvalidInput
func LoadRosterDB(ctx context.Context, dbPath string) ([]protocol.Worker, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("roster db %s: %w", dbPath, err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open roster db %s: %w", dbPath, err)
	}
	defer db.Close() //nolint:errcheck // best-effort close on read-only query path

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping roster db %s: %w", dbPath, err)
	}

	rows, err := db.QueryContext(ctx, protocol.RosterQuery)
	if err != nil {
		return nil, fmt.Errorf("query workers: %w", err)
	}
	defer rows.Close() //nolint:errcheck // best-effort close after full iteration

	var workers []protocol.Worker
	for rows.Next() {
		var w protocol.Worker
		var status string
		if err := rows.Scan(&w.ID, &w.Name, &w.Role, &status); err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		if w.Status, err = protocol.ParseWorkerStatus(status); err != nil {
			return nil, fmt.Errorf("worker %s: %w", w.ID, err)
		}
		workers = append(workers, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workers: %w", err)
	}
	if err := validateRoster(workers); err != nil {
		return nil, err
	}
	return workers, nil
}
