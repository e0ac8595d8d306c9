package protocol

// RosterDDL defines the SQLite table a roster database exposes. forgedash
// only reads it; provisioning workers is the backend's job.
const RosterDDL = `
CREATE TABLE IF NOT EXISTS workers (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    role TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'online',
    position INTEGER NOT NULL DEFAULT 0
);
`

// RosterQuery selects the roster in display order.
const RosterQuery = `
SELECT id, name, role, status
FROM   workers
ORDER  BY position, id
`
