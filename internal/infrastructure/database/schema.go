package database

import (
	"context"
	"fmt"
)

// schema is the bootstrap schema for USB Power Core.
//
// The write_audit table records every attempted registry write and its
// confirmed outcome. Devices themselves are never persisted: identity is
// session-scoped and the registry is always re-enumerated from the source
// of truth.
const schema = `
CREATE TABLE IF NOT EXISTS write_audit (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id      TEXT    NOT NULL,
	registry_path TEXT    NOT NULL,
	value         INTEGER NOT NULL,
	status        TEXT    NOT NULL,
	reason        TEXT    NOT NULL DEFAULT '',
	elevated      INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
);

CREATE INDEX IF NOT EXISTS idx_write_audit_path
	ON write_audit (registry_path, created_at);

CREATE INDEX IF NOT EXISTS idx_write_audit_batch
	ON write_audit (batch_id);
`

// Bootstrap creates the schema if it does not already exist.
// It is idempotent and safe to run on every startup.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: If schema creation fails
func (db *DB) Bootstrap(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("bootstrapping schema: %w", err)
	}
	return nil
}
