package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/usbflow/usbpower-core/internal/infrastructure/database"
	"github.com/usbflow/usbpower-core/internal/infrastructure/logging"
)

// Entry statuses. Only resolved writes are recorded, pending states are not.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Entry is one recorded write attempt.
type Entry struct {
	ID           int64     `json:"id"`
	BatchID      string    `json:"batch_id"`
	RegistryPath string    `json:"registry_path"`
	Value        uint32    `json:"value"`
	Status       string    `json:"status"`
	Reason       string    `json:"reason,omitempty"`
	Elevated     bool      `json:"elevated"`
	CreatedAt    time.Time `json:"created_at"`
}

// Repository persists write outcomes to the write_audit table.
type Repository struct {
	db     *database.DB
	logger *logging.Logger
}

// NewRepository creates a Repository over an open database.
func NewRepository(db *database.DB, logger *logging.Logger) *Repository {
	if logger == nil {
		logger = logging.Default()
	}
	return &Repository{
		db:     db,
		logger: logger.With("component", "audit"),
	}
}

// RecordBatch inserts all entries of one batch in a single transaction.
// CreatedAt is assigned by the database. A nil receiver records nothing, so
// callers without an audit store can pass the repository through unchecked.
func (r *Repository) RecordBatch(ctx context.Context, entries []Entry) error {
	if r == nil || len(entries) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin audit transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit

	const insert = `
		INSERT INTO write_audit (batch_id, registry_path, value, status, reason, elevated)
		VALUES (?, ?, ?, ?, ?, ?)`
	for _, e := range entries {
		elevated := 0
		if e.Elevated {
			elevated = 1
		}
		if _, err := tx.ExecContext(ctx, insert,
			e.BatchID, e.RegistryPath, e.Value, e.Status, e.Reason, elevated); err != nil {
			return fmt.Errorf("insert audit entry for %s: %w", e.RegistryPath, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit audit batch: %w", err)
	}
	return nil
}

// List returns the most recent entries, newest first, up to limit.
func (r *Repository) List(ctx context.Context, limit int) ([]Entry, error) {
	const query = `
		SELECT id, batch_id, registry_path, value, status, reason, elevated, created_at
		FROM write_audit
		ORDER BY id DESC
		LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListByPath returns the most recent entries for one device, newest first.
func (r *Repository) ListByPath(ctx context.Context, registryPath string, limit int) ([]Entry, error) {
	const query = `
		SELECT id, batch_id, registry_path, value, status, reason, elevated, created_at
		FROM write_audit
		WHERE registry_path = ?
		ORDER BY id DESC
		LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, registryPath, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit entries for %s: %w", registryPath, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Prune deletes entries older than the cutoff and returns how many were
// removed.
func (r *Repository) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM write_audit WHERE created_at < ?`,
		olderThan.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("prune audit entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune audit entries: %w", err)
	}
	if n > 0 {
		r.logger.Info("pruned audit entries", "removed", n, "cutoff", olderThan)
	}
	return n, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			elevated  int
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.BatchID, &e.RegistryPath, &e.Value,
			&e.Status, &e.Reason, &elevated, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Elevated = elevated != 0
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			e.CreatedAt = t
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}
