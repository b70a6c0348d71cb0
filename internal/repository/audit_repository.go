package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iliyamo/field-reservation/internal/model"
)

// AuditRepo persists audit entries in the append-only audit_log table.
type AuditRepo struct {
	db *sql.DB
}

// NewAuditRepo returns a new AuditRepo bound to the given database.
func NewAuditRepo(db *sql.DB) *AuditRepo { return &AuditRepo{db: db} }

// Append inserts e and sets its generated ID.  The detail payload is
// stored in a JSON column.
func (r *AuditRepo) Append(ctx context.Context, e *model.AuditLogEntry) error {
	if !validAuditEntry(e) {
		return ErrInvalidAuditEntry
	}
	const q = `INSERT INTO audit_log (created_at, action, detail) VALUES (?, ?, ?)`
	result, err := r.db.ExecContext(ctx, q, e.Time.UTC(), string(e.Action), string(e.Detail))
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	e.ID = uint64(id)
	return nil
}

// ListNewestFirst returns every audit entry ordered by descending ID.
func (r *AuditRepo) ListNewestFirst(ctx context.Context) ([]model.AuditLogEntry, error) {
	const q = `SELECT id, created_at, action, detail FROM audit_log ORDER BY id DESC`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.AuditLogEntry{}
	for rows.Next() {
		var e model.AuditLogEntry
		var action string
		var detail []byte
		if err := rows.Scan(&e.ID, &e.Time, &action, &detail); err != nil {
			return nil, err
		}
		e.Action = model.AuditAction(action)
		e.Detail = append([]byte(nil), detail...)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
