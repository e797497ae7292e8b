package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/ncsstat/ncsstat/internal/model"
	"github.com/ncsstat/ncsstat/internal/repository"
)

var _ repository.AuditRepository = (*DB)(nil)

// Record appends one audit row. Callers fire this asynchronously and only log
// failures — an audit write must never fail the request that triggered it.
func (db *DB) Record(ctx context.Context, entry *model.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = xid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO audit_log (id, event, user_id, detail, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.ID,
		entry.Event,
		entry.UserID,
		entry.Detail,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: recording audit event %s: %w", entry.Event, err)
	}

	return nil
}
