package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/ncsstat/ncsstat/internal/model"
	"github.com/ncsstat/ncsstat/internal/repository"
)

var _ repository.TransactionRepository = (*DB)(nil)

// Append writes one immutable ledger row. Rows are never updated or deleted.
func (db *DB) Append(ctx context.Context, tx *model.Transaction) error {
	if tx.ID == "" {
		tx.ID = xid.New().String()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO transactions (id, user_id, kind, amount, balance_after, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tx.ID,
		tx.UserID,
		string(tx.Kind),
		tx.Amount,
		tx.BalanceAfter,
		tx.Reason,
		tx.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: appending transaction for %s: %w", tx.UserID, err)
	}

	return nil
}

// ListByUser returns the user's most recent ledger rows, newest first.
func (db *DB) ListByUser(ctx context.Context, userID string, limit int) ([]model.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, user_id, kind, amount, balance_after, reason, created_at
		 FROM transactions WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing transactions for %s: %w", userID, err)
	}
	defer rows.Close()

	var txs []model.Transaction
	for rows.Next() {
		var (
			tx   model.Transaction
			kind string
		)
		if err := rows.Scan(&tx.ID, &tx.UserID, &kind, &tx.Amount, &tx.BalanceAfter, &tx.Reason, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scanning transaction: %w", err)
		}
		tx.Kind = model.TransactionKind(kind)
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating transactions: %w", err)
	}

	return txs, nil
}
