// Package ledger is the credits/tokens balance-and-transaction subsystem.
//
// Balances live on the Profile row; every movement appends an immutable
// Transaction. The atomicity story is delegated to the storage layer: a debit
// is a single conditional UPDATE ("subtract where balance is sufficient"),
// so two concurrent debits against the same user can never both succeed past
// the available balance. Nothing in this package reads a balance and writes
// it back.
package ledger

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ncsstat/ncsstat/internal/apperror"
	"github.com/ncsstat/ncsstat/internal/model"
	"github.com/ncsstat/ncsstat/internal/repository"
)

// CheckResult answers "can this user afford cost" without mutating anything.
type CheckResult struct {
	HasEnough      bool  `json:"hasEnough"`
	CurrentBalance int64 `json:"currentBalance"`
	Required       int64 `json:"required"`
}

// Ledger performs balance checks, debits and credits keyed by user id.
type Ledger struct {
	profiles repository.ProfileRepository
	txs      repository.TransactionRepository
	logger   *slog.Logger
}

func New(profiles repository.ProfileRepository, txs repository.TransactionRepository, logger *slog.Logger) *Ledger {
	return &Ledger{
		profiles: profiles,
		txs:      txs,
		logger:   logger,
	}
}

// GetBalance returns the user's current token balance.
func (l *Ledger) GetBalance(ctx context.Context, userID string) (int64, error) {
	p, err := l.profiles.GetByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	return p.Tokens, nil
}

// CheckBalance reports whether the user can afford cost. Read-only: a true
// result is advisory, the authoritative check happens inside Debit.
func (l *Ledger) CheckBalance(ctx context.Context, userID string, cost int64) (CheckResult, error) {
	balance, err := l.GetBalance(ctx, userID)
	if err != nil {
		return CheckResult{}, err
	}
	return CheckResult{
		HasEnough:      balance >= cost,
		CurrentBalance: balance,
		Required:       cost,
	}, nil
}

// Debit atomically subtracts amount from the user's balance and appends a
// ledger row. Fails closed with apperror.ErrInsufficientBalance when the
// balance is short; in that case nothing is mutated and no row is written.
func (l *Ledger) Debit(ctx context.Context, userID string, amount int64, reason string) (int64, error) {
	newBalance, err := l.profiles.DebitTokens(ctx, userID, amount)
	if err != nil {
		if errors.Is(err, apperror.ErrInsufficientBalance) {
			l.logger.Info("ledger: debit refused",
				slog.String("userID", userID),
				slog.Int64("amount", amount),
				slog.Int64("balance", newBalance),
				slog.String("reason", reason),
			)
		}
		return newBalance, err
	}

	l.append(ctx, &model.Transaction{
		UserID:       userID,
		Kind:         model.TransactionDebit,
		Amount:       amount,
		BalanceAfter: newBalance,
		Reason:       reason,
	})

	return newBalance, nil
}

// Credit atomically adds amount to the user's balance and appends a ledger row.
func (l *Ledger) Credit(ctx context.Context, userID string, amount int64, reason string) (int64, error) {
	newBalance, err := l.profiles.CreditTokens(ctx, userID, amount)
	if err != nil {
		return 0, err
	}

	l.append(ctx, &model.Transaction{
		UserID:       userID,
		Kind:         model.TransactionCredit,
		Amount:       amount,
		BalanceAfter: newBalance,
		Reason:       reason,
	})

	return newBalance, nil
}

// append writes the transaction row. The balance update has already landed;
// a failed log write is recorded loudly but does not unwind the movement.
func (l *Ledger) append(ctx context.Context, tx *model.Transaction) {
	if err := l.txs.Append(ctx, tx); err != nil {
		l.logger.Error("ledger: transaction log append failed",
			slog.String("userID", tx.UserID),
			slog.String("kind", string(tx.Kind)),
			slog.Int64("amount", tx.Amount),
			slog.String("error", err.Error()),
		)
	}
}
