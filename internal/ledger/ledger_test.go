package ledger

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ncsstat/ncsstat/internal/apperror"
	"github.com/ncsstat/ncsstat/internal/model"
	"github.com/ncsstat/ncsstat/internal/repository/sqlite"
)

func newTestLedger(t *testing.T) (*Ledger, *sqlite.DB) {
	t.Helper()
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(db, db, logger), db
}

func seedProfile(t *testing.T, db *sqlite.DB, tokens int64) *model.Profile {
	t.Helper()
	p := &model.Profile{Email: "ledger@example.com", Tokens: tokens}
	require.NoError(t, db.Create(context.Background(), p))
	return p
}

func TestGetBalance(t *testing.T) {
	l, db := newTestLedger(t)
	p := seedProfile(t, db, 1234)

	balance, err := l.GetBalance(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1234), balance)
}

func TestGetBalance_UnknownUser(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.GetBalance(context.Background(), "missing")
	assert.ErrorIs(t, err, apperror.ErrNotFound)
}

func TestCheckBalance(t *testing.T) {
	l, db := newTestLedger(t)
	p := seedProfile(t, db, 500)

	res, err := l.CheckBalance(context.Background(), p.ID, 300)
	require.NoError(t, err)
	assert.True(t, res.HasEnough)
	assert.Equal(t, int64(500), res.CurrentBalance)
	assert.Equal(t, int64(300), res.Required)

	res, err = l.CheckBalance(context.Background(), p.ID, 501)
	require.NoError(t, err)
	assert.False(t, res.HasEnough)
}

func TestDebit_AppendsTransactionRow(t *testing.T) {
	l, db := newTestLedger(t)
	p := seedProfile(t, db, 1000)

	balance, err := l.Debit(context.Background(), p.ID, 250, "analysis")
	require.NoError(t, err)
	assert.Equal(t, int64(750), balance)

	txs, err := db.ListByUser(context.Background(), p.ID, 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, model.TransactionDebit, txs[0].Kind)
	assert.Equal(t, int64(250), txs[0].Amount)
	assert.Equal(t, int64(750), txs[0].BalanceAfter)
	assert.Equal(t, "analysis", txs[0].Reason)
}

func TestDebit_InsufficientWritesNothing(t *testing.T) {
	l, db := newTestLedger(t)
	p := seedProfile(t, db, 100)

	balance, err := l.Debit(context.Background(), p.ID, 500, "analysis")
	assert.ErrorIs(t, err, apperror.ErrInsufficientBalance)
	assert.Equal(t, int64(100), balance, "reported balance should be untouched")

	// Fail closed: no ledger row either
	txs, err := db.ListByUser(context.Background(), p.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestCredit_AppendsTransactionRow(t *testing.T) {
	l, db := newTestLedger(t)
	p := seedProfile(t, db, 0)

	balance, err := l.Credit(context.Background(), p.ID, 20000, "referral_bonus")
	require.NoError(t, err)
	assert.Equal(t, int64(20000), balance)

	txs, err := db.ListByUser(context.Background(), p.ID, 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, model.TransactionCredit, txs[0].Kind)
	assert.Equal(t, "referral_bonus", txs[0].Reason)
}

func TestDebitThenCredit_CountersAreMonotonic(t *testing.T) {
	l, db := newTestLedger(t)
	p := seedProfile(t, db, 1000)

	_, err := l.Debit(context.Background(), p.ID, 400, "analysis")
	require.NoError(t, err)
	_, err = l.Credit(context.Background(), p.ID, 100, "feedback_bonus")
	require.NoError(t, err)

	got, err := db.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(700), got.Tokens)
	assert.Equal(t, int64(400), got.TotalSpent)
	assert.Equal(t, int64(100), got.TotalEarned)
}
