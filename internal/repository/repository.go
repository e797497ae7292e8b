// Package repository defines the storage interfaces the service layer
// depends on. The sqlite subpackage provides the concrete implementation;
// tests use the same implementation against an in-memory database.
package repository

import (
	"context"

	"github.com/ncsstat/ncsstat/internal/model"
)

// ProfileRepository stores the application's user records.
//
// The two token operations are the one place this subsystem touches shared
// mutable state under concurrency. Both are single atomic conditional
// updates at the storage layer: DebitTokens must fail closed (no mutation)
// when the balance is insufficient, never read-compare-write from
// application code.
type ProfileRepository interface {
	Create(ctx context.Context, p *model.Profile) error
	GetByID(ctx context.Context, id string) (*model.Profile, error)
	GetByEmail(ctx context.Context, email string) (*model.Profile, error)
	GetByORCID(ctx context.Context, orcidID string) (*model.Profile, error)
	GetByReferralCode(ctx context.Context, code string) (*model.Profile, error)

	// AttachORCID links an ORCID iD to an existing profile and refreshes
	// the full name when a non-empty one is supplied.
	AttachORCID(ctx context.Context, id, orcidID, fullName string) error
	TouchLastActive(ctx context.Context, id string) error
	SetRole(ctx context.Context, id string, role model.Role) error
	IncrementReferralCount(ctx context.Context, id string) error

	// DebitTokens atomically subtracts amount from the balance, returning
	// the new balance. Returns apperror.ErrInsufficientBalance (and changes
	// nothing) when the balance is below amount.
	DebitTokens(ctx context.Context, id string, amount int64) (int64, error)
	// CreditTokens atomically adds amount to the balance.
	CreditTokens(ctx context.Context, id string, amount int64) (int64, error)
}

// TransactionRepository is the append-only ledger log.
type TransactionRepository interface {
	Append(ctx context.Context, tx *model.Transaction) error
	ListByUser(ctx context.Context, userID string, limit int) ([]model.Transaction, error)
}

// SystemConfigRepository reads operator-tunable values (e.g. the default
// starting token balance) from the system_config table.
type SystemConfigRepository interface {
	GetInt(ctx context.Context, key string) (int64, error)
	Set(ctx context.Context, key, value string) error
}

// AuditRepository records append-only audit events.
type AuditRepository interface {
	Record(ctx context.Context, entry *model.AuditEntry) error
}
