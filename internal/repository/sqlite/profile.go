package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"

	"github.com/ncsstat/ncsstat/internal/apperror"
	"github.com/ncsstat/ncsstat/internal/model"
	"github.com/ncsstat/ncsstat/internal/repository"
)

// compile-time check that *DB implements repository.ProfileRepository
var _ repository.ProfileRepository = (*DB)(nil)

const profileColumns = `id, email, orcid_id, full_name, display_name, role, provider,
	tokens, total_earned, total_spent, referral_code, referred_by, referral_count,
	last_active, created_at`

// Create inserts a new profile. When the caller has not assigned an ID (the
// ORCID-only case — managed-auth users arrive with the backend's UUID), a
// fresh UUID is generated here, along with a short referral code.
func (db *DB) Create(ctx context.Context, p *model.Profile) error {
	now := time.Now()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Role == "" {
		p.Role = model.RoleUser
	}
	if p.ReferralCode == "" {
		p.ReferralCode = xid.New().String()
	}
	p.CreatedAt = now
	p.LastActive = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO profiles (id, email, orcid_id, full_name, display_name, role, provider,
			tokens, total_earned, total_spent, referral_code, referred_by, referral_count,
			last_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.Email,
		nullableString(p.ORCIDID),
		p.FullName,
		p.DisplayName,
		string(p.Role),
		p.Provider,
		p.Tokens,
		p.TotalEarned,
		p.TotalSpent,
		p.ReferralCode,
		p.ReferredBy,
		p.ReferralCount,
		p.LastActive,
		p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting profile (orcid=%s): %w", p.ORCIDID, err)
	}

	return nil
}

// GetByID retrieves a profile by its UUID.
// Returns apperror.ErrNotFound if no profile exists with that ID.
func (db *DB) GetByID(ctx context.Context, id string) (*model.Profile, error) {
	return db.getProfile(ctx, `WHERE id = ?`, id)
}

// GetByEmail retrieves a profile by email. The bootstrap flow depends on this
// lookup running BEFORE the ORCID lookup — email wins when both would match.
func (db *DB) GetByEmail(ctx context.Context, email string) (*model.Profile, error) {
	return db.getProfile(ctx, `WHERE email = ? AND email != ''`, email)
}

// GetByORCID retrieves a profile by its linked ORCID iD.
func (db *DB) GetByORCID(ctx context.Context, orcidID string) (*model.Profile, error) {
	return db.getProfile(ctx, `WHERE orcid_id = ?`, orcidID)
}

// GetByReferralCode retrieves the profile owning a referral code.
func (db *DB) GetByReferralCode(ctx context.Context, code string) (*model.Profile, error) {
	return db.getProfile(ctx, `WHERE referral_code = ? AND referral_code != ''`, code)
}

func (db *DB) getProfile(ctx context.Context, where string, arg any) (*model.Profile, error) {
	var (
		p       model.Profile
		orcidID sql.NullString
		role    string
	)

	err := db.conn.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles `+where, arg,
	).Scan(
		&p.ID,
		&p.Email,
		&orcidID,
		&p.FullName,
		&p.DisplayName,
		&role,
		&p.Provider,
		&p.Tokens,
		&p.TotalEarned,
		&p.TotalSpent,
		&p.ReferralCode,
		&p.ReferredBy,
		&p.ReferralCount,
		&p.LastActive,
		&p.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("profile", fmt.Sprintf("%v", arg))
		}
		return nil, fmt.Errorf("sqlite: getting profile (%v): %w", arg, err)
	}

	p.ORCIDID = orcidID.String
	p.Role = model.Role(role)
	return &p, nil
}

// AttachORCID links an ORCID iD to an existing profile, refreshing the full
// name only when a non-empty replacement is supplied.
func (db *DB) AttachORCID(ctx context.Context, id, orcidID, fullName string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE profiles
		 SET orcid_id = ?,
		     full_name = CASE WHEN ? != '' THEN ? ELSE full_name END,
		     last_active = ?
		 WHERE id = ?`,
		orcidID, fullName, fullName, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: attaching orcid to profile %s: %w", id, err)
	}
	return requireRow(res, "profile", id)
}

// TouchLastActive bumps the profile's last_active timestamp.
func (db *DB) TouchLastActive(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE profiles SET last_active = ? WHERE id = ?`, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: touching profile %s: %w", id, err)
	}
	return requireRow(res, "profile", id)
}

// SetRole updates the profile's role.
func (db *DB) SetRole(ctx context.Context, id string, role model.Role) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE profiles SET role = ? WHERE id = ?`, string(role), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: setting role for profile %s: %w", id, err)
	}
	return requireRow(res, "profile", id)
}

// IncrementReferralCount adds one to the profile's referral counter.
func (db *DB) IncrementReferralCount(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE profiles SET referral_count = referral_count + 1 WHERE id = ?`, id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: incrementing referral count for %s: %w", id, err)
	}
	return requireRow(res, "profile", id)
}

// DebitTokens subtracts amount from the balance in ONE conditional UPDATE:
//
//	tokens = tokens - ? WHERE id = ? AND tokens >= ?
//
// Either the row still satisfies the condition and the whole debit applies,
// or nothing changes. There is no read-compare-write window for two
// concurrent debits to slip through.
func (db *DB) DebitTokens(ctx context.Context, id string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("sqlite: debit amount must be positive, got %d", amount)
	}

	res, err := db.conn.ExecContext(ctx,
		`UPDATE profiles
		 SET tokens = tokens - ?, total_spent = total_spent + ?
		 WHERE id = ? AND tokens >= ?`,
		amount, amount, id, amount,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: debiting profile %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: debit rows affected: %w", err)
	}
	if n == 0 {
		// Distinguish "no such profile" from "not enough tokens".
		p, getErr := db.GetByID(ctx, id)
		if getErr != nil {
			return 0, getErr
		}
		return p.Tokens, apperror.InsufficientBalance(amount, p.Tokens)
	}

	return db.currentBalance(ctx, id)
}

// CreditTokens adds amount to the balance and the earned counter.
func (db *DB) CreditTokens(ctx context.Context, id string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("sqlite: credit amount must be positive, got %d", amount)
	}

	res, err := db.conn.ExecContext(ctx,
		`UPDATE profiles
		 SET tokens = tokens + ?, total_earned = total_earned + ?
		 WHERE id = ?`,
		amount, amount, id,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: crediting profile %s: %w", id, err)
	}
	if err := requireRow(res, "profile", id); err != nil {
		return 0, err
	}

	return db.currentBalance(ctx, id)
}

func (db *DB) currentBalance(ctx context.Context, id string) (int64, error) {
	var balance int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT tokens FROM profiles WHERE id = ?`, id,
	).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("sqlite: reading balance for %s: %w", id, err)
	}
	return balance, nil
}

// requireRow converts a zero-rows-affected result into ErrNotFound.
func requireRow(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}

// nullableString maps "" to NULL so the UNIQUE index on orcid_id ignores
// profiles that have no ORCID iD yet.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
