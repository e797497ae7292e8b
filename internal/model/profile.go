// Package model defines the data structures used throughout the application.
package model

import "time"

// Role is the access level of a profile. Everyone starts as RoleUser;
// RoleResearcher is granted through the unlock flow, RoleAdmin is set by hand.
type Role string

const (
	RoleUser       Role = "user"
	RoleResearcher Role = "researcher"
	RoleAdmin      Role = "admin"
)

// Profile is the application's own user record, one per human end-user.
//
// It is deliberately distinct from whatever record the managed-auth backend
// keeps. A profile is created in one of two ways:
//   - lazily mirrored from a managed-auth user on their first login, or
//   - explicitly through the ORCID profile bootstrap for researchers who
//     authenticate via ORCID and have no managed-auth account at all.
//
// WHY ID string (UUID) AND NOT AN AUTO-INCREMENT?
// Managed-auth users arrive with a UUID assigned by the auth backend, and the
// two populations share one table. Generating our own UUID for ORCID-only
// users keeps every row addressable the same way, including from the
// orcid_user pseudo-session cookie which stores a raw profile UUID.
type Profile struct {
	ID            string    `json:"id"            db:"id"`
	Email         string    `json:"email"         db:"email"`     // may be empty for managed-auth users who hid it
	ORCIDID       string    `json:"orcidId"       db:"orcid_id"`  // dddd-dddd-dddd-dddX, empty when not linked
	FullName      string    `json:"fullName"      db:"full_name"`
	DisplayName   string    `json:"displayName"   db:"display_name"`
	Role          Role      `json:"role"          db:"role"`
	Provider      string    `json:"provider"      db:"provider"` // "orcid", "email", "google", ...
	Tokens        int64     `json:"tokens"        db:"tokens"`   // credit balance, kept non-negative by the ledger
	TotalEarned   int64     `json:"totalEarned"   db:"total_earned"`
	TotalSpent    int64     `json:"totalSpent"    db:"total_spent"`
	ReferralCode  string    `json:"referralCode"  db:"referral_code"`
	ReferredBy    string    `json:"referredBy"    db:"referred_by"` // referral code of the referrer, at most one
	ReferralCount int64     `json:"referralCount" db:"referral_count"`
	LastActive    time.Time `json:"lastActive"    db:"last_active"`
	CreatedAt     time.Time `json:"createdAt"     db:"created_at"`
}

// TransactionKind distinguishes the two directions of a ledger entry.
type TransactionKind string

const (
	TransactionDebit  TransactionKind = "debit"
	TransactionCredit TransactionKind = "credit"
)

// Transaction is one immutable row in the credits ledger. Rows are only ever
// appended; the running balance lives on the Profile and BalanceAfter records
// what it was immediately after this entry was applied.
type Transaction struct {
	ID           string          `json:"id"           db:"id"`
	UserID       string          `json:"userId"       db:"user_id"`
	Kind         TransactionKind `json:"kind"         db:"kind"`
	Amount       int64           `json:"amount"       db:"amount"` // always positive; Kind carries the sign
	BalanceAfter int64           `json:"balanceAfter" db:"balance_after"`
	Reason       string          `json:"reason"       db:"reason"` // e.g. "analysis", "referral_bonus", "feedback_bonus"
	CreatedAt    time.Time       `json:"createdAt"    db:"created_at"`
}

// AuditEntry is one row in the append-only audit log. Audit writes are
// best-effort: a failed write is logged and never fails the request that
// triggered it.
type AuditEntry struct {
	ID        string    `json:"id"        db:"id"`
	Event     string    `json:"event"     db:"event"` // "user_registered", "user_login", ...
	UserID    string    `json:"userId"    db:"user_id"`
	Detail    string    `json:"detail"    db:"detail"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
