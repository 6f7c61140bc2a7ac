// Package models defines the row types read from the policy store.
// All reference data is read-only to the decision pipeline.
package models

// AccountOptions holds the per-account option flags joined with the
// account's tenant. Mirrors the users + account_options tables.
type AccountOptions struct {
	UserID          string
	TenantID        int64
	TrunkDelegation bool
	DynamicCallerID bool
	Monitored       bool
}

// TranslationRule maps a dialed-number prefix to canonical international
// form: discard DigitsDeleted leading characters, prepend NewPrefix.
type TranslationRule struct {
	ID            int64
	TenantID      int64
	Prefix        string
	DigitsDeleted int
	NewPrefix     string
}

// BlockRule is a forbidden destination prefix scoped to a group or a user.
// The prefix matches SQL-style: the pattern literally followed by anything.
type BlockRule struct {
	ID     int64
	Prefix string
}

// PoolNumber is a caller-id-presentable number owned by an account.
type PoolNumber struct {
	ID     int64
	UserID string
	Number string
}
