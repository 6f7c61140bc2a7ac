package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/plugandtel/callpolicy/internal/store/models"
)

// PolicyRepository is the fixed set of read queries the decision pipeline
// runs against the policy store. Every method maps to one parameterized
// query; a failed query is reported as an error and the calling step's
// fail-open or fail-closed rule applies.
type PolicyRepository interface {
	// AccountOptions returns the option flags and tenant for an account,
	// or nil if the account does not exist.
	AccountOptions(ctx context.Context, accountID string) (*models.AccountOptions, error)

	// AccountExistsInTenant reports whether accountID identifies a valid
	// account within the given tenant.
	AccountExistsInTenant(ctx context.Context, accountID string, tenantID int64) (bool, error)

	// MatchTranslationRule returns the translation rule with the longest
	// prefix literally matching number within the tenant, or nil if no
	// rule matches. Equal-length ties break on the lowest rule id.
	MatchTranslationRule(ctx context.Context, number string, tenantID int64) (*models.TranslationRule, error)

	// GroupCount returns how many groups the account belongs to.
	GroupCount(ctx context.Context, accountID string) (int, error)

	// BlockingGroupCount returns how many distinct groups of the account
	// hold a block rule whose prefix matches number.
	BlockingGroupCount(ctx context.Context, accountID, number string) (int, error)

	// MatchUserBlockRule returns a user-scoped block rule matching number,
	// or nil if the account has none.
	MatchUserBlockRule(ctx context.Context, accountID, number string) (*models.BlockRule, error)

	// MonitoredGroupCount returns how many of the account's groups have
	// monitoring enabled.
	MonitoredGroupCount(ctx context.Context, accountID string) (int, error)

	// PoolNumbers returns the account's pool numbers whose national
	// subscriber prefix matches the given digit.
	PoolNumbers(ctx context.Context, accountID string, subscriberDigit byte) ([]models.PoolNumber, error)
}

// policyRepo implements PolicyRepository over a policy store DB.
type policyRepo struct {
	db *DB
}

// NewPolicyRepository creates a PolicyRepository backed by db.
func NewPolicyRepository(db *DB) PolicyRepository {
	return &policyRepo{db: db}
}

func (r *policyRepo) AccountOptions(ctx context.Context, accountID string) (*models.AccountOptions, error) {
	var o models.AccountOptions
	err := r.db.QueryRowContext(ctx, r.db.rebind(
		`SELECT u.user_id, u.tenant_id, o.trunk_delegation, o.dynamic_caller_id, o.monitored
		 FROM users u INNER JOIN account_options o ON o.user_id = u.user_id
		 WHERE u.user_id = ?`), accountID,
	).Scan(&o.UserID, &o.TenantID, &o.TrunkDelegation, &o.DynamicCallerID, &o.Monitored)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying account options: %w", err)
	}
	return &o, nil
}

func (r *policyRepo) AccountExistsInTenant(ctx context.Context, accountID string, tenantID int64) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, r.db.rebind(
		`SELECT COUNT(*) FROM users WHERE user_id = ? AND tenant_id = ?`),
		accountID, tenantID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("querying account in tenant: %w", err)
	}
	return count > 0, nil
}

func (r *policyRepo) MatchTranslationRule(ctx context.Context, number string, tenantID int64) (*models.TranslationRule, error) {
	var t models.TranslationRule
	err := r.db.QueryRowContext(ctx, r.db.rebind(
		`SELECT id, tenant_id, prefix, digits_deleted, new_prefix
		 FROM prefix_translations
		 WHERE tenant_id = ? AND ? LIKE prefix || '%'
		 ORDER BY LENGTH(prefix) DESC, id ASC
		 LIMIT 1`), tenantID, number,
	).Scan(&t.ID, &t.TenantID, &t.Prefix, &t.DigitsDeleted, &t.NewPrefix)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying translation rule: %w", err)
	}
	return &t, nil
}

func (r *policyRepo) GroupCount(ctx context.Context, accountID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, r.db.rebind(
		`SELECT COUNT(*) FROM group_users WHERE user_id = ?`), accountID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting group memberships: %w", err)
	}
	return count, nil
}

func (r *policyRepo) BlockingGroupCount(ctx context.Context, accountID, number string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, r.db.rebind(
		`SELECT COUNT(DISTINCT b.group_id)
		 FROM group_block_rules b
		 INNER JOIN group_users gu ON gu.group_id = b.group_id
		 WHERE gu.user_id = ? AND LOWER(?) LIKE LOWER(b.prefix) || '%'`),
		accountID, number,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting blocking groups: %w", err)
	}
	return count, nil
}

func (r *policyRepo) MatchUserBlockRule(ctx context.Context, accountID, number string) (*models.BlockRule, error) {
	var b models.BlockRule
	err := r.db.QueryRowContext(ctx, r.db.rebind(
		`SELECT id, prefix FROM user_block_rules
		 WHERE user_id = ? AND LOWER(?) LIKE LOWER(prefix) || '%'
		 ORDER BY id ASC
		 LIMIT 1`), accountID, number,
	).Scan(&b.ID, &b.Prefix)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying user block rule: %w", err)
	}
	return &b, nil
}

func (r *policyRepo) MonitoredGroupCount(ctx context.Context, accountID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, r.db.rebind(
		`SELECT COUNT(*)
		 FROM group_users gu
		 INNER JOIN groups g ON g.group_id = gu.group_id
		 WHERE gu.user_id = ? AND g.monitored = 1`), accountID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting monitored groups: %w", err)
	}
	return count, nil
}

func (r *policyRepo) PoolNumbers(ctx context.Context, accountID string, subscriberDigit byte) ([]models.PoolNumber, error) {
	rows, err := r.db.QueryContext(ctx, r.db.rebind(
		`SELECT id, user_id, number FROM pool_numbers
		 WHERE user_id = ? AND number LIKE '0' || ? || '%'
		 ORDER BY id ASC`),
		accountID, string(subscriberDigit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying pool numbers: %w", err)
	}
	defer rows.Close()

	var nums []models.PoolNumber
	for rows.Next() {
		var n models.PoolNumber
		if err := rows.Scan(&n.ID, &n.UserID, &n.Number); err != nil {
			return nil, fmt.Errorf("scanning pool number row: %w", err)
		}
		nums = append(nums, n)
	}
	return nums, rows.Err()
}
