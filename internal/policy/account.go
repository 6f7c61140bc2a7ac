package policy

import "context"

// resolveAccount re-maps the call's billing account when the account has
// trunk delegation enabled and the presented caller id names another
// account in the same tenant. Every failure path is fail-safe: the call
// continues under the original account, never terminating here.
func (p *Pipeline) resolveAccount(ctx context.Context, cc *CallContext) {
	opts, err := p.repo.AccountOptions(ctx, cc.AccountID)
	if err != nil {
		p.stepFailed(cc, "account_resolve", err)
		return
	}
	if opts == nil {
		p.logger.Warn("no options row for account, keeping original identity",
			"call_id", cc.CallID,
			"account_id", cc.AccountID,
		)
		return
	}
	if !opts.TrunkDelegation {
		p.logger.Debug("trunk delegation not enabled",
			"call_id", cc.CallID,
			"account_id", cc.AccountID,
		)
		return
	}

	// With delegation enabled the caller id is supposed to carry the real
	// account id. A non-digit caller id is an anomaly worth surfacing,
	// but not a termination condition.
	if !isDigits(cc.CallerIDNum) {
		p.logger.Warn("trunk delegation enabled but caller id is not digits-only, keeping original identity",
			"call_id", cc.CallID,
			"account_id", cc.AccountID,
			"caller_id", cc.CallerIDNum,
		)
		p.rec.ObserveStepFailure("account_resolve")
		return
	}

	ok, err := p.repo.AccountExistsInTenant(ctx, cc.CallerIDNum, opts.TenantID)
	if err != nil {
		p.stepFailed(cc, "account_resolve", err)
		return
	}
	if !ok {
		p.logger.Warn("caller id does not name an account in the tenant, keeping original identity",
			"call_id", cc.CallID,
			"account_id", cc.AccountID,
			"caller_id", cc.CallerIDNum,
			"tenant_id", opts.TenantID,
		)
		return
	}

	p.logger.Info("account re-mapped from caller id",
		"call_id", cc.CallID,
		"original_account_id", cc.AccountID,
		"account_id", cc.CallerIDNum,
	)
	cc.AccountID = cc.CallerIDNum
}

// stepFailed logs a data-layer failure scoped to one step and counts it.
func (p *Pipeline) stepFailed(cc *CallContext, step string, err error) {
	p.logger.Error("policy store query failed",
		"call_id", cc.CallID,
		"account_id", cc.AccountID,
		"step", step,
		"error", err,
	)
	p.rec.ObserveStepFailure(step)
}
