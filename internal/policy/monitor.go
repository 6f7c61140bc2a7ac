package policy

import "context"

// mustRecord decides whether the call must be recorded. Group-level
// monitoring takes precedence: if any of the account's groups has it
// enabled, the call is recorded regardless of the account's own flag.
// Fail-open: a store error means the call is simply not recorded.
func (p *Pipeline) mustRecord(ctx context.Context, cc *CallContext) bool {
	monitored, err := p.repo.MonitoredGroupCount(ctx, cc.AccountID)
	if err != nil {
		p.stepFailed(cc, "monitor", err)
		return false
	}
	if monitored > 0 {
		p.logger.Debug("group monitoring enabled",
			"call_id", cc.CallID,
			"account_id", cc.AccountID,
			"monitored_groups", monitored,
		)
		return true
	}

	opts, err := p.repo.AccountOptions(ctx, cc.AccountID)
	if err != nil {
		p.stepFailed(cc, "monitor", err)
		return false
	}
	if opts == nil || !opts.Monitored {
		return false
	}

	p.logger.Debug("account monitoring enabled",
		"call_id", cc.CallID,
		"account_id", cc.AccountID,
	)
	return true
}
