package policy

import "context"

// isBlocked decides whether the canonical destination is forbidden for
// the resolved account. Fail-closed: any store error blocks the call.
//
// An account in zero groups may not place calls at all. An account in
// several groups is blocked only when every group it belongs to blocks
// the destination; block rules are a per-group ceiling, not an automatic
// deny. User-scoped rules apply on top.
func (p *Pipeline) isBlocked(ctx context.Context, cc *CallContext) bool {
	groups, err := p.repo.GroupCount(ctx, cc.AccountID)
	if err != nil {
		p.stepFailed(cc, "blocklist", err)
		return true
	}
	if groups == 0 {
		p.logger.Warn("account is not assigned to any group",
			"call_id", cc.CallID,
			"account_id", cc.AccountID,
		)
		return true
	}
	p.logger.Debug("group memberships counted",
		"call_id", cc.CallID,
		"account_id", cc.AccountID,
		"groups", groups,
	)

	blocking, err := p.repo.BlockingGroupCount(ctx, cc.AccountID, cc.CanonicalNumber)
	if err != nil {
		p.stepFailed(cc, "blocklist", err)
		return true
	}
	if blocking == groups {
		p.logger.Warn("destination blocked: every group holds a matching prohibition",
			"call_id", cc.CallID,
			"account_id", cc.AccountID,
			"canonical_number", cc.CanonicalNumber,
			"groups", groups,
		)
		return true
	}

	rule, err := p.repo.MatchUserBlockRule(ctx, cc.AccountID, cc.CanonicalNumber)
	if err != nil {
		p.stepFailed(cc, "blocklist", err)
		return true
	}
	if rule != nil {
		p.logger.Warn("destination blocked by user prohibition",
			"call_id", cc.CallID,
			"account_id", cc.AccountID,
			"canonical_number", cc.CanonicalNumber,
			"prefix", rule.Prefix,
		)
		return true
	}

	return false
}
