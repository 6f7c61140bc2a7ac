package policy

import (
	"context"
	"strings"

	"github.com/plugandtel/callpolicy/internal/config"
)

// selectSubstitute picks a replacement caller identity from the account's
// number pool. It applies only when the account has dynamic caller id
// enabled and the canonical destination is domestic; the pool is narrowed
// to numbers sharing the subscriber-prefix digit that follows the country
// code, and one entry is drawn uniformly at random. Fail-open: any miss
// returns nil and the presented identity stands.
func (p *Pipeline) selectSubstitute(ctx context.Context, cc *CallContext, cfg *config.Config) *CallerID {
	opts, err := p.repo.AccountOptions(ctx, cc.AccountID)
	if err != nil {
		p.stepFailed(cc, "callerid", err)
		return nil
	}
	if opts == nil || !opts.DynamicCallerID {
		return nil
	}

	digit, ok := subscriberDigit(cc.CanonicalNumber, cfg.DomesticPrefix)
	if !ok {
		p.logger.Debug("dynamic caller id enabled but destination is not domestic",
			"call_id", cc.CallID,
			"account_id", cc.AccountID,
			"canonical_number", cc.CanonicalNumber,
		)
		return nil
	}

	nums, err := p.repo.PoolNumbers(ctx, cc.AccountID, digit)
	if err != nil {
		p.stepFailed(cc, "callerid", err)
		return nil
	}
	if len(nums) == 0 {
		p.logger.Warn("dynamic caller id enabled but no pool number matches the subscriber prefix",
			"call_id", cc.CallID,
			"account_id", cc.AccountID,
			"subscriber_prefix", string(digit),
		)
		return nil
	}

	chosen := nums[p.pickPool(len(nums))]
	p.logger.Debug("caller id substitute selected",
		"call_id", cc.CallID,
		"account_id", cc.AccountID,
		"number", chosen.Number,
		"pool_size", len(nums),
	)
	return &CallerID{Number: chosen.Number, Name: chosen.Number}
}

// subscriberDigit extracts the national subscriber-prefix digit that
// immediately follows the domestic country code. A leading + on the
// canonical number is ignored. ok is false when the number is not
// domestic or carries no digit after the country code.
func subscriberDigit(canonical, domesticPrefix string) (byte, bool) {
	n := strings.TrimPrefix(canonical, "+")
	if !strings.HasPrefix(n, domesticPrefix) || len(n) <= len(domesticPrefix) {
		return 0, false
	}
	d := n[len(domesticPrefix)]
	if d < '0' || d > '9' {
		return 0, false
	}
	return d, true
}
