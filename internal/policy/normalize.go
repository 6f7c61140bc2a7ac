package policy

import (
	"context"

	"github.com/plugandtel/callpolicy/internal/config"
)

// normalizeNumber maps the raw dialed number to canonical international
// form using the longest matching translation prefix: discard the rule's
// digit count from the front, prepend the replacement prefix. Fail-open:
// on lookup error or no matching rule the raw number is used unchanged.
func (p *Pipeline) normalizeNumber(ctx context.Context, cc *CallContext, cfg *config.Config) {
	cc.CanonicalNumber = cc.DialedNumber

	rule, err := p.repo.MatchTranslationRule(ctx, cc.DialedNumber, cfg.DefaultTenant)
	if err != nil {
		p.stepFailed(cc, "normalize", err)
		return
	}
	if rule == nil {
		p.logger.Debug("no translation rule matches, number already canonical",
			"call_id", cc.CallID,
			"number", cc.DialedNumber,
		)
		return
	}
	if rule.DigitsDeleted < 0 || rule.DigitsDeleted > len(cc.DialedNumber) {
		p.logger.Warn("translation rule discards more digits than dialed, ignoring rule",
			"call_id", cc.CallID,
			"rule_id", rule.ID,
			"digits_deleted", rule.DigitsDeleted,
		)
		return
	}

	cc.CanonicalNumber = rule.NewPrefix + cc.DialedNumber[rule.DigitsDeleted:]
	p.logger.Debug("number normalized",
		"call_id", cc.CallID,
		"number", cc.DialedNumber,
		"canonical_number", cc.CanonicalNumber,
		"rule_id", rule.ID,
		"rule_prefix", rule.Prefix,
	)
}
