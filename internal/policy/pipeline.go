// Package policy implements the per-call decision pipeline: account
// resolution, number normalization, block-list evaluation, monitoring
// resolution and caller-id substitution, run in fixed order per
// call-setup event.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/plugandtel/callpolicy/internal/config"
	"github.com/plugandtel/callpolicy/internal/store"
)

// maxDialedNumberLen is the longest dialed number the pipeline accepts.
const maxDialedNumberLen = 25

// specialTokens are routing tokens that never identify a real destination.
// Matched case-insensitively.
var specialTokens = []string{"s", "h", "t", "i", "failed"}

// recordingTimestampFormat names recorded-call files unambiguously per call.
const recordingTimestampFormat = "20060102-150405"

// Recorder receives pipeline observability events. Implementations must
// be safe for concurrent use.
type Recorder interface {
	// ObserveDecision counts a completed pipeline run by outcome.
	ObserveDecision(outcome Outcome)
	// ObserveStepFailure counts a data-layer failure scoped to one step.
	ObserveStepFailure(step string)
}

// nopRecorder is used when no metrics sink is wired.
type nopRecorder struct{}

func (nopRecorder) ObserveDecision(Outcome)   {}
func (nopRecorder) ObserveStepFailure(string) {}

// Pipeline runs the ordered checks for one call-setup event at a time.
// It is safe for concurrent use: the only shared mutable state is the
// store's connection pool and the process-wide random generator.
type Pipeline struct {
	repo   store.PolicyRepository
	cfg    *config.Holder
	rec    Recorder
	logger *slog.Logger

	// rng is seeded once at process start, not per call, so rapid calls
	// sharing a timestamp cannot produce correlated draws.
	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewPipeline creates a decision pipeline. rec may be nil.
func NewPipeline(repo store.PolicyRepository, cfg *config.Holder, rec Recorder, logger *slog.Logger) *Pipeline {
	if rec == nil {
		rec = nopRecorder{}
	}
	return &Pipeline{
		repo:   repo,
		cfg:    cfg,
		rec:    rec,
		logger: logger.With("subsystem", "pipeline"),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Decide runs the pipeline for one event and returns the decision.
// Step order is fixed: sanity check, account resolution, number
// normalization, block-list evaluation, monitoring resolution, caller-id
// substitution. A block decision does not stop the later steps; their
// effects are discarded so that forbidden attempts still produce
// consistent audit logging. The only error return is ErrSanityCheckFailed.
func (p *Pipeline) Decide(ctx context.Context, ev Event) (*Decision, error) {
	cfg := p.cfg.Current()

	if reason, abstain := abstainReason(ev); abstain {
		p.logger.Debug("abstaining from event",
			"call_id", ev.CallID,
			"reason", reason,
		)
		p.rec.ObserveDecision(OutcomeAbstain)
		return &Decision{Outcome: OutcomeAbstain}, nil
	}

	if err := sanityCheck(ev); err != nil {
		p.logger.Warn("sanity check failed",
			"call_id", ev.CallID,
			"account_id", ev.AccountID,
			"error", err,
		)
		p.rec.ObserveDecision(OutcomeSanityFailed)
		return nil, err
	}

	cc := newCallContext(ev)

	p.resolveAccount(ctx, cc)
	p.normalizeNumber(ctx, cc, cfg)
	blocked := p.isBlocked(ctx, cc)
	record := p.mustRecord(ctx, cc)
	substitute := p.selectSubstitute(ctx, cc, cfg)

	d := &Decision{
		AccountID:       cc.AccountID,
		CanonicalNumber: cc.CanonicalNumber,
	}

	if blocked {
		// Termination wins; the monitoring and substitution results were
		// still computed above but their effects are discarded.
		d.Outcome = OutcomeBlocked
		d.Terminate = true
		p.logger.Info("call blocked",
			"call_id", cc.CallID,
			"account_id", cc.AccountID,
			"canonical_number", cc.CanonicalNumber,
		)
		p.rec.ObserveDecision(OutcomeBlocked)
		return d, nil
	}

	d.Outcome = OutcomeAllowed
	if record {
		d.Record = true
		d.RecordingTarget = recordingTarget(cfg, cc.CallID)
	}
	d.CallerID = substitute

	p.logger.Info("call allowed",
		"call_id", cc.CallID,
		"account_id", cc.AccountID,
		"canonical_number", cc.CanonicalNumber,
		"record", d.Record,
		"caller_id_substituted", d.CallerID != nil,
	)
	p.rec.ObserveDecision(OutcomeAllowed)
	return d, nil
}

// abstainReason reports whether the event is not a real call: a special
// routing token as the dialed number, or a failed outgoing spool.
func abstainReason(ev Event) (string, bool) {
	if ev.FailedOutgoingSpool {
		return "failed outgoing spool", true
	}
	for _, tok := range specialTokens {
		if strings.EqualFold(ev.DialedNumber, tok) {
			return fmt.Sprintf("special routing token %q", ev.DialedNumber), true
		}
	}
	return "", false
}

// sanityCheck validates the event before any policy step runs. The
// account id must be a non-empty digits-only identity; every later step
// embeds it in a store query.
func sanityCheck(ev Event) error {
	if ev.DialedNumber == "" {
		return fmt.Errorf("%w: empty dialed number", ErrSanityCheckFailed)
	}
	if len(ev.DialedNumber) > maxDialedNumberLen {
		return fmt.Errorf("%w: dialed number length %d exceeds %d",
			ErrSanityCheckFailed, len(ev.DialedNumber), maxDialedNumberLen)
	}
	if ev.AccountID == "" {
		return fmt.Errorf("%w: empty account id", ErrSanityCheckFailed)
	}
	if !isDigits(ev.AccountID) {
		return fmt.Errorf("%w: account id %q is not digits-only", ErrSanityCheckFailed, ev.AccountID)
	}
	return nil
}

// isDigits reports whether s is non-empty and contains only ASCII digits.
func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// recordingTarget renders the file path the host's recorder should write
// to for this call.
func recordingTarget(cfg *config.Config, callID string) string {
	name := fmt.Sprintf("%s-%s.%s", callID, time.Now().Format(recordingTimestampFormat), cfg.RecordingExt)
	return filepath.Join(cfg.RecordingPath, name)
}

// pickPool draws one index uniformly from [0, n) using the process-wide
// generator.
func (p *Pipeline) pickPool(n int) int {
	p.rngMu.Lock()
	defer p.rngMu.Unlock()
	return p.rng.Intn(n)
}
