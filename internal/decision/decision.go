// Package decision validates candidate trades before they reach the risk
// gate. It cross-checks the composite signal against an external advisory
// recommendation and a set of hard sanity rules, producing either an approved
// TradeIntent or a Rejection naming the rule that failed. Rejections are
// expected, frequent outcomes, not errors.
package decision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"polytrader/internal/config"
	"polytrader/internal/domain"
)

// Context is the information handed to an advisor for a recommendation.
type Context struct {
	TokenID  string
	Question string
	Snapshot domain.MarketSnapshot
	Signals  domain.SignalSet
	Position *domain.Position // nil when flat
}

// Recommendation is an advisor's directional opinion.
type Recommendation struct {
	Side       domain.Side
	Confidence float64
	Rationale  string
}

// Advisor is the external decision collaborator. Implementations may block on
// network I/O; the validator applies its own timeout and always has a
// deterministic fallback, so a slow or failing advisor never stalls a tick.
type Advisor interface {
	Recommend(ctx context.Context, dc Context) (Recommendation, error)
}

// --- rejection codes ---

type RejectionCode string

const (
	RejectNoCandidate   RejectionCode = "no_candidate"
	RejectLowConfidence RejectionCode = "low_confidence"
	RejectSpread        RejectionCode = "spread_too_wide"
	RejectDepth         RejectionCode = "depth_too_thin"
	RejectDivergence    RejectionCode = "advisory_divergence"
	RejectAdvisoryHold  RejectionCode = "advisory_hold"
)

// Rejection records which validation rule a candidate failed.
type Rejection struct {
	Code   RejectionCode
	Detail string
}

func (r Rejection) String() string {
	return string(r.Code) + ": " + r.Detail
}

// --- validator ---

// Validator applies the decision rules of a configured policy. One instance
// is shared across markets; it holds no per-market state.
type Validator struct {
	cfg     config.DecisionConfig
	advisor Advisor
	log     *slog.Logger
}

func NewValidator(cfg config.DecisionConfig, advisor Advisor, log *slog.Logger) *Validator {
	return &Validator{cfg: cfg, advisor: advisor, log: log}
}

// Validate checks a candidate trade. Exactly one of the returns is non-nil:
// an approved intent, or the rejection explaining why there is no trade.
func (v *Validator) Validate(ctx context.Context, dc Context) (*domain.TradeIntent, *Rejection) {
	sig := dc.Signals
	if sig.Candidate == domain.SideHold {
		return nil, &Rejection{Code: RejectNoCandidate, Detail: "composite score inside hold band"}
	}

	// Liquidity sanity before anything that costs a network call.
	if spread := dc.Snapshot.Spread(); spread > v.cfg.MaxSpread {
		return nil, &Rejection{
			Code:   RejectSpread,
			Detail: fmt.Sprintf("spread %.4f > cap %.4f", spread, v.cfg.MaxSpread),
		}
	}
	depth := dc.Snapshot.BidDepth
	if dc.Snapshot.AskDepth < depth {
		depth = dc.Snapshot.AskDepth
	}
	if depth < v.cfg.MinDepthUSD {
		return nil, &Rejection{
			Code:   RejectDepth,
			Detail: fmt.Sprintf("depth $%.2f < floor $%.2f", depth, v.cfg.MinDepthUSD),
		}
	}

	if sig.Confidence < v.cfg.MinConfidence {
		return nil, &Rejection{
			Code:   RejectLowConfidence,
			Detail: fmt.Sprintf("confidence %.2f < minimum %.2f", sig.Confidence, v.cfg.MinConfidence),
		}
	}

	rec, ok := v.recommend(ctx, dc)
	if !ok {
		// Advisory unavailable: deterministic rule-based decision from the
		// composite thresholds alone.
		return v.intent(dc, sig.Candidate, sig.Confidence, "fallback"), nil
	}

	if rec.Side == domain.SideHold {
		return nil, &Rejection{Code: RejectAdvisoryHold, Detail: rec.Rationale}
	}
	if rej := v.checkDivergence(sig, rec); rej != nil {
		return nil, rej
	}
	if rec.Confidence < v.cfg.MinConfidence {
		return nil, &Rejection{
			Code:   RejectLowConfidence,
			Detail: fmt.Sprintf("advisory confidence %.2f < minimum %.2f", rec.Confidence, v.cfg.MinConfidence),
		}
	}
	return v.intent(dc, rec.Side, rec.Confidence, "advisory"), nil
}

// recommend asks the advisor with a bounded timeout. A nil advisor, an error,
// or a timeout all report ok=false so the caller falls back.
func (v *Validator) recommend(ctx context.Context, dc Context) (Recommendation, bool) {
	if v.advisor == nil {
		return Recommendation{}, false
	}
	rctx, cancel := context.WithTimeout(ctx, v.cfg.AdvisoryTimeout())
	defer cancel()

	rec, err := v.advisor.Recommend(rctx, dc)
	if err != nil {
		v.log.Warn("advisory unavailable, using rule fallback",
			"token", dc.TokenID, "err", err)
		return Recommendation{}, false
	}
	return rec, true
}

// checkDivergence enforces the advisory-agreement policy. With a negative
// MaxDivergence the only failure is the advisor taking the opposite side of
// the composite score's sign; otherwise the advisor's signed confidence must
// sit within MaxDivergence of the composite.
func (v *Validator) checkDivergence(sig domain.SignalSet, rec Recommendation) *Rejection {
	advisorScore := rec.Confidence
	if rec.Side == domain.SideSell {
		advisorScore = -rec.Confidence
	}
	if v.cfg.MaxDivergence < 0 {
		if sig.Composite*advisorScore < 0 {
			return &Rejection{
				Code: RejectDivergence,
				Detail: fmt.Sprintf("advisory %s opposes composite %.3f",
					rec.Side, sig.Composite),
			}
		}
		return nil
	}
	gap := advisorScore - sig.Composite
	if gap < 0 {
		gap = -gap
	}
	if gap > v.cfg.MaxDivergence {
		return &Rejection{
			Code: RejectDivergence,
			Detail: fmt.Sprintf("divergence %.3f > cap %.3f",
				gap, v.cfg.MaxDivergence),
		}
	}
	return nil
}

// intent builds the approved trade proposal. Entries cross the spread: buys
// price at the best ask, sells at the best bid, so a GTC limit fills
// immediately against resting liquidity.
func (v *Validator) intent(dc Context, side domain.Side, confidence float64, provenance string) *domain.TradeIntent {
	price := dc.Snapshot.BestAsk
	if side == domain.SideSell {
		price = dc.Snapshot.BestBid
	}
	return &domain.TradeIntent{
		TokenID:    dc.TokenID,
		Side:       side,
		Price:      price,
		Confidence: confidence,
		Provenance: provenance,
		CreatedAt:  time.Now().UTC(),
	}
}
