// Package sizing converts an approved trade intent into a bounded order
// quantity using fractional Kelly. Confidence is treated as the win
// probability estimate; the payoff ratio comes from configuration. The sizer
// is pure and never returns a negative quantity.
package sizing

import (
	"math"

	"polytrader/internal/config"
	"polytrader/internal/domain"
)

// Sizer computes position sizes. Stateless; safe to share.
type Sizer struct {
	cfg config.SizingConfig
}

func New(cfg config.SizingConfig) *Sizer {
	return &Sizer{cfg: cfg}
}

// Account is the sizer's view of the portfolio at decision time.
type Account struct {
	Equity       float64 // cash + mark-to-market of open positions
	OpenExposure float64 // notional USD currently deployed across positions
}

// Quantity returns the number of shares to order, or 0 for no trade. A zero
// is returned whenever a cap binds to zero rather than a best-effort partial
// size.
func (s *Sizer) Quantity(intent domain.TradeIntent, acct Account) float64 {
	if intent.Price <= 0 || acct.Equity <= 0 {
		return 0
	}

	f := s.kellyFraction(intent.Confidence)
	if f <= 0 {
		return 0
	}

	notional := f * acct.Equity
	if cap := s.cfg.MaxPositionPct * acct.Equity; notional > cap {
		notional = cap
	}
	if s.cfg.MaxPositionUSD > 0 && notional > s.cfg.MaxPositionUSD {
		notional = s.cfg.MaxPositionUSD
	}

	// Portfolio concentration: never push total deployed notional above the
	// configured share of equity.
	if s.cfg.MaxConcentrationPct > 0 {
		room := s.cfg.MaxConcentrationPct*acct.Equity - acct.OpenExposure
		if room <= 0 {
			return 0
		}
		if notional > room {
			notional = room
		}
	}

	if notional < s.cfg.MinOrderUSD {
		return 0
	}
	return notional / intent.Price
}

// kellyFraction computes the fraction of equity to stake: full Kelly
// f* = (b·p − q)/b with b the payoff ratio, p the win probability, and
// q = 1 − p, then scaled down by the configured cap (default a quarter
// Kelly). Non-positive edge yields zero.
func (s *Sizer) kellyFraction(winProb float64) float64 {
	p := math.Min(math.Max(winProb, 0), 1)
	b := s.cfg.PayoffRatio
	if b <= 0 {
		return 0
	}
	full := (b*p - (1 - p)) / b
	if full <= 0 {
		return 0
	}
	return full * s.cfg.KellyFractionCap
}
