// Package signal computes per-market trading signals from orderbook
// snapshots, price history, news, and resolution proximity, and combines
// them into a weighted composite score.
package signal

import (
	"math"
	"strings"
	"time"

	"polytrader/internal/domain"
)

// Signal names used as keys in a SignalSet and in the weight configuration.
const (
	NameImbalance  = "imbalance"
	NameMomentum   = "momentum"
	NameNews       = "news"
	NameResolution = "resolution"
)

// missingPenalty is the confidence deduction applied per unavailable
// sub-signal input.
const missingPenalty = 0.15

// ---------------------------------------------------------------------------
// Sub-signals
// ---------------------------------------------------------------------------

// Imbalance scores bid/ask depth imbalance in [-1, 1]. Bid-heavy books score
// positive (buying pressure).
func Imbalance(snap domain.MarketSnapshot) (float64, bool) {
	total := snap.BidDepth + snap.AskDepth
	if total <= 0 {
		return 0, false
	}
	return (snap.BidDepth - snap.AskDepth) / total, true
}

// Momentum scores recent mid-price movement in [-1, 1] from an ordered price
// history. It compares the mean of the newer half of the window against the
// older half, normalized by the older mean.
func Momentum(history []domain.PricePoint) (float64, bool) {
	if len(history) < 4 {
		return 0, false
	}
	half := len(history) / 2
	older := meanMid(history[:half])
	newer := meanMid(history[half:])
	if older <= 0 {
		return 0, false
	}
	// A 10% move saturates the signal.
	score := (newer - older) / older / 0.10
	return clamp(score, -1, 1), true
}

// News scores headline sentiment in [-1, 1] using keyword matching over
// recent articles. Articles older than maxAge are ignored.
func News(items []domain.NewsItem, now time.Time, maxAge time.Duration) (float64, bool) {
	var score float64
	var counted int
	for _, item := range items {
		if now.Sub(item.Time) > maxAge {
			continue
		}
		s := headlineScore(item.Headline)
		if s == 0 {
			continue
		}
		score += s
		counted++
	}
	if counted == 0 {
		return 0, false
	}
	return clamp(score/float64(counted), -1, 1), true
}

var positiveWords = []string{
	"win", "wins", "lead", "leads", "surge", "rally", "approve", "approved",
	"pass", "passes", "confirm", "confirmed", "likely", "gain", "advance",
}

var negativeWords = []string{
	"lose", "loses", "loss", "trail", "trails", "drop", "crash", "reject",
	"rejected", "fail", "fails", "unlikely", "delay", "delayed", "decline",
}

func headlineScore(headline string) float64 {
	h := strings.ToLower(headline)
	var s float64
	for _, w := range positiveWords {
		if strings.Contains(h, w) {
			s += 0.5
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(h, w) {
			s -= 0.5
		}
	}
	return clamp(s, -1, 1)
}

// Resolution scores resolution proximity in [-1, 1]. Markets resolving in
// the 1-14 day sweet spot score highest; imminent (< 2h) or distant (> 90d)
// markets score negative. Unknown resolution dates are unavailable.
func Resolution(resolution, now time.Time) (float64, bool) {
	if resolution.IsZero() {
		return 0, false
	}
	remaining := resolution.Sub(now)
	if remaining <= 0 {
		return -1, true // expired: strongly avoid
	}
	days := remaining.Hours() / 24

	switch {
	case remaining < 2*time.Hour:
		return -0.5, true
	case days <= 14:
		if days < 1 {
			return 0.5, true
		}
		// Peak at 1 day, taper toward 14.
		return 1 - 0.5*(days-1)/13, true
	case days <= 90:
		return 0.5 * (1 - (days-14)/76), true
	default:
		return -0.25, true
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func meanMid(points []domain.PricePoint) float64 {
	if len(points) == 0 {
		return 0
	}
	var sum float64
	for _, p := range points {
		sum += p.Mid
	}
	return sum / float64(len(points))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
