package signal

import (
	"time"

	"polytrader/internal/domain"
)

// Inputs carries everything the aggregator may consume for one market on one
// tick. History and News may be empty; the corresponding sub-signals then
// contribute 0 with a confidence penalty.
type Inputs struct {
	Snapshot domain.MarketSnapshot
	Info     domain.MarketInfo
	History  []domain.PricePoint
	News     []domain.NewsItem
	Now      time.Time
}

// Aggregator combines sub-signals into a composite score using configured
// weights. It is stateless and side-effect free; Compute is safe to call
// concurrently across markets.
type Aggregator struct {
	weights       map[string]float64
	buyThreshold  float64
	sellThreshold float64
	newsMaxAge    time.Duration
}

// NewAggregator creates an Aggregator. Weights are assumed validated by
// config (sum to 1); thresholds follow the composite-score candidate rules.
func NewAggregator(weights map[string]float64, buyThreshold, sellThreshold float64) *Aggregator {
	w := make(map[string]float64, len(weights))
	for k, v := range weights {
		w[k] = v
	}
	return &Aggregator{
		weights:       w,
		buyThreshold:  buyThreshold,
		sellThreshold: sellThreshold,
		newsMaxAge:    24 * time.Hour,
	}
}

// Compute produces a fresh SignalSet for one market. hasPosition gates the
// SELL candidate: a sell is only proposed against an open position.
func (a *Aggregator) Compute(in Inputs, hasPosition bool) domain.SignalSet {
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	scores := make(map[string]float64, 4)
	confidence := 1.0

	record := func(name string, score float64, available bool) {
		if !available {
			scores[name] = 0
			confidence -= missingPenalty
			return
		}
		scores[name] = score
	}

	imb, ok := Imbalance(in.Snapshot)
	record(NameImbalance, imb, ok)

	mom, ok := Momentum(in.History)
	record(NameMomentum, mom, ok)

	news, ok := News(in.News, now, a.newsMaxAge)
	record(NameNews, news, ok)

	resolution := in.Info.Resolution
	if resolution.IsZero() {
		resolution = in.Snapshot.Resolution
	}
	res, ok := Resolution(resolution, now)
	record(NameResolution, res, ok)

	var composite float64
	for name, score := range scores {
		composite += a.weights[name] * score
	}
	composite = clamp(composite, -1, 1)
	confidence = clamp(confidence, 0, 1)

	return domain.SignalSet{
		TokenID:    in.Snapshot.TokenID,
		Scores:     scores,
		Composite:  composite,
		Confidence: confidence,
		Candidate:  a.candidate(composite, hasPosition),
		ComputedAt: now,
	}
}

// candidate maps the composite score to a proposed side. The composite is in
// [-1, 1] but the thresholds are quoted on the [0, 1] probability-like scale
// the original weights were tuned against, so rescale first.
func (a *Aggregator) candidate(composite float64, hasPosition bool) domain.Side {
	scaled := (composite + 1) / 2
	switch {
	case scaled > a.buyThreshold:
		return domain.SideBuy
	case scaled < a.sellThreshold && hasPosition:
		return domain.SideSell
	default:
		return domain.SideHold
	}
}
