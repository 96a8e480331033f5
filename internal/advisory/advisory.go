// Package advisory provides implementations of the decision.Advisor contract:
// an HTTP client for an external recommendation service and a static advisor
// for offline runs and tests.
package advisory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"polytrader/internal/config"
	"polytrader/internal/decision"
	"polytrader/internal/domain"
)

// HTTPAdvisor calls a remote recommendation endpoint. The validator bounds
// every call with its own timeout via the request context; the client timeout
// here is a backstop for runs without one.
type HTTPAdvisor struct {
	client *resty.Client
}

var _ decision.Advisor = (*HTTPAdvisor)(nil)

func NewHTTPAdvisor(cfg config.AdvisoryConfig) *HTTPAdvisor {
	client := resty.New()
	client.SetBaseURL(cfg.URL)
	client.SetTimeout(30 * time.Second)
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	return &HTTPAdvisor{client: client}
}

type recommendRequest struct {
	TokenID    string             `json:"token_id"`
	Question   string             `json:"question,omitempty"`
	BestBid    float64            `json:"best_bid"`
	BestAsk    float64            `json:"best_ask"`
	Composite  float64            `json:"composite"`
	Confidence float64            `json:"confidence"`
	Scores     map[string]float64 `json:"scores"`
	Position   float64            `json:"position_qty"`
}

type recommendResponse struct {
	Side       string  `json:"side"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

// Recommend posts the market context and decodes the advisory's opinion. Any
// transport error, non-200, or unparseable side is returned to the caller,
// which treats it as "advisory unavailable".
func (a *HTTPAdvisor) Recommend(ctx context.Context, dc decision.Context) (decision.Recommendation, error) {
	req := recommendRequest{
		TokenID:    dc.TokenID,
		Question:   dc.Question,
		BestBid:    dc.Snapshot.BestBid,
		BestAsk:    dc.Snapshot.BestAsk,
		Composite:  dc.Signals.Composite,
		Confidence: dc.Signals.Confidence,
		Scores:     dc.Signals.Scores,
	}
	if dc.Position != nil {
		req.Position = dc.Position.Quantity
	}

	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		Post("/recommend")
	if err != nil {
		return decision.Recommendation{}, fmt.Errorf("advisory request: %w", err)
	}
	if resp.StatusCode() != 200 {
		return decision.Recommendation{}, fmt.Errorf("advisory status %d: %s", resp.StatusCode(), resp.String())
	}

	var out recommendResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return decision.Recommendation{}, fmt.Errorf("advisory response: %w", err)
	}
	side, err := parseSide(out.Side)
	if err != nil {
		return decision.Recommendation{}, err
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return decision.Recommendation{}, fmt.Errorf("advisory confidence %.3f out of range", out.Confidence)
	}
	return decision.Recommendation{
		Side:       side,
		Confidence: out.Confidence,
		Rationale:  out.Rationale,
	}, nil
}

func parseSide(s string) (domain.Side, error) {
	switch s {
	case "buy", "BUY":
		return domain.SideBuy, nil
	case "sell", "SELL":
		return domain.SideSell, nil
	case "hold", "HOLD", "":
		return domain.SideHold, nil
	}
	return domain.SideHold, fmt.Errorf("advisory side %q unrecognized", s)
}

// Static always returns the same recommendation. Useful for tests and for
// paper runs where the validator's rule fallback should decide alone (point
// Static at hold with zero confidence, or disable advisory entirely).
type Static struct {
	Rec decision.Recommendation
}

var _ decision.Advisor = Static{}

func (s Static) Recommend(_ context.Context, _ decision.Context) (decision.Recommendation, error) {
	return s.Rec, nil
}
