package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"polytrader/internal/config"
	"polytrader/internal/domain"
	"polytrader/internal/util"
)

// RESTSource reads market metadata from the gamma API and books / price
// history from the CLOB API. Rate limited across both hosts.
type RESTSource struct {
	clob    *resty.Client
	gamma   *resty.Client
	cfg     config.MarketsConfig
	limiter *util.RateLimiter
}

var _ Source = (*RESTSource)(nil)

func NewRESTSource(clobCfg config.CLOBConfig, mktCfg config.MarketsConfig) *RESTSource {
	mk := func(base string) *resty.Client {
		c := resty.New()
		c.SetBaseURL(base)
		c.SetTimeout(15 * time.Second)
		return c
	}
	perMin := clobCfg.RateLimitPerMin
	if perMin <= 0 {
		perMin = 60
	}
	return &RESTSource{
		clob:    mk(clobCfg.BaseURL),
		gamma:   mk(clobCfg.GammaURL),
		cfg:     mktCfg,
		limiter: util.NewRateLimiter(perMin),
	}
}

// --- book snapshot ---

type bookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

type bookResponse struct {
	Bids []bookLevel `json:"bids"`
	Asks []bookLevel `json:"asks"`
}

// Snapshot fetches the order book and condenses the top levels into a
// MarketSnapshot. Any transport or decode failure is reported as
// ErrUnavailable so the engine skips the market this tick.
func (s *RESTSource) Snapshot(ctx context.Context, tokenID string) (domain.MarketSnapshot, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return domain.MarketSnapshot{}, err
	}
	resp, err := s.clob.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		Get("/book")
	if err != nil || resp.StatusCode() != 200 {
		return domain.MarketSnapshot{}, fmt.Errorf("%w: book for %s", ErrUnavailable, tokenID)
	}

	var book bookResponse
	if err := json.Unmarshal(resp.Body(), &book); err != nil {
		return domain.MarketSnapshot{}, fmt.Errorf("%w: book decode: %v", ErrUnavailable, err)
	}

	bestBid, bidDepth := topOfBook(book.Bids, true)
	bestAsk, askDepth := topOfBook(book.Asks, false)
	if bestBid <= 0 && bestAsk <= 0 {
		return domain.MarketSnapshot{}, fmt.Errorf("%w: empty book for %s", ErrUnavailable, tokenID)
	}
	return domain.MarketSnapshot{
		TokenID:    tokenID,
		BestBid:    bestBid,
		BestAsk:    bestAsk,
		BidDepth:   bidDepth,
		AskDepth:   askDepth,
		CapturedAt: time.Now().UTC(),
	}, nil
}

// topOfBook returns the best price and the notional USD within 5% of it.
func topOfBook(levels []bookLevel, descending bool) (best, depthUSD float64) {
	type lvl struct{ price, size float64 }
	parsed := make([]lvl, 0, len(levels))
	for _, l := range levels {
		p, err1 := strconv.ParseFloat(l.Price, 64)
		sz, err2 := strconv.ParseFloat(l.Size, 64)
		if err1 != nil || err2 != nil || p <= 0 {
			continue
		}
		parsed = append(parsed, lvl{p, sz})
	}
	if len(parsed) == 0 {
		return 0, 0
	}
	sort.Slice(parsed, func(i, j int) bool {
		if descending {
			return parsed[i].price > parsed[j].price
		}
		return parsed[i].price < parsed[j].price
	})
	best = parsed[0].price
	for _, l := range parsed {
		if math.Abs(l.price-best) > best*0.05 {
			break
		}
		depthUSD += l.price * l.size
	}
	return best, depthUSD
}

// --- price history ---

type historyResponse struct {
	History []struct {
		T int64   `json:"t"`
		P float64 `json:"p"`
	} `json:"history"`
}

func (s *RESTSource) History(ctx context.Context, tokenID string, window time.Duration) ([]domain.PricePoint, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	start := time.Now().Add(-window).Unix()
	resp, err := s.clob.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"market":   tokenID,
			"startTs":  strconv.FormatInt(start, 10),
			"fidelity": "1",
		}).
		Get("/prices-history")
	if err != nil || resp.StatusCode() != 200 {
		return nil, fmt.Errorf("%w: history for %s", ErrUnavailable, tokenID)
	}

	var hist historyResponse
	if err := json.Unmarshal(resp.Body(), &hist); err != nil {
		return nil, fmt.Errorf("%w: history decode: %v", ErrUnavailable, err)
	}
	points := make([]domain.PricePoint, 0, len(hist.History))
	for _, h := range hist.History {
		points = append(points, domain.PricePoint{
			TokenID:   tokenID,
			Timestamp: time.Unix(h.T, 0).UTC(),
			Mid:       h.P,
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Timestamp.Before(points[j].Timestamp) })
	return points, nil
}

// --- market scan ---

type gammaMarket struct {
	Question     string  `json:"question"`
	Category     string  `json:"category"`
	EndDate      string  `json:"endDate"`
	ClobTokenIDs string  `json:"clobTokenIds"` // JSON-encoded array in a string
	BestBid      float64 `json:"bestBid"`
	BestAsk      float64 `json:"bestAsk"`
	Active       bool    `json:"active"`
	Closed       bool    `json:"closed"`
}

// Markets scans gamma for open markets and filters to tradeable candidates:
// active, price inside the configured band, with a parseable token id.
func (s *RESTSource) Markets(ctx context.Context) ([]domain.MarketInfo, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := s.gamma.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"closed": "false",
			"active": "true",
			"limit":  strconv.Itoa(s.cfg.CandidateLimit),
			"order":  "volume24hr",
		}).
		Get("/markets")
	if err != nil || resp.StatusCode() != 200 {
		return nil, fmt.Errorf("%w: gamma markets", ErrUnavailable)
	}

	var markets []gammaMarket
	if err := json.Unmarshal(resp.Body(), &markets); err != nil {
		return nil, fmt.Errorf("%w: gamma decode: %v", ErrUnavailable, err)
	}

	out := make([]domain.MarketInfo, 0, len(markets))
	for _, m := range markets {
		if m.Closed || !m.Active {
			continue
		}
		if m.BestBid < s.cfg.MinBid || m.BestAsk > s.cfg.MaxAsk {
			continue
		}
		tokenID := firstTokenID(m.ClobTokenIDs)
		if tokenID == "" {
			continue
		}
		info := domain.MarketInfo{
			TokenID:  tokenID,
			Question: m.Question,
			Category: normalizeCategory(m.Category),
		}
		if t, err := time.Parse(time.RFC3339, m.EndDate); err == nil {
			info.Resolution = t
		}
		out = append(out, info)
	}
	return out, nil
}

// firstTokenID extracts the YES token from gamma's stringified id array.
func firstTokenID(raw string) string {
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err == nil && len(ids) > 0 {
		return ids[0]
	}
	return ""
}

func normalizeCategory(c string) string {
	switch strings.ToLower(c) {
	case "politics", "us-current-affairs", "elections":
		return "politics"
	case "sports":
		return "sports"
	case "crypto", "cryptocurrency":
		return "crypto"
	case "finance", "business", "economics":
		return "finance"
	}
	return "other"
}
