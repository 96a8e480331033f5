// Package polytrader provides a Go client for the agent's status API.
package polytrader

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client talks to a running polytrader-agent's HTTP API.
type Client struct {
	http *resty.Client
}

// NewClient creates a client for the agent at the given base URL,
// e.g. "http://localhost:8942".
func NewClient(baseURL string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(30 * time.Second),
	}
}

// Status holds the agent's top-level state.
type Status struct {
	PaperMode     bool    `json:"paperMode"`
	Equity        float64 `json:"equity"`
	Cash          float64 `json:"cash"`
	OpenPositions int     `json:"openPositions"`
	OpenOrders    int     `json:"openOrders"`
	BreakerActive bool    `json:"breakerActive"`
	BreakerReason string  `json:"breakerReason"`
}

// Position is one open position.
type Position struct {
	TokenID  string  `json:"tokenId"`
	Quantity float64 `json:"quantity"`
	AvgEntry float64 `json:"avgEntry"`
	OpenedAt string  `json:"openedAt"`
	Frozen   bool    `json:"frozen"`
}

// Risk is the agent's risk state snapshot.
type Risk struct {
	DailyPnL          float64 `json:"dailyPnl"`
	WeeklyPnL         float64 `json:"weeklyPnl"`
	PeakEquity        float64 `json:"peakEquity"`
	Drawdown          float64 `json:"drawdown"`
	ConsecutiveLosses int     `json:"consecutiveLosses"`
	BreakerActive     bool    `json:"breakerActive"`
	BreakerReason     string  `json:"breakerReason"`
}

// Trade is one realized trade.
type Trade struct {
	TokenID     string  `json:"tokenId"`
	EntryPrice  float64 `json:"entryPrice"`
	ExitPrice   float64 `json:"exitPrice"`
	Quantity    float64 `json:"quantity"`
	RealizedPnL float64 `json:"realizedPnl"`
	ClosedAt    string  `json:"closedAt"`
	ExitReason  string  `json:"exitReason"`
}

// Metrics holds realized performance over the queried window.
type Metrics struct {
	TotalTrades  int     `json:"totalTrades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"winRate"`
	TotalPnL     float64 `json:"totalPnl"`
	ProfitFactor float64 `json:"profitFactor"`
	Sharpe       float64 `json:"sharpe"`
	Sortino      float64 `json:"sortino"`
	MaxDrawdown  float64 `json:"maxDrawdown"`
}

// GetStatus retrieves the agent's current status.
func (c *Client) GetStatus(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.get(ctx, "/api/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPositions retrieves current open positions.
func (c *Client) GetPositions(ctx context.Context) ([]Position, error) {
	var out []Position
	if err := c.get(ctx, "/api/positions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetRisk retrieves the risk state snapshot.
func (c *Client) GetRisk(ctx context.Context) (*Risk, error) {
	var out Risk
	if err := c.get(ctx, "/api/risk", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTrades retrieves realized trades over the trailing number of days.
func (c *Client) GetTrades(ctx context.Context, days int) ([]Trade, error) {
	var out []Trade
	if err := c.get(ctx, "/api/trades", daysParam(days), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetMetrics retrieves performance metrics over the trailing number of days.
func (c *Client) GetMetrics(ctx context.Context, days int) (*Metrics, error) {
	var out Metrics
	if err := c.get(ctx, "/api/metrics", daysParam(days), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) get(ctx context.Context, path string, params map[string]string, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(out).
		Get(path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	if resp.IsError() {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode())
	}
	return nil
}

func daysParam(days int) map[string]string {
	if days <= 0 {
		return nil
	}
	return map[string]string{"days": fmt.Sprintf("%d", days)}
}
