// Package httpapi serves the agent's operational state as a JSON API:
// equity, positions, risk state, and realized performance.
package httpapi

// StatusJSON summarizes the running agent.
type StatusJSON struct {
	PaperMode     bool    `json:"paperMode"`
	Equity        float64 `json:"equity"`
	Cash          float64 `json:"cash"`
	OpenPositions int     `json:"openPositions"`
	OpenOrders    int     `json:"openOrders"`
	BreakerActive bool    `json:"breakerActive"`
	BreakerReason string  `json:"breakerReason,omitempty"`
}

// PositionJSON is the JSON representation of one open position.
type PositionJSON struct {
	TokenID  string  `json:"tokenId"`
	Quantity float64 `json:"quantity"`
	AvgEntry float64 `json:"avgEntry"`
	OpenedAt string  `json:"openedAt"`
	Frozen   bool    `json:"frozen,omitempty"`
}

// RiskJSON is the JSON representation of the risk state.
type RiskJSON struct {
	DailyPnL          float64 `json:"dailyPnl"`
	WeeklyPnL         float64 `json:"weeklyPnl"`
	PeakEquity        float64 `json:"peakEquity"`
	Drawdown          float64 `json:"drawdown"`
	ConsecutiveLosses int     `json:"consecutiveLosses"`
	BreakerActive     bool    `json:"breakerActive"`
	BreakerReason     string  `json:"breakerReason,omitempty"`
	BreakerTrippedAt  string  `json:"breakerTrippedAt,omitempty"`
}

// TradeJSON is the JSON representation of one realized trade.
type TradeJSON struct {
	TokenID     string  `json:"tokenId"`
	EntryPrice  float64 `json:"entryPrice"`
	ExitPrice   float64 `json:"exitPrice"`
	Quantity    float64 `json:"quantity"`
	RealizedPnL float64 `json:"realizedPnl"`
	ClosedAt    string  `json:"closedAt"`
	ExitReason  string  `json:"exitReason,omitempty"`
}

// MetricsJSON is the JSON representation of performance metrics.
type MetricsJSON struct {
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
