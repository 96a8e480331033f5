// Package notify delivers best-effort operational alerts: circuit breaker
// trips, reconciliation mismatches, order expiries, and frozen orders.
// Delivery failures are logged and swallowed; they must never block a tick.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"polytrader/internal/config"
)

// Event is one alert payload.
type Event struct {
	Kind   string `json:"kind"` // "breaker_trip", "recon_mismatch", "order_expired", "order_frozen"
	Token  string `json:"token,omitempty"`
	Detail string `json:"detail"`
}

// Notifier delivers alerts. Fire-and-forget: implementations return nothing
// and never propagate failures.
type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Nop discards all events.
type Nop struct{}

var _ Notifier = Nop{}

func (Nop) Notify(context.Context, Event) {}

// Webhook posts events as JSON to a configured URL.
type Webhook struct {
	client *resty.Client
	log    *slog.Logger
}

var _ Notifier = (*Webhook)(nil)

func NewWebhook(cfg config.NotifyConfig, log *slog.Logger) *Webhook {
	client := resty.New()
	client.SetBaseURL(cfg.WebhookURL)
	client.SetTimeout(10 * time.Second)
	return &Webhook{client: client, log: log}
}

func (w *Webhook) Notify(ctx context.Context, ev Event) {
	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(ev).
		Post("")
	if err != nil {
		w.log.Warn("notification delivery failed", "kind", ev.Kind, "err", err)
		return
	}
	if resp.StatusCode() >= 300 {
		w.log.Warn("notification rejected", "kind", ev.Kind, "status", resp.StatusCode())
	}
}

// FromConfig returns a webhook notifier when one is configured, otherwise Nop.
func FromConfig(cfg config.NotifyConfig, log *slog.Logger) Notifier {
	if !cfg.Enabled || cfg.WebhookURL == "" {
		return Nop{}
	}
	return NewWebhook(cfg, log)
}
