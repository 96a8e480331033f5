package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"polytrader/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWebhookPostsEvent(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}))
	defer srv.Close()

	w := NewWebhook(config.NotifyConfig{Enabled: true, WebhookURL: srv.URL}, testLogger())
	w.Notify(context.Background(), Event{Kind: "breaker_trip", Detail: "5 consecutive losses"})

	if got.Kind != "breaker_trip" {
		t.Errorf("kind = %q", got.Kind)
	}
}

func TestWebhookSwallowsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	srv.Close() // connection refused from here on

	w := NewWebhook(config.NotifyConfig{Enabled: true, WebhookURL: srv.URL}, testLogger())
	// Must not panic or block.
	w.Notify(context.Background(), Event{Kind: "order_expired"})
}

func TestFromConfig(t *testing.T) {
	if _, ok := FromConfig(config.NotifyConfig{}, testLogger()).(Nop); !ok {
		t.Error("disabled config should yield Nop")
	}
	n := FromConfig(config.NotifyConfig{Enabled: true, WebhookURL: "http://example.invalid"}, testLogger())
	if _, ok := n.(*Webhook); !ok {
		t.Errorf("enabled config should yield Webhook, got %T", n)
	}
}
