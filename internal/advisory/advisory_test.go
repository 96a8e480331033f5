package advisory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"polytrader/internal/config"
	"polytrader/internal/decision"
	"polytrader/internal/domain"
)

func TestHTTPAdvisorRecommend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/recommend" {
			t.Errorf("path = %s, want /recommend", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("auth header = %q", auth)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["token_id"] != "tok-1" {
			t.Errorf("token_id = %v", req["token_id"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"side":       "buy",
			"confidence": 0.72,
			"rationale":  "momentum confirms",
		})
	}))
	defer srv.Close()

	adv := NewHTTPAdvisor(config.AdvisoryConfig{URL: srv.URL, APIKey: "test-key"})
	rec, err := adv.Recommend(context.Background(), decision.Context{
		TokenID: "tok-1",
		Signals: domain.SignalSet{Composite: 0.4, Confidence: 0.8},
	})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if rec.Side != domain.SideBuy {
		t.Errorf("side = %s, want buy", rec.Side)
	}
	if rec.Confidence != 0.72 {
		t.Errorf("confidence = %v, want 0.72", rec.Confidence)
	}
}

func TestHTTPAdvisorErrors(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "overloaded", http.StatusServiceUnavailable)
			},
		},
		{
			name: "bad side",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				json.NewEncoder(w).Encode(map[string]any{"side": "long", "confidence": 0.8})
			},
		},
		{
			name: "confidence out of range",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				json.NewEncoder(w).Encode(map[string]any{"side": "buy", "confidence": 1.5})
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			adv := NewHTTPAdvisor(config.AdvisoryConfig{URL: srv.URL})
			if _, err := adv.Recommend(context.Background(), decision.Context{}); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestStaticAdvisor(t *testing.T) {
	s := Static{Rec: decision.Recommendation{Side: domain.SideSell, Confidence: 0.6}}
	rec, err := s.Recommend(context.Background(), decision.Context{})
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if rec.Side != domain.SideSell || rec.Confidence != 0.6 {
		t.Errorf("got %+v", rec)
	}
}
