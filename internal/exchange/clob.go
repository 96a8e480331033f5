package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"polytrader/internal/config"
	"polytrader/internal/domain"
	"polytrader/internal/util"
)

// CLOBClient talks to the exchange's central limit order book REST API. All
// calls pass the shared rate limiter first; submissions and cancels retry
// with bounded backoff, status polls do not (a missed poll is retried next
// tick anyway).
type CLOBClient struct {
	client  *resty.Client
	cfg     config.CLOBConfig
	limiter *util.RateLimiter
}

var _ Executor = (*CLOBClient)(nil)

func NewCLOBClient(cfg config.CLOBConfig) *CLOBClient {
	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetTimeout(30 * time.Second)
	perMin := cfg.RateLimitPerMin
	if perMin <= 0 {
		perMin = 60
	}
	return &CLOBClient{
		client:  client,
		cfg:     cfg,
		limiter: util.NewRateLimiter(perMin),
	}
}

// sign produces the HMAC-SHA256 request signature over
// timestamp+method+path+body, base64 url-encoded, as the venue requires.
func (c *CLOBClient) sign(timestamp, method, path, body string) string {
	secret, err := base64.URLEncoding.DecodeString(c.cfg.APISecret)
	if err != nil {
		secret = []byte(c.cfg.APISecret)
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp + method + path + body))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil))
}

func (c *CLOBClient) authedRequest(ctx context.Context, method, path, body string) *resty.Request {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	return c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("POLY-API-KEY", c.cfg.APIKey).
		SetHeader("POLY-PASSPHRASE", c.cfg.APIPassphrase).
		SetHeader("POLY-TIMESTAMP", ts).
		SetHeader("POLY-SIGNATURE", c.sign(ts, method, path, body))
}

type submitRequest struct {
	TokenID string  `json:"token_id"`
	Side    string  `json:"side"`
	Price   float64 `json:"price"`
	Size    float64 `json:"size"`
	Type    string  `json:"order_type"`
}

type submitResponse struct {
	OrderID string `json:"orderID"`
	Success bool   `json:"success"`
	Error   string `json:"errorMsg"`
}

// SubmitOrder posts a GTC limit order. The returned id is only set when the
// venue confirmed the submission; on error no order exists venue-side that we
// know of, and the caller must not track one.
func (c *CLOBClient) SubmitOrder(ctx context.Context, tokenID string, side domain.Side, price, qty float64) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	payload, err := json.Marshal(submitRequest{
		TokenID: tokenID,
		Side:    string(side),
		Price:   price,
		Size:    qty,
		Type:    "GTC",
	})
	if err != nil {
		return "", err
	}

	var out submitResponse
	err = util.Retry(ctx, 3, 500*time.Millisecond, func() error {
		resp, err := c.authedRequest(ctx, "POST", "/order", string(payload)).
			SetBody(json.RawMessage(payload)).
			Post("/order")
		if err != nil {
			return fmt.Errorf("submit order: %w", err)
		}
		if resp.StatusCode() != 200 {
			return fmt.Errorf("submit order status %d: %s", resp.StatusCode(), resp.String())
		}
		return json.Unmarshal(resp.Body(), &out)
	})
	if err != nil {
		return "", err
	}
	if !out.Success || out.OrderID == "" {
		return "", fmt.Errorf("submit order rejected: %s", out.Error)
	}
	return out.OrderID, nil
}

type orderResponse struct {
	Status      string `json:"status"`
	SizeMatched string `json:"size_matched"`
	Price       string `json:"price"`
}

func (c *CLOBClient) FillStatus(ctx context.Context, orderID string) (FillStatus, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return FillStatus{}, err
	}
	path := "/data/order/" + orderID
	resp, err := c.authedRequest(ctx, "GET", path, "").Get(path)
	if err != nil {
		return FillStatus{}, fmt.Errorf("order status: %w", err)
	}
	if resp.StatusCode() == 404 {
		return FillStatus{}, ErrOrderNotFound
	}
	if resp.StatusCode() != 200 {
		return FillStatus{}, fmt.Errorf("order status %d: %s", resp.StatusCode(), resp.String())
	}

	var out orderResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return FillStatus{}, err
	}
	matched, err := strconv.ParseFloat(out.SizeMatched, 64)
	if err != nil {
		return FillStatus{}, fmt.Errorf("order status size_matched %q: %w", out.SizeMatched, err)
	}
	avg, _ := strconv.ParseFloat(out.Price, 64)
	return FillStatus{
		FilledQty: matched,
		AvgPrice:  avg,
		Status:    mapVenueStatus(out.Status, matched),
	}, nil
}

func mapVenueStatus(s string, matched float64) domain.OrderStatus {
	switch s {
	case "LIVE":
		if matched > 0 {
			return domain.OrderStatusPartiallyFilled
		}
		return domain.OrderStatusPending
	case "MATCHED":
		return domain.OrderStatusFilled
	case "CANCELED", "CANCELLED":
		return domain.OrderStatusCancelled
	}
	return domain.OrderStatusPending
}

func (c *CLOBClient) CancelOrder(ctx context.Context, orderID string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	payload := fmt.Sprintf(`{"orderID":%q}`, orderID)
	return util.Retry(ctx, 3, 500*time.Millisecond, func() error {
		resp, err := c.authedRequest(ctx, "DELETE", "/order", payload).
			SetBody(json.RawMessage(payload)).
			Delete("/order")
		if err != nil {
			return fmt.Errorf("cancel order: %w", err)
		}
		if resp.StatusCode() != 200 {
			return fmt.Errorf("cancel order status %d: %s", resp.StatusCode(), resp.String())
		}
		return nil
	})
}

type positionEntry struct {
	TokenID string `json:"asset"`
	Size    string `json:"size"`
}

func (c *CLOBClient) Positions(ctx context.Context) (map[string]float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := c.authedRequest(ctx, "GET", "/positions", "").Get("/positions")
	if err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("positions status %d: %s", resp.StatusCode(), resp.String())
	}

	var entries []positionEntry
	if err := json.Unmarshal(resp.Body(), &entries); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(entries))
	for _, e := range entries {
		size, err := strconv.ParseFloat(e.Size, 64)
		if err != nil {
			continue
		}
		if size != 0 {
			out[e.TokenID] = size
		}
	}
	return out, nil
}
