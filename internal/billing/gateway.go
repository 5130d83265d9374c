package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Gateway talks to the payment provider over signed HTTP calls. It never
// retries on its own; callers own the retry policy.
type Gateway struct {
	baseURL      string
	merchantID   string
	sharedSecret string
	httpClient   *http.Client
	log          *slog.Logger
}

type GatewayConfig struct {
	BaseURL      string
	MerchantID   string
	SharedSecret string
	Timeout      time.Duration
}

// RefundResult reports the gateway outcome of a single refund attempt.
type RefundResult struct {
	OK            bool
	RefundID      string
	GatewayStatus string
}

func NewGateway(cfg GatewayConfig, log *slog.Logger) *Gateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gateway{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		merchantID:   cfg.MerchantID,
		sharedSecret: cfg.SharedSecret,
		httpClient:   &http.Client{Timeout: timeout},
		log:          log,
	}
}

// Configured reports whether the gateway has enough settings to issue calls.
func (g *Gateway) Configured() bool {
	return g.baseURL != "" && g.merchantID != "" && g.sharedSecret != ""
}

// Refund issues a refund for the provider charge. amountMinorUnits of zero
// means a full refund. Network and gateway errors are surfaced to the caller.
func (g *Gateway) Refund(ctx context.Context, providerChargeID string, amountMinorUnits int, reason string) (*RefundResult, error) {
	if !g.Configured() {
		return nil, fmt.Errorf("payment gateway is not configured")
	}
	if providerChargeID == "" {
		return nil, fmt.Errorf("provider charge id is required")
	}

	params := map[string]string{
		"merchant_id": g.merchantID,
		"charge_id":   providerChargeID,
		"reason":      reason,
	}
	if amountMinorUnits > 0 {
		params["amount"] = strconv.Itoa(amountMinorUnits)
	}
	params[SignatureField] = Sign(params, g.sharedSecret)

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}

	endpoint := g.baseURL + "/v1/refunds"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build refund request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Idempotence-Key", uuid.NewString())

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refund request: %w", err)
	}
	defer resp.Body.Close()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read refund response: %w", err)
	}

	if resp.StatusCode >= 300 {
		if g.log != nil {
			g.log.Error("gateway refund failed", "status", resp.StatusCode, "body", truncateBody(rawBody))
		}
		return nil, fmt.Errorf("gateway error: status=%d body=%s", resp.StatusCode, truncateBody(rawBody))
	}

	var parsed struct {
		RefundID string `json:"refund_id"`
		Status   string `json:"status"`
	}
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		return nil, fmt.Errorf("decode refund response: %w (body=%s)", err, truncateBody(rawBody))
	}

	result := &RefundResult{
		OK:            parsed.Status == "succeeded",
		RefundID:      parsed.RefundID,
		GatewayStatus: parsed.Status,
	}
	if g.log != nil {
		g.log.Info("gateway refund processed", "charge_id", providerChargeID, "status", parsed.Status, "refund_id", parsed.RefundID)
	}
	return result, nil
}

func truncateBody(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
