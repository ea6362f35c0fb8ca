// Package relay is the outbound adapter to the external AI/messaging
// gateway. The core never speaks provider protocols; this client posts
// the opaque payload to the gateway and reads back units consumed.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dkoval/creditledger/internal/services/metering"
)

var _ metering.Provider = (*Client)(nil)

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

type invokePayload struct {
	AccountID     string `json:"accountId"`
	Model         string `json:"model,omitempty"`
	Payload       string `json:"payload"`
	Recipient     string `json:"recipient,omitempty"`
	MaxTokens     int64  `json:"maxTokens,omitempty"`
	BudgetCeiling int64  `json:"budgetCeiling"`
}

type invokeResponse struct {
	TokensUsed int64 `json:"tokensUsed"`
	LatencyMS  int64 `json:"latencyMs"`
}

// Invoke posts the request to the gateway's per-kind endpoint. Any
// non-2xx response or transport error (timeouts included) surfaces as
// an error; the metering engine records it with zero credit impact.
func (c *Client) Invoke(ctx context.Context, req metering.ProviderRequest) (metering.ProviderResult, error) {
	body, err := json.Marshal(invokePayload{
		AccountID:     req.AccountID,
		Model:         req.Model,
		Payload:       req.Payload,
		Recipient:     req.Recipient,
		MaxTokens:     req.MaxTokens,
		BudgetCeiling: req.BudgetCeiling,
	})
	if err != nil {
		return metering.ProviderResult{}, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/%s/invoke", c.baseURL, req.Kind)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return metering.ProviderResult{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return metering.ProviderResult{}, fmt.Errorf("call provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return metering.ProviderResult{}, fmt.Errorf("provider returned %d", resp.StatusCode)
	}

	var out invokeResponse

	err = json.NewDecoder(resp.Body).Decode(&out)
	if err != nil {
		return metering.ProviderResult{}, fmt.Errorf("decode response: %w", err)
	}

	return metering.ProviderResult{
		TokensUsed: out.TokensUsed,
		LatencyMS:  out.LatencyMS,
	}, nil
}
