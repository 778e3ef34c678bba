package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Instruction is one fund movement sent to the processor.
type Instruction struct {
	IdempotencyKey string          `json:"-"`
	DealID         string          `json:"deal_id"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Beneficiary    string          `json:"beneficiary"`
}

// Processor moves escrowed funds. Both calls return the processor reference
// and must be safe to repeat with the same idempotency key.
type Processor interface {
	Release(ctx context.Context, in Instruction) (string, error)
	Refund(ctx context.Context, in Instruction) (string, error)
}

// HTTPProcessor calls the payment processor's JSON API.
type HTTPProcessor struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPProcessor creates a processor client. An empty baseURL yields a
// client whose calls all fail, which keeps settlements queued.
func NewHTTPProcessor(baseURL, apiKey string) *HTTPProcessor {
	return &HTTPProcessor{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

func (c *HTTPProcessor) Release(ctx context.Context, in Instruction) (string, error) {
	return c.post(ctx, "/v1/payouts", in)
}

func (c *HTTPProcessor) Refund(ctx context.Context, in Instruction) (string, error) {
	return c.post(ctx, "/v1/refunds", in)
}

type processorResponse struct {
	Reference string `json:"reference"`
	Error     string `json:"error"`
}

func (c *HTTPProcessor) post(ctx context.Context, path string, in Instruction) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("payment processor base URL is not configured")
	}

	body, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("failed to marshal instruction: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", in.IdempotencyKey)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	var out processorResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil && resp.StatusCode < 400 {
			return "", fmt.Errorf("failed to decode response: %w", err)
		}
	}
	if resp.StatusCode >= 400 {
		if out.Error != "" {
			return "", fmt.Errorf("payment processor returned status %d: %s", resp.StatusCode, out.Error)
		}
		return "", fmt.Errorf("payment processor returned status %d", resp.StatusCode)
	}
	if out.Reference == "" {
		return "", fmt.Errorf("payment processor returned no reference")
	}
	return out.Reference, nil
}
