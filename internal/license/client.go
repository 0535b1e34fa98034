package license

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Verdict is the remote authority's answer to a validation call. ExpiresAt
// is a naive timestamp — the authority speaks UTC but does not say so.
type Verdict struct {
	Success   bool   `json:"success"`
	Valid     bool   `json:"valid"`
	Kind      string `json:"license_type"`
	ExpiresAt string `json:"expires_at"`
	Message   string `json:"message"`
}

// Authority is the remote license service surface the gate depends on.
// Split out so the gate's state machine is testable without a network.
type Authority interface {
	Validate(ctx context.Context, key string) (Verdict, error)
	CreditsTotal(ctx context.Context, key string) (float64, error)
}

type Client struct {
	base string
	hc   *retryablehttp.Client
}

func NewClient(base string) *Client {
	hc := retryablehttp.NewClient()
	hc.RetryMax = 2
	hc.RetryWaitMin = 500 * time.Millisecond
	hc.RetryWaitMax = 2 * time.Second
	hc.HTTPClient.Timeout = 10 * time.Second
	hc.Logger = nil
	return &Client{base: base, hc: hc}
}

func (c *Client) Validate(ctx context.Context, key string) (Verdict, error) {
	body, _ := json.Marshal(map[string]string{"license_key": key})

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/validate-license", bytes.NewReader(body))
	if err != nil {
		return Verdict{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("authority unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return Verdict{}, fmt.Errorf("authority error: HTTP %d", resp.StatusCode)
	}

	var v Verdict
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return Verdict{}, fmt.Errorf("authority response: %w", err)
	}
	return v, nil
}

func (c *Client) CreditsTotal(ctx context.Context, key string) (float64, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/credits/total/"+key, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("authority unreachable: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Success      bool    `json:"success"`
		TotalCredits float64 `json:"total_credits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("credits response: %w", err)
	}
	if !out.Success {
		return 0, fmt.Errorf("credits lookup refused")
	}
	return out.TotalCredits, nil
}
