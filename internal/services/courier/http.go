package courier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ledgercore/internal/resilience"
)

// maxErrorBody caps how much of a failed response is kept for diagnostics.
const maxErrorBody = 1024

// HTTPClient talks JSON to the courier API. Non-2xx answers come back as
// *resilience.StatusError so the shared classifier can decide on retries.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewHTTPClient creates a courier client. timeout bounds each request.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	var out Quote
	if err := c.do(ctx, http.MethodPost, "/v1/quotes", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) Book(ctx context.Context, req BookRequest) (*Booking, error) {
	var out Booking
	if err := c.do(ctx, http.MethodPost, "/v1/shipments", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *HTTPClient) Track(ctx context.Context, trackingNumber string) (*Tracking, error) {
	var out Tracking
	if err := c.do(ctx, http.MethodGet, "/v1/tracking/"+url.PathEscape(trackingNumber), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelLabel voids a purchased label. Cancelling an already void label is
// not an error.
func (c *HTTPClient) CancelLabel(ctx context.Context, shipmentID string) error {
	err := c.do(ctx, http.MethodPost, "/v1/shipments/"+url.PathEscape(shipmentID)+"/cancel", nil, nil)
	var se *resilience.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusConflict {
		return nil
	}
	return err
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode courier request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to build courier request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &resilience.StatusError{
			Dependency: Dependency,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode courier response: %w", err)
	}
	return nil
}
