package priceguard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Client queries a secured-price oracle service over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a price guard client for the oracle at baseURL.
// Requests time out after five seconds; the engine treats a timeout like any
// other guard failure and aborts the dependent operation.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// SecuredPrice fetches GET {baseURL}/price/{symbol}.
func (c *Client) SecuredPrice(ctx context.Context, symbol string) (Quote, error) {
	endpoint := fmt.Sprintf("%s/price/%s", c.baseURL, url.PathEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("failed to build price request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("price guard request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("price guard returned status %d", resp.StatusCode)
	}

	var quote Quote
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return Quote{}, fmt.Errorf("failed to decode price response: %w", err)
	}
	return quote, nil
}
