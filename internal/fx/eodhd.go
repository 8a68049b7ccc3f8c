package fx

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"divvy/internal/core"
)

// DefaultBaseURL is the production EODHD endpoint.
const DefaultBaseURL = "https://eodhd.com"

// Client fetches live forex quotes from the EODHD real-time API. The
// ticker for a currency pair is "{FROM}{TO}.FOREX".
type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

var _ Source = (*Client)(nil)

// NewClient builds an EODHD source. baseURL falls back to the production
// endpoint when empty; timeout bounds the underlying HTTP client in
// addition to any per-call context deadline.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpc:   &http.Client{Timeout: timeout},
	}
}

// FetchRate returns the latest quote for from->to. Any transport
// problem, non-200 status or unusable payload is reported as
// ErrSourceUnavailable so the resolver can fall through.
func (c *Client) FetchRate(ctx context.Context, from, to core.Currency) (decimal.Decimal, error) {
	ticker := fmt.Sprintf("%s%s.FOREX", from, to)
	addr := fmt.Sprintf("%s/api/real-time/%s?fmt=json&api_token=%s", c.baseURL, ticker, url.QueryEscape(c.token))

	var quote struct {
		Code  string      `json:"code"`
		Close json.Number `json:"close"`
	}
	if err := c.getJSON(ctx, addr, &quote); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, ticker, err)
	}

	rate, err := decimal.NewFromString(quote.Close.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: unusable quote %q", ErrSourceUnavailable, ticker, quote.Close)
	}
	if !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s: non-positive quote %s", ErrSourceUnavailable, ticker, rate)
	}
	return rate, nil
}

// getJSON performs a GET and decodes the JSON body into data.
func (c *Client) getJSON(ctx context.Context, addr string, data any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s%s: %s", resp.Request.URL.Host, resp.Request.URL.Path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(data)
}
