// Package polymarket reads market activity from the Polymarket Gamma API.
// Payloads are returned as raw JSON; the settlement prompt embeds them as-is.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/marketsettler/internal/domain"
)

// DefaultBaseURL is the public Gamma API root.
const DefaultBaseURL = "https://gamma-api.polymarket.com"

const (
	eventsLimit  = 20
	marketsLimit = 30
)

// GammaClient is the REST client for the Polymarket Gamma API.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a new Gamma API client. A zero timeout selects 30s.
func NewGammaClient(baseURL string, timeout time.Duration) *GammaClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GammaClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// TopEvents returns the raw JSON of the most traded open events.
func (g *GammaClient) TopEvents(ctx context.Context) ([]byte, error) {
	path := "/events?" + openListing("volume", eventsLimit)
	body, err := g.doGet(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: top events: %w", err)
	}
	return body, nil
}

// TopMarkets returns the raw JSON of the most traded open markets.
func (g *GammaClient) TopMarkets(ctx context.Context) ([]byte, error) {
	path := "/markets?" + openListing("volumeNum", marketsLimit)
	body, err := g.doGet(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: top markets: %w", err)
	}
	return body, nil
}

// openListing builds the shared query for active, unclosed listings sorted by
// descending volume.
func openListing(order string, limit int) string {
	params := url.Values{}
	params.Set("active", "true")
	params.Set("closed", "false")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("order", order)
	params.Set("ascending", "false")
	return params.Encode()
}

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrNetworkUnavailable, err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: response is not JSON", domain.ErrNetworkUnavailable)
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx responses to domain errors. Every failure is
// also an ErrNetworkUnavailable so callers can degrade uniformly.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	if len(bodyStr) > 256 {
		bodyStr = bodyStr[:256]
	}
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w: %s", domain.ErrNetworkUnavailable, domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %w: %s", domain.ErrNetworkUnavailable, domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w: %s", domain.ErrNetworkUnavailable, domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrNetworkUnavailable, statusCode, bodyStr)
	}
}
