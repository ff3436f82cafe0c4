// Package kalshi reads open markets and recent trades from the Kalshi
// trade API v2.
package kalshi

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/marketsettler/internal/domain"
)

// DefaultBaseURL is the public trade API root.
const DefaultBaseURL = "https://api.elections.kalshi.com/trade-api/v2"

const (
	marketsLimit = 50
	tradesLimit  = 30
)

// Client is the REST client for the Kalshi exchange API. Requests are signed
// only when an RSA key has been configured; the read endpoints used here
// are public.
type Client struct {
	baseURL    string
	apiKeyID   string
	privateKey *rsa.PrivateKey
	httpClient *http.Client
	now        func() time.Time
}

// NewClient creates a new Kalshi REST client. A zero timeout selects 30s.
func NewClient(baseURL, apiKeyID string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKeyID:   apiKeyID,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// SetRSAPrivateKey loads an RSA private key from PEM-encoded bytes and
// configures the client for RSA-signed authentication.
func (c *Client) SetRSAPrivateKey(pemBytes []byte) error {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return fmt.Errorf("kalshi: no PEM block found in private key")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		pkcs1Key, pkcs1Err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if pkcs1Err != nil {
			return fmt.Errorf("kalshi: parse private key: %w (pkcs1: %v)", err, pkcs1Err)
		}
		c.privateKey = pkcs1Key
		return nil
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("kalshi: expected RSA private key, got %T", key)
	}
	c.privateKey = rsaKey
	return nil
}

// OpenMarkets returns the raw JSON of open markets.
func (c *Client) OpenMarkets(ctx context.Context) ([]byte, error) {
	params := url.Values{}
	params.Set("status", "open")
	params.Set("limit", strconv.Itoa(marketsLimit))

	body, err := c.doGet(ctx, "/markets", params)
	if err != nil {
		return nil, fmt.Errorf("kalshi: open markets: %w", err)
	}
	return body, nil
}

// RecentTrades returns the raw JSON of the latest trades across markets.
func (c *Client) RecentTrades(ctx context.Context) ([]byte, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(tradesLimit))

	body, err := c.doGet(ctx, "/trades", params)
	if err != nil {
		return nil, fmt.Errorf("kalshi: recent trades: %w", err)
	}
	return body, nil
}

func (c *Client) doGet(ctx context.Context, path string, params url.Values) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if c.privateKey != nil {
		if err := c.signRequest(req, http.MethodGet, req.URL.Path); err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrNetworkUnavailable, err)
	}

	if err := checkStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// signRequest adds RSA-PSS-SHA256 headers over timestamp + method + path.
// path is the full URL path without the query string.
func (c *Client) signRequest(req *http.Request, method, path string) error {
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	hash := sha256.Sum256([]byte(ts + method + path))
	signature, err := rsa.SignPSS(rand.Reader, c.privateKey, crypto.SHA256, hash[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
	})
	if err != nil {
		return fmt.Errorf("RSA sign: %w", err)
	}

	req.Header.Set("KALSHI-ACCESS-KEY", c.apiKeyID)
	req.Header.Set("KALSHI-ACCESS-SIGNATURE", base64.StdEncoding.EncodeToString(signature))
	req.Header.Set("KALSHI-ACCESS-TIMESTAMP", ts)
	return nil
}

// errorResponse is the body Kalshi returns on failure.
type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// checkStatus maps non-2xx HTTP status codes to domain errors. Every failure
// also wraps ErrNetworkUnavailable.
func checkStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	var apiErr errorResponse
	_ = json.Unmarshal(body, &apiErr)
	detail := fmt.Sprintf("%s (%s)", apiErr.Error.Message, apiErr.Error.Code)

	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %w: %s", domain.ErrNetworkUnavailable, domain.ErrNotFound, detail)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %w: %s", domain.ErrNetworkUnavailable, domain.ErrUnauthorized, detail)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w: %s", domain.ErrNetworkUnavailable, domain.ErrRateLimited, detail)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrNetworkUnavailable, statusCode, detail)
	}
}
