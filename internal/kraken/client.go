// Package kraken is the REST/WebSocket client for the Kraken exchange. It is
// the single owner of request signing, nonce handling, and the exchange
// error taxonomy; nothing else in the gateway talks to the exchange.
package kraken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"kraken-gateway/config"
	"kraken-gateway/internal/logging"

	"golang.org/x/time/rate"
)

// NonceGenerator is the strictly increasing credential token source injected
// into the client. See internal/nonce.
type NonceGenerator interface {
	Next() uint64
	Recover() uint64
}

// Client is a Kraken REST API client
type Client struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	limiter    *rate.Limiter
	nonces     NonceGenerator
	logger     *logging.Logger

	maxRetries   int
	retryBackoff time.Duration
}

// Credentials holds the API key pair. The secret is the base64-encoded value
// issued by the exchange.
type Credentials struct {
	APIKey    string
	APISecret string
}

// NewClient creates a Kraken client. The nonce generator is required for
// private endpoints and must be owned by exactly one account key.
func NewClient(cfg config.KrakenConfig, creds Credentials, nonces NonceGenerator, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default().WithComponent("kraken")
	}

	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       creds.APIKey,
		apiSecret:    creds.APISecret,
		httpClient:   &http.Client{Timeout: cfg.RequestTimeoutDuration()},
		limiter:      rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
		nonces:       nonces,
		logger:       logger,
		maxRetries:   cfg.MaxRetries,
		retryBackoff: time.Duration(cfg.RetryBackoff) * time.Millisecond,
	}
}

// ==================== PUBLIC ENDPOINTS ====================

// ServerTime returns the exchange clock
func (c *Client) ServerTime(ctx context.Context) (*ServerTime, error) {
	var result ServerTime
	if err := c.callPublic(ctx, "/0/public/Time", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SystemStatus returns exchange availability
func (c *Client) SystemStatus(ctx context.Context) (*SystemStatus, error) {
	var result SystemStatus
	if err := c.callPublic(ctx, "/0/public/SystemStatus", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ==================== PRIVATE ENDPOINTS ====================

// Balance fetches per-asset account balances
func (c *Client) Balance(ctx context.Context) (map[string]float64, error) {
	var raw map[string]string
	if err := c.callPrivate(ctx, "/0/private/Balance", nil, &raw); err != nil {
		return nil, err
	}

	balances := make(map[string]float64, len(raw))
	for asset, amountStr := range raw {
		amount, err := strconv.ParseFloat(amountStr, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse balance for %s: %w", asset, err)
		}
		balances[asset] = amount
	}
	return balances, nil
}

// GetTradeBalance fetches the account summary in the given quote asset
func (c *Client) GetTradeBalance(ctx context.Context, asset string) (*TradeBalance, error) {
	params := url.Values{}
	if asset != "" {
		params.Set("asset", asset)
	}
	var result TradeBalance
	if err := c.callPrivate(ctx, "/0/private/TradeBalance", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetWebSocketsToken fetches a short-lived token for the private WebSocket
func (c *Client) GetWebSocketsToken(ctx context.Context) (*WebSocketsToken, error) {
	var result WebSocketsToken
	if err := c.callPrivate(ctx, "/0/private/GetWebSocketsToken", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ==================== TRANSPORT ====================

func (c *Client) callPublic(ctx context.Context, apiPath string, params url.Values, target interface{}) error {
	endpoint := c.baseURL + apiPath
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter interrupted: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", apiPath, err)
	}
	req.Header.Set("User-Agent", "kraken-gateway/1.0")

	return c.doRequest(req, apiPath, target)
}

// callPrivate issues an authenticated POST with retry. Transient failures
// are retried with exponential backoff up to MaxRetries; an invalid-nonce
// rejection triggers a single recovery jump and retry; rate limits and
// permission errors are surfaced without local retry.
func (c *Client) callPrivate(ctx context.Context, apiPath string, params url.Values, target interface{}) error {
	if c.apiKey == "" || c.apiSecret == "" {
		return fmt.Errorf("%w: API key or secret not configured", ErrAuthDenied)
	}

	backoff := c.retryBackoff
	recovered := false
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		err := c.privateAttempt(ctx, apiPath, params, target)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, ErrInvalidNonce) && !recovered {
			recovered = true
			next := c.nonces.Recover()
			c.logger.Warn("invalid nonce rejected by exchange, recovered",
				"path", apiPath, "resumed_at", next)
			continue
		}

		if !isRetryable(err) {
			return err
		}

		c.logger.Warn("transient request failure, backing off",
			"path", apiPath, "attempt", attempt+1, "backoff", backoff.String(), "error", err)

		select {
		case <-ctx.Done():
			return fmt.Errorf("request cancelled during backoff: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	return fmt.Errorf("retries exhausted for %s: %w", apiPath, lastErr)
}

// privateAttempt performs a single signed POST. The nonce parameter is
// placed first in the form body, as the exchange requires.
func (c *Client) privateAttempt(ctx context.Context, apiPath string, params url.Values, target interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter interrupted: %w", err)
	}

	nonceStr := strconv.FormatUint(c.nonces.Next(), 10)

	postData := "nonce=" + nonceStr
	if len(params) > 0 {
		postData += "&" + params.Encode()
	}

	headers, err := authHeaders(c.apiKey, c.apiSecret, apiPath, nonceStr, postData)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthDenied, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiPath, strings.NewReader(postData))
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", apiPath, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "kraken-gateway/1.0")
	for key, val := range headers {
		req.Header.Set(key, val)
	}

	c.logger.Debug("private call", "path", apiPath, "nonce", nonceStr)

	return c.doRequest(req, apiPath, target)
}

func (c *Client) doRequest(req *http.Request, apiPath string, target interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed for %s: %w", apiPath, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response for %s: %w", apiPath, err)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: http status %d for %s", ErrServiceUnavailable, resp.StatusCode, apiPath)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http status %d for %s: %s", resp.StatusCode, apiPath, string(body))
	}

	var envelope struct {
		Error  []string        `json:"error"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("failed to parse response for %s: %w", apiPath, err)
	}

	if len(envelope.Error) > 0 {
		return classifyAPIErrors(envelope.Error)
	}

	if target != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, target); err != nil {
			return fmt.Errorf("failed to parse result for %s: %w", apiPath, err)
		}
	}
	return nil
}
