// Package rest implements the signed HTTP transport shared by REST venues:
// canonical nonce-carrying bodies, HMAC authentication headers and bounded
// retries that never burn an attempt on a venue-side business rejection.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Error is a transport-level failure after all retry attempts were exhausted.
type Error struct {
	Attempts int
	Cause    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("request failed %d times in a row: %s", e.Attempts, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// BusinessProbe reports whether a non-2xx response body is a venue business
// rejection (a decodable error envelope) rather than an HTTP-level failure.
// Business rejections are handed back to the caller untouched: repeating
// "insufficient balance" will not succeed by repetition alone.
type BusinessProbe func(statusCode int, body []byte) bool

type Config struct {
	BaseURL     string
	KeyHeader   string
	PayloadHdr  string
	SigHeader   string
	Attempts    int
	RetryDelay  time.Duration
	RetryFactor float64 // 1 = fixed delay, 2 = doubling
	Timeout     time.Duration
	ProxyURL    string
}

// Client performs signed POST calls and plain GET calls against one venue.
type Client struct {
	cfg     Config
	http    *http.Client
	signer  *Signer
	nonces  *NonceSource
	apiKey  string
	probe   BusinessProbe
	logger  *zap.Logger
	mu      sync.Mutex
	lastRaw []byte
}

func NewClient(cfg Config, apiKey string, signer *Signer, nonces *NonceSource, probe BusinessProbe, logger *zap.Logger) (*Client, error) {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 6
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.RetryFactor < 1 {
		cfg.RetryFactor = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ProxyURL != "" {
		proxy, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid proxy url %s", cfg.ProxyURL)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}

	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout, Transport: transport},
		signer: signer,
		nonces: nonces,
		apiKey: apiKey,
		probe:  probe,
		logger: logger,
	}, nil
}

// LastResponse returns the most recent raw response body, kept for diagnostic
// replay after an unhandled failure.
func (c *Client) LastResponse() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRaw
}

func (c *Client) keepResponse(body []byte) {
	c.mu.Lock()
	c.lastRaw = body
	c.mu.Unlock()
}

// Get performs a retried unauthenticated GET of a venue path.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	var lastErr error
	delay := c.retryDelays()

	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+path, nil)
		if err != nil {
			return nil, errors.Wrap(err, "failed to build GET request")
		}

		body, retryable, err := c.do(req)
		if err == nil {
			return body, nil
		}
		if !retryable {
			return nil, err
		}

		lastErr = err
		c.logger.Warn("GET request failed",
			zap.Int("attempt", attempt), zap.Int("max_attempts", c.cfg.Attempts),
			zap.String("path", path), zap.Error(err))
		if err := sleep(ctx, delay.Duration()); err != nil {
			return nil, err
		}
	}

	return nil, &Error{Attempts: c.cfg.Attempts, Cause: lastErr}
}

// Call performs a signed POST of the named endpoint. The canonical body embeds
// the endpoint path and a fresh nonce, merged with params; the body is rebuilt
// per attempt so retried calls carry increasing nonces. A business-rejection
// body is returned with a nil error without consuming a retry.
func (c *Client) Call(ctx context.Context, endpoint string, params map[string]any) ([]byte, error) {
	var lastErr error
	delay := c.retryDelays()

	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		body, err := c.canonicalBody(endpoint, params)
		if err != nil {
			return nil, err
		}

		payload, signature := c.signer.Sign(body)
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, errors.Wrap(err, "failed to build POST request")
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(c.cfg.KeyHeader, c.apiKey)
		req.Header.Set(c.cfg.PayloadHdr, payload)
		req.Header.Set(c.cfg.SigHeader, signature)

		respBody, retryable, err := c.do(req)
		if err == nil {
			return respBody, nil
		}
		if !retryable {
			return nil, err
		}

		lastErr = err
		c.logger.Warn("signed request failed",
			zap.Int("attempt", attempt), zap.Int("max_attempts", c.cfg.Attempts),
			zap.String("endpoint", endpoint), zap.Error(err))
		if err := sleep(ctx, delay.Duration()); err != nil {
			return nil, err
		}
	}

	return nil, &Error{Attempts: c.cfg.Attempts, Cause: lastErr}
}

func (c *Client) canonicalBody(endpoint string, params map[string]any) ([]byte, error) {
	fields := make(map[string]any, len(params)+2)
	for k, v := range params {
		fields[k] = v
	}
	fields["request"] = endpoint
	fields["nonce"] = fmt.Sprintf("%d", c.nonces.Next())

	body, err := json.Marshal(fields)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request body")
	}
	return body, nil
}

// do executes one attempt. The bool result reports whether a failure may be
// retried (network-level) as opposed to a terminal condition.
func (c *Client) do(req *http.Request) ([]byte, bool, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, errors.Wrap(err, "failed to read response body")
	}
	c.keepResponse(body)

	if resp.StatusCode/100 == 2 {
		return body, false, nil
	}

	// Venues report business rejections through HTTP error statuses. Those are
	// for the caller to interpret, not for the retry loop.
	if c.probe != nil && c.probe(resp.StatusCode, body) {
		return body, false, nil
	}

	return nil, true, fmt.Errorf("http status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
}

func (c *Client) retryDelays() *backoff.Backoff {
	return &backoff.Backoff{
		Min:    c.cfg.RetryDelay,
		Max:    c.cfg.RetryDelay * 32,
		Factor: c.cfg.RetryFactor,
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
