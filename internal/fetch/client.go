// Package fetch provides an HTTP JSON client with per-request timeouts,
// bounded retries and primary/fallback URL failover.
//
// The failover state is shared by every caller of a Client: after a
// retryable failure on the primary URL the client moves to the fallback URL
// and stays there until the cooldown window has elapsed, measured from the
// switch. The first request issued after the window moves it back.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"

	"github.com/juiceswap/lds-bridge/pkg/logging"
)

// Defaults applied by DefaultConfig and by New for zero values.
const (
	DefaultTimeout          = 10 * time.Second
	DefaultMaxRetries       = 2
	DefaultRetryDelay       = time.Second
	DefaultFallbackCooldown = 10 * time.Minute
)

// Config holds the endpoint and retry settings of a Client.
type Config struct {
	// URL is the primary base URL.
	URL string `yaml:"url"`

	// FallbackURL is used after a retryable failure. Optional.
	FallbackURL string `yaml:"fallback_url,omitempty"`

	// Timeout bounds a single attempt.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries is the total number of attempts per request.
	MaxRetries int `yaml:"max_retries"`

	// RetryDelay is the fixed wait between attempts.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// FallbackCooldown is how long the client stays on the fallback URL.
	FallbackCooldown time.Duration `yaml:"fallback_cooldown"`
}

// DefaultConfig returns a Config with the default retry policy and no URLs.
func DefaultConfig() Config {
	return Config{
		Timeout:          DefaultTimeout,
		MaxRetries:       DefaultMaxRetries,
		RetryDelay:       DefaultRetryDelay,
		FallbackCooldown: DefaultFallbackCooldown,
	}
}

// Options describes a single request.
type Options struct {
	Method  string
	Headers map[string]string

	// Body is sent as-is when it is a []byte or string, otherwise it is
	// encoded as JSON.
	Body interface{}
}

// Client is a resilient JSON-over-HTTP client. It is safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	clock      clock.Clock
	log        *logging.Logger

	mu            sync.Mutex
	usingFallback bool
	fallbackSince time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithClock sets the clock used for retry delays and the cooldown window.
func WithClock(c clock.Clock) Option {
	return func(cl *Client) { cl.clock = c }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(cl *Client) { cl.httpClient = h }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(cl *Client) { cl.log = l }
}

// New creates a Client. Zero-valued retry settings take their defaults;
// a negative RetryDelay disables the wait between attempts.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.URL == "" {
		return nil, ErrNoURL
	}
	cfg.URL = strings.TrimSuffix(cfg.URL, "/")
	cfg.FallbackURL = strings.TrimSuffix(cfg.FallbackURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.FallbackCooldown <= 0 {
		cfg.FallbackCooldown = DefaultFallbackCooldown
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		clock:      clock.NewDefaultClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logging.OrDefault(c.log, "fetch")

	return c, nil
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// UsingFallback reports whether requests currently go to the fallback URL.
func (c *Client) UsingFallback() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usingFallback
}

// baseURL returns the URL the next attempt should use, moving back to the
// primary URL once the cooldown window has elapsed.
func (c *Client) baseURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.usingFallback {
		return c.cfg.URL
	}
	if c.clock.Now().Sub(c.fallbackSince) > c.cfg.FallbackCooldown {
		c.usingFallback = false
		c.fallbackSince = time.Time{}
		c.log.Info("Fallback cooldown elapsed, using primary URL", "url", c.cfg.URL)
		return c.cfg.URL
	}
	return c.cfg.FallbackURL
}

// switchToFallback moves the client to the fallback URL. Repeated calls
// while already on the fallback keep the original switch time.
func (c *Client) switchToFallback(cause error) {
	if c.cfg.FallbackURL == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.usingFallback {
		return
	}
	c.usingFallback = true
	c.fallbackSince = c.clock.Now()
	c.log.Warn("Switching to fallback URL",
		"primary", c.cfg.URL,
		"fallback", c.cfg.FallbackURL,
		"cooldown", c.cfg.FallbackCooldown,
		"error", cause,
	)
}

// Request sends opts to endpoint (joined to the current base URL) and
// decodes a JSON response into out. out may be nil, a *[]byte for the raw
// body, or any value accepted by json.Unmarshal.
//
// Failures with HTTP 503 or at the transport level are retried up to
// MaxRetries attempts in total; the last error is returned wrapped in
// ErrRetriesExhausted. Any other non-2xx status returns an *HTTPError at once.
func (c *Client) Request(ctx context.Context, endpoint string, opts Options, out interface{}) error {
	body, err := encodeBody(opts.Body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		base := c.baseURL()

		err := c.do(ctx, base+endpoint, opts, body, out)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !IsRetryable(err) {
			return err
		}

		lastErr = err
		c.log.Debug("Request failed",
			"endpoint", endpoint,
			"attempt", attempt,
			"max", c.cfg.MaxRetries,
			"error", err,
		)
		c.switchToFallback(err)

		if attempt == c.cfg.MaxRetries {
			break
		}
		if err := c.wait(ctx); err != nil {
			return err
		}
	}

	return fmt.Errorf("%w: %s after %d attempts: %w",
		ErrRetriesExhausted, endpoint, c.cfg.MaxRetries, lastErr)
}

// Get is a shorthand for a GET request.
func (c *Client) Get(ctx context.Context, endpoint string, out interface{}) error {
	return c.Request(ctx, endpoint, Options{Method: http.MethodGet}, out)
}

// Post is a shorthand for a JSON POST request.
func (c *Client) Post(ctx context.Context, endpoint string, body, out interface{}) error {
	return c.Request(ctx, endpoint, Options{Method: http.MethodPost, Body: body}, out)
}

func (c *Client) wait(ctx context.Context) error {
	if c.cfg.RetryDelay <= 0 {
		return nil
	}
	select {
	case <-c.clock.TickAfter(c.cfg.RetryDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) do(ctx context.Context, url string, opts Options, body []byte, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	method := opts.Method
	if method == "" {
		method = http.MethodGet
		if body != nil {
			method = http.MethodPost
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{URL: url, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{Status: resp.StatusCode, URL: url, Body: data}
	}

	return decode(data, out)
}

func encodeBody(body interface{}) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		return data, nil
	}
}

func decode(data []byte, out interface{}) error {
	switch o := out.(type) {
	case nil:
		return nil
	case *[]byte:
		*o = data
		return nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}

// IsRetryable reports whether err qualifies for another attempt and for the
// fallback switch: an HTTP 503 or a transport-level failure.
func IsRetryable(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status == http.StatusServiceUnavailable
	}
	var netErr *NetworkError
	return errors.As(err, &netErr)
}
