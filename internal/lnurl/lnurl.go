// Package lnurl fetches Lightning invoices for Lightning addresses
// (user@domain) and bech32 LNURL-pay strings.
package lnurl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcutil/bech32"

	"github.com/juiceswap/lds-bridge/internal/fetch"
	"github.com/juiceswap/lds-bridge/pkg/logging"
)

const payRequestTag = "payRequest"

var (
	ErrInvalidDestination = errors.New("not a lightning address or lnurl")
	ErrAmountNotSendable  = errors.New("amount outside sendable range")
	ErrServiceError       = errors.New("lnurl service error")
)

// PayParams is the first-stage LNURL-pay response.
type PayParams struct {
	Tag         string `json:"tag"`
	Callback    string `json:"callback"`
	MinSendable uint64 `json:"minSendable"`
	MaxSendable uint64 `json:"maxSendable"`
	Metadata    string `json:"metadata"`
	Status      string `json:"status,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

type invoiceResponse struct {
	PR     string `json:"pr"`
	Status string `json:"status,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Client resolves destinations to invoices.
type Client struct {
	cfg    fetch.Config
	opts   []fetch.Option
	scheme string
	log    *logging.Logger

	mu      sync.Mutex
	clients map[string]*fetch.Client
}

// Option configures a Client.
type Option func(*Client)

// WithScheme sets the scheme used for Lightning address lookups.
func WithScheme(scheme string) Option {
	return func(c *Client) { c.scheme = scheme }
}

// WithFetchOptions are applied to every per-host fetch client.
func WithFetchOptions(opts ...fetch.Option) Option {
	return func(c *Client) { c.opts = append(c.opts, opts...) }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a Client. cfg supplies the retry policy; its URLs are ignored.
func New(cfg fetch.Config, opts ...Option) *Client {
	c := &Client{
		cfg:     cfg,
		scheme:  "https",
		clients: make(map[string]*fetch.Client),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logging.OrDefault(c.log, "lnurl")
	return c
}

// Invoice returns an invoice of sats paying destination.
func (c *Client) Invoice(ctx context.Context, destination string, sats uint64) (string, error) {
	payURL, err := c.PayURL(destination)
	if err != nil {
		return "", err
	}

	var params PayParams
	if err := c.get(ctx, payURL, &params); err != nil {
		return "", fmt.Errorf("failed to fetch pay parameters: %w", err)
	}
	if strings.EqualFold(params.Status, "ERROR") {
		return "", fmt.Errorf("%w: %s", ErrServiceError, params.Reason)
	}
	if params.Tag != payRequestTag || params.Callback == "" {
		return "", fmt.Errorf("%w: unexpected tag %q", ErrServiceError, params.Tag)
	}

	msat := sats * 1000
	if msat < params.MinSendable || (params.MaxSendable > 0 && msat > params.MaxSendable) {
		return "", fmt.Errorf("%w: %d msat not in [%d, %d]", ErrAmountNotSendable,
			msat, params.MinSendable, params.MaxSendable)
	}

	callback, err := url.Parse(params.Callback)
	if err != nil {
		return "", fmt.Errorf("%w: callback: %v", ErrServiceError, err)
	}
	q := callback.Query()
	q.Set("amount", strconv.FormatUint(msat, 10))
	callback.RawQuery = q.Encode()

	var resp invoiceResponse
	if err := c.get(ctx, callback, &resp); err != nil {
		return "", fmt.Errorf("failed to fetch invoice: %w", err)
	}
	if strings.EqualFold(resp.Status, "ERROR") {
		return "", fmt.Errorf("%w: %s", ErrServiceError, resp.Reason)
	}
	if resp.PR == "" {
		return "", fmt.Errorf("%w: empty invoice", ErrServiceError)
	}

	c.log.Debug("Invoice fetched", "host", payURL.Host, "msat", msat)
	return resp.PR, nil
}

// PayURL resolves a Lightning address or LNURL to its pay endpoint.
func (c *Client) PayURL(destination string) (*url.URL, error) {
	dest := strings.TrimSpace(destination)
	dest = strings.TrimPrefix(strings.TrimPrefix(dest, "lightning:"), "LIGHTNING:")

	if user, domain, ok := strings.Cut(dest, "@"); ok {
		if user == "" || domain == "" || strings.ContainsAny(domain, "/@") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDestination, destination)
		}
		return &url.URL{
			Scheme: c.scheme,
			Host:   domain,
			Path:   "/.well-known/lnurlp/" + strings.ToLower(user),
		}, nil
	}

	if strings.HasPrefix(strings.ToLower(dest), "lnurl") {
		return Decode(dest)
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidDestination, destination)
}

// Decode decodes a bech32 LNURL into its URL.
func Decode(s string) (*url.URL, error) {
	hrp, data, err := bech32.DecodeNoLimit(strings.ToLower(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDestination, err)
	}
	if hrp != "lnurl" {
		return nil, fmt.Errorf("%w: prefix %q", ErrInvalidDestination, hrp)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDestination, err)
	}
	u, err := url.Parse(string(raw))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: bad url %q", ErrInvalidDestination, raw)
	}
	return u, nil
}

// Encode encodes u as a bech32 LNURL.
func Encode(u string) (string, error) {
	data, err := bech32.ConvertBits([]byte(u), 8, 5, true)
	if err != nil {
		return "", err
	}
	s, err := bech32.Encode("lnurl", data)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(s), nil
}

func (c *Client) get(ctx context.Context, u *url.URL, out interface{}) error {
	client, err := c.client(u.Scheme + "://" + u.Host)
	if err != nil {
		return err
	}
	endpoint := u.EscapedPath()
	if u.RawQuery != "" {
		endpoint += "?" + u.RawQuery
	}
	return client.Get(ctx, endpoint, out)
}

func (c *Client) client(base string) (*fetch.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[base]; ok {
		return client, nil
	}
	cfg := c.cfg
	cfg.URL = base
	cfg.FallbackURL = ""
	client, err := fetch.New(cfg, c.opts...)
	if err != nil {
		return nil, err
	}
	c.clients[base] = client
	return client, nil
}
