// Package swapapi is a typed client for the swap service HTTP API (pair
// info, swap creation, chain swap claims and transaction broadcast).
//
// The client performs no retries; it runs on a fetch.Client which owns the
// retry and failover policy. Every non-2xx reply surfaces as *APIError.
package swapapi

import (
	"context"
	"fmt"
	"net/url"

	"github.com/juiceswap/lds-bridge/internal/fetch"
)

// DefaultVersion is the API version path segment.
const DefaultVersion = "v2"

// Client talks to the swap service.
type Client struct {
	http    *fetch.Client
	version string
}

// New creates a Client. An empty version selects DefaultVersion.
func New(httpClient *fetch.Client, version string) *Client {
	if version == "" {
		version = DefaultVersion
	}
	return &Client{http: httpClient, version: version}
}

func (c *Client) path(format string, args ...interface{}) string {
	return "/" + c.version + fmt.Sprintf(format, args...)
}

func (c *Client) get(ctx context.Context, endpoint string, out interface{}) error {
	return wrapError(endpoint, c.http.Get(ctx, endpoint, out))
}

func (c *Client) post(ctx context.Context, endpoint string, body, out interface{}) error {
	return wrapError(endpoint, c.http.Post(ctx, endpoint, body, out))
}

// GetChainPairs fetches chain swap pair info.
func (c *Client) GetChainPairs(ctx context.Context) (ChainPairs, error) {
	var pairs ChainPairs
	if err := c.get(ctx, c.path("/swap/chain"), &pairs); err != nil {
		return nil, err
	}
	return pairs, nil
}

// GetSubmarinePairs fetches submarine swap pair info.
func (c *Client) GetSubmarinePairs(ctx context.Context) (SubmarinePairs, error) {
	var pairs SubmarinePairs
	if err := c.get(ctx, c.path("/swap/submarine"), &pairs); err != nil {
		return nil, err
	}
	return pairs, nil
}

// GetReversePairs fetches reverse swap pair info.
func (c *Client) GetReversePairs(ctx context.Context) (ReversePairs, error) {
	var pairs ReversePairs
	if err := c.get(ctx, c.path("/swap/reverse"), &pairs); err != nil {
		return nil, err
	}
	return pairs, nil
}

// CreateChainSwap creates a chain swap.
func (c *Client) CreateChainSwap(ctx context.Context, req ChainSwapRequest) (*ChainSwapResponse, error) {
	var resp ChainSwapResponse
	if err := c.post(ctx, c.path("/swap/chain"), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateSubmarineSwap creates a submarine swap.
func (c *Client) CreateSubmarineSwap(ctx context.Context, req SubmarineRequest) (*SubmarineResponse, error) {
	var resp SubmarineResponse
	if err := c.post(ctx, c.path("/swap/submarine"), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateReverseSwap creates a reverse swap.
func (c *Client) CreateReverseSwap(ctx context.Context, req ReverseRequest) (*ReverseResponse, error) {
	var resp ReverseResponse
	if err := c.post(ctx, c.path("/swap/reverse"), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetChainSwapTransactions fetches the lock transactions of a chain swap.
func (c *Client) GetChainSwapTransactions(ctx context.Context, id string) (*ChainSwapTransactions, error) {
	var resp ChainSwapTransactions
	endpoint := c.path("/swap/chain/%s/transactions", url.PathEscape(id))
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PostChainClaim sends our claim request (preimage plus the transaction to
// sign) and returns the server's nonce and partial signature.
func (c *Client) PostChainClaim(ctx context.Context, id string, req ChainClaimRequest) (*PartialSignature, error) {
	var resp PartialSignature
	endpoint := c.path("/swap/chain/%s/claim", url.PathEscape(id))
	if err := c.post(ctx, endpoint, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetChainClaimDetails fetches the server's claim transaction hash and nonce
// for cross-signing.
func (c *Client) GetChainClaimDetails(ctx context.Context, id string) (*ChainClaimDetails, error) {
	var resp ChainClaimDetails
	endpoint := c.path("/swap/chain/%s/claim", url.PathEscape(id))
	if err := c.get(ctx, endpoint, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PostChainClaimSignature hands our partial signature for the server's claim.
func (c *Client) PostChainClaimSignature(ctx context.Context, id string, sig PartialSignature) error {
	endpoint := c.path("/swap/chain/%s/claim", url.PathEscape(id))
	return c.post(ctx, endpoint, ChainClaimRequest{Signature: &sig}, nil)
}

// GetSwapStatus fetches the current status of any swap.
func (c *Client) GetSwapStatus(ctx context.Context, id string) (*SwapStatus, error) {
	var resp SwapStatus
	if err := c.get(ctx, c.path("/swap/%s", url.PathEscape(id)), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BroadcastTransaction broadcasts raw transaction hex on currency's chain and
// returns the transaction id.
func (c *Client) BroadcastTransaction(ctx context.Context, currency, txHex string) (string, error) {
	var resp broadcastResponse
	endpoint := c.path("/chain/%s/transaction", url.PathEscape(currency))
	if err := c.post(ctx, endpoint, broadcastRequest{Hex: txHex}, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}
