// Package ldsapi is the client for the LDS claim service and its lockup
// indexer: preimage hash checks, help-me-claim, GraphQL lockup lookups and
// custodial balances.
package ldsapi

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/juiceswap/lds-bridge/internal/fetch"
)

// ErrGraphQL is returned when the indexer answers with GraphQL errors.
var ErrGraphQL = errors.New("indexer graphql error")

// Client talks to the LDS API.
type Client struct {
	http *fetch.Client
}

// New creates a Client on top of a resilient fetch client.
func New(httpClient *fetch.Client) *Client {
	return &Client{http: httpClient}
}

// Lockup is an indexed EVM lockup.
type Lockup struct {
	PreimageHash string `json:"preimageHash"`
	ChainID      int64  `json:"chainId,omitempty"`
	Amount       string `json:"amount,omitempty"`
	ClaimAddress string `json:"claimAddress,omitempty"`
	Timelock     string `json:"timelock,omitempty"`
}

// Balance is the custodial balance of one currency, in satoshi units.
type Balance struct {
	Available uint64 `json:"available"`
	Pending   uint64 `json:"pending,omitempty"`
}

// HelpMeClaimResult is the service reply to a claim request.
type HelpMeClaimResult struct {
	TxHash string `json:"txHash,omitempty"`
}

type preimageHashRequest struct {
	PreimageHash string `json:"preimageHash"`
}

type checkPreimageHashResponse struct {
	Exists bool `json:"exists"`
}

type helpMeClaimRequest struct {
	Preimage     string `json:"preimage"`
	PreimageHash string `json:"preimageHash"`
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type lockupsResponse struct {
	Data struct {
		Lockups []Lockup `json:"lockups"`
	} `json:"data"`
	Errors []graphQLError `json:"errors,omitempty"`
}

const lockupsQuery = `query Lockups($preimageHash: String!) {
  lockups(preimageHash: $preimageHash) {
    preimageHash
    chainId
    amount
    claimAddress
    timelock
  }
}`

// Hex0x normalizes a hex string to lower case with a 0x prefix.
func Hex0x(h string) string {
	return "0x" + strings.ToLower(strings.TrimPrefix(h, "0x"))
}

// CheckPreimageHash asks whether the service knows a lockup for the hash.
func (c *Client) CheckPreimageHash(ctx context.Context, preimageHash string) (bool, error) {
	var resp checkPreimageHashResponse
	err := c.http.Post(ctx, "/claim/check-preimagehash",
		preimageHashRequest{PreimageHash: Hex0x(preimageHash)}, &resp)
	if err != nil {
		return false, fmt.Errorf("check preimage hash: %w", err)
	}
	return resp.Exists, nil
}

// HelpMeClaim hands the preimage to the service so that it claims the EVM
// lockup on the user's behalf. Callers must only invoke it after the
// counterparty lock has been observed.
func (c *Client) HelpMeClaim(ctx context.Context, preimage, preimageHash string) (*HelpMeClaimResult, error) {
	var resp HelpMeClaimResult
	err := c.http.Post(ctx, "/claim/help-me-claim", helpMeClaimRequest{
		Preimage:     Hex0x(preimage),
		PreimageHash: Hex0x(preimageHash),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("help me claim: %w", err)
	}
	return &resp, nil
}

// Lockups queries the indexer for lockups matching preimageHash.
func (c *Client) Lockups(ctx context.Context, preimageHash string) ([]Lockup, error) {
	var resp lockupsResponse
	err := c.http.Post(ctx, "/claim/graphql", graphQLRequest{
		Query:     lockupsQuery,
		Variables: map[string]interface{}{"preimageHash": Hex0x(preimageHash)},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("lockups query: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrGraphQL, resp.Errors[0].Message)
	}
	return resp.Data.Lockups, nil
}

// Balances fetches custodial balances keyed by currency symbol.
func (c *Client) Balances(ctx context.Context) (map[string]Balance, error) {
	var resp map[string]Balance
	if err := c.http.Get(ctx, "/swap/v2/balances", &resp); err != nil {
		return nil, fmt.Errorf("balances: %w", err)
	}
	return resp, nil
}
