package swapapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/juiceswap/lds-bridge/internal/fetch"
	"github.com/juiceswap/lds-bridge/pkg/logging"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	fc, err := fetch.New(fetch.Config{URL: srv.URL, RetryDelay: -1},
		fetch.WithLogger(logging.Discard()))
	require.NoError(t, err)
	return New(fc, "")
}

const chainPairsJSON = `{
  "cBTC": {"BTC": {"hash": "abc", "rate": 1,
    "limits": {"minimal": 25000, "maximal": 10000000},
    "fees": {"percentage": 0.1, "minerFees": {"server": 500, "user": {"claim": 150, "lockup": 300}}}}}
}`

func TestGetChainPairs(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/swap/chain", r.URL.Path)
		_, _ = io.WriteString(w, chainPairsJSON)
	}))

	pairs, err := c.GetChainPairs(context.Background())
	require.NoError(t, err)

	pair, err := pairs.Get("cBTC", "BTC")
	require.NoError(t, err)
	require.Equal(t, "abc", pair.Hash)
	require.EqualValues(t, 25000, pair.Limits.Minimal)
	require.EqualValues(t, 10000000, pair.Limits.Maximal)
	require.EqualValues(t, 150, pair.Fees.MinerFees.User.Claim)

	_, err = pairs.Get("BTC", "cBTC")
	require.ErrorIs(t, err, ErrPairNotFound)
}

func TestCreateChainSwapBody(t *testing.T) {
	var got map[string]interface{}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"id":"swap1","claimDetails":{"amount":99000,"lockupAddress":"bc1p","timeoutBlockHeight":100,
			"serverPublicKey":"02aa","swapTree":{"claimLeaf":{"version":192,"output":"aa"},"refundLeaf":{"version":192,"output":"bb"}}},
			"lockupDetails":{"amount":100000,"lockupAddress":"0xswap","claimAddress":"0xserver","timeoutBlockHeight":5000}}`)
	}))

	resp, err := c.CreateChainSwap(context.Background(), ChainSwapRequest{
		From:           "cBTC",
		To:             "BTC",
		PreimageHash:   "ff",
		ClaimPublicKey: "02bb",
		UserLockAmount: 100000,
		PairHash:       "abc",
	})
	require.NoError(t, err)
	require.Equal(t, "swap1", resp.ID)
	require.NotNil(t, resp.ClaimDetails.SwapTree)
	require.EqualValues(t, 192, resp.ClaimDetails.SwapTree.ClaimLeaf.Version)
	require.Equal(t, "0xserver", resp.LockupDetails.ClaimAddress)

	require.Equal(t, "ff", got["preimageHash"])
	require.Equal(t, "abc", got["pairHash"])
	require.NotContains(t, got, "refundPublicKey")
	require.NotContains(t, got, "preimage")
}

func TestAPIErrorParsing(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantMessage string
		wantCode    string
		outOfBounds bool
		pairMissing bool
	}{
		{
			name:        "json error field",
			status:      http.StatusBadRequest,
			body:        `{"error":"100 is less than minimal of 25000"}`,
			wantMessage: "100 is less than minimal of 25000",
			outOfBounds: true,
		},
		{
			name:        "json message and code",
			status:      http.StatusNotFound,
			body:        `{"message":"could not find pair with id: X/Y","code":"PAIR_NOT_FOUND"}`,
			wantMessage: "could not find pair with id: X/Y",
			wantCode:    "PAIR_NOT_FOUND",
			pairMissing: true,
		},
		{
			name:        "plain text",
			status:      http.StatusInternalServerError,
			body:        "internal failure\n",
			wantMessage: "internal failure",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))

			_, err := c.CreateReverseSwap(context.Background(), ReverseRequest{From: "lnBTC", To: "cBTC"})

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			require.Equal(t, tt.status, apiErr.Status)
			require.Equal(t, tt.wantMessage, apiErr.Message)
			require.Equal(t, tt.wantCode, apiErr.Code)
			require.Equal(t, tt.outOfBounds, apiErr.IsAmountOutOfBounds())
			require.Equal(t, tt.pairMissing, apiErr.IsPairNotFound())
		})
	}
}

func TestSyncingSurfacesAfterRetries(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":"syncing"}`)
	}))

	_, err := c.GetReversePairs(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.True(t, apiErr.IsSyncing())
	require.True(t, errors.Is(err, fetch.ErrRetriesExhausted))
}

func TestBroadcastTransaction(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/chain/BTC/transaction", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "0200", body["hex"])
		_, _ = io.WriteString(w, `{"id":"txid1"}`)
	}))

	id, err := c.BroadcastTransaction(context.Background(), "BTC", "0200")
	require.NoError(t, err)
	require.Equal(t, "txid1", id)
}

func TestChainClaimRoundTrip(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/swap/chain/s1/claim", r.URL.Path)
		switch r.Method {
		case http.MethodPost:
			var req ChainClaimRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			if req.Signature != nil {
				w.WriteHeader(http.StatusOK)
				return
			}
			require.Equal(t, "pp", req.Preimage)
			require.NotNil(t, req.ToSign)
			require.Equal(t, 0, req.ToSign.Index)
			_, _ = io.WriteString(w, `{"pubNonce":"n","partialSignature":"s"}`)
		case http.MethodGet:
			_, _ = io.WriteString(w, `{"pubNonce":"n2","publicKey":"02aa","transactionHash":"hh"}`)
		}
	}))

	ctx := context.Background()
	sig, err := c.PostChainClaim(ctx, "s1", ChainClaimRequest{
		Preimage: "pp",
		ToSign:   &ToSign{PubNonce: "mine", Transaction: "02", Index: 0},
	})
	require.NoError(t, err)
	require.Equal(t, "n", sig.PubNonce)
	require.Equal(t, "s", sig.PartialSignature)

	details, err := c.GetChainClaimDetails(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "hh", details.TransactionHash)

	require.NoError(t, c.PostChainClaimSignature(ctx, "s1", PartialSignature{PubNonce: "a", PartialSignature: "b"}))
}
