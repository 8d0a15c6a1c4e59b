package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/juiceswap/lds-bridge/internal/fetch"
)

// MempoolBackend implements Backend using the mempool.space API.
// Compatible with mempool.space and self-hosted instances.
type MempoolBackend struct {
	client    *fetch.Client
	mu        sync.RWMutex
	connected bool
}

// NewMempoolBackend creates a new mempool.space backend on top of a
// resilient client.
func NewMempoolBackend(client *fetch.Client) *MempoolBackend {
	return &MempoolBackend{client: client}
}

// Type returns TypeMempool.
func (m *MempoolBackend) Type() Type {
	return TypeMempool
}

// Connect tests the connection to the API.
func (m *MempoolBackend) Connect(ctx context.Context) error {
	if _, err := m.GetBlockHeight(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	m.mu.Lock()
	m.connected = true
	m.mu.Unlock()
	return nil
}

// Close closes the connection.
func (m *MempoolBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

// IsConnected returns true if connected.
func (m *MempoolBackend) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// GetAddressInfo returns address balance and tx count.
func (m *MempoolBackend) GetAddressInfo(ctx context.Context, address string) (*AddressInfo, error) {
	var result struct {
		Address    string `json:"address"`
		ChainStats struct {
			FundedTxoSum uint64 `json:"funded_txo_sum"`
			SpentTxoSum  uint64 `json:"spent_txo_sum"`
			TxCount      int64  `json:"tx_count"`
		} `json:"chain_stats"`
		MempoolStats struct {
			FundedTxoSum uint64 `json:"funded_txo_sum"`
			SpentTxoSum  uint64 `json:"spent_txo_sum"`
			TxCount      int64  `json:"tx_count"`
		} `json:"mempool_stats"`
	}

	if err := m.get(ctx, "/address/"+address, &result, ErrAddressNotFound); err != nil {
		return nil, err
	}

	return &AddressInfo{
		Address:        result.Address,
		TxCount:        result.ChainStats.TxCount + result.MempoolStats.TxCount,
		FundedSum:      result.ChainStats.FundedTxoSum,
		SpentSum:       result.ChainStats.SpentTxoSum,
		Balance:        result.ChainStats.FundedTxoSum - result.ChainStats.SpentTxoSum,
		MempoolBalance: int64(result.MempoolStats.FundedTxoSum) - int64(result.MempoolStats.SpentTxoSum),
	}, nil
}

// GetTransaction returns a transaction by ID.
func (m *MempoolBackend) GetTransaction(ctx context.Context, txID string) (*Transaction, error) {
	var result mempoolTx
	if err := m.get(ctx, "/tx/"+txID, &result, ErrTxNotFound); err != nil {
		return nil, err
	}

	tx := result.convert()

	// mempool.space returns block_height but not confirmations
	if tx.Confirmed && tx.BlockHeight > 0 {
		currentHeight, err := m.GetBlockHeight(ctx)
		if err == nil && currentHeight >= tx.BlockHeight {
			tx.Confirmations = currentHeight - tx.BlockHeight + 1
		}
	}

	return tx, nil
}

// GetRawTransaction returns raw transaction hex.
func (m *MempoolBackend) GetRawTransaction(ctx context.Context, txID string) ([]byte, error) {
	var raw []byte
	if err := m.get(ctx, "/tx/"+txID+"/hex", &raw, ErrTxNotFound); err != nil {
		return nil, err
	}
	return []byte(strings.TrimSpace(string(raw))), nil
}

// BroadcastTransaction broadcasts a raw transaction.
func (m *MempoolBackend) BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error) {
	var body []byte
	err := m.client.Request(ctx, "/tx", fetch.Options{
		Method:  http.MethodPost,
		Headers: map[string]string{"Content-Type": "text/plain"},
		Body:    rawTxHex,
	}, &body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
	}

	// Response is the txid
	return strings.TrimSpace(string(body)), nil
}

// GetBlockHeight returns the current block height.
func (m *MempoolBackend) GetBlockHeight(ctx context.Context) (int64, error) {
	var raw []byte
	if err := m.get(ctx, "/blocks/tip/height", &raw, nil); err != nil {
		return 0, err
	}
	height, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid block height %q: %w", raw, err)
	}
	return height, nil
}

// GetFeeEstimates returns fee estimates for different confirmation targets.
func (m *MempoolBackend) GetFeeEstimates(ctx context.Context) (*FeeEstimate, error) {
	var result map[string]float64
	if err := m.get(ctx, "/v1/fees/recommended", &result, nil); err != nil {
		return nil, err
	}

	return &FeeEstimate{
		FastestFee:  uint64(result["fastestFee"]),
		HalfHourFee: uint64(result["halfHourFee"]),
		HourFee:     uint64(result["hourFee"]),
		EconomyFee:  uint64(result["economyFee"]),
		MinimumFee:  uint64(result["minimumFee"]),
	}, nil
}

// get performs a GET request. A 404 maps to notFound when it is set.
func (m *MempoolBackend) get(ctx context.Context, path string, result interface{}, notFound error) error {
	err := m.client.Request(ctx, path, fetch.Options{
		Method: http.MethodGet,
		// Avoid stale CDN responses
		Headers: map[string]string{
			"Cache-Control": "no-cache",
			"Pragma":        "no-cache",
		},
	}, result)
	if err == nil {
		return nil
	}

	var httpErr *fetch.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.Status == http.StatusNotFound && notFound != nil:
			return notFound
		case httpErr.Status == http.StatusTooManyRequests:
			return ErrRateLimited
		}
	}
	return err
}

// mempoolTx is the mempool.space transaction format.
type mempoolTx struct {
	TxID     string `json:"txid"`
	Version  int32  `json:"version"`
	LockTime uint32 `json:"locktime"`
	Size     int64  `json:"size"`
	Weight   int64  `json:"weight"`
	Fee      uint64 `json:"fee"`
	Status   struct {
		Confirmed   bool   `json:"confirmed"`
		BlockHeight int64  `json:"block_height"`
		BlockHash   string `json:"block_hash"`
		BlockTime   int64  `json:"block_time"`
	} `json:"status"`
	Vout []TxOutput `json:"vout"`
}

func (mt *mempoolTx) convert() *Transaction {
	return &Transaction{
		TxID:        mt.TxID,
		Version:     mt.Version,
		Size:        mt.Size,
		Weight:      mt.Weight,
		VSize:       (mt.Weight + 3) / 4,
		LockTime:    mt.LockTime,
		Fee:         mt.Fee,
		Confirmed:   mt.Status.Confirmed,
		BlockHash:   mt.Status.BlockHash,
		BlockHeight: mt.Status.BlockHeight,
		BlockTime:   mt.Status.BlockTime,
		Outputs:     mt.Vout,
	}
}

// Ensure MempoolBackend implements Backend
var _ Backend = (*MempoolBackend)(nil)
