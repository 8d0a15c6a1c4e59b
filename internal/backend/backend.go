// Package backend provides Bitcoin chain data and broadcast access for the
// bridge. This package never sees private keys.
package backend

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/juiceswap/lds-bridge/internal/fetch"
)

// Common errors
var (
	ErrNotConnected       = errors.New("backend not connected")
	ErrTxNotFound         = errors.New("transaction not found")
	ErrAddressNotFound    = errors.New("address not found")
	ErrBroadcastFailed    = errors.New("broadcast failed")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnsupportedBackend = errors.New("unsupported backend type")
)

// Type represents the backend type.
type Type string

const (
	TypeMempool Type = "mempool" // mempool.space API
	TypeEsplora Type = "esplora" // blockstream.info API
)

// Transaction represents a transaction.
type Transaction struct {
	TxID          string     `json:"txid"`
	Version       int32      `json:"version"`
	Size          int64      `json:"size"`
	VSize         int64      `json:"vsize"`
	Weight        int64      `json:"weight"`
	LockTime      uint32     `json:"locktime"`
	Fee           uint64     `json:"fee"`
	Confirmed     bool       `json:"confirmed"`
	BlockHash     string     `json:"block_hash,omitempty"`
	BlockHeight   int64      `json:"block_height,omitempty"`
	BlockTime     int64      `json:"block_time,omitempty"`
	Confirmations int64      `json:"confirmations"`
	Outputs       []TxOutput `json:"vout"`
}

// TxOutput represents a transaction output.
type TxOutput struct {
	ScriptPubKey     string `json:"scriptpubkey"`
	ScriptPubKeyType string `json:"scriptpubkey_type,omitempty"`
	ScriptPubKeyAddr string `json:"scriptpubkey_address,omitempty"`
	Value            uint64 `json:"value"`
}

// AddressInfo contains address balance and transaction info.
type AddressInfo struct {
	Address        string `json:"address"`
	TxCount        int64  `json:"tx_count"`
	FundedSum      uint64 `json:"funded_txo_sum"`
	SpentSum       uint64 `json:"spent_txo_sum"`
	Balance        uint64 `json:"balance"`         // confirmed
	MempoolBalance int64  `json:"mempool_balance"` // unconfirmed delta
}

// FeeEstimate contains fee estimation for different confirmation targets.
type FeeEstimate struct {
	FastestFee  uint64 `json:"fastest_fee"`   // sat/vB for next block
	HalfHourFee uint64 `json:"half_hour_fee"` // sat/vB for ~30 min
	HourFee     uint64 `json:"hour_fee"`      // sat/vB for ~1 hour
	EconomyFee  uint64 `json:"economy_fee"`   // sat/vB for low priority
	MinimumFee  uint64 `json:"minimum_fee"`   // sat/vB minimum relay fee
}

// Backend defines the interface for Bitcoin data providers.
type Backend interface {
	// Type returns the backend type (mempool, esplora).
	Type() Type

	// Connect checks that the API answers.
	Connect(ctx context.Context) error
	Close() error
	IsConnected() bool

	GetAddressInfo(ctx context.Context, address string) (*AddressInfo, error)

	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	GetRawTransaction(ctx context.Context, txID string) ([]byte, error)
	BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error)

	GetBlockHeight(ctx context.Context) (int64, error)
	GetFeeEstimates(ctx context.Context) (*FeeEstimate, error)
}

// Config contains backend configuration.
type Config struct {
	Type       Type   `yaml:"type"`
	MainnetURL string `yaml:"mainnet"`
	TestnetURL string `yaml:"testnet"`

	// FallbackURL is used by the resilient client after a failure on the
	// primary URL.
	FallbackURL string `yaml:"fallback,omitempty"`

	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// DefaultConfigs returns default backend configurations by chain symbol.
func DefaultConfigs() map[string]*Config {
	return map[string]*Config{
		"BTC": {
			Type:        TypeMempool,
			MainnetURL:  "https://mempool.space/api",
			TestnetURL:  "https://mempool.space/testnet/api",
			FallbackURL: "https://blockstream.info/api",
			Timeout:     30 * time.Second,
		},
	}
}

// New builds a backend from cfg for the selected network.
func New(cfg *Config, testnet bool, opts ...fetch.Option) (Backend, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: no config", ErrUnsupportedBackend)
	}

	url := cfg.MainnetURL
	if testnet {
		url = cfg.TestnetURL
	}

	fc := fetch.DefaultConfig()
	fc.URL = url
	fc.FallbackURL = cfg.FallbackURL
	if cfg.Timeout > 0 {
		fc.Timeout = cfg.Timeout
	}
	client, err := fetch.New(fc, opts...)
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", cfg.Type, err)
	}

	switch cfg.Type {
	case TypeMempool, "":
		return NewMempoolBackend(client), nil
	case TypeEsplora:
		return NewEsploraBackend(client), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, cfg.Type)
	}
}

// Registry holds backend instances by chain symbol.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry creates a new backend registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]Backend),
	}
}

// Register adds a backend to the registry.
func (r *Registry) Register(symbol string, backend Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[symbol] = backend
}

// Get returns a backend by symbol.
func (r *Registry) Get(symbol string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[symbol]
	return b, ok
}

// List returns all registered symbols, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	symbols := make([]string, 0, len(r.backends))
	for s := range r.backends {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// ConnectAll connects all registered backends.
func (r *Registry) ConnectAll(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for symbol, b := range r.backends {
		if err := b.Connect(ctx); err != nil {
			return fmt.Errorf("%s: %w", symbol, err)
		}
	}
	return nil
}

// CloseAll closes all registered backends.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.backends {
		b.Close()
	}
}
