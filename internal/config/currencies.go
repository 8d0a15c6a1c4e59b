package config

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// =============================================================================
// Chains
// =============================================================================

// EVM chain ids known to the bridge.
const (
	ChainIDEthereum      uint64 = 1
	ChainIDPolygon       uint64 = 137
	ChainIDCitrea        uint64 = 4114
	ChainIDCitreaTestnet uint64 = 5115
)

// =============================================================================
// Currency Definitions
// =============================================================================

// CurrencyKind is the settlement layer of a currency.
type CurrencyKind string

const (
	KindBitcoin   CurrencyKind = "bitcoin"    // on-chain BTC, Taproot swap outputs
	KindLightning CurrencyKind = "lightning"  // BTC over Lightning invoices
	KindEVMNative CurrencyKind = "evm_native" // EtherSwap lockups
	KindERC20     CurrencyKind = "erc20"      // ERC20Swap lockups
)

// Currency is a currency as named by the swap service.
type Currency struct {
	Symbol   string       `yaml:"symbol"`
	Name     string       `yaml:"name"`
	Kind     CurrencyKind `yaml:"kind"`
	Decimals uint8        `yaml:"decimals"`
	ChainID  uint64       `yaml:"chain_id,omitempty"`
	Token    string       `yaml:"token,omitempty"`
}

// IsEVM reports whether the currency settles on an EVM chain.
func (c Currency) IsEVM() bool {
	return c.Kind == KindEVMNative || c.Kind == KindERC20
}

// IsBitcoin reports whether the currency settles on Bitcoin or Lightning.
func (c Currency) IsBitcoin() bool {
	return c.Kind == KindBitcoin || c.Kind == KindLightning
}

// TokenAddress returns the ERC20 contract address.
func (c Currency) TokenAddress() common.Address {
	return common.HexToAddress(c.Token)
}

// Validate checks that the currency can be locked. ERC20 currencies need a
// non-zero token contract.
func (c Currency) Validate() error {
	switch c.Kind {
	case KindBitcoin, KindLightning:
	case KindEVMNative:
		if c.ChainID == 0 {
			return fmt.Errorf("currency %s: chain_id is required", c.Symbol)
		}
	case KindERC20:
		if c.ChainID == 0 {
			return fmt.Errorf("currency %s: chain_id is required", c.Symbol)
		}
		if !common.IsHexAddress(c.Token) || c.TokenAddress() == (common.Address{}) {
			return fmt.Errorf("currency %s: token is not a contract address: %q", c.Symbol, c.Token)
		}
	default:
		return fmt.Errorf("currency %s: unknown kind %q", c.Symbol, c.Kind)
	}
	return nil
}

// SupportedCurrencies defines the built-in currencies.
var SupportedCurrencies = map[string]Currency{
	"BTC": {
		Symbol:   "BTC",
		Name:     "Bitcoin",
		Kind:     KindBitcoin,
		Decimals: 8,
	},
	"lnBTC": {
		Symbol:   "lnBTC",
		Name:     "Bitcoin (Lightning)",
		Kind:     KindLightning,
		Decimals: 8,
	},
	"cBTC": {
		Symbol:   "cBTC",
		Name:     "Citrea Bitcoin",
		Kind:     KindEVMNative,
		Decimals: 18,
		ChainID:  ChainIDCitrea,
	},
	"USDT_ETH": {
		Symbol:   "USDT_ETH",
		Name:     "Tether USD (Ethereum)",
		Kind:     KindERC20,
		Decimals: 6,
		ChainID:  ChainIDEthereum,
		Token:    "0xdAC17F958D2ee523a2206206994597C13D831ec7",
	},
	"USDC_ETH": {
		Symbol:   "USDC_ETH",
		Name:     "USD Coin (Ethereum)",
		Kind:     KindERC20,
		Decimals: 6,
		ChainID:  ChainIDEthereum,
		Token:    "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
	},
	"WBTC_ETH": {
		Symbol:   "WBTC_ETH",
		Name:     "Wrapped Bitcoin (Ethereum)",
		Kind:     KindERC20,
		Decimals: 8,
		ChainID:  ChainIDEthereum,
		Token:    "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599",
	},
	"USDT_POLYGON": {
		Symbol:   "USDT_POLYGON",
		Name:     "Tether USD (Polygon)",
		Kind:     KindERC20,
		Decimals: 6,
		ChainID:  ChainIDPolygon,
		Token:    "0xc2132D05D31c914a87C6611C10748AEb04B58e8F",
	},
}

// GetCurrency returns a built-in currency by symbol.
func GetCurrency(symbol string) (Currency, bool) {
	c, ok := SupportedCurrencies[symbol]
	return c, ok
}

// IsCurrencySupported checks if a currency symbol is built in.
func IsCurrencySupported(symbol string) bool {
	_, ok := SupportedCurrencies[symbol]
	return ok
}

// ListCurrencies returns the built-in symbols in sorted order.
func ListCurrencies() []string {
	symbols := make([]string, 0, len(SupportedCurrencies))
	for s := range SupportedCurrencies {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}

// ListCurrenciesByKind returns the built-in symbols of one kind, sorted.
func ListCurrenciesByKind(kind CurrencyKind) []string {
	var symbols []string
	for s, c := range SupportedCurrencies {
		if c.Kind == kind {
			symbols = append(symbols, s)
		}
	}
	sort.Strings(symbols)
	return symbols
}
