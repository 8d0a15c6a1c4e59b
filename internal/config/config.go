// Package config holds the daemon configuration: service endpoints, chain
// backends, bridge timing and the currency registry.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/juiceswap/lds-bridge/internal/backend"
	"github.com/juiceswap/lds-bridge/internal/fetch"
	"github.com/juiceswap/lds-bridge/pkg/logging"
)

// NetworkType represents the network the bridge runs against.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
	Regtest NetworkType = "regtest"
)

// Config holds all configuration for the bridge daemon.
type Config struct {
	Network NetworkType `yaml:"network"`

	// SwapService is the Boltz-compatible swap API.
	SwapService ServiceConfig `yaml:"swap_service"`

	// LDSAPI serves /claim/* and the custodial balances.
	LDSAPI fetch.Config `yaml:"lds_api"`

	WebSocket WebSocketConfig `yaml:"websocket"`

	// Lightning is the LNURL-pay resolver used for submarine invoices.
	Lightning fetch.Config `yaml:"lightning"`

	// EVM chains keyed by chain id.
	EVM map[uint64]*EVMChainConfig `yaml:"evm"`

	Bitcoin *backend.Config `yaml:"bitcoin"`

	Bridge  BridgeConfig   `yaml:"bridge"`
	RPC     RPCConfig      `yaml:"rpc"`
	Storage StorageConfig  `yaml:"storage"`
	Logging logging.Config `yaml:"logging"`
	Wallet  WalletConfig   `yaml:"wallet"`

	// Currencies overrides or extends the built-in registry.
	Currencies map[string]Currency `yaml:"currencies,omitempty"`
}

// ServiceConfig is the swap service endpoint plus its API version segment.
type ServiceConfig struct {
	fetch.Config `yaml:",inline"`

	APIVersion string `yaml:"api_version"`
}

// WebSocketConfig holds the status channel settings.
type WebSocketConfig struct {
	URL          string        `yaml:"url"`
	PingInterval time.Duration `yaml:"ping_interval"`
}

// EVMChainConfig describes one EVM chain.
type EVMChainConfig struct {
	Name   string `yaml:"name"`
	RPCURL string `yaml:"rpc_url"`
}

// BridgeConfig holds orchestration timing.
type BridgeConfig struct {
	// AwaitTimeout bounds every status wait of a chain swap.
	AwaitTimeout time.Duration `yaml:"await_timeout"`

	// PollAttempts and PollInterval bound the indexer lockup poll.
	PollAttempts int           `yaml:"poll_attempts"`
	PollInterval time.Duration `yaml:"poll_interval"`

	// ReceiveFeeBuffer multiplies the service minimum on the receiving side.
	ReceiveFeeBuffer float64 `yaml:"receive_fee_buffer"`

	// PopupDismiss is the auto dismiss delay of pending popups.
	PopupDismiss time.Duration `yaml:"popup_dismiss"`

	// FlowRetention keeps finished flows listed in memory this long.
	FlowRetention time.Duration `yaml:"flow_retention"`

	// Liquidity holds the counterparty wallets whose on-chain balance caps
	// the pair maximum. Empty addresses skip the on-chain check.
	Liquidity LiquidityConfig `yaml:"liquidity"`
}

// LiquidityConfig names the counterparty wallets.
type LiquidityConfig struct {
	EVM     string `yaml:"evm"`
	Bitcoin string `yaml:"bitcoin"`
}

// RPCConfig holds the JSON-RPC listener settings.
type RPCConfig struct {
	Listen string `yaml:"listen"`
}

// StorageConfig holds storage settings.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// WalletConfig points at key material on disk.
type WalletConfig struct {
	// SeedFile is the encrypted mnemonic used to derive swap keys.
	SeedFile string `yaml:"seed_file"`

	// EVMKeyFile holds the hex private key of the local EVM signer.
	EVMKeyFile string `yaml:"evm_key_file"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	swapService := fetch.DefaultConfig()
	swapService.URL = "https://lds.juiceswap.com/swap"
	swapService.FallbackURL = "https://lds-fallback.juiceswap.com/swap"

	ldsAPI := fetch.DefaultConfig()
	ldsAPI.URL = "https://lds.juiceswap.com"
	ldsAPI.FallbackURL = "https://lds-fallback.juiceswap.com"

	lightning := fetch.DefaultConfig()
	lightning.URL = "https://lightning.space"

	btc := backend.DefaultConfigs()["BTC"]

	return &Config{
		Network: Mainnet,
		SwapService: ServiceConfig{
			Config:     swapService,
			APIVersion: "v2",
		},
		LDSAPI: ldsAPI,
		WebSocket: WebSocketConfig{
			URL:          "wss://lds.juiceswap.com/swap/v2/ws",
			PingInterval: 15 * time.Second,
		},
		Lightning: lightning,
		EVM: map[uint64]*EVMChainConfig{
			ChainIDCitrea:   {Name: "Citrea", RPCURL: "https://rpc.mainnet.citrea.xyz"},
			ChainIDEthereum: {Name: "Ethereum", RPCURL: "https://eth.llamarpc.com"},
			ChainIDPolygon:  {Name: "Polygon", RPCURL: "https://polygon-rpc.com"},
		},
		Bitcoin: btc,
		Bridge: BridgeConfig{
			AwaitTimeout:     30 * time.Minute,
			PollAttempts:     100,
			PollInterval:     7 * time.Second,
			ReceiveFeeBuffer: 1.02,
			PopupDismiss:     10 * time.Second,
			FlowRetention:    10 * time.Minute,
		},
		RPC: RPCConfig{
			Listen: "127.0.0.1:9650",
		},
		Storage: StorageConfig{
			DataDir: "~/.ldsbridge",
		},
		Logging: logging.Config{
			Level:      "info",
			Format:     logging.FormatText,
			TimeFormat: time.TimeOnly,
		},
		Wallet: WalletConfig{
			SeedFile:   "seed.json",
			EVMKeyFile: "evm.key",
		},
	}
}

// IsTestnet returns true unless running on mainnet.
func (c *Config) IsTestnet() bool {
	return c.Network != Mainnet
}

// ChainParams returns the Bitcoin network parameters.
func (c *Config) ChainParams() *chaincfg.Params {
	switch c.Network {
	case Testnet:
		return &chaincfg.TestNet3Params
	case Regtest:
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

// BitcoinURL returns the backend URL for the configured network.
func (c *Config) BitcoinURL() string {
	if c.Bitcoin == nil {
		return ""
	}
	if c.IsTestnet() {
		return c.Bitcoin.TestnetURL
	}
	return c.Bitcoin.MainnetURL
}

// Currency returns a currency from the configured overrides or the built-in
// registry.
func (c *Config) Currency(symbol string) (Currency, bool) {
	if cur, ok := c.Currencies[symbol]; ok {
		if cur.Symbol == "" {
			cur.Symbol = symbol
		}
		return cur, true
	}
	return GetCurrency(symbol)
}

// ResolvePath resolves a path relative to the data directory.
func (c *Config) ResolvePath(path string) string {
	path = expandPath(path)
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(expandPath(c.Storage.DataDir), path)
}

// Validate checks the settings the daemon cannot start without.
func (c *Config) Validate() error {
	switch c.Network {
	case Mainnet, Testnet, Regtest:
	default:
		return fmt.Errorf("unknown network %q", c.Network)
	}
	if c.SwapService.URL == "" {
		return fmt.Errorf("swap_service.url is required")
	}
	if c.LDSAPI.URL == "" {
		return fmt.Errorf("lds_api.url is required")
	}
	if c.WebSocket.URL == "" {
		return fmt.Errorf("websocket.url is required")
	}
	if c.Bridge.PollAttempts <= 0 {
		return fmt.Errorf("bridge.poll_attempts must be positive")
	}
	if c.Bridge.ReceiveFeeBuffer < 1 {
		return fmt.Errorf("bridge.receive_fee_buffer must be at least 1")
	}
	if a := c.Bridge.Liquidity.EVM; a != "" && !common.IsHexAddress(a) {
		return fmt.Errorf("bridge.liquidity.evm is not an address: %q", a)
	}
	for symbol := range c.Currencies {
		cur, _ := c.Currency(symbol)
		if err := cur.Validate(); err != nil {
			return fmt.Errorf("currencies: %w", err)
		}
	}
	return nil
}

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// Load loads configuration from dataDir. If the file doesn't exist, it
// creates one with default values.
func Load(dataDir string) (*Config, error) {
	configPath := ConfigPath(dataDir)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# LDS bridge configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ConfigPath returns the full path to the config file for the given data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(expandPath(dataDir), ConfigFileName)
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
