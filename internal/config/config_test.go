package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Network != Mainnet {
		t.Errorf("Network = %s, want mainnet", cfg.Network)
	}
	if cfg.SwapService.APIVersion != "v2" {
		t.Errorf("APIVersion = %s, want v2", cfg.SwapService.APIVersion)
	}
	if cfg.SwapService.Timeout != 10*time.Second {
		t.Errorf("swap service timeout = %s, want 10s", cfg.SwapService.Timeout)
	}
	if cfg.SwapService.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d, want 2", cfg.SwapService.MaxRetries)
	}
	if cfg.SwapService.FallbackCooldown != 10*time.Minute {
		t.Errorf("FallbackCooldown = %s, want 10m", cfg.SwapService.FallbackCooldown)
	}
	if cfg.Bridge.AwaitTimeout != 30*time.Minute {
		t.Errorf("AwaitTimeout = %s, want 30m", cfg.Bridge.AwaitTimeout)
	}
	if cfg.Bridge.PollAttempts != 100 || cfg.Bridge.PollInterval != 7*time.Second {
		t.Errorf("poll = %d x %s, want 100 x 7s", cfg.Bridge.PollAttempts, cfg.Bridge.PollInterval)
	}
	if cfg.Bitcoin == nil || cfg.BitcoinURL() == "" {
		t.Error("default bitcoin backend missing")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestChainParams(t *testing.T) {
	tests := []struct {
		network NetworkType
		want    *chaincfg.Params
	}{
		{Mainnet, &chaincfg.MainNetParams},
		{Testnet, &chaincfg.TestNet3Params},
		{Regtest, &chaincfg.RegressionNetParams},
	}

	for _, tc := range tests {
		cfg := DefaultConfig()
		cfg.Network = tc.network
		if got := cfg.ChainParams(); got.Name != tc.want.Name {
			t.Errorf("%s: ChainParams() = %s, want %s", tc.network, got.Name, tc.want.Name)
		}
	}
}

func TestBitcoinURLFollowsNetwork(t *testing.T) {
	cfg := DefaultConfig()
	mainnet := cfg.BitcoinURL()

	cfg.Network = Testnet
	if cfg.BitcoinURL() == mainnet {
		t.Error("testnet should use the testnet backend URL")
	}

	cfg.Bitcoin = nil
	if cfg.BitcoinURL() != "" {
		t.Error("nil backend should give empty URL")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"bad network", func(c *Config) { c.Network = "moonnet" }, "unknown network"},
		{"no swap url", func(c *Config) { c.SwapService.URL = "" }, "swap_service.url"},
		{"no lds url", func(c *Config) { c.LDSAPI.URL = "" }, "lds_api.url"},
		{"no ws url", func(c *Config) { c.WebSocket.URL = "" }, "websocket.url"},
		{"zero polls", func(c *Config) { c.Bridge.PollAttempts = 0 }, "poll_attempts"},
		{"buffer below one", func(c *Config) { c.Bridge.ReceiveFeeBuffer = 0.9 }, "receive_fee_buffer"},
		{"bad liquidity address", func(c *Config) { c.Bridge.Liquidity.EVM = "0xnope" }, "liquidity.evm"},
		{"token without address", func(c *Config) {
			c.Currencies = map[string]Currency{"JUSD_CITREA": {Kind: KindERC20, Decimals: 18, ChainID: ChainIDCitrea}}
		}, "JUSD_CITREA: token"},
		{"token at zero address", func(c *Config) {
			c.Currencies = map[string]Currency{"JUSD_CITREA": {
				Kind: KindERC20, Decimals: 18, ChainID: ChainIDCitrea,
				Token: "0x0000000000000000000000000000000000000000",
			}}
		}, "JUSD_CITREA: token"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.errMsg) {
				t.Errorf("Validate() = %v, want error containing %q", err, tc.errMsg)
			}
		})
	}
}

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Storage.DataDir != dir {
		t.Errorf("DataDir = %s, want %s", cfg.Storage.DataDir, dir)
	}

	data, err := os.ReadFile(ConfigPath(dir))
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if !strings.HasPrefix(string(data), "# LDS bridge configuration") {
		t.Error("config file missing header")
	}
	if !strings.Contains(string(data), "await_timeout: 30m0s") {
		t.Errorf("durations should be written as strings:\n%s", data)
	}
}

func TestLoadExisting(t *testing.T) {
	dir := t.TempDir()
	content := `network: testnet
swap_service:
  url: http://localhost:9001
  fallback_url: http://localhost:9002
  max_retries: 5
  api_version: v3
bridge:
  await_timeout: 5m
  poll_interval: 2s
currencies:
  DEMO:
    kind: erc20
    decimals: 6
    chain_id: 5115
    token: "0x0000000000000000000000000000000000000001"
`
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Network != Testnet {
		t.Errorf("Network = %s, want testnet", cfg.Network)
	}
	if cfg.SwapService.URL != "http://localhost:9001" || cfg.SwapService.FallbackURL != "http://localhost:9002" {
		t.Errorf("swap service URLs = %s / %s", cfg.SwapService.URL, cfg.SwapService.FallbackURL)
	}
	if cfg.SwapService.MaxRetries != 5 || cfg.SwapService.APIVersion != "v3" {
		t.Errorf("MaxRetries/APIVersion = %d/%s", cfg.SwapService.MaxRetries, cfg.SwapService.APIVersion)
	}
	// Unset fields keep their defaults.
	if cfg.SwapService.Timeout != 10*time.Second {
		t.Errorf("Timeout = %s, want default 10s", cfg.SwapService.Timeout)
	}
	if cfg.Bridge.AwaitTimeout != 5*time.Minute || cfg.Bridge.PollInterval != 2*time.Second {
		t.Errorf("bridge timing = %s / %s", cfg.Bridge.AwaitTimeout, cfg.Bridge.PollInterval)
	}
	if cfg.Bridge.PollAttempts != 100 {
		t.Errorf("PollAttempts = %d, want default 100", cfg.Bridge.PollAttempts)
	}

	demo, ok := cfg.Currency("DEMO")
	if !ok {
		t.Fatal("configured currency missing")
	}
	if demo.Symbol != "DEMO" || demo.Kind != KindERC20 || demo.ChainID != ChainIDCitreaTestnet {
		t.Errorf("DEMO = %+v", demo)
	}
	if _, ok := cfg.Currency("BTC"); !ok {
		t.Error("built-in currencies should stay available")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", ConfigFileName)

	cfg := DefaultConfig()
	cfg.Bridge.PollAttempts = 42
	cfg.Storage.DataDir = dir
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config permissions = %o, want 600", info.Mode().Perm())
	}

	loaded, err := Load(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Bridge.PollAttempts != 42 {
		t.Errorf("PollAttempts = %d, want 42", loaded.Bridge.PollAttempts)
	}
	if loaded.EVM[ChainIDCitrea] == nil || loaded.EVM[ChainIDCitrea].RPCURL == "" {
		t.Error("EVM chains lost in round trip")
	}
}

func TestResolvePath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.DataDir = "/var/lib/ldsbridge"

	if got := cfg.ResolvePath("seed.json"); got != "/var/lib/ldsbridge/seed.json" {
		t.Errorf("ResolvePath(relative) = %s", got)
	}
	if got := cfg.ResolvePath("/etc/seed.json"); got != "/etc/seed.json" {
		t.Errorf("ResolvePath(absolute) = %s", got)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	if got := expandPath("~/.ldsbridge"); got != filepath.Join(home, ".ldsbridge") {
		t.Errorf("expandPath(~/.ldsbridge) = %s", got)
	}
	if got := expandPath("/tmp/x"); got != "/tmp/x" {
		t.Errorf("expandPath(/tmp/x) = %s", got)
	}
}

func TestCurrencies(t *testing.T) {
	for _, symbol := range []string{"BTC", "lnBTC", "cBTC", "USDT_ETH", "USDC_ETH", "WBTC_ETH", "USDT_POLYGON"} {
		if !IsCurrencySupported(symbol) {
			t.Errorf("expected %s to be supported", symbol)
		}
	}
	for _, symbol := range ListCurrencies() {
		cur, _ := GetCurrency(symbol)
		if err := cur.Validate(); err != nil {
			t.Errorf("built-in %s: %v", symbol, err)
		}
	}
	if IsCurrencySupported("DOGE") {
		t.Error("DOGE should not be supported")
	}

	cbtc, _ := GetCurrency("cBTC")
	if cbtc.Decimals != 18 || !cbtc.IsEVM() || cbtc.IsBitcoin() {
		t.Errorf("cBTC = %+v", cbtc)
	}
	ln, _ := GetCurrency("lnBTC")
	if !ln.IsBitcoin() || ln.IsEVM() {
		t.Errorf("lnBTC = %+v", ln)
	}
	usdt, _ := GetCurrency("USDT_ETH")
	if usdt.TokenAddress().Hex() != "0xdAC17F958D2ee523a2206206994597C13D831ec7" {
		t.Errorf("USDT token = %s", usdt.TokenAddress().Hex())
	}

	erc20 := ListCurrenciesByKind(KindERC20)
	if len(erc20) != 5 {
		t.Errorf("ERC20 currencies = %v, want 5", erc20)
	}
	all := ListCurrencies()
	for i := 1; i < len(all); i++ {
		if all[i-1] > all[i] {
			t.Fatalf("ListCurrencies() not sorted: %v", all)
		}
	}
}
