// Package main provides ldsbridged, the bridge daemon serving swap flows
// over JSON-RPC.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/juiceswap/lds-bridge/internal/backend"
	"github.com/juiceswap/lds-bridge/internal/bridge"
	"github.com/juiceswap/lds-bridge/internal/config"
	"github.com/juiceswap/lds-bridge/internal/evm"
	"github.com/juiceswap/lds-bridge/internal/fetch"
	"github.com/juiceswap/lds-bridge/internal/keys"
	"github.com/juiceswap/lds-bridge/internal/ldsapi"
	"github.com/juiceswap/lds-bridge/internal/limits"
	"github.com/juiceswap/lds-bridge/internal/lnurl"
	"github.com/juiceswap/lds-bridge/internal/notify"
	"github.com/juiceswap/lds-bridge/internal/rpc"
	"github.com/juiceswap/lds-bridge/internal/status"
	"github.com/juiceswap/lds-bridge/internal/storage"
	"github.com/juiceswap/lds-bridge/internal/swapapi"
	"github.com/juiceswap/lds-bridge/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

// seedPasswordEnv holds the password of the encrypted seed file.
const seedPasswordEnv = "LDSBRIDGE_SEED_PASSWORD"

func main() {
	var (
		dataDir     = flag.String("data-dir", "~/.ldsbridge", "Data directory")
		configFile  = flag.String("config", "", "Config file path (default: <data-dir>/config.yaml)")
		apiAddr     = flag.String("api", "", "JSON-RPC API address, overrides config")
		testnet     = flag.Bool("testnet", false, "Run on testnet (separate data)")
		logLevel    = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	log := logging.New(&logging.Config{
		Level:      *logLevel,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("ldsbridged %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	effectiveDataDir := *dataDir
	if *testnet {
		effectiveDataDir = filepath.Join(*dataDir, "testnet")
	}

	var (
		cfg *config.Config
		err error
	)
	if *configFile != "" {
		cfg, err = config.Load(filepath.Dir(*configFile))
	} else {
		cfg, err = config.Load(effectiveDataDir)
	}
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	if *apiAddr != "" {
		cfg.RPC.Listen = *apiAddr
	}
	if *testnet {
		cfg.Network = config.Testnet
	}
	cfg.Storage.DataDir = effectiveDataDir
	cfg.Logging.Level = *logLevel

	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid config", "error", err)
	}

	cfg.Logging.TimeFormat = time.TimeOnly
	log = logging.New(&cfg.Logging)
	logging.SetDefault(log)

	log.Info("Config loaded", "path", config.ConfigPath(effectiveDataDir), "network", cfg.Network)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.New(&storage.Config{DataDir: cfg.Storage.DataDir})
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer store.Close()
	log.Info("Storage initialized", "path", store.Path())

	if err := checkNetwork(store, cfg.Network); err != nil {
		log.Fatal("Refusing to start", "error", err)
	}

	// Swap service and indexer
	swapHTTP, err := fetch.New(cfg.SwapService.Config, fetch.WithLogger(log.Component("swapapi")))
	if err != nil {
		log.Fatal("Failed to create swap service client", "error", err)
	}
	service := swapapi.New(swapHTTP, cfg.SwapService.APIVersion)

	ldsHTTP, err := fetch.New(cfg.LDSAPI, fetch.WithLogger(log.Component("ldsapi")))
	if err != nil {
		log.Fatal("Failed to create LDS API client", "error", err)
	}
	indexer := ldsapi.New(ldsHTTP)

	statusLog := log.Component("status")
	dialStatus := func(ctx context.Context) (bridge.StatusSubscriber, error) {
		sub, err := status.Dial(ctx, cfg.WebSocket.URL,
			status.WithPingInterval(cfg.WebSocket.PingInterval),
			status.WithLogger(statusLog),
		)
		if err != nil {
			return nil, err
		}
		return sub, nil
	}

	// Swap keys
	generator, refundKeys, err := loadKeys(cfg, store, log)
	if err != nil {
		log.Fatal("Failed to load swap keys", "error", err)
	}

	// EVM chains
	urls := make(map[uint64]string, len(cfg.EVM))
	for chainID, chain := range cfg.EVM {
		if chain != nil && chain.RPCURL != "" {
			urls[chainID] = chain.RPCURL
		}
	}
	evmClients, err := evm.Dial(ctx, urls)
	if err != nil {
		log.Fatal("Failed to connect to EVM chains", "error", err)
	}
	defer evmClients.Close()

	evmKey, err := evm.LoadOrCreateKey(cfg.ResolvePath(cfg.Wallet.EVMKeyFile))
	if err != nil {
		log.Fatal("Failed to load EVM key", "error", err)
	}
	wallet := evm.NewKeyWallet(evmKey, evmClients.TxBackends(), log.Component("evm"))
	balances := evm.NewBalanceReader(evmClients.CallBackends())
	log.Info("EVM wallet ready", "account", wallet.Address().Hex(), "chains", len(urls))

	// Bitcoin
	var btc backend.Backend
	if cfg.Bitcoin != nil {
		btc, err = backend.New(cfg.Bitcoin, cfg.IsTestnet(), fetch.WithLogger(log.Component("bitcoin")))
		if err != nil {
			log.Fatal("Failed to create Bitcoin backend", "error", err)
		}
		if err := btc.Connect(ctx); err != nil {
			log.Warn("Bitcoin backend unreachable", "error", err)
		}
		defer btc.Close()
	}

	popups := notify.NewRegistry(nil)
	defer popups.Close()

	deps := bridge.Deps{
		Service:    service,
		Indexer:    indexer,
		Status:     dialStatus,
		Keys:       generator,
		Wallet:     wallet,
		Allowance:  balances,
		Invoices:   lnurl.New(cfg.Lightning, lnurl.WithLogger(log.Component("lnurl"))),
		RefundKeys: refundKeys,
		Popups:     popups,
		Log:        log.Component("bridge"),
	}
	if btc != nil {
		deps.Bitcoin = btc
	}

	b, err := bridge.New(bridge.ConfigFromFile(cfg), deps)
	if err != nil {
		log.Fatal("Failed to create bridge", "error", err)
	}
	b.RegisterObserver(storage.NewObserver(store, log.Component("storage")))

	resolverOpts := []limits.Option{
		limits.WithEVM(balances),
		limits.WithReceivingBuffer(decimal.NewFromFloat(cfg.Bridge.ReceiveFeeBuffer)),
		limits.WithLogger(log.Component("limits")),
	}
	if btc != nil {
		resolverOpts = append(resolverOpts, limits.WithBitcoin(btc))
	}
	liquidity := limits.Liquidity{Bitcoin: cfg.Bridge.Liquidity.Bitcoin}
	if cfg.Bridge.Liquidity.EVM != "" {
		liquidity.EVM = common.HexToAddress(cfg.Bridge.Liquidity.EVM)
	}
	resolver := limits.NewResolver(service, indexer, liquidity, resolverOpts...)

	rpcServer, err := rpc.NewServer(rpc.Deps{
		Swaps:      rpc.BridgeSwaps{Bridge: b},
		Store:      store,
		Limits:     resolver,
		Currencies: cfg,
		Popups:     popups,
		Log:        log.Component("rpc"),
	})
	if err != nil {
		log.Fatal("Failed to create RPC server", "error", err)
	}
	if err := rpcServer.Start(cfg.RPC.Listen); err != nil {
		log.Fatal("Failed to start RPC server", "error", err)
	}

	reportUnfinished(store, log)
	printBanner(log, cfg, rpcServer.Addr(), wallet.Address().Hex())

	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pending, completed, err := store.CountSwaps()
				if err != nil {
					log.Warn("Failed to count swaps", "error", err)
					continue
				}
				log.Info("Status", "running", len(b.List()), "pending", pending, "completed", completed,
					"ws_clients", rpcServer.WSHub().ClientCount())
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Info("Shutting down...")

	cancel()

	if err := rpcServer.Stop(); err != nil {
		log.Error("Error stopping RPC server", "error", err)
	}
	b.Shutdown()

	log.Info("Goodbye!")
}

// checkNetwork pins the database to one network.
func checkNetwork(store *storage.Storage, network config.NetworkType) error {
	stored, err := store.GetSetting("network")
	switch {
	case errors.Is(err, storage.ErrSettingNotFound):
		return store.SetSetting("network", string(network))
	case err != nil:
		return err
	case stored != string(network):
		return fmt.Errorf("database belongs to %s, not %s", stored, network)
	}
	return nil
}

// loadKeys returns the swap key source. With a seed file, keys are derived
// and Bitcoin lockups stay refundable after a restart; without one they are
// random.
func loadKeys(cfg *config.Config, store *storage.Storage, log *logging.Logger) (keys.Generator, bridge.RefundKeys, error) {
	path := cfg.ResolvePath(cfg.Wallet.SeedFile)
	seed, err := keys.LoadSeedFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Warn("No seed file, using random swap keys; Bitcoin refunds need the swap's key", "path", path)
		return keys.NewRandom(), nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	password := os.Getenv(seedPasswordEnv)
	if password == "" {
		return nil, nil, fmt.Errorf("%s is not set", seedPasswordEnv)
	}
	mnemonic, err := seed.Decrypt(password)
	if err != nil {
		return nil, nil, err
	}

	next, err := store.NextRefundKeyIndex()
	if err != nil {
		return nil, nil, err
	}
	deriver, err := keys.NewDeriver(mnemonic, "", next)
	if err != nil {
		return nil, nil, err
	}
	log.Info("Swap keys derived from seed", "next_index", next)
	return deriver, deriver, nil
}

// reportUnfinished lists swaps that were running when the daemon stopped.
// Their lockups may need a refund.
func reportUnfinished(store *storage.Storage, log *logging.Logger) {
	records, err := store.ListPendingSwaps()
	if err != nil {
		log.Warn("Failed to list unfinished swaps", "error", err)
		return
	}
	for _, rec := range records {
		log.Warn("Unfinished swap, check refund",
			"flow", rec.ID,
			"swap", rec.SwapID,
			"direction", rec.Direction,
			"step", rec.Step,
			"lock_tx", rec.LockTxHash,
		)
	}
}

func printBanner(log *logging.Logger, cfg *config.Config, apiAddr, account string) {
	log.Info("")
	log.Info("=================================================")
	log.Infof("  LDS Bridge (%s)", cfg.Network)
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  Swap service: %s", cfg.SwapService.URL)
	log.Infof("  EVM account:  %s", account)
	log.Info("")
	log.Infof("  API: http://%s", apiAddr)
	log.Infof("  WS:  ws://%s/ws", apiAddr)
	log.Info("")
	log.Infof("  Data dir: %s", cfg.ResolvePath(""))
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}
