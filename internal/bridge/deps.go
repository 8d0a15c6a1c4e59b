package bridge

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/clock"

	"github.com/juiceswap/lds-bridge/internal/backend"
	"github.com/juiceswap/lds-bridge/internal/config"
	"github.com/juiceswap/lds-bridge/internal/evm"
	"github.com/juiceswap/lds-bridge/internal/keys"
	"github.com/juiceswap/lds-bridge/internal/ldsapi"
	"github.com/juiceswap/lds-bridge/internal/notify"
	"github.com/juiceswap/lds-bridge/internal/status"
	"github.com/juiceswap/lds-bridge/internal/swapapi"
	"github.com/juiceswap/lds-bridge/pkg/logging"
)

// SwapService is the swap service API used by the flows. *swapapi.Client
// implements it.
type SwapService interface {
	GetChainPairs(ctx context.Context) (swapapi.ChainPairs, error)
	GetSubmarinePairs(ctx context.Context) (swapapi.SubmarinePairs, error)
	GetReversePairs(ctx context.Context) (swapapi.ReversePairs, error)

	CreateChainSwap(ctx context.Context, req swapapi.ChainSwapRequest) (*swapapi.ChainSwapResponse, error)
	CreateSubmarineSwap(ctx context.Context, req swapapi.SubmarineRequest) (*swapapi.SubmarineResponse, error)
	CreateReverseSwap(ctx context.Context, req swapapi.ReverseRequest) (*swapapi.ReverseResponse, error)

	GetChainSwapTransactions(ctx context.Context, id string) (*swapapi.ChainSwapTransactions, error)
	PostChainClaim(ctx context.Context, id string, req swapapi.ChainClaimRequest) (*swapapi.PartialSignature, error)
	GetChainClaimDetails(ctx context.Context, id string) (*swapapi.ChainClaimDetails, error)
	PostChainClaimSignature(ctx context.Context, id string, sig swapapi.PartialSignature) error

	BroadcastTransaction(ctx context.Context, currency, txHex string) (string, error)

	// GetSwapStatus is the REST view of the status channel.
	GetSwapStatus(ctx context.Context, id string) (*swapapi.SwapStatus, error)
}

var _ SwapService = (*swapapi.Client)(nil)

// Indexer is the indexer proxy. *ldsapi.Client implements it.
type Indexer interface {
	Lockups(ctx context.Context, preimageHash string) ([]ldsapi.Lockup, error)
	CheckPreimageHash(ctx context.Context, preimageHash string) (bool, error)
	HelpMeClaim(ctx context.Context, preimage, preimageHash string) (*ldsapi.HelpMeClaimResult, error)
}

var _ Indexer = (*ldsapi.Client)(nil)

// StatusSubscriber follows swap status. *status.Subscriber implements it.
type StatusSubscriber interface {
	SubscribeToSwapUntil(ctx context.Context, id string, target status.Status) error
	Disconnect() error
}

var _ StatusSubscriber = (*status.Subscriber)(nil)

// StatusDialer opens one status connection per flow.
type StatusDialer func(ctx context.Context) (StatusSubscriber, error)

// BitcoinBackend is the chain data source used for broadcast fallback and
// refunds. backend.Backend implements it.
type BitcoinBackend interface {
	GetRawTransaction(ctx context.Context, txID string) ([]byte, error)
	BroadcastTransaction(ctx context.Context, rawTxHex string) (string, error)
	GetFeeEstimates(ctx context.Context) (*backend.FeeEstimate, error)
}

var _ BitcoinBackend = (backend.Backend)(nil)

// RefundKeys re-derives swap keys by index. *keys.Deriver implements it.
type RefundKeys interface {
	Material(index uint32) (*keys.Material, error)
}

// InvoiceProvider fetches a Lightning invoice for a destination.
type InvoiceProvider interface {
	Invoice(ctx context.Context, destination string, sats uint64) (string, error)
}

// Deps are the collaborators of a Bridge.
type Deps struct {
	Service SwapService
	Indexer Indexer
	Status  StatusDialer
	Keys    keys.Generator
	Wallet  evm.WalletProvider

	// Allowance skips redundant ERC20 approvals. Optional.
	Allowance evm.AllowanceReader

	// Invoices is required for submarine swaps to non-invoice destinations.
	Invoices InvoiceProvider

	// Bitcoin is the fallback when the service cannot be reached to
	// broadcast, and the source of refund fee rates. Optional.
	Bitcoin BitcoinBackend

	// RefundKeys is required to refund Bitcoin lockups.
	RefundKeys RefundKeys

	Popups notify.Sink
	Clock  clock.Clock
	Log    *logging.Logger
}

// Config holds flow settings.
type Config struct {
	// AwaitTimeout bounds every status wait. Zero waits forever.
	AwaitTimeout time.Duration

	PollAttempts int
	PollInterval time.Duration
	PopupDismiss time.Duration

	// FlowRetention is how long a finished flow stays in the in-memory
	// list. The store keeps the record afterwards.
	FlowRetention time.Duration

	ChainParams *chaincfg.Params
	ReferralID  string

	// Currency resolves currency symbols. Defaults to the built-in list.
	Currency func(symbol string) (config.Currency, bool)
}

// DefaultFlowRetention applies when Config.FlowRetention is zero.
const DefaultFlowRetention = 10 * time.Minute

// DefaultConfig returns the default flow settings.
func DefaultConfig() Config {
	return Config{
		AwaitTimeout:  30 * time.Minute,
		PollAttempts:  100,
		PollInterval:  7 * time.Second,
		PopupDismiss:  10 * time.Second,
		FlowRetention: DefaultFlowRetention,
		ChainParams:   &chaincfg.MainNetParams,
		Currency:      config.GetCurrency,
	}
}

// ConfigFromFile maps the daemon configuration to flow settings.
func ConfigFromFile(cfg *config.Config) Config {
	return Config{
		AwaitTimeout:  cfg.Bridge.AwaitTimeout,
		PollAttempts:  cfg.Bridge.PollAttempts,
		PollInterval:  cfg.Bridge.PollInterval,
		PopupDismiss:  cfg.Bridge.PopupDismiss,
		FlowRetention: cfg.Bridge.FlowRetention,
		ChainParams:   cfg.ChainParams(),
		Currency:      cfg.Currency,
	}
}
