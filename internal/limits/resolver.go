package limits

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/juiceswap/lds-bridge/internal/backend"
	"github.com/juiceswap/lds-bridge/internal/config"
	"github.com/juiceswap/lds-bridge/internal/ldsapi"
	"github.com/juiceswap/lds-bridge/internal/swapapi"
	"github.com/juiceswap/lds-bridge/pkg/logging"
)

// Side is the amount field the user edits.
type Side string

const (
	// Paying bounds the amount sent.
	Paying Side = "paying"
	// Receiving bounds the amount received; the minimum carries a buffer
	// for network fees.
	Receiving Side = "receiving"
)

var (
	payingBuffer = decimal.NewFromInt(1)

	// DefaultReceivingBuffer covers network fees on the receiving side.
	DefaultReceivingBuffer = decimal.RequireFromString("1.02")

	errNoSource = errors.New("no balance source")
)

// Limits are the effective bounds for a pair, in swap precision.
type Limits struct {
	Kind PairKind
	Min  uint64
	Max  uint64

	ServiceMin uint64
	ServiceMax uint64
	// Custodial and OnChain are the counterparty balances Max was capped by.
	// OnChain is nil for Lightning payouts.
	Custodial uint64
	OnChain   *uint64
}

// PairSource lists the swap service's pairs.
type PairSource interface {
	GetChainPairs(ctx context.Context) (swapapi.ChainPairs, error)
	GetSubmarinePairs(ctx context.Context) (swapapi.SubmarinePairs, error)
	GetReversePairs(ctx context.Context) (swapapi.ReversePairs, error)
}

// CustodialSource reports the service's custodial balances. *ldsapi.Client
// implements it.
type CustodialSource interface {
	Balances(ctx context.Context) (map[string]ldsapi.Balance, error)
}

// EVMBalances reads on-chain EVM balances. *evm.BalanceReader implements it.
type EVMBalances interface {
	Balance(ctx context.Context, chainID uint64, token common.Address, decimals uint8, owner common.Address) (*big.Int, error)
}

// BitcoinBalances reads on-chain Bitcoin balances. Every backend.Backend
// implements it.
type BitcoinBalances interface {
	GetAddressInfo(ctx context.Context, address string) (*backend.AddressInfo, error)
}

// Liquidity names the counterparty wallets whose on-chain balance caps Max.
type Liquidity struct {
	EVM     common.Address
	Bitcoin string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithEVM sets the on-chain EVM balance source.
func WithEVM(b EVMBalances) Option {
	return func(r *Resolver) { r.evm = b }
}

// WithBitcoin sets the on-chain Bitcoin balance source.
func WithBitcoin(b BitcoinBalances) Option {
	return func(r *Resolver) { r.bitcoin = b }
}

// WithReceivingBuffer overrides the receiving side minimum multiplier.
// Values below one are ignored.
func WithReceivingBuffer(b decimal.Decimal) Option {
	return func(r *Resolver) {
		if b.GreaterThanOrEqual(payingBuffer) {
			r.receivingBuffer = b
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

// Resolver computes Limits. Every resolution fetches fresh data.
type Resolver struct {
	pairs     PairSource
	custodial CustodialSource
	evm       EVMBalances
	bitcoin   BitcoinBalances
	liquidity Liquidity
	log       *logging.Logger

	receivingBuffer decimal.Decimal
}

// NewResolver creates a resolver.
func NewResolver(pairs PairSource, custodial CustodialSource, liquidity Liquidity, opts ...Option) *Resolver {
	r := &Resolver{
		pairs:           pairs,
		custodial:       custodial,
		liquidity:       liquidity,
		receivingBuffer: DefaultReceivingBuffer,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = logging.OrDefault(r.log, "limits")
	return r
}

// Resolve returns the limits for in -> out. It reports false when the pair
// is not swappable or any input could not be fetched; callers must treat
// that as unknown limits, not zero.
func (r *Resolver) Resolve(ctx context.Context, in, out config.Currency, side Side) (*Limits, bool) {
	kind := Classify(in, out)
	if _, ok := kind.(None); ok {
		return nil, false
	}

	var (
		service   swapapi.Limits
		custodial uint64
		onChain   *uint64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		service, err = r.pairLimits(gctx, kind, in, out)
		return err
	})
	g.Go(func() error {
		var err error
		custodial, err = r.custodialBalance(gctx, out)
		return err
	})
	g.Go(func() error {
		var err error
		onChain, err = r.onChainBalance(gctx, out)
		return err
	})
	if err := g.Wait(); err != nil {
		r.log.Warn("Limits unavailable", "from", in.Symbol, "to", out.Symbol, "error", err)
		return nil, false
	}

	l := &Limits{
		Kind:       kind,
		ServiceMin: service.Minimal,
		ServiceMax: service.Maximal,
		Custodial:  custodial,
		OnChain:    onChain,
		Min:        r.bufferedMin(service.Minimal, side),
	}
	l.Max = min(service.Maximal, custodial)
	if onChain != nil {
		l.Max = min(l.Max, *onChain)
	}
	return l, true
}

func (r *Resolver) bufferedMin(minimal uint64, side Side) uint64 {
	buffer := payingBuffer
	if side == Receiving {
		buffer = r.receivingBuffer
	}
	v := decimal.NewFromUint64(minimal).Mul(buffer).Ceil()
	if !v.IsInteger() || v.BigInt().Cmp(new(big.Int).SetUint64(math.MaxUint64)) > 0 {
		return math.MaxUint64
	}
	return v.BigInt().Uint64()
}

func (r *Resolver) pairLimits(ctx context.Context, kind PairKind, in, out config.Currency) (swapapi.Limits, error) {
	from, to := serviceSymbol(in), serviceSymbol(out)
	switch kind.(type) {
	case ChainSwap, ERC20ChainSwap:
		pairs, err := r.pairs.GetChainPairs(ctx)
		if err != nil {
			return swapapi.Limits{}, err
		}
		p, err := pairs.Get(from, to)
		return p.Limits, err
	case Submarine:
		pairs, err := r.pairs.GetSubmarinePairs(ctx)
		if err != nil {
			return swapapi.Limits{}, err
		}
		p, err := pairs.Get(from, to)
		return p.Limits, err
	case Reverse:
		pairs, err := r.pairs.GetReversePairs(ctx)
		if err != nil {
			return swapapi.Limits{}, err
		}
		p, err := pairs.Get(from, to)
		return p.Limits, err
	case None:
		return swapapi.Limits{}, fmt.Errorf("no swap for %s -> %s", from, to)
	}
	return swapapi.Limits{}, fmt.Errorf("unhandled pair kind %s", kind)
}

// custodialBalance is what the service holds of the currency it pays out.
func (r *Resolver) custodialBalance(ctx context.Context, out config.Currency) (uint64, error) {
	if r.custodial == nil {
		return 0, fmt.Errorf("custodial: %w", errNoSource)
	}
	balances, err := r.custodial.Balances(ctx)
	if err != nil {
		return 0, err
	}
	b, ok := balances[out.Symbol]
	if !ok {
		return 0, fmt.Errorf("no custodial balance for %s", out.Symbol)
	}
	return b.Available, nil
}

// onChainBalance is the counterparty wallet's on-chain balance of out. A
// Lightning payout has no on-chain side and returns nil.
func (r *Resolver) onChainBalance(ctx context.Context, out config.Currency) (*uint64, error) {
	var v uint64
	switch {
	case out.Kind == config.KindLightning:
		return nil, nil
	case out.Kind == config.KindBitcoin:
		if r.bitcoin == nil || r.liquidity.Bitcoin == "" {
			return nil, fmt.Errorf("bitcoin: %w", errNoSource)
		}
		info, err := r.bitcoin.GetAddressInfo(ctx, r.liquidity.Bitcoin)
		if err != nil {
			return nil, err
		}
		v = info.Balance
	case out.IsEVM():
		if r.evm == nil || r.liquidity.EVM == (common.Address{}) {
			return nil, fmt.Errorf("evm: %w", errNoSource)
		}
		var token common.Address
		if out.Kind == config.KindERC20 {
			token = out.TokenAddress()
		}
		bal, err := r.evm.Balance(ctx, out.ChainID, token, out.Decimals, r.liquidity.EVM)
		if err != nil {
			return nil, err
		}
		v = math.MaxUint64
		if bal.IsUint64() {
			v = bal.Uint64()
		}
	default:
		return nil, fmt.Errorf("no on-chain balance for %s", out.Symbol)
	}
	return &v, nil
}

func serviceSymbol(c config.Currency) string {
	if c.Kind == config.KindLightning {
		return "BTC"
	}
	return c.Symbol
}
