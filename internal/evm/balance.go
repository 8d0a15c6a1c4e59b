package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// CallBackend is the read-only part of ethclient.Client.
type CallBackend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// BalanceReader reads native and ERC20 balances across chains.
type BalanceReader struct {
	backends map[uint64]CallBackend
}

// NewBalanceReader creates a reader over backends keyed by chain ID.
func NewBalanceReader(backends map[uint64]CallBackend) *BalanceReader {
	return &BalanceReader{backends: backends}
}

func (r *BalanceReader) backend(chainID uint64) (CallBackend, error) {
	b, ok := r.backends[chainID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChain, chainID)
	}
	return b, nil
}

// NativeBalance returns owner's native coin balance in wei.
func (r *BalanceReader) NativeBalance(ctx context.Context, chainID uint64, owner common.Address) (*big.Int, error) {
	b, err := r.backend(chainID)
	if err != nil {
		return nil, err
	}
	bal, err := b.BalanceAt(ctx, owner, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return bal, nil
}

// TokenBalance returns owner's balance of token in token base units.
func (r *BalanceReader) TokenBalance(ctx context.Context, chainID uint64, token, owner common.Address) (*big.Int, error) {
	data, err := BalanceOf(owner)
	if err != nil {
		return nil, err
	}
	return r.callUint256(ctx, chainID, token, "balanceOf", data)
}

// TokenAllowance returns how much of owner's token spender may move.
func (r *BalanceReader) TokenAllowance(ctx context.Context, chainID uint64, token, owner, spender common.Address) (*big.Int, error) {
	data, err := Allowance(owner, spender)
	if err != nil {
		return nil, err
	}
	return r.callUint256(ctx, chainID, token, "allowance", data)
}

// Balance returns owner's balance in swap precision. The zero token address
// selects the native coin, which has 18 decimals.
func (r *BalanceReader) Balance(ctx context.Context, chainID uint64, token common.Address, decimals uint8, owner common.Address) (*big.Int, error) {
	if token == (common.Address{}) {
		wei, err := r.NativeBalance(ctx, chainID, owner)
		if err != nil {
			return nil, err
		}
		return WeiToSats(wei), nil
	}
	units, err := r.TokenBalance(ctx, chainID, token, owner)
	if err != nil {
		return nil, err
	}
	return FromTokenUnits(units, decimals), nil
}

func (r *BalanceReader) callUint256(ctx context.Context, chainID uint64, contract common.Address, method string, data []byte) (*big.Int, error) {
	b, err := r.backend(chainID)
	if err != nil {
		return nil, err
	}
	out, err := b.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	return unpackUint256(method, out)
}
