package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// erc20LockGas is used for an ERC20Swap lock sent right after its approval,
// when estimation would still see the old allowance.
const erc20LockGas = 200_000

var ErrZeroAmount = errors.New("lock amount must be positive")

// LockParams describes one contract lockup. Amount is in swap precision.
type LockParams struct {
	Contract     common.Address
	PreimageHash [32]byte
	ClaimAddress common.Address
	Timelock     uint64
	Amount       uint64

	// Token is the zero address for the native coin.
	Token    common.Address
	Decimals uint8
}

// IsNative reports whether the lock moves the native coin.
func (p LockParams) IsNative() bool {
	return p.Token == (common.Address{})
}

// TokenAmount returns the amount in the base unit the contract expects.
func (p LockParams) TokenAmount() (*big.Int, error) {
	if p.IsNative() {
		return SatsToWei(p.Amount), nil
	}
	return ToTokenUnits(p.Amount, p.Decimals)
}

// LockResult holds the submitted transaction hashes.
type LockResult struct {
	ApproveTx common.Hash
	LockTx    common.Hash
}

// Lock submits the lockup through signer. ERC20 locks are preceded by an
// approval unless allowance already covers the amount.
func Lock(ctx context.Context, signer Signer, allowance AllowanceReader, p LockParams) (*LockResult, error) {
	if p.Amount == 0 {
		return nil, ErrZeroAmount
	}
	amount, err := p.TokenAmount()
	if err != nil {
		return nil, err
	}
	timelock := new(big.Int).SetUint64(p.Timelock)

	if p.IsNative() {
		data, err := EtherSwapLock(p.PreimageHash, p.ClaimAddress, timelock)
		if err != nil {
			return nil, fmt.Errorf("failed to pack lock: %w", err)
		}
		hash, err := signer.SendTransaction(ctx, TxRequest{To: p.Contract, Data: data, Value: amount})
		if err != nil {
			return nil, fmt.Errorf("failed to send lock: %w", err)
		}
		return &LockResult{LockTx: hash}, nil
	}

	res := &LockResult{}
	approved := false
	if allowance != nil {
		current, err := allowance.TokenAllowance(ctx, signer.ChainID(), p.Token, signer.Address(), p.Contract)
		if err != nil {
			return nil, err
		}
		approved = current.Cmp(amount) >= 0
	}
	if !approved {
		data, err := Approve(p.Contract, amount)
		if err != nil {
			return nil, fmt.Errorf("failed to pack approve: %w", err)
		}
		res.ApproveTx, err = signer.SendTransaction(ctx, TxRequest{To: p.Token, Data: data})
		if err != nil {
			return nil, fmt.Errorf("failed to send approve: %w", err)
		}
	}

	data, err := ERC20SwapLock(p.PreimageHash, amount, p.Token, p.ClaimAddress, timelock)
	if err != nil {
		return nil, fmt.Errorf("failed to pack lock: %w", err)
	}
	req := TxRequest{To: p.Contract, Data: data}
	if !approved {
		req.GasLimit = erc20LockGas
	}
	res.LockTx, err = signer.SendTransaction(ctx, req)
	if err != nil {
		return res, fmt.Errorf("failed to send lock: %w", err)
	}
	return res, nil
}

// Refund reclaims a lockup after its timelock expired.
func Refund(ctx context.Context, signer Signer, p LockParams) (common.Hash, error) {
	amount, err := p.TokenAmount()
	if err != nil {
		return common.Hash{}, err
	}
	timelock := new(big.Int).SetUint64(p.Timelock)

	var data []byte
	if p.IsNative() {
		data, err = EtherSwapRefund(p.PreimageHash, amount, p.ClaimAddress, timelock)
	} else {
		data, err = ERC20SwapRefund(p.PreimageHash, amount, p.Token, p.ClaimAddress, timelock)
	}
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack refund: %w", err)
	}
	hash, err := signer.SendTransaction(ctx, TxRequest{To: p.Contract, Data: data})
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to send refund: %w", err)
	}
	return hash, nil
}

// AllowanceReader reads ERC20 allowances. *BalanceReader implements it.
type AllowanceReader interface {
	TokenAllowance(ctx context.Context, chainID uint64, token, owner, spender common.Address) (*big.Int, error)
}

var _ AllowanceReader = (*BalanceReader)(nil)
