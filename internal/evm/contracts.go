// Package evm locks and refunds swap funds on EVM chains through the
// EtherSwap and ERC20Swap contracts, and reads balances.
package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// EtherSwapMetaData describes the subset of EtherSwap used by the bridge.
var EtherSwapMetaData = &bind.MetaData{
	ABI: `[
{"type":"function","name":"lock","stateMutability":"payable","inputs":[{"name":"preimageHash","type":"bytes32"},{"name":"claimAddress","type":"address"},{"name":"timelock","type":"uint256"}],"outputs":[]},
{"type":"function","name":"refund","stateMutability":"nonpayable","inputs":[{"name":"preimageHash","type":"bytes32"},{"name":"amount","type":"uint256"},{"name":"claimAddress","type":"address"},{"name":"timelock","type":"uint256"}],"outputs":[]},
{"type":"function","name":"version","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`,
}

// ERC20SwapMetaData describes the subset of ERC20Swap used by the bridge.
var ERC20SwapMetaData = &bind.MetaData{
	ABI: `[
{"type":"function","name":"lock","stateMutability":"nonpayable","inputs":[{"name":"preimageHash","type":"bytes32"},{"name":"amount","type":"uint256"},{"name":"tokenAddress","type":"address"},{"name":"claimAddress","type":"address"},{"name":"timelock","type":"uint256"}],"outputs":[]},
{"type":"function","name":"refund","stateMutability":"nonpayable","inputs":[{"name":"preimageHash","type":"bytes32"},{"name":"amount","type":"uint256"},{"name":"tokenAddress","type":"address"},{"name":"claimAddress","type":"address"},{"name":"timelock","type":"uint256"}],"outputs":[]}
]`,
}

// ERC20MetaData is the part of ERC20 the bridge calls.
var ERC20MetaData = &bind.MetaData{
	ABI: `[
{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`,
}

var (
	etherSwapABI = mustABI(EtherSwapMetaData)
	erc20SwapABI = mustABI(ERC20SwapMetaData)
	erc20ABI     = mustABI(ERC20MetaData)
)

func mustABI(m *bind.MetaData) *abi.ABI {
	parsed, err := m.GetAbi()
	if err != nil {
		panic(fmt.Sprintf("failed to parse ABI: %v", err))
	}
	return parsed
}

// EtherSwapLock returns calldata for EtherSwap.lock. The amount travels as
// the transaction value.
func EtherSwapLock(preimageHash [32]byte, claimAddress common.Address, timelock *big.Int) ([]byte, error) {
	return etherSwapABI.Pack("lock", preimageHash, claimAddress, timelock)
}

// EtherSwapRefund returns calldata for EtherSwap.refund.
func EtherSwapRefund(preimageHash [32]byte, amount *big.Int, claimAddress common.Address, timelock *big.Int) ([]byte, error) {
	return etherSwapABI.Pack("refund", preimageHash, amount, claimAddress, timelock)
}

// ERC20SwapLock returns calldata for ERC20Swap.lock.
func ERC20SwapLock(preimageHash [32]byte, amount *big.Int, token, claimAddress common.Address, timelock *big.Int) ([]byte, error) {
	return erc20SwapABI.Pack("lock", preimageHash, amount, token, claimAddress, timelock)
}

// ERC20SwapRefund returns calldata for ERC20Swap.refund.
func ERC20SwapRefund(preimageHash [32]byte, amount *big.Int, token, claimAddress common.Address, timelock *big.Int) ([]byte, error) {
	return erc20SwapABI.Pack("refund", preimageHash, amount, token, claimAddress, timelock)
}

// Approve returns calldata for ERC20.approve.
func Approve(spender common.Address, amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("approve", spender, amount)
}

// BalanceOf returns calldata for ERC20.balanceOf.
func BalanceOf(owner common.Address) ([]byte, error) {
	return erc20ABI.Pack("balanceOf", owner)
}

// Allowance returns calldata for ERC20.allowance.
func Allowance(owner, spender common.Address) ([]byte, error) {
	return erc20ABI.Pack("allowance", owner, spender)
}

// unpackUint256 decodes the single uint256 result of an ERC20 view call.
func unpackUint256(method string, out []byte) (*big.Int, error) {
	values, err := erc20ABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unexpected %s result length %d", method, len(values))
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected %s result type %T", method, values[0])
	}
	return v, nil
}
