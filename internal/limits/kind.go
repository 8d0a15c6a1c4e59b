// Package limits computes the amount bounds a swap pair can honor right now,
// combining the swap service's pair limits with live liquidity.
package limits

import "github.com/juiceswap/lds-bridge/internal/config"

// PairKind is the swap type serving a currency pair. The set of kinds is
// closed.
type PairKind interface {
	String() string
	pairKind()
}

type (
	// ChainSwap moves between an EVM chain and on-chain Bitcoin.
	ChainSwap struct{}
	// Submarine pays a Lightning invoice from an EVM lockup.
	Submarine struct{}
	// Reverse receives on an EVM chain for a Lightning payment.
	Reverse struct{}
	// ERC20ChainSwap moves a token between two EVM chains.
	ERC20ChainSwap struct{}
	// None means no swap serves the pair.
	None struct{}
)

func (ChainSwap) String() string      { return "chain" }
func (Submarine) String() string      { return "submarine" }
func (Reverse) String() string        { return "reverse" }
func (ERC20ChainSwap) String() string { return "erc20_chain" }
func (None) String() string           { return "none" }

func (ChainSwap) pairKind()      {}
func (Submarine) pairKind()      {}
func (Reverse) pairKind()        {}
func (ERC20ChainSwap) pairKind() {}
func (None) pairKind()           {}

// Classify returns the swap type for in -> out.
func Classify(in, out config.Currency) PairKind {
	switch {
	case in.IsEVM() && out.Kind == config.KindLightning:
		return Submarine{}
	case in.Kind == config.KindLightning && out.IsEVM():
		return Reverse{}
	case in.IsEVM() && out.Kind == config.KindBitcoin,
		in.Kind == config.KindBitcoin && out.IsEVM():
		return ChainSwap{}
	case in.IsEVM() && out.IsEVM() && in.ChainID != out.ChainID:
		return ERC20ChainSwap{}
	}
	return None{}
}
