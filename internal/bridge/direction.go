package bridge

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Kind names a flow type in records and over RPC.
type Kind string

const (
	KindSubmarine    Kind = "submarine"
	KindReverse      Kind = "reverse"
	KindChainForward Kind = "chain_forward"
	KindChainReverse Kind = "chain_reverse"
	KindERC20Chain   Kind = "erc20_chain"
)

// Direction selects a flow. The set of implementations is closed.
type Direction interface {
	Kind() Kind
	Pair() (from, to string)
	SwapAmount() uint64

	direction()
}

// Submarine pays a Lightning invoice from an EVM lockup. Destination is a
// BOLT11 invoice, a Lightning address or an LNURL; Amount is the invoice
// amount in sats.
type Submarine struct {
	From        string
	To          string
	Amount      uint64
	Destination string
	Account     common.Address
}

// Reverse receives on an EVM chain for a paid Lightning invoice.
type Reverse struct {
	From         string
	To           string
	Amount       uint64
	ClaimAddress common.Address
}

// ChainForward locks on an EVM chain and claims on Bitcoin. Destination is
// the Bitcoin address receiving the claim.
type ChainForward struct {
	From        string
	To          string
	Amount      uint64
	Destination string
	Account     common.Address
}

// ChainReverse locks on Bitcoin and receives on an EVM chain.
type ChainReverse struct {
	From         string
	To           string
	Amount       uint64
	ClaimAddress common.Address
}

// ERC20ChainSwap moves a token between EVM chains.
type ERC20ChainSwap struct {
	From         string
	To           string
	Amount       uint64
	Account      common.Address
	ClaimAddress common.Address
}

func (Submarine) Kind() Kind      { return KindSubmarine }
func (Reverse) Kind() Kind        { return KindReverse }
func (ChainForward) Kind() Kind   { return KindChainForward }
func (ChainReverse) Kind() Kind   { return KindChainReverse }
func (ERC20ChainSwap) Kind() Kind { return KindERC20Chain }

func (d Submarine) Pair() (string, string)      { return d.From, d.To }
func (d Reverse) Pair() (string, string)        { return d.From, d.To }
func (d ChainForward) Pair() (string, string)   { return d.From, d.To }
func (d ChainReverse) Pair() (string, string)   { return d.From, d.To }
func (d ERC20ChainSwap) Pair() (string, string) { return d.From, d.To }

func (d Submarine) SwapAmount() uint64      { return d.Amount }
func (d Reverse) SwapAmount() uint64        { return d.Amount }
func (d ChainForward) SwapAmount() uint64   { return d.Amount }
func (d ChainReverse) SwapAmount() uint64   { return d.Amount }
func (d ERC20ChainSwap) SwapAmount() uint64 { return d.Amount }

func (Submarine) direction()      {}
func (Reverse) direction()        {}
func (ChainForward) direction()   {}
func (ChainReverse) direction()   {}
func (ERC20ChainSwap) direction() {}

// Params is the flat form of a Direction used by the RPC layer.
type Params struct {
	Kind        Kind   `json:"kind"`
	From        string `json:"from"`
	To          string `json:"to"`
	Amount      uint64 `json:"amount"`
	Destination string `json:"destination,omitempty"`
	Account     string `json:"account,omitempty"`
	// ClaimAddress defaults to Account.
	ClaimAddress string `json:"claimAddress,omitempty"`
}

// NewDirection validates p and builds the matching Direction.
func NewDirection(p Params) (Direction, error) {
	if p.From == "" || p.To == "" {
		return nil, fmt.Errorf("from and to are required")
	}
	if p.Amount == 0 {
		return nil, fmt.Errorf("amount must be positive")
	}

	account, err := optionalAddress("account", p.Account)
	if err != nil {
		return nil, err
	}
	claimAddr := account
	if p.ClaimAddress != "" {
		if claimAddr, err = optionalAddress("claimAddress", p.ClaimAddress); err != nil {
			return nil, err
		}
	}

	switch p.Kind {
	case KindSubmarine:
		if p.Destination == "" {
			return nil, fmt.Errorf("destination is required")
		}
		return Submarine{From: p.From, To: p.To, Amount: p.Amount, Destination: p.Destination, Account: account}, nil
	case KindReverse:
		if claimAddr == (common.Address{}) {
			return nil, fmt.Errorf("claimAddress is required")
		}
		return Reverse{From: p.From, To: p.To, Amount: p.Amount, ClaimAddress: claimAddr}, nil
	case KindChainForward:
		if p.Destination == "" {
			return nil, fmt.Errorf("destination is required")
		}
		return ChainForward{From: p.From, To: p.To, Amount: p.Amount, Destination: p.Destination, Account: account}, nil
	case KindChainReverse:
		if claimAddr == (common.Address{}) {
			return nil, fmt.Errorf("claimAddress is required")
		}
		return ChainReverse{From: p.From, To: p.To, Amount: p.Amount, ClaimAddress: claimAddr}, nil
	case KindERC20Chain:
		return ERC20ChainSwap{From: p.From, To: p.To, Amount: p.Amount, Account: account, ClaimAddress: claimAddr}, nil
	}
	return nil, fmt.Errorf("unknown swap kind %q", p.Kind)
}

func optionalAddress(field, s string) (common.Address, error) {
	if s == "" {
		return common.Address{}, nil
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid %s %q", field, s)
	}
	return common.HexToAddress(s), nil
}
