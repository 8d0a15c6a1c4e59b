package evm

import (
	"errors"
	"fmt"
	"math/big"
)

// SwapDecimals is the precision of every amount the swap service quotes.
const SwapDecimals = 8

// ErrInexactAmount is returned when an amount has more precision than the
// token can hold.
var ErrInexactAmount = errors.New("amount not representable in token units")

// ToTokenUnits scales a swap service amount to the base unit of a token
// with the given decimals. Amounts that would lose precision fail with
// ErrInexactAmount.
func ToTokenUnits(amount uint64, decimals uint8) (*big.Int, error) {
	v := new(big.Int).SetUint64(amount)
	switch {
	case decimals > SwapDecimals:
		return v.Mul(v, pow10(decimals-SwapDecimals)), nil
	case decimals < SwapDecimals:
		step := pow10(SwapDecimals - decimals)
		q, r := new(big.Int).QuoRem(v, step, new(big.Int))
		if r.Sign() != 0 {
			return nil, fmt.Errorf("%w: %d has more than %d decimals", ErrInexactAmount, amount, decimals)
		}
		return q, nil
	}
	return v, nil
}

// CheckPrecision reports ErrInexactAmount when amount cannot be locked
// exactly in a token with the given decimals.
func CheckPrecision(amount uint64, decimals uint8) error {
	_, err := ToTokenUnits(amount, decimals)
	return err
}

// FromTokenUnits scales a token base unit amount to swap service precision,
// rounding down.
func FromTokenUnits(amount *big.Int, decimals uint8) *big.Int {
	v := new(big.Int).Set(amount)
	switch {
	case decimals > SwapDecimals:
		return v.Quo(v, pow10(decimals-SwapDecimals))
	case decimals < SwapDecimals:
		return v.Mul(v, pow10(SwapDecimals-decimals))
	}
	return v
}

// SatsToWei converts satoshis of a bitcoin-pegged native coin with 18
// decimals (cBTC) to wei: sats * 10^10.
func SatsToWei(sats uint64) *big.Int {
	v := new(big.Int).SetUint64(sats)
	return v.Mul(v, pow10(18-SwapDecimals))
}

// WeiToSats converts wei to satoshis, rounding down.
func WeiToSats(wei *big.Int) *big.Int {
	return FromTokenUnits(wei, 18)
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
