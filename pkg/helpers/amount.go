// Package helpers provides small conversions shared by the daemon and the
// CLI.
package helpers

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SwapDecimals is the precision of swap amounts: satoshis.
const SwapDecimals = 8

// FormatAmount formats an amount in smallest units as a decimal string.
// For example, FormatAmount(100000000, 8) returns "1" (1 BTC).
func FormatAmount(amount uint64, decimals uint8) string {
	return decimal.NewFromUint64(amount).Shift(-int32(decimals)).String()
}

// ParseAmount parses a decimal string into smallest units. More fractional
// digits than decimals is an error, not a rounding.
func ParseAmount(s string, decimals uint8) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty amount string")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount: %s", s)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("negative amount: %s", s)
	}

	units := d.Shift(int32(decimals))
	if !units.IsInteger() {
		return 0, fmt.Errorf("amount %s has more than %d decimals", s, decimals)
	}
	n := units.BigInt()
	if !n.IsUint64() {
		return 0, fmt.Errorf("amount overflow: %s", s)
	}
	return n.Uint64(), nil
}

// SatoshisToBTC converts satoshis to a BTC string.
func SatoshisToBTC(satoshis uint64) string {
	return FormatAmount(satoshis, SwapDecimals)
}

// BTCToSatoshis converts a BTC string to satoshis.
func BTCToSatoshis(btc string) (uint64, error) {
	return ParseAmount(btc, SwapDecimals)
}
