package chain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// FromSmallest converts a smallest-unit integer (wei, satoshi, lamport, sun)
// to a human decimal amount using the given decimals.
func FromSmallest(amount *big.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(amount, -decimals)
}

// ToSmallest converts a human decimal amount to the smallest-unit integer,
// truncating any precision beyond the chain's decimals.
func ToSmallest(amount decimal.Decimal, decimals int32) *big.Int {
	return amount.Shift(decimals).Truncate(0).BigInt()
}

// ParseAmount parses a decimal-string amount. Empty strings parse as zero.
func ParseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return d, nil
}
