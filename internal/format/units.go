package format

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// FormatUnits converts an amount in smallest units into its human-readable
// decimal form without trailing zeros.
func FormatUnits(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, -int32(decimals)).String()
}

// ParseUnits converts a human-readable amount into smallest units, flooring
// any precision beyond decimals.
func ParseUnits(amount string, decimals uint8) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("amount is empty")
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	return d.Shift(int32(decimals)).Floor().BigInt(), nil
}

// PercentOf returns amount × percent / 100 in the same human-readable units.
func PercentOf(amount string, percent int64) (string, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return "", fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	return d.Mul(decimal.NewFromInt(percent)).Div(decimal.NewFromInt(100)).String(), nil
}

// FormatTokenCount floors a smallest-unit amount to whole tokens and groups
// thousands, e.g. for "you receive" quote lines.
func FormatTokenCount(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	whole := decimal.NewFromBigInt(value, -int32(decimals)).Floor()
	return groupThousands(whole.String())
}
