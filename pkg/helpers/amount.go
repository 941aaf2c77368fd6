// Package helpers provides common utility functions used across the codebase.
package helpers

import (
	"fmt"
	"math/big"
	"strings"
)

// FormatUnits formats an amount in smallest units as a decimal string.
// For example, FormatUnits(big.NewInt(1500000), 6) returns "1.5".
func FormatUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	if decimals == 0 {
		return amount.String()
	}

	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)

	whole, frac := new(big.Int).QuoRem(abs, divisor, new(big.Int))

	sign := ""
	if neg {
		sign = "-"
	}
	if frac.Sign() == 0 {
		return sign + whole.String()
	}

	fracStr := strings.TrimRight(fmt.Sprintf("%0*d", int(decimals), frac), "0")
	return fmt.Sprintf("%s%s.%s", sign, whole.String(), fracStr)
}

// ParseUnits parses a non-negative decimal string to smallest units.
// Digits beyond the asset's precision are rejected rather than truncated.
// For example, ParseUnits("1", 8) returns 100000000 (1 BTC in satoshis).
func ParseUnits(s string, decimals uint8) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount string")
	}

	wholeStr, fracStr, _ := strings.Cut(s, ".")
	if wholeStr == "" {
		wholeStr = "0"
	}

	for _, c := range wholeStr + fracStr {
		if c < '0' || c > '9' {
			return nil, fmt.Errorf("invalid character in amount: %c", c)
		}
	}

	if len(fracStr) > int(decimals) {
		if strings.Trim(fracStr[decimals:], "0") != "" {
			return nil, fmt.Errorf("amount %s has more than %d decimals", s, decimals)
		}
		fracStr = fracStr[:decimals]
	}
	fracStr += strings.Repeat("0", int(decimals)-len(fracStr))

	amount, ok := new(big.Int).SetString(wholeStr+fracStr, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", s)
	}
	return amount, nil
}

// SatoshisToBTC converts satoshis to a BTC string (8 decimals).
func SatoshisToBTC(satoshis *big.Int) string {
	return FormatUnits(satoshis, 8)
}

// BTCToSatoshis converts a BTC string to satoshis.
func BTCToSatoshis(btc string) (*big.Int, error) {
	return ParseUnits(btc, 8)
}
