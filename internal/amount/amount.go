// Package amount converts between satoshis and EVM token smallest units at a
// quoted exchange rate.
//
// All arithmetic is exact over rationals. Nothing here rounds; callers decide
// how to turn a rational into an integer amount (see Round and ClampRound).
package amount

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strconv"

	emath "github.com/ethereum/go-ethereum/common/math"
)

// SatsPerBTC is the number of satoshis in one bitcoin.
const SatsPerBTC = 100_000_000

var (
	// ErrInvalidRate is returned when a rate is NaN, infinite or negative.
	ErrInvalidRate = errors.New("invalid exchange rate")

	satsPerBTC = new(big.Rat).SetInt64(SatsPerBTC)
	half       = big.NewRat(1, 2)
)

// Rate is "target units per 1 BTC" in human-readable form, e.g. 70000 for a
// USD stablecoin when bitcoin trades at 70k.
type Rate = big.Rat

// ParseRate converts a quoted float rate into an exact rational. The decimal
// text of the float is used so 0.1 stays 1/10 rather than its binary
// approximation.
func ParseRate(f float64) (*Rate, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRate, f)
	}
	return RatFromFloat(f), nil
}

// RatFromFloat converts a finite float to the rational its shortest decimal
// representation denotes.
func RatFromFloat(f float64) *big.Rat {
	r, ok := new(big.Rat).SetString(strconv.FormatFloat(f, 'g', -1, 64))
	if !ok {
		// FormatFloat output always parses for finite values.
		return new(big.Rat).SetFloat64(f)
	}
	return r
}

// Int returns v as a rational.
func Int(v *big.Int) *big.Rat {
	if v == nil {
		return new(big.Rat)
	}
	return new(big.Rat).SetInt(v)
}

// pow10 returns 10^decimals as a rational.
func pow10(decimals uint8) *big.Rat {
	return new(big.Rat).SetInt(emath.BigPow(10, int64(decimals)))
}

// SatsToSmallestUnit computes sats * rate * 10^decimals / 1e8.
func SatsToSmallestUnit(sats, rate *big.Rat, decimals uint8) *big.Rat {
	out := new(big.Rat).Mul(sats, rate)
	out.Mul(out, pow10(decimals))
	return out.Quo(out, satsPerBTC)
}

// SmallestUnitToSats computes amount * 1e8 / (rate * 10^decimals). The rate
// must be positive.
func SmallestUnitToSats(amount, rate *big.Rat, decimals uint8) *big.Rat {
	denom := new(big.Rat).Mul(rate, pow10(decimals))
	out := new(big.Rat).Mul(amount, satsPerBTC)
	return out.Quo(out, denom)
}

// Round rounds half up to the nearest integer.
func Round(r *big.Rat) *big.Int {
	return Floor(new(big.Rat).Add(r, half))
}

// ClampRound rounds like Round and clamps negative results to zero.
func ClampRound(r *big.Rat) *big.Int {
	out := Round(r)
	if out.Sign() < 0 {
		return new(big.Int)
	}
	return out
}

// Floor returns the greatest integer not above r.
func Floor(r *big.Rat) *big.Int {
	// Euclidean division with a positive denominator floors.
	return new(big.Int).Div(r.Num(), r.Denom())
}
