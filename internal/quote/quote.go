// Package quote derives the counterpart amount of a swap from the side the
// user edited, applying the coordinator's fixed and proportional fees.
//
// Fees are deducted when deriving what the user receives and grossed up when
// deriving what the user must send. The two derivations are inverses of each
// other up to integer rounding.
package quote

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/klingon-exchange/swapclient/internal/amount"
)

var (
	ErrInvalidFeeRate = errors.New("protocol fee rate must be in [0, 1)")
	ErrNegativeAmount = errors.New("amount must not be negative")
	ErrFeeTooHigh     = errors.New("quoted protocol fee rate above configured maximum")
	ErrUnsupported    = errors.New("unsupported asset pair")
)

// Fees are the coordinator's fees for one quote. They are fetched fresh for
// every derivation and never stored with a swap.
type Fees struct {
	FixedFees       uint64  `json:"fixed_fees"`        // sats
	ProtocolFeeRate float64 `json:"protocol_fee_rate"` // fraction in [0, 1)
}

func (f Fees) validate() error {
	r := f.ProtocolFeeRate
	if math.IsNaN(r) || r < 0 || r >= 1 {
		return fmt.Errorf("%w: %v", ErrInvalidFeeRate, r)
	}
	return nil
}

// Params fixes everything a derivation depends on besides the amount.
type Params struct {
	ExchangeRate float64 // target units per 1 BTC
	EVMDecimals  uint8
	IsSourceBTC  bool
	Fees         Fees
}

// terms holds the exact rationals a derivation works with.
type terms struct {
	rate    *big.Rat
	keep    *big.Rat // 1 - protocolFeeRate
	fixed   *big.Rat
	amount  *big.Rat
	decimal uint8
}

func (p Params) terms(amt *big.Int) (*terms, error) {
	if amt == nil || amt.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	if err := p.Fees.validate(); err != nil {
		return nil, err
	}
	rate, err := amount.ParseRate(p.ExchangeRate)
	if err != nil {
		return nil, err
	}
	keep := new(big.Rat).Sub(big.NewRat(1, 1), amount.RatFromFloat(p.Fees.ProtocolFeeRate))
	return &terms{
		rate:    rate,
		keep:    keep,
		fixed:   new(big.Rat).SetUint64(p.Fees.FixedFees),
		amount:  amount.Int(amt),
		decimal: p.EVMDecimals,
	}, nil
}

// DeriveTargetAmount returns what the counterparty delivers, net of fees,
// when the user sends amt of the source asset. The result is rounded to the
// nearest smallest unit and never negative.
//
// A zero exchange rate or a zero amount yields zero.
func DeriveTargetAmount(amt *big.Int, p Params) (*big.Int, error) {
	t, err := p.terms(amt)
	if err != nil {
		return nil, err
	}
	if t.rate.Sign() == 0 || t.amount.Sign() == 0 {
		return new(big.Int), nil
	}

	if p.IsSourceBTC {
		// Fees come off the sats before conversion.
		effective := new(big.Rat).Mul(t.amount, t.keep)
		effective.Sub(effective, t.fixed)
		return amount.ClampRound(amount.SatsToSmallestUnit(effective, t.rate, t.decimal)), nil
	}

	rawBTC := amount.SmallestUnitToSats(t.amount, t.rate, t.decimal)
	net := rawBTC.Mul(rawBTC, t.keep)
	net.Sub(net, t.fixed)
	return amount.ClampRound(net), nil
}

// DeriveSourceAmount returns what the user must send so the counterparty
// delivers amt of the target asset after fees. The result is rounded to the
// nearest smallest unit and never negative.
//
// A zero exchange rate or a zero amount yields zero.
func DeriveSourceAmount(amt *big.Int, p Params) (*big.Int, error) {
	t, err := p.terms(amt)
	if err != nil {
		return nil, err
	}
	if t.rate.Sign() == 0 || t.amount.Sign() == 0 {
		return new(big.Int), nil
	}

	if p.IsSourceBTC {
		btcForExchange := amount.SmallestUnitToSats(t.amount, t.rate, t.decimal)
		source := btcForExchange.Add(btcForExchange, t.fixed)
		source.Quo(source, t.keep)
		return amount.ClampRound(source), nil
	}

	// Target is sats: gross them up, then price the gross in tokens.
	gross := new(big.Rat).Add(t.amount, t.fixed)
	gross.Quo(gross, t.keep)
	return amount.ClampRound(amount.SatsToSmallestUnit(gross, t.rate, t.decimal)), nil
}
