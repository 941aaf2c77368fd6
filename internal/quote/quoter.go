package quote

import (
	"context"
	"fmt"
	"math/big"

	"github.com/klingon-exchange/swapclient/internal/chain"
	"github.com/klingon-exchange/swapclient/pkg/logging"
)

// Quote is the coordinator's answer to a quote request.
type Quote struct {
	ExchangeRate float64  `json:"exchange_rate"`
	SourceAmount *big.Int `json:"source_amount"`
	TargetAmount *big.Int `json:"target_amount"`
	Fees
}

// Fetcher retrieves a live quote. The coordinator client implements it.
type Fetcher interface {
	FetchQuote(ctx context.Context, source, target chain.Asset, amount *big.Int) (*Quote, error)
}

// ParamsFor builds derivation parameters for an asset pair from a quote.
// Bitcoin to bitcoin pairs (e.g. on-chain to Arkade) use the bitcoin
// precision on both sides.
func ParamsFor(source, target chain.Asset, q *Quote) (Params, error) {
	p := Params{
		ExchangeRate: q.ExchangeRate,
		IsSourceBTC:  source.IsBTC(),
		Fees:         q.Fees,
	}
	switch {
	case source.IsBTC() && target.IsEVM():
		p.EVMDecimals = target.Decimals
	case source.IsEVM() && target.IsBTC():
		p.EVMDecimals = source.Decimals
	case source.IsBTC() && target.IsBTC():
		p.EVMDecimals = chain.BTCDecimals
	default:
		return Params{}, fmt.Errorf("%w: %s -> %s", ErrUnsupported, source.ID(), target.ID())
	}
	return p, nil
}

// Quoter derives amounts against a freshly fetched quote on every call. It
// keeps no state between calls.
type Quoter struct {
	fetcher    Fetcher
	maxFeeRate float64
	log        *logging.Logger
}

// NewQuoter creates a quoter. A maxFeeRate of zero disables the fee guard.
func NewQuoter(fetcher Fetcher, maxFeeRate float64) *Quoter {
	return &Quoter{
		fetcher:    fetcher,
		maxFeeRate: maxFeeRate,
		log:        logging.GetDefault().Component("quote"),
	}
}

// Derivation is the outcome of one quote-backed derivation.
type Derivation struct {
	SourceAmount *big.Int
	TargetAmount *big.Int
	Quote        *Quote
}

func (q *Quoter) fetch(ctx context.Context, source, target chain.Asset, amt *big.Int) (*Quote, Params, error) {
	qt, err := q.fetcher.FetchQuote(ctx, source, target, amt)
	if err != nil {
		return nil, Params{}, fmt.Errorf("fetch quote: %w", err)
	}
	if q.maxFeeRate > 0 && qt.ProtocolFeeRate > q.maxFeeRate {
		return nil, Params{}, fmt.Errorf("%w: %v > %v", ErrFeeTooHigh, qt.ProtocolFeeRate, q.maxFeeRate)
	}
	p, err := ParamsFor(source, target, qt)
	if err != nil {
		return nil, Params{}, err
	}
	return qt, p, nil
}

// Target derives the target amount for a user-entered source amount.
func (q *Quoter) Target(ctx context.Context, source, target chain.Asset, sourceAmount *big.Int) (*Derivation, error) {
	qt, p, err := q.fetch(ctx, source, target, sourceAmount)
	if err != nil {
		return nil, err
	}
	out, err := DeriveTargetAmount(sourceAmount, p)
	if err != nil {
		return nil, err
	}
	q.log.Debug("Derived target amount", "pair", source.ID()+"->"+target.ID(),
		"source", sourceAmount, "target", out, "rate", qt.ExchangeRate)
	return &Derivation{SourceAmount: new(big.Int).Set(sourceAmount), TargetAmount: out, Quote: qt}, nil
}

// Source derives the source amount required to receive targetAmount.
func (q *Quoter) Source(ctx context.Context, source, target chain.Asset, targetAmount *big.Int) (*Derivation, error) {
	qt, p, err := q.fetch(ctx, source, target, targetAmount)
	if err != nil {
		return nil, err
	}
	in, err := DeriveSourceAmount(targetAmount, p)
	if err != nil {
		return nil, err
	}
	q.log.Debug("Derived source amount", "pair", source.ID()+"->"+target.ID(),
		"target", targetAmount, "source", in, "rate", qt.ExchangeRate)
	return &Derivation{SourceAmount: in, TargetAmount: new(big.Int).Set(targetAmount), Quote: qt}, nil
}
