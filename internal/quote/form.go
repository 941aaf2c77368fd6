package quote

import (
	"context"
	"errors"
	"math/big"

	"github.com/klingon-exchange/swapclient/internal/chain"
)

// Side identifies one of the two linked amount fields.
type Side int

const (
	SideSource Side = iota
	SideTarget
)

func (s Side) String() string {
	if s == SideTarget {
		return "target"
	}
	return "source"
}

// ErrNoAmount is returned by Refresh when neither field has been set.
var ErrNoAmount = errors.New("no amount entered")

// Form holds the two linked amounts of a swap being set up. The side the
// user edited last is authoritative; the other side is undefined (nil) until
// Refresh derives it from a fresh quote.
type Form struct {
	Source chain.Asset
	Target chain.Asset

	sourceAmount *big.Int
	targetAmount *big.Int
	edited       Side
	set          bool
}

// NewForm creates an empty form for an asset pair.
func NewForm(source, target chain.Asset) *Form {
	return &Form{Source: source, Target: target}
}

// SetSource records a user edit of the source amount and invalidates the
// target amount.
func (f *Form) SetSource(amt *big.Int) {
	f.sourceAmount = new(big.Int).Set(amt)
	f.targetAmount = nil
	f.edited = SideSource
	f.set = true
}

// SetTarget records a user edit of the target amount and invalidates the
// source amount.
func (f *Form) SetTarget(amt *big.Int) {
	f.targetAmount = new(big.Int).Set(amt)
	f.sourceAmount = nil
	f.edited = SideTarget
	f.set = true
}

// Edited returns the authoritative side.
func (f *Form) Edited() Side {
	return f.edited
}

// Amounts returns both amounts. At most one of them is nil.
func (f *Form) Amounts() (source, target *big.Int) {
	return f.sourceAmount, f.targetAmount
}

// Complete reports whether both amounts are known.
func (f *Form) Complete() bool {
	return f.sourceAmount != nil && f.targetAmount != nil
}

// Refresh re-derives the non-authoritative side from a fresh quote. Quotes
// move, so Refresh may be called repeatedly; the edited side never changes.
func (f *Form) Refresh(ctx context.Context, q *Quoter) (*Quote, error) {
	if !f.set {
		return nil, ErrNoAmount
	}

	var (
		d   *Derivation
		err error
	)
	if f.edited == SideSource {
		d, err = q.Target(ctx, f.Source, f.Target, f.sourceAmount)
	} else {
		d, err = q.Source(ctx, f.Source, f.Target, f.targetAmount)
	}
	if err != nil {
		return nil, err
	}

	if f.edited == SideSource {
		f.targetAmount = d.TargetAmount
	} else {
		f.sourceAmount = d.SourceAmount
	}
	return d.Quote, nil
}
