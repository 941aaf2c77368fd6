// Package refund decides whether a swap's locked funds can be refunded.
package refund

import (
	"fmt"
	"math/big"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

// Classification describes the refund situation of a contract.
type Classification string

const (
	// NotFunded means nothing was ever locked.
	NotFunded Classification = "not_funded"
	// AlreadySpent means the funds were already refunded or claimed.
	AlreadySpent Classification = "already_spent"
	// Locked means funds are present but the refund locktime has not passed.
	Locked Classification = "locked"
	// Eligible means a refund can be broadcast now.
	Eligible Classification = "eligible"
)

// Path is the spend path a refund takes.
type Path string

const (
	PathNone    Path = ""
	PathDirect  Path = "direct"
	PathRecover Path = "recover"
)

// Buckets partitions the value of a contract. Nil fields count as zero.
type Buckets struct {
	Spendable   *big.Int
	Spent       *big.Int
	Recoverable *big.Int
}

// Output is one locked output of a contract.
type Output struct {
	Amount *big.Int
	Spent  bool
	// Recoverable outputs can only be swept through the expired-batch path.
	Recoverable bool
}

// Bucketize sums outputs into buckets.
func Bucketize(outputs []Output) Buckets {
	b := Buckets{Spendable: new(big.Int), Spent: new(big.Int), Recoverable: new(big.Int)}
	for _, o := range outputs {
		if o.Amount == nil {
			continue
		}
		switch {
		case o.Spent:
			b.Spent.Add(b.Spent, o.Amount)
		case o.Recoverable:
			b.Recoverable.Add(b.Recoverable, o.Amount)
		default:
			b.Spendable.Add(b.Spendable, o.Amount)
		}
	}
	return b
}

// Result is the outcome of an evaluation.
type Result struct {
	Eligible       bool
	Classification Classification
	Path           Path
	// Amount is the refundable value, spendable plus recoverable.
	Amount   *big.Int
	RefundAt time.Time
	// Wait is the time left until the locktime when Locked.
	Wait time.Duration
}

func (r Result) String() string {
	switch r.Classification {
	case Eligible:
		return fmt.Sprintf("eligible: %s via %s path", r.Amount, r.Path)
	case Locked:
		return fmt.Sprintf("locked until %s (%s)", r.RefundAt.UTC().Format(time.RFC3339), r.Wait.Round(time.Second))
	case AlreadySpent:
		return "already refunded or claimed"
	default:
		return "not yet funded"
	}
}

func positive(x *big.Int) bool {
	return x != nil && x.Sign() > 0
}

func orZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x
}

// Evaluate classifies a contract at time now. A refund is eligible iff the
// locktime has passed and spendable or recoverable value remains.
func Evaluate(now, refundAt time.Time, b Buckets) Result {
	res := Result{
		RefundAt: refundAt,
		Amount:   new(big.Int).Add(orZero(b.Spendable), orZero(b.Recoverable)),
	}

	if !positive(b.Spendable) && !positive(b.Recoverable) {
		if positive(b.Spent) {
			res.Classification = AlreadySpent
		} else {
			res.Classification = NotFunded
		}
		return res
	}

	res.Path = PathRecover
	if positive(b.Spendable) {
		res.Path = PathDirect
	}

	if now.Before(refundAt) {
		res.Classification = Locked
		res.Wait = refundAt.Sub(now)
		return res
	}
	res.Classification = Eligible
	res.Eligible = true
	return res
}

// Evaluator evaluates against a clock.
type Evaluator struct {
	clock clock.Clock
}

// NewEvaluator creates an evaluator. A nil clock uses wall time.
func NewEvaluator(clk clock.Clock) *Evaluator {
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	return &Evaluator{clock: clk}
}

// Evaluate classifies a contract now.
func (e *Evaluator) Evaluate(refundAt time.Time, b Buckets) Result {
	return Evaluate(e.clock.Now(), refundAt, b)
}
