package refund

import (
	"math/big"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
)

func TestEvaluate(t *testing.T) {
	locktime := time.Unix(1_800_000_000, 0)
	before := locktime.Add(-time.Hour)
	after := locktime.Add(time.Second)

	n := big.NewInt
	tests := []struct {
		name     string
		now      time.Time
		buckets  Buckets
		want     Classification
		eligible bool
		path     Path
		amount   int64
	}{
		{"nothing locked", after, Buckets{}, NotFunded, false, PathNone, 0},
		{"explicit zeros", after, Buckets{n(0), n(0), n(0)}, NotFunded, false, PathNone, 0},
		{"already refunded", after, Buckets{Spent: n(5000)}, AlreadySpent, false, PathNone, 0},
		{"spent before locktime", before, Buckets{Spent: n(5000)}, AlreadySpent, false, PathNone, 0},
		{"spendable before locktime", before, Buckets{Spendable: n(5000)}, Locked, false, PathDirect, 5000},
		{"spendable at locktime", locktime, Buckets{Spendable: n(5000)}, Eligible, true, PathDirect, 5000},
		{"spendable after locktime", after, Buckets{Spendable: n(5000), Spent: n(100)}, Eligible, true, PathDirect, 5000},
		{"recoverable only", after, Buckets{Recoverable: n(700)}, Eligible, true, PathRecover, 700},
		{"recoverable before locktime", before, Buckets{Recoverable: n(700)}, Locked, false, PathRecover, 700},
		{"both", after, Buckets{Spendable: n(300), Recoverable: n(700)}, Eligible, true, PathDirect, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.now, locktime, tt.buckets)
			if got.Classification != tt.want {
				t.Errorf("Classification = %s, want %s", got.Classification, tt.want)
			}
			if got.Eligible != tt.eligible {
				t.Errorf("Eligible = %v, want %v", got.Eligible, tt.eligible)
			}
			if got.Path != tt.path {
				t.Errorf("Path = %q, want %q", got.Path, tt.path)
			}
			if got.Amount.Int64() != tt.amount {
				t.Errorf("Amount = %s, want %d", got.Amount, tt.amount)
			}
		})
	}
}

func TestEvaluateLockedWait(t *testing.T) {
	locktime := time.Unix(1_800_000_000, 0)
	got := Evaluate(locktime.Add(-90*time.Minute), locktime, Buckets{Spendable: big.NewInt(1)})
	if got.Wait != 90*time.Minute {
		t.Errorf("Wait = %v", got.Wait)
	}
	if got.String() == "" {
		t.Error("empty description")
	}
}

func TestBucketize(t *testing.T) {
	b := Bucketize([]Output{
		{Amount: big.NewInt(100)},
		{Amount: big.NewInt(200), Spent: true},
		{Amount: big.NewInt(300), Recoverable: true},
		{Amount: big.NewInt(50)},
		{Amount: nil},
		{Amount: big.NewInt(25), Spent: true, Recoverable: true},
	})
	if b.Spendable.Int64() != 150 || b.Spent.Int64() != 225 || b.Recoverable.Int64() != 300 {
		t.Errorf("buckets = %s/%s/%s", b.Spendable, b.Spent, b.Recoverable)
	}
}

func TestEvaluatorUsesClock(t *testing.T) {
	locktime := time.Unix(1_800_000_000, 0)
	c := clock.NewTestClock(locktime.Add(-time.Minute))
	e := NewEvaluator(c)

	b := Buckets{Spendable: big.NewInt(10)}
	if got := e.Evaluate(locktime, b); got.Eligible {
		t.Fatal("eligible before locktime")
	}
	c.SetTime(locktime)
	if got := e.Evaluate(locktime, b); !got.Eligible {
		t.Fatal("not eligible at locktime")
	}
}
