package quote

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/klingon-exchange/swapclient/internal/chain"
)

type fakeFetcher struct {
	quote *Quote
	err   error
	calls int
}

func (f *fakeFetcher) FetchQuote(_ context.Context, _, _ chain.Asset, _ *big.Int) (*Quote, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	q := *f.quote
	return &q, nil
}

func usdcPolygon(t *testing.T) chain.Asset {
	t.Helper()
	a, err := chain.ParseAsset("usdc@polygon")
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestFormDerivesUndefinedSide(t *testing.T) {
	fetcher := &fakeFetcher{quote: &Quote{ExchangeRate: 70000, Fees: exampleFees}}
	q := NewQuoter(fetcher, 0)
	f := NewForm(chain.BTC(chain.KindLightning), usdcPolygon(t))

	if _, err := f.Refresh(context.Background(), q); !errors.Is(err, ErrNoAmount) {
		t.Fatalf("Refresh on empty form err = %v", err)
	}

	f.SetSource(big.NewInt(100_000))
	src, tgt := f.Amounts()
	if src == nil || tgt != nil {
		t.Fatalf("after SetSource: source=%v target=%v", src, tgt)
	}

	if _, err := f.Refresh(context.Background(), q); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	_, tgt = f.Amounts()
	if tgt.Int64() != 69_475_000 {
		t.Errorf("target = %s, want 69475000", tgt)
	}
	if !f.Complete() {
		t.Error("form should be complete")
	}

	f.SetTarget(big.NewInt(69_475_000))
	if src, _ := f.Amounts(); src != nil {
		t.Error("source should be undefined after editing target")
	}
	if _, err := f.Refresh(context.Background(), q); err != nil {
		t.Fatal(err)
	}
	src, _ = f.Amounts()
	if src.Int64() != 100_000 {
		t.Errorf("source = %s, want 100000", src)
	}
	if f.Edited() != SideTarget {
		t.Errorf("edited = %s, want target", f.Edited())
	}
	if fetcher.calls != 2 {
		t.Errorf("fetch calls = %d, want one per refresh", fetcher.calls)
	}
}

func TestQuoterFeeGuard(t *testing.T) {
	fetcher := &fakeFetcher{quote: &Quote{ExchangeRate: 70000, Fees: Fees{ProtocolFeeRate: 0.05}}}
	q := NewQuoter(fetcher, 0.01)

	_, err := q.Target(context.Background(), chain.BTC(chain.KindBitcoin), usdcPolygon(t), big.NewInt(100_000))
	if !errors.Is(err, ErrFeeTooHigh) {
		t.Errorf("err = %v, want ErrFeeTooHigh", err)
	}
}

func TestQuoterFetchError(t *testing.T) {
	boom := errors.New("connection refused")
	q := NewQuoter(&fakeFetcher{err: boom}, 0)

	_, err := q.Source(context.Background(), usdcPolygon(t), chain.BTC(chain.KindArkade), big.NewInt(1000))
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped fetch error", err)
	}
}

func TestParamsFor(t *testing.T) {
	usdc := usdcPolygon(t)
	qt := &Quote{ExchangeRate: 1}

	p, err := ParamsFor(chain.BTC(chain.KindBitcoin), chain.BTC(chain.KindArkade), qt)
	if err != nil {
		t.Fatal(err)
	}
	if !p.IsSourceBTC || p.EVMDecimals != 8 {
		t.Errorf("btc->arkade params = %+v", p)
	}

	p, err = ParamsFor(usdc, chain.BTC(chain.KindLightning), qt)
	if err != nil {
		t.Fatal(err)
	}
	if p.IsSourceBTC || p.EVMDecimals != 6 {
		t.Errorf("usdc->ln params = %+v", p)
	}

	if _, err := ParamsFor(usdc, usdc, qt); !errors.Is(err, ErrUnsupported) {
		t.Errorf("evm->evm err = %v", err)
	}
}
