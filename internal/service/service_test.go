package service

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"

	"github.com/klingon-exchange/swapclient/internal/backend"
	"github.com/klingon-exchange/swapclient/internal/chain"
	"github.com/klingon-exchange/swapclient/internal/claim"
	"github.com/klingon-exchange/swapclient/internal/coordinator"
	"github.com/klingon-exchange/swapclient/internal/quote"
	"github.com/klingon-exchange/swapclient/internal/refund"
	"github.com/klingon-exchange/swapclient/internal/secret"
	"github.com/klingon-exchange/swapclient/internal/storage"
	"github.com/klingon-exchange/swapclient/internal/swap"
	"github.com/klingon-exchange/swapclient/internal/watcher"
)

const testClaimAddress = "0x1111111111111111111111111111111111111111"

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type claimCall struct {
	id, secret, destination string
}

type fakeCoordinator struct {
	mu        sync.Mutex
	submitted []*coordinator.SwapRequest
	status    map[string]swap.Status
	hashLock  string      // overrides the echoed hash lock when set
	initial   swap.Status // status reported for new swaps, pending if unset
	claimErr  error
	locked    *coordinator.LockedFunds
	refunds   []string
	sourceLeg json.RawMessage

	claims chan claimCall
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{
		status: make(map[string]swap.Status),
		claims: make(chan claimCall, 16),
	}
}

func (f *fakeCoordinator) setStatus(id string, s swap.Status) {
	f.mu.Lock()
	f.status[id] = s
	f.mu.Unlock()
}

func (f *fakeCoordinator) SubmitSwapRequest(_ context.Context, req *coordinator.SwapRequest) (*coordinator.SwapResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, req)
	hashLock := req.HashLock
	if f.hashLock != "" {
		hashLock = f.hashLock
	}
	id := "swap-" + string(rune('a'+len(f.submitted)-1))
	f.status[id] = swap.StatusPending
	if f.initial != "" {
		f.status[id] = f.initial
	}
	return &coordinator.SwapResponse{
		ID:           id,
		Direction:    req.Direction,
		Status:       swap.StatusPending,
		SourceAmount: req.SourceAmount,
		TargetAmount: big.NewInt(995000),
		HashLock:     hashLock,
		Locktimes:    swap.Locktimes{RefundLocktime: testStart.Add(24 * time.Hour).Unix()},
		SourceLeg:    f.sourceLeg,
	}, nil
}

func (f *fakeCoordinator) FetchSwapStatus(_ context.Context, id string) (*coordinator.SwapResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.status[id]
	if !ok {
		return nil, errors.New("unknown swap")
	}
	return &coordinator.SwapResponse{ID: id, Direction: swap.DirectionBitcoinToEVM, Status: st}, nil
}

func (f *fakeCoordinator) FetchQuote(context.Context, chain.Asset, chain.Asset, *big.Int) (*quote.Quote, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeCoordinator) BroadcastClaim(_ context.Context, id, secret, destination string) (string, error) {
	f.mu.Lock()
	err := f.claimErr
	f.mu.Unlock()
	f.claims <- claimCall{id: id, secret: secret, destination: destination}
	if err != nil {
		return "", err
	}
	return "0xclaim", nil
}

func (f *fakeCoordinator) BroadcastRefund(_ context.Context, id, refundAddress string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, id+":"+refundAddress)
	return "refundtx", nil
}

func (f *fakeCoordinator) FetchLockedFunds(context.Context, string) (*coordinator.LockedFunds, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locked == nil {
		return &coordinator.LockedFunds{}, nil
	}
	return f.locked, nil
}

type harness struct {
	svc    *Service
	coord  *fakeCoordinator
	store  *storage.Storage
	clock  *clock.TestClock
	events chan Event
	forces chan *ticker.Force
	chain  backend.Backend

	// maxRetries overrides the claim bound of services created later.
	maxRetries int
}

func newHarness(t *testing.T, opts ...secret.Option) *harness {
	t.Helper()
	store, err := storage.New(&storage.Config{DataDir: t.TempDir(), WalletID: "test"})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	h := &harness{
		coord:  newFakeCoordinator(),
		store:  store,
		clock:  clock.NewTestClock(testStart),
		events: make(chan Event, 64),
		forces: make(chan *ticker.Force, 16),
	}
	h.svc = h.newService(t, opts...)
	return h
}

func (h *harness) newService(t *testing.T, opts ...secret.Option) *Service {
	t.Helper()
	opts = append([]secret.Option{secret.WithNetwork(chain.Regtest)}, opts...)
	claimCfg := claim.DefaultConfig()
	claimCfg.MaxRetries = 1
	if h.maxRetries > 0 {
		claimCfg.MaxRetries = h.maxRetries
	}
	svc := New(&Config{
		Network:     chain.Regtest,
		Coordinator: h.coord,
		Storage:     h.store,
		Keys:        secret.NewKeyManager(h.store, opts...),
		Clock:       h.clock,
		Chain:       h.chain,
		Claim:       claimCfg,
		Watcher: watcher.Config{
			PollInterval: time.Hour,
			NewTicker: func(d time.Duration) ticker.Ticker {
				f := ticker.NewForce(d)
				h.forces <- f
				return f
			},
		},
	})
	svc.OnEvent(func(e Event) { h.events <- e })
	t.Cleanup(func() { svc.Close() })
	return svc
}

func (h *harness) waitEvent(t *testing.T, typ string, status swap.Status) Event {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e := <-h.events:
			if e.Type == typ && (status == "" || e.Status == status) {
				return e
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s %s", typ, status)
		}
	}
}

func (h *harness) waitClaim(t *testing.T) claimCall {
	t.Helper()
	select {
	case c := <-h.coord.claims:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for claim broadcast")
	}
	return claimCall{}
}

func (h *harness) force(t *testing.T) *ticker.Force {
	t.Helper()
	select {
	case f := <-h.forces:
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for watcher ticker")
	}
	return nil
}

func btcToUSDC(t *testing.T) *CreateRequest {
	t.Helper()
	usdc, err := chain.ParseAsset("usdc@polygon")
	if err != nil {
		t.Fatalf("ParseAsset: %v", err)
	}
	return &CreateRequest{
		Source:       chain.BTC(chain.KindBitcoin),
		Target:       usdc,
		SourceAmount: big.NewInt(100000),
		ClaimAddress: testClaimAddress,
	}
}

func regtestAddress(t *testing.T) string {
	t.Helper()
	addr, err := btcutil.NewAddressWitnessPubKeyHash(make([]byte, 20), chain.Regtest.Params())
	if err != nil {
		t.Fatalf("NewAddressWitnessPubKeyHash: %v", err)
	}
	return addr.EncodeAddress()
}

// fund walks a swap created while the coordinator reports clientfunded on to
// serverfunded. The first poll runs when watching starts.
func (h *harness) fund(t *testing.T, id string) {
	t.Helper()
	f := h.force(t)
	h.waitEvent(t, EventStatusChanged, swap.StatusClientFunded)
	h.coord.setStatus(id, swap.StatusServerFunded)
	f.Force <- time.Now()
	h.waitEvent(t, EventStatusChanged, swap.StatusServerFunded)
}

func TestCreateSwapPersistsRecordAndSecret(t *testing.T) {
	h := newHarness(t)

	rec, err := h.svc.CreateSwap(context.Background(), btcToUSDC(t))
	if err != nil {
		t.Fatalf("CreateSwap: %v", err)
	}
	if rec.ID != "swap-a" || rec.Status != swap.StatusPending {
		t.Errorf("record = %s %s", rec.ID, rec.Status)
	}
	if rec.TargetAmount.Int64() != 995000 {
		t.Errorf("target amount = %s", rec.TargetAmount)
	}

	sent := h.coord.submitted[0]
	if sent.Direction != swap.DirectionBitcoinToEVM {
		t.Errorf("direction = %s", sent.Direction)
	}
	if sent.RefundPublicKey == "" || sent.TargetAddress != testClaimAddress {
		t.Errorf("request = %+v", sent)
	}

	stored, err := h.svc.GetSwap(rec.ID)
	if err != nil {
		t.Fatalf("GetSwap: %v", err)
	}
	if !secret.VerifySecret(stored.Secret, sent.HashLock) {
		t.Error("stored secret does not match submitted hash lock")
	}
	if stored.HashLock != sent.HashLock {
		t.Errorf("hash lock = %s, want %s", stored.HashLock, sent.HashLock)
	}

	row, err := h.store.GetSwap(rec.ID)
	if err != nil {
		t.Fatalf("store.GetSwap: %v", err)
	}
	if strings.Contains(string(row.Record), strings.TrimPrefix(stored.Secret, "0x")) {
		t.Error("record JSON contains the secret")
	}

	h.waitEvent(t, EventSwapCreated, swap.StatusPending)
	if !h.svc.Watching(rec.ID) {
		t.Error("new swap is not watched")
	}
}

func TestCreateSwapValidation(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name   string
		modify func(*CreateRequest)
		want   error
	}{
		{"bad claim address", func(r *CreateRequest) { r.ClaimAddress = "not-an-address" }, ErrInvalidAddress},
		{"no amounts", func(r *CreateRequest) { r.SourceAmount = nil }, ErrMissingAmount},
		{"negative amount", func(r *CreateRequest) { r.SourceAmount = big.NewInt(-1) }, ErrMissingAmount},
		{"mainnet refund address", func(r *CreateRequest) {
			r.RefundAddress = "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"
		}, ErrInvalidAddress},
		{"lightning without invoice", func(r *CreateRequest) {
			r.Source, r.Target = r.Target, chain.BTC(chain.KindLightning)
		}, ErrMissingInvoice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := btcToUSDC(t)
			tt.modify(req)
			if _, err := h.svc.CreateSwap(context.Background(), req); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if len(h.coord.submitted) != 0 {
		t.Errorf("%d requests reached the coordinator", len(h.coord.submitted))
	}
}

func TestCreateSwapRejectsChangedHashLock(t *testing.T) {
	h := newHarness(t)
	h.coord.hashLock = "0x" + strings.Repeat("ab", 32)

	_, err := h.svc.CreateSwap(context.Background(), btcToUSDC(t))
	if !errors.Is(err, ErrHashLockChanged) {
		t.Fatalf("err = %v, want ErrHashLockChanged", err)
	}
	if _, err := h.store.GetSwap("swap-a"); !errors.Is(err, storage.ErrSwapNotFound) {
		t.Errorf("swap stored after hash lock mismatch: %v", err)
	}
}

func TestServerFundedTriggersClaim(t *testing.T) {
	h := newHarness(t)
	h.coord.initial = swap.StatusClientFunded

	rec, err := h.svc.CreateSwap(context.Background(), btcToUSDC(t))
	if err != nil {
		t.Fatalf("CreateSwap: %v", err)
	}
	sent := h.coord.submitted[0]

	h.fund(t, rec.ID)

	c := h.waitClaim(t)
	if c.id != rec.ID || c.destination != testClaimAddress {
		t.Errorf("claim = %+v", c)
	}
	if !secret.VerifySecret(c.secret, sent.HashLock) {
		t.Error("claim secret does not match hash lock")
	}
	h.waitEvent(t, EventClaimed, "")

	sec, err := h.store.GetSecret(rec.ID)
	if err != nil {
		t.Fatalf("GetSecret: %v", err)
	}
	if sec.RevealedAt == nil {
		t.Error("secret not marked revealed")
	}
	if _, err := h.store.Get(claim.MarkerKey(rec.ID)); err != nil {
		t.Errorf("claim marker missing: %v", err)
	}

	stored, err := h.svc.GetSwap(rec.ID)
	if err != nil {
		t.Fatalf("GetSwap: %v", err)
	}
	if stored.Status != swap.StatusServerFunded {
		t.Errorf("stored status = %s", stored.Status)
	}
}

func TestSkippedStatusIsAnomaly(t *testing.T) {
	h := newHarness(t)
	h.coord.initial = swap.StatusServerRedeemed

	rec, err := h.svc.CreateSwap(context.Background(), btcToUSDC(t))
	if err != nil {
		t.Fatalf("CreateSwap: %v", err)
	}

	e := h.waitEvent(t, EventAnomaly, "")
	if e.Data["observed"] != string(swap.StatusServerRedeemed) {
		t.Errorf("anomaly data = %v", e.Data)
	}
	stored, err := h.svc.GetSwap(rec.ID)
	if err != nil {
		t.Fatalf("GetSwap: %v", err)
	}
	if stored.Status != swap.StatusPending {
		t.Errorf("status = %s, want pending", stored.Status)
	}
}

func TestRetryClaimAfterExhaustion(t *testing.T) {
	h := newHarness(t)
	h.coord.initial = swap.StatusClientFunded
	h.coord.claimErr = errors.New("rpc down")

	rec, err := h.svc.CreateSwap(context.Background(), btcToUSDC(t))
	if err != nil {
		t.Fatalf("CreateSwap: %v", err)
	}
	h.fund(t, rec.ID)

	h.waitClaim(t)
	h.waitEvent(t, EventClaimExhausted, "")
	if state, _ := h.svc.ClaimState(rec.ID); state != claim.StateExhausted {
		t.Fatalf("state = %s, want exhausted", state)
	}

	h.coord.mu.Lock()
	h.coord.claimErr = nil
	h.coord.mu.Unlock()

	if err := h.svc.RetryClaim(rec.ID); err != nil {
		t.Fatalf("RetryClaim: %v", err)
	}
	h.waitClaim(t)
	h.waitEvent(t, EventClaimed, "")
}

func TestWatchAgainResumesClaim(t *testing.T) {
	h := newHarness(t)
	h.maxRetries = 5
	h.svc = h.newService(t)
	h.coord.initial = swap.StatusClientFunded
	h.coord.claimErr = errors.New("rpc down")

	rec, err := h.svc.CreateSwap(context.Background(), btcToUSDC(t))
	if err != nil {
		t.Fatalf("CreateSwap: %v", err)
	}
	h.fund(t, rec.ID)
	h.waitClaim(t)

	// The engine now sits in its backoff on the unadvanced test clock.
	deadline := time.Now().Add(5 * time.Second)
	for {
		if state, _ := h.svc.ClaimState(rec.ID); state == claim.StateRetrying {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("claim never entered backoff")
		}
		time.Sleep(10 * time.Millisecond)
	}

	h.svc.Unwatch(rec.ID)
	if h.svc.Watching(rec.ID) {
		t.Fatal("still watching after Unwatch")
	}
	if _, err := h.store.Get(claim.MarkerKey(rec.ID)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("marker after failed claim: %v", err)
	}

	h.coord.mu.Lock()
	h.coord.claimErr = nil
	h.coord.mu.Unlock()

	if err := h.svc.Watch(rec.ID); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if c := h.waitClaim(t); c.id != rec.ID {
		t.Errorf("claimed %s", c.id)
	}
	h.waitEvent(t, EventClaimed, "")

	// Watching an already watched swap does not claim again.
	if err := h.svc.Watch(rec.ID); err != nil {
		t.Fatalf("second Watch: %v", err)
	}
	select {
	case c := <-h.coord.claims:
		t.Errorf("unexpected claim of %s", c.id)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStartResumesClaim(t *testing.T) {
	h := newHarness(t)

	rec, err := h.svc.CreateSwap(context.Background(), btcToUSDC(t))
	if err != nil {
		t.Fatalf("CreateSwap: %v", err)
	}
	h.force(t)
	h.svc.Close()

	stored, err := h.svc.GetSwap(rec.ID)
	if err != nil {
		t.Fatalf("GetSwap: %v", err)
	}
	stored.Status = swap.StatusServerFunded
	if err := h.svc.saveRecord(stored); err != nil {
		t.Fatalf("saveRecord: %v", err)
	}
	h.coord.setStatus(rec.ID, swap.StatusServerFunded)

	restarted := h.newService(t)
	if err := restarted.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !restarted.Watching(rec.ID) {
		t.Error("swap not watched after restart")
	}
	if c := h.waitClaim(t); c.id != rec.ID {
		t.Errorf("claimed %s", c.id)
	}
}

func TestRefund(t *testing.T) {
	h := newHarness(t)
	refundAddr := regtestAddress(t)

	req := btcToUSDC(t)
	req.RefundAddress = refundAddr
	rec, err := h.svc.CreateSwap(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateSwap: %v", err)
	}

	h.coord.locked = &coordinator.LockedFunds{
		RefundLocktime: testStart.Add(time.Hour).Unix(),
		Outputs: []coordinator.LockedOutput{
			{Amount: big.NewInt(60000)},
			{Amount: big.NewInt(40000), Recoverable: true},
		},
	}

	res, err := h.svc.CheckRefund(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("CheckRefund: %v", err)
	}
	if res.Classification != refund.Locked {
		t.Errorf("classification = %s, want locked", res.Classification)
	}
	if _, err := h.svc.Refund(context.Background(), rec.ID, ""); !errors.Is(err, ErrNotRefundable) {
		t.Errorf("early refund err = %v", err)
	}

	h.clock.SetTime(testStart.Add(2 * time.Hour))

	res, err = h.svc.CheckRefund(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("CheckRefund: %v", err)
	}
	if !res.Eligible || res.Amount.Int64() != 100000 || res.Path != refund.PathDirect {
		t.Errorf("result = %+v", res)
	}

	txID, err := h.svc.Refund(context.Background(), rec.ID, "")
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if txID != "refundtx" {
		t.Errorf("txid = %s", txID)
	}
	if got := h.coord.refunds; len(got) != 1 || got[0] != rec.ID+":"+refundAddr {
		t.Errorf("refunds = %v", got)
	}
	h.waitEvent(t, EventRefundBroadcast, "")
}

func TestRefundRejections(t *testing.T) {
	h := newHarness(t)

	rec, err := h.svc.CreateSwap(context.Background(), btcToUSDC(t))
	if err != nil {
		t.Fatalf("CreateSwap: %v", err)
	}
	if _, err := h.svc.Refund(context.Background(), rec.ID, ""); !errors.Is(err, ErrMissingRefundAddress) {
		t.Errorf("no address err = %v", err)
	}
	if _, err := h.svc.Refund(context.Background(), rec.ID, testClaimAddress); !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("evm refund address err = %v", err)
	}
	if _, err := h.svc.CheckRefund(context.Background(), "missing"); err == nil {
		t.Error("CheckRefund of unknown swap succeeded")
	}

	req := btcToUSDC(t)
	req.Source = chain.BTC(chain.KindLightning)
	ln, err := h.svc.CreateSwap(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateSwap lightning: %v", err)
	}
	if _, err := h.svc.Refund(context.Background(), ln.ID, ""); !errors.Is(err, ErrNoRefund) {
		t.Errorf("lightning refund err = %v, want ErrNoRefund", err)
	}
}

func TestSealedSecrets(t *testing.T) {
	h := newHarness(t, secret.WithSealer(secret.NewSealer("correct horse")))

	rec, err := h.svc.CreateSwap(context.Background(), btcToUSDC(t))
	if err != nil {
		t.Fatalf("CreateSwap: %v", err)
	}

	sec, err := h.store.GetSecret(rec.ID)
	if err != nil {
		t.Fatalf("GetSecret: %v", err)
	}
	if !sec.Sealed {
		t.Fatal("secret stored unsealed")
	}

	stored, err := h.svc.GetSwap(rec.ID)
	if err != nil {
		t.Fatalf("GetSwap: %v", err)
	}
	if !secret.VerifySecret(stored.Secret, stored.HashLock) {
		t.Error("unsealed secret does not match hash lock")
	}

	unsealed := h.newService(t)
	if _, err := unsealed.GetSwap(rec.ID); !errors.Is(err, ErrSealed) {
		t.Errorf("GetSwap without passphrase err = %v, want ErrSealed", err)
	}
}

func TestListSwapsActiveOnly(t *testing.T) {
	h := newHarness(t)

	a, err := h.svc.CreateSwap(context.Background(), btcToUSDC(t))
	if err != nil {
		t.Fatalf("CreateSwap: %v", err)
	}
	b, err := h.svc.CreateSwap(context.Background(), btcToUSDC(t))
	if err != nil {
		t.Fatalf("CreateSwap: %v", err)
	}
	done, _ := h.svc.GetSwap(b.ID)
	done.Status = swap.StatusExpired
	if err := h.svc.saveRecord(done); err != nil {
		t.Fatalf("saveRecord: %v", err)
	}

	all, err := h.svc.ListSwaps(0, false)
	if err != nil {
		t.Fatalf("ListSwaps: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all = %d", len(all))
	}
	active, err := h.svc.ListSwaps(0, true)
	if err != nil {
		t.Fatalf("ListSwaps active: %v", err)
	}
	if len(active) != 1 || active[0].ID != a.ID {
		t.Errorf("active = %v", active)
	}
}

type fakeChain struct {
	utxos []backend.UTXO
	txs   []backend.Transaction
}

func (f *fakeChain) Type() backend.Type { return backend.TypeMempool }

func (f *fakeChain) GetAddressUTXOs(context.Context, string) ([]backend.UTXO, error) {
	return f.utxos, nil
}

func (f *fakeChain) GetAddressTxs(context.Context, string) ([]backend.Transaction, error) {
	return f.txs, nil
}

func (f *fakeChain) GetBlockHeight(context.Context) (int64, error) { return 100, nil }

func TestRefundUsesChainView(t *testing.T) {
	h := newHarness(t)
	htlc := regtestAddress(t)
	h.chain = &fakeChain{
		txs: []backend.Transaction{{
			TxID:      "aa",
			Confirmed: true,
			Outputs:   []backend.TxOutput{{Address: htlc, Value: 100000}},
		}},
	}
	h.svc = h.newService(t)
	h.coord.sourceLeg = json.RawMessage(`{"address":"` + htlc + `","amount_sats":100000}`)
	h.coord.locked = &coordinator.LockedFunds{
		RefundLocktime: testStart.Add(-time.Hour).Unix(),
		Outputs:        []coordinator.LockedOutput{{Amount: big.NewInt(100000)}},
	}

	rec, err := h.svc.CreateSwap(context.Background(), btcToUSDC(t))
	if err != nil {
		t.Fatalf("CreateSwap: %v", err)
	}
	if leg, ok := rec.SourceLeg.(*swap.OnchainLeg); !ok || leg.Address != htlc {
		t.Fatalf("source leg = %#v", rec.SourceLeg)
	}

	res, err := h.svc.CheckRefund(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("CheckRefund: %v", err)
	}
	if res.Classification != refund.AlreadySpent || res.Eligible {
		t.Errorf("result = %+v, want already spent from chain view", res)
	}
}
