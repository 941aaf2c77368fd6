package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/ticker"

	"github.com/klingon-exchange/swapclient/internal/coordinator"
	"github.com/klingon-exchange/swapclient/internal/swap"
)

type fakeSource struct {
	mu      sync.Mutex
	status  map[string]swap.Status
	err     error
	gate    chan struct{}
	fetches atomic.Int32
	fetched chan string
}

func newFakeSource() *fakeSource {
	return &fakeSource{status: make(map[string]swap.Status), fetched: make(chan string, 64)}
}

func (f *fakeSource) set(id string, s swap.Status) {
	f.mu.Lock()
	f.status[id] = s
	f.mu.Unlock()
}

func (f *fakeSource) FetchSwapStatus(ctx context.Context, id string) (*coordinator.SwapResponse, error) {
	f.fetches.Add(1)
	defer func() { f.fetched <- id }()
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &coordinator.SwapResponse{ID: id, Direction: swap.DirectionBitcoinToEVM, Status: f.status[id]}, nil
}

type fakeDispatcher struct {
	calls chan string

	mu        sync.Mutex
	persisted []swap.Status
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{calls: make(chan string, 64)}
}

func (d *fakeDispatcher) Persist(_ context.Context, rec *swap.Record) error {
	d.mu.Lock()
	d.persisted = append(d.persisted, rec.Status)
	d.mu.Unlock()
	d.calls <- "persist:" + string(rec.Status)
	return nil
}

func (d *fakeDispatcher) Claim(_ context.Context, rec *swap.Record) {
	d.calls <- "claim:" + rec.ID
}

func (d *fakeDispatcher) CheckRefund(_ context.Context, rec *swap.Record) {
	d.calls <- "refund:" + string(rec.Status)
}

func (d *fakeDispatcher) Anomaly(_ context.Context, rec *swap.Record, err *swap.AnomalyError) {
	d.calls <- fmt.Sprintf("anomaly:%s->%s", err.From, err.Observed)
}

func (d *fakeDispatcher) expect(t *testing.T, want ...string) {
	t.Helper()
	for _, w := range want {
		select {
		case got := <-d.calls:
			if got != w {
				t.Fatalf("dispatch = %q, want %q", got, w)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %q", w)
		}
	}
}

func (d *fakeDispatcher) expectNone(t *testing.T) {
	t.Helper()
	select {
	case got := <-d.calls:
		t.Fatalf("unexpected dispatch %q", got)
	case <-time.After(50 * time.Millisecond):
	}
}

type harness struct {
	w      *Watcher
	source *fakeSource
	disp   *fakeDispatcher
	forces chan *ticker.Force
}

func newHarness() *harness {
	h := &harness{
		source: newFakeSource(),
		disp:   newFakeDispatcher(),
		forces: make(chan *ticker.Force, 8),
	}
	h.w = New(h.source, h.disp, Config{
		PollInterval: time.Hour,
		NewTicker: func(d time.Duration) ticker.Ticker {
			f := ticker.NewForce(d)
			h.forces <- f
			return f
		},
	})
	return h
}

func (h *harness) force(t *testing.T) *ticker.Force {
	t.Helper()
	select {
	case f := <-h.forces:
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("no ticker created")
		return nil
	}
}

func (h *harness) waitFetch(t *testing.T) {
	t.Helper()
	select {
	case <-h.source.fetched:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for poll")
	}
}

func testRecord(id string, status swap.Status) *swap.Record {
	return &swap.Record{ID: id, Direction: swap.DirectionBitcoinToEVM, Status: status}
}

func TestWatchHappyPath(t *testing.T) {
	h := newHarness()
	h.source.set("s1", swap.StatusPending)
	h.w.Watch(context.Background(), testRecord("s1", swap.StatusPending))
	f := h.force(t)
	h.waitFetch(t)

	steps := []struct {
		status swap.Status
		want   []string
	}{
		{swap.StatusClientFunded, []string{"persist:clientfunded"}},
		{swap.StatusServerFunded, []string{"persist:serverfunded", "claim:s1"}},
		{swap.StatusClientRedeemed, []string{"persist:clientredeemed"}},
		{swap.StatusServerRedeemed, []string{"persist:serverredeemed"}},
	}
	for _, step := range steps {
		h.source.set("s1", step.status)
		f.Force <- time.Now()
		h.disp.expect(t, step.want...)
	}

	deadline := time.After(5 * time.Second)
	for h.w.Watching("s1") {
		select {
		case <-deadline:
			t.Fatal("watcher did not stop on terminal status")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestWatchAnomalyKeepsStatus(t *testing.T) {
	h := newHarness()
	h.source.set("s1", swap.StatusServerRedeemed)
	h.w.Watch(context.Background(), testRecord("s1", swap.StatusPending))
	f := h.force(t)

	h.disp.expect(t, "anomaly:pending->serverredeemed")
	if !h.w.Watching("s1") {
		t.Fatal("anomaly stopped the watcher")
	}

	h.source.set("s1", swap.StatusClientFunded)
	f.Force <- time.Now()
	h.disp.expect(t, "persist:clientfunded")
	h.w.Stop()
}

func TestWatchRepeatedAnomalyReportedOnce(t *testing.T) {
	h := newHarness()
	h.source.set("s1", swap.StatusServerRedeemed)
	h.w.Watch(context.Background(), testRecord("s1", swap.StatusPending))
	f := h.force(t)
	h.disp.expect(t, "anomaly:pending->serverredeemed")
	h.waitFetch(t)

	for i := 0; i < 3; i++ {
		f.Force <- time.Now()
		h.waitFetch(t)
	}
	h.disp.expectNone(t)

	// A legal observation in between re-arms the report.
	h.source.set("s1", swap.StatusPending)
	f.Force <- time.Now()
	h.waitFetch(t)
	h.source.set("s1", swap.StatusServerRedeemed)
	f.Force <- time.Now()
	h.disp.expect(t, "anomaly:pending->serverredeemed")

	h.source.set("s1", swap.StatusExpired)
	f.Force <- time.Now()
	h.disp.expect(t, "persist:expired")
	h.w.Stop()
}

func TestWatchRefundedThenServerFunded(t *testing.T) {
	h := newHarness()
	h.source.set("s1", swap.StatusClientRefundedServerFunded)
	h.w.Watch(context.Background(), testRecord("s1", swap.StatusClientRefunded))
	f := h.force(t)

	h.disp.expect(t, "persist:clientrefundedserverfunded", "anomaly:clientrefunded->clientrefundedserverfunded")

	h.source.set("s1", swap.StatusClientRefundedServerRefunded)
	f.Force <- time.Now()
	h.disp.expect(t, "persist:clientrefundedserverrefunded")
}

func TestWatchRefundCheck(t *testing.T) {
	h := newHarness()
	h.source.set("s1", swap.StatusClientFundedTooLate)
	h.w.Watch(context.Background(), testRecord("s1", swap.StatusClientFunded))
	h.force(t)

	h.disp.expect(t, "persist:clientfundedtoolate", "refund:clientfundedtoolate")
	h.w.Stop()
}

func TestWatchSkipsTickWhilePolling(t *testing.T) {
	h := newHarness()
	h.source.gate = make(chan struct{})
	h.source.set("s1", swap.StatusClientFunded)
	h.w.Watch(context.Background(), testRecord("s1", swap.StatusPending))
	f := h.force(t)

	// The initial poll is blocked; these ticks must not start new polls.
	f.Force <- time.Now()
	f.Force <- time.Now()
	if n := h.source.fetches.Load(); n > 1 {
		t.Fatalf("fetches while in flight = %d, want 1", n)
	}

	close(h.source.gate)
	h.disp.expect(t, "persist:clientfunded")
	h.waitFetch(t)

	f.Force <- time.Now()
	h.waitFetch(t)
	if n := h.source.fetches.Load(); n != 2 {
		t.Errorf("fetches = %d, want 2", n)
	}
	h.w.Stop()
}

func TestWatchPushAndPollShareQueue(t *testing.T) {
	h := newHarness()
	h.source.set("s1", swap.StatusPending)
	h.w.Watch(context.Background(), testRecord("s1", swap.StatusPending))
	f := h.force(t)
	h.waitFetch(t)

	if !h.w.Notify("s1", swap.StatusClientFunded) {
		t.Fatal("Notify rejected")
	}
	h.disp.expect(t, "persist:clientfunded")

	// A poll lagging behind the push repeats an older status: no effect.
	h.source.set("s1", swap.StatusClientFunded)
	f.Force <- time.Now()
	h.waitFetch(t)
	h.disp.expectNone(t)

	if h.w.Notify("unknown", swap.StatusClientFunded) {
		t.Error("Notify accepted an unwatched swap")
	}
	h.w.Stop()
}

func TestWatchPollErrorsAreRetried(t *testing.T) {
	h := newHarness()
	h.source.err = &coordinator.HTTPError{StatusCode: 503}
	h.w.Watch(context.Background(), testRecord("s1", swap.StatusPending))
	f := h.force(t)
	h.waitFetch(t)

	h.source.mu.Lock()
	h.source.err = nil
	h.source.mu.Unlock()
	h.source.set("s1", swap.StatusExpired)
	f.Force <- time.Now()
	h.disp.expect(t, "persist:expired", "refund:expired")
}

func TestWatchTwiceAndUnwatch(t *testing.T) {
	h := newHarness()
	h.source.set("s1", swap.StatusPending)
	ctx := context.Background()
	h.w.Watch(ctx, testRecord("s1", swap.StatusPending))
	h.w.Watch(ctx, testRecord("s1", swap.StatusPending))
	h.force(t)
	select {
	case <-h.forces:
		t.Fatal("second Watch started another loop")
	default:
	}

	h.w.Unwatch("s1")
	if h.w.Watching("s1") {
		t.Error("still watching after Unwatch")
	}
	h.w.Unwatch("s1")
}

func TestWatchTerminalRecord(t *testing.T) {
	h := newHarness()
	h.w.Watch(context.Background(), testRecord("s1", swap.StatusServerRedeemed))
	h.force(t)

	deadline := time.After(5 * time.Second)
	for h.w.Watching("s1") {
		select {
		case <-deadline:
			t.Fatal("terminal swap still watched")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if n := h.source.fetches.Load(); n != 0 {
		t.Errorf("terminal swap polled %d times", n)
	}
}

func TestWatchContextCancel(t *testing.T) {
	h := newHarness()
	h.source.err = errors.New("bad request")
	ctx, cancel := context.WithCancel(context.Background())
	h.w.Watch(ctx, testRecord("s1", swap.StatusPending))
	h.force(t)
	cancel()

	deadline := time.After(5 * time.Second)
	for h.w.Watching("s1") {
		select {
		case <-deadline:
			t.Fatal("loop did not exit on cancel")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if len(h.w.IDs()) != 0 {
		t.Errorf("IDs = %v", h.w.IDs())
	}
}
