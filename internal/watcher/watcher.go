// Package watcher drives swap state machines. Each watched swap gets one
// goroutine that owns the swap's record and a single event queue fed by
// polling and the push stream; observations are reduced in arrival order and
// the resulting effects dispatched.
package watcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightningnetwork/lnd/ticker"

	"github.com/klingon-exchange/swapclient/internal/coordinator"
	"github.com/klingon-exchange/swapclient/internal/swap"
	"github.com/klingon-exchange/swapclient/pkg/logging"
)

// DefaultPollInterval is how often the coordinator is polled per swap.
const DefaultPollInterval = 5 * time.Second

// Source provides status snapshots.
type Source interface {
	FetchSwapStatus(ctx context.Context, id string) (*coordinator.SwapResponse, error)
}

// Dispatcher carries out the effects of transitions. Calls for one swap are
// made sequentially from that swap's goroutine.
type Dispatcher interface {
	Persist(ctx context.Context, rec *swap.Record) error
	Claim(ctx context.Context, rec *swap.Record)
	CheckRefund(ctx context.Context, rec *swap.Record)
	Anomaly(ctx context.Context, rec *swap.Record, err *swap.AnomalyError)
}

// Event is one status observation.
type Event struct {
	Observed swap.Status
	// Snapshot is set for polled observations.
	Snapshot *coordinator.SwapResponse
	Origin   string
}

// Config configures the watcher.
type Config struct {
	PollInterval time.Duration
	// NewTicker creates the poll ticker of a swap.
	NewTicker func(interval time.Duration) ticker.Ticker
}

// Watcher runs the per-swap loops.
type Watcher struct {
	source   Source
	dispatch Dispatcher
	cfg      Config
	log      *logging.Logger

	mu    sync.Mutex
	loops map[string]*loop
}

type loop struct {
	rec     *swap.Record
	events  chan Event
	ticker  ticker.Ticker
	cancel  context.CancelFunc
	done    chan struct{}
	polling atomic.Bool
	log     *logging.Logger

	// lastAnomaly is the illegal observation surfaced last. It is reported
	// once until a legal observation arrives.
	lastAnomaly anomalyKey
}

type anomalyKey struct {
	from, observed swap.Status
}

// New creates a watcher.
func New(source Source, dispatch Dispatcher, cfg Config) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = func(d time.Duration) ticker.Ticker { return ticker.New(d) }
	}
	return &Watcher{
		source:   source,
		dispatch: dispatch,
		cfg:      cfg,
		log:      logging.GetDefault().Component("watcher"),
		loops:    make(map[string]*loop),
	}
}

// Watch starts watching a swap. The watcher takes a private copy of rec.
// Watching a swap twice is a no-op.
func (w *Watcher) Watch(ctx context.Context, rec *swap.Record) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.loops[rec.ID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	l := &loop{
		rec:    rec.Clone(),
		events: make(chan Event, 16),
		ticker: w.cfg.NewTicker(w.cfg.PollInterval),
		cancel: cancel,
		done:   make(chan struct{}),
		log:    logging.GetDefault().Swap("watcher", rec.ID),
	}
	w.loops[rec.ID] = l
	go w.run(ctx, l)
}

// Watching reports whether a swap is being watched.
func (w *Watcher) Watching(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.loops[id]
	return ok
}

// IDs returns the ids of watched swaps.
func (w *Watcher) IDs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.loops))
	for id := range w.loops {
		ids = append(ids, id)
	}
	return ids
}

// Notify queues a pushed status. If the queue is full the update is dropped;
// the next poll observes the same status.
func (w *Watcher) Notify(id string, status swap.Status) bool {
	w.mu.Lock()
	l, ok := w.loops[id]
	w.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case l.events <- Event{Observed: status, Origin: "push"}:
		return true
	case <-l.done:
		return false
	default:
		l.log.Debug("Event queue full, dropping push update", "status", status)
		return false
	}
}

// Unwatch stops watching a swap and waits for its loop to exit.
func (w *Watcher) Unwatch(id string) {
	w.mu.Lock()
	l, ok := w.loops[id]
	w.mu.Unlock()
	if !ok {
		return
	}
	l.cancel()
	<-l.done
}

// Stop stops every loop.
func (w *Watcher) Stop() {
	w.mu.Lock()
	loops := make([]*loop, 0, len(w.loops))
	for _, l := range w.loops {
		loops = append(loops, l)
	}
	w.mu.Unlock()

	for _, l := range loops {
		l.cancel()
	}
	for _, l := range loops {
		<-l.done
	}
}

func (w *Watcher) run(ctx context.Context, l *loop) {
	defer func() {
		l.cancel()
		l.ticker.Stop()
		w.mu.Lock()
		if w.loops[l.rec.ID] == l {
			delete(w.loops, l.rec.ID)
		}
		w.mu.Unlock()
		close(l.done)
	}()

	if l.rec.Status.IsTerminal() {
		l.log.Debug("Swap already terminal, not watching", "status", l.rec.Status)
		return
	}

	l.log.Info("Watching swap", "status", l.rec.Status)
	l.ticker.Resume()
	w.poll(ctx, l)

	for {
		select {
		case <-ctx.Done():
			l.log.Debug("Stopped watching swap")
			return
		case <-l.ticker.Ticks():
			w.poll(ctx, l)
		case ev := <-l.events:
			if w.apply(ctx, l, ev) {
				l.log.Info("Swap reached terminal status", "status", l.rec.Status)
				return
			}
		}
	}
}

// poll fetches a snapshot in the background unless one is in flight. A slow
// poll causes ticks to be skipped, not queued.
func (w *Watcher) poll(ctx context.Context, l *loop) {
	if !l.polling.CompareAndSwap(false, true) {
		l.log.Debug("Poll in flight, skipping tick")
		return
	}
	id := l.rec.ID
	go func() {
		snap, err := w.source.FetchSwapStatus(ctx, id)
		l.polling.Store(false)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if coordinator.IsTransient(err) {
				l.log.Debug("Status poll failed, retrying next tick", "error", err)
			} else {
				l.log.Warn("Status poll rejected", "error", err)
			}
			return
		}
		select {
		case l.events <- Event{Observed: snap.Status, Snapshot: snap, Origin: "poll"}:
		case <-ctx.Done():
		}
	}()
}

// apply reduces one event and dispatches its effects. It reports whether the
// loop should stop.
func (w *Watcher) apply(ctx context.Context, l *loop, ev Event) bool {
	prev := l.rec.Status
	effects, err := l.rec.Advance(ev.Observed)

	var anomaly *swap.AnomalyError
	if err != nil && !errors.As(err, &anomaly) {
		l.log.Error("Cannot reduce status", "observed", ev.Observed, "error", err)
		return false
	}
	if anomaly != nil {
		seen := anomalyKey{from: anomaly.From, observed: anomaly.Observed}
		if l.lastAnomaly == seen {
			l.log.Debug("Protocol anomaly persists", "from", seen.from, "observed", seen.observed, "origin", ev.Origin)
			return false
		}
		l.lastAnomaly = seen
	} else {
		l.lastAnomaly = anomalyKey{}
	}
	if err == nil && len(effects) > 0 && ev.Snapshot != nil {
		if err := ev.Snapshot.Apply(l.rec); err != nil {
			l.log.Warn("Ignoring malformed snapshot legs", "error", err)
		}
	}
	if err == nil && prev != l.rec.Status {
		l.log.Info("Swap status changed", "from", prev, "to", l.rec.Status, "origin", ev.Origin)
	}

	stop := false
	for _, eff := range effects {
		switch eff.Kind {
		case swap.EffectPersist:
			if err := w.dispatch.Persist(ctx, l.rec.Clone()); err != nil {
				l.log.Error("Failed to persist swap", "status", l.rec.Status, "error", err)
			}
		case swap.EffectClaim:
			w.dispatch.Claim(ctx, l.rec.Clone())
		case swap.EffectRefundCheck:
			w.dispatch.CheckRefund(ctx, l.rec.Clone())
		case swap.EffectAnomaly:
			l.log.Error("Protocol anomaly", "from", eff.Anomaly.From, "observed", eff.Anomaly.Observed,
				"reason", eff.Anomaly.Reason)
			w.dispatch.Anomaly(ctx, l.rec.Clone(), eff.Anomaly)
		case swap.EffectStopWatching:
			stop = true
		}
	}
	return stop
}
