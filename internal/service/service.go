// Package service wires the swap client together: quoting, swap creation,
// status watching, auto-claim and refunds.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"golang.org/x/sync/errgroup"

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
	"github.com/klingon-exchange/swapclient/pkg/logging"
)

// Event types emitted by the service.
const (
	EventSwapCreated     = "swap_created"
	EventStatusChanged   = "status_changed"
	EventAnomaly         = "protocol_anomaly"
	EventClaimed         = "claimed"
	EventClaimSkipped    = "claim_skipped"
	EventClaimExhausted  = "claim_exhausted"
	EventRefundEligible  = "refund_eligible"
	EventRefundLocked    = "refund_locked"
	EventRefundBroadcast = "refund_broadcast"
)

// Event is something that happened to a swap.
type Event struct {
	SwapID    string
	Type      string
	Status    swap.Status
	Data      map[string]interface{}
	Timestamp time.Time
}

// EventHandler is called when swap events occur.
type EventHandler func(event Event)

// Subscriber is implemented by coordinator clients with a push stream.
type Subscriber interface {
	SubscribeSwapUpdates(ctx context.Context, ids ...string) (*coordinator.Stream, error)
}

// Config holds the service dependencies.
type Config struct {
	Network     chain.Network
	Coordinator coordinator.Client
	Storage     *storage.Storage
	Keys        *secret.KeyManager
	Clock       clock.Clock

	// Chain, when set, is the source of truth for funds locked in on-chain
	// bitcoin HTLCs during refund checks.
	Chain backend.Backend

	Claim              claim.Config
	Watcher            watcher.Config
	MaxProtocolFeeRate float64

	// ReconnectDelay is the wait before reopening a dropped push stream.
	ReconnectDelay time.Duration
}

// Service is the swap client.
type Service struct {
	network chain.Network
	coord   coordinator.Client
	store   *storage.Storage
	keys    *secret.KeyManager
	clock   clock.Clock
	chain   backend.Backend

	quoter  *quote.Quoter
	claims  *claim.Manager
	watcher *watcher.Watcher
	refunds *refund.Evaluator

	reconnectDelay time.Duration
	log            *logging.Logger

	mu            sync.RWMutex
	eventHandlers []EventHandler
	stream        *coordinator.Stream

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates the service.
func New(cfg *Config) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	clk := cfg.Clock
	if clk == nil {
		clk = clock.NewDefaultClock()
	}
	reconnect := cfg.ReconnectDelay
	if reconnect <= 0 {
		reconnect = 5 * time.Second
	}

	s := &Service{
		network:        cfg.Network,
		coord:          cfg.Coordinator,
		store:          cfg.Storage,
		keys:           cfg.Keys,
		clock:          clk,
		chain:          cfg.Chain,
		quoter:         quote.NewQuoter(cfg.Coordinator, cfg.MaxProtocolFeeRate),
		refunds:        refund.NewEvaluator(clk),
		reconnectDelay: reconnect,
		log:            logging.GetDefault().Component("service"),
		ctx:            ctx,
		cancel:         cancel,
	}

	claimCfg := cfg.Claim
	if claimCfg.Clock == nil {
		claimCfg.Clock = clk
	}
	claimCfg.OnResult = s.onClaimResult
	s.claims = claim.NewManager(claim.ClaimerFunc(s.broadcastClaim), cfg.Storage, claimCfg)
	s.watcher = watcher.New(cfg.Coordinator, effects{s}, cfg.Watcher)
	return s
}

// OnEvent registers an event handler.
func (s *Service) OnEvent(handler EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventHandlers = append(s.eventHandlers, handler)
}

func (s *Service) emitEvent(swapID, eventType string, status swap.Status, data map[string]interface{}) {
	event := Event{
		SwapID:    swapID,
		Type:      eventType,
		Status:    status,
		Data:      data,
		Timestamp: s.clock.Now(),
	}

	s.mu.RLock()
	handlers := make([]EventHandler, len(s.eventHandlers))
	copy(handlers, s.eventHandlers)
	s.mu.RUnlock()

	for _, handler := range handlers {
		go handler(event)
	}
}

// Start resumes watching every non-terminal swap.
func (s *Service) Start() error {
	records, err := s.store.ListSwaps(0, terminalStatuses()...)
	if err != nil {
		return err
	}
	for _, r := range records {
		rec, err := s.loadRecord(r.ID)
		if err != nil {
			s.log.Error("Cannot resume swap", "swap_id", r.ID, "error", err)
			continue
		}
		s.resume(rec)
	}
	s.log.Info("Service started", "active_swaps", len(records))
	return nil
}

// resume restarts the watch of a swap and re-issues effects whose outcome may
// have been lost with the previous process. Claim markers make this safe.
func (s *Service) resume(rec *swap.Record) {
	s.watch(rec)

	desc, err := rec.Descriptor()
	if err != nil {
		return
	}
	if rec.Status == swap.StatusServerFunded && desc.ClaimKind != swap.ClaimNone {
		s.triggerClaim(rec)
	}
	if rec.Status.NeedsRefund() && desc.RefundKind != swap.RefundNone {
		s.announceRefund(s.ctx, rec)
	}
}

// Run starts the service and keeps the push stream connected until ctx is
// done.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if sub, ok := s.coord.(Subscriber); ok {
		g.Go(func() error {
			s.pushLoop(ctx, sub)
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		s.Close()
		return nil
	})
	return g.Wait()
}

func (s *Service) pushLoop(ctx context.Context, sub Subscriber) {
	for {
		stream, err := sub.SubscribeSwapUpdates(ctx, s.watcher.IDs()...)
		if err != nil {
			if errors.Is(err, coordinator.ErrNoStream) {
				return
			}
			s.log.Warn("Push stream unavailable, polling only", "error", err)
		} else {
			s.setStream(stream)
			for u := range stream.Updates() {
				if u.Error != "" {
					s.log.Warn("Coordinator reported swap error", "swap_id", u.ID, "error", u.Error)
					continue
				}
				s.watcher.Notify(u.ID, u.Status)
			}
			s.setStream(nil)
		}

		select {
		case <-ctx.Done():
			return
		case <-s.clock.TickAfter(s.reconnectDelay):
		}
	}
}

func (s *Service) setStream(stream *coordinator.Stream) {
	s.mu.Lock()
	s.stream = stream
	s.mu.Unlock()
}

// watch starts the watcher for rec and subscribes it to the push stream.
func (s *Service) watch(rec *swap.Record) {
	s.watcher.Watch(s.ctx, rec)

	s.mu.RLock()
	stream := s.stream
	s.mu.RUnlock()
	if stream != nil {
		if err := stream.Subscribe(rec.ID); err != nil {
			s.log.Debug("Push subscribe failed", "swap_id", rec.ID, "error", err)
		}
	}
}

// Watch starts watching a stored swap. Re-attaching a swap after Unwatch
// resumes a claim or refund that was pending when it was dropped.
func (s *Service) Watch(id string) error {
	if s.watcher.Watching(id) {
		return nil
	}
	rec, err := s.loadRecord(id)
	if err != nil {
		return err
	}
	s.resume(rec)
	return nil
}

// Unwatch stops polling a swap and cancels pending claim retries. Markers
// and broadcasts already made are unaffected.
func (s *Service) Unwatch(id string) {
	s.watcher.Unwatch(id)
	s.claims.Stop(id)
}

// Watching reports whether a swap is being watched.
func (s *Service) Watching(id string) bool {
	return s.watcher.Watching(id)
}

// Close stops all background work.
func (s *Service) Close() error {
	s.cancel()
	s.watcher.Stop()
	s.claims.StopAll()
	return nil
}

func terminalStatuses() []string {
	var out []string
	for _, st := range swap.Statuses() {
		if st.IsTerminal() {
			out = append(out, string(st))
		}
	}
	return out
}
