// Package claim implements the auto-claim engine: once the counterparty has
// funded its leg, claim it exactly once per idempotency marker, retrying
// failures with exponential backoff up to a bound.
package claim

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"

	"github.com/klingon-exchange/swapclient/internal/storage"
	"github.com/klingon-exchange/swapclient/internal/swap"
	"github.com/klingon-exchange/swapclient/pkg/logging"
)

// MarkerPrefix prefixes the durable idempotency marker of a swap.
const MarkerPrefix = "claim_attempted:"

// MarkerKey returns the marker key for a swap.
func MarkerKey(swapID string) string {
	return MarkerPrefix + swapID
}

// Errors returned by the claim engine.
var (
	ErrClaimExhausted = errors.New("claim retries exhausted")
	ErrMissingSecret  = errors.New("claim requires the swap secret")
	ErrMissingAddress = errors.New("claim requires a destination address")
	ErrNothingToClaim = errors.New("direction has no claim leg")
	ErrInFlight       = errors.New("claim already in flight")
	ErrMarkerStuck    = errors.New("claim marker could not be cleared")
)

// State is the position of an engine in its lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateClaiming  State = "claiming"
	StateRetrying  State = "retrying"
	StateDone      State = "done"
	StateExhausted State = "exhausted"
)

// Request carries what a claim broadcast needs.
type Request struct {
	SwapID  string
	Kind    swap.ClaimKind
	Secret  string
	Address string
}

// RequestFor builds the claim request of a record, checking that the secret
// and destination address are available.
func RequestFor(rec *swap.Record) (Request, error) {
	desc, err := rec.Descriptor()
	if err != nil {
		return Request{}, err
	}
	if desc.ClaimKind == swap.ClaimNone {
		return Request{}, fmt.Errorf("%w: %s", ErrNothingToClaim, desc.Direction)
	}
	if desc.NeedsSecret() && rec.Secret == "" {
		return Request{}, ErrMissingSecret
	}
	if rec.ClaimAddress == "" {
		return Request{}, ErrMissingAddress
	}
	return Request{
		SwapID:  rec.ID,
		Kind:    desc.ClaimKind,
		Secret:  rec.Secret,
		Address: rec.ClaimAddress,
	}, nil
}

// Claimer broadcasts a claim.
type Claimer interface {
	Claim(ctx context.Context, req Request) error
}

// ClaimerFunc adapts a function to Claimer.
type ClaimerFunc func(ctx context.Context, req Request) error

func (f ClaimerFunc) Claim(ctx context.Context, req Request) error {
	return f(ctx, req)
}

// Result reports how an engine run ended.
type Result struct {
	SwapID   string
	State    State
	Attempts int
	Retries  int
	// AlreadyAttempted is set when a marker from an earlier attempt was
	// found and no claim was issued.
	AlreadyAttempted bool
	Err              error
}

// Config configures claim engines.
type Config struct {
	MaxRetries     int
	BackoffUnit    time.Duration
	AttemptTimeout time.Duration
	Clock          clock.Clock
	OnResult       func(Result)
}

// DefaultConfig returns the default claim configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     10,
		BackoffUnit:    time.Second,
		AttemptTimeout: time.Minute,
		Clock:          clock.NewDefaultClock(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.BackoffUnit <= 0 {
		c.BackoffUnit = def.BackoffUnit
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = def.AttemptTimeout
	}
	if c.Clock == nil {
		c.Clock = def.Clock
	}
	return c
}

// Backoff returns the wait after a failure when retryCount failures preceded
// it: 2^retryCount units.
func (c Config) Backoff(retryCount int) time.Duration {
	return c.BackoffUnit << uint(retryCount)
}

// Engine claims one swap. It runs at most one attempt at a time and keeps
// its own retry timeline.
type Engine struct {
	req     Request
	claimer Claimer
	store   storage.Store
	cfg     Config
	log     *logging.Logger

	mu       sync.Mutex
	state    State
	retries  int
	attempts int
	lastErr  error
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewEngine creates an idle engine for req.
func NewEngine(req Request, claimer Claimer, store storage.Store, cfg Config) *Engine {
	return &Engine{
		req:     req,
		claimer: claimer,
		store:   store,
		cfg:     cfg.withDefaults(),
		log:     logging.GetDefault().Swap("claim", req.SwapID),
		state:   StateIdle,
	}
}

// State returns the engine state and its consecutive failure count.
func (e *Engine) State() (State, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.retries
}

// LastError returns the error of the most recent failed attempt.
func (e *Engine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// Trigger starts claiming unless an attempt is already running or finished.
// It returns immediately; the claim proceeds in the background.
func (e *Engine) Trigger(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateClaiming, StateRetrying:
		e.log.Debug("Claim already in flight")
		return nil
	case StateDone:
		return nil
	case StateExhausted:
		return ErrClaimExhausted
	}
	e.start(ctx)
	return nil
}

// Retry is the manual retry: it resets the failure count, clears the marker
// and starts claiming again.
func (e *Engine) Retry(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateClaiming || e.state == StateRetrying {
		return ErrInFlight
	}
	if err := e.store.Delete(MarkerKey(e.req.SwapID)); err != nil {
		return fmt.Errorf("failed to clear claim marker: %w", err)
	}
	e.retries = 0
	e.lastErr = nil
	e.log.Info("Manual claim retry")
	e.start(ctx)
	return nil
}

// Stop cancels a pending backoff. An attempt already broadcasting is allowed
// to finish and the marker is left as that attempt leaves it.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Wait blocks until the background run, if any, has returned.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// start must be called with e.mu held.
func (e *Engine) start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.state = StateClaiming
	e.wg.Add(1)
	go e.run(runCtx)
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	for {
		if ctx.Err() != nil {
			e.setState(StateIdle)
			return
		}

		already, err := e.attempt(ctx)
		if err == nil {
			e.mu.Lock()
			e.state = StateDone
			e.retries = 0
			e.lastErr = nil
			res := e.result()
			e.mu.Unlock()

			res.AlreadyAttempted = already
			if already {
				e.log.Info("Claim already attempted, not reissuing")
			} else {
				e.log.Info("Claim broadcast", "attempts", res.Attempts)
			}
			e.notify(res)
			return
		}

		e.mu.Lock()
		delay := e.cfg.Backoff(e.retries)
		e.retries++
		e.lastErr = err
		if e.retries >= e.cfg.MaxRetries || errors.Is(err, ErrMarkerStuck) {
			e.state = StateExhausted
			res := e.result()
			e.mu.Unlock()

			res.Err = fmt.Errorf("%w: %v", ErrClaimExhausted, err)
			e.log.Error("Claim retries exhausted", "retry_count", res.Retries, "error", err)
			e.notify(res)
			return
		}
		e.state = StateRetrying
		retries := e.retries
		e.mu.Unlock()

		e.log.Warn("Claim failed, retrying", "retry_count", retries, "backoff", delay, "error", err)

		select {
		case <-ctx.Done():
			e.setState(StateIdle)
			return
		case <-e.cfg.Clock.TickAfter(delay):
		}
		e.setState(StateClaiming)
	}
}

// attempt records the marker and broadcasts the claim. It reports already
// when a marker from an earlier attempt is present.
func (e *Engine) attempt(ctx context.Context) (already bool, err error) {
	key := MarkerKey(e.req.SwapID)

	_, err = e.store.Get(key)
	switch {
	case err == nil:
		return true, nil
	case !errors.Is(err, storage.ErrNotFound):
		return false, fmt.Errorf("failed to read claim marker: %w", err)
	}

	stamp := strconv.FormatInt(e.cfg.Clock.Now().Unix(), 10)
	if err := e.store.Set(key, []byte(stamp)); err != nil {
		return false, fmt.Errorf("failed to record claim marker: %w", err)
	}

	e.mu.Lock()
	e.attempts++
	e.mu.Unlock()

	// The broadcast outlives cancellation of the swap's watch.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.AttemptTimeout)
	defer cancel()

	claimErr := e.claimer.Claim(callCtx, e.req)
	if claimErr == nil {
		return false, nil
	}
	if err := e.store.Delete(key); err != nil {
		e.log.Error("Failed to clear claim marker", "error", err)
		return false, fmt.Errorf("%w: %v (claim error: %v)", ErrMarkerStuck, err, claimErr)
	}
	return false, claimErr
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// result must be called with e.mu held.
func (e *Engine) result() Result {
	return Result{
		SwapID:   e.req.SwapID,
		State:    e.state,
		Attempts: e.attempts,
		Retries:  e.retries,
		Err:      e.lastErr,
	}
}

func (e *Engine) notify(res Result) {
	if e.cfg.OnResult != nil {
		e.cfg.OnResult(res)
	}
}
