package claim

import (
	"context"
	"sync"

	"github.com/klingon-exchange/swapclient/internal/storage"
	"github.com/klingon-exchange/swapclient/internal/swap"
	"github.com/klingon-exchange/swapclient/pkg/logging"
)

// Manager owns one engine per swap. Engines share nothing but the store and
// claimer, so a slow or failing swap never delays another.
type Manager struct {
	claimer Claimer
	store   storage.Store
	cfg     Config
	log     *logging.Logger

	mu      sync.Mutex
	engines map[string]*Engine
}

// NewManager creates a claim manager.
func NewManager(claimer Claimer, store storage.Store, cfg Config) *Manager {
	return &Manager{
		claimer: claimer,
		store:   store,
		cfg:     cfg.withDefaults(),
		log:     logging.GetDefault().Component("claim"),
		engines: make(map[string]*Engine),
	}
}

func (m *Manager) engine(rec *swap.Record) (*Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.engines[rec.ID]; ok {
		return e, nil
	}
	req, err := RequestFor(rec)
	if err != nil {
		return nil, err
	}
	e := NewEngine(req, m.claimer, m.store, m.cfg)
	m.engines[rec.ID] = e
	return e, nil
}

// Trigger starts claiming rec if its secret and address are available.
func (m *Manager) Trigger(ctx context.Context, rec *swap.Record) error {
	e, err := m.engine(rec)
	if err != nil {
		m.log.Warn("Cannot claim swap", "swap_id", rec.ID, "error", err)
		return err
	}
	return e.Trigger(ctx)
}

// Retry manually retries the claim of rec.
func (m *Manager) Retry(ctx context.Context, rec *swap.Record) error {
	e, err := m.engine(rec)
	if err != nil {
		return err
	}
	return e.Retry(ctx)
}

// State returns the engine state of a swap; StateIdle if none exists.
func (m *Manager) State(swapID string) (State, int) {
	m.mu.Lock()
	e, ok := m.engines[swapID]
	m.mu.Unlock()
	if !ok {
		return StateIdle, 0
	}
	return e.State()
}

// Stop cancels pending backoff timers of a swap and forgets its engine.
// Durable markers are kept.
func (m *Manager) Stop(swapID string) {
	m.mu.Lock()
	e, ok := m.engines[swapID]
	delete(m.engines, swapID)
	m.mu.Unlock()
	if ok {
		e.Stop()
	}
}

// StopAll stops every engine and waits for their runs to return.
func (m *Manager) StopAll() {
	m.mu.Lock()
	engines := make([]*Engine, 0, len(m.engines))
	for id, e := range m.engines {
		engines = append(engines, e)
		delete(m.engines, id)
	}
	m.mu.Unlock()

	for _, e := range engines {
		e.Stop()
	}
	for _, e := range engines {
		e.Wait()
	}
}
