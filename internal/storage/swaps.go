package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Swap persistence errors
var (
	ErrSwapNotFound = errors.New("swap not found")
	ErrSwapExists   = errors.New("swap already exists")
)

// SwapRecord is a persisted swap. Record holds the full swap encoded by the
// swap package; Direction and Status are duplicated for filtering.
type SwapRecord struct {
	ID        string
	Direction string
	Status    string
	Record    json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateSwap inserts a new swap. A swap id is written once.
func (s *Storage) CreateSwap(swap *SwapRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if swap.CreatedAt.IsZero() {
		swap.CreatedAt = now
	}
	swap.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO swaps (wallet_id, id, direction, status, record, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.walletID, swap.ID, swap.Direction, swap.Status, string(swap.Record),
		swap.CreatedAt.Unix(), swap.UpdatedAt.Unix())
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrSwapExists
		}
		return fmt.Errorf("failed to create swap: %w", err)
	}
	return nil
}

// SaveSwap updates an existing swap's status and record.
func (s *Storage) SaveSwap(swap *SwapRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	swap.UpdatedAt = time.Now()
	result, err := s.db.Exec(`
		UPDATE swaps SET status = ?, record = ?, updated_at = ?
		WHERE wallet_id = ? AND id = ?
	`, swap.Status, string(swap.Record), swap.UpdatedAt.Unix(), s.walletID, swap.ID)
	if err != nil {
		return fmt.Errorf("failed to save swap: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrSwapNotFound
	}
	return nil
}

// GetSwap retrieves a swap by id.
func (s *Storage) GetSwap(id string) (*SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(`
		SELECT id, direction, status, record, created_at, updated_at
		FROM swaps WHERE wallet_id = ? AND id = ?
	`, s.walletID, id)

	swap, err := scanSwapRecord(row)
	if err == sql.ErrNoRows {
		return nil, ErrSwapNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get swap: %w", err)
	}
	return swap, nil
}

// ListSwaps returns swaps, newest first. When excludeStatuses is non-empty,
// swaps in those statuses are skipped.
func (s *Storage) ListSwaps(limit int, excludeStatuses ...string) ([]*SwapRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, direction, status, record, created_at, updated_at
		FROM swaps WHERE wallet_id = ?`
	args := []interface{}{s.walletID}

	if len(excludeStatuses) > 0 {
		query += ` AND status NOT IN (?` + strings.Repeat(",?", len(excludeStatuses)-1) + `)`
		for _, st := range excludeStatuses {
			args = append(args, st)
		}
	}
	query += ` ORDER BY created_at DESC, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list swaps: %w", err)
	}
	defer rows.Close()

	var swaps []*SwapRecord
	for rows.Next() {
		swap, err := scanSwapRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan swap: %w", err)
		}
		swaps = append(swaps, swap)
	}
	return swaps, rows.Err()
}

// DeleteSwap removes a swap and its secret.
func (s *Storage) DeleteSwap(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM swaps WHERE wallet_id = ? AND id = ?`, s.walletID, id); err != nil {
		return fmt.Errorf("failed to delete swap: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM secrets WHERE wallet_id = ? AND swap_id = ?`, s.walletID, id); err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSwapRecord(row rowScanner) (*SwapRecord, error) {
	var (
		swap                 SwapRecord
		record               string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&swap.ID, &swap.Direction, &swap.Status, &record, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	swap.Record = json.RawMessage(record)
	swap.CreatedAt = time.Unix(createdAt, 0)
	swap.UpdatedAt = time.Unix(updatedAt, 0)
	return &swap, nil
}
