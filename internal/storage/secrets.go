package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Secret errors
var (
	ErrSecretNotFound      = errors.New("secret not found")
	ErrSecretAlreadyExists = errors.New("secret already exists for this swap")
)

// Secret is the preimage of a swap's hash-lock. It lives in its own table so
// swap records can be exported or logged without it.
type Secret struct {
	SwapID   string
	HashLock string // 0x-prefixed SHA-256 of the secret

	// Value is the raw secret, or its sealed form when Sealed is set.
	Value  []byte
	Sealed bool

	CreatedAt  time.Time
	RevealedAt *time.Time
}

// CreateSecret stores the secret for a swap.
func (s *Storage) CreateSecret(secret *Secret) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if secret.CreatedAt.IsZero() {
		secret.CreatedAt = time.Now()
	}

	_, err := s.db.Exec(`
		INSERT INTO secrets (wallet_id, swap_id, hash_lock, secret, sealed, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.walletID, secret.SwapID, secret.HashLock, secret.Value, boolToInt(secret.Sealed),
		secret.CreatedAt.Unix())
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrSecretAlreadyExists
		}
		return fmt.Errorf("failed to create secret: %w", err)
	}
	return nil
}

// GetSecret retrieves the secret for a swap.
func (s *Storage) GetSecret(swapID string) (*Secret, error) {
	return s.querySecret(`WHERE wallet_id = ? AND swap_id = ?`, s.walletID, swapID)
}

// GetSecretByHash retrieves a secret by its hash-lock.
func (s *Storage) GetSecretByHash(hashLock string) (*Secret, error) {
	return s.querySecret(`WHERE wallet_id = ? AND hash_lock = ?`, s.walletID, hashLock)
}

func (s *Storage) querySecret(where string, args ...interface{}) (*Secret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		secret     Secret
		sealed     int
		createdAt  int64
		revealedAt sql.NullInt64
	)
	err := s.db.QueryRow(`
		SELECT swap_id, hash_lock, secret, sealed, created_at, revealed_at
		FROM secrets `+where, args...,
	).Scan(&secret.SwapID, &secret.HashLock, &secret.Value, &sealed, &createdAt, &revealedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSecretNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get secret: %w", err)
	}

	secret.Sealed = sealed != 0
	secret.CreatedAt = time.Unix(createdAt, 0)
	if revealedAt.Valid {
		t := time.Unix(revealedAt.Int64, 0)
		secret.RevealedAt = &t
	}
	return &secret, nil
}

// MarkSecretRevealed records that the secret has been published in a claim.
func (s *Storage) MarkSecretRevealed(swapID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		UPDATE secrets SET revealed_at = ?
		WHERE wallet_id = ? AND swap_id = ? AND revealed_at IS NULL
	`, time.Now().Unix(), s.walletID, swapID)
	if err != nil {
		return fmt.Errorf("failed to mark secret revealed: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		// Either already revealed or missing; only the latter is an error.
		if _, err := s.querySecretUnlocked(swapID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Storage) querySecretUnlocked(swapID string) (string, error) {
	var hashLock string
	err := s.db.QueryRow(`SELECT hash_lock FROM secrets WHERE wallet_id = ? AND swap_id = ?`,
		s.walletID, swapID).Scan(&hashLock)
	if err == sql.ErrNoRows {
		return "", ErrSecretNotFound
	}
	return hashLock, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
