package service

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/ethereum/go-ethereum/common"

	"github.com/klingon-exchange/swapclient/internal/chain"
	"github.com/klingon-exchange/swapclient/internal/coordinator"
	"github.com/klingon-exchange/swapclient/internal/quote"
	"github.com/klingon-exchange/swapclient/internal/secret"
	"github.com/klingon-exchange/swapclient/internal/storage"
	"github.com/klingon-exchange/swapclient/internal/swap"
	"github.com/klingon-exchange/swapclient/pkg/helpers"
)

// Validation errors for swap creation.
var (
	ErrInvalidAddress  = errors.New("invalid address")
	ErrMissingAmount   = errors.New("source or target amount required")
	ErrMissingInvoice  = errors.New("lightning invoice required")
	ErrHashLockChanged = errors.New("coordinator returned a different hash lock")
	ErrSealed          = errors.New("secret is sealed and no passphrase is configured")
)

// Quote derives the other side of a swap from a fresh quote. side is the
// side the user entered amount for.
func (s *Service) Quote(ctx context.Context, source, target chain.Asset, side quote.Side, amount *big.Int) (*quote.Derivation, error) {
	if side == quote.SideTarget {
		return s.quoter.Source(ctx, source, target, amount)
	}
	return s.quoter.Target(ctx, source, target, amount)
}

// CreateRequest holds the user's input for a new swap. Exactly the amount the
// user edited last should be set; the coordinator derives the other.
type CreateRequest struct {
	Source       chain.Asset
	Target       chain.Asset
	SourceAmount *big.Int
	TargetAmount *big.Int

	// ClaimAddress receives the target asset.
	ClaimAddress string
	// RefundAddress receives refunds of the source asset, if known upfront.
	RefundAddress string
	// Invoice is paid by the coordinator for swaps into Lightning.
	Invoice string
}

// CreateSwap opens a swap with the coordinator, persists the record and its
// secret, and starts watching it.
func (s *Service) CreateSwap(ctx context.Context, req *CreateRequest) (*swap.Record, error) {
	dir, err := swap.DirectionFor(req.Source, req.Target)
	if err != nil {
		return nil, err
	}
	desc, err := dir.Descriptor()
	if err != nil {
		return nil, err
	}
	if err := s.validateCreate(desc, req); err != nil {
		return nil, err
	}

	kp, err := s.keys.GetOrCreateKeypair()
	if err != nil {
		return nil, fmt.Errorf("failed to load swap key: %w", err)
	}

	var secretHex, hashLock string
	if desc.ClientCreatesSecret {
		if secretHex, err = secret.GenerateSecret(); err != nil {
			return nil, err
		}
		if hashLock, err = secret.HashSecret(secretHex); err != nil {
			return nil, err
		}
	}

	resp, err := s.coord.SubmitSwapRequest(ctx, &coordinator.SwapRequest{
		Direction:       dir,
		SourceAsset:     req.Source.ID(),
		TargetAsset:     req.Target.ID(),
		SourceAmount:    req.SourceAmount,
		TargetAmount:    req.TargetAmount,
		HashLock:        hashLock,
		RefundPublicKey: kp.PublicKeyHex(),
		TargetAddress:   req.ClaimAddress,
		Invoice:         req.Invoice,
	})
	if err != nil {
		return nil, fmt.Errorf("submit swap: %w", err)
	}
	if hashLock != "" && resp.HashLock != "" && !strings.EqualFold(resp.HashLock, hashLock) {
		return nil, fmt.Errorf("%w: sent %s, got %s", ErrHashLockChanged, hashLock, resp.HashLock)
	}
	if hashLock == "" {
		hashLock = resp.HashLock
	}

	rec := &swap.Record{
		Direction:       dir,
		SourceAsset:     req.Source,
		TargetAsset:     req.Target,
		SourceAmount:    req.SourceAmount,
		TargetAmount:    req.TargetAmount,
		Secret:          secretHex,
		HashLock:        hashLock,
		RefundPublicKey: kp.PublicKeyHex(),
		ClaimAddress:    req.ClaimAddress,
		RefundAddress:   req.RefundAddress,
		Status:          swap.StatusPending,
		CreatedAt:       s.clock.Now().UTC(),
	}
	if err := resp.Apply(rec); err != nil {
		return nil, fmt.Errorf("coordinator response: %w", err)
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	// The secret is written before the record so that a stored swap always
	// has its secret.
	if secretHex != "" {
		if err := s.storeSecret(rec.ID, secretHex, hashLock); err != nil {
			return nil, err
		}
	}
	if err := s.createRecord(rec); err != nil {
		return nil, err
	}

	s.log.Info("Swap created", "swap_id", rec.ID, "direction", dir,
		"source", rec.SourceAmount, "target", rec.TargetAmount)
	s.emitEvent(rec.ID, EventSwapCreated, rec.Status, map[string]interface{}{
		"direction": string(dir),
		"hash_lock": hashLock,
	})

	s.watch(rec)
	return rec.Clone(), nil
}

func (s *Service) validateCreate(desc swap.Descriptor, req *CreateRequest) error {
	if req.SourceAmount == nil && req.TargetAmount == nil {
		return ErrMissingAmount
	}
	for _, a := range []*big.Int{req.SourceAmount, req.TargetAmount} {
		if a != nil && a.Sign() <= 0 {
			return fmt.Errorf("%w: amount must be positive", ErrMissingAmount)
		}
	}
	if desc.Target == chain.KindLightning {
		if req.Invoice == "" {
			return ErrMissingInvoice
		}
	} else if err := s.validateAddress(desc.Target, req.ClaimAddress); err != nil {
		return fmt.Errorf("claim address: %w", err)
	}
	if req.RefundAddress != "" {
		if err := s.validateAddress(desc.Source, req.RefundAddress); err != nil {
			return fmt.Errorf("refund address: %w", err)
		}
	}
	return nil
}

func (s *Service) validateAddress(kind chain.Kind, addr string) error {
	if addr == "" {
		return fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	switch kind {
	case chain.KindEVM:
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%w: %s is not an EVM address", ErrInvalidAddress, addr)
		}
	case chain.KindBitcoin:
		params := s.network.Params()
		a, err := btcutil.DecodeAddress(addr, params)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
		if !a.IsForNet(params) {
			return fmt.Errorf("%w: %s is not a %s address", ErrInvalidAddress, addr, s.network)
		}
	}
	return nil
}

func (s *Service) storeSecret(swapID, secretHex, hashLock string) error {
	raw, err := hex.DecodeString(secretHex)
	if err != nil {
		return err
	}
	defer helpers.Zero(raw)

	rec := &storage.Secret{SwapID: swapID, HashLock: hashLock, Value: raw}
	if sealer := s.keys.Sealer(); sealer != nil {
		sealed, err := sealer.Seal(raw)
		if err != nil {
			return fmt.Errorf("failed to seal secret: %w", err)
		}
		rec.Value = sealed
		rec.Sealed = true
	}
	if err := s.store.CreateSecret(rec); err != nil {
		return fmt.Errorf("failed to store secret: %w", err)
	}
	return nil
}

func (s *Service) loadSecret(swapID string) (string, error) {
	sec, err := s.store.GetSecret(swapID)
	if errors.Is(err, storage.ErrSecretNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	raw := sec.Value
	if sec.Sealed {
		sealer := s.keys.Sealer()
		if sealer == nil {
			return "", ErrSealed
		}
		if raw, err = sealer.Open(sec.Value); err != nil {
			return "", err
		}
		defer helpers.Zero(raw)
	}
	return hex.EncodeToString(raw), nil
}

func encodeRecord(rec *swap.Record) (*storage.SwapRecord, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode swap %s: %w", rec.ID, err)
	}
	return &storage.SwapRecord{
		ID:        rec.ID,
		Direction: string(rec.Direction),
		Status:    string(rec.Status),
		Record:    data,
		CreatedAt: rec.CreatedAt,
	}, nil
}

func (s *Service) createRecord(rec *swap.Record) error {
	row, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return s.store.CreateSwap(row)
}

func (s *Service) saveRecord(rec *swap.Record) error {
	row, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return s.store.SaveSwap(row)
}

// loadRecord reads a swap and its secret.
func (s *Service) loadRecord(id string) (*swap.Record, error) {
	row, err := s.store.GetSwap(id)
	if err != nil {
		return nil, err
	}
	var rec swap.Record
	if err := json.Unmarshal(row.Record, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode swap %s: %w", id, err)
	}
	if rec.Secret, err = s.loadSecret(id); err != nil {
		return nil, fmt.Errorf("failed to load secret of %s: %w", id, err)
	}
	return &rec, nil
}

// GetSwap returns a stored swap with its secret.
func (s *Service) GetSwap(id string) (*swap.Record, error) {
	return s.loadRecord(id)
}

// ListSwaps returns stored swaps, newest first. activeOnly skips terminal
// swaps.
func (s *Service) ListSwaps(limit int, activeOnly bool) ([]*swap.Record, error) {
	var exclude []string
	if activeOnly {
		exclude = terminalStatuses()
	}
	rows, err := s.store.ListSwaps(limit, exclude...)
	if err != nil {
		return nil, err
	}
	out := make([]*swap.Record, 0, len(rows))
	for _, row := range rows {
		var rec swap.Record
		if err := json.Unmarshal(row.Record, &rec); err != nil {
			s.log.Warn("Skipping undecodable swap", "swap_id", row.ID, "error", err)
			continue
		}
		out = append(out, &rec)
	}
	return out, nil
}
