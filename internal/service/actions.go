package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/klingon-exchange/swapclient/internal/backend"
	"github.com/klingon-exchange/swapclient/internal/claim"
	"github.com/klingon-exchange/swapclient/internal/refund"
	"github.com/klingon-exchange/swapclient/internal/swap"
)

// Refund errors.
var (
	ErrNoRefund             = errors.New("direction has no client refund")
	ErrNotRefundable        = errors.New("swap is not refundable")
	ErrMissingRefundAddress = errors.New("refund address required")
)

// effects carries out the watcher's transition effects.
type effects struct {
	*Service
}

func (e effects) Persist(_ context.Context, rec *swap.Record) error {
	if err := e.saveRecord(rec); err != nil {
		return err
	}
	e.emitEvent(rec.ID, EventStatusChanged, rec.Status, nil)
	return nil
}

func (e effects) Claim(_ context.Context, rec *swap.Record) {
	e.triggerClaim(rec)
}

func (e effects) CheckRefund(ctx context.Context, rec *swap.Record) {
	e.announceRefund(ctx, rec)
}

func (e effects) Anomaly(_ context.Context, rec *swap.Record, err *swap.AnomalyError) {
	e.emitEvent(rec.ID, EventAnomaly, rec.Status, map[string]interface{}{
		"from":     string(err.From),
		"observed": string(err.Observed),
		"reason":   err.Reason,
	})
}

func (s *Service) triggerClaim(rec *swap.Record) {
	if err := s.claims.Trigger(s.ctx, rec); err != nil {
		s.emitEvent(rec.ID, EventClaimSkipped, rec.Status, map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (s *Service) broadcastClaim(ctx context.Context, req claim.Request) error {
	txID, err := s.coord.BroadcastClaim(ctx, req.SwapID, req.Secret, req.Address)
	if err != nil {
		return err
	}
	s.log.Info("Claim broadcast", "swap_id", req.SwapID, "kind", req.Kind, "txid", txID)
	return nil
}

func (s *Service) onClaimResult(res claim.Result) {
	switch res.State {
	case claim.StateDone:
		if !res.AlreadyAttempted {
			if err := s.store.MarkSecretRevealed(res.SwapID); err != nil {
				s.log.Debug("Secret not marked revealed", "swap_id", res.SwapID, "error", err)
			}
		}
		s.emitEvent(res.SwapID, EventClaimed, "", map[string]interface{}{
			"attempts":          res.Attempts,
			"already_attempted": res.AlreadyAttempted,
		})
	case claim.StateExhausted:
		s.emitEvent(res.SwapID, EventClaimExhausted, "", map[string]interface{}{
			"retries": res.Retries,
			"error":   fmt.Sprint(res.Err),
		})
	}
}

// RetryClaim is the manual retry after automatic claiming gave up: it resets
// the retry count, clears the claim marker and claims again.
func (s *Service) RetryClaim(id string) error {
	rec, err := s.loadRecord(id)
	if err != nil {
		return err
	}
	return s.claims.Retry(s.ctx, rec)
}

// ClaimState returns the claim engine state of a swap.
func (s *Service) ClaimState(id string) (claim.State, int) {
	return s.claims.State(id)
}

func (s *Service) announceRefund(ctx context.Context, rec *swap.Record) {
	res, err := s.evaluateRefund(ctx, rec)
	if err != nil {
		s.log.Warn("Refund check failed", "swap_id", rec.ID, "error", err)
		return
	}
	switch res.Classification {
	case refund.Eligible:
		s.emitEvent(rec.ID, EventRefundEligible, rec.Status, map[string]interface{}{
			"amount": res.Amount.String(),
			"path":   string(res.Path),
		})
	case refund.Locked:
		s.emitEvent(rec.ID, EventRefundLocked, rec.Status, map[string]interface{}{
			"refund_at": res.RefundAt.UTC().Format(time.RFC3339),
		})
	}
}

func (s *Service) evaluateRefund(ctx context.Context, rec *swap.Record) (*refund.Result, error) {
	funds, err := s.coord.FetchLockedFunds(ctx, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch locked funds: %w", err)
	}
	refundAt := rec.Locktimes.RefundAt()
	if funds.RefundLocktime > 0 {
		refundAt = time.Unix(funds.RefundLocktime, 0)
	}
	buckets := funds.Buckets()
	if s.chain != nil {
		if leg, ok := rec.SourceLeg.(*swap.OnchainLeg); ok && leg.Address != "" {
			onchain, err := backend.LockedFunds(ctx, s.chain, leg.Address)
			if err != nil {
				return nil, err
			}
			if onchain.Spendable.Cmp(orZero(buckets.Spendable)) != 0 {
				s.log.Warn("Coordinator and chain disagree on locked funds", "swap_id", rec.ID,
					"coordinator", buckets.Spendable, "chain", onchain.Spendable)
			}
			buckets = onchain
		}
	}
	res := s.refunds.Evaluate(refundAt, buckets)
	s.log.Debug("Refund evaluated", "swap_id", rec.ID, "result", res.String())
	return &res, nil
}

// CheckRefund evaluates whether a swap can be refunded now.
func (s *Service) CheckRefund(ctx context.Context, id string) (*refund.Result, error) {
	rec, err := s.loadRecord(id)
	if err != nil {
		return nil, err
	}
	desc, err := rec.Descriptor()
	if err != nil {
		return nil, err
	}
	if desc.RefundKind == swap.RefundNone {
		return nil, ErrNoRefund
	}
	return s.evaluateRefund(ctx, rec)
}

// Refund broadcasts a refund if the swap is eligible. An empty address uses
// the refund address given at creation.
func (s *Service) Refund(ctx context.Context, id, refundAddress string) (string, error) {
	rec, err := s.loadRecord(id)
	if err != nil {
		return "", err
	}
	desc, err := rec.Descriptor()
	if err != nil {
		return "", err
	}
	if desc.RefundKind == swap.RefundNone {
		return "", ErrNoRefund
	}

	addr := refundAddress
	if addr == "" {
		addr = rec.RefundAddress
	}
	if addr == "" {
		return "", ErrMissingRefundAddress
	}
	if err := s.validateAddress(desc.Source, addr); err != nil {
		return "", fmt.Errorf("refund address: %w", err)
	}

	res, err := s.evaluateRefund(ctx, rec)
	if err != nil {
		return "", err
	}
	if !res.Eligible {
		return "", fmt.Errorf("%w: %s", ErrNotRefundable, res)
	}

	txID, err := s.coord.BroadcastRefund(ctx, id, addr)
	if err != nil {
		return "", fmt.Errorf("broadcast refund: %w", err)
	}
	s.log.Info("Refund broadcast", "swap_id", id, "txid", txID, "amount", res.Amount, "path", res.Path)
	s.emitEvent(id, EventRefundBroadcast, rec.Status, map[string]interface{}{
		"txid":   txID,
		"amount": res.Amount.String(),
	})
	return txID, nil
}

func orZero(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return x
}
