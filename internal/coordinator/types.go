package coordinator

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/klingon-exchange/swapclient/internal/refund"
	"github.com/klingon-exchange/swapclient/internal/swap"
)

// SwapRequest asks the coordinator to open a swap.
type SwapRequest struct {
	Direction       swap.Direction `json:"direction"`
	SourceAsset     string         `json:"source_asset"`
	TargetAsset     string         `json:"target_asset"`
	SourceAmount    *big.Int       `json:"source_amount,omitempty"`
	TargetAmount    *big.Int       `json:"target_amount,omitempty"`
	HashLock        string         `json:"hash_lock,omitempty"`
	RefundPublicKey string         `json:"refund_public_key"`
	TargetAddress   string         `json:"target_address,omitempty"`
	Invoice         string         `json:"invoice,omitempty"`
}

// SwapResponse is the coordinator's view of a swap. The shape of the legs
// depends on the direction.
type SwapResponse struct {
	ID           string         `json:"id"`
	Direction    swap.Direction `json:"direction"`
	Status       swap.Status    `json:"status"`
	SourceAmount *big.Int       `json:"source_amount"`
	TargetAmount *big.Int       `json:"target_amount"`
	HashLock     string         `json:"hash_lock"`
	Locktimes    swap.Locktimes `json:"locktimes"`
	CreatedAt    int64          `json:"created_at"`

	SourceLeg json.RawMessage `json:"source_leg,omitempty"`
	TargetLeg json.RawMessage `json:"target_leg,omitempty"`

	Error string `json:"error,omitempty"`
}

// Legs decodes the direction-specific legs.
func (r *SwapResponse) Legs() (source, target swap.Leg, err error) {
	desc, err := r.Direction.Descriptor()
	if err != nil {
		return nil, nil, err
	}
	if len(r.SourceLeg) > 0 {
		if source, err = swap.DecodeLeg(swap.LegKindFor(desc.Source), r.SourceLeg); err != nil {
			return nil, nil, fmt.Errorf("source leg: %w", err)
		}
	}
	if len(r.TargetLeg) > 0 {
		if target, err = swap.DecodeLeg(swap.LegKindFor(desc.Target), r.TargetLeg); err != nil {
			return nil, nil, fmt.Errorf("target leg: %w", err)
		}
	}
	return source, target, nil
}

// Apply copies the coordinator-assigned fields of a creation response onto
// a record. Status is left to the state machine.
func (r *SwapResponse) Apply(rec *swap.Record) error {
	src, tgt, err := r.Legs()
	if err != nil {
		return err
	}
	if r.ID != "" {
		rec.ID = r.ID
	}
	if r.SourceAmount != nil {
		rec.SourceAmount = r.SourceAmount
	}
	if r.TargetAmount != nil {
		rec.TargetAmount = r.TargetAmount
	}
	if r.Locktimes != (swap.Locktimes{}) {
		rec.Locktimes = r.Locktimes
	}
	if r.CreatedAt > 0 {
		rec.CreatedAt = time.Unix(r.CreatedAt, 0).UTC()
	}
	if src != nil {
		rec.SourceLeg = src
	}
	if tgt != nil {
		rec.TargetLeg = tgt
	}
	return nil
}

type claimRequest struct {
	Secret      string `json:"secret,omitempty"`
	Destination string `json:"destination"`
}

type refundRequest struct {
	RefundAddress string `json:"refund_address"`
}

type txResponse struct {
	TxID  string `json:"txid"`
	Error string `json:"error,omitempty"`
}

// LockedOutput is one output locked in a swap contract.
type LockedOutput struct {
	Amount      *big.Int `json:"amount"`
	Spent       bool     `json:"spent"`
	Recoverable bool     `json:"recoverable"`
}

// LockedFunds describes what the client locked in a swap.
type LockedFunds struct {
	RefundLocktime int64          `json:"refund_locktime"`
	Outputs        []LockedOutput `json:"outputs"`
}

// Buckets partitions the outputs for refund evaluation.
func (l *LockedFunds) Buckets() refund.Buckets {
	outs := make([]refund.Output, len(l.Outputs))
	for i, o := range l.Outputs {
		outs[i] = refund.Output{Amount: o.Amount, Spent: o.Spent, Recoverable: o.Recoverable}
	}
	return refund.Bucketize(outs)
}

// StatusUpdate is a pushed status change.
type StatusUpdate struct {
	ID     string      `json:"id"`
	Status swap.Status `json:"status"`
	Error  string      `json:"error,omitempty"`
}
