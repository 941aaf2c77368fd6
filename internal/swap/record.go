package swap

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/klingon-exchange/swapclient/internal/chain"
	"github.com/klingon-exchange/swapclient/internal/secret"
)

// Record validation errors.
var (
	ErrInvalidRecord    = errors.New("invalid swap record")
	ErrHashLockMismatch = errors.New("hash lock does not match secret")
)

// Locktimes bound when contract branches become spendable. RefundLocktime is
// an absolute unix timestamp; the delays are relative, in seconds.
type Locktimes struct {
	RefundLocktime                           int64 `json:"refund_locktime"`
	UnilateralClaimDelay                     int64 `json:"unilateral_claim_delay"`
	UnilateralRefundDelay                    int64 `json:"unilateral_refund_delay"`
	UnilateralRefundWithoutCounterpartyDelay int64 `json:"unilateral_refund_without_counterparty_delay"`
}

// RefundAt returns the refund locktime as a time.
func (l Locktimes) RefundAt() time.Time {
	return time.Unix(l.RefundLocktime, 0)
}

// Record is the persistent unit of work for one swap. It is created once,
// when the coordinator accepts the swap, and only its status and legs change
// afterwards.
type Record struct {
	ID        string    `json:"id"`
	Direction Direction `json:"direction"`

	SourceAsset  chain.Asset `json:"source_asset"`
	TargetAsset  chain.Asset `json:"target_asset"`
	SourceAmount *big.Int    `json:"source_amount"`
	TargetAmount *big.Int    `json:"target_amount"`

	// Secret is the hash-lock preimage when the client created it. It is
	// stored separately and never serialized with the record.
	Secret   string `json:"-"`
	HashLock string `json:"hash_lock"`

	RefundPublicKey string `json:"refund_public_key"`
	ClaimAddress    string `json:"claim_address"`
	RefundAddress   string `json:"refund_address,omitempty"`

	Status    Status    `json:"status"`
	Locktimes Locktimes `json:"locktimes"`
	CreatedAt time.Time `json:"created_at"`

	SourceLeg Leg `json:"-"`
	TargetLeg Leg `json:"-"`
}

// Descriptor returns the direction descriptor of the record.
func (r *Record) Descriptor() (Descriptor, error) {
	return r.Direction.Descriptor()
}

// Validate checks the record's invariants.
func (r *Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidRecord)
	}
	desc, err := r.Direction.Descriptor()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if r.SourceAsset.Kind != desc.Source || r.TargetAsset.Kind != desc.Target {
		return fmt.Errorf("%w: assets %s -> %s do not match direction %s",
			ErrInvalidRecord, r.SourceAsset.Kind, r.TargetAsset.Kind, r.Direction)
	}
	if r.SourceAmount == nil && r.TargetAmount == nil {
		return fmt.Errorf("%w: both amounts undefined", ErrInvalidRecord)
	}
	for _, a := range []*big.Int{r.SourceAmount, r.TargetAmount} {
		if a != nil && a.Sign() < 0 {
			return fmt.Errorf("%w: negative amount", ErrInvalidRecord)
		}
	}
	if _, err := ParseStatus(string(r.Status)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if r.Secret != "" && !secret.VerifySecret(r.Secret, r.HashLock) {
		return ErrHashLockMismatch
	}
	return nil
}

// Advance applies an observed status to the record, returning the effects of
// the transition. On an anomaly the record is left unchanged.
func (r *Record) Advance(observed Status) ([]Effect, error) {
	desc, err := r.Descriptor()
	if err != nil {
		return nil, err
	}
	next, effects, err := Reduce(desc, r.ID, r.Status, observed)
	r.Status = next
	return effects, err
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	c := *r
	if r.SourceAmount != nil {
		c.SourceAmount = new(big.Int).Set(r.SourceAmount)
	}
	if r.TargetAmount != nil {
		c.TargetAmount = new(big.Int).Set(r.TargetAmount)
	}
	return &c
}

type recordAlias Record

type recordJSON struct {
	*recordAlias
	SourceLeg json.RawMessage `json:"source_leg"`
	TargetLeg json.RawMessage `json:"target_leg"`
}

// MarshalJSON encodes the record with tagged legs. The secret is omitted.
func (r *Record) MarshalJSON() ([]byte, error) {
	src, err := MarshalLeg(r.SourceLeg)
	if err != nil {
		return nil, err
	}
	tgt, err := MarshalLeg(r.TargetLeg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(recordJSON{recordAlias: (*recordAlias)(r), SourceLeg: src, TargetLeg: tgt})
}

// UnmarshalJSON decodes a record produced by MarshalJSON.
func (r *Record) UnmarshalJSON(b []byte) error {
	aux := recordJSON{recordAlias: (*recordAlias)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	var err error
	if r.SourceLeg, err = UnmarshalLeg(aux.SourceLeg); err != nil {
		return err
	}
	r.TargetLeg, err = UnmarshalLeg(aux.TargetLeg)
	return err
}
