package swap

import (
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/klingon-exchange/swapclient/internal/chain"
	"github.com/klingon-exchange/swapclient/internal/secret"
)

func testRecord(t *testing.T) *Record {
	t.Helper()
	usdc, err := chain.ParseAsset("usdc@polygon")
	if err != nil {
		t.Fatal(err)
	}
	s, _ := secret.GenerateSecret()
	h, _ := secret.HashSecret(s)
	return &Record{
		ID:              "swap-1",
		Direction:       DirectionArkadeToEVM,
		SourceAsset:     chain.BTC(chain.KindArkade),
		TargetAsset:     usdc,
		SourceAmount:    big.NewInt(100_000),
		TargetAmount:    big.NewInt(69_475_000),
		Secret:          s,
		HashLock:        h,
		RefundPublicKey: "02" + strings.Repeat("ab", 32),
		ClaimAddress:    "0x000000000000000000000000000000000000dEaD",
		Status:          StatusPending,
		Locktimes:       Locktimes{RefundLocktime: 1_800_000_000, UnilateralClaimDelay: 512},
		CreatedAt:       time.Unix(1_700_000_000, 0).UTC(),
		SourceLeg:       &VHTLCLeg{Address: "tark1qxyz", Amount: 100_000},
		TargetLeg: &EVMLeg{
			ChainID:      chain.ChainIDPolygon,
			HTLCAddress:  common.HexToAddress("0x1111111111111111111111111111111111111111"),
			TokenAddress: usdc.TokenAddress,
			Amount:       big.NewInt(69_475_000),
			Timelock:     1_800_000_000,
		},
	}
}

func TestRecordValidate(t *testing.T) {
	r := testRecord(t)
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	bad := r.Clone()
	bad.HashLock = "0x" + strings.Repeat("00", 32)
	if err := bad.Validate(); !errors.Is(err, ErrHashLockMismatch) {
		t.Errorf("hash mismatch err = %v", err)
	}

	bad = r.Clone()
	bad.TargetAmount = big.NewInt(-1)
	if err := bad.Validate(); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("negative amount err = %v", err)
	}

	bad = r.Clone()
	bad.SourceAmount, bad.TargetAmount = nil, nil
	if err := bad.Validate(); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("both undefined err = %v", err)
	}

	bad = r.Clone()
	bad.Direction = DirectionEVMToArkade
	if err := bad.Validate(); !errors.Is(err, ErrInvalidRecord) {
		t.Errorf("direction mismatch err = %v", err)
	}
}

func TestRecordJSONOmitsSecret(t *testing.T) {
	r := testRecord(t)
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), r.Secret) {
		t.Fatal("serialized record contains the secret")
	}

	var got Record
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Secret != "" {
		t.Error("secret should not round trip")
	}
	if got.HashLock != r.HashLock || got.Status != r.Status || got.TargetAmount.Cmp(r.TargetAmount) != 0 {
		t.Errorf("decoded record = %+v", got)
	}
	if got.TargetAsset.TokenAddress != r.TargetAsset.TokenAddress {
		t.Errorf("token address = %s", got.TargetAsset.TokenAddress.Hex())
	}

	evm, ok := got.TargetLeg.(*EVMLeg)
	if !ok {
		t.Fatalf("TargetLeg type = %T", got.TargetLeg)
	}
	if evm.Amount.Cmp(big.NewInt(69_475_000)) != 0 || evm.ChainID != chain.ChainIDPolygon {
		t.Errorf("EVM leg = %+v", evm)
	}
	if _, ok := got.SourceLeg.(*VHTLCLeg); !ok {
		t.Errorf("SourceLeg type = %T", got.SourceLeg)
	}
}

func TestUnmarshalLegUnknownKind(t *testing.T) {
	if _, err := UnmarshalLeg([]byte(`{"kind":"solana","data":{}}`)); err == nil {
		t.Error("expected error for unknown leg kind")
	}
	leg, err := UnmarshalLeg([]byte("null"))
	if err != nil || leg != nil {
		t.Errorf("null leg = %v, %v", leg, err)
	}
}

func TestRecordAdvance(t *testing.T) {
	r := testRecord(t)
	if _, err := r.Advance(StatusClientFunded); err != nil {
		t.Fatal(err)
	}
	if r.Status != StatusClientFunded {
		t.Errorf("status = %s", r.Status)
	}
	if _, err := r.Advance(StatusPending); !errors.Is(err, ErrAnomaly) {
		t.Errorf("backward err = %v", err)
	}
	if r.Status != StatusClientFunded {
		t.Errorf("status corrupted by anomaly: %s", r.Status)
	}
}

func TestDirectionFor(t *testing.T) {
	usdc, _ := chain.ParseAsset("usdc@arbitrum")
	dir, err := DirectionFor(chain.BTC(chain.KindLightning), usdc)
	if err != nil || dir != DirectionLightningToEVM {
		t.Errorf("DirectionFor = %s, %v", dir, err)
	}
	if _, err := DirectionFor(usdc, usdc); !errors.Is(err, ErrUnknownDirection) {
		t.Errorf("err = %v", err)
	}
	if LegKindFor(chain.KindArkade) != LegVHTLC || LegKindFor(chain.KindBitcoin) != LegOnchain {
		t.Error("LegKindFor mismatch")
	}
}
