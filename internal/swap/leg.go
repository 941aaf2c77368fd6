package swap

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/klingon-exchange/swapclient/internal/chain"
)

// LegKind discriminates the per-chain details of one side of a swap.
type LegKind string

const (
	LegEVM       LegKind = "evm"
	LegVHTLC     LegKind = "vhtlc"
	LegLightning LegKind = "lightning"
	LegOnchain   LegKind = "onchain"
)

// Leg is one side of a swap. Exactly one concrete type exists per LegKind.
type Leg interface {
	Kind() LegKind
}

// EVMLeg is an ERC-20 HTLC.
type EVMLeg struct {
	ChainID      uint64         `json:"chain_id"`
	HTLCAddress  common.Address `json:"htlc_address"`
	TokenAddress common.Address `json:"token_address"`
	Sender       common.Address `json:"sender"`
	Receiver     common.Address `json:"receiver"`
	Amount       *big.Int       `json:"amount"`
	Timelock     int64          `json:"timelock"`
	FundTxHash   string         `json:"fund_tx_hash,omitempty"`
	ClaimTxHash  string         `json:"claim_tx_hash,omitempty"`
	RefundTxHash string         `json:"refund_tx_hash,omitempty"`
}

// VHTLCLeg is a virtual HTLC on Arkade.
type VHTLCLeg struct {
	Address        string `json:"address"`
	SenderPubKey   string `json:"sender_pubkey"`
	ReceiverPubKey string `json:"receiver_pubkey"`
	ServerPubKey   string `json:"server_pubkey"`
	Amount         int64  `json:"amount"`
	FundTxID       string `json:"fund_txid,omitempty"`
	ClaimTxID      string `json:"claim_txid,omitempty"`
}

// LightningLeg is a hold invoice.
type LightningLeg struct {
	Invoice     string `json:"invoice"`
	PaymentHash string `json:"payment_hash"`
	AmountSats  int64  `json:"amount_sats"`
}

// OnchainLeg is a bitcoin HTLC output.
type OnchainLeg struct {
	Address      string `json:"address"`
	RedeemScript string `json:"redeem_script,omitempty"`
	AmountSats   int64  `json:"amount_sats"`
	FundTxID     string `json:"fund_txid,omitempty"`
	FundVout     uint32 `json:"fund_vout"`
	ClaimTxID    string `json:"claim_txid,omitempty"`
	RefundTxID   string `json:"refund_txid,omitempty"`
}

func (*EVMLeg) Kind() LegKind       { return LegEVM }
func (*VHTLCLeg) Kind() LegKind     { return LegVHTLC }
func (*LightningLeg) Kind() LegKind { return LegLightning }
func (*OnchainLeg) Kind() LegKind   { return LegOnchain }

// legEnvelope is the tagged wire and storage form of a Leg.
type legEnvelope struct {
	Kind LegKind         `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MarshalLeg encodes a leg with its kind tag. A nil leg encodes as null.
func MarshalLeg(l Leg) ([]byte, error) {
	if l == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return json.Marshal(legEnvelope{Kind: l.Kind(), Data: data})
}

// UnmarshalLeg decodes a tagged leg. The tag alone selects the type.
func UnmarshalLeg(b []byte) (Leg, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var env legEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode leg: %w", err)
	}
	return DecodeLeg(env.Kind, env.Data)
}

// DecodeLeg decodes the payload of a leg of the given kind.
func DecodeLeg(kind LegKind, data []byte) (Leg, error) {
	var leg Leg
	switch kind {
	case LegEVM:
		leg = &EVMLeg{}
	case LegVHTLC:
		leg = &VHTLCLeg{}
	case LegLightning:
		leg = &LightningLeg{}
	case LegOnchain:
		leg = &OnchainLeg{}
	default:
		return nil, fmt.Errorf("unknown leg kind %q", kind)
	}
	if err := json.Unmarshal(data, leg); err != nil {
		return nil, fmt.Errorf("decode %s leg: %w", kind, err)
	}
	return leg, nil
}

// LegKindFor returns the leg kind used for an asset kind.
func LegKindFor(k chain.Kind) LegKind {
	switch k {
	case chain.KindEVM:
		return LegEVM
	case chain.KindArkade:
		return LegVHTLC
	case chain.KindLightning:
		return LegLightning
	default:
		return LegOnchain
	}
}
