// Package swap holds the swap record, the direction descriptors and the
// status state machine shared by every swap direction.
package swap

import (
	"errors"
	"fmt"

	"github.com/klingon-exchange/swapclient/internal/chain"
)

// Direction identifies which asset the client sends and which it receives.
type Direction string

const (
	DirectionBitcoinToEVM    Direction = "bitcoin_to_evm"
	DirectionLightningToEVM  Direction = "lightning_to_evm"
	DirectionArkadeToEVM     Direction = "arkade_to_evm"
	DirectionEVMToBitcoin    Direction = "evm_to_bitcoin"
	DirectionEVMToLightning  Direction = "evm_to_lightning"
	DirectionEVMToArkade     Direction = "evm_to_arkade"
	DirectionBitcoinToArkade Direction = "bitcoin_to_arkade"
)

// ClaimKind is how the client takes its proceeds once the server has funded.
type ClaimKind string

const (
	ClaimNone    ClaimKind = "none"    // proceeds arrive without a client action
	ClaimEVM     ClaimKind = "evm"     // reveal the secret to the EVM HTLC
	ClaimVHTLC   ClaimKind = "vhtlc"   // spend the Arkade VHTLC with the secret
	ClaimOnchain ClaimKind = "onchain" // spend the bitcoin HTLC with the secret
)

// RefundKind is how the client recovers its own funds after the locktime.
type RefundKind string

const (
	RefundNone    RefundKind = "none"    // hold invoice is cancelled, nothing to sign
	RefundEVM     RefundKind = "evm"     // call refund on the EVM HTLC
	RefundVHTLC   RefundKind = "vhtlc"   // refund the Arkade VHTLC
	RefundOnchain RefundKind = "onchain" // spend the bitcoin HTLC timeout path
)

// Descriptor is everything direction-specific the state machine, the claim
// engine and the refund evaluator need. One engine handles all directions by
// consulting it.
type Descriptor struct {
	Direction Direction
	Source    chain.Kind
	Target    chain.Kind

	// ClientCreatesSecret is set when the client generates the preimage
	// and sends only its hash-lock to the coordinator.
	ClientCreatesSecret bool

	ClaimKind  ClaimKind
	RefundKind RefundKind
}

// NeedsSecret reports whether claims in this direction require the secret.
func (d Descriptor) NeedsSecret() bool {
	return d.ClaimKind != ClaimNone && d.ClientCreatesSecret
}

var descriptors = map[Direction]Descriptor{
	DirectionBitcoinToEVM: {
		Source: chain.KindBitcoin, Target: chain.KindEVM,
		ClientCreatesSecret: true, ClaimKind: ClaimEVM, RefundKind: RefundOnchain,
	},
	DirectionLightningToEVM: {
		Source: chain.KindLightning, Target: chain.KindEVM,
		ClientCreatesSecret: true, ClaimKind: ClaimEVM, RefundKind: RefundNone,
	},
	DirectionArkadeToEVM: {
		Source: chain.KindArkade, Target: chain.KindEVM,
		ClientCreatesSecret: true, ClaimKind: ClaimEVM, RefundKind: RefundVHTLC,
	},
	DirectionEVMToBitcoin: {
		Source: chain.KindEVM, Target: chain.KindBitcoin,
		ClientCreatesSecret: true, ClaimKind: ClaimOnchain, RefundKind: RefundEVM,
	},
	DirectionEVMToLightning: {
		// The invoice's preimage lives in the user's Lightning wallet; the
		// server pays it and the client has nothing to claim.
		Source: chain.KindEVM, Target: chain.KindLightning,
		ClientCreatesSecret: false, ClaimKind: ClaimNone, RefundKind: RefundEVM,
	},
	DirectionEVMToArkade: {
		Source: chain.KindEVM, Target: chain.KindArkade,
		ClientCreatesSecret: true, ClaimKind: ClaimVHTLC, RefundKind: RefundEVM,
	},
	DirectionBitcoinToArkade: {
		Source: chain.KindBitcoin, Target: chain.KindArkade,
		ClientCreatesSecret: true, ClaimKind: ClaimVHTLC, RefundKind: RefundOnchain,
	},
}

// ErrUnknownDirection is returned for unsupported directions.
var ErrUnknownDirection = errors.New("unknown swap direction")

// Descriptor returns the descriptor for d.
func (d Direction) Descriptor() (Descriptor, error) {
	desc, ok := descriptors[d]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownDirection, d)
	}
	desc.Direction = d
	return desc, nil
}

// DirectionFor infers the direction of a swap between two assets.
func DirectionFor(source, target chain.Asset) (Direction, error) {
	for dir, desc := range descriptors {
		if desc.Source == source.Kind && desc.Target == target.Kind {
			return dir, nil
		}
	}
	return "", fmt.Errorf("%w: %s -> %s", ErrUnknownDirection, source.Kind, target.Kind)
}

// Directions returns all supported directions.
func Directions() []Direction {
	return []Direction{
		DirectionBitcoinToEVM, DirectionLightningToEVM, DirectionArkadeToEVM,
		DirectionEVMToBitcoin, DirectionEVMToLightning, DirectionEVMToArkade,
		DirectionBitcoinToArkade,
	}
}
