// Package chain defines the assets a swap can move between: bitcoin on its
// three settlement layers and ERC-20 tokens on EVM chains.
package chain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
)

// Network represents the bitcoin network the client runs against.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
	Regtest Network = "regtest"
)

// Params returns the btcd chain parameters for the network.
func (n Network) Params() *chaincfg.Params {
	switch n {
	case Testnet:
		return &chaincfg.TestNet3Params
	case Regtest:
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

// ParseNetwork parses a network name.
func ParseNetwork(s string) (Network, error) {
	switch Network(strings.ToLower(s)) {
	case Mainnet, "":
		return Mainnet, nil
	case Testnet:
		return Testnet, nil
	case Regtest:
		return Regtest, nil
	}
	return "", fmt.Errorf("unknown network: %s", s)
}

// Kind is the settlement layer an asset lives on.
type Kind string

const (
	KindBitcoin   Kind = "bitcoin"   // on-chain HTLC
	KindLightning Kind = "lightning" // hold invoice
	KindArkade    Kind = "arkade"    // VHTLC
	KindEVM       Kind = "evm"       // ERC-20 HTLC contract
)

// BTCDecimals is the smallest-unit exponent of bitcoin.
const BTCDecimals = 8

// Asset describes one side of a swap.
type Asset struct {
	Kind     Kind   `json:"kind"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`

	// EVM only.
	ChainID      uint64         `json:"chain_id,omitempty"`
	TokenAddress common.Address `json:"token_address,omitempty"`
}

// BTC returns the bitcoin asset on the given layer.
func BTC(kind Kind) Asset {
	return Asset{Kind: kind, Symbol: "BTC", Decimals: BTCDecimals}
}

// IsBTC reports whether the asset is bitcoin on any layer.
func (a Asset) IsBTC() bool {
	return a.Kind != KindEVM
}

// IsEVM reports whether the asset is an EVM token.
func (a Asset) IsEVM() bool {
	return a.Kind == KindEVM
}

// ID is the canonical short identifier, e.g. "btc", "lightning", "usdc@137".
func (a Asset) ID() string {
	switch a.Kind {
	case KindBitcoin:
		return "btc"
	case KindLightning, KindArkade:
		return string(a.Kind)
	}
	return strings.ToLower(a.Symbol) + "@" + strconv.FormatUint(a.ChainID, 10)
}

func (a Asset) String() string {
	if a.IsEVM() {
		return fmt.Sprintf("%s on %s", a.Symbol, ChainName(a.ChainID))
	}
	return fmt.Sprintf("BTC (%s)", a.Kind)
}

// Validate checks that the descriptor is internally consistent.
func (a Asset) Validate() error {
	switch a.Kind {
	case KindBitcoin, KindLightning, KindArkade:
		if a.Decimals != BTCDecimals {
			return fmt.Errorf("bitcoin asset must have %d decimals", BTCDecimals)
		}
		return nil
	case KindEVM:
		if a.ChainID == 0 {
			return fmt.Errorf("evm asset %s missing chain id", a.Symbol)
		}
		if a.TokenAddress == (common.Address{}) {
			return fmt.Errorf("evm asset %s missing token address", a.Symbol)
		}
		return nil
	}
	return fmt.Errorf("unknown asset kind: %q", a.Kind)
}

// ParseAsset resolves an identifier such as "btc", "ln", "arkade",
// "usdc@polygon" or "usdt@42161" into an asset descriptor.
func ParseAsset(s string) (Asset, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "btc", "bitcoin", "onchain":
		return BTC(KindBitcoin), nil
	case "ln", "lightning", "lnbtc":
		return BTC(KindLightning), nil
	case "ark", "arkade":
		return BTC(KindArkade), nil
	}

	symbol, chainRef, ok := strings.Cut(s, "@")
	if !ok {
		return Asset{}, fmt.Errorf("unknown asset %q (want btc, lightning, arkade or SYMBOL@CHAIN)", s)
	}
	chainID, err := ParseChainID(chainRef)
	if err != nil {
		return Asset{}, err
	}
	token := GetToken(chainID, strings.ToUpper(symbol))
	if token == nil {
		return Asset{}, fmt.Errorf("token %s not supported on %s", strings.ToUpper(symbol), ChainName(chainID))
	}
	return token.Asset(), nil
}
