// Package backend reads bitcoin HTLC addresses from a block explorer API so
// that refunds of on-chain legs can be checked against the chain itself.
// It never handles keys.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/klingon-exchange/swapclient/internal/chain"
)

// Common errors
var (
	ErrAddressNotFound    = errors.New("address not found")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnsupportedBackend = errors.New("unsupported backend type")
	ErrDisabled           = errors.New("no explorer configured for network")
)

// Type represents the backend type.
type Type string

const (
	TypeMempool Type = "mempool" // mempool.space API
	TypeEsplora Type = "esplora" // blockstream.info API
)

// UTXO represents an unspent transaction output.
type UTXO struct {
	TxID        string `json:"txid"`
	Vout        uint32 `json:"vout"`
	Amount      uint64 `json:"value"` // satoshis
	Confirmed   bool   `json:"confirmed"`
	BlockHeight int64  `json:"block_height,omitempty"`
}

// Transaction is the part of a transaction needed to follow an address.
type Transaction struct {
	TxID        string     `json:"txid"`
	Confirmed   bool       `json:"confirmed"`
	BlockHeight int64      `json:"block_height,omitempty"`
	Outputs     []TxOutput `json:"vout"`
}

// TxOutput represents a transaction output.
type TxOutput struct {
	Address string `json:"scriptpubkey_address,omitempty"`
	Value   uint64 `json:"value"`
}

// Backend is a read-only view of bitcoin addresses.
type Backend interface {
	// Type returns the backend type (mempool, esplora)
	Type() Type

	GetAddressUTXOs(ctx context.Context, address string) ([]UTXO, error)
	GetAddressTxs(ctx context.Context, address string) ([]Transaction, error)
	GetBlockHeight(ctx context.Context) (int64, error)
}

// Config contains backend configuration.
type Config struct {
	Type Type `yaml:"type"`

	// URL overrides the default explorer of the network.
	URL string `yaml:"url,omitempty"`
}

// DefaultURL returns the public explorer API of a network. Regtest has none.
func DefaultURL(t Type, network chain.Network) string {
	switch t {
	case TypeEsplora:
		switch network {
		case chain.Mainnet:
			return "https://blockstream.info/api"
		case chain.Testnet:
			return "https://blockstream.info/testnet/api"
		}
	default:
		switch network {
		case chain.Mainnet:
			return "https://mempool.space/api"
		case chain.Testnet:
			return "https://mempool.space/testnet4/api"
		}
	}
	return ""
}

// New creates the backend described by cfg for a network.
func New(cfg Config, network chain.Network) (Backend, error) {
	url := cfg.URL
	if url == "" {
		url = DefaultURL(cfg.Type, network)
	}
	if url == "" {
		return nil, fmt.Errorf("%w %s", ErrDisabled, network)
	}

	switch cfg.Type {
	case TypeMempool, "":
		return NewMempoolBackend(url), nil
	case TypeEsplora:
		return NewEsploraBackend(url), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, cfg.Type)
}
