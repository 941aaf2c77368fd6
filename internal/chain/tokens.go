package chain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// TokenInfo contains information about an ERC-20 token on a specific chain.
type TokenInfo struct {
	Symbol   string
	Name     string
	Decimals uint8
	Address  common.Address
	ChainID  uint64
}

// Asset returns the swap asset descriptor for the token.
func (t *TokenInfo) Asset() Asset {
	return Asset{
		Kind:         KindEVM,
		Symbol:       t.Symbol,
		Decimals:     t.Decimals,
		ChainID:      t.ChainID,
		TokenAddress: t.Address,
	}
}

// EVM chain IDs the coordinator settles on.
const (
	ChainIDEthereum uint64 = 1
	ChainIDPolygon  uint64 = 137
	ChainIDArbitrum uint64 = 42161
)

var chainNames = map[uint64]string{
	ChainIDEthereum: "ethereum",
	ChainIDPolygon:  "polygon",
	ChainIDArbitrum: "arbitrum",
}

// ChainName returns a human name for an EVM chain id.
func ChainName(chainID uint64) string {
	if name, ok := chainNames[chainID]; ok {
		return name
	}
	return "chain " + strconv.FormatUint(chainID, 10)
}

// ParseChainID accepts a chain name or a decimal chain id.
func ParseChainID(s string) (uint64, error) {
	s = strings.ToLower(s)
	switch s {
	case "eth", "ethereum":
		return ChainIDEthereum, nil
	case "pol", "polygon", "matic":
		return ChainIDPolygon, nil
	case "arb", "arbitrum":
		return ChainIDArbitrum, nil
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown evm chain: %s", s)
	}
	return id, nil
}

// tokenRegistry maps chainID -> symbol -> TokenInfo
var tokenRegistry = make(map[uint64]map[string]*TokenInfo)

func init() {
	// ==========================================================================
	// Ethereum Mainnet (chainID 1)
	// ==========================================================================
	registerToken(ChainIDEthereum, "USDT", "Tether USD", 6, "0xdAC17F958D2ee523a2206206994597C13D831ec7")
	registerToken(ChainIDEthereum, "USDC", "USD Coin", 6, "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	registerToken(ChainIDEthereum, "WBTC", "Wrapped Bitcoin", 8, "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599")

	// ==========================================================================
	// Polygon (chainID 137)
	// ==========================================================================
	registerToken(ChainIDPolygon, "USDT", "Tether USD", 6, "0xc2132D05D31c914a87C6611C10748AEb04B58e8F")
	registerToken(ChainIDPolygon, "USDC", "USD Coin", 6, "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359")
	registerToken(ChainIDPolygon, "WBTC", "Wrapped Bitcoin", 8, "0x1BFD67037B42Cf73acF2047067bd4F2C47D9BfD6")

	// ==========================================================================
	// Arbitrum One (chainID 42161)
	// ==========================================================================
	registerToken(ChainIDArbitrum, "USDT", "Tether USD", 6, "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9")
	registerToken(ChainIDArbitrum, "USDC", "USD Coin", 6, "0xaf88d065e77c8cC2239327C5EDb3A432268e5831")
	registerToken(ChainIDArbitrum, "WBTC", "Wrapped Bitcoin", 8, "0x2f2a2543B76A4166549F7aaB2e75Bef0aefC5B0f")
}

func registerToken(chainID uint64, symbol, name string, decimals uint8, address string) {
	if tokenRegistry[chainID] == nil {
		tokenRegistry[chainID] = make(map[string]*TokenInfo)
	}
	tokenRegistry[chainID][symbol] = &TokenInfo{
		Symbol:   symbol,
		Name:     name,
		Decimals: decimals,
		Address:  common.HexToAddress(address),
		ChainID:  chainID,
	}
}

// GetToken returns token info for a chain and symbol, or nil if not found.
func GetToken(chainID uint64, symbol string) *TokenInfo {
	if tokens, ok := tokenRegistry[chainID]; ok {
		return tokens[symbol]
	}
	return nil
}

// GetTokenByAddress looks a token up by its contract address.
func GetTokenByAddress(chainID uint64, address common.Address) *TokenInfo {
	for _, t := range tokenRegistry[chainID] {
		if t.Address == address {
			return t
		}
	}
	return nil
}

// ListTokens returns all tokens for a chain sorted by symbol.
func ListTokens(chainID uint64) []*TokenInfo {
	tokens := make([]*TokenInfo, 0, len(tokenRegistry[chainID]))
	for _, t := range tokenRegistry[chainID] {
		tokens = append(tokens, t)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i].Symbol < tokens[j].Symbol })
	return tokens
}
