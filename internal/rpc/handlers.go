package rpc

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/klingon-exchange/swapclient/internal/chain"
	"github.com/klingon-exchange/swapclient/internal/quote"
	"github.com/klingon-exchange/swapclient/internal/service"
	"github.com/klingon-exchange/swapclient/internal/swap"
	"github.com/klingon-exchange/swapclient/pkg/helpers"
)

// Version of the client
const Version = "0.1.0-dev"

func decodeParams(params json.RawMessage, v interface{}) error {
	if len(params) == 0 {
		return paramsError("missing params")
	}
	if err := json.Unmarshal(params, v); err != nil {
		return paramsError("invalid params: %v", err)
	}
	return nil
}

// ========================================
// Client handlers
// ========================================

// ClientStatusResult is the response for client_status.
type ClientStatusResult struct {
	Version   string `json:"version"`
	WSClients int    `json:"ws_clients"`
}

func (s *Server) clientStatus(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return &ClientStatusResult{
		Version:   Version,
		WSClients: s.wsHub.ClientCount(),
	}, nil
}

// ========================================
// Quote and creation
// ========================================

// AmountParams names a pair and an amount on one side of it. Amount is in
// whole units ("0.001" BTC, "25.5" USDC).
type AmountParams struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Side   string `json:"side"` // "source" (default) or "target"
	Amount string `json:"amount"`
}

func (p *AmountParams) parse() (src, tgt chain.Asset, side quote.Side, amt *big.Int, err error) {
	if src, err = chain.ParseAsset(p.From); err != nil {
		return src, tgt, side, nil, paramsError("from: %v", err)
	}
	if tgt, err = chain.ParseAsset(p.To); err != nil {
		return src, tgt, side, nil, paramsError("to: %v", err)
	}
	decimals := src.Decimals
	switch p.Side {
	case "", "source":
		side = quote.SideSource
	case "target":
		side = quote.SideTarget
		decimals = tgt.Decimals
	default:
		return src, tgt, side, nil, paramsError("side must be source or target")
	}
	if amt, err = helpers.ParseUnits(p.Amount, decimals); err != nil {
		return src, tgt, side, nil, paramsError("amount: %v", err)
	}
	return src, tgt, side, amt, nil
}

// QuoteResult is the response for swap_quote. Amounts are in smallest units.
type QuoteResult struct {
	SourceAmount    string  `json:"source_amount"`
	TargetAmount    string  `json:"target_amount"`
	SourceDisplay   string  `json:"source_display"`
	TargetDisplay   string  `json:"target_display"`
	ExchangeRate    float64 `json:"exchange_rate"`
	ProtocolFeeRate float64 `json:"protocol_fee_rate"`
	FixedFees       uint64  `json:"fixed_fees"`
}

func (s *Server) swapQuote(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p AmountParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	src, tgt, side, amt, err := p.parse()
	if err != nil {
		return nil, err
	}

	d, err := s.svc.Quote(ctx, src, tgt, side, amt)
	if err != nil {
		return nil, err
	}
	return &QuoteResult{
		SourceAmount:    d.SourceAmount.String(),
		TargetAmount:    d.TargetAmount.String(),
		SourceDisplay:   helpers.FormatUnits(d.SourceAmount, src.Decimals),
		TargetDisplay:   helpers.FormatUnits(d.TargetAmount, tgt.Decimals),
		ExchangeRate:    d.Quote.ExchangeRate,
		ProtocolFeeRate: d.Quote.ProtocolFeeRate,
		FixedFees:       d.Quote.FixedFees,
	}, nil
}

// CreateParams are the parameters of swap_create.
type CreateParams struct {
	AmountParams
	ClaimAddress  string `json:"claim_address"`
	RefundAddress string `json:"refund_address,omitempty"`
	Invoice       string `json:"invoice,omitempty"`
}

func (s *Server) swapCreate(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p CreateParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	src, tgt, side, amt, err := p.parse()
	if err != nil {
		return nil, err
	}

	req := &service.CreateRequest{
		Source:        src,
		Target:        tgt,
		ClaimAddress:  p.ClaimAddress,
		RefundAddress: p.RefundAddress,
		Invoice:       p.Invoice,
	}
	if side == quote.SideTarget {
		req.TargetAmount = amt
	} else {
		req.SourceAmount = amt
	}

	rec, err := s.svc.CreateSwap(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.swapInfo(rec), nil
}

// ========================================
// Swap queries
// ========================================

// SwapInfo is a stored swap with its local progress.
type SwapInfo struct {
	Swap         *swap.Record `json:"swap"`
	ClaimState   string       `json:"claim_state"`
	ClaimRetries int          `json:"claim_retries"`
	Watching     bool         `json:"watching"`
}

func (s *Server) swapInfo(rec *swap.Record) *SwapInfo {
	state, retries := s.svc.ClaimState(rec.ID)
	return &SwapInfo{
		Swap:         rec,
		ClaimState:   string(state),
		ClaimRetries: retries,
		Watching:     s.svc.Watching(rec.ID),
	}
}

// IDParams identifies a swap.
type IDParams struct {
	ID string `json:"id"`
}

func (p *IDParams) validate() error {
	if p.ID == "" {
		return paramsError("id is required")
	}
	return nil
}

func (s *Server) swapGet(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p IDParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	rec, err := s.svc.GetSwap(p.ID)
	if err != nil {
		return nil, err
	}
	return s.swapInfo(rec), nil
}

// ListParams are the parameters of swap_list.
type ListParams struct {
	Limit  int  `json:"limit"`
	Active bool `json:"active"`
}

func (s *Server) swapList(ctx context.Context, params json.RawMessage) (interface{}, error) {
	p := ListParams{Limit: 50}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, paramsError("invalid params: %v", err)
		}
	}
	recs, err := s.svc.ListSwaps(p.Limit, p.Active)
	if err != nil {
		return nil, err
	}
	out := make([]*SwapInfo, 0, len(recs))
	for _, rec := range recs {
		out = append(out, s.swapInfo(rec))
	}
	return out, nil
}

// ========================================
// Refund and claim actions
// ========================================

// RefundCheckResult is the response for swap_checkRefund.
type RefundCheckResult struct {
	Eligible       bool   `json:"eligible"`
	Classification string `json:"classification"`
	Path           string `json:"path,omitempty"`
	Amount         string `json:"amount"`
	RefundAt       int64  `json:"refund_at"`
	WaitSeconds    int64  `json:"wait_seconds,omitempty"`
}

func (s *Server) swapCheckRefund(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p IDParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	res, err := s.svc.CheckRefund(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return &RefundCheckResult{
		Eligible:       res.Eligible,
		Classification: string(res.Classification),
		Path:           string(res.Path),
		Amount:         res.Amount.String(),
		RefundAt:       res.RefundAt.Unix(),
		WaitSeconds:    int64(res.Wait.Seconds()),
	}, nil
}

// RefundParams are the parameters of swap_refund.
type RefundParams struct {
	ID      string `json:"id"`
	Address string `json:"address,omitempty"`
}

// TxResult carries a broadcast transaction id.
type TxResult struct {
	TxID string `json:"txid"`
}

func (s *Server) swapRefund(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p RefundParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, paramsError("id is required")
	}
	txID, err := s.svc.Refund(ctx, p.ID, p.Address)
	if err != nil {
		return nil, err
	}
	return &TxResult{TxID: txID}, nil
}

func (s *Server) swapRetryClaim(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p IDParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	if err := s.svc.RetryClaim(p.ID); err != nil {
		return nil, err
	}
	rec, err := s.svc.GetSwap(p.ID)
	if err != nil {
		return nil, err
	}
	return s.swapInfo(rec), nil
}
