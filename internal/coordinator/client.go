// Package coordinator is the client of the swap coordinator backend: swap
// creation, status polling, quotes, claim and refund broadcasts, and the
// status push stream.
package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/klingon-exchange/swapclient/internal/chain"
	"github.com/klingon-exchange/swapclient/internal/quote"
	"github.com/klingon-exchange/swapclient/pkg/logging"
)

// Client is the coordinator contract the swap client depends on.
type Client interface {
	SubmitSwapRequest(ctx context.Context, req *SwapRequest) (*SwapResponse, error)
	FetchSwapStatus(ctx context.Context, id string) (*SwapResponse, error)
	FetchQuote(ctx context.Context, source, target chain.Asset, amount *big.Int) (*quote.Quote, error)
	BroadcastClaim(ctx context.Context, id, secret, destination string) (string, error)
	BroadcastRefund(ctx context.Context, id, refundAddress string) (string, error)
	FetchLockedFunds(ctx context.Context, id string) (*LockedFunds, error)
}

// Config configures the HTTP client.
type Config struct {
	URL     string
	WSURL   string
	Timeout time.Duration
}

const defaultHTTPTimeout = 15 * time.Second

// HTTPClient talks to the coordinator over HTTP and WebSocket.
type HTTPClient struct {
	url     string
	wsURL   string
	timeout time.Duration
	client  http.Client
	log     *logging.Logger
}

var _ Client = (*HTTPClient)(nil)

// New creates a coordinator client.
func New(cfg Config) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &HTTPClient{
		url:     strings.TrimRight(cfg.URL, "/"),
		wsURL:   cfg.WSURL,
		timeout: timeout,
		log:     logging.GetDefault().Component("coordinator"),
	}
}

// SubmitSwapRequest creates a swap. Each call carries a fresh idempotency
// key so a retried transport does not open two swaps.
func (c *HTTPClient) SubmitSwapRequest(ctx context.Context, req *SwapRequest) (*SwapResponse, error) {
	header := http.Header{}
	header.Set("Idempotency-Key", uuid.NewString())

	resp, err := send[SwapResponse](ctx, c, http.MethodPost, "/v1/swap", req, header)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrValidation, resp.Error)
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("coordinator returned a swap without id")
	}
	c.log.Info("Swap created", "swap_id", resp.ID, "direction", resp.Direction)
	return resp, nil
}

// FetchSwapStatus returns the current coordinator snapshot of a swap.
func (c *HTTPClient) FetchSwapStatus(ctx context.Context, id string) (*SwapResponse, error) {
	return send[SwapResponse](ctx, c, http.MethodGet, "/v1/swap/"+url.PathEscape(id), nil, nil)
}

// FetchQuote returns a fresh quote for amount of source.
func (c *HTTPClient) FetchQuote(ctx context.Context, source, target chain.Asset, amount *big.Int) (*quote.Quote, error) {
	q := url.Values{}
	q.Set("source", source.ID())
	q.Set("target", target.ID())
	if amount != nil {
		q.Set("amount", amount.String())
	}
	return send[quote.Quote](ctx, c, http.MethodGet, "/v1/quote?"+q.Encode(), nil, nil)
}

// BroadcastClaim asks the coordinator to broadcast the claim of our leg.
func (c *HTTPClient) BroadcastClaim(ctx context.Context, id, secret, destination string) (string, error) {
	endpoint := fmt.Sprintf("/v1/swap/%s/claim", url.PathEscape(id))
	resp, err := send[txResponse](ctx, c, http.MethodPost, endpoint,
		claimRequest{Secret: secret, Destination: destination}, nil)
	if err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("claim %s: %s", id, resp.Error)
	}
	return resp.TxID, nil
}

// BroadcastRefund asks the coordinator to broadcast the refund of our leg.
func (c *HTTPClient) BroadcastRefund(ctx context.Context, id, refundAddress string) (string, error) {
	endpoint := fmt.Sprintf("/v1/swap/%s/refund", url.PathEscape(id))
	resp, err := send[txResponse](ctx, c, http.MethodPost, endpoint,
		refundRequest{RefundAddress: refundAddress}, nil)
	if err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("refund %s: %s", id, resp.Error)
	}
	return resp.TxID, nil
}

// FetchLockedFunds returns the outputs the client locked in a swap.
func (c *HTTPClient) FetchLockedFunds(ctx context.Context, id string) (*LockedFunds, error) {
	endpoint := fmt.Sprintf("/v1/swap/%s/locked", url.PathEscape(id))
	return send[LockedFunds](ctx, c, http.MethodGet, endpoint, nil, nil)
}

func send[T any](ctx context.Context, c *HTTPClient, method, endpoint string, reqBody any, header http.Header) (*T, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.log.Debug("Coordinator request", "method", method, "endpoint", endpoint)
	return callApi[T](ctx, &c.client, method, c.url+endpoint, reqBody, header)
}

func callApi[T any](ctx context.Context, c *http.Client, method, url string, reqBody any, header http.Header) (*T, error) {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("new %s %s: %w", method, url, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if len(msg) > 2000 {
			msg = msg[:2000] + "...(truncated)"
		}
		return nil, &HTTPError{
			Method:     method,
			URL:        url,
			StatusCode: res.StatusCode,
			Body:       msg,
		}
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		var zero T
		return &zero, nil
	}

	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		snip := strings.TrimSpace(string(raw))
		if len(snip) > 300 {
			snip = snip[:300] + "...(truncated)"
		}
		return nil, fmt.Errorf("unmarshal JSON: %w (body: %q)", err, snip)
	}
	return &out, nil
}
