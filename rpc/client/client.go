// Package client is a JSON-RPC client for the counter node.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"counterchain/core/types"
	"counterchain/native/counter"
	"counterchain/native/token"
	"counterchain/rpc"
)

// Config represents the client configuration.
type Config struct {
	URL     string
	Timeout time.Duration
	// MaxRetries bounds retries of a single call. Zero uses the default and
	// a negative value disables retrying.
	MaxRetries int
	// InitialInterval is the first retry delay.
	InitialInterval time.Duration
}

// Client provides a thin JSON-RPC wrapper over the node's methods.
type Client struct {
	url        string
	httpClient *http.Client
	maxRetries int
	interval   time.Duration
	nextID     atomic.Int64
}

// Error is a JSON-RPC error returned by the node.
type Error struct {
	Status  int
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc client: error %d %s", e.Code, e.Message)
}

// RateLimited reports whether the node throttled the call.
func (e *Error) RateLimited() bool {
	return e.Status == http.StatusTooManyRequests
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	} `json:"error"`
}

// New constructs a client targeting the supplied /rpc URL.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	retries := cfg.MaxRetries
	switch {
	case retries == 0:
		retries = 4
	case retries < 0:
		retries = 0
	}
	interval := cfg.InitialInterval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	return &Client{
		url:        strings.TrimSpace(cfg.URL),
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: retries,
		interval:   interval,
	}
}

// Increment submits an increment transaction signed by signer.
func (c *Client) Increment(ctx context.Context, signer types.AccountID, deposit types.Amount) (*rpc.TxResponse, error) {
	return c.act(ctx, "counter_increment", signer, deposit)
}

// Decrement submits a decrement transaction signed by signer.
func (c *Client) Decrement(ctx context.Context, signer types.AccountID, deposit types.Amount) (*rpc.TxResponse, error) {
	return c.act(ctx, "counter_decrement", signer, deposit)
}

// Random submits a random transaction signed by signer.
func (c *Client) Random(ctx context.Context, signer types.AccountID, deposit types.Amount) (*rpc.TxResponse, error) {
	return c.act(ctx, "counter_random", signer, deposit)
}

func (c *Client) act(ctx context.Context, method string, signer types.AccountID, deposit types.Amount) (*rpc.TxResponse, error) {
	params := rpc.ActionParams{Signer: signer, Deposit: &deposit}
	var out rpc.TxResponse
	if err := c.call(ctx, method, []interface{}{params}, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// Value returns the current counter value.
func (c *Client) Value(ctx context.Context) (types.Amount, error) {
	var out types.Amount
	err := c.call(ctx, "counter_getValue", nil, &out, true)
	return out, err
}

// EntryFee returns the minimum deposit for an action.
func (c *Client) EntryFee(ctx context.Context) (types.Amount, error) {
	var out types.Amount
	err := c.call(ctx, "counter_getEntryFee", nil, &out, true)
	return out, err
}

// RecordsLength returns the number of recorded actions.
func (c *Client) RecordsLength(ctx context.Context) (uint64, error) {
	var out uint64
	err := c.call(ctx, "counter_getRecordsLength", nil, &out, true)
	return out, err
}

// AllRecords returns every record, newest first.
func (c *Client) AllRecords(ctx context.Context) ([]counter.Record, error) {
	var out []counter.Record
	err := c.call(ctx, "counter_queryAllRecords", nil, &out, true)
	return out, err
}

// Records returns up to take records after skipping the newest skip.
func (c *Client) Records(ctx context.Context, skip, take uint64) ([]counter.Record, error) {
	var out []counter.Record
	err := c.call(ctx, "counter_queryRecords", []interface{}{skip, take}, &out, true)
	return out, err
}

// RecentActions returns indexed actions, newest first.
func (c *Client) RecentActions(ctx context.Context, limit int) ([]rpc.ActionResponse, error) {
	var out []rpc.ActionResponse
	err := c.call(ctx, "counter_recentActions", []interface{}{limit}, &out, true)
	return out, err
}

// Receipts returns the indexed receipts of a transaction in execution order.
func (c *Client) Receipts(ctx context.Context, txID string) ([]rpc.ReceiptResponse, error) {
	var out []rpc.ReceiptResponse
	err := c.call(ctx, "tx_getReceipts", []interface{}{txID}, &out, true)
	return out, err
}

// TokenBalance returns the reward token balance of account.
func (c *Client) TokenBalance(ctx context.Context, account types.AccountID) (types.Amount, error) {
	var out types.Amount
	err := c.call(ctx, "token_balanceOf", []interface{}{account}, &out, true)
	return out, err
}

// TokenSupply returns the minted reward supply.
func (c *Client) TokenSupply(ctx context.Context) (types.Amount, error) {
	var out types.Amount
	err := c.call(ctx, "token_totalSupply", nil, &out, true)
	return out, err
}

// TokenMetadata returns the reward token metadata.
func (c *Client) TokenMetadata(ctx context.Context) (token.Metadata, error) {
	var out token.Metadata
	err := c.call(ctx, "token_metadata", nil, &out, true)
	return out, err
}

// call performs one JSON-RPC round trip with retries. Reads retry on any
// transport failure, throttling or 5xx status. Transactions only retry when
// the node cannot have executed them: throttled or never connected.
func (c *Client) call(ctx context.Context, method string, params []interface{}, out interface{}, idempotent bool) error {
	if c == nil || c.httpClient == nil {
		return errors.New("rpc client: client not configured")
	}
	if params == nil {
		params = []interface{}{}
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.interval
	var b backoff.BackOff = backoff.WithMaxRetries(policy, uint64(c.maxRetries))
	b = backoff.WithContext(b, ctx)

	return backoff.Retry(func() error {
		err := c.roundTrip(ctx, method, params, out)
		if err == nil || retryable(err, idempotent) {
			return err
		}
		return backoff.Permanent(err)
	}, b)
}

func (c *Client) roundTrip(ctx context.Context, method string, params []interface{}, out interface{}) error {
	id := c.nextID.Add(1)
	buf, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		if resp.StatusCode >= 300 {
			return &Error{Status: resp.StatusCode, Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("rpc client: decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return &Error{
			Status:  resp.StatusCode,
			Code:    rpcResp.Error.Code,
			Message: rpcResp.Error.Message,
			Data:    rpcResp.Error.Data,
		}
	}
	if resp.StatusCode >= 300 {
		return &Error{Status: resp.StatusCode, Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return errors.New("rpc client: empty result")
	}
	return json.Unmarshal(rpcResp.Result, out)
}

func retryable(err error, idempotent bool) bool {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		if rpcErr.RateLimited() {
			return true
		}
		return idempotent && rpcErr.Status >= http.StatusInternalServerError
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return idempotent
}
