package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"counterchain/core/host"
	"counterchain/core/types"
	"counterchain/native/counter"
	"counterchain/rpc"
	"counterchain/storage"
)

func newClient(url string) *Client {
	return New(Config{URL: url, MaxRetries: 3, InitialInterval: time.Millisecond})
}

func TestReadsRetryOnServerErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"42"}`))
	}))
	defer srv.Close()

	value, err := newClient(srv.URL).Value(context.Background())
	require.NoError(t, err)
	require.Equal(t, "42", value.String())
	require.EqualValues(t, 3, attempts.Load())
}

func TestTransactionsDoNotRetryServerErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"failed to execute transaction"}}`))
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).Increment(context.Background(), "alice.test", types.MustAmount("1"))
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, -32000, rpcErr.Code)
	require.EqualValues(t, 1, attempts.Load())
}

func TestTransactionsRetryWhenThrottled(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32020,"message":"transaction rate limit exceeded"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":2,"result":{"txId":"abc","succeeded":true,"settled":true,"value":"1","outcomes":[]}}`))
	}))
	defer srv.Close()

	tx, err := newClient(srv.URL).Increment(context.Background(), "alice.test", types.MustAmount("1"))
	require.NoError(t, err)
	require.Equal(t, "abc", tx.TxID)
	require.EqualValues(t, 2, attempts.Load())
}

func TestInvalidParamsAreNotRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"invalid account"}}`))
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).TokenBalance(context.Background(), "Bad")
	require.Error(t, err)
	require.EqualValues(t, 1, attempts.Load())
}

func TestRequestCarriesParams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "2.0", req.JSONRPC)
		require.Equal(t, "counter_queryRecords", req.Method)
		require.Equal(t, []interface{}{float64(2), float64(5)}, req.Params)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":[]}`))
	}))
	defer srv.Close()

	records, err := newClient(srv.URL).Records(context.Background(), 2, 5)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestClientAgainstNode(t *testing.T) {
	rt, err := host.New(storage.NewMemDB())
	require.NoError(t, err)
	require.NoError(t, rt.Deploy("counter.test", counter.NewEngine(counter.DefaultConfig())))
	server := rpc.NewServer(rt, rpc.ServerConfig{Counter: "counter.test"})
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	c := newClient(srv.URL + "/rpc")
	ctx := context.Background()
	fee, err := c.EntryFee(ctx)
	require.NoError(t, err)

	tx, err := c.Increment(ctx, "alice.test", fee)
	require.NoError(t, err)
	require.True(t, tx.Succeeded)
	tx, err = c.Increment(ctx, "bob.test", fee)
	require.NoError(t, err)
	require.Equal(t, "2", tx.Value.String())

	value, err := c.Value(ctx)
	require.NoError(t, err)
	require.Equal(t, "2", value.String())

	n, err := c.RecordsLength(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	records, err := c.AllRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, types.AccountID("bob.test"), records[0].User)

	_, err = c.TokenSupply(ctx)
	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, http.StatusServiceUnavailable, rpcErr.Status)
}
