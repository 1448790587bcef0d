package rpc

import (
	"encoding/json"

	"counterchain/core/host"
	"counterchain/core/types"
	"counterchain/indexer"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeExecution      = -32010
	codeRateLimited    = -32020
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      interface{}       `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

// ActionParams are the params of counter_increment, counter_decrement and
// counter_random. Deposit defaults to zero and Gas (in gas units) to the
// server's transaction gas.
type ActionParams struct {
	Signer  types.AccountID `json:"signer"`
	Deposit *types.Amount   `json:"deposit,omitempty"`
	Gas     types.Gas       `json:"gas,omitempty"`
}

// OutcomeResponse is the wire form of a host.Outcome.
type OutcomeResponse struct {
	ReceiptID   string          `json:"receiptId"`
	ParentID    string          `json:"parentId,omitempty"`
	Executor    types.AccountID `json:"executor"`
	Predecessor types.AccountID `json:"predecessor"`
	Method      string          `json:"method"`
	Status      string          `json:"status"`
	Return      json.RawMessage `json:"return,omitempty"`
	Failure     string          `json:"failure,omitempty"`
	Logs        []string        `json:"logs"`
	GasBurnt    types.Gas       `json:"gasBurnt"`
	BlockHeight uint64          `json:"blockHeight"`
	TimestampMs uint64          `json:"timestampMs"`
}

// TxResponse summarises a submitted transaction.
type TxResponse struct {
	TxID      string            `json:"txId"`
	Succeeded bool              `json:"succeeded"`
	Settled   bool              `json:"settled"`
	Value     *types.Amount     `json:"value,omitempty"`
	Failure   string            `json:"failure,omitempty"`
	Outcomes  []OutcomeResponse `json:"outcomes"`
}

// ReceiptResponse is the wire form of an indexed receipt.
type ReceiptResponse struct {
	ReceiptID   string   `json:"receiptId"`
	ParentID    string   `json:"parentId,omitempty"`
	Executor    string   `json:"executor"`
	Predecessor string   `json:"predecessor"`
	Signer      string   `json:"signer"`
	Method      string   `json:"method"`
	Status      string   `json:"status"`
	Failure     string   `json:"failure,omitempty"`
	Logs        []string `json:"logs"`
	GasBurnt    uint64   `json:"gasBurnt"`
	BlockHeight uint64   `json:"blockHeight"`
	TimestampMs uint64   `json:"timestampMs"`
}

// ActionResponse is the wire form of an indexed counter action.
type ActionResponse struct {
	TxID        string `json:"txId"`
	User        string `json:"user"`
	Requested   string `json:"requested"`
	Action      string `json:"action"`
	Value       string `json:"value"`
	BlockHeight uint64 `json:"blockHeight"`
	TimestampMs uint64 `json:"timestampMs"`
}

func outcomeResponse(out host.Outcome) OutcomeResponse {
	resp := OutcomeResponse{
		ReceiptID:   out.ReceiptID,
		ParentID:    out.ParentID,
		Executor:    out.Executor,
		Predecessor: out.Predecessor,
		Method:      out.Method,
		Status:      out.Status.String(),
		Failure:     out.Failure,
		Logs:        out.Logs,
		GasBurnt:    out.GasBurnt,
		BlockHeight: out.BlockHeight,
		TimestampMs: out.TimestampMs,
	}
	if resp.Logs == nil {
		resp.Logs = []string{}
	}
	if len(out.Return) > 0 && json.Valid(out.Return) {
		resp.Return = json.RawMessage(out.Return)
	}
	return resp
}

func txResponse(res *host.Result) TxResponse {
	outcomes := res.Outcomes()
	resp := TxResponse{
		TxID:      res.TxID,
		Succeeded: res.Succeeded(),
		Outcomes:  make([]OutcomeResponse, 0, len(outcomes)),
	}
	for _, out := range outcomes {
		resp.Outcomes = append(resp.Outcomes, outcomeResponse(out))
	}
	_, failed := res.FirstFailure()
	resp.Settled = resp.Succeeded && !failed
	if failure, ok := res.FirstFailure(); ok {
		resp.Failure = failure.Failure
	}
	if original, ok := res.Original(); ok && original.Succeeded() {
		var value types.Amount
		if err := json.Unmarshal(original.Return, &value); err == nil {
			resp.Value = &value
		}
	}
	return resp
}

func receiptResponse(rc indexer.Receipt) ReceiptResponse {
	var logs []string
	if err := json.Unmarshal([]byte(rc.Logs), &logs); err != nil || logs == nil {
		logs = []string{}
	}
	return ReceiptResponse{
		ReceiptID:   rc.ID,
		ParentID:    rc.ParentID,
		Executor:    rc.Executor,
		Predecessor: rc.Predecessor,
		Signer:      rc.Signer,
		Method:      rc.Method,
		Status:      rc.Status,
		Failure:     rc.Failure,
		Logs:        logs,
		GasBurnt:    rc.GasBurnt,
		BlockHeight: rc.BlockHeight,
		TimestampMs: rc.TimestampMs,
	}
}

func actionResponse(a indexer.Action) ActionResponse {
	return ActionResponse{
		TxID:        a.TxID,
		User:        a.Actor,
		Requested:   a.Requested,
		Action:      a.Resolved,
		Value:       a.Value,
		BlockHeight: a.BlockHeight,
		TimestampMs: a.TimestampMs,
	}
}
