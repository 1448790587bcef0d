package rpc

import (
	"encoding/json"
	"net/http"
	"strings"

	"counterchain/core/types"
)

type recordsQuery struct {
	FromIndex *types.Amount `json:"from_index,omitempty"`
	Limit     *types.Amount `json:"limit,omitempty"`
}

func (s *Server) handleCounterAction(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return
	}
	var params ActionParams
	if err := json.Unmarshal(req.Params[0], &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid action parameters", err.Error())
		return
	}
	if err := params.Signer.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid signer", err.Error())
		return
	}
	tx := types.Transaction{
		Signer:   params.Signer,
		Receiver: s.cfg.Counter,
		Method:   strings.TrimPrefix(req.Method, "counter_"),
		Gas:      params.Gas,
	}
	if params.Deposit != nil {
		tx.Deposit = params.Deposit.Int()
	}
	if tx.Gas == 0 {
		tx.Gas = s.cfg.TxGas
	}
	res, err := s.runtime.Submit(r.Context(), tx)
	if err != nil {
		if res == nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid transaction", err.Error())
			return
		}
		s.logger.Error("transaction did not settle", "tx", res.TxID, "error", err)
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to execute transaction", err.Error())
		return
	}
	resp := txResponse(res)
	s.logger.Info("counter transaction executed",
		"tx", resp.TxID,
		"method", tx.Method,
		"signer", string(tx.Signer),
		"succeeded", resp.Succeeded,
		"settled", resp.Settled)
	writeResult(w, req.ID, resp)
}

func (s *Server) handleCounterView(w http.ResponseWriter, r *http.Request, req *RPCRequest, method string) {
	if len(req.Params) != 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "method takes no parameters", nil)
		return
	}
	s.view(w, r, req, s.cfg.Counter, method, nil)
}

// handleCounterQueryRecords accepts optional [skip, take] decimal counts.
func (s *Server) handleCounterQueryRecords(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) > 2 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "expected [skip, take]", nil)
		return
	}
	var query recordsQuery
	targets := []**types.Amount{&query.FromIndex, &query.Limit}
	for i, raw := range req.Params {
		if isNull(raw) {
			continue
		}
		var amount types.Amount
		if err := json.Unmarshal(raw, &amount); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "skip and take must be non-negative integers", err.Error())
			return
		}
		*targets[i] = &amount
	}
	s.view(w, r, req, s.cfg.Counter, "query_records", query)
}

func (s *Server) handleRecentActions(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if s.indexer == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeServerError, "indexer disabled", nil)
		return
	}
	limit := 20
	if len(req.Params) > 0 && !isNull(req.Params[0]) {
		if err := json.Unmarshal(req.Params[0], &limit); err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "limit must be a positive integer", nil)
			return
		}
	}
	if limit > 500 {
		limit = 500
	}
	actions, err := s.indexer.RecentActions(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load actions", err.Error())
		return
	}
	out := make([]ActionResponse, 0, len(actions))
	for _, a := range actions {
		out = append(out, actionResponse(a))
	}
	writeResult(w, req.ID, out)
}

func isNull(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}
