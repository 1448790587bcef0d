package rpc

import (
	"encoding/json"
	"errors"
	"net/http"

	"counterchain/core/types"
	"counterchain/indexer"
)

var errTokenDisabled = errors.New("token issuer not configured")

func (s *Server) handleTokenBalanceOf(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "account parameter required", nil)
		return
	}
	var raw string
	if err := json.Unmarshal(req.Params[0], &raw); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "account must be a string", err.Error())
		return
	}
	account, err := types.ParseAccountID(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid account", err.Error())
		return
	}
	s.handleTokenView(w, r, req, "ft_balance_of", map[string]types.AccountID{"account_id": account})
}

func (s *Server) handleTokenView(w http.ResponseWriter, r *http.Request, req *RPCRequest, method string, args interface{}) {
	if s.cfg.Token == "" {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeServerError, errTokenDisabled.Error(), nil)
		return
	}
	s.view(w, r, req, s.cfg.Token, method, args)
}

func (s *Server) handleGetReceipts(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if s.indexer == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeServerError, "indexer disabled", nil)
		return
	}
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "transaction id required", nil)
		return
	}
	var txID string
	if err := json.Unmarshal(req.Params[0], &txID); err != nil || txID == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "transaction id must be a non-empty string", nil)
		return
	}
	receipts, err := s.indexer.Receipts(r.Context(), txID)
	if err != nil {
		if errors.Is(err, indexer.ErrNotFound) {
			writeError(w, http.StatusNotFound, req.ID, codeInvalidParams, "transaction not found", txID)
			return
		}
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load receipts", err.Error())
		return
	}
	out := make([]ReceiptResponse, 0, len(receipts))
	for _, rc := range receipts {
		out = append(out, receiptResponse(rc))
	}
	writeResult(w, req.ID, out)
}
