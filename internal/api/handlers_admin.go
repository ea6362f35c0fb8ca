package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type grantRequest struct {
	Amount  int64  `json:"amount"`
	Reason  string `json:"reason"`
	ActorID string `json:"actorId"`
}

// GrantCreditsHandler handles POST /admin/accounts/{accountId}/credits
func (h *HandlerProvider) GrantCreditsHandler(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid accountId in path")
		return
	}

	var req grantRequest

	err = decodeBody(w, r, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}
	if req.ActorID == "" {
		writeError(w, http.StatusBadRequest, "actorId required")
		return
	}

	rec, err := h.settlement.Grant(r.Context(), accountID, req.Amount, req.Reason, req.ActorID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"transactionId": rec.ID,
		"creditDelta":   rec.CreditDelta,
	})
}

type refundRequest struct {
	AmountMinor int64  `json:"amountMinor"`
	Reason      string `json:"reason"`
	ActorID     string `json:"actorId"`
}

// RefundHandler handles POST /admin/transactions/{transactionId}/refund
func (h *HandlerProvider) RefundHandler(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "transactionId")
	if transactionID == "" {
		writeError(w, http.StatusBadRequest, "missing transactionId")
		return
	}

	var req refundRequest

	err := decodeBody(w, r, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.ActorID == "" {
		writeError(w, http.StatusBadRequest, "actorId required")
		return
	}

	res, err := h.settlement.Refund(r.Context(), transactionID, req.AmountMinor, req.Reason, req.ActorID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"refundTransactionId": res.RefundTransactionID,
		"creditsClawedBack":   res.CreditsClawedBack,
		"clawbackSkipped":     res.ClawbackSkipped,
	})
}
