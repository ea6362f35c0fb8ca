package api

import (
	"net/http"

	"github.com/dkoval/creditledger/internal/services/metering"
)

type usageRequest struct {
	Kind       string   `json:"kind"`
	Model      string   `json:"model,omitempty"`
	MaxTokens  int64    `json:"maxTokens,omitempty"`
	Payload    string   `json:"payload"`
	Recipients []string `json:"recipients,omitempty"`
}

// UsageHandler handles POST /accounts/{accountId}/usage: the full
// metering flow from admission through provider call to settlement.
func (h *HandlerProvider) UsageHandler(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid accountId in path")
		return
	}

	var req usageRequest

	err = decodeBody(w, r, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var kind metering.OperationKind

	switch req.Kind {
	case "ai":
		kind = metering.OpAI
	case "sms":
		kind = metering.OpSMS
	case "email":
		kind = metering.OpEmail
	default:
		writeError(w, http.StatusBadRequest, "invalid kind")
		return
	}

	res, err := h.metering.Meter(r.Context(), accountID, metering.Operation{
		Kind:       kind,
		Model:      req.Model,
		MaxTokens:  req.MaxTokens,
		Payload:    req.Payload,
		Recipients: req.Recipients,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := map[string]any{
		"granted":          true,
		"transactionId":    res.TransactionID,
		"creditsCharged":   res.CreditsCharged,
		"remainingBalance": res.RemainingBalance,
	}

	switch kind {
	case metering.OpAI:
		resp["tokensUsed"] = res.TokensUsed
		resp["latencyMs"] = res.LatencyMS
	case metering.OpSMS, metering.OpEmail:
		resp["totalSent"] = res.TotalSent
		resp["totalFailed"] = res.TotalFailed
	}

	if res.Flagged {
		resp["flagged"] = true
	}

	writeJSON(w, http.StatusOK, resp)
}
