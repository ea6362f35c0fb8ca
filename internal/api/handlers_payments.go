package api

import (
	"net/http"
	"strings"

	"github.com/dkoval/creditledger/internal/services/settlement"
)

type purchaseRequest struct {
	AccountID   string `json:"accountId"`
	Package     string `json:"package"`
	ExternalRef string `json:"externalRef,omitempty"`
}

// CreatePurchaseHandler handles POST /purchases: records the pending
// purchase transaction that a later payment webhook settles.
func (h *HandlerProvider) CreatePurchaseHandler(w http.ResponseWriter, r *http.Request) {
	var req purchaseRequest

	err := decodeBody(w, r, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.AccountID == "" || req.Package == "" {
		writeError(w, http.StatusBadRequest, "accountId and package required")
		return
	}

	res, err := h.settlement.CreatePurchase(r.Context(), req.AccountID, req.Package, req.ExternalRef)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"transactionId":  res.TransactionID,
		"externalRef":    res.ExternalRef,
		"creditsGranted": res.CreditsGranted,
		"priceMinor":     res.PriceMinor,
		"currency":       res.Currency,
		"status":         "pending",
	})
}

type webhookRequest struct {
	ExternalRef    string `json:"externalRef"`
	Outcome        string `json:"outcome"`
	AmountObserved int64  `json:"amountObserved,omitempty"`
}

// PaymentWebhookHandler handles POST /webhooks/payment. Safe to
// redeliver: replays of settled references return 200 without effect.
func (h *HandlerProvider) PaymentWebhookHandler(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest

	err := decodeBody(w, r, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.ExternalRef == "" {
		writeError(w, http.StatusBadRequest, "externalRef required")
		return
	}

	var outcome settlement.Outcome

	switch strings.ToLower(req.Outcome) {
	case "succeeded":
		outcome = settlement.OutcomeSucceeded
	case "failed":
		outcome = settlement.OutcomeFailed
	default:
		writeError(w, http.StatusBadRequest, "invalid outcome")
		return
	}

	res, err := h.settlement.SettleWebhook(r.Context(), req.ExternalRef, outcome, req.AmountObserved)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"applied":       res.Applied,
		"transactionId": res.TransactionID,
	})
}
