package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dkoval/creditledger/internal/repos/transactions"
)

type createAccountRequest struct {
	AccountID string `json:"accountId"`
	Tier      string `json:"tier"`
}

// CreateAccountHandler handles POST /accounts
func (h *HandlerProvider) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest

	err := decodeBody(w, r, &req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	req.AccountID = strings.TrimSpace(req.AccountID)
	if req.AccountID == "" {
		writeError(w, http.StatusBadRequest, "accountId required")
		return
	}

	switch req.Tier {
	case "", "basic", "premium", "admin":
	default:
		writeError(w, http.StatusBadRequest, "invalid tier")
		return
	}

	acct, err := h.ledger.CreateAccount(r.Context(), req.AccountID, req.Tier)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"accountId": acct.ID,
		"tier":      acct.Tier,
		"balance":   acct.Balance,
	})
}

// GetBalanceHandler handles GET /accounts/{accountId}/balance
func (h *HandlerProvider) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid accountId in path")
		return
	}

	acct, err := h.ledger.GetAccount(r.Context(), accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accountId":     acct.ID,
		"tier":          acct.Tier,
		"balance":       acct.Balance,
		"totalDebited":  acct.TotalDebited,
		"totalCredited": acct.TotalCredited,
		"flagged":       acct.Flagged,
	})
}

type transactionView struct {
	ID            string          `json:"id"`
	Kind          string          `json:"kind"`
	Status        string          `json:"status"`
	CreditDelta   int64           `json:"creditDelta"`
	AmountMinor   int64           `json:"amountMinor,omitempty"`
	Currency      string          `json:"currency,omitempty"`
	ExternalRef   *string         `json:"externalRef,omitempty"`
	Metadata      map[string]any  `json:"metadata,omitempty"`
	FailureReason *string         `json:"failureReason,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
	FailedAt      *time.Time      `json:"failedAt,omitempty"`
}

// ListTransactionsHandler handles GET /accounts/{accountId}/transactions
func (h *HandlerProvider) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid accountId in path")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}

	recs, err := h.ledger.History(r.Context(), accountID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	views := make([]transactionView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, toView(rec))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"accountId":    accountID,
		"transactions": views,
	})
}

// DeactivateAccountHandler handles DELETE /accounts/{accountId}
func (h *HandlerProvider) DeactivateAccountHandler(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDFromPath(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid accountId in path")
		return
	}

	err = h.ledger.Deactivate(r.Context(), accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

func toView(rec transactions.Record) transactionView {
	v := transactionView{
		ID:            rec.ID,
		Kind:          string(rec.Kind),
		Status:        string(rec.Status),
		CreditDelta:   rec.CreditDelta,
		AmountMinor:   rec.AmountMinor,
		Currency:      rec.Currency,
		ExternalRef:   rec.ExternalRef,
		FailureReason: rec.FailureReason,
		CreatedAt:     rec.CreatedAt,
		CompletedAt:   rec.CompletedAt,
		FailedAt:      rec.FailedAt,
	}

	if len(rec.Metadata) > 0 {
		// stored JSONB is always an object; decode errors would mean a
		// corrupted row, surface as empty metadata
		meta := map[string]any{}
		if err := json.Unmarshal(rec.Metadata, &meta); err == nil {
			v.Metadata = meta
		}
	}

	return v
}
