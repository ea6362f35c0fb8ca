package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dkoval/creditledger/internal/repos/accounts"
	"github.com/dkoval/creditledger/internal/repos/transactions"
	"github.com/dkoval/creditledger/internal/services/gate"
	"github.com/dkoval/creditledger/internal/services/ledger"
	"github.com/dkoval/creditledger/internal/services/metering"
	"github.com/dkoval/creditledger/internal/services/pricing"
	"github.com/dkoval/creditledger/internal/services/settlement"
)

// HandlerProvider wraps the core services and exposes HTTP handlers.
type HandlerProvider struct {
	ledger     *ledger.Service
	metering   *metering.Engine
	settlement *settlement.Engine
}

// NewHandler returns a new handler provider.
func NewHandler(l *ledger.Service, m *metering.Engine, s *settlement.Engine) *HandlerProvider {
	return &HandlerProvider{ledger: l, metering: m, settlement: s}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func accountIDFromPath(r *http.Request) (string, error) {
	id := chi.URLParam(r, "accountId")
	if id == "" {
		return "", fmt.Errorf("missing accountId")
	}

	return id, nil
}

// decodeBody reads a size-capped JSON body into dst, rejecting unknown
// fields.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB cap
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	return nil
}

// writeDomainError maps core errors onto the API's status contract:
// insufficient credits 402, invalid transitions and refund replays 400,
// provider failures 502, unknown entities 404, duplicates 409.
func writeDomainError(w http.ResponseWriter, err error) {
	var ice *gate.InsufficientCreditsError
	if errors.As(err, &ice) {
		writeJSON(w, http.StatusPaymentRequired, map[string]any{
			"error":            "insufficient credits",
			"requiredCredits":  ice.Required,
			"availableCredits": ice.Available,
		})

		return
	}

	switch {
	case errors.Is(err, accounts.ErrInsufficientCredits):
		writeError(w, http.StatusPaymentRequired, "insufficient credits")
	case errors.Is(err, gate.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
	case errors.Is(err, gate.ErrAccountDeactivated):
		writeError(w, http.StatusForbidden, "account deactivated")
	case errors.Is(err, accounts.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "account not found")
	case errors.Is(err, transactions.ErrTransactionNotFound):
		writeError(w, http.StatusNotFound, "transaction not found")
	case errors.Is(err, accounts.ErrAccountExists):
		writeError(w, http.StatusConflict, "account already exists")
	case errors.Is(err, transactions.ErrDuplicateExternalRef):
		writeError(w, http.StatusConflict, "duplicate external reference")
	case errors.Is(err, metering.ErrProvider):
		writeError(w, http.StatusBadGateway, "provider error")
	case errors.Is(err, transactions.ErrAlreadyRefunded):
		writeError(w, http.StatusBadRequest, "already refunded")
	case errors.Is(err, transactions.ErrInvalidTransition):
		writeError(w, http.StatusBadRequest, "invalid transaction state")
	case errors.Is(err, metering.ErrInvalidOperation),
		errors.Is(err, pricing.ErrUnknownPackage),
		errors.Is(err, pricing.ErrUnknownModel),
		errors.Is(err, settlement.ErrInvalidRefundAmount):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("internal error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
