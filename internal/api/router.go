package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dkoval/creditledger/internal/services/ledger"
	"github.com/dkoval/creditledger/internal/services/metering"
	"github.com/dkoval/creditledger/internal/services/settlement"
)

// NewRouter constructs the chi router with all endpoints registered.
func NewRouter(l *ledger.Service, m *metering.Engine, s *settlement.Engine) http.Handler {
	h := NewHandler(l, m, s)
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Post("/accounts", h.CreateAccountHandler)
	r.Get("/accounts/{accountId}/balance", h.GetBalanceHandler)
	r.Get("/accounts/{accountId}/transactions", h.ListTransactionsHandler)
	r.Delete("/accounts/{accountId}", h.DeactivateAccountHandler)

	r.Post("/accounts/{accountId}/usage", h.UsageHandler)

	r.Post("/purchases", h.CreatePurchaseHandler)
	r.Post("/webhooks/payment", h.PaymentWebhookHandler)

	r.Post("/admin/accounts/{accountId}/credits", h.GrantCreditsHandler)
	r.Post("/admin/transactions/{transactionId}/refund", h.RefundHandler)

	return r
}
