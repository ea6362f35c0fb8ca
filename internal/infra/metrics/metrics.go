// Package metrics holds the Prometheus instruments for the credit
// ledger core. Everything is registered via promauto at init and
// served from the router's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AdmissionRejections counts requests turned away before any
	// provider work, labeled by reason (insufficient_credits, rate_limited).
	AdmissionRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "creditledger_admission_rejections_total",
		Help: "Requests rejected at the gate before provider invocation.",
	}, []string{"reason"})

	// ProviderErrors counts failed external provider calls by operation kind.
	ProviderErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "creditledger_provider_errors_total",
		Help: "External provider invocations that failed.",
	}, []string{"kind"})

	// UsageSettled counts settled usage operations by kind.
	UsageSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "creditledger_usage_settled_total",
		Help: "Usage operations settled against the ledger.",
	}, []string{"kind"})

	// CreditsDebited accumulates credits debited for settled usage.
	CreditsDebited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "creditledger_credits_debited_total",
		Help: "Total credits debited for usage.",
	})

	// SettlementShortfalls counts settlements where the actual cost
	// could not be fully covered and the account was flagged.
	SettlementShortfalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "creditledger_settlement_shortfalls_total",
		Help: "Usage settlements that overdrew the estimate and flagged the account.",
	})

	// WebhookEvents counts payment webhook deliveries by disposition
	// (applied, replayed, failed).
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "creditledger_webhook_events_total",
		Help: "Payment webhook deliveries by disposition.",
	}, []string{"disposition"})
)
