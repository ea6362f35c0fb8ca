package metering

import "context"

// OperationKind selects the external provider family.
type OperationKind string

const (
	OpAI    OperationKind = "ai"
	OpSMS   OperationKind = "sms"
	OpEmail OperationKind = "email"
)

// ProviderRequest is what the core hands to an external provider. The
// core knows nothing about provider protocols; BudgetCeiling is the
// account-derived spend limit the adapter may pass downstream.
type ProviderRequest struct {
	AccountID     string
	Kind          OperationKind
	Model         string
	Payload       string
	Recipient     string
	MaxTokens     int64
	BudgetCeiling int64
}

// ProviderResult reports actual usage back from a successful call.
type ProviderResult struct {
	TokensUsed int64
	LatencyMS  int64
}

// Provider is the contract boundary to AI and messaging backends. A
// returned error means no billable work happened for that invocation.
// Once Invoke returns nil the work is done and will be charged; there
// is no cancellation of in-flight provider work.
type Provider interface {
	Invoke(ctx context.Context, req ProviderRequest) (ProviderResult, error)
}
