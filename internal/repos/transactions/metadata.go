package transactions

import (
	"encoding/json"
	"fmt"
)

// Per-kind metadata payloads. Each kind carries only the fields that
// make sense for it; the JSONB column holds exactly one of these.

// UsageMeta describes a settled (or failed) usage operation.
type UsageMeta struct {
	Operation   string `json:"operation"` // ai, sms, email
	Model       string `json:"model,omitempty"`
	TokensUsed  int64  `json:"tokensUsed,omitempty"`
	Recipients  int    `json:"recipients,omitempty"`
	TotalSent   int    `json:"totalSent,omitempty"`
	TotalFailed int    `json:"totalFailed,omitempty"`
	LatencyMS   int64  `json:"latencyMs,omitempty"`
	// Shortfall is the part of the actual cost the balance could not
	// cover at settlement time; nonzero only on flagged accounts.
	Shortfall int64 `json:"shortfall,omitempty"`
}

// PurchaseMeta describes a credit package purchase.
type PurchaseMeta struct {
	Package      string `json:"package"`
	BaseCredits  int64  `json:"baseCredits"`
	BonusCredits int64  `json:"bonusCredits"`
}

// RefundMeta describes an admin-initiated refund of a purchase.
type RefundMeta struct {
	OriginalTransactionID string `json:"originalTransactionId"`
	ActorID               string `json:"actorId"`
	Reason                string `json:"reason"`
	// ClawbackSkipped is set when the account balance could not cover
	// the credit clawback; the monetary refund still stands.
	ClawbackSkipped bool `json:"clawbackSkipped,omitempty"`
}

// BonusMeta describes an admin grant or the signup bonus.
type BonusMeta struct {
	Reason  string `json:"reason"`
	ActorID string `json:"actorId,omitempty"`
}

// EncodeMeta marshals a metadata payload for storage.
func EncodeMeta(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	return raw, nil
}
