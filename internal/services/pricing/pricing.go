// Package pricing maps billable operations to credit costs. Pure
// computation over provider-reported usage; no side effects.
package pricing

import "math"

// AICost converts token usage into credits: one credit per USD cent of
// provider spend, rounded up, never below one credit. The floor stops
// trivial requests from rounding down to free.
func AICost(tokensUsed int64, rate ModelRate) int64 {
	if tokensUsed < 0 {
		tokensUsed = 0
	}

	credits := int64(math.Ceil(float64(tokensUsed) * rate.PerTokenUSD * 100))
	if credits < 1 {
		credits = 1
	}

	return credits
}

// MessageCost charges one credit per successfully delivered message.
// Failed sends are never charged.
func MessageCost(delivered int) int64 {
	if delivered < 0 {
		return 0
	}

	return int64(delivered)
}

// EstimateBulk is the conservative pre-check cost for a bulk send:
// every recipient assumed delivered.
func EstimateBulk(recipients int) int64 {
	return MessageCost(recipients)
}
