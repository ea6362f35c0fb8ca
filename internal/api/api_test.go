package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dkoval/creditledger/internal/infra/pgtestutil"
	"github.com/dkoval/creditledger/internal/services/gate"
	"github.com/dkoval/creditledger/internal/services/ledger"
	"github.com/dkoval/creditledger/internal/services/metering"
	"github.com/dkoval/creditledger/internal/services/pricing"
	"github.com/dkoval/creditledger/internal/services/settlement"
)

type stubProvider struct {
	tokens int64
	err    error
}

func (s *stubProvider) Invoke(context.Context, metering.ProviderRequest) (metering.ProviderResult, error) {
	if s.err != nil {
		return metering.ProviderResult{}, s.err
	}

	return metering.ProviderResult{TokensUsed: s.tokens, LatencyMS: 8}, nil
}

func newTestRouter(t *testing.T, provider metering.Provider) (http.Handler, func()) {
	t.Helper()

	db, cleanup := pgtestutil.NewTestDB(t)

	catalog, err := pricing.DefaultCatalog()
	if err != nil {
		cleanup()
		t.Fatalf("default catalog: %v", err)
	}

	g := gate.New(db, catalog, time.Minute)

	return NewRouter(
		ledger.New(db, catalog),
		metering.New(db, catalog, g, provider, 0),
		settlement.New(db, catalog),
	), cleanup
}

func do(t *testing.T, h http.Handler, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var reqBody *bytes.Reader

	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}

		reqBody = bytes.NewReader(raw)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("unmarshal response %q: %v", rec.Body.String(), err)
		}
	}

	return rec.Code, out
}

func num(t *testing.T, m map[string]any, key string) int64 {
	t.Helper()

	v, ok := m[key].(float64)
	if !ok {
		t.Fatalf("response field %q missing or not a number: %v", key, m)
	}

	return int64(v)
}

// End-to-end account lifecycle through the HTTP surface, sharing one
// database so each step observes the previous one's effects.
func TestAPI_Lifecycle(t *testing.T) {
	t.Parallel()

	provider := &stubProvider{tokens: 2000}

	h, cleanup := newTestRouter(t, provider)
	defer cleanup()

	var purchaseRef, purchaseTxnID string

	t.Run("healthz", func(t *testing.T) {
		code, _ := do(t, h, http.MethodGet, "/healthz", nil)
		if code != http.StatusOK {
			t.Fatalf("status = %d, want 200", code)
		}
	})

	t.Run("create_account", func(t *testing.T) {
		code, body := do(t, h, http.MethodPost, "/accounts",
			map[string]any{"accountId": "acct-1", "tier": "premium"})
		if code != http.StatusCreated {
			t.Fatalf("status = %d, want 201: %v", code, body)
		}
		if num(t, body, "balance") != 25 {
			t.Errorf("balance = %v, want signup bonus 25", body["balance"])
		}
	})

	t.Run("create_account_duplicate", func(t *testing.T) {
		code, _ := do(t, h, http.MethodPost, "/accounts",
			map[string]any{"accountId": "acct-1"})
		if code != http.StatusConflict {
			t.Fatalf("status = %d, want 409", code)
		}
	})

	t.Run("create_account_invalid_tier", func(t *testing.T) {
		code, _ := do(t, h, http.MethodPost, "/accounts",
			map[string]any{"accountId": "acct-2", "tier": "platinum"})
		if code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", code)
		}
	})

	t.Run("balance_unknown_account", func(t *testing.T) {
		code, _ := do(t, h, http.MethodGet, "/accounts/nobody/balance", nil)
		if code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", code)
		}
	})

	t.Run("usage_ai", func(t *testing.T) {
		// 2000 tokens at gpt-4o rates costs 2 credits
		code, body := do(t, h, http.MethodPost, "/accounts/acct-1/usage",
			map[string]any{"kind": "ai", "model": "gpt-4o", "maxTokens": 3000, "payload": "hi"})
		if code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %v", code, body)
		}
		if num(t, body, "creditsCharged") != 2 {
			t.Errorf("creditsCharged = %v, want 2", body["creditsCharged"])
		}
		if num(t, body, "remainingBalance") != 23 {
			t.Errorf("remainingBalance = %v, want 23", body["remainingBalance"])
		}
		if num(t, body, "tokensUsed") != 2000 {
			t.Errorf("tokensUsed = %v, want 2000", body["tokensUsed"])
		}
	})

	t.Run("usage_insufficient_credits", func(t *testing.T) {
		// estimate 30 against a balance of 23
		code, body := do(t, h, http.MethodPost, "/accounts/acct-1/usage",
			map[string]any{"kind": "ai", "model": "gpt-4o", "maxTokens": 30000, "payload": "hi"})
		if code != http.StatusPaymentRequired {
			t.Fatalf("status = %d, want 402: %v", code, body)
		}
		if num(t, body, "requiredCredits") != 30 || num(t, body, "availableCredits") != 23 {
			t.Errorf("shortfall fields wrong: %v", body)
		}
	})

	t.Run("usage_provider_error", func(t *testing.T) {
		provider.err = errors.New("upstream down")
		defer func() { provider.err = nil }()

		code, _ := do(t, h, http.MethodPost, "/accounts/acct-1/usage",
			map[string]any{"kind": "ai", "model": "gpt-4o", "maxTokens": 1000, "payload": "hi"})
		if code != http.StatusBadGateway {
			t.Fatalf("status = %d, want 502", code)
		}

		// no credits lost
		_, body := do(t, h, http.MethodGet, "/accounts/acct-1/balance", nil)
		if num(t, body, "balance") != 23 {
			t.Errorf("balance = %v, want unchanged 23", body["balance"])
		}
	})

	t.Run("usage_invalid_kind", func(t *testing.T) {
		code, _ := do(t, h, http.MethodPost, "/accounts/acct-1/usage",
			map[string]any{"kind": "fax", "payload": "hi"})
		if code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", code)
		}
	})

	t.Run("purchase_and_webhook", func(t *testing.T) {
		code, body := do(t, h, http.MethodPost, "/purchases",
			map[string]any{"accountId": "acct-1", "package": "premium"})
		if code != http.StatusCreated {
			t.Fatalf("status = %d, want 201: %v", code, body)
		}
		if num(t, body, "creditsGranted") != 600 {
			t.Errorf("creditsGranted = %v, want 600", body["creditsGranted"])
		}

		purchaseRef, _ = body["externalRef"].(string)
		purchaseTxnID, _ = body["transactionId"].(string)
		if purchaseRef == "" || purchaseTxnID == "" {
			t.Fatalf("missing purchase identifiers: %v", body)
		}

		code, body = do(t, h, http.MethodPost, "/webhooks/payment",
			map[string]any{"externalRef": purchaseRef, "outcome": "succeeded", "amountObserved": 3999})
		if code != http.StatusOK {
			t.Fatalf("webhook status = %d, want 200: %v", code, body)
		}
		if body["applied"] != true {
			t.Errorf("applied = %v, want true", body["applied"])
		}

		_, body = do(t, h, http.MethodGet, "/accounts/acct-1/balance", nil)
		if num(t, body, "balance") != 623 {
			t.Errorf("balance = %v, want 623", body["balance"])
		}
	})

	t.Run("webhook_replay_is_noop", func(t *testing.T) {
		code, body := do(t, h, http.MethodPost, "/webhooks/payment",
			map[string]any{"externalRef": purchaseRef, "outcome": "succeeded", "amountObserved": 3999})
		if code != http.StatusOK {
			t.Fatalf("status = %d, want 200", code)
		}
		if body["applied"] != false {
			t.Errorf("applied = %v, want false on replay", body["applied"])
		}

		_, body = do(t, h, http.MethodGet, "/accounts/acct-1/balance", nil)
		if num(t, body, "balance") != 623 {
			t.Errorf("balance = %v, want still 623", body["balance"])
		}
	})

	t.Run("admin_grant", func(t *testing.T) {
		code, body := do(t, h, http.MethodPost, "/admin/accounts/acct-1/credits",
			map[string]any{"amount": 50, "reason": "goodwill", "actorId": "admin-7"})
		if code != http.StatusCreated {
			t.Fatalf("status = %d, want 201: %v", code, body)
		}

		_, body = do(t, h, http.MethodGet, "/accounts/acct-1/balance", nil)
		if num(t, body, "balance") != 673 {
			t.Errorf("balance = %v, want 673", body["balance"])
		}
	})

	t.Run("admin_refund", func(t *testing.T) {
		code, body := do(t, h, http.MethodPost, "/admin/transactions/"+purchaseTxnID+"/refund",
			map[string]any{"amountMinor": 3999, "reason": "customer request", "actorId": "admin-7"})
		if code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %v", code, body)
		}
		if num(t, body, "creditsClawedBack") != 600 {
			t.Errorf("creditsClawedBack = %v, want 600", body["creditsClawedBack"])
		}

		_, body = do(t, h, http.MethodGet, "/accounts/acct-1/balance", nil)
		if num(t, body, "balance") != 73 {
			t.Errorf("balance = %v, want 73", body["balance"])
		}
	})

	t.Run("refund_twice_rejected", func(t *testing.T) {
		code, _ := do(t, h, http.MethodPost, "/admin/transactions/"+purchaseTxnID+"/refund",
			map[string]any{"amountMinor": 3999, "reason": "again", "actorId": "admin-7"})
		if code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", code)
		}
	})

	t.Run("list_transactions", func(t *testing.T) {
		code, body := do(t, h, http.MethodGet, "/accounts/acct-1/transactions", nil)
		if code != http.StatusOK {
			t.Fatalf("status = %d, want 200", code)
		}

		recs, ok := body["transactions"].([]any)
		if !ok {
			t.Fatalf("transactions missing: %v", body)
		}
		// bonus, usage, failed usage, purchase, grant, refund
		if len(recs) != 6 {
			t.Errorf("transactions len = %d, want 6", len(recs))
		}
	})

	t.Run("deactivate_blocks_usage", func(t *testing.T) {
		code, _ := do(t, h, http.MethodDelete, "/accounts/acct-1", nil)
		if code != http.StatusOK {
			t.Fatalf("deactivate status = %d, want 200", code)
		}

		code, _ = do(t, h, http.MethodPost, "/accounts/acct-1/usage",
			map[string]any{"kind": "ai", "model": "gpt-4o", "maxTokens": 1000, "payload": "hi"})
		if code != http.StatusForbidden {
			t.Fatalf("usage on deactivated account: status = %d, want 403", code)
		}
	})
}

func TestAPI_RejectsUnknownFields(t *testing.T) {
	t.Parallel()

	h, cleanup := newTestRouter(t, &stubProvider{tokens: 100})
	defer cleanup()

	code, _ := do(t, h, http.MethodPost, "/accounts",
		map[string]any{"accountId": "acct-1", "surprise": true})
	if code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", code)
	}
}
