package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/dkoval/creditledger/internal/infra/pgtestutil"
	"github.com/dkoval/creditledger/internal/repos/accounts"
	"github.com/dkoval/creditledger/internal/repos/transactions"
	"github.com/dkoval/creditledger/internal/services/pricing"
)

func TestService_CreateAccount(t *testing.T) {
	t.Parallel()

	db, cleanup := pgtestutil.NewTestDB(t)
	defer cleanup()

	catalog, err := pricing.DefaultCatalog()
	if err != nil {
		t.Fatalf("default catalog: %v", err)
	}

	svc := New(db, catalog)

	acct, err := svc.CreateAccount(context.Background(), "acct-1", "")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	if acct.Tier != "basic" {
		t.Errorf("tier = %q, want basic (default)", acct.Tier)
	}
	if acct.Balance != catalog.SignupBonus() {
		t.Errorf("balance = %d, want signup bonus %d", acct.Balance, catalog.SignupBonus())
	}

	// the bonus is on the ledger too
	recs, err := svc.History(context.Background(), "acct-1", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("history len = %d, want 1", len(recs))
	}
	if recs[0].Kind != transactions.KindBonus || recs[0].CreditDelta != catalog.SignupBonus() {
		t.Errorf("unexpected bonus record: %+v", recs[0])
	}
	if recs[0].Status != transactions.StatusCompleted {
		t.Errorf("bonus status = %s, want completed", recs[0].Status)
	}

	_, err = svc.CreateAccount(context.Background(), "acct-1", "premium")
	if !errors.Is(err, accounts.ErrAccountExists) {
		t.Fatalf("duplicate create: want ErrAccountExists, got %v", err)
	}
}

func TestService_History_UnknownAccount(t *testing.T) {
	t.Parallel()

	db, cleanup := pgtestutil.NewTestDB(t)
	defer cleanup()

	catalog, err := pricing.DefaultCatalog()
	if err != nil {
		t.Fatalf("default catalog: %v", err)
	}

	svc := New(db, catalog)

	_, err = svc.History(context.Background(), "missing", 10)
	if !errors.Is(err, accounts.ErrAccountNotFound) {
		t.Fatalf("want ErrAccountNotFound, got %v", err)
	}
}

func TestService_Deactivate(t *testing.T) {
	t.Parallel()

	db, cleanup := pgtestutil.NewTestDB(t)
	defer cleanup()

	catalog, err := pricing.DefaultCatalog()
	if err != nil {
		t.Fatalf("default catalog: %v", err)
	}

	svc := New(db, catalog)

	_, err = svc.CreateAccount(context.Background(), "acct-1", "premium")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	err = svc.Deactivate(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	acct, err := svc.GetAccount(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acct.DeactivatedAt == nil {
		t.Error("expected deactivated_at to be set")
	}

	err = svc.Deactivate(context.Background(), "missing")
	if !errors.Is(err, accounts.ErrAccountNotFound) {
		t.Fatalf("deactivate missing: want ErrAccountNotFound, got %v", err)
	}
}
