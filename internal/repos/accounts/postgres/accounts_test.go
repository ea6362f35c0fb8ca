package accounts

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/dkoval/creditledger/internal/infra/pgtestutil"
	"github.com/dkoval/creditledger/internal/repos/accounts"
)

func seedAccount(t *testing.T, db *sql.DB, id string, balance int64) {
	t.Helper()

	_, err := db.Exec(`
		INSERT INTO accounts (id, balance, total_credited) VALUES ($1, $2, $2)
	`, id, balance)
	if err != nil {
		t.Fatalf("seed account %q: %v", id, err)
	}
}

func inTx(t *testing.T, db *sql.DB, fn func(tx *sql.Tx) error) error {
	t.Helper()

	tx, err := db.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("begin tx: %v", err)
	}

	err = fn(tx)
	if err != nil {
		_ = tx.Rollback()
		return err
	}

	err = tx.Commit()
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	return nil
}

func TestAccounts_Debit_Table(t *testing.T) {
	t.Parallel()

	type tc struct {
		name        string
		seedBalance int64
		seedSkip    bool
		amount      int64
		wantBalance int64
		wantErr     bool
	}

	tests := []tc{
		{
			name:        "sufficient_decrease_from_positive",
			seedBalance: 1000,
			amount:      250,
			wantBalance: 750,
		},
		{
			name:        "exact_to_zero",
			seedBalance: 300,
			amount:      300,
			wantBalance: 0,
		},
		{
			name:        "insufficient_balance_unchanged",
			seedBalance: 200,
			amount:      300,
			wantBalance: 200,
			wantErr:     true,
		},
		{
			name:     "missing_account_treated_as_insufficient",
			seedSkip: true,
			amount:   100,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			db, cleanup := pgtestutil.NewTestDB(t)
			defer cleanup()

			const accountID = "acct-1"

			if !tt.seedSkip {
				seedAccount(t, db, accountID, tt.seedBalance)
			}

			repo := New(db)

			var newBalance int64

			err := inTx(t, db, func(tx *sql.Tx) error {
				var derr error
				newBalance, derr = repo.Debit(tx, accountID, tt.amount)
				return derr
			})

			if tt.wantErr {
				if !errors.Is(err, accounts.ErrInsufficientCredits) {
					t.Fatalf("expected ErrInsufficientCredits, got: %v", err)
				}
			} else {
				if err != nil {
					t.Fatalf("debit: %v", err)
				}
				if newBalance != tt.wantBalance {
					t.Fatalf("returned balance: want %d, got %d", tt.wantBalance, newBalance)
				}
			}

			if tt.seedSkip {
				return
			}

			acct, err := repo.Get(context.Background(), accountID)
			if err != nil {
				t.Fatalf("get after debit: %v", err)
			}
			if acct.Balance != tt.wantBalance {
				t.Fatalf("final balance: want %d, got %d", tt.wantBalance, acct.Balance)
			}
		})
	}
}

// Balance 10, debit 3, then two concurrent debits that do not both fit:
// exactly one may win and the balance can never go negative.
func TestAccounts_Debit_ConcurrentGuard(t *testing.T) {
	t.Parallel()

	db, cleanup := pgtestutil.NewTestDB(t)
	defer cleanup()

	repo := New(db)
	seedAccount(t, db, "acct-1", 10)

	err := inTx(t, db, func(tx *sql.Tx) error {
		_, derr := repo.Debit(tx, "acct-1", 3)
		return derr
	})
	if err != nil {
		t.Fatalf("initial debit: %v", err)
	}

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		success      int
		insufficient int
	)

	worker := func(amount int64) {
		defer wg.Done()

		ctx := context.Background()

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			t.Errorf("begin tx: %v", err)
			return
		}

		_, err = repo.Debit(tx, "acct-1", amount)
		if err == nil {
			mu.Lock()
			success++
			mu.Unlock()

			if cerr := tx.Commit(); cerr != nil {
				t.Errorf("commit: %v", cerr)
			}
			return
		}

		_ = tx.Rollback()

		if errors.Is(err, accounts.ErrInsufficientCredits) {
			mu.Lock()
			insufficient++
			mu.Unlock()
			return
		}

		t.Errorf("unexpected error: %v", err)
	}

	// 5 and 4 both fit individually in the remaining 7 but not together
	wg.Add(2)
	go worker(5)
	go worker(4)
	wg.Wait()

	if success != 1 || insufficient != 1 {
		t.Fatalf("want 1 success and 1 insufficient, got success=%d insufficient=%d", success, insufficient)
	}

	acct, err := repo.Get(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if acct.Balance < 0 {
		t.Fatalf("balance went negative: %d", acct.Balance)
	}
	if acct.Balance != 2 && acct.Balance != 3 {
		t.Fatalf("final balance: want 2 or 3, got %d", acct.Balance)
	}
	if acct.TotalDebited+acct.Balance != 10 {
		t.Fatalf("counter mismatch: totalDebited=%d balance=%d", acct.TotalDebited, acct.Balance)
	}
}

func TestAccounts_CreditAndCounters(t *testing.T) {
	t.Parallel()

	db, cleanup := pgtestutil.NewTestDB(t)
	defer cleanup()

	repo := New(db)
	seedAccount(t, db, "acct-1", 100)

	err := inTx(t, db, func(tx *sql.Tx) error {
		_, err := repo.Credit(tx, "acct-1", 50)
		if err != nil {
			return err
		}

		_, err = repo.Debit(tx, "acct-1", 30)
		return err
	})
	if err != nil {
		t.Fatalf("credit+debit: %v", err)
	}

	acct, err := repo.Get(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if acct.Balance != 120 {
		t.Errorf("balance = %d, want 120", acct.Balance)
	}
	// quiescent invariant: totalCredited - totalDebited == balance
	if acct.TotalCredited-acct.TotalDebited != acct.Balance {
		t.Errorf("invariant broken: credited=%d debited=%d balance=%d",
			acct.TotalCredited, acct.TotalDebited, acct.Balance)
	}

	err = inTx(t, db, func(tx *sql.Tx) error {
		_, err := repo.Credit(tx, "missing", 10)
		return err
	})
	if !errors.Is(err, accounts.ErrAccountNotFound) {
		t.Fatalf("credit missing account: want ErrAccountNotFound, got %v", err)
	}
}

func TestAccounts_DebitClamped(t *testing.T) {
	t.Parallel()

	t.Run("fully_covered", func(t *testing.T) {
		t.Parallel()

		db, cleanup := pgtestutil.NewTestDB(t)
		defer cleanup()

		repo := New(db)
		seedAccount(t, db, "acct-1", 10)

		err := inTx(t, db, func(tx *sql.Tx) error {
			applied, balance, short, err := repo.DebitClamped(tx, "acct-1", 4)
			if err != nil {
				return err
			}
			if applied != 4 || balance != 6 || short {
				t.Errorf("applied=%d balance=%d short=%v, want 4/6/false", applied, balance, short)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("debit clamped: %v", err)
		}

		acct, _ := repo.Get(context.Background(), "acct-1")
		if acct.Flagged {
			t.Error("covered debit should not flag the account")
		}
	})

	t.Run("shortfall_flags_account", func(t *testing.T) {
		t.Parallel()

		db, cleanup := pgtestutil.NewTestDB(t)
		defer cleanup()

		repo := New(db)
		seedAccount(t, db, "acct-1", 3)

		err := inTx(t, db, func(tx *sql.Tx) error {
			applied, balance, short, err := repo.DebitClamped(tx, "acct-1", 5)
			if err != nil {
				return err
			}
			if applied != 3 || balance != 0 || !short {
				t.Errorf("applied=%d balance=%d short=%v, want 3/0/true", applied, balance, short)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("debit clamped: %v", err)
		}

		acct, err := repo.Get(context.Background(), "acct-1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if !acct.Flagged {
			t.Error("shortfall should flag the account")
		}
		if acct.Balance != 0 {
			t.Errorf("balance = %d, want 0", acct.Balance)
		}
	})
}

func TestAccounts_CreateAndDeactivate(t *testing.T) {
	t.Parallel()

	db, cleanup := pgtestutil.NewTestDB(t)
	defer cleanup()

	repo := New(db)

	err := inTx(t, db, func(tx *sql.Tx) error {
		return repo.Create(tx, "acct-1", "premium", 25)
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	err = inTx(t, db, func(tx *sql.Tx) error {
		return repo.Create(tx, "acct-1", "premium", 25)
	})
	if !errors.Is(err, accounts.ErrAccountExists) {
		t.Fatalf("duplicate create: want ErrAccountExists, got %v", err)
	}

	acct, err := repo.Get(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if acct.Balance != 25 || acct.TotalCredited != 25 || acct.Tier != "premium" {
		t.Errorf("unexpected account: %+v", acct)
	}
	if acct.DeactivatedAt != nil {
		t.Error("new account should not be deactivated")
	}

	err = repo.Deactivate(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	acct, _ = repo.Get(context.Background(), "acct-1")
	if acct.DeactivatedAt == nil {
		t.Error("expected deactivated_at to be set")
	}

	err = repo.Deactivate(context.Background(), "missing")
	if !errors.Is(err, accounts.ErrAccountNotFound) {
		t.Fatalf("deactivate missing: want ErrAccountNotFound, got %v", err)
	}
}
