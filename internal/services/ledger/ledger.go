// Package ledger owns account lifecycle and the read side of the
// transaction trail. Balance mutations themselves live in the repos as
// single conditional updates; the engines (metering, settlement) drive
// them through this package's DB handle.
package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/dkoval/creditledger/internal/infra/pgutils"
	"github.com/dkoval/creditledger/internal/repos/accounts"
	pgaccounts "github.com/dkoval/creditledger/internal/repos/accounts/postgres"
	"github.com/dkoval/creditledger/internal/repos/transactions"
	pgtransactions "github.com/dkoval/creditledger/internal/repos/transactions/postgres"
	"github.com/dkoval/creditledger/internal/services/pricing"
)

const defaultHistoryLimit = 50

type Service struct {
	db       *sql.DB
	accounts accounts.Accounts
	txns     transactions.Transactions
	catalog  *pricing.Catalog
}

func New(db *sql.DB, catalog *pricing.Catalog) *Service {
	return &Service{
		db:       db,
		accounts: pgaccounts.New(db),
		txns:     pgtransactions.New(db),
		catalog:  catalog,
	}
}

// CreateAccount opens an account with the signup bonus and records the
// bonus transaction, atomically.
func (s *Service) CreateAccount(ctx context.Context, id, tier string) (accounts.Account, error) {
	if tier == "" {
		tier = "basic"
	}

	bonus := s.catalog.SignupBonus()

	err := pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		err := s.accounts.Create(tx, id, tier, bonus)
		if err != nil {
			return fmt.Errorf("create account: %w", err)
		}

		if bonus == 0 {
			return nil
		}

		meta, err := transactions.EncodeMeta(transactions.BonusMeta{Reason: "signup bonus"})
		if err != nil {
			return err
		}

		err = s.txns.Insert(tx, transactions.Record{
			ID:          uuid.NewString(),
			AccountID:   id,
			Kind:        transactions.KindBonus,
			Status:      transactions.StatusCompleted,
			CreditDelta: bonus,
			Metadata:    meta,
		})
		if err != nil {
			return fmt.Errorf("record signup bonus: %w", err)
		}

		return nil
	})
	if err != nil {
		return accounts.Account{}, err
	}

	return s.accounts.Get(ctx, id)
}

// GetAccount returns the account row, balance and counters included.
func (s *Service) GetAccount(ctx context.Context, id string) (accounts.Account, error) {
	a, err := s.accounts.Get(ctx, id)
	if err != nil {
		return accounts.Account{}, fmt.Errorf("get account: %w", err)
	}

	return a, nil
}

// History returns the account's most recent transactions.
func (s *Service) History(ctx context.Context, accountID string, limit int) ([]transactions.Record, error) {
	if limit <= 0 || limit > 500 {
		limit = defaultHistoryLimit
	}

	// the account must exist; an empty history on a bogus id would read
	// like success
	_, err := s.accounts.Get(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}

	recs, err := s.txns.ListByAccount(ctx, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}

	return recs, nil
}

// Deactivate soft-disables an account. Its ledger history stays.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	err := s.accounts.Deactivate(ctx, id)
	if err != nil {
		return fmt.Errorf("deactivate: %w", err)
	}

	return nil
}
