package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dkoval/creditledger/internal/repos/accounts"
)

var _ accounts.Accounts = (*accountsRepo)(nil)

type accountsRepo struct{ db *sql.DB }

func New(db *sql.DB) *accountsRepo {
	return &accountsRepo{db: db}
}

func (r *accountsRepo) Create(tx *sql.Tx, id, tier string, openingBalance int64) error {
	_, err := tx.Exec(`
		INSERT INTO accounts (id, tier, balance, total_credited)
		VALUES ($1, $2, $3, $3)
	`, id, tier, openingBalance)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return accounts.ErrAccountExists
		}

		return fmt.Errorf("insert account: %w", err)
	}

	return nil
}

func (r *accountsRepo) Get(ctx context.Context, id string) (accounts.Account, error) {
	var a accounts.Account

	err := r.db.QueryRowContext(ctx, `
		SELECT id, tier, balance, total_debited, total_credited,
		       flagged_for_reconciliation, deactivated_at, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`, id).Scan(
		&a.ID, &a.Tier, &a.Balance, &a.TotalDebited, &a.TotalCredited,
		&a.Flagged, &a.DeactivatedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return accounts.Account{}, accounts.ErrAccountNotFound
		}

		return accounts.Account{}, fmt.Errorf("get account: %w", err)
	}

	return a, nil
}

// Debit is the check-then-decrement as one statement: the WHERE clause
// is the balance check, so concurrent debits can never take the row
// below zero.
func (r *accountsRepo) Debit(tx *sql.Tx, id string, amount int64) (int64, error) {
	var balance int64

	err := tx.QueryRow(`
		UPDATE accounts
		SET balance = balance - $2,
		    total_debited = total_debited + $2,
		    updated_at = now()
		WHERE id = $1
		  AND balance >= $2
		RETURNING balance
	`, id, amount).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// covers both a short balance and a missing account
			return 0, accounts.ErrInsufficientCredits
		}

		return 0, fmt.Errorf("debit: %w", err)
	}

	return balance, nil
}

func (r *accountsRepo) Credit(tx *sql.Tx, id string, amount int64) (int64, error) {
	var balance int64

	err := tx.QueryRow(`
		UPDATE accounts
		SET balance = balance + $2,
		    total_credited = total_credited + $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING balance
	`, id, amount).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, accounts.ErrAccountNotFound
		}

		return 0, fmt.Errorf("credit: %w", err)
	}

	return balance, nil
}

// DebitClamped settles externally-billed work that can no longer be
// refused: it takes what the balance covers, floors at zero and flags
// the account when the full amount was not available. The pre-lock,
// update and flag happen inside one statement so no concurrent debit
// can slip between the read and the write.
func (r *accountsRepo) DebitClamped(tx *sql.Tx, id string, amount int64) (int64, int64, bool, error) {
	var oldBalance, newBalance int64

	err := tx.QueryRow(`
		WITH cur AS (
		    SELECT balance FROM accounts WHERE id = $1 FOR UPDATE
		), upd AS (
		    UPDATE accounts a
		    SET balance = GREATEST(a.balance - $2, 0),
		        total_debited = a.total_debited + LEAST(a.balance, $2),
		        flagged_for_reconciliation = a.flagged_for_reconciliation OR (a.balance < $2),
		        updated_at = now()
		    WHERE a.id = $1
		    RETURNING a.balance AS new_balance
		)
		SELECT cur.balance, upd.new_balance FROM cur, upd
	`, id, amount).Scan(&oldBalance, &newBalance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, false, accounts.ErrAccountNotFound
		}

		return 0, 0, false, fmt.Errorf("debit clamped: %w", err)
	}

	applied := oldBalance - newBalance

	return applied, newBalance, applied < amount, nil
}

func (r *accountsRepo) Flag(tx *sql.Tx, id string) error {
	res, err := tx.Exec(`
		UPDATE accounts
		SET flagged_for_reconciliation = TRUE,
		    updated_at = now()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("flag account: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if affected == 0 {
		return accounts.ErrAccountNotFound
	}

	return nil
}

func (r *accountsRepo) Deactivate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET deactivated_at = now(),
		    updated_at = now()
		WHERE id = $1
		  AND deactivated_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("deactivate account: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if affected == 0 {
		return accounts.ErrAccountNotFound
	}

	return nil
}
