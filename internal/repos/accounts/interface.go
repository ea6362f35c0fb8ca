package accounts

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var (
	// ErrInsufficientCredits is returned when a conditional debit would
	// take the balance below zero. A missing account debits zero rows
	// and reports the same error.
	ErrInsufficientCredits = errors.New("insufficient credits")

	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
)

// Account is one user's credit balance plus lifetime counters.
// Accounts are never deleted; deactivation keeps the ledger history.
type Account struct {
	ID            string
	Tier          string
	Balance       int64
	TotalDebited  int64
	TotalCredited int64
	Flagged       bool
	DeactivatedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Accounts is the only path that mutates balances. Debit and Credit are
// single conditional statements at the store; callers are responsible
// for invoking each exactly once per logical event.
type Accounts interface {
	Create(tx *sql.Tx, id, tier string, openingBalance int64) error
	Get(ctx context.Context, id string) (Account, error)

	// Debit decrements balance by amount where balance >= amount, in
	// one statement, and returns the new balance. ErrInsufficientCredits
	// when the condition does not hold.
	Debit(tx *sql.Tx, id string, amount int64) (int64, error)

	// Credit increments balance by amount and returns the new balance.
	Credit(tx *sql.Tx, id string, amount int64) (int64, error)

	// DebitClamped debits as much of amount as the balance covers,
	// never below zero. When the full amount is not covered the account
	// is flagged for reconciliation in the same statement. Returns the
	// credits actually applied, the new balance, and whether the debit
	// fell short.
	DebitClamped(tx *sql.Tx, id string, amount int64) (applied, balance int64, short bool, err error)

	// Flag marks the account for manual reconciliation.
	Flag(tx *sql.Tx, id string) error

	Deactivate(ctx context.Context, id string) error
}
