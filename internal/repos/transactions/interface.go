package transactions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrDuplicateExternalRef means a record with the same payment
	// reference already exists; the reference is the idempotency key
	// for webhook-driven flows.
	ErrDuplicateExternalRef = errors.New("duplicate external reference")

	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrInvalidTransition is an integration error: the requested
	// status change is not part of the state machine. The record is
	// left untouched.
	ErrInvalidTransition = errors.New("invalid transaction transition")

	// ErrAlreadyRefunded guards the completed -> refunded edge, which
	// may be taken at most once.
	ErrAlreadyRefunded = errors.New("transaction already refunded")
)

// Kind is the business reason for a balance change. Immutable after
// creation.
type Kind string

const (
	KindPurchase Kind = "purchase"
	KindUsage    Kind = "usage"
	KindRefund   Kind = "refund"
	KindBonus    Kind = "bonus"
)

// Status lifecycle: pending -> completed | failed | cancelled, and
// completed -> refunded. Everything else is rejected.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// Record is one balance-affecting event. CreditDelta is signed:
// positive for credits (purchase, bonus), negative for debits (usage,
// refund clawback). AmountMinor/Currency are set for money-backed
// kinds only.
type Record struct {
	ID                  string
	AccountID           string
	Kind                Kind
	Status              Status
	CreditDelta         int64
	AmountMinor         int64
	Currency            string
	ExternalRef         *string
	Metadata            json.RawMessage
	FailureReason       *string
	Refunded            bool
	RefundTransactionID *string
	RefundReason        *string
	CreatedAt           time.Time
	CompletedAt         *time.Time
	FailedAt            *time.Time
}

// Transactions persists records and performs guarded status
// transitions. Each Mark* method is a single conditional UPDATE whose
// WHERE clause encodes the legal source state, so a replayed event
// simply affects zero rows.
type Transactions interface {
	Insert(tx *sql.Tx, rec Record) error
	GetByID(ctx context.Context, id string) (Record, error)
	ListByAccount(ctx context.Context, accountID string, limit int) ([]Record, error)

	// LockByExternalRef loads the record for update, serializing
	// concurrent webhook deliveries for the same payment.
	LockByExternalRef(tx *sql.Tx, externalRef string) (Record, error)
	LockByID(tx *sql.Tx, id string) (Record, error)

	// MarkCompleted: pending -> completed, sets completed_at once.
	// Returns false if the record was not pending.
	MarkCompleted(tx *sql.Tx, id string) (bool, error)

	// MarkFailed: pending -> failed with a reason.
	MarkFailed(tx *sql.Tx, id, reason string) (bool, error)

	// MarkRefunded: completed -> refunded, recording the refund
	// transaction and reason. Returns false when the record is not an
	// unrefunded completed transaction.
	MarkRefunded(tx *sql.Tx, id, refundTransactionID, reason string) (bool, error)
}
