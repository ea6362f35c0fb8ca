// Package settlement reconciles external payment outcomes against
// pending transactions and applies admin-initiated grants and refunds.
// The transaction's status is the idempotency guard: every handler
// re-reads it under lock immediately before mutating, so at-least-once
// webhook delivery credits an account exactly once.
package settlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dkoval/creditledger/internal/infra/metrics"
	"github.com/dkoval/creditledger/internal/infra/pgutils"
	"github.com/dkoval/creditledger/internal/repos/accounts"
	pgaccounts "github.com/dkoval/creditledger/internal/repos/accounts/postgres"
	"github.com/dkoval/creditledger/internal/repos/transactions"
	pgtransactions "github.com/dkoval/creditledger/internal/repos/transactions/postgres"
	"github.com/dkoval/creditledger/internal/services/pricing"
)

var ErrInvalidRefundAmount = errors.New("refund amount exceeds purchase amount")

// Outcome is the external payment provider's verdict.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

type Engine struct {
	db       *sql.DB
	accounts accounts.Accounts
	txns     transactions.Transactions
	catalog  *pricing.Catalog
}

func New(db *sql.DB, catalog *pricing.Catalog) *Engine {
	return &Engine{
		db:       db,
		accounts: pgaccounts.New(db),
		txns:     pgtransactions.New(db),
		catalog:  catalog,
	}
}

// PurchaseResult describes the pending transaction created for a
// package purchase.
type PurchaseResult struct {
	TransactionID  string
	ExternalRef    string
	CreditsGranted int64
	PriceMinor     int64
	Currency       string
}

// CreatePurchase records a pending purchase transaction for a catalog
// package. externalRef is the payment provider's intent id; when empty
// one is generated so the webhook can still correlate.
func (e *Engine) CreatePurchase(ctx context.Context, accountID, packageName, externalRef string) (PurchaseResult, error) {
	pkg, err := e.catalog.LookupPackage(packageName)
	if err != nil {
		return PurchaseResult{}, err
	}

	// the account must exist before we hold a pending purchase for it
	_, err = e.accounts.Get(ctx, accountID)
	if err != nil {
		return PurchaseResult{}, fmt.Errorf("create purchase: %w", err)
	}

	if externalRef == "" {
		externalRef = "pi_" + uuid.NewString()
	}

	meta, err := transactions.EncodeMeta(transactions.PurchaseMeta{
		Package:      packageName,
		BaseCredits:  pkg.Credits,
		BonusCredits: pkg.Bonus,
	})
	if err != nil {
		return PurchaseResult{}, err
	}

	txnID := uuid.NewString()

	err = pgutils.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		return e.txns.Insert(tx, transactions.Record{
			ID:          txnID,
			AccountID:   accountID,
			Kind:        transactions.KindPurchase,
			Status:      transactions.StatusPending,
			CreditDelta: pkg.Granted(),
			AmountMinor: pkg.PriceMinor,
			Currency:    pkg.Currency,
			ExternalRef: &externalRef,
			Metadata:    meta,
		})
	})
	if err != nil {
		return PurchaseResult{}, fmt.Errorf("create purchase: %w", err)
	}

	return PurchaseResult{
		TransactionID:  txnID,
		ExternalRef:    externalRef,
		CreditsGranted: pkg.Granted(),
		PriceMinor:     pkg.PriceMinor,
		Currency:       pkg.Currency,
	}, nil
}

// WebhookResult reports what a delivery actually did.
type WebhookResult struct {
	Applied        bool
	TransactionID  string
	CreditsGranted int64
	NewBalance     int64
}

// SettleWebhook applies an external payment outcome. Unknown references
// and non-pending transactions are benign no-ops so the payment
// provider can redeliver freely. Credit and status transition commit
// together; a crash between them is impossible to observe.
func (e *Engine) SettleWebhook(ctx context.Context, externalRef string, outcome Outcome, amountObserved int64) (WebhookResult, error) {
	var out WebhookResult

	err := pgutils.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		rec, err := e.txns.LockByExternalRef(tx, externalRef)
		if err != nil {
			if errors.Is(err, transactions.ErrTransactionNotFound) {
				slog.Warn("webhook for unknown reference", "externalRef", externalRef)
				metrics.WebhookEvents.WithLabelValues("replayed").Inc()

				return nil
			}

			return err
		}

		// status re-check under lock is the whole idempotency story
		if rec.Status != transactions.StatusPending {
			metrics.WebhookEvents.WithLabelValues("replayed").Inc()
			out = WebhookResult{Applied: false, TransactionID: rec.ID}

			return nil
		}

		if outcome != OutcomeSucceeded {
			_, err := e.txns.MarkFailed(tx, rec.ID, "payment "+string(outcome))
			if err != nil {
				return err
			}

			metrics.WebhookEvents.WithLabelValues("failed").Inc()
			out = WebhookResult{Applied: true, TransactionID: rec.ID}

			return nil
		}

		if amountObserved != 0 && amountObserved != rec.AmountMinor {
			// charge went through for a different amount; credit per
			// the recorded package, but leave a trace for ops
			slog.Warn("webhook amount mismatch",
				"externalRef", externalRef,
				"expected", rec.AmountMinor,
				"observed", amountObserved,
			)
		}

		balance, err := e.accounts.Credit(tx, rec.AccountID, rec.CreditDelta)
		if err != nil {
			return fmt.Errorf("credit purchase: %w", err)
		}

		transitioned, err := e.txns.MarkCompleted(tx, rec.ID)
		if err != nil {
			return err
		}
		if !transitioned {
			// unreachable while we hold the row lock
			return fmt.Errorf("complete purchase %s: %w", rec.ID, transactions.ErrInvalidTransition)
		}

		metrics.WebhookEvents.WithLabelValues("applied").Inc()
		out = WebhookResult{
			Applied:        true,
			TransactionID:  rec.ID,
			CreditsGranted: rec.CreditDelta,
			NewBalance:     balance,
		}

		return nil
	})
	if err != nil {
		return WebhookResult{}, fmt.Errorf("settle webhook: %w", err)
	}

	return out, nil
}

// Grant credits an account by admin fiat and records the bonus
// transaction.
func (e *Engine) Grant(ctx context.Context, accountID string, amount int64, reason, actorID string) (transactions.Record, error) {
	if amount <= 0 {
		return transactions.Record{}, fmt.Errorf("grant amount must be positive")
	}

	meta, err := transactions.EncodeMeta(transactions.BonusMeta{Reason: reason, ActorID: actorID})
	if err != nil {
		return transactions.Record{}, err
	}

	txnID := uuid.NewString()

	err = pgutils.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		_, err := e.accounts.Credit(tx, accountID, amount)
		if err != nil {
			return fmt.Errorf("credit grant: %w", err)
		}

		return e.txns.Insert(tx, transactions.Record{
			ID:          txnID,
			AccountID:   accountID,
			Kind:        transactions.KindBonus,
			Status:      transactions.StatusCompleted,
			CreditDelta: amount,
			Metadata:    meta,
		})
	})
	if err != nil {
		return transactions.Record{}, fmt.Errorf("grant: %w", err)
	}

	return e.txns.GetByID(ctx, txnID)
}

// RefundResult describes an applied refund.
type RefundResult struct {
	RefundTransactionID string
	CreditsClawedBack   int64
	ClawbackSkipped     bool
}

// Refund reverses a completed purchase, at most once. Credits are
// clawed back in proportion to the refunded monetary amount; when the
// balance cannot cover the clawback the monetary refund is still
// recorded and the account is flagged instead.
func (e *Engine) Refund(ctx context.Context, transactionID string, amountMinor int64, reason, actorID string) (RefundResult, error) {
	var out RefundResult

	err := pgutils.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		rec, err := e.txns.LockByID(tx, transactionID)
		if err != nil {
			return err
		}

		if rec.Refunded || rec.Status == transactions.StatusRefunded {
			return transactions.ErrAlreadyRefunded
		}

		if rec.Kind != transactions.KindPurchase || rec.Status != transactions.StatusCompleted {
			return fmt.Errorf("refund %s (%s/%s): %w",
				rec.ID, rec.Kind, rec.Status, transactions.ErrInvalidTransition)
		}

		if amountMinor <= 0 || amountMinor > rec.AmountMinor {
			return fmt.Errorf("%w: %d of %d", ErrInvalidRefundAmount, amountMinor, rec.AmountMinor)
		}

		// prorate the clawback by the refunded fraction, rounded down
		clawback := rec.CreditDelta * amountMinor / rec.AmountMinor

		skipped := false

		_, err = e.accounts.Debit(tx, rec.AccountID, clawback)
		if err != nil {
			if !errors.Is(err, accounts.ErrInsufficientCredits) {
				return err
			}

			// credits already spent; keep the monetary refund on
			// record and hand the account to ops
			skipped = true

			err = e.accounts.Flag(tx, rec.AccountID)
			if err != nil {
				return err
			}

			slog.Warn("refund clawback skipped, account flagged",
				"account", rec.AccountID,
				"transaction", rec.ID,
				"clawback", clawback,
			)
		}

		meta, err := transactions.EncodeMeta(transactions.RefundMeta{
			OriginalTransactionID: rec.ID,
			ActorID:               actorID,
			Reason:                reason,
			ClawbackSkipped:       skipped,
		})
		if err != nil {
			return err
		}

		delta := -clawback
		if skipped {
			delta = 0
		}

		refundID := uuid.NewString()

		err = e.txns.Insert(tx, transactions.Record{
			ID:          refundID,
			AccountID:   rec.AccountID,
			Kind:        transactions.KindRefund,
			Status:      transactions.StatusCompleted,
			CreditDelta: delta,
			AmountMinor: amountMinor,
			Currency:    rec.Currency,
			Metadata:    meta,
		})
		if err != nil {
			return fmt.Errorf("record refund: %w", err)
		}

		transitioned, err := e.txns.MarkRefunded(tx, rec.ID, refundID, reason)
		if err != nil {
			return err
		}
		if !transitioned {
			return transactions.ErrAlreadyRefunded
		}

		out = RefundResult{
			RefundTransactionID: refundID,
			CreditsClawedBack:   clawback,
			ClawbackSkipped:     skipped,
		}

		return nil
	})
	if err != nil {
		return RefundResult{}, err
	}

	return out, nil
}
