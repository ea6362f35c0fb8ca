// Package metering orchestrates a billable operation end to end:
// estimate, admission check, provider invocation, cost reconciliation
// and settlement. Each request moves estimated -> provider-invoked ->
// reconciled -> settled, or fails along the way.
package metering

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dkoval/creditledger/internal/infra/metrics"
	"github.com/dkoval/creditledger/internal/infra/pgutils"
	"github.com/dkoval/creditledger/internal/repos/accounts"
	pgaccounts "github.com/dkoval/creditledger/internal/repos/accounts/postgres"
	"github.com/dkoval/creditledger/internal/repos/transactions"
	pgtransactions "github.com/dkoval/creditledger/internal/repos/transactions/postgres"
	"github.com/dkoval/creditledger/internal/services/gate"
	"github.com/dkoval/creditledger/internal/services/pricing"
)

var (
	// ErrProvider wraps external call failures. No balance impact;
	// retrying is the caller's decision.
	ErrProvider = errors.New("provider error")

	ErrInvalidOperation = errors.New("invalid operation")
)

// Operation describes one billable request.
type Operation struct {
	Kind       OperationKind
	Model      string // AI only
	MaxTokens  int64  // AI only; conservative output bound for the estimate
	Payload    string
	Recipients []string // SMS/email only
}

// Result is what the caller gets after settlement. When Flagged is
// set the provider work succeeded but the final debit fell short; the
// account was marked for reconciliation and the shortfall recorded.
type Result struct {
	TransactionID    string
	CreditsCharged   int64
	RemainingBalance int64
	TokensUsed       int64
	TotalSent        int
	TotalFailed      int
	LatencyMS        int64
	Flagged          bool
}

type Engine struct {
	db       *sql.DB
	accounts accounts.Accounts
	txns     transactions.Transactions
	catalog  *pricing.Catalog
	gate     *gate.Gate
	provider Provider

	// courtesy throttle between bulk sends, for the downstream
	// provider's benefit; not a correctness mechanism
	sendDelay time.Duration
}

func New(db *sql.DB, catalog *pricing.Catalog, g *gate.Gate, provider Provider, sendDelay time.Duration) *Engine {
	return &Engine{
		db:        db,
		accounts:  pgaccounts.New(db),
		txns:      pgtransactions.New(db),
		catalog:   catalog,
		gate:      g,
		provider:  provider,
		sendDelay: sendDelay,
	}
}

// Meter runs the full flow for one operation. The provider is never
// invoked when the estimate already exceeds the balance, and a failed
// provider call is recorded with zero credit impact.
func (e *Engine) Meter(ctx context.Context, accountID string, op Operation) (Result, error) {
	switch op.Kind {
	case OpAI:
		return e.meterAI(ctx, accountID, op)
	case OpSMS, OpEmail:
		return e.meterBulk(ctx, accountID, op)
	default:
		return Result{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidOperation, op.Kind)
	}
}

func (e *Engine) meterAI(ctx context.Context, accountID string, op Operation) (Result, error) {
	if op.MaxTokens <= 0 {
		return Result{}, fmt.Errorf("%w: maxTokens must be positive", ErrInvalidOperation)
	}

	rate, err := e.catalog.LookupModel(op.Model)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}

	// 1) conservative estimate: assume the full output budget is used
	estimate := pricing.AICost(op.MaxTokens, rate)

	// 2) admission
	acct, err := e.gate.Admit(ctx, accountID, estimate)
	if err != nil {
		return Result{}, err
	}

	// 3) provider call
	res, err := e.provider.Invoke(ctx, ProviderRequest{
		AccountID:     accountID,
		Kind:          OpAI,
		Model:         op.Model,
		Payload:       op.Payload,
		MaxTokens:     op.MaxTokens,
		BudgetCeiling: acct.Balance,
	})
	if err != nil {
		metrics.ProviderErrors.WithLabelValues(string(OpAI)).Inc()

		ferr := e.recordFailure(ctx, accountID, op, err)
		if ferr != nil {
			slog.Error("record provider failure", "account", accountID, "error", ferr)
		}

		return Result{}, fmt.Errorf("%w: %v", ErrProvider, err)
	}

	// 4) reconcile actual cost from real usage
	actual := pricing.AICost(res.TokensUsed, rate)

	// 5) settle
	meta := transactions.UsageMeta{
		Operation:  string(OpAI),
		Model:      op.Model,
		TokensUsed: res.TokensUsed,
		LatencyMS:  res.LatencyMS,
	}

	out, err := e.settle(ctx, accountID, actual, meta)
	if err != nil {
		return Result{}, err
	}

	out.TokensUsed = res.TokensUsed
	out.LatencyMS = res.LatencyMS

	return out, nil
}

func (e *Engine) meterBulk(ctx context.Context, accountID string, op Operation) (Result, error) {
	if len(op.Recipients) == 0 {
		return Result{}, fmt.Errorf("%w: no recipients", ErrInvalidOperation)
	}

	// worst-case estimate: every recipient delivered
	estimate := pricing.EstimateBulk(len(op.Recipients))

	acct, err := e.gate.Admit(ctx, accountID, estimate)
	if err != nil {
		return Result{}, err
	}

	sent, failed := 0, 0

	var lastErr error

	for i, recipient := range op.Recipients {
		if i > 0 && e.sendDelay > 0 {
			time.Sleep(e.sendDelay)
		}

		_, err := e.provider.Invoke(ctx, ProviderRequest{
			AccountID:     accountID,
			Kind:          op.Kind,
			Payload:       op.Payload,
			Recipient:     recipient,
			BudgetCeiling: acct.Balance,
		})
		if err != nil {
			failed++
			lastErr = err

			continue
		}

		sent++
	}

	if sent == 0 {
		// nothing delivered, nothing billable
		metrics.ProviderErrors.WithLabelValues(string(op.Kind)).Inc()

		ferr := e.recordFailure(ctx, accountID, op, lastErr)
		if ferr != nil {
			slog.Error("record provider failure", "account", accountID, "error", ferr)
		}

		return Result{}, fmt.Errorf("%w: all %d sends failed: %v", ErrProvider, failed, lastErr)
	}

	// charge only what was delivered
	actual := pricing.MessageCost(sent)

	meta := transactions.UsageMeta{
		Operation:   string(op.Kind),
		Recipients:  len(op.Recipients),
		TotalSent:   sent,
		TotalFailed: failed,
	}

	out, err := e.settle(ctx, accountID, actual, meta)
	if err != nil {
		return Result{}, err
	}

	out.TotalSent = sent
	out.TotalFailed = failed

	return out, nil
}

// settle debits the actual cost and records the completed usage
// transaction in one DB transaction. The debit is clamped: provider
// work already happened and cannot be returned, so if a concurrent
// debit won the race since the admission check we take what is left,
// flag the account and record the shortfall rather than hide it.
func (e *Engine) settle(ctx context.Context, accountID string, actual int64, meta transactions.UsageMeta) (Result, error) {
	var out Result

	err := pgutils.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		applied, balance, short, err := e.accounts.DebitClamped(tx, accountID, actual)
		if err != nil {
			return fmt.Errorf("settle debit: %w", err)
		}

		if short {
			meta.Shortfall = actual - applied
			metrics.SettlementShortfalls.Inc()
			slog.Warn("settlement shortfall, account flagged",
				"account", accountID,
				"cost", actual,
				"applied", applied,
			)
		}

		raw, err := transactions.EncodeMeta(meta)
		if err != nil {
			return err
		}

		txnID := uuid.NewString()

		err = e.txns.Insert(tx, transactions.Record{
			ID:          txnID,
			AccountID:   accountID,
			Kind:        transactions.KindUsage,
			Status:      transactions.StatusCompleted,
			CreditDelta: -applied,
			Metadata:    raw,
		})
		if err != nil {
			return fmt.Errorf("record usage: %w", err)
		}

		out = Result{
			TransactionID:    txnID,
			CreditsCharged:   applied,
			RemainingBalance: balance,
			Flagged:          short,
		}

		return nil
	})
	if err != nil {
		return Result{}, err
	}

	metrics.UsageSettled.WithLabelValues(meta.Operation).Inc()
	metrics.CreditsDebited.Add(float64(out.CreditsCharged))

	return out, nil
}

// recordFailure writes the zero-impact failed transaction for a
// provider error.
func (e *Engine) recordFailure(ctx context.Context, accountID string, op Operation, cause error) error {
	meta := transactions.UsageMeta{
		Operation:  string(op.Kind),
		Model:      op.Model,
		Recipients: len(op.Recipients),
	}

	raw, err := transactions.EncodeMeta(meta)
	if err != nil {
		return err
	}

	reason := "provider error"
	if cause != nil {
		reason = cause.Error()
	}

	return pgutils.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		err := e.txns.Insert(tx, transactions.Record{
			ID:            uuid.NewString(),
			AccountID:     accountID,
			Kind:          transactions.KindUsage,
			Status:        transactions.StatusFailed,
			CreditDelta:   0,
			Metadata:      raw,
			FailureReason: &reason,
		})
		if err != nil {
			return fmt.Errorf("insert failed usage: %w", err)
		}

		return nil
	})
}
