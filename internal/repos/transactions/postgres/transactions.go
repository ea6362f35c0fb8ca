package transactions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dkoval/creditledger/internal/repos/transactions"
)

var _ transactions.Transactions = (*transactionsRepo)(nil)

type transactionsRepo struct{ db *sql.DB }

func New(db *sql.DB) *transactionsRepo {
	return &transactionsRepo{db: db}
}

const recordColumns = `
	id, account_id, kind, status, credit_delta, amount_minor, currency,
	external_ref, metadata, failure_reason, refunded,
	refund_transaction_id, refund_reason, created_at, completed_at, failed_at`

func scanRecord(row interface{ Scan(...any) error }) (transactions.Record, error) {
	var rec transactions.Record

	err := row.Scan(
		&rec.ID, &rec.AccountID, &rec.Kind, &rec.Status, &rec.CreditDelta,
		&rec.AmountMinor, &rec.Currency, &rec.ExternalRef, &rec.Metadata,
		&rec.FailureReason, &rec.Refunded, &rec.RefundTransactionID,
		&rec.RefundReason, &rec.CreatedAt, &rec.CompletedAt, &rec.FailedAt,
	)

	return rec, err
}

func (r *transactionsRepo) Insert(tx *sql.Tx, rec transactions.Record) error {
	metadata := rec.Metadata
	if len(metadata) == 0 {
		metadata = []byte(`{}`)
	}

	// Records can be born completed (synchronous usage flows) or failed
	// (provider errors); their terminal timestamps are set inline.
	// Pending records get completed_at/failed_at on transition.
	_, err := tx.Exec(`
		INSERT INTO transactions
			(id, account_id, kind, status, credit_delta, amount_minor,
			 currency, external_ref, metadata, failure_reason,
			 completed_at, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		        CASE WHEN $4 = 'completed' THEN now() END,
		        CASE WHEN $4 = 'failed' THEN now() END)
	`,
		rec.ID, rec.AccountID, rec.Kind, rec.Status, rec.CreditDelta,
		rec.AmountMinor, rec.Currency, rec.ExternalRef, metadata,
		rec.FailureReason,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return transactions.ErrDuplicateExternalRef
		}

		return fmt.Errorf("insert transaction: %w", err)
	}

	return nil
}

func (r *transactionsRepo) GetByID(ctx context.Context, id string) (transactions.Record, error) {
	rec, err := scanRecord(r.db.QueryRowContext(ctx, `
		SELECT`+recordColumns+`
		FROM transactions
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return transactions.Record{}, transactions.ErrTransactionNotFound
		}

		return transactions.Record{}, fmt.Errorf("get transaction: %w", err)
	}

	return rec, nil
}

func (r *transactionsRepo) ListByAccount(ctx context.Context, accountID string, limit int) ([]transactions.Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT`+recordColumns+`
		FROM transactions
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var recs []transactions.Record

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}

		recs = append(recs, rec)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}

	return recs, nil
}

func (r *transactionsRepo) LockByExternalRef(tx *sql.Tx, externalRef string) (transactions.Record, error) {
	rec, err := scanRecord(tx.QueryRow(`
		SELECT`+recordColumns+`
		FROM transactions
		WHERE external_ref = $1
		FOR UPDATE
	`, externalRef))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return transactions.Record{}, transactions.ErrTransactionNotFound
		}

		return transactions.Record{}, fmt.Errorf("lock by external ref: %w", err)
	}

	return rec, nil
}

func (r *transactionsRepo) LockByID(tx *sql.Tx, id string) (transactions.Record, error) {
	rec, err := scanRecord(tx.QueryRow(`
		SELECT`+recordColumns+`
		FROM transactions
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return transactions.Record{}, transactions.ErrTransactionNotFound
		}

		return transactions.Record{}, fmt.Errorf("lock by id: %w", err)
	}

	return rec, nil
}

func (r *transactionsRepo) MarkCompleted(tx *sql.Tx, id string) (bool, error) {
	res, err := tx.Exec(`
		UPDATE transactions
		SET status = 'completed',
		    completed_at = now()
		WHERE id = $1
		  AND status = 'pending'
	`, id)
	if err != nil {
		return false, fmt.Errorf("mark completed: %w", err)
	}

	return oneRowAffected(res)
}

func (r *transactionsRepo) MarkFailed(tx *sql.Tx, id, reason string) (bool, error) {
	res, err := tx.Exec(`
		UPDATE transactions
		SET status = 'failed',
		    failed_at = now(),
		    failure_reason = $2
		WHERE id = $1
		  AND status = 'pending'
	`, id, reason)
	if err != nil {
		return false, fmt.Errorf("mark failed: %w", err)
	}

	return oneRowAffected(res)
}

func (r *transactionsRepo) MarkRefunded(tx *sql.Tx, id, refundTransactionID, reason string) (bool, error) {
	res, err := tx.Exec(`
		UPDATE transactions
		SET status = 'refunded',
		    refunded = TRUE,
		    refund_transaction_id = $2,
		    refund_reason = $3
		WHERE id = $1
		  AND status = 'completed'
		  AND refunded = FALSE
	`, id, refundTransactionID, reason)
	if err != nil {
		return false, fmt.Errorf("mark refunded: %w", err)
	}

	return oneRowAffected(res)
}

func oneRowAffected(res sql.Result) (bool, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}

	return affected == 1, nil
}
