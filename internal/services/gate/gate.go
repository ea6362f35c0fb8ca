// Package gate is request-time admission control: a cheap balance
// pre-check plus a shared fixed-window request limiter, both evaluated
// before any external provider work begins.
package gate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dkoval/creditledger/internal/infra/metrics"
	"github.com/dkoval/creditledger/internal/repos/accounts"
	pgaccounts "github.com/dkoval/creditledger/internal/repos/accounts/postgres"
	"github.com/dkoval/creditledger/internal/services/pricing"
)

var (
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrAccountDeactivated = errors.New("account deactivated")
)

// InsufficientCreditsError carries the shortfall context so callers can
// tell users how much to top up. errors.Is matches
// accounts.ErrInsufficientCredits.
type InsufficientCreditsError struct {
	Required  int64
	Available int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, available %d", e.Required, e.Available)
}

func (e *InsufficientCreditsError) Unwrap() error { return accounts.ErrInsufficientCredits }

// Gate performs admission checks. The request counter lives in the
// database, keyed by (account, window start), so all server instances
// see the same window.
type Gate struct {
	db       *sql.DB
	accounts accounts.Accounts
	catalog  *pricing.Catalog
	window   time.Duration
}

func New(db *sql.DB, catalog *pricing.Catalog, window time.Duration) *Gate {
	if window <= 0 {
		window = time.Minute
	}

	return &Gate{
		db:       db,
		accounts: pgaccounts.New(db),
		catalog:  catalog,
		window:   window,
	}
}

// Admit rejects the request if the account is deactivated, over its
// tier's request rate, or cannot afford the estimated cost. The balance
// check here is advisory (the settle-time debit is the atomic one); its
// job is to keep unaffordable requests away from paid providers.
func (g *Gate) Admit(ctx context.Context, accountID string, estimate int64) (accounts.Account, error) {
	acct, err := g.accounts.Get(ctx, accountID)
	if err != nil {
		return accounts.Account{}, fmt.Errorf("admit: %w", err)
	}

	if acct.DeactivatedAt != nil {
		return accounts.Account{}, fmt.Errorf("admit %q: %w", accountID, ErrAccountDeactivated)
	}

	err = g.countRequest(ctx, acct)
	if err != nil {
		return accounts.Account{}, err
	}

	if acct.Balance < estimate {
		metrics.AdmissionRejections.WithLabelValues("insufficient_credits").Inc()

		return accounts.Account{}, &InsufficientCreditsError{
			Required:  estimate,
			Available: acct.Balance,
		}
	}

	return acct, nil
}

// countRequest bumps the account's counter for the current window in a
// single upsert and rejects once the tier cap is crossed.
func (g *Gate) countRequest(ctx context.Context, acct accounts.Account) error {
	windowStart := time.Now().UTC().Truncate(g.window)

	var count int64

	err := g.db.QueryRowContext(ctx, `
		INSERT INTO rate_windows (account_id, window_start, request_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (account_id, window_start)
		DO UPDATE SET request_count = rate_windows.request_count + 1
		RETURNING request_count
	`, acct.ID, windowStart).Scan(&count)
	if err != nil {
		return fmt.Errorf("count request: %w", err)
	}

	limit := g.catalog.TierRequestLimit(acct.Tier)
	if count > limit {
		metrics.AdmissionRejections.WithLabelValues("rate_limited").Inc()

		return fmt.Errorf("tier %q allows %d requests per window: %w", acct.Tier, limit, ErrRateLimited)
	}

	return nil
}
