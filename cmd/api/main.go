package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dkoval/creditledger/internal/api"
	"github.com/dkoval/creditledger/internal/infra/logging"
	"github.com/dkoval/creditledger/internal/infra/pgutils"
	"github.com/dkoval/creditledger/internal/providers/relay"
	"github.com/dkoval/creditledger/internal/services/gate"
	"github.com/dkoval/creditledger/internal/services/ledger"
	"github.com/dkoval/creditledger/internal/services/metering"
	"github.com/dkoval/creditledger/internal/services/pricing"
	"github.com/dkoval/creditledger/internal/services/settlement"
	"github.com/dkoval/creditledger/pkg/envconf"
	"github.com/dkoval/creditledger/pkg/shutdownqueue"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error running api: %v", err)
		//nolint:gocritic
		os.Exit(1)
	}
}

func run(ctx context.Context) (retErr error) {
	cfg := new(apiConfig)

	err := envconf.Load(cfg)
	if err != nil {
		return fmt.Errorf("init config: %w", err)
	}

	logging.SetupJSON(cfg.LogLevel)

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		serr := shutdownqueue.Shutdown(shutdownCtx)
		if serr != nil {
			retErr = errors.Join(retErr, serr)
		}
	}()

	// --- Infra ---
	db, err := pgutils.OpenDB(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}

	shutdownqueue.Add(func(context.Context) error {
		slog.Info("Close database pool")

		return db.Close()
	})

	catalog, err := pricing.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return fmt.Errorf("load pricing catalog: %w", err)
	}

	// --- Core services ---
	provider := relay.New(cfg.ProviderBaseURL, cfg.ProviderTimeout)
	admissionGate := gate.New(db, catalog, cfg.RateWindow)

	ledgerSrv := ledger.New(db, catalog)
	meteringEng := metering.New(db, catalog, admissionGate, provider, cfg.BulkSendDelay)
	settlementEng := settlement.New(db, catalog)

	// --- HTTP server ---
	srv := api.NewServer(cfg.Port, api.NewRouter(ledgerSrv, meteringEng, settlementEng))

	shutdownqueue.Add(func(c context.Context) error {
		slog.Info("Shut down server")

		err := srv.Shutdown(c)
		if err != nil {
			return fmt.Errorf("shutdown srv: %w", err)
		}

		return nil
	})

	errCh := make(chan error, 1)

	go func() {
		serr := srv.ListenAndServe()
		// http.ErrServerClosed is the normal path during Shutdown
		if serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			errCh <- serr
			return
		}

		errCh <- nil
	}()

	slog.Info("API started", "port", cfg.Port)

	select {
	case <-ctx.Done():
		// graceful path; deferred shutdownqueue.Shutdown will run
		return nil
	case serr := <-errCh:
		if serr != nil {
			return fmt.Errorf("server error: %w", serr)
		}

		return nil
	}
}
