// Package app wires the WhatsOTP runtime: config, logging, the session
// supervisor, OTP engine, event hub, HTTP routes, and metrics.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	v1 "github.com/omdev04/WhatsOTP/contracts/events/v1"
	"github.com/omdev04/WhatsOTP/internal/api"
	"github.com/omdev04/WhatsOTP/internal/auth"
	"github.com/omdev04/WhatsOTP/internal/events"
	"github.com/omdev04/WhatsOTP/internal/otp"
	"github.com/omdev04/WhatsOTP/internal/supervisor"
	"github.com/omdev04/WhatsOTP/internal/transport"
)

// App is the WhatsOTP server runtime. It owns the HTTP server plus the
// long-running goroutines around the session supervisor.
type App struct {
	cfg Config
	log Logger

	ledger otp.LedgerStore

	dbPool    *pgxpool.Pool
	dbEnabled bool

	hub     *events.Hub
	sup     *supervisor.Supervisor
	engine  *otp.Engine
	gateway *events.Gateway
	handler *api.Handler
	metrics *Metrics
}

// New constructs a fully wired App instance from config and logger.
// dialer may be nil; the simulated dev transport is used then.
func New(cfg Config, log Logger, dialer transport.Dialer) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	ledger, dbPool, dbEnabled, err := newLedgerStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	credStore, err := transport.NewFileCredentialStore(cfg.CredentialDir)
	if err != nil {
		closeLedger(ledger, dbPool)
		return nil, err
	}

	if dialer == nil {
		log.Warn("transport.dev_dialer", "detail", "no real transport injected; messages are logged, not delivered")
		dialer = transport.NewDevDialer(log, credStore)
	}

	hub := events.NewHub(log, nil, cfg.EventQueueSize)

	sup := supervisor.New(log, supervisor.Config{
		MaxAttempts:   cfg.MaxRetries,
		RetryInterval: cfg.RetryInterval,
		ErrorDelayCap: cfg.RetryDelayCap,
		ResetDelay:    cfg.ResetDelay,
	}, dialer, credStore, hub)

	hub.SetSnapshotFunc(func() v1.SnapshotPayload {
		sn := sup.Snapshot()
		return v1.SnapshotPayload{
			State:         sn.State.String(),
			HasCredential: sn.HasCredential,
			Credential:    sn.Credential,
		}
	})

	engine := otp.NewEngine(log, ledger, sup, hub, cfg.OTPTTL)

	authCfg, err := auth.LoadConfigFromEnv()
	if err != nil {
		closeLedger(ledger, dbPool)
		return nil, err
	}
	authn, err := auth.NewAuthenticator(log, authCfg)
	if err != nil {
		closeLedger(ledger, dbPool)
		return nil, err
	}

	gateway := events.NewGateway(log, hub, events.GatewayConfig{
		OriginRequired: cfg.WSOriginRequired,
		AllowedOrigins: cfg.WSAllowedOrigins,
	})

	return &App{
		cfg:       cfg,
		log:       log,
		ledger:    ledger,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		hub:       hub,
		sup:       sup,
		engine:    engine,
		gateway:   gateway,
		handler:   api.NewHandler(log, engine, sup, authn),
		metrics:   NewMetrics(log, hub),
	}, nil
}

// Run starts the supervisor, sweeper, metrics observer, and HTTP server,
// then blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.sup.Run(runCtx)
	go a.engine.RunSweeper(runCtx, a.cfg.SweepInterval, a.cfg.Retention)
	go a.metrics.Run(runCtx)

	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.handler, a.gateway, a.metrics)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	// Stop the supervisor and sweeper before closing their ledger.
	cancel()

	closeLedger(a.ledger, a.dbPool)

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newLedgerStore decides between Postgres, SQLite, and in-memory persistence.
func newLedgerStore(ctx context.Context, cfg Config, log Logger) (otp.LedgerStore, *pgxpool.Pool, bool, error) {
	switch {
	case cfg.LedgerURL != "":
		pool, err := NewDBPool(ctx, cfg)
		if err != nil {
			return nil, nil, false, err
		}

		// Ownership model:
		// - app owns pool lifecycle
		// - PostgresStore.Close() is a no-op
		st, err := otp.NewPostgresStore(pool)
		if err != nil {
			pool.Close()
			return nil, nil, false, err
		}

		log.Info("ledger.postgres")
		return st, pool, true, nil

	case cfg.LedgerSQLitePath != "":
		st, err := otp.OpenSQLiteStore(ctx, cfg.LedgerSQLitePath)
		if err != nil {
			return nil, nil, false, err
		}

		log.Info("ledger.sqlite", "path", cfg.LedgerSQLitePath)
		return st, nil, false, nil

	default:
		log.Info("ledger.inmemory", "detail", "challenges are lost on restart")
		return otp.NewInMemoryStore(), nil, false, nil
	}
}

func closeLedger(ledger otp.LedgerStore, pool *pgxpool.Pool) {
	if ledger != nil {
		_ = ledger.Close()
	}
	if pool != nil {
		pool.Close()
	}
}
