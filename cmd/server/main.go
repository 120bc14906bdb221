/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the vibehouse invite engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load VIBEHOUSE_* environment, then apply command-line flags
  2. Open the record store (Postgres, SQLite or in-memory)
  3. Pick the ledger (relayer or in-memory demo ledger)
  4. Pick the calendar (Google, local SQLite calendar or in-memory)
  5. Build the engine and API handler
  6. Start the pending-confirmation sweep
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  --port    HTTP server port (overrides VIBEHOUSE_PORT)
  --db      SQLite database path (overrides VIBEHOUSE_SQLITE_PATH)
            Use ":memory:" for the in-memory record store

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sweep
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connections
  5. Exit

EXAMPLES:
  # Demo mode: in-memory ledger, scenarios enabled
  ./server --db=":memory:"

  # Production-like
  VIBEHOUSE_DATABASE_URL=postgres://... VIBEHOUSE_LEDGER_URL=https://relayer ./server

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"google.golang.org/api/option"

	"github.com/dcjanio/vibehouse/api"
	"github.com/dcjanio/vibehouse/calendar/gcal"
	"github.com/dcjanio/vibehouse/config"
	"github.com/dcjanio/vibehouse/invite"
	"github.com/dcjanio/vibehouse/ledger/httpledger"
	"github.com/dcjanio/vibehouse/store/memory"
	"github.com/dcjanio/vibehouse/store/postgres"
	"github.com/dcjanio/vibehouse/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	// Flags
	pflag.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	pflag.StringVar(&cfg.SQLitePath, "db", cfg.SQLitePath, `SQLite database path (":memory:" for in-memory)`)
	pflag.Parse()

	log := config.NewLogger(os.Stderr, cfg.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server.exit", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx := context.Background()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := invite.NewMetrics(reg)

	b, err := openBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.close()

	clock := invite.Clock(func() time.Time { return time.Now().UTC() })

	gateway := invite.NewLedgerGateway(b.ledger, cfg.LedgerTimeout)
	recs := invite.NewRecords(b.records, cfg.StoreTimeout)
	avail := invite.NewAvailability(invite.AvailabilityConfig{
		Busy:        b.busy,
		Records:     recs,
		Hours:       cfg.WorkHours(),
		Clock:       clock,
		BusyTimeout: cfg.BusyTimeout,
		Metrics:     metrics,
	})
	recon := invite.NewReconciler(gateway, recs, clock, log)
	coord, err := invite.NewCoordinator(invite.CoordinatorConfig{
		Reconciler:       recon,
		Availability:     avail,
		Ledger:           gateway,
		Records:          recs,
		Scheduler:        b.scheduler,
		Notifier:         invite.LogNotifier{Log: log},
		Audit:            b.audit,
		Clock:            clock,
		Log:              log,
		Metrics:          metrics,
		HorizonDays:      cfg.RedeemHorizonDays,
		SchedulerTimeout: cfg.SchedulerTimeout,
	})
	if err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}

	sweep := api.NewSweepScheduler(recon, metrics, log)
	sweep.CheckInterval = cfg.SweepInterval
	sweep.Enabled = cfg.SweepInterval > 0

	handler := &api.Handler{
		Availability: avail,
		Reconciler:   recon,
		Coordinator:  coord,
		Records:      recs,
		Audit:        b.audit,
		Log:          log,
		Demo:         b.demo,
		Sweep:        sweep,
	}

	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins: cfg.CORSOrigins,
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	sweep.Start()
	defer sweep.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		log.Info("server.start", "addr", server.Addr, "demo", cfg.Demo(), "google", cfg.Google())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	}

	log.Info("server.shutdown")
	sweep.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	log.Info("server.stopped")
	return nil
}

// =============================================================================
// BACKEND SELECTION
// =============================================================================

type backends struct {
	ledger    invite.LedgerClient
	records   invite.RecordStore
	audit     invite.AuditLog
	busy      invite.BusySource
	scheduler invite.Scheduler
	demo      *api.Demo
	closers   []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackends(ctx context.Context, cfg config.Config, log *slog.Logger) (*backends, error) {
	b := &backends{}
	var (
		localBusy invite.BusySource
		reset     func(context.Context) error
	)

	// Record store
	switch {
	case cfg.DatabaseURL != "":
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.StoreTimeout)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		b.closers = append(b.closers, pool.Close)
		st, err := postgres.New(pool, postgres.WithSchema(cfg.DatabaseSchema))
		if err != nil {
			b.close()
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			b.close()
			return nil, fmt.Errorf("postgres migrate: %w", err)
		}
		b.records, b.audit = st, st
		log.Info("store.postgres", "schema", cfg.DatabaseSchema)

	case cfg.SQLitePath == ":memory:":
		recs, audit := memory.NewRecords(), memory.NewAudit()
		b.records, b.audit = recs, audit
		reset = func(context.Context) error {
			recs.Reset()
			return nil
		}
		log.Info("store.memory")

	default:
		st, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		b.closers = append(b.closers, func() { st.Close() })
		b.records, b.audit, localBusy = st, st, st
		reset = st.Reset
		log.Info("store.sqlite", "path", cfg.SQLitePath)
	}

	// Ledger
	var demoLedger *memory.Ledger
	if cfg.Demo() {
		demoLedger = memory.NewLedger()
		b.ledger = demoLedger
		log.Warn("ledger.demo", "reason", "VIBEHOUSE_LEDGER_URL not set")
	} else {
		client, err := httpledger.New(cfg.LedgerURL, httpledger.WithAPIKey(cfg.LedgerAPIKey))
		if err != nil {
			b.close()
			return nil, err
		}
		b.ledger = client
	}

	// Calendar
	var demoBusy *memory.Busy
	switch {
	case cfg.Google():
		ts := gcal.TokenSource(ctx, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRefreshToken)
		cal, err := gcal.New(ctx,
			[]option.ClientOption{option.WithTokenSource(ts)},
			gcal.WithCalendars(cfg.GoogleCalendars),
			gcal.WithDefaultCalendar(cfg.GoogleDefaultCalendar),
		)
		if err != nil {
			b.close()
			return nil, err
		}
		b.busy, b.scheduler = cal, cal
	case cfg.Demo() || localBusy == nil:
		demoBusy = memory.NewBusy()
		b.busy = demoBusy
		b.scheduler = memory.NewScheduler(cfg.JoinBaseURL)
	default:
		b.busy = localBusy
		b.scheduler = memory.NewScheduler(cfg.JoinBaseURL)
	}

	if demoLedger != nil && reset != nil {
		b.demo = &api.Demo{
			Ledger:  demoLedger,
			Busy:    demoBusy,
			Records: b.records,
			Reset:   reset,
		}
	}
	return b, nil
}
