// Package turno is the public API for embedding the turno ticket dispatch
// engine.
//
// Callers construct an App, start it with Run, and drive the dispatch
// workflows through its methods:
//
//	app, err := turno.New(
//	    turno.WithVersion(version),
//	    turno.WithLogger(logger),
//	    turno.WithNotificationSink(deskDisplay),
//	)
//	if err != nil { ... }
//	go app.Run(ctx)
//	res, err := app.DeriveToEmployee(ctx, turno.DeriveToEmployee{...})
//
// The import graph enforces a strict no-cycle rule: turno (root) imports
// internal/*, but internal/* never imports turno (root). Public types are
// aliases of the internal model declared in types.go.
package turno

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/turno/internal/audit"
	"github.com/ashita-ai/turno/internal/config"
	"github.com/ashita-ai/turno/internal/index"
	"github.com/ashita-ai/turno/internal/notify"
	"github.com/ashita-ai/turno/internal/ratelimit"
	"github.com/ashita-ai/turno/internal/service/assignment"
	"github.com/ashita-ai/turno/internal/service/derivation"
	"github.com/ashita-ai/turno/internal/service/reconcile"
	"github.com/ashita-ai/turno/internal/storage"
	"github.com/ashita-ai/turno/internal/store"
	"github.com/ashita-ai/turno/internal/store/memstore"
	"github.com/ashita-ai/turno/internal/telemetry"
	"github.com/ashita-ai/turno/migrations"
)

// reconcileTimeout bounds a single scheduled reconciliation pass.
const reconcileTimeout = 30 * time.Second

// App is the turno dispatch lifecycle. Construct with New(), run with Run().
// App has no public fields; use New() options to configure it.
type App struct {
	cfg    config.Config
	store  store.Store
	db     *storage.DB // nil with the memory store
	index  *index.Index
	engine *assignment.Engine
	orch   *derivation.Orchestrator
	trig   *assignment.Trigger
	recon  *reconcile.Reconciler
	cron   *cron.Cron // nil when scheduled passes are disabled

	guard        ratelimit.Limiter
	sqliteAudit  *audit.SQLiteSink // nil unless TURNO_AUDIT_SINK=sqlite
	otelShutdown func(context.Context) error
	tracer       trace.Tracer
	logger       *slog.Logger
	version      string

	feedDone     chan struct{} // closed when the Postgres feed stops; nil until Run
	shutdownOnce sync.Once
	shutdownErr  error
}

// New initialises the dispatch engine. It connects to the store, runs
// migrations, wires all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines; call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{envFile: ".env"}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	version := o.version
	if version == "" {
		version = "dev"
	}
	ctx := context.Background()

	// 1. Configuration: env file, env vars, then option overrides.
	if err := config.LoadEnvFile(o.envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	applyOverrides(&cfg, o)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger.Info("turno starting", "version", version, "store", cfg.Store, "timezone", cfg.Timezone)

	// 2. OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, telemetry.Settings{
		Endpoint:    cfg.OTELEndpoint,
		Insecure:    cfg.OTELInsecure,
		ServiceName: cfg.ServiceName,
		Version:     version,
	})
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:          cfg,
		otelShutdown: otelShutdown,
		tracer:       telemetry.Tracer("turno"),
		logger:       logger,
		version:      version,
	}

	// 3. Store.
	if err := a.openStore(ctx, o); err != nil {
		_ = otelShutdown(ctx)
		return nil, err
	}

	// 4. Side-effect sinks.
	notifier := notify.NewBestEffort(a.notificationSink(o), logger)
	auditSink, err := a.auditSink(ctx, o)
	if err != nil {
		a.closeStore(ctx)
		_ = otelShutdown(ctx)
		return nil, err
	}
	recorder := audit.NewRecorder(auditSink, logger)

	// 5. Services.
	a.guard = ratelimit.NewRepeatGuard(cfg.ToggleMinInterval)
	a.index = index.New(a.store, logger)
	a.engine = assignment.New(a.store, a.index, notifier, a.guard, logger, assignment.Config{
		SettleAttempts: cfg.SettleAttempts,
		SettleDelay:    cfg.SettleDelay,
		Now:            o.now,
	})
	a.orch = derivation.New(a.store, a.engine, notifier, recorder, logger, derivation.Config{Now: o.now})
	a.trig = assignment.NewTrigger(a.engine, a.store, cfg.AutoAssignNew, logger)
	a.recon = reconcile.New(a.store, a.engine, true, logger)

	// 6. Reconciliation schedule.
	if cfg.ReconcileSchedule != "" {
		a.cron = cron.New(cron.WithChain(
			cron.Recover(cronLogger(logger)),
			cron.SkipIfStillRunning(cronLogger(logger)),
		))
		if _, err := a.recon.Schedule(a.cron, cfg.ReconcileSchedule, reconcileTimeout); err != nil {
			a.closeSinks()
			a.closeStore(ctx)
			_ = otelShutdown(ctx)
			return nil, err
		}
	}

	return a, nil
}

func applyOverrides(cfg *config.Config, o resolvedOptions) {
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
		if o.notifyURL == "" {
			cfg.NotifyURL = o.databaseURL
		}
	}
	if o.notifyURL != "" {
		cfg.NotifyURL = o.notifyURL
	}
	if o.memoryStore {
		cfg.Store = config.StoreMemory
		cfg.NotifyPG = false
		if cfg.AuditSink == config.AuditPostgres {
			cfg.AuditSink = config.AuditLog
		}
	}
	if o.reconcileSchedule != nil {
		cfg.ReconcileSchedule = *o.reconcileSchedule
	}
}

func (a *App) openStore(ctx context.Context, o resolvedOptions) error {
	loc := a.cfg.Location()
	if a.cfg.Store == config.StoreMemory {
		memOpts := []memstore.Option{
			memstore.WithLocation(loc),
			memstore.WithDefaultQueueSize(a.cfg.DefaultMaxPersonalQueue),
		}
		if o.now != nil {
			memOpts = append(memOpts, memstore.WithClock(o.now))
		}
		a.store = memstore.New(memOpts...)
		a.logger.Info("store: in-memory")
		return nil
	}

	db, err := storage.New(ctx, a.cfg.DatabaseURL, a.cfg.NotifyURL, a.logger,
		storage.WithLocation(loc),
		storage.WithDefaultQueueSize(a.cfg.DefaultMaxPersonalQueue),
	)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		db.Close(ctx)
		return fmt.Errorf("migrations: %w", err)
	}
	a.db = db
	a.store = db
	a.logger.Info("store: postgres")
	return nil
}

func (a *App) notificationSink(o resolvedOptions) notify.Sink {
	sinks := notify.Multi{notify.NewLogSink(a.logger)}
	if a.cfg.NotifyWebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(a.cfg.NotifyWebhookURL))
		a.logger.Info("notify: webhook enabled")
	}
	if a.cfg.NotifyPG && a.db != nil {
		sinks = append(sinks, notify.NewPGSink(a.db))
		a.logger.Info("notify: pg_notify enabled", "channel", notify.ChannelNotifications)
	}
	for _, s := range o.notificationSinks {
		sinks = append(sinks, s)
	}
	return sinks
}

func (a *App) auditSink(ctx context.Context, o resolvedOptions) (audit.Sink, error) {
	if o.auditSink != nil {
		a.logger.Info("audit: external sink")
		return o.auditSink, nil
	}
	switch a.cfg.AuditSink {
	case config.AuditPostgres:
		a.logger.Info("audit: postgres")
		return a.db, nil
	case config.AuditSQLite:
		s, err := audit.OpenSQLite(ctx, a.cfg.AuditSQLitePath)
		if err != nil {
			return nil, err
		}
		a.sqliteAudit = s
		a.logger.Info("audit: sqlite", "path", a.cfg.AuditSQLitePath)
		return s, nil
	default:
		a.logger.Info("audit: log")
		return audit.NewLogSink(a.logger), nil
	}
}

// Run starts the change feed, the snapshot index, the auto-assignment
// trigger and the reconciliation schedule, then blocks until ctx is
// cancelled. On return, Shutdown is called automatically; callers should
// not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	// Postgres pushes changes through LISTEN/NOTIFY; memstore publishes inline.
	if a.db != nil {
		a.feedDone = make(chan struct{})
		go func() {
			defer close(a.feedDone)
			a.db.RunFeed(ctx)
		}()
	}

	if err := a.index.Start(ctx); err != nil {
		_ = a.Shutdown(context.WithoutCancel(ctx))
		return fmt.Errorf("index: %w", err)
	}
	a.trig.Start(ctx)

	// One pass up front: repairs whatever a previous crash left behind and
	// hands waiting tickets to agents that were already free.
	if report, err := a.recon.Run(ctx); err != nil {
		a.logger.Warn("reconcile: startup pass failed", "error", err)
	} else if report.Repairs() > 0 || report.Assigned > 0 {
		a.logger.Info("reconcile: startup pass", "repairs", report.Repairs(), "assigned", report.Assigned)
	}

	if a.cron != nil {
		a.cron.Start()
		a.logger.Info("reconcile: scheduled", "spec", a.cfg.ReconcileSchedule)
	}

	a.logger.Info("turno running")
	<-ctx.Done()
	return a.Shutdown(context.WithoutCancel(ctx))
}

// Shutdown stops background work in dependency order:
// (1) the reconciliation schedule, waiting for a running pass,
// (2) the trigger, finishing queued assignment jobs,
// (3) the feed and index subscriptions.
// It then closes the sinks, the store and the OTEL provider. Safe to call
// more than once; later calls return the first result.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		a.shutdownErr = a.shutdown(ctx)
	})
	return a.shutdownErr
}

func (a *App) shutdown(ctx context.Context) error {
	a.logger.Info("turno shutting down")
	ctx, cancel := contextWithOptionalTimeout(ctx, a.cfg.ShutdownTimeout)
	defer cancel()

	var errs []error

	// Phase 1: scheduled passes.
	if a.cron != nil {
		select {
		case <-a.cron.Stop().Done():
		case <-ctx.Done():
			errs = append(errs, errors.New("reconcile: running pass did not finish before shutdown timeout"))
		}
	}

	// Phase 2: assignment jobs.
	a.trig.Drain(ctx)

	// Phase 3: feeds.
	a.index.Close()
	if a.feedDone != nil {
		select {
		case <-a.feedDone:
		case <-ctx.Done():
			errs = append(errs, errors.New("storage: change feed did not stop before shutdown timeout"))
		}
	}

	// Cleanup.
	a.closeSinks()
	a.closeStore(ctx)
	if err := a.otelShutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}

	a.logger.Info("turno stopped")
	return errors.Join(errs...)
}

func (a *App) closeSinks() {
	if a.guard != nil {
		_ = a.guard.Close()
	}
	if a.sqliteAudit != nil {
		if err := a.sqliteAudit.Close(); err != nil {
			a.logger.Warn("audit: close sqlite", "error", err)
		}
	}
}

func (a *App) closeStore(ctx context.Context) {
	if a.db != nil {
		a.db.Close(ctx)
	}
}

// contextWithOptionalTimeout returns a context with a timeout if d > 0,
// or a cancel-only context if d == 0 (no timeout).
func contextWithOptionalTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(parent, d)
	}
	return context.WithCancel(parent)
}

// cronLogger routes cron's own messages (panics, skipped ticks) to slog.
func cronLogger(logger *slog.Logger) cron.Logger {
	return cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelWarn))
}
