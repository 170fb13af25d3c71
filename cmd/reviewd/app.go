package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/reviewd/internal/checks"
	"github.com/fyrsmithlabs/reviewd/internal/config"
	"github.com/fyrsmithlabs/reviewd/internal/dispatch"
	"github.com/fyrsmithlabs/reviewd/internal/events"
	"github.com/fyrsmithlabs/reviewd/internal/gate"
	"github.com/fyrsmithlabs/reviewd/internal/ledger"
	"github.com/fyrsmithlabs/reviewd/internal/logging"
	"github.com/fyrsmithlabs/reviewd/internal/orchestrator"
	"github.com/fyrsmithlabs/reviewd/internal/platform"
	"github.com/fyrsmithlabs/reviewd/internal/secrets"
	"github.com/fyrsmithlabs/reviewd/internal/telemetry"
	"github.com/fyrsmithlabs/reviewd/internal/workspace"
)

// app holds the process-wide dependencies shared by the subcommands.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	tel    *telemetry.Telemetry
	policy *gate.Policy
	store  ledger.Store
	scrub  *secrets.Scrubber

	table      *dispatch.Table
	dispatcher *dispatch.Dispatcher

	nc     *nats.Conn
	events *events.NATSPublisher
	redis  redis.UniversalClient
	github *platform.GitHub

	closers []func() error
}

// newApp loads configuration and connects every enabled backend. Close
// releases them in reverse order.
func newApp(ctx context.Context, configPath string) (a *app, err error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close(ctx)
		}
	}()

	a.tel, err = telemetry.New(ctx, telemetry.FromServiceConfig(cfg.Observability, version))
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}
	a.closers = append(a.closers, func() error { return a.tel.Shutdown(context.Background()) })

	logCfg, err := logging.FromServiceConfig(cfg.Observability)
	if err != nil {
		return nil, err
	}
	a.logger, err = logging.NewLogger(logCfg, a.tel.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	a.closers = append(a.closers, func() error {
		_ = a.logger.Sync()
		return nil
	})

	if a.policy, err = loadPolicy(cfg.Orchestrator.PolicyFile); err != nil {
		return nil, err
	}

	if !cfg.Orchestrator.SkipEvidenceScrub {
		allow, err := secrets.LoadAllowlist(cfg.Orchestrator.SecretsAllowlist)
		if err != nil {
			return nil, err
		}
		if a.scrub, err = secrets.New(allow); err != nil {
			return nil, err
		}
	}

	if a.store, err = a.openStore(ctx); err != nil {
		return nil, err
	}

	if cfg.NATS.Enabled {
		a.nc, err = nats.Connect(cfg.NATS.URL, nats.Name("reviewd"))
		if err != nil {
			return nil, fmt.Errorf("connecting to nats: %w", err)
		}
		a.closers = append(a.closers, func() error {
			a.nc.Close()
			return nil
		})
		a.events = events.NewNATSPublisher(a.nc, cfg.NATS.SubjectPrefix, a.logger.Named("events"))
	}

	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password.Value(),
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			// Locks and de-duplication fail open.
			a.logger.Warn(ctx, "redis unreachable", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		a.redis = rdb
	}

	if cfg.GitHub.Enabled {
		client, err := platform.NewGitHubClient(ctx, cfg.GitHub.Token, cfg.GitHub.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("creating github client: %w", err)
		}
		a.github = platform.NewGitHub(client,
			platform.WithLabels(cfg.GitHub.DraftLabel, cfg.GitHub.ReadyLabel),
			platform.WithLogger(a.logger.Named("github")),
		)
	}

	return a, nil
}

// loadPolicy reads the gate policy, or falls back to the built-in catalog
// with no workers.
func loadPolicy(path string) (*gate.Policy, error) {
	if path == "" {
		return &gate.Policy{Registry: gate.Default()}, nil
	}
	p, err := gate.LoadPolicy(path)
	if err != nil {
		return nil, fmt.Errorf("loading gate policy: %w", err)
	}
	return p, nil
}

func (a *app) openStore(ctx context.Context) (ledger.Store, error) {
	var (
		driver  string
		dialect ledger.Dialect
	)
	switch a.cfg.Store.Driver {
	case "memory":
		return ledger.NewMemoryStore(), nil
	case "sqlite":
		driver, dialect = "sqlite", ledger.DialectSQLite
	case "postgres":
		driver, dialect = "postgres", ledger.DialectPostgres
	default:
		return nil, fmt.Errorf("unknown store driver %q", a.cfg.Store.Driver)
	}

	db, err := sql.Open(driver, a.cfg.Store.DSN.Value())
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", driver, err)
	}
	a.closers = append(a.closers, db.Close)
	if driver == "sqlite" {
		// One writer keeps SQLite from returning SQLITE_BUSY under parallel gates.
		db.SetMaxOpenConns(1)
	}

	store := ledger.NewSQLStore(db, dialect)
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrating %s store: %w", driver, err)
	}
	return store, nil
}

// workerTable builds the dispatch table from the policy's commands.
// registerWorkers binds the policy's worker commands into table.
func registerWorkers(table *dispatch.Table, p *gate.Policy) {
	for name, wc := range p.Workers {
		table.RegisterGate(name, &dispatch.ExecWorker{Command: wc.Command, Env: wc.Env, Dir: wc.Dir})
	}
	for name, wc := range p.Specialists {
		table.RegisterSpecialist(name, &dispatch.ExecWorker{Command: wc.Command, Env: wc.Env, Dir: wc.Dir})
	}
}

// newOrchestrator wires the registry, dispatcher, emitter and reporters.
func (a *app) newOrchestrator() (*orchestrator.Orchestrator, error) {
	cfg := a.cfg.Orchestrator
	reg := a.policy.Registry

	dispatchOpts := []dispatch.Option{
		dispatch.WithDefaultTimeout(cfg.DefaultTimeout),
		dispatch.WithLogger(a.logger.Named("dispatch")),
	}
	if a.redis != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithLocker(dispatch.NewRedisLocker(a.redis, a.cfg.Redis.LockTTL)))
	}
	if a.scrub != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithScrubber(a.scrub))
	}
	a.table = dispatch.NewTable()
	registerWorkers(a.table, a.policy)
	a.dispatcher = dispatch.New(reg, a.table, dispatchOpts...)

	var publishers []checks.Publisher
	if a.github != nil {
		publishers = append(publishers, a.github)
	}
	if a.events != nil {
		publishers = append(publishers, a.events)
	}
	if len(publishers) == 0 {
		publishers = append(publishers, checks.LogPublisher{Logger: a.logger.Named("checks")})
	}
	emitterOpts := []checks.Option{checks.WithLogger(a.logger.Named("checks"))}
	if a.redis != nil {
		emitterOpts = append(emitterOpts, checks.WithDeduper(checks.NewRedisDeduper(a.redis, a.cfg.Redis.DedupTTL)))
	}

	opts := []orchestrator.Option{
		orchestrator.WithConfig(orchestrator.Config{
			MaxParallel: cfg.MaxParallel,
			FailFast:    cfg.FailFast,
			DefaultTier: gate.Tier(cfg.DefaultTier),
		}),
		orchestrator.WithEmitter(checks.NewEmitter(cfg.Scope, publishers, emitterOpts...)),
		orchestrator.WithLogger(a.logger.Named("orchestrator")),
		orchestrator.WithTracer(a.tel.Tracer("github.com/fyrsmithlabs/reviewd/internal/orchestrator")),
	}
	if a.events != nil {
		opts = append(opts, orchestrator.WithLedgerOptions(ledger.WithObserver(a.events)))
	}
	if a.github != nil {
		opts = append(opts, orchestrator.WithReporter(a.github))
	}
	if cfg.WorkspaceRoot != "" {
		ws, err := workspace.New(cfg.WorkspaceRoot,
			workspace.WithToken(a.cfg.GitHub.Token),
			workspace.WithLogger(a.logger.Named("workspace")),
		)
		if err != nil {
			return nil, err
		}
		opts = append(opts, orchestrator.WithWorkspace(ws))
	}
	return orchestrator.New(reg, a.store, a.dispatcher, opts...)
}

// watchPolicy hot-reloads the policy file into orch until ctx ends.
// Runs in flight finish under the policy they started with.
func (a *app) watchPolicy(ctx context.Context, orch *orchestrator.Orchestrator) {
	path := a.cfg.Orchestrator.PolicyFile
	if path == "" {
		return
	}
	go func() {
		err := gate.WatchPolicy(ctx, path, a.logger.Named("policy"), func(p *gate.Policy) {
			registerWorkers(a.table, p)
			a.dispatcher.SetRegistry(p.Registry)
			orch.SetRegistry(p.Registry)
		})
		if err != nil {
			a.logger.Warn(ctx, "policy hot reload disabled", zap.Error(err))
		}
	}()
}

// Close releases resources in reverse acquisition order.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// loadPolicyFromConfig reads only the gate policy, for commands that need
// no backends.
func loadPolicyFromConfig() (*gate.Policy, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return loadPolicy(cfg.Orchestrator.PolicyFile)
}
