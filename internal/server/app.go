// Package server provides the core application server and dependency wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/JakeFAU/govwatch/internal/api"
	"github.com/JakeFAU/govwatch/internal/config"
	"github.com/JakeFAU/govwatch/internal/dispatcher"
	"github.com/JakeFAU/govwatch/internal/logging"
	"github.com/JakeFAU/govwatch/internal/metrics"
	"github.com/JakeFAU/govwatch/internal/orchestrator"
	queueMemory "github.com/JakeFAU/govwatch/internal/queue/memory"
	"github.com/JakeFAU/govwatch/internal/scheduler"
	"github.com/JakeFAU/govwatch/internal/scraper"
	"github.com/JakeFAU/govwatch/internal/sessionlog"
	"github.com/JakeFAU/govwatch/internal/sourceconfig"
	"github.com/JakeFAU/govwatch/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	pool      *pgxpool.Pool
	bus       *sessionlog.Bus
	store     *sourceconfig.Store
	orch      *orchestrator.Orchestrator
	queue     *queueMemory.Queue
	dispatch  *dispatcher.Dispatcher
	scheduler *scheduler.Scheduler
	apiServer *api.Server

	closers   []namedCloser
	closeOnce sync.Once
}

type namedCloser struct {
	name  string
	close func(context.Context) error
}

func (a *App) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, namedCloser{name: name, close: fn})
}

// Build creates the application's dependencies. Nothing is started; Serve
// and RunOnce start what they need.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	logger.Info("building application",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("publisher_backend", cfg.Publisher.Backend),
		zap.Bool("database", cfg.Database.DSN != ""),
	)
	app := &App{cfg: cfg, logger: logger}
	if err := app.build(ctx); err != nil {
		_ = app.Close(context.Background())
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	stores, err := setupStores(ctx, a)
	if err != nil {
		return err
	}
	a.store = sourceconfig.NewStore(stores.kv, a.logger.Named("sourceconfig"))
	if err := seedBootstrap(ctx, a.store, a.cfg.Bootstrap, a.logger); err != nil {
		return err
	}

	a.bus, err = setupSessions(ctx, a)
	if err != nil {
		return err
	}

	blobs, err := setupBlobStore(ctx, a)
	if err != nil {
		return err
	}
	publisher, err := setupPublisher(ctx, a)
	if err != nil {
		return err
	}
	sources, err := setupSources(a, blobs)
	if err != nil {
		return err
	}

	a.orch, err = orchestrator.New(orchestrator.Options{
		Sources:   sources,
		Config:    a.store,
		Bus:       a.bus,
		Tenders:   stores.tenders,
		Alerts:    stores.alerts,
		Publisher: publisher,
		Topic:     a.cfg.Publisher.Topic,
		Logger:    a.logger.Named("orchestrator"),
	})
	if err != nil {
		return fmt.Errorf("orchestrator init failed: %w", err)
	}

	a.queue = queueMemory.NewQueue(a.cfg.Worker.QueueDepth)
	workers := make([]*worker.Worker, 0, a.cfg.Worker.Concurrency)
	for i := 0; i < a.cfg.Worker.Concurrency; i++ {
		workers = append(workers, worker.New(i, a.queue, a.orch,
			worker.WithLogger(a.logger.Named("worker").With(zap.Int("index", i)))))
	}
	a.dispatch = dispatcher.New(a.queue, workers, a.orch)

	if a.cfg.Scheduler.Enabled {
		a.scheduler, err = scheduler.New(a.cfg.Scheduler.Spec, a.dispatch,
			scheduler.WithPurge(a.cfg.Scheduler.RunPurge),
			scheduler.WithLogger(a.logger.Named("scheduler")),
		)
		if err != nil {
			return fmt.Errorf("scheduler init failed: %w", err)
		}
	}

	deps := api.Deps{
		Runner:    a.orch,
		Submitter: a.dispatch,
		Config:    a.store,
		Bus:       a.bus,
		Alerts:    stores.alerts,
		Logger:    a.logger.Named("api"),
	}
	if a.pool != nil {
		deps.Ready = a.pool.Ping
	}
	a.apiServer, err = api.NewServer(deps, *a.cfg)
	if err != nil {
		return fmt.Errorf("api init failed: %w", err)
	}
	return nil
}

// Orchestrator exposes the run coordinator for one-shot commands.
func (a *App) Orchestrator() *orchestrator.Orchestrator { return a.orch }

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// RunOnce executes a single run in the foreground.
func (a *App) RunOnce(ctx context.Context, opts scraper.RunOptions) (scraper.OrchestratorResult, error) {
	names, err := a.orch.Resolve(opts.Sources)
	if err != nil {
		return scraper.OrchestratorResult{}, fmt.Errorf("resolve sources: %w", err)
	}
	opts.Sources = names
	return a.orch.Run(ctx, opts), nil
}

// Serve starts the workers, the scheduler and the HTTP server, and blocks
// until ctx is canceled or a termination signal arrives.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Worker.Concurrency))
		a.dispatch.Run(ctx)
	}()
	if a.scheduler != nil {
		a.scheduler.Start(ctx)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()

	if a.scheduler != nil {
		select {
		case <-a.scheduler.Stop().Done():
		case <-shutdownCtx.Done():
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.queue.Close()
	wg.Wait()

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownSeconds > 0 {
		return time.Duration(a.cfg.Server.ShutdownSeconds) * time.Second
	}
	return 10 * time.Second
}

// Close releases infrastructure in reverse construction order. It is safe to
// call more than once.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	a.closeOnce.Do(func() {
		if a.queue != nil {
			a.queue.Close()
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			c := a.closers[i]
			if err := c.close(ctx); err != nil {
				a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
				errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
			}
		}
		if err := a.logger.Sync(); err != nil {
			a.logger.Debug("logger sync failed", zap.Error(err))
		}
		a.logger.Info("shutdown complete")
	})
	return errors.Join(errs...)
}
