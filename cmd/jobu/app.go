package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jobukit/jobu/config"
	"github.com/jobukit/jobu/internal/database"
	"github.com/jobukit/jobu/internal/email"
	"github.com/jobukit/jobu/internal/handler"
	"github.com/jobukit/jobu/internal/handlers"
	"github.com/jobukit/jobu/internal/health"
	"github.com/jobukit/jobu/internal/infrastructure/sqlstore"
	"github.com/jobukit/jobu/internal/metrics"
	"github.com/jobukit/jobu/internal/queue"
	"github.com/jobukit/jobu/internal/scheduler"
	httptransport "github.com/jobukit/jobu/internal/transport/http"
	transporthandler "github.com/jobukit/jobu/internal/transport/http/handler"
	"github.com/jobukit/jobu/internal/usecase"
)

// app is the shared bootstrap every subcommand starts from: config, logger,
// database registry, stores and health checking.
type app struct {
	cfg        *config.Config
	fileCfg    *config.FileConfig
	logger     *slog.Logger
	registry   *database.Registry
	crons      *sqlstore.CronStore
	executions *sqlstore.ExecutionStore
	checker    *health.Checker
}

func newApp(ctx context.Context) (*app, error) {
	cfg, fileCfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())
	setGinMode(cfg.Env)

	registry, err := database.Open(ctx, fileCfg.Databases, nil, logger)
	if err != nil {
		return nil, err
	}

	defaultDB, err := registry.Default()
	if err != nil {
		registry.Close()
		return nil, err
	}

	if fileCfg.MigrateOnStart {
		if err := registry.MigrateAll(); err != nil {
			registry.Close()
			return nil, fmt.Errorf("migrate on start: %w", err)
		}
	}

	metrics.Register()
	checker := health.NewChecker(registry, logger, prometheus.DefaultRegisterer)

	return &app{
		cfg:        cfg,
		fileCfg:    fileCfg,
		logger:     logger,
		registry:   registry,
		crons:      sqlstore.NewCronStore(defaultDB),
		executions: sqlstore.NewExecutionStore(defaultDB),
		checker:    checker,
	}, nil
}

func (a *app) close() {
	a.registry.Close()
}

// handlerRegistry wires the built-in handlers for worker processes.
func (a *app) handlerRegistry() (*handler.Registry, error) {
	reg := handler.NewRegistry()
	sender := email.NewSender(a.cfg.Env, a.cfg.ResendAPIKey, a.cfg.ResendFrom, a.logger)
	err := handlers.Register(reg, handlers.Deps{
		Executions: a.executions,
		Registry:   a.registry,
		Email:      sender,
		Logger:     a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("register handlers: %w", err)
	}
	return reg, nil
}

func (a *app) startMetricsServer() *http.Server {
	srv := metrics.NewServer(":"+a.cfg.MetricsPort, a.checker)
	go func() {
		a.logger.Info("metrics server started", "port", a.cfg.MetricsPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server", "error", err)
		}
	}()
	return srv
}

// startDispatcher returns a channel closed once the dispatcher has finished
// its in-flight pass after cancellation.
func (a *app) startDispatcher(ctx context.Context) <-chan struct{} {
	d := scheduler.NewDispatcher(
		a.crons,
		a.executions,
		a.logger,
		a.fileCfg.Dispatcher.PollInterval(),
		a.fileCfg.Dispatcher.MaxSleep(),
		a.fileCfg.Dispatcher.MinInterval(),
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Start(ctx)
	}()
	return done
}

// startWorker returns a channel closed once the worker has drained (its own
// shutdown grace bounds that) and the reaper has stopped. Callers block on it
// so in-flight handlers are not killed by process exit.
func (a *app) startWorker(ctx context.Context) (<-chan struct{}, error) {
	reg, err := a.handlerRegistry()
	if err != nil {
		return nil, err
	}

	executor := scheduler.NewExecutor(a.executions, reg, a.logger)
	w := scheduler.NewWorker(
		a.executions,
		executor,
		a.logger,
		a.fileCfg.Worker.PollInterval(),
		a.fileCfg.Worker.ConcurrencyOrDefault(),
		a.fileCfg.Worker.ClaimBatchOrDefault(),
		a.fileCfg.Worker.ShutdownGrace(),
	)
	reaper := scheduler.NewReaper(
		a.executions,
		a.logger,
		a.fileCfg.Worker.Reaper.Interval(),
		a.fileCfg.Worker.Reaper.Grace(),
	)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		w.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		reaper.Start(ctx)
	}()
	go func() {
		defer close(done)
		wg.Wait()
	}()
	return done, nil
}

func (a *app) startAdminServer() *http.Server {
	cronUsecase := usecase.NewCronUsecase(a.crons, a.fileCfg.Dispatcher.MinInterval())
	executionUsecase := usecase.NewExecutionUsecase(a.executions)

	router := httptransport.NewRouter(
		a.logger,
		transporthandler.NewCronHandler(cronUsecase, a.logger),
		transporthandler.NewExecutionHandler(executionUsecase, a.logger),
		a.checker,
		[]byte(a.cfg.JWTSecret),
	)

	srv := &http.Server{Addr: ":" + a.cfg.Port, Handler: router}
	go func() {
		a.logger.Info("admin server started", "port", a.cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("admin server", "error", err)
		}
	}()
	return srv
}

// waitAndShutdown blocks until the signal context fires, then shuts down the
// given HTTP servers with a bounded grace period.
func waitAndShutdown(ctx context.Context, logger *slog.Logger, servers ...*http.Server) {
	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown", "addr", srv.Addr, "error", err)
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runAll(_ *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	dispatcherDone := a.startDispatcher(ctx)
	workerDone, err := a.startWorker(ctx)
	if err != nil {
		return err
	}
	adminSrv := a.startAdminServer()
	metricsSrv := a.startMetricsServer()

	waitAndShutdown(ctx, a.logger, adminSrv, metricsSrv)
	// Exit only after the worker has drained in-flight handlers and the
	// dispatcher has finished its pass.
	<-workerDone
	<-dispatcherDone
	return nil
}

func runDispatcher(_ *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	done := a.startDispatcher(ctx)
	metricsSrv := a.startMetricsServer()
	waitAndShutdown(ctx, a.logger, metricsSrv)
	<-done
	return nil
}

func runWorker(_ *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	done, err := a.startWorker(ctx)
	if err != nil {
		return err
	}
	metricsSrv := a.startMetricsServer()
	waitAndShutdown(ctx, a.logger, metricsSrv)
	<-done
	return nil
}

func runAdmin(_ *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	adminSrv := a.startAdminServer()
	metricsSrv := a.startMetricsServer()
	waitAndShutdown(ctx, a.logger, adminSrv, metricsSrv)
	return nil
}

func runQueueDispatcher(_ *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.fileCfg.Queue.Kafka.Validate(); err != nil {
		return err
	}
	adapter := queue.NewKafkaAdapter(a.fileCfg.Queue.Kafka, a.logger)
	defer func() {
		if err := adapter.Close(); err != nil {
			a.logger.Error("close queue adapter", "error", err)
		}
	}()

	qd := scheduler.NewQueueDispatcher(adapter, a.crons, a.executions, a.logger)
	done := make(chan struct{})
	go func() {
		defer close(done)
		qd.Start(ctx)
	}()

	metricsSrv := a.startMetricsServer()
	waitAndShutdown(ctx, a.logger, metricsSrv)
	<-done
	return nil
}

func runMigrate(_ *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	return a.registry.MigrateAll()
}
