// Package main wires together the scraping service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/scrapewizard/scrapewizard/internal/api"
	"github.com/scrapewizard/scrapewizard/internal/browser/headless"
	"github.com/scrapewizard/scrapewizard/internal/browser/static"
	"github.com/scrapewizard/scrapewizard/internal/clock/system"
	"github.com/scrapewizard/scrapewizard/internal/config"
	"github.com/scrapewizard/scrapewizard/internal/dispatcher"
	"github.com/scrapewizard/scrapewizard/internal/events"
	brokermem "github.com/scrapewizard/scrapewizard/internal/events/memory"
	brokerpubsub "github.com/scrapewizard/scrapewizard/internal/events/pubsub"
	"github.com/scrapewizard/scrapewizard/internal/extract"
	"github.com/scrapewizard/scrapewizard/internal/id/uuid"
	"github.com/scrapewizard/scrapewizard/internal/logging"
	"github.com/scrapewizard/scrapewizard/internal/metrics"
	queuemem "github.com/scrapewizard/scrapewizard/internal/queue/memory"
	"github.com/scrapewizard/scrapewizard/internal/scheduler"
	"github.com/scrapewizard/scrapewizard/internal/scraper"
	storemem "github.com/scrapewizard/scrapewizard/internal/store/memory"
	storepg "github.com/scrapewizard/scrapewizard/internal/store/postgres"
	"github.com/scrapewizard/scrapewizard/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.NewUUIDGenerator()

	stores, cleanup, err := buildStores(ctx, cfg, clock, idGen)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer cleanup()

	broker, err := buildBroker(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("broker init failed", zap.Error(err))
	}

	queue := queuemem.NewQueue(cfg.Worker.QueueDepth, clock)
	publisher := events.NewPublisher(broker, logger.Named("events"))
	extractor := extract.New(logger.Named("extract"))

	launcher := buildLauncher(cfg)
	work := worker.New(
		stores.Runs,
		stores.Results,
		stores.Projects,
		stores.Templates,
		launcher,
		extractor,
		publisher,
		clock,
		logger.Named("worker"),
	)
	dispatch := dispatcher.New(
		queue,
		work,
		stores.Runs,
		publisher,
		clock,
		dispatcher.Config{
			Workers:       cfg.Worker.Workers,
			MaxAttempts:   cfg.Worker.MaxAttempts,
			RunRetryDelay: cfg.RunRetryDelay(),
			URLRetryDelay: cfg.URLRetryDelay(),
		},
		logger.Named("dispatcher"),
	)
	retrier := worker.NewRetryDispatcher(
		stores.Runs,
		stores.Results,
		stores.Projects,
		queue,
		logger.Named("retry"),
	)

	var reloader api.ScheduleReloader
	if cfg.Scheduler.Enabled {
		sched := scheduler.New(stores.Schedules, stores.Runs, queue, clock, logger.Named("scheduler"))
		if err := sched.Start(ctx); err != nil {
			logger.Fatal("scheduler start failed", zap.Error(err))
		}
		defer sched.Stop()
		reloader = sched
	}

	apiServer := api.NewServer(
		stores,
		dispatch,
		retrier,
		broker,
		reloader,
		idGen,
		clock,
		cfg,
		logger.Named("api"),
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", cfg.Worker.Workers))
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	logger.Info("shutdown complete")
}

// buildStores assembles the persistence layer. The postgres backend covers
// runs and results, the hot tables; projects, templates, and schedules stay
// in memory until their postgres stores land.
func buildStores(
	ctx context.Context,
	cfg config.Config,
	clock scraper.Clock,
	idGen scraper.IDGenerator,
) (api.Stores, func(), error) {
	stores := api.Stores{
		Runs:      storemem.NewRunStore(clock, idGen),
		Results:   storemem.NewResultStore(clock, idGen),
		Projects:  storemem.NewProjectStore(clock, idGen),
		Templates: storemem.NewTemplateStore(clock, idGen),
		Schedules: storemem.NewScheduleStore(clock, idGen),
	}
	cleanup := func() {}
	if cfg.Database.Backend != "postgres" {
		return stores, cleanup, nil
	}

	pool, err := storepg.NewPool(ctx, storepg.Config{
		DSN:             cfg.Database.DSN,
		MaxConns:        int32(cfg.Database.MaxConns),
		MinConns:        int32(cfg.Database.MinConns),
		MaxConnLifetime: time.Duration(cfg.Database.ConnLifetimeMin) * time.Minute,
	})
	if err != nil {
		return api.Stores{}, nil, fmt.Errorf("postgres pool: %w", err)
	}
	runStore, err := storepg.NewRunStore(pool, clock, idGen)
	if err != nil {
		pool.Close()
		return api.Stores{}, nil, fmt.Errorf("postgres run store: %w", err)
	}
	resultStore, err := storepg.NewResultStore(pool, clock, idGen)
	if err != nil {
		pool.Close()
		return api.Stores{}, nil, fmt.Errorf("postgres result store: %w", err)
	}
	stores.Runs = runStore
	stores.Results = resultStore
	return stores, pool.Close, nil
}

func buildBroker(ctx context.Context, cfg config.Config, logger *zap.Logger) (scraper.Broker, error) {
	if cfg.Broker.Backend == "pubsub" {
		return brokerpubsub.New(ctx, cfg.Broker.ProjectID, cfg.Broker.TopicName, logger.Named("pubsub"))
	}
	return brokermem.New(logger.Named("broker")), nil
}

func buildLauncher(cfg config.Config) scraper.Launcher {
	if cfg.Browser.Backend == "headless" {
		return headless.NewLauncher(headless.Config{
			UserAgent:         cfg.Browser.UserAgent,
			NavigationTimeout: cfg.NavTimeout(),
			Windowed:          !cfg.Browser.Headless,
		})
	}
	return static.NewLauncher(static.Config{
		UserAgent: cfg.Browser.UserAgent,
		Timeout:   cfg.NavTimeout(),
	})
}
