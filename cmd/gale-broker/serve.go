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

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	brokerconfig "github.com/nicolasances/gale-broker/internal/broker/config"

	"github.com/nicolasances/gale-broker/internal/broker/bus/localqueue"
	"github.com/nicolasances/gale-broker/internal/broker/bus/redisbus"
	"github.com/nicolasances/gale-broker/internal/broker/catalog"
	"github.com/nicolasances/gale-broker/internal/broker/engine"
	brokerhttp "github.com/nicolasances/gale-broker/internal/broker/http"
	"github.com/nicolasances/gale-broker/internal/broker/idgen"
	"github.com/nicolasances/gale-broker/internal/broker/invoker"
	"github.com/nicolasances/gale-broker/internal/broker/logging"
	"github.com/nicolasances/gale-broker/internal/broker/observability"
	"github.com/nicolasances/gale-broker/internal/broker/ports"
	"github.com/nicolasances/gale-broker/internal/broker/store/memstore"
	"github.com/nicolasances/gale-broker/internal/broker/store/postgres"
	"github.com/nicolasances/gale-broker/internal/broker/tracker"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the broker's HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := brokerconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.Logging.Format, parseLevel(cfg.Logging.Level)).Component("gale-broker")

	tracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:      cfg.Tracing.Enabled,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		ServiceName:  cfg.Tracing.ServiceName,
		SampleRate:   cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "err", err)
		}
	}()

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics, err = observability.NewMetrics()
		if err != nil {
			return fmt.Errorf("init metrics: %w", err)
		}
	}

	store, healthChecks, storeCleanup, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build store: %w", err)
	}
	defer storeCleanup()

	flowTracker := tracker.New(store, logger)

	agentCatalog, catalogWatcher, err := buildCatalog(cfg, logger)
	if err != nil {
		return fmt.Errorf("build catalog: %w", err)
	}
	if catalogWatcher != nil {
		if err := catalogWatcher.Start(ctx); err != nil {
			logger.Warn("catalog watcher failed to start", "err", err)
		} else {
			defer catalogWatcher.Stop()
		}
	}

	bus, busHealthCheck, busCleanup, err := buildBus(ctx, cfg, agentCatalog, logger)
	if err != nil {
		return fmt.Errorf("build bus: %w", err)
	}
	defer busCleanup()
	if busHealthCheck != nil {
		healthChecks = append(healthChecks, *busHealthCheck)
	}

	httpInvoker := invoker.New(time.Duration(cfg.Invoker.TimeoutSeconds)*time.Second, logger)

	eng := engine.New(agentCatalog, httpInvoker, flowTracker, bus, idgen.New(), ports.SystemClock{}, logger)
	if metrics != nil {
		eng.SetMetrics(metrics)
	}
	// Every subtask branch dispatches its agent calls concurrently, so the
	// subscriber pool must be ready to dispatch back into the same engine
	// for the local in-process bus before requests start arriving.
	switch b := bus.(type) {
	case *localqueue.Queue:
		subscribeLocalQueue(ctx, b, agentCatalog, eng)
	case *redisbus.Bus:
		go subscribeRedisBus(ctx, b, agentCatalog, eng, logger)
	}

	router := brokerhttp.NewRouter(
		brokerhttp.RouterDeps{
			Engine:       eng,
			Tracker:      flowTracker,
			Catalog:      agentCatalog,
			Bus:          bus,
			Logger:       logger,
			HealthChecks: healthChecks,
		},
		brokerhttp.RouterConfig{
			Environment:      cfg.HTTP.Environment,
			AllowedOrigins:   cfg.HTTP.AllowedOrigins,
			MaxTaskBodyBytes: cfg.HTTP.MaxTaskBodyBytes,
		},
	)

	var metricsServer *http.Server
	if metrics != nil {
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler: metrics.Handler(),
		}
		go func() {
			logger.Info("metrics server listening", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
			_ = metrics.Shutdown(shutdownCtx)
		}()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return serveUntilSignal(server, logger)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func buildStore(ctx context.Context, cfg *brokerconfig.Config, logger logging.Slog) (ports.Store, []brokerhttp.HealthCheck, func(), error) {
	switch cfg.Store.Driver {
	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, nil, func() {}, fmt.Errorf("connect postgres: %w", err)
		}
		st := postgres.New(pool, ports.SystemClock{})
		checks := []brokerhttp.HealthCheck{{
			Name: "postgres",
			Ping: func(ctx context.Context) error {
				return pool.Ping(ctx)
			},
		}}
		return st, checks, func() { st.Close() }, nil
	default:
		logger.Info("store driver defaulting to in-memory", "driver", cfg.Store.Driver)
		return memstore.New(ports.SystemClock{}), nil, func() {}, nil
	}
}

func buildCatalog(cfg *brokerconfig.Config, logger logging.Slog) (ports.AgentCatalog, *brokerconfig.FileWatcher, error) {
	file, err := catalog.Load(cfg.Catalog.FilePath)
	if err != nil {
		return nil, nil, err
	}
	cached, err := catalog.NewCached(file, cfg.Catalog.CacheSize)
	if err != nil {
		return nil, nil, err
	}

	var watcher *brokerconfig.FileWatcher
	if cfg.Catalog.FilePath != "" {
		if _, statErr := os.Stat(cfg.Catalog.FilePath); statErr == nil {
			watcher, err = brokerconfig.NewFileWatcher(cfg.Catalog.FilePath, brokerconfig.WithLogger(logger))
			if err != nil {
				logger.Warn("catalog watcher disabled", "err", err)
				watcher = nil
			}
		}
	}
	return cached, watcher, nil
}

func buildBus(ctx context.Context, cfg *brokerconfig.Config, agentCatalog ports.AgentCatalog, logger logging.Slog) (ports.Bus, *brokerhttp.HealthCheck, func(), error) {
	switch cfg.Bus.Driver {
	case "redis":
		opts, err := redis.ParseURL(cfg.Bus.RedisURL)
		if err != nil {
			return nil, nil, func() {}, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		b := redisbus.New(client, logger)
		check := &brokerhttp.HealthCheck{
			Name: "redis",
			Ping: func(ctx context.Context) error {
				return client.Ping(ctx).Err()
			},
		}
		return b, check, func() { _ = client.Close() }, nil
	default:
		logger.Info("bus driver defaulting to local in-process queue", "driver", cfg.Bus.Driver)
		return localqueue.New(logger), nil, func() {}, nil
	}
}

// subscribeLocalQueue wires the local dev queue's subscribers from the
// catalog snapshot at startup. Agents registered afterwards via
// /catalog/agents are not automatically routed until the process restarts;
// subscribeRedisBus has the same startup-snapshot behaviour.
func subscribeLocalQueue(ctx context.Context, q *localqueue.Queue, agentCatalog ports.AgentCatalog, eng *engine.Engine) {
	agents, err := agentCatalog.List(ctx)
	if err != nil {
		return
	}
	for _, agent := range agents {
		q.Subscribe(string(agent.TaskKind), func(ctx context.Context, task ports.Task) (ports.AgentTaskResponse, error) {
			return eng.Deliver(ctx, task)
		})
	}
}

// subscribeRedisBus subscribes to every catalog task kind's Redis channel
// and dispatches received tasks into the engine. Like subscribeLocalQueue,
// kinds registered after startup aren't picked up until restart.
func subscribeRedisBus(ctx context.Context, b *redisbus.Bus, agentCatalog ports.AgentCatalog, eng *engine.Engine, logger logging.Slog) {
	agents, err := agentCatalog.List(ctx)
	if err != nil || len(agents) == 0 {
		return
	}
	topics := make([]string, 0, len(agents))
	for _, agent := range agents {
		topics = append(topics, string(agent.TaskKind))
	}
	if err := b.Subscribe(ctx, func(ctx context.Context, task ports.Task) (ports.AgentTaskResponse, error) {
		return eng.Deliver(ctx, task)
	}, topics...); err != nil && ctx.Err() == nil {
		logger.Error("redis bus subscription ended", "err", err)
	}
}

func serveUntilSignal(server *http.Server, logger logging.Slog) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", server.Addr)
		errCh <- server.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		if err == nil || err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-quit:
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		shutdownErr := server.Shutdown(ctx)

		serveErr := <-errCh
		if serveErr == http.ErrServerClosed {
			serveErr = nil
		}
		if shutdownErr != nil {
			return fmt.Errorf("shutdown: %w", shutdownErr)
		}
		if serveErr != nil {
			return fmt.Errorf("server error: %w", serveErr)
		}
		logger.Info("server stopped")
		return nil
	}
}
