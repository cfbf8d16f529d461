package main

import (
	"context"
	"encoding/json"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/GoogleCloudPlatform/cloudgauge/internal/api"
	"github.com/GoogleCloudPlatform/cloudgauge/internal/app/aggregation"
	"github.com/GoogleCloudPlatform/cloudgauge/internal/app/dispatch"
	"github.com/GoogleCloudPlatform/cloudgauge/internal/app/scanning"
	"github.com/GoogleCloudPlatform/cloudgauge/internal/app/status"
	"github.com/GoogleCloudPlatform/cloudgauge/internal/checks"
	"github.com/GoogleCloudPlatform/cloudgauge/internal/config"
	"github.com/GoogleCloudPlatform/cloudgauge/internal/domain/posture"
	"github.com/GoogleCloudPlatform/cloudgauge/internal/infra/inventory"
	"github.com/GoogleCloudPlatform/cloudgauge/internal/infra/renderer"
	"github.com/GoogleCloudPlatform/cloudgauge/internal/infra/storage/posture/postgres"
	"github.com/GoogleCloudPlatform/cloudgauge/internal/infra/taskqueue/kafka"
	"github.com/GoogleCloudPlatform/cloudgauge/pkg/common"
	"github.com/GoogleCloudPlatform/cloudgauge/pkg/common/logger"
	"github.com/GoogleCloudPlatform/cloudgauge/pkg/common/otel"
	"github.com/GoogleCloudPlatform/cloudgauge/pkg/common/retry"
)

const serviceType = "controller"

func main() {
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		stdlog.Fatalf("failed to get hostname: %v", err)
	}

	var log *logger.Logger

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n",
				r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("CONTROLLER-%s", hostname)
	metadata := map[string]string{
		"service":   svcName,
		"hostname":  hostname,
		"pod":       os.Getenv("POD_NAME"),
		"namespace": os.Getenv("POD_NAMESPACE"),
		"app":       serviceType,
	}

	log = logger.NewWithMetadata(os.Stdout, logger.LevelDebug, svcName, traceIDFn, logEvents, metadata)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(os.Getenv("CLOUDGAUGE_CONFIG_FILE"))
	if err != nil {
		log.Error(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	tp, telemetryTeardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      cfg.Telemetry.ServiceName,
		ExporterEndpoint: cfg.Telemetry.ExporterEndpoint,
		ExcludedRoutes: map[string]struct{}{
			"/v1/health":    {},
			"/v1/readiness": {},
		},
		Probability: cfg.Telemetry.SamplingRatio,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"k8s.pod.name":     os.Getenv("POD_NAME"),
			"k8s.namespace":    os.Getenv("POD_NAMESPACE"),
			"k8s.container.id": hostname,
		},
		InsecureExporter: cfg.Telemetry.Insecure,
	})
	if err != nil {
		log.Error(ctx, "failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer telemetryTeardown(ctx)

	tracer := tp.Tracer(cfg.Telemetry.ServiceName)
	meter := otel.GetMeterProvider().Meter(cfg.Telemetry.ServiceName)

	ready := &atomic.Bool{}
	healthServer := common.NewHealthServer(ready)
	defer func() {
		if err := healthServer.Server().Shutdown(ctx); err != nil {
			log.Error(ctx, "Error shutting down health server", "error", err)
		}
	}()

	poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
	if err != nil {
		log.Error(ctx, "failed to parse db config", "error", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = cfg.Postgres.MaxConns
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		log.Error(ctx, "failed to open db", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.Postgres.RunMigrations {
		if err := runMigrations(ctx, pool); err != nil {
			log.Error(ctx, "failed to run migrations", "error", err)
			os.Exit(1)
		}
		log.Info(ctx, "Migrations applied successfully. Starting application...")
	}

	store := postgres.NewRecordStore(pool, tracer)

	queue, err := kafka.ConnectWithRetry(&kafka.Config{
		Brokers:        cfg.Kafka.Brokers,
		ScanTopic:      cfg.Kafka.ScanTopic,
		AggregateTopic: cfg.Kafka.AggregateTopic,
		GroupID:        fmt.Sprintf("%s-aggregators", cfg.Kafka.GroupID),
		ClientID:       svcName,
	}, log, tracer)
	if err != nil {
		log.Error(ctx, "failed to connect to kafka", "error", err)
		os.Exit(1)
	}
	defer queue.Close()

	resolver, err := inventory.NewResolver(ctx, cfg.Inventory.Endpoint,
		common.NewRateLimiter(cfg.Inventory.RatePerSecond, cfg.Inventory.Burst), log)
	if err != nil {
		log.Error(ctx, "failed to create inventory resolver", "error", err)
		os.Exit(1)
	}

	cloudLimiter := common.NewRateLimiter(cfg.Cloud.RatePerSecond, cfg.Cloud.Burst)
	var cloudClient *checks.CloudClient
	if cfg.Cloud.Endpoint != "" {
		cloudClient = checks.NewCloudClientWithHTTP(http.DefaultClient, cfg.Cloud.Endpoint, cloudLimiter)
	} else {
		cloudClient, err = checks.NewCloudClient(ctx, cloudLimiter)
		if err != nil {
			log.Error(ctx, "failed to create cloud client", "error", err)
			os.Exit(1)
		}
	}

	deps := checks.Deps{Client: cloudClient, Log: log, Retry: retry.DefaultConfig()}

	reportRenderer, err := renderer.New()
	if err != nil {
		log.Error(ctx, "failed to parse report template", "error", err)
		os.Exit(1)
	}

	worker := scanning.NewWorker(store, checks.Registry(deps), cfg.CheckConcurrency, log, tracer)
	aggregator := aggregation.NewAggregator(store, reportRenderer, log, tracer)
	tracker := status.NewTracker(store, log, tracer)
	dispatcher := dispatch.NewDispatcher(store, queue, resolver, checks.ScopeRegistry(deps),
		worker, aggregator, log, tracer, meter)

	if err := queue.Subscribe(ctx, aggregator.HandleTask, posture.TaskKindAggregate); err != nil {
		log.Error(ctx, "failed to subscribe to aggregate tasks", "error", err)
		os.Exit(1)
	}

	server := api.NewServer(cfg.APIAddr, log, tracer, dispatcher, tracker, queue, store)

	log.Info(ctx, "Controller initialized")
	ready.Store(true)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		log.Info(ctx, "Received shutdown signal", "signal", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()

		if err := queue.Close(); err != nil {
			log.Error(shutdownCtx, "Failed to close task queue", "error", err)
		}

	case err := <-errCh:
		log.Error(ctx, "Server error", "error", err)
		os.Exit(1)
	}
}

// runMigrations uses golang-migrate to apply all up migrations from
// "db/migrations". It acquires a single pgx connection from the pool, runs
// migrations, and then releases the connection back to the pool.
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("could not acquire connection: %w", err)
	}
	defer conn.Release()

	db := stdlib.OpenDBFromPool(pool)

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("could not create pgx driver: %w", err)
	}

	const migrationsPath = "file:///app/db/migrations"
	m, err := migrate.NewWithDatabaseInstance(migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration up failed: %w", err)
	}

	return nil
}
