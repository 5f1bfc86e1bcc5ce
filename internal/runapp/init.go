package runapp

import (
	"context"
	"fmt"
	"log/slog"
)

// Init acquires all runtime resources. It is idempotent. On failure everything
// acquired so far is released again.
func (a *App) Init(ctx context.Context) error {
	if a.initialized {
		return nil
	}

	cleanup := cleanupStack{}
	success := false
	defer func() {
		if !success {
			cleanup.run(context.Background(), a.logger)
		}
	}()

	if a.loggerProvider != nil {
		cleanup.push("logger provider", func(shutdownCtx context.Context) error {
			return a.loggerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	meterProvider, metrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if meterProvider != nil {
		cleanup.push("meter provider", func(shutdownCtx context.Context) error {
			return meterProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	tracerProvider, err := initTracing(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracerProvider != nil {
		cleanup.push("tracer provider", func(shutdownCtx context.Context) error {
			return tracerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	a.logger.Info("connecting to database",
		slog.String("driver", a.cfg.Database.DriverName()),
		slog.String("host", a.cfg.Database.Host),
		slog.String("database", a.cfg.Database.Database),
		slog.Bool("dsn_present", a.cfg.Database.ConnectionString != ""),
	)

	db, dbStatsReg, err := connectDB(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	cleanup.push("database", func(_ context.Context) error {
		if dbStatsReg != nil {
			if err := dbStatsReg.Unregister(); err != nil {
				a.logger.Warn("failed to unregister DB stats metrics", slog.String("error", err.Error()))
			}
		}
		return db.Close()
	})

	if err := configureDatabase(ctx, a.cfg, a.logger, db); err != nil {
		return fmt.Errorf("failed to verify database connection: %w", err)
	}

	executor := buildExecutor(a.cfg, db)
	registry, err := buildRegistry(ctx, a.cfg, a.logger, executor)
	if err != nil {
		return fmt.Errorf("failed to build entity registry: %w", err)
	}

	metricsSrv, metricsAddr, err := startMetricsServer(a.cfg, a.logger, meterProvider)
	if err != nil {
		return fmt.Errorf("failed to start metrics endpoint: %w", err)
	}
	if metricsSrv != nil {
		cleanup.push("metrics endpoint", func(shutdownCtx context.Context) error {
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	a.meterProvider = meterProvider
	a.metrics = metrics
	a.tracerProvider = tracerProvider
	a.db = db
	a.dbStatsReg = dbStatsReg
	a.executor = executor
	a.registry = registry
	a.metricsSrv = metricsSrv
	a.metricsAddr = metricsAddr
	a.cleanup = cleanup
	a.initialized = true

	success = true
	return nil
}
