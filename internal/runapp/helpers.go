package runapp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"relfold/internal/config"
	"relfold/internal/dbexec"
	"relfold/internal/logging"
	"relfold/internal/observability"
	"relfold/internal/schema"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	_ "modernc.org/sqlite"
)

const metricsReadHeaderTimeout = 5 * time.Second

// InitLogger builds the run logger. When log export is enabled it also returns
// the OTLP logger provider backing the slog bridge.
func InitLogger(ctx context.Context, cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logsConfig := cfg.Observability.GetLogsConfig()
	logger.Info("initializing OpenTelemetry logging",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("otlp_endpoint", logsConfig.Endpoint),
		slog.String("otlp_protocol", logsConfig.Protocol),
		slog.Bool("insecure", logsConfig.Insecure),
	)

	loggerProvider, err := observability.InitLoggerProvider(ctx, telemetryConfig(cfg, logsConfig))
	if err != nil {
		return nil, nil, err
	}

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	return logger, loggerProvider, nil
}

func telemetryConfig(cfg *config.Config, otlp config.OTLPConfig) observability.Config {
	return observability.Config{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   cfg.Observability.ServiceVersion,
		Environment:      cfg.Observability.Environment,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
		Exporter: observability.ExporterConfig{
			Endpoint:         otlp.Endpoint,
			Protocol:         otlp.Protocol,
			Insecure:         otlp.Insecure,
			TLSCertFile:      otlp.TLSCertFile,
			Headers:          otlp.Headers,
			Timeout:          otlp.Timeout,
			Compression:      otlp.Compression,
			RetryEnabled:     otlp.RetryEnabled,
			RetryMaxAttempts: otlp.RetryMaxAttempts,
		},
	}
}

func initMetrics(cfg *config.Config, logger *logging.Logger) (*observability.MeterProvider, *observability.QueryMetrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return nil, nil, nil
	}

	meterProvider, err := observability.InitMeterProvider(telemetryConfig(cfg, config.OTLPConfig{}))
	if err != nil {
		return nil, nil, err
	}

	metrics, err := observability.InitQueryMetrics()
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("OpenTelemetry metrics initialized")

	return meterProvider, metrics, nil
}

func initTracing(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	tracesConfig := cfg.Observability.GetTracesConfig()
	logger.Info("initializing OpenTelemetry tracing",
		slog.String("otlp_endpoint", tracesConfig.Endpoint),
		slog.String("otlp_protocol", tracesConfig.Protocol),
		slog.Bool("insecure", tracesConfig.Insecure),
		slog.Float64("sample_ratio", cfg.Observability.TraceSampleRatio),
	)

	return observability.InitTracerProvider(ctx, telemetryConfig(cfg, tracesConfig))
}

func dbSystem(driver string) attribute.KeyValue {
	switch driver {
	case config.DriverPostgres:
		return semconv.DBSystemPostgreSQL
	case config.DriverSQLite:
		return semconv.DBSystemSqlite
	default:
		return semconv.DBSystemMySQL
	}
}

func connectDB(cfg *config.Config, logger *logging.Logger) (*sql.DB, interface{ Unregister() error }, error) {
	driver := cfg.Database.DriverName()
	dsn := cfg.Database.DSN()

	if !cfg.Observability.MetricsEnabled && !cfg.Observability.TracingEnabled {
		db, err := sql.Open(driver, dsn)
		if err != nil {
			return nil, nil, err
		}
		return db, nil, nil
	}

	opts := []otelsql.Option{otelsql.WithAttributes(dbSystem(driver))}
	if cfg.Observability.TracingEnabled {
		opts = append(opts, otelsql.WithSpanOptions(otelsql.SpanOptions{
			DisableErrSkip: true,
		}))
	}

	db, err := otelsql.Open(driver, dsn, opts...)
	if err != nil {
		return nil, nil, err
	}

	var dbStatsReg interface{ Unregister() error }
	if cfg.Observability.MetricsEnabled {
		dbStatsReg, err = otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(dbSystem(driver)))
		if err != nil {
			logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
		}
	}

	logger.Debug("database instrumentation enabled",
		slog.Bool("metrics", cfg.Observability.MetricsEnabled),
		slog.Bool("tracing", cfg.Observability.TracingEnabled),
	)
	return db, dbStatsReg, nil
}

func configureDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB) error {
	maxOpen := cfg.Database.Pool.MaxOpen
	// Every connection to an in-memory sqlite database sees its own empty database.
	if cfg.Database.DriverName() == config.DriverSQLite && cfg.Database.DSN() == ":memory:" {
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(cfg.Database.Pool.MaxIdle)
	db.SetConnMaxLifetime(cfg.Database.Pool.MaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		return err
	}

	logger.Info("connected to database",
		slog.String("driver", cfg.Database.DriverName()),
		slog.Int("pool_max_open", maxOpen),
		slog.Int("pool_max_idle", cfg.Database.Pool.MaxIdle),
		slog.Duration("pool_max_lifetime", cfg.Database.Pool.MaxLifetime),
	)
	return nil
}

func buildExecutor(cfg *config.Config, db *sql.DB) dbexec.QueryExecutor {
	var executor dbexec.QueryExecutor = dbexec.NewStandardExecutor(db)
	if cfg.Observability.TracingEnabled {
		executor = dbexec.NewTracingExecutor(executor, dbSystem(cfg.Database.DriverName()).Value.AsString())
	}
	return executor
}

// buildRegistry merges introspected entities with declared ones. Declarations win.
func buildRegistry(ctx context.Context, cfg *config.Config, logger *logging.Logger, executor dbexec.QueryExecutor) (*schema.Registry, error) {
	var discovered []schema.Entity
	if cfg.Schema.Introspect {
		databaseName, err := cfg.Database.EffectiveDatabaseName()
		if err != nil {
			return nil, err
		}
		discovered, err = schema.Introspect(ctx, executor, databaseName)
		if err != nil {
			return nil, fmt.Errorf("failed to introspect %q: %w", databaseName, err)
		}
	}

	declared, err := schema.FromDecls(cfg.Schema.Entities)
	if err != nil {
		return nil, err
	}

	registry, err := schema.NewRegistry(schema.Merge(discovered, declared)...)
	if err != nil {
		return nil, err
	}

	logger.Info("entity registry ready",
		slog.Int("discovered", len(discovered)),
		slog.Int("declared", len(declared)),
		slog.Int("entities", len(registry.Entities())),
	)
	return registry, nil
}

// startMetricsServer serves /metrics for the lifetime of the run when an address
// is configured. It returns the bound address, which differs from the configured
// one when the port is 0.
func startMetricsServer(cfg *config.Config, logger *logging.Logger, meterProvider *observability.MeterProvider) (*http.Server, string, error) {
	if meterProvider == nil || cfg.Observability.MetricsAddr == "" {
		return nil, "", nil
	}

	ln, err := net.Listen("tcp", cfg.Observability.MetricsAddr)
	if err != nil {
		return nil, "", err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics endpoint failed", slog.String("error", err.Error()))
		}
	}()

	addr := ln.Addr().String()
	logger.Info("metrics endpoint enabled", slog.String("address", addr), slog.String("path", "/metrics"))
	return srv, addr, nil
}
