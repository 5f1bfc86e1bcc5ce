// Package runapp owns the resources of one relfold run: telemetry providers,
// the database handle, the entity registry and the optional metrics endpoint.
package runapp

import (
	"database/sql"
	"fmt"
	"net/http"
	"sync"

	"relfold/internal/config"
	"relfold/internal/dbexec"
	"relfold/internal/logging"
	"relfold/internal/observability"
	"relfold/internal/schema"
	"relfold/internal/sqlutil"

	"github.com/google/uuid"
)

// App owns runtime resources for a relfold run.
type App struct {
	cfg    *config.Config
	logger *logging.Logger
	runID  string

	loggerProvider *observability.LoggerProvider
	meterProvider  *observability.MeterProvider
	tracerProvider *observability.TracerProvider
	metrics        *observability.QueryMetrics

	db         *sql.DB
	dbStatsReg interface{ Unregister() error }
	dialect    sqlutil.Dialect
	executor   dbexec.QueryExecutor
	registry   *schema.Registry

	metricsSrv  *http.Server
	metricsAddr string

	cleanup      cleanupStack
	initialized  bool
	shutdownOnce sync.Once
}

// New creates an App for cfg. Every log line of the run carries a fresh run_id.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	dialect, err := cfg.Database.Dialect()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve SQL dialect: %w", err)
	}

	runID := uuid.NewString()
	return &App{
		cfg:     cfg,
		logger:  logger.WithRunID(runID),
		runID:   runID,
		dialect: dialect,
	}, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.loggerProvider = provider
}

// RunID returns the identifier attached to this run's logs.
func (a *App) RunID() string {
	return a.runID
}

// Registry returns the entity registry built by Init.
func (a *App) Registry() *schema.Registry {
	return a.registry
}
