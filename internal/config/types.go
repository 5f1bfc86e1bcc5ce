package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"relfold/internal/schema"
)

// Config holds the application configuration.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Schema        SchemaConfig        `mapstructure:"schema"`
	Query         QueryConfig         `mapstructure:"query"`
	Output        OutputConfig        `mapstructure:"output"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// PoolConfig holds connection pool parameters.
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// DatabaseConfig holds database connection parameters.
type DatabaseConfig struct {
	// Driver is one of mysql, postgres or sqlite.
	Driver string `mapstructure:"driver"`
	// ConnectionString is a complete driver DSN. When set it overrides the
	// discrete fields below. Configured via "dsn" in YAML or RELFOLD_DATABASE_DSN.
	ConnectionString string `mapstructure:"dsn"`
	// ConnectionStringFile is a path to a file containing the DSN. Supports "@-"
	// to read from stdin.
	ConnectionStringFile string `mapstructure:"dsn_file"`

	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	PasswordFile   string `mapstructure:"password_file"`
	PasswordPrompt bool   `mapstructure:"password_prompt"`
	// Database is the schema name for mysql and postgres and the file path for sqlite.
	Database string `mapstructure:"database"`
	// SSLMode is passed to postgres as sslmode.
	SSLMode string `mapstructure:"sslmode"`

	Pool PoolConfig `mapstructure:"pool"`
}

// SchemaConfig controls how the entity registry is built.
type SchemaConfig struct {
	// Introspect discovers entities and foreign-key relations from
	// INFORMATION_SCHEMA. Only supported for mysql.
	Introspect bool `mapstructure:"introspect"`
	// File points to a YAML file holding a list of entity declarations.
	File string `mapstructure:"file"`
	// Entities are declared inline. They are merged over discovered entities.
	Entities []schema.EntityDecl `mapstructure:"entities"`
}

// QueryConfig describes the joined query the CLI runs.
type QueryConfig struct {
	Entity string `mapstructure:"entity"`
	// With lists relation paths joined with LEFT joins.
	With []string `mapstructure:"with"`
	// WithExisting lists relation paths joined with INNER joins.
	WithExisting []string `mapstructure:"with_existing"`
	// OrderBy entries look like "name", "name:desc" or "posts.title:asc".
	// Entries with a dotted column order by a joined relation.
	OrderBy []string `mapstructure:"order_by"`
	// Columns adds extra root columns to the select list.
	Columns []string `mapstructure:"columns"`
	// UniqueKey overrides the root primary key as the grouping column.
	UniqueKey string `mapstructure:"unique_key"`
	// Mode is get, cursor, chunked or chunked_by_id.
	Mode      string `mapstructure:"mode"`
	PageSize  int    `mapstructure:"page_size"`
	KeyColumn string `mapstructure:"key_column"`
	KeyAlias  string `mapstructure:"key_alias"`
	// ForceCase is "", lower or upper.
	ForceCase string `mapstructure:"force_case"`
	// WhereIn restricts root rows to the listed tuples.
	WhereIn WhereInConfig `mapstructure:"where_in"`
}

// WhereInConfig is a tuple membership filter over root columns. Each value entry
// holds one tuple with its fields separated by "|", in column order.
type WhereInConfig struct {
	Columns []string `mapstructure:"columns"`
	Values  []string `mapstructure:"values"`
}

// Tuples splits the value entries into tuples. Fields written as canonical
// integers become int64 and everything else stays a string. A tuple whose width
// differs from the column list is an error.
func (w WhereInConfig) Tuples() ([][]any, error) {
	tuples := make([][]any, 0, len(w.Values))
	for _, entry := range w.Values {
		fields := strings.Split(entry, "|")
		if len(fields) != len(w.Columns) {
			return nil, fmt.Errorf("tuple %q has %d values, expected %d", entry, len(fields), len(w.Columns))
		}
		tuple := make([]any, len(fields))
		for i, f := range fields {
			tuple[i] = tupleValue(strings.TrimSpace(f))
		}
		tuples = append(tuples, tuple)
	}
	return tuples, nil
}

func tupleValue(field string) any {
	if n, err := strconv.ParseInt(field, 10, 64); err == nil && strconv.FormatInt(n, 10) == field {
		return n
	}
	return field
}

// OutputConfig controls how records are written.
type OutputConfig struct {
	// Format is jsonl, json, yaml or msgpack.
	Format string `mapstructure:"format"`
	// Path is the destination file; empty means stdout.
	Path   string `mapstructure:"path"`
	Pretty bool   `mapstructure:"pretty"`
}

// LoggingConfig holds logging parameters.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`           // debug, info, warn, error
	Format         string `mapstructure:"format"`          // json, text
	ExportsEnabled bool   `mapstructure:"exports_enabled"` // Enable OTLP log export
}

// ObservabilityConfig holds observability parameters.
type ObservabilityConfig struct {
	ServiceName      string        `mapstructure:"service_name"`
	ServiceVersion   string        `mapstructure:"service_version"`
	Environment      string        `mapstructure:"environment"`
	MetricsEnabled   bool          `mapstructure:"metrics_enabled"`
	MetricsAddr      string        `mapstructure:"metrics_addr"`
	TracingEnabled   bool          `mapstructure:"tracing_enabled"`
	TraceSampleRatio float64       `mapstructure:"trace_sample_ratio"`
	Logging          LoggingConfig `mapstructure:"logging"`

	// Global OTLP settings (defaults for all signals)
	OTLP OTLPConfig `mapstructure:"otlp"`

	// Signal-specific overrides (optional)
	Traces *OTLPConfig `mapstructure:"traces,omitempty"`
	Logs   *OTLPConfig `mapstructure:"logs,omitempty"`
}

// OTLPConfig holds OTLP exporter configuration
type OTLPConfig struct {
	Endpoint         string            `mapstructure:"endpoint"`
	Protocol         string            `mapstructure:"protocol"` // "grpc", "http/protobuf"
	Insecure         bool              `mapstructure:"insecure"`
	TLSCertFile      string            `mapstructure:"tls_cert_file"`
	Headers          map[string]string `mapstructure:"headers"`
	Timeout          time.Duration     `mapstructure:"timeout"`
	Compression      string            `mapstructure:"compression"` // "none", "gzip"
	RetryEnabled     bool              `mapstructure:"retry_enabled"`
	RetryMaxAttempts int               `mapstructure:"retry_max_attempts"`
}

// GetTracesConfig returns the effective OTLP config for traces
func (c *ObservabilityConfig) GetTracesConfig() OTLPConfig {
	if c.Traces != nil {
		return mergeOTLPConfigs(c.OTLP, *c.Traces)
	}
	return c.OTLP
}

// GetLogsConfig returns the effective OTLP config for logs
func (c *ObservabilityConfig) GetLogsConfig() OTLPConfig {
	if c.Logs != nil {
		return mergeOTLPConfigs(c.OTLP, *c.Logs)
	}
	return c.OTLP
}

// mergeOTLPConfigs lays signal-specific settings over the global ones.
func mergeOTLPConfigs(base OTLPConfig, override OTLPConfig) OTLPConfig {
	result := base

	if override.Endpoint != "" {
		result.Endpoint = override.Endpoint
	}
	if override.Protocol != "" {
		result.Protocol = override.Protocol
	}
	// A present override block always decides Insecure; false cannot be told apart from unset.
	result.Insecure = override.Insecure

	if override.TLSCertFile != "" {
		result.TLSCertFile = override.TLSCertFile
	}
	if override.Headers != nil {
		result.Headers = make(map[string]string, len(base.Headers)+len(override.Headers))
		for k, v := range base.Headers {
			result.Headers[k] = v
		}
		for k, v := range override.Headers {
			result.Headers[k] = v
		}
	}
	if override.Timeout != 0 {
		result.Timeout = override.Timeout
	}
	if override.Compression != "" {
		result.Compression = override.Compression
	}
	if override.RetryMaxAttempts != 0 {
		result.RetryEnabled = override.RetryEnabled
		result.RetryMaxAttempts = override.RetryMaxAttempts
	}
	return result
}
