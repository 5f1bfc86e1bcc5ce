package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"relfold/internal/prefix"
	"relfold/internal/stmt"
)

// Retrieval modes for the query section.
const (
	ModeGet         = "get"
	ModeCursor      = "cursor"
	ModeChunked     = "chunked"
	ModeChunkedByID = "chunked_by_id"
)

// Output formats.
const (
	FormatJSONLines = "jsonl"
	FormatJSON      = "json"
	FormatYAML      = "yaml"
	FormatMsgpack   = "msgpack"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns a combined error message if there are validation errors.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	var msgs []string
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration for errors and returns validation results.
// It returns both errors (fatal) and warnings (non-fatal issues).
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}

	c.Database.validate(result)
	c.Schema.validate(c.Database.DriverName(), result)
	c.Query.validate(result)
	c.Output.validate(result)
	c.Observability.validate(result)

	return result
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	switch d.DriverName() {
	case DriverMySQL, DriverPostgres, DriverSQLite:
	default:
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.driver",
			Message: fmt.Sprintf("unsupported driver %q", d.Driver),
			Hint:    "valid values are: mysql, postgres, sqlite",
		})
		return
	}

	if d.DriverName() == DriverSQLite {
		if d.ConnectionString == "" && strings.TrimSpace(d.Database) == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "database.database",
				Message: "sqlite needs a database file path",
				Hint:    "set database.database to a file path or :memory:",
			})
		}
	} else if d.ConnectionString == "" && d.Port != 0 && (d.Port < 1 || d.Port > 65535) {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.port",
			Message: fmt.Sprintf("port %d is out of valid range (1-65535)", d.Port),
		})
	}

	if d.Pool.MaxOpen < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.pool.max_open",
			Message: "max_open cannot be negative",
		})
	}
	if d.Pool.MaxIdle < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.pool.max_idle",
			Message: "max_idle cannot be negative",
		})
	}
	if d.Pool.MaxIdle > d.Pool.MaxOpen && d.Pool.MaxOpen > 0 {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "database.pool.max_idle",
			Message: "max_idle is greater than max_open",
			Hint:    "idle connections will be limited to max_open",
		})
	}

	if _, err := d.EffectiveDatabaseName(); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "database.database",
			Message: err.Error(),
			Hint:    "either remove database.database or set it to match the DSN database",
		})
	}
}

func (s *SchemaConfig) validate(driver string, result *ValidationResult) {
	if !s.Introspect && len(s.Entities) == 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "schema",
			Message: "no entities are available",
			Hint:    "enable schema.introspect or declare entities in schema.file or schema.entities",
		})
	}
	if s.Introspect && driver != DriverMySQL {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "schema.introspect",
			Message: fmt.Sprintf("introspection is not supported for driver %q", driver),
			Hint:    "declare entities in schema.file instead",
		})
	}
	for i, e := range s.Entities {
		if strings.TrimSpace(e.Name) == "" {
			result.Errors = append(result.Errors, ValidationError{
				Field:   fmt.Sprintf("schema.entities[%d].name", i),
				Message: "entity name cannot be empty",
			})
		}
	}
}

func (q *QueryConfig) validate(result *ValidationResult) {
	if strings.TrimSpace(q.Entity) == "" {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "query.entity",
			Message: "root entity is required",
		})
	}

	switch q.Mode {
	case ModeGet, ModeCursor:
	case ModeChunked, ModeChunkedByID:
		if q.PageSize <= 0 {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "query.page_size",
				Message: "page_size must be greater than 0 for chunked modes",
			})
		}
	default:
		result.Errors = append(result.Errors, ValidationError{
			Field:   "query.mode",
			Message: fmt.Sprintf("invalid mode %q", q.Mode),
			Hint:    "valid values are: get, cursor, chunked, chunked_by_id",
		})
	}

	if q.Mode != ModeChunkedByID && (q.KeyColumn != "" || q.KeyAlias != "") {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "query.key_column",
			Message: "key_column and key_alias only apply to chunked_by_id",
		})
	}

	if _, err := prefix.ParseCase(q.ForceCase); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "query.force_case",
			Message: err.Error(),
			Hint:    "valid values are: lower, upper",
		})
	}

	for _, entry := range q.OrderBy {
		if _, err := ParseOrder(entry); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "query.order_by",
				Message: err.Error(),
				Hint:    "use column, column:desc or relation.column:asc",
			})
		}
	}

	if len(q.WhereIn.Values) > 0 && len(q.WhereIn.Columns) == 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "query.where_in.columns",
			Message: "where_in values need at least one column",
		})
	} else if _, err := q.WhereIn.Tuples(); err != nil {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "query.where_in.values",
			Message: err.Error(),
			Hint:    `separate tuple fields with "|", e.g. 1|ann`,
		})
	}
}

func (o *OutputConfig) validate(result *ValidationResult) {
	switch o.Format {
	case FormatJSONLines, FormatJSON, FormatYAML, FormatMsgpack:
	default:
		result.Errors = append(result.Errors, ValidationError{
			Field:   "output.format",
			Message: fmt.Sprintf("invalid output format %q", o.Format),
			Hint:    "valid values are: jsonl, json, yaml, msgpack",
		})
	}
	if o.Pretty && o.Format != FormatJSON {
		result.Warnings = append(result.Warnings, ValidationWarning{
			Field:   "output.pretty",
			Message: "pretty only applies to json output",
		})
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	// Log level validation
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[o.Logging.Level] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.logging.level",
			Message: fmt.Sprintf("invalid log level %q", o.Logging.Level),
			Hint:    "valid values are: debug, info, warn, error",
		})
	}

	// Log format validation
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[o.Logging.Format] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.logging.format",
			Message: fmt.Sprintf("invalid log format %q", o.Logging.Format),
			Hint:    "valid values are: json, text",
		})
	}

	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   "observability.trace_sample_ratio",
			Message: fmt.Sprintf("trace_sample_ratio %v is outside 0.0-1.0", o.TraceSampleRatio),
		})
	}

	if o.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(o.MetricsAddr); err != nil {
			result.Errors = append(result.Errors, ValidationError{
				Field:   "observability.metrics_addr",
				Message: fmt.Sprintf("invalid listen address %q", o.MetricsAddr),
				Hint:    "use host:port such as :9464",
			})
		}
		if !o.MetricsEnabled {
			result.Warnings = append(result.Warnings, ValidationWarning{
				Field:   "observability.metrics_addr",
				Message: "metrics_addr is set but metrics are disabled",
			})
		}
	}

	// OTLP protocol validation
	o.OTLP.validate("observability.otlp", result)

	// Signal-specific OTLP validation
	if o.Traces != nil {
		o.Traces.validate("observability.traces", result)
	}
	if o.Logs != nil {
		o.Logs.validate("observability.logs", result)
	}
}

func (o *OTLPConfig) validate(field string, result *ValidationResult) {
	validProtocols := map[string]bool{"": true, "grpc": true, "http/protobuf": true}
	if !validProtocols[o.Protocol] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   field + ".protocol",
			Message: fmt.Sprintf("invalid OTLP protocol %q", o.Protocol),
			Hint:    "valid values are: grpc, http/protobuf",
		})
	}

	if o.Protocol == "http/protobuf" {
		if !validOTLPEndpoint(o.Endpoint) {
			result.Errors = append(result.Errors, ValidationError{
				Field:   field + ".endpoint",
				Message: fmt.Sprintf("invalid OTLP endpoint %q for http/protobuf", o.Endpoint),
				Hint:    "use host:port or a full URL",
			})
		}
	}

	validCompressions := map[string]bool{"": true, "none": true, "gzip": true}
	if !validCompressions[o.Compression] {
		result.Errors = append(result.Errors, ValidationError{
			Field:   field + ".compression",
			Message: fmt.Sprintf("invalid OTLP compression %q", o.Compression),
			Hint:    "valid values are: none, gzip",
		})
	}

	if o.RetryMaxAttempts < 0 {
		result.Errors = append(result.Errors, ValidationError{
			Field:   field + ".retry_max_attempts",
			Message: "retry_max_attempts cannot be negative",
		})
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}

// Order is a parsed query.order_by entry. Path is empty for root columns.
type Order struct {
	Path      string
	Column    string
	Direction stmt.Direction
}

// ParseOrder parses "column", "column:desc" or "relation.path.column:asc".
func ParseOrder(entry string) (Order, error) {
	ref, dir, _ := strings.Cut(strings.TrimSpace(entry), ":")
	if ref == "" {
		return Order{}, fmt.Errorf("empty order entry %q", entry)
	}
	direction, err := stmt.ParseDirection(dir)
	if err != nil {
		return Order{}, fmt.Errorf("order %q: %w", entry, err)
	}

	o := Order{Column: ref, Direction: direction}
	if i := strings.LastIndex(ref, "."); i >= 0 {
		o.Path = ref[:i]
		o.Column = ref[i+1:]
		if o.Path == "" {
			return Order{}, fmt.Errorf("order %q has an empty relation path", entry)
		}
	}
	if o.Column == "" {
		return Order{}, fmt.Errorf("order %q has an empty column", entry)
	}
	return o, nil
}
