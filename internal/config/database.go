package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"relfold/internal/sqlutil"

	"github.com/go-sql-driver/mysql"
)

// Supported database drivers.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Default ports per driver, used when database.port is zero.
var defaultPorts = map[string]int{
	DriverMySQL:    3306,
	DriverPostgres: 5432,
}

// DriverName returns the database/sql driver name to open.
func (d *DatabaseConfig) DriverName() string {
	return strings.ToLower(strings.TrimSpace(d.Driver))
}

// Dialect returns the SQL dialect matching the driver.
func (d *DatabaseConfig) Dialect() (sqlutil.Dialect, error) {
	return sqlutil.ParseDialect(d.DriverName())
}

// DSN returns a data source name for the configured driver.
// If ConnectionString is set, it is used directly (mysql gets parseTime added).
// Otherwise, builds the DSN from discrete fields.
func (d *DatabaseConfig) DSN() string {
	switch d.DriverName() {
	case DriverPostgres:
		if d.ConnectionString != "" {
			return d.ConnectionString
		}
		return d.postgresURL()
	case DriverSQLite:
		if d.ConnectionString != "" {
			return d.ConnectionString
		}
		return d.Database
	default:
		if d.ConnectionString != "" {
			return ensureMySQLParams(d.ConnectionString)
		}
		return d.mysqlConfig().FormatDSN()
	}
}

func (d *DatabaseConfig) mysqlConfig() *mysql.Config {
	cfg := mysql.NewConfig()
	cfg.User = d.User
	cfg.Passwd = d.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(d.Host, strconv.Itoa(d.effectivePort()))
	cfg.DBName = d.Database
	cfg.ParseTime = true
	return cfg
}

func (d *DatabaseConfig) postgresURL() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.effectivePort())),
		Path:   "/" + d.Database,
	}
	if d.User != "" {
		if d.Password != "" {
			u.User = url.UserPassword(d.User, d.Password)
		} else {
			u.User = url.User(d.User)
		}
	}
	if d.SSLMode != "" {
		q := url.Values{}
		q.Set("sslmode", d.SSLMode)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (d *DatabaseConfig) effectivePort() int {
	if d.Port != 0 {
		return d.Port
	}
	return defaultPorts[d.DriverName()]
}

func ensureMySQLParams(dsn string) string {
	if strings.Contains(dsn, "parseTime") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&parseTime=true"
	}
	return dsn + "?parseTime=true"
}

// EffectiveDatabaseName returns the database name used for schema introspection.
// A name in the DSN wins over an empty database.database; a conflict is an error.
func (d *DatabaseConfig) EffectiveDatabaseName() (string, error) {
	configured := strings.TrimSpace(d.Database)
	if d.DriverName() != DriverMySQL || strings.TrimSpace(d.ConnectionString) == "" {
		return configured, nil
	}

	parsed, err := mysql.ParseDSN(strings.TrimSpace(d.ConnectionString))
	if err != nil {
		return "", fmt.Errorf("database.dsn is invalid: %w", err)
	}
	fromDSN := strings.TrimSpace(parsed.DBName)
	if configured != "" && fromDSN != "" && configured != fromDSN {
		return "", fmt.Errorf(
			"database mismatch: database.database=%q but database.dsn targets %q",
			configured,
			fromDSN,
		)
	}
	if configured != "" {
		return configured, nil
	}
	return fromDSN, nil
}
