// Package preflight checks that the target database is reachable before any phase runs.
package preflight

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	_ "github.com/go-sql-driver/mysql"  // MySQL driver
	_ "github.com/lib/pq"               // Register PostgreSQL driver
	_ "github.com/microsoft/go-mssqldb" // SQL Server driver
	_ "github.com/sijms/go-ora/v2"      // Oracle driver
)

var (
	// ErrUnknownDriver is returned for a driver name outside Drivers.
	ErrUnknownDriver = errors.New("unknown database driver")
	// ErrUnreachable is returned when the ping fails.
	ErrUnreachable = errors.New("database unreachable")
)

// Driver describes how to reach one database type.
type Driver struct {
	SQLName      string // database/sql driver name
	VersionQuery string
}

// Drivers maps the configured driver name to its database/sql driver.
var Drivers = map[string]Driver{
	"postgres":  {SQLName: "postgres", VersionQuery: "SELECT version()"},
	"mysql":     {SQLName: "mysql", VersionQuery: "SELECT VERSION()"},
	"sqlserver": {SQLName: "sqlserver", VersionQuery: "SELECT @@VERSION"},
	"oracle":    {SQLName: "oracle", VersionQuery: "SELECT banner FROM v$version WHERE ROWNUM = 1"},
}

// DriverNames returns the supported driver names, sorted.
func DriverNames() []string {
	names := make([]string, 0, len(Drivers))
	for n := range Drivers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Result is the outcome of a ping.
type Result struct {
	Driver  string        `json:"driver"`
	Latency time.Duration `json:"latency"`
	Version string        `json:"version,omitempty"`
}

// Checker pings databases.
type Checker struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewChecker creates a checker. A zero timeout means 5 seconds.
func NewChecker(timeout time.Duration, logger *slog.Logger) *Checker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{timeout: timeout, logger: logger}
}

// Ping opens dsn with the named driver, pings it and reads the server version.
// A version query failure is not an error.
func (c *Checker) Ping(ctx context.Context, driver, dsn string) (*Result, error) {
	d, ok := Drivers[driver]
	if !ok {
		return nil, fmt.Errorf("%w: %q (supported: %v)", ErrUnknownDriver, driver, DriverNames())
	}

	start := time.Now()
	db, err := sql.Open(d.SQLName, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrUnreachable, driver, err)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, driver, err)
	}
	res := &Result{Driver: driver, Latency: time.Since(start)}

	var version string
	if err := db.QueryRowContext(pingCtx, d.VersionQuery).Scan(&version); err != nil {
		c.logger.Debug("Preflight: version query failed", "driver", driver, "error", err)
		version = "Unknown"
	}
	res.Version = version

	c.logger.Info("Preflight: database reachable", "driver", driver, "latency", res.Latency, "version", res.Version)
	return res, nil
}
