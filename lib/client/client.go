// Package client defines the database client collaborator used by the pool.
// The pool treats a connection as an opaque resource with open, close, and
// health-check operations; this package supplies that contract plus two real
// implementations (native PostgreSQL via pgx, and any database/sql driver,
// exercised with go-sql-driver/mysql).
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/connkeeper/connkeeper/lib/errors"
)

// Default connection parameter values.
const (
	DefaultHost           = "127.0.0.1"
	DefaultPostgresPort   = 5432
	DefaultMySQLPort      = 3306
	DefaultConnectTimeout = 5 * time.Second
)

// Supported driver names for Params.Driver.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Params holds the connection parameters for one pool's workers.
// All workers of a pool connect with the same Params.
type Params struct {
	// Driver selects the client implementation ("postgres" or "mysql").
	// Default: "postgres"
	Driver string
	// Host is the database server host.
	// Default: 127.0.0.1
	Host string
	// Port is the database server port.
	// Default: 5432 for postgres, 3306 for mysql
	Port int
	// User is the database user name.
	User string
	// Password is the database password.
	Password string
	// Database is the database name to connect to.
	Database string
	// ConnectTimeout bounds connection establishment.
	// Default: 5 seconds
	ConnectTimeout time.Duration
	// Statements maps statement names to SQL, installed as server-side
	// prepared statements after connect. PostgreSQL only; the mysql
	// driver connector ignores it.
	Statements map[string]string
}

// WithDefaults returns a copy of p with unset fields replaced by defaults.
func (p Params) WithDefaults() Params {
	if p.Driver == "" {
		p.Driver = DriverPostgres
	}
	if p.Host == "" {
		p.Host = DefaultHost
	}
	if p.Port == 0 {
		switch p.Driver {
		case DriverMySQL:
			p.Port = DefaultMySQLPort
		default:
			p.Port = DefaultPostgresPort
		}
	}
	if p.ConnectTimeout <= 0 {
		p.ConnectTimeout = DefaultConnectTimeout
	}
	return p
}

// Validate checks the parameters. It is called at pool-creation time so
// misconfiguration surfaces before the first connect.
func (p Params) Validate() error {
	switch p.Driver {
	case "", DriverPostgres, DriverMySQL:
	default:
		return errors.WithContextf(errors.ErrConfiguration, "unknown driver %q", p.Driver)
	}
	if p.Port < 0 || p.Port > 65535 {
		return errors.WithContextf(errors.ErrConfiguration, "port %d out of range", p.Port)
	}
	if p.Database == "" {
		return errors.WithContext(errors.ErrConfiguration, "database name is required")
	}
	return nil
}

// Addr returns the host:port address of the database server.
func (p Params) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// Rows is the minimal result iteration contract. The pool itself never
// inspects result contents; Rows exists so the convenience layer can hand
// results to the caller.
type Rows interface {
	// Next advances to the next row, returning false when exhausted.
	Next() bool
	// Scan copies the current row's column values into dest.
	Scan(dest ...any) error
	// Err returns the error, if any, encountered during iteration.
	Err() error
	// Close releases the result set.
	Close()
}

// Conn is one physical database connection. A Conn is owned by exactly one
// pool worker and is never shared.
type Conn interface {
	// Exec runs a statement and returns the number of affected rows.
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	// Query runs a statement and returns the result rows.
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	// Begin starts a transaction on this connection.
	Begin(ctx context.Context) error
	// Commit commits the current transaction.
	Commit(ctx context.Context) error
	// Rollback aborts the current transaction.
	Rollback(ctx context.Context) error
	// Reset restores the session to a clean state.
	Reset(ctx context.Context) error
	// Ping checks connection liveness.
	Ping(ctx context.Context) error
	// Close tears the connection down. Closing a closed Conn is a no-op.
	Close(ctx context.Context) error
}

// Connector opens new connections for pool workers.
type Connector interface {
	// Connect opens a new connection. On failure no connection resources
	// are retained.
	Connect(ctx context.Context) (Conn, error)
	// Name identifies the connector in logs.
	Name() string
}

// ForParams builds a Connector for the given parameters.
func ForParams(p Params) (Connector, error) {
	p = p.WithDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	switch p.Driver {
	case DriverPostgres:
		return NewPgxConnector(p), nil
	case DriverMySQL:
		return NewMySQLConnector(p)
	default:
		return nil, errors.WithContextf(errors.ErrConfiguration, "unknown driver %q", p.Driver)
	}
}
