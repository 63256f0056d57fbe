package client

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/connkeeper/connkeeper/lib/errors"
)

// PgxConnector opens native PostgreSQL connections via pgx.
type PgxConnector struct {
	params Params
}

// NewPgxConnector creates a connector for the given parameters.
// Params should already carry defaults (see ForParams).
func NewPgxConnector(p Params) *PgxConnector {
	return &PgxConnector{params: p}
}

// Name identifies the connector in logs.
func (c *PgxConnector) Name() string {
	return "pgx/" + c.params.Addr() + "/" + c.params.Database
}

// Connect opens a connection and installs the configured prepared
// statements. On any failure the partially opened connection is closed and
// an error is returned, never a half-initialized Conn.
func (c *PgxConnector) Connect(ctx context.Context) (Conn, error) {
	cfg, err := pgx.ParseConfig("")
	if err != nil {
		return nil, errors.WithContext(err, "pgx config")
	}
	cfg.Host = c.params.Host
	cfg.Port = uint16(c.params.Port)
	cfg.User = c.params.User
	cfg.Password = c.params.Password
	cfg.Database = c.params.Database
	cfg.ConnectTimeout = c.params.ConnectTimeout

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		log.WithError(err).WithField("addr", c.params.Addr()).Debug("pgx connect failed")
		return nil, errors.WithContextf(errors.ErrConnectFailed, "pgx connect %s", c.params.Addr())
	}

	pc := &pgxConn{conn: conn, statements: c.params.Statements}
	if err := pc.prepareAll(ctx); err != nil {
		_ = conn.Close(ctx)
		return nil, errors.WithContext(err, "install prepared statements")
	}
	return pc, nil
}

// pgxConn adapts *pgx.Conn to the Conn contract.
type pgxConn struct {
	conn       *pgx.Conn
	statements map[string]string

	mu sync.Mutex
	tx pgx.Tx
}

func (c *pgxConn) prepareAll(ctx context.Context) error {
	for name, sql := range c.statements {
		if _, err := c.conn.Prepare(ctx, name, sql); err != nil {
			return errors.WithContextf(err, "prepare %q", name)
		}
	}
	return nil
}

func (c *pgxConn) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := c.conn.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (c *pgxConn) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	rows, err := c.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *pgxConn) Begin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tx != nil {
		return errors.New(errors.CodeInternal, "transaction already in progress")
	}
	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return err
	}
	c.tx = tx
	return nil
}

func (c *pgxConn) Commit(ctx context.Context) error {
	c.mu.Lock()
	tx := c.tx
	c.tx = nil
	c.mu.Unlock()
	if tx == nil {
		return errors.New(errors.CodeInternal, "no transaction in progress")
	}
	return tx.Commit(ctx)
}

func (c *pgxConn) Rollback(ctx context.Context) error {
	c.mu.Lock()
	tx := c.tx
	c.tx = nil
	c.mu.Unlock()
	if tx == nil {
		return errors.New(errors.CodeInternal, "no transaction in progress")
	}
	return tx.Rollback(ctx)
}

// Reset discards all session state and reinstalls the configured prepared
// statements, since DISCARD ALL drops them too.
func (c *pgxConn) Reset(ctx context.Context) error {
	c.mu.Lock()
	tx := c.tx
	c.tx = nil
	c.mu.Unlock()
	if tx != nil {
		_ = tx.Rollback(ctx)
	}
	if _, err := c.conn.Exec(ctx, "discard all"); err != nil {
		return errors.WithContext(errors.ErrResetFailed, err.Error())
	}
	return c.prepareAll(ctx)
}

func (c *pgxConn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *pgxConn) Close(ctx context.Context) error {
	if c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close(ctx)
}
