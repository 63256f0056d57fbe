package client

import (
	"context"
	"database/sql/driver"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/connkeeper/connkeeper/lib/errors"
)

// DriverConnector adapts a database/sql/driver.Connector to the Conn
// contract, working one connection at a time without the database/sql
// pool in between. It relies on the driver implementing the context
// variants (ExecerContext, QueryerContext, ConnBeginTx); go-sql-driver/mysql
// implements all of them.
type DriverConnector struct {
	name      string
	connector driver.Connector
}

// NewMySQLConnector builds a DriverConnector for a MySQL server.
func NewMySQLConnector(p Params) (*DriverConnector, error) {
	cfg := mysql.NewConfig()
	cfg.User = p.User
	cfg.Passwd = p.Password
	cfg.Net = "tcp"
	cfg.Addr = p.Addr()
	cfg.DBName = p.Database
	cfg.Timeout = p.ConnectTimeout

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, errors.WithContext(errors.ErrConfiguration, err.Error())
	}
	return &DriverConnector{
		name:      "mysql/" + p.Addr() + "/" + p.Database,
		connector: connector,
	}, nil
}

// NewDriverConnector wraps an arbitrary driver.Connector.
func NewDriverConnector(name string, connector driver.Connector) *DriverConnector {
	return &DriverConnector{name: name, connector: connector}
}

// Name identifies the connector in logs.
func (c *DriverConnector) Name() string {
	return c.name
}

// Connect opens one driver-level connection.
func (c *DriverConnector) Connect(ctx context.Context) (Conn, error) {
	raw, err := c.connector.Connect(ctx)
	if err != nil {
		log.WithError(err).WithField("connector", c.name).Debug("driver connect failed")
		return nil, errors.WithContextf(errors.ErrConnectFailed, "driver connect %s", c.name)
	}
	return &driverConn{raw: raw}, nil
}

// driverConn adapts a raw driver.Conn to the Conn contract.
type driverConn struct {
	raw    driver.Conn
	closed bool

	mu sync.Mutex
	tx driver.Tx
}

func (c *driverConn) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	ec, ok := c.raw.(driver.ExecerContext)
	if !ok {
		return 0, errors.New(errors.CodeInternal, "driver does not implement ExecerContext")
	}
	nv, err := namedValues(args)
	if err != nil {
		return 0, err
	}
	res, err := ec.ExecContext(ctx, sql, nv)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (c *driverConn) Query(ctx context.Context, sql string, args ...any) (Rows, error) {
	qc, ok := c.raw.(driver.QueryerContext)
	if !ok {
		return nil, errors.New(errors.CodeInternal, "driver does not implement QueryerContext")
	}
	nv, err := namedValues(args)
	if err != nil {
		return nil, err
	}
	rows, err := qc.QueryContext(ctx, sql, nv)
	if err != nil {
		return nil, err
	}
	return &driverRows{rows: rows, buf: make([]driver.Value, len(rows.Columns()))}, nil
}

func (c *driverConn) Begin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tx != nil {
		return errors.New(errors.CodeInternal, "transaction already in progress")
	}
	bt, ok := c.raw.(driver.ConnBeginTx)
	if !ok {
		return errors.New(errors.CodeInternal, "driver does not implement ConnBeginTx")
	}
	tx, err := bt.BeginTx(ctx, driver.TxOptions{})
	if err != nil {
		return err
	}
	c.tx = tx
	return nil
}

func (c *driverConn) Commit(ctx context.Context) error {
	c.mu.Lock()
	tx := c.tx
	c.tx = nil
	c.mu.Unlock()
	if tx == nil {
		return errors.New(errors.CodeInternal, "no transaction in progress")
	}
	return tx.Commit()
}

func (c *driverConn) Rollback(ctx context.Context) error {
	c.mu.Lock()
	tx := c.tx
	c.tx = nil
	c.mu.Unlock()
	if tx == nil {
		return errors.New(errors.CodeInternal, "no transaction in progress")
	}
	return tx.Rollback()
}

func (c *driverConn) Reset(ctx context.Context) error {
	c.mu.Lock()
	tx := c.tx
	c.tx = nil
	c.mu.Unlock()
	if tx != nil {
		_ = tx.Rollback()
	}
	sr, ok := c.raw.(driver.SessionResetter)
	if !ok {
		return nil
	}
	if err := sr.ResetSession(ctx); err != nil {
		return errors.WithContext(errors.ErrResetFailed, err.Error())
	}
	return nil
}

func (c *driverConn) Ping(ctx context.Context) error {
	p, ok := c.raw.(driver.Pinger)
	if !ok {
		return nil
	}
	return p.Ping(ctx)
}

func (c *driverConn) Close(ctx context.Context) error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.raw.Close()
}

// namedValues converts caller arguments to driver.NamedValue slices.
func namedValues(args []any) ([]driver.NamedValue, error) {
	nv := make([]driver.NamedValue, len(args))
	for i, a := range args {
		v, err := toDriverValue(a)
		if err != nil {
			return nil, err
		}
		nv[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return nv, nil
}

func toDriverValue(a any) (driver.Value, error) {
	switch v := a.(type) {
	case nil, int64, float64, bool, []byte, string, time.Time:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case float32:
		return float64(v), nil
	case driver.Valuer:
		return v.Value()
	default:
		return nil, errors.New(errors.CodeInternal, fmt.Sprintf("unsupported argument type %T", a))
	}
}

// driverRows adapts driver.Rows to the Rows contract.
type driverRows struct {
	rows driver.Rows
	buf  []driver.Value
	err  error
	done bool
}

func (r *driverRows) Next() bool {
	if r.done {
		return false
	}
	err := r.rows.Next(r.buf)
	if err != nil {
		r.done = true
		if err != io.EOF {
			r.err = err
		}
		return false
	}
	return true
}

func (r *driverRows) Scan(dest ...any) error {
	if len(dest) > len(r.buf) {
		return errors.New(errors.CodeInternal, "scan destination count exceeds column count")
	}
	for i, d := range dest {
		if err := assignValue(d, r.buf[i]); err != nil {
			return errors.WithContextf(err, "scan column %d", i)
		}
	}
	return nil
}

func (r *driverRows) Err() error {
	return r.err
}

func (r *driverRows) Close() {
	_ = r.rows.Close()
}

// assignValue copies a driver.Value into a destination pointer. Only the
// conversions the drivers actually produce are supported.
func assignValue(dest any, v driver.Value) error {
	switch d := dest.(type) {
	case *any:
		*d = v
		return nil
	case *int64:
		if n, ok := v.(int64); ok {
			*d = n
			return nil
		}
	case *float64:
		if f, ok := v.(float64); ok {
			*d = f
			return nil
		}
	case *bool:
		if b, ok := v.(bool); ok {
			*d = b
			return nil
		}
	case *string:
		switch s := v.(type) {
		case string:
			*d = s
			return nil
		case []byte:
			*d = string(s)
			return nil
		}
	case *[]byte:
		if b, ok := v.([]byte); ok {
			*d = append([]byte(nil), b...)
			return nil
		}
	case *time.Time:
		if t, ok := v.(time.Time); ok {
			*d = t
			return nil
		}
	}
	return errors.New(errors.CodeInternal, fmt.Sprintf("cannot scan %T into %T", v, dest))
}
