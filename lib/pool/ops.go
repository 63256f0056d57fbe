package pool

import (
	"context"

	"github.com/connkeeper/connkeeper/lib/client"
	"github.com/connkeeper/connkeeper/lib/errors"
)

// The convenience operations are built strictly on Checkout + use +
// Checkin; they add no pool mechanics of their own. One checkout serves
// exactly one statement (Exec, Query) or one caller scope (With,
// Transaction).

// Exec checks a worker out, runs one statement, and checks it back in on
// success or failure. It returns the number of affected rows.
func (p *Pool) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	var affected int64
	err := p.With(ctx, func(conn client.Conn) error {
		var err error
		affected, err = conn.Exec(ctx, sql, args...)
		return err
	})
	return affected, err
}

// Query checks a worker out, runs one statement, and streams the result
// rows through scan before checking the worker back in. The rows are
// closed when scan returns; scan must not retain them.
func (p *Pool) Query(ctx context.Context, sql string, scan func(client.Rows) error, args ...any) error {
	return p.With(ctx, func(conn client.Conn) error {
		rows, err := conn.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		if err := scan(rows); err != nil {
			return err
		}
		return rows.Err()
	})
}

// With runs fn with a checked-out connection and guarantees the checkin on
// every exit path, including a panicking fn (the panic is re-raised after
// the worker is returned).
func (p *Pool) With(ctx context.Context, fn func(client.Conn) error) error {
	t, err := p.Checkout(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Checkin(t); err != nil {
			log.WithError(err).WithField("pool", p.cfg.Name).Warn("checkin failed")
		}
	}()
	return fn(t.Conn())
}

// Transaction checks a worker out, begins a transaction, and runs fn with
// the raw connection. A nil return from fn commits; an error return rolls
// back and the error propagates to the caller. The worker is checked back
// in on every path.
func (p *Pool) Transaction(ctx context.Context, fn func(client.Conn) error) error {
	return p.With(ctx, func(conn client.Conn) error {
		if err := conn.Begin(ctx); err != nil {
			return errors.WithContext(err, "begin")
		}
		committed := false
		defer func() {
			// Covers both the error return and a panicking fn.
			if !committed {
				if rbErr := conn.Rollback(ctx); rbErr != nil {
					log.WithError(rbErr).WithField("pool", p.cfg.Name).Warn("rollback failed")
				}
			}
		}()
		if err := fn(conn); err != nil {
			return err
		}
		if err := conn.Commit(ctx); err != nil {
			return errors.WithContext(err, "commit")
		}
		committed = true
		return nil
	})
}

// GetConn is the manual multi-statement surface: it checks a worker out
// and returns both the ticket and the unpacked connection. The caller owns
// the worker until it presents the ticket to Checkin.
func (p *Pool) GetConn(ctx context.Context) (*Ticket, client.Conn, error) {
	t, err := p.Checkout(ctx)
	if err != nil {
		return nil, nil, err
	}
	return t, t.Conn(), nil
}
