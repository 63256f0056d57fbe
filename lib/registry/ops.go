package registry

import (
	"context"

	"github.com/connkeeper/connkeeper/lib/client"
	"github.com/connkeeper/connkeeper/lib/errors"
	"github.com/connkeeper/connkeeper/lib/pool"
)

// Name-keyed mirrors of the pool operations. Each resolves the pool and
// delegates; unknown names report ErrPoolNotFound.

// Checkout checks a worker out of the named pool.
func (r *Registry) Checkout(ctx context.Context, name string) (*pool.Ticket, error) {
	p, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	return p.Checkout(ctx)
}

// Checkin returns a checked-out worker. The ticket already identifies its
// pool.
func (r *Registry) Checkin(t *pool.Ticket) error {
	if t == nil {
		return errors.ErrInvalidTicket
	}
	return t.Pool().Checkin(t)
}

// GetConn checks a worker out of the named pool and unpacks its connection
// for a manual multi-statement session.
func (r *Registry) GetConn(ctx context.Context, name string) (*pool.Ticket, client.Conn, error) {
	p, err := r.Lookup(name)
	if err != nil {
		return nil, nil, err
	}
	return p.GetConn(ctx)
}

// Exec runs one statement on the named pool.
func (r *Registry) Exec(ctx context.Context, name, sql string, args ...any) (int64, error) {
	p, err := r.Lookup(name)
	if err != nil {
		return 0, err
	}
	return p.Exec(ctx, sql, args...)
}

// Query runs one statement on the named pool, streaming rows through scan.
func (r *Registry) Query(ctx context.Context, name, sql string, scan func(client.Rows) error, args ...any) error {
	p, err := r.Lookup(name)
	if err != nil {
		return err
	}
	return p.Query(ctx, sql, scan, args...)
}

// Transaction runs fn inside a transaction on the named pool.
func (r *Registry) Transaction(ctx context.Context, name string, fn func(client.Conn) error) error {
	p, err := r.Lookup(name)
	if err != nil {
		return err
	}
	return p.Transaction(ctx, fn)
}

// With runs fn with a checked-out connection from the named pool,
// guaranteeing the checkin on every exit path.
func (r *Registry) With(ctx context.Context, name string, fn func(client.Conn) error) error {
	p, err := r.Lookup(name)
	if err != nil {
		return err
	}
	return p.With(ctx, fn)
}

// Resize adjusts the named pool's bounds.
func (r *Registry) Resize(name string, newMin, newMax int) error {
	p, err := r.Lookup(name)
	if err != nil {
		return err
	}
	return p.Resize(newMin, newMax)
}
