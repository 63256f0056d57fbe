// Package pool implements the bounded database connection pool at the heart
// of connkeeper.
//
// A pool owns a set of workers, each wrapping exactly one physical database
// connection. Callers check a worker out, use its connection, and check it
// back in; the pool enforces size bounds, queues exhausted checkouts in FIFO
// order, and reclaims workers whose session state is unknown.
//
// # Basic Usage
//
//	connector, err := client.ForParams(client.Params{
//	    Driver:   "postgres",
//	    Database: "app",
//	    User:     "app",
//	})
//
//	cfg := pool.DefaultConfig()
//	cfg.Name = "main"
//	cfg.MaxSize = 10
//
//	p, err := pool.New(connector, cfg)
//	defer p.Close()
//
//	ticket, err := p.Checkout(ctx)
//	if err != nil {
//	    return err
//	}
//	defer p.Checkin(ticket)
//
//	// Use ticket.Conn()...
//
// A checkout ticket is deliberately distinct from the raw connection: it is
// redeemable exactly once for checkin, so double-release and bypassing the
// pool bookkeeping are both compile-time awkward and runtime errors.
//
// # Convenience operations
//
// Exec, Query, Transaction and With wrap checkout+use+checkin for the
// common single-statement and scoped-acquisition patterns:
//
//	err := p.Transaction(ctx, func(conn client.Conn) error {
//	    if _, err := conn.Exec(ctx, "insert into t values (1)"); err != nil {
//	        return err // rolls back
//	    }
//	    return nil // commits
//	})
//
// # On-return hooks
//
// A configured OnReturn hook runs against the raw connection every time a
// worker is checked back in, with its own timeout. A worker whose hook
// fails is destroyed rather than returned to the idle set, since its
// session state is unknown.
//
// # Metrics
//
// Pool utilization metrics are registered with the metrics package, one
// series per pool:
//   - connkeeper_pool_max_size: Configured maximum size
//   - connkeeper_pool_idle: Idle workers
//   - connkeeper_pool_busy: Checked-out workers
//   - connkeeper_pool_starting: Workers being connected
//   - connkeeper_pool_waiting: Queued checkouts
//   - connkeeper_pool_checkouts_total: Successful checkouts
//   - connkeeper_pool_checkout_failures_total: Failed checkouts
//   - connkeeper_pool_checkins_total: Checkins
//   - connkeeper_pool_timeouts_total: Checkout timeouts
//   - connkeeper_pool_reset_failures_total: Failed on-return hooks
//   - connkeeper_pool_connect_failures_total: Failed connection attempts
//   - connkeeper_pool_checkout_duration_seconds: Checkout latency
package pool
