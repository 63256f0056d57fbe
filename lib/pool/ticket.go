package pool

import (
	"context"
	"sync/atomic"

	"github.com/connkeeper/connkeeper/lib/client"
)

// Ticket represents the right to use one checked-out worker. It is a
// distinct type from the raw connection handle so callers cannot bypass
// checkin bookkeeping: the connection is obtained by unpacking the ticket
// with Conn, and the worker is returned by presenting the same ticket to
// Checkin.
//
// A ticket is redeemable exactly once; the second Checkin of the same
// ticket returns ErrInvalidTicket.
type Ticket struct {
	pool     *Pool
	worker   *worker
	redeemed atomic.Bool
}

func newTicket(p *Pool, w *worker) *Ticket {
	return &Ticket{pool: p, worker: w}
}

// Conn unpacks the raw connection handle. The handle is owned exclusively
// by this ticket holder until checkin; using it afterward is a caller bug.
func (t *Ticket) Conn() client.Conn {
	return t.worker.conn
}

// Pool returns the pool that issued this ticket.
func (t *Ticket) Pool() *Pool {
	return t.pool
}

// redeem consumes the ticket's single checkin right.
func (t *Ticket) redeem() bool {
	return t.redeemed.CompareAndSwap(false, true)
}

// AttachContext links a caller context to an outstanding ticket. If ctx is
// canceled before the ticket is checked in, the worker is destroyed and its
// slot reclaimed, so an abandoned caller cannot leak a pool slot. A later
// Checkin of the ticket reports ErrInvalidTicket.
//
// The returned stop function detaches the watcher; callers that check in
// normally do not need to call it, but may to release the watcher early.
func (t *Ticket) AttachContext(ctx context.Context) (stop func()) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			t.pool.reclaimAbandoned(t)
		case <-done:
		}
	}()
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			close(done)
		}
	}
}
