package pool

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/connkeeper/connkeeper/lib/client"
	"github.com/connkeeper/connkeeper/lib/errors"
)

// workerState is the lifecycle state of a worker.
//
// Transitions:
//
//	starting -> idle        (init success)
//	starting -> dead        (init failure)
//	idle     -> busy        (checkout)
//	busy     -> returning   (checkin initiated)
//	returning -> idle       (on-return hook succeeded or absent)
//	returning -> dead       (hook failed or timed out)
//	any      -> stopping -> dead (explicit removal, shrink, drain)
type workerState int32

const (
	stateStarting workerState = iota
	stateIdle
	stateBusy
	stateReturning
	stateStopping
	stateDead
)

func (s workerState) String() string {
	switch s {
	case stateStarting:
		return "starting"
	case stateIdle:
		return "idle"
	case stateBusy:
		return "busy"
	case stateReturning:
		return "returning"
	case stateStopping:
		return "stopping"
	case stateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// worker owns exactly one physical database connection. The connection
// handle is never shared: while the worker is busy it belongs to the
// single ticket holder, otherwise to the pool.
type worker struct {
	id    uint64
	pool  string
	conn  client.Conn
	state atomic.Int32

	// doomed marks a busy worker for stop at its next checkin, set by
	// Resize when shrinking below the current busy count.
	doomed bool
}

func (w *worker) getState() workerState {
	return workerState(w.state.Load())
}

func (w *worker) setState(s workerState) {
	w.state.Store(int32(s))
}

// stop closes the underlying connection. Stopping an already-dead worker
// is a no-op.
func (w *worker) stop() {
	for {
		s := w.state.Load()
		if workerState(s) == stateDead {
			return
		}
		if w.state.CompareAndSwap(s, int32(stateDead)) {
			break
		}
	}
	if w.conn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.conn.Close(ctx); err != nil {
		log.WithError(err).WithField("pool", w.pool).WithField("worker", w.id).Debug("close failed")
	}
}

// runOnReturn invokes the on-return hook against the raw connection under
// its own timeout. The hook runs in a separate goroutine so the timeout
// holds even for hooks that ignore their context; on timeout the worker is
// abandoned to that goroutine and destroyed.
func (w *worker) runOnReturn(hook OnReturnHook, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- hook(ctx, w.conn)
	}()

	select {
	case err := <-done:
		if err != nil {
			return errors.WithContext(errors.ErrResetFailed, err.Error())
		}
		return nil
	case <-ctx.Done():
		return errors.WithContext(errors.ErrResetFailed, "on-return hook timed out")
	}
}

// startWorker opens a new connection and returns a live worker in the
// starting state. On failure no worker is returned, never a
// half-initialized one.
func startWorker(ctx context.Context, poolName string, id uint64, connector client.Connector) (*worker, error) {
	conn, err := connector.Connect(ctx)
	if err != nil {
		return nil, err
	}
	w := &worker{
		id:   id,
		pool: poolName,
		conn: conn,
	}
	w.setState(stateStarting)
	return w, nil
}
