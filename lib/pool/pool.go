package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/connkeeper/connkeeper/lib/client"
	"github.com/connkeeper/connkeeper/lib/errors"
	"github.com/connkeeper/connkeeper/lib/resilience"
)

// waiter is one queued checkout. Each waiter receives at most one message:
// a worker handoff, a terminal error, or the zero message telling it to
// retry because capacity was freed without a worker to hand over.
type waiter struct {
	ch chan waiterMsg
}

type waiterMsg struct {
	w   *worker
	err error
}

// Pool is a named, bounded collection of workers. All structural state
// (idle/busy partition, wait queue) is serialized under one mutex per pool;
// operations on different pools never contend.
type Pool struct {
	cfg       Config
	connector client.Connector
	breaker   *resilience.Breaker
	metrics   *poolMetrics

	mu            sync.Mutex
	idle          []*worker // LIFO: most recently used last
	busy          map[*worker]struct{}
	starting      int
	waiters       []*waiter // FIFO: oldest first
	draining      bool
	closed        bool
	drainDone     chan struct{}
	drainSignaled bool
	nextID        uint64

	// Cumulative counters
	checkouts        uint64
	checkoutFailures uint64
	checkins         uint64
	timeouts         uint64
	resetFailures    uint64
	connectFailures  uint64
}

// New creates a pool and eagerly starts MinSize workers in the background.
// Eager-fill failures are logged, not fatal; the pool refills lazily on
// checkout.
func New(connector client.Connector, cfg Config) (*Pool, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if connector == nil {
		return nil, errors.WithContext(errors.ErrConfiguration, "connector is required")
	}

	p := &Pool{
		cfg:       cfg,
		connector: connector,
		breaker:   resilience.NewBreaker(cfg.Name, cfg.Breaker),
		metrics:   newPoolMetrics(cfg.Name),
		busy:      make(map[*worker]struct{}),
		drainDone: make(chan struct{}),
	}
	p.metrics.maxSize.Set(int64(cfg.MaxSize))

	if cfg.MinSize > 0 {
		go p.fillToMin()
	}

	log.WithField("pool", cfg.Name).
		WithField("minSize", cfg.MinSize).
		WithField("maxSize", cfg.MaxSize).
		Debug("pool created")
	return p, nil
}

// Name returns the pool's name.
func (p *Pool) Name() string {
	return p.cfg.Name
}

// sizeLocked counts workers in any live state. Caller must hold mu.
func (p *Pool) sizeLocked() int {
	return len(p.idle) + len(p.busy) + p.starting
}

// Checkout removes a worker from the idle set, spawning a new one if the
// pool is below MaxSize, or queues the caller in FIFO order until a worker
// is checked in. If ctx carries no deadline the pool's CheckoutTimeout
// applies; a checkout never blocks forever.
func (p *Pool) Checkout(ctx context.Context) (*Ticket, error) {
	start := time.Now()

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && p.cfg.CheckoutTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.CheckoutTimeout)
		defer cancel()
	}

	front := false
	for {
		t, wt, err := p.tryCheckout(ctx, front)
		if err != nil {
			atomic.AddUint64(&p.checkoutFailures, 1)
			p.metrics.checkoutFailures.Inc()
			p.updateGauges()
			return nil, err
		}
		if t != nil {
			atomic.AddUint64(&p.checkouts, 1)
			p.metrics.checkouts.Inc()
			p.metrics.checkoutLatency.ObserveSince(start)
			p.updateGauges()
			return t, nil
		}

		p.updateGauges()
		select {
		case msg := <-wt.ch:
			switch {
			case msg.err != nil:
				atomic.AddUint64(&p.checkoutFailures, 1)
				p.metrics.checkoutFailures.Inc()
				return nil, msg.err
			case msg.w != nil:
				atomic.AddUint64(&p.checkouts, 1)
				p.metrics.checkouts.Inc()
				p.metrics.checkoutLatency.ObserveSince(start)
				p.updateGauges()
				return newTicket(p, msg.w), nil
			default:
				// Capacity freed without a worker to hand over; retry
				// ahead of newcomers to keep the queue fair.
				front = true
			}
		case <-ctx.Done():
			p.unregisterWaiter(wt)
			atomic.AddUint64(&p.checkoutFailures, 1)
			p.metrics.checkoutFailures.Inc()
			p.updateGauges()
			if ctx.Err() == context.DeadlineExceeded {
				atomic.AddUint64(&p.timeouts, 1)
				p.metrics.timeouts.Inc()
				return nil, errors.WithContextf(errors.ErrTimeout, "checkout from pool %q", p.cfg.Name)
			}
			return nil, ctx.Err()
		}
	}
}

// tryCheckout attempts one non-blocking checkout. It returns exactly one of:
// a ticket, a registered waiter to block on, or an error.
func (p *Pool) tryCheckout(ctx context.Context, front bool) (*Ticket, *waiter, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, nil, errors.WithContextf(errors.ErrPoolClosed, "pool %q", p.cfg.Name)
	}
	if p.draining {
		p.mu.Unlock()
		return nil, nil, errors.WithContextf(errors.ErrDraining, "pool %q", p.cfg.Name)
	}

	if n := len(p.idle); n > 0 {
		w := p.idle[n-1]
		p.idle = p.idle[:n-1]
		w.setState(stateBusy)
		p.busy[w] = struct{}{}
		p.mu.Unlock()
		return newTicket(p, w), nil, nil
	}

	if p.sizeLocked() < p.cfg.MaxSize {
		id := p.nextID
		p.nextID++
		p.starting++
		p.mu.Unlock()

		w, err := p.spawn(ctx, id)

		p.mu.Lock()
		p.starting--
		if err != nil {
			p.wakeOneLocked()
			p.mu.Unlock()
			return nil, nil, err
		}
		if p.closed || p.draining {
			err := errors.ErrPoolClosed
			if p.draining {
				err = errors.ErrDraining
			}
			p.mu.Unlock()
			w.stop()
			return nil, nil, errors.WithContextf(err, "pool %q", p.cfg.Name)
		}
		w.setState(stateBusy)
		p.busy[w] = struct{}{}
		p.mu.Unlock()
		return newTicket(p, w), nil, nil
	}

	wt := &waiter{ch: make(chan waiterMsg, 1)}
	if front {
		p.waiters = append([]*waiter{wt}, p.waiters...)
	} else {
		p.waiters = append(p.waiters, wt)
	}
	p.mu.Unlock()
	return nil, wt, nil
}

// spawn starts one worker with bounded connect retries, gated by the
// connect circuit breaker. It never loops unboundedly: at most
// ConnectRetries+1 attempts, fewer if the breaker opens or ctx ends.
func (p *Pool) spawn(ctx context.Context, id uint64) (*worker, error) {
	attempts := p.cfg.ConnectRetries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		var w *worker
		err := p.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			w, err = startWorker(ctx, p.cfg.Name, id, p.connector)
			return err
		})
		if err == nil {
			return w, nil
		}
		lastErr = err
		if errors.Is(err, errors.ErrCircuitOpen) {
			return nil, fmt.Errorf("%w: %w", errors.ErrConnectFailed, err)
		}
		if ctx.Err() != nil {
			break
		}
		atomic.AddUint64(&p.connectFailures, 1)
		p.metrics.connectFailures.Inc()
		log.WithError(err).
			WithField("pool", p.cfg.Name).
			WithField("attempt", i+1).
			Debug("connect attempt failed")
	}
	if ctx.Err() == context.DeadlineExceeded {
		return nil, errors.WithContextf(errors.ErrTimeout, "connect for pool %q", p.cfg.Name)
	}
	return nil, lastErr
}

// handToWaiterLocked hands a worker to the oldest waiter. The worker is
// marked busy before the send so the at-most-one-owner invariant holds
// across the handoff. Caller must hold mu.
func (p *Pool) handToWaiterLocked(w *worker) bool {
	if len(p.waiters) == 0 {
		return false
	}
	wt := p.waiters[0]
	p.waiters = p.waiters[1:]
	w.setState(stateBusy)
	p.busy[w] = struct{}{}
	wt.ch <- waiterMsg{w: w}
	return true
}

// wakeOneLocked tells the oldest waiter to retry because capacity was
// freed without a live worker to hand over. Caller must hold mu.
func (p *Pool) wakeOneLocked() {
	if len(p.waiters) == 0 {
		return
	}
	wt := p.waiters[0]
	p.waiters = p.waiters[1:]
	wt.ch <- waiterMsg{}
}

// unregisterWaiter removes an abandoned waiter from the queue. If a message
// raced with the abandonment it is recovered, not dropped: a delivered
// worker is re-parked and a retry wake is passed to the next waiter, so the
// freed slot stays visible to the rest of the queue.
func (p *Pool) unregisterWaiter(wt *waiter) {
	p.mu.Lock()
	for i, x := range p.waiters {
		if x == wt {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			p.mu.Unlock()
			return
		}
	}
	p.mu.Unlock()

	select {
	case msg := <-wt.ch:
		switch {
		case msg.w != nil:
			p.mu.Lock()
			delete(p.busy, msg.w)
			p.parkLocked(msg.w)
		case msg.err == nil:
			p.mu.Lock()
			p.wakeOneLocked()
			p.mu.Unlock()
		}
	default:
	}
}

// Checkin returns a checked-out worker to the pool. The ticket is
// redeemable exactly once; a second checkin of the same ticket, or a
// ticket from another pool, returns ErrInvalidTicket.
//
// If an on-return hook is configured it runs first, under its own timeout.
// A worker whose hook fails is destroyed and its slot freed; the
// replacement is started lazily by a later checkout.
func (p *Pool) Checkin(t *Ticket) error {
	if t == nil || t.pool != p {
		return errors.WithContext(errors.ErrInvalidTicket, "ticket does not belong to this pool")
	}
	if !t.redeem() {
		return errors.WithContext(errors.ErrInvalidTicket, "ticket already redeemed")
	}

	w := t.worker
	p.mu.Lock()
	if _, ok := p.busy[w]; !ok {
		// A drain timeout force-closes busy workers; a holder's late
		// checkin then finds its worker already gone.
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return errors.WithContextf(errors.ErrPoolClosed, "pool %q", p.cfg.Name)
		}
		return errors.WithContext(errors.ErrInvalidTicket, "worker is not checked out")
	}
	delete(p.busy, w)
	w.setState(stateReturning)
	hook := p.cfg.OnReturn
	skipHook := w.doomed || p.draining || p.closed
	p.mu.Unlock()

	atomic.AddUint64(&p.checkins, 1)
	p.metrics.checkins.Inc()

	if hook != nil && !skipHook {
		if err := w.runOnReturn(hook, p.cfg.OnReturnTimeout); err != nil {
			atomic.AddUint64(&p.resetFailures, 1)
			p.metrics.resetFailures.Inc()
			log.WithError(err).
				WithField("pool", p.cfg.Name).
				WithField("worker", w.id).
				Warn("on-return hook failed, destroying worker")
			w.stop()
			p.mu.Lock()
			p.wakeOneLocked()
			p.maybeFinishDrainLocked()
			p.mu.Unlock()
			p.updateGauges()
			return nil
		}
	}

	p.mu.Lock()
	p.parkLocked(w)
	p.updateGauges()
	return nil
}

// parkLocked puts a returning worker back into service: stops it when the
// pool is draining, closed, doomed by a shrink, or over its max size;
// otherwise hands it to the oldest waiter or parks it idle. Caller must
// hold mu with w already removed from busy; the lock is released before
// returning.
func (p *Pool) parkLocked(w *worker) {
	if p.draining || p.closed {
		w.setState(stateStopping)
		p.maybeFinishDrainLocked()
		p.mu.Unlock()
		w.stop()
		return
	}
	if w.doomed || p.sizeLocked() >= p.cfg.MaxSize {
		w.setState(stateStopping)
		p.wakeOneLocked()
		p.mu.Unlock()
		w.stop()
		return
	}
	if p.handToWaiterLocked(w) {
		p.mu.Unlock()
		return
	}
	w.setState(stateIdle)
	p.idle = append(p.idle, w)
	p.mu.Unlock()
}

// reclaimAbandoned destroys the worker behind an outstanding ticket whose
// linked context was canceled. See Ticket.AttachContext.
func (p *Pool) reclaimAbandoned(t *Ticket) {
	if !t.redeem() {
		return
	}
	w := t.worker
	p.mu.Lock()
	if _, ok := p.busy[w]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.busy, w)
	w.setState(stateStopping)
	p.wakeOneLocked()
	p.maybeFinishDrainLocked()
	p.mu.Unlock()
	w.stop()
	log.WithField("pool", p.cfg.Name).
		WithField("worker", w.id).
		Warn("reclaimed abandoned checkout")
	p.updateGauges()
}

// Resize adjusts the pool bounds. Growth is lazy: new workers start on
// demand at the next checkouts. Shrink stops excess idle workers
// immediately and marks excess busy workers for stop at their next
// checkin; an in-flight checkout is never interrupted.
func (p *Pool) Resize(newMin, newMax int) error {
	if newMax <= 0 || newMin < 0 || newMin > newMax {
		return errors.WithContextf(errors.ErrConfiguration,
			"pool %q: invalid bounds [%d, %d]", p.cfg.Name, newMin, newMax)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.WithContextf(errors.ErrPoolClosed, "pool %q", p.cfg.Name)
	}
	p.cfg.MinSize = newMin
	p.cfg.MaxSize = newMax

	var toStop []*worker
	for p.sizeLocked() > newMax && len(p.idle) > 0 {
		w := p.idle[0]
		p.idle = p.idle[1:]
		w.setState(stateStopping)
		toStop = append(toStop, w)
	}
	excess := p.sizeLocked() - newMax
	for w := range p.busy {
		if excess <= 0 {
			break
		}
		if !w.doomed {
			w.doomed = true
			excess--
		}
	}
	p.mu.Unlock()

	for _, w := range toStop {
		w.stop()
	}
	p.metrics.maxSize.Set(int64(newMax))
	p.updateGauges()
	log.WithField("pool", p.cfg.Name).
		WithField("minSize", newMin).
		WithField("maxSize", newMax).
		Info("pool resized")
	return nil
}

// Drain stops accepting new checkouts, fails queued waiters, waits for all
// busy workers to be checked in, then stops every worker. Busy workers not
// returned before ctx ends are force-closed and ErrTimeout is returned.
func (p *Pool) Drain(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return errors.WithContextf(errors.ErrPoolClosed, "pool %q", p.cfg.Name)
	}
	p.draining = true
	waiters := p.waiters
	p.waiters = nil
	idle := p.idle
	p.idle = nil
	for _, w := range idle {
		w.setState(stateStopping)
	}
	p.maybeFinishDrainLocked()
	done := p.drainDone
	p.mu.Unlock()

	for _, wt := range waiters {
		wt.ch <- waiterMsg{err: errors.WithContextf(errors.ErrDraining, "pool %q", p.cfg.Name)}
	}
	for _, w := range idle {
		w.stop()
	}
	p.updateGauges()

	select {
	case <-done:
	case <-ctx.Done():
		p.mu.Lock()
		var stragglers []*worker
		for w := range p.busy {
			w.setState(stateStopping)
			stragglers = append(stragglers, w)
			delete(p.busy, w)
		}
		p.closed = true
		p.finishDrainLocked()
		p.mu.Unlock()
		for _, w := range stragglers {
			w.stop()
		}
		removePoolSeries(p.cfg.Name)
		log.WithField("pool", p.cfg.Name).
			WithField("forceClosed", len(stragglers)).
			Warn("drain timed out, busy workers force-closed")
		return errors.WithContextf(errors.ErrTimeout, "drain pool %q", p.cfg.Name)
	}

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	removePoolSeries(p.cfg.Name)
	log.WithField("pool", p.cfg.Name).Info("pool drained")
	return nil
}

// Close drains the pool under the configured DrainTimeout.
func (p *Pool) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.DrainTimeout)
	defer cancel()
	return p.Drain(ctx)
}

func (p *Pool) finishDrainLocked() {
	if !p.drainSignaled {
		p.drainSignaled = true
		close(p.drainDone)
	}
}

func (p *Pool) maybeFinishDrainLocked() {
	if p.draining && len(p.busy) == 0 {
		p.finishDrainLocked()
	}
}

// fillToMin eagerly starts workers up to MinSize. Runs once at creation;
// the first connect failure stops the fill, leaving lazy refill to later
// checkouts.
func (p *Pool) fillToMin() {
	for {
		p.mu.Lock()
		if p.closed || p.draining || p.sizeLocked() >= p.cfg.MinSize {
			p.mu.Unlock()
			return
		}
		id := p.nextID
		p.nextID++
		p.starting++
		p.mu.Unlock()

		w, err := p.spawn(context.Background(), id)

		p.mu.Lock()
		p.starting--
		if err != nil {
			p.mu.Unlock()
			log.WithError(err).
				WithField("pool", p.cfg.Name).
				Warn("eager fill connect failed, pool will refill lazily")
			p.updateGauges()
			return
		}
		if p.closed || p.draining {
			p.mu.Unlock()
			w.stop()
			return
		}
		if !p.handToWaiterLocked(w) {
			w.setState(stateIdle)
			p.idle = append(p.idle, w)
		}
		p.mu.Unlock()
		p.updateGauges()
	}
}

// Stats is a point-in-time snapshot of pool state and cumulative counters.
type Stats struct {
	// Name is the pool name.
	Name string
	// MinSize is the configured minimum size.
	MinSize int
	// MaxSize is the configured maximum size.
	MaxSize int
	// Idle is the number of idle workers.
	Idle int
	// Busy is the number of checked-out workers.
	Busy int
	// Starting is the number of workers being connected.
	Starting int
	// Waiting is the number of queued checkouts.
	Waiting int

	// Checkouts is the total number of successful checkouts.
	Checkouts uint64
	// CheckoutFailures is the total number of failed checkouts.
	CheckoutFailures uint64
	// Checkins is the total number of checkins.
	Checkins uint64
	// Timeouts is the total number of checkout timeouts.
	Timeouts uint64
	// ResetFailures is the total number of failed on-return hooks.
	ResetFailures uint64
	// ConnectFailures is the total number of failed connect attempts.
	ConnectFailures uint64
}

// Stats returns current pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Name:             p.cfg.Name,
		MinSize:          p.cfg.MinSize,
		MaxSize:          p.cfg.MaxSize,
		Idle:             len(p.idle),
		Busy:             len(p.busy),
		Starting:         p.starting,
		Waiting:          len(p.waiters),
		Checkouts:        atomic.LoadUint64(&p.checkouts),
		CheckoutFailures: atomic.LoadUint64(&p.checkoutFailures),
		Checkins:         atomic.LoadUint64(&p.checkins),
		Timeouts:         atomic.LoadUint64(&p.timeouts),
		ResetFailures:    atomic.LoadUint64(&p.resetFailures),
		ConnectFailures:  atomic.LoadUint64(&p.connectFailures),
	}
}

func (p *Pool) updateGauges() {
	s := p.Stats()
	p.metrics.idle.Set(int64(s.Idle))
	p.metrics.busy.Set(int64(s.Busy))
	p.metrics.starting.Set(int64(s.Starting))
	p.metrics.waiting.Set(int64(s.Waiting))
}
