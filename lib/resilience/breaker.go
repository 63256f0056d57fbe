// Package resilience provides the circuit breaker guarding database
// connection establishment.
//
// When a database is down, every checkout that tries to spawn a worker
// would otherwise pay the full connect timeout. The breaker detects the
// failure pattern and fails those spawn attempts fast until the database
// recovers.
//
// State transitions:
//
//	Closed (normal) -> Open (failing) -> HalfOpen (testing) -> Closed
//	                     ^                    |
//	                     +--------------------+ (if test fails)
package resilience

import (
	"context"
	"sync"
	"time"
)

// State represents the state of the circuit breaker.
type State int

const (
	// Closed is the normal operating state - connects pass through.
	Closed State = iota
	// Open means the circuit is tripped - connects fail immediately.
	Open
	// HalfOpen means the circuit is testing if the database recovered.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config configures the circuit breaker behavior.
type Config struct {
	// FailureThreshold is the number of consecutive connect failures
	// before opening the circuit.
	FailureThreshold int
	// SuccessThreshold is the number of successes in half-open state
	// before closing the circuit.
	SuccessThreshold int
	// OpenTimeout is the duration to wait before transitioning from open
	// to half-open.
	OpenTimeout time.Duration
	// MaxHalfOpenProbes is the maximum number of connect attempts allowed
	// in half-open state.
	MaxHalfOpenProbes int
}

// DefaultConfig returns sensible defaults for database connects.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:  5,
		SuccessThreshold:  1,
		OpenTimeout:       10 * time.Second,
		MaxHalfOpenProbes: 2,
	}
}

// Breaker implements the circuit breaker pattern for connect attempts.
type Breaker struct {
	mu     sync.RWMutex
	config Config
	name   string

	state State

	failureCount int
	successCount int
	probeCount   int

	lastFailureTime time.Time
	openedAt        time.Time
}

// NewBreaker creates a circuit breaker named after its pool.
func NewBreaker(name string, cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.MaxHalfOpenProbes <= 0 {
		cfg.MaxHalfOpenProbes = def.MaxHalfOpenProbes
	}

	return &Breaker{
		config: cfg,
		name:   name,
		state:  Closed,
	}
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.state == Open && time.Since(b.openedAt) >= b.config.OpenTimeout {
		return HalfOpen
	}
	return b.state
}

// Allow checks if a connect attempt should be allowed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.openedAt) >= b.config.OpenTimeout {
			b.transitionTo(HalfOpen)
			b.probeCount = 1
			return true
		}
		return false
	case HalfOpen:
		if b.probeCount < b.config.MaxHalfOpenProbes {
			b.probeCount++
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess records a successful connect.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failureCount = 0
	case HalfOpen:
		b.successCount++
		if b.successCount >= b.config.SuccessThreshold {
			b.transitionTo(Closed)
		}
	}
}

// RecordFailure records a failed connect.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureTime = time.Now()

	switch b.state {
	case Closed:
		b.failureCount++
		if b.failureCount >= b.config.FailureThreshold {
			b.transitionTo(Open)
		}
	case HalfOpen:
		b.transitionTo(Open)
	}
}

// transitionTo changes the circuit state. Must be called with the lock held.
func (b *Breaker) transitionTo(newState State) {
	if b.state == newState {
		return
	}

	oldState := b.state
	b.state = newState

	switch newState {
	case Closed:
		b.failureCount = 0
		b.successCount = 0
	case Open:
		b.openedAt = time.Now()
		b.successCount = 0
	case HalfOpen:
		b.successCount = 0
		b.probeCount = 0
	}

	log.WithField("circuit", b.name).
		WithField("from", oldState.String()).
		WithField("to", newState.String()).
		Info("circuit breaker state transition")
}

// Execute runs the given connect function if the circuit allows it.
// Returns ErrCircuitOpen if the circuit rejects the attempt. Context
// cancellation is not counted as a connect failure.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if !b.Allow() {
		return ErrCircuitOpen
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	err := fn(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.RecordFailure()
		return err
	}

	b.RecordSuccess()
	return nil
}

// Reset resets the circuit breaker to its initial closed state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = Closed
	b.failureCount = 0
	b.successCount = 0
	b.probeCount = 0
	b.openedAt = time.Time{}
}

// Name returns the name of this circuit breaker.
func (b *Breaker) Name() string {
	return b.name
}
