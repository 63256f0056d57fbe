package pool

import (
	"context"
	"time"

	"github.com/connkeeper/connkeeper/lib/client"
	"github.com/connkeeper/connkeeper/lib/errors"
	"github.com/connkeeper/connkeeper/lib/resilience"
)

// OnReturnHook is a caller-supplied function run against the raw connection
// when a worker is checked back in, typically to reset session state. The
// hook runs under its own timeout; if it fails or times out the worker is
// destroyed rather than returned to the idle set.
type OnReturnHook func(ctx context.Context, conn client.Conn) error

// ResetOnReturn is an OnReturnHook that calls the client's session reset.
func ResetOnReturn(ctx context.Context, conn client.Conn) error {
	return conn.Reset(ctx)
}

// Config configures a pool. Validation happens at pool-creation time, never
// lazily.
type Config struct {
	// Name identifies the pool in the registry, logs, and metrics.
	Name string
	// MinSize is the number of workers started eagerly at pool creation.
	// After creation the pool refills lazily on checkout.
	// Default: 0
	MinSize int
	// MaxSize is the maximum number of workers (idle + busy + starting).
	// Default: 10
	MaxSize int
	// CheckoutTimeout bounds Checkout when the caller's context carries no
	// deadline of its own. A checkout never blocks forever.
	// Default: 5 seconds
	CheckoutTimeout time.Duration
	// OnReturn, if set, runs against the raw connection on every checkin.
	OnReturn OnReturnHook
	// OnReturnTimeout bounds each OnReturn invocation. The hook's timeout
	// is independent of any caller deadline.
	// Default: 5 seconds
	OnReturnTimeout time.Duration
	// ConnectRetries is how many times a failed connect during checkout is
	// retried before the failure surfaces to the caller.
	// Default: 2
	ConnectRetries int
	// DrainTimeout bounds Close. Busy workers not returned within it are
	// force-closed.
	// Default: 30 seconds
	DrainTimeout time.Duration
	// Breaker configures the circuit breaker guarding connects.
	Breaker resilience.Config
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxSize:         10,
		CheckoutTimeout: 5 * time.Second,
		OnReturnTimeout: 5 * time.Second,
		ConnectRetries:  2,
		DrainTimeout:    30 * time.Second,
		Breaker:         resilience.DefaultConfig(),
	}
}

// WithDefaults returns a copy of c with unset fields filled in.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.MaxSize == 0 {
		c.MaxSize = def.MaxSize
	}
	if c.CheckoutTimeout <= 0 {
		c.CheckoutTimeout = def.CheckoutTimeout
	}
	if c.OnReturnTimeout <= 0 {
		c.OnReturnTimeout = def.OnReturnTimeout
	}
	if c.ConnectRetries < 0 {
		c.ConnectRetries = def.ConnectRetries
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = def.DrainTimeout
	}
	return c
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Name == "" {
		return errors.WithContext(errors.ErrConfiguration, "pool name is required")
	}
	if c.MaxSize <= 0 {
		return errors.WithContextf(errors.ErrConfiguration, "pool %q: max size must be positive", c.Name)
	}
	if c.MinSize < 0 {
		return errors.WithContextf(errors.ErrConfiguration, "pool %q: min size must not be negative", c.Name)
	}
	if c.MinSize > c.MaxSize {
		return errors.WithContextf(errors.ErrConfiguration,
			"pool %q: min size %d exceeds max size %d", c.Name, c.MinSize, c.MaxSize)
	}
	return nil
}
