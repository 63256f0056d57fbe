package registry

import (
	"context"
	"time"

	"github.com/connkeeper/connkeeper/lib/client"
	"github.com/connkeeper/connkeeper/lib/pool"
)

// RestartPolicy says when an external supervisor should restart a pool.
type RestartPolicy string

const (
	// RestartPermanent pools are always restarted.
	RestartPermanent RestartPolicy = "permanent"
	// RestartTransient pools are restarted only after an abnormal exit.
	RestartTransient RestartPolicy = "transient"
	// RestartTemporary pools are never restarted.
	RestartTemporary RestartPolicy = "temporary"
)

// Spec is a declarative pool descriptor for embedding in an external
// supervision tree. The registry validates the configuration up front and
// supplies the start and stop functions, but never manages the pool's
// crash recovery; that is the supervisor's job.
type Spec struct {
	// Name is the pool name.
	Name string
	// Start creates the pool and registers it as externally supervised.
	Start func(ctx context.Context) (*pool.Pool, error)
	// Stop drains the pool and deregisters it.
	Stop func(ctx context.Context) error
	// Restart is the suggested restart policy.
	Restart RestartPolicy
	// ShutdownTimeout is how long the supervisor should allow Stop.
	ShutdownTimeout time.Duration
}

// ChildSpec produces a supervision descriptor for the given pool
// configuration. The configuration and connection parameters are validated
// immediately; the pool itself is not created until the supervisor calls
// Start.
func (r *Registry) ChildSpec(cfg pool.Config, params client.Params) (Spec, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return Spec{}, err
	}
	params = params.WithDefaults()
	if err := params.Validate(); err != nil {
		return Spec{}, err
	}

	return Spec{
		Name: cfg.Name,
		Start: func(ctx context.Context) (*pool.Pool, error) {
			return r.AddPool(cfg, params, ExternallySupervised)
		},
		Stop: func(ctx context.Context) error {
			return r.RemovePool(ctx, cfg.Name)
		},
		Restart:         RestartPermanent,
		ShutdownTimeout: cfg.DrainTimeout,
	}, nil
}
