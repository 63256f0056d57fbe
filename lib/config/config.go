// Package config provides the static startup configuration for connkeeper.
// Self-managed pools are declared here, keyed by pool name; the registry
// registers one pool per entry at process startup. Validation happens at
// load time, never lazily.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/connkeeper/connkeeper/lib/client"
	"github.com/connkeeper/connkeeper/lib/errors"
	"github.com/connkeeper/connkeeper/lib/pool"
)

// Default configuration values
const (
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
	DefaultMetricsListen = "127.0.0.1:9465"
)

// Config holds all configuration for a connkeeper process.
type Config struct {
	Log     LogConfig          `toml:"log"`
	Metrics MetricsConfig      `toml:"metrics"`
	Pools   map[string]PoolDef `toml:"pools"`
}

// LogConfig controls process logging.
type LogConfig struct {
	// Level is the logrus level name (debug, info, warn, error).
	Level string `toml:"level"`
	// Format is "text" or "json".
	Format string `toml:"format"`
}

// MetricsConfig controls the metrics HTTP endpoint.
type MetricsConfig struct {
	// Enabled turns the endpoint on.
	Enabled bool `toml:"enabled"`
	// Listen is the host:port to serve /metrics on.
	Listen string `toml:"listen"`
}

// PoolDef declares one self-managed pool: its bounds plus the connection
// parameters its workers use.
type PoolDef struct {
	// MinSize is the number of workers started eagerly.
	MinSize int `toml:"min_size"`
	// MaxSize is the maximum number of workers.
	MaxSize int `toml:"max_size"`
	// CheckoutTimeout bounds checkouts without their own deadline.
	CheckoutTimeout time.Duration `toml:"checkout_timeout"`
	// ResetOnReturn installs the client session reset as the on-return hook.
	ResetOnReturn bool `toml:"reset_on_return"`
	// OnReturnTimeout bounds each on-return hook invocation.
	OnReturnTimeout time.Duration `toml:"on_return_timeout"`
	// ConnectRetries is the bounded connect retry count during checkout.
	ConnectRetries int `toml:"connect_retries"`
	// DrainTimeout bounds pool shutdown.
	DrainTimeout time.Duration `toml:"drain_timeout"`

	// Driver selects the database client ("postgres" or "mysql").
	Driver string `toml:"driver"`
	// Host is the database server host.
	Host string `toml:"host"`
	// Port is the database server port.
	Port int `toml:"port"`
	// User is the database user name.
	User string `toml:"user"`
	// Password is the database password.
	Password string `toml:"password"`
	// Database is the database name.
	Database string `toml:"database"`
	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration `toml:"connect_timeout"`
	// Statements declares server-side prepared statements (name -> SQL).
	Statements map[string]string `toml:"statements"`
}

// DefaultConfig returns a configuration with no pools and default
// operational settings.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  DefaultMetricsListen,
		},
		Pools: make(map[string]PoolDef),
	}
}

// Load reads configuration from a TOML file.
// If the file doesn't exist, it returns the default configuration.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to a TOML file.
func Save(cfg *Config, path string) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks the configuration for errors. Each pool definition is
// validated through the same paths the registry uses, so a bad definition
// fails at load time rather than at first checkout.
func (c *Config) Validate() error {
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return errors.WithContextf(errors.ErrConfiguration, "log.format %q", c.Log.Format)
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return errors.WithContext(errors.ErrConfiguration, "metrics.listen is required when metrics are enabled")
	}
	for name, def := range c.Pools {
		if err := def.PoolConfig(name).Validate(); err != nil {
			return err
		}
		if err := def.ClientParams().WithDefaults().Validate(); err != nil {
			return errors.WithContextf(err, "pool %q", name)
		}
	}
	return nil
}

// PoolConfig converts a definition into a pool configuration.
func (d PoolDef) PoolConfig(name string) pool.Config {
	cfg := pool.DefaultConfig()
	cfg.Name = name
	cfg.MinSize = d.MinSize
	if d.MaxSize > 0 {
		cfg.MaxSize = d.MaxSize
	}
	if d.CheckoutTimeout > 0 {
		cfg.CheckoutTimeout = d.CheckoutTimeout
	}
	if d.OnReturnTimeout > 0 {
		cfg.OnReturnTimeout = d.OnReturnTimeout
	}
	if d.ConnectRetries > 0 {
		cfg.ConnectRetries = d.ConnectRetries
	}
	if d.DrainTimeout > 0 {
		cfg.DrainTimeout = d.DrainTimeout
	}
	if d.ResetOnReturn {
		cfg.OnReturn = pool.ResetOnReturn
	}
	return cfg
}

// ClientParams converts a definition into client connection parameters.
func (d PoolDef) ClientParams() client.Params {
	return client.Params{
		Driver:         d.Driver,
		Host:           d.Host,
		Port:           d.Port,
		User:           d.User,
		Password:       d.Password,
		Database:       d.Database,
		ConnectTimeout: d.ConnectTimeout,
		Statements:     d.Statements,
	}
}
