package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/connkeeper/connkeeper/lib/client"
	"github.com/connkeeper/connkeeper/lib/errors"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	require.Equal(t, DefaultLogLevel, cfg.Log.Level)
	require.Equal(t, DefaultMetricsListen, cfg.Metrics.Listen)
	require.True(t, cfg.Metrics.Enabled)
	require.Empty(t, cfg.Pools)
}

func TestLoad_ParsesPools(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[log]
level = "debug"
format = "json"

[metrics]
enabled = false

[pools.orders]
driver = "postgres"
host = "db1.internal"
port = 5433
user = "orders"
password = "secret"
database = "orders"
min_size = 2
max_size = 8
checkout_timeout = 3000000000
reset_on_return = true
connect_retries = 4

[pools.orders.statements]
get_order = "select * from orders where id = $1"

[pools.sessions]
driver = "mysql"
database = "sessions"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "json", cfg.Log.Format)
	require.False(t, cfg.Metrics.Enabled)
	require.Len(t, cfg.Pools, 2)

	orders := cfg.Pools["orders"]
	require.Equal(t, 2, orders.MinSize)
	require.Equal(t, 8, orders.MaxSize)
	require.Equal(t, 3*time.Second, orders.CheckoutTimeout)
	require.Equal(t, 4, orders.ConnectRetries)
	require.True(t, orders.ResetOnReturn)
	require.Equal(t, "db1.internal", orders.Host)
	require.Equal(t, map[string]string{"get_order": "select * from orders where id = $1"}, orders.Statements)

	pc := orders.PoolConfig("orders")
	require.Equal(t, "orders", pc.Name)
	require.Equal(t, 8, pc.MaxSize)
	require.NotNil(t, pc.OnReturn)

	params := orders.ClientParams()
	require.Equal(t, client.DriverPostgres, params.Driver)
	require.Equal(t, "db1.internal:5433", params.Addr())
}

func TestLoad_RejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[pools.bad]
driver = "oracle"
database = "x"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	_, err := Load(path)
	require.Error(t, err)
	require.ErrorIs(t, err, errors.ErrConfiguration)
}

func TestLoad_RejectsMalformedTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[pools\n"), 0600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := DefaultConfig()
	cfg.Log.Level = "warn"
	cfg.Pools["orders"] = PoolDef{
		Driver:   client.DriverPostgres,
		Database: "orders",
		MaxSize:  4,
	}
	require.NoError(t, Save(cfg, path))

	got, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "warn", got.Log.Level)
	require.Equal(t, 4, got.Pools["orders"].MaxSize)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Log.Format = "xml"
	require.ErrorIs(t, cfg.Validate(), errors.ErrConfiguration)

	cfg = DefaultConfig()
	cfg.Metrics.Listen = ""
	require.ErrorIs(t, cfg.Validate(), errors.ErrConfiguration)

	cfg = DefaultConfig()
	cfg.Pools["bad"] = PoolDef{Database: "x", MinSize: 9, MaxSize: 2}
	require.ErrorIs(t, cfg.Validate(), errors.ErrConfiguration)

	cfg = DefaultConfig()
	cfg.Pools["bad"] = PoolDef{}
	require.ErrorIs(t, cfg.Validate(), errors.ErrConfiguration)
}

func TestPoolDef_PoolConfigDefaults(t *testing.T) {
	pc := PoolDef{Database: "x"}.PoolConfig("x")
	require.Equal(t, 10, pc.MaxSize)
	require.Equal(t, 5*time.Second, pc.CheckoutTimeout)
	require.Nil(t, pc.OnReturn)
}
