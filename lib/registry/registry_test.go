package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/connkeeper/connkeeper/lib/client"
	"github.com/connkeeper/connkeeper/lib/config"
	"github.com/connkeeper/connkeeper/lib/errors"
	"github.com/connkeeper/connkeeper/lib/pool"
	"github.com/connkeeper/connkeeper/lib/testutil"
)

func addFakePool(t *testing.T, r *Registry, name string, mode Mode) (*pool.Pool, *testutil.FakeConnector) {
	t.Helper()
	fc := testutil.NewFakeConnector()
	p, err := r.AddPoolWithConnector(pool.Config{Name: name, MaxSize: 2}, fc, mode)
	require.NoError(t, err)
	return p, fc
}

func TestRegistry_AddAndLookup(t *testing.T) {
	r := New()
	p, _ := addFakePool(t, r, "orders", SelfManaged)

	got, err := r.Lookup("orders")
	require.NoError(t, err)
	require.Same(t, p, got)

	_, err = r.Lookup("missing")
	require.ErrorIs(t, err, errors.ErrPoolNotFound)
	require.True(t, errors.IsNotFound(err))
}

func TestRegistry_DuplicateNameRejected(t *testing.T) {
	r := New()
	addFakePool(t, r, "orders", SelfManaged)

	fc := testutil.NewFakeConnector()
	_, err := r.AddPoolWithConnector(pool.Config{Name: "orders", MaxSize: 2}, fc, SelfManaged)
	require.ErrorIs(t, err, errors.ErrDuplicatePool)
	require.ErrorIs(t, err, errors.ErrAlreadyExists)
}

func TestRegistry_RemovePool(t *testing.T) {
	r := New()
	_, fc := addFakePool(t, r, "orders", SelfManaged)

	// Park one worker so the drain has something to stop.
	tk, err := r.Checkout(context.Background(), "orders")
	require.NoError(t, err)
	require.NoError(t, r.Checkin(tk))

	require.NoError(t, r.RemovePool(context.Background(), "orders"))
	require.Equal(t, 0, fc.OpenCount())

	_, err = r.Lookup("orders")
	require.ErrorIs(t, err, errors.ErrPoolNotFound)

	err = r.RemovePool(context.Background(), "orders")
	require.ErrorIs(t, err, errors.ErrNotFound)
}

func TestRegistry_Names(t *testing.T) {
	r := New()
	addFakePool(t, r, "sessions", SelfManaged)
	addFakePool(t, r, "orders", SelfManaged)
	addFakePool(t, r, "users", ExternallySupervised)

	require.Equal(t, []string{"orders", "sessions", "users"}, r.Names())
}

func TestRegistry_Stats(t *testing.T) {
	r := New()
	addFakePool(t, r, "b", SelfManaged)
	addFakePool(t, r, "a", SelfManaged)

	tk, err := r.Checkout(context.Background(), "b")
	require.NoError(t, err)
	defer r.Checkin(tk)

	stats := r.Stats()
	require.Len(t, stats, 2)
	require.Equal(t, "a", stats[0].Name)
	require.Equal(t, "b", stats[1].Name)
	require.Equal(t, 1, stats[1].Busy)
}

func TestRegistry_NamedOps(t *testing.T) {
	r := New()
	_, fc := addFakePool(t, r, "orders", SelfManaged)

	affected, err := r.Exec(context.Background(), "orders", "update orders set shipped = true")
	require.NoError(t, err)
	require.EqualValues(t, 1, affected)

	err = r.Query(context.Background(), "orders", "select id from orders", func(rows client.Rows) error {
		return nil
	})
	require.NoError(t, err)

	err = r.Transaction(context.Background(), "orders", func(conn client.Conn) error {
		_, err := conn.Exec(context.Background(), "insert into orders default values")
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 1, fc.Conns()[0].Commits())

	err = r.With(context.Background(), "orders", func(conn client.Conn) error {
		return conn.Ping(context.Background())
	})
	require.NoError(t, err)

	tk, conn, err := r.GetConn(context.Background(), "orders")
	require.NoError(t, err)
	require.NotNil(t, conn)
	require.NoError(t, r.Checkin(tk))

	require.NoError(t, r.Resize("orders", 0, 5))
	stats := r.Stats()
	require.Equal(t, 5, stats[0].MaxSize)
}

func TestRegistry_NamedOpsUnknownPool(t *testing.T) {
	r := New()

	_, err := r.Checkout(context.Background(), "nope")
	require.ErrorIs(t, err, errors.ErrPoolNotFound)

	_, err = r.Exec(context.Background(), "nope", "select 1")
	require.ErrorIs(t, err, errors.ErrPoolNotFound)

	err = r.Query(context.Background(), "nope", "select 1", func(client.Rows) error { return nil })
	require.ErrorIs(t, err, errors.ErrPoolNotFound)

	err = r.Resize("nope", 0, 1)
	require.ErrorIs(t, err, errors.ErrPoolNotFound)

	require.ErrorIs(t, r.Checkin(nil), errors.ErrInvalidTicket)
}

func TestRegistry_CheckoutBlocksAtCapacityUntilCheckin(t *testing.T) {
	r := New()
	fc := testutil.NewFakeConnector()
	_, err := r.AddPoolWithConnector(pool.Config{Name: "p1", MinSize: 1, MaxSize: 2}, fc, SelfManaged)
	require.NoError(t, err)

	t1, err := r.Checkout(context.Background(), "p1")
	require.NoError(t, err)
	t2, err := r.Checkout(context.Background(), "p1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = r.Checkout(ctx, "p1")
	require.ErrorIs(t, err, errors.ErrTimeout)

	require.NoError(t, r.Checkin(t1))

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	t3, err := r.Checkout(ctx2, "p1")
	require.NoError(t, err)

	require.NoError(t, r.Checkin(t2))
	require.NoError(t, r.Checkin(t3))
	require.LessOrEqual(t, fc.OpenCount(), 2)
}

func TestRegistry_LoadConfig(t *testing.T) {
	r := New()
	cfg := config.DefaultConfig()
	cfg.Pools["orders"] = config.PoolDef{
		Driver:   client.DriverPostgres,
		Database: "orders",
		MaxSize:  3,
	}
	cfg.Pools["sessions"] = config.PoolDef{
		Driver:   client.DriverMySQL,
		Database: "sessions",
		User:     "app",
	}

	require.NoError(t, r.LoadConfig(cfg))
	require.Equal(t, []string{"orders", "sessions"}, r.Names())

	p, err := r.Lookup("orders")
	require.NoError(t, err)
	require.Equal(t, 3, p.Stats().MaxSize)
}

func TestRegistry_LoadConfigCollectsFailures(t *testing.T) {
	r := New()
	cfg := config.DefaultConfig()
	cfg.Pools["good"] = config.PoolDef{Database: "good"}
	cfg.Pools["bad"] = config.PoolDef{Driver: "oracle", Database: "bad"}

	err := r.LoadConfig(cfg)
	require.ErrorIs(t, err, errors.ErrConfiguration)

	// The good definition is registered despite the bad one.
	require.Equal(t, []string{"good"}, r.Names())
}

func TestRegistry_Shutdown(t *testing.T) {
	r := New()
	_, selfFC := addFakePool(t, r, "self", SelfManaged)
	extPool, extFC := addFakePool(t, r, "ext", ExternallySupervised)

	// Park a worker in each.
	for _, name := range []string{"self", "ext"} {
		tk, err := r.Checkout(context.Background(), name)
		require.NoError(t, err)
		require.NoError(t, r.Checkin(tk))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Shutdown(ctx))

	// Self-managed pools are drained; externally-supervised pools are only
	// deregistered and stay usable by their owner.
	require.Equal(t, 0, selfFC.OpenCount())
	require.Equal(t, 1, extFC.OpenCount())
	require.Empty(t, r.Names())

	tk, err := extPool.Checkout(context.Background())
	require.NoError(t, err)
	require.NoError(t, extPool.Checkin(tk))
	require.NoError(t, extPool.Close())

	// A closed registry rejects further use.
	require.ErrorIs(t, r.Shutdown(ctx), errors.ErrRegistryClosed)
	fc := testutil.NewFakeConnector()
	_, err = r.AddPoolWithConnector(pool.Config{Name: "late", MaxSize: 1}, fc, SelfManaged)
	require.ErrorIs(t, err, errors.ErrRegistryClosed)
}

func TestMode_String(t *testing.T) {
	require.Equal(t, "self-managed", SelfManaged.String())
	require.Equal(t, "externally-supervised", ExternallySupervised.String())
	require.Equal(t, "unknown", Mode(99).String())
}
