// Package testutil provides a scriptable fake database client for pool and
// registry tests, so no real database server is needed.
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/connkeeper/connkeeper/lib/client"
	"github.com/connkeeper/connkeeper/lib/errors"
)

// FakeConnector implements client.Connector against in-memory FakeConns.
// Failures are scripted: set FailNext to make the next N connects fail, or
// ConnectErr to fail every connect.
type FakeConnector struct {
	mu           sync.Mutex
	nextID       int
	conns        []*FakeConn
	connectCalls int

	// FailNext makes the next N Connect calls fail.
	FailNext int
	// ConnectErr, if set, fails every Connect.
	ConnectErr error
	// ConnectDelay is slept before each connect completes.
	ConnectDelay time.Duration
	// OnConnect, if set, customizes each new FakeConn.
	OnConnect func(*FakeConn)
}

// NewFakeConnector creates a connector with no scripted failures.
func NewFakeConnector() *FakeConnector {
	return &FakeConnector{}
}

// Name identifies the connector in logs.
func (f *FakeConnector) Name() string {
	return "fake"
}

// Connect opens a new fake connection, honoring scripted failures.
func (f *FakeConnector) Connect(ctx context.Context) (client.Conn, error) {
	f.mu.Lock()
	f.connectCalls++
	if f.ConnectErr != nil {
		err := f.ConnectErr
		f.mu.Unlock()
		return nil, errors.WithContext(errors.ErrConnectFailed, err.Error())
	}
	if f.FailNext > 0 {
		f.FailNext--
		f.mu.Unlock()
		return nil, errors.WithContext(errors.ErrConnectFailed, "scripted connect failure")
	}
	f.nextID++
	c := &FakeConn{ID: f.nextID}
	if f.OnConnect != nil {
		f.OnConnect(c)
	}
	f.conns = append(f.conns, c)
	delay := f.ConnectDelay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, errors.WithContext(errors.ErrConnectFailed, ctx.Err().Error())
		}
	}
	return c, nil
}

// ConnectCalls returns how many times Connect was called.
func (f *FakeConnector) ConnectCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connectCalls
}

// Conns returns every connection the connector ever opened.
func (f *FakeConnector) Conns() []*FakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FakeConn(nil), f.conns...)
}

// OpenCount returns the number of not-yet-closed connections.
func (f *FakeConnector) OpenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.conns {
		if !c.IsClosed() {
			n++
		}
	}
	return n
}

// FakeConn implements client.Conn in memory, recording every interaction.
type FakeConn struct {
	ID int

	mu         sync.Mutex
	closed     bool
	inTx       bool
	statements []string
	commits    int
	rollbacks  int
	resets     int

	// ResetErr, if set, fails every Reset call.
	ResetErr error
	// BeginErr, if set, fails every Begin call.
	BeginErr error
	// CommitErr, if set, fails every Commit call.
	CommitErr error
	// ResetDelay is slept inside Reset, for hook timeout tests.
	ResetDelay time.Duration
	// ExecErr, if set, fails every Exec call.
	ExecErr error
	// QueryErr, if set, fails every Query call.
	QueryErr error
	// PingErr, if set, fails every Ping call.
	PingErr error
	// QueryRows is returned from Query when set.
	QueryRows *FakeRows
}

func (c *FakeConn) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ExecErr != nil {
		return 0, c.ExecErr
	}
	c.statements = append(c.statements, sql)
	return 1, nil
}

func (c *FakeConn) Query(ctx context.Context, sql string, args ...any) (client.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.QueryErr != nil {
		return nil, c.QueryErr
	}
	c.statements = append(c.statements, sql)
	if c.QueryRows != nil {
		return c.QueryRows, nil
	}
	return &FakeRows{}, nil
}

func (c *FakeConn) Begin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.BeginErr != nil {
		return c.BeginErr
	}
	c.inTx = true
	return nil
}

func (c *FakeConn) Commit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.CommitErr != nil {
		return c.CommitErr
	}
	c.inTx = false
	c.commits++
	return nil
}

func (c *FakeConn) Rollback(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inTx = false
	c.rollbacks++
	return nil
}

func (c *FakeConn) Reset(ctx context.Context) error {
	c.mu.Lock()
	delay := c.ResetDelay
	c.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resets++
	if c.ResetErr != nil {
		return c.ResetErr
	}
	return nil
}

func (c *FakeConn) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.PingErr
}

func (c *FakeConn) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (c *FakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// InTx reports whether a transaction is open.
func (c *FakeConn) InTx() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inTx
}

// Statements returns every statement run on this connection.
func (c *FakeConn) Statements() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.statements...)
}

// Commits returns the number of committed transactions.
func (c *FakeConn) Commits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commits
}

// Rollbacks returns the number of rolled-back transactions.
func (c *FakeConn) Rollbacks() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rollbacks
}

// Resets returns the number of Reset calls.
func (c *FakeConn) Resets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resets
}

// FakeRows implements client.Rows over an in-memory table.
type FakeRows struct {
	Data   [][]any
	cursor int
	closed bool
}

func (r *FakeRows) Next() bool {
	if r.cursor >= len(r.Data) {
		return false
	}
	r.cursor++
	return true
}

func (r *FakeRows) Scan(dest ...any) error {
	if r.cursor == 0 || r.cursor > len(r.Data) {
		return errors.New(errors.CodeInternal, "scan without next")
	}
	row := r.Data[r.cursor-1]
	for i, d := range dest {
		if i >= len(row) {
			break
		}
		p, ok := d.(*any)
		if !ok {
			return errors.New(errors.CodeInternal, "fake rows scan only into *any")
		}
		*p = row[i]
	}
	return nil
}

func (r *FakeRows) Err() error {
	return nil
}

func (r *FakeRows) Close() {
	r.closed = true
}

// IsClosed reports whether Close was called.
func (r *FakeRows) IsClosed() bool {
	return r.closed
}
