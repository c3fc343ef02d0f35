package pool

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeConn is a controllable stand-in for a physical connection.
type fakeConn struct {
	mu          sync.Mutex
	validateErr error
	resetErr    error
	resetHook   func()
	closed      bool
	closeCount  int
	validations int
	resets      int
}

func (c *fakeConn) Validate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.validations++
	if c.closed {
		return errors.New("validate on closed conn")
	}
	return c.validateErr
}

func (c *fakeConn) Reset(context.Context) error {
	c.mu.Lock()
	c.resets++
	hook := c.resetHook
	err := c.resetErr
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeCount++
	return nil
}

func (c *fakeConn) failValidation(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fail {
		c.validateErr = errors.New("injected validation failure")
	} else {
		c.validateErr = nil
	}
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeConnector opens fakeConns and remembers every one it handed out.
type fakeConnector struct {
	mu      sync.Mutex
	openErr error
	opened  int
	conns   []*fakeConn
}

func (f *fakeConnector) Open(context.Context) (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.opened++
	c := &fakeConn{}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeConnector) failOpens(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErr = err
}

func (f *fakeConnector) failAllValidations(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.conns {
		c.failValidation(fail)
	}
}

func (f *fakeConnector) openedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

// manualClock is a Clock whose time only moves when a test advances it.
// Its tickers never fire; tests drive sweeps by calling sweepOnce directly.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *manualClock) NewTicker(time.Duration) Ticker {
	return &manualTicker{ch: make(chan time.Time)}
}

type manualTicker struct {
	ch chan time.Time
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }
func (t *manualTicker) Stop()               {}

// testConfig returns a small pool configuration with the background sweep
// disabled so tests drive sweeps deterministically.
func testConfig(min, max int) Config {
	return Config{
		Name:           "test",
		MinSize:        min,
		MaxSize:        max,
		AcquireTimeout: time.Second,
		SweepInterval:  -1,
	}
}

func mustPool(cfg Config, f *fakeConnector, clock Clock) (*Pool, error) {
	return New(context.Background(), cfg, f, WithClock(clock))
}
