// Package pool implements an adaptive connection pool for expensive,
// long-lived backing-store connections. It hands out healthy connections
// within a bounded wait, keeps the live connection count matched to demand
// via a predictive scaling controller, replaces connections that are slow,
// erroring or stale, and sheds load through a circuit breaker when the
// backing store itself is degraded.
package pool

import "time"

// ConnState is the lifecycle state of a pooled connection.
type ConnState int

const (
	// StateAvailable means the connection sits in the pool, ready for loan.
	StateAvailable ConnState = iota
	// StateInUse means a caller holds exclusive ownership of the handle.
	StateInUse
	// StatePendingRecycle marks an in-use connection for closure at release.
	StatePendingRecycle
	// StateClosed is terminal; a closed record never re-enters the pool.
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateAvailable:
		return "available"
	case StateInUse:
		return "in_use"
	case StatePendingRecycle:
		return "pending_recycle"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PooledConn wraps a physical connection with the metadata the pool needs to
// manage it. All mutable fields are guarded by the owning Pool's mutex; the
// pool is the sole writer of state. Callers only ever read the immutable
// identity fields and the Conn handle they were loaned.
type PooledConn struct {
	id       uint64
	poolName string
	conn     Conn

	state      ConnState
	createdAt  time.Time
	lastUsedAt time.Time

	// recycleReason is set when the recycler flags this connection, so the
	// eventual close can be attributed in logs and metrics.
	recycleReason string

	stats *connStats
}

func newPooledConn(id uint64, poolName string, conn Conn, now time.Time) *PooledConn {
	return &PooledConn{
		id:         id,
		poolName:   poolName,
		conn:       conn,
		state:      StateAvailable,
		createdAt:  now,
		lastUsedAt: now,
		stats:      newConnStats(),
	}
}

// ID returns the connection's unique identifier, stable for its lifetime.
func (c *PooledConn) ID() uint64 { return c.id }

// Conn returns the underlying handle. Valid only between Acquire and Release.
func (c *PooledConn) Conn() Conn { return c.conn }

// CreatedAt returns when the physical connection was established.
func (c *PooledConn) CreatedAt() time.Time { return c.createdAt }

// age is the connection's lifetime as of now. Caller holds the pool lock.
func (c *PooledConn) age(now time.Time) time.Duration {
	return now.Sub(c.createdAt)
}

// idle is how long the connection has sat unused. Caller holds the pool lock.
func (c *PooledConn) idle(now time.Time) time.Duration {
	return now.Sub(c.lastUsedAt)
}
