package pool

import (
	"errors"
	"fmt"
	"time"
)

// ErrPoolClosed is returned by Acquire and Release after Shutdown has begun.
var ErrPoolClosed = errors.New("pool closed")

// TimeoutError is returned when no connection became available within the
// caller's acquire budget. The embedded snapshot lets callers log pool state
// without a second call.
type TimeoutError struct {
	Pool    string
	Waited  time.Duration
	Timeout time.Duration
	Stats   Stats
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("pool %s: acquire timeout after %v (budget %v, in_use=%d, available=%d, waiters=%d)",
		e.Pool, e.Waited, e.Timeout, e.Stats.InUse, e.Stats.Available, e.Stats.Waiters)
}

// CircuitOpenError is returned when the circuit breaker has tripped and the
// pool refuses service without waiting. Callers should back off longer than
// they would for a plain timeout.
type CircuitOpenError struct {
	Pool  string
	Stats Stats
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("pool %s: circuit open, refusing acquire (size=%d)", e.Pool, e.Stats.Size)
}

// CreationError wraps a failure to open a new physical connection. It is
// surfaced to a caller only when no alternative connection materialized
// before the acquire budget ran out.
type CreationError struct {
	Pool string
	Err  error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("pool %s: opening connection: %v", e.Pool, e.Err)
}

func (e *CreationError) Unwrap() error { return e.Err }
