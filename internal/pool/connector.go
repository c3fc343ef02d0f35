package pool

import "context"

// Connector opens physical connections to the backing store. The pool never
// interprets query results; it only opens, validates, and closes.
type Connector interface {
	Open(ctx context.Context) (Conn, error)
}

// Conn is an opaque, stateful handle to the backing store. Validate must be
// a cheap round-trip check; Close must be idempotent.
type Conn interface {
	Validate(ctx context.Context) error
	Close() error
}

// SessionResetter is implemented by connections that carry session state
// which must be cleared before the connection is handed to another caller.
// Reset failures are treated as usage errors and force a recycle.
type SessionResetter interface {
	Reset(ctx context.Context) error
}
