package sqlpool

import "context"

// RawSession is the minimal surface a driver-supplied database session must
// expose for the pool to manage it. It deliberately does not attempt to
// forward arbitrary driver methods (see Handle) — callers that need more
// reach the concrete session through Handle.Raw and type-assert it.
type RawSession interface {
	// Exec runs a statement against the session. Drivers that need typed
	// results implement a richer interface of their own and have callers
	// type-assert Handle.Raw() down to it.
	Exec(ctx context.Context, query string, args ...any) error

	// Rollback discards any uncommitted transaction state. Called on every
	// Handle.Close so the next caller starts from a clean baseline
	// regardless of what the previous caller did.
	Rollback(ctx context.Context) error

	// Close releases the underlying driver resource. Called exactly once,
	// when the owning PoolMember is removed from inventory.
	Close(ctx context.Context) error
}

// RawSessionFactory produces a new RawSession, the Go analogue of the
// connfunc/connargs/connkwargs triple in the pool's external collaborator
// contract. Connect failures are returned as-is; the pool does not retry
// them synchronously and does not wrap them in a sentinel error.
type RawSessionFactory func(ctx context.Context) (RawSession, error)

// TransientClassifier distinguishes a driver's transient errors — the
// session has become unusable but the driver itself is fine — from
// unexpected failures. HealthProbe implementations use it to decide whether
// a failed probe is an ordinary dead-connection result or a bug worth
// logging at error level.
type TransientClassifier interface {
	IsTransient(err error) bool
}

// TransientClassifierFunc adapts a function to a TransientClassifier.
type TransientClassifierFunc func(err error) bool

// IsTransient implements TransientClassifier.
func (f TransientClassifierFunc) IsTransient(err error) bool { return f(err) }
