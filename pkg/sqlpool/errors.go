package sqlpool

import "errors"

// Sentinel errors returned by the pool's lifecycle operations. Connect
// failures from a RawSessionFactory are never wrapped in one of these —
// they propagate to the caller exactly as the factory returned them.
var (
	// ErrInvalidParameter is returned by NewPool, OpenDSN, and the mutable
	// configuration setters when a value falls outside its documented range.
	ErrInvalidParameter = errors.New("sqlpool: invalid parameter")

	// ErrDriverDiscoveryFailed is returned by NewPool when no
	// TransientClassifier was supplied. Go has no reflective equivalent of
	// walking a module graph for a connect symbol, so classification must
	// always be supplied explicitly. OpenDSN also returns it, wrapped, when
	// no driver is registered under the DSN's driver name.
	ErrDriverDiscoveryFailed = errors.New("sqlpool: could not determine driver transient-error classifier")

	// ErrPoolClosed is returned by Acquire once the pool has begun closing.
	ErrPoolClosed = errors.New("sqlpool: pool is closed")

	// ErrNoConnectionAvailable is not returned by Acquire under the default
	// contract (Acquire returns a nil handle and a nil error on timeout or
	// non-blocking exhaustion, matching spec's None sentinel). It is
	// exported for callers who prefer to treat a nil/nil result as an error
	// themselves, e.g. `if h == nil { err = sqlpool.ErrNoConnectionAvailable }`.
	ErrNoConnectionAvailable = errors.New("sqlpool: no connection available")
)
