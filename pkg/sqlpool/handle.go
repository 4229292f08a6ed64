package sqlpool

import (
	"context"
	"errors"
	"runtime"
	"sync"
)

// ErrHandleClosed is returned by Handle methods once Close has run.
var ErrHandleClosed = errors.New("sqlpool: handle already closed")

// Handle is the caller-facing object bound to one PoolMember until Close.
// It exposes an explicit method subset rather than forwarding arbitrary
// driver calls (spec's design note on transparent attribute delegation
// does not translate to a statically typed target) — callers that need the
// concrete session type assert Raw() down to it.
//
// A Handle must not be used from multiple goroutines concurrently; a
// caller that hands a Handle to another goroutine is responsible for its
// own synchronization, same as any other exclusively-owned resource.
type Handle struct {
	mu     sync.Mutex
	pool   *Pool
	member *PoolMember
	closed bool
}

func newHandle(p *Pool, m *PoolMember) *Handle {
	h := &Handle{pool: p, member: m}
	runtime.SetFinalizer(h, (*Handle).finalize)
	return h
}

// Exec runs a statement against the underlying session.
func (h *Handle) Exec(ctx context.Context, query string, args ...any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHandleClosed
	}
	return h.member.session.Exec(ctx, query, args...)
}

// Raw returns the underlying session for drivers that expose more than the
// RawSession subset. Returns nil once the handle is closed.
func (h *Handle) Raw() RawSession {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	return h.member.session
}

// Close returns the member to the pool (or, if the pool is shutting down,
// closes the underlying session directly). Idempotent: calls after the
// first are no-ops.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	pool, member := h.pool, h.member
	h.pool, h.member = nil, nil
	h.mu.Unlock()

	runtime.SetFinalizer(h, nil)
	pool.release(member)
	return nil
}

// finalize runs if a Handle is garbage collected without an explicit
// Close. It is a diagnostic aid only, not a substitute for calling Close.
func (h *Handle) finalize() {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return
	}
	h.mu.Lock()
	pool := h.pool
	if pool != nil {
		pool.logger().Warn("handle garbage collected without Close; closing best-effort")
	}
	h.mu.Unlock()
	_ = h.Close()
}

// Do acquires a handle, runs fn, and always closes the handle, whether fn
// returns an error or not. This is the Go realization of spec's scoped
// acquisition/release (__enter__/__exit__ in the source): entering the
// scope is Acquire, exiting it is Close, regardless of outcome.
//
// If Acquire returns a nil handle and nil error (non-blocking or timed-out
// acquisition with no connection available), Do reports
// ErrNoConnectionAvailable so callers get a single error-or-not branch
// instead of having to special-case a nil handle themselves.
func Do(ctx context.Context, p *Pool, fn func(*Handle) error) error {
	h, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	if h == nil {
		return ErrNoConnectionAvailable
	}
	defer h.Close()
	return fn(h)
}
