// Package sqlpool implements a bounded, concurrent pool of long-lived
// database sessions. Sessions are produced by a caller-supplied
// RawSessionFactory and handed out as Handles; a background janitor
// health-checks, ages out, and refills the inventory on a timer.
//
// # Locking discipline
//
// All of Pool's mutable state — inventory, free, inUse, the counters, and
// the mutable configuration fields (poolMin, poolMax, cleanupInterval,
// idleTimeout) — is guarded by mu. cond is bound to mu;
// callers must hold mu when calling cond.Wait, cond.Signal, or
// cond.Broadcast: a single mutex with a bound condition variable and a
// LIFO free list.
//
// Healthcheck, rollback, and raw-session close all run with mu held,
// trading a larger critical section for the simplicity of never needing a
// second closing check after I/O returns. Only the synchronous connect
// that grows the pool (in Acquire and in the janitor's refill phase) runs
// with mu released, since a stuck dial must not stall every other caller.
// Because mu is released for that connect, both call sites re-validate
// whatever they checked before releasing it (poolMax, closing) once mu is
// reacquired, and discard the new session rather than act on a now-stale
// admission decision.
package sqlpool

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Stats is a point-in-time snapshot of pool state, captured under the
// mutex in one atomic read.
type Stats struct {
	PoolSize      int
	PoolUsed      int
	PoolFree      int
	CleanedDead   uint64
	CleanedIdle   uint64
	CleanupCycles uint64
}

// Pool is the connection pool controller. The zero value is not usable;
// construct with NewPool or OpenDSN.
type Pool struct {
	factory    RawSessionFactory
	classifier TransientClassifier

	mu   sync.Mutex
	cond *sync.Cond

	poolMin              int
	poolMax              int
	poolInit             int
	cleanupInterval      time.Duration
	idleTimeout          time.Duration
	healthcheckOnAcquire bool
	healthcheckCallback  HealthProbe
	log                  *slog.Logger

	inventory map[*PoolMember]struct{}
	free      []*PoolMember
	inUse     map[*PoolMember]struct{}

	cleanedDead   uint64
	cleanedIdle   uint64
	cleanupCycles uint64

	closing bool
	closeCh chan struct{}

	janitor *janitor
}

// NewPool constructs a Pool, opening max(PoolMin, PoolInit) sessions
// (PoolMin when PoolInit is unset) before returning. If any initial
// connect fails, every session already opened is closed and the error from
// the factory is returned unwrapped.
//
// classifier is mandatory: Go has no reflective equivalent of walking a
// driver module graph to find its transient-error kind, so a nil
// classifier always fails construction with ErrDriverDiscoveryFailed.
func NewPool(factory RawSessionFactory, classifier TransientClassifier, cfg Config) (*Pool, error) {
	if classifier == nil {
		return nil, ErrDriverDiscoveryFailed
	}

	r, err := resolveConfig(cfg)
	if err != nil {
		return nil, err
	}

	p := &Pool{
		factory:              factory,
		classifier:           classifier,
		poolMin:              r.poolMin,
		poolMax:              r.poolMax,
		poolInit:             r.poolInit,
		cleanupInterval:      r.cleanupInterval,
		idleTimeout:          r.idleTimeout,
		healthcheckOnAcquire: r.healthcheckOnAcquire,
		healthcheckCallback:  r.healthcheckCallback,
		log:                  r.logger,
		inventory:            make(map[*PoolMember]struct{}),
		inUse:                make(map[*PoolMember]struct{}),
		closeCh:              make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)

	ctx := context.Background()
	opened := make([]*PoolMember, 0, p.poolInit)
	for len(opened) < p.poolInit {
		sess, err := factory(ctx)
		if err != nil {
			for _, m := range opened {
				_ = m.close(ctx)
			}
			return nil, err
		}
		m := newPoolMember(sess, time.Now())
		opened = append(opened, m)
	}
	for _, m := range opened {
		p.inventory[m] = struct{}{}
		p.free = append(p.free, m)
	}

	p.janitor = startJanitor(p)
	return p, nil
}

func (p *Pool) logger() *slog.Logger { return p.log }

// acquireOptions configure a single Acquire call.
type acquireOptions struct {
	nonBlocking bool
}

// AcquireOption customizes Acquire.
type AcquireOption func(*acquireOptions)

// NonBlocking makes Acquire return (nil, nil) immediately instead of
// waiting when no connection is currently available; any ctx deadline is
// then never reached. For a timed wait, pass a context carrying a deadline
// without this option; an already-expired context has the same effect as
// this option.
func NonBlocking() AcquireOption {
	return func(o *acquireOptions) { o.nonBlocking = true }
}

// Acquire returns a Handle bound to a free or newly created session, or
// (nil, nil) if none is available and the caller asked not to wait (via
// NonBlocking or an already-expired ctx), or if ctx's deadline elapses
// while waiting. Returns ErrPoolClosed once the pool has begun closing.
func (p *Pool) Acquire(ctx context.Context, opts ...AcquireOption) (*Handle, error) {
	var o acquireOptions
	for _, opt := range opts {
		opt(&o)
	}

	p.mu.Lock()

	var watcherStop chan struct{}
	defer func() {
		if watcherStop != nil {
			close(watcherStop)
		}
	}()

	for {
		if p.closing {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		if n := len(p.free); n > 0 {
			member := p.free[n-1]
			p.free = p.free[:n-1]
			if !p.maybeHealthcheckLocked(ctx, member) {
				continue
			}
			p.inUse[member] = struct{}{}
			p.mu.Unlock()
			return newHandle(p, member), nil
		}

		if len(p.inventory) < p.poolMax {
			p.mu.Unlock()
			sess, err := p.factory(ctx)
			if err != nil {
				return nil, err
			}
			p.mu.Lock()
			if p.closing {
				p.mu.Unlock()
				_ = sess.Close(context.Background())
				return nil, ErrPoolClosed
			}
			// Re-validate the cap now that mu is held again: another
			// goroutine may have raced this same branch and already grown
			// the inventory while the connect above ran unlocked. Discard
			// this session and retry rather than overshoot poolMax.
			if len(p.inventory) >= p.poolMax {
				_ = sess.Close(context.Background())
				continue
			}
			member := newPoolMember(sess, time.Now())
			p.inventory[member] = struct{}{}
			if !p.maybeHealthcheckLocked(ctx, member) {
				continue
			}
			p.inUse[member] = struct{}{}
			p.mu.Unlock()
			return newHandle(p, member), nil
		}

		if o.nonBlocking {
			p.mu.Unlock()
			return nil, nil
		}

		select {
		case <-ctx.Done():
			p.mu.Unlock()
			return nil, nil
		default:
		}

		if watcherStop == nil && ctx.Done() != nil {
			watcherStop = make(chan struct{})
			go p.watchCancellation(ctx, watcherStop)
		}

		p.cond.Wait()
	}
}

// watchCancellation wakes every waiter on ctx cancellation so Acquire's
// loop can re-check ctx.Err() itself. sync.Cond has no context-aware Wait,
// so this goroutine is the bridge between the two.
func (p *Pool) watchCancellation(ctx context.Context, stop chan struct{}) {
	select {
	case <-ctx.Done():
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	case <-stop:
	}
}

// maybeHealthcheckLocked runs the acquire-time probe (if enabled) against a
// just-popped candidate. Must be called with mu held. On failure it closes
// the candidate and removes it from inventory, still holding mu, so the
// caller can simply loop back to the top of Acquire.
func (p *Pool) maybeHealthcheckLocked(ctx context.Context, m *PoolMember) bool {
	if !p.healthcheckOnAcquire {
		return true
	}
	if m.healthcheck(ctx, p.healthcheckCallback, p.classifier, time.Now()) {
		return true
	}
	delete(p.inventory, m)
	_ = m.close(context.Background())
	return false
}

// release implements the release protocol. Rollback and the
// closing-path session close both run with mu held — see the package doc
// on I/O under the lock — so there is exactly one p.closing check: nothing
// else can flip it while this goroutine holds the mutex.
func (p *Pool) release(m *PoolMember) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closing {
		delete(p.inUse, m)
		_ = m.close(context.Background())
		p.cond.Broadcast()
		return
	}

	_ = m.session.Rollback(context.Background())
	delete(p.inUse, m)
	m.touch(time.Now())
	p.free = append(p.free, m)
	p.cond.Signal()
}

// Stats returns a snapshot of pool size, usage, and cumulative counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		PoolSize:      len(p.inventory),
		PoolUsed:      len(p.inUse),
		PoolFree:      len(p.free),
		CleanedDead:   p.cleanedDead,
		CleanedIdle:   p.cleanedIdle,
		CleanupCycles: p.cleanupCycles,
	}
}

// SetPoolMin changes the minimum inventory size. Takes effect on the next
// cleanup cycle's refill phase.
func (p *Pool) SetPoolMin(n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n < 0 || n > p.poolMax {
		return ErrInvalidParameter
	}
	p.poolMin = n
	return nil
}

// SetPoolMax changes the maximum inventory size. Takes effect immediately
// for new Acquire growth, and on the next cleanup cycle's over-cap trim
// for existing free members.
func (p *Pool) SetPoolMax(n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n < 1 || n < p.poolMin {
		return ErrInvalidParameter
	}
	p.poolMax = n
	return nil
}

// SetCleanupInterval changes how often the janitor wakes. Takes effect on
// the janitor's next wake.
func (p *Pool) SetCleanupInterval(d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d <= 0 {
		return ErrInvalidParameter
	}
	p.cleanupInterval = d
	return nil
}

// SetIdleTimeout changes the idle-trim age threshold.
func (p *Pool) SetIdleTimeout(d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d < 0 {
		return ErrInvalidParameter
	}
	p.idleTimeout = d
	return nil
}

// Close begins pool shutdown: stops the janitor, closes every currently
// free session, and blocks until every in-use Handle has been explicitly
// closed. Subsequent calls are no-ops.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return nil
	}
	p.closing = true
	close(p.closeCh)
	p.cond.Broadcast()
	p.mu.Unlock()

	p.janitor.wait()

	p.mu.Lock()
	ctx := context.Background()
	for _, m := range p.free {
		_ = m.close(ctx)
		delete(p.inventory, m)
	}
	p.free = nil
	for len(p.inUse) > 0 {
		p.cond.Wait()
	}
	p.mu.Unlock()
	return nil
}
