package sqlpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSession is a RawSession whose liveness and failure modes are
// controlled by the test. One fakeFactory produces many of these, each
// tracking its own rollback count and closed flag.
type fakeSession struct {
	mu      sync.Mutex
	alive   bool
	closed  bool
	rollbacks int
}

func (s *fakeSession) Exec(ctx context.Context, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.alive {
		return errors.New("transient: connection reset")
	}
	return nil
}

func (s *fakeSession) Rollback(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rollbacks++
	return nil
}

func (s *fakeSession) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) setAlive(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alive = v
}

var fakeTransientClassifier = TransientClassifierFunc(func(err error) bool {
	return err != nil && err.Error() == "transient: connection reset"
})

type fakeFactory struct {
	mu        sync.Mutex
	sessions  []*fakeSession
	failNext  int32
	failAlways bool
}

func newFakeFactory() *fakeFactory { return &fakeFactory{} }

func (f *fakeFactory) connect(ctx context.Context) (RawSession, error) {
	if f.failAlways || atomic.LoadInt32(&f.failNext) > 0 {
		if !f.failAlways {
			atomic.AddInt32(&f.failNext, -1)
		}
		return nil, errors.New("connect: refused")
	}
	s := &fakeSession{alive: true}
	f.mu.Lock()
	f.sessions = append(f.sessions, s)
	f.mu.Unlock()
	return s, nil
}

func aliveFlagProbe(ctx context.Context, sess RawSession, classifier TransientClassifier) bool {
	return sess.(*fakeSession).alive
}

func newTestPool(t *testing.T, cfg Config) (*Pool, *fakeFactory) {
	t.Helper()
	factory := newFakeFactory()
	if cfg.HealthcheckCallback == nil {
		cfg.HealthcheckCallback = aliveFlagProbe
	}
	p, err := NewPool(factory.connect, fakeTransientClassifier, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, factory
}

func intPtr(n int) *int                  { return &n }
func durPtr(d time.Duration) *time.Duration { return &d }
func boolPtr(b bool) *bool               { return &b }

// Scenario 1: construction defaults.
func TestConstructionDefaults(t *testing.T) {
	p, _ := newTestPool(t, Config{})
	stats := p.Stats()
	assert.Equal(t, 10, stats.PoolSize)
	assert.Equal(t, 10, p.poolMin)
	assert.Equal(t, 20, p.poolMax)
	assert.Equal(t, 60*time.Second, p.cleanupInterval)
	assert.Equal(t, 300*time.Second, p.idleTimeout)
}

// Scenario 2: init size.
func TestInitSize(t *testing.T) {
	p, _ := newTestPool(t, Config{PoolMin: intPtr(2), PoolMax: 4, PoolInit: intPtr(3)})
	assert.Equal(t, 3, p.Stats().PoolSize)
}

// Scenario 3: grow on demand.
func TestGrowOnDemand(t *testing.T) {
	p, _ := newTestPool(t, Config{PoolMin: intPtr(2), PoolMax: 4})

	var handles []*Handle
	for i := 0; i < 4; i++ {
		h, err := p.Acquire(context.Background())
		require.NoError(t, err)
		require.NotNil(t, h)
		handles = append(handles, h)
	}

	stats := p.Stats()
	assert.Equal(t, 4, stats.PoolSize)
	assert.Equal(t, 4, stats.PoolUsed)
	assert.Equal(t, 0, stats.PoolFree)

	h, err := p.Acquire(context.Background(), NonBlocking())
	require.NoError(t, err)
	assert.Nil(t, h)
	assert.Equal(t, 4, p.Stats().PoolSize)

	for _, h := range handles {
		require.NoError(t, h.Close())
	}
}

// Scenario 4: idle trim.
func TestIdleTrim(t *testing.T) {
	zero := time.Duration(0)
	p, _ := newTestPool(t, Config{PoolMin: intPtr(2), PoolMax: 4, IdleTimeout: &zero})

	var handles []*Handle
	for i := 0; i < 4; i++ {
		h, err := p.Acquire(context.Background())
		require.NoError(t, err)
		handles = append(handles, h)
	}
	for _, h := range handles {
		require.NoError(t, h.Close())
	}

	p.runCleanupCycle()

	stats := p.Stats()
	assert.Equal(t, 2, stats.PoolSize)
	assert.EqualValues(t, 2, stats.CleanedIdle)
}

// Scenario 5: shrink poolmax.
func TestShrinkPoolMax(t *testing.T) {
	p, _ := newTestPool(t, Config{PoolMin: intPtr(2), PoolMax: 10})

	var handles []*Handle
	for i := 0; i < 10; i++ {
		h, err := p.Acquire(context.Background())
		require.NoError(t, err)
		handles = append(handles, h)
	}
	for _, h := range handles {
		require.NoError(t, h.Close())
	}

	require.NoError(t, p.SetPoolMax(4))
	p.runCleanupCycle()
	assert.Equal(t, 4, p.Stats().PoolSize)

	zero := time.Duration(0)
	require.NoError(t, p.SetIdleTimeout(zero))
	p.runCleanupCycle()

	stats := p.Stats()
	assert.Equal(t, 2, stats.PoolSize)
	assert.Equal(t, 0, stats.PoolUsed)
	assert.Equal(t, 2, stats.PoolFree)
}

// Scenario 6: shrink poolmax while busy.
func TestShrinkPoolMaxWhileBusy(t *testing.T) {
	p, _ := newTestPool(t, Config{PoolMin: intPtr(2), PoolMax: 10})

	var handles []*Handle
	for i := 0; i < 10; i++ {
		h, err := p.Acquire(context.Background())
		require.NoError(t, err)
		handles = append(handles, h)
	}

	require.NoError(t, p.SetPoolMax(4))
	p.runCleanupCycle()
	assert.Equal(t, 10, p.Stats().PoolSize, "no free members to trim while all are in use")

	for _, h := range handles {
		require.NoError(t, h.Close())
	}
	p.runCleanupCycle()
	assert.Equal(t, 4, p.Stats().PoolSize)
}

// Scenario 7: validation.
func TestValidation(t *testing.T) {
	factory := newFakeFactory()

	_, err := NewPool(factory.connect, fakeTransientClassifier, Config{PoolMin: intPtr(-1)})
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = NewPool(factory.connect, fakeTransientClassifier, Config{PoolMin: intPtr(11), PoolMax: 10})
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = NewPool(factory.connect, fakeTransientClassifier, Config{PoolMin: intPtr(5), PoolInit: intPtr(4)})
	assert.ErrorIs(t, err, ErrInvalidParameter)

	p, _ := newTestPool(t, Config{PoolMin: intPtr(2), PoolMax: 4})
	assert.ErrorIs(t, p.SetPoolMin(5), ErrInvalidParameter)
	assert.ErrorIs(t, p.SetCleanupInterval(0), ErrInvalidParameter)
	assert.ErrorIs(t, p.SetIdleTimeout(-1*time.Second), ErrInvalidParameter)

	_, err = NewPool(nil, nil, Config{})
	assert.ErrorIs(t, err, ErrDriverDiscoveryFailed)
}

// Scenario 8: blocked acquire wakes on release.
func TestBlockedAcquireWakesOnRelease(t *testing.T) {
	p, _ := newTestPool(t, Config{PoolMin: intPtr(1), PoolMax: 5, PoolInit: intPtr(1)})

	var handles []*Handle
	var mu sync.Mutex
	for i := 0; i < 5; i++ {
		h, err := p.Acquire(context.Background())
		require.NoError(t, err)
		mu.Lock()
		handles = append(handles, h)
		mu.Unlock()
	}
	assert.Equal(t, 5, p.Stats().PoolSize)

	got := make(chan *Handle, 1)
	go func() {
		h, err := p.Acquire(context.Background())
		require.NoError(t, err)
		got <- h
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-got:
		t.Fatal("sixth acquire should still be blocked")
	default:
	}

	mu.Lock()
	first := handles[0]
	mu.Unlock()
	require.NoError(t, first.Close())

	select {
	case h := <-got:
		require.NotNil(t, h)
		require.NoError(t, h.Close())
	case <-time.After(2 * time.Second):
		t.Fatal("sixth acquire never woke up after release")
	}

	mu.Lock()
	for _, h := range handles[1:] {
		require.NoError(t, h.Close())
	}
	mu.Unlock()
}

// Scenario 9: failed acquire-time healthcheck.
func TestFailedAcquireTimeHealthcheck(t *testing.T) {
	p, factory := newTestPool(t, Config{PoolMin: intPtr(1), PoolMax: 2, PoolInit: intPtr(1)})

	factory.mu.Lock()
	factory.sessions[0].setAlive(false)
	factory.mu.Unlock()

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	require.NotNil(t, h)

	stats := p.Stats()
	assert.Equal(t, 1, stats.PoolSize, "dead member replaced by a freshly grown one")
	require.NoError(t, h.Close())
}

// Scenario 10: handle transparency after pool close. Close blocks until
// every in-use handle is closed, so it runs in its own goroutine here.
func TestHandleTransparencyAfterClose(t *testing.T) {
	p, _ := newTestPool(t, Config{PoolMin: intPtr(1), PoolMax: 2, PoolInit: intPtr(1)})

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)

	closeDone := make(chan error, 1)
	go func() { closeDone <- p.Close() }()
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.closing
	}, 2*time.Second, time.Millisecond)

	assert.NoError(t, h.Exec(context.Background(), "SELECT 1"))
	require.NoError(t, h.Close())
	require.NoError(t, <-closeDone)
	assert.ErrorIs(t, h.Exec(context.Background(), "SELECT 1"), ErrHandleClosed)
}

func TestAcquireAfterCloseReturnsPoolClosed(t *testing.T) {
	p, _ := newTestPool(t, Config{PoolMin: intPtr(1), PoolMax: 2})
	require.NoError(t, p.Close())

	_, err := p.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestAcquireRespectsContextTimeout(t *testing.T) {
	p, _ := newTestPool(t, Config{PoolMin: intPtr(1), PoolMax: 1})

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer h.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	got, err := p.Acquire(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}
