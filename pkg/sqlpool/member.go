package sqlpool

import (
	"context"
	"log/slog"
	"time"
)

// PoolMember wraps one raw session with the bookkeeping timestamps the
// cleanup cycle needs. A PoolMember is owned exclusively by the Pool that
// created it; Handle holds a reference to one only until Close.
type PoolMember struct {
	session RawSession

	createTime time.Time
	touchTime  time.Time
	checkTime  time.Time
}

func newPoolMember(sess RawSession, now time.Time) *PoolMember {
	return &PoolMember{
		session:    sess,
		createTime: now,
		touchTime:  now,
		checkTime:  now,
	}
}

// healthcheck runs probe against the member's session and records the check
// time. A panic inside probe is treated the same as any other unexpected
// failure: the member is reported dead.
func (m *PoolMember) healthcheck(ctx context.Context, probe HealthProbe, classifier TransientClassifier, now time.Time) (alive bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Error("panic during healthcheck, connection will be invalidated", "panic", r)
			alive = false
		}
	}()
	alive = probe(ctx, m.session, classifier)
	m.checkTime = now
	return alive
}

// touch stamps touchTime to now. Called whenever the member is returned to
// the free list so the idle-trim phase can age it correctly.
func (m *PoolMember) touch(now time.Time) {
	m.touchTime = now
}

// close releases the underlying session. Errors are swallowed by the
// caller — member destruction never fails loudly.
func (m *PoolMember) close(ctx context.Context) error {
	return m.session.Close(ctx)
}
