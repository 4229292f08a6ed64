package sqlpool

import (
	"context"
	"sort"
	"time"
)

// runCleanupCycle performs the janitor's five phases under a single lock
// acquisition: dead sweep, idle trim, over-cap trim, refill, then the
// cleanup_cycles increment. Only free (not in-use) members are ever
// touched. Health probes and session closes run with mu held; the factory
// calls made during refill run with mu released.
func (p *Pool) runCleanupCycle() {
	p.mu.Lock()

	now := time.Now()
	ctx := context.Background()

	// Phase 1: dead sweep. Healthcheck every free member; anything that
	// fails is closed and dropped from inventory.
	alive := p.free[:0:0]
	for _, m := range p.free {
		if m.healthcheck(ctx, p.healthcheckCallback, p.classifier, now) {
			alive = append(alive, m)
			continue
		}
		p.log.Warn("closing dead connection found during cleanup cycle")
		delete(p.inventory, m)
		_ = m.close(ctx)
		p.cleanedDead++
	}
	p.free = alive

	// Phase 2: idle trim. Free members idle longer than idleTimeout are
	// candidates, but never below poolMin total inventory. Oldest-idle
	// first: sort ascending touchTime (longest idle first), ties broken by
	// ascending createTime (oldest member first).
	idleCap := len(p.inventory) - p.poolMin
	if idleCap > len(p.free) {
		idleCap = len(p.free)
	}
	if idleCap > 0 {
		candidates := make([]*PoolMember, 0, len(p.free))
		for _, m := range p.free {
			if now.Sub(m.touchTime) >= p.idleTimeout {
				candidates = append(candidates, m)
			}
		}
		sort.Slice(candidates, func(i, j int) bool {
			if !candidates[i].touchTime.Equal(candidates[j].touchTime) {
				return candidates[i].touchTime.Before(candidates[j].touchTime)
			}
			return candidates[i].createTime.Before(candidates[j].createTime)
		})
		if len(candidates) > idleCap {
			candidates = candidates[:idleCap]
		}
		trim := make(map[*PoolMember]struct{}, len(candidates))
		for _, m := range candidates {
			trim[m] = struct{}{}
		}
		kept := p.free[:0:0]
		for _, m := range p.free {
			if _, dead := trim[m]; dead {
				delete(p.inventory, m)
				_ = m.close(ctx)
				p.cleanedIdle++
				continue
			}
			kept = append(kept, m)
		}
		p.free = kept
	}

	// Phase 3: over-cap trim. If inventory still exceeds poolMax (e.g.
	// poolMax was lowered at runtime), drop the oldest free members first
	// until inventory fits, again never touching in-use members.
	if over := len(p.inventory) - p.poolMax; over > 0 {
		sort.Slice(p.free, func(i, j int) bool {
			if !p.free[i].touchTime.Equal(p.free[j].touchTime) {
				return p.free[i].touchTime.Before(p.free[j].touchTime)
			}
			return p.free[i].createTime.Before(p.free[j].createTime)
		})
		n := over
		if n > len(p.free) {
			n = len(p.free)
		}
		for i := 0; i < n; i++ {
			m := p.free[i]
			delete(p.inventory, m)
			_ = m.close(ctx)
		}
		p.free = p.free[n:]
	}

	// Phase 4: refill. Open new sessions up to poolMin if the dead sweep or
	// trims dropped inventory below it. Connect failures here are logged,
	// not fatal to the cycle; the pool simply stays under poolMin until the
	// next cycle tries again.
	for len(p.inventory) < p.poolMin {
		p.mu.Unlock()
		sess, err := p.factory(ctx)
		p.mu.Lock()
		if err != nil {
			p.log.Error("refill connect failed during cleanup cycle", "error", err)
			break
		}
		if p.closing {
			p.mu.Unlock()
			_ = sess.Close(ctx)
			p.mu.Lock()
			break
		}
		if len(p.inventory) >= p.poolMax {
			p.mu.Unlock()
			_ = sess.Close(ctx)
			p.mu.Lock()
			break
		}
		m := newPoolMember(sess, time.Now())
		p.inventory[m] = struct{}{}
		p.free = append(p.free, m)
	}

	// Phase 5.
	p.cleanupCycles++

	p.cond.Broadcast()
	p.mu.Unlock()
}
