package arbiter

import (
	"context"
	"log"
	"time"
)

const defaultReapInterval = 5 * time.Second

// Reap force-releases leases whose owner's session has expired and, when idle
// is positive, leases with no authorized activity for idle. It returns the
// number of leases released.
func (a *Arbiter) Reap(ctx context.Context, idle time.Duration) int {
	released := 0
	for _, id := range a.robots.IDs() {
		state, err := a.State(ctx, id)
		if err != nil || !state.Connected {
			continue
		}
		owner := state.OwnerUserID

		expired := func(current ControlState) bool {
			return current.SessionExpired(a.now())
		}
		stale := func(current ControlState) bool {
			return idle > 0 && a.now().Sub(a.lastActivity(current)) >= idle
		}

		var reason string
		var cond func(ControlState) bool
		switch {
		case expired(state):
			reason, cond = "session expired", expired
		case stale(state):
			reason, cond = "idle timeout", stale
		default:
			continue
		}

		if err := a.forceRelease(ctx, id, owner, reason, cond); err != nil {
			log.Printf("arbiter: failed to reap lease on robot %s: %v", id, err)
			continue
		}

		if current, err := a.State(ctx, id); err == nil && !current.OwnedBy(owner) {
			released++
		}
	}
	return released
}

// RunReaper calls Reap every interval until ctx is done. Session expiry is
// always enforced; idle <= 0 only disables the idle check.
func (a *Arbiter) RunReaper(ctx context.Context, idle, interval time.Duration) error {
	if interval <= 0 {
		interval = defaultReapInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := a.Reap(ctx, idle); n > 0 {
				log.Printf("arbiter: released %d lease(s)", n)
			}
		}
	}
}

func (a *Arbiter) lastActivity(state ControlState) time.Time {
	if v, ok := a.activity.Load(state.RobotID); ok {
		return v.(time.Time)
	}
	return state.AcquiredAt
}
