package pool

import "time"

// recycler decides, per connection, whether to retire and replace it.
// Pure policy over the record's stats and the classifier's verdict.
type recycler struct {
	cfg *Config
}

// shouldRecycle returns whether the connection must be retired, and why.
// aggressive widens the net to degraded-classified connections; the breaker
// sets it while the fleet is in the DEGRADED circuit state.
func (r *recycler) shouldRecycle(c *PooledConn, a Assessment, now time.Time, aggressive bool) (bool, string) {
	if a.Class == Unhealthy {
		return true, "unhealthy"
	}
	if aggressive && a.Class == Degraded {
		return true, "degraded_aggressive"
	}
	if r.cfg.MaxLifetime > 0 && c.age(now) >= r.cfg.MaxLifetime {
		return true, "max_lifetime"
	}
	if r.cfg.MaxUses > 0 && c.stats.usageCount >= r.cfg.MaxUses {
		return true, "max_uses"
	}
	if r.cfg.MaxIdleTime > 0 && c.state == StateAvailable && c.idle(now) >= r.cfg.MaxIdleTime {
		return true, "idle_timeout"
	}
	return false, ""
}
