package pool

import "time"

// QueryCharacteristics lets a caller describe the work it is about to run so
// the pool can pick the best-suited available connection. Optional: absent
// characteristics fall back to plain most-recently-used selection.
type QueryCharacteristics struct {
	// Type labels the query class (e.g. "read", "write", "report").
	Type string
	// ExpectedDuration is the caller's rough estimate, used to steer long
	// work away from connections close to retirement.
	ExpectedDuration time.Duration
}

// selectConn scores each available candidate against the declared query
// characteristics and returns the best match. Heuristic only: it spreads
// load toward lightly used, fast, reliable connections, prefers connections
// with a good track record for the requested query type, and avoids handing
// long work to a connection about to age out. Ties go to the least recently
// used candidate. Caller holds the pool lock; candidates must be non-empty.
func selectConn(candidates []*PooledConn, qc QueryCharacteristics, now time.Time, cfg *Config) *PooledConn {
	var (
		best      *PooledConn
		bestScore float64
	)

	// Baseline usage for the load-spreading term.
	var maxUsage uint64 = 1
	for _, c := range candidates {
		if c.stats.usageCount > maxUsage {
			maxUsage = c.stats.usageCount
		}
	}

	for _, c := range candidates {
		score := 1.0

		// Reward lightly used connections.
		score += 0.5 * (1 - float64(c.stats.usageCount)/float64(maxUsage))

		// Penalize slow and erroring connections.
		if avg := c.stats.avgQueryTime(); avg > 0 && cfg.Health.MaxAvgQueryTime > 0 {
			score -= 0.5 * clampFloat(float64(avg)/float64(cfg.Health.MaxAvgQueryTime), 0, 1)
		}
		score -= 0.5 * clampFloat(c.stats.errorRate()*5, 0, 1)

		// Bonus for a strong record on this query type.
		if qc.Type != "" {
			if qt := c.stats.queryTypes[qc.Type]; qt != nil && qt.count >= 3 {
				score += 0.3 * qt.successRate()
			}
		}

		// Penalize connections nearing retirement, more so for long work.
		if cfg.MaxLifetime > 0 {
			lived := float64(c.age(now)) / float64(cfg.MaxLifetime)
			if lived > 0.8 {
				penalty := 0.3
				if qc.ExpectedDuration > cfg.Health.MaxAvgQueryTime {
					penalty = 0.6
				}
				score -= penalty * clampFloat((lived-0.8)/0.2, 0, 1)
			}
		}

		if best == nil || score > bestScore ||
			(score == bestScore && c.lastUsedAt.Before(best.lastUsedAt)) {
			best = c
			bestScore = score
		}
	}

	return best
}
