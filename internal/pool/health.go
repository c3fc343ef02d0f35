package pool

import "time"

// HealthClass is the classifier's verdict for one connection.
type HealthClass int

const (
	Healthy HealthClass = iota
	Degraded
	Unhealthy
)

func (h HealthClass) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case Unhealthy:
		return "unhealthy"
	}
	return "unknown"
}

// Issue names one problem the classifier found, with a severity in (0,1].
type Issue struct {
	Kind     string
	Severity float64
}

// Assessment is the classifier's output: a class, a score in [0,1]
// (1 = perfectly healthy), and the issues that lowered the score.
type Assessment struct {
	Class  HealthClass
	Score  float64
	Issues []Issue
}

// Classify scores a connection's rolling statistics against the configured
// thresholds. Pure and deterministic: no I/O, no clock reads; age arrives
// pre-computed inside the view.
func Classify(v StatsView, maxLifetime time.Duration, t HealthThresholds) Assessment {
	// A connection that keeps failing its round-trip check is beyond
	// scoring: unhealthy outright.
	if t.MaxValidationFail > 0 && v.ValidationFailRate > t.MaxValidationFail {
		return Assessment{
			Class: Unhealthy,
			Score: 0,
			Issues: []Issue{{
				Kind:     "validation_failures",
				Severity: 1,
			}},
		}
	}

	score := 1.0
	var issues []Issue

	if t.MaxAvgQueryTime > 0 && v.AvgQueryTime > t.MaxAvgQueryTime {
		// Penalty grows with how far past the threshold we are, capped at
		// the full latency weight.
		excess := float64(v.AvgQueryTime-t.MaxAvgQueryTime) / float64(t.MaxAvgQueryTime)
		sev := clampFloat(excess, 0.25, 1)
		score -= t.LatencyWeight * sev
		issues = append(issues, Issue{Kind: "slow_queries", Severity: sev})
	}

	if t.MaxErrorRate > 0 && v.ErrorRate > t.MaxErrorRate {
		sev := clampFloat(v.ErrorRate/t.MaxErrorRate-1, 0.25, 1)
		score -= t.ErrorWeight * sev
		issues = append(issues, Issue{Kind: "error_rate", Severity: sev})
	}

	if v.ValidationFailures > 0 {
		sev := clampFloat(v.ValidationFailRate/maxFloat(t.MaxValidationFail, 0.01), 0.1, 1)
		score -= t.ValidationWeight * sev
		issues = append(issues, Issue{Kind: "validation_failures", Severity: sev})
	}

	// Ageing penalty: past 80% of max lifetime the connection loses a little
	// score, but age alone never disqualifies it.
	if maxLifetime > 0 {
		lived := float64(v.Age) / float64(maxLifetime)
		if lived > 0.8 {
			sev := clampFloat((lived-0.8)/0.2, 0.1, 1)
			score -= t.AgeWeight * sev
			issues = append(issues, Issue{Kind: "ageing", Severity: sev})
		}
	}

	score = clampFloat(score, 0, 1)

	class := Unhealthy
	switch {
	case score >= t.HealthyScore:
		class = Healthy
	case score >= t.DegradedScore:
		class = Degraded
	}

	return Assessment{Class: class, Score: score, Issues: issues}
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
