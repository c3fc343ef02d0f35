package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func defaultThresholds() HealthThresholds {
	return Config{}.withDefaults().Health
}

func TestClassifyCleanConnectionIsHealthy(t *testing.T) {
	a := Classify(StatsView{UsageCount: 50, AvgQueryTime: 20 * time.Millisecond}, 30*time.Minute, defaultThresholds())

	assert.Equal(t, Healthy, a.Class)
	assert.Equal(t, 1.0, a.Score)
	assert.Empty(t, a.Issues)
}

func TestClassifyValidationFailuresOverrideEverything(t *testing.T) {
	v := StatsView{
		UsageCount:         10,
		ValidationFailures: 5,
		ValidationFailRate: 0.33,
	}
	a := Classify(v, 30*time.Minute, defaultThresholds())

	assert.Equal(t, Unhealthy, a.Class)
	assert.Equal(t, 0.0, a.Score)
	assert.Len(t, a.Issues, 1)
	assert.Equal(t, "validation_failures", a.Issues[0].Kind)
}

func TestClassifySlowQueriesDegrade(t *testing.T) {
	th := defaultThresholds()

	// Twice the latency threshold maxes out the latency penalty.
	a := Classify(StatsView{UsageCount: 20, AvgQueryTime: time.Second}, 30*time.Minute, th)
	assert.Equal(t, Degraded, a.Class)
	assert.InDelta(t, 1.0-th.LatencyWeight, a.Score, 1e-9)
	assert.Equal(t, "slow_queries", a.Issues[0].Kind)

	// Barely over the threshold only nicks the score.
	a = Classify(StatsView{UsageCount: 20, AvgQueryTime: 510 * time.Millisecond}, 30*time.Minute, th)
	assert.Equal(t, Healthy, a.Class)
	assert.Greater(t, a.Score, th.HealthyScore)
	assert.NotEmpty(t, a.Issues)
}

func TestClassifyErrorRateDegrades(t *testing.T) {
	th := defaultThresholds()
	v := StatsView{UsageCount: 20, ErrorCount: 10, ErrorRate: 0.5}
	a := Classify(v, 30*time.Minute, th)

	assert.Equal(t, Degraded, a.Class)
	assert.InDelta(t, 1.0-th.ErrorWeight, a.Score, 1e-9)
}

func TestClassifyCompoundingIssuesTurnUnhealthy(t *testing.T) {
	th := defaultThresholds()
	v := StatsView{
		UsageCount:   20,
		AvgQueryTime: 2 * time.Second,
		ErrorCount:   10,
		ErrorRate:    0.5,
	}
	a := Classify(v, 30*time.Minute, th)

	assert.Equal(t, Unhealthy, a.Class)
	assert.Less(t, a.Score, th.DegradedScore)
	assert.Len(t, a.Issues, 2)
}

func TestClassifyAgeingPenaltyIsMild(t *testing.T) {
	th := defaultThresholds()
	lifetime := 30 * time.Minute

	// Past 80% of lifetime: scored down but still healthy on its own.
	a := Classify(StatsView{UsageCount: 100, Age: 28 * time.Minute}, lifetime, th)
	assert.Equal(t, Healthy, a.Class)
	assert.Less(t, a.Score, 1.0)

	found := false
	for _, is := range a.Issues {
		if is.Kind == "ageing" {
			found = true
		}
	}
	assert.True(t, found, "ageing issue must be reported")

	// Well within lifetime: no penalty at all.
	a = Classify(StatsView{UsageCount: 100, Age: 10 * time.Minute}, lifetime, th)
	assert.Equal(t, 1.0, a.Score)
}

func TestClassifySubThresholdValidationFailuresStillNoted(t *testing.T) {
	th := defaultThresholds()
	v := StatsView{
		UsageCount:         18,
		ValidationFailures: 2,
		ValidationFailRate: 0.1,
	}
	a := Classify(v, 30*time.Minute, th)

	assert.Equal(t, Healthy, a.Class)
	assert.Less(t, a.Score, 1.0)
	assert.Equal(t, "validation_failures", a.Issues[0].Kind)
}

func TestClassifyScoreStaysInRange(t *testing.T) {
	th := defaultThresholds()
	v := StatsView{
		UsageCount:         5,
		AvgQueryTime:       time.Minute,
		ErrorCount:         5,
		ErrorRate:          1.0,
		ValidationFailures: 1,
		ValidationFailRate: 0.1,
		Age:                2 * time.Hour,
	}
	a := Classify(v, 30*time.Minute, th)

	assert.GreaterOrEqual(t, a.Score, 0.0)
	assert.LessOrEqual(t, a.Score, 1.0)
	assert.Equal(t, Unhealthy, a.Class)
}
