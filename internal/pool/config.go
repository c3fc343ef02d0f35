package pool

import (
	"fmt"
	"time"
)

// Config holds all pool tunables. Immutable after the pool is constructed;
// changing configuration at runtime means rebuilding the pool.
type Config struct {
	// Name labels this pool in logs and metrics.
	Name string `yaml:"name"`

	// MinSize is the warm floor kept open even when idle. 0 keeps no floor:
	// the pool may drain to empty and reconnect on demand.
	MinSize     int           `yaml:"min_size"`
	MaxSize     int           `yaml:"max_size"`
	MaxLifetime time.Duration `yaml:"max_lifetime"`
	MaxIdleTime time.Duration `yaml:"max_idle_time"`

	// MaxUses retires a connection after this many acquisitions. 0 disables.
	MaxUses uint64 `yaml:"max_uses"`

	// AcquireTimeout is the default budget for Acquire when the caller's
	// context carries no earlier deadline.
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`

	// ValidationTimeout bounds a single validation round trip.
	ValidationTimeout time.Duration `yaml:"validation_timeout"`

	// ValidateIfIdle re-validates a connection at acquire time when it has
	// sat unused for at least this long. 0 disables acquire-time validation.
	ValidateIfIdle time.Duration `yaml:"validate_if_idle"`

	// SweepInterval is the period of the background health sweep. A
	// negative value disables the background sweep entirely.
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	SweepSampleSize int           `yaml:"sweep_sample_size"`

	Health  HealthThresholds `yaml:"health"`
	Circuit BreakerConfig    `yaml:"circuit"`
	Scaling ScalingConfig    `yaml:"scaling"`
}

// HealthThresholds parameterizes the health classifier. Weights and cutoffs
// are policy, not constants, so operators can tune per workload.
type HealthThresholds struct {
	MaxAvgQueryTime   time.Duration `yaml:"max_avg_query_time"`
	MaxErrorRate      float64       `yaml:"max_error_rate"`
	MaxValidationFail float64       `yaml:"max_validation_fail_rate"`

	LatencyWeight    float64 `yaml:"latency_weight"`
	ErrorWeight      float64 `yaml:"error_weight"`
	ValidationWeight float64 `yaml:"validation_weight"`
	AgeWeight        float64 `yaml:"age_weight"`

	// Score cutoffs partitioning [0,1] into healthy / degraded / unhealthy.
	HealthyScore  float64 `yaml:"healthy_score"`
	DegradedScore float64 `yaml:"degraded_score"`
}

// BreakerConfig parameterizes the circuit breaker.
type BreakerConfig struct {
	// DegradedRatio: health ratio below this (while closed) enters DEGRADED.
	DegradedRatio float64 `yaml:"degraded_ratio"`
	// RecoverRatio: health ratio above this (while not closed) re-closes.
	RecoverRatio float64 `yaml:"recover_ratio"`
	// RecoveryInterval is the initial wait before an OPEN circuit probes.
	RecoveryInterval time.Duration `yaml:"recovery_interval"`
	// MaxRecoveryInterval caps the probe backoff.
	MaxRecoveryInterval time.Duration `yaml:"max_recovery_interval"`
	// BackoffFactor multiplies the recovery interval after a failed probe.
	BackoffFactor float64 `yaml:"backoff_factor"`
}

// ScalingConfig parameterizes the predictive scaling controller. The numeric
// values are tunable policy; only the shape of the control loop (bounded,
// trend-aware, clamped) is load-bearing.
type ScalingConfig struct {
	// SampleWindow is how many load samples the trend fit looks at.
	SampleWindow int `yaml:"sample_window"`
	// GrowSlope is the per-sample load slope above which the controller
	// grows the target ahead of demand.
	GrowSlope float64 `yaml:"grow_slope"`
	// ShrinkSlope is the (positive) magnitude of negative slope below which
	// the controller contracts the target.
	ShrinkSlope float64 `yaml:"shrink_slope"`
	// MaxStep bounds a single anticipatory increment or decrement.
	MaxStep int `yaml:"max_step"`
}

// withDefaults fills unset optional fields, mirroring how config loading
// applies defaults elsewhere in the project.
func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.MaxSize == 0 {
		c.MaxSize = 10
	}
	if c.MaxLifetime == 0 {
		c.MaxLifetime = 30 * time.Minute
	}
	if c.MaxIdleTime == 0 {
		c.MaxIdleTime = 5 * time.Minute
	}
	if c.AcquireTimeout == 0 {
		c.AcquireTimeout = 30 * time.Second
	}
	if c.ValidationTimeout == 0 {
		c.ValidationTimeout = 5 * time.Second
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = 15 * time.Second
	}
	if c.SweepSampleSize == 0 {
		c.SweepSampleSize = 5
	}

	if c.Health.MaxAvgQueryTime == 0 {
		c.Health.MaxAvgQueryTime = 500 * time.Millisecond
	}
	if c.Health.MaxErrorRate == 0 {
		c.Health.MaxErrorRate = 0.10
	}
	if c.Health.MaxValidationFail == 0 {
		c.Health.MaxValidationFail = 0.25
	}
	if c.Health.LatencyWeight == 0 {
		c.Health.LatencyWeight = 0.35
	}
	if c.Health.ErrorWeight == 0 {
		c.Health.ErrorWeight = 0.35
	}
	if c.Health.ValidationWeight == 0 {
		c.Health.ValidationWeight = 0.20
	}
	if c.Health.AgeWeight == 0 {
		c.Health.AgeWeight = 0.10
	}
	if c.Health.HealthyScore == 0 {
		c.Health.HealthyScore = 0.7
	}
	if c.Health.DegradedScore == 0 {
		c.Health.DegradedScore = 0.4
	}

	if c.Circuit.DegradedRatio == 0 {
		c.Circuit.DegradedRatio = 0.5
	}
	if c.Circuit.RecoverRatio == 0 {
		c.Circuit.RecoverRatio = 0.8
	}
	if c.Circuit.RecoveryInterval == 0 {
		c.Circuit.RecoveryInterval = 5 * time.Second
	}
	if c.Circuit.MaxRecoveryInterval == 0 {
		c.Circuit.MaxRecoveryInterval = 2 * time.Minute
	}
	if c.Circuit.BackoffFactor == 0 {
		c.Circuit.BackoffFactor = 2.0
	}

	if c.Scaling.SampleWindow == 0 {
		c.Scaling.SampleWindow = 20
	}
	if c.Scaling.GrowSlope == 0 {
		c.Scaling.GrowSlope = 0.02
	}
	if c.Scaling.ShrinkSlope == 0 {
		c.Scaling.ShrinkSlope = 0.02
	}
	if c.Scaling.MaxStep == 0 {
		c.Scaling.MaxStep = 2
	}

	return c
}

// validate checks invariants that defaults cannot repair.
func (c Config) validate() error {
	if c.MinSize < 0 {
		return fmt.Errorf("min_size must be >= 0, got %d", c.MinSize)
	}
	if c.MaxSize < 1 {
		return fmt.Errorf("max_size must be >= 1, got %d", c.MaxSize)
	}
	if c.MinSize > c.MaxSize {
		return fmt.Errorf("min_size (%d) must not exceed max_size (%d)", c.MinSize, c.MaxSize)
	}
	if c.Health.DegradedScore > c.Health.HealthyScore {
		return fmt.Errorf("health.degraded_score (%.2f) must not exceed health.healthy_score (%.2f)",
			c.Health.DegradedScore, c.Health.HealthyScore)
	}
	return nil
}
