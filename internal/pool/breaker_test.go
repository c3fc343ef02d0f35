package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreaker(clock Clock) *circuitBreaker {
	return newCircuitBreaker("test", BreakerConfig{
		DegradedRatio:       0.5,
		RecoverRatio:        0.8,
		RecoveryInterval:    5 * time.Second,
		MaxRecoveryInterval: 30 * time.Second,
		BackoffFactor:       2.0,
	}, clock)
}

func TestBreakerDegradesAndRecovers(t *testing.T) {
	b := testBreaker(newManualClock())

	b.observe(0.3, 4)
	assert.Equal(t, CircuitDegraded, b.state)
	assert.True(t, b.allowAcquire())
	assert.True(t, b.allowCreate())
	assert.False(t, b.allowGrow())
	assert.True(t, b.aggressiveRecycle())

	b.observe(0.9, 4)
	assert.Equal(t, CircuitClosed, b.state)
	assert.True(t, b.allowGrow())
	assert.False(t, b.aggressiveRecycle())
}

func TestBreakerTripsOnZeroRatio(t *testing.T) {
	b := testBreaker(newManualClock())

	b.observe(0, 4)
	assert.Equal(t, CircuitOpen, b.state)
	assert.Equal(t, uint64(1), b.trips)
	assert.False(t, b.allowAcquire())
	assert.False(t, b.allowCreate())
	assert.False(t, b.allowGrow())

	// Already open: another all-bad sweep is not a second trip.
	b.observe(0, 4)
	assert.Equal(t, uint64(1), b.trips)
}

func TestBreakerIgnoresEmptySweeps(t *testing.T) {
	b := testBreaker(newManualClock())

	b.observe(0, 0)
	assert.Equal(t, CircuitClosed, b.state)
	assert.Zero(t, b.trips)
}

func TestBreakerMiddlingRatioHoldsState(t *testing.T) {
	b := testBreaker(newManualClock())

	// 0.6 is neither degraded (<0.5) nor recovered (>0.8): no change.
	b.observe(0.3, 4)
	require.Equal(t, CircuitDegraded, b.state)
	b.observe(0.6, 4)
	assert.Equal(t, CircuitDegraded, b.state)

	// Same band while closed also holds.
	b.observe(0.9, 4)
	require.Equal(t, CircuitClosed, b.state)
	b.observe(0.6, 4)
	assert.Equal(t, CircuitClosed, b.state)
}

func TestBreakerProbeTiming(t *testing.T) {
	clock := newManualClock()
	b := testBreaker(clock)
	b.observe(0, 4)
	require.Equal(t, CircuitOpen, b.state)

	assert.False(t, b.probeDue(), "no probe before the recovery interval")

	clock.Advance(6 * time.Second)
	assert.True(t, b.probeDue())
	assert.Equal(t, CircuitHalfOpen, b.state)

	// HALF_OPEN owes exactly one probe.
	assert.False(t, b.probeDue())
}

func TestBreakerProbeSuccessCloses(t *testing.T) {
	clock := newManualClock()
	b := testBreaker(clock)
	b.observe(0, 4)
	clock.Advance(6 * time.Second)
	require.True(t, b.probeDue())

	b.probeResult(true)
	assert.Equal(t, CircuitClosed, b.state)
	assert.Equal(t, 5*time.Second, b.recoveryWait, "successful probe resets the backoff")
}

func TestBreakerProbeFailureBacksOffWithCap(t *testing.T) {
	clock := newManualClock()
	b := testBreaker(clock)
	b.observe(0, 4)

	waits := []time.Duration{
		10 * time.Second,
		20 * time.Second,
		30 * time.Second, // capped
		30 * time.Second,
	}
	for _, want := range waits {
		clock.Advance(b.recoveryWait)
		require.True(t, b.probeDue())
		b.probeResult(false)
		assert.Equal(t, CircuitOpen, b.state)
		assert.Equal(t, want, b.recoveryWait)
	}
}

func TestBreakerProbeResultIgnoredUnlessHalfOpen(t *testing.T) {
	b := testBreaker(newManualClock())

	b.probeResult(true)
	assert.Equal(t, CircuitClosed, b.state)

	b.observe(0, 4)
	b.probeResult(false)
	assert.Equal(t, 5*time.Second, b.recoveryWait, "no backoff without a pending probe")
}
