package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sweepConfig(min, max int) Config {
	cfg := testConfig(min, max)
	cfg.SweepSampleSize = max
	cfg.Circuit = BreakerConfig{
		DegradedRatio:       0.5,
		RecoverRatio:        0.8,
		RecoveryInterval:    5 * time.Second,
		MaxRecoveryInterval: time.Minute,
		BackoffFactor:       2.0,
	}
	return cfg
}

func TestSweepTripsCircuitOnTotalFailure(t *testing.T) {
	f := &fakeConnector{}
	clock := newManualClock()
	p, err := mustPool(sweepConfig(2, 4), f, clock)
	require.NoError(t, err)
	defer p.Shutdown(time.Second)

	// Every connection fails its round-trip check: health ratio 0.
	f.failAllValidations(true)
	f.failOpens(assertableErr("backend down"))
	p.sweepOnce()

	st := p.Stats()
	assert.Equal(t, CircuitOpen, st.Circuit)
	assert.Equal(t, uint64(1), st.CircuitTrips)

	// The very next acquire fails fast, without waiting out the budget.
	start := time.Now()
	_, err = p.Acquire(context.Background())
	var coe *CircuitOpenError
	require.ErrorAs(t, err, &coe)
	assert.Less(t, time.Since(start), 100*time.Millisecond, "open circuit must fail fast")
}

func TestSweepRecyclesUnvalidatedConnections(t *testing.T) {
	f := &fakeConnector{}
	clock := newManualClock()
	p, err := mustPool(sweepConfig(3, 6), f, clock)
	require.NoError(t, err)
	defer p.Shutdown(time.Second)

	// One bad connection out of three: it gets recycled, the fleet stays up.
	f.conns[0].failValidation(true)
	p.sweepOnce()

	assert.True(t, f.conns[0].isClosed(), "failed connection must be closed")
	st := p.Stats()
	assert.NotEqual(t, CircuitOpen, st.Circuit)
	assert.Equal(t, 3, st.Size, "sweep must replace the recycled connection up to min_size")
}

func TestSweepEntersDegradedOnPartialFailure(t *testing.T) {
	f := &fakeConnector{}
	clock := newManualClock()
	p, err := mustPool(sweepConfig(4, 8), f, clock)
	require.NoError(t, err)
	defer p.Shutdown(time.Second)

	// 1 healthy of 4 sampled: ratio 0.25, between 0 and degraded_ratio.
	for _, c := range f.conns[:3] {
		c.failValidation(true)
	}
	p.sweepOnce()

	st := p.Stats()
	assert.Equal(t, CircuitDegraded, st.Circuit)

	// Acquisitions are still served while degraded.
	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(c, Outcome{Success: true})
}

func TestCircuitRecoveryViaProbe(t *testing.T) {
	f := &fakeConnector{}
	clock := newManualClock()
	p, err := mustPool(sweepConfig(2, 4), f, clock)
	require.NoError(t, err)
	defer p.Shutdown(time.Second)

	f.failAllValidations(true)
	p.sweepOnce()
	require.Equal(t, CircuitOpen, p.Stats().Circuit)

	// Backend comes back; after the recovery interval the next sweep sends
	// one probe, which succeeds and closes the circuit.
	f.failAllValidations(false)
	clock.Advance(6 * time.Second)
	p.sweepOnce()

	st := p.Stats()
	assert.Equal(t, CircuitClosed, st.Circuit)
	assert.GreaterOrEqual(t, st.Size, 1, "successful probe connection is kept")

	c, err := p.Acquire(context.Background())
	require.NoError(t, err)
	p.Release(c, Outcome{Success: true})
}

func TestCircuitProbeFailureBacksOff(t *testing.T) {
	f := &fakeConnector{}
	clock := newManualClock()
	p, err := mustPool(sweepConfig(2, 4), f, clock)
	require.NoError(t, err)
	defer p.Shutdown(time.Second)

	f.failAllValidations(true)
	f.failOpens(assertableErr("still down"))
	p.sweepOnce()
	require.Equal(t, CircuitOpen, p.Stats().Circuit)

	// First probe after 5s fails: circuit re-opens.
	clock.Advance(6 * time.Second)
	p.sweepOnce()
	require.Equal(t, CircuitOpen, p.Stats().Circuit)

	// Backoff doubled the wait: a sweep 6s later must not probe again, so
	// even with the backend healed the circuit stays open.
	f.failOpens(nil)
	f.failAllValidations(false)
	clock.Advance(6 * time.Second)
	p.sweepOnce()
	assert.Equal(t, CircuitOpen, p.Stats().Circuit)

	// After the doubled interval the probe goes through and recovers.
	clock.Advance(5 * time.Second)
	p.sweepOnce()
	assert.Equal(t, CircuitClosed, p.Stats().Circuit)
}

func TestSweepScalesDownIdleOverflow(t *testing.T) {
	f := &fakeConnector{}
	clock := newManualClock()
	cfg := sweepConfig(2, 10)
	cfg.Scaling = ScalingConfig{SampleWindow: 4, GrowSlope: 10, ShrinkSlope: 10, MaxStep: 1}
	p, err := mustPool(cfg, f, clock)
	require.NoError(t, err)
	defer p.Shutdown(time.Second)

	// Build the pool up to 6 connections, then go fully idle.
	var held []*PooledConn
	for i := 0; i < 6; i++ {
		c, err := p.Acquire(context.Background())
		require.NoError(t, err)
		held = append(held, c)
	}
	for _, c := range held {
		p.Release(c, Outcome{Success: true, Duration: time.Millisecond})
	}
	require.Equal(t, 6, p.Stats().Size)

	// Idle sweeps drive the target back down; idle overflow is closed.
	for i := 0; i < 4; i++ {
		p.sweepOnce()
	}
	st := p.Stats()
	assert.LessOrEqual(t, st.Size, 3, "idle pool must shrink toward min_size")
	assert.GreaterOrEqual(t, st.Size, 2, "pool must not shrink below min_size")
}

func TestSweepNeverShrinksInUse(t *testing.T) {
	f := &fakeConnector{}
	clock := newManualClock()
	cfg := sweepConfig(1, 8)
	p, err := mustPool(cfg, f, clock)
	require.NoError(t, err)
	defer p.Shutdown(time.Second)

	var held []*PooledConn
	for i := 0; i < 4; i++ {
		c, err := p.Acquire(context.Background())
		require.NoError(t, err)
		held = append(held, c)
	}

	for i := 0; i < 5; i++ {
		p.sweepOnce()
	}

	for _, c := range held {
		assert.False(t, c.Conn().(*fakeConn).isClosed(), "sweep must never close an in-use connection")
		p.Release(c, Outcome{Success: true})
	}
}

func TestSweepSurvivesPanic(t *testing.T) {
	f := &fakeConnector{}
	p, err := mustPool(sweepConfig(1, 2), f, newManualClock())
	require.NoError(t, err)
	defer p.Shutdown(time.Second)

	// A nil connector field inside a record would panic during validation;
	// simulate by poisoning the sample path via a closed pool race instead:
	// simply verify the recover wrapper by invoking sweepOnce with a
	// deliberately broken scaler window.
	p.scaler.samples = nil
	assert.NotPanics(t, func() { p.sweepOnce() })
}

// assertableErr keeps error construction out of the test bodies.
type assertableErr string

func (e assertableErr) Error() string { return string(e) }
