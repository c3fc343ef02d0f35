package pool

import (
	"log"
	"time"

	"github.com/joao-brasil/adaptive-pool/internal/metrics"
)

// CircuitState is the breaker's aggregate verdict over the fleet's health.
type CircuitState int

const (
	// CircuitClosed: normal operation.
	CircuitClosed CircuitState = iota
	// CircuitDegraded: acquisitions still served, but the pool stops adding
	// capacity and recycles more aggressively.
	CircuitDegraded
	// CircuitOpen: creation and acquisition refused outright.
	CircuitOpen
	// CircuitHalfOpen: one probe connection is testing recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitDegraded:
		return "degraded"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	}
	return "unknown"
}

// circuitBreaker gates connection creation and acquisition on the aggregate
// health ratio observed by periodic sweeps. Every method is called with the
// pool lock held, so plain fields suffice.
type circuitBreaker struct {
	cfg      BreakerConfig
	poolName string
	clock    Clock

	state        CircuitState
	openedAt     time.Time
	recoveryWait time.Duration
	trips        uint64
}

func newCircuitBreaker(poolName string, cfg BreakerConfig, clock Clock) *circuitBreaker {
	return &circuitBreaker{
		cfg:          cfg,
		poolName:     poolName,
		clock:        clock,
		state:        CircuitClosed,
		recoveryWait: cfg.RecoveryInterval,
	}
}

// observe feeds one sweep's health ratio into the state machine.
// sampled is the number of connections (plus failed creations) the ratio
// was computed over; a sweep that saw nothing changes nothing.
func (b *circuitBreaker) observe(healthRatio float64, sampled int) {
	if sampled == 0 {
		return
	}

	switch {
	case healthRatio == 0:
		if b.state != CircuitOpen {
			b.trip()
		}
	case b.state == CircuitClosed && healthRatio < b.cfg.DegradedRatio:
		b.transition(CircuitDegraded)
	case b.state != CircuitClosed && healthRatio > b.cfg.RecoverRatio:
		b.recoveryWait = b.cfg.RecoveryInterval
		b.transition(CircuitClosed)
	}
}

// trip opens the circuit and records the event.
func (b *circuitBreaker) trip() {
	b.trips++
	b.openedAt = b.clock.Now()
	metrics.CircuitTrips.WithLabelValues(b.poolName).Inc()
	b.transition(CircuitOpen)
}

// allowAcquire reports whether an acquire may proceed at all.
func (b *circuitBreaker) allowAcquire() bool {
	return b.state != CircuitOpen && b.state != CircuitHalfOpen
}

// allowCreate reports whether a new connection may be opened on behalf of a
// caller. DEGRADED sheds capacity-adding behavior only for proactive growth;
// caller-driven creation stays allowed so acquisitions keep being served.
func (b *circuitBreaker) allowCreate() bool {
	return b.state != CircuitOpen && b.state != CircuitHalfOpen
}

// allowGrow reports whether the sweep may proactively add capacity.
func (b *circuitBreaker) allowGrow() bool {
	return b.state == CircuitClosed
}

// aggressiveRecycle reports whether the recycler should also retire
// degraded-classified connections this cycle.
func (b *circuitBreaker) aggressiveRecycle() bool {
	return b.state == CircuitDegraded
}

// probeDue reports whether an OPEN circuit's recovery timer has elapsed.
// When it has, the breaker moves to HALF_OPEN and exactly one probe is owed.
func (b *circuitBreaker) probeDue() bool {
	if b.state != CircuitOpen {
		return false
	}
	if b.clock.Now().Sub(b.openedAt) < b.recoveryWait {
		return false
	}
	b.transition(CircuitHalfOpen)
	return true
}

// probeResult commits the outcome of a HALF_OPEN probe.
func (b *circuitBreaker) probeResult(ok bool) {
	if b.state != CircuitHalfOpen {
		return
	}
	if ok {
		b.recoveryWait = b.cfg.RecoveryInterval
		b.transition(CircuitClosed)
		return
	}
	// Failed probe: back off before the next one.
	b.recoveryWait = time.Duration(float64(b.recoveryWait) * b.cfg.BackoffFactor)
	if b.recoveryWait > b.cfg.MaxRecoveryInterval {
		b.recoveryWait = b.cfg.MaxRecoveryInterval
	}
	b.openedAt = b.clock.Now()
	b.transition(CircuitOpen)
}

func (b *circuitBreaker) transition(to CircuitState) {
	if b.state == to {
		return
	}
	log.Printf("[breaker] Pool %s: circuit %s -> %s", b.poolName, b.state, to)
	b.state = to
	metrics.CircuitState.WithLabelValues(b.poolName).Set(float64(to))
}
