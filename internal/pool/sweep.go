package pool

import (
	"context"
	"log"

	"github.com/joao-brasil/adaptive-pool/internal/metrics"
)

// sweepLoop drives periodic health sweeps off the injected clock so that
// shutdown can cancel it deterministically.
func (p *Pool) sweepLoop() {
	defer p.wg.Done()

	ticker := p.clock.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C():
			p.sweepOnce()
		}
	}
}

// sweepSnapshot holds everything one sweep cycle extracted under the lock.
type sweepSnapshot struct {
	// sample is checked out of the available set so no caller can acquire
	// a handle mid-validation.
	sample        []*PooledConn
	creationFails int
	aggressive    bool
	probeDue      bool
}

// sweepOnce runs one health/scaling cycle: sample a bounded subset of
// available connections, validate them outside the lock, classify, feed the
// circuit breaker, apply recycling decisions, then reconcile pool size
// against the scaling target. A panic here is logged and the cycle skipped;
// the sweep must never take the pool down. Each locked phase scopes its
// unlock with defer so a panic cannot strand the pool mutex.
func (p *Pool) sweepOnce() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[sweep] %s: sweep panicked, skipping cycle: %v", p.cfg.Name, r)
		}
	}()

	start := p.clock.Now()

	snap, ok := p.sweepSnapshotPhase()
	if !ok {
		return
	}

	// I/O outside the lock.
	valid := make([]bool, len(snap.sample))
	for i, c := range snap.sample {
		valid[i] = p.validate(c) == nil
	}

	var probeConn *PooledConn
	probeOK := false
	if snap.probeDue {
		probeConn, probeOK = p.runProbe()
	}

	toClose, deficit := p.sweepCommitPhase(snap, valid, probeConn, probeOK)

	for _, c := range toClose {
		c.conn.Close()
	}

	p.fillDeficit(deficit)

	metrics.SweepDuration.WithLabelValues(p.cfg.Name).Observe(p.clock.Now().Sub(start).Seconds())
}

// sweepSnapshotPhase records a load sample and checks out up to
// sweep_sample_size available connections for validation.
func (p *Pool) sweepSnapshotPhase() (sweepSnapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return sweepSnapshot{}, false
	}

	total := p.totalLocked()
	load := 0.0
	switch {
	case total > 0:
		load = float64(len(p.inUse)) / float64(total)
	case len(p.waiters) > 0:
		// An empty pool with queued demand is saturation, not idleness.
		load = 1.0
	}
	p.scaler.observe(load)

	n := p.cfg.SweepSampleSize
	if n > len(p.available) {
		n = len(p.available)
	}
	// Oldest-idle first: those are the most likely to have gone bad.
	sample := make([]*PooledConn, n)
	copy(sample, p.available[:n])
	p.available = append(p.available[:0], p.available[n:]...)
	p.sweeping += n

	snap := sweepSnapshot{
		sample:        sample,
		creationFails: p.creationFailures,
		aggressive:    p.breaker.aggressiveRecycle(),
		probeDue:      p.breaker.probeDue(),
	}
	p.creationFailures = 0
	return snap, true
}

// sweepCommitPhase applies validation results: classify, feed the breaker,
// recycle, and reconcile pool size against the scaling target. Returns the
// connections to close (outside the lock) and the growth deficit to fill.
func (p *Pool) sweepCommitPhase(snap sweepSnapshot, valid []bool, probeConn *PooledConn, probeOK bool) (toClose []*PooledConn, deficit int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clock.Now()
	healthy := 0
	for i, c := range snap.sample {
		p.sweeping--
		c.stats.recordValidation(valid[i])
		if !valid[i] {
			metrics.ValidationFailures.WithLabelValues(p.cfg.Name).Inc()
		}

		a := Classify(c.stats.view(c.age(now)), p.cfg.MaxLifetime, p.cfg.Health)
		if valid[i] && a.Class != Unhealthy {
			healthy++
		}

		recycle, reason := p.recycler.shouldRecycle(c, a, now, snap.aggressive)
		if !valid[i] {
			recycle, reason = true, "validation_failed"
		}
		if p.closed || recycle {
			c.state = StateClosed
			toClose = append(toClose, c)
			if !p.closed {
				metrics.RecyclesTotal.WithLabelValues(p.cfg.Name, reason).Inc()
				log.Printf("[sweep] %s: recycling conn %d (%s)", p.cfg.Name, c.id, reason)
			}
		} else {
			p.putLocked(c)
		}
	}

	denom := len(snap.sample) + snap.creationFails
	if denom > 0 {
		p.breaker.observe(float64(healthy)/float64(denom), denom)
	}

	if snap.probeDue {
		p.breaker.probeResult(probeOK)
		if probeConn != nil {
			if probeOK && !p.closed && p.totalLocked() < p.cfg.MaxSize {
				p.putLocked(probeConn)
			} else {
				probeConn.state = StateClosed
				toClose = append(toClose, probeConn)
			}
		}
	}

	// Shrink idle overflow above the target. In-use connections are never
	// touched; the pool only declines to keep what retires or idles.
	target := p.scaler.targetSize()
	for p.totalLocked() > target && len(p.available) > 0 {
		c := p.available[0]
		p.available = p.available[1:]
		c.state = StateClosed
		toClose = append(toClose, c)
		metrics.RecyclesTotal.WithLabelValues(p.cfg.Name, "scale_down").Inc()
	}

	if !p.closed && p.breaker.allowCreate() {
		floor := p.cfg.MinSize
		if p.breaker.allowGrow() && target > floor {
			// Proactive growth to the full target only while the circuit is
			// closed; DEGRADED sheds capacity-adding behavior.
			floor = target
		}
		deficit = floor - p.totalLocked()
	}

	p.updateGaugesLocked()
	return toClose, deficit
}

// fillDeficit opens connections one at a time, outside the lock, until the
// deficit is filled or a creation fails.
func (p *Pool) fillDeficit(deficit int) {
	for i := 0; i < deficit; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ValidationTimeout)
		c, err := p.openConn(ctx)
		cancel()
		if err != nil {
			p.mu.Lock()
			p.creationFailures++
			p.mu.Unlock()
			metrics.CreationErrors.WithLabelValues(p.cfg.Name).Inc()
			log.Printf("[sweep] %s: failed to grow pool: %v", p.cfg.Name, err)
			return
		}
		p.mu.Lock()
		if p.closed || p.totalLocked() >= p.cfg.MaxSize {
			p.mu.Unlock()
			c.conn.Close()
			return
		}
		p.putLocked(c)
		p.updateGaugesLocked()
		p.mu.Unlock()
	}
}

// runProbe opens and validates a single recovery-probe connection while the
// circuit is half-open. The probe connection is kept on success so recovery
// does not waste the round trip.
func (p *Pool) runProbe() (*PooledConn, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ValidationTimeout)
	defer cancel()

	c, err := p.openConn(ctx)
	if err != nil {
		log.Printf("[sweep] %s: recovery probe failed to connect: %v", p.cfg.Name, err)
		metrics.CreationErrors.WithLabelValues(p.cfg.Name).Inc()
		return nil, false
	}
	if err := p.validate(c); err != nil {
		log.Printf("[sweep] %s: recovery probe failed validation: %v", p.cfg.Name, err)
		c.conn.Close()
		return nil, false
	}
	log.Printf("[sweep] %s: recovery probe succeeded", p.cfg.Name)
	return c, true
}
