package pool

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joao-brasil/adaptive-pool/internal/metrics"
)

// Outcome is the caller's report on one completed usage of a connection.
type Outcome struct {
	Success   bool
	Duration  time.Duration
	QueryType string
}

// Stats is a read-only snapshot of the pool's state.
type Stats struct {
	Name         string
	Size         int
	InUse        int
	Available    int
	Waiters      int
	TargetSize   int
	Circuit      CircuitState
	CircuitTrips uint64
}

// waiter is one suspended Acquire call. Its channel receives an in-use
// connection from a releaser, or nil when the pool shuts down.
type waiter struct {
	ch chan *PooledConn
}

// Pool manages a bounded set of connections to one backing store. It hands
// out healthy connections within a bounded wait, scales the live connection
// count to demand, replaces degraded connections, and refuses service via a
// circuit breaker when the backing store itself is broadly unhealthy.
type Pool struct {
	cfg       Config
	connector Connector
	clock     Clock

	mu sync.Mutex

	// available holds connections ready for loan, most recently used last.
	available []*PooledConn

	// inUse tracks connections currently on loan, keyed by connection ID.
	inUse map[uint64]*PooledConn

	// waiters is the FIFO queue of suspended Acquire calls.
	waiters []*waiter

	// opening counts connection creations in flight; they count toward the
	// pool size so concurrent acquires cannot overshoot the target.
	opening int

	// sweeping counts connections checked out by the sweep for validation.
	sweeping int

	// creationFailures since the last sweep; folded into the health ratio.
	creationFailures int

	closed bool

	breaker  *circuitBreaker
	scaler   *scalingController
	recycler recycler

	nextID atomic.Uint64

	// releaseCh is pulsed when an in-use connection is returned after
	// shutdown began, so Shutdown can drain without polling.
	releaseCh chan struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Option customizes pool construction.
type Option func(*Pool)

// WithClock substitutes the time source, for deterministic tests.
func WithClock(c Clock) Option {
	return func(p *Pool) { p.clock = c }
}

// New builds a pool over the given connector, eagerly opens min_size warm
// connections, and starts the background sweep if sweep_interval > 0.
func New(ctx context.Context, cfg Config, connector Connector, opts ...Option) (*Pool, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("pool %s config: %w", cfg.Name, err)
	}

	p := &Pool{
		cfg:       cfg,
		connector: connector,
		clock:     RealClock(),
		available: make([]*PooledConn, 0, cfg.MaxSize),
		inUse:     make(map[uint64]*PooledConn, cfg.MaxSize),
		releaseCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.breaker = newCircuitBreaker(cfg.Name, cfg.Circuit, p.clock)
	p.scaler = newScalingController(cfg.Scaling, cfg.MinSize, cfg.MaxSize)
	p.recycler = recycler{cfg: &p.cfg}

	// Warm pool: creation failures here are logged, not fatal; the sweep
	// keeps trying to reach min_size.
	for i := 0; i < cfg.MinSize; i++ {
		c, err := p.openConn(ctx)
		if err != nil {
			log.Printf("[pool] %s: failed to create warm connection %d/%d: %v",
				cfg.Name, i+1, cfg.MinSize, err)
			metrics.CreationErrors.WithLabelValues(cfg.Name).Inc()
			continue
		}
		p.available = append(p.available, c)
	}

	p.mu.Lock()
	p.updateGaugesLocked()
	p.mu.Unlock()
	log.Printf("[pool] %s: initialized: %d warm, min=%d, max=%d",
		cfg.Name, len(p.available), cfg.MinSize, cfg.MaxSize)

	if cfg.SweepInterval > 0 {
		p.wg.Add(1)
		go p.sweepLoop()
	}

	return p, nil
}

// Name returns the pool's configured name.
func (p *Pool) Name() string { return p.cfg.Name }

// Acquire obtains a connection, blocking until one is available, the circuit
// denies service, or the acquire budget elapses.
func (p *Pool) Acquire(ctx context.Context) (*PooledConn, error) {
	return p.acquire(ctx, nil)
}

// AcquireFor is Acquire with declared query characteristics: when a
// connection is immediately free, the best-suited one is chosen. Queued
// waiters are still served FIFO regardless of characteristics.
func (p *Pool) AcquireFor(ctx context.Context, qc QueryCharacteristics) (*PooledConn, error) {
	return p.acquire(ctx, &qc)
}

func (p *Pool) acquire(ctx context.Context, qc *QueryCharacteristics) (*PooledConn, error) {
	start := p.clock.Now()
	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	// skipCreate is set after a failed creation attempt so the retry loop
	// queues up instead of hammering a broken backend.
	skipCreate := false
	var lastCreateErr error

	for {
		// Budget check between retries (validation or creation failures).
		select {
		case <-timer.C:
			return nil, p.timeoutError(start, lastCreateErr)
		default:
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		if !p.breaker.allowAcquire() {
			stats := p.statsLocked()
			p.mu.Unlock()
			metrics.AcquiresTotal.WithLabelValues(p.cfg.Name, "circuit_open").Inc()
			return nil, &CircuitOpenError{Pool: p.cfg.Name, Stats: stats}
		}

		// An available connection, if any.
		if c, stale, needsCheck := p.pickLocked(qc); c != nil || len(stale) > 0 {
			p.mu.Unlock()
			for _, s := range stale {
				s.conn.Close()
				metrics.RecyclesTotal.WithLabelValues(p.cfg.Name, "idle_timeout").Inc()
			}
			if c == nil {
				continue
			}
			if needsCheck {
				if err := p.validate(c); err != nil {
					log.Printf("[pool] %s: conn %d failed acquire-time validation, retiring: %v",
						p.cfg.Name, c.id, err)
					// No replacement here: the retry loop below creates one
					// for this caller anyway.
					p.retireInUse(c, "validation_failed", false)
					continue
				}
			}
			p.finishAcquire(c, start)
			return c, nil
		}

		// A caller finding nothing available is demand the sweep's periodic
		// load sampling may be too coarse to catch; feed it to the scaler
		// so the target tracks bursts.
		if total := p.totalLocked(); total > 0 {
			p.scaler.observe(clampFloat(float64(len(p.inUse)+len(p.waiters)+1)/float64(total), 0, 1))
		} else {
			p.scaler.observe(1)
		}

		// Room to grow: create a connection for this caller.
		if !skipCreate && p.totalLocked() < p.scaler.targetSize() && p.breaker.allowCreate() {
			p.opening++
			p.mu.Unlock()

			c, err := p.openConn(ctx)

			p.mu.Lock()
			p.opening--
			if err != nil {
				p.creationFailures++
				p.mu.Unlock()
				metrics.CreationErrors.WithLabelValues(p.cfg.Name).Inc()
				lastCreateErr = err
				skipCreate = true
				continue
			}
			if p.closed {
				p.mu.Unlock()
				c.conn.Close()
				return nil, ErrPoolClosed
			}
			c.state = StateInUse
			p.inUse[c.id] = c
			p.updateGaugesLocked()
			p.mu.Unlock()
			p.finishAcquire(c, start)
			return c, nil
		}

		// Pool is at target and empty: suspend in the wait queue.
		w := &waiter{ch: make(chan *PooledConn, 1)}
		p.waiters = append(p.waiters, w)
		metrics.WaitQueueLength.WithLabelValues(p.cfg.Name).Set(float64(len(p.waiters)))
		p.mu.Unlock()

		select {
		case c := <-w.ch:
			if c == nil {
				metrics.AcquiresTotal.WithLabelValues(p.cfg.Name, "pool_closed").Inc()
				return nil, ErrPoolClosed
			}
			p.finishAcquire(c, start)
			return c, nil

		case <-timer.C:
			p.cancelWaiter(w)
			return nil, p.timeoutError(start, lastCreateErr)

		case <-ctx.Done():
			p.cancelWaiter(w)
			metrics.AcquiresTotal.WithLabelValues(p.cfg.Name, "cancelled").Inc()
			return nil, ctx.Err()
		}
	}
}

// pickLocked removes and returns the best available connection. Stale idle
// connections encountered on the way are removed and returned for closure
// outside the lock. needsCheck is set when the chosen connection has idled
// long enough to deserve a fresh validation round trip.
func (p *Pool) pickLocked(qc *QueryCharacteristics) (c *PooledConn, stale []*PooledConn, needsCheck bool) {
	now := p.clock.Now()

	// Drop stale connections first so neither selection path sees them.
	if p.cfg.MaxIdleTime > 0 {
		kept := p.available[:0]
		for _, cand := range p.available {
			if cand.idle(now) >= p.cfg.MaxIdleTime {
				cand.state = StateClosed
				stale = append(stale, cand)
			} else {
				kept = append(kept, cand)
			}
		}
		p.available = kept
	}
	if len(p.available) == 0 {
		if len(stale) > 0 {
			p.updateGaugesLocked()
		}
		return nil, stale, false
	}

	if qc != nil {
		c = selectConn(p.available, *qc, now, &p.cfg)
		for i, cand := range p.available {
			if cand == c {
				p.available = append(p.available[:i], p.available[i+1:]...)
				break
			}
		}
	} else {
		// Most recently used first, like a LIFO free list: keeps the warm
		// end warm and lets idle connections age out.
		n := len(p.available) - 1
		c = p.available[n]
		p.available = p.available[:n]
	}

	needsCheck = p.cfg.ValidateIfIdle > 0 && c.idle(now) >= p.cfg.ValidateIfIdle
	c.state = StateInUse
	c.lastUsedAt = now
	c.stats.usageCount++
	p.inUse[c.id] = c
	p.updateGaugesLocked()
	return c, stale, needsCheck
}

// finishAcquire records metrics and wait attribution for a successful acquire.
func (p *Pool) finishAcquire(c *PooledConn, start time.Time) {
	waited := p.clock.Now().Sub(start)
	p.mu.Lock()
	c.stats.recordWait(waited)
	p.mu.Unlock()
	metrics.AcquiresTotal.WithLabelValues(p.cfg.Name, "acquired").Inc()
	metrics.AcquireWaitDuration.WithLabelValues(p.cfg.Name).Observe(waited.Seconds())
}

// timeoutError builds the caller-facing error for an exhausted budget. A
// creation failure observed along the way is surfaced instead of a bare
// timeout when the pool never had an alternative to offer.
func (p *Pool) timeoutError(start time.Time, createErr error) error {
	p.mu.Lock()
	stats := p.statsLocked()
	p.mu.Unlock()
	metrics.AcquiresTotal.WithLabelValues(p.cfg.Name, "timeout").Inc()

	if createErr != nil && stats.Size == 0 {
		return &CreationError{Pool: p.cfg.Name, Err: createErr}
	}
	return &TimeoutError{
		Pool:    p.cfg.Name,
		Waited:  p.clock.Now().Sub(start),
		Timeout: p.cfg.AcquireTimeout,
		Stats:   stats,
	}
}

// cancelWaiter removes a timed-out or cancelled waiter. If a connection was
// delivered concurrently, it is put back so it cannot leak.
func (p *Pool) cancelWaiter(w *waiter) {
	p.mu.Lock()
	for i, cand := range p.waiters {
		if cand == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			metrics.WaitQueueLength.WithLabelValues(p.cfg.Name).Set(float64(len(p.waiters)))
			break
		}
	}
	p.mu.Unlock()

	select {
	case c := <-w.ch:
		if c != nil {
			p.mu.Lock()
			// The delivery never reached a caller; undo its usage tick.
			c.stats.usageCount--
			// Shutdown may have raced in between delivery and this drain. A
			// closed record never re-enters the available set.
			if p.closed || c.state == StateClosed {
				p.releaseClosedLocked(c)
				return
			}
			delete(p.inUse, c.id)
			p.putLocked(c)
			p.updateGaugesLocked()
			p.mu.Unlock()
		}
	default:
	}
}

// Release returns a previously acquired connection, reporting how the usage
// went. The connection goes back to the pool unless it is due for recycling,
// in which case it is closed and (if demand warrants) replaced.
func (p *Pool) Release(c *PooledConn, outcome Outcome) {
	if c == nil {
		return
	}

	metrics.UsageDuration.WithLabelValues(p.cfg.Name, outcome.QueryType).Observe(outcome.Duration.Seconds())

	p.mu.Lock()
	if p.closed {
		p.releaseClosedLocked(c)
		return
	}

	now := p.clock.Now()
	c.stats.recordUse(outcome)
	c.lastUsedAt = now

	recycle := false
	reason := ""
	if c.state == StatePendingRecycle {
		recycle, reason = true, c.recycleReason
	} else {
		a := Classify(c.stats.view(c.age(now)), p.cfg.MaxLifetime, p.cfg.Health)
		recycle, reason = p.recycler.shouldRecycle(c, a, now, p.breaker.aggressiveRecycle())
	}
	if recycle {
		p.retireInUseLocked(c, reason)
		replace := p.needReplacementLocked()
		p.mu.Unlock()
		c.conn.Close()
		if replace {
			go p.addReplacement()
		}
		return
	}
	p.mu.Unlock()

	// Clear session state before the connection is reusable. Outside the
	// lock: this is a round trip to the backing store.
	if rs, ok := c.conn.(SessionResetter); ok {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ValidationTimeout)
		err := rs.Reset(ctx)
		cancel()
		if err != nil {
			log.Printf("[pool] %s: session reset failed on conn %d, retiring: %v",
				p.cfg.Name, c.id, err)
			p.retireInUse(c, "reset_failed", true)
			return
		}
	}

	p.mu.Lock()
	if p.closed {
		p.releaseClosedLocked(c)
		return
	}
	// A MarkForRecycle can land while the reset round trip was in flight.
	if c.state == StatePendingRecycle {
		p.retireInUseLocked(c, c.recycleReason)
		replace := p.needReplacementLocked()
		p.mu.Unlock()
		c.conn.Close()
		if replace {
			go p.addReplacement()
		}
		return
	}
	delete(p.inUse, c.id)
	p.putLocked(c)
	p.updateGaugesLocked()
	p.mu.Unlock()
	metrics.AcquiresTotal.WithLabelValues(p.cfg.Name, "released").Inc()
}

// releaseClosedLocked handles a release that arrives after shutdown began.
// Guards against a second Close when shutdown already force-closed the
// record. Called with the lock held; releases it.
func (p *Pool) releaseClosedLocked(c *PooledConn) {
	alreadyClosed := c.state == StateClosed
	delete(p.inUse, c.id)
	c.state = StateClosed
	p.mu.Unlock()
	if !alreadyClosed {
		c.conn.Close()
	}
	p.pulseRelease()
}

// MarkForRecycle flags an in-use connection for closure at release time,
// e.g. when the query layer saw a fatal protocol error mid-use. The current
// holder is never interrupted.
func (p *Pool) MarkForRecycle(c *PooledConn, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c.state == StateInUse {
		c.state = StatePendingRecycle
		c.recycleReason = reason
	}
}

// retireInUse closes a connection currently tracked as in-use and removes it
// from the pool, optionally spawning a replacement.
func (p *Pool) retireInUse(c *PooledConn, reason string, replace bool) {
	p.mu.Lock()
	p.retireInUseLocked(c, reason)
	if reason == "validation_failed" {
		c.stats.recordValidation(false)
		metrics.ValidationFailures.WithLabelValues(p.cfg.Name).Inc()
	}
	doReplace := replace && p.needReplacementLocked()
	p.mu.Unlock()
	c.conn.Close()
	if doReplace {
		go p.addReplacement()
	}
}

func (p *Pool) retireInUseLocked(c *PooledConn, reason string) {
	delete(p.inUse, c.id)
	c.state = StateClosed
	p.updateGaugesLocked()
	metrics.RecyclesTotal.WithLabelValues(p.cfg.Name, reason).Inc()
	log.Printf("[pool] %s: recycled conn %d (%s, used %d times)",
		p.cfg.Name, c.id, reason, c.stats.usageCount)
}

// needReplacementLocked decides whether a just-retired connection should be
// replaced right away: only when demand (waiters or the floor) calls for it
// and the circuit permits creation.
func (p *Pool) needReplacementLocked() bool {
	if p.closed || !p.breaker.allowCreate() {
		return false
	}
	if p.totalLocked() >= p.scaler.targetSize() {
		return false
	}
	return len(p.waiters) > 0 || p.totalLocked() < p.cfg.MinSize
}

// addReplacement opens one connection and feeds it to a waiter or the
// available set. Runs in its own goroutine; failures only count.
func (p *Pool) addReplacement() {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.AcquireTimeout)
	defer cancel()

	c, err := p.openConn(ctx)
	if err != nil {
		p.mu.Lock()
		p.creationFailures++
		p.mu.Unlock()
		metrics.CreationErrors.WithLabelValues(p.cfg.Name).Inc()
		log.Printf("[pool] %s: replacement connection failed: %v", p.cfg.Name, err)
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

// putLocked hands a connection to the longest-waiting caller, or parks it in
// the available set. FIFO handoff keeps waiter wakeups fair; the selector
// never applies to queued waiters.
func (p *Pool) putLocked(c *PooledConn) {
	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		metrics.WaitQueueLength.WithLabelValues(p.cfg.Name).Set(float64(len(p.waiters)))
		c.state = StateInUse
		c.lastUsedAt = p.clock.Now()
		c.stats.usageCount++
		p.inUse[c.id] = c
		w.ch <- c
		return
	}
	c.state = StateAvailable
	p.available = append(p.available, c)
}

// Shutdown drains the pool: new acquires fail immediately, queued waiters
// are failed with ErrPoolClosed, idle connections are closed, and in-use
// connections get up to grace to be released before being force-closed.
func (p *Pool) Shutdown(grace time.Duration) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.stopCh)

	for _, w := range p.waiters {
		close(w.ch)
	}
	p.waiters = nil

	idle := p.available
	p.available = nil
	for _, c := range idle {
		c.state = StateClosed
	}
	p.updateGaugesLocked()
	p.mu.Unlock()

	for _, c := range idle {
		c.conn.Close()
	}

	// Wait for in-flight usages up to the grace period.
	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	graceful := true
	for graceful {
		p.mu.Lock()
		remaining := len(p.inUse)
		p.mu.Unlock()
		if remaining == 0 {
			break
		}
		select {
		case <-p.releaseCh:
		case <-deadline.C:
			graceful = false
		}
	}

	// Force-close whatever is still out.
	p.mu.Lock()
	var forced []*PooledConn
	for _, c := range p.inUse {
		c.state = StateClosed
		forced = append(forced, c)
	}
	p.inUse = make(map[uint64]*PooledConn)
	p.updateGaugesLocked()
	p.mu.Unlock()

	for _, c := range forced {
		c.conn.Close()
	}
	if len(forced) > 0 {
		log.Printf("[pool] %s: force-closed %d in-use connections at shutdown", p.cfg.Name, len(forced))
	}

	p.wg.Wait()
	log.Printf("[pool] %s: pool closed", p.cfg.Name)
}

// Stats returns a point-in-time snapshot of the pool.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statsLocked()
}

func (p *Pool) statsLocked() Stats {
	return Stats{
		Name:         p.cfg.Name,
		Size:         p.totalLocked(),
		InUse:        len(p.inUse),
		Available:    len(p.available),
		Waiters:      len(p.waiters),
		TargetSize:   p.scaler.targetSize(),
		Circuit:      p.breaker.state,
		CircuitTrips: p.breaker.trips,
	}
}

// totalLocked is the live connection count, including creations in flight
// and connections checked out by the sweep for validation.
func (p *Pool) totalLocked() int {
	return len(p.available) + len(p.inUse) + p.opening + p.sweeping
}

func (p *Pool) openConn(ctx context.Context) (*PooledConn, error) {
	conn, err := p.connector.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening connection: %w", err)
	}
	return newPooledConn(p.nextID.Add(1), p.cfg.Name, conn, p.clock.Now()), nil
}

func (p *Pool) validate(c *PooledConn) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ValidationTimeout)
	defer cancel()
	return c.conn.Validate(ctx)
}

func (p *Pool) pulseRelease() {
	select {
	case p.releaseCh <- struct{}{}:
	default:
	}
}

func (p *Pool) updateGaugesLocked() {
	metrics.PoolSize.WithLabelValues(p.cfg.Name).Set(float64(p.totalLocked()))
	metrics.PoolInUse.WithLabelValues(p.cfg.Name).Set(float64(len(p.inUse)))
	metrics.PoolAvailable.WithLabelValues(p.cfg.Name).Set(float64(len(p.available)))
	metrics.PoolTargetSize.WithLabelValues(p.cfg.Name).Set(float64(p.scaler.targetSize()))
}
