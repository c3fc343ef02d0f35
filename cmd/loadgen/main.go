// Package main is a load generator that drives concurrent acquire/hold/
// release cycles against one configured pool and prints the resulting
// stats, for exercising scaling and circuit behavior against a live target.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/joao-brasil/adaptive-pool/internal/config"
	"github.com/joao-brasil/adaptive-pool/internal/connector"
	"github.com/joao-brasil/adaptive-pool/internal/pool"
)

var (
	daemonConfigPath = flag.String("config", "configs/poold.yaml", "Path to daemon configuration file")
	poolsConfigPath  = flag.String("pools", "configs/pools.yaml", "Path to pools configuration file")
	poolName         = flag.String("pool", "", "Pool to drive (defaults to the first configured)")
	workers          = flag.Int("workers", 20, "Concurrent workers")
	duration         = flag.Duration("duration", 30*time.Second, "Run duration")
	hold             = flag.Duration("hold", 50*time.Millisecond, "How long each worker holds a connection")
)

var queryTypes = []string{"read", "write", "report"}

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	runID := uuid.NewString()[:8]
	log.Printf("[loadgen] Run %s: workers=%d, duration=%s, hold=%s", runID, *workers, *duration, *hold)

	cfg, err := config.Load(*daemonConfigPath, *poolsConfigPath)
	if err != nil {
		log.Fatalf("[loadgen] Failed to load configuration: %v", err)
	}

	spec := &cfg.Pools[0]
	if *poolName != "" {
		s, ok := cfg.PoolByName(*poolName)
		if !ok {
			log.Fatalf("[loadgen] Unknown pool %q", *poolName)
		}
		spec = s
	}

	ctx := context.Background()
	p, err := pool.New(ctx, spec.Pool, connector.NewSQLServer(&spec.Target))
	if err != nil {
		log.Fatalf("[loadgen] Failed to initialize pool %s: %v", spec.Pool.Name, err)
	}

	var (
		acquired     atomic.Uint64
		timeouts     atomic.Uint64
		circuitOpens atomic.Uint64
		wg           sync.WaitGroup
	)

	deadline := time.Now().Add(*duration)
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(worker)))
			for time.Now().Before(deadline) {
				qt := queryTypes[rng.Intn(len(queryTypes))]
				start := time.Now()
				conn, err := p.AcquireFor(ctx, pool.QueryCharacteristics{Type: qt, ExpectedDuration: *hold})
				if err != nil {
					var coe *pool.CircuitOpenError
					var toe *pool.TimeoutError
					switch {
					case errors.As(err, &coe):
						circuitOpens.Add(1)
						time.Sleep(time.Second)
					case errors.As(err, &toe):
						timeouts.Add(1)
					default:
						log.Printf("[loadgen] worker %d acquire: %v", worker, err)
					}
					continue
				}
				acquired.Add(1)
				time.Sleep(*hold)
				p.Release(conn, pool.Outcome{
					Success:   true,
					Duration:  time.Since(start),
					QueryType: qt,
				})
			}
		}(i)
	}

	ticker := time.NewTicker(5 * time.Second)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	for running := true; running; {
		select {
		case <-ticker.C:
			st := p.Stats()
			log.Printf("[loadgen] size=%d in_use=%d available=%d waiters=%d target=%d circuit=%s",
				st.Size, st.InUse, st.Available, st.Waiters, st.TargetSize, st.Circuit)
		case <-done:
			running = false
		}
	}
	ticker.Stop()

	p.Shutdown(10 * time.Second)
	log.Printf("[loadgen] Run %s done: acquired=%d, timeouts=%d, circuit_open=%d",
		runID, acquired.Load(), timeouts.Load(), circuitOpens.Load())
}
