// Package coordinator publishes this instance's pool stats and liveness to
// Redis so a fleet of pool daemons can be observed centrally. Observability
// only: the pool core never depends on it and keeps working when Redis is
// unreachable.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/joao-brasil/adaptive-pool/internal/config"
	"github.com/joao-brasil/adaptive-pool/internal/metrics"
	"github.com/joao-brasil/adaptive-pool/internal/statsapi"
	"github.com/redis/go-redis/v9"
)

const (
	keyInstanceHB    = "pool:instance:%s:heartbeat" // heartbeat key with TTL
	keyInstanceStats = "pool:instance:%s:stats"     // hash: pool name to stats JSON
	keyInstanceList  = "pool:instances"             // set of active instance IDs
)

// Publisher periodically refreshes this instance's heartbeat in Redis,
// publishes per-pool stats snapshots, and prunes instances whose heartbeat
// has expired.
type Publisher struct {
	client     *redis.Client
	instanceID string
	interval   time.Duration
	ttl        time.Duration
	pools      []statsapi.StatsSource

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewPublisher builds a publisher from the Redis config. Returns nil when no
// Redis address is configured.
func NewPublisher(cfg *config.RedisConfig, instanceID string, pools ...statsapi.StatsSource) *Publisher {
	if cfg.Addr == "" {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	return &Publisher{
		client:     client,
		instanceID: instanceID,
		interval:   cfg.HeartbeatInterval,
		ttl:        cfg.HeartbeatTTL,
		pools:      pools,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start begins the publish loop in a background goroutine.
func (p *Publisher) Start(ctx context.Context) {
	go p.loop(ctx)
	log.Printf("[coordinator] Started: interval=%s, ttl=%s, instance=%s",
		p.interval, p.ttl, p.instanceID)
}

// Stop terminates the loop, removes this instance's keys, and closes the
// Redis client.
func (p *Publisher) Stop(ctx context.Context) error {
	close(p.stopCh)
	<-p.doneCh

	pipe := p.client.Pipeline()
	pipe.Del(ctx, fmt.Sprintf(keyInstanceHB, p.instanceID))
	pipe.Del(ctx, fmt.Sprintf(keyInstanceStats, p.instanceID))
	pipe.SRem(ctx, keyInstanceList, p.instanceID)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[coordinator] Failed to deregister instance: %v", err)
	}
	metrics.InstanceHeartbeat.WithLabelValues(p.instanceID).Set(0)

	return p.client.Close()
}

func (p *Publisher) loop(ctx context.Context) {
	defer close(p.doneCh)

	// Publish immediately, then on the interval.
	p.publish(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Prune dead instances every few intervals.
	cleanupCounter := 0

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.publish(ctx)
			cleanupCounter++
			if cleanupCounter%3 == 0 {
				p.pruneDeadInstances(ctx)
			}
		}
	}
}

// publish refreshes the heartbeat key and writes one stats JSON per pool.
func (p *Publisher) publish(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	pipe := p.client.Pipeline()
	pipe.Set(ctx, fmt.Sprintf(keyInstanceHB, p.instanceID), time.Now().Unix(), p.ttl)
	pipe.SAdd(ctx, keyInstanceList, p.instanceID)

	statsKey := fmt.Sprintf(keyInstanceStats, p.instanceID)
	for _, src := range p.pools {
		st := src.Stats()
		payload, err := json.Marshal(st)
		if err != nil {
			continue
		}
		pipe.HSet(ctx, statsKey, st.Name, payload)
	}
	pipe.Expire(ctx, statsKey, p.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[coordinator] Failed to publish stats: %v", err)
		metrics.RedisOperations.WithLabelValues("publish", "error").Inc()
		return
	}

	metrics.InstanceHeartbeat.WithLabelValues(p.instanceID).Set(1)
	metrics.RedisOperations.WithLabelValues("publish", "ok").Inc()
}

// pruneDeadInstances drops membership entries whose heartbeat key expired.
func (p *Publisher) pruneDeadInstances(ctx context.Context) {
	instances, err := p.client.SMembers(ctx, keyInstanceList).Result()
	if err != nil {
		log.Printf("[coordinator] Failed to list instances: %v", err)
		return
	}

	for _, id := range instances {
		if id == p.instanceID {
			continue
		}
		exists, err := p.client.Exists(ctx, fmt.Sprintf(keyInstanceHB, id)).Result()
		if err != nil || exists > 0 {
			continue
		}
		log.Printf("[coordinator] Instance %s appears dead, pruning", id)
		pipe := p.client.Pipeline()
		pipe.Del(ctx, fmt.Sprintf(keyInstanceStats, id))
		pipe.SRem(ctx, keyInstanceList, id)
		if _, err := pipe.Exec(ctx); err != nil {
			log.Printf("[coordinator] Failed to prune instance %s: %v", id, err)
		}
	}
}
