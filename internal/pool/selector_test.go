package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func selectorConfig() Config {
	cfg := testConfig(1, 10).withDefaults()
	cfg.MaxLifetime = 30 * time.Minute
	return cfg
}

func candidate(id uint64, now time.Time) *PooledConn {
	c := newPooledConn(id, "test", &fakeConn{}, now.Add(-time.Minute))
	c.lastUsedAt = now.Add(-time.Second)
	return c
}

func TestSelectorSpreadsLoadToLightlyUsed(t *testing.T) {
	now := time.Now()
	cfg := selectorConfig()

	worn := candidate(1, now)
	worn.stats.usageCount = 40
	fresh := candidate(2, now)
	fresh.stats.usageCount = 2

	got := selectConn([]*PooledConn{worn, fresh}, QueryCharacteristics{}, now, &cfg)
	assert.Equal(t, fresh.ID(), got.ID())
}

func TestSelectorAvoidsErroringConnections(t *testing.T) {
	now := time.Now()
	cfg := selectorConfig()

	flaky := candidate(1, now)
	flaky.stats.usageCount = 10
	flaky.stats.errorCount = 4
	clean := candidate(2, now)
	clean.stats.usageCount = 10

	got := selectConn([]*PooledConn{flaky, clean}, QueryCharacteristics{}, now, &cfg)
	assert.Equal(t, clean.ID(), got.ID())
}

func TestSelectorAvoidsSlowConnections(t *testing.T) {
	now := time.Now()
	cfg := selectorConfig()

	slow := candidate(1, now)
	slow.stats.usageCount = 10
	for i := 0; i < 10; i++ {
		slow.stats.queryDurations.add(cfg.Health.MaxAvgQueryTime * 2)
	}
	fast := candidate(2, now)
	fast.stats.usageCount = 10
	for i := 0; i < 10; i++ {
		fast.stats.queryDurations.add(cfg.Health.MaxAvgQueryTime / 10)
	}

	got := selectConn([]*PooledConn{slow, fast}, QueryCharacteristics{}, now, &cfg)
	assert.Equal(t, fast.ID(), got.ID())
}

func TestSelectorPrefersProvenQueryTypeRecord(t *testing.T) {
	now := time.Now()
	cfg := selectorConfig()

	plain := candidate(1, now)
	plain.stats.usageCount = 5
	proven := candidate(2, now)
	proven.stats.usageCount = 5
	proven.stats.queryTypes["report"] = &queryTypeStats{count: 6, successes: 6}

	got := selectConn([]*PooledConn{plain, proven}, QueryCharacteristics{Type: "report"}, now, &cfg)
	assert.Equal(t, proven.ID(), got.ID())

	// A thin record carries no weight yet.
	thin := candidate(3, now)
	thin.stats.usageCount = 5
	thin.stats.queryTypes["report"] = &queryTypeStats{count: 2, successes: 2}
	thin.lastUsedAt = plain.lastUsedAt.Add(time.Second)

	got = selectConn([]*PooledConn{plain, thin}, QueryCharacteristics{Type: "report"}, now, &cfg)
	assert.Equal(t, plain.ID(), got.ID(), "fewer than three samples must not earn the bonus")
}

func TestSelectorSteersLongWorkAwayFromOldConnections(t *testing.T) {
	now := time.Now()
	cfg := selectorConfig()

	old := candidate(1, now)
	old.createdAt = now.Add(-29 * time.Minute)
	young := candidate(2, now)

	qc := QueryCharacteristics{Type: "report", ExpectedDuration: 5 * time.Second}
	got := selectConn([]*PooledConn{old, young}, qc, now, &cfg)
	assert.Equal(t, young.ID(), got.ID(), "long work must not land on a connection about to retire")
}

func TestSelectorTiesGoToLeastRecentlyUsed(t *testing.T) {
	now := time.Now()
	cfg := selectorConfig()

	recent := candidate(1, now)
	recent.lastUsedAt = now.Add(-time.Second)
	stale := candidate(2, now)
	stale.lastUsedAt = now.Add(-time.Minute)

	got := selectConn([]*PooledConn{recent, stale}, QueryCharacteristics{}, now, &cfg)
	assert.Equal(t, stale.ID(), got.ID())
}
