package pool

import "time"

// statsWindowSize bounds every rolling collection so per-connection memory
// stays O(1) regardless of lifetime.
const statsWindowSize = 100

// durationWindow is a fixed-capacity FIFO of duration samples.
type durationWindow struct {
	samples []time.Duration
	next    int
	full    bool
	sum     time.Duration
}

func newDurationWindow(capacity int) *durationWindow {
	return &durationWindow{samples: make([]time.Duration, capacity)}
}

func (w *durationWindow) add(d time.Duration) {
	if w.full {
		w.sum -= w.samples[w.next]
	}
	w.samples[w.next] = d
	w.sum += d
	w.next++
	if w.next == len(w.samples) {
		w.next = 0
		w.full = true
	}
}

func (w *durationWindow) count() int {
	if w.full {
		return len(w.samples)
	}
	return w.next
}

func (w *durationWindow) avg() time.Duration {
	n := w.count()
	if n == 0 {
		return 0
	}
	return w.sum / time.Duration(n)
}

// queryTypeStats accumulates per-query-type outcomes for the selector.
type queryTypeStats struct {
	count     uint64
	successes uint64
	totalTime time.Duration
}

func (q *queryTypeStats) successRate() float64 {
	if q.count == 0 {
		return 0
	}
	return float64(q.successes) / float64(q.count)
}

// connStats holds one connection's rolling usage statistics. Mutated only
// under the pool lock (at release time and during the sweep's commit phase).
type connStats struct {
	usageCount         uint64
	errorCount         uint64
	validationFailures uint64

	queryDurations *durationWindow
	waitTimes      *durationWindow

	queryTypes map[string]*queryTypeStats
}

func newConnStats() *connStats {
	return &connStats{
		queryDurations: newDurationWindow(statsWindowSize),
		waitTimes:      newDurationWindow(statsWindowSize),
		queryTypes:     make(map[string]*queryTypeStats),
	}
}

// recordUse folds one completed usage into the rolling stats. usageCount is
// not touched here: acquisitions are counted when the loan starts.
func (s *connStats) recordUse(outcome Outcome) {
	if !outcome.Success {
		s.errorCount++
	}
	if outcome.Duration > 0 {
		s.queryDurations.add(outcome.Duration)
	}
	if outcome.QueryType != "" {
		qt := s.queryTypes[outcome.QueryType]
		if qt == nil {
			qt = &queryTypeStats{}
			s.queryTypes[outcome.QueryType] = qt
		}
		qt.count++
		qt.totalTime += outcome.Duration
		if outcome.Success {
			qt.successes++
		}
	}
}

func (s *connStats) recordWait(d time.Duration) {
	s.waitTimes.add(d)
}

func (s *connStats) recordValidation(ok bool) {
	if !ok {
		s.validationFailures++
	}
}

func (s *connStats) avgQueryTime() time.Duration {
	return s.queryDurations.avg()
}

func (s *connStats) errorRate() float64 {
	if s.usageCount == 0 {
		return 0
	}
	return float64(s.errorCount) / float64(s.usageCount)
}

// validationFailureRate relates failed checks to total uses; a connection
// that fails validation more often than it serves queries is beyond saving.
func (s *connStats) validationFailureRate() float64 {
	attempts := s.usageCount + s.validationFailures
	if attempts == 0 {
		return 0
	}
	return float64(s.validationFailures) / float64(attempts)
}

// StatsView is an immutable copy of one connection's statistics, taken under
// the pool lock and safe to hand to the pure health classifier.
type StatsView struct {
	UsageCount         uint64
	ErrorCount         uint64
	ValidationFailures uint64
	AvgQueryTime       time.Duration
	AvgWaitTime        time.Duration
	ErrorRate          float64
	ValidationFailRate float64
	Age                time.Duration
}

func (s *connStats) view(age time.Duration) StatsView {
	return StatsView{
		UsageCount:         s.usageCount,
		ErrorCount:         s.errorCount,
		ValidationFailures: s.validationFailures,
		AvgQueryTime:       s.avgQueryTime(),
		AvgWaitTime:        s.waitTimes.avg(),
		ErrorRate:          s.errorRate(),
		ValidationFailRate: s.validationFailureRate(),
		Age:                age,
	}
}
