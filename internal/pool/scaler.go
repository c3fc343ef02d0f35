package pool

import "math"

// scalingController computes the pool's target size from a bounded history
// of load samples (fraction of the pool currently in use). The base target
// follows current load; a linear trend fit over the recent window nudges it
// up ahead of sustained growth or down after sustained decline. The result
// is always clamped to [min, max].
//
// All methods are called with the pool lock held.
type scalingController struct {
	cfg      ScalingConfig
	min, max int

	samples []float64
	next    int
	full    bool

	target int
}

func newScalingController(cfg ScalingConfig, min, max int) *scalingController {
	t := min
	if t < 1 {
		t = 1
	}
	return &scalingController{
		cfg:     cfg,
		min:     min,
		max:     max,
		samples: make([]float64, cfg.SampleWindow),
		target:  t,
	}
}

// observe records one load sample and re-evaluates the target.
func (s *scalingController) observe(load float64) {
	s.samples[s.next] = load
	s.next++
	if s.next == len(s.samples) {
		s.next = 0
		s.full = true
	}
	s.reevaluate(load)
}

// targetSize returns the current desired connection count.
func (s *scalingController) targetSize() int {
	return s.target
}

func (s *scalingController) reevaluate(current float64) {
	base := int(math.Round(current * float64(s.max)))

	slope := s.trendSlope()
	switch {
	case slope > s.cfg.GrowSlope:
		// Anticipatory growth, bounded per evaluation.
		step := int(math.Ceil(slope / s.cfg.GrowSlope))
		if step > s.cfg.MaxStep {
			step = s.cfg.MaxStep
		}
		base += step
	case slope < -s.cfg.ShrinkSlope:
		step := int(math.Ceil(-slope / s.cfg.ShrinkSlope))
		if step > s.cfg.MaxStep {
			step = s.cfg.MaxStep
		}
		base -= step
	}

	s.target = clampInt(base, s.min, s.max)
}

// trendSlope fits a least-squares line over the samples in insertion order
// and returns its per-sample slope. Needs at least three samples.
func (s *scalingController) trendSlope() float64 {
	ordered := s.inOrder()
	n := len(ordered)
	if n < 3 {
		return 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range ordered {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (fn*sumXY - sumX*sumY) / denom
}

// inOrder returns the sample window oldest-first.
func (s *scalingController) inOrder() []float64 {
	if !s.full {
		return s.samples[:s.next]
	}
	out := make([]float64, 0, len(s.samples))
	out = append(out, s.samples[s.next:]...)
	out = append(out, s.samples[:s.next]...)
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
