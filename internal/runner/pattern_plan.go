package runner

import (
	"math"
	"time"
)

const (
	// maxRampWindow caps the ramp-up phase.
	maxRampWindow = 10 * time.Second
	// rampFraction is the share of the run spent ramping when that is shorter.
	rampFraction = 0.3
	// minRampRate keeps the clock valid while the target is still near zero.
	minRampRate = 0.1
	// rampTolerance is how far the target may drift from the clock's rate
	// before the clock is re-rated.
	rampTolerance = 1.0
)

type patternPlan struct {
	segments []patternSegment
	ramp     time.Duration
	maxRate  float64
}

type patternSegment struct {
	start    time.Duration
	duration time.Duration
	fromRate float64
	toRate   float64
}

// compileRampPlan builds the ramp-up profile: a linear climb from zero to
// rate over min(10s, 30% of the run), then a hold at rate.
func compileRampPlan(rate float64, total time.Duration) *patternPlan {
	if rate <= 0 || total <= 0 {
		return nil
	}
	ramp := rampWindow(total)

	plan := &patternPlan{ramp: ramp}
	plan.appendSegment(patternSegment{start: 0, duration: ramp, fromRate: 0, toRate: rate})
	if hold := total - ramp; hold > 0 {
		plan.appendSegment(patternSegment{start: ramp, duration: hold, fromRate: rate, toRate: rate})
	}
	return plan
}

func rampWindow(total time.Duration) time.Duration {
	ramp := time.Duration(float64(total) * rampFraction)
	if ramp > maxRampWindow {
		ramp = maxRampWindow
	}
	return ramp
}

func (p *patternPlan) appendSegment(seg patternSegment) {
	if seg.duration <= 0 {
		return
	}
	p.segments = append(p.segments, seg)
	p.maxRate = math.Max(p.maxRate, math.Max(seg.fromRate, seg.toRate))
}

// rateAt returns the target rate elapsed into the run. After the last
// segment the plan holds its peak rate and reports false.
func (p *patternPlan) rateAt(elapsed time.Duration) (float64, bool) {
	if p == nil || len(p.segments) == 0 {
		return 0, false
	}
	if elapsed < 0 {
		elapsed = 0
	}
	for _, seg := range p.segments {
		end := seg.start + seg.duration
		if elapsed < seg.start || elapsed >= end {
			continue
		}
		if seg.fromRate == seg.toRate {
			return seg.fromRate, true
		}
		progress := float64(elapsed-seg.start) / float64(seg.duration)
		progress = math.Min(math.Max(progress, 0), 1)
		return seg.fromRate + (seg.toRate-seg.fromRate)*progress, true
	}
	return p.maxRate, false
}

// rampedUp reports whether the climb is over at elapsed.
func (p *patternPlan) rampedUp(elapsed time.Duration) bool {
	if p == nil {
		return true
	}
	return elapsed >= p.ramp
}
