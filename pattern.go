// Copyright (c) 2020–2024 The hysteresis developers. All rights reserved.
// Project site: https://github.com/gotmc/hysteresis
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package hysteresis

// BiasPoint is the pair of aux output offsets applied during a step's bias
// dwell.
type BiasPoint struct {
	Probe     float64 // volts on the probe aux output
	Electrode float64 // volts on the bottom electrode aux output
}

// Total is the voltage across the sample.
func (b BiasPoint) Total() float64 { return b.Probe - b.Electrode }

// Step is one visited bias level of a loop.
type Step struct {
	Index    int // position within the loop, 0-based
	NumSteps int // levels per loop
	Point    BiasPoint
}

// Progress returns the fraction of the whole run completed when this step
// begins, given the 0-based loop and the total number of loops.
func (s Step) Progress(loop, loops int) float64 {
	return (float64(loop) + float64(s.Index)/float64(s.NumSteps)) / float64(loops)
}

// Generate returns the ordered bias levels of one loop of cfg's pattern. It
// is a pure function of cfg and may be called once per loop.
//
// cfg must have passed Validate; StepCount < 1 yields nil. The bottom
// electrode is driven in the opposite direction to the probe, so its offsets
// are the negated electrode settings.
func Generate(cfg SweepConfig) []Step {
	if cfg.StepCount < 1 {
		return nil
	}
	n := cfg.NumSteps()
	lo := BiasPoint{Probe: cfg.ProbeMin, Electrode: invert(cfg.ElectrodeMin)}
	hi := BiasPoint{Probe: cfg.ProbeMax, Electrode: invert(cfg.ElectrodeMax)}

	g := generator{steps: make([]Step, 0, n), n: n}
	switch cfg.Pattern {
	case MinMax:
		g.leg(lo, hi, 0, n-1, n-1)
	case MinMaxMin:
		up := n/2 + n%2
		down := n / 2
		if up < 2 {
			// Two levels: just the endpoints.
			up, down = 2, 0
		}
		g.leg(lo, hi, 0, up-1, up-1)
		g.leg(hi, lo, 1, down, down)
	case ZeroMaxZeroMinZero:
		// The remainder of n/4 goes to the legs in order, one point each,
		// so the legs always sum to n.
		q, r := n/4, n%4
		up := q + extra(r > 0)
		across := 2*q + extra(r > 1)
		back := q + extra(r > 2)
		var zero BiasPoint
		g.leg(zero, hi, 0, up-1, up-1)
		g.leg(hi, lo, 1, across, across)
		g.leg(lo, zero, 1, back, back)
	}
	return g.steps
}

// invert negates v without producing -0, which would not compare
// bit-identical to the 0 V dwell's level.
func invert(v float64) float64 {
	if v == 0 {
		return 0
	}
	return -v
}

func extra(b bool) int {
	if b {
		return 1
	}
	return 0
}

type generator struct {
	steps []Step
	n     int
}

// leg appends the points start + j*(end-start)/denom for j in [first, last].
// A leg whose denominator is 0 holds only its start point.
func (g *generator) leg(start, end BiasPoint, first, last, denom int) {
	for j := first; j <= last; j++ {
		g.steps = append(g.steps, Step{
			Index:    len(g.steps),
			NumSteps: g.n,
			Point: BiasPoint{
				Probe:     lerp(start.Probe, end.Probe, j, denom),
				Electrode: lerp(start.Electrode, end.Electrode, j, denom),
			},
		})
	}
}

func lerp(start, end float64, j, denom int) float64 {
	switch {
	case j == 0 || denom == 0:
		return start
	case j == denom:
		return end
	}
	incr := (end - start) / float64(denom)
	return start + float64(j)*incr
}
