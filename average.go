// Copyright (c) 2020–2024 The hysteresis developers. All rights reserved.
// Project site: https://github.com/gotmc/hysteresis
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package hysteresis

import (
	"fmt"
	"math"

	"golang.org/x/exp/constraints"
)

// AverageRepeats collapses each run of consecutive, bit-identical x values
// into one point whose y is the mean of the run's y values. Inputs are
// machine-set bias levels, so no tolerance is applied.
//
// x and y must have the same length; AverageRepeats panics otherwise. The
// result is never longer than the input.
func AverageRepeats[T constraints.Float](x, y []T) ([]T, []T) {
	if len(x) != len(y) {
		panic(fmt.Sprintf("hysteresis: AverageRepeats length mismatch: len(x)=%d len(y)=%d", len(x), len(y)))
	}
	if len(x) == 0 {
		return nil, nil
	}
	var outX, outY []T
	start := 0
	for i := 1; i <= len(x); i++ {
		if i < len(x) && sameBits(x[i], x[start]) {
			continue
		}
		outX = append(outX, x[start])
		outY = append(outY, mean(y[start:i]))
		start = i
	}
	return outX, outY
}

func sameBits[T constraints.Float](a, b T) bool {
	return math.Float64bits(float64(a)) == math.Float64bits(float64(b))
}

func mean[T constraints.Float](s []T) T {
	var sum float64
	for _, v := range s {
		sum += float64(v)
	}
	return T(sum / float64(len(s)))
}

// MeanChunks reduces src to n values, each the mean of a run of consecutive
// samples. When len(src) is not a multiple of n the runs are len(src)/n or
// len(src)/n+1 long, with the longer runs spread evenly through src.
//
// It is used to bring a scope waveform down to the demodulator's sample
// count. n must be positive and no larger than len(src).
func MeanChunks[T constraints.Float](src []T, n int) ([]T, error) {
	if n <= 0 {
		return nil, fmt.Errorf("mean chunks: target length %d must be positive", n)
	}
	if len(src) < n {
		return nil, fmt.Errorf("mean chunks: %d samples cannot fill %d chunks", len(src), n)
	}
	out := make([]T, n)
	box, over := len(src)/n, len(src)%n
	acc := 0
	start := 0
	for i := range out {
		end := start + box
		acc += over
		if acc >= n {
			end++
			acc -= n
		}
		out[i] = mean(src[start:end])
		start = end
	}
	return out, nil
}
