// Copyright (c) 2020–2024 The hysteresis developers. All rights reserved.
// Project site: https://github.com/gotmc/hysteresis
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package hysteresis

import (
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// MaxOffset is the largest magnitude, in volts, an aux output may be driven to.
const MaxOffset = 10.0

// Pattern names the shape of the bias trajectory across one loop.
type Pattern int

// Available sweep patterns.
const (
	MinMax Pattern = iota
	MinMaxMin
	ZeroMaxZeroMinZero
)

var patternDesc = map[Pattern]string{
	MinMax:             "Min-Max",
	MinMaxMin:          "Min-Max-Min",
	ZeroMaxZeroMinZero: "0-Max-0-Min-0",
}

// Patterns lists every pattern in presentation order.
var Patterns = []Pattern{MinMax, MinMaxMin, ZeroMaxZeroMinZero}

func (p Pattern) String() string {
	if s, ok := patternDesc[p]; ok {
		return s
	}
	return fmt.Sprintf("Pattern(%d)", int(p))
}

// ParsePattern returns the pattern whose name is s. Matching ignores case and
// surrounding whitespace.
func ParsePattern(s string) (Pattern, error) {
	s = strings.TrimSpace(s)
	for _, p := range Patterns {
		if strings.EqualFold(s, p.String()) {
			return p, nil
		}
	}
	names := make([]string, 0, len(Patterns))
	for _, p := range Patterns {
		names = append(names, p.String())
	}
	return 0, fmt.Errorf("unknown pattern %q (want one of %s)", s, strings.Join(names, ", "))
}

// Set implements flag.Value.
func (p *Pattern) Set(s string) error {
	v, err := ParsePattern(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// SweepConfig holds the parameters of one run. It is read-only while a run
// is in progress.
type SweepConfig struct {
	ProbeMax, ProbeMin         float64 // volts
	ElectrodeMax, ElectrodeMin float64 // volts, applied inverted

	BiasDwell  time.Duration // polling time while biased
	BiasSettle time.Duration // wait after applying the bias
	ZeroDwell  time.Duration // polling time at 0 V
	ZeroSettle time.Duration // wait after returning to 0 V

	StepCount int // bias levels per pattern, excluding the 0th
	LoopCount int
	Pattern   Pattern

	// SkipSync omits the device sync after each settle.
	SkipSync bool
	// CurrentProxy records the scope waveform as an extra channel.
	CurrentProxy bool
	Scope        ScopeConfig
}

// NumScopeRates is the number of scope sampling rates. Index 0 is the
// fastest; each index halves the rate of the one before.
const NumScopeRates = 16

// ScopeConfig sets up the scope recording the current proxy.
type ScopeConfig struct {
	Rate           int  // sampling rate index, 0..NumScopeRates-1
	BandwidthLimit bool // average down to the sampling rate instead of subsampling
}

// NumSteps is the number of bias levels visited per loop, including the
// implicit 0th level.
func (c SweepConfig) NumSteps() int { return c.StepCount + 1 }

// DefaultConfig returns the settings the measurement form starts with.
func DefaultConfig() SweepConfig {
	return SweepConfig{
		ProbeMax:   5,
		ProbeMin:   -5,
		BiasDwell:  100 * time.Millisecond,
		BiasSettle: 10 * time.Millisecond,
		ZeroDwell:  100 * time.Millisecond,
		ZeroSettle: 10 * time.Millisecond,
		StepCount:  20,
		LoopCount:  1,
		Pattern:    ZeroMaxZeroMinZero,
		Scope:      ScopeConfig{Rate: 8},
	}
}

// Validate checks the config against physical and logical bounds. Every
// violation is reported, not just the first; the result is a *ConfigError.
func (c SweepConfig) Validate() error {
	var err error
	bound := func(name string, v float64) {
		if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > MaxOffset {
			err = multierr.Append(err, fmt.Errorf("%s %g V outside ±%g V", name, v, MaxOffset))
		}
	}
	bound("probe max", c.ProbeMax)
	bound("probe min", c.ProbeMin)
	bound("bottom electrode max", c.ElectrodeMax)
	bound("bottom electrode min", c.ElectrodeMin)

	nonNeg := func(name string, d time.Duration) {
		if d < 0 {
			err = multierr.Append(err, fmt.Errorf("%s must be at least 0 ms, got %s", name, d))
		}
	}
	nonNeg("bias time", c.BiasDwell)
	nonNeg("bias settle", c.BiasSettle)
	nonNeg("0 V time", c.ZeroDwell)
	nonNeg("0 V settle", c.ZeroSettle)
	if c.BiasDwell <= 0 && c.ZeroDwell <= 0 {
		err = multierr.Append(err, fmt.Errorf("bias time and 0 V time are both 0; nothing would be recorded"))
	}

	if c.StepCount < 1 {
		err = multierr.Append(err, fmt.Errorf("steps must be at least 1, got %d", c.StepCount))
	}
	if c.LoopCount < 1 {
		err = multierr.Append(err, fmt.Errorf("loop number must be at least 1, got %d", c.LoopCount))
	}
	if c.Scope.Rate < 0 || c.Scope.Rate >= NumScopeRates {
		err = multierr.Append(err, fmt.Errorf("scope rate %d is not in 0..%d", c.Scope.Rate, NumScopeRates-1))
	}
	if _, ok := patternDesc[c.Pattern]; !ok {
		err = multierr.Append(err, fmt.Errorf("unknown pattern %s", c.Pattern))
	}
	return asConfigError(err)
}

// Channels assigns instrument channels to the measurement. All indices are
// 1-based, as printed on the instrument's front panel.
type Channels struct {
	Device       string // device id, e.g. "dev801"
	ProbeAux     int    // aux output driving the probe
	ElectrodeAux int    // aux output driving the bottom electrode
	Demod        int    // demodulator polled for x/y
	SignalOut    int    // signal output carrying the AC excitation
	ScopeInput   int    // signal input used as current proxy
}

// Valid channel ranges.
const (
	NumAuxOuts   = 4
	NumDemods    = 6
	NumSigOuts   = 2
	NumScopeIns  = 2
	DefaultDevID = "dev801"
)

// DefaultChannels returns the channel assignment the measurement form starts with.
func DefaultChannels() Channels {
	return Channels{
		Device:       DefaultDevID,
		ProbeAux:     1,
		ElectrodeAux: 2,
		Demod:        1,
		SignalOut:    1,
		ScopeInput:   1,
	}
}

// Validate checks that every index is in range and that the two aux outputs
// differ. The result is a *ConfigError.
func (ch Channels) Validate() error {
	var err error
	in := func(name string, v, n int) {
		if v < 1 || v > n {
			err = multierr.Append(err, fmt.Errorf("%s %d is not in 1..%d", name, v, n))
		}
	}
	if strings.TrimSpace(ch.Device) == "" {
		err = multierr.Append(err, fmt.Errorf("device id is empty"))
	}
	in("probe aux out", ch.ProbeAux, NumAuxOuts)
	in("bottom electrode aux out", ch.ElectrodeAux, NumAuxOuts)
	if ch.ProbeAux == ch.ElectrodeAux {
		err = multierr.Append(err, fmt.Errorf("probe and bottom electrode aux outs cannot be the same"))
	}
	in("demodulator", ch.Demod, NumDemods)
	in("signal output", ch.SignalOut, NumSigOuts)
	in("current proxy input", ch.ScopeInput, NumScopeIns)
	return asConfigError(err)
}

// DemodPath is the node path of the configured demodulator's sample stream.
func (ch Channels) DemodPath() string {
	return fmt.Sprintf("/%s/demods/%d/sample", ch.Device, ch.Demod-1)
}

// ScopePath is the node path of the scope waveform stream.
func (ch Channels) ScopePath() string {
	return fmt.Sprintf("/%s/scopes/0/wave", ch.Device)
}
