// Copyright (c) 2020–2024 The hysteresis developers. All rights reserved.
// Project site: https://github.com/gotmc/hysteresis
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package hysteresis

import (
	"fmt"
	"strings"
)

// Channel identifies one measured or derived quantity.
type Channel int

// Measured channels, in export order.
const (
	ChanTotalV Channel = iota
	ChanX
	ChanY
	ChanR
	ChanPhase
	ChanT
	ChanProbeV
	ChanElectrodeV
	ChanCurrent
	numChannels
)

var channelInfo = [numChannels]struct{ name, unit string }{
	ChanTotalV:     {"TotalV", "V"},
	ChanX:          {"X", "V"},
	ChanY:          {"Y", "V"},
	ChanR:          {"R", "V"},
	ChanPhase:      {"Phase", "Rad"},
	ChanT:          {"t", "s"},
	ChanProbeV:     {"ProbeV", "V"},
	ChanElectrodeV: {"ElectrodeV", "V"},
	ChanCurrent:    {"CFM_V", "V"},
}

// AllChannels lists every channel in export order.
var AllChannels = []Channel{
	ChanTotalV, ChanX, ChanY, ChanR, ChanPhase, ChanT, ChanProbeV, ChanElectrodeV, ChanCurrent,
}

func (c Channel) String() string {
	if c < 0 || c >= numChannels {
		return fmt.Sprintf("Channel(%d)", int(c))
	}
	return channelInfo[c].name
}

// Unit returns the channel's unit symbol.
func (c Channel) Unit() string {
	if c < 0 || c >= numChannels {
		return ""
	}
	return channelInfo[c].unit
}

// ParseChannel returns the channel named s. The older name BotElectV is
// accepted for ChanElectrodeV.
func ParseChannel(s string) (Channel, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "BotElectV") {
		return ChanElectrodeV, nil
	}
	for _, c := range AllChannels {
		if strings.EqualFold(s, c.String()) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown channel %q", s)
}

// Set implements flag.Value.
func (c *Channel) Set(s string) error {
	v, err := ParseChannel(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// StepSample is the data captured for one step: the bias dwell followed by
// the 0 V dwell, concatenated. Every slice has the same length. Current is
// nil unless the current proxy was recorded.
type StepSample struct {
	X, Y       []float64
	R, Phase   []float64
	T          []float64 // seconds from the start of the step
	ProbeV     []float64
	ElectrodeV []float64
	TotalV     []float64
	Current    []float64
}

// Len returns the number of points in s.
func (s *StepSample) Len() int { return len(s.T) }

func (s *StepSample) check() {
	n := len(s.T)
	cols := [][]float64{s.X, s.Y, s.R, s.Phase, s.ProbeV, s.ElectrodeV}
	names := []string{"X", "Y", "R", "Phase", "ProbeV", "ElectrodeV"}
	for i, col := range cols {
		if len(col) != n {
			panic(fmt.Sprintf("hysteresis: malformed step sample: len(%s)=%d, len(t)=%d", names[i], len(col), n))
		}
	}
	if s.TotalV != nil && len(s.TotalV) != n {
		panic(fmt.Sprintf("hysteresis: malformed step sample: len(TotalV)=%d, len(t)=%d", len(s.TotalV), n))
	}
	if s.Current != nil && len(s.Current) != n {
		panic(fmt.Sprintf("hysteresis: malformed step sample: len(CFM_V)=%d, len(t)=%d", len(s.Current), n))
	}
}

// concat appends next to s, shifting next's times by s's final time.
func (s *StepSample) concat(next *StepSample) {
	var shift float64
	if len(s.T) > 0 {
		shift = s.T[len(s.T)-1]
	}
	s.X = append(s.X, next.X...)
	s.Y = append(s.Y, next.Y...)
	s.R = append(s.R, next.R...)
	s.Phase = append(s.Phase, next.Phase...)
	for _, t := range next.T {
		s.T = append(s.T, t+shift)
	}
	s.ProbeV = append(s.ProbeV, next.ProbeV...)
	s.ElectrodeV = append(s.ElectrodeV, next.ElectrodeV...)
	s.TotalV = append(s.TotalV, next.TotalV...)
	if next.Current != nil {
		s.Current = append(s.Current, next.Current...)
	}
}

// Series accumulates the samples of a run. Every column has the same
// length, except Current which is either empty or the same length. TotalV
// is always ProbeV-ElectrodeV and T never decreases.
//
// The zero value is an empty series ready for use. A Series is written by a
// single goroutine, the one driving the run.
type Series struct {
	X, Y       []float64
	R, Phase   []float64
	T          []float64
	ProbeV     []float64
	ElectrodeV []float64
	TotalV     []float64
	Current    []float64
}

// Len returns the number of recorded points.
func (m *Series) Len() int { return len(m.T) }

// HasCurrent reports whether the current proxy channel was recorded.
func (m *Series) HasCurrent() bool { return len(m.Current) > 0 }

// Record appends a step's samples. Times are shifted by the last recorded
// time so T keeps increasing across steps; the first step is appended
// unshifted. TotalV is recomputed from ProbeV and ElectrodeV.
//
// A step with mismatched column lengths is a programming error and panics.
func (m *Series) Record(s *StepSample) {
	s.check()
	if s.Len() == 0 {
		return
	}
	if m.Len() > 0 && m.HasCurrent() != (s.Current != nil) {
		panic("hysteresis: step sample current proxy does not match the series")
	}

	var shift float64
	if len(m.T) > 0 {
		shift = m.T[len(m.T)-1]
	}
	m.X = append(m.X, s.X...)
	m.Y = append(m.Y, s.Y...)
	m.R = append(m.R, s.R...)
	m.Phase = append(m.Phase, s.Phase...)
	for _, t := range s.T {
		m.T = append(m.T, t+shift)
	}
	m.ProbeV = append(m.ProbeV, s.ProbeV...)
	m.ElectrodeV = append(m.ElectrodeV, s.ElectrodeV...)
	for i := range s.ProbeV {
		m.TotalV = append(m.TotalV, s.ProbeV[i]-s.ElectrodeV[i])
	}
	m.Current = append(m.Current, s.Current...)
}

// Clear empties every column.
func (m *Series) Clear() {
	*m = Series{}
}

// Column returns the values recorded for c. The slice aliases the series.
func (m *Series) Column(c Channel) []float64 {
	if p := m.column(c); p != nil {
		return *p
	}
	return nil
}

func (m *Series) column(c Channel) *[]float64 {
	switch c {
	case ChanTotalV:
		return &m.TotalV
	case ChanX:
		return &m.X
	case ChanY:
		return &m.Y
	case ChanR:
		return &m.R
	case ChanPhase:
		return &m.Phase
	case ChanT:
		return &m.T
	case ChanProbeV:
		return &m.ProbeV
	case ChanElectrodeV:
		return &m.ElectrodeV
	case ChanCurrent:
		return &m.Current
	}
	return nil
}

// Channels returns the channels present in m, in export order.
func (m *Series) Channels() []Channel {
	out := make([]Channel, 0, len(AllChannels))
	for _, c := range AllChannels {
		if c == ChanCurrent && !m.HasCurrent() {
			continue
		}
		out = append(out, c)
	}
	return out
}

// SetColumn replaces the values of c. It is used when loading exported data;
// the caller is responsible for keeping the columns the same length.
func (m *Series) SetColumn(c Channel, v []float64) {
	if p := m.column(c); p != nil {
		*p = v
	}
}

// AverageBy returns a new series in which every run of identical values on
// the axis channel is collapsed to a single point. The other channels hold
// the mean over the run.
func (m *Series) AverageBy(axis Channel) *Series {
	out := &Series{}
	ax := m.Column(axis)
	if len(ax) == 0 {
		return out
	}
	for _, c := range m.Channels() {
		if c == axis {
			continue
		}
		x, y := AverageRepeats(ax, m.Column(c))
		out.SetColumn(c, y)
		out.SetColumn(axis, x)
	}
	return out
}
