// Copyright (c) 2020–2024 The hysteresis developers. All rights reserved.
// Project site: https://github.com/gotmc/hysteresis
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package hysteresis

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cwbudde/algo-vecmath"
)

// Sampler captures the samples of single steps: it applies a bias, waits,
// polls, returns to 0 V, waits and polls again.
type Sampler struct {
	sess Session
	ch   Channels
	cfg   SweepConfig
	opts  options
	start time.Time
}

// NewSampler returns a Sampler polling sess with the channels and dwell
// settings given.
func NewSampler(sess Session, ch Channels, cfg SweepConfig, opts ...Option) *Sampler {
	return &Sampler{sess: sess, ch: ch, cfg: cfg, opts: newOptions(opts), start: time.Now()}
}

// Sample runs the bias dwell at p and then the 0 V dwell, and returns their
// samples concatenated with the 0 V times following on from the bias times.
// A dwell whose time and settle are both zero is skipped; one whose time
// alone is zero applies its offsets and settles but records nothing.
//
// Errors are *AcquisitionError, *DeviceError or the context's error.
func (s *Sampler) Sample(ctx context.Context, p BiasPoint) (*StepSample, error) {
	var bias, zero *StepSample
	var err error
	if s.cfg.BiasDwell+s.cfg.BiasSettle > 0 {
		bias, err = s.dwell(ctx, BiasPhase, p, s.cfg.BiasDwell, s.cfg.BiasSettle)
		if err != nil {
			return nil, err
		}
	}
	if s.cfg.ZeroDwell+s.cfg.ZeroSettle > 0 {
		zero, err = s.dwell(ctx, ZeroPhase, BiasPoint{}, s.cfg.ZeroDwell, s.cfg.ZeroSettle)
		if err != nil {
			return nil, err
		}
	}
	switch {
	case bias != nil && zero != nil:
		bias.concat(zero)
		return bias, nil
	case bias != nil:
		return bias, nil
	case zero != nil:
		return zero, nil
	}
	return &StepSample{}, nil
}

func (s *Sampler) dwell(ctx context.Context, ph Phase, p BiasPoint, dwell, settle time.Duration) (*StepSample, error) {
	l := s.opts.logger
	l.Debug("apply offsets", "phase", ph, "probe", p.Probe, "electrode", p.Electrode)
	err := s.sess.SetOffsets(ctx,
		AuxOffset{Index: s.ch.ProbeAux, Volts: p.Probe},
		AuxOffset{Index: s.ch.ElectrodeAux, Volts: p.Electrode},
	)
	if err != nil {
		return nil, s.deviceErr(ctx, "set offsets", err)
	}
	if err := s.opts.sleep(ctx, settle); err != nil {
		return nil, err
	}
	if !s.cfg.SkipSync {
		if err := s.sess.Sync(ctx); err != nil {
			return nil, s.deviceErr(ctx, "sync", err)
		}
	}
	if dwell <= 0 {
		return nil, nil
	}

	demod, scope, err := s.poll(ctx, ph, dwell)
	if err != nil {
		return nil, err
	}
	clockbase, err := s.sess.Clockbase(ctx)
	if err != nil {
		return nil, s.deviceErr(ctx, "clockbase", err)
	}
	if clockbase <= 0 {
		return nil, &DeviceError{Op: "clockbase", Err: fmt.Errorf("non-positive clockbase %g", clockbase)}
	}

	n := len(demod.Timestamp)
	out := &StepSample{
		X:          append([]float64(nil), demod.X...),
		Y:          append([]float64(nil), demod.Y...),
		R:          make([]float64, n),
		Phase:      make([]float64, n),
		T:          make([]float64, n),
		ProbeV:     make([]float64, n),
		ElectrodeV: make([]float64, n),
		TotalV:     make([]float64, n),
	}
	// The first sample's time is replaced by the sample spacing, so t starts
	// one period in rather than at 0.
	t0 := demod.Timestamp[0]
	for i, ts := range demod.Timestamp {
		out.T[i] = float64(ts-t0) / clockbase
	}
	first := out.T[1]
	for i := range out.T {
		out.T[i] += first
	}
	for i := range out.ProbeV {
		out.ProbeV[i] = p.Probe
		out.ElectrodeV[i] = p.Electrode
		out.TotalV[i] = p.Probe - p.Electrode
		out.Phase[i] = math.Atan2(out.Y[i], out.X[i])
	}
	vecmath.Magnitude(out.R, out.X, out.Y)

	if s.cfg.CurrentProxy {
		cur, err := MeanChunks(scope.Wave, n)
		if err != nil {
			return nil, &AcquisitionError{Phase: ph, Path: s.ch.ScopePath(), Reason: err.Error()}
		}
		out.Current = cur
		if s.opts.scopeShots != nil {
			s.opts.scopeShots(ScopeShot{Phase: ph, Point: p, Elapsed: time.Since(s.start), Wave: scope.Wave})
		}
	}
	l.Debug("dwell captured", "phase", ph, "samples", n, "duration", out.T[n-1])
	return out, nil
}

// poll returns the demodulator record of a poll with at least two samples,
// retrying stalled polls up to the retry policy's limit.
func (s *Sampler) poll(ctx context.Context, ph Phase, dwell time.Duration) (demod, scope Record, err error) {
	path := s.ch.DemodPath()
	paths := []string{path}
	if s.cfg.CurrentProxy {
		paths = append(paths, s.ch.ScopePath())
	}
	limit := s.opts.retry.attempts()
	for attempt := 1; ; attempt++ {
		data, err := s.sess.Poll(ctx, dwell, s.opts.pollTimeout, paths...)
		if err != nil {
			return Record{}, Record{}, s.deviceErr(ctx, "poll", err)
		}
		if len(data) == 0 {
			return Record{}, Record{}, &AcquisitionError{Phase: ph, Path: path,
				Reason: "poll returned no data; is the subscription active?"}
		}
		rec, ok := data[path]
		if !ok {
			return Record{}, Record{}, &AcquisitionError{Phase: ph, Path: path,
				Reason: "poll data has no entry for the demodulator path"}
		}
		if len(rec.X) != len(rec.Timestamp) || len(rec.Y) != len(rec.Timestamp) {
			return Record{}, Record{}, &AcquisitionError{Phase: ph, Path: path,
				Reason: fmt.Sprintf("mismatched record: %d x, %d y, %d timestamps",
					len(rec.X), len(rec.Y), len(rec.Timestamp))}
		}
		if len(rec.Timestamp) <= 1 {
			if attempt < limit {
				s.opts.logger.Debug("poll stalled, retrying", "phase", ph, "attempt", attempt,
					"samples", len(rec.Timestamp))
				continue
			}
			return Record{}, Record{}, &AcquisitionError{Phase: ph, Path: path, Attempts: attempt,
				Reason: fmt.Sprintf("poll stalled with %d samples", len(rec.Timestamp))}
		}
		if s.cfg.CurrentProxy {
			scope, ok = data[s.ch.ScopePath()]
			if !ok {
				return Record{}, Record{}, &AcquisitionError{Phase: ph, Path: s.ch.ScopePath(),
					Reason: "poll data has no entry for the scope path"}
			}
		}
		return rec, scope, nil
	}
}

// deviceErr passes context errors through and wraps everything else.
func (s *Sampler) deviceErr(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &DeviceError{Op: op, Err: err}
}
