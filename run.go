// Copyright (c) 2020–2024 The hysteresis developers. All rights reserved.
// Project site: https://github.com/gotmc/hysteresis
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package hysteresis

import (
	"context"
	"time"

	"go.uber.org/multierr"
)

// Run validates cfg and ch and then sweeps sess through cfg.LoopCount loops
// of cfg's pattern, recording every step into series. Nothing touches the
// device if validation fails; the error is then a *ConfigError.
//
// The context is checked before each step. A run that stops early returns a
// *StepError naming the step, and series keeps everything recorded before
// it. If sess implements Preparer, Prepare is called before the first step
// and Release after the last, even on failure.
func Run(ctx context.Context, sess Session, ch Channels, cfg SweepConfig, series *Series, opts ...Option) (err error) {
	if err := MergeConfigErrors(cfg.Validate(), ch.Validate()); err != nil {
		return err
	}
	o := newOptions(opts)
	l := o.logger
	sampler := &Sampler{sess: sess, ch: ch, cfg: cfg, opts: o, start: time.Now()}

	if p, ok := sess.(Preparer); ok {
		if err := p.Prepare(ctx, ch, cfg); err != nil {
			return &DeviceError{Op: "prepare", Err: err}
		}
		defer func() {
			if rerr := p.Release(context.WithoutCancel(ctx), ch); rerr != nil {
				err = multierr.Append(err, &DeviceError{Op: "release", Err: rerr})
			}
		}()
	}

	steps := Generate(cfg)
	l.Info("sweep starting", "pattern", cfg.Pattern, "levels", len(steps), "loops", cfg.LoopCount)
	for loop := 0; loop < cfg.LoopCount; loop++ {
		for _, st := range steps {
			if err := ctx.Err(); err != nil {
				return &StepError{Loop: loop, Step: st.Index, Point: st.Point, Err: err}
			}
			if o.progress != nil {
				o.progress(Progress{
					Loop:     loop,
					Loops:    cfg.LoopCount,
					Step:     st,
					Fraction: st.Progress(loop, cfg.LoopCount),
				})
			}
			sample, err := sampler.Sample(ctx, st.Point)
			if err != nil {
				l.Error("step failed", "loop", loop, "step", st.Index, "err", err)
				return &StepError{Loop: loop, Step: st.Index, Point: st.Point, Err: err}
			}
			series.Record(sample)
			l.Debug("step recorded", "loop", loop, "step", st.Index,
				"probe", st.Point.Probe, "electrode", st.Point.Electrode, "points", sample.Len())
		}
	}
	if o.progress != nil && len(steps) > 0 {
		last := steps[len(steps)-1]
		o.progress(Progress{Loop: cfg.LoopCount - 1, Loops: cfg.LoopCount, Step: last, Fraction: 1})
	}
	l.Info("sweep complete", "points", series.Len())
	return nil
}
