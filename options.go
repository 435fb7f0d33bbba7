// Copyright (c) 2020–2024 The hysteresis developers. All rights reserved.
// Project site: https://github.com/gotmc/hysteresis
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package hysteresis

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultPollTimeout bounds each individual read during a poll.
const DefaultPollTimeout = 500 * time.Millisecond

// RetryPolicy bounds how often a stalled poll is repeated. A poll is stalled
// when it returns at most one timestamp, which some instruments do right
// after a subscription. There is no backoff between attempts.
type RetryPolicy struct {
	MaxAttempts int // total polls per dwell, including the first
}

// DefaultRetry polls up to 10 times.
var DefaultRetry = RetryPolicy{MaxAttempts: 10}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Progress is reported before each step of a run.
type Progress struct {
	Loop     int // 0-based
	Loops    int
	Step     Step
	Fraction float64 // of the whole run, in [0, 1)
}

// Option configures a Sampler or a Run.
type Option func(*options)

type options struct {
	logger      *log.Logger
	retry       RetryPolicy
	pollTimeout time.Duration
	progress    func(Progress)
	sleep       func(context.Context, time.Duration) error
	scopeShots  func(ScopeShot)
}

func newOptions(opts []Option) options {
	o := options{
		logger:      log.New(io.Discard),
		retry:       DefaultRetry,
		pollTimeout: DefaultPollTimeout,
		sleep:       sleep,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger. By default nothing is logged.
func WithLogger(l *log.Logger) Option { return func(o *options) { o.logger = l } }

// WithRetry sets the stalled-poll retry policy.
func WithRetry(p RetryPolicy) Option { return func(o *options) { o.retry = p } }

// WithPollTimeout sets the per-read poll timeout passed to the Session.
func WithPollTimeout(d time.Duration) Option { return func(o *options) { o.pollTimeout = d } }

// WithProgress registers a callback invoked before every step of a run, and
// once more with Fraction 1 when the run completes.
func WithProgress(fn func(Progress)) Option { return func(o *options) { o.progress = fn } }

// WithScopeShots calls fn with the scope wave of every dwell when the
// current proxy is recorded. The wave is not retained by the sampler.
func WithScopeShots(fn func(ScopeShot)) Option { return func(o *options) { o.scopeShots = fn } }

// WithSleep replaces the settle wait. Tests use it to avoid real delays.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(o *options) { o.sleep = fn }
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
