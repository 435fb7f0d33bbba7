// Copyright (c) 2020–2024 The hysteresis developers. All rights reserved.
// Project site: https://github.com/gotmc/hysteresis
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package hysteresis

import (
	"context"
	"time"
)

// Record is the data a poll returned for one subscribed path. Demodulator
// paths fill X, Y and Timestamp; scope paths fill Wave, already scaled to
// volts.
type Record struct {
	X, Y      []float64
	Timestamp []uint64 // device clock ticks
	Wave      []float64
}

// PollData maps subscribed node paths to the data polled from them. A poll
// that received nothing returns an empty map.
type PollData map[string]Record

// AuxOffset is a manual offset for one aux output. Index is 1-based.
type AuxOffset struct {
	Index int
	Volts float64
}

// Session is a connection to a lock-in amplifier. Implementations report
// communication failures as errors; the caller wraps them as *DeviceError.
type Session interface {
	// SetOffsets drives the given aux outputs to their offsets.
	SetOffsets(ctx context.Context, offsets ...AuxOffset) error
	// Sync blocks until the device has applied every prior setting.
	Sync(ctx context.Context) error
	// Poll subscribes to paths, collects data for dwell and unsubscribes.
	// timeout bounds each individual read from the device.
	Poll(ctx context.Context, dwell, timeout time.Duration, paths ...string) (PollData, error)
	// Clockbase returns the number of timestamp ticks per second.
	Clockbase(ctx context.Context) (float64, error)
}

// Preparer is implemented by sessions that need instrument setup before the
// first step of a run and cleanup after the last one.
type Preparer interface {
	Prepare(ctx context.Context, ch Channels, cfg SweepConfig) error
	Release(ctx context.Context, ch Channels) error
}

// ScopeShot is the scope wave captured during one dwell, in volts, with the
// offsets applied and the time since the run started.
type ScopeShot struct {
	Phase   Phase
	Point   BiasPoint
	Elapsed time.Duration
	Wave    []float64
}
