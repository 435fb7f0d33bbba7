// Copyright (c) 2020–2024 The hysteresis developers. All rights reserved.
// Project site: https://github.com/gotmc/hysteresis
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package hysteresis drives piezoresponse hysteresis measurements on a
// lock-in amplifier. It walks a bias sweep pattern, holds each bias level
// (and an optional 0 V level) for a dwell while polling the demodulator, and
// accumulates the samples into a [Series].
//
// The instrument itself is reached through a [Session]; implementations live
// in the lib/lockin package.
package hysteresis
