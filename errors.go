// Copyright (c) 2020–2024 The hysteresis developers. All rights reserved.
// Project site: https://github.com/gotmc/hysteresis
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package hysteresis

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

// ConfigError reports sweep parameters out of bounds. It is returned before
// any device interaction.
type ConfigError struct {
	Violations []string
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + strings.Join(e.Violations, "; ")
}

func asConfigError(err error) error {
	if err == nil {
		return nil
	}
	errs := multierr.Errors(err)
	ce := &ConfigError{Violations: make([]string, 0, len(errs))}
	for _, e := range errs {
		ce.Violations = append(ce.Violations, e.Error())
	}
	return ce
}

// MergeConfigErrors combines the violations of several validations into a
// single *ConfigError, or returns nil if every err is nil.
func MergeConfigErrors(errs ...error) error {
	var all []string
	for _, err := range errs {
		if err == nil {
			continue
		}
		var ce *ConfigError
		if errors.As(err, &ce) {
			all = append(all, ce.Violations...)
			continue
		}
		all = append(all, err.Error())
	}
	if len(all) == 0 {
		return nil
	}
	return &ConfigError{Violations: all}
}

// Phase identifies one of the two dwells of a step.
type Phase int

// Dwell phases.
const (
	BiasPhase Phase = iota
	ZeroPhase
)

func (p Phase) String() string {
	if p == ZeroPhase {
		return "0 V"
	}
	return "bias"
}

// AcquisitionError reports a poll that did not produce usable data: an empty
// poll, a missing path, or a short poll that persisted through every retry.
type AcquisitionError struct {
	Phase    Phase
	Path     string
	Attempts int
	Reason   string
}

func (e *AcquisitionError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("acquisition failed during %s dwell on %s after %d attempts: %s",
			e.Phase, e.Path, e.Attempts, e.Reason)
	}
	return fmt.Sprintf("acquisition failed during %s dwell on %s: %s", e.Phase, e.Path, e.Reason)
}

// DeviceError reports a communication failure reported by the Session.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string { return fmt.Sprintf("device %s: %s", e.Op, e.Err) }

func (e *DeviceError) Unwrap() error { return e.Err }

// StepError reports the step at which a run stopped. Err is an
// *AcquisitionError, a *DeviceError or a context error.
type StepError struct {
	Loop  int // 0-based
	Step  int // 0-based index within the loop
	Point BiasPoint
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("loop %d step %d (probe %g V, electrode %g V): %s (%s)",
		e.Loop, e.Step, e.Point.Probe, e.Point.Electrode, e.Err, e.Kind())
}

func (e *StepError) Unwrap() error { return e.Err }

// Kind names the error class that stopped the run.
func (e *StepError) Kind() string {
	var ae *AcquisitionError
	var de *DeviceError
	switch {
	case errors.As(e.Err, &ae):
		return "acquisition"
	case errors.As(e.Err, &de):
		return "device"
	default:
		return "canceled"
	}
}
