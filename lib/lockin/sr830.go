// Package lockin provides hysteresis.Session implementations: a Stanford
// Research SR830 reached over GPIB, and a simulated sample.
package lockin

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gotmc/hysteresis"
	"github.com/gotmc/query"
	"github.com/pkg/errors"
)

// Instrument is the GPIB connection an SR830 is driven through.
// *gpib.Controller satisfies it.
type Instrument interface {
	Command(format string, a ...any) error
	Query(cmd string) (string, error)
	QueryBinary(cmd string, n int) ([]byte, error)
}

// SR830 limits.
const (
	sr830AuxLimit = 10.5
	sr830MaxRate  = 13 // SRAT index of 512 Hz
	sr830MaxPts   = 16383
)

// SR830 is a Session on a Stanford Research SR830 DSP lock-in amplifier. The
// instrument has a single demodulator; X and Y are captured through the two
// display data buffers, which are filled at the configured sample rate while
// a poll is in progress.
//
// The SR830 has no scope, so the current proxy is not supported.
type SR830 struct {
	inst   Instrument
	ch     hysteresis.Channels
	rate   int
	clock  float64
	ticks  uint64
	logger *log.Logger
	sleep  func(context.Context, time.Duration) error
}

// SR830Option configures an SR830.
type SR830Option func(*SR830)

// WithSampleRate selects the buffer sample rate by its SRAT index: rate k
// samples at 62.5 mHz × 2^k, so 0 is 62.5 mHz and 13 is 512 Hz.
func WithSampleRate(k int) SR830Option { return func(s *SR830) { s.rate = k } }

// WithSR830Logger sets the logger.
func WithSR830Logger(l *log.Logger) SR830Option { return func(s *SR830) { s.logger = l } }

// NewSR830 returns a session on the SR830 behind inst, answering polls for
// ch's demodulator path. The default sample rate is 512 Hz.
func NewSR830(inst Instrument, ch hysteresis.Channels, opts ...SR830Option) (*SR830, error) {
	s := &SR830{
		inst:   inst,
		ch:     ch,
		rate:   sr830MaxRate,
		logger: log.New(io.Discard),
		sleep:  sleepCtx,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rate < 0 || s.rate > sr830MaxRate {
		return nil, fmt.Errorf("sr830: sample rate index %d not in 0..%d", s.rate, sr830MaxRate)
	}
	s.clock = sampleRate(s.rate)
	return s, nil
}

// sampleRate returns the rate in Hz of SRAT index k.
func sampleRate(k int) float64 { return 0.0625 * math.Exp2(float64(k)) }

// Identify returns the instrument's *IDN? string.
func (s *SR830) Identify() (string, error) {
	id, err := query.String(s.inst, "*IDN?")
	if err != nil {
		return "", errors.Wrap(err, "sr830: identify")
	}
	return strings.TrimSpace(id), nil
}

// Prepare routes X and Y to the data buffers, selects one-shot buffering at
// the configured rate and zeroes both aux outputs.
func (s *SR830) Prepare(ctx context.Context, ch hysteresis.Channels, cfg hysteresis.SweepConfig) error {
	if ch.Demod != 1 {
		return fmt.Errorf("sr830: demodulator %d requested, the instrument has only 1", ch.Demod)
	}
	if cfg.CurrentProxy {
		return fmt.Errorf("sr830: current proxy recording is not supported")
	}
	s.ch = ch
	cmds := []string{
		"OUTX 1",     // respond over GPIB
		"DDEF 1,0,0", // CH1 displays X
		"DDEF 2,0,0", // CH2 displays Y
		"SEND 0",     // stop at the end of the buffer
		fmt.Sprintf("SRAT %d", s.rate),
		"REST",
	}
	for _, cmd := range cmds {
		if err := s.inst.Command(cmd); err != nil {
			return errors.Wrapf(err, "sr830: prepare %q", cmd)
		}
	}
	if err := s.zero(ctx); err != nil {
		return err
	}
	s.logger.Info("sr830 prepared", "rate_hz", s.clock, "probe_aux", ch.ProbeAux, "electrode_aux", ch.ElectrodeAux)
	return nil
}

// Release returns both aux outputs to 0 V.
func (s *SR830) Release(ctx context.Context, ch hysteresis.Channels) error {
	s.ch = ch
	return s.zero(ctx)
}

func (s *SR830) zero(ctx context.Context) error {
	return s.SetOffsets(ctx,
		hysteresis.AuxOffset{Index: s.ch.ProbeAux},
		hysteresis.AuxOffset{Index: s.ch.ElectrodeAux},
	)
}

// SetOffsets writes each aux output voltage.
func (s *SR830) SetOffsets(ctx context.Context, offsets ...hysteresis.AuxOffset) error {
	for _, o := range offsets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if o.Index < 1 || o.Index > hysteresis.NumAuxOuts {
			return fmt.Errorf("sr830: aux output %d not in 1..%d", o.Index, hysteresis.NumAuxOuts)
		}
		if math.IsNaN(o.Volts) || math.IsInf(o.Volts, 0) || math.Abs(o.Volts) > sr830AuxLimit {
			return fmt.Errorf("sr830: aux output %d: %g V exceeds ±%g V", o.Index, o.Volts, sr830AuxLimit)
		}
		if err := s.inst.Command("AUXV %d,%.4f", o.Index, o.Volts); err != nil {
			return errors.Wrapf(err, "sr830: set aux output %d", o.Index)
		}
	}
	return nil
}

// Sync waits for the instrument to finish processing every command sent.
func (s *SR830) Sync(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done, err := query.Int(s.inst, "*OPC?")
	if err != nil {
		return errors.Wrap(err, "sr830: sync")
	}
	if done != 1 {
		return fmt.Errorf("sr830: *OPC? returned %d", done)
	}
	return nil
}

// Poll fills the data buffers for dwell and returns what was captured under
// the demodulator path. Paths other than the demodulator's are not answered.
// Timestamps count samples since the session was created, so Clockbase is
// the sample rate.
//
// The per-read timeout is set on the GPIB controller, not per poll.
func (s *SR830) Poll(ctx context.Context, dwell, _ time.Duration, paths ...string) (hysteresis.PollData, error) {
	want := false
	for _, p := range paths {
		if p == s.ch.DemodPath() {
			want = true
		}
	}
	data := hysteresis.PollData{}
	if !want {
		return data, nil
	}
	for _, cmd := range []string{"REST", "STRT"} {
		if err := s.inst.Command(cmd); err != nil {
			return nil, errors.Wrapf(err, "sr830: poll %q", cmd)
		}
	}
	if err := s.sleep(ctx, dwell); err != nil {
		// Leave the buffer stopped.
		if perr := s.inst.Command("PAUS"); perr != nil {
			s.logger.Debug("pause after cancel failed", "err", perr)
		}
		return nil, err
	}
	if err := s.inst.Command("PAUS"); err != nil {
		return nil, errors.Wrap(err, "sr830: poll pause")
	}
	n, err := query.Int(s.inst, "SPTS?")
	if err != nil {
		return nil, errors.Wrap(err, "sr830: stored points")
	}
	if n > sr830MaxPts {
		n = sr830MaxPts
	}
	var rec hysteresis.Record
	if n > 0 {
		if rec.X, err = s.readBuffer(1, n); err != nil {
			return nil, err
		}
		if rec.Y, err = s.readBuffer(2, n); err != nil {
			return nil, err
		}
		rec.Timestamp = make([]uint64, n)
		for i := range rec.Timestamp {
			rec.Timestamp[i] = s.ticks + uint64(i)
		}
		s.ticks += uint64(n)
	}
	s.logger.Debug("sr830 poll", "dwell", dwell, "points", n)
	data[s.ch.DemodPath()] = rec
	return data, nil
}

func (s *SR830) readBuffer(buf, n int) ([]float64, error) {
	b, err := s.inst.QueryBinary(fmt.Sprintf("TRCB? %d,0,%d", buf, n), 4*n)
	if err != nil {
		return nil, errors.Wrapf(err, "sr830: read buffer %d", buf)
	}
	v, err := decodeFloats(b, n)
	if err != nil {
		return nil, errors.Wrapf(err, "sr830: buffer %d", buf)
	}
	return v, nil
}

// Clockbase returns the buffer sample rate in Hz.
func (s *SR830) Clockbase(context.Context) (float64, error) { return s.clock, nil }

// decodeFloats unpacks n little-endian IEEE 754 single precision values.
func decodeFloats(b []byte, n int) ([]float64, error) {
	if len(b) != 4*n {
		return nil, fmt.Errorf("invalid length: expect %d bytes, got %d", 4*n, len(b))
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:])))
	}
	return out, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
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
