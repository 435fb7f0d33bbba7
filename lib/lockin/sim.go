package lockin

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/gotmc/hysteresis"
)

// ErrDisconnected is returned by every call on a Sim after Disconnect.
var ErrDisconnected = errors.New("sim: device disconnected")

// Sim is a Session on a simulated ferroelectric sample under a conductive
// probe. The demodulated response follows the sample's polarization, which
// switches when the voltage across it passes the coercive voltage, so a
// sweep traces a hysteresis loop. Output is deterministic for a given seed.
//
// Sim never sleeps unless WithRealTime is given. Faults can be injected with
// Stall, DropNext and Disconnect.
type Sim struct {
	mu sync.Mutex

	ch        hysteresis.Channels
	rate      float64 // demodulator samples per second
	clockbase float64 // timestamp ticks per second
	coercive  float64 // volts
	width     float64 // volts, sharpness of switching
	amplitude float64 // volts of X at full polarization
	noise     float64 // volts rms
	realTime  bool
	rng       *rand.Rand

	scopeRatio int // scope samples per demodulator sample
	bwLimit    bool

	aux   [hysteresis.NumAuxOuts]float64
	pol   float64
	ticks uint64

	stalls       int
	drop         bool
	disconnected error
	polls        int
}

// SimOption configures a Sim.
type SimOption func(*Sim)

// WithSeed seeds the noise source.
func WithSeed(seed int64) SimOption { return func(s *Sim) { s.rng = rand.New(rand.NewSource(seed)) } }

// WithNoise sets the rms noise added to X, Y and the scope wave.
func WithNoise(v float64) SimOption { return func(s *Sim) { s.noise = v } }

// WithCoercive sets the coercive voltage of the sample.
func WithCoercive(v float64) SimOption { return func(s *Sim) { s.coercive = v } }

// WithDemodRate sets the demodulator sample rate in Hz.
func WithDemodRate(hz float64) SimOption { return func(s *Sim) { s.rate = hz } }

// WithRealTime makes polls take as long as their dwell.
func WithRealTime() SimOption { return func(s *Sim) { s.realTime = true } }

// Sim defaults.
const (
	SimClockbase = 60e6
	SimDemodRate = 1000
	// scope samples per demodulator sample
	simScopeRatio = 4
)

// NewSim returns a simulated session answering polls for ch's demodulator
// and scope paths.
func NewSim(ch hysteresis.Channels, opts ...SimOption) *Sim {
	s := &Sim{
		ch:        ch,
		rate:      SimDemodRate,
		clockbase: SimClockbase,
		coercive:  2,
		width:     0.4,
		amplitude: 1e-3,
		noise:     2e-5,
		rng:       rand.New(rand.NewSource(1)),
		pol:       -1,

		scopeRatio: simScopeRatio,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stall makes the next n polls return a single sample.
func (s *Sim) Stall(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stalls = n
}

// DropNext makes the next poll return no data at all.
func (s *Sim) DropNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drop = true
}

// Disconnect makes every subsequent call fail with err, or with
// ErrDisconnected if err is nil.
func (s *Sim) Disconnect(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		err = ErrDisconnected
	}
	s.disconnected = err
}

// Offset returns the voltage on aux output i (1-based).
func (s *Sim) Offset(i int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auxOut(i)
}

// Polls returns the number of polls answered so far.
func (s *Sim) Polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

// Prepare zeroes the aux outputs and adopts ch and cfg's scope setup. Scope
// rate index k gives 16>>k scope samples per demodulator sample, at least
// one; the bandwidth limit averages the scope noise over them.
func (s *Sim) Prepare(_ context.Context, ch hysteresis.Channels, cfg hysteresis.SweepConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disconnected != nil {
		return s.disconnected
	}
	s.ch = ch
	s.aux = [hysteresis.NumAuxOuts]float64{}
	s.scopeRatio = max(1, 16>>max(cfg.Scope.Rate, 0))
	s.bwLimit = cfg.Scope.BandwidthLimit
	return nil
}

// Release zeroes the aux outputs.
func (s *Sim) Release(context.Context, hysteresis.Channels) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disconnected != nil {
		return s.disconnected
	}
	s.aux = [hysteresis.NumAuxOuts]float64{}
	return nil
}

// SetOffsets sets aux output voltages.
func (s *Sim) SetOffsets(ctx context.Context, offsets ...hysteresis.AuxOffset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disconnected != nil {
		return s.disconnected
	}
	for _, o := range offsets {
		if o.Index < 1 || o.Index > hysteresis.NumAuxOuts {
			return errors.New("sim: aux output out of range")
		}
		s.aux[o.Index-1] = o.Volts
	}
	return ctx.Err()
}

// Sync returns once the simulated device has caught up, which is at once.
func (s *Sim) Sync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disconnected != nil {
		return s.disconnected
	}
	return ctx.Err()
}

// Clockbase returns the timestamp tick rate.
func (s *Sim) Clockbase(context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disconnected != nil {
		return 0, s.disconnected
	}
	return s.clockbase, nil
}

// Poll returns dwell's worth of demodulator samples, and a scope wave when
// the scope path is requested.
func (s *Sim) Poll(ctx context.Context, dwell, _ time.Duration, paths ...string) (hysteresis.PollData, error) {
	if s.realTime {
		if err := sleepCtx(ctx, dwell); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disconnected != nil {
		return nil, s.disconnected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.polls++
	if s.drop {
		s.drop = false
		return hysteresis.PollData{}, nil
	}

	n := int(math.Round(dwell.Seconds() * s.rate))
	if s.stalls > 0 {
		s.stalls--
		n = 1
	}
	v := s.bias()
	prev := s.pol
	s.switchTo(v)

	data := hysteresis.PollData{}
	for _, p := range paths {
		switch p {
		case s.ch.DemodPath():
			data[p] = s.demod(n, v)
		case s.ch.ScopePath():
			data[p] = s.scope(s.scopeRatio*n, v, s.pol-prev)
		}
	}
	s.ticks += uint64(float64(n) * s.clockbase / s.rate)
	return data, nil
}

// bias is the voltage across the sample.
func (s *Sim) bias() float64 {
	return s.auxOut(s.ch.ProbeAux) - s.auxOut(s.ch.ElectrodeAux)
}

func (s *Sim) auxOut(i int) float64 {
	if i < 1 || i > len(s.aux) {
		return 0
	}
	return s.aux[i-1]
}

// switchTo moves the polarization within the envelope of the up and down
// switching branches, which is what makes the response history dependent.
func (s *Sim) switchTo(v float64) {
	up := math.Tanh((v - s.coercive) / s.width)
	down := math.Tanh((v + s.coercive) / s.width)
	s.pol = math.Min(math.Max(s.pol, up), down)
}

func (s *Sim) demod(n int, v float64) hysteresis.Record {
	rec := hysteresis.Record{
		X:         make([]float64, n),
		Y:         make([]float64, n),
		Timestamp: make([]uint64, n),
	}
	step := s.clockbase / s.rate
	for i := 0; i < n; i++ {
		rec.X[i] = s.amplitude*s.pol + s.noise*s.rng.NormFloat64()
		// Electrostatic background, linear in the bias.
		rec.Y[i] = 0.02*s.amplitude*v + s.noise*s.rng.NormFloat64()
		rec.Timestamp[i] = s.ticks + uint64(float64(i)*step)
	}
	return rec
}

func (s *Sim) scope(n int, v, switched float64) hysteresis.Record {
	wave := make([]float64, n)
	tau := float64(n)/10 + 1
	noise := s.noise
	if s.bwLimit {
		noise /= math.Sqrt(float64(s.scopeRatio))
	}
	for i := range wave {
		// Leakage plus a decaying switching current.
		wave[i] = 1e-3*v + 0.05*switched*math.Exp(-float64(i)/tau) + noise*s.rng.NormFloat64()
	}
	return hysteresis.Record{Wave: wave}
}
