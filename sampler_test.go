package hysteresis

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

func quickConfig() SweepConfig {
	cfg := DefaultConfig()
	cfg.BiasDwell = 100 * time.Millisecond
	cfg.ZeroDwell = 50 * time.Millisecond
	return cfg
}

func TestSamplerSample(t *testing.T) {
	f := newFakeSession(3)
	var slept []time.Duration
	cfg := quickConfig()
	s := NewSampler(f, DefaultChannels(), cfg, WithSleep(func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}))
	p := BiasPoint{Probe: 2, Electrode: -1}
	got, err := s.Sample(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}

	// Each poll's timestamps are 10 ticks apart at 10 ticks/s, and times
	// start one period in.
	wantT := []float64{1, 2, 3, 4, 5, 6}
	if !sameFloats(got.T, wantT) {
		t.Errorf("t %v, want %v", got.T, wantT)
	}
	wantProbe := []float64{2, 2, 2, 0, 0, 0}
	if !sameFloats(got.ProbeV, wantProbe) {
		t.Errorf("probe %v, want %v", got.ProbeV, wantProbe)
	}
	for i := range got.T {
		if got.TotalV[i] != got.ProbeV[i]-got.ElectrodeV[i] {
			t.Errorf("point %d: TotalV %g", i, got.TotalV[i])
		}
		if got.R[i] != 5 {
			t.Errorf("point %d: R %g, want 5", i, got.R[i])
		}
		if math.Abs(got.Phase[i]-math.Atan2(4, 3)) > 1e-12 {
			t.Errorf("point %d: phase %g", i, got.Phase[i])
		}
	}
	if got.Current != nil {
		t.Errorf("current recorded without the proxy enabled: %v", got.Current)
	}

	wantOffsets := [][]AuxOffset{
		{{Index: 1, Volts: 2}, {Index: 2, Volts: -1}},
		{{Index: 1, Volts: 0}, {Index: 2, Volts: 0}},
	}
	if len(f.offsets) != len(wantOffsets) {
		t.Fatalf("offsets %v, want %v", f.offsets, wantOffsets)
	}
	for i := range wantOffsets {
		for j := range wantOffsets[i] {
			if f.offsets[i][j] != wantOffsets[i][j] {
				t.Errorf("offsets %v, want %v", f.offsets, wantOffsets)
			}
		}
	}
	if f.syncs != 2 || f.polls != 2 {
		t.Errorf("%d syncs and %d polls, want 2 and 2", f.syncs, f.polls)
	}
	if f.dwells[0] != cfg.BiasDwell || f.dwells[1] != cfg.ZeroDwell {
		t.Errorf("polled for %v, want %v then %v", f.dwells, cfg.BiasDwell, cfg.ZeroDwell)
	}
	if len(slept) != 2 || slept[0] != cfg.BiasSettle || slept[1] != cfg.ZeroSettle {
		t.Errorf("settled for %v", slept)
	}
}

func TestSamplerSkips(t *testing.T) {
	f := newFakeSession(3)
	cfg := quickConfig()
	cfg.BiasDwell, cfg.BiasSettle = 0, 0
	cfg.SkipSync = true
	s := NewSampler(f, DefaultChannels(), cfg, WithSleep(noSleep))
	got, err := s.Sample(context.Background(), BiasPoint{Probe: 4})
	if err != nil {
		t.Fatal(err)
	}
	if got.Len() != 3 {
		t.Errorf("len %d, want 3", got.Len())
	}
	for _, v := range got.ProbeV {
		if v != 0 {
			t.Errorf("0 V dwell recorded probe %g", v)
		}
	}
	if len(f.offsets) != 1 || f.syncs != 0 {
		t.Errorf("%d offset writes and %d syncs, want 1 and 0", len(f.offsets), f.syncs)
	}
}

func TestSamplerSettleOnly(t *testing.T) {
	f := newFakeSession(3)
	cfg := quickConfig()
	cfg.ZeroDwell = 0
	s := NewSampler(f, DefaultChannels(), cfg, WithSleep(noSleep))
	got, err := s.Sample(context.Background(), BiasPoint{Probe: 1})
	if err != nil {
		t.Fatal(err)
	}
	// The 0 V settle still returns the outputs to 0 but records nothing.
	if got.Len() != 3 || len(f.offsets) != 2 || f.polls != 1 {
		t.Errorf("len %d, %d offset writes, %d polls", got.Len(), len(f.offsets), f.polls)
	}
}

func TestSamplerCurrentProxy(t *testing.T) {
	f := newFakeSession(3)
	cfg := quickConfig()
	cfg.CurrentProxy = true
	s := NewSampler(f, DefaultChannels(), cfg, WithSleep(noSleep))
	got, err := s.Sample(context.Background(), BiasPoint{Probe: 1})
	if err != nil {
		t.Fatal(err)
	}
	// The wave 0..5 is reduced to 3 chunks of two.
	want := []float64{0.5, 2.5, 4.5, 0.5, 2.5, 4.5}
	if !sameFloats(got.Current, want) {
		t.Errorf("current %v, want %v", got.Current, want)
	}
}

func TestSamplerScopeShots(t *testing.T) {
	f := newFakeSession(3)
	cfg := quickConfig()
	cfg.CurrentProxy = true
	var shots []ScopeShot
	s := NewSampler(f, DefaultChannels(), cfg, WithSleep(noSleep),
		WithScopeShots(func(sh ScopeShot) { shots = append(shots, sh) }))
	p := BiasPoint{Probe: 1, Electrode: -0.5}
	if _, err := s.Sample(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if len(shots) != 2 {
		t.Fatalf("got %d shots, want 2", len(shots))
	}
	if shots[0].Phase != BiasPhase || shots[0].Point != p {
		t.Errorf("bias shot %v at %+v", shots[0].Phase, shots[0].Point)
	}
	if shots[1].Phase != ZeroPhase || shots[1].Point != (BiasPoint{}) {
		t.Errorf("0 V shot %v at %+v", shots[1].Phase, shots[1].Point)
	}
	for i, sh := range shots {
		if len(sh.Wave) != 6 || sh.Wave[5] != 5 {
			t.Errorf("shot %d wave %v", i, sh.Wave)
		}
	}
	if shots[0].Elapsed < 0 || shots[1].Elapsed < shots[0].Elapsed {
		t.Errorf("elapsed %s then %s", shots[0].Elapsed, shots[1].Elapsed)
	}

	shots = nil
	cfg.CurrentProxy = false
	s = NewSampler(f, DefaultChannels(), cfg, WithSleep(noSleep),
		WithScopeShots(func(sh ScopeShot) { shots = append(shots, sh) }))
	if _, err := s.Sample(context.Background(), p); err != nil {
		t.Fatal(err)
	}
	if len(shots) != 0 {
		t.Errorf("got %d shots without the current proxy", len(shots))
	}
}

func TestSamplerStallRetry(t *testing.T) {
	f := newFakeSession(3)
	good := f.respond
	f.respond = func(n int, paths []string) (PollData, error) {
		if n <= 3 {
			return steady(1)(n, paths)
		}
		return good(n, paths)
	}
	cfg := quickConfig()
	cfg.ZeroDwell, cfg.ZeroSettle = 0, 0
	s := NewSampler(f, DefaultChannels(), cfg, WithSleep(noSleep))
	got, err := s.Sample(context.Background(), BiasPoint{Probe: 1})
	if err != nil {
		t.Fatal(err)
	}
	if f.polls != 4 || got.Len() != 3 {
		t.Errorf("%d polls and %d points, want 4 and 3", f.polls, got.Len())
	}
}

func TestSamplerErrors(t *testing.T) {
	boom := errors.New("boom")
	for _, td := range []struct {
		name      string
		respond   func(int, []string) (PollData, error)
		failSet   error
		wantPolls int
		check     func(*testing.T, error)
	}{
		{
			name:      "stalled",
			respond:   steady(1),
			wantPolls: 10,
			check: func(t *testing.T, err error) {
				var ae *AcquisitionError
				if !errors.As(err, &ae) || ae.Attempts != 10 || ae.Phase != BiasPhase {
					t.Errorf("got %v, want an acquisition error after 10 attempts", err)
				}
			},
		},
		{
			name:      "empty",
			respond:   func(int, []string) (PollData, error) { return PollData{}, nil },
			wantPolls: 1,
			check: func(t *testing.T, err error) {
				var ae *AcquisitionError
				if !errors.As(err, &ae) {
					t.Errorf("got %v, want an acquisition error", err)
				}
			},
		},
		{
			name: "missing path",
			respond: func(n int, _ []string) (PollData, error) {
				return steady(3)(n, []string{"/dev801/demods/5/sample"})
			},
			wantPolls: 1,
			check: func(t *testing.T, err error) {
				var ae *AcquisitionError
				if !errors.As(err, &ae) || ae.Path != DefaultChannels().DemodPath() {
					t.Errorf("got %v, want an acquisition error on the demod path", err)
				}
			},
		},
		{
			name:      "poll fails",
			respond:   func(int, []string) (PollData, error) { return nil, boom },
			wantPolls: 1,
			check: func(t *testing.T, err error) {
				var de *DeviceError
				if !errors.As(err, &de) || !errors.Is(err, boom) {
					t.Errorf("got %v, want a device error wrapping boom", err)
				}
			},
		},
		{
			name:      "offsets fail",
			respond:   steady(3),
			failSet:   boom,
			wantPolls: 0,
			check: func(t *testing.T, err error) {
				var de *DeviceError
				if !errors.As(err, &de) || de.Op != "set offsets" {
					t.Errorf("got %v, want a set offsets device error", err)
				}
			},
		},
	} {
		t.Run(td.name, func(t *testing.T) {
			f := newFakeSession(3)
			f.respond = td.respond
			f.failSet = td.failSet
			s := NewSampler(f, DefaultChannels(), quickConfig(), WithSleep(noSleep))
			_, err := s.Sample(context.Background(), BiasPoint{Probe: 1})
			td.check(t, err)
			if f.polls != td.wantPolls {
				t.Errorf("%d polls, want %d", f.polls, td.wantPolls)
			}
		})
	}
}

func TestSamplerCustomRetry(t *testing.T) {
	f := newFakeSession(3)
	f.respond = steady(0)
	s := NewSampler(f, DefaultChannels(), quickConfig(), WithSleep(noSleep), WithRetry(RetryPolicy{MaxAttempts: 2}))
	_, err := s.Sample(context.Background(), BiasPoint{})
	var ae *AcquisitionError
	if !errors.As(err, &ae) || f.polls != 2 {
		t.Errorf("got %v after %d polls, want an acquisition error after 2", err, f.polls)
	}
}
