package hysteresis

import (
	"context"
	"errors"
	"testing"
)

func TestRunTwoLevels(t *testing.T) {
	f := newFakeSession(4)
	cfg := quickConfig()
	cfg.Pattern = MinMax
	cfg.ProbeMin, cfg.ProbeMax = 0, 10
	cfg.StepCount = 1
	cfg.LoopCount = 1

	var m Series
	var fractions []float64
	err := Run(context.Background(), f, DefaultChannels(), cfg, &m,
		WithSleep(noSleep),
		WithProgress(func(p Progress) { fractions = append(fractions, p.Fraction) }))
	if err != nil {
		t.Fatal(err)
	}

	// Bias then 0 V for each of the two levels.
	var probes []float64
	for _, o := range f.offsets {
		probes = append(probes, o[0].Volts)
	}
	if !sameFloats(probes, []float64{0, 0, 10, 0}) {
		t.Errorf("probe offsets %v, want [0 0 10 0]", probes)
	}
	if m.Len() != 16 {
		t.Errorf("len %d, want 16", m.Len())
	}
	for i := 1; i < m.Len(); i++ {
		if m.T[i] <= m.T[i-1] {
			t.Errorf("t not increasing at %d: %g after %g", i, m.T[i], m.T[i-1])
		}
	}
	if !sameFloats(fractions, []float64{0, 0.5, 1}) {
		t.Errorf("progress %v, want [0 0.5 1]", fractions)
	}
}

func TestRunLoops(t *testing.T) {
	f := newFakeSession(2)
	cfg := quickConfig()
	cfg.StepCount = 3
	cfg.LoopCount = 3
	var m Series
	if err := Run(context.Background(), f, DefaultChannels(), cfg, &m, WithSleep(noSleep)); err != nil {
		t.Fatal(err)
	}
	// 3 loops of 4 levels, 2 dwells of 2 points each.
	if m.Len() != 3*4*2*2 {
		t.Errorf("len %d, want %d", m.Len(), 3*4*2*2)
	}
	if f.polls != 3*4*2 {
		t.Errorf("%d polls, want %d", f.polls, 3*4*2)
	}
}

func TestRunInvalidConfig(t *testing.T) {
	f := newFakeSession(2)
	cfg := quickConfig()
	cfg.ProbeMax = 20
	ch := DefaultChannels()
	ch.ElectrodeAux = ch.ProbeAux
	var m Series
	err := Run(context.Background(), f, ch, cfg, &m)
	var ce *ConfigError
	if !errors.As(err, &ce) || len(ce.Violations) != 2 {
		t.Fatalf("got %v, want a config error with two violations", err)
	}
	if len(f.offsets) != 0 || f.polls != 0 || f.syncs != 0 {
		t.Error("the device was touched despite an invalid config")
	}
}

func TestRunStopsOnFailure(t *testing.T) {
	f := newFakeSession(2)
	good := f.respond
	f.respond = func(n int, paths []string) (PollData, error) {
		// Polls 1-4 cover steps 0 and 1; step 2's bias poll is empty.
		if n == 5 {
			return PollData{}, nil
		}
		return good(n, paths)
	}
	cfg := quickConfig()
	cfg.StepCount = 4
	var m Series
	err := Run(context.Background(), f, DefaultChannels(), cfg, &m, WithSleep(noSleep))

	var se *StepError
	if !errors.As(err, &se) {
		t.Fatalf("got %v, want a *StepError", err)
	}
	if se.Loop != 0 || se.Step != 2 || se.Kind() != "acquisition" {
		t.Errorf("stopped at loop %d step %d (%s)", se.Loop, se.Step, se.Kind())
	}
	var ae *AcquisitionError
	if !errors.As(err, &ae) {
		t.Errorf("%v does not wrap an acquisition error", err)
	}
	if m.Len() != 2*2*2 {
		t.Errorf("kept %d points, want %d", m.Len(), 2*2*2)
	}
}

func TestRunCanceled(t *testing.T) {
	f := newFakeSession(2)
	cfg := quickConfig()
	cfg.StepCount = 4
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var m Series
	err := Run(ctx, f, DefaultChannels(), cfg, &m, WithSleep(noSleep),
		WithProgress(func(p Progress) {
			if p.Step.Index == 1 {
				cancel()
			}
		}))

	var se *StepError
	if !errors.As(err, &se) || !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want a canceled *StepError", err)
	}
	if se.Kind() != "canceled" {
		t.Errorf("kind %q, want canceled", se.Kind())
	}
	if m.Len() != 4 {
		t.Errorf("kept %d points, want the 4 of step 0", m.Len())
	}
}

func TestRunPreparer(t *testing.T) {
	p := &preparingSession{fakeSession: newFakeSession(2)}
	var m Series
	if err := Run(context.Background(), p, DefaultChannels(), quickConfig(), &m, WithSleep(noSleep)); err != nil {
		t.Fatal(err)
	}
	if p.prepared != 1 || p.released != 1 {
		t.Errorf("prepared %d, released %d; want 1 and 1", p.prepared, p.released)
	}

	p = &preparingSession{fakeSession: newFakeSession(2)}
	p.failSet = errors.New("unplugged")
	m.Clear()
	err := Run(context.Background(), p, DefaultChannels(), quickConfig(), &m, WithSleep(noSleep))
	var de *DeviceError
	if !errors.As(err, &de) {
		t.Errorf("got %v, want a device error", err)
	}
	if p.released != 1 {
		t.Errorf("released %d times after a failure, want 1", p.released)
	}
}
