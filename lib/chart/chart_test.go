package chart

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/plot/plotter"

	"github.com/gotmc/hysteresis"
)

func loop() *hysteresis.Series {
	return &hysteresis.Series{
		X:          []float64{-1, -0.8, 0.9, 1, 0.7, -0.9},
		Y:          []float64{0, 0, 0, 0, 0, 0},
		R:          []float64{1, 0.8, 0.9, 1, 0.7, 0.9},
		Phase:      []float64{0, 0, 0, 0, 0, 0},
		T:          []float64{1, 2, 3, 4, 5, 6},
		ProbeV:     []float64{-2, -2, 2, 2, 0, 0},
		ElectrodeV: []float64{0, 0, 0, 0, 0, 0},
		TotalV:     []float64{-2, -2, 2, 2, 0, 0},
	}
}

func TestPoints(t *testing.T) {
	got := Points(loop(), hysteresis.ChanTotalV, hysteresis.ChanX, false)
	if len(got) != 6 || got[2] != (plotter.XY{X: 2, Y: 0.9}) {
		t.Errorf("got %v", got)
	}

	got = Points(loop(), hysteresis.ChanTotalV, hysteresis.ChanX, true)
	want := plotter.XYs{{X: -2, Y: -0.9}, {X: 2, Y: 0.95}, {X: 0, Y: -0.1}}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if d := got[i].Y - want[i].Y; got[i].X != want[i].X || d > 1e-12 || d < -1e-12 {
			t.Errorf("point %d: got %v, want %v", i, got[i], want[i])
		}
	}

	if got := Points(loop(), hysteresis.ChanTotalV, hysteresis.ChanCurrent, false); len(got) != 0 {
		t.Errorf("unrecorded channel gave %v", got)
	}
}

func TestSave(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"loop.png", "loop.svg"} {
		path := filepath.Join(dir, name)
		if err := Save(path, loop(), hysteresis.ChanTotalV, hysteresis.ChanX, "test loop", true); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if fi, err := os.Stat(path); err != nil || fi.Size() == 0 {
			t.Errorf("%s: not written (%v)", name, err)
		}
	}

	err := Save(filepath.Join(dir, "empty.png"), &hysteresis.Series{}, hysteresis.ChanTotalV, hysteresis.ChanX, "", false)
	if !errors.Is(err, ErrNoData) {
		t.Errorf("got %v, want ErrNoData", err)
	}
	if err := Save(filepath.Join(dir, "loop.bmp"), loop(), hysteresis.ChanTotalV, hysteresis.ChanX, "", false); err == nil {
		t.Error("expected an error for an unknown format")
	}
}

func TestAxisLabel(t *testing.T) {
	if got := axisLabel(hysteresis.ChanPhase); got != "Phase (Rad)" {
		t.Errorf("got %q", got)
	}
}
