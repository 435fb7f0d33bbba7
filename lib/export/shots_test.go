package export

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gotmc/hysteresis"
	"github.com/gotmc/hysteresis/lib/settings"
)

func TestShotLog(t *testing.T) {
	var buf bytes.Buffer
	l := NewShotLog(&buf, testMeta(settings.Default()))
	l.Record(hysteresis.ScopeShot{
		Phase:   hysteresis.BiasPhase,
		Point:   hysteresis.BiasPoint{Probe: 2.5, Electrode: -0.5},
		Elapsed: 1500 * time.Millisecond,
		Wave:    []float64{0.25, -1e-6},
	})
	l.Record(hysteresis.ScopeShot{Phase: hysteresis.ZeroPhase, Elapsed: 2 * time.Second, Wave: []float64{0}})
	if err := l.Err(); err != nil {
		t.Fatal(err)
	}
	if l.Len() != 2 {
		t.Errorf("wrote %d shots, want 2", l.Len())
	}

	got := buf.String()
	head, shots, ok := strings.Cut(got, "\n\n")
	if !ok {
		t.Fatalf("no shot after the metadata:\n%s", got)
	}
	if !strings.HasPrefix(head, "# Date: Fri, 01 Mar 2024 12:30:00 UTC\n") || !strings.Contains(head, "# Label: PZT film 3") {
		t.Errorf("unexpected metadata:\n%s", head)
	}
	want := "Probe Offset\n2.5\nBottom Electrode Offset\n-0.5\nTime\n1.5\nwave\n0.25\n-1e-06\n" +
		"\nProbe Offset\n0\nBottom Electrode Offset\n0\nTime\n2\nwave\n0\n"
	if shots != want {
		t.Errorf("got shots\n%q\nwant\n%q", shots, want)
	}
}

type failWriter struct{ n int }

func (w *failWriter) Write(p []byte) (int, error) {
	w.n++
	return 0, errors.New("disk full")
}

func TestShotLogWriteError(t *testing.T) {
	w := &failWriter{}
	l := NewShotLog(w, testMeta(settings.Default()))
	for range 3 {
		l.Record(hysteresis.ScopeShot{Wave: []float64{1}})
	}
	if err := l.Err(); err == nil || err.Error() != "disk full" {
		t.Errorf("got %v, want the write error", err)
	}
	if l.Len() != 0 || w.n != 1 {
		t.Errorf("%d shots, %d writes after an error", l.Len(), w.n)
	}
}
