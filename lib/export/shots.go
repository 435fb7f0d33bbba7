package export

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/gotmc/hysteresis"
)

// ShotLog appends the scope wave of every dwell to a text file. Each shot
// is a block of labelled lines: the probe and bottom electrode offsets, the
// time since the run started in seconds, then the wave one value per line.
type ShotLog struct {
	w   *bufio.Writer
	n   int
	err error
}

// NewShotLog writes the run metadata to w and returns a log of shots
// following it.
func NewShotLog(w io.Writer, meta Meta) *ShotLog {
	l := &ShotLog{w: bufio.NewWriter(w)}
	writeMeta(l.w, meta)
	return l
}

// Record appends sh. It is meant for [hysteresis.WithScopeShots]; write
// errors are kept for Err and later shots are dropped.
func (l *ShotLog) Record(sh hysteresis.ScopeShot) {
	if l.err != nil {
		return
	}
	fmt.Fprintf(l.w, "\nProbe Offset\n%s\nBottom Electrode Offset\n%s\nTime\n%s\nwave\n",
		formatFloat(sh.Point.Probe), formatFloat(sh.Point.Electrode), formatFloat(sh.Elapsed.Seconds()))
	for _, v := range sh.Wave {
		l.w.WriteString(formatFloat(v))
		l.w.WriteByte('\n')
	}
	// Each shot is flushed as it comes.
	l.err = l.w.Flush()
	if l.err == nil {
		l.n++
	}
}

// Len returns the number of shots written.
func (l *ShotLog) Len() int { return l.n }

// Err returns the first write error.
func (l *ShotLog) Err() error {
	if l.err != nil {
		return l.err
	}
	return l.w.Flush()
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
