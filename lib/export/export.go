// Package export writes measured series to text files and reads them back.
//
// A file starts with a metadata block of "# " lines, followed by a line of
// channel names, a line of units and one row per point, all tab separated.
package export

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/gotmc/hysteresis"
	"github.com/gotmc/hysteresis/lib/settings"
	"go.uber.org/multierr"
)

// Meta describes a run.
type Meta struct {
	RunID    uuid.UUID
	Label    string
	Started  time.Time
	Settings settings.Settings
}

// NewMeta returns metadata for a run starting now, with a fresh run id.
func NewMeta(label string, s settings.Settings) Meta {
	return Meta{RunID: uuid.New(), Label: label, Started: time.Now(), Settings: s}
}

// AverageAxis returns the channel the settings ask repeats to be averaged
// over: the plot x channel if x averaging is on, else the plot y channel if
// y averaging is on.
func AverageAxis(s settings.Settings) (hysteresis.Channel, bool) {
	switch {
	case s.AverageX:
		return s.PlotX, true
	case s.AverageY:
		return s.PlotY, true
	}
	return 0, false
}

// Write writes the metadata and m to w, averaged over repeats as the
// settings ask.
func Write(w io.Writer, meta Meta, m *hysteresis.Series) error {
	bw := bufio.NewWriter(w)
	writeMeta(bw, meta)
	if axis, ok := AverageAxis(meta.Settings); ok {
		fmt.Fprintf(bw, "# averaged over repeated %s\n", axis)
		m = m.AverageBy(axis)
	}
	bw.WriteString("\n")

	chans := m.Channels()
	names := make([]string, len(chans))
	units := make([]string, len(chans))
	for i, c := range chans {
		names[i] = c.String()
		units[i] = c.Unit()
	}
	fmt.Fprintln(bw, strings.Join(names, "\t"))
	fmt.Fprintln(bw, strings.Join(units, "\t"))

	cols := make([][]float64, len(chans))
	for i, c := range chans {
		cols[i] = m.Column(c)
	}
	row := make([]string, len(chans))
	for j := 0; j < m.Len(); j++ {
		for i, col := range cols {
			row[i] = strconv.FormatFloat(col[j], 'g', -1, 64)
		}
		fmt.Fprintln(bw, strings.Join(row, "\t"))
	}
	return bw.Flush()
}

func writeMeta(w io.Writer, meta Meta) {
	fmt.Fprintf(w, "# Date: %s\n", meta.Started.Format(time.RFC1123))
	fmt.Fprintf(w, "# Run ID: %s\n", meta.RunID)
	if meta.Label != "" {
		fmt.Fprintf(w, "# Label: %s\n", meta.Label)
	}
	for _, f := range meta.Settings.Fields() {
		if f.Unit != "" {
			fmt.Fprintf(w, "# %s: %s %s\n", f.Name, f.Value, f.Unit)
		} else {
			fmt.Fprintf(w, "# %s: %s\n", f.Name, f.Value)
		}
	}
}

// Read reads a file written by Write. The metadata is returned keyed by
// name, with units left in the values.
func Read(r io.Reader) (*hysteresis.Series, map[string]string, error) {
	meta := map[string]string{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	var chans []hysteresis.Channel
	var cols [][]float64
	unitsSeen := false
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		switch {
		case text == "":
			continue
		case strings.HasPrefix(text, "#"):
			if k, v, ok := strings.Cut(strings.TrimPrefix(text, "# "), ": "); ok {
				meta[k] = v
			}
			continue
		case chans == nil:
			for _, name := range strings.Fields(text) {
				c, err := hysteresis.ParseChannel(name)
				if err != nil {
					return nil, meta, fmt.Errorf("line %d: %w", line, err)
				}
				chans = append(chans, c)
			}
			cols = make([][]float64, len(chans))
			continue
		case !unitsSeen:
			unitsSeen = true
			continue
		}
		vals := strings.Fields(text)
		if len(vals) != len(chans) {
			return nil, meta, fmt.Errorf("line %d: %d values for %d channels", line, len(vals), len(chans))
		}
		for i, v := range vals {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, meta, fmt.Errorf("line %d: %w", line, err)
			}
			cols[i] = append(cols[i], f)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, meta, err
	}
	if chans == nil {
		return nil, meta, fmt.Errorf("no channel header found")
	}
	m := &hysteresis.Series{}
	for i, c := range chans {
		m.SetColumn(c, cols[i])
	}
	return m, meta, nil
}

// FileName returns a file name for a run: the label as a slug and the
// start of the run id, with ext appended.
func FileName(meta Meta, ext string) string {
	base := slug.Make(meta.Label)
	if base == "" {
		base = "hysteresis"
	}
	return fmt.Sprintf("%s-%s%s", base, meta.RunID.String()[:8], ext)
}

// WriteFile writes the run into dir under FileName and returns the path.
func WriteFile(dir string, meta Meta, m *hysteresis.Series) (path string, err error) {
	path = filepath.Join(dir, FileName(meta, ".txt"))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer func() { err = multierr.Append(err, f.Close()) }()
	return path, Write(f, meta, m)
}

// ReadFile reads a file written by WriteFile.
func ReadFile(path string) (*hysteresis.Series, map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return Read(f)
}
