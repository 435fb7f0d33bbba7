// Package settings stores measurement settings in a plain text file, one
// value per line in a fixed order. Files written by older versions with
// fewer lines load with defaults for the missing values, and lines past the
// known fields are kept as they are.
//
// The line order is:
//
//	 0 probe max (V)             13 plot x channel
//	 1 probe min (V)             14 plot y channel
//	 2 electrode max (V)         15 signal output
//	 3 electrode min (V)         16 average repeated x (0/1)
//	 4 bias time (ms)            17 average repeated y (0/1)
//	 5 bias settle (ms)          18 demodulator
//	 6 0 V time (ms)             19 record current proxy (0/1)
//	 7 0 V settle (ms)           20 scope bandwidth limit (0/1)
//	 8 steps                     21 current proxy input
//	 9 loops                     22 scope sampling rate index
//	10 probe aux output          23 save scope shots (0/1)
//	11 electrode aux output      24 scope shot file
//	12 pattern                   25 unsynchronised (0/1)
package settings

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gotmc/hysteresis"
	"go.uber.org/multierr"
)

// Settings is everything the measurement form holds.
type Settings struct {
	Sweep    hysteresis.SweepConfig
	Channels hysteresis.Channels

	PlotX, PlotY       hysteresis.Channel
	AverageX, AverageY bool

	// SaveScope appends the scope wave of every dwell to ScopeFile when the
	// current proxy is recorded.
	SaveScope bool
	ScopeFile string

	// Extra holds lines past the known fields.
	Extra []string
}

// Default returns the settings the measurement form starts with.
func Default() Settings {
	return Settings{
		Sweep:    hysteresis.DefaultConfig(),
		Channels: hysteresis.DefaultChannels(),
		PlotX:    hysteresis.ChanTotalV,
		PlotY:    hysteresis.ChanX,
		AverageX: true,
	}
}

// field binds one line of the file to a setting.
type field struct {
	name   string
	format func(*Settings) string
	parse  func(*Settings, string) error
	// reset copies the setting from def to dst.
	reset func(dst, def *Settings)
}

func restore[T any](p func(*Settings) *T) func(dst, def *Settings) {
	return func(dst, def *Settings) { *p(dst) = *p(def) }
}

func volts(name string, p func(*Settings) *float64) field {
	return field{
		name:   name,
		format: func(s *Settings) string { return strconv.FormatFloat(*p(s), 'g', -1, 64) },
		parse: func(s *Settings, v string) (err error) {
			*p(s), err = strconv.ParseFloat(v, 64)
			return err
		},
		reset: restore(p),
	}
}

func millis(name string, p func(*Settings) *time.Duration) field {
	return field{
		name: name,
		format: func(s *Settings) string {
			return strconv.FormatFloat(float64(*p(s))/float64(time.Millisecond), 'g', -1, 64)
		},
		parse: func(s *Settings, v string) error {
			ms, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return err
			}
			*p(s) = time.Duration(ms * float64(time.Millisecond))
			return nil
		},
		reset: restore(p),
	}
}

func integer(name string, p func(*Settings) *int) field {
	return field{
		name:   name,
		format: func(s *Settings) string { return strconv.Itoa(*p(s)) },
		parse: func(s *Settings, v string) (err error) {
			*p(s), err = strconv.Atoi(v)
			return err
		},
		reset: restore(p),
	}
}

func boolean(name string, p func(*Settings) *bool) field {
	return field{
		name: name,
		format: func(s *Settings) string {
			if *p(s) {
				return "1"
			}
			return "0"
		},
		parse: func(s *Settings, v string) (err error) {
			*p(s), err = strconv.ParseBool(v)
			return err
		},
		reset: restore(p),
	}
}

func channel(name string, p func(*Settings) *hysteresis.Channel) field {
	return field{
		name:   name,
		format: func(s *Settings) string { return p(s).String() },
		parse:  func(s *Settings, v string) error { return p(s).Set(v) },
		reset:  restore(p),
	}
}

var fields = []field{
	volts("probe max", func(s *Settings) *float64 { return &s.Sweep.ProbeMax }),
	volts("probe min", func(s *Settings) *float64 { return &s.Sweep.ProbeMin }),
	volts("electrode max", func(s *Settings) *float64 { return &s.Sweep.ElectrodeMax }),
	volts("electrode min", func(s *Settings) *float64 { return &s.Sweep.ElectrodeMin }),
	millis("bias time", func(s *Settings) *time.Duration { return &s.Sweep.BiasDwell }),
	millis("bias settle", func(s *Settings) *time.Duration { return &s.Sweep.BiasSettle }),
	millis("0 V time", func(s *Settings) *time.Duration { return &s.Sweep.ZeroDwell }),
	millis("0 V settle", func(s *Settings) *time.Duration { return &s.Sweep.ZeroSettle }),
	integer("steps", func(s *Settings) *int { return &s.Sweep.StepCount }),
	integer("loops", func(s *Settings) *int { return &s.Sweep.LoopCount }),
	integer("probe aux", func(s *Settings) *int { return &s.Channels.ProbeAux }),
	integer("electrode aux", func(s *Settings) *int { return &s.Channels.ElectrodeAux }),
	{
		name:   "pattern",
		format: func(s *Settings) string { return s.Sweep.Pattern.String() },
		parse:  func(s *Settings, v string) error { return s.Sweep.Pattern.Set(v) },
		reset:  restore(func(s *Settings) *hysteresis.Pattern { return &s.Sweep.Pattern }),
	},
	channel("plot x", func(s *Settings) *hysteresis.Channel { return &s.PlotX }),
	channel("plot y", func(s *Settings) *hysteresis.Channel { return &s.PlotY }),
	integer("signal output", func(s *Settings) *int { return &s.Channels.SignalOut }),
	boolean("average x", func(s *Settings) *bool { return &s.AverageX }),
	boolean("average y", func(s *Settings) *bool { return &s.AverageY }),
	integer("demodulator", func(s *Settings) *int { return &s.Channels.Demod }),
	boolean("current proxy", func(s *Settings) *bool { return &s.Sweep.CurrentProxy }),
	boolean("bandwidth limit", func(s *Settings) *bool { return &s.Sweep.Scope.BandwidthLimit }),
	integer("current proxy input", func(s *Settings) *int { return &s.Channels.ScopeInput }),
	integer("scope rate", func(s *Settings) *int { return &s.Sweep.Scope.Rate }),
	boolean("save scope", func(s *Settings) *bool { return &s.SaveScope }),
	{
		name:   "scope file",
		format: func(s *Settings) string { return s.ScopeFile },
		parse:  func(s *Settings, v string) error { s.ScopeFile = v; return nil },
		reset:  restore(func(s *Settings) *string { return &s.ScopeFile }),
	},
	boolean("unsynchronised", func(s *Settings) *bool { return &s.Sweep.SkipSync }),
}

// Load reads settings from r. Missing or empty lines keep their defaults.
// Every malformed line is reported; the returned settings hold defaults for
// those lines and are usable.
func Load(r io.Reader) (Settings, error) {
	s, def := Default(), Default()
	sc := bufio.NewScanner(r)
	var err error
	line := 0
	for sc.Scan() {
		v := strings.TrimSpace(sc.Text())
		if line >= len(fields) {
			s.Extra = append(s.Extra, sc.Text())
			line++
			continue
		}
		f := fields[line]
		line++
		if v == "" {
			continue
		}
		if perr := f.parse(&s, v); perr != nil {
			f.reset(&s, &def)
			err = multierr.Append(err, fmt.Errorf("line %d (%s): %w", line, f.name, perr))
		}
	}
	if serr := sc.Err(); serr != nil {
		err = multierr.Append(err, serr)
	}
	return s, err
}

// Save writes s to w in the order Load reads.
func Save(w io.Writer, s Settings) error {
	bw := bufio.NewWriter(w)
	for _, f := range fields {
		fmt.Fprintln(bw, f.format(&s))
	}
	for _, x := range s.Extra {
		fmt.Fprintln(bw, x)
	}
	return bw.Flush()
}

// LoadFile reads settings from the named file.
func LoadFile(name string) (Settings, error) {
	f, err := os.Open(name)
	if err != nil {
		return Default(), err
	}
	defer f.Close()
	return Load(f)
}

// SaveFile writes settings to the named file.
func SaveFile(name string, s Settings) (err error) {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, f.Close()) }()
	return Save(f, s)
}

// Field is a labelled setting value, as written in export metadata.
type Field struct {
	Name, Value, Unit string
}

// Fields lists every known setting of s with its unit.
func (s Settings) Fields() []Field {
	out := make([]Field, len(fields))
	for i, f := range fields {
		out[i] = Field{Name: f.name, Value: f.format(&s), Unit: unitOf(i)}
	}
	return out
}

func unitOf(i int) string {
	switch {
	case i < 4:
		return "V"
	case i < 8:
		return "ms"
	}
	return ""
}
