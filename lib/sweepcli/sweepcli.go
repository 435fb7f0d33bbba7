// Package sweepcli holds the flags and run sequence shared by the sweep
// programs: sweep and channel flags, a settings file overlay, the run
// itself, then export and plot.
package sweepcli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/gotmc/hysteresis"
	"github.com/gotmc/hysteresis/lib/chart"
	"github.com/gotmc/hysteresis/lib/cmdlog"
	"github.com/gotmc/hysteresis/lib/export"
	"github.com/gotmc/hysteresis/lib/settings"
	"go.uber.org/multierr"
)

// Sweep holds the sweep flags.
type Sweep struct {
	Settings settings.Settings

	SettingsFile string
	SaveSettings string
	Label        string
	OutDir       string
	PlotFormat   string
	Verbose      bool

	fs *flag.FlagSet
}

// AddFlags is to be called before [flag.Parse]. Flags default to the
// current value of s.Settings, or to [settings.Default] if it is unset.
func (s *Sweep) AddFlags(fs *flag.FlagSet) {
	if s.Settings.Sweep.StepCount == 0 {
		s.Settings = settings.Default()
	}
	if s.OutDir == "" {
		s.OutDir = "."
	}
	if s.PlotFormat == "" {
		s.PlotFormat = "png"
	}
	s.fs = fs
	sw, ch := &s.Settings.Sweep, &s.Settings.Channels

	fs.Float64Var(&sw.ProbeMax, "probe-max", sw.ProbeMax, "probe max DC `volts`")
	fs.Float64Var(&sw.ProbeMin, "probe-min", sw.ProbeMin, "probe min DC `volts`")
	fs.Float64Var(&sw.ElectrodeMax, "elec-max", sw.ElectrodeMax, "bottom electrode max DC `volts`")
	fs.Float64Var(&sw.ElectrodeMin, "elec-min", sw.ElectrodeMin, "bottom electrode min DC `volts`")
	fs.DurationVar(&sw.BiasDwell, "bias-time", sw.BiasDwell, "time spent at each bias level")
	fs.DurationVar(&sw.BiasSettle, "bias-settle", sw.BiasSettle, "settle time after setting a bias level")
	fs.DurationVar(&sw.ZeroDwell, "zero-time", sw.ZeroDwell, "time spent at 0 V after each bias level")
	fs.DurationVar(&sw.ZeroSettle, "zero-settle", sw.ZeroSettle, "settle time after returning to 0 V")
	fs.IntVar(&sw.StepCount, "steps", sw.StepCount, "number of steps per loop")
	fs.IntVar(&sw.LoopCount, "loops", sw.LoopCount, "number of loops")
	fs.Var(&sw.Pattern, "pattern", fmt.Sprintf("sweep pattern (%s)", patternNames()))
	fs.BoolVar(&sw.SkipSync, "unsync", sw.SkipSync, "do not wait for the instrument after each settle")
	fs.BoolVar(&sw.CurrentProxy, "cfm", sw.CurrentProxy, "record the current proxy (CFM_V) from the scope")
	fs.IntVar(&sw.Scope.Rate, "scope-rate", sw.Scope.Rate, fmt.Sprintf("scope sampling rate index, 0 (fastest) to %d", hysteresis.NumScopeRates-1))
	fs.BoolVar(&sw.Scope.BandwidthLimit, "bwlimit", sw.Scope.BandwidthLimit, "average scope samples down to the sampling rate")
	fs.BoolVar(&s.Settings.SaveScope, "save-scope", s.Settings.SaveScope, "append every scope shot to the scope file; needs -cfm")
	fs.StringVar(&s.Settings.ScopeFile, "scope-file", s.Settings.ScopeFile, "scope shot `file`; defaults to one named after the run in the output directory")

	fs.StringVar(&ch.Device, "device", ch.Device, "lock-in device id")
	fs.IntVar(&ch.ProbeAux, "probe-aux", ch.ProbeAux, "aux output driving the probe")
	fs.IntVar(&ch.ElectrodeAux, "elec-aux", ch.ElectrodeAux, "aux output driving the bottom electrode")
	fs.IntVar(&ch.Demod, "demod", ch.Demod, "demodulator to record")
	fs.IntVar(&ch.SignalOut, "sigout", ch.SignalOut, "signal output carrying the excitation")
	fs.IntVar(&ch.ScopeInput, "cfm-in", ch.ScopeInput, "signal input used as current proxy")

	fs.Var(&s.Settings.PlotX, "plot-x", "channel plotted on x")
	fs.Var(&s.Settings.PlotY, "plot-y", "channel plotted on y")
	fs.BoolVar(&s.Settings.AverageX, "avg-x", s.Settings.AverageX, "average points with repeated x values")
	fs.BoolVar(&s.Settings.AverageY, "avg-y", s.Settings.AverageY, "average points with repeated y values")

	fs.StringVar(&s.SettingsFile, "settings", s.SettingsFile, "load settings from `file`; flags given on the command line win")
	fs.StringVar(&s.SaveSettings, "save-settings", s.SaveSettings, "save the settings used to `file`")
	fs.StringVar(&s.Label, "label", s.Label, "run label, used in file names and the plot title")
	fs.StringVar(&s.OutDir, "out", s.OutDir, "output directory")
	fs.StringVar(&s.PlotFormat, "plot", s.PlotFormat, "plot image format (png, svg, pdf); empty for none")
	fs.BoolVar(&s.Verbose, "v", s.Verbose, "log every step and instrument command")
}

func patternNames() string {
	names := make([]string, len(hysteresis.Patterns))
	for i, p := range hysteresis.Patterns {
		names[i] = p.String()
	}
	return strings.Join(names, ", ")
}

// Logger returns the program logger for the -v flag.
func (s *Sweep) Logger(w io.Writer) *log.Logger {
	return cmdlog.NewLogger(w, s.Verbose)
}

// Setup is to be called after both [(Sweep).AddFlags] and [flag.Parse]. If
// a settings file was given, its values replace the defaults and any flag
// set on the command line is applied again on top.
func (s *Sweep) Setup() error {
	if s.SettingsFile == "" {
		return nil
	}
	loaded, err := settings.LoadFile(s.SettingsFile)
	if err != nil {
		return fmt.Errorf("settings %s: %w", s.SettingsFile, err)
	}

	set := map[string]string{}
	s.fs.Visit(func(f *flag.Flag) { set[f.Name] = f.Value.String() })
	s.Settings = loaded
	for name, v := range set {
		err = multierr.Append(err, s.fs.Set(name, v))
	}
	return err
}

// Result lists the files written by Execute.
type Result struct {
	Series    *hysteresis.Series
	DataFile  string
	PlotFile  string
	ScopeFile string
}

// Execute runs the sweep on sess and writes whatever was recorded, even if
// the run stopped early. The run error is returned with any output errors.
func (s *Sweep) Execute(ctx context.Context, sess hysteresis.Session, l *log.Logger, opts ...hysteresis.Option) (res Result, err error) {
	st := s.Settings
	meta := export.NewMeta(s.Label, st)
	l.Info("run starting", "id", meta.RunID, "label", s.Label, "pattern", st.Sweep.Pattern,
		"steps", st.Sweep.StepCount, "loops", st.Sweep.LoopCount)

	if err := hysteresis.MergeConfigErrors(st.Sweep.Validate(), st.Channels.Validate()); err != nil {
		return res, err
	}
	if err := os.MkdirAll(s.OutDir, 0o755); err != nil {
		return res, err
	}
	if s.SaveSettings != "" {
		if err := settings.SaveFile(s.SaveSettings, st); err != nil {
			return res, err
		}
		l.Info("settings saved", "file", s.SaveSettings)
	}

	res.Series = &hysteresis.Series{}
	opts = append([]hysteresis.Option{
		hysteresis.WithLogger(l),
		hysteresis.WithProgress(cmdlog.Progress(l)),
	}, opts...)
	if st.SaveScope && !st.Sweep.CurrentProxy {
		l.Warn("scope shots are only taken with -cfm; none will be saved")
	}
	if st.SaveScope && st.Sweep.CurrentProxy {
		shots, closeShots, serr := s.openShotLog(meta)
		if serr != nil {
			return res, serr
		}
		res.ScopeFile = shots.path
		opts = append(opts, hysteresis.WithScopeShots(shots.Record))
		defer func() {
			err = multierr.Append(err, closeShots())
			l.Info("scope shots written", "file", res.ScopeFile, "shots", shots.Len())
		}()
	}
	err = hysteresis.Run(ctx, sess, st.Channels, st.Sweep, res.Series, opts...)
	var cerr *hysteresis.ConfigError
	if errors.As(err, &cerr) {
		return res, err
	}
	if res.Series.Len() == 0 {
		return res, multierr.Append(err, chart.ErrNoData)
	}

	var werr error
	res.DataFile, werr = export.WriteFile(s.OutDir, meta, res.Series)
	err = multierr.Append(err, werr)
	if werr == nil {
		l.Info("data written", "file", res.DataFile, "points", res.Series.Len())
	}

	if s.PlotFormat != "" {
		m := res.Series
		if axis, ok := export.AverageAxis(st); ok {
			m = m.AverageBy(axis)
		}
		title := s.Label
		if title == "" {
			title = fmt.Sprintf("%s vs %s", st.PlotY, st.PlotX)
		}
		path := filepath.Join(s.OutDir, export.FileName(meta, "."+s.PlotFormat))
		if perr := chart.Save(path, m, st.PlotX, st.PlotY, title, false); perr != nil {
			err = multierr.Append(err, perr)
		} else {
			res.PlotFile = path
			l.Info("plot written", "file", path)
		}
	}
	return res, err
}

type shotFile struct {
	*export.ShotLog
	path string
}

// openShotLog opens the scope shot file for appending, so shots of several
// runs can share one file.
func (s *Sweep) openShotLog(meta export.Meta) (*shotFile, func() error, error) {
	path := s.Settings.ScopeFile
	if path == "" {
		path = filepath.Join(s.OutDir, export.FileName(meta, "-scope.txt"))
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	shots := &shotFile{ShotLog: export.NewShotLog(f, meta), path: path}
	return shots, func() error { return multierr.Append(shots.Err(), f.Close()) }, nil
}
