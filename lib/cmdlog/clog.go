// Package cmdlog sets up styled logging for the command line programs.
package cmdlog

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/gotmc/hysteresis"
)

var (
	CmdStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	R1Style   = lipgloss.NewStyle().Foreground(lipgloss.Color("35"))
	R2Style   = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	ErrStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("204")).Bold(true)
	BarStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	DimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	BiasStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
)

// NewLogger returns a logger writing to w with microsecond timestamps. It
// logs at debug level when verbose is set and at info level otherwise.
func NewLogger(w io.Writer, verbose bool) *log.Logger {
	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.000000",
		Level:           log.InfoLevel,
	})
	if verbose {
		l.SetLevel(log.DebugLevel)
	}
	styles := log.DefaultStyles()
	styles.Keys["err"] = ErrStyle
	styles.Values["err"] = ErrStyle
	styles.Keys["cmd"] = CmdStyle
	styles.Values["cmd"] = CmdStyle
	l.SetStyles(styles)
	return l
}

const barWidth = 24

// ProgressLine renders p as a bar followed by the loop, step and bias.
func ProgressLine(p hysteresis.Progress) string {
	f := min(max(p.Fraction, 0), 1)
	full := int(f*barWidth + 0.5)
	bar := BarStyle.Render(strings.Repeat("█", full)) + DimStyle.Render(strings.Repeat("░", barWidth-full))
	bias := BiasStyle.Render(fmt.Sprintf("%+.3f V", p.Step.Point.Total()))
	return fmt.Sprintf("%s %3.0f%% loop %d/%d step %d/%d %s",
		bar, 100*f, p.Loop+1, p.Loops, p.Step.Index+1, p.Step.NumSteps, bias)
}

// Progress returns a progress callback logging each step at info level.
func Progress(l *log.Logger) func(hysteresis.Progress) {
	return func(p hysteresis.Progress) {
		l.Info(ProgressLine(p))
	}
}

func isAscii(s string) bool {
	return !strings.ContainsFunc(s, func(r rune) bool {
		switch {
		case r < 7:
			return true
		case r > 6 && r < 14:
			return false
		case r > 13 && r < 32:
			return true
		case r > 127:
			return true
		}
		return false
	})
}

// Instrument is the command/query surface of a GPIB instrument.
type Instrument interface {
	Command(format string, a ...any) error
	Query(cmd string) (string, error)
	QueryBinary(cmd string, n int) ([]byte, error)
}

// Trace wraps inst so every command and response is logged at debug level.
// Binary responses are shown as hex.
func Trace(inst Instrument, l *log.Logger) Instrument {
	return &tracer{inst: inst, l: l}
}

type tracer struct {
	inst Instrument
	l    *log.Logger
}

func (t *tracer) Command(format string, a ...any) error {
	cmd := format
	if a != nil {
		cmd = fmt.Sprintf(format, a...)
	}
	err := t.inst.Command("%s", cmd)
	if err != nil {
		t.l.Debug(CmdStyle.Render(cmd), "err", err)
	} else {
		t.l.Debug(CmdStyle.Render(cmd) + "()")
	}
	return err
}

func (t *tracer) Query(cmd string) (string, error) {
	a, err := t.inst.Query(cmd)
	if err != nil {
		t.l.Debug(CmdStyle.Render(cmd), "err", err)
		return a, err
	}
	t.l.Debug(CmdStyle.Render(cmd) + ": " + Response(a))
	return a, nil
}

func (t *tracer) QueryBinary(cmd string, n int) ([]byte, error) {
	b, err := t.inst.QueryBinary(cmd, n)
	if err != nil {
		t.l.Debug(CmdStyle.Render(cmd), "err", err)
		return b, err
	}
	t.l.Debug(CmdStyle.Render(cmd) + ": " + Response(string(b)))
	return b, nil
}

// Response formats an instrument response for the log: quoted if it is
// text, hex otherwise, with short binary responses shown both ways.
func Response(a string) string {
	a = strings.TrimSuffix(a, "\n") //appended by the controller
	switch {
	case len(a) == 0:
		return R1Style.Render("<no response>")
	case isAscii(a):
		return fmt.Sprintf("[%d] %s", len(a), R2Style.Render(fmt.Sprintf("%q", a)))
	case len(a) < 32:
		return fmt.Sprintf("[%d] %q (% 2x)", len(a), a, []byte(a))
	}
	return fmt.Sprintf("[%d] % 2x", len(a), []byte(a))
}
