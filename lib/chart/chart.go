// Package chart plots one channel of a series against another.
package chart

import (
	"errors"
	"fmt"
	"image/color"

	"github.com/gotmc/hysteresis"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// ErrNoData is returned when there is nothing to plot.
var ErrNoData = errors.New("chart: no data")

// Size of saved charts.
var (
	Width  = 6 * vg.Inch
	Height = 4.5 * vg.Inch
)

var traceColor = color.RGBA{R: 0x1f, G: 0x4e, B: 0xb4, A: 0xff}

// Points returns the y channel against the x channel. With average set,
// repeated x values are collapsed to the mean of their y values.
func Points(m *hysteresis.Series, x, y hysteresis.Channel, average bool) plotter.XYs {
	xs, ys := m.Column(x), m.Column(y)
	n := min(len(xs), len(ys))
	xs, ys = xs[:n], ys[:n]
	if average {
		xs, ys = hysteresis.AverageRepeats(xs, ys)
	}
	pts := make(plotter.XYs, len(xs))
	for i := range xs {
		pts[i] = plotter.XY{X: xs[i], Y: ys[i]}
	}
	return pts
}

func axisLabel(c hysteresis.Channel) string {
	return fmt.Sprintf("%s (%s)", c, c.Unit())
}

// New returns a line and point plot of y against x.
func New(m *hysteresis.Series, x, y hysteresis.Channel, title string, average bool) (*plot.Plot, error) {
	pts := Points(m, x, y, average)
	if len(pts) == 0 {
		return nil, ErrNoData
	}
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = axisLabel(x)
	p.Y.Label.Text = axisLabel(y)
	p.Add(plotter.NewGrid())

	line, scatter, err := plotter.NewLinePoints(pts)
	if err != nil {
		return nil, err
	}
	line.Color = traceColor
	scatter.GlyphStyle.Radius = vg.Length(1.5)
	scatter.GlyphStyle.Shape = draw.CircleGlyph{}
	scatter.GlyphStyle.Color = traceColor
	p.Add(line, scatter)
	return p, nil
}

// Save plots y against x into path. The image format follows the file
// extension: png, svg, pdf, eps, jpg or tif.
func Save(path string, m *hysteresis.Series, x, y hysteresis.Channel, title string, average bool) error {
	p, err := New(m, x, y, title, average)
	if err != nil {
		return err
	}
	return p.Save(Width, Height, path)
}
