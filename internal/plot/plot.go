// Package plot renders fields and diagnostic series. Fields become PNG images
// through gonum/plot; values across a series become interactive HTML charts
// through go-echarts.
package plot

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"math"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/postexperiment/internal/field"
	"github.com/banshee-data/postexperiment/internal/fsutil"
)

// ErrNoData is returned when there is nothing to plot.
var ErrNoData = errors.New("plot: no data")

// Default PNG size.
const (
	DefaultWidth  = 8 * vg.Inch
	DefaultHeight = 6 * vg.Inch
)

// ImageOptions control FieldImage.
type ImageOptions struct {
	Title string
	// Log plots log10 of the samples; non-positive samples are left blank.
	Log bool
	// Symmetric centres the colour scale on zero with a diverging palette.
	Symmetric bool
	// Colors is the palette size, 64 when zero.
	Colors int
}

// fieldGrid adapts a 2D field to plotter.GridXYZ. Columns run along axis 0,
// rows along axis 1.
type fieldGrid struct {
	f   *field.Field
	log bool
}

func (g fieldGrid) Dims() (c, r int) {
	return g.f.Axes[0].Len(), g.f.Axes[1].Len()
}

func (g fieldGrid) Z(c, r int) float64 {
	v := g.f.At(c, r)
	if g.log {
		if v <= 0 {
			return math.NaN()
		}
		return math.Log10(v)
	}
	return v
}

func (g fieldGrid) X(c int) float64 { return g.f.Axes[0].Grid[c] }
func (g fieldGrid) Y(r int) float64 { return g.f.Axes[1].Grid[r] }

func colorbarLimits(grid fieldGrid, symmetric bool) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	c, r := grid.Dims()
	for i := 0; i < c; i++ {
		for j := 0; j < r; j++ {
			z := grid.Z(i, j)
			if math.IsNaN(z) || math.IsInf(z, 0) {
				continue
			}
			lo = math.Min(lo, z)
			hi = math.Max(hi, z)
		}
	}
	if symmetric {
		m := math.Max(math.Abs(lo), math.Abs(hi))
		lo, hi = -m, m
	}
	if lo == hi {
		lo, hi = lo-0.5, hi+0.5
	}
	return lo, hi
}

// FieldImage renders a 2D field as a heat map with axis labels "name [unit]".
func FieldImage(f *field.Field, o ImageOptions) (*plot.Plot, error) {
	f = f.Squeeze()
	if f.Dimensions() != 2 {
		return nil, fmt.Errorf("%w: field image needs 2 dimensions, got %d", field.ErrShape, f.Dimensions())
	}
	if f.Axes[0].Len() < 2 || f.Axes[1].Len() < 2 {
		return nil, fmt.Errorf("%w: field image needs at least 2x2 samples, got %v", ErrNoData, f.Shape())
	}
	n := o.Colors
	if n <= 0 {
		n = 64
	}

	grid := fieldGrid{f: f, log: o.Log}
	lo, hi := colorbarLimits(grid, o.Symmetric)
	if math.IsInf(lo, 0) {
		return nil, fmt.Errorf("%w: no finite samples in %q", ErrNoData, f.Name)
	}

	var pal palette.Palette
	if o.Symmetric {
		cm := moreland.SmoothBlueRed()
		cm.SetMin(0)
		cm.SetMax(1)
		pal = cm.Palette(n)
	} else {
		pal = palette.Heat(n, 1)
	}

	hm := plotter.NewHeatMap(grid, pal)
	hm.Min, hm.Max = lo, hi
	hm.NaN = color.Transparent

	p := plot.New()
	p.Title.Text = o.Title
	if p.Title.Text == "" {
		p.Title.Text = titleOf(f)
	}
	p.X.Label.Text = f.Axes[0].Label()
	p.Y.Label.Text = f.Axes[1].Label()
	p.Add(hm)
	return p, nil
}

func titleOf(f *field.Field) string {
	if f.Unit == "" {
		return f.Name
	}
	return fmt.Sprintf("%s [%s]", f.Name, f.Unit)
}

// LineOptions control FieldLines.
type LineOptions struct {
	Title string
	Log   bool
}

// FieldLines draws 1D fields as lines on one plot. The y label is the common
// name and unit of the fields, or those of the last field when they differ.
func FieldLines(fields []*field.Field, o LineOptions) (*plot.Plot, error) {
	if len(fields) == 0 {
		return nil, ErrNoData
	}
	p := plot.New()
	p.Title.Text = o.Title
	if o.Log {
		p.Y.Scale = plot.LogScale{}
		p.Y.Tick.Marker = plot.LogTicks{}
	}

	colors := generateColors(len(fields))
	for i, f := range fields {
		f = f.Squeeze()
		if f.Dimensions() != 1 {
			return nil, fmt.Errorf("%w: line %d has %d dimensions", field.ErrShape, i, f.Dimensions())
		}
		pts := make(plotter.XYs, 0, f.Len())
		for k, x := range f.Axes[0].Grid {
			y := f.Data[k]
			if math.IsNaN(y) || (o.Log && y <= 0) {
				continue
			}
			pts = append(pts, plotter.XY{X: x, Y: y})
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i, err)
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)
		p.Add(line)
		if f.Name != "" {
			p.Legend.Add(f.Name, line)
		}
		if i == 0 {
			p.X.Label.Text = f.Axes[0].Label()
		}
	}

	last := fields[len(fields)-1]
	p.Y.Label.Text = titleOf(last)
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// SavePNG renders p and writes it atomically to path on fsys.
func SavePNG(fsys fsutil.FileSystem, p *plot.Plot, w, h vg.Length, path string) error {
	wt, err := p.WriterTo(w, h, "png")
	if err != nil {
		return fmt.Errorf("render %s: %w", path, err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return fmt.Errorf("render %s: %w", path, err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output dir: %w", err)
		}
	}
	if err := fsys.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// generateColors creates a palette of distinct colors for lines.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n)
		r, g, b := hslToRGB(hue, 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64
	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}
	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	if t < 1.0/6.0 {
		return p + (q-p)*6*t
	}
	if t < 1.0/2.0 {
		return q
	}
	if t < 2.0/3.0 {
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
