// Package field implements gridded measurement data: camera images, spectra
// and line-outs, each carrying named axes with units.
//
// Data is stored row-major, the last axis varying fastest. Operations never
// modify their receiver; they return a new Field.
package field

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrShape is returned when data and axes do not fit together.
var ErrShape = errors.New("field: shape mismatch")

// Field is an N-dimensional array of samples on a grid.
type Field struct {
	Name string
	Unit string
	Axes []Axis
	Data []float64
}

// New creates a field. len(data) must equal the product of the axis lengths.
func New(name, unit string, data []float64, axes ...Axis) (*Field, error) {
	n := 1
	for _, a := range axes {
		n *= a.Len()
	}
	if len(data) != n {
		return nil, fmt.Errorf("%w: %d values for shape %v", ErrShape, len(data), shapeOf(axes))
	}
	return &Field{Name: name, Unit: unit, Axes: axes, Data: data}, nil
}

// Zeros creates a field filled with zeros.
func Zeros(name, unit string, axes ...Axis) *Field {
	n := 1
	for _, a := range axes {
		n *= a.Len()
	}
	return &Field{Name: name, Unit: unit, Axes: axes, Data: make([]float64, n)}
}

func shapeOf(axes []Axis) []int {
	s := make([]int, len(axes))
	for i, a := range axes {
		s[i] = a.Len()
	}
	return s
}

// Shape returns the length of every axis.
func (f *Field) Shape() []int { return shapeOf(f.Axes) }

// Dimensions returns the number of axes.
func (f *Field) Dimensions() int { return len(f.Axes) }

// Len returns the number of samples.
func (f *Field) Len() int { return len(f.Data) }

func (f *Field) strides() []int {
	s := make([]int, len(f.Axes))
	acc := 1
	for i := len(f.Axes) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= f.Axes[i].Len()
	}
	return s
}

func (f *Field) offset(idx []int) int {
	if len(idx) != len(f.Axes) {
		panic(fmt.Sprintf("field: %d indices for %d dimensions", len(idx), len(f.Axes)))
	}
	off := 0
	for i, s := range f.strides() {
		off += idx[i] * s
	}
	return off
}

// At returns the sample at the given index.
func (f *Field) At(idx ...int) float64 { return f.Data[f.offset(idx)] }

// Set stores v at the given index.
func (f *Field) Set(v float64, idx ...int) { f.Data[f.offset(idx)] = v }

// Copy returns a deep copy.
func (f *Field) Copy() *Field {
	axes := make([]Axis, len(f.Axes))
	for i, a := range f.Axes {
		axes[i] = a.Copy()
	}
	return &Field{Name: f.Name, Unit: f.Unit, Axes: axes, Data: append([]float64(nil), f.Data...)}
}

func (f *Field) withData(data []float64) *Field {
	axes := make([]Axis, len(f.Axes))
	for i, a := range f.Axes {
		axes[i] = a.Copy()
	}
	return &Field{Name: f.Name, Unit: f.Unit, Axes: axes, Data: data}
}

// ReplaceData returns a field with the same axes and metadata but new samples.
func (f *Field) ReplaceData(data []float64) (*Field, error) {
	if len(data) != len(f.Data) {
		return nil, fmt.Errorf("%w: replacing %d values with %d", ErrShape, len(f.Data), len(data))
	}
	return f.withData(append([]float64(nil), data...)), nil
}

// Squeeze drops all axes of length one.
func (f *Field) Squeeze() *Field {
	g := f.Copy()
	axes := g.Axes[:0]
	for _, a := range g.Axes {
		if a.Len() != 1 {
			axes = append(axes, a)
		}
	}
	g.Axes = axes
	return g
}

// Apply returns a field with fn applied to every sample.
func (f *Field) Apply(fn func(float64) float64) *Field {
	data := make([]float64, len(f.Data))
	for i, v := range f.Data {
		data[i] = fn(v)
	}
	return f.withData(data)
}

// AddScalar returns f + v.
func (f *Field) AddScalar(v float64) *Field {
	g := f.Copy()
	floats.AddConst(v, g.Data)
	return g
}

// SubScalar returns f - v.
func (f *Field) SubScalar(v float64) *Field { return f.AddScalar(-v) }

// Scale returns f * v.
func (f *Field) Scale(v float64) *Field {
	g := f.Copy()
	floats.Scale(v, g.Data)
	return g
}

// Max returns the largest sample.
func (f *Field) Max() float64 {
	if len(f.Data) == 0 {
		return math.NaN()
	}
	return floats.Max(f.Data)
}

// Min returns the smallest sample.
func (f *Field) Min() float64 {
	if len(f.Data) == 0 {
		return math.NaN()
	}
	return floats.Min(f.Data)
}

// Total returns the plain sum of all samples.
func (f *Field) Total() float64 { return floats.Sum(f.Data) }

// ArgMax returns the flat index of the largest sample.
func (f *Field) ArgMax() int {
	if len(f.Data) == 0 {
		return -1
	}
	return floats.MaxIdx(f.Data)
}

// Percentile returns the p-th percentile (0..100) of all samples, linearly
// interpolated between order statistics.
func (f *Field) Percentile(p float64) float64 {
	n := len(f.Data)
	if n == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), f.Data...)
	sort.Float64s(sorted)
	if n == 1 {
		return sorted[0]
	}
	q := math.Max(0, math.Min(100, p)) / 100
	pos := q * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// Mean returns the arithmetic mean of all samples.
func (f *Field) Mean() float64 { return stat.Mean(f.Data, nil) }

// Clip limits every sample to [lo, hi]. NaN bounds are ignored.
func (f *Field) Clip(lo, hi float64) *Field {
	return f.Apply(func(v float64) float64 {
		if !math.IsNaN(lo) && v < lo {
			return lo
		}
		if !math.IsNaN(hi) && v > hi {
			return hi
		}
		return v
	})
}

// Meshgrid returns, for every axis, the coordinate of each sample in data order.
func (f *Field) Meshgrid() [][]float64 {
	mesh := make([][]float64, len(f.Axes))
	for i := range mesh {
		mesh[i] = make([]float64, len(f.Data))
	}
	idx := make([]int, len(f.Axes))
	for k := range f.Data {
		for d := range f.Axes {
			mesh[d][k] = f.Axes[d].Grid[idx[d]]
		}
		for d := len(idx) - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < f.Axes[d].Len() {
				break
			}
			idx[d] = 0
		}
	}
	return mesh
}

func (f *Field) checkAxis(axis int) error {
	if axis < 0 || axis >= len(f.Axes) {
		return fmt.Errorf("%w: axis %d out of range for %d dimensions", ErrShape, axis, len(f.Axes))
	}
	return nil
}

// reduce collapses one axis. fn receives all samples along that axis together
// with the axis.
func (f *Field) reduce(axis int, fn func(vals []float64, a Axis) float64) (*Field, error) {
	if err := f.checkAxis(axis); err != nil {
		return nil, err
	}
	shape := f.Shape()
	n := shape[axis]
	outer := 1
	for _, s := range shape[:axis] {
		outer *= s
	}
	inner := 1
	for _, s := range shape[axis+1:] {
		inner *= s
	}

	out := make([]float64, outer*inner)
	vals := make([]float64, n)
	for o := 0; o < outer; o++ {
		for in := 0; in < inner; in++ {
			for k := 0; k < n; k++ {
				vals[k] = f.Data[(o*n+k)*inner+in]
			}
			out[o*inner+in] = fn(vals, f.Axes[axis])
		}
	}

	axes := make([]Axis, 0, len(f.Axes)-1)
	for i, a := range f.Axes {
		if i != axis {
			axes = append(axes, a.Copy())
		}
	}
	return &Field{Name: f.Name, Unit: f.Unit, Axes: axes, Data: out}, nil
}

// Sum adds all samples along axis and drops it.
func (f *Field) Sum(axis int) (*Field, error) {
	return f.reduce(axis, func(vals []float64, _ Axis) float64 {
		return floats.Sum(vals)
	})
}

// Integrate integrates along axis (samples times cell width) and drops it.
func (f *Field) Integrate(axis int) (*Field, error) {
	if err := f.checkAxis(axis); err != nil {
		return nil, err
	}
	widths := f.Axes[axis].Widths()
	return f.reduce(axis, func(vals []float64, _ Axis) float64 {
		return floats.Dot(vals, widths)
	})
}

// IntegrateAll integrates over every axis.
func (f *Field) IntegrateAll() float64 {
	g := f
	for g.Dimensions() > 0 {
		var err error
		if g, err = g.Integrate(g.Dimensions() - 1); err != nil {
			return math.NaN()
		}
	}
	if len(g.Data) != 1 {
		return math.NaN()
	}
	return g.Data[0]
}

func normIndex(i, n int) int {
	if i < 0 {
		i += n
	}
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}

// Slice keeps indices [start, stop) along axis. Negative indices count from
// the end; stop == 0 together with start >= 0 is not special, use Len().
func (f *Field) Slice(axis, start, stop int) (*Field, error) {
	if err := f.checkAxis(axis); err != nil {
		return nil, err
	}
	n := f.Axes[axis].Len()
	start, stop = normIndex(start, n), normIndex(stop, n)
	if stop < start {
		stop = start
	}
	return f.take(axis, rangeIdx(start, stop))
}

// SliceRange keeps the grid points with lo <= x < hi along axis.
func (f *Field) SliceRange(axis int, lo, hi float64) (*Field, error) {
	if err := f.checkAxis(axis); err != nil {
		return nil, err
	}
	var keep []int
	for i, x := range f.Axes[axis].Grid {
		if x >= lo && x < hi {
			keep = append(keep, i)
		}
	}
	return f.take(axis, keep)
}

func rangeIdx(start, stop int) []int {
	idx := make([]int, 0, stop-start)
	for i := start; i < stop; i++ {
		idx = append(idx, i)
	}
	return idx
}

// take builds a field from the selected indices along axis.
func (f *Field) take(axis int, keep []int) (*Field, error) {
	shape := f.Shape()
	n := shape[axis]
	outer := 1
	for _, s := range shape[:axis] {
		outer *= s
	}
	inner := 1
	for _, s := range shape[axis+1:] {
		inner *= s
	}
	out := make([]float64, 0, outer*len(keep)*inner)
	for o := 0; o < outer; o++ {
		for _, k := range keep {
			base := (o*n + k) * inner
			out = append(out, f.Data[base:base+inner]...)
		}
	}
	g := f.withData(out)
	grid := make([]float64, len(keep))
	for i, k := range keep {
		grid[i] = f.Axes[axis].Grid[k]
	}
	g.Axes[axis].Grid = grid
	return g, nil
}

// Flip reverses the sample order along axis.
func (f *Field) Flip(axis int) (*Field, error) {
	if err := f.checkAxis(axis); err != nil {
		return nil, err
	}
	n := f.Axes[axis].Len()
	keep := make([]int, n)
	for i := range keep {
		keep[i] = n - 1 - i
	}
	return f.take(axis, keep)
}

// Transpose swaps the first two axes of a field with at least two dimensions.
func (f *Field) Transpose() (*Field, error) {
	if f.Dimensions() < 2 {
		return nil, fmt.Errorf("%w: transpose needs 2 dimensions, got %d", ErrShape, f.Dimensions())
	}
	shape := f.Shape()
	r, c := shape[0], shape[1]
	inner := len(f.Data) / (r * c)
	out := make([]float64, len(f.Data))
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			src := (i*c + j) * inner
			dst := (j*r + i) * inner
			copy(out[dst:dst+inner], f.Data[src:src+inner])
		}
	}
	g := f.withData(out)
	g.Axes[0], g.Axes[1] = g.Axes[1], g.Axes[0]
	return g, nil
}

// Rot90 rotates the first two axes by k quarter turns counter-clockwise. One
// turn maps [[1,2,3],[4,5,6]] to [[3,6],[2,5],[1,4]].
func (f *Field) Rot90(k int) (*Field, error) {
	if f.Dimensions() < 2 {
		return nil, fmt.Errorf("%w: rot90 needs 2 dimensions, got %d", ErrShape, f.Dimensions())
	}
	k = ((k % 4) + 4) % 4
	g := f.Copy()
	var err error
	for ; k > 0; k-- {
		// rot90(m) == transpose(flip(m, axis=1))
		if g, err = g.Flip(1); err != nil {
			return nil, err
		}
		if g, err = g.Transpose(); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// MapAxisGrid transforms the grid of one axis by fn, leaving the samples as they are.
func (f *Field) MapAxisGrid(axis int, fn func(float64) float64) (*Field, error) {
	if err := f.checkAxis(axis); err != nil {
		return nil, err
	}
	g := f.Copy()
	for i, x := range g.Axes[axis].Grid {
		g.Axes[axis].Grid[i] = fn(x)
	}
	return g, nil
}

// Add returns the element-wise sum of two fields with equal shape.
func (f *Field) Add(o *Field) (*Field, error) {
	if len(f.Data) != len(o.Data) || f.Dimensions() != o.Dimensions() {
		return nil, fmt.Errorf("%w: adding %v and %v", ErrShape, f.Shape(), o.Shape())
	}
	g := f.Copy()
	floats.Add(g.Data, o.Data)
	return g, nil
}

// String renders a short description.
func (f *Field) String() string {
	return fmt.Sprintf("<Field %q [%s] shape=%v>", f.Name, f.Unit, f.Shape())
}
