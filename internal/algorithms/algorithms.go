// Package algorithms is a loose collection of numerical routines operating on
// field data. Nothing in here knows about shots; functions that take a shot
// belong in the diagnostics package.
package algorithms

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/postexperiment/internal/field"
)

// ErrDimensions is returned when a routine receives a field of the wrong rank.
var ErrDimensions = errors.New("algorithms: wrong number of dimensions")

// Moment1D returns the r-th moment of a 1D distribution about center:
//
//	sum((x-center)^r * f(x)) / sum(f(x))
//
// Length-one axes are squeezed first. An all-zero distribution yields NaN.
func Moment1D(f *field.Field, r int, center float64) (float64, error) {
	f = f.Squeeze()
	if f.Dimensions() != 1 {
		return math.NaN(), fmt.Errorf("%w: moment1d needs 1 dimension, got %d", ErrDimensions, f.Dimensions())
	}
	x := f.Axes[0].Grid
	var ret float64
	for i, v := range f.Data {
		ret += math.Pow(x[i]-center, float64(r)) * v
	}
	return ret / floats.Sum(f.Data), nil
}

// Moment2D returns the r-th mixed moment of a 2D distribution about (cx, cy):
//
//	sum(((x-cx)*(y-cy))^r * f(x, y)) / sum(f(x, y))
func Moment2D(f *field.Field, r int, cx, cy float64) (float64, error) {
	if f.Dimensions() != 2 {
		return math.NaN(), fmt.Errorf("%w: moment2d needs 2 dimensions, got %d", ErrDimensions, f.Dimensions())
	}
	mesh := f.Meshgrid()
	var ret float64
	for k, v := range f.Data {
		ret += math.Pow((mesh[0][k]-cx)*(mesh[1][k]-cy), float64(r)) * v
	}
	return ret / floats.Sum(f.Data), nil
}

// FieldEvaluate samples fn on the grid of f and returns the result as a field
// with the same axes.
func FieldEvaluate(f *field.Field, fn func(coords ...float64) float64) *field.Field {
	mesh := f.Meshgrid()
	data := make([]float64, len(f.Data))
	coords := make([]float64, len(mesh))
	for k := range data {
		for d := range mesh {
			coords[d] = mesh[d][k]
		}
		data[k] = fn(coords...)
	}
	g, _ := f.ReplaceData(data)
	return g
}

// ProjectiveTransform applies the 2D projective transformation given by the
// eight parameters p (the ninth matrix element is fixed to 1).
func ProjectiveTransform(p [8]float64, i, j float64) (x, y float64) {
	x = p[0]*i + p[1]*j + p[2]
	y = p[3]*i + p[4]*j + p[5]
	z := p[6]*i + p[7]*j + 1
	return x / z, y / z
}

// ProjectiveTransformParams finds the projective transformation mapping each
// point ij[k] onto xy[k]. Four points determine it exactly; more points are
// fitted in the least squares sense.
func ProjectiveTransformParams(ij, xy [][2]float64) ([8]float64, error) {
	var p [8]float64
	if len(ij) != len(xy) {
		return p, fmt.Errorf("algorithms: %d source points but %d target points", len(ij), len(xy))
	}
	if len(ij) < 4 {
		return p, fmt.Errorf("algorithms: projective transform needs at least 4 points, got %d", len(ij))
	}

	// x*(p6*i + p7*j + 1) = p0*i + p1*j + p2, likewise for y.
	a := mat.NewDense(2*len(ij), 8, nil)
	b := mat.NewVecDense(2*len(ij), nil)
	for k := range ij {
		i, j := ij[k][0], ij[k][1]
		x, y := xy[k][0], xy[k][1]
		a.SetRow(2*k, []float64{i, j, 1, 0, 0, 0, -i * x, -j * x})
		a.SetRow(2*k+1, []float64{0, 0, 0, i, j, 1, -i * y, -j * y})
		b.SetVec(2*k, x)
		b.SetVec(2*k+1, y)
	}

	var sol mat.VecDense
	if err := sol.SolveVec(a, b); err != nil {
		return p, fmt.Errorf("algorithms: solving projective transform: %w", err)
	}
	for k := range p {
		p[k] = sol.AtVec(k)
	}
	return p, nil
}

// RemoveLinearBackground2D fits the plane mx*i + my*j + b to every pixel not
// covered by mask (mask[k] true marks signal) and subtracts it from all pixels.
// data is row-major with the given number of rows and columns.
func RemoveLinearBackground2D(data []float64, rows, cols int, mask []bool) ([]float64, error) {
	if len(data) != rows*cols || len(mask) != len(data) {
		return nil, fmt.Errorf("%w: data %d, mask %d for %dx%d", field.ErrShape, len(data), len(mask), rows, cols)
	}
	var n int
	for _, m := range mask {
		if !m {
			n++
		}
	}
	if n < 3 {
		return nil, fmt.Errorf("algorithms: %d background pixels are not enough for a linear fit", n)
	}

	a := mat.NewDense(n, 3, nil)
	b := mat.NewVecDense(n, nil)
	row := 0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			k := i*cols + j
			if mask[k] {
				continue
			}
			a.SetRow(row, []float64{float64(i), float64(j), 1})
			b.SetVec(row, data[k])
			row++
		}
	}

	var sol mat.VecDense
	if err := sol.SolveVec(a, b); err != nil {
		return nil, fmt.Errorf("algorithms: fitting linear background: %w", err)
	}
	mx, my, c := sol.AtVec(0), sol.AtVec(1), sol.AtVec(2)

	out := make([]float64, len(data))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			k := i*cols + j
			out[k] = data[k] - (mx*float64(i) + my*float64(j) + c)
		}
	}
	return out, nil
}
