package field

import (
	"fmt"
	"math"
)

// CoordTransform maps a coordinate on the new grid to the coordinate on the
// original grid that should be sampled there. A nil transform is the identity.
type CoordTransform func(coords []float64) []float64

// MapCoordinates resamples a 1D or 2D field onto newAxes. Samples are linearly
// (bilinearly in 2D) interpolated on the original grid; coordinates outside the
// original grid yield 0.
func (f *Field) MapCoordinates(newAxes []Axis, transform CoordTransform) (*Field, error) {
	dims := f.Dimensions()
	if dims != 1 && dims != 2 {
		return nil, fmt.Errorf("%w: map coordinates supports 1 or 2 dimensions, got %d", ErrShape, dims)
	}
	if len(newAxes) != dims {
		return nil, fmt.Errorf("%w: %d new axes for %d dimensions", ErrShape, len(newAxes), dims)
	}

	axes := make([]Axis, dims)
	for i, a := range newAxes {
		axes[i] = a.Copy()
	}
	out := Zeros(f.Name, f.Unit, axes...)
	mesh := out.Meshgrid()
	coords := make([]float64, dims)
	for k := range out.Data {
		for d := 0; d < dims; d++ {
			coords[d] = mesh[d][k]
		}
		src := coords
		if transform != nil {
			src = transform(coords)
		}
		out.Data[k] = f.interpolate(src)
	}
	return out, nil
}

func (f *Field) interpolate(coords []float64) float64 {
	switch len(coords) {
	case 1:
		p, ok := f.Axes[0].position(coords[0])
		if !ok {
			return 0
		}
		i0, w := split(p, f.Axes[0].Len())
		v := f.Data[i0] * (1 - w)
		if w > 0 {
			v += f.Data[i0+1] * w
		}
		return v
	case 2:
		p, okp := f.Axes[0].position(coords[0])
		q, okq := f.Axes[1].position(coords[1])
		if !okp || !okq {
			return 0
		}
		n := f.Axes[1].Len()
		i0, wi := split(p, f.Axes[0].Len())
		j0, wj := split(q, n)
		at := func(i, j int) float64 { return f.Data[i*n+j] }
		v := at(i0, j0) * (1 - wi) * (1 - wj)
		if wi > 0 {
			v += at(i0+1, j0) * wi * (1 - wj)
		}
		if wj > 0 {
			v += at(i0, j0+1) * (1 - wi) * wj
		}
		if wi > 0 && wj > 0 {
			v += at(i0+1, j0+1) * wi * wj
		}
		return v
	}
	return math.NaN()
}

// split turns a fractional index into the lower index and the weight of the
// upper neighbour.
func split(p float64, n int) (int, float64) {
	i := int(math.Floor(p))
	if i >= n-1 {
		return n - 1, 0
	}
	if i < 0 {
		return 0, 0
	}
	return i, p - float64(i)
}
