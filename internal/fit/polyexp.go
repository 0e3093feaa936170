package fit

import (
	"fmt"
	"math"

	"github.com/banshee-data/postexperiment/internal/algorithms"
	"github.com/banshee-data/postexperiment/internal/field"
)

// PolyExponential1DParams are the parameters of a*x^(2/3)*exp(-x/b).
type PolyExponential1DParams struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

// Vector implements Params.
func (p PolyExponential1DParams) Vector() []float64 { return []float64{p.A, p.B} }

// FromVector rebuilds parameters from a vector.
func (p PolyExponential1DParams) FromVector(v []float64) any {
	return PolyExponential1D{}.FromVector(v)
}

// PolyExponential1D models a*x^(2/3)*exp(-x/b), a typical shape of thermal
// particle spectra.
type PolyExponential1D struct {
	// ROI limits the fit to lo <= x < hi when set.
	ROI *[2]float64
}

func (PolyExponential1D) Name() string { return "polyexponential_1d" }

// Prepare implements Preparer by cutting the line to the region of interest.
func (m PolyExponential1D) Prepare(f *field.Field) (*field.Field, error) {
	f = f.Squeeze()
	if f.Dimensions() != 1 {
		return nil, fmt.Errorf("%w: polyexponential_1d needs 1 dimension, got %d", algorithms.ErrDimensions, f.Dimensions())
	}
	if m.ROI == nil {
		return f, nil
	}
	return f.SliceRange(0, m.ROI[0], m.ROI[1])
}

// InitialGuess places the maximum of the model on the maximum of the data.
// The model peaks at x = 2b/3.
func (m PolyExponential1D) InitialGuess(f *field.Field) (Params, error) {
	f, err := m.Prepare(f)
	if err != nil {
		return nil, err
	}
	if f.Len() == 0 {
		return nil, ErrNoData
	}
	peak := f.Max()
	x := f.Axes[0].Grid[f.ArgMax()]
	b := 1.5 * x
	a := math.Pow(b*2/3/math.E, -2.0/3.0) * peak
	return PolyExponential1DParams{A: a, B: b}, nil
}

// FromVector implements Model.
func (PolyExponential1D) FromVector(v []float64) Params {
	return PolyExponential1DParams{A: v[0], B: v[1]}
}

// Func implements Model.
func (PolyExponential1D) Func(p Params) func(coords ...float64) float64 {
	q := p.(PolyExponential1DParams)
	return func(c ...float64) float64 {
		return q.A * math.Pow(c[0], 2.0/3.0) * math.Exp(-c[0]/q.B)
	}
}
