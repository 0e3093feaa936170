// Package fit provides fit models and least squares fitting of them to field
// data.
package fit

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/banshee-data/postexperiment/internal/field"
)

// ErrNoData is returned when a fit has no finite samples to work with.
var ErrNoData = errors.New("fit: no finite samples")

// Params is a set of fit parameters that can be flattened into a vector.
type Params interface {
	Vector() []float64
}

// Model is a parametrised function that can be fitted to a field.
type Model interface {
	// Name identifies the model in logs and caches.
	Name() string
	// InitialGuess estimates parameters from the data without fitting.
	InitialGuess(f *field.Field) (Params, error)
	// FromVector builds parameters from a vector produced by the optimizer.
	FromVector(v []float64) Params
	// Func returns the model function for the given parameters.
	Func(p Params) func(coords ...float64) float64
}

// Preparer is implemented by models that restrict the data before fitting,
// e.g. to a region of interest.
type Preparer interface {
	Prepare(f *field.Field) (*field.Field, error)
}

// Recorder receives intermediate fit results. diagnostics.Context satisfies it.
type Recorder interface {
	Set(key string, v any)
}

// Context keys written by Fit.
const (
	KeyInitialGuess = "fit_p0"
	KeyResult       = "fit_p"
	KeyEvaluations  = "fit_evaluations"
)

// Fit fits m to f by minimizing the sum of squared finite residuals, starting
// from the model's initial guess. rec may be nil.
func Fit(m Model, f *field.Field, rec Recorder) (Params, error) {
	if p, ok := m.(Preparer); ok {
		var err error
		if f, err = p.Prepare(f); err != nil {
			return nil, fmt.Errorf("fit %s: %w", m.Name(), err)
		}
	}

	p0, err := m.InitialGuess(f)
	if err != nil {
		return nil, fmt.Errorf("fit %s: initial guess: %w", m.Name(), err)
	}
	x0 := p0.Vector()
	for _, v := range x0 {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("fit %s: initial guess %v is not finite", m.Name(), x0)
		}
	}

	mesh := f.Meshgrid()
	coords := make([]float64, len(mesh))
	cost := func(x []float64) float64 {
		model := m.Func(m.FromVector(x))
		var sum float64
		var n int
		for k, v := range f.Data {
			for d := range mesh {
				coords[d] = mesh[d][k]
			}
			r := v - model(coords...)
			if math.IsNaN(r) || math.IsInf(r, 0) {
				continue
			}
			sum += r * r
			n++
		}
		if n == 0 {
			return math.Inf(1)
		}
		return sum
	}

	f0 := cost(x0)
	if math.IsInf(f0, 1) {
		return nil, fmt.Errorf("fit %s: %w", m.Name(), ErrNoData)
	}

	problem := optimize.Problem{Func: cost}
	settings := &optimize.Settings{
		MajorIterations: 2000,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-12,
			Relative:   1e-10,
			Iterations: 50,
		},
	}
	result, err := optimize.Minimize(problem, x0, settings, &optimize.NelderMead{})

	p := m.FromVector(x0)
	switch {
	case result != nil && result.F <= f0:
		p = m.FromVector(result.X)
	case err != nil:
		return nil, fmt.Errorf("fit %s: %w", m.Name(), err)
	}

	if rec != nil {
		rec.Set(KeyInitialGuess, p0)
		rec.Set(KeyResult, p)
		if result != nil {
			rec.Set(KeyEvaluations, result.Stats.FuncEvaluations)
		}
	}
	return p, nil
}

// Evaluate samples the model with parameters p on the grid of f.
func Evaluate(m Model, p Params, f *field.Field) *field.Field {
	fn := m.Func(p)
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
