package diagnostics

import (
	"fmt"

	"github.com/banshee-data/postexperiment/internal/fit"
)

// FitInitialGuess returns the initial guess of model for the input field
// without running the optimizer.
func FitInitialGuess(model fit.Model) Filter {
	return func(_ *Context, v any) (any, error) {
		f, err := asField(v)
		if err != nil {
			return nil, err
		}
		if p, ok := model.(fit.Preparer); ok {
			if f, err = p.Prepare(f); err != nil {
				return nil, err
			}
		}
		return model.InitialGuess(f)
	}
}

// DoFit fits model to the input field. The initial guess and the result are
// recorded in the context.
func DoFit(model fit.Model) Filter {
	return func(c *Context, v any) (any, error) {
		f, err := asField(v)
		if err != nil {
			return nil, err
		}
		return fit.Fit(model, f, c)
	}
}

// EvaluateFitResult samples model with the parameters produced by fitDiag on
// the grid of the field produced by fieldDiag. Both run on the context's shot.
func EvaluateFitResult(fieldDiag, fitDiag Filter, model fit.Model) Filter {
	return func(c *Context, v any) (any, error) {
		fv, err := fieldDiag(c, v)
		if err != nil {
			return nil, err
		}
		f, err := asField(fv)
		if err != nil {
			return nil, err
		}
		pv, err := fitDiag(c, v)
		if err != nil {
			return nil, err
		}
		p, ok := pv.(fit.Params)
		if !ok {
			return nil, fmt.Errorf("%w: want fit parameters, got %T", ErrInputType, pv)
		}
		return fit.Evaluate(model, p, f), nil
	}
}
