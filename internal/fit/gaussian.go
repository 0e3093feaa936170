package fit

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/postexperiment/internal/algorithms"
	"github.com/banshee-data/postexperiment/internal/field"
)

// DefaultCutoff is the fraction of the amplitude below which samples are
// ignored when estimating moments for an initial guess.
const DefaultCutoff = 0.15

// Percentiles used to estimate background and peak in initial guesses.
const (
	lowPercentile  = 0.005
	highPercentile = 99.995
)

// Gaussian1DParams are the parameters of a 1D gaussian on a constant
// background.
type Gaussian1DParams struct {
	Amplitude float64 `json:"amplitude"`
	Center    float64 `json:"center"`
	Sigma     float64 `json:"sigma"`
	ConstBG   float64 `json:"const_bg"`
}

// Vector implements Params.
func (p Gaussian1DParams) Vector() []float64 {
	return []float64{p.Amplitude, p.Center, p.Sigma, p.ConstBG}
}

// FromVector rebuilds parameters from a vector. It allows averaging fit
// results across shots.
func (p Gaussian1DParams) FromVector(v []float64) any {
	return Gaussian1D{}.FromVector(v)
}

// Gaussian1D models const_bg + amplitude * exp(-(x-center)^2 / (2 sigma^2)).
type Gaussian1D struct {
	// Cutoff overrides DefaultCutoff when non-zero.
	Cutoff float64
}

func (Gaussian1D) Name() string { return "gaussian_1d" }

func (g Gaussian1D) cutoff() float64 {
	if g.Cutoff == 0 {
		return DefaultCutoff
	}
	return g.Cutoff
}

// InitialGuess estimates the parameters from percentiles and the first two
// moments of the background-subtracted line.
func (g Gaussian1D) InitialGuess(f *field.Field) (Params, error) {
	f = f.Squeeze()
	if f.Dimensions() != 1 {
		return nil, fmt.Errorf("%w: gaussian_1d needs 1 dimension, got %d", algorithms.ErrDimensions, f.Dimensions())
	}
	bg := f.Percentile(lowPercentile)
	amp := f.Percentile(highPercentile) - bg
	threshold := amp * g.cutoff()
	reduced := f.SubScalar(bg).Apply(func(v float64) float64 {
		if v < threshold {
			return 0
		}
		return v
	})

	center, err := algorithms.Moment1D(reduced, 1, 0)
	if err != nil {
		return nil, err
	}
	variance, err := algorithms.Moment1D(reduced, 2, center)
	if err != nil {
		return nil, err
	}
	return Gaussian1DParams{
		Amplitude: amp,
		Center:    center,
		Sigma:     math.Sqrt(variance),
		ConstBG:   bg,
	}, nil
}

// FromVector implements Model. The background is forced non-negative.
func (Gaussian1D) FromVector(v []float64) Params {
	return Gaussian1DParams{Amplitude: v[0], Center: v[1], Sigma: v[2], ConstBG: math.Abs(v[3])}
}

// Func implements Model.
func (Gaussian1D) Func(p Params) func(coords ...float64) float64 {
	q := p.(Gaussian1DParams)
	return func(c ...float64) float64 {
		d := c[0] - q.Center
		return q.ConstBG + q.Amplitude*math.Exp(-d*d/(2*q.Sigma*q.Sigma))
	}
}

// Gaussian2DParams are the parameters of a 2D gaussian with correlated axes on
// a constant background.
type Gaussian2DParams struct {
	Amplitude float64 `json:"amplitude"`
	CenterX   float64 `json:"center_x"`
	CenterY   float64 `json:"center_y"`
	VarX      float64 `json:"varx"`
	VarY      float64 `json:"vary"`
	Covar     float64 `json:"covar"`
	ConstBG   float64 `json:"const_bg"`
}

// Vector implements Params.
func (p Gaussian2DParams) Vector() []float64 {
	return []float64{p.Amplitude, p.CenterX, p.CenterY, p.VarX, p.VarY, p.Covar, p.ConstBG}
}

// FromVector rebuilds parameters from a vector.
func (p Gaussian2DParams) FromVector(v []float64) any {
	return Gaussian2D{}.FromVector(v)
}

// CovMatrix returns the 2x2 covariance matrix.
func (p Gaussian2DParams) CovMatrix() *mat.SymDense {
	return mat.NewSymDense(2, []float64{p.VarX, p.Covar, p.Covar, p.VarY})
}

// Ellipse describes the one-sigma ellipse of a covariance matrix.
type Ellipse struct {
	Width  float64 // semi-axis along the first eigenvector
	Height float64 // semi-axis along the second eigenvector
	Angle  float64 // rad, of the first eigenvector against the x axis
	Area   float64
}

// Ellipse converts the covariance matrix into the semi-axes and rotation of
// its one-sigma ellipse.
func (p Gaussian2DParams) Ellipse() (Ellipse, error) {
	var eig mat.EigenSym
	if ok := eig.Factorize(p.CovMatrix(), true); !ok {
		return Ellipse{}, fmt.Errorf("fit: eigen decomposition of covariance matrix failed")
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	// largest eigenvalue first
	first, second := 1, 0
	if math.Abs(vals[0]) >= math.Abs(vals[1]) {
		first, second = 0, 1
	}
	w := math.Sqrt(math.Abs(vals[first]))
	h := math.Sqrt(math.Abs(vals[second]))
	return Ellipse{
		Width:  w,
		Height: h,
		Angle:  math.Atan2(vecs.At(1, first), vecs.At(0, first)),
		Area:   math.Pi * w * h,
	}, nil
}

// EllipseLine returns n points on the covariance ellipse scaled by s, centred
// on the fitted center.
func (p Gaussian2DParams) EllipseLine(n int, s float64) (x, y []float64, err error) {
	e, err := p.Ellipse()
	if err != nil {
		return nil, nil, err
	}
	theta := make([]float64, n)
	floats.Span(theta, 0, 2*math.Pi)
	x = make([]float64, n)
	y = make([]float64, n)
	sin, cos := math.Sincos(e.Angle)
	for k, t := range theta {
		ex := s * e.Width * math.Cos(t)
		ey := s * e.Height * math.Sin(t)
		x[k] = p.CenterX + ex*cos - ey*sin
		y[k] = p.CenterY + ex*sin + ey*cos
	}
	return x, y, nil
}

// Gaussian2D models a bivariate normal distribution scaled by amplitude on a
// constant background.
type Gaussian2D struct {
	// Cutoff overrides DefaultCutoff when non-zero.
	Cutoff float64
}

func (Gaussian2D) Name() string { return "gaussian_2d" }

// InitialGuess estimates the parameters from percentiles and the moments of
// the thresholded image.
func (g Gaussian2D) InitialGuess(f *field.Field) (Params, error) {
	if f.Dimensions() != 2 {
		return nil, fmt.Errorf("%w: gaussian_2d needs 2 dimensions, got %d", algorithms.ErrDimensions, f.Dimensions())
	}
	cutoff := g.Cutoff
	if cutoff == 0 {
		cutoff = DefaultCutoff
	}
	bg := f.Percentile(lowPercentile)
	amp := f.Percentile(highPercentile) - bg
	threshold := amp * cutoff
	reduced := f.SubScalar(bg).Apply(func(v float64) float64 {
		if v > threshold {
			return v
		}
		return 0
	})

	px, err := reduced.Sum(1)
	if err != nil {
		return nil, err
	}
	py, err := reduced.Sum(0)
	if err != nil {
		return nil, err
	}
	cx, err := algorithms.Moment1D(px, 1, 0)
	if err != nil {
		return nil, err
	}
	cy, err := algorithms.Moment1D(py, 1, 0)
	if err != nil {
		return nil, err
	}
	vx, err := algorithms.Moment1D(px, 2, cx)
	if err != nil {
		return nil, err
	}
	vy, err := algorithms.Moment1D(py, 2, cy)
	if err != nil {
		return nil, err
	}
	cov, err := algorithms.Moment2D(reduced, 1, cx, cy)
	if err != nil {
		return nil, err
	}
	return Gaussian2DParams{
		Amplitude: amp,
		CenterX:   cx,
		CenterY:   cy,
		VarX:      vx,
		VarY:      vy,
		Covar:     cov,
		ConstBG:   bg,
	}, nil
}

// FromVector implements Model. The background is forced non-negative.
func (Gaussian2D) FromVector(v []float64) Params {
	return Gaussian2DParams{
		Amplitude: v[0],
		CenterX:   v[1],
		CenterY:   v[2],
		VarX:      v[3],
		VarY:      v[4],
		Covar:     v[5],
		ConstBG:   math.Abs(v[6]),
	}
}

// Func implements Model.
func (Gaussian2D) Func(p Params) func(coords ...float64) float64 {
	q := p.(Gaussian2DParams)
	sx := math.Sqrt(q.VarX)
	sy := math.Sqrt(q.VarY)
	rho := q.Covar / (sx * sy)
	norm := 1 / (2 * (1 - rho*rho))
	return func(c ...float64) float64 {
		dx := (c[0] - q.CenterX) / sx
		dy := (c[1] - q.CenterY) / sy
		return q.ConstBG + q.Amplitude*math.Exp(-norm*(dx*dx+dy*dy-2*rho*dx*dy))
	}
}
