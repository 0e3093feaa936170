package algorithms

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/postexperiment/internal/field"
)

func TestMoment1D(t *testing.T) {
	f, err := field.New("d", "", []float64{0, 1, 2, 1, 0}, field.PixelAxis("x", 5))
	require.NoError(t, err)

	mean, err := Moment1D(f, 1, 0)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, mean, 1e-12)

	variance, err := Moment1D(f, 2, mean)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, variance, 1e-12)

	img, _ := field.New("i", "", make([]float64, 4), field.PixelAxis("x", 2), field.PixelAxis("y", 2))
	_, err = Moment1D(img, 1, 0)
	assert.ErrorIs(t, err, ErrDimensions)

	zeros, _ := field.New("z", "", make([]float64, 3), field.PixelAxis("x", 3))
	m, err := Moment1D(zeros, 1, 0)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(m))
}

func TestMoment2D(t *testing.T) {
	// weight on the diagonal gives positive covariance
	f, err := field.New("d", "", []float64{
		1, 0, 0,
		0, 1, 0,
		0, 0, 1,
	}, field.PixelAxis("x", 3), field.PixelAxis("y", 3))
	require.NoError(t, err)

	cov, err := Moment2D(f, 1, 1, 1)
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, cov, 1e-12)
}

func TestProjectiveTransformParams_RoundTrip(t *testing.T) {
	want := [8]float64{2, 0.1, 5, -0.2, 1.5, 3, 0.001, 0.002}
	ij := [][2]float64{{1, 3}, {1, 18}, {28, 1}, {26, 23}, {10, 10}}
	xy := make([][2]float64, len(ij))
	for k, p := range ij {
		x, y := ProjectiveTransform(want, p[0], p[1])
		xy[k] = [2]float64{x, y}
	}

	got, err := ProjectiveTransformParams(ij, xy)
	require.NoError(t, err)
	for k := range want {
		assert.InDelta(t, want[k], got[k], 1e-6, "parameter %d", k)
	}

	_, err = ProjectiveTransformParams(ij[:3], xy[:3])
	assert.Error(t, err)
}

func TestProjectiveTransform_Identity(t *testing.T) {
	id := [8]float64{1, 0, 0, 0, 1, 0, 0, 0}
	x, y := ProjectiveTransform(id, 3, 4)
	assert.Equal(t, 3.0, x)
	assert.Equal(t, 4.0, y)
}

func TestRemoveLinearBackground2D(t *testing.T) {
	rows, cols := 6, 5
	data := make([]float64, rows*cols)
	mask := make([]bool, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			data[i*cols+j] = 0.5*float64(i) - 0.25*float64(j) + 10
		}
	}
	// a signal in the middle that is excluded from the fit
	data[2*cols+2] += 100
	mask[2*cols+2] = true

	out, err := RemoveLinearBackground2D(data, rows, cols, mask)
	require.NoError(t, err)
	for k, v := range out {
		if k == 2*cols+2 {
			assert.InDelta(t, 100.0, v, 1e-9)
			continue
		}
		assert.InDelta(t, 0.0, v, 1e-9)
	}

	_, err = RemoveLinearBackground2D(data, rows, cols, mask[:3])
	assert.ErrorIs(t, err, field.ErrShape)
}

func TestFieldEvaluate(t *testing.T) {
	f, _ := field.New("d", "", make([]float64, 6), field.PixelAxis("x", 2), field.PixelAxis("y", 3))
	g := FieldEvaluate(f, func(c ...float64) float64 { return c[0]*10 + c[1] })
	assert.Equal(t, []float64{0, 1, 2, 10, 11, 12}, g.Data)
}

func TestMedianFilter2D_RemovesHotPixel(t *testing.T) {
	data := []float64{
		1, 1, 1,
		1, 50, 1,
		1, 1, 1,
	}
	out := MedianFilter2D(data, 3, 3, 3)
	for _, v := range out {
		assert.Equal(t, 1.0, v)
	}
}

func TestGreyOpeningClosing(t *testing.T) {
	hot := []float64{
		0, 0, 0, 0,
		0, 9, 0, 0,
		0, 0, 0, 0,
		0, 0, 0, 0,
	}
	assert.Equal(t, make([]float64, 16), GreyOpening2D(hot, 4, 4, 3))

	dead := make([]float64, 16)
	for i := range dead {
		dead[i] = 5
	}
	dead[6] = 0
	closed := GreyClosing2D(dead, 4, 4, 3)
	for _, v := range closed {
		assert.Equal(t, 5.0, v)
	}
}

func TestReflect(t *testing.T) {
	cases := []struct{ i, n, want int }{
		{-1, 4, 0},
		{-2, 4, 1},
		{4, 4, 3},
		{5, 4, 2},
		{2, 4, 2},
		{-3, 1, 0},
	}
	for _, c := range cases {
		if got := reflect(c.i, c.n); got != c.want {
			t.Errorf("reflect(%d, %d) = %d, want %d", c.i, c.n, got, c.want)
		}
	}
}
