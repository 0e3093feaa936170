package algorithms

import (
	"sort"

	"gonum.org/v1/gonum/floats"
)

// reflect maps an out-of-range index back into [0, n) by mirroring at the
// edges, duplicating the edge sample (d c b a | a b c d | d c b a).
func reflect(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}

// windowFilter2D replaces every pixel by reduce applied to the size x size
// neighbourhood centred on it.
func windowFilter2D(data []float64, rows, cols, size int, reduce func(window []float64) float64) []float64 {
	if size < 1 {
		size = 1
	}
	out := make([]float64, len(data))
	window := make([]float64, 0, size*size)
	lo := size / 2
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			window = window[:0]
			for di := -lo; di < size-lo; di++ {
				ii := reflect(i+di, rows)
				for dj := -lo; dj < size-lo; dj++ {
					window = append(window, data[ii*cols+reflect(j+dj, cols)])
				}
			}
			out[i*cols+j] = reduce(window)
		}
	}
	return out
}

// MedianFilter2D applies a size x size median filter.
func MedianFilter2D(data []float64, rows, cols, size int) []float64 {
	return windowFilter2D(data, rows, cols, size, func(w []float64) float64 {
		sort.Float64s(w)
		n := len(w)
		if n%2 == 1 {
			return w[n/2]
		}
		return 0.5 * (w[n/2-1] + w[n/2])
	})
}

// GreyErosion2D replaces each pixel by the minimum of its neighbourhood.
func GreyErosion2D(data []float64, rows, cols, size int) []float64 {
	return windowFilter2D(data, rows, cols, size, floats.Min)
}

// GreyDilation2D replaces each pixel by the maximum of its neighbourhood.
func GreyDilation2D(data []float64, rows, cols, size int) []float64 {
	return windowFilter2D(data, rows, cols, size, floats.Max)
}

// GreyOpening2D is an erosion followed by a dilation. It removes bright
// features smaller than the window, e.g. hot pixels.
func GreyOpening2D(data []float64, rows, cols, size int) []float64 {
	return GreyDilation2D(GreyErosion2D(data, rows, cols, size), rows, cols, size)
}

// GreyClosing2D is a dilation followed by an erosion. It removes dark
// features smaller than the window, e.g. dead pixels.
func GreyClosing2D(data []float64, rows, cols, size int) []float64 {
	return GreyErosion2D(GreyDilation2D(data, rows, cols, size), rows, cols, size)
}
