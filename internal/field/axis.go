package field

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Axis describes one dimension of a Field. Grid holds the cell centers.
type Axis struct {
	Name string
	Unit string
	Grid []float64
}

// NewAxis copies grid into a new Axis.
func NewAxis(name, unit string, grid []float64) Axis {
	return Axis{Name: name, Unit: unit, Grid: append([]float64(nil), grid...)}
}

// LinearAxis returns an axis with n evenly spaced grid points from min to max.
func LinearAxis(name, unit string, min, max float64, n int) Axis {
	if n <= 0 {
		return Axis{Name: name, Unit: unit}
	}
	grid := make([]float64, n)
	if n == 1 {
		grid[0] = min
	} else {
		floats.Span(grid, min, max)
	}
	return Axis{Name: name, Unit: unit, Grid: grid}
}

// PixelAxis returns an axis with grid 0, 1, ..., n-1.
func PixelAxis(name string, n int) Axis {
	return LinearAxis(name, "px", 0, float64(n-1), n)
}

// AxisFromNodes builds an axis from cell boundaries. The grid points are the
// midpoints between consecutive nodes.
func AxisFromNodes(name, unit string, nodes []float64) (Axis, error) {
	if len(nodes) < 2 {
		return Axis{}, fmt.Errorf("%w: axis %q needs at least two nodes, got %d", ErrShape, name, len(nodes))
	}
	grid := make([]float64, len(nodes)-1)
	for i := range grid {
		grid[i] = 0.5 * (nodes[i] + nodes[i+1])
	}
	return Axis{Name: name, Unit: unit, Grid: grid}, nil
}

// Len returns the number of grid points.
func (a Axis) Len() int { return len(a.Grid) }

// Copy returns a deep copy of the axis.
func (a Axis) Copy() Axis {
	return NewAxis(a.Name, a.Unit, a.Grid)
}

// Reversed returns a copy of the axis with the grid order reversed.
func (a Axis) Reversed() Axis {
	b := a.Copy()
	floats.Reverse(b.Grid)
	return b
}

// GridNode returns the len(Grid)+1 cell boundaries. Inner nodes are midpoints
// between grid points; the outer nodes extend half a spacing beyond the ends.
func (a Axis) GridNode() []float64 {
	n := len(a.Grid)
	switch n {
	case 0:
		return nil
	case 1:
		return []float64{a.Grid[0] - 0.5, a.Grid[0] + 0.5}
	}
	nodes := make([]float64, n+1)
	for i := 1; i < n; i++ {
		nodes[i] = 0.5 * (a.Grid[i-1] + a.Grid[i])
	}
	nodes[0] = a.Grid[0] - (nodes[1] - a.Grid[0])
	nodes[n] = a.Grid[n-1] + (a.Grid[n-1] - nodes[n-1])
	return nodes
}

// Widths returns the width of every cell.
func (a Axis) Widths() []float64 {
	nodes := a.GridNode()
	if len(nodes) == 0 {
		return nil
	}
	w := make([]float64, len(nodes)-1)
	for i := range w {
		w[i] = math.Abs(nodes[i+1] - nodes[i])
	}
	return w
}

// IsLinear reports whether the grid points are evenly spaced.
func (a Axis) IsLinear() bool {
	n := len(a.Grid)
	if n < 3 {
		return true
	}
	d := (a.Grid[n-1] - a.Grid[0]) / float64(n-1)
	tol := 1e-6 * math.Abs(d)
	for i := 1; i < n; i++ {
		if math.Abs(a.Grid[i]-a.Grid[i-1]-d) > tol {
			return false
		}
	}
	return true
}

// Extent returns the first and last node.
func (a Axis) Extent() (float64, float64) {
	nodes := a.GridNode()
	if len(nodes) == 0 {
		return math.NaN(), math.NaN()
	}
	return nodes[0], nodes[len(nodes)-1]
}

// Label renders "name [unit]" as used on plot axes.
func (a Axis) Label() string {
	return fmt.Sprintf("%s [%s]", a.Name, a.Unit)
}

// position converts a coordinate into a fractional index on the grid.
// ok is false when x lies outside the grid.
func (a Axis) position(x float64) (float64, bool) {
	n := len(a.Grid)
	if n == 0 || math.IsNaN(x) {
		return 0, false
	}
	if n == 1 {
		if x == a.Grid[0] {
			return 0, true
		}
		return 0, false
	}
	ascending := a.Grid[n-1] >= a.Grid[0]
	var i int
	if ascending {
		if x < a.Grid[0] || x > a.Grid[n-1] {
			return 0, false
		}
		i = sort.SearchFloat64s(a.Grid, x)
	} else {
		if x > a.Grid[0] || x < a.Grid[n-1] {
			return 0, false
		}
		i = sort.Search(n, func(k int) bool { return a.Grid[k] <= x })
	}
	if i == 0 {
		return 0, true
	}
	lo, hi := a.Grid[i-1], a.Grid[i]
	if hi == lo {
		return float64(i), true
	}
	return float64(i-1) + (x-lo)/(hi-lo), true
}
