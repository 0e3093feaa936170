package diagnostics

import (
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/banshee-data/postexperiment/internal/algorithms"
	"github.com/banshee-data/postexperiment/internal/datasource"
	"github.com/banshee-data/postexperiment/internal/field"
	"github.com/banshee-data/postexperiment/internal/fsutil"
	"github.com/banshee-data/postexperiment/internal/shot"
)

func asField(v any) (*field.Field, error) {
	f, ok := v.(*field.Field)
	if !ok || f == nil {
		return nil, fmt.Errorf("%w: want *field.Field, got %T", ErrInputType, v)
	}
	return f, nil
}

// fieldFilter lifts a field transformation into a Filter.
func fieldFilter(fn func(f *field.Field) (*field.Field, error)) Filter {
	return func(_ *Context, v any) (any, error) {
		f, err := asField(v)
		if err != nil {
			return nil, err
		}
		return fn(f)
	}
}

// GetItem looks up key in a shot, a record or a string keyed map.
func GetItem(key string) Filter {
	return func(_ *Context, v any) (any, error) {
		switch obj := v.(type) {
		case *shot.Shot:
			return obj.Get(key)
		case shot.Record:
			return getMapItem(obj, key)
		case map[string]any:
			return getMapItem(obj, key)
		default:
			return nil, fmt.Errorf("%w: cannot get item %q of %T", ErrInputType, key, v)
		}
	}
}

func getMapItem(m map[string]any, key string) (any, error) {
	v, ok := m[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", shot.ErrNotFound, key)
	}
	return v, nil
}

// GetAttr returns a struct field by name. Names match the Go field name or its
// json tag, case-insensitively, so GetAttr("sigma") works on fit parameters.
// String keyed maps are looked up by key.
func GetAttr(name string) Filter {
	return func(_ *Context, v any) (any, error) {
		if m, ok := v.(map[string]any); ok {
			return getMapItem(m, name)
		}
		rv := reflect.ValueOf(v)
		for rv.Kind() == reflect.Pointer {
			if rv.IsNil() {
				return nil, fmt.Errorf("%w: attribute %q of nil %T", ErrInputType, name, v)
			}
			rv = rv.Elem()
		}
		if rv.Kind() != reflect.Struct {
			return nil, fmt.Errorf("%w: attribute %q of %T", ErrInputType, name, v)
		}
		rt := rv.Type()
		for i := 0; i < rt.NumField(); i++ {
			sf := rt.Field(i)
			if !sf.IsExported() {
				continue
			}
			tag, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
			if strings.EqualFold(sf.Name, name) || (tag != "" && tag == name) {
				return rv.Field(i).Interface(), nil
			}
		}
		return nil, fmt.Errorf("%w: %T has no attribute %q", ErrInputType, v, name)
	}
}

// LoadImage returns the image stored under key of the shot. Plain string
// values are read as image files.
func LoadImage(key string) Filter {
	get := GetItem(key)
	return func(c *Context, v any) (any, error) {
		if _, ok := v.(*shot.Shot); !ok && c.Shot != nil {
			v = c.Shot
		}
		img, err := get(c, v)
		if err != nil {
			return nil, err
		}
		switch x := img.(type) {
		case *field.Field:
			return x, nil
		case string:
			return datasource.ImageReader{}.Read(fsutil.OSFileSystem{}, x)
		default:
			return nil, fmt.Errorf("%w: %q holds %T, not an image", ErrInputType, key, img)
		}
	}
}

// SubtractOffset subtracts a constant from every sample.
func SubtractOffset(offset float64) Filter {
	return fieldFilter(func(f *field.Field) (*field.Field, error) {
		return f.SubScalar(offset), nil
	})
}

// Bounds are [Start, Stop) indices along an axis, negative values counting
// from the end.
type Bounds struct {
	Start, Stop int
}

func restrict(f *field.Field, axis int, b *Bounds) (*field.Field, error) {
	if b == nil {
		return f, nil
	}
	return f.Slice(axis, b.Start, b.Stop)
}

// SumAxis sums along axis, optionally restricted to bounds.
func SumAxis(axis int, bounds *Bounds) Filter {
	return fieldFilter(func(f *field.Field) (*field.Field, error) {
		f, err := restrict(f, axis, bounds)
		if err != nil {
			return nil, err
		}
		return f.Sum(axis)
	})
}

// IntegrateAxis integrates along axis, optionally restricted to bounds.
func IntegrateAxis(axis int, bounds *Bounds) Filter {
	return fieldFilter(func(f *field.Field) (*field.Field, error) {
		f, err := restrict(f, axis, bounds)
		if err != nil {
			return nil, err
		}
		return f.Integrate(axis)
	})
}

// Total integrates over all axes and returns a float64.
func Total() Filter {
	return func(_ *Context, v any) (any, error) {
		f, err := asField(v)
		if err != nil {
			return nil, err
		}
		return f.IntegrateAll(), nil
	}
}

// SetFieldNameUnit renames the field. Empty strings keep the current value.
func SetFieldNameUnit(name, unit string) Filter {
	return fieldFilter(func(f *field.Field) (*field.Field, error) {
		g := f.Copy()
		if name != "" {
			g.Name = name
		}
		if unit != "" {
			g.Unit = unit
		}
		return g, nil
	})
}

// SetAxisNameUnit renames one axis. Empty strings keep the current value.
func SetAxisNameUnit(axis int, name, unit string) Filter {
	return fieldFilter(func(f *field.Field) (*field.Field, error) {
		if axis < 0 || axis >= f.Dimensions() {
			return nil, fmt.Errorf("%w: axis %d of %d", field.ErrShape, axis, f.Dimensions())
		}
		g := f.Copy()
		if name != "" {
			g.Axes[axis].Name = name
		}
		if unit != "" {
			g.Axes[axis].Unit = unit
		}
		return g, nil
	})
}

func require2D(f *field.Field) (rows, cols int, err error) {
	if f.Dimensions() < 2 {
		return 0, 0, fmt.Errorf("%w: need 2 dimensions, got %d", algorithms.ErrDimensions, f.Dimensions())
	}
	shape := f.Shape()
	return shape[0], shape[1], nil
}

// CropBorders removes the given number of pixels from the left, right, bottom
// and top of an image (axis 0 left to right, axis 1 bottom to top).
func CropBorders(left, right, bottom, top int) Filter {
	return fieldFilter(func(f *field.Field) (*field.Field, error) {
		rows, cols, err := require2D(f)
		if err != nil {
			return nil, err
		}
		g, err := f.Slice(0, left, rows-right)
		if err != nil {
			return nil, err
		}
		return g.Slice(1, bottom, cols-top)
	})
}

// SliceField keeps [start, stop) along axis.
func SliceField(axis, start, stop int) Filter {
	return fieldFilter(func(f *field.Field) (*field.Field, error) {
		return f.Slice(axis, start, stop)
	})
}

// ClipValues limits every sample to [lo, hi].
func ClipValues(lo, hi float64) Filter {
	return fieldFilter(func(f *field.Field) (*field.Field, error) {
		return f.Clip(lo, hi), nil
	})
}

// Rotate90 rotates the first two axes by k quarter turns.
func Rotate90(k int) Filter {
	return fieldFilter(func(f *field.Field) (*field.Field, error) {
		return f.Rot90(k)
	})
}

// Rotate180 rotates the first two axes by half a turn.
func Rotate180() Filter { return Rotate90(2) }

// Flip reverses the samples along axis.
func Flip(axis int) Filter {
	return fieldFilter(func(f *field.Field) (*field.Field, error) {
		return f.Flip(axis)
	})
}

// MapAxisGrid transforms the grid of axis, e.g. to convert pixels into a
// physical unit.
func MapAxisGrid(axis int, fn func(float64) float64) Filter {
	return fieldFilter(func(f *field.Field) (*field.Field, error) {
		return f.MapAxisGrid(axis, fn)
	})
}

// MakeAxesLinear resamples the field onto evenly spaced axes spanning the
// range of every non-linear axis. lengths optionally sets the number of grid
// points per axis; zero keeps the current length.
func MakeAxesLinear(lengths ...int) Filter {
	return fieldFilter(func(f *field.Field) (*field.Field, error) {
		axes := make([]field.Axis, f.Dimensions())
		for i, a := range f.Axes {
			if a.IsLinear() {
				axes[i] = a.Copy()
				continue
			}
			n := a.Len()
			if i < len(lengths) && lengths[i] > 0 {
				n = lengths[i]
			}
			lo, hi := math.Inf(1), math.Inf(-1)
			for _, x := range a.Grid {
				lo = math.Min(lo, x)
				hi = math.Max(hi, x)
			}
			axes[i] = field.LinearAxis(a.Name, a.Unit, lo, hi, n)
		}
		return f.MapCoordinates(axes, nil)
	})
}

// ApplyProjectiveTransform resamples an image onto newAxes, mapping every new
// grid point (i, j) through the projective transform p into the original
// image.
func ApplyProjectiveTransform(p [8]float64, newAxes []field.Axis) Filter {
	return fieldFilter(func(f *field.Field) (*field.Field, error) {
		return f.MapCoordinates(newAxes, func(c []float64) []float64 {
			x, y := algorithms.ProjectiveTransform(p, c[0], c[1])
			return []float64{x, y}
		})
	})
}

// IntegrateCells integrates a finely sampled image over the cells of the
// coarse newAxes.
func IntegrateCells(newAxes []field.Axis) Filter {
	return fieldFilter(func(f *field.Field) (*field.Field, error) {
		if f.Dimensions() != 2 || len(newAxes) != 2 {
			return nil, fmt.Errorf("%w: integrate cells needs 2 dimensions", algorithms.ErrDimensions)
		}
		out := field.Zeros(f.Name, f.Unit, newAxes...)
		in, jn := newAxes[0].GridNode(), newAxes[1].GridNode()
		for i := 0; i < newAxes[0].Len(); i++ {
			rows, err := f.SliceRange(0, in[i], in[i+1])
			if err != nil {
				return nil, err
			}
			for j := 0; j < newAxes[1].Len(); j++ {
				cell, err := rows.SliceRange(1, jn[j], jn[j+1])
				if err != nil {
					return nil, err
				}
				if cell.Len() > 0 {
					out.Set(cell.IntegrateAll(), i, j)
				}
			}
		}
		return out, nil
	})
}

// RemoveLinearBackground fits a plane to the border of an image (the given
// number of pixels from each edge) and subtracts it.
func RemoveLinearBackground(left, right, bottom, top int) Filter {
	return fieldFilter(func(f *field.Field) (*field.Field, error) {
		if f.Dimensions() != 2 {
			return nil, fmt.Errorf("%w: linear background needs 2 dimensions, got %d", algorithms.ErrDimensions, f.Dimensions())
		}
		rows, cols, _ := require2D(f)
		mask := make([]bool, rows*cols)
		for i := left; i < rows-right; i++ {
			for j := bottom; j < cols-top; j++ {
				mask[i*cols+j] = true
			}
		}
		data, err := algorithms.RemoveLinearBackground2D(f.Data, rows, cols, mask)
		if err != nil {
			return nil, err
		}
		return f.ReplaceData(data)
	})
}

type planeFilter func(data []float64, rows, cols, size int) []float64

// perPlane applies fn to a 2D image, or to every band of a 3D image with
// fewer than 5 bands.
func perPlane(fn planeFilter, size int) Filter {
	if size <= 0 {
		size = 3
	}
	return fieldFilter(func(f *field.Field) (*field.Field, error) {
		shape := f.Shape()
		switch {
		case len(shape) == 2:
			return f.ReplaceData(fn(f.Data, shape[0], shape[1], size))
		case len(shape) == 3 && shape[2] < 5:
			rows, cols, bands := shape[0], shape[1], shape[2]
			out := make([]float64, len(f.Data))
			plane := make([]float64, rows*cols)
			for b := 0; b < bands; b++ {
				for k := range plane {
					plane[k] = f.Data[k*bands+b]
				}
				for k, v := range fn(plane, rows, cols, size) {
					out[k*bands+b] = v
				}
			}
			return f.ReplaceData(out)
		default:
			return nil, fmt.Errorf("%w: image filters need 2 dimensions or up to 4 bands, got shape %v", algorithms.ErrDimensions, shape)
		}
	})
}

// GreyOpening removes bright features smaller than size (hot pixels).
func GreyOpening(size int) Filter { return perPlane(algorithms.GreyOpening2D, size) }

// GreyClosing removes dark features smaller than size (dead pixels).
func GreyClosing(size int) Filter { return perPlane(algorithms.GreyClosing2D, size) }

// Median applies a size x size median filter.
func Median(size int) Filter { return perPlane(algorithms.MedianFilter2D, size) }

// RemoveDeadAndHotPixels removes isolated bright and dark pixels.
func RemoveDeadAndHotPixels() Filter {
	return Chain(GreyOpening(3), GreyClosing(3))
}
