package shot

import (
	"cmp"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Converter normalises a raw value into an ID component.
type Converter func(v any) (any, error)

// Int converts integers, integral floats and decimal strings to int64.
func Int(v any) (any, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) {
			return nil, fmt.Errorf("%v is not an integer", x)
		}
		if math.Abs(x) >= 1<<63 {
			return nil, fmt.Errorf("%v is out of int64 range", x)
		}
		return int64(x), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return nil, err
		}
		return n, nil
	}
	return nil, fmt.Errorf("cannot convert %T to int", v)
}

// Float converts numbers and numeric strings to float64.
func Float(v any) (any, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	return nil, fmt.Errorf("cannot convert %T to float", v)
}

// String converts any value to its string form.
func String(v any) (any, error) {
	return fmt.Sprint(v), nil
}

// IDField is one component of an ID.
type IDField struct {
	Name    string
	Convert Converter
}

// IDSpec lists the fields that identify a shot, most significant first.
type IDSpec struct {
	Fields []IDField
}

// NewIDSpec returns a spec for the given fields.
func NewIDSpec(fields ...IDField) *IDSpec {
	return &IDSpec{Fields: fields}
}

// Names returns the field names.
func (sp *IDSpec) Names() []string {
	names := make([]string, len(sp.Fields))
	for i, f := range sp.Fields {
		names[i] = f.Name
	}
	return names
}

func (sp *IDSpec) String() string {
	return "ShotID(" + strings.Join(sp.Names(), ", ") + ")"
}

// OfRecord extracts the ID of a record.
func (sp *IDSpec) OfRecord(rec Record) (ID, error) {
	return sp.of(func(key string) (any, error) {
		v, ok := rec[key]
		if !ok || IsUnknown(v) {
			return nil, fmt.Errorf("%w: key %q", ErrNotFound, key)
		}
		return v, nil
	})
}

// Of extracts the ID of a shot.
func (sp *IDSpec) Of(s *Shot) (ID, error) {
	return sp.of(s.Get)
}

func (sp *IDSpec) of(get func(string) (any, error)) (ID, error) {
	vals := make([]any, len(sp.Fields))
	for i, f := range sp.Fields {
		v, err := get(f.Name)
		if err != nil {
			return ID{}, fmt.Errorf("shot id field %q: %w", f.Name, err)
		}
		if f.Convert != nil {
			if v, err = f.Convert(v); err != nil {
				return ID{}, fmt.Errorf("shot id field %q: %w", f.Name, err)
			}
		}
		vals[i] = v
	}
	return ID{spec: sp, vals: vals}, nil
}

// Literal builds an ID from already converted values, e.g. to look up a shot
// or to key a ParameterFinder.
func (sp *IDSpec) Literal(vals ...any) (ID, error) {
	if len(vals) != len(sp.Fields) {
		return ID{}, fmt.Errorf("shot id needs %d values, got %d", len(sp.Fields), len(vals))
	}
	out := make([]any, len(vals))
	for i, v := range vals {
		c := sp.Fields[i].Convert
		if c == nil {
			out[i] = v
			continue
		}
		cv, err := c(v)
		if err != nil {
			return ID{}, fmt.Errorf("shot id field %q: %w", sp.Fields[i].Name, err)
		}
		out[i] = cv
	}
	return ID{spec: sp, vals: out}, nil
}

// ID identifies a shot within a Series.
type ID struct {
	spec *IDSpec
	vals []any
}

// Values returns the ID components.
func (id ID) Values() []any { return append([]any(nil), id.vals...) }

// Key returns a stable string form usable as a map or database key.
func (id ID) Key() string {
	parts := make([]string, len(id.vals))
	for i, v := range id.vals {
		switch x := v.(type) {
		case int64:
			parts[i] = strconv.FormatInt(x, 10)
		case float64:
			parts[i] = strconv.FormatFloat(x, 'g', -1, 64)
		case string:
			parts[i] = strconv.Quote(x)
		default:
			parts[i] = fmt.Sprint(x)
		}
	}
	return strings.Join(parts, ",")
}

func (id ID) String() string {
	var b strings.Builder
	b.WriteString("ShotID(")
	for i, v := range id.vals {
		if i > 0 {
			b.WriteString(", ")
		}
		if id.spec != nil && i < len(id.spec.Fields) {
			b.WriteString(id.spec.Fields[i].Name)
			b.WriteString("=")
		}
		fmt.Fprint(&b, v)
	}
	b.WriteString(")")
	return b.String()
}

// Compare orders IDs component by component.
func (id ID) Compare(o ID) int {
	for i := 0; i < len(id.vals) && i < len(o.vals); i++ {
		if c := CompareValues(id.vals[i], o.vals[i]); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(id.vals), len(o.vals))
}

// CompareValues orders numbers numerically and everything else by its string
// form. Numbers sort before strings.
func CompareValues(a, b any) int {
	fa, aNum := number(a)
	fb, bNum := number(b)
	switch {
	case aNum && bNum:
		return cmp.Compare(fa, fb)
	case aNum:
		return -1
	case bNum:
		return 1
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}
