package diagnostics

import (
	"errors"
	"fmt"
	"sort"

	"github.com/banshee-data/postexperiment/internal/shot"
)

// ErrNoConfiguration is returned by a ParameterFinder without configurations.
var ErrNoConfiguration = errors.New("diagnostics: no configuration")

// ParameterFinder holds configurations, e.g. calibrations, that became valid
// at a given shot. Find returns the configuration in effect for a shot.
type ParameterFinder[T any] struct {
	spec    *shot.IDSpec
	keys    []shot.ID
	configs []T
}

// NewParameterFinder returns a finder keyed by IDs of spec, typically a
// subset of the series ID such as the date.
func NewParameterFinder[T any](spec *shot.IDSpec) *ParameterFinder[T] {
	return &ParameterFinder[T]{spec: spec}
}

// Add registers cfg as valid from the shot identified by vals onwards. Adding
// the same key twice replaces the configuration.
func (p *ParameterFinder[T]) Add(cfg T, vals ...any) error {
	id, err := p.spec.Literal(vals...)
	if err != nil {
		return fmt.Errorf("configuration key: %w", err)
	}
	i := sort.Search(len(p.keys), func(i int) bool { return p.keys[i].Compare(id) >= 0 })
	if i < len(p.keys) && p.keys[i].Compare(id) == 0 {
		p.configs[i] = cfg
		return nil
	}
	p.keys = append(p.keys, shot.ID{})
	copy(p.keys[i+1:], p.keys[i:])
	p.keys[i] = id
	var zero T
	p.configs = append(p.configs, zero)
	copy(p.configs[i+1:], p.configs[i:])
	p.configs[i] = cfg
	return nil
}

// Len returns the number of configurations.
func (p *ParameterFinder[T]) Len() int { return len(p.keys) }

// Find returns the configuration with the greatest key not greater than the
// shot's ID. Shots before the first key get the first configuration.
func (p *ParameterFinder[T]) Find(s *shot.Shot) (T, error) {
	var zero T
	if len(p.keys) == 0 {
		return zero, ErrNoConfiguration
	}
	id, err := p.spec.Of(s)
	if err != nil {
		return zero, err
	}
	last := 0
	for i, key := range p.keys {
		if key.Compare(id) > 0 {
			break
		}
		last = i
	}
	return p.configs[last], nil
}

// Filter returns the configuration of the context's shot, so that it can be
// registered as a diagnostic of its own.
func (p *ParameterFinder[T]) Filter() Filter {
	return func(c *Context, _ any) (any, error) {
		return p.Find(c.Shot)
	}
}

// WithConfiguration builds a filter from the configuration in effect for the
// context's shot and applies it to the input.
func WithConfiguration[T any](p *ParameterFinder[T], build func(cfg T) Filter) Filter {
	return func(c *Context, v any) (any, error) {
		cfg, err := p.Find(c.Shot)
		if err != nil {
			return nil, err
		}
		return build(cfg)(c, v)
	}
}
