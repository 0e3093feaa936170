// Package shot holds the data model of an experiment: a Shot is everything
// known about a single event, a Series is an ordered collection of shots
// identified by an IDSpec.
package shot

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrConflict is returned when a key is reassigned to a different value.
	ErrConflict = errors.New("shot: conflicting value")
	// ErrNotFound is returned for missing keys, IDs or indices.
	ErrNotFound = errors.New("shot: not found")
	// ErrEmpty is returned by reductions over an empty series.
	ErrEmpty = errors.New("shot: empty series")
)

// Record is a loosely typed set of values, as produced by a data source.
type Record map[string]any

// Lazy is a value that is only materialised when read. The same Lazy may be
// stored on many shots and under many keys.
type Lazy interface {
	Access(s *Shot, key string) (any, error)
}

// unknownContent lists values that carry no information and are ignored on
// assignment.
var unknownContent = map[string]struct{}{
	"":        {},
	" ":       {},
	"None":    {},
	"unknown": {},
	"?":       {},
	"NA":      {},
}

// IsUnknown reports whether v is a placeholder for missing information.
func IsUnknown(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	if !ok {
		return false
	}
	_, unknown := unknownContent[s]
	return unknown
}

// Shot is a single event. Keys can be added but never changed or removed.
// A Shot is safe for concurrent use.
type Shot struct {
	mu     sync.RWMutex
	values map[string]any
}

// New returns a shot holding the known values of rec.
func New(rec Record) (*Shot, error) {
	s := &Shot{values: make(map[string]any, len(rec))}
	if err := s.Update(rec); err != nil {
		return nil, err
	}
	return s, nil
}

// Set assigns v to key. Unknown content is ignored. Assigning a value whose
// string form differs from the stored one fails with ErrConflict; lazy values
// are compared by their descriptor and never accessed.
func (s *Shot) Set(key string, v any) error {
	if IsUnknown(v) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = make(map[string]any)
	}
	if old, ok := s.values[key]; ok {
		if fmt.Sprint(old) != fmt.Sprint(v) {
			return fmt.Errorf("%w: once assigned, shots cannot be changed; reassigning %q from %q to %q on %s",
				ErrConflict, key, fmt.Sprint(old), fmt.Sprint(v), s.string())
		}
		return nil
	}
	s.values[key] = v
	return nil
}

// Update assigns every entry of rec in key order and stops at the first
// conflict.
func (s *Shot) Update(rec Record) error {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := s.Set(k, rec[k]); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the value stored under key, accessing lazy values.
func (s *Shot) Get(key string) (any, error) {
	v, ok := s.Raw(key)
	if !ok {
		return nil, fmt.Errorf("%w: key %q", ErrNotFound, key)
	}
	if l, ok := v.(Lazy); ok {
		r, err := l.Access(s, key)
		if err != nil {
			return nil, fmt.Errorf("accessing %q: %w", key, err)
		}
		return r, nil
	}
	return v, nil
}

// Raw returns the stored value without accessing lazy values.
func (s *Shot) Raw(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Has reports whether key is set. It never accesses lazy values.
func (s *Shot) Has(key string) bool {
	_, ok := s.Raw(key)
	return ok
}

// Len returns the number of keys.
func (s *Shot) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Keys returns the keys in sorted order.
func (s *Shot) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Record returns a copy of the stored values. Lazy values are not accessed.
func (s *Shot) Record() Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := make(Record, len(s.values))
	for k, v := range s.values {
		rec[k] = v
	}
	return rec
}

func (s *Shot) String() string {
	return fmt.Sprintf("<Shot with %d items>", s.Len())
}

// string is String for callers already holding the lock.
func (s *Shot) string() string {
	return fmt.Sprintf("<Shot with %d items>", len(s.values))
}

// Describe renders all stored values, lazy ones by their descriptor.
func (s *Shot) Describe() string {
	var b strings.Builder
	rec := s.Record()
	fmt.Fprintf(&b, "<Shot (%d items):", len(rec))
	for _, k := range s.Keys() {
		fmt.Fprintf(&b, " %s=%v", k, rec[k])
	}
	b.WriteString(">")
	return b.String()
}

var (
	lazyKindsMu sync.RWMutex
	lazyKinds   = map[string]func() Lazy{}
)

// LazyKind is implemented by lazy values that can be serialized.
type LazyKind interface {
	Lazy
	LazyKind() string
}

// RegisterLazy makes lazy values of the given kind decodable from JSON.
// newFn must return a pointer that JSON can be decoded into.
func RegisterLazy(kind string, newFn func() Lazy) {
	lazyKindsMu.Lock()
	defer lazyKindsMu.Unlock()
	lazyKinds[kind] = newFn
}

type lazyEnvelope struct {
	Kind   string          `json:"$lazy"`
	Params json.RawMessage `json:"params"`
}

// MarshalJSON encodes the stored values. Lazy values are encoded by their
// descriptor and are not accessed.
func (s *Shot) MarshalJSON() ([]byte, error) {
	rec := s.Record()
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		lk, ok := v.(LazyKind)
		if !ok {
			out[k] = v
			continue
		}
		params, err := json.Marshal(lk)
		if err != nil {
			return nil, fmt.Errorf("encoding lazy %q: %w", k, err)
		}
		out[k] = lazyEnvelope{Kind: lk.LazyKind(), Params: params}
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes values written by MarshalJSON, restoring lazy values
// of registered kinds.
func (s *Shot) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	rec := make(Record, len(raw))
	for k, msg := range raw {
		var env lazyEnvelope
		if json.Unmarshal(msg, &env) == nil && env.Kind != "" {
			lazyKindsMu.RLock()
			newFn, ok := lazyKinds[env.Kind]
			lazyKindsMu.RUnlock()
			if ok {
				l := newFn()
				if err := json.Unmarshal(env.Params, l); err != nil {
					return fmt.Errorf("decoding lazy %q: %w", k, err)
				}
				rec[k] = l
				continue
			}
		}
		var v any
		if err := json.Unmarshal(msg, &v); err != nil {
			return err
		}
		rec[k] = v
	}
	return s.Update(rec)
}
