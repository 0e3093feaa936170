package shot

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
)

// Source produces records to be merged into a Series.
type Source interface {
	Records(ctx context.Context) ([]Record, error)
}

// Series is a collection of shots ordered by their ID. Shots with equal IDs
// are merged into one.
type Series struct {
	spec *IDSpec

	mu      sync.RWMutex
	ids     []ID
	shots   []*Shot
	index   map[string]int
	sources map[string]Source
}

// NewSeries returns an empty series identifying shots by spec.
func NewSeries(spec *IDSpec) *Series {
	return &Series{
		spec:    spec,
		index:   make(map[string]int),
		sources: make(map[string]Source),
	}
}

// emptyLike returns an empty series sharing spec and sources with s.
func (s *Series) emptyLike() *Series {
	n := NewSeries(s.spec)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for k, v := range s.sources {
		n.sources[k] = v
	}
	return n
}

// IDSpec returns the spec identifying shots in s.
func (s *Series) IDSpec() *IDSpec { return s.spec }

// AddSource attaches a named source, replacing one of the same name.
func (s *Series) AddSource(name string, src Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[name] = src
}

// SourceNames returns the names of all attached sources.
func (s *Series) SourceNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.sources))
	for k := range s.sources {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Load merges the records of every attached source, in name order.
func (s *Series) Load(ctx context.Context) error {
	for _, name := range s.SourceNames() {
		s.mu.RLock()
		src := s.sources[name]
		s.mu.RUnlock()

		recs, err := src.Records(ctx)
		if err != nil {
			return fmt.Errorf("loading source %q: %w", name, err)
		}
		if err := s.Merge(recs); err != nil {
			return fmt.Errorf("merging source %q: %w", name, err)
		}
	}
	return nil
}

// Merge adds records to the series. A record whose ID is already present is
// merged into that shot; its values must not conflict.
func (s *Series) Merge(recs []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.sortLocked()
	for _, rec := range recs {
		id, err := s.spec.OfRecord(rec)
		if err != nil {
			return err
		}
		if i, ok := s.index[id.Key()]; ok {
			if err := s.shots[i].Update(rec); err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			continue
		}
		sh, err := New(rec)
		if err != nil {
			return err
		}
		s.appendLocked(id, sh)
	}
	return nil
}

// MergeShots adds shots to the series. New IDs keep the given *Shot, so the
// same shot can live in several series.
func (s *Series) MergeShots(shots []*Shot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.sortLocked()
	for _, sh := range shots {
		id, err := s.spec.Of(sh)
		if err != nil {
			return err
		}
		if i, ok := s.index[id.Key()]; ok {
			if s.shots[i] == sh {
				continue
			}
			if err := s.shots[i].Update(sh.Record()); err != nil {
				return fmt.Errorf("%s: %w", id, err)
			}
			continue
		}
		s.appendLocked(id, sh)
	}
	return nil
}

func (s *Series) appendLocked(id ID, sh *Shot) {
	s.index[id.Key()] = len(s.shots)
	s.ids = append(s.ids, id)
	s.shots = append(s.shots, sh)
}

func (s *Series) sortLocked() {
	order := make([]int, len(s.ids))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return s.ids[order[a]].Compare(s.ids[order[b]]) < 0
	})
	ids := make([]ID, len(order))
	shots := make([]*Shot, len(order))
	for i, o := range order {
		ids[i] = s.ids[o]
		shots[i] = s.shots[o]
		s.index[ids[i].Key()] = i
	}
	s.ids, s.shots = ids, shots
}

// Len returns the number of shots.
func (s *Series) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.shots)
}

// Shots returns the shots in ID order.
func (s *Series) Shots() []*Shot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.shots)
}

// IDs returns the shot IDs in order.
func (s *Series) IDs() []ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.ids)
}

// Reversed returns the shots in descending ID order.
func (s *Series) Reversed() []*Shot {
	shots := s.Shots()
	slices.Reverse(shots)
	return shots
}

// At returns the i-th shot; negative i counts from the end.
func (s *Series) At(i int) (*Shot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.shots)
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return nil, fmt.Errorf("%w: index %d of %d shots", ErrNotFound, i, n)
	}
	return s.shots[i], nil
}

// Slice selects every step-th shot from start up to but excluding stop.
// Negative indices count from the end and a negative step walks backwards.
// Use math.MinInt and math.MaxInt for open ends; step must not be zero.
func (s *Series) Slice(start, stop, step int) ([]*Shot, error) {
	if step == 0 {
		return nil, fmt.Errorf("shot: slice step cannot be zero")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.shots)

	lower, upper := 0, n
	if step < 0 {
		lower, upper = -1, n-1
	}
	clamp := func(i int) int {
		if i < 0 {
			if i < -n {
				return lower
			}
			return max(i+n, lower)
		}
		return min(i, upper)
	}
	start, stop = clamp(start), clamp(stop)

	var out []*Shot
	if step > 0 {
		for i := start; i < stop; i += step {
			out = append(out, s.shots[i])
		}
	} else {
		for i := start; i > stop; i += step {
			out = append(out, s.shots[i])
		}
	}
	return out, nil
}

// All returns the bounds selecting every shot with Slice.
func All() (start, stop int) { return math.MinInt, math.MaxInt }

// Get returns the shot with the given ID.
func (s *Series) Get(id ID) (*Shot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[id.Key()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.shots[i], nil
}

// Contains reports whether a shot with the given ID exists.
func (s *Series) Contains(id ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[id.Key()]
	return ok
}

// Group is a subset of a series sharing the values of the grouping keys.
type Group struct {
	Key    []any
	Series *Series
}

// GroupBy partitions the series by the values of keys. Groups are ordered by
// their key values. Every shot must carry every key.
func (s *Series) GroupBy(keys ...string) ([]Group, error) {
	type keyed struct {
		key  []any
		shot *Shot
	}
	shots := s.Shots()
	items := make([]keyed, 0, len(shots))
	for _, sh := range shots {
		k := make([]any, len(keys))
		for i, name := range keys {
			v, err := sh.Get(name)
			if err != nil {
				return nil, fmt.Errorf("grouping by %q: %w", name, err)
			}
			k[i] = v
		}
		items = append(items, keyed{k, sh})
	}
	compareKeys := func(a, b []any) int {
		for i := range a {
			if c := CompareValues(a[i], b[i]); c != 0 {
				return c
			}
		}
		return 0
	}
	sort.SliceStable(items, func(i, j int) bool { return compareKeys(items[i].key, items[j].key) < 0 })

	var groups []Group
	var members []*Shot
	flush := func(key []any) error {
		g := s.emptyLike()
		if err := g.MergeShots(members); err != nil {
			return err
		}
		groups = append(groups, Group{Key: key, Series: g})
		members = nil
		return nil
	}
	for i, it := range items {
		if i > 0 && compareKeys(items[i-1].key, it.key) != 0 {
			if err := flush(items[i-1].key); err != nil {
				return nil, err
			}
		}
		members = append(members, it.shot)
	}
	if len(items) > 0 {
		if err := flush(items[len(items)-1].key); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

// Filter returns a series of the shots for which keep returns true.
func (s *Series) Filter(keep func(*Shot) bool) *Series {
	var shots []*Shot
	for _, sh := range s.Shots() {
		if keep(sh) {
			shots = append(shots, sh)
		}
	}
	out := s.emptyLike()
	// shots come from s and already carry valid IDs
	_ = out.MergeShots(shots)
	return out
}

// FilterBy keeps the shots whose values equal all of want. Shots lacking a key
// are dropped.
func (s *Series) FilterBy(want map[string]any) *Series {
	return s.Filter(func(sh *Shot) bool {
		for k, v := range want {
			got, err := sh.Get(k)
			if err != nil || CompareValues(got, v) != 0 {
				return false
			}
		}
		return true
	})
}

func (s *Series) String() string {
	return fmt.Sprintf("<Series(%s): %d entries>", s.spec, s.Len())
}
