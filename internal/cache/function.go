package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/postexperiment/internal/monitoring"
)

// Key identifies a cached result: the shot it was computed for and the
// canonical encoding of the parameters it was called with.
type Key struct {
	Shot   string `json:"shot"`
	Params string `json:"params"`
}

// ParamsKey returns the canonical encoding of call parameters. Maps are
// encoded with sorted keys, so equal parameter sets share a key. nil
// parameters encode as "{}".
func ParamsKey(params any) (string, error) {
	if params == nil {
		return "{}", nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encoding cache parameters: %w", err)
	}
	return string(b), nil
}

// Options configures a cached function.
type Options struct {
	// MaxSize is the largest JSON-encoded value in bytes that is stored.
	// Larger results are returned but not cached. Zero means unlimited.
	MaxSize int
}

// Stats summarises the state of a cached function.
type Stats struct {
	Name     string
	Entries  int
	New      int
	Hits     int
	ExecTime time.Duration // running average per computed call
}

// Saved estimates the time the cache saved so far.
func (s Stats) Saved() time.Duration {
	return time.Duration(s.Hits) * s.ExecTime
}

// Function is the permanent cache of one function with results of type T.
// Results are JSON-encoded in the database.
type Function[T any] struct {
	store   *Store
	name    string
	maxSize int

	mu       sync.Mutex
	cache    map[Key]T // loaded from the database
	pending  map[Key]T // computed since the last save
	hits     int
	execTime time.Duration
	nExec    int
}

func newFunction[T any](s *Store, name string, opts Options) *Function[T] {
	f := &Function[T]{store: s, name: name, maxSize: opts.MaxSize}
	f.Clear()
	return f
}

// Name returns the function name the cache was registered under.
func (f *Function[T]) Name() string { return f.name }

// Clear empties the in-memory cache and resets the statistics. The database
// is not touched.
func (f *Function[T]) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache = make(map[Key]T)
	f.pending = make(map[Key]T)
	f.hits = 0
	f.execTime = 0
	f.nExec = 0
}

// Get returns the cached value for key and counts a hit when found.
func (f *Function[T]) Get(key Key) (T, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.cache[key]
	if !ok {
		v, ok = f.pending[key]
	}
	if ok {
		f.hits++
	}
	return v, ok
}

// Set stores v as a new result for key.
func (f *Function[T]) Set(key Key, v T) {
	f.mu.Lock()
	f.pending[key] = v
	f.mu.Unlock()
}

// Call returns the cached result for the shot and parameters, computing and
// caching it on a miss. Errors from compute are returned and not cached, nor
// are values that exceed MaxSize or cannot be JSON-encoded.
func (f *Function[T]) Call(ctx context.Context, shotKey string, params any, compute func(context.Context) (T, error)) (T, error) {
	var zero T
	pk, err := ParamsKey(params)
	if err != nil {
		return zero, err
	}
	key := Key{Shot: shotKey, Params: pk}
	if v, ok := f.Get(key); ok {
		return v, nil
	}

	clock := f.store.clock
	start := clock.Now()
	v, err := compute(ctx)
	if err != nil {
		return zero, err
	}
	elapsed := clock.Since(start)

	// Values that do not encode (e.g. NaN samples) are returned uncached.
	b, err := json.Marshal(v)
	store := err == nil && (f.maxSize <= 0 || len(b) <= f.maxSize)

	f.mu.Lock()
	f.execTime = (f.execTime*time.Duration(f.nExec) + elapsed) / time.Duration(f.nExec+1)
	f.nExec++
	if store {
		f.pending[key] = v
	}
	f.mu.Unlock()
	return v, nil
}

// Len returns the number of loaded and pending entries.
func (f *Function[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cache) + len(f.pending)
}

// Stats returns a snapshot of the cache statistics.
func (f *Function[T]) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{
		Name:     f.name,
		Entries:  len(f.cache) + len(f.pending),
		New:      len(f.pending),
		Hits:     f.hits,
		ExecTime: f.execTime,
	}
}

func (f *Function[T]) String() string {
	st := f.Stats()
	if st.New == 0 {
		return fmt.Sprintf("<Cache of %q (%d entries, %d hits = %.1fs saved)>",
			st.Name, st.Entries, st.Hits, st.Saved().Seconds())
	}
	return fmt.Sprintf("<Cache of %q (%d entries (%d new(!)), %d hits = %.1fs saved)>",
		st.Name, st.Entries, st.New, st.Hits, st.Saved().Seconds())
}

// Save writes the pending entries in one transaction and moves them to the
// loaded set. It returns the number of entries written.
func (f *Function[T]) Save(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return 0, nil
	}

	tx, err := f.store.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("saving %s: %w", f.name, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cache_entries (function, shot_key, params, value, session_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("saving %s: %w", f.name, err)
	}
	defer stmt.Close()

	now := f.store.clock.Now().UnixNano()
	for _, key := range sortedKeys(f.pending) {
		b, err := json.Marshal(f.pending[key])
		if err != nil {
			return 0, fmt.Errorf("encoding %s result for %s: %w", f.name, key.Shot, err)
		}
		if _, err := stmt.ExecContext(ctx, f.name, key.Shot, key.Params, b, f.store.session, now); err != nil {
			return 0, fmt.Errorf("saving %s: %w", f.name, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cache_functions (function, exec_time_ns, n_exec, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(function) DO UPDATE SET
			exec_time_ns = excluded.exec_time_ns,
			n_exec = excluded.n_exec,
			updated_at = excluded.updated_at`,
		f.name, int64(f.execTime), f.nExec, now)
	if err != nil {
		return 0, fmt.Errorf("saving %s statistics: %w", f.name, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("saving %s: %w", f.name, err)
	}

	n := len(f.pending)
	for k, v := range f.pending {
		f.cache[k] = v
	}
	f.pending = make(map[Key]T)
	monitoring.Logf("%q (%d entries) saved", f.name, n)
	return n, nil
}

// Load replaces the loaded entries with the database contents and resets the
// hit counter. Pending entries are kept. Later rows win over earlier ones for
// the same key; rows that no longer decode into T are skipped.
func (f *Function[T]) Load(ctx context.Context) error {
	rows, err := f.store.db.QueryContext(ctx, `
		SELECT shot_key, params, value FROM cache_entries
		WHERE function = ? ORDER BY entry_id`, f.name)
	if err != nil {
		return fmt.Errorf("loading %s: %w", f.name, err)
	}
	defer rows.Close()

	cache := make(map[Key]T)
	var skipped int
	for rows.Next() {
		var key Key
		var b []byte
		if err := rows.Scan(&key.Shot, &key.Params, &b); err != nil {
			return fmt.Errorf("loading %s: %w", f.name, err)
		}
		var v T
		if err := json.Unmarshal(b, &v); err != nil {
			skipped++
			continue
		}
		cache[key] = v
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("loading %s: %w", f.name, err)
	}
	if skipped > 0 {
		log := monitoring.WithComponent("cache")
		log.Warn().Str("function", f.name).Int("skipped", skipped).
			Msg("cached values do not decode; clear the cache if the function changed")
	}

	var execNs int64
	var nExec int
	err = f.store.db.QueryRowContext(ctx,
		`SELECT exec_time_ns, n_exec FROM cache_functions WHERE function = ?`, f.name).
		Scan(&execNs, &nExec)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("loading %s statistics: %w", f.name, err)
	}

	f.mu.Lock()
	f.cache = cache
	f.hits = 0
	f.execTime = time.Duration(execNs)
	f.nExec = nExec
	f.mu.Unlock()
	return nil
}

// Drop deletes every stored entry of the function and clears it in memory.
// Use it after the function definition changed.
func (f *Function[T]) Drop(ctx context.Context) error {
	if _, err := f.store.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE function = ?`, f.name); err != nil {
		return fmt.Errorf("dropping %s: %w", f.name, err)
	}
	if _, err := f.store.db.ExecContext(ctx, `DELETE FROM cache_functions WHERE function = ?`, f.name); err != nil {
		return fmt.Errorf("dropping %s: %w", f.name, err)
	}
	f.Clear()
	return nil
}

// GC saves pending entries, removes superseded rows and compacts the
// database.
func (f *Function[T]) GC(ctx context.Context) error {
	if _, err := f.Save(ctx); err != nil {
		return err
	}
	n, err := f.dedupe(ctx)
	if err != nil {
		return err
	}
	monitoring.Logf("gc %s: removed %d superseded entries", f, n)
	return f.store.vacuum(ctx)
}

func (f *Function[T]) dedupe(ctx context.Context) (int64, error) {
	res, err := f.store.db.ExecContext(ctx, `
		DELETE FROM cache_entries
		WHERE function = ? AND entry_id NOT IN (
			SELECT MAX(entry_id) FROM cache_entries
			WHERE function = ?
			GROUP BY shot_key, params
		)`, f.name, f.name)
	if err != nil {
		return 0, fmt.Errorf("gc %s: %w", f.name, err)
	}
	return res.RowsAffected()
}

// Pending returns a copy of the entries computed since the last save.
func (f *Function[T]) Pending() map[Key]T {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[Key]T, len(f.pending))
	for k, v := range f.pending {
		out[k] = v
	}
	return out
}

// MergePending adds entries, typically collected from a worker, to the
// pending entries.
func (f *Function[T]) MergePending(entries map[Key]T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range entries {
		f.pending[k] = v
	}
}

func (f *Function[T]) pendingEntries() ([]Entry, error) {
	pending := f.Pending()
	out := make([]Entry, 0, len(pending))
	for _, key := range sortedKeys(pending) {
		b, err := json.Marshal(pending[key])
		if err != nil {
			return nil, fmt.Errorf("encoding %s result for %s: %w", f.name, key.Shot, err)
		}
		out = append(out, Entry{Function: f.name, Key: key, Value: b})
	}
	return out, nil
}

func (f *Function[T]) mergeEntries(entries []Entry) error {
	decoded := make(map[Key]T, len(entries))
	for _, e := range entries {
		var v T
		if err := json.Unmarshal(e.Value, &v); err != nil {
			return fmt.Errorf("decoding %s entry for %s: %w", f.name, e.Key.Shot, err)
		}
		decoded[e.Key] = v
	}
	f.MergePending(decoded)
	return nil
}

func sortedKeys[T any](m map[Key]T) []Key {
	keys := make([]Key, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Shot != keys[j].Shot {
			return keys[i].Shot < keys[j].Shot
		}
		return keys[i].Params < keys[j].Params
	})
	return keys
}
